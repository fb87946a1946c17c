/*
Copyright 2026 jr42.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package netimpl is the production implementation of the transport
// interfaces, built on golang.org/x/net/ipv4 and golang.org/x/net/ipv6 for
// per-datagram TTL/hop-limit control and on github.com/mdlayher/ndp for
// Router/Neighbor Solicitation, mirroring the teacher's RAReceiver use of
// ndp.Listen.
package netimpl

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/oryx-embedded/cyclone-hostconf/internal/transport"
)

// UDPTransport multiplexes one UDP socket per local port across the engines
// that register a receiver on it: the receive-callback table is shared
// process-wide and engines register/unregister exactly once per lifecycle.
type UDPTransport struct {
	log *zap.Logger

	mu       sync.Mutex
	sockets4 map[int]*udpSocket
	sockets6 map[int]*udpSocket
}

type udpSocket struct {
	conn     *net.UDPConn
	pc4      *ipv4.PacketConn
	pc6      *ipv6.PacketConn
	receiver transport.UDPReceiveFunc
	cancel   context.CancelFunc
}

// NewUDPTransport creates a transport with no sockets open yet; sockets are
// opened lazily by RegisterUDPReceiver.
func NewUDPTransport(log *zap.Logger) *UDPTransport {
	return &UDPTransport{
		log:      log,
		sockets4: map[int]*udpSocket{},
		sockets6: map[int]*udpSocket{},
	}
}

func (t *UDPTransport) socketsFor(v6 bool) map[int]*udpSocket {
	if v6 {
		return t.sockets6
	}
	return t.sockets4
}

// RegisterUDPReceiver implements transport.UDPReceiverRegistry; it always
// registers an IPv4 socket. Use RegisterUDPReceiverFamily for IPv6.
func (t *UDPTransport) RegisterUDPReceiver(port int, fn transport.UDPReceiveFunc) error {
	return t.RegisterUDPReceiverFamily(port, false, fn)
}

// RegisterUDPReceiverFamily attaches fn as the receive callback for the
// given local port, opening the underlying socket if necessary.
func (t *UDPTransport) RegisterUDPReceiverFamily(port int, v6 bool, fn transport.UDPReceiveFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	sockets := t.socketsFor(v6)
	if _, exists := sockets[port]; exists {
		return fmt.Errorf("%w: port %d already registered", transport.ErrOutOfResources, port)
	}

	network := "udp4"
	addr := &net.UDPAddr{Port: port}
	if v6 {
		network = "udp6"
	}

	conn, err := net.ListenUDP(network, addr)
	if err != nil {
		return fmt.Errorf("listen udp %d: %w", port, err)
	}

	sock := &udpSocket{conn: conn, receiver: fn}
	if v6 {
		sock.pc6 = ipv6.NewPacketConn(conn)
		_ = sock.pc6.SetControlMessage(ipv6.FlagHopLimit, true)
	} else {
		sock.pc4 = ipv4.NewPacketConn(conn)
		_ = sock.pc4.SetControlMessage(ipv4.FlagTTL, true)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sock.cancel = cancel
	sockets[port] = sock

	go t.receiveLoop(ctx, port, v6, sock)
	return nil
}

// UnregisterUDPReceiver implements transport.UDPReceiverRegistry.
func (t *UDPTransport) UnregisterUDPReceiver(port int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, sockets := range []map[int]*udpSocket{t.sockets4, t.sockets6} {
		if sock, ok := sockets[port]; ok {
			sock.cancel()
			err := sock.conn.Close()
			delete(sockets, port)
			return err
		}
	}
	return nil
}

func (t *UDPTransport) receiveLoop(ctx context.Context, port int, v6 bool, sock *udpSocket) {
	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, src, err := sock.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.log.Debug("udp read error", zap.Int("port", port), zap.Error(err))
			continue
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		addrPort, ok := netip.AddrFromSlice(src.IP)
		if !ok {
			continue
		}
		sock.receiver(netip.AddrPortFrom(addrPort, uint16(src.Port)), payload)
	}
}

// SendDatagram implements transport.UDPSender.
func (t *UDPTransport) SendDatagram(ctx context.Context, srcPort int, dst netip.Addr, dstPort int, payload []byte, ttl uint8) error {
	t.mu.Lock()
	sockets := t.socketsFor(dst.Is6())
	sock, ok := sockets[srcPort]
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no socket bound on port %d", transport.ErrOutOfResources, srcPort)
	}

	dstAddr := &net.UDPAddr{IP: dst.AsSlice(), Port: dstPort}

	if dst.Is6() {
		cm := &ipv6.ControlMessage{HopLimit: int(ttl)}
		_, err := sock.pc6.WriteTo(payload, cm, dstAddr)
		return err
	}

	cm := &ipv4.ControlMessage{TTL: int(ttl)}
	_, err := sock.pc4.WriteTo(payload, cm, dstAddr)
	return err
}
