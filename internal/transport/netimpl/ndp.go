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

package netimpl

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/mdlayher/ndp"
	"go.uber.org/zap"

	"github.com/oryx-embedded/cyclone-hostconf/internal/transport"
)

// NDPTransport sends Router/Neighbor Solicitations and delivers received
// Router Advertisements to a registered callback, mirroring the teacher's
// RAReceiver (ndp.Listen + receiveLoop) but exposing the two narrow sends
// SLAAC needs instead of owning the whole SLAAC state machine itself. The
// same receive loop also watches for unsolicited Neighbor Advertisements
// naming an address SLAAC has armed with WatchDuplicate, implementing the
// duplicate-detected flag transport.NDPSender promises.
type NDPTransport struct {
	log  *zap.Logger
	conn *ndp.Conn
	ifi  *net.Interface

	onRouterAdvertisement func(ra transport.RouterAdvertisement, from netip.Addr)
	cancel                context.CancelFunc

	mu         sync.Mutex
	duplicates map[netip.Addr]bool
}

// NewNDPTransport opens an NDP listener on the named interface.
func NewNDPTransport(log *zap.Logger, ifaceName string) (*NDPTransport, error) {
	ifi, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("lookup interface %s: %w", ifaceName, err)
	}

	conn, _, err := ndp.Listen(ifi, ndp.LinkLocal)
	if err != nil {
		return nil, fmt.Errorf("ndp listen on %s: %w", ifaceName, err)
	}

	return &NDPTransport{log: log, conn: conn, ifi: ifi, duplicates: map[netip.Addr]bool{}}, nil
}

// OnRouterAdvertisement implements transport.NDPReceiver: it registers the
// callback invoked for each received RA and starts the receive loop.
func (t *NDPTransport) OnRouterAdvertisement(fn func(ra transport.RouterAdvertisement, from netip.Addr)) {
	t.onRouterAdvertisement = fn
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.receiveLoop(ctx)
}

// Close stops the receive loop and releases the underlying NDP socket.
func (t *NDPTransport) Close() error {
	if t.cancel != nil {
		t.cancel()
	}
	return t.conn.Close()
}

func (t *NDPTransport) receiveLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, _, from, err := t.conn.ReadFrom()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		fromAddr := from

		switch m := msg.(type) {
		case *ndp.RouterAdvertisement:
			if t.onRouterAdvertisement != nil {
				t.onRouterAdvertisement(convertRouterAdvertisement(m), fromAddr)
			}
		case *ndp.NeighborAdvertisement:
			t.noteNeighborAdvertisement(m)
		}
	}
}

// convertRouterAdvertisement reduces a parsed Router Advertisement to the
// transport-level type SLAAC consumes, keeping the NDP wire library out of
// the slaac package.
func convertRouterAdvertisement(m *ndp.RouterAdvertisement) transport.RouterAdvertisement {
	ra := transport.RouterAdvertisement{
		ReachableTime: m.ReachableTime,
		RetransTimer:  m.RetransmitTimer,
	}

	for _, opt := range m.Options {
		switch o := opt.(type) {
		case *ndp.PrefixInformation:
			ra.Prefixes = append(ra.Prefixes, transport.PrefixInfo{
				Prefix:            netip.PrefixFrom(o.Prefix, int(o.PrefixLength)),
				OnLink:            o.OnLink,
				Autonomous:        o.AutonomousAddressConfiguration,
				ValidLifetime:     o.ValidLifetime,
				PreferredLifetime: o.PreferredLifetime,
			})
		case *ndp.RecursiveDNSServer:
			ra.RecursiveDNSServers = append(ra.RecursiveDNSServers, o.Servers...)
		case *ndp.MTU:
			ra.MTU = int(o.MTU)
		}
	}

	return ra
}

// noteNeighborAdvertisement sets the duplicate-detected flag for m's target
// address if SLAAC has armed it with WatchDuplicate, mirroring
// slaacProcessNeighborAdv's "another host is already using this address"
// check.
func (t *NDPTransport) noteNeighborAdvertisement(m *ndp.NeighborAdvertisement) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, watched := t.duplicates[m.TargetAddress]; watched {
		t.duplicates[m.TargetAddress] = true
	}
}

// WatchDuplicate implements transport.NDPSender.
func (t *NDPTransport) WatchDuplicate(target netip.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.duplicates[target] = false
}

// DuplicateDetected implements transport.NDPSender.
func (t *NDPTransport) DuplicateDetected(target netip.Addr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duplicates[target]
}

// UnwatchDuplicate implements transport.NDPSender.
func (t *NDPTransport) UnwatchDuplicate(target netip.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.duplicates, target)
}

// SendNeighborSolicitation implements transport.NDPSender.
func (t *NDPTransport) SendNeighborSolicitation(ctx context.Context, target netip.Addr, multicast bool) error {
	dst := target
	if multicast {
		solicitedNode, err := solicitedNodeMulticast(target)
		if err != nil {
			return err
		}
		dst = solicitedNode
	}

	msg := &ndp.NeighborSolicitation{
		TargetAddress: target,
		Options: []ndp.Option{
			&ndp.LinkLayerAddress{
				Direction: ndp.Source,
				Addr:      t.ifi.HardwareAddr,
			},
		},
	}

	return t.conn.WriteTo(msg, nil, dst)
}

// SendRouterSolicitation implements transport.NDPSender.
func (t *NDPTransport) SendRouterSolicitation(ctx context.Context) error {
	msg := &ndp.RouterSolicitation{
		Options: []ndp.Option{
			&ndp.LinkLayerAddress{
				Direction: ndp.Source,
				Addr:      t.ifi.HardwareAddr,
			},
		},
	}
	return t.conn.WriteTo(msg, nil, netip.MustParseAddr("ff02::2"))
}

func solicitedNodeMulticast(target netip.Addr) (netip.Addr, error) {
	if !target.Is6() {
		return netip.Addr{}, fmt.Errorf("solicited-node multicast requires an IPv6 address")
	}
	b := target.As16()
	out := [16]byte{0xff, 0x02, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0xff, b[13], b[14], b[15]}
	return netip.AddrFrom16(out), nil
}
