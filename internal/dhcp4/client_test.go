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

package dhcp4

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"

	"github.com/oryx-embedded/cyclone-hostconf/internal/clock"
	"github.com/oryx-embedded/cyclone-hostconf/internal/ifmodel"
	"github.com/oryx-embedded/cyclone-hostconf/internal/transport"
)

type fakeClock struct{ now clock.Time }

func (f *fakeClock) Now() clock.Time { return f.now }
func (f *fakeClock) advance(ms uint32) {
	f.now = clock.Add(f.now, ms)
}

type zeroRand struct{}

func (zeroRand) Uint32() uint32           { return 0 }
func (zeroRand) Range(lo, hi int64) int64 { return lo }

// maxRand always returns the upper bound, giving the longest init delay.
type maxRand struct{}

func (maxRand) Uint32() uint32           { return 0xFFFFFFFF }
func (maxRand) Range(lo, hi int64) int64 { return hi }

type sentDatagram struct {
	dst     netip.Addr
	dstPort int
	payload []byte
}

type fakeTransport struct {
	sent []sentDatagram
}

func (f *fakeTransport) SendDatagram(_ context.Context, srcPort int, dst netip.Addr, dstPort int, payload []byte, ttl uint8) error {
	f.sent = append(f.sent, sentDatagram{dst: dst, dstPort: dstPort, payload: payload})
	return nil
}

type fakeRegistry struct {
	receiver transport.UDPReceiveFunc
}

func (f *fakeRegistry) RegisterUDPReceiver(port int, fn transport.UDPReceiveFunc) error {
	f.receiver = fn
	return nil
}

func (f *fakeRegistry) RegisterUDPReceiverFamily(port int, v6 bool, fn transport.UDPReceiveFunc) error {
	f.receiver = fn
	return nil
}

func (f *fakeRegistry) UnregisterUDPReceiver(port int) error {
	f.receiver = nil
	return nil
}

func newTestClient(t *testing.T) (*Client, *fakeTransport, *fakeRegistry, *fakeClock) {
	t.Helper()

	iface := ifmodel.New("eth0", 1, net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}, "host1")
	tr := &fakeTransport{}
	reg := &fakeRegistry{}
	fc := &fakeClock{now: 1000}

	settings := GetDefaultSettings()
	settings.Iface = iface
	settings.Transport = tr
	settings.Registry = reg
	settings.Clock = fc
	settings.Rand = zeroRand{}

	c, err := NewClient(settings)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c, tr, reg, fc
}

func TestDiscoverSentAfterInitDelay(t *testing.T) {
	c, tr, _, fc := newTestClient(t)
	// The longest init delay keeps the first Tick inside it.
	c.settings.Rand = maxRand{}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	c.Tick(context.Background())
	if len(tr.sent) != 0 {
		t.Fatalf("expected no DISCOVER before the init delay elapses")
	}

	fc.advance(InitDelay + 1)
	c.Tick(context.Background())

	if len(tr.sent) != 1 {
		t.Fatalf("expected exactly one DISCOVER, got %d", len(tr.sent))
	}
	if c.GetState() != StateSelecting {
		t.Fatalf("expected state SELECTING, got %s", c.GetState())
	}

	msg, err := dhcpv4.FromBytes(tr.sent[0].payload)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if msg.MessageType() != dhcpv4.MessageTypeDiscover {
		t.Fatalf("expected DISCOVER, got %s", msg.MessageType())
	}
	if !msg.IsBroadcast() {
		t.Fatalf("expected DISCOVER to be broadcast")
	}
}

func TestFullAcquisitionReachesBound(t *testing.T) {
	c, tr, reg, fc := newTestClient(t)
	_ = c.Start()

	fc.advance(InitDelay + 1)
	c.Tick(context.Background())
	if c.GetState() != StateSelecting {
		t.Fatalf("expected SELECTING, got %s", c.GetState())
	}

	discover, _ := dhcpv4.FromBytes(tr.sent[0].payload)

	offer, err := dhcpv4.New(
		func(d *dhcpv4.DHCPv4) { d.OpCode = dhcpv4.OpcodeBootReply },
		func(d *dhcpv4.DHCPv4) { d.TransactionID = discover.TransactionID },
		func(d *dhcpv4.DHCPv4) { d.ClientHWAddr = discover.ClientHWAddr },
		func(d *dhcpv4.DHCPv4) { d.YourIPAddr = net.IPv4(192, 168, 1, 42) },
		dhcpv4.WithMessageType(dhcpv4.MessageTypeOffer),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(net.IPv4(192, 168, 1, 1))),
	)
	if err != nil {
		t.Fatalf("build offer: %v", err)
	}

	reg.receiver(netip.MustParseAddrPort("192.168.1.1:67"), offer.ToBytes())
	if c.GetState() != StateRequesting {
		t.Fatalf("expected REQUESTING after OFFER, got %s", c.GetState())
	}

	c.Tick(context.Background())
	if len(tr.sent) != 2 {
		t.Fatalf("expected a REQUEST to follow the OFFER, got %d datagrams", len(tr.sent))
	}

	request, _ := dhcpv4.FromBytes(tr.sent[1].payload)

	ack, err := dhcpv4.New(
		func(d *dhcpv4.DHCPv4) { d.OpCode = dhcpv4.OpcodeBootReply },
		func(d *dhcpv4.DHCPv4) { d.TransactionID = request.TransactionID },
		func(d *dhcpv4.DHCPv4) { d.ClientHWAddr = request.ClientHWAddr },
		func(d *dhcpv4.DHCPv4) { d.YourIPAddr = net.IPv4(192, 168, 1, 42) },
		dhcpv4.WithMessageType(dhcpv4.MessageTypeAck),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(net.IPv4(192, 168, 1, 1))),
		dhcpv4.WithOption(dhcpv4.OptSubnetMask(net.IPv4Mask(255, 255, 255, 0))),
		dhcpv4.WithOption(dhcpv4.OptRouter(net.IPv4(192, 168, 1, 1))),
		dhcpv4.WithOption(dhcpv4.OptIPAddressLeaseTime(3600*time.Second)),
	)
	if err != nil {
		t.Fatalf("build ack: %v", err)
	}

	reg.receiver(netip.MustParseAddrPort("192.168.1.1:67"), ack.ToBytes())

	if c.GetState() != StateBound {
		t.Fatalf("expected BOUND after ACK, got %s", c.GetState())
	}
	v4 := c.Interface().IPv4()
	if v4.Addr.String() != "192.168.1.42" {
		t.Fatalf("expected host address 192.168.1.42, got %s", v4.Addr)
	}
	if !v4.AddrState.Usable() {
		t.Fatalf("expected the committed address to be usable")
	}
}

func TestNakReturnsToInit(t *testing.T) {
	c, tr, reg, fc := newTestClient(t)
	_ = c.Start()
	fc.advance(InitDelay + 1)
	c.Tick(context.Background())

	discover, _ := dhcpv4.FromBytes(tr.sent[0].payload)
	offer, _ := dhcpv4.New(
		func(d *dhcpv4.DHCPv4) { d.OpCode = dhcpv4.OpcodeBootReply },
		func(d *dhcpv4.DHCPv4) { d.TransactionID = discover.TransactionID },
		func(d *dhcpv4.DHCPv4) { d.ClientHWAddr = discover.ClientHWAddr },
		func(d *dhcpv4.DHCPv4) { d.YourIPAddr = net.IPv4(192, 168, 1, 42) },
		dhcpv4.WithMessageType(dhcpv4.MessageTypeOffer),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(net.IPv4(192, 168, 1, 1))),
	)
	reg.receiver(netip.MustParseAddrPort("192.168.1.1:67"), offer.ToBytes())
	c.Tick(context.Background())

	request, _ := dhcpv4.FromBytes(tr.sent[1].payload)
	nak, _ := dhcpv4.New(
		func(d *dhcpv4.DHCPv4) { d.OpCode = dhcpv4.OpcodeBootReply },
		func(d *dhcpv4.DHCPv4) { d.TransactionID = request.TransactionID },
		func(d *dhcpv4.DHCPv4) { d.ClientHWAddr = request.ClientHWAddr },
		dhcpv4.WithMessageType(dhcpv4.MessageTypeNak),
	)
	reg.receiver(netip.MustParseAddrPort("192.168.1.1:67"), nak.ToBytes())

	if c.GetState() != StateInit {
		t.Fatalf("expected INIT after NAK, got %s", c.GetState())
	}
}

func TestRequestingGivesUpAfterMaxRetries(t *testing.T) {
	c, tr, reg, fc := newTestClient(t)
	_ = c.Start()
	fc.advance(InitDelay + 1)
	c.Tick(context.Background())

	discover, _ := dhcpv4.FromBytes(tr.sent[0].payload)
	offer, _ := dhcpv4.New(
		func(d *dhcpv4.DHCPv4) { d.OpCode = dhcpv4.OpcodeBootReply },
		func(d *dhcpv4.DHCPv4) { d.TransactionID = discover.TransactionID },
		func(d *dhcpv4.DHCPv4) { d.ClientHWAddr = discover.ClientHWAddr },
		func(d *dhcpv4.DHCPv4) { d.YourIPAddr = net.IPv4(192, 168, 1, 42) },
		dhcpv4.WithMessageType(dhcpv4.MessageTypeOffer),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(net.IPv4(192, 168, 1, 1))),
	)
	reg.receiver(netip.MustParseAddrPort("192.168.1.1:67"), offer.ToBytes())

	for i := 0; i <= RequestMaxRC; i++ {
		fc.advance(RequestMaxRT * 2)
		c.Tick(context.Background())
	}

	if c.GetState() != StateInit {
		t.Fatalf("expected INIT once REQUEST retries are exhausted, got %s", c.GetState())
	}
}
