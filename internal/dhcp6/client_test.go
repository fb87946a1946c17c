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

package dhcp6

import (
	"context"
	"net"
	"net/netip"
	"testing"

	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/iana"

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

func serverDUID() dhcpv6.DUID {
	return &dhcpv6.DUIDLL{
		HWType:        iana.HWTypeEthernet,
		LinkLayerAddr: net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x99},
	}
}

func buildAdvertise(t *testing.T, solicit *dhcpv6.Message, clientID dhcpv6.DUID, pref int, addr net.IP) *dhcpv6.Message {
	t.Helper()

	msg, err := dhcpv6.NewMessage()
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	msg.MessageType = dhcpv6.MessageTypeAdvertise
	msg.TransactionID = solicit.TransactionID
	msg.AddOption(dhcpv6.OptClientID(clientID))
	msg.AddOption(dhcpv6.OptServerID(serverDUID()))
	msg.AddOption(iaNAWithAddress(solicit.Options.OneIANA().IaId, addr, 300, 600))
	if pref > 0 {
		msg.AddOption(&dhcpv6.OptionGeneric{OptionCode: optionPreference, OptionData: []byte{byte(pref)}})
	}
	return msg
}

func buildReply(t *testing.T, request *dhcpv6.Message, clientID, srvID dhcpv6.DUID, addr net.IP) *dhcpv6.Message {
	t.Helper()

	msg, err := dhcpv6.NewMessage()
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	msg.MessageType = dhcpv6.MessageTypeReply
	msg.TransactionID = request.TransactionID
	msg.AddOption(dhcpv6.OptClientID(clientID))
	msg.AddOption(dhcpv6.OptServerID(srvID))
	msg.AddOption(iaNAWithAddress(request.Options.OneIANA().IaId, addr, 3600, 7200))
	return msg
}

func TestSolicitSentAfterInitDelay(t *testing.T) {
	c, tr, _, fc := newTestClient(t)
	// The longest init delay keeps the first Tick inside it.
	c.settings.Rand = maxRand{}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	c.Tick(context.Background())
	if len(tr.sent) != 0 {
		t.Fatalf("expected no SOLICIT before the init delay elapses")
	}

	fc.advance(SolMaxDelay + 1)
	c.Tick(context.Background())

	if len(tr.sent) != 1 {
		t.Fatalf("expected exactly one SOLICIT, got %d", len(tr.sent))
	}
	if c.GetState() != StateSolicit {
		t.Fatalf("expected state SOLICIT, got %s", c.GetState())
	}

	msg, err := dhcpv6.FromBytes(tr.sent[0].payload)
	if err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	solicit := msg.(*dhcpv6.Message)
	if solicit.MessageType != dhcpv6.MessageTypeSolicit {
		t.Fatalf("expected SOLICIT, got %s", solicit.MessageType)
	}
	if tr.sent[0].dst != AllDHCPServers {
		t.Fatalf("expected SOLICIT to target the All_DHCP_Relay_Agents_and_Servers group")
	}
}

func TestFullAcquisitionReachesBound(t *testing.T) {
	c, tr, reg, fc := newTestClient(t)
	_ = c.Start()

	fc.advance(SolMaxDelay + 1)
	c.Tick(context.Background())
	if c.GetState() != StateSolicit {
		t.Fatalf("expected SOLICIT, got %s", c.GetState())
	}

	msg, _ := dhcpv6.FromBytes(tr.sent[0].payload)
	solicit := msg.(*dhcpv6.Message)

	advertise := buildAdvertise(t, solicit, c.clientID, 255, net.ParseIP("2001:db8::42"))
	reg.receiver(netip.MustParseAddrPort("[fe80::1]:547"), advertise.ToBytes())

	if c.GetState() != StateRequest {
		t.Fatalf("expected REQUEST after a preference-255 ADVERTISE, got %s", c.GetState())
	}
	if len(tr.sent) != 2 {
		t.Fatalf("expected a REQUEST to follow the ADVERTISE, got %d datagrams", len(tr.sent))
	}

	rmsg, _ := dhcpv6.FromBytes(tr.sent[1].payload)
	request := rmsg.(*dhcpv6.Message)

	reply := buildReply(t, request, c.clientID, serverDUID(), net.ParseIP("2001:db8::42"))
	reg.receiver(netip.MustParseAddrPort("[fe80::1]:547"), reply.ToBytes())

	if c.GetState() != StateBound {
		t.Fatalf("expected BOUND after REPLY, got %s", c.GetState())
	}

	v6 := c.Interface().IPv6()
	if v6.Global.String() != "2001:db8::42" {
		t.Fatalf("expected global address 2001:db8::42, got %s", v6.Global)
	}
	if !v6.GlobalState.Usable() {
		t.Fatalf("expected the committed address to be usable")
	}
}

func TestRapidCommitShortCircuitsToBound(t *testing.T) {
	c, tr, reg, fc := newTestClient(t)
	c.settings.RapidCommit = true
	_ = c.Start()

	fc.advance(SolMaxDelay + 1)
	c.Tick(context.Background())

	msg, _ := dhcpv6.FromBytes(tr.sent[0].payload)
	solicit := msg.(*dhcpv6.Message)

	reply := buildReply(t, solicit, c.clientID, serverDUID(), net.ParseIP("2001:db8::7"))
	reply.AddOption(&dhcpv6.OptionGeneric{OptionCode: dhcpv6.OptionRapidCommit})
	reg.receiver(netip.MustParseAddrPort("[fe80::1]:547"), reply.ToBytes())

	if c.GetState() != StateBound {
		t.Fatalf("expected BOUND after a rapid-commit REPLY, got %s", c.GetState())
	}
}

func TestRequestGivesUpAfterMaxRetries(t *testing.T) {
	c, tr, reg, fc := newTestClient(t)
	_ = c.Start()

	fc.advance(SolMaxDelay + 1)
	c.Tick(context.Background())

	msg, _ := dhcpv6.FromBytes(tr.sent[0].payload)
	solicit := msg.(*dhcpv6.Message)
	advertise := buildAdvertise(t, solicit, c.clientID, 0, net.ParseIP("2001:db8::42"))
	reg.receiver(netip.MustParseAddrPort("[fe80::1]:547"), advertise.ToBytes())

	// A non-preference-255 ADVERTISE is recorded but the transition to
	// REQUEST waits until the first Solicit's retransmission timer expires.
	fc.advance(SolTimeout * 2)
	c.Tick(context.Background())
	if c.GetState() != StateRequest {
		t.Fatalf("expected REQUEST, got %s", c.GetState())
	}

	for i := 0; i <= ReqMaxRC; i++ {
		fc.advance(ReqMaxRT * 2)
		c.Tick(context.Background())
	}

	if c.GetState() != StateInit {
		t.Fatalf("expected INIT once REQUEST retries are exhausted, got %s", c.GetState())
	}
}
