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

	"github.com/insomniacslk/dhcp/dhcpv4"
	"go.uber.org/zap"

	"github.com/oryx-embedded/cyclone-hostconf/internal/clock"
	"github.com/oryx-embedded/cyclone-hostconf/internal/ifmodel"
	"github.com/oryx-embedded/cyclone-hostconf/internal/optcodec"
)

// State enumerates the DHCPv4 client states of RFC 2131 §4.4, in the order
// dhcp_client.c switches over them.
type State int

const (
	StateInit State = iota
	StateSelecting
	StateRequesting
	StateInitReboot
	StateRebooting
	StateBound
	StateRenewing
	StateRebinding
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateSelecting:
		return "selecting"
	case StateInitReboot:
		return "init-reboot"
	case StateRebooting:
		return "rebooting"
	case StateRequesting:
		return "requesting"
	case StateBound:
		return "bound"
	case StateRenewing:
		return "renewing"
	case StateRebinding:
		return "rebinding"
	default:
		return "unknown"
	}
}

func (c *Client) shouldFire(now clock.Time) bool {
	return clock.AtOrAfter(now, clock.Add(c.timestamp, c.timeout))
}

var broadcastAddr = netip.MustParseAddr("255.255.255.255")

func (c *Client) sendLocked(ctx context.Context, msg *dhcpv4.DHCPv4, dst netip.Addr) {
	data := msg.ToBytes()
	_ = c.settings.Transport.SendDatagram(ctx, ClientPort, dst, ServerPort, data, 1)
}

// tickInit mirrors dhcpStateInit: a random delay is observed before the
// first DHCPDISCOVER, per RFC 2131 §4.4.1.
func (c *Client) tickInit(ctx context.Context, now clock.Time) {
	// The delay counts from entering INIT; a zero draw fires on this tick.
	if c.timeout == 0 {
		c.timeout = uint32(c.settings.Rand.Range(0, InitDelay))
	}
	if !c.shouldFire(now) {
		return
	}

	c.configStartTime = now
	c.timeoutEventFired = false
	if xid, err := dhcpv4.GenerateTransactionID(); err == nil {
		c.transactionID = xid
	}

	c.changeStateLocked(StateSelecting)
	c.retransmitTimeout = DiscoverInitRT

	msg, err := c.buildDiscover()
	if err != nil {
		return
	}
	c.sendLocked(ctx, msg, broadcastAddr)
	c.timestamp = now
	c.timeout = uint32(int64(c.retransmitTimeout) + clock.RandSym(c.settings.Rand, RandFactor))
}

// tickSelecting mirrors dhcpStateSelecting's retransmission of DHCPDISCOVER
// with exponential backoff capped at DiscoverMaxRT, per RFC 2131 §4.1.
func (c *Client) tickSelecting(ctx context.Context, now clock.Time) {
	if !c.shouldFire(now) {
		return
	}

	c.retransmitCount++
	c.retransmitTimeout *= 2
	if c.retransmitTimeout > DiscoverMaxRT {
		c.retransmitTimeout = DiscoverMaxRT
	}

	msg, err := c.buildDiscover()
	if err != nil {
		return
	}
	c.sendLocked(ctx, msg, broadcastAddr)
	c.timestamp = now
	c.timeout = uint32(int64(c.retransmitTimeout) + clock.RandSym(c.settings.Rand, RandFactor))
}

// tickRequesting mirrors dhcpStateRequesting: retransmits the DHCPREQUEST
// that followed a selected OFFER up to RequestMaxRC times before giving up
// and restarting from INIT, per RFC 2131 §4.1.
func (c *Client) tickRequesting(ctx context.Context, now clock.Time) {
	if c.timeout != 0 && !c.shouldFire(now) {
		return
	}

	c.retransmitCount++
	if c.retransmitCount > RequestMaxRC {
		c.log.Info("giving up on request, restarting from init", zap.Uint("retransmitCount", c.retransmitCount))
		c.offeredAddress = netip.Addr{}
		c.pendingOffer = nil
		c.changeStateLocked(StateInit)
		return
	}

	if c.retransmitTimeout == 0 {
		c.retransmitTimeout = RequestInitRT
	} else {
		c.retransmitTimeout *= 2
		if c.retransmitTimeout > RequestMaxRT {
			c.retransmitTimeout = RequestMaxRT
		}
	}

	if c.pendingOffer == nil {
		c.changeStateLocked(StateInit)
		return
	}
	msg, err := c.buildRequestSelecting(c.pendingOffer)
	if err != nil {
		return
	}
	c.sendLocked(ctx, msg, broadcastAddr)
	c.timestamp = now
	c.timeout = uint32(int64(c.retransmitTimeout) + clock.RandSym(c.settings.Rand, RandFactor))
}

// tickInitReboot mirrors dhcpStateInitReboot: like tickInit, but skips
// straight to a unicast-free broadcast DHCPREQUEST for the remembered lease
// instead of discovering a server again, per RFC 2131 §4.3.2.
func (c *Client) tickInitReboot(ctx context.Context, now clock.Time) {
	if c.timeout == 0 {
		c.timeout = uint32(c.settings.Rand.Range(0, InitDelay))
	}
	if !c.shouldFire(now) {
		return
	}

	c.configStartTime = now
	c.timeoutEventFired = false
	if xid, err := dhcpv4.GenerateTransactionID(); err == nil {
		c.transactionID = xid
	}

	c.changeStateLocked(StateRebooting)
	c.retransmitTimeout = RequestInitRT

	msg, err := c.buildRequestInitReboot()
	if err != nil {
		return
	}
	c.sendLocked(ctx, msg, broadcastAddr)
	c.timestamp = now
	c.timeout = uint32(int64(c.retransmitTimeout) + clock.RandSym(c.settings.Rand, RandFactor))
}

// tickRebooting mirrors dhcpStateRebooting: same backoff as REQUESTING;
// giving up falls back to fresh discovery from INIT.
func (c *Client) tickRebooting(ctx context.Context, now clock.Time) {
	if !c.shouldFire(now) {
		return
	}

	c.retransmitCount++
	if c.retransmitCount > RequestMaxRC {
		c.log.Info("giving up on init-reboot request, restarting from init", zap.Uint("retransmitCount", c.retransmitCount))
		c.offeredAddress = netip.Addr{}
		c.changeStateLocked(StateInit)
		return
	}

	c.retransmitTimeout *= 2
	if c.retransmitTimeout > RequestMaxRT {
		c.retransmitTimeout = RequestMaxRT
	}

	msg, err := c.buildRequestInitReboot()
	if err != nil {
		return
	}
	c.sendLocked(ctx, msg, broadcastAddr)
	c.timestamp = now
	c.timeout = uint32(int64(c.retransmitTimeout) + clock.RandSym(c.settings.Rand, RandFactor))
}

// tickBound mirrors dhcpStateBound: transitions to RENEWING once T1 of the
// lease elapses, per RFC 2131 §4.4.5. A T1 of 0xFFFFFFFF (infinite lease)
// never renews.
func (c *Client) tickBound(ctx context.Context, now clock.Time) {
	if c.t1 == 0xFFFFFFFF {
		return
	}
	if !clock.AtOrAfter(now, clock.Add(c.leaseStartTime, c.t1*1000)) {
		return
	}

	if xid, err := dhcpv4.GenerateTransactionID(); err == nil {
		c.transactionID = xid
	}
	c.configStartTime = now
	c.changeStateLocked(StateRenewing)
	c.tickRenewing(ctx, now)
}

// tickRenewing mirrors dhcpStateRenewing: unicasts DHCPREQUEST to the
// lease's server, with the retransmission timeout halved towards T2 down to
// a floor of RequestMinDelay, per RFC 2131 §4.4.5.
func (c *Client) tickRenewing(ctx context.Context, now clock.Time) {
	deadline := clock.Add(c.leaseStartTime, c.t2*1000)
	if clock.AtOrAfter(now, deadline) {
		if xid, err := dhcpv4.GenerateTransactionID(); err == nil {
			c.transactionID = xid
		}
		c.changeStateLocked(StateRebinding)
		c.tickRebinding(ctx, now)
		return
	}
	if !c.shouldFire(now) {
		return
	}

	msg, err := c.buildRequestRenewing()
	if err != nil {
		return
	}
	c.sendLocked(ctx, msg, c.serverID)
	c.timestamp = now
	c.timeout = nextRetransmitDelay(now, deadline)
}

// tickRebinding mirrors dhcpStateRebinding: broadcasts DHCPREQUEST, since
// the original server may be unreachable, until the full lease expires.
func (c *Client) tickRebinding(ctx context.Context, now clock.Time) {
	deadline := clock.Add(c.leaseStartTime, c.leaseTime*1000)
	if clock.AtOrAfter(now, deadline) {
		c.offeredAddress = netip.Addr{}
		c.settings.Iface.SetHostAddr(netip.Addr{}, ifmodel.AddrInvalid)
		c.settings.Iface.SetSubnetMask(netip.Addr{})
		c.changeStateLocked(StateInit)
		return
	}
	if !c.shouldFire(now) {
		return
	}

	msg, err := c.buildRequestRebinding()
	if err != nil {
		return
	}
	c.sendLocked(ctx, msg, broadcastAddr)
	c.timestamp = now
	c.timeout = nextRetransmitDelay(now, deadline)
}

// nextRetransmitDelay halves the remaining time to deadline, floored at
// RequestMinDelay, matching the RENEWING/REBINDING backoff of dhcp_client.c.
func nextRetransmitDelay(now, deadline clock.Time) uint32 {
	remaining := uint32(deadline) - uint32(now)
	half := remaining / 2
	if half < RequestMinDelay {
		half = RequestMinDelay
	}
	if half > remaining {
		half = remaining
	}
	return half
}

// handleOfferLocked processes an incoming DHCPOFFER while in SELECTING,
// mirroring dhcpParseOffer.
func (c *Client) handleOfferLocked(payload []byte) {
	msg, err := c.parseIncoming(payload)
	if err != nil {
		c.log.Debug("dropped unparseable offer", zap.Error(err))
		return
	}
	if msg.MessageType() != dhcpv4.MessageTypeOffer {
		return
	}
	if msg.YourIPAddr == nil || msg.YourIPAddr.IsUnspecified() {
		return
	}
	serverID := msg.ServerIdentifier()
	if serverID == nil {
		return
	}

	c.offeredAddress = ipToAddr(msg.YourIPAddr)
	c.serverID = ipToAddr(serverID)
	c.pendingOffer = msg

	c.changeStateLocked(StateRequesting)
}

// handleAckNakLocked processes an incoming DHCPACK/DHCPNAK while in
// REQUESTING, REBOOTING, RENEWING or REBINDING, mirroring dhcpParseAckNak.
func (c *Client) handleAckNakLocked(payload []byte) {
	msg, err := c.parseIncoming(payload)
	if err != nil {
		c.log.Debug("dropped unparseable ack/nak", zap.Error(err))
		return
	}

	switch msg.MessageType() {
	case dhcpv4.MessageTypeNak:
		c.offeredAddress = netip.Addr{}
		c.pendingOffer = nil
		c.settings.Iface.SetHostAddr(netip.Addr{}, ifmodel.AddrInvalid)
		c.settings.Iface.SetSubnetMask(netip.Addr{})
		c.changeStateLocked(StateInit)
	case dhcpv4.MessageTypeAck:
		c.commitAckLocked(msg)
	default:
	}
}

// commitAckLocked applies a DHCPACK's lease parameters to the bound
// interface, mirroring the ACK branch of dhcpParseAckNak: LeaseTime is
// mandatory, T1/T2 default to lease/2 and lease*7/8 when absent, and an
// infinite lease (0xFFFFFFFF) sets both T1 and T2 to 0xFFFFFFFF.
func (c *Client) commitAckLocked(msg *dhcpv4.DHCPv4) {
	if serverID := msg.ServerIdentifier(); serverID == nil || ipToAddr(serverID) != c.serverID {
		c.log.Debug("dropped ack with mismatched server identifier")
		return
	}

	leaseDur := msg.IPAddressLeaseTime(0)
	if leaseDur <= 0 {
		return
	}
	leaseTime := uint32(leaseDur.Seconds())

	t1 := uint32(msg.IPAddressRenewalTime(0).Seconds())
	t2 := uint32(msg.IPAddressRebindingTime(0).Seconds())
	if t1 == 0 {
		t1 = leaseTime / 2
	}
	if t2 == 0 {
		t2 = leaseTime * 7 / 8
	}
	if leaseTime == 0xFFFFFFFF {
		t1, t2 = leaseTime, leaseTime
	}

	if addr := ipToAddr(msg.YourIPAddr); addr.IsValid() {
		c.offeredAddress = addr
	}

	c.settings.Iface.SetHostAddr(c.offeredAddress, ifmodel.AddrValid)
	if mask := msg.SubnetMask(); mask != nil {
		c.settings.Iface.SetSubnetMask(ipToAddr(net.IP(mask)))
	}
	if routers := msg.Router(); len(routers) > 0 {
		c.settings.Iface.SetDefaultGateway(ipToAddr(routers[0]))
	}
	if !c.settings.ManualDNSConfig {
		if dns := msg.DNS(); len(dns) > 0 {
			c.settings.Iface.SetDNSServers(optcodec.AddrList(dns, ipToAddr, ifmodel.MaxDNSServers))
		}
	}
	if mtu, err := dhcpv4.GetUint16(dhcpv4.OptionInterfaceMTU, msg.Options); err == nil && mtu > 0 {
		c.settings.Iface.SetMtu(int(mtu))
	}

	c.leaseTime, c.t1, c.t2 = leaseTime, t1, t2
	c.leaseStartTime = c.settings.Clock.Now()
	c.pendingOffer = nil
	c.changeStateLocked(StateBound)
}
