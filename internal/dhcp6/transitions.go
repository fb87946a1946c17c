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
	"bytes"
	"context"
	"net/netip"

	"github.com/insomniacslk/dhcp/dhcpv6"
	"go.uber.org/zap"

	"github.com/oryx-embedded/cyclone-hostconf/internal/clock"
	"github.com/oryx-embedded/cyclone-hostconf/internal/ifmodel"
	"github.com/oryx-embedded/cyclone-hostconf/internal/optcodec"
)

func (c *Client) shouldFire(now clock.Time) bool {
	return clock.AtOrAfter(now, clock.Add(c.timestamp, c.timeout))
}

// initialRT computes the first retransmission timeout of an exchange, per
// RFC 3315 §14: RT = IRT + rand(IRT).
func (c *Client) initialRT(irt uint32) uint32 {
	return uint32(int64(irt) + clock.RandFraction(c.settings.Rand, int64(irt)))
}

// nextRT computes a subsequent retransmission timeout, per RFC 3315 §14:
// RT = min(2*RT, MRT) + rand(RT), or uncapped doubling when mrt is 0.
func (c *Client) nextRT(rt, mrt uint32) uint32 {
	next := uint64(rt) * 2
	if mrt > 0 && next > uint64(mrt) {
		next = uint64(mrt)
	}
	return uint32(int64(next) + clock.RandFraction(c.settings.Rand, int64(next)))
}

func (c *Client) sendLocked(ctx context.Context, msg *dhcpv6.Message, dst netip.Addr) {
	_ = c.settings.Transport.SendDatagram(ctx, ClientPort, dst, ServerPort, msg.ToBytes(), 255)
}

// tickInit mirrors dhcpv6StateInit: a random delay in [0, SolMaxDelay] is
// observed before the first Solicit, per RFC 3315 §17.1.2.
func (c *Client) tickInit(ctx context.Context, now clock.Time) {
	// The delay counts from entering INIT; a zero draw fires on this tick.
	if c.timeout == 0 {
		c.timeout = uint32(c.settings.Rand.Range(0, SolMaxDelay))
	}
	if !c.shouldFire(now) {
		return
	}

	c.configStartTime = now
	c.timeoutEventFired = false
	c.serverPreference = -1
	c.pendingAdvertise = nil

	c.changeStateLocked(StateSolicit)
	c.retransmitTimeout = c.initialRT(SolTimeout)

	msg, err := c.buildSolicit()
	if err != nil {
		return
	}
	c.sentMessage = msg
	c.sendLocked(ctx, msg, AllDHCPServers)
	c.timestamp = now
	c.timeout = c.retransmitTimeout
}

// tickInitConfirm mirrors dhcpv6StateInit's confirm-on-reattach variant: as
// INIT, but transitions into CONFIRM once the initial delay elapses.
func (c *Client) tickInitConfirm(ctx context.Context, now clock.Time) {
	if c.timeout == 0 {
		c.timeout = uint32(c.settings.Rand.Range(0, CnfMaxDelay))
	}
	if !c.shouldFire(now) {
		return
	}

	c.configStartTime = now
	c.timeoutEventFired = false
	c.exchangeStartTime = now
	c.changeStateLocked(StateConfirm)
	c.retransmitTimeout = c.initialRT(CnfTimeout)
	c.sendConfirmLocked(ctx)
	c.timestamp = now
	c.timeout = c.retransmitTimeout
}

// tickSolicit mirrors dhcpv6StateSolicit: retransmits Solicit with backoff
// capped at SolMaxRT until a decisive Advertise arrives, per RFC 3315 §17.1.
// A pending Advertise recorded by handleAdvertiseLocked while waiting out the
// IRT is accepted once the timer expires without a better one arriving.
func (c *Client) tickSolicit(ctx context.Context, now clock.Time) {
	if !c.shouldFire(now) {
		return
	}

	if c.pendingAdvertise != nil {
		c.beginRequestLocked(ctx, c.pendingAdvertise)
		return
	}

	c.retransmitCount++
	c.retransmitTimeout = c.nextRT(c.retransmitTimeout, SolMaxRT)

	msg, err := c.buildSolicit()
	if err != nil {
		return
	}
	c.sentMessage = msg
	c.sendLocked(ctx, msg, AllDHCPServers)
	c.timestamp = now
	c.timeout = c.retransmitTimeout
}

// beginRequestLocked transitions SOLICIT -> REQUEST for the chosen Advertise,
// mirroring the tail of dhcpv6StateSolicit.
func (c *Client) beginRequestLocked(ctx context.Context, advertise *dhcpv6.Message) {
	sid := advertise.Options.ServerID()
	if sid == nil {
		c.changeStateLocked(StateInit)
		return
	}
	c.serverID = sid
	c.pendingAdvertise = nil

	c.changeStateLocked(StateRequest)
	c.retransmitTimeout = c.initialRT(ReqTimeout)

	req, err := c.buildRequest(advertise)
	if err != nil {
		return
	}
	c.sentMessage = req
	c.sendLocked(ctx, req, AllDHCPServers)
	c.timeout = c.retransmitTimeout
}

// tickRequest mirrors dhcpv6StateRequest: retransmits the Request up to
// ReqMaxRC times before giving up and restarting from INIT.
func (c *Client) tickRequest(ctx context.Context, now clock.Time) {
	if !c.shouldFire(now) {
		return
	}

	c.retransmitCount++
	if c.retransmitCount > ReqMaxRC {
		c.log.Info("giving up on request, restarting from init", zap.Uint("retransmitCount", c.retransmitCount))
		c.changeStateLocked(StateInit)
		return
	}

	c.retransmitTimeout = c.nextRT(c.retransmitTimeout, ReqMaxRT)
	if c.sentMessage != nil {
		c.sendLocked(ctx, c.sentMessage, AllDHCPServers)
	}
	c.timestamp = now
	c.timeout = c.retransmitTimeout
}

// sendConfirmLocked (re)transmits the Confirm for the address being
// validated, mirroring dhcpv6SendConfirm.
func (c *Client) sendConfirmLocked(ctx context.Context) {
	msg, err := c.buildConfirm()
	if err != nil {
		return
	}
	c.sentMessage = msg
	c.sendLocked(ctx, msg, AllDHCPServers)
}

// tickConfirm mirrors dhcpv6StateConfirm: retransmits Confirm with backoff
// capped at CnfMaxRT; the client gives up and returns to INIT once the whole
// exchange has run for CnfMaxRD.
func (c *Client) tickConfirm(ctx context.Context, now clock.Time) {
	if clock.AtOrAfter(now, clock.Add(c.exchangeStartTime, CnfMaxRD)) {
		c.log.Info("giving up on confirm, restarting from init")
		c.invalidateLeaseLocked()
		c.changeStateLocked(StateInit)
		return
	}
	if !c.shouldFire(now) {
		return
	}

	c.retransmitCount++
	c.retransmitTimeout = c.nextRT(c.retransmitTimeout, CnfMaxRT)
	c.sendConfirmLocked(ctx)
	c.timestamp = now
	c.timeout = c.retransmitTimeout
}

// tickBound mirrors dhcpv6StateBound: transitions to RENEW once T1 of the
// lease elapses. A T1 of InfiniteLifetime never renews.
func (c *Client) tickBound(ctx context.Context, now clock.Time) {
	if c.t1 == InfiniteLifetime {
		return
	}
	if !clock.AtOrAfter(now, clock.Add(c.leaseStartTime, c.t1*1000)) {
		return
	}

	c.configStartTime = now
	c.exchangeStartTime = now
	c.changeStateLocked(StateRenew)
	c.tickRenew(ctx, now)
}

// tickRenew mirrors dhcpv6StateRenew: unicasts Renew to the server's last
// observed address until T2 of the lease elapses, at which point it enters
// REBIND.
func (c *Client) tickRenew(ctx context.Context, now clock.Time) {
	if clock.AtOrAfter(now, clock.Add(c.leaseStartTime, c.t2*1000)) {
		c.exchangeStartTime = now
		c.changeStateLocked(StateRebind)
		c.tickRebind(ctx, now)
		return
	}
	if c.timeout != 0 && !c.shouldFire(now) {
		return
	}

	if c.retransmitTimeout == 0 {
		c.retransmitTimeout = c.initialRT(RenTimeout)
	} else {
		c.retransmitTimeout = c.nextRT(c.retransmitTimeout, RenMaxRT)
	}

	msg, err := c.buildRenew()
	if err != nil {
		return
	}
	c.sentMessage = msg
	dst := c.serverAddr
	if !dst.IsValid() {
		dst = AllDHCPServers
	}
	c.sendLocked(ctx, msg, dst)
	c.timestamp = now
	c.timeout = c.retransmitTimeout
}

// tickRebind mirrors dhcpv6StateRebind: multicasts Rebind, since the
// original server may be unreachable, until the address's valid lifetime
// elapses, at which point the address is invalidated and the client
// restarts from INIT.
func (c *Client) tickRebind(ctx context.Context, now clock.Time) {
	if c.validLifetime != InfiniteLifetime && clock.AtOrAfter(now, clock.Add(c.leaseStartTime, c.validLifetime*1000)) {
		c.log.Info("valid lifetime expired without a rebind reply, restarting from init")
		c.invalidateLeaseLocked()
		c.changeStateLocked(StateInit)
		return
	}
	if c.timeout != 0 && !c.shouldFire(now) {
		return
	}

	if c.retransmitTimeout == 0 {
		c.retransmitTimeout = c.initialRT(RebTimeout)
	} else {
		c.retransmitTimeout = c.nextRT(c.retransmitTimeout, RebMaxRT)
	}

	msg, err := c.buildRebind()
	if err != nil {
		return
	}
	c.sentMessage = msg
	c.sendLocked(ctx, msg, AllDHCPServers)
	c.timestamp = now
	c.timeout = c.retransmitTimeout
}

// Decline starts a one-shot Decline transmit series for the current address,
// mirroring dhcpv6SendDecline; the caller is typically the NDP collaborator
// reporting a duplicate address detected for a DHCPv6-assigned address.
func (c *Client) Decline() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || !c.leaseAddr.IsValid() {
		return
	}

	c.exchangeStartTime = c.settings.Clock.Now()
	c.changeStateLocked(StateDecline)
	c.retransmitTimeout = c.initialRT(DecTimeout)

	msg, err := c.buildDecline()
	if err != nil {
		return
	}
	c.sentMessage = msg
	c.sendLocked(context.Background(), msg, AllDHCPServers)
	c.timeout = c.retransmitTimeout
}

// tickDecline mirrors dhcpv6StateDecline: retransmits Decline up to DecMaxRC
// times, then returns to INIT regardless of any acknowledgement.
func (c *Client) tickDecline(ctx context.Context, now clock.Time) {
	if !c.shouldFire(now) {
		return
	}

	c.retransmitCount++
	if c.retransmitCount > DecMaxRC {
		c.log.Info("decline retransmits exhausted, restarting from init")
		c.invalidateLeaseLocked()
		c.changeStateLocked(StateInit)
		return
	}

	c.retransmitTimeout = c.nextRT(c.retransmitTimeout, 0)
	if c.sentMessage != nil {
		c.sendLocked(ctx, c.sentMessage, AllDHCPServers)
	}
	c.timestamp = now
	c.timeout = c.retransmitTimeout
}

func (c *Client) invalidateLeaseLocked() {
	c.leaseAddr = netip.Addr{}
	c.serverAddr = netip.Addr{}
	c.settings.Iface.SetGlobalAddr(netip.Addr{}, ifmodel.AddrInvalid)
}

// handleAdvertiseLocked processes an incoming Advertise (or, under rapid
// commit, an early Reply) while in SOLICIT, mirroring dhcpv6ParseAdvertise.
func (c *Client) handleAdvertiseLocked(srcAddr netip.Addr, payload []byte) {
	msg, err := c.parseIncoming(payload)
	if err != nil {
		c.log.Debug("dropped unparseable advertise", zap.Error(err))
		return
	}

	if msg.MessageType == dhcpv6.MessageTypeReply {
		if !c.settings.RapidCommit || !hasRapidCommit(msg) {
			return
		}
		c.serverAddr = srcAddr
		c.commitReplyLocked(msg)
		return
	}
	if msg.MessageType != dhcpv6.MessageTypeAdvertise {
		return
	}
	if advertiseRefusesService(msg) {
		return
	}
	sid := msg.Options.ServerID()
	if sid == nil {
		return
	}

	pref := advertisePreference(msg)
	immediate := pref == 255 || c.retransmitCount > 1

	if c.pendingAdvertise == nil || pref > c.serverPreference {
		c.pendingAdvertise = msg
		c.serverPreference = pref
		c.serverAddr = srcAddr
	}

	if immediate {
		c.beginRequestLocked(context.Background(), c.pendingAdvertise)
	}
}

// handleReplyLocked processes an incoming Reply while in REQUEST, CONFIRM,
// RENEW or REBIND, mirroring dhcpv6ParseReply: Server-Id is cross-checked in
// REQUEST/RENEW but not in CONFIRM/REBIND.
func (c *Client) handleReplyLocked(srcAddr netip.Addr, payload []byte) {
	msg, err := c.parseIncoming(payload)
	if err != nil {
		c.log.Debug("dropped unparseable reply", zap.Error(err))
		return
	}
	if msg.MessageType != dhcpv6.MessageTypeReply {
		return
	}

	if advertiseRefusesService(msg) {
		if c.state == StateConfirm {
			c.invalidateLeaseLocked()
			c.changeStateLocked(StateInit)
		}
		return
	}

	if c.state == StateRequest || c.state == StateRenew {
		sid := msg.Options.ServerID()
		if sid == nil || c.serverID == nil || !bytes.Equal(sid.ToBytes(), c.serverID.ToBytes()) {
			return
		}
	}

	c.serverAddr = srcAddr
	c.commitReplyLocked(msg)
}

// commitReplyLocked applies a Reply's IA_NA to the bound interface, mirroring
// the commit tail shared by dhcpv6StateRequest/Confirm/Renew/Rebind.
func (c *Client) commitReplyLocked(msg *dhcpv6.Message) {
	_, t1, t2, addr, preferred, valid, err := parseIANA(msg)
	if err != nil || addr == nil {
		return
	}

	c.serverID = msg.Options.ServerID()
	c.leaseAddr = ipToAddr(addr)
	c.t1, c.t2 = t1, t2
	c.preferredLifetime, c.validLifetime = preferred, valid
	c.leaseStartTime = c.settings.Clock.Now()

	c.settings.Iface.SetGlobalAddr(c.leaseAddr, ifmodel.AddrValid)
	if !c.settings.ManualDNSConfig {
		if dns := msg.Options.DNS(); len(dns) > 0 {
			c.settings.Iface.SetIPv6DNSServers(optcodec.AddrList(dns, ipToAddr, 0))
		}
	}

	c.changeStateLocked(StateBound)
}
