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
	"sync"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv6"
	"go.uber.org/zap"

	"github.com/oryx-embedded/cyclone-hostconf/internal/clock"
	"github.com/oryx-embedded/cyclone-hostconf/internal/ifmodel"
	"github.com/oryx-embedded/cyclone-hostconf/internal/optcodec"
)

// Client is a DHCPv6 client bound to one IA_NA on one interface, driven by
// periodic Tick calls, mirroring dhcpv6ClientCtx.
type Client struct {
	mu       sync.Mutex
	settings Settings
	log      *zap.Logger
	running  bool

	state             State
	timestamp         clock.Time
	timeout           uint32
	retransmitTimeout uint32
	retransmitCount   uint

	configStartTime   clock.Time
	exchangeStartTime clock.Time
	leaseStartTime    clock.Time
	timeoutEventFired bool

	clientID dhcpv6.DUID
	serverID dhcpv6.DUID
	iaid     [4]byte

	serverPreference int
	sentMessage      *dhcpv6.Message
	pendingAdvertise *dhcpv6.Message

	serverAddr netip.Addr
	leaseAddr  netip.Addr
	t1, t2     uint32

	preferredLifetime, validLifetime uint32
}

// NewClient validates settings, registers the client port UDP receiver, and
// returns a client ready for Start, mirroring dhcpv6ClientInit.
func NewClient(settings Settings) (*Client, error) {
	if settings.Iface == nil || settings.Transport == nil || settings.Registry == nil {
		return nil, ErrInvalidParameter
	}
	if settings.Clock == nil {
		settings.Clock = clock.NewSystemSource()
	}
	if settings.Rand == nil {
		settings.Rand = clock.NewDefaultRand()
	}
	if settings.Log == nil {
		settings.Log = zap.NewNop()
	}

	c := &Client{settings: settings, log: settings.Log.Named("dhcpv6"), state: StateInit, serverPreference: -1}
	c.clientID = clientDUID(c)
	c.iaid = iaidFor(c)

	if err := settings.Registry.RegisterUDPReceiverFamily(ClientPort, true, c.onUDPDatagram); err != nil {
		return nil, ErrOutOfResources
	}
	return c, nil
}

// Start enables the FSM; the next Tick call will begin an acquisition
// attempt from StateInit (or StateInitConfirm if a lease was remembered).
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.resetToInitLocked()
	return nil
}

// Stop disables the FSM; Tick becomes a no-op until Start is called again.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

// GetState returns the client's current FSM state.
func (c *Client) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Interface returns the interface binding this client manages.
func (c *Client) Interface() *ifmodel.Interface { return c.settings.Iface }

// LinkChangeEvent reacts to a link up/down transition, mirroring
// dhcpv6ClientLinkChangeEvent: the current lease is invalidated and the FSM
// restarts from INIT-CONFIRM (if a lease is remembered) or INIT.
func (c *Client) LinkChangeEvent(linkUp bool) {
	c.mu.Lock()

	if c.running {
		c.settings.Iface.SetGlobalAddr(netip.Addr{}, ifmodel.AddrInvalid)

		if linkUp && c.state >= StateInitConfirm && c.leaseAddr.IsValid() {
			c.changeStateLocked(StateInitConfirm)
		} else {
			c.changeStateLocked(StateInit)
		}
	}

	cb := c.settings.LinkChangeEvent
	c.mu.Unlock()

	if cb != nil {
		cb(c, linkUp)
	}
}

func (c *Client) resetToInitLocked() {
	if c.leaseAddr.IsValid() {
		c.changeStateLocked(StateInitConfirm)
	} else {
		c.changeStateLocked(StateInit)
	}
}

// Tick advances the FSM; it must be called periodically and performs no
// blocking I/O itself.
func (c *Client) Tick(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}

	now := c.settings.Clock.Now()
	c.checkTimeoutLocked(now)

	switch c.state {
	case StateInit:
		c.tickInit(ctx, now)
	case StateSolicit:
		c.tickSolicit(ctx, now)
	case StateRequest:
		c.tickRequest(ctx, now)
	case StateInitConfirm:
		c.tickInitConfirm(ctx, now)
	case StateConfirm:
		c.tickConfirm(ctx, now)
	case StateBound:
		c.tickBound(ctx, now)
	case StateRenew:
		c.tickRenew(ctx, now)
	case StateRebind:
		c.tickRebind(ctx, now)
	case StateDecline:
		c.tickDecline(ctx, now)
	default:
		c.log.Warn("tick in unexpected state, resetting to init", zap.Int("state", int(c.state)))
		c.changeStateLocked(StateInit)
	}
}

// onUDPDatagram is the UDP receive callback registered on ClientPort,
// mirroring dhcpv6ClientProcessMessage.
func (c *Client) onUDPDatagram(srcAddr netip.AddrPort, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}

	switch c.state {
	case StateSolicit:
		c.handleAdvertiseLocked(srcAddr.Addr(), payload)
	case StateRequest, StateConfirm, StateRenew, StateRebind:
		c.handleReplyLocked(srcAddr.Addr(), payload)
	default:
		c.log.Debug("dropped datagram in unexpected state", zap.Stringer("state", c.state))
	}
}

// changeStateLocked mirrors dhcpv6ChangeState: it updates state/timestamp and
// resets the retransmission counters, then invokes StateChangeEvent with the
// mutex released to avoid priority inversion in the caller's stack task.
func (c *Client) changeStateLocked(state State) {
	c.log.Info("state transition", zap.Stringer("from", c.state), zap.Stringer("to", state))
	c.state = state
	c.timestamp = c.settings.Clock.Now()
	c.timeout = 0
	c.retransmitTimeout = 0
	c.retransmitCount = 0

	cb := c.settings.StateChangeEvent
	if cb == nil {
		return
	}

	c.mu.Unlock()
	cb(c, state)
	c.mu.Lock()
}

// checkTimeoutLocked mirrors dhcpv6CheckTimeout: TimeoutEvent fires at most
// once per acquisition attempt, when Settings.Timeout has elapsed since
// configStartTime. configStartTime is stamped when an attempt leaves INIT or
// INIT-CONFIRM and again on entering RENEW; INIT, INIT-CONFIRM, BOUND and
// DECLINE are not timed.
func (c *Client) checkTimeoutLocked(now clock.Time) {
	if c.settings.Timeout == 0 || c.timeoutEventFired || c.state == StateBound ||
		c.state == StateInit || c.state == StateInitConfirm || c.state == StateDecline {
		return
	}
	if !clock.AtOrAfter(now, clock.Add(c.configStartTime, c.settings.Timeout)) {
		return
	}

	c.timeoutEventFired = true
	cb := c.settings.TimeoutEvent
	if cb == nil {
		return
	}

	c.mu.Unlock()
	cb(c)
	c.mu.Lock()
}

func addrToIP(a netip.Addr) net.IP {
	return net.IP(optcodec.AddrToIPv6(a, netip.IPv6Unspecified()))
}

func ipToAddr(ip net.IP) netip.Addr {
	return optcodec.IPv6ToAddr(ip.To16())
}

func secondsToDuration(s uint32) time.Duration {
	if s == InfiniteLifetime {
		return time.Duration(InfiniteLifetime) * time.Second
	}
	return time.Duration(s) * time.Second
}

func durationToSeconds(d time.Duration) uint32 {
	return uint32(d / time.Second)
}
