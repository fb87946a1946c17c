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
	"sync"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"go.uber.org/zap"

	"github.com/oryx-embedded/cyclone-hostconf/internal/clock"
	"github.com/oryx-embedded/cyclone-hostconf/internal/ifmodel"
	"github.com/oryx-embedded/cyclone-hostconf/internal/optcodec"
)

// Client is a DHCPv4 BOOTP client bound to one interface, driven by
// periodic Tick calls rather than owning a goroutine of its own, mirroring
// dhcpClientContext_t.
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
	leaseStartTime    clock.Time
	timeoutEventFired bool

	transactionID  dhcpv4.TransactionID
	offeredAddress netip.Addr
	serverID       netip.Addr
	pendingOffer   *dhcpv4.DHCPv4

	leaseTime uint32
	t1, t2    uint32
}

// NewClient validates settings, registers the client port UDP receiver, and
// returns a client ready for Start, mirroring dhcpClientInit.
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

	c := &Client{settings: settings, log: settings.Log.Named("dhcpv4"), state: StateInit}

	if err := settings.Registry.RegisterUDPReceiver(ClientPort, c.onUDPDatagram); err != nil {
		return nil, ErrOutOfResources
	}
	return c, nil
}

// Start enables the FSM; the next Tick call will begin an acquisition
// attempt from StateInit (or StateInitReboot if a lease was remembered).
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
// dhcpClientLinkChangeEvent: the current lease is invalidated and the FSM
// restarts from INIT-REBOOT (if a lease is remembered) or INIT.
func (c *Client) LinkChangeEvent(linkUp bool) {
	c.mu.Lock()

	if c.running {
		c.settings.Iface.SetHostAddr(netip.Addr{}, ifmodel.AddrInvalid)
		c.settings.Iface.SetSubnetMask(netip.Addr{})

		if linkUp && c.state >= StateInitReboot && c.offeredAddress.IsValid() {
			c.changeStateLocked(StateInitReboot)
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
	if c.offeredAddress.IsValid() {
		c.changeStateLocked(StateInitReboot)
	} else {
		c.changeStateLocked(StateInit)
	}
}

// Tick advances the FSM; it must be called periodically (e.g. once per
// stack tick) and performs no blocking I/O itself.
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
	case StateSelecting:
		c.tickSelecting(ctx, now)
	case StateInitReboot:
		c.tickInitReboot(ctx, now)
	case StateRebooting:
		c.tickRebooting(ctx, now)
	case StateRequesting:
		c.tickRequesting(ctx, now)
	case StateBound:
		c.tickBound(ctx, now)
	case StateRenewing:
		c.tickRenewing(ctx, now)
	case StateRebinding:
		c.tickRebinding(ctx, now)
	default:
		c.log.Warn("tick in unexpected state, resetting to init", zap.Int("state", int(c.state)))
		c.changeStateLocked(StateInit)
	}
}

// onUDPDatagram is the UDP receive callback registered on ClientPort,
// mirroring dhcpClientProcessMessage.
func (c *Client) onUDPDatagram(_ netip.AddrPort, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	if len(payload) < 236 {
		c.log.Debug("dropped undersized datagram", zap.Int("len", len(payload)))
		return
	}

	switch c.state {
	case StateSelecting:
		c.handleOfferLocked(payload)
	case StateRequesting, StateRebooting, StateRenewing, StateRebinding:
		c.handleAckNakLocked(payload)
	default:
		c.log.Debug("dropped datagram in unexpected state", zap.Stringer("state", c.state))
	}
}

// changeStateLocked mirrors dhcpChangeState: it updates state/timestamp and
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

// checkTimeoutLocked mirrors dhcpCheckTimeout: TimeoutEvent fires at most once
// per acquisition attempt, when Settings.Timeout has elapsed since
// configStartTime. configStartTime is stamped when an attempt leaves INIT or
// INIT-REBOOT and again on entering RENEWING; INIT, INIT-REBOOT and BOUND are
// not timed.
func (c *Client) checkTimeoutLocked(now clock.Time) {
	if c.settings.Timeout == 0 || c.timeoutEventFired || c.state == StateBound ||
		c.state == StateInit || c.state == StateInitReboot {
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

// Decline sends a DHCPDECLINE for the currently offered/bound address and
// restarts acquisition from INIT, mirroring dhcpClientDecline. The caller is
// typically the NDP/ARP collaborator reporting a duplicate address detected
// for a DHCPv4-assigned address; the ARP probe itself lives upstream of this
// package.
func (c *Client) Decline() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || !c.offeredAddress.IsValid() {
		return
	}

	msg, err := c.buildDecline(addrToIP(c.offeredAddress), addrToIP(c.serverID))
	if err == nil {
		c.sendLocked(context.Background(), msg, broadcastAddr)
	}

	c.offeredAddress = netip.Addr{}
	c.pendingOffer = nil
	c.settings.Iface.SetHostAddr(netip.Addr{}, ifmodel.AddrInvalid)
	c.settings.Iface.SetSubnetMask(netip.Addr{})
	c.changeStateLocked(StateInit)
}

func addrToIP(a netip.Addr) net.IP {
	return net.IP(optcodec.AddrToIPv4(a, netip.IPv4Unspecified()))
}

func ipToAddr(ip net.IP) netip.Addr {
	return optcodec.IPv4ToAddr(ip.To4())
}
