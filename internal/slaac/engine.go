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

package slaac

import (
	"context"
	"net/netip"
	"sync"

	"go.uber.org/zap"

	"github.com/oryx-embedded/cyclone-hostconf/internal/clock"
	"github.com/oryx-embedded/cyclone-hostconf/internal/ifmodel"
	"github.com/oryx-embedded/cyclone-hostconf/internal/transport"
)

// linkLocalPrefix is fe80::/64, the well-known link-local prefix a Router
// Advertisement's Prefix Information option must never match.
var linkLocalPrefix = netip.MustParsePrefix("fe80::/64")

// Engine is a SLAAC engine bound to one interface, driven by periodic Tick
// calls, mirroring SlaacContext.
type Engine struct {
	mu       sync.Mutex
	settings Settings
	log      *zap.Logger
	running  bool

	state           State
	timestamp       clock.Time
	timeout         uint32
	retransmitCount uint

	linkLocalAddr netip.Addr
	globalAddr    netip.Addr
	prefix        netip.Prefix
}

// NewEngine validates settings and registers the Router Advertisement
// receive callback, mirroring slaacInit.
func NewEngine(settings Settings) (*Engine, error) {
	if settings.Iface == nil || settings.Transport == nil || settings.Receiver == nil {
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

	e := &Engine{settings: settings, log: settings.Log.Named("slaac"), state: StateInit}
	settings.Receiver.OnRouterAdvertisement(e.onRouterAdvertisement)
	return e, nil
}

// Start enables the engine; the next Tick call begins address
// autoconfiguration from INIT once the link is up.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = true
	e.changeStateLocked(StateInit)
	return nil
}

// Stop disables the engine and reinitializes the state machine.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	e.changeStateLocked(StateInit)
	return nil
}

// GetState returns the engine's current FSM state.
func (e *Engine) GetState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Interface returns the interface binding this engine manages.
func (e *Engine) Interface() *ifmodel.Interface { return e.settings.Iface }

// LinkChangeEvent reacts to a link up/down transition, mirroring
// slaacLinkChangeEvent: both addresses and the learned prefix are
// invalidated while running, and the state machine always restarts at
// INIT.
func (e *Engine) LinkChangeEvent(linkUp bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		e.settings.Transport.UnwatchDuplicate(e.linkLocalAddr)
		e.settings.Transport.UnwatchDuplicate(e.globalAddr)
		e.settings.Iface.SetLinkLocalAddr(netip.Addr{}, ifmodel.AddrInvalid)
		e.settings.Iface.SetGlobalAddr(netip.Addr{}, ifmodel.AddrInvalid)
		e.settings.Iface.SetPrefix(netip.Prefix{})
		e.linkLocalAddr = netip.Addr{}
		e.globalAddr = netip.Addr{}
		e.prefix = netip.Prefix{}
	}

	e.changeStateLocked(StateInit)
}

// Tick advances the FSM; it must be called periodically and performs no
// blocking I/O itself.
func (e *Engine) Tick(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.settings.Clock.Now()

	switch e.state {
	case StateInit:
		e.tickInit(now)
	case StateLinkLocalAddrDAD:
		e.tickLinkLocalAddrDAD(ctx, now)
	case StateRouterSolicit:
		e.tickRouterSolicit(ctx, now)
	case StateGlobalAddrDAD:
		e.tickGlobalAddrDAD(ctx, now)
	default:
		// StateConfigured, StateNoRouter and StateDADFailure are parked
		// terminal states with nothing left for Tick to do.
	}
}

func (e *Engine) shouldFire(now clock.Time) bool {
	return clock.AtOrAfter(now, clock.Add(e.timestamp, e.timeout))
}

// retransTimer returns the DAD probe spacing: the interface's
// NDP-advertised retrans timer if one has been learned, else the RFC 4861
// default.
func (e *Engine) retransTimer() uint32 {
	if d := e.settings.Iface.IPv6().RetransTimer; d > 0 {
		return uint32(d.Milliseconds())
	}
	return DefaultRetransTimer
}

// tickInit mirrors SLAAC_STATE_INIT: once the link is up, form the
// link-local address from the interface's MAC and begin DAD on it.
func (e *Engine) tickInit(now clock.Time) {
	if !e.running || !e.settings.Iface.LinkState() {
		return
	}

	id := macAddrToEUI64(e.settings.Iface.MAC())
	addr := linkLocalAddrFromEUI64(id)

	e.linkLocalAddr = addr
	e.settings.Iface.SetLinkLocalAddr(addr, ifmodel.AddrTentative)
	e.settings.Transport.WatchDuplicate(addr)

	e.timestamp = now
	e.timeout = 0
	e.retransmitCount = 0
	e.changeStateLocked(StateLinkLocalAddrDAD)
}

// tickLinkLocalAddrDAD mirrors SLAAC_STATE_LINK_LOCAL_ADDR_DAD.
func (e *Engine) tickLinkLocalAddrDAD(ctx context.Context, now clock.Time) {
	if !e.shouldFire(now) {
		return
	}

	if e.settings.Transport.DuplicateDetected(e.linkLocalAddr) {
		e.log.Info("duplicate link-local address detected", zap.Stringer("addr", e.linkLocalAddr))
		e.settings.Transport.UnwatchDuplicate(e.linkLocalAddr)
		e.settings.Iface.SetLinkLocalAddr(netip.Addr{}, ifmodel.AddrInvalid)
		e.linkLocalAddr = netip.Addr{}
		e.changeStateLocked(StateDADFailure)
		return
	}

	if e.retransmitCount < e.settings.DupAddrDetectTransmits {
		_ = e.settings.Transport.SendNeighborSolicitation(ctx, e.linkLocalAddr, true)
		e.timestamp = now
		e.timeout = e.retransTimer()
		e.retransmitCount++
		return
	}

	e.settings.Transport.UnwatchDuplicate(e.linkLocalAddr)
	e.settings.Iface.SetLinkLocalAddr(e.linkLocalAddr, ifmodel.AddrPreferred)

	e.timestamp = now
	e.timeout = uint32(e.settings.Rand.Range(int64(e.settings.MinRtrSolicitationDelay), int64(e.settings.MaxRtrSolicitationDelay)))
	e.retransmitCount = 0
	e.changeStateLocked(StateRouterSolicit)
}

// tickRouterSolicit mirrors SLAAC_STATE_ROUTER_SOLICIT.
func (e *Engine) tickRouterSolicit(ctx context.Context, now clock.Time) {
	if !e.shouldFire(now) {
		return
	}

	if e.retransmitCount < e.settings.MaxRtrSolicitations {
		_ = e.settings.Transport.SendRouterSolicitation(ctx)
		e.timestamp = now
		e.timeout = e.settings.RtrSolicitationInterval
		e.retransmitCount++
		return
	}

	e.log.Info("no router advertisement received, giving up on router solicitation", zap.Uint("retransmitCount", e.retransmitCount))
	e.changeStateLocked(StateNoRouter)
}

// tickGlobalAddrDAD mirrors SLAAC_STATE_GLOBAL_ADDR_DAD.
func (e *Engine) tickGlobalAddrDAD(ctx context.Context, now clock.Time) {
	if !e.shouldFire(now) {
		return
	}

	if e.settings.Transport.DuplicateDetected(e.globalAddr) {
		e.log.Info("duplicate global address detected", zap.Stringer("addr", e.globalAddr))
		e.settings.Transport.UnwatchDuplicate(e.globalAddr)
		e.settings.Iface.SetGlobalAddr(netip.Addr{}, ifmodel.AddrInvalid)
		e.globalAddr = netip.Addr{}
		e.changeStateLocked(StateDADFailure)
		return
	}

	if e.retransmitCount < e.settings.DupAddrDetectTransmits {
		_ = e.settings.Transport.SendNeighborSolicitation(ctx, e.globalAddr, true)
		e.timestamp = now
		e.timeout = e.retransTimer()
		e.retransmitCount++
		return
	}

	e.settings.Transport.UnwatchDuplicate(e.globalAddr)
	e.settings.Iface.SetGlobalAddr(e.globalAddr, ifmodel.AddrPreferred)
	e.changeStateLocked(StateConfigured)
}

// onRouterAdvertisement is the Router Advertisement receive callback
// registered on the NDP collaborator, mirroring slaacProcessRouterAdv.
func (e *Engine) onRouterAdvertisement(ra transport.RouterAdvertisement, from netip.Addr) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}

	if cb := e.settings.RouterAdvEvent; cb != nil {
		e.mu.Unlock()
		cb(ra, from)
		e.mu.Lock()
	}

	e.settings.Iface.SetReachableAndRetrans(ra.ReachableTime, ra.RetransTimer)
	if ra.MTU > 0 {
		e.settings.Iface.SetIPv6MTU(ra.MTU)
	}

	if e.state != StateRouterSolicit && e.state != StateNoRouter {
		return
	}

	pi, ok := selectPrefix(ra.Prefixes)
	if !ok {
		return
	}

	e.settings.Iface.SetPrefix(pi.Prefix)
	e.prefix = pi.Prefix

	id := macAddrToEUI64(e.settings.Iface.MAC())
	addr := globalAddrFromPrefix(pi.Prefix, id)

	e.globalAddr = addr
	e.settings.Iface.SetGlobalAddr(addr, ifmodel.AddrTentative)
	e.settings.Transport.WatchDuplicate(addr)

	if !e.settings.ManualDNSConfig && len(ra.RecursiveDNSServers) > 0 {
		e.settings.Iface.SetIPv6DNSServers(ra.RecursiveDNSServers)
	}

	e.timestamp = e.settings.Clock.Now()
	e.timeout = 0
	e.retransmitCount = 0
	e.changeStateLocked(StateGlobalAddrDAD)
}

// selectPrefix returns the first Prefix Information option eligible for
// SLAAC address formation, per RFC 4862 §5.5.3.
func selectPrefix(prefixes []transport.PrefixInfo) (transport.PrefixInfo, bool) {
	for _, pi := range prefixes {
		if !pi.Autonomous {
			continue
		}
		if pi.Prefix.Bits() != 64 {
			continue
		}
		if linkLocalPrefix.Overlaps(pi.Prefix) {
			continue
		}
		if pi.ValidLifetime <= 0 {
			continue
		}
		if pi.PreferredLifetime > pi.ValidLifetime {
			continue
		}
		return pi, true
	}
	return transport.PrefixInfo{}, false
}

// changeStateLocked mirrors the state/timestamp reset every SLAAC
// transition performs, then invokes StateChangeEvent with the mutex
// released to avoid priority inversion in the caller's stack task.
func (e *Engine) changeStateLocked(state State) {
	e.log.Info("state transition", zap.Stringer("from", e.state), zap.Stringer("to", state))
	e.state = state

	cb := e.settings.StateChangeEvent
	if cb == nil {
		return
	}

	e.mu.Unlock()
	cb(e, state)
	e.mu.Lock()
}

// linkLocalAddrFromEUI64 forms fe80::/64 | id, mirroring slaacTick's
// SLAAC_STATE_INIT link-local address construction.
func linkLocalAddrFromEUI64(id [8]byte) netip.Addr {
	var b [16]byte
	b[0], b[1] = 0xFE, 0x80
	copy(b[8:], id[:])
	return netip.AddrFrom16(b)
}

// globalAddrFromPrefix forms prefix || id, mirroring slaacProcessRouterAdv's
// global address construction.
func globalAddrFromPrefix(prefix netip.Prefix, id [8]byte) netip.Addr {
	b := prefix.Addr().As16()
	copy(b[8:], id[:])
	return netip.AddrFrom16(b)
}
