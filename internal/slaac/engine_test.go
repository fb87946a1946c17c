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
	"net"
	"net/netip"
	"testing"
	"time"

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

type fakeNDP struct {
	neighborSols []netip.Addr
	routerSols   int
	watched      map[netip.Addr]bool
}

func newFakeNDP() *fakeNDP {
	return &fakeNDP{watched: map[netip.Addr]bool{}}
}

func (f *fakeNDP) SendNeighborSolicitation(_ context.Context, target netip.Addr, _ bool) error {
	f.neighborSols = append(f.neighborSols, target)
	return nil
}

func (f *fakeNDP) SendRouterSolicitation(_ context.Context) error {
	f.routerSols++
	return nil
}

func (f *fakeNDP) WatchDuplicate(target netip.Addr)   { f.watched[target] = false }
func (f *fakeNDP) DuplicateDetected(target netip.Addr) bool { return f.watched[target] }
func (f *fakeNDP) UnwatchDuplicate(target netip.Addr) { delete(f.watched, target) }

func (f *fakeNDP) declareDuplicate(target netip.Addr) {
	if _, ok := f.watched[target]; ok {
		f.watched[target] = true
	}
}

type fakeReceiver struct {
	fn func(ra transport.RouterAdvertisement, from netip.Addr)
}

func (f *fakeReceiver) OnRouterAdvertisement(fn func(ra transport.RouterAdvertisement, from netip.Addr)) {
	f.fn = fn
}

func newTestEngine(t *testing.T) (*Engine, *fakeNDP, *fakeReceiver, *fakeClock) {
	t.Helper()

	iface := ifmodel.New("eth0", 1, net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}, "host1")
	iface.SetLinkState(true)

	tr := newFakeNDP()
	recv := &fakeReceiver{}
	fc := &fakeClock{now: 1000}

	settings := GetDefaultSettings()
	settings.Iface = iface
	settings.Transport = tr
	settings.Receiver = recv
	settings.Clock = fc
	settings.Rand = zeroRand{}

	e, err := NewEngine(settings)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, tr, recv, fc
}

func TestLinkLocalAddressFormedOnLinkUp(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	_ = e.Start()

	e.Tick(context.Background())

	if e.GetState() != StateLinkLocalAddrDAD {
		t.Fatalf("expected LINK-LOCAL-ADDR-DAD, got %s", e.GetState())
	}

	v6 := e.Interface().IPv6()
	if !v6.LinkLocal.IsValid() || v6.LinkLocalState != ifmodel.AddrTentative {
		t.Fatalf("expected a tentative link-local address, got %s/%s", v6.LinkLocal, v6.LinkLocalState)
	}

	wantID := macAddrToEUI64(e.settings.Iface.MAC())
	wantAddr := linkLocalAddrFromEUI64(wantID)
	if v6.LinkLocal != wantAddr {
		t.Fatalf("expected link-local address %s, got %s", wantAddr, v6.LinkLocal)
	}
}

func TestLinkLocalDADSuccessEntersRouterSolicit(t *testing.T) {
	e, tr, _, fc := newTestEngine(t)
	_ = e.Start()
	e.Tick(context.Background())

	addr := e.Interface().IPv6().LinkLocal

	// First DAD tick (timeout still zero from the state transition) sends
	// the lone configured NS probe.
	e.Tick(context.Background())
	if len(tr.neighborSols) != 1 {
		t.Fatalf("expected one Neighbor Solicitation, got %d", len(tr.neighborSols))
	}

	fc.advance(DefaultRetransTimer + 1)
	e.Tick(context.Background())

	if e.GetState() != StateRouterSolicit {
		t.Fatalf("expected ROUTER-SOLICIT once DAD completes, got %s", e.GetState())
	}
	v6 := e.Interface().IPv6()
	if v6.LinkLocal != addr || v6.LinkLocalState != ifmodel.AddrPreferred {
		t.Fatalf("expected the link-local address to become preferred, got %s/%s", v6.LinkLocal, v6.LinkLocalState)
	}
	if tr.DuplicateDetected(addr) {
		t.Fatalf("expected WatchDuplicate to be disarmed once DAD completes")
	}
}

func TestDuplicateLinkLocalEntersDADFailure(t *testing.T) {
	e, tr, _, fc := newTestEngine(t)
	_ = e.Start()
	e.Tick(context.Background())

	addr := e.Interface().IPv6().LinkLocal
	tr.declareDuplicate(addr)

	fc.advance(1)
	e.Tick(context.Background())

	if e.GetState() != StateDADFailure {
		t.Fatalf("expected DAD-FAILURE, got %s", e.GetState())
	}
	v6 := e.Interface().IPv6()
	if v6.LinkLocalState != ifmodel.AddrInvalid {
		t.Fatalf("expected the duplicate link-local address to be invalidated, got %s", v6.LinkLocalState)
	}
}

func advanceThroughLinkLocalDAD(t *testing.T, e *Engine, fc *fakeClock) {
	t.Helper()
	e.Tick(context.Background())
	e.Tick(context.Background())
	fc.advance(DefaultRetransTimer + 1)
	e.Tick(context.Background())
	if e.GetState() != StateRouterSolicit {
		t.Fatalf("expected ROUTER-SOLICIT, got %s", e.GetState())
	}
}

func TestRouterAdvertisementFormsGlobalAddress(t *testing.T) {
	e, _, recv, fc := newTestEngine(t)
	_ = e.Start()
	advanceThroughLinkLocalDAD(t, e, fc)

	prefix := netip.MustParsePrefix("2001:db8::/64")
	ra := transport.RouterAdvertisement{
		Prefixes: []transport.PrefixInfo{
			{
				Prefix:            prefix,
				Autonomous:        true,
				ValidLifetime:     24 * time.Hour,
				PreferredLifetime: 4 * time.Hour,
			},
		},
	}
	recv.fn(ra, netip.MustParseAddr("fe80::1"))

	if e.GetState() != StateGlobalAddrDAD {
		t.Fatalf("expected GLOBAL-ADDR-DAD after a valid RA, got %s", e.GetState())
	}

	v6 := e.Interface().IPv6()
	if v6.Prefix != prefix {
		t.Fatalf("expected prefix %s recorded, got %s", prefix, v6.Prefix)
	}

	wantID := macAddrToEUI64(e.settings.Iface.MAC())
	wantAddr := globalAddrFromPrefix(prefix, wantID)
	if v6.Global != wantAddr || v6.GlobalState != ifmodel.AddrTentative {
		t.Fatalf("expected tentative global address %s, got %s/%s", wantAddr, v6.Global, v6.GlobalState)
	}
}

func TestGlobalDADCompletesConfigured(t *testing.T) {
	e, tr, recv, fc := newTestEngine(t)
	_ = e.Start()
	advanceThroughLinkLocalDAD(t, e, fc)

	prefix := netip.MustParsePrefix("2001:db8::/64")
	recv.fn(transport.RouterAdvertisement{
		Prefixes: []transport.PrefixInfo{{
			Prefix:            prefix,
			Autonomous:        true,
			ValidLifetime:     24 * time.Hour,
			PreferredLifetime: 4 * time.Hour,
		}},
	}, netip.MustParseAddr("fe80::1"))

	globalAddr := e.Interface().IPv6().Global

	e.Tick(context.Background())
	if len(tr.neighborSols) == 0 {
		t.Fatalf("expected a Neighbor Solicitation probing the global address")
	}

	fc.advance(DefaultRetransTimer + 1)
	e.Tick(context.Background())

	if e.GetState() != StateConfigured {
		t.Fatalf("expected CONFIGURED once global DAD completes, got %s", e.GetState())
	}
	v6 := e.Interface().IPv6()
	if v6.Global != globalAddr || v6.GlobalState != ifmodel.AddrPreferred {
		t.Fatalf("expected the global address to become preferred, got %s/%s", v6.Global, v6.GlobalState)
	}
}

func TestNoRouterAfterMaxSolicitations(t *testing.T) {
	e, tr, _, fc := newTestEngine(t)
	_ = e.Start()
	advanceThroughLinkLocalDAD(t, e, fc)

	for i := 0; i < DefaultMaxRtrSolicitations; i++ {
		fc.advance(DefaultRtrSolicitationInterval + 1)
		e.Tick(context.Background())
	}
	fc.advance(DefaultRtrSolicitationInterval + 1)
	e.Tick(context.Background())

	if e.GetState() != StateNoRouter {
		t.Fatalf("expected NO-ROUTER once solicitations are exhausted, got %s", e.GetState())
	}
	if tr.routerSols != DefaultMaxRtrSolicitations {
		t.Fatalf("expected %d Router Solicitations, got %d", DefaultMaxRtrSolicitations, tr.routerSols)
	}
}
