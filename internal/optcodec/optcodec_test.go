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

package optcodec

import (
	"net"
	"net/netip"
	"testing"
)

func TestIPv4RoundTrip(t *testing.T) {
	want := netip.MustParseAddr("192.0.2.1")
	ip := net.IP(AddrToIPv4(want, netip.IPv4Unspecified()))
	got := IPv4ToAddr(ip)
	if got != want {
		t.Fatalf("round-trip mismatch: got %s, want %s", got, want)
	}
}

func TestIPv4InvalidFallsBackToZero(t *testing.T) {
	ip := net.IP(AddrToIPv4(netip.Addr{}, netip.IPv4Unspecified()))
	got := IPv4ToAddr(ip)
	if got != netip.IPv4Unspecified() {
		t.Fatalf("expected the zero value to fall back to IPv4Unspecified, got %s", got)
	}
}

func TestIPv6RoundTrip(t *testing.T) {
	want := netip.MustParseAddr("2001:db8::1")
	ip := net.IP(AddrToIPv6(want, netip.IPv6Unspecified()))
	got := IPv6ToAddr(ip)
	if got != want {
		t.Fatalf("round-trip mismatch: got %s, want %s", got, want)
	}
}

func TestIPv4ToAddrRejectsWrongLength(t *testing.T) {
	if got := IPv4ToAddr(nil); got.IsValid() {
		t.Fatalf("expected an invalid Addr for a nil slice, got %s", got)
	}
	if got := IPv4ToAddr(make([]byte, 16)); got.IsValid() {
		t.Fatalf("expected an invalid Addr for a 16-byte slice, got %s", got)
	}
}

func TestAddrListDropsInvalidAndCaps(t *testing.T) {
	raw := []net.IP{
		net.ParseIP("192.0.2.1").To4(),
		nil,
		net.ParseIP("192.0.2.2").To4(),
		net.ParseIP("192.0.2.3").To4(),
	}
	got := AddrList(raw, func(ip net.IP) netip.Addr { return IPv4ToAddr(ip) }, 2)
	if len(got) != 2 {
		t.Fatalf("expected the list capped at 2 entries, got %d", len(got))
	}
	if got[0].String() != "192.0.2.1" || got[1].String() != "192.0.2.2" {
		t.Fatalf("unexpected addresses: %v", got)
	}
}

func TestAddrListUnboundedWhenMaxIsZero(t *testing.T) {
	raw := []net.IP{
		net.ParseIP("2001:db8::1").To16(),
		net.ParseIP("2001:db8::2").To16(),
		net.ParseIP("2001:db8::3").To16(),
	}
	got := AddrList(raw, func(ip net.IP) netip.Addr { return IPv6ToAddr(ip) }, 0)
	if len(got) != 3 {
		t.Fatalf("expected all 3 addresses with an unbounded cap, got %d", len(got))
	}
}
