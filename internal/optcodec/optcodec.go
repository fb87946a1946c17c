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

// Package optcodec holds the address-conversion helpers shared by the DHCPv4
// and DHCPv6 engines when they move option values between insomniacslk/dhcp's
// net.IP-based wire types and the net/netip.Addr the rest of this module
// standardizes on.
package optcodec

import "net/netip"

// AddrToIPv4 renders a as a 4-byte net.IP, matching net.IP's convention for
// invalid input by falling back to zero() when a is not a valid address.
func AddrToIPv4(a netip.Addr, zero netip.Addr) []byte {
	if !a.IsValid() {
		a = zero
	}
	b := a.As4()
	return b[:]
}

// AddrToIPv6 renders a as a 16-byte net.IP, falling back to zero when a is
// not a valid address.
func AddrToIPv6(a netip.Addr, zero netip.Addr) []byte {
	if !a.IsValid() {
		a = zero
	}
	b := a.As16()
	return b[:]
}

// IPv4ToAddr parses a wire IPv4 address, returning the zero netip.Addr for
// anything that doesn't decode to exactly 4 bytes.
func IPv4ToAddr(ip []byte) netip.Addr {
	if len(ip) != 4 {
		return netip.Addr{}
	}
	return netip.AddrFrom4([4]byte(ip))
}

// IPv6ToAddr parses a wire IPv6 address, returning the zero netip.Addr for
// anything that doesn't decode to exactly 16 bytes.
func IPv6ToAddr(ip []byte) netip.Addr {
	if len(ip) != 16 {
		return netip.Addr{}
	}
	return netip.AddrFrom16([16]byte(ip))
}

// AddrList converts a wire address list into up to max valid netip.Addr
// values via convert, dropping any that fail to decode. Both engines use
// this for the DNS Server / Recursive DNS Server option lists, matching
// ifmodel.MaxDNSServers on the DHCPv4 side and RDNSS's unbounded list on the
// DHCPv6/SLAAC side (max <= 0 means unbounded).
func AddrList[T any](raw []T, convert func(T) netip.Addr, max int) []netip.Addr {
	out := make([]netip.Addr, 0, len(raw))
	for _, ip := range raw {
		if max > 0 && len(out) >= max {
			break
		}
		if a := convert(ip); a.IsValid() {
			out = append(out, a)
		}
	}
	return out
}
