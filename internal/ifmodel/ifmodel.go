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

// Package ifmodel defines the per-interface binding shared by the DHCPv4,
// DHCPv6 and SLAAC engines: MAC address, link state, IPv4/IPv6 configuration
// and the tagged address-state slots. It is the external collaborator the
// engines attach to — engines mutate an Interface only through the setter
// methods here, which serialize internally, so two engines sharing an
// interface never race on the underlying fields.
package ifmodel

import (
	"net"
	"net/netip"
	"sync"
	"time"
)

// AddrState is the tagged value an address slot carries.
type AddrState int

const (
	// AddrInvalid means the slot holds no usable address.
	AddrInvalid AddrState = iota
	// AddrTentative means DAD is in progress; the address MUST NOT be used
	// as a source address and has no associated default route.
	AddrTentative
	// AddrPreferred means the address passed DAD and may be used freely.
	AddrPreferred
	// AddrValid means the address is bound (DHCP-assigned addresses land
	// here directly, since DAD for those is delegated to the NDP/ARP
	// collaborator at the stack level rather than this core).
	AddrValid
)

// String implements fmt.Stringer for trace logging.
func (s AddrState) String() string {
	switch s {
	case AddrInvalid:
		return "INVALID"
	case AddrTentative:
		return "TENTATIVE"
	case AddrPreferred:
		return "PREFERRED"
	case AddrValid:
		return "VALID"
	default:
		return "UNKNOWN"
	}
}

// Usable reports whether an address in this state may be used as a source
// address: only Preferred and Valid addresses may.
func (s AddrState) Usable() bool {
	return s == AddrPreferred || s == AddrValid
}

// IPv4Config is the interface's current IPv4 configuration.
type IPv4Config struct {
	Addr           netip.Addr
	AddrState      AddrState
	SubnetMask     netip.Addr
	DefaultGateway netip.Addr
	DNSServers     []netip.Addr
	MTU            int
}

// MaxDNSServers bounds the DNS server list recorded from a DHCPv4 reply,
// matching IPV4_MAX_DNS_SERVERS. The IPv6 DNS server list is not bounded.
const MaxDNSServers = 2

// IPv6Config is the interface's current IPv6 configuration.
type IPv6Config struct {
	LinkLocal      netip.Addr
	LinkLocalState AddrState
	Global         netip.Addr
	GlobalState    AddrState
	Prefix         netip.Prefix
	DNSServers     []netip.Addr
	MTU            int
	HopLimit       uint8
	ReachableTime  time.Duration
	RetransTimer   time.Duration
}

// Interface is the network interface binding an engine attaches to.
type Interface struct {
	mu sync.Mutex

	name      string
	index     int
	mac       net.HardwareAddr
	hostname  string
	linkState bool

	v4 IPv4Config
	v6 IPv6Config
}

// New creates an Interface binding for the given name/index/MAC.
func New(name string, index int, mac net.HardwareAddr, hostname string) *Interface {
	return &Interface{
		name:     name,
		index:    index,
		mac:      mac,
		hostname: hostname,
	}
}

// Name returns the interface name.
func (i *Interface) Name() string { return i.name }

// Index returns the OS interface index, used to derive the DHCPv6 IAID.
func (i *Interface) Index() int { return i.index }

// MAC returns the interface's hardware address.
func (i *Interface) MAC() net.HardwareAddr { return i.mac }

// Hostname returns the interface's configured hostname, used as the DHCPv4
// client-hostname default.
func (i *Interface) Hostname() string { return i.hostname }

// LinkState reports whether the link is currently up.
func (i *Interface) LinkState() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.linkState
}

// SetLinkState updates the link state; it does not itself notify engines —
// the embedding stack is expected to call each attached engine's
// LinkChangeEvent after flipping this.
func (i *Interface) SetLinkState(up bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.linkState = up
}

// IPv4 returns a snapshot of the current IPv4 configuration.
func (i *Interface) IPv4() IPv4Config {
	i.mu.Lock()
	defer i.mu.Unlock()
	cfg := i.v4
	cfg.DNSServers = append([]netip.Addr(nil), i.v4.DNSServers...)
	return cfg
}

// IPv6 returns a snapshot of the current IPv6 configuration.
func (i *Interface) IPv6() IPv6Config {
	i.mu.Lock()
	defer i.mu.Unlock()
	cfg := i.v6
	cfg.DNSServers = append([]netip.Addr(nil), i.v6.DNSServers...)
	return cfg
}

// SetHostAddr assigns the IPv4 host address with the given state. Passing
// AddrInvalid clears the address.
func (i *Interface) SetHostAddr(addr netip.Addr, state AddrState) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.v4.Addr = addr
	i.v4.AddrState = state
}

// SetSubnetMask sets the IPv4 subnet mask.
func (i *Interface) SetSubnetMask(mask netip.Addr) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.v4.SubnetMask = mask
}

// SetMtu sets the IPv4 link MTU.
func (i *Interface) SetMtu(mtu int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.v4.MTU = mtu
}

// SetDefaultGateway sets the IPv4 default gateway. Only the first Router
// option value is ever recorded.
func (i *Interface) SetDefaultGateway(gw netip.Addr) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.v4.DefaultGateway = gw
}

// SetDNSServers sets up to MaxDNSServers IPv4 DNS server addresses.
func (i *Interface) SetDNSServers(servers []netip.Addr) {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := len(servers)
	if n > MaxDNSServers {
		n = MaxDNSServers
	}
	i.v4.DNSServers = append([]netip.Addr(nil), servers[:n]...)
}

// SetLinkLocalAddr assigns the IPv6 link-local address with the given state.
func (i *Interface) SetLinkLocalAddr(addr netip.Addr, state AddrState) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.v6.LinkLocal = addr
	i.v6.LinkLocalState = state
}

// SetGlobalAddr assigns the IPv6 global address with the given state.
func (i *Interface) SetGlobalAddr(addr netip.Addr, state AddrState) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.v6.Global = addr
	i.v6.GlobalState = state
}

// SetPrefix records the on-link prefix learned from a Router Advertisement.
func (i *Interface) SetPrefix(p netip.Prefix) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.v6.Prefix = p
}

// SetIPv6DNSServers sets the IPv6 RDNSS-derived DNS server list.
func (i *Interface) SetIPv6DNSServers(servers []netip.Addr) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.v6.DNSServers = append([]netip.Addr(nil), servers...)
}

// SetIPv6MTU sets the IPv6 link MTU (from an RA MTU option).
func (i *Interface) SetIPv6MTU(mtu int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.v6.MTU = mtu
}

// SetReachableAndRetrans updates the IPv6 Neighbor Discovery timers, as
// carried by a Router Advertisement.
func (i *Interface) SetReachableAndRetrans(reachable, retrans time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if reachable > 0 {
		i.v6.ReachableTime = reachable
	}
	if retrans > 0 {
		i.v6.RetransTimer = retrans
	}
}
