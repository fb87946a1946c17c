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

// Package transport declares the external collaborators the address
// acquisition engines depend on: UDP send/receive-callback registration and
// the NDP send primitives. The three engines depend only on these
// interfaces, never on a concrete socket. netimpl provides the production
// implementation.
package transport

import (
	"context"
	"net/netip"
	"time"
)

// UDPReceiveFunc mirrors the UDP receive callback signature, minus the
// pseudo-header/userdata plumbing a Go closure already captures.
type UDPReceiveFunc func(srcAddr netip.AddrPort, payload []byte)

// UDPSender is the "udpSendDatagram" collaborator.
type UDPSender interface {
	// SendDatagram transmits payload from srcPort to dst:dstPort with the
	// given IPv4 TTL / IPv6 hop limit. A non-blocking allocation failure is
	// reported as ErrOutOfMemory; the caller treats that as a no-op to be
	// retried on the next retransmit tick.
	SendDatagram(ctx context.Context, srcPort int, dst netip.Addr, dstPort int, payload []byte, ttl uint8) error
}

// UDPReceiverRegistry lets an engine attach/detach its receive callback on a
// well-known client port.
type UDPReceiverRegistry interface {
	RegisterUDPReceiver(port int, fn UDPReceiveFunc) error
	RegisterUDPReceiverFamily(port int, v6 bool, fn UDPReceiveFunc) error
	UnregisterUDPReceiver(port int) error
}

// NDPSender is the "ndpSendNeighborSol"/"ndpSendRouterSol" collaborator used
// by SLAAC for DAD probes and Router Solicitations. It also owns
// duplicate-address detection: SLAAC drives *when* DAD happens and on
// *which* tentative address, but the NDP subsystem owns probe transmission
// and reception, surfacing the result as a duplicate-detected flag per
// watched address rather than handing SLAAC raw Neighbor Advertisements.
type NDPSender interface {
	SendNeighborSolicitation(ctx context.Context, target netip.Addr, multicast bool) error
	SendRouterSolicitation(ctx context.Context) error

	// WatchDuplicate arms duplicate-address detection for target: an
	// unsolicited Neighbor Advertisement naming target, received before the
	// matching UnwatchDuplicate, sets target's duplicate-detected flag.
	WatchDuplicate(target netip.Addr)
	// DuplicateDetected reports the duplicate-detected flag most recently
	// armed for target by WatchDuplicate. It is false for an unwatched
	// address.
	DuplicateDetected(target netip.Addr) bool
	// UnwatchDuplicate disarms detection for target and clears its flag.
	UnwatchDuplicate(target netip.Addr)
}

// PrefixInfo is one Prefix Information option carried by a Router
// Advertisement, reduced to the fields SLAAC's prefix-adoption rule needs.
type PrefixInfo struct {
	Prefix            netip.Prefix
	OnLink            bool
	Autonomous        bool
	ValidLifetime     time.Duration
	PreferredLifetime time.Duration
}

// RouterAdvertisement is a Router Advertisement reduced to the fields SLAAC
// consumes, keeping the engine free of any direct dependency on the NDP
// wire library.
type RouterAdvertisement struct {
	ReachableTime       time.Duration
	RetransTimer        time.Duration
	MTU                 int
	Prefixes            []PrefixInfo
	RecursiveDNSServers []netip.Addr
}

// NDPReceiver lets SLAAC attach the callback invoked for each Router
// Advertisement received on the interface.
type NDPReceiver interface {
	OnRouterAdvertisement(fn func(ra RouterAdvertisement, from netip.Addr))
}
