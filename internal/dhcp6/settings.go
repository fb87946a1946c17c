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

// Package dhcp6 implements a DHCPv6 client FSM per RFC 3315: Solicit,
// Request, Confirm, Renew and Rebind exchanges managing one IA_NA, mirroring
// the DHCPv4 client in dhcp4 but in the idiom of CycloneTCP's
// dhcpv6_client.c.
package dhcp6

import (
	"net/netip"

	"go.uber.org/zap"

	"github.com/oryx-embedded/cyclone-hostconf/internal/clock"
	"github.com/oryx-embedded/cyclone-hostconf/internal/ifmodel"
	"github.com/oryx-embedded/cyclone-hostconf/internal/transport"
)

// Ports and multicast destination per RFC 3315 §5.1.
const (
	ClientPort = 546
	ServerPort = 547
)

// AllDHCPServers is the ff02::1:2 multicast group DHCPv6 clients send Solicit,
// Confirm and Rebind messages to.
var AllDHCPServers = netip.MustParseAddr("ff02::1:2")

// Retransmission parameters per RFC 3315 §14 and CycloneTCP's
// dhcpv6_client.h DHCPV6_CLIENT_* constants, in milliseconds.
const (
	SolMaxDelay = 1000
	SolTimeout  = 1000
	SolMaxRT    = 120000

	ReqTimeout = 1000
	ReqMaxRT   = 30000
	ReqMaxRC   = 10

	CnfMaxDelay = 1000
	CnfTimeout  = 1000
	CnfMaxRT    = 4000
	CnfMaxRD    = 10000

	RenTimeout = 10000
	RenMaxRT   = 600000

	RebTimeout = 10000
	RebMaxRT   = 600000

	DecTimeout = 1000
	DecMaxRC   = 5
)

// InfiniteLifetime marks a T1/T2/lifetime value the client must never treat
// as an expiring deadline.
const InfiniteLifetime = 0xFFFFFFFF

// StateChangeFunc is invoked (mutex released) on every FSM transition.
type StateChangeFunc func(c *Client, state State)

// TimeoutFunc is invoked once per acquisition attempt if Settings.Timeout
// elapses before BOUND is reached.
type TimeoutFunc func(c *Client)

// LinkChangeFunc is invoked after LinkChangeEvent applies its state reset.
type LinkChangeFunc func(c *Client, linkUp bool)

// Settings mirrors Dhcpv6ClientSettings: the caller-supplied configuration
// for one DHCPv6 client instance.
type Settings struct {
	// Iface is the interface the client manages. Required.
	Iface *ifmodel.Interface

	// RapidCommit, when true, accepts a Reply bearing a Rapid Commit option
	// during SOLICIT and short-circuits straight to BOUND.
	RapidCommit bool

	// ManualDNSConfig, when true, suppresses applying server-supplied DNS
	// servers to the interface.
	ManualDNSConfig bool

	// Timeout bounds, in milliseconds, how long the client waits for a
	// lease before firing TimeoutEvent. Zero means wait forever.
	Timeout uint32

	Transport transport.UDPSender
	Registry  transport.UDPReceiverRegistry

	Clock clock.Source
	Rand  clock.Rand
	Log   *zap.Logger

	StateChangeEvent StateChangeFunc
	TimeoutEvent     TimeoutFunc
	LinkChangeEvent  LinkChangeFunc
}

// GetDefaultSettings returns the conservative defaults
// dhcpv6ClientGetDefaultSettings applies before the caller overrides the
// fields it cares about.
func GetDefaultSettings() Settings {
	return Settings{
		RapidCommit:     false,
		ManualDNSConfig: false,
		Timeout:         0,
		Clock:           clock.NewSystemSource(),
		Rand:            clock.NewDefaultRand(),
	}
}
