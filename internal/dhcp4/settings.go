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
	"go.uber.org/zap"

	"github.com/oryx-embedded/cyclone-hostconf/internal/clock"
	"github.com/oryx-embedded/cyclone-hostconf/internal/ifmodel"
	"github.com/oryx-embedded/cyclone-hostconf/internal/transport"
)

// Timing constants per RFC 2131 §4.1's retransmission algorithm, as realized
// by CycloneTCP's dhcp_client.c.
const (
	ClientPort = 68
	ServerPort = 67

	// InitDelay bounds the random delay before the first DHCPDISCOVER, RFC
	// 2131 §4.1's "the client SHOULD wait a random time".
	InitDelay = 10000

	DiscoverInitRT = 4000
	DiscoverMaxRT  = 64000

	RequestInitRT = 4000
	RequestMaxRT  = 64000
	RequestMaxRC  = 4

	// RandFactor is the +/- jitter applied to every retransmission timeout.
	RandFactor = 1000

	// RequestMinDelay is the floor the RENEWING/REBINDING retransmission
	// timeout is never halved below.
	RequestMinDelay = 60000
)

// StateChangeFunc is invoked (with the client mutex released) whenever the
// FSM transitions to a new state.
type StateChangeFunc func(c *Client, state State)

// TimeoutFunc is invoked once per acquisition attempt if no lease is
// obtained before Settings.Timeout elapses.
type TimeoutFunc func(c *Client)

// LinkChangeFunc is invoked after LinkChangeEvent has applied its state
// reset, still with the mutex released.
type LinkChangeFunc func(c *Client, linkUp bool)

// Settings mirrors dhcpClientSettings_t: the caller-supplied configuration
// for one DHCPv4 client instance.
type Settings struct {
	// Iface is the interface the client manages. Required.
	Iface *ifmodel.Interface

	// Hostname is sent in Option 12; if empty, Iface.Hostname() is used,
	// truncated to MaxHostnameLen.
	Hostname string

	// RapidCommit adds the Rapid Commit option (80) to outgoing messages.
	// The client still runs the full DISCOVER/OFFER/REQUEST/ACK sequence;
	// a DHCPACK received while SELECTING is ignored.
	RapidCommit bool

	// ManualDNSConfig, when true, suppresses applying the server-supplied
	// DNS servers to the interface.
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

// MaxHostnameLen bounds the hostname copied out of the interface, matching
// DHCP_CLIENT_MAX_HOSTNAME_LEN.
const MaxHostnameLen = 32

// GetDefaultSettings returns the conservative defaults dhcpClientGetDefaultSettings
// applies before the caller overrides fields it cares about.
func GetDefaultSettings() Settings {
	return Settings{
		Hostname:        "",
		RapidCommit:     false,
		ManualDNSConfig: false,
		Timeout:         0,
		Clock:           clock.NewSystemSource(),
		Rand:            clock.NewDefaultRand(),
	}
}
