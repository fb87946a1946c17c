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

// Package slaac implements IPv6 Stateless Address Autoconfiguration per
// RFC 4862: link-local address formation, Router Solicitation, Router
// Advertisement processing and Duplicate Address Detection, mirroring
// CycloneTCP's slaac.c in the tick-driven idiom the DHCPv4/DHCPv6 engines
// share.
package slaac

import (
	"net/netip"

	"go.uber.org/zap"

	"github.com/oryx-embedded/cyclone-hostconf/internal/clock"
	"github.com/oryx-embedded/cyclone-hostconf/internal/ifmodel"
	"github.com/oryx-embedded/cyclone-hostconf/internal/transport"
)

// Default timer values in milliseconds, matching NDP_MAX_RTR_SOLICITATION_DELAY
// et al.'s RFC 4861 §10 defaults.
const (
	DefaultMaxRtrSolicitationDelay = 1000
	DefaultRtrSolicitationInterval = 4000
	DefaultMaxRtrSolicitations     = 3
	DefaultDupAddrDetectTransmits  = 1

	// DefaultRetransTimer is used for DAD probe spacing until a Router
	// Advertisement supplies RetransTimer, matching RFC 4861's
	// RETRANS_TIMER default.
	DefaultRetransTimer = 1000
)

// RouterAdvCallback is invoked for every Router Advertisement received,
// before SLAAC's own state-dependent processing, mirroring
// parseRouterAdvCallback.
type RouterAdvCallback func(ra transport.RouterAdvertisement, from netip.Addr)

// StateChangeFunc is invoked (mutex released) on every FSM transition.
type StateChangeFunc func(e *Engine, state State)

// Settings mirrors SlaacSettings: the caller-supplied configuration for one
// SLAAC engine instance.
type Settings struct {
	// Iface is the interface the engine manages. Required.
	Iface *ifmodel.Interface

	// MinRtrSolicitationDelay and MaxRtrSolicitationDelay bound the uniform
	// random delay, in milliseconds, before the first Router Solicitation.
	MinRtrSolicitationDelay uint32
	MaxRtrSolicitationDelay uint32

	// RtrSolicitationInterval is the delay, in milliseconds, between
	// retransmitted Router Solicitations.
	RtrSolicitationInterval uint32

	// MaxRtrSolicitations bounds how many Router Solicitations are sent
	// before giving up and entering NO-ROUTER.
	MaxRtrSolicitations uint

	// DupAddrDetectTransmits is the number of Neighbor Solicitations sent
	// while performing DAD on a tentative address.
	DupAddrDetectTransmits uint

	// ManualDNSConfig, when true, suppresses applying RDNSS-derived DNS
	// servers to the interface.
	ManualDNSConfig bool

	RouterAdvEvent RouterAdvCallback

	Transport transport.NDPSender
	Receiver  transport.NDPReceiver

	Clock clock.Source
	Rand  clock.Rand
	Log   *zap.Logger

	StateChangeEvent StateChangeFunc
}

// GetDefaultSettings returns the conservative defaults
// slaacGetDefaultSettings applies before the caller overrides the fields it
// cares about.
func GetDefaultSettings() Settings {
	return Settings{
		MinRtrSolicitationDelay: 0,
		MaxRtrSolicitationDelay: DefaultMaxRtrSolicitationDelay,
		RtrSolicitationInterval: DefaultRtrSolicitationInterval,
		MaxRtrSolicitations:     DefaultMaxRtrSolicitations,
		DupAddrDetectTransmits:  DefaultDupAddrDetectTransmits,
		ManualDNSConfig:         false,
		Clock:                   clock.NewSystemSource(),
		Rand:                    clock.NewDefaultRand(),
	}
}
