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

// Package dhcp4 implements the IPv4 DHCP (BOOTP-framed) client engine: a
// tick-driven retransmission state machine bound to one network interface.
package dhcp4

import "errors"

// ErrInvalidParameter is returned by NewClient when Settings.Iface,
// Settings.Transport or Settings.Registry is nil.
var ErrInvalidParameter = errors.New("dhcp4: invalid parameter")

// ErrOutOfResources is returned by NewClient when the UDP receive callback slot
// cannot be registered.
var ErrOutOfResources = errors.New("dhcp4: out of resources")
