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

package dhcp6

import (
	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/iana"
)

// clientDUID builds a DUID-LL from the interface's MAC, mirroring
// dhcpv6ClientInit's construction of context.clientId: a link-layer DUID
// carries no clock dependency, unlike DUID-LLT.
func clientDUID(c *Client) dhcpv6.DUID {
	return &dhcpv6.DUIDLL{
		HWType:        iana.HWTypeEthernet,
		LinkLayerAddr: c.settings.Iface.MAC(),
	}
}

// iaidFor derives the 4-byte IAID from the interface index, matching the
// common convention of keying one IA_NA per managed interface.
func iaidFor(c *Client) [4]byte {
	idx := uint32(c.settings.Iface.Index())
	return [4]byte{byte(idx >> 24), byte(idx >> 16), byte(idx >> 8), byte(idx)}
}
