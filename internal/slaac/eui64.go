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

import "net"

// macAddrFlagLocal is the Universal/Local bit of the first octet of a
// modified EUI-64 identifier.
const macAddrFlagLocal = 0x02

// macAddrToEUI64 maps a 6-byte MAC address to a modified EUI-64 interface
// identifier, mirroring macAddrToEui64: the OUI occupies the first three
// bytes, 0xFFFE is inserted in the middle, the remaining three MAC bytes
// follow, and the Universal/Local bit is inverted.
func macAddrToEUI64(mac net.HardwareAddr) [8]byte {
	var id [8]byte
	id[0] = mac[0]
	id[1] = mac[1]
	id[2] = mac[2]
	id[3] = 0xFF
	id[4] = 0xFE
	id[5] = mac[3]
	id[6] = mac[4]
	id[7] = mac[5]
	id[0] ^= macAddrFlagLocal
	return id
}
