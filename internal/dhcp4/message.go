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
	"fmt"
	"net"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/insomniacslk/dhcp/iana"
)

// withTransactionID overrides the transaction ID New() generates at random,
// so every message of one acquisition attempt shares the xid recorded in
// the client's context.
func withTransactionID(xid dhcpv4.TransactionID) dhcpv4.Modifier {
	return func(d *dhcpv4.DHCPv4) {
		d.TransactionID = xid
	}
}

// buildDiscover assembles a DHCPDISCOVER per RFC 2131 §4.4.1, Table 5,
// mirroring dhcpSendDiscover: broadcast, own hardware address, host name and
// parameter request list options.
func (c *Client) buildDiscover() (*dhcpv4.DHCPv4, error) {
	mods := []dhcpv4.Modifier{
		withTransactionID(c.transactionID),
		dhcpv4.WithBroadcast(true),
		dhcpv4.WithRequestedOptions(
			dhcpv4.OptionSubnetMask,
			dhcpv4.OptionRouter,
			dhcpv4.OptionDomainNameServer,
			dhcpv4.OptionInterfaceMTU,
			dhcpv4.OptionIPAddressLeaseTime,
			dhcpv4.OptionRenewTimeValue,
			dhcpv4.OptionRebindingTimeValue,
		),
	}
	mods = append(mods, c.hostnameAndRapidCommitModifiers()...)

	return dhcpv4.NewDiscovery(c.hwAddr(), mods...)
}

// buildRequestSelecting assembles the DHCPREQUEST that follows a selected
// OFFER, per RFC 2131 §4.3.2 ("SELECTING" column): broadcast, echoes the
// offered address and server identifier.
func (c *Client) buildRequestSelecting(offer *dhcpv4.DHCPv4) (*dhcpv4.DHCPv4, error) {
	mods := []dhcpv4.Modifier{
		withTransactionID(c.transactionID),
		dhcpv4.WithBroadcast(true),
	}
	mods = append(mods, c.hostnameAndRapidCommitModifiers()...)
	return dhcpv4.NewRequestFromOffer(offer, mods...)
}

// buildRequestInitReboot assembles the DHCPREQUEST a client sends on reboot
// with a remembered lease, per RFC 2131 §4.3.2 ("INIT-REBOOT" column):
// broadcast, requested IP option, ciaddr zero, no server identifier.
func (c *Client) buildRequestInitReboot() (*dhcpv4.DHCPv4, error) {
	mods := []dhcpv4.Modifier{
		dhcpv4.WithHwAddr(c.hwAddr()),
		withTransactionID(c.transactionID),
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRequest),
		dhcpv4.WithBroadcast(true),
		dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(addrToIP(c.offeredAddress))),
		dhcpv4.WithRequestedOptions(
			dhcpv4.OptionSubnetMask,
			dhcpv4.OptionRouter,
			dhcpv4.OptionDomainNameServer,
			dhcpv4.OptionInterfaceMTU,
			dhcpv4.OptionIPAddressLeaseTime,
			dhcpv4.OptionRenewTimeValue,
			dhcpv4.OptionRebindingTimeValue,
		),
	}
	mods = append(mods, c.hostnameAndRapidCommitModifiers()...)
	return dhcpv4.New(mods...)
}

// buildRequestRenewing assembles the unicast DHCPREQUEST sent directly to
// the lease's server in RENEWING, per RFC 2131 §4.3.2 ("RENEWING" column):
// unicast, ciaddr set, no requested-IP or server-identifier options.
func (c *Client) buildRequestRenewing() (*dhcpv4.DHCPv4, error) {
	mods := []dhcpv4.Modifier{
		dhcpv4.WithHwAddr(c.hwAddr()),
		withTransactionID(c.transactionID),
		dhcpv4.WithMessageType(dhcpv4.MessageTypeRequest),
		dhcpv4.WithClientIP(addrToIP(c.offeredAddress)),
		dhcpv4.WithBroadcast(false),
	}
	mods = append(mods, c.hostnameAndRapidCommitModifiers()...)
	return dhcpv4.New(mods...)
}

// buildRequestRebinding is identical to RENEWING except the message is
// broadcast since the original server may be unreachable, per RFC 2131
// §4.3.2 ("REBINDING" column).
func (c *Client) buildRequestRebinding() (*dhcpv4.DHCPv4, error) {
	msg, err := c.buildRequestRenewing()
	if err != nil {
		return nil, err
	}
	msg.SetBroadcast()
	return msg, nil
}

// buildDecline assembles a DHCPDECLINE, sent when a duplicate address check
// fails on the offered address, per RFC 2131 §4.4.4.
func (c *Client) buildDecline(declinedAddr net.IP, serverID net.IP) (*dhcpv4.DHCPv4, error) {
	return dhcpv4.New(
		dhcpv4.WithHwAddr(c.hwAddr()),
		withTransactionID(c.transactionID),
		dhcpv4.WithMessageType(dhcpv4.MessageTypeDecline),
		dhcpv4.WithBroadcast(true),
		dhcpv4.WithOption(dhcpv4.OptRequestedIPAddress(declinedAddr)),
		dhcpv4.WithOption(dhcpv4.OptServerIdentifier(serverID)),
	)
}

func (c *Client) hostnameAndRapidCommitModifiers() []dhcpv4.Modifier {
	var mods []dhcpv4.Modifier
	if name := c.hostname(); name != "" {
		mods = append(mods, dhcpv4.WithOption(dhcpv4.OptHostName(name)))
	}
	if c.settings.RapidCommit {
		// Option 80, Rapid Commit (RFC 4039): zero-length presence flag.
		mods = append(mods, dhcpv4.WithOption(dhcpv4.OptGeneric(dhcpv4.GenericOptionCode(80), nil)))
	}
	return mods
}

func (c *Client) hwAddr() net.HardwareAddr {
	return net.HardwareAddr(c.settings.Iface.MAC())
}

func (c *Client) hostname() string {
	name := c.settings.Hostname
	if name == "" {
		name = c.settings.Iface.Hostname()
	}
	if len(name) > MaxHostnameLen {
		name = name[:MaxHostnameLen]
	}
	return name
}

// parseIncoming validates the fixed BOOTP header fields common to every
// reply, mirroring the checks shared by dhcpParseOffer and dhcpParseAckNak:
// op, htype/hlen, xid and chaddr must match the outstanding request, and the
// magic cookie must be present (FromBytes already enforces the cookie).
func (c *Client) parseIncoming(payload []byte) (*dhcpv4.DHCPv4, error) {
	msg, err := dhcpv4.FromBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed DHCPv4 message: %w", err)
	}
	if msg.OpCode != dhcpv4.OpcodeBootReply {
		return nil, fmt.Errorf("not a BOOTREPLY")
	}
	if msg.HWType != iana.HWTypeEthernet {
		return nil, fmt.Errorf("hardware type mismatch")
	}
	if msg.TransactionID != c.transactionID {
		return nil, fmt.Errorf("transaction ID mismatch")
	}
	if !hwAddrEqual(msg.ClientHWAddr, c.hwAddr()) {
		return nil, fmt.Errorf("client hardware address mismatch")
	}
	return msg, nil
}

func hwAddrEqual(a, b net.HardwareAddr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
