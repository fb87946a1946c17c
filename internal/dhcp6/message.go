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
	"bytes"
	"fmt"
	"net"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/insomniacslk/dhcp/iana"
)

// optionPreference is RFC 3315's Preference option code (7); the library
// does not expose a named constant or typed accessor for it, so the single
// payload byte is read through the generic Option returned by GetOneOption.
const optionPreference = dhcpv6.OptionCode(7)

// requestedOptionCodes is the fixed Option Request Option payload sent with
// every client-initiated exchange, per dhcpv6OptionList.
var requestedOptionCodes = []dhcpv6.OptionCode{
	dhcpv6.OptionDNSRecursiveNameServer,
	dhcpv6.OptionDomainSearchList,
	dhcpv6.OptionFQDN,
}

// emptyIANA builds the IA_NA option a Request or Solicit uses to ask for an
// address, with no nested IA Address sub-option.
func emptyIANA(iaid [4]byte) *dhcpv6.OptIANA {
	return &dhcpv6.OptIANA{IaId: iaid}
}

// iaNAWithAddress builds the IA_NA option Confirm/Renew/Rebind/Decline use to
// present the client's current address, mirroring the nested IA Address
// sub-option built by dhcpv6SendRenew et al.
func iaNAWithAddress(iaid [4]byte, addr net.IP, preferred, valid uint32) *dhcpv6.OptIANA {
	return &dhcpv6.OptIANA{
		IaId: iaid,
		Options: dhcpv6.IdentityOptions{
			Options: []dhcpv6.Option{
				&dhcpv6.OptIAAddress{
					IPv6Addr:          addr,
					PreferredLifetime: secondsToDuration(preferred),
					ValidLifetime:     secondsToDuration(valid),
				},
			},
		},
	}
}

// buildSolicit assembles a Solicit, mirroring dhcpv6SendSolicit: broadcast to
// the All_DHCP_Relay_Agents_and_Servers group, client ID, an empty IA_NA and
// the fixed requested-option list.
func (c *Client) buildSolicit() (*dhcpv6.Message, error) {
	mods := []dhcpv6.Modifier{
		dhcpv6.WithClientID(c.clientID),
		dhcpv6.WithRequestedOptions(requestedOptionCodes...),
	}
	msg, err := dhcpv6.NewSolicit(c.settings.Iface.MAC(), mods...)
	if err != nil {
		return nil, err
	}
	msg.AddOption(emptyIANA(c.iaid))
	return msg, nil
}

// buildRequest assembles a Request from the chosen Advertise, mirroring
// dhcpv6SendRequest: Client-Id and Server-Id are copied from the Advertise by
// NewRequestFromAdvertise, to which the client's own IA_NA is added.
func (c *Client) buildRequest(advertise *dhcpv6.Message) (*dhcpv6.Message, error) {
	msg, err := dhcpv6.NewRequestFromAdvertise(advertise)
	if err != nil {
		return nil, err
	}
	msg.AddOption(emptyIANA(c.iaid))
	return msg, nil
}

// elapsedTimeOption reports the time since exchangeStartTime as the
// Elapsed-Time option (RFC 3315 §22.9, hundredths of a second), carried on
// every hand-built client message alongside the ones the library's own
// NewSolicit/NewRequestFromAdvertise constructors already attach.
func (c *Client) elapsedTimeOption() dhcpv6.Option {
	elapsedMs := uint32(c.settings.Clock.Now()) - uint32(c.exchangeStartTime)
	return dhcpv6.OptElapsedTime(time.Duration(elapsedMs) * time.Millisecond)
}

// buildConfirm assembles a Confirm, mirroring dhcpv6SendConfirm: multicast,
// no Server-Id, IA_NA carrying the address being confirmed.
func (c *Client) buildConfirm() (*dhcpv6.Message, error) {
	msg, err := dhcpv6.NewMessage()
	if err != nil {
		return nil, err
	}
	msg.MessageType = dhcpv6.MessageTypeConfirm
	msg.AddOption(dhcpv6.OptClientID(c.clientID))
	msg.AddOption(c.elapsedTimeOption())
	msg.AddOption(iaNAWithAddress(c.iaid, addrToIP(c.leaseAddr), c.preferredLifetime, c.validLifetime))
	return msg, nil
}

// buildRenew assembles a Renew, mirroring dhcpv6SendRenew: unicast to the
// recorded server, Server-Id included, IA_NA carries the address being
// extended.
func (c *Client) buildRenew() (*dhcpv6.Message, error) {
	msg, err := dhcpv6.NewMessage()
	if err != nil {
		return nil, err
	}
	msg.MessageType = dhcpv6.MessageTypeRenew
	msg.AddOption(dhcpv6.OptClientID(c.clientID))
	msg.AddOption(dhcpv6.OptServerID(c.serverID))
	msg.AddOption(c.elapsedTimeOption())
	msg.AddOption(iaNAWithAddress(c.iaid, addrToIP(c.leaseAddr), c.preferredLifetime, c.validLifetime))
	return msg, nil
}

// buildRebind assembles a Rebind, mirroring dhcpv6SendRebind: multicast, no
// Server-Id since the original server may be unreachable.
func (c *Client) buildRebind() (*dhcpv6.Message, error) {
	msg, err := dhcpv6.NewMessage()
	if err != nil {
		return nil, err
	}
	msg.MessageType = dhcpv6.MessageTypeRebind
	msg.AddOption(dhcpv6.OptClientID(c.clientID))
	msg.AddOption(c.elapsedTimeOption())
	msg.AddOption(iaNAWithAddress(c.iaid, addrToIP(c.leaseAddr), c.preferredLifetime, c.validLifetime))
	return msg, nil
}

// buildDecline assembles a Decline for a duplicate address reported by the
// NDP collaborator, mirroring dhcpv6SendDecline.
func (c *Client) buildDecline() (*dhcpv6.Message, error) {
	msg, err := dhcpv6.NewMessage()
	if err != nil {
		return nil, err
	}
	msg.MessageType = dhcpv6.MessageTypeDecline
	msg.AddOption(dhcpv6.OptClientID(c.clientID))
	msg.AddOption(dhcpv6.OptServerID(c.serverID))
	msg.AddOption(c.elapsedTimeOption())
	msg.AddOption(iaNAWithAddress(c.iaid, addrToIP(c.leaseAddr), 0, 0))
	return msg, nil
}

// parseIncoming validates the fields common to Advertise and Reply, mirroring
// the shared checks in dhcpv6ParseAdvertise/dhcpv6ParseReply: the message
// must parse, carry the outstanding transaction ID, and echo our Client-Id.
func (c *Client) parseIncoming(payload []byte) (*dhcpv6.Message, error) {
	parsed, err := dhcpv6.FromBytes(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed DHCPv6 message: %w", err)
	}
	msg, ok := parsed.(*dhcpv6.Message)
	if !ok {
		return nil, fmt.Errorf("not a plain DHCPv6 message")
	}
	if c.sentMessage == nil || msg.TransactionID != c.sentMessage.TransactionID {
		return nil, fmt.Errorf("transaction ID mismatch")
	}
	cid := msg.Options.ClientID()
	if cid == nil || !bytes.Equal(cid.ToBytes(), c.clientID.ToBytes()) {
		return nil, fmt.Errorf("client ID mismatch")
	}
	return msg, nil
}

// advertisePreference reads the single-byte Preference option payload (RFC
// 3315 §22.8); absence means preference 0.
func advertisePreference(msg *dhcpv6.Message) int {
	opt := msg.GetOneOption(optionPreference)
	if opt == nil {
		return 0
	}
	b := opt.ToBytes()
	if len(b) < 1 {
		return 0
	}
	return int(b[0])
}

// advertiseRefusesService reports whether an Advertise carries a Status Code
// option other than Success, mirroring the NoAddrsAvail rejection check.
func advertiseRefusesService(msg *dhcpv6.Message) bool {
	opt := msg.GetOneOption(dhcpv6.OptionStatusCode)
	if opt == nil {
		return false
	}
	sc, ok := opt.(*dhcpv6.OptStatusCode)
	if !ok {
		return false
	}
	return sc.StatusCode != iana.StatusSuccess
}

// hasRapidCommit reports whether msg carries a Rapid Commit option.
func hasRapidCommit(msg *dhcpv6.Message) bool {
	return msg.GetOneOption(dhcpv6.OptionRapidCommit) != nil
}

// parseIANA extracts IAID/T1/T2/address from the first IA_NA option,
// mirroring dhcpv6ParseIaNaOption: T1 > T2 > 0 is rejected, as is a nested IA
// Address with preferred > valid; an omitted T1/T2 pair is derived from the
// preferred lifetime.
func parseIANA(msg *dhcpv6.Message) (iaid [4]byte, t1, t2 uint32, addr net.IP, preferred, valid uint32, err error) {
	oia := msg.Options.OneIANA()
	if oia == nil {
		err = fmt.Errorf("no IA_NA option present")
		return
	}
	iaid = oia.IaId
	t1 = durationToSeconds(oia.T1)
	t2 = durationToSeconds(oia.T2)
	if t1 > t2 && t2 > 0 {
		err = fmt.Errorf("invalid IA_NA: T1 > T2")
		return
	}

	ia := oia.Options.OneAddress()
	if ia == nil {
		err = fmt.Errorf("IA_NA carries no IA Address option")
		return
	}
	preferred = durationToSeconds(ia.PreferredLifetime)
	valid = durationToSeconds(ia.ValidLifetime)
	if preferred > valid {
		err = fmt.Errorf("invalid IA Address: preferred lifetime > valid lifetime")
		return
	}
	addr = ia.IPv6Addr

	if t1 == 0 && t2 == 0 {
		t1 = preferred / 2
		t2 = t1 + t1/2
	}
	return
}
