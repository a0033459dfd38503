// Copyright (c) 2024 RethinkDNS and its authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sim

import (
	"github.com/miekg/dns"

	"github.com/celzero/dnssim/internal/xdns"
)

// dnsMsg is the parsed DNS header spec.md §3 says every Request owns
// exactly one of. It is a thin wrapper so the rest of sim never imports
// github.com/miekg/dns directly, mirroring the xdns indirection the
// teacher uses.
type dnsMsg struct {
	msg *dns.Msg
}

func parseDNS(payload []byte) (dnsMsg, error) {
	m, err := xdns.Parse(payload)
	if err != nil {
		return dnsMsg{}, err
	}
	return dnsMsg{msg: m}, nil
}

func (m dnsMsg) id() uint16         { return xdns.ID(m.msg) }
func (m dnsMsg) truncated() bool    { return xdns.Truncated(m.msg) }
func (m dnsMsg) rcode() int         { return xdns.Rcode(m.msg) }
func (m dnsMsg) noerror() bool      { return xdns.Rcode(m.msg) == xdns.NoError }
func (m dnsMsg) qname() string {
	if len(m.msg.Question) == 0 {
		return ""
	}
	return m.msg.Question[0].Name
}
