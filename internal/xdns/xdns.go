// Copyright (c) 2024 RethinkDNS and its authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package xdns is a thin indirection layer over github.com/miekg/dns,
// exposing only the header fields the simulator needs: message id,
// truncation bit, and response code.
package xdns

import "github.com/miekg/dns"

// MinMsgSize is the smallest byte count that can conceivably hold a DNS
// header; anything shorter is rejected before attempting to unpack.
const MinMsgSize = 12

// Parse unpacks payload into a *dns.Msg, or returns an error if payload is
// too short or otherwise malformed.
func Parse(payload []byte) (*dns.Msg, error) {
	if len(payload) < MinMsgSize {
		return nil, errShort
	}
	msg := &dns.Msg{}
	if err := msg.Unpack(payload); err != nil {
		return nil, err
	}
	return msg, nil
}

var errShort = shortErr("xdns: payload shorter than a dns header")

type shortErr string

func (e shortErr) Error() string { return string(e) }

// ID returns the 16-bit DNS transaction id.
func ID(msg *dns.Msg) uint16 {
	return msg.Id
}

// Truncated reports the TC bit.
func Truncated(msg *dns.Msg) bool {
	return msg.Truncated
}

// Rcode returns the response code (RCODE field).
func Rcode(msg *dns.Msg) int {
	return msg.MsgHdr.Rcode
}

// NoError is the NOERROR rcode, dns.RcodeSuccess.
const NoError = dns.RcodeSuccess
