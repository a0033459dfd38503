// Copyright (c) 2024 RethinkDNS and its authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package main

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/celzero/dnssim/sim"
)

// decodeRecord extracts the destination address and UDP payload from one
// captured packet and builds the sim.Layer chain spec.md §4.1 walks.
// Packets without both an IPv6 network layer and a UDP transport layer
// are not DNS-over-UDP traffic and are skipped before ever reaching
// sim.Simulator.Receiver — only IPv6 targets are implemented (spec.md
// §1 Non-goals), so IPv4 captures are likewise skipped here rather than
// handed to the ingest pipeline to discard one record at a time.
func decodeRecord(pkt gopacket.Packet) (sim.Layer, bool) {
	ip6, ok := pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	if !ok || ip6 == nil {
		return nil, false
	}

	udp, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok || udp == nil || len(udp.Payload) == 0 {
		return nil, false
	}

	dst := append([]byte(nil), ip6.DstIP.To16()...)
	payload := append([]byte(nil), udp.Payload...)
	return sim.NewSyntheticRecord(dst, payload), true
}
