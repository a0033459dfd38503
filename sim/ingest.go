// Copyright (c) 2024 RethinkDNS and its authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sim

import "github.com/celzero/dnssim/internal/log"

// LayerType identifies one node of an ingress object chain (spec.md §6).
type LayerType int

const (
	LayerUnknown LayerType = iota
	LayerIP
	LayerIP6
	LayerPayload
	LayerDNS
)

// Layer is one node of the ingress object chain the external packet
// parser produces. Prev points toward the layer that encapsulates this
// one — e.g. a Payload layer's Prev chain eventually reaches the IP or
// IP6 layer that carried it — mirroring the `prev`-linked chain of
// spec.md §4.1/§6. cmd/dnssim builds this chain from gopacket-decoded
// packets through NewSyntheticRecord.
type Layer interface {
	Type() LayerType
	Prev() Layer
	// Bytes returns the raw payload bytes; valid only when Type() == LayerPayload.
	Bytes() []byte
	// Dst returns the destination address bytes; valid only when
	// Type() is LayerIP or LayerIP6.
	Dst() []byte
}

// Receiver returns the ingest callback (spec.md §6 receiver()), bound to
// this Simulator. Must be called from the same goroutine as RunNowait.
func (s *Simulator) Receiver() func(Layer) {
	return s.receive
}

// receive implements spec.md §4.1.
func (s *Simulator) receive(head Layer) {
	s.processed.Add(1)

	payload, ip, ok := walkChain(head)
	if !ok {
		s.discarded.Add(1)
		log.W("ingest: no payload/ip layer found in chain; discarding")
		return
	}

	dst := ip.Dst()
	index, ok := clientIndex(dst)
	if !ok {
		s.discarded.Add(1)
		log.W("ingest: ip layer dst shorter than 4 bytes; discarding")
		return
	}

	if index >= s.clients.cap() {
		s.discarded.Add(1)
		log.W("ingest: client index %d >= max_clients %d; discarding", index, s.clients.cap())
		return
	}

	s.dispatchCreate(index, payload)
}

// walkChain finds the first Payload layer, then continues past it to find
// an IP or IP6 layer, per spec.md §4.1 steps 2–3.
func walkChain(head Layer) (payload []byte, ip Layer, ok bool) {
	var payloadLayer Layer
	for l := head; l != nil; l = l.Prev() {
		if l.Type() == LayerPayload {
			payloadLayer = l
			break
		}
	}
	if payloadLayer == nil {
		return nil, nil, false
	}
	for l := payloadLayer.Prev(); l != nil; l = l.Prev() {
		if l.Type() == LayerIP || l.Type() == LayerIP6 {
			return payloadLayer.Bytes(), l, true
		}
	}
	return nil, nil, false
}
