// Copyright (c) 2024 RethinkDNS and its authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sim

import (
	"encoding/binary"
	"sync"
)

// ClientCounters is the per-client tally, indexed by client index in a
// fixed-capacity table. Latency accumulators are reserved for extension,
// matching spec.md §3 ("three floating-point latency accumulators
// reserved for extension") — kept but never populated by this engine.
type ClientCounters struct {
	ReqTotal    uint64
	ReqAnswered uint64
	ReqNoError  uint64

	latencySum, latencyMin, latencyMax float64
}

// clientTable is the fixed-size array of ClientCounters described in
// spec.md §3/§4.1, indexed by the first 4 bytes of the destination address
// of the originating IP layer. Design Notes §9 flags the original's
// initialization loop as buggy (it writes the same slot every iteration);
// this table is simply zero-valued by make(), which is the behavior
// spec.md says to treat as correct.
type clientTable struct {
	mu   sync.Mutex
	rows []ClientCounters
}

func newClientTable(maxClients uint32) *clientTable {
	return &clientTable{rows: make([]ClientCounters, maxClients)}
}

func (t *clientTable) cap() uint32 {
	return uint32(len(t.rows))
}

// incTotal bumps req_total for index and returns whether index was valid.
func (t *clientTable) incTotal(index uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index >= uint32(len(t.rows)) {
		return false
	}
	t.rows[index].ReqTotal++
	return true
}

// incAnswered bumps req_answered (and req_noerror, if noerror) for index.
func (t *clientTable) incAnswered(index uint32, noerror bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index >= uint32(len(t.rows)) {
		return
	}
	t.rows[index].ReqAnswered++
	if noerror {
		t.rows[index].ReqNoError++
	}
}

// snapshot returns a copy of the counters for index, or the zero value
// plus false if index is out of range.
func (t *clientTable) snapshot(index uint32) (ClientCounters, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index >= uint32(len(t.rows)) {
		return ClientCounters{}, false
	}
	return t.rows[index], true
}

// sums returns Σ rows[i].ReqTotal and Σ rows[i].ReqAnswered, used by
// tests asserting spec.md §8 invariants 4 and 5.
func (t *clientTable) sums() (total, answered uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.rows {
		total += r.ReqTotal
		answered += r.ReqAnswered
	}
	return
}

// clientIndex extracts the client index from the first 4 bytes of dst, a
// raw copy interpreted as an unsigned 32-bit integer in the memory's host
// byte order, per spec.md §4.1 step 4. dst must have at least 4 bytes.
func clientIndex(dst []byte) (uint32, bool) {
	if len(dst) < 4 {
		return 0, false
	}
	return binary.NativeEndian.Uint32(dst[:4]), true
}
