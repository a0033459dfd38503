// Copyright (c) 2024 RethinkDNS and its authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sim

import (
	"net/netip"
	"sync"
)

// sourcePool is the round-robin set of local addresses queries bind to
// before connecting to the target. spec.md §3/§9 describes the original
// as a self-referential circular linked list (SourceNode); per the
// REDESIGN note in spec.md §9 this is instead a flat slice with an
// integer cursor advanced modulo length, which preserves the exact
// round-robin semantics without intrusive pointers.
type sourcePool struct {
	mu      sync.Mutex
	addrs   []netip.Addr
	cursor  int
}

// bind appends addr to the pool. Order of binds determines round-robin
// order (spec.md §8 scenario 4).
func (p *sourcePool) bind(addr netip.Addr) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addrs = append(p.addrs, addr)
}

// empty reports whether any source address has been configured. With no
// source pool, queries use the OS-selected source address (spec.md §4.3).
func (p *sourcePool) empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.addrs) == 0
}

// next returns the current source address and advances the cursor,
// mirroring "binds to current, advances pool pointer to current.next".
func (p *sourcePool) next() (netip.Addr, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.addrs) == 0 {
		return netip.Addr{}, false
	}
	addr := p.addrs[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.addrs)
	return addr, true
}

// len reports the size of the cycle (spec.md §8 invariant 7).
func (p *sourcePool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.addrs)
}
