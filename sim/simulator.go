// Copyright (c) 2024 RethinkDNS and its authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package sim implements the DNS traffic simulator/replay engine: the
// outbound request/query lifecycle core — sockets, timers, per-request
// state, per-client counters, and periodic statistics rotation,
// multiplexing many concurrent UDP exchanges without blocking the
// caller.
package sim

import (
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/celzero/dnssim/internal/log"
)

const defaultEventBuffer = 4096

// eventKind tags the three asynchronous completions the dispatch loop
// reacts to: a datagram arriving, a query's socket finishing its close,
// and a request's timeout timer firing. See spec.md §5's "suspension
// points" and §4.3–§4.7.
type eventKind int

const (
	evRecv eventKind = iota
	evQueryClosed
	evTimeout
)

type event struct {
	kind eventKind
	q    *query
	req  *request
	data []byte
}

// Simulator is spec.md §3's top-level Simulator: owns the target address,
// the source pool, the client table, the stats chain, and every live
// Request/Query. All mutation happens in whichever goroutine calls
// Receiver()'s callback and RunNowait — callers must serialize those two
// the same way the original serializes all reactor callbacks onto one
// thread (spec.md §5).
type Simulator struct {
	mu sync.Mutex // guards configuration fields only (target, transport, timeout, listener, free_after_use); the pool has its own lock

	id     string
	target netip.AddrPort

	transportKind Transport
	createFn      createRequestFn

	pool    *sourcePool
	clients *clientTable
	stats   *statsRing

	listener     Listener
	timeout      time.Duration
	freeAfterUse bool

	processed atomic.Uint64
	discarded atomic.Uint64
	ongoing   atomic.Int64

	events    chan event
	requests  map[*request]struct{}
	nextReqID atomic.Uint64
}

var (
	errZeroCapacity  = errors.New("max_clients must be >= 1")
	errAlreadyTarget = errors.New("target already set")
	errBadTimeout    = errors.New("timeout_ms must be >= 1")
	errBadInterval   = errors.New("interval_ms must be >= 1")
)

// New allocates a Simulator with a client table of capacity maxClients,
// spec.md §6's new(max_clients). Default transport is UDPOnly,
// free_after_use is true, and timeout is 2s until configured otherwise.
func New(maxClients uint32) (*Simulator, error) {
	if maxClients < 1 {
		return nil, newConfigError("new", errZeroCapacity)
	}
	s := &Simulator{
		id:           uuid.NewString(),
		clients:      newClientTable(maxClients),
		stats:        newStatsRing(),
		pool:         &sourcePool{},
		listener:     noopListener{},
		timeout:      2 * time.Second,
		freeAfterUse: true,
		events:       make(chan event, defaultEventBuffer),
		requests:     make(map[*request]struct{}),
	}
	s.createFn = createRequestUDP // UDPOnly is the default and only implemented transport
	log.I("sim[%s]: new simulator, max_clients=%d", s.id, maxClients)
	return s, nil
}

// Target sets the resolver address queries are sent to. Only IPv6 is
// implemented; spec.md §6 reserves IPv4 for a future transport.
func (s *Simulator) Target(ip netip.Addr, port uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.target.IsValid() {
		return newConfigError("target", errAlreadyTarget)
	}
	if !ip.Is6() {
		return newConfigError("target", errors.New("only ipv6 targets are implemented"))
	}
	if port == 0 {
		return newConfigError("target", errors.New("port must be 1-65535"))
	}
	s.target = netip.AddrPortFrom(ip, port)
	return nil
}

// Bind appends a source address to the round-robin source pool
// (spec.md §6 bind(ip)).
func (s *Simulator) Bind(ip netip.Addr) error {
	if !ip.Is6() {
		return newConfigError("bind", errors.New("only ipv6 source binds are implemented"))
	}
	s.pool.bind(ip)
	return nil
}

// SetTimeout configures the per-request timeout. Not part of the original
// operation table but necessary to exercise spec.md §3's timeout_ms field
// from outside the package, since New only has a default.
func (s *Simulator) SetTimeout(d time.Duration) error {
	if d <= 0 {
		return newConfigError("set_timeout", errBadTimeout)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
	return nil
}

// SetListener installs a Listener to receive a Summary per completed
// Request. Pass nil to stop reporting.
func (s *Simulator) SetListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l == nil {
		l = noopListener{}
	}
	s.listener = l
}

// SetFreeAfterUse toggles whether a Request drops its payload and parsed
// message references when it is released. Ingest keeps no reference to
// the chain objects other than the Payload bytes whatever this is set to.
func (s *Simulator) SetFreeAfterUse(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freeAfterUse = v
}

// StatCollect starts the periodic statistics rotation timer (spec.md §4.8,
// §6 stat_collect). Logs processed/answered/discarded/ongoing on every tick.
func (s *Simulator) StatCollect(interval time.Duration) error {
	if interval <= 0 {
		return newConfigError("stat_collect", errBadInterval)
	}
	s.stats.collect(interval, func() {
		log.I("sim[%s]: processed=%d answered=%d discarded=%d ongoing=%d",
			s.id, s.processed.Load(), s.stats.snapshot().answered, s.discarded.Load(), s.Ongoing())
	})
	return nil
}

// StatFinish stops the rotation timer (spec.md §4.8 stat_finish). The
// chain is left intact for post-run analysis.
func (s *Simulator) StatFinish() {
	s.stats.finish()
}

// Ongoing returns the number of live UDP handles across all requests
// (spec.md §3, §8 invariant 2).
func (s *Simulator) Ongoing() int64 {
	return s.ongoing.Load()
}

// Processed, Discarded return the lifetime ingest counters (spec.md §3).
func (s *Simulator) Processed() uint64 { return s.processed.Load() }
func (s *Simulator) Discarded() uint64 { return s.discarded.Load() }

// StatsSummary returns the cumulative total/answered/noerror counters
// (spec.md §3's sum record).
func (s *Simulator) StatsSummary() (total, answered, noerror uint64) {
	r := s.stats.snapshot()
	return r.total, r.answered, r.noerror
}

// StatsChainLen reports the number of records in the rotation chain
// (spec.md §8 invariant 8).
func (s *Simulator) StatsChainLen() int {
	return s.stats.chainLen()
}

// ClientCounters returns a snapshot of the per-client counters at index.
func (s *Simulator) ClientCounters(index uint32) (ClientCounters, bool) {
	return s.clients.snapshot(index)
}

// ClientSums returns Σ req_total and Σ req_answered across every client
// (spec.md §8 invariants 4/5).
func (s *Simulator) ClientSums() (total, answered uint64) {
	return s.clients.sums()
}

// SourcePoolLen reports the configured source pool's cycle length
// (spec.md §8 invariant 7).
func (s *Simulator) SourcePoolLen() int {
	return s.pool.len()
}

func (s *Simulator) trackRequest(r *request) {
	s.requests[r] = struct{}{}
}

func (s *Simulator) untrackRequest(r *request) {
	delete(s.requests, r)
}

// dispatchCreate invokes the transport-specific request-creation strategy
// selected by SetTransport (spec.md §4.9's function-pointer dispatch).
func (s *Simulator) dispatchCreate(client uint32, payload []byte) {
	s.createFn(s, client, payload)
}

// RunNowait implements spec.md §6's run_nowait(): drains every event
// currently buffered (a non-blocking reactor iteration) and returns the
// number of active handles afterward. Must be called from the same
// goroutine as Receiver()'s callback.
func (s *Simulator) RunNowait() int64 {
	for {
		select {
		case ev := <-s.events:
			s.handleEvent(ev)
		default:
			return s.Ongoing()
		}
	}
}

func (s *Simulator) handleEvent(ev event) {
	switch ev.kind {
	case evRecv:
		s.processUDPResponse(ev.q, ev.data)
	case evQueryClosed:
		ev.q.req.onQueryClosed(ev.q)
	case evTimeout:
		ev.req.onTimeout()
	}
}

// processUDPResponse implements spec.md §4.4's validation pipeline, in
// order: parse, id match, truncation, then count and close.
func (s *Simulator) processUDPResponse(q *query, data []byte) {
	req := q.req

	reply, err := parseDNS(data)
	if err != nil {
		log.D("response: request %d: malformed reply: %v", req.id, err)
		return // MALFORMED: drop, request stays open
	}

	if reply.id() != req.msg.id() {
		log.D("response: id mismatch for request %d: got %d want %d", req.id, reply.id(), req.msg.id())
		return // MSGID: drop
	}

	if reply.truncated() {
		log.D("response: truncated reply for request %d (tcp fallback not implemented)", req.id)
		return // TC: drop
	}

	noerror := reply.noerror()
	s.clients.incAnswered(req.client, noerror)
	s.stats.addAnswered(noerror)

	req.answered = true
	req.status = StatusOK
	req.msg = reply // keep the reply's rcode/qname for the completion Summary

	req.closeRequest()
}

// Free stops the stats rotation timer and every in-flight request timer,
// closes every open query socket, and forgets all tracked requests —
// spec.md §6's free(self). The stats chain, source pool and client table
// are left to the garbage collector. This is not graceful: it
// does not wait for Ongoing() to reach zero first; a well-behaved caller
// drains RunNowait until Ongoing() == 0 before calling Free.
func (s *Simulator) Free() {
	s.StatFinish()
	for r := range s.requests {
		if r.timer != nil {
			r.timer.Stop()
		}
		for _, q := range r.queries {
			q.closeQueryUDP()
		}
	}
	s.requests = make(map[*request]struct{})
	log.I("sim[%s]: freed", s.id)
}

func (s *Simulator) String() string {
	return fmt.Sprintf("sim[%s] target=%s transport=%s", s.id, s.target, s.transportKind)
}
