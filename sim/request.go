// Copyright (c) 2024 RethinkDNS and its authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sim

import (
	"time"

	"github.com/celzero/dnssim/internal/log"
)

// request is spec.md §3's Request: per-input-record state headed by one
// parsed DNS query header, a list of in-flight queries, and one timeout
// timer. The query-list and timer are the two resources maybe_free_request
// waits on; outstandingQueries is the join counter Design Notes §9
// recommends in place of re-scanning a nullable list/pointer pair by hand.
type request struct {
	id       uint64
	client   uint32
	payload  []byte
	msg      dnsMsg
	sim      *Simulator
	listener Listener

	createdAt time.Time

	queries            []*query
	outstandingQueries int
	timer              *time.Timer
	timerClosed        bool
	timeoutClosing     bool // idempotency guard, spec.md §3 Request.timeout_closing

	closing  bool // true once closeRequest has run past its idempotency guard
	answered bool
	status   Status
}

func newRequest(s *Simulator, client uint32, payload []byte, msg dnsMsg) *request {
	return &request{
		id:        s.nextReqID.Add(1),
		client:    client,
		payload:   payload,
		msg:       msg,
		sim:       s,
		listener:  s.listener,
		createdAt: time.Now(),
		status:    StatusNoResponse,
	}
}

func (r *request) addQuery(q *query) {
	r.queries = append(r.queries, q)
	r.outstandingQueries++
}

// armTimeout starts the one-shot timeout timer (spec.md §4.2 step 5). The
// fired callback never touches request state directly — it only posts an
// evTimeout event — preserving the single-writer invariant of spec.md §5.
func (r *request) armTimeout(d time.Duration) {
	s := r.sim
	r.timer = time.AfterFunc(d, func() {
		s.events <- event{kind: evTimeout, req: r}
	})
}

// onTimeout implements spec.md §4.7: the timer's expiry callback, as
// processed by the dispatch loop. Idempotent via timeoutClosing.
func (r *request) onTimeout() {
	if r.timeoutClosing {
		return
	}
	r.timeoutClosing = true
	r.timer = nil
	r.timerClosed = true
	log.V("request %d: timed out waiting for client %d", r.id, r.client)
	r.closeRequest()
}

// closeRequest implements spec.md §4.5. Idempotent: a second call after
// the first has started is a no-op (spec.md §8).
func (r *request) closeRequest() {
	if r.closing {
		return
	}
	r.closing = true

	r.closeTimeoutSide()
	for _, q := range r.queries {
		q.closeQueryUDP()
	}

	r.maybeFreeRequest()
}

// closeTimeoutSide implements close_request_timeout's role within
// close_request (spec.md §4.5 step 1). time.Timer has no asynchronous
// close callback the way a reactor timer handle does — Stop() either
// cancels it outright or the timer has already fired (in which case
// onTimeout's timeoutClosing guard makes the in-flight callback a no-op)
// — so the "timer closed" half of the join is resolved synchronously here
// rather than waiting for a further event.
func (r *request) closeTimeoutSide() {
	if r.timeoutClosing {
		return
	}
	r.timeoutClosing = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.timerClosed = true
}

// onQueryClosed implements close_query_udp_cb (spec.md §4.6): unlinks q
// from the query list, decrements ongoing, and re-checks the completion
// predicate. Tolerates q not being found, a defensive posture against
// double-close per spec.md §4.6.
func (r *request) onQueryClosed(q *query) {
	r.sim.ongoing.Add(-1)

	found := false
	for i, cand := range r.queries {
		if cand == q {
			r.queries = append(r.queries[:i], r.queries[i+1:]...)
			found = true
			break
		}
	}
	if found {
		r.outstandingQueries--
	} else {
		log.D("request %d: close callback for untracked query (double-close?)", r.id)
	}

	r.maybeFreeRequest()
}

// maybeFreeRequest implements spec.md §4.5 step 3: releases the request
// iff both the query join counter has drained to zero and the timer is
// closed.
func (r *request) maybeFreeRequest() {
	if r.outstandingQueries != 0 || !r.timerClosed {
		return
	}

	if r.listener != nil {
		r.listener.OnComplete(&Summary{
			Client:   r.client,
			QName:    r.msg.qname(),
			Latency:  time.Since(r.createdAt),
			Status:   r.status,
			RCode:    r.msg.rcode(),
			Answered: r.answered,
		})
	}

	r.sim.untrackRequest(r)

	// spec.md §4.5 step 3: release the payload conditional on
	// free_after_use. Go's GC reclaims either way; the toggle only decides
	// whether the released request still holds its payload and parsed
	// message. The Summary above copies what it reports, so a Listener
	// sees the same values either way.
	if r.sim.freeAfterUse {
		r.payload = nil
		r.msg = dnsMsg{}
	}
}
