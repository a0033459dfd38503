// Copyright (c) 2024 RethinkDNS and its authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sim

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	summaries []*Summary
}

func (l *recordingListener) OnComplete(s *Summary) {
	l.summaries = append(l.summaries, s)
}

func newTestSimulator(t *testing.T) *Simulator {
	t.Helper()
	s, err := New(4)
	require.NoError(t, err)
	return s
}

func newTestQuery(t *testing.T, req *request) *query {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { server.Close() })
	return &query{req: req, conn: client, transport: UDPOnly}
}

func testMsg() dnsMsg {
	return dnsMsg{msg: &dns.Msg{}}
}

// TestCloseRequestIsIdempotent covers the round-trip/idempotence property:
// calling close_request twice on the same Request is a no-op after the
// first completes.
func TestCloseRequestIsIdempotent(t *testing.T) {
	s := newTestSimulator(t)
	l := &recordingListener{}
	s.SetListener(l)

	req := newRequest(s, 0, []byte("payload"), testMsg())
	s.trackRequest(req)
	req.timerClosed = true // simulate the timer side already resolved

	req.closeRequest()
	require.Len(t, l.summaries, 1)

	req.closeRequest() // second call must not produce a second Summary
	require.Len(t, l.summaries, 1)
}

// TestMaybeFreeRequestWaitsForBothHalves covers the join-counter teardown:
// a request with an outstanding query does not release until the query
// side closes too, even after the timeout side resolves.
func TestMaybeFreeRequestWaitsForBothHalves(t *testing.T) {
	s := newTestSimulator(t)
	l := &recordingListener{}
	s.SetListener(l)

	req := newRequest(s, 0, []byte("payload"), testMsg())
	s.trackRequest(req)
	q := newTestQuery(t, req)
	req.addQuery(q)
	s.ongoing.Add(1)

	req.closeTimeoutSide()
	require.Empty(t, l.summaries, "must not release while a query is still outstanding")

	req.onQueryClosed(q)
	require.Len(t, l.summaries, 1)
	require.Equal(t, int64(0), s.ongoing.Load())
}

// TestOnQueryClosedToleratesUntrackedQuery covers the defensive "tolerate
// an already-unlinked query" behavior of close_query_udp_cb: a second
// close callback for a query no longer in the list does not panic and
// still re-checks the release predicate.
func TestOnQueryClosedToleratesUntrackedQuery(t *testing.T) {
	s := newTestSimulator(t)
	l := &recordingListener{}
	s.SetListener(l)

	req := newRequest(s, 0, []byte("payload"), testMsg())
	s.trackRequest(req)
	q := newTestQuery(t, req)
	req.addQuery(q)
	s.ongoing.Add(1)
	req.timerClosed = true

	req.onQueryClosed(q) // unlinks q, releases the request
	require.Len(t, l.summaries, 1)

	require.NotPanics(t, func() { req.onQueryClosed(q) })
}

// TestOnTimeoutIsIdempotent exercises the timer side's own idempotency
// guard directly, independent of closeRequest.
func TestOnTimeoutIsIdempotent(t *testing.T) {
	s := newTestSimulator(t)
	l := &recordingListener{}
	s.SetListener(l)

	req := newRequest(s, 0, []byte("payload"), testMsg())
	s.trackRequest(req)
	req.armTimeout(5 * time.Millisecond)

	req.onTimeout()
	require.Len(t, l.summaries, 1)

	req.onTimeout()
	require.Len(t, l.summaries, 1)
}
