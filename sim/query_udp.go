// Copyright (c) 2024 RethinkDNS and its authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sim

import (
	"net"

	"github.com/celzero/dnssim/internal/log"
	"github.com/celzero/dnssim/internal/protect"
)

// query is the UDP variant of spec.md §3's Query object: per-socket state
// bound to one parent request. Grounded on the read-loop/tracker shape of
// firestack's intra/udp.go fetchUDPInput, simplified because a dnssim
// query owns exactly one already-connected socket instead of a NAT table.
type query struct {
	req       *request
	conn      net.Conn
	transport Transport
	closed    bool // guards double Close(), analogous to the original's defensive re-close handling
}

const udpRecvBufSize = 4096

// createRequestUDP implements spec.md §4.2. It is installed as the
// active createRequestFn when the simulator is configured for UDPOnly.
func createRequestUDP(s *Simulator, client uint32, payload []byte) {
	msg, err := parseQueryHeader(payload)
	if err != nil {
		s.discarded.Add(1)
		log.W("request: client %d: malformed query: %v", client, err)
		return
	}

	req := newRequest(s, client, payload, msg)

	s.clients.incTotal(client)
	s.stats.addTotal()

	if err := createQueryUDP(req); err != nil {
		s.discarded.Add(1)
		log.W("request: udp query creation failed for client %d: %v", client, err)
		if qerr, ok := err.(*QueryError); ok {
			req.status = qerr.Status()
		}
		req.closeRequest() // unwind: query list is empty, timer not yet started
		return
	}

	req.armTimeout(s.timeout)
	s.trackRequest(req)
}

// createQueryUDP implements spec.md §4.3.
func createQueryUDP(req *request) error {
	s := req.sim

	dialer := s.dialerForNextSource()
	conn, err := dialer.Dial("udp", s.target.String())
	if err != nil {
		return &QueryError{status: StatusTransportError, err: err}
	}

	if la, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		log.D("query: bound ephemeral source port %d for client %d", la.Port, req.client)
	}

	q := &query{req: req, conn: conn, transport: UDPOnly}

	if _, err := conn.Write(req.payload); err != nil {
		conn.Close()
		return &QueryError{status: StatusSendFailed, err: err}
	}

	req.addQuery(q)
	s.ongoing.Add(1)

	go q.readLoop(s.events)

	return nil
}

// dialerForNextSource binds the next source-pool entry (round robin), or
// returns a plain dialer if no pool is configured (spec.md §4.3).
func (s *Simulator) dialerForNextSource() *net.Dialer {
	if s.pool.empty() {
		return &net.Dialer{}
	}
	addr, ok := s.pool.next()
	if !ok {
		return &net.Dialer{}
	}
	return protect.DialerFor(addr)
}

// readLoop stands in for the reactor's recv_alloc/recv callback pair
// (spec.md §4.4): each successful read posts one evRecv; when the
// connection is closed (by us, via closeQueryUDP, or by a network error)
// Read returns an error and the loop posts evQueryClosed and exits. This
// is the asynchronous "handle close completes on its own callback" half
// of the teardown, translated into a goroutine-exit acknowledgment.
func (q *query) readLoop(events chan<- event) {
	buf := make([]byte, udpRecvBufSize)
	for {
		n, err := q.conn.Read(buf)
		if err != nil {
			events <- event{kind: evQueryClosed, q: q}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		events <- event{kind: evRecv, q: q, data: data}
	}
}

// closeQueryUDP implements spec.md §4.6's close_query_udp: stops the
// socket. The matching close_query_udp_cb work (unlink from the
// request's query list, release, decrement ongoing, maybe_free_request)
// happens when the evQueryClosed event this produces is processed by the
// dispatch loop, since that is where Read() actually observes the error
// and the goroutine exits.
func (q *query) closeQueryUDP() {
	if q.closed {
		return
	}
	q.closed = true
	q.conn.Close()
}

func parseQueryHeader(payload []byte) (dnsMsg, error) {
	return parseDNS(payload)
}
