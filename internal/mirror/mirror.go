// Copyright (c) 2024 RethinkDNS and its authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package mirror is a test-only in-process UDP DNS resolver used to drive
// the end-to-end scenarios of spec.md §8 without a real network. It is
// imported only from _test.go files.
package mirror

import (
	"net"
	"sync/atomic"

	"github.com/miekg/dns"
)

// Behavior controls how the mirror answers every query it receives.
type Behavior int

const (
	// Echo replies with a NOERROR answer carrying the query's own id.
	Echo Behavior = iota
	// FlipID replies with the id XORed by 0xFFFF, so it never matches.
	FlipID
	// Truncate replies with the TC bit set.
	Truncate
	// Silent never replies.
	Silent
)

// Resolver is the mirror's UDP listener.
type Resolver struct {
	conn     *net.UDPConn
	behavior atomic.Int32
	queries  atomic.Int64
	closed   atomic.Bool
}

// Listen starts a mirror resolver on an ephemeral IPv6 UDP port.
func Listen(behavior Behavior) (*Resolver, error) {
	conn, err := net.ListenUDP("udp6", &net.UDPAddr{IP: net.IPv6loopback, Port: 0})
	if err != nil {
		return nil, err
	}
	r := &Resolver{conn: conn}
	r.behavior.Store(int32(behavior))
	go r.serve()
	return r, nil
}

// Addr returns the listening address for use as a sim.Simulator target.
func (r *Resolver) Addr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// SetBehavior changes how subsequent queries are answered.
func (r *Resolver) SetBehavior(b Behavior) {
	r.behavior.Store(int32(b))
}

// Queries returns the number of queries received so far.
func (r *Resolver) Queries() int64 {
	return r.queries.Load()
}

// Close stops the resolver.
func (r *Resolver) Close() error {
	r.closed.Store(true)
	return r.conn.Close()
}

func (r *Resolver) serve() {
	buf := make([]byte, 4096)
	for {
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		r.queries.Add(1)

		behavior := Behavior(r.behavior.Load())
		if behavior == Silent {
			continue
		}

		q := &dns.Msg{}
		if err := q.Unpack(buf[:n]); err != nil {
			continue
		}

		resp := new(dns.Msg)
		resp.SetReply(q)
		resp.Rcode = dns.RcodeSuccess

		switch behavior {
		case FlipID:
			resp.Id = q.Id ^ 0xFFFF
		case Truncate:
			resp.Truncated = true
		}

		out, err := resp.Pack()
		if err != nil {
			continue
		}
		r.conn.WriteToUDP(out, addr)
	}
}
