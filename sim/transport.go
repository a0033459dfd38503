// Copyright (c) 2024 RethinkDNS and its authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sim

import "errors"

// Transport selects the wire transport used to issue outbound queries.
// Only UDPOnly is implemented; the others are reserved per spec.md §4.9
// and §1 Non-goals.
type Transport int

const (
	UDPOnly Transport = iota
	UDP
	TCP
	TLS
)

func (t Transport) String() string {
	switch t {
	case UDPOnly:
		return "udp-only"
	case UDP:
		return "udp"
	case TCP:
		return "tcp"
	case TLS:
		return "tls"
	default:
		return "unknown"
	}
}

var errTransportNotImplemented = errors.New("transport not implemented")

// createRequestFn is the transport-specific request-creation strategy,
// chosen once at SetTransport time — the Go equivalent of the original's
// function-pointer `create_request` field (spec.md §4.9).
type createRequestFn func(s *Simulator, client uint32, payload []byte)

// SetTransport selects the request-creation strategy. Only UDPOnly is
// implemented; any other value is a fatal configuration error and never
// occurs on the data path (spec.md §7). Idempotent (spec.md §8).
func (s *Simulator) SetTransport(t Transport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch t {
	case UDPOnly:
		s.transportKind = t
		s.createFn = createRequestUDP
		return nil
	case UDP, TCP, TLS:
		return newConfigError("set_transport", errTransportNotImplemented)
	default:
		return newConfigError("set_transport", errors.New("unknown transport"))
	}
}
