// Copyright (c) 2024 RethinkDNS and its authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sim

import "time"

// Summary reports the outcome of one Request, mirroring firestack's
// dnsx.Summary — a flat record handed to an optional Listener once a
// request reaches its terminal state.
type Summary struct {
	Client   uint32        // client table index
	QName    string        // query name, if the payload parsed
	Latency  time.Duration // time from request creation to terminal close
	Status   Status        // StatusOK on a NOERROR/other-rcode answer
	RCode    int           // response rcode, valid only when Status == StatusOK
	Answered bool          // true iff a reply updated the answered counters
}

// Listener receives a Summary for every Request that reaches its terminal
// state (answered, timed out, or torn down on transport error). It is
// optional; the embedding/scripting surface (spec.md §6) uses it to drive
// external reporting without polling StatsSummary().
type Listener interface {
	OnComplete(*Summary)
}

// noopListener discards every Summary; used when the caller configures none.
type noopListener struct{}

func (noopListener) OnComplete(*Summary) {}
