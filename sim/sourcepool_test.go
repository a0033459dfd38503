// Copyright (c) 2024 RethinkDNS and its authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sim

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSourcePoolEmpty(t *testing.T) {
	p := &sourcePool{}
	require.True(t, p.empty())
	require.Equal(t, 0, p.len())
	_, ok := p.next()
	require.False(t, ok)
}

// TestSourcePoolRotation covers invariant 7 (single cycle of length N) and
// end-to-end scenario 4 (bind A, B, C; five draws yield A, B, C, A, B).
func TestSourcePoolRotation(t *testing.T) {
	a := netip.MustParseAddr("::1")
	b := netip.MustParseAddr("::2")
	c := netip.MustParseAddr("::3")

	p := &sourcePool{}
	p.bind(a)
	p.bind(b)
	p.bind(c)
	require.Equal(t, 3, p.len())
	require.False(t, p.empty())

	want := []netip.Addr{a, b, c, a, b}
	for i, w := range want {
		got, ok := p.next()
		require.True(t, ok)
		require.Equalf(t, w, got, "draw %d", i)
	}
	require.Equal(t, 3, p.len(), "binding more addresses never happens mid-cycle, so length is stable")
}

// TestSourcePoolArbitrarySequenceStaysSingleCycle exercises invariant 7
// under an arbitrary number of draws: the pool never grows or shrinks and
// the draw order always repeats with period N.
func TestSourcePoolArbitrarySequenceStaysSingleCycle(t *testing.T) {
	addrs := []netip.Addr{
		netip.MustParseAddr("::1"),
		netip.MustParseAddr("::2"),
		netip.MustParseAddr("::3"),
		netip.MustParseAddr("::4"),
	}
	p := &sourcePool{}
	for _, a := range addrs {
		p.bind(a)
	}

	for i := 0; i < 37; i++ {
		got, ok := p.next()
		require.True(t, ok)
		require.Equal(t, addrs[i%len(addrs)], got)
		require.Equal(t, len(addrs), p.len())
	}
}
