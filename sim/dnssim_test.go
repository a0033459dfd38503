// Copyright (c) 2024 RethinkDNS and its authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package sim_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/celzero/dnssim/internal/mirror"
	"github.com/celzero/dnssim/sim"
)

// summaryListener collects every Summary handed to it, for assertions
// against spec.md §8's terminal-outcome and counter invariants.
type summaryListener struct {
	summaries []*sim.Summary
}

func (l *summaryListener) OnComplete(s *sim.Summary) {
	l.summaries = append(l.summaries, s)
}

func newQueryPayload(t *testing.T, id uint16, name string) []byte {
	t.Helper()
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeA)
	msg.Id = id
	out, err := msg.Pack()
	require.NoError(t, err)
	return out
}

func newSim(t *testing.T, targetPort int, timeout time.Duration) (*sim.Simulator, *summaryListener) {
	t.Helper()
	s, err := sim.New(16)
	require.NoError(t, err)
	require.NoError(t, s.Target(netip.MustParseAddr("::1"), uint16(targetPort)))
	require.NoError(t, s.SetTimeout(timeout))
	require.NoError(t, s.SetTransport(sim.UDPOnly))

	l := &summaryListener{}
	s.SetListener(l)
	t.Cleanup(s.Free)
	return s, l
}

func drainUntilIdle(t *testing.T, s *sim.Simulator, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for s.Ongoing() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for ongoing to reach zero, still %d", s.Ongoing())
		}
		s.RunNowait()
		time.Sleep(2 * time.Millisecond)
	}
}

// TestSingleSuccessfulExchange is end-to-end scenario 1.
func TestSingleSuccessfulExchange(t *testing.T) {
	m, err := mirror.Listen(mirror.Echo)
	require.NoError(t, err)
	defer m.Close()

	s, l := newSim(t, m.Addr().Port, 500*time.Millisecond)

	payload := newQueryPayload(t, 0x1234, "example.com")
	s.Receiver()(sim.NewSyntheticRecord([]byte{0, 0, 0, 0}, payload))

	drainUntilIdle(t, s, time.Second)

	require.Equal(t, uint64(1), s.Processed())
	require.Equal(t, uint64(0), s.Discarded())
	total, answered, noerror := s.StatsSummary()
	require.Equal(t, uint64(1), total)
	require.Equal(t, uint64(1), answered)
	require.Equal(t, uint64(1), noerror)
	require.Equal(t, int64(0), s.Ongoing())

	require.Len(t, l.summaries, 1)
	require.True(t, l.summaries[0].Answered)
	require.Equal(t, sim.StatusOK, l.summaries[0].Status)
}

// TestIDMismatchTimesOut is end-to-end scenario 2.
func TestIDMismatchTimesOut(t *testing.T) {
	m, err := mirror.Listen(mirror.FlipID)
	require.NoError(t, err)
	defer m.Close()

	s, l := newSim(t, m.Addr().Port, 150*time.Millisecond)

	payload := newQueryPayload(t, 0x4321, "example.com")
	s.Receiver()(sim.NewSyntheticRecord([]byte{0, 0, 0, 0}, payload))

	drainUntilIdle(t, s, time.Second)

	total, answered, _ := s.StatsSummary()
	require.Equal(t, uint64(1), total)
	require.Equal(t, uint64(0), answered)
	require.Len(t, l.summaries, 1)
	require.False(t, l.summaries[0].Answered)
	require.Equal(t, sim.StatusNoResponse, l.summaries[0].Status)
}

// TestTruncatedReplyTimesOut is end-to-end scenario 3: a TC=1 reply is
// dropped and counted toward neither answered nor noerror; the request
// stays open until timeout.
func TestTruncatedReplyTimesOut(t *testing.T) {
	m, err := mirror.Listen(mirror.Truncate)
	require.NoError(t, err)
	defer m.Close()

	s, l := newSim(t, m.Addr().Port, 150*time.Millisecond)

	payload := newQueryPayload(t, 0x1111, "example.com")
	s.Receiver()(sim.NewSyntheticRecord([]byte{0, 0, 0, 0}, payload))

	drainUntilIdle(t, s, time.Second)

	total, answered, noerror := s.StatsSummary()
	require.Equal(t, uint64(1), total)
	require.Equal(t, uint64(0), answered)
	require.Equal(t, uint64(0), noerror)
	require.Len(t, l.summaries, 1)
	require.False(t, l.summaries[0].Answered)
}

// TestChainWithoutIPLayerIsDiscarded is end-to-end scenario 5.
func TestChainWithoutIPLayerIsDiscarded(t *testing.T) {
	s, err := sim.New(16)
	require.NoError(t, err)
	require.NoError(t, s.Target(netip.MustParseAddr("::1"), 53))
	defer s.Free()

	payload := newQueryPayload(t, 0x2222, "example.com")

	// NewSyntheticRecord always attaches an IP6 layer beneath Payload; to
	// exercise "no IP layer in the chain" directly, use a bare Payload
	// layer with no ancestor at all.
	s.Receiver()(onlyPayloadLayer(payload))

	require.Equal(t, uint64(1), s.Processed())
	require.Equal(t, uint64(1), s.Discarded())
	require.Equal(t, int64(0), s.Ongoing())
}

// TestClientIndexBeyondMaxClientsIsDiscarded covers the boundary case:
// an input with client index >= max_clients is discarded with no
// counters changed.
func TestClientIndexBeyondMaxClientsIsDiscarded(t *testing.T) {
	s, err := sim.New(1)
	require.NoError(t, err)
	require.NoError(t, s.Target(netip.MustParseAddr("::1"), 53))
	defer s.Free()

	payload := newQueryPayload(t, 0x3333, "example.com")
	dst := []byte{1, 0, 0, 0} // little-endian 1, or big-endian 16777216 -- either way, >= max_clients(1)
	s.Receiver()(sim.NewSyntheticRecord(dst, payload))

	require.Equal(t, uint64(1), s.Processed())
	require.Equal(t, uint64(1), s.Discarded())
	total, answered, _ := s.StatsSummary()
	require.Zero(t, total)
	require.Zero(t, answered)
}

// TestMaxClientsOneDispatches covers the boundary case: max_clients=1,
// client index 0, every input dispatches.
func TestMaxClientsOneDispatches(t *testing.T) {
	m, err := mirror.Listen(mirror.Echo)
	require.NoError(t, err)
	defer m.Close()

	s, err := sim.New(1)
	require.NoError(t, err)
	require.NoError(t, s.Target(netip.MustParseAddr("::1"), uint16(m.Addr().Port)))
	require.NoError(t, s.SetTimeout(500*time.Millisecond))
	defer s.Free()

	payload := newQueryPayload(t, 0x5555, "example.com")
	s.Receiver()(sim.NewSyntheticRecord([]byte{0, 0, 0, 0}, payload))
	drainUntilIdle(t, s, time.Second)

	require.Equal(t, uint64(1), s.Processed())
	require.Equal(t, uint64(0), s.Discarded())
}

// TestMalformedPayloadIsDiscardedAtCreation covers the boundary case:
// payload shorter than 12 bytes (the DNS header minimum) is malformed and
// discarded at request creation, never reaching a socket.
func TestMalformedPayloadIsDiscardedAtCreation(t *testing.T) {
	s, err := sim.New(4)
	require.NoError(t, err)
	require.NoError(t, s.Target(netip.MustParseAddr("::1"), 53))
	defer s.Free()

	s.Receiver()(sim.NewSyntheticRecord([]byte{0, 0, 0, 0}, []byte{1, 2, 3}))

	require.Equal(t, uint64(1), s.Processed())
	require.Equal(t, uint64(1), s.Discarded())
	require.Equal(t, int64(0), s.Ongoing())
}

// TestSetTransportUDPOnlyIsIdempotent covers the round-trip/idempotence
// property for set_transport(UDP_ONLY).
func TestSetTransportUDPOnlyIsIdempotent(t *testing.T) {
	s, err := sim.New(4)
	require.NoError(t, err)
	defer s.Free()

	require.NoError(t, s.SetTransport(sim.UDPOnly))
	require.NoError(t, s.SetTransport(sim.UDPOnly))
	require.NoError(t, s.SetTransport(sim.UDPOnly))
}

// TestSetTransportUnimplementedIsConfigError covers the error-handling
// design: requesting TCP/TLS/UDP (non-UDPOnly) is a fatal ConfigError, not
// a silent no-op.
func TestSetTransportUnimplementedIsConfigError(t *testing.T) {
	s, err := sim.New(4)
	require.NoError(t, err)
	defer s.Free()

	err = s.SetTransport(sim.TCP)
	require.Error(t, err)
	var cfgErr *sim.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

// TestStatsRotationOverWallClock is end-to-end scenario 6: with
// interval=50ms, after 175ms the stats chain holds 4 records (initial +
// 3 rotations) and cumulative total across one query per tick equals 4.
func TestStatsRotationOverWallClock(t *testing.T) {
	m, err := mirror.Listen(mirror.Echo)
	require.NoError(t, err)
	defer m.Close()

	s, _ := newSim(t, m.Addr().Port, time.Second)
	require.NoError(t, s.StatCollect(50*time.Millisecond))
	defer s.StatFinish()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(175 * time.Millisecond)
	id := uint16(1)
	// one query at t=0, then one more on every tick
	s.Receiver()(sim.NewSyntheticRecord([]byte{0, 0, 0, 0}, newQueryPayload(t, id, "example.com")))
	id++
loop:
	for {
		select {
		case <-ticker.C:
			payload := newQueryPayload(t, id, "example.com")
			id++
			s.Receiver()(sim.NewSyntheticRecord([]byte{0, 0, 0, 0}, payload))
		case <-deadline:
			break loop
		default:
			s.RunNowait()
			time.Sleep(time.Millisecond)
		}
	}

	require.Equal(t, 4, s.StatsChainLen())
	total, _, _ := s.StatsSummary()
	require.Equal(t, uint64(4), total)
}

func onlyPayloadLayer(msg []byte) sim.Layer {
	return payloadOnlyLayer{data: msg}
}

type payloadOnlyLayer struct {
	data []byte
}

func (p payloadOnlyLayer) Type() sim.LayerType { return sim.LayerPayload }
func (p payloadOnlyLayer) Prev() sim.Layer     { return nil }
func (p payloadOnlyLayer) Bytes() []byte       { return p.data }
func (p payloadOnlyLayer) Dst() []byte         { return nil }
