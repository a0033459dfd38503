// Copyright (c) 2024 RethinkDNS and its authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Command dnssim replays a pcap capture of DNS-over-UDP traffic against a
// configured resolver, using package sim as the query/reply engine. It is
// a minimal concrete instance of the "scripting/embedding surface" that
// spec.md §1 treats as out of scope for the core engine.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/celzero/dnssim/internal/log"
	"github.com/celzero/dnssim/sim"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.E("dnssim: %v", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("dnssim", flag.ExitOnError)
	target := fs.String("target", "", "resolver address, ip:port (ipv6 only)")
	binds := fs.String("bind", "", "comma-separated source addresses to round-robin (ipv6 only)")
	statsInterval := fs.Duration("stats-interval", 5*time.Second, "statistics rotation interval")
	timeout := fs.Duration("timeout", 2*time.Second, "per-request timeout")
	maxClients := fs.Uint("max-clients", 1024, "client table capacity")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: dnssim [flags] <pcap-file>")
	}
	if *verbose {
		log.SetLevel(log.Debug)
	}

	s, err := sim.New(uint32(*maxClients))
	if err != nil {
		return err
	}
	if err := configure(s, *target, *binds, *timeout); err != nil {
		return err
	}
	if err := s.StatCollect(*statsInterval); err != nil {
		return err
	}
	defer s.Free()

	return replay(s, fs.Arg(0))
}

func configure(s *sim.Simulator, target, binds string, timeout time.Duration) error {
	ap, err := netip.ParseAddrPort(target)
	if err != nil {
		return fmt.Errorf("target: %w", err)
	}
	if err := s.Target(ap.Addr(), ap.Port()); err != nil {
		return err
	}
	if err := s.SetTimeout(timeout); err != nil {
		return err
	}
	if err := s.SetTransport(sim.UDPOnly); err != nil {
		return err
	}
	for _, b := range strings.Split(binds, ",") {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		addr, err := netip.ParseAddr(b)
		if err != nil {
			return fmt.Errorf("bind %q: %w", b, err)
		}
		if err := s.Bind(addr); err != nil {
			return err
		}
	}
	return nil
}

// replay feeds every DNS-over-UDP record in the pcap file at path through
// the ingest pipeline, draining the event loop between packets and again
// after the capture is exhausted until every in-flight exchange settles.
func replay(s *sim.Simulator, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return err
	}
	receive := s.Receiver()

	for {
		data, _, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		pkt := gopacket.NewPacket(data, r.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		if _, hasDNS := pkt.Layer(layers.LayerTypeDNS).(*layers.DNS); !hasDNS {
			continue
		}

		record, ok := decodeRecord(pkt)
		if !ok {
			continue
		}
		receive(record)
		s.RunNowait()
	}

	for s.Ongoing() > 0 {
		s.RunNowait()
		time.Sleep(10 * time.Millisecond)
	}

	total, answered, noerror := s.StatsSummary()
	log.I("dnssim: done: processed=%d discarded=%d total=%d answered=%d noerror=%d",
		s.Processed(), s.Discarded(), total, answered, noerror)
	return nil
}
