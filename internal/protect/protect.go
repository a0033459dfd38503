// Copyright (c) 2024 RethinkDNS and its authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package protect builds dialers that bind an outgoing UDP socket to a
// specific local source address, the same purpose firestack's
// intra/protect package serves for egress sockets pinned to a chosen
// interface rather than the kernel's default route selection.
package protect

import (
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/celzero/dnssim/internal/log"
)

// DialerFor returns a *net.Dialer that binds to local with an ephemeral
// (port 0) local port before connecting to the target. This is how the
// source pool (sim.sourcePool) rotates the outgoing address of successive
// queries: net.Dialer.LocalAddr performs the actual bind, while Control
// sets SO_REUSEADDR so a burst of short-lived sockets sharing the same
// source IP never trips "address already in use" while a prior socket for
// that IP is still winding down.
func DialerFor(local netip.Addr) *net.Dialer {
	d := &net.Dialer{
		Control: reuseAddr,
	}
	if local.IsValid() {
		d.LocalAddr = &net.UDPAddr{IP: local.AsSlice(), Port: 0}
	}
	return d
}

func reuseAddr(network, address string, c syscall.RawConn) error {
	var ctlErr error
	err := c.Control(func(fd uintptr) {
		ctlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if ctlErr != nil {
		log.W("protect: setsockopt(SO_REUSEADDR) on %s/%s failed: %v", network, address, ctlErr)
		return ctlErr
	}
	return err
}
