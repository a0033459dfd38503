// Copyright (c) 2024 RethinkDNS and its authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package log is a small leveled logger wrapping log/slog, in the style of
// firestack's intra/log call sites: short single-letter helpers for the
// common case and formatted variants for everything else.
package log

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

// Level mirrors the verbosity levels used throughout dnssim call sites.
type Level int32

const (
	VVerbose Level = iota
	Verbose
	Debug
	Info
	Warn
	Error
)

var level atomic.Int32

var base = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

func init() {
	level.Store(int32(Info))
}

// SetLevel changes the minimum level emitted; calls below it are dropped.
func SetLevel(l Level) {
	level.Store(int32(l))
}

// LogLevel returns the current minimum level.
func LogLevel() Level {
	return Level(level.Load())
}

func enabled(l Level) bool {
	return int32(l) >= level.Load()
}

// VV logs at the most verbose level (per-packet tracing).
func VV(format string, args ...any) {
	if enabled(VVerbose) {
		base.Debug(sprintf(format, args...))
	}
}

// V logs at verbose level (per-query tracing).
func V(format string, args ...any) {
	if enabled(Verbose) {
		base.Debug(sprintf(format, args...))
	}
}

// D logs a debug line.
func D(format string, args ...any) {
	if enabled(Debug) {
		base.Debug(sprintf(format, args...))
	}
}

// I logs an info line.
func I(format string, args ...any) {
	if enabled(Info) {
		base.Info(sprintf(format, args...))
	}
}

// W logs a warning line.
func W(format string, args ...any) {
	if enabled(Warn) {
		base.Warn(sprintf(format, args...))
	}
}

// E logs an error line.
func E(format string, args ...any) {
	if enabled(Error) {
		base.Error(sprintf(format, args...))
	}
}

// Debugf, Infof, Warnf, Errorf are formatted aliases kept around because
// some call sites in the original codebase use the longer names.
func Debugf(format string, args ...any) { D(format, args...) }
func Infof(format string, args ...any)  { I(format, args...) }
func Warnf(format string, args ...any)  { W(format, args...) }
func Errorf(format string, args ...any) { E(format, args...) }

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
