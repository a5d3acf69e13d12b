// Copyright 2025-2026 the SeriSSH Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package endpoint abstracts the local side of a bridged console: a
// byte-stream device that a session pumps data into and out of.
//
// There are exactly two kinds of endpoint. NewPty allocates a fresh
// pseudo-terminal pair and hands back its master side; the slave path
// (Name) is what an operator or another program attaches to. NewSerial
// opens a serial device with a fixed raw line discipline -- 8 data
// bits, no parity, one stop bit, no flow control -- at a caller-chosen
// baud rate.
//
// Both kinds are non-blocking. Read returns (0, nil) when the device
// simply has nothing pending right now; io.EOF is reserved for a true
// end of stream (every slave handle on the pty gone, or the serial
// device itself gone). Write may be partial, returning (n, nil) with
// n < len(p) when the driver's queue is full; the caller retries the
// tail when the descriptor is writable again. Fd exposes the
// descriptor so a reactor can register it for readiness dispatch.
//
// An endpoint belongs to exactly one session, is never shared, and is
// never reused after Close. Close is idempotent.
package endpoint
