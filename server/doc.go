// Copyright 2025-2026 the SeriSSH Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package server builds the bridge daemon: an ssh server whose every
// authenticated session becomes a byte relay onto one local endpoint.
//
// The endpoint choice is made once, for the whole process, when the
// server is constructed: either every session opens the one configured
// serial device, or every session gets a fresh pty pair of its own.
// Nothing is negotiated per connection. Two sessions bridged onto the
// same serial device will interleave at the driver with no arbitration
// from us; if that matters to you, run one session at a time.
//
// Authentication is a single configured (user, password) pair checked
// by the Gate -- plain comparison, no hashing, no lockout, every
// attempt logged. When no pair is configured, every attempt is denied;
// the daemon is then effectively unreachable, which beats the
// alternative of letting anyone at the console.
//
// The usual wiring is New, then net.Listen, then Serve, the same shape
// as any ssh server; see TestDaemonEcho for a worked example. Close
// shuts the listener, drives every live session to Closed, and stops
// the readiness loop, so a daemon can go down without leaking endpoint
// handles. DsRegister optionally advertises the bridge over DNS-SD so
// lab machines can be found by service type rather than by address.
package server
