// Copyright 2025-2026 the SeriSSH Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package session is the bridge at the heart of the daemon: one
// authenticated connection bound to one local endpoint, pumping bytes
// both ways until either side reaches end of stream.
//
// A Session moves through Opening -> Active -> Closing -> Closed and
// never back. New takes an endpoint that is already open, the remote
// channel, and the reactor that will deliver endpoint readability.
// Run registers the endpoint with the reactor, starts the pumps, and
// blocks until teardown finishes from either direction. The
// registration exists only while the session is Active, though it may
// be paused while the remote catches up on its backlog.
//
// The two directions are independent. Each readiness callback reads a
// bounded chunk onto a per-session backlog; a zero-byte read means
// "nothing pending", not end of stream. The callback never blocks: a
// writer goroutine drains the backlog into the channel, so a remote
// that stops reading stalls only its own session and, once the
// backlog hits its cap, pauses only its own endpoint until the bytes
// move again. Remote-to-endpoint runs on the transport's delivery
// goroutine and forwards each inbound chunk verbatim, finishing
// partial endpoint writes so no byte is duplicated or dropped. Within
// a direction, bytes keep their order; across the two directions no
// ordering is promised.
//
// Only endpoint end-of-stream, remote end-of-stream, and errors that
// mean the device is gone end a session. A single failed read or write
// is logged and retried on the next readiness event; only a failure
// that keeps recurring is escalated. Teardown delivers whatever the
// endpoint produced before the remote sees its end-of-stream signal.
package session
