// Copyright 2025-2026 the SeriSSH Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import "log"

// Gate is the whole authorization model: one configured
// (user, password) pair, immutable for the process lifetime. There is
// no hashing, no rate limiting and no lockout; every attempt stands
// alone. That is a documented property of this daemon, not an
// oversight -- it guards a lab console, and the transport already
// limits attempts per connection.
type Gate struct {
	user     string
	password string
}

// NewGate configures the one accepted credential pair. Leaving either
// value empty disables password authentication entirely: Offered
// reports false and no attempt can ever succeed.
func NewGate(user, password string) *Gate {
	return &Gate{user: user, password: password}
}

// Offered reports whether password authentication is available at all.
func (g *Gate) Offered() bool {
	return g.user != "" && g.password != ""
}

// Validate checks one authentication attempt against the configured
// pair. Every attempt is logged with the username and the outcome.
func (g *Gate) Validate(user, password string) bool {
	ok := g.Offered() && g.user == user && g.password == password
	log.Printf("password auth attempt user=%q ok=%v", user, ok)
	return ok
}
