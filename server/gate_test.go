// Copyright 2025-2026 the SeriSSH Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import "testing"

func TestGateValidate(t *testing.T) {
	g := NewGate("admin", "hunter2")
	if !g.Offered() {
		t.Error("g.Offered(): false != true")
	}
	for _, tc := range []struct {
		user, password string
		want           bool
	}{
		{"admin", "hunter2", true},
		{"admin", "hunter3", false},
		{"admin", "", false},
		{"root", "hunter2", false},
		{"", "hunter2", false},
		{"", "", false},
		{"ADMIN", "hunter2", false},
	} {
		if got := g.Validate(tc.user, tc.password); got != tc.want {
			t.Errorf("Validate(%q, %q): %v != %v", tc.user, tc.password, got, tc.want)
		}
	}
}

func TestGateUnconfigured(t *testing.T) {
	for _, g := range []*Gate{
		NewGate("", ""),
		NewGate("admin", ""),
		NewGate("", "hunter2"),
	} {
		if g.Offered() {
			t.Errorf("NewGate(%q, %q).Offered(): true != false", g.user, g.password)
		}
		// With no configured pair nothing may validate, not even the
		// matching empty strings.
		if g.Validate(g.user, g.password) {
			t.Errorf("Validate(%q, %q) on an unconfigured gate: true != false", g.user, g.password)
		}
	}
}
