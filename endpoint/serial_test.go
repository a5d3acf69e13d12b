// Copyright 2025-2026 the SeriSSH Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package endpoint

import (
	"os"
	"testing"
)

func TestSerialMissingDevice(t *testing.T) {
	if _, err := NewSerial("/dev/serissh-no-such-device", DefaultBaud); err == nil {
		t.Fatal(`NewSerial("/dev/serissh-no-such-device"): nil != error`)
	}
}

// TestSerialDevice needs real hardware, so it only runs when
// SERISSH_TEST_DEV points at a device we may open.
func TestSerialDevice(t *testing.T) {
	dev := os.Getenv("SERISSH_TEST_DEV")
	if dev == "" {
		t.Skipf("Skipping: set SERISSH_TEST_DEV to a serial device to run this test")
	}
	ep, err := NewSerial(dev, DefaultBaud)
	if err != nil {
		t.Fatalf("NewSerial(%q, %d): %v != nil", dev, DefaultBaud, err)
	}
	defer ep.Close()

	if ep.Kind() != Serial {
		t.Errorf("ep.Kind(): %v != %v", ep.Kind(), Serial)
	}
	if ep.Name() != dev {
		t.Errorf("ep.Name(): %q != %q", ep.Name(), dev)
	}

	// Geometry must be a no-op on a serial line, never an error.
	if err := ep.Resize(80, 24); err != nil {
		t.Errorf("ep.Resize(80, 24): %v != nil", err)
	}

	// A quiet line is "no data", not end of stream.
	buf := make([]byte, 64)
	if n, err := ep.Read(buf); n != 0 || err != nil {
		t.Errorf("ep.Read() on a quiet line: (%d, %v) != (0, nil)", n, err)
	}

	if err := ep.Close(); err != nil {
		t.Errorf("first ep.Close(): %v != nil", err)
	}
	if err := ep.Close(); err != nil {
		t.Errorf("second ep.Close(): %v != nil", err)
	}
}

func TestList(t *testing.T) {
	devices, err := List()
	if err != nil {
		t.Skipf("Skipping: cannot enumerate serial devices here: %v", err)
	}
	t.Logf("serial devices: %v", devices)
}

func TestKindString(t *testing.T) {
	for _, tc := range []struct {
		kind Kind
		want string
	}{
		{Pty, "pty"},
		{Serial, "serial"},
		{Kind(42), "unknown"},
	} {
		if got := tc.kind.String(); got != tc.want {
			t.Errorf("Kind(%d).String(): %q != %q", int(tc.kind), got, tc.want)
		}
	}
}
