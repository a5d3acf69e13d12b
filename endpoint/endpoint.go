// Copyright 2025-2026 the SeriSSH Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package endpoint

import "go.bug.st/serial"

// Kind selects the sort of device an Endpoint drives.
type Kind int

const (
	// Pty is a pseudo-terminal pair; the master side is bridged and
	// the slave path is published for whoever wants the console.
	Pty Kind = iota
	// Serial is a serial device with a fixed 8N1, no-flow-control line.
	Serial
)

func (k Kind) String() string {
	switch k {
	case Pty:
		return "pty"
	case Serial:
		return "serial"
	}
	return "unknown"
}

// v allows debug printing. Set it with SetVerbose.
var v = func(string, ...interface{}) {}

// SetVerbose sets the verbose printing function, e.g. log.Printf.
func SetVerbose(f func(string, ...interface{})) {
	v = f
}

// Endpoint is one local byte-stream device. See the package comment
// for the Read/Write/Close contract.
type Endpoint interface {
	Kind() Kind
	// Name is the human-readable identity of the device: the pty
	// slave path or the serial device path. Diagnostic only.
	Name() string
	// Fd is the descriptor to register for readiness notification.
	Fd() int
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	// Resize propagates terminal geometry. It only means something
	// on a pty; on serial it is a logged no-op and must never touch
	// the line settings.
	Resize(cols, rows int) error
	Close() error
}

// List enumerates the serial devices present on this machine. It is
// an operator convenience for picking the right -serial argument; the
// bridge itself never needs it.
func List() ([]string, error) {
	return serial.GetPortsList()
}
