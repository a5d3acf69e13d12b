// Copyright 2025-2026 the SeriSSH Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package endpoint

import (
	"fmt"
	"io"
	"sync"

	"github.com/u-root/u-root/pkg/termios"
	"golang.org/x/sys/unix"
)

// DefaultBaud is the line rate used when the caller does not pick one.
const DefaultBaud = 115200

// serialEndpoint is an open serial device with the fixed raw 8N1,
// no-flow-control line discipline.
type serialEndpoint struct {
	fd   int
	name string
	baud int

	mu     sync.Mutex
	closed bool
}

// NewSerial opens device non-blocking and applies the line settings:
// raw, 8 data bits, no parity, one stop bit, no software or hardware
// flow control, at the given baud rate (DefaultBaud if zero). An open
// failure, such as a missing or busy device, is returned as is and is
// never retried here.
func NewSerial(device string, baud int) (Endpoint, error) {
	if baud == 0 {
		baud = DefaultBaud
	}
	fd, err := unix.Open(device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	t, err := termios.GetTermios(uintptr(fd))
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("get line settings for %s: %w", device, err)
	}
	t = termios.MakeRaw(t)
	t, err = termios.MakeSerialBaud(t, baud)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("baud %d on %s: %w", baud, device, err)
	}
	// Raw mode already gives 8 data bits and no parity. Flow control
	// needs turning off on its own: cfmakeraw leaves CRTSCTS alone.
	t.Cflag &^= unix.CRTSCTS | unix.CSTOPB
	t.Iflag &^= unix.IXON | unix.IXOFF | unix.IXANY
	t.Cflag |= unix.CREAD | unix.CLOCAL
	if err := termios.SetTermios(uintptr(fd), t); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set line settings for %s: %w", device, err)
	}
	v("endpoint: opened serial %s at %d baud", device, baud)
	return &serialEndpoint{fd: fd, name: device, baud: baud}, nil
}

func (s *serialEndpoint) Kind() Kind   { return Serial }
func (s *serialEndpoint) Name() string { return s.name }
func (s *serialEndpoint) Fd() int      { return s.fd }

func (s *serialEndpoint) Read(b []byte) (int, error) {
	// Ask the driver how much is queued before reading; a read on a
	// quiet line is the one call here that could otherwise stall.
	avail, err := unix.IoctlGetInt(s.fd, unix.TIOCINQ)
	if err != nil {
		return 0, s.ioErr("TIOCINQ", err)
	}
	if avail == 0 {
		return 0, nil
	}
	if avail < len(b) {
		b = b[:avail]
	}
	n, err := unix.Read(s.fd, b)
	if n < 0 {
		n = 0
	}
	if err != nil {
		return n, s.ioErr("read", err)
	}
	return n, nil
}

// ioErr folds would-block conditions into "no data" and maps a
// vanished device (an unplugged USB adapter, say) to end of stream.
func (s *serialEndpoint) ioErr(op string, err error) error {
	switch err {
	case unix.EAGAIN, unix.EINTR:
		return nil
	case unix.EIO, unix.ENXIO, unix.ENODEV:
		v("endpoint: serial %s gone during %s: %v", s.name, op, err)
		return io.EOF
	}
	return fmt.Errorf("%s %s: %w", op, s.name, err)
}

func (s *serialEndpoint) Write(b []byte) (int, error) {
	n, err := unix.Write(s.fd, b)
	if n < 0 {
		n = 0
	}
	if err == unix.EAGAIN || err == unix.EINTR {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("write %s: %w", s.name, err)
	}
	if n > 0 {
		// Push what we queued onto the wire now instead of letting
		// the driver batch it. The output queue holds at most one
		// write's worth, so the drain stays short.
		if err := unix.IoctlSetInt(s.fd, unix.TCSBRK, 1); err != nil {
			v("endpoint: drain %s: %v", s.name, err)
		}
	}
	return n, nil
}

func (s *serialEndpoint) Resize(cols, rows int) error {
	// Geometry means nothing on a serial line. The settings stay
	// untouched; we only note that the request was dropped.
	v("endpoint: ignoring resize to %dx%d on serial %s", cols, rows, s.name)
	return nil
}

func (s *serialEndpoint) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	v("endpoint: closed serial %s", s.name)
	return unix.Close(s.fd)
}
