// Copyright 2025-2026 the SeriSSH Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package endpoint

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/creack/pty"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"
)

// ptyEndpoint owns the master side of a pseudo-terminal pair. It keeps
// its own handle on the slave so the pair stays alive while nothing is
// attached to the slave path.
type ptyEndpoint struct {
	ptm  *os.File
	pts  *os.File
	fd   int // master descriptor; os.File.Fd would flip it back to blocking
	name string

	mu     sync.Mutex
	closed bool
}

// NewPty allocates a new pseudo-terminal pair and returns an Endpoint
// bound to the master side. Name reports the slave path.
func NewPty() (Endpoint, error) {
	ptm, pts, err := pty.Open()
	if err != nil {
		return nil, fmt.Errorf("open pty pair: %w", err)
	}
	fd := int(ptm.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		ptm.Close()
		pts.Close()
		return nil, fmt.Errorf("set pty master non-blocking: %w", err)
	}
	v("endpoint: new pty pair, slave %s", pts.Name())
	return &ptyEndpoint{ptm: ptm, pts: pts, fd: fd, name: pts.Name()}, nil
}

func (p *ptyEndpoint) Kind() Kind   { return Pty }
func (p *ptyEndpoint) Name() string { return p.name }
func (p *ptyEndpoint) Fd() int      { return p.fd }

func (p *ptyEndpoint) Read(b []byte) (int, error) {
	n, err := unix.Read(p.fd, b)
	if n < 0 {
		n = 0
	}
	switch {
	case err == unix.EAGAIN || err == unix.EINTR:
		return 0, nil
	case err == unix.EIO:
		// The master raises EIO once every handle on the slave is
		// gone. That is this device's end of stream.
		return 0, io.EOF
	case err != nil:
		return 0, fmt.Errorf("read pty %s: %w", p.name, err)
	case n == 0:
		return 0, io.EOF
	}
	return n, nil
}

func (p *ptyEndpoint) Write(b []byte) (int, error) {
	n, err := unix.Write(p.fd, b)
	if n < 0 {
		n = 0
	}
	if err == unix.EAGAIN || err == unix.EINTR {
		// Queue full; the caller retries the rest later.
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("write pty %s: %w", p.name, err)
	}
	return n, nil
}

func (p *ptyEndpoint) Resize(cols, rows int) error {
	ws := &unix.Winsize{Row: uint16(rows), Col: uint16(cols)}
	if err := unix.IoctlSetWinsize(p.fd, unix.TIOCSWINSZ, ws); err != nil {
		return fmt.Errorf("set winsize %dx%d on %s: %w", cols, rows, p.name, err)
	}
	return nil
}

func (p *ptyEndpoint) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var result error
	for _, f := range []*os.File{p.ptm, p.pts} {
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}
	v("endpoint: closed pty pair, slave %s", p.name)
	return result
}
