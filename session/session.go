// Copyright 2025-2026 the SeriSSH Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package session

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/unix"

	"github.com/takeo07/SeriSSH/endpoint"
	"github.com/takeo07/SeriSSH/reactor"
)

// State tracks a Session through its life.
type State int

const (
	Opening State = iota
	Active
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// chunk bounds how much we pull off the endpoint per readiness event.
const chunk = 1024

// maxBacklog bounds the endpoint-to-remote backlog held for a remote
// that has stopped reading. At the cap the endpoint is paused until
// the remote drains; a variable so tests can shrink it.
var maxBacklog = 64 * 1024

// maxWriteRetries bounds consecutive failed endpoint writes before the
// error stops counting as transient.
var maxWriteRetries = 50

// Channel is the application-data surface of the remote virtual
// channel. The transport owns the channel's lifetime; a session only
// reads, writes, and signals end of stream on it.
type Channel interface {
	io.ReadWriter
	CloseWrite() error
}

// v allows debug printing. Set it with SetVerbose.
var v = func(string, ...interface{}) {}

// SetVerbose sets the verbose printing function, e.g. log.Printf.
func SetVerbose(f func(string, ...interface{})) {
	v = f
}

// Session bridges one Endpoint and one remote channel. Create it with
// New and drive it with Run.
type Session struct {
	id   string
	ep   endpoint.Endpoint
	ch   Channel
	rctr *reactor.Reactor
	rbuf []byte // only touched on the reactor goroutine

	mu      sync.Mutex
	state   State
	err     error // first session-ending error, if any
	pumping bool  // pumpChannel was started; flushed will close
	done    chan struct{}

	omu     sync.Mutex
	obuf    []byte        // endpoint-to-remote backlog, drained by pumpChannel
	opaused bool          // endpoint paused until the backlog empties
	okick   chan struct{} // pokes pumpChannel, capacity 1
	closing chan struct{} // closed on the Closing transition
	flushed chan struct{} // closed when pumpChannel has delivered its last byte
}

// New binds an already-open endpoint to a remote channel. The session
// owns the endpoint from here on; the channel stays the transport's.
func New(ep endpoint.Endpoint, ch Channel, r *reactor.Reactor) *Session {
	return &Session{
		id:      uuid.NewString(),
		ep:      ep,
		ch:      ch,
		rctr:    r,
		rbuf:    make([]byte, chunk),
		state:   Opening,
		done:    make(chan struct{}),
		okick:   make(chan struct{}, 1),
		closing: make(chan struct{}),
		flushed: make(chan struct{}),
	}
}

// ID is a stable identifier for log correlation.
func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run drives the bridge: it registers the endpoint for readiness
// dispatch, pumps remote data into the endpoint, and returns once the
// session is fully torn down from either side. The returned error is
// the first session-ending failure; a clean end of stream from either
// side returns nil.
func (s *Session) Run() error {
	s.mu.Lock()
	if s.state != Opening {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session %s: Run on a %v session", s.id, state)
	}
	if err := s.rctr.Register(s.ep.Fd(), s.onReadable); err != nil {
		s.state = Closed
		s.mu.Unlock()
		if cerr := s.ep.Close(); cerr != nil {
			v("session %s: close endpoint: %v", s.id, cerr)
		}
		s.ch.CloseWrite()
		return fmt.Errorf("session %s: %w", s.id, err)
	}
	s.state = Active
	s.pumping = true
	s.mu.Unlock()
	v("session %s: active on %v %s", s.id, s.ep.Kind(), s.ep.Name())

	go s.pumpRemote()
	go s.pumpChannel()

	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// onReadable runs on the reactor goroutine whenever the endpoint has,
// or may have, data pending. It must never block: endpoint bytes go
// onto the backlog for pumpChannel, and teardown is handed to a fresh
// goroutine because close waits out the dispatch this very call is in.
func (s *Session) onReadable() {
	if s.State() != Active {
		return
	}
	n, err := s.ep.Read(s.rbuf)
	if n > 0 {
		s.enqueue(s.rbuf[:n])
	}
	switch {
	case err == nil:
		// A zero-byte read without an error just means nothing is
		// pending; the session stays active.
	case errors.Is(err, io.EOF):
		v("session %s: %v %s reached end of stream", s.id, s.ep.Kind(), s.ep.Name())
		if s.beginClose(nil) {
			go s.finishClose()
		}
	case unrecoverable(err):
		v("session %s: %v %s is gone: %v", s.id, s.ep.Kind(), s.ep.Name(), err)
		if s.beginClose(err) {
			go s.finishClose()
		}
	default:
		// One failed read is not the end; the next readiness event
		// retries.
		v("session %s: read %v %s: %v", s.id, s.ep.Kind(), s.ep.Name(), err)
	}
}

// enqueue appends freshly read endpoint bytes to the backlog and pokes
// pumpChannel. When the backlog hits its cap the endpoint is paused so
// a remote that stopped reading stalls only its own session, never the
// readiness loop.
func (s *Session) enqueue(p []byte) {
	s.omu.Lock()
	s.obuf = append(s.obuf, p...)
	if !s.opaused && len(s.obuf) >= maxBacklog {
		s.opaused = true
		// Pause under the lock, or the writer could drain and resume
		// before the pause lands, leaving the endpoint deaf for good.
		v("session %s: remote is not reading, pausing %v %s", s.id, s.ep.Kind(), s.ep.Name())
		if err := s.rctr.Pause(s.ep.Fd()); err != nil {
			v("session %s: pause endpoint: %v", s.id, err)
		}
	}
	s.omu.Unlock()
	select {
	case s.okick <- struct{}{}:
	default:
	}
}

// pumpChannel drains the backlog into the remote channel. A channel
// write may block on the remote's flow-control window; that is the
// point of running it here and not on the reactor goroutine. Being
// the only writer, it also delivers whatever the endpoint produced
// before teardown sends the remote its end-of-stream signal.
func (s *Session) pumpChannel() {
	defer close(s.flushed)
	for {
		select {
		case <-s.closing:
			s.writeBacklog()
			return
		case <-s.okick:
		}
		for {
			s.omu.Lock()
			if len(s.obuf) == 0 {
				resume := s.opaused
				s.opaused = false
				s.omu.Unlock()
				if resume {
					s.resume()
				}
				break
			}
			p := s.obuf
			s.obuf = nil
			s.omu.Unlock()
			if _, err := s.ch.Write(p); err != nil {
				v("session %s: forward %d bytes from %v to remote: %v", s.id, len(p), s.ep.Kind(), err)
				// A fresh goroutine, or close would wait on our own
				// flushed signal.
				go s.close(err)
				return
			}
		}
	}
}

// writeBacklog sends any bytes still queued at teardown so the remote
// sees them ahead of end of stream.
func (s *Session) writeBacklog() {
	s.omu.Lock()
	p := s.obuf
	s.obuf = nil
	s.omu.Unlock()
	if len(p) == 0 {
		return
	}
	if _, err := s.ch.Write(p); err != nil {
		v("session %s: %d bytes undeliverable at teardown: %v", s.id, len(p), err)
	}
}

// resume re-arms endpoint readiness after a backlog pause. Checked
// under the state lock so it cannot race a teardown's deregistration.
func (s *Session) resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Active {
		return
	}
	v("session %s: backlog drained, resuming %v %s", s.id, s.ep.Kind(), s.ep.Name())
	if err := s.rctr.Resume(s.ep.Fd()); err != nil {
		v("session %s: resume endpoint: %v", s.id, err)
	}
}

// pumpRemote forwards inbound channel data to the endpoint until the
// remote reaches end of stream or fails.
func (s *Session) pumpRemote() {
	buf := make([]byte, chunk)
	for {
		n, err := s.ch.Read(buf)
		if n > 0 {
			if werr := s.writeEndpoint(buf[:n]); werr != nil {
				v("session %s: forward %d bytes from remote to %v: %v", s.id, n, s.ep.Kind(), werr)
				s.close(werr)
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				v("session %s: remote end of stream", s.id)
				s.close(nil)
			} else {
				v("session %s: remote read: %v", s.id, err)
				s.close(err)
			}
			return
		}
	}
}

// writeEndpoint forwards one remote chunk to the endpoint, finishing
// partial writes when the descriptor is writable again. The unwritten
// tail is retried in place: no byte is duplicated, none dropped.
func (s *Session) writeEndpoint(p []byte) error {
	total := len(p)
	failures := 0
	for len(p) > 0 {
		if s.State() != Active {
			return fmt.Errorf("session ended with %d of %d bytes unwritten", len(p), total)
		}
		n, err := s.ep.Write(p)
		p = p[n:]
		if err != nil {
			if unrecoverable(err) {
				return err
			}
			// A one-off failure; log it and retry on the next
			// writable window. A failure that keeps recurring on a
			// writable descriptor is not transient, so give up rather
			// than spin on it.
			failures++
			if failures >= maxWriteRetries {
				return fmt.Errorf("giving up after %d failed writes to %v %s: %w", failures, s.ep.Kind(), s.ep.Name(), err)
			}
			v("session %s: write %d bytes to %v %s: %v", s.id, len(p)+n, s.ep.Kind(), s.ep.Name(), err)
		} else if n > 0 {
			failures = 0
		}
		if len(p) > 0 && n == 0 {
			if err := s.waitWritable(); err != nil {
				return err
			}
		}
	}
	return nil
}

// waitWritable blocks this pump, and only this pump, until the
// endpoint can take more bytes. The short poll interval keeps teardown
// from another direction visible.
func (s *Session) waitWritable() error {
	fds := []unix.PollFd{{Fd: int32(s.ep.Fd()), Events: unix.POLLOUT}}
	for {
		if s.State() != Active {
			return fmt.Errorf("session ended while waiting to write")
		}
		fds[0].Revents = 0
		n, err := unix.Poll(fds, 100)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll %v %s: %w", s.ep.Kind(), s.ep.Name(), err)
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return fmt.Errorf("%v %s went away while waiting to write", s.ep.Kind(), s.ep.Name())
		}
		return nil
	}
}

// Resize propagates terminal geometry to the endpoint. Serial
// endpoints ignore geometry; a failed resize is logged, not fatal.
func (s *Session) Resize(cols, rows int) {
	s.mu.Lock()
	teardown := s.state == Closing || s.state == Closed
	s.mu.Unlock()
	if teardown {
		return
	}
	if err := s.ep.Resize(cols, rows); err != nil {
		// The console stays usable at its old size.
		v("session %s: resize to %dx%d on %v %s: %v", s.id, cols, rows, s.ep.Kind(), s.ep.Name(), err)
	}
}

// Close drives the session to Closed. Safe from any goroutine, from
// both pumps at once, and more than once.
func (s *Session) Close() {
	s.close(nil)
}

func (s *Session) close(err error) {
	if !s.beginClose(err) {
		return
	}
	s.finishClose()
}

// beginClose claims the one Closing transition. The readiness callback
// uses it directly so further dispatches see Closing at once, then
// hands finishClose to a fresh goroutine: Deregister waits out the
// dispatch the callback itself is in.
func (s *Session) beginClose(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closing || s.state == Closed {
		return false
	}
	s.state = Closing
	if s.err == nil {
		s.err = err
	}
	close(s.closing)
	return true
}

func (s *Session) finishClose() {
	// Deregister first and let it wait out any dispatch in flight, so
	// the endpoint descriptor is never read after it is closed and a
	// reused fd number can never bleed another session's bytes here.
	if derr := s.rctr.Deregister(s.ep.Fd()); derr != nil {
		v("session %s: deregister endpoint: %v", s.id, derr)
	}

	// With the dispatches over, the backlog is final; wait for the
	// writer to put it on the channel before CloseWrite goes out.
	s.mu.Lock()
	pumping := s.pumping
	s.mu.Unlock()
	if pumping {
		<-s.flushed
	}

	var result error
	if cerr := s.ep.Close(); cerr != nil {
		result = multierror.Append(result, cerr)
	}
	if cerr := s.ch.CloseWrite(); cerr != nil && !errors.Is(cerr, io.EOF) {
		result = multierror.Append(result, cerr)
	}
	if result != nil {
		v("session %s: teardown: %v", s.id, result)
	}

	s.mu.Lock()
	s.state = Closed
	s.mu.Unlock()
	close(s.done)
	v("session %s: closed", s.id)
}

// unrecoverable reports whether err means the device is gone for good
// rather than momentarily unhappy.
func unrecoverable(err error) bool {
	return errors.Is(err, unix.EIO) ||
		errors.Is(err, unix.ENXIO) ||
		errors.Is(err, unix.ENODEV) ||
		errors.Is(err, unix.EPIPE) ||
		errors.Is(err, unix.EBADF)
}
