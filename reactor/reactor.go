// Copyright 2025-2026 the SeriSSH Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reactor is a minimal readiness-notification loop: callers
// register a descriptor with a callback, and the callback runs on the
// reactor's one goroutine whenever the descriptor is readable or has
// hung up. Dispatch is level-triggered and single-threaded, so a
// registered descriptor must not be polled or read anywhere else.
package reactor

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Reactor dispatches read-readiness callbacks from a single goroutine.
type Reactor struct {
	epfd   int
	wakefd int
	done   chan struct{}

	mu          sync.Mutex
	quiet       *sync.Cond // signaled when a dispatch finishes
	handlers    map[int]func()
	dispatching int // fd whose callback is running, -1 when idle
	closed      bool
}

// New creates a Reactor and starts its dispatch loop.
func New() (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	r := &Reactor{
		epfd:        epfd,
		wakefd:      wakefd,
		done:        make(chan struct{}),
		handlers:    map[int]func(){},
		dispatching: -1,
	}
	r.quiet = sync.NewCond(&r.mu)
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(epfd)
		unix.Close(wakefd)
		return nil, fmt.Errorf("epoll_ctl add wakeup: %w", err)
	}
	go r.loop()
	return r, nil
}

// Register arranges for fn to run on the reactor goroutine whenever fd
// is readable or has hung up. Level-triggered: fn keeps firing until
// it drains the descriptor. A descriptor may be registered once.
func (r *Reactor) Register(fd int, fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("reactor is closed")
	}
	if _, ok := r.handlers[fd]; ok {
		return fmt.Errorf("fd %d is already registered", fd)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	r.handlers[fd] = fn
	return nil
}

// Pause stops readiness events for fd without forgetting its callback.
// Unlike Deregister it does not wait for a running dispatch, so the
// fd's own callback may pause itself. No-op for an unknown fd.
func (r *Reactor) Pause(fd int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[fd]; !ok {
		return nil
	}
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && err != unix.ENOENT && err != unix.EBADF {
		return fmt.Errorf("epoll_ctl pause fd %d: %w", fd, err)
	}
	return nil
}

// Resume re-arms a paused fd. No-op if the fd was deregistered in the
// meantime.
func (r *Reactor) Resume(fd int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("reactor is closed")
	}
	if _, ok := r.handlers[fd]; !ok {
		return nil
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	if err != nil && err != unix.EEXIST {
		return fmt.Errorf("epoll_ctl resume fd %d: %w", fd, err)
	}
	return nil
}

// Deregister removes fd from the loop. Idempotent. Once it returns,
// the fd's callback is not running and will never run again, so the
// caller may close the descriptor. Deregister therefore waits out a
// dispatch already in flight; calling it from the fd's own callback
// would deadlock.
func (r *Reactor) Deregister(fd int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result error
	if _, ok := r.handlers[fd]; ok {
		delete(r.handlers, fd)
		err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		if err != nil && err != unix.ENOENT && err != unix.EBADF {
			result = fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
		}
	}
	for r.dispatching == fd {
		r.quiet.Wait()
	}
	return result
}

// Close stops the loop and releases the reactor's descriptors.
// Idempotent. Registered descriptors are left open; their owners
// close them.
func (r *Reactor) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	// Kick the loop awake so it can exit.
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(r.wakefd, buf[:]); err != nil {
		return fmt.Errorf("wake reactor loop: %w", err)
	}
	<-r.done
	unix.Close(r.epfd)
	unix.Close(r.wakefd)
	return nil
}

func (r *Reactor) loop() {
	defer close(r.done)
	events := make([]unix.EpollEvent, 16)
	for {
		n, err := unix.EpollWait(r.epfd, events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == r.wakefd {
				return
			}
			r.mu.Lock()
			if r.closed {
				r.mu.Unlock()
				return
			}
			fn := r.handlers[fd]
			if fn == nil {
				r.mu.Unlock()
				continue
			}
			r.dispatching = fd
			r.mu.Unlock()
			fn()
			r.mu.Lock()
			r.dispatching = -1
			r.quiet.Broadcast()
			r.mu.Unlock()
		}
	}
}
