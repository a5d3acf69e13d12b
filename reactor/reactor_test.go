// Copyright 2025-2026 the SeriSSH Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package reactor

import (
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestDispatch(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New(): %v != nil", err)
	}
	defer r.Close()

	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe(): %v != nil", err)
	}
	defer pr.Close()
	defer pw.Close()

	fired := make(chan []byte, 1)
	err = r.Register(int(pr.Fd()), func() {
		// Drain, or level-triggered dispatch fires forever.
		buf := make([]byte, 16)
		n, _ := unix.Read(int(pr.Fd()), buf)
		if n > 0 {
			select {
			case fired <- buf[:n]:
			default:
			}
		}
	})
	if err != nil {
		t.Fatalf("r.Register(): %v != nil", err)
	}

	if _, err := pw.Write([]byte("x")); err != nil {
		t.Fatalf("pw.Write(): %v != nil", err)
	}
	select {
	case got := <-fired:
		if string(got) != "x" {
			t.Errorf("callback read %q != %q", got, "x")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no callback within 5s of the fd becoming readable")
	}
}

func TestDeregisterStopsCallbacks(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New(): %v != nil", err)
	}
	defer r.Close()

	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe(): %v != nil", err)
	}
	defer pr.Close()
	defer pw.Close()

	fired := make(chan struct{}, 1)
	if err := r.Register(int(pr.Fd()), func() {
		buf := make([]byte, 16)
		unix.Read(int(pr.Fd()), buf)
		select {
		case fired <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("r.Register(): %v != nil", err)
	}
	if err := r.Deregister(int(pr.Fd())); err != nil {
		t.Fatalf("r.Deregister(): %v != nil", err)
	}
	// Idempotent.
	if err := r.Deregister(int(pr.Fd())); err != nil {
		t.Fatalf("second r.Deregister(): %v != nil", err)
	}

	if _, err := pw.Write([]byte("x")); err != nil {
		t.Fatalf("pw.Write(): %v != nil", err)
	}
	select {
	case <-fired:
		t.Fatal("callback fired after Deregister")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDeregisterWaitsForDispatch(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New(): %v != nil", err)
	}
	defer r.Close()

	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe(): %v != nil", err)
	}
	defer pr.Close()
	defer pw.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	if err := r.Register(int(pr.Fd()), func() {
		buf := make([]byte, 16)
		unix.Read(int(pr.Fd()), buf)
		started <- struct{}{}
		<-release
	}); err != nil {
		t.Fatalf("r.Register(): %v != nil", err)
	}

	if _, err := pw.Write([]byte("x")); err != nil {
		t.Fatalf("pw.Write(): %v != nil", err)
	}
	<-started

	// The callback is in flight. Deregister must not return until it
	// finishes, or the caller would close the fd under it.
	deregistered := make(chan struct{})
	go func() {
		r.Deregister(int(pr.Fd()))
		close(deregistered)
	}()
	select {
	case <-deregistered:
		t.Fatal("Deregister returned while the callback was still running")
	case <-time.After(200 * time.Millisecond):
	}

	close(release)
	select {
	case <-deregistered:
	case <-time.After(5 * time.Second):
		t.Fatal("Deregister did not return after the callback finished")
	}
}

func TestPauseResume(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New(): %v != nil", err)
	}
	defer r.Close()

	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe(): %v != nil", err)
	}
	defer pr.Close()
	defer pw.Close()

	fired := make(chan struct{}, 1)
	if err := r.Register(int(pr.Fd()), func() {
		buf := make([]byte, 16)
		unix.Read(int(pr.Fd()), buf)
		select {
		case fired <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("r.Register(): %v != nil", err)
	}

	if err := r.Pause(int(pr.Fd())); err != nil {
		t.Fatalf("r.Pause(): %v != nil", err)
	}
	if _, err := pw.Write([]byte("x")); err != nil {
		t.Fatalf("pw.Write(): %v != nil", err)
	}
	select {
	case <-fired:
		t.Fatal("callback fired while paused")
	case <-time.After(200 * time.Millisecond):
	}

	// The byte is still pending, so resuming must dispatch it.
	if err := r.Resume(int(pr.Fd())); err != nil {
		t.Fatalf("r.Resume(): %v != nil", err)
	}
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("no callback within 5s of Resume")
	}
}

func TestRegisterTwice(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New(): %v != nil", err)
	}
	defer r.Close()

	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe(): %v != nil", err)
	}
	defer pr.Close()
	defer pw.Close()

	if err := r.Register(int(pr.Fd()), func() {}); err != nil {
		t.Fatalf("r.Register(): %v != nil", err)
	}
	if err := r.Register(int(pr.Fd()), func() {}); err == nil {
		t.Fatal("second r.Register() on the same fd: nil != error")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	r, err := New()
	if err != nil {
		t.Fatalf("New(): %v != nil", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("first r.Close(): %v != nil", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second r.Close(): %v != nil", err)
	}
	if err := r.Register(0, func() {}); err == nil {
		t.Error("r.Register() on a closed reactor: nil != error")
	}
}
