// Copyright 2025-2026 the SeriSSH Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"fmt"
	"log"
	"sync"

	"github.com/gliderlabs/ssh"
	"github.com/hashicorp/go-multierror"

	"github.com/takeo07/SeriSSH/endpoint"
	"github.com/takeo07/SeriSSH/reactor"
	"github.com/takeo07/SeriSSH/session"
)

const defaultPort = "2222"

// v allows debug printing. Do not call it directly from binaries; use
// SetVerbose with e.g. log.Printf.
var v = func(string, ...interface{}) {}

// SetVerbose turns on verbose printing here and in the packages under
// this one.
func SetVerbose(f func(string, ...interface{})) {
	v = f
	endpoint.SetVerbose(f)
	session.SetVerbose(f)
}

// EndpointSpec is the process-wide endpoint choice: every session
// bridges either the one configured serial device or a fresh pty pair
// of its own.
type EndpointSpec struct {
	Kind   endpoint.Kind
	Device string // serial only
	Baud   int    // serial only
}

func (e EndpointSpec) open() (endpoint.Endpoint, error) {
	if e.Kind == endpoint.Serial {
		return endpoint.NewSerial(e.Device, e.Baud)
	}
	return endpoint.NewPty()
}

func (e EndpointSpec) String() string {
	if e.Kind == endpoint.Serial {
		return fmt.Sprintf("%s@%d", e.Device, e.Baud)
	}
	return "a pty pair per session"
}

// Server is the bridge daemon. It embeds the ssh server, so Serve and
// friends come from there; Close is ours, so live sessions and the
// readiness loop go down with the listener.
type Server struct {
	*ssh.Server
	gate *Gate
	spec EndpointSpec
	rctr *reactor.Reactor

	mu   sync.Mutex
	live map[string]*session.Session

	dsEvents chan struct{}
}

// New sets up a bridge daemon: an ssh server whose handler relays an
// interactive session onto the configured endpoint. The host key must
// already exist at hostKeyFile; this daemon never generates key
// material.
func New(hostKeyFile string, gate *Gate, spec EndpointSpec) (*Server, error) {
	v("configure ssh server, bridging %v", spec)
	rctr, err := reactor.New()
	if err != nil {
		return nil, err
	}
	s := &Server{
		gate:     gate,
		spec:     spec,
		rctr:     rctr,
		live:     map[string]*session.Session{},
		dsEvents: make(chan struct{}, 1),
	}
	s.Server = &ssh.Server{
		// A reasonable default for a call to ListenAndServe; a
		// listener handed to Serve overrides it.
		Addr: ":" + defaultPort,
		// The gate denies everything when no credentials are
		// configured. The handler must still be set in that case:
		// with no auth handlers at all, this ssh server would accept
		// unauthenticated connections.
		PasswordHandler: func(ctx ssh.Context, password string) bool {
			return gate.Validate(ctx.User(), password)
		},
		Handler: s.handle,
	}
	if err := s.Server.SetOption(ssh.HostKeyFile(hostKeyFile)); err != nil {
		rctr.Close()
		return nil, fmt.Errorf("host key %s: %w", hostKeyFile, err)
	}
	if !gate.Offered() {
		log.Printf("no -user/-password configured: every login will be denied")
	}
	return s, nil
}

// handle runs one authenticated connection to completion.
func (s *Server) handle(sh ssh.Session) {
	if sh.RawCommand() != "" {
		// Only interactive sessions are bridged. A console has no
		// business running commands for the far side.
		log.Printf("refusing exec request %q from %s", sh.RawCommand(), sh.RemoteAddr())
		fmt.Fprintf(sh.Stderr(), "exec is not supported: this is a console bridge\r\n")
		sh.Exit(1)
		return
	}

	ep, err := s.spec.open()
	if err != nil {
		log.Printf("open %v for %s: %v", s.spec, sh.RemoteAddr(), err)
		fmt.Fprintf(sh.Stderr(), "cannot open %v: %v\r\n", s.spec, err)
		sh.Exit(1)
		return
	}

	sess := session.New(ep, sh, s.rctr)
	s.track(sess)
	defer s.untrack(sess)
	log.Printf("session %s: %s connected to %v %s", sess.ID(), sh.RemoteAddr(), ep.Kind(), ep.Name())

	ptyReq, winCh, isPty := sh.Pty()
	if isPty {
		sess.Resize(ptyReq.Window.Width, ptyReq.Window.Height)
		go func() {
			for win := range winCh {
				sess.Resize(win.Width, win.Height)
			}
		}()
	}

	if err := sess.Run(); err != nil {
		log.Printf("session %s: ended: %v", sess.ID(), err)
		sh.Exit(1)
		return
	}
	log.Printf("session %s: closed", sess.ID())
}

func (s *Server) track(sess *session.Session) {
	s.mu.Lock()
	s.live[sess.ID()] = sess
	s.mu.Unlock()
	s.dsPoke()
}

func (s *Server) untrack(sess *session.Session) {
	s.mu.Lock()
	delete(s.live, sess.ID())
	s.mu.Unlock()
	s.dsPoke()
}

// Sessions reports how many bridges are live right now.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// CloseAll drives every live session to Closed. Shutdown goes through
// here so endpoint handles are released deliberately rather than at
// process exit.
func (s *Server) CloseAll() {
	s.mu.Lock()
	live := make([]*session.Session, 0, len(s.live))
	for _, sess := range s.live {
		live = append(live, sess)
	}
	s.mu.Unlock()
	for _, sess := range live {
		v("shutdown: closing session %s", sess.ID())
		sess.Close()
	}
}

// Close shuts the listener, tears down every live session, and stops
// the readiness loop.
func (s *Server) Close() error {
	var result error
	if err := s.Server.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	s.CloseAll()
	if err := s.rctr.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result
}
