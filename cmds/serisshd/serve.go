// Copyright 2025-2026 the SeriSSH Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log"
	"math"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gliderlabs/ssh"
	"github.com/mdlayher/vsock"

	"github.com/takeo07/SeriSSH/endpoint"
	"github.com/takeo07/SeriSSH/server"
)

// anyCID accepts vsock connections from any context ID.
const anyCID = math.MaxUint32

func listen(network, host, port string) (net.Listener, error) {
	// Sadly, vsock is not in the standard Go net package.
	var (
		ln  net.Listener
		err error
	)

	switch network {
	case "vsock":
		var p uint64
		p, err = strconv.ParseUint(port, 0, 16)
		if err != nil {
			return nil, err
		}
		ln, err = vsock.ListenContextID(anyCID, uint32(p), nil)

	case "unix", "unixgram", "unixpacket":
		// For unix sockets the "port" is the path.
		ln, err = net.Listen(network, port)

	default:
		ln, err = net.Listen(network, net.JoinHostPort(host, port))
	}
	return ln, err
}

// endpointSpec turns the flags into the one process-wide endpoint
// choice. A serial device is required unless -pty asks for
// pty-pair-per-session mode explicitly.
func endpointSpec() (server.EndpointSpec, error) {
	if *usePty {
		if *serialDev != "" {
			return server.EndpointSpec{}, fmt.Errorf("-pty and -serial are mutually exclusive")
		}
		return server.EndpointSpec{Kind: endpoint.Pty}, nil
	}
	if *serialDev == "" {
		return server.EndpointSpec{}, fmt.Errorf("a serial device is required (-serial), or pass -pty for a pty pair per session")
	}
	return server.EndpointSpec{Kind: endpoint.Serial, Device: *serialDev, Baud: *baud}, nil
}

func serve() error {
	// Fail fast on the things we refuse to limp along without.
	if _, err := os.Stat(*hostKeyFile); err != nil {
		return fmt.Errorf("host key: %w", err)
	}
	spec, err := endpointSpec()
	if err != nil {
		return err
	}

	s, err := server.New(*hostKeyFile, server.NewGate(*user, *password), spec)
	if err != nil {
		return err
	}

	ln, err := listen(*network, *addr, *port)
	if err != nil {
		return err
	}

	if *dsEnabled {
		p, err := strconv.Atoi(*port)
		if err != nil {
			return fmt.Errorf("could not parse port %s: %w", *port, err)
		}
		if err := s.DsRegister(*dsInstance, *dsDomain, *dsService, *dsInterface, p, map[string]string{}); err != nil {
			return fmt.Errorf("could not advertise with mdns: %w", err)
		}
		defer s.DsUnregister()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		got := <-sig
		log.Printf("%v: closing listener and live sessions", got)
		if err := s.Close(); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("serisshd listening on %v, bridging %v", ln.Addr(), spec)
	if err := s.Serve(ln); err != ssh.ErrServerClosed {
		return err
	}
	v("daemon returns")
	return nil
}
