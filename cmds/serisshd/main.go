// Copyright 2025-2026 the SeriSSH Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command serisshd bridges ssh sessions onto a local console device.
//
// Point it at a serial device and a host key and every authenticated
// ssh session becomes that device's console:
//
//	serisshd -hostkey /etc/serissh/host_key -serial /dev/ttyUSB0 \
//	    -user admin -password hunter2
//
// With -pty instead of -serial, each session gets a fresh pty pair and
// the slave path is logged, so local programs can attach to the far
// end of the bridge. -list prints the serial devices on this machine.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/takeo07/SeriSSH/endpoint"
	"github.com/takeo07/SeriSSH/server"
)

var (
	hostKeyFile = flag.String("hostkey", "host_key", "file with the host private key; must already exist")
	port        = flag.String("port", "2222", "port to listen on")
	addr        = flag.String("addr", "", "address to listen on (default all interfaces)")
	network     = flag.String("net", "tcp", "network to listen on: tcp, unix, or vsock")
	user        = flag.String("user", "", "allowed username for password auth")
	password    = flag.String("password", "", "password for the allowed user")
	serialDev   = flag.String("serial", "", "serial device to bridge, e.g. /dev/ttyUSB0")
	baud        = flag.Int("baud", endpoint.DefaultBaud, "baud rate for the serial device")
	usePty      = flag.Bool("pty", false, "bridge a fresh pty pair per session instead of a serial device")
	list        = flag.Bool("list", false, "list serial devices and exit")
	debug       = flag.Bool("d", false, "enable debug prints")

	dsEnabled   = flag.Bool("mdns", false, "advertise the bridge with DNS-SD")
	dsInstance  = flag.String("dsInstance", "", "DNS-SD instance name (default <hostname>-serissh)")
	dsDomain    = flag.String("dsDomain", "local", "DNS-SD domain")
	dsService   = flag.String("dsService", "_serissh._tcp", "DNS-SD service type")
	dsInterface = flag.String("dsInterface", "", "interface to advertise on (default all)")

	// v allows debug printing.
	v = func(string, ...interface{}) {}
)

func main() {
	flag.Parse()
	if *debug {
		v = log.Printf
		server.SetVerbose(log.Printf)
	}
	if *list {
		devices, err := endpoint.List()
		if err != nil {
			log.Fatalf("list serial devices: %v", err)
		}
		for _, d := range devices {
			fmt.Println(d)
		}
		return
	}
	if err := serve(); err != nil {
		log.Fatal(err)
	}
}
