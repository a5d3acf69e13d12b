// Copyright 2025-2026 the SeriSSH Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/brutella/dnssd"
	"golang.org/x/sys/unix"

	"github.com/takeo07/SeriSSH/endpoint"
)

// dsUpdate is how often the TXT record is refreshed, in seconds, when
// no session comes or goes in the meantime.
const dsUpdate = 60

var cancelMdns = func() {}

// DsUnregister stops the mdns responder started by DsRegister.
func (s *Server) DsUnregister() {
	v("stopping mdns responder")
	cancelMdns()
}

func dsDefaultInstance() string {
	hostname, err := os.Hostname()
	if err == nil {
		hostname += "-serissh"
	} else {
		hostname = "serissh"
	}
	return hostname
}

// dsDefaults fills in the static TXT fields: machine facts and the
// bridge configuration an operator picks a console by.
func (s *Server) dsDefaults(txtFlag map[string]string) {
	if len(txtFlag["arch"]) == 0 {
		txtFlag["arch"] = runtime.GOARCH
	}
	if len(txtFlag["os"]) == 0 {
		txtFlag["os"] = runtime.GOOS
	}
	if len(txtFlag["cores"]) == 0 {
		txtFlag["cores"] = strconv.Itoa(runtime.NumCPU())
	}
	txtFlag["mode"] = s.spec.Kind.String()
	if s.spec.Kind == endpoint.Serial {
		txtFlag["device"] = s.spec.Device
		txtFlag["baud"] = strconv.Itoa(s.spec.Baud)
	}
}

func (s *Server) dsUpdateSysInfo(txtFlag map[string]string) {
	var sysinfo unix.Sysinfo_t
	if err := unix.Sysinfo(&sysinfo); err != nil {
		v("Sysinfo call failed: %v", err)
		return
	}
	txtFlag["mem_avail"] = strconv.FormatUint(uint64(sysinfo.Freeram), 10)
	txtFlag["mem_total"] = strconv.FormatUint(uint64(sysinfo.Totalram), 10)
	txtFlag["load1"] = strconv.FormatUint(uint64(sysinfo.Loads[0]), 10)
	txtFlag["sessions"] = strconv.Itoa(s.Sessions())
	v("dsUpdateSysInfo %v", txtFlag)
}

// dsPoke nudges the TXT refresher after a session comes or goes. Safe
// to call whether or not DsRegister ever ran.
func (s *Server) dsPoke() {
	select {
	case s.dsEvents <- struct{}{}:
	default:
	}
}

// DsRegister advertises the bridge over DNS-SD so consoles on a lab
// network can be found by service type instead of by address. The TXT
// record carries the bridge mode, device, baud rate and the live
// session count, and is refreshed as sessions come and go.
func (s *Server) DsRegister(instanceFlag, domainFlag, serviceFlag, interfaceFlag string, portFlag int, txtFlag map[string]string) error {
	v("starting mdns responder")

	timeFormat := "15:04:05.000"

	v("Advertising: %s.%s.%s.", strings.Trim(instanceFlag, "."), strings.Trim(serviceFlag, "."), strings.Trim(domainFlag, "."))

	ctx, cancel := context.WithCancel(context.Background())
	cancelMdns = cancel

	resp, err := dnssd.NewResponder()
	if err != nil {
		cancel()
		return fmt.Errorf("dnssd newresponder fail: %w", err)
	}

	ifaces := []string{}
	if len(interfaceFlag) > 0 {
		ifaces = append(ifaces, interfaceFlag)
	}

	if len(instanceFlag) == 0 {
		instanceFlag = dsDefaultInstance()
	}

	s.dsDefaults(txtFlag)
	s.dsUpdateSysInfo(txtFlag)

	cfg := dnssd.Config{
		Name:   instanceFlag,
		Type:   serviceFlag,
		Domain: domainFlag,
		Port:   portFlag,
		Ifaces: ifaces,
		Text:   txtFlag,
	}
	srv, err := dnssd.NewService(cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("serissh: advertise: new service fail: %w", err)
	}

	go func() {
		time.Sleep(1 * time.Second)
		handle, err := resp.Add(srv)
		if err != nil {
			fmt.Println(err)
			return
		}
		v("%s\tGot a reply for service %s: Name now registered and active\n", time.Now().Format(timeFormat), handle.Service().ServiceInstanceName())

		ticker := time.NewTicker(dsUpdate * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.dsEvents:
			case <-ticker.C:
			}
			s.dsUpdateSysInfo(txtFlag)
			handle.UpdateText(txtFlag, resp)
		}
	}()

	go func() {
		if err := resp.Respond(ctx); err != nil {
			fmt.Println(err)
		} else {
			v("mdns responder exited")
		}
	}()

	return nil
}
