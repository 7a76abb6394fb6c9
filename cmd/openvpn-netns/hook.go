// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/zackw/openvpn-netns-tools/lib/config"
	"github.com/zackw/openvpn-netns-tools/lib/errdefs"
	"github.com/zackw/openvpn-netns-tools/lib/netns"
	"github.com/zackw/openvpn-netns-tools/lib/subprocess"
)

// runHook handles the re-invocations OpenVPN makes at tunnel phase
// transitions. The interesting state arrives in OpenVPN's script
// environment: dev, ifconfig_local and friends, route_vpn_gateway,
// and the foreign_option_N DNS pushes.
//
// "__up" fires when the tun device exists but is unconfigured: the
// device is moved into the namespace and addressed there. OpenVPN's
// own descriptor for the device survives the move, which is the whole
// trick. "__route-up" fires when the tunnel is usable: routing and
// DNS go in, and readiness is reported to the supervisor over the
// inherited pipe. "__down" removes what route-up wrote.
func runHook(phase, name string) error {
	if !netns.ValidName(name) {
		return fmt.Errorf("invalid namespace name %q", name)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	cfg, err := config.LoadSystem()
	if err != nil {
		return err
	}
	env := subprocess.NewEnv(subprocess.Options{Logger: logger})

	switch phase {
	case "__up":
		return hookUp(env, name)
	case "__route-up":
		return hookRouteUp(env, cfg, name)
	case "__down":
		return hookDown(cfg, name)
	}
	return fmt.Errorf("unknown hook phase %q", phase)
}

func hookUp(env *subprocess.Env, name string) error {
	dev := os.Getenv("dev")
	if dev == "" {
		return fmt.Errorf("hook environment missing dev")
	}
	if err := env.Run([]string{"ip", "link", "set", dev, "netns", name}); err != nil {
		return err
	}
	if err := env.Run([]string{"ip", "netns", "exec", name, "ip", "link", "set", "dev", dev, "up"}); err != nil {
		return err
	}

	local := os.Getenv("ifconfig_local")
	if local == "" {
		return nil // tap without ifconfig push; routes may still work
	}
	if remote := os.Getenv("ifconfig_remote"); remote != "" {
		// Point-to-point tun.
		return env.Run([]string{"ip", "netns", "exec", name,
			"ip", "addr", "add", local, "peer", remote, "dev", dev})
	}
	address := local
	if mask := os.Getenv("ifconfig_netmask"); mask != "" {
		bits, err := netmaskBits(mask)
		if err != nil {
			return err
		}
		address = fmt.Sprintf("%s/%d", local, bits)
	}
	return env.Run([]string{"ip", "netns", "exec", name,
		"ip", "addr", "add", address, "dev", dev})
}

func hookRouteUp(env *subprocess.Env, cfg config.Config, name string) error {
	routeArgv := []string{"ip", "netns", "exec", name, "ip", "route", "add", "default"}
	if gateway := os.Getenv("route_vpn_gateway"); gateway != "" {
		routeArgv = append(routeArgv, "via", gateway)
	} else if dev := os.Getenv("dev"); dev != "" {
		routeArgv = append(routeArgv, "dev", dev)
	} else {
		return fmt.Errorf("hook environment has neither route_vpn_gateway nor dev")
	}
	if err := env.Run(routeArgv); err != nil {
		return err
	}

	if servers := pushedDNS(); len(servers) > 0 {
		if err := writeResolvConf(cfg, name, servers); err != nil {
			return err
		}
	}

	return reportReady()
}

func hookDown(cfg config.Config, name string) error {
	path := filepath.Join(cfg.Tunnel.ConfigRoot, name, "resolv.conf")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errdefs.Sys("remove "+path, err)
	}
	return nil
}

// netmaskBits converts a dotted-quad netmask to a prefix length.
func netmaskBits(mask string) (int, error) {
	ip := net.ParseIP(mask)
	if ip == nil || ip.To4() == nil {
		return 0, &errdefs.ParseError{Want: "dotted-quad netmask", Input: mask}
	}
	four := ip.To4()
	bits, total := net.IPMask(four).Size()
	if bits == 0 && total == 0 {
		return 0, &errdefs.ParseError{Want: "contiguous netmask", Input: mask}
	}
	return bits, nil
}

// pushedDNS collects DNS servers from the foreign_option_N variables
// OpenVPN sets for pushed dhcp-options.
func pushedDNS() []string {
	var servers []string
	for n := 1; ; n++ {
		option := os.Getenv("foreign_option_" + strconv.Itoa(n))
		if option == "" {
			return servers
		}
		fields := strings.Fields(option)
		if len(fields) == 3 && fields[0] == "dhcp-option" && fields[1] == "DNS" {
			servers = append(servers, fields[2])
		}
	}
}

// writeResolvConf places the pushed resolvers where ip-netns(8) will
// bind-mount them over /etc/resolv.conf for namespace processes.
func writeResolvConf(cfg config.Config, name string, servers []string) error {
	var out strings.Builder
	for _, server := range servers {
		fmt.Fprintf(&out, "nameserver %s\n", server)
	}
	path := filepath.Join(cfg.Tunnel.ConfigRoot, name, "resolv.conf")
	if err := os.WriteFile(path, []byte(out.String()), 0o644); err != nil {
		return errdefs.Sys("write "+path, err)
	}
	return nil
}

// reportReady writes one line to the readiness descriptor inherited
// from the supervisor, named via the NETNS_READY_FD variable the
// supervisor planted in the client's environment.
func reportReady() error {
	raw := os.Getenv("NETNS_READY_FD")
	if raw == "" {
		return fmt.Errorf("hook environment missing NETNS_READY_FD")
	}
	fd, err := strconv.Atoi(raw)
	if err != nil {
		return &errdefs.ParseError{Want: "descriptor number", Input: raw, Err: err}
	}
	if _, err := unix.Write(fd, []byte("READY\n")); err != nil {
		return errdefs.Sys("write readiness report", err)
	}
	return nil
}
