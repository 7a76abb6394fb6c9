// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/zackw/openvpn-netns-tools/lib/supervise"
)

func TestRunRejectsBadArguments(t *testing.T) {
	cases := [][]string{
		{},                       // nothing
		{"vpn0"},                 // missing config file
		{"bad name", "tun.conf"}, // space in namespace name
		{"definitely-missing-ns-xyzzy", "tun.conf"}, // namespace absent
	}
	for _, args := range cases {
		if err := run(args); err == nil {
			t.Errorf("run(%q) succeeded, want error", args)
		}
	}
}

// scriptedLoop replays a fixed event sequence.
type scriptedLoop struct {
	events []supervise.Event
}

func (l *scriptedLoop) Next() (supervise.Event, error) {
	event := l.events[0]
	l.events = l.events[1:]
	return event, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Orderly triggers exit cleanly; the VPN client collapsing must not,
// or the consumer would read a dead tunnel as a successful shutdown.
func TestWaitDistinguishesCollapseFromShutdown(t *testing.T) {
	const vpnPid = 4242

	orderly := []supervise.Event{
		{Kind: supervise.ChildExit, Pid: 99}, // stray child, not a trigger
		{Kind: supervise.StdinClosed},
	}
	if err := wait(&scriptedLoop{events: orderly}, vpnPid, quietLogger()); err != nil {
		t.Errorf("wait after stdin closure = %v, want nil", err)
	}

	signaled := []supervise.Event{
		{Kind: supervise.TermSignal, Signal: unix.SIGTERM},
	}
	if err := wait(&scriptedLoop{events: signaled}, vpnPid, quietLogger()); err != nil {
		t.Errorf("wait after SIGTERM = %v, want nil", err)
	}

	collapsed := []supervise.Event{
		{Kind: supervise.ChildExit, Pid: vpnPid},
	}
	if err := wait(&scriptedLoop{events: collapsed}, vpnPid, quietLogger()); err == nil {
		t.Error("wait reported success for a dead VPN client")
	}
}

func TestNetmaskBits(t *testing.T) {
	cases := []struct {
		mask string
		want int
	}{
		{"255.255.255.0", 24},
		{"255.255.0.0", 16},
		{"255.255.255.255", 32},
		{"255.255.255.128", 25},
	}
	for _, c := range cases {
		got, err := netmaskBits(c.mask)
		if err != nil {
			t.Errorf("netmaskBits(%q): %v", c.mask, err)
			continue
		}
		if got != c.want {
			t.Errorf("netmaskBits(%q) = %d, want %d", c.mask, got, c.want)
		}
	}
	for _, mask := range []string{"", "24", "255.0.255.0", "garbage"} {
		if _, err := netmaskBits(mask); err == nil {
			t.Errorf("netmaskBits(%q) succeeded, want error", mask)
		}
	}
}

func TestPushedDNS(t *testing.T) {
	t.Setenv("foreign_option_1", "dhcp-option DNS 10.8.0.1")
	t.Setenv("foreign_option_2", "dhcp-option DOMAIN example.net")
	t.Setenv("foreign_option_3", "dhcp-option DNS 10.8.0.2")
	os.Unsetenv("foreign_option_4")

	servers := pushedDNS()
	if len(servers) != 2 || servers[0] != "10.8.0.1" || servers[1] != "10.8.0.2" {
		t.Errorf("pushedDNS() = %v, want [10.8.0.1 10.8.0.2]", servers)
	}
}
