// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/zackw/openvpn-netns-tools/lib/clock"
	"github.com/zackw/openvpn-netns-tools/lib/netns"
	"github.com/zackw/openvpn-netns-tools/lib/supervise"
)

// Only argument validation is exercised through run: everything past
// it requires root and process-wide signal arrangements. The full
// serve path is exercised below with substituted dependencies.
func TestRunRejectsBadArguments(t *testing.T) {
	cases := [][]string{
		{},                    // no positionals
		{"pfx"},               // missing count
		{"pfx", "2", "extra"}, // too many positionals
		{"pfx", "0"},          // count below minimum
		{"pfx", "-3"},         // negative count
		{"pfx", "two"},        // non-numeric count
		{"bad name", "2"},     // space in prefix
		{"bad/name", "2"},     // path separator in prefix
		{"--config", "/nonexistent/config.yaml", "pfx", "2"},
	}
	for _, args := range cases {
		if err := run(args); err == nil {
			t.Errorf("run(%q) succeeded, want error", args)
		}
	}
}

// recordingRunner satisfies netns.Runner, capturing every command
// line space-joined.
type recordingRunner struct {
	calls []string
}

func (r *recordingRunner) Run(argv []string) error {
	r.calls = append(r.calls, strings.Join(argv, " "))
	return nil
}

func (r *recordingRunner) RunIgnoreFailure(argv []string) {
	r.calls = append(r.calls, strings.Join(argv, " "))
}

func (r *recordingRunner) OutputPids(argv []string) ([]int, error) {
	r.calls = append(r.calls, strings.Join(argv, " "))
	return nil, nil
}

// scriptedLoop replays a fixed event sequence.
type scriptedLoop struct {
	t      *testing.T
	events []supervise.Event
}

func (l *scriptedLoop) Next() (supervise.Event, error) {
	if len(l.events) == 0 {
		l.t.Fatal("event loop polled past the scripted sequence")
	}
	event := l.events[0]
	l.events = l.events[1:]
	return event, nil
}

// opWriter timestamps announcements into a shared operation log so
// their ordering against the other boundary actions is checkable.
type opWriter struct {
	ops *[]string
}

func (w opWriter) Write(p []byte) (int, error) {
	*w.ops = append(*w.ops, "announce "+strings.TrimSpace(string(p)))
	return len(p), nil
}

func testServeDeps(t *testing.T, runner *recordingRunner, ops *[]string, events []supervise.Event) serveDeps {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := netns.New(netns.Config{
		Runner:     runner,
		Clock:      clock.Fake(time.Now()),
		Logger:     logger,
		ConfigRoot: t.TempDir(),
		Kill:       func(int, unix.Signal) error { return nil },
	})
	return serveDeps{
		manager: manager,
		logger:  logger,
		stdout:  opWriter{ops: ops},
		closeStdout: func() error {
			*ops = append(*ops, "close stdout")
			return nil
		},
		newLoop: func() (eventLoop, error) {
			*ops = append(*ops, "loop started")
			return &scriptedLoop{t: t, events: events}, nil
		},
		ledger: filepath.Join(t.TempDir(), "tunnel-ns.state"),
	}
}

// The whole service contract in one pass: three namespaces created
// and announced in order, stdout closed only after the last
// announcement, stdin closure triggering teardown in reverse creation
// order, and a clean exit.
func TestServeLifecycle(t *testing.T) {
	runner := &recordingRunner{}
	var ops []string
	deps := testServeDeps(t, runner, &ops, []supervise.Event{
		{Kind: supervise.StdinClosed},
	})

	if err := serve(deps, "x", 3); err != nil {
		t.Fatalf("serve: %v", err)
	}

	wantOps := []string{
		"announce x_ns0",
		"announce x_ns1",
		"announce x_ns2",
		"close stdout",
		"loop started",
	}
	if fmt.Sprint(ops) != fmt.Sprint(wantOps) {
		t.Errorf("boundary operations = %v, want %v", ops, wantOps)
	}

	var deletions []string
	for _, call := range runner.calls {
		if strings.HasPrefix(call, "ip netns delete ") {
			deletions = append(deletions, strings.TrimPrefix(call, "ip netns delete "))
		}
	}
	if fmt.Sprint(deletions) != fmt.Sprint([]string{"x_ns2", "x_ns1", "x_ns0"}) {
		t.Errorf("teardown order = %v, want reverse creation order", deletions)
	}

	if _, err := os.Stat(deps.ledger); !os.IsNotExist(err) {
		t.Error("ledger not cleared after shutdown")
	}
}

// A terminating signal is the other orderly shutdown trigger; child
// exits before it are noise, not triggers.
func TestServeShutsDownOnSignal(t *testing.T) {
	runner := &recordingRunner{}
	var ops []string
	deps := testServeDeps(t, runner, &ops, []supervise.Event{
		{Kind: supervise.ChildExit, Pid: 99},
		{Kind: supervise.TermSignal, Signal: unix.SIGTERM},
	})

	if err := serve(deps, "x", 1); err != nil {
		t.Fatalf("serve: %v", err)
	}
	found := false
	for _, call := range runner.calls {
		if call == "ip netns delete x_ns0" {
			found = true
		}
	}
	if !found {
		t.Errorf("namespace not torn down after signal; calls = %v", runner.calls)
	}
}

// Dry-run must not leave ledger state behind: the state directory is
// never created and nothing is written.
func TestServeDryRunSkipsLedger(t *testing.T) {
	runner := &recordingRunner{}
	var ops []string
	deps := testServeDeps(t, runner, &ops, []supervise.Event{
		{Kind: supervise.StdinClosed},
	})
	stateDir := filepath.Join(t.TempDir(), "state")
	deps.ledger = filepath.Join(stateDir, "tunnel-ns.state")
	deps.dryRun = true

	if err := serve(deps, "x", 1); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if _, err := os.Stat(stateDir); !os.IsNotExist(err) {
		t.Error("dry run created the state directory")
	}
}
