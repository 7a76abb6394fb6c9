// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package supervise

import (
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testSource returns a pipe-backed Source plus an emit function the
// test uses to inject signal occurrences.
func testSource(t *testing.T) (*pipeSource, func(unix.Signal)) {
	t.Helper()
	ps, err := newPipeSource()
	if err != nil {
		t.Fatalf("newPipeSource: %v", err)
	}
	t.Cleanup(func() { ps.Close() })
	return ps, func(sig unix.Signal) {
		t.Helper()
		if err := ps.emit(sig); err != nil {
			t.Fatalf("emit %v: %v", sig, err)
		}
	}
}

// queueReap models the kernel's reap queue: each pid is named once and
// treated as reaped by its owner after being surfaced.
func queueReap(pids ...int) func() (int, bool, error) {
	queue := pids
	return func() (int, bool, error) {
		if len(queue) == 0 {
			return 0, false, nil
		}
		pid := queue[0]
		queue = queue[1:]
		return pid, true, nil
	}
}

func mustLoop(t *testing.T, cfg LoopConfig) *Loop {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	loop, err := NewLoop(cfg)
	if err != nil {
		t.Fatalf("NewLoop: %v", err)
	}
	return loop
}

func nextEvent(t *testing.T, loop *Loop) Event {
	t.Helper()
	type result struct {
		event Event
		err   error
	}
	done := make(chan result, 1)
	go func() {
		event, err := loop.Next()
		done <- result{event, err}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Next: %v", r.err)
		}
		return r.event
	case <-time.After(10 * time.Second):
		t.Fatal("Next did not return")
	}
	panic("unreachable")
}

func TestStdinClosureYieldsOneEvent(t *testing.T) {
	source, emit := testSource(t)
	stdinRead, stdinWrite, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer stdinRead.Close()

	loop := mustLoop(t, LoopConfig{
		Source:     source,
		StdinFD:    int(stdinRead.Fd()),
		WatchdogFD: NoFD,
		Reap:       queueReap(),
	})

	// Bytes on the controlling pipe are discarded, not events: with
	// input pending and a signal pending, the signal is what comes
	// out.
	if _, err := stdinWrite.Write([]byte("chatter\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	emit(unix.SIGTERM)

	event := nextEvent(t, loop)
	if event.Kind != TermSignal || event.Signal != unix.SIGTERM {
		t.Fatalf("event = %v, want SIGTERM", event)
	}
	if loop.Draining() {
		t.Fatal("Draining before stdin closed")
	}

	stdinWrite.Close()
	event = nextEvent(t, loop)
	if event.Kind != StdinClosed {
		t.Fatalf("event = %v, want stdin closed", event)
	}
	if !loop.Draining() {
		t.Fatal("not Draining after stdin closed")
	}

	// Closure is idempotent: the loop reports no further input
	// events, only the termination conditions that still matter.
	emit(unix.SIGHUP)
	event = nextEvent(t, loop)
	if event.Kind != TermSignal || event.Signal != unix.SIGHUP {
		t.Fatalf("event after closure = %v, want SIGHUP", event)
	}
}

func TestSignalsAndChildrenSurfaceExactlyOnce(t *testing.T) {
	source, emit := testSource(t)
	loop := mustLoop(t, LoopConfig{
		Source:     source,
		StdinFD:    NoFD,
		WatchdogFD: NoFD,
		Reap:       queueReap(11, 22),
	})

	// Two distinct terminating signals and one child notification
	// covering two exited children: exactly K+M events, one per
	// call, never merged.
	emit(unix.SIGTERM)
	emit(unix.SIGHUP)
	emit(unix.SIGCHLD)

	got := []Event{
		nextEvent(t, loop),
		nextEvent(t, loop),
		nextEvent(t, loop),
		nextEvent(t, loop),
	}

	want := []Event{
		{Kind: TermSignal, Signal: unix.SIGTERM},
		{Kind: TermSignal, Signal: unix.SIGHUP},
		{Kind: ChildExit, Pid: 11},
		{Kind: ChildExit, Pid: 22},
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestChildExitNeverDuplicated(t *testing.T) {
	source, emit := testSource(t)

	// A reap query that keeps naming the same unreaped zombie, the
	// way waitid(WNOWAIT) does when the owner has not collected it.
	stickyReap := func() (int, bool, error) { return 42, true, nil }

	loop := mustLoop(t, LoopConfig{
		Source:     source,
		StdinFD:    NoFD,
		WatchdogFD: NoFD,
		Reap:       stickyReap,
	})

	emit(unix.SIGCHLD)
	event := nextEvent(t, loop)
	if event.Kind != ChildExit || event.Pid != 42 {
		t.Fatalf("event = %v, want child 42", event)
	}

	// A second SIGCHLD must not re-announce pid 42. The loop should
	// absorb it and return the signal queued behind it.
	emit(unix.SIGCHLD)
	emit(unix.SIGTERM)
	event = nextEvent(t, loop)
	if event.Kind != TermSignal || event.Signal != unix.SIGTERM {
		t.Fatalf("event = %v, want SIGTERM (pid 42 already announced)", event)
	}
}

func TestWatchdogExpiry(t *testing.T) {
	source, _ := testSource(t)
	watchdogRead, watchdogWrite, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer watchdogRead.Close()
	defer watchdogWrite.Close()

	loop := mustLoop(t, LoopConfig{
		Source:     source,
		StdinFD:    NoFD,
		WatchdogFD: int(watchdogRead.Fd()),
		Reap:       queueReap(),
	})

	if _, err := watchdogWrite.Write(make([]byte, 8)); err != nil {
		t.Fatalf("write: %v", err)
	}
	event := nextEvent(t, loop)
	if event.Kind != WatchdogExpired {
		t.Fatalf("event = %v, want watchdog expired", event)
	}
}

func TestStdinReadErrorTreatedAsClosure(t *testing.T) {
	source, _ := testSource(t)

	fds := make([]int, 2)
	if err := unix.Pipe(fds); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer unix.Close(fds[1])

	loop := mustLoop(t, LoopConfig{
		Source:     source,
		StdinFD:    fds[0],
		WatchdogFD: NoFD,
		Reap:       queueReap(),
	})

	// Tear the descriptor out from under the loop: poll reports the
	// slot invalid, the follow-up read fails, and the defensive
	// policy treats the unreadable pipe as closed rather than
	// hanging forever.
	unix.Close(fds[0])

	event := nextEvent(t, loop)
	if event.Kind != StdinClosed {
		t.Fatalf("event = %v, want stdin closed", event)
	}
	if !loop.Draining() {
		t.Fatal("not Draining after unreadable stdin")
	}
}
