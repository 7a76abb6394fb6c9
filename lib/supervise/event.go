// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package supervise

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// EventKind discriminates the events a Loop can produce.
type EventKind int

const (
	// StdinClosed reports end-of-stream (or an unrecoverable read
	// error) on the controlling pipe. Produced at most once.
	StdinClosed EventKind = iota

	// TermSignal reports one occurrence of a subscribed terminating
	// signal. Signal carries its identity.
	TermSignal

	// ChildExit reports that the child with the given Pid has exited
	// and is waiting to be reaped. The exit status has not been
	// consumed; the component holding the child's handle reaps it.
	ChildExit

	// WatchdogExpired reports that the wall-clock watchdog timer
	// fired.
	WatchdogExpired
)

// Event is one observation from the supervisor's event stream. Events
// are produced one at a time and never coalesced; the Loop retains no
// memory of an event once it has been returned.
type Event struct {
	Kind   EventKind
	Signal unix.Signal // valid when Kind == TermSignal
	Pid    int         // valid when Kind == ChildExit
}

func (e Event) String() string {
	switch e.Kind {
	case StdinClosed:
		return "stdin closed"
	case TermSignal:
		return fmt.Sprintf("signal %s", unix.SignalName(e.Signal))
	case ChildExit:
		return fmt.Sprintf("child %d exited", e.Pid)
	case WatchdogExpired:
		return "watchdog expired"
	default:
		return fmt.Sprintf("unknown event kind %d", int(e.Kind))
	}
}
