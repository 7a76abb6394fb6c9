// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package supervise

import (
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/zackw/openvpn-netns-tools/lib/errdefs"
)

// NoFD marks an unused descriptor slot in LoopConfig.
const NoFD = -1

// LoopConfig configures a Loop.
type LoopConfig struct {
	// Source is the signal source from Setup. Required.
	Source Source

	// StdinFD is the controlling pipe descriptor, normally 0. NoFD
	// when the helper has no controlling pipe (isolate supervises a
	// child, not a pipe).
	StdinFD int

	// WatchdogFD is an optional second readiness source: a timer
	// descriptor that becomes readable when the wall-clock watchdog
	// expires. NoFD when unused.
	WatchdogFD int

	// Reap overrides the reap query. Nil means PollNextChild.
	Reap func() (pid int, ok bool, err error)

	// Logger receives diagnostics for conditions the loop absorbs
	// rather than returns. Nil means slog.Default().
	Logger *slog.Logger
}

// Loop multiplexes signal readiness, controlling-pipe readiness, and
// watchdog readiness into one ordered event stream. Next blocks
// indefinitely — this is a supervisor, not a poller — and returns
// exactly one event per call. The loop is driven from a single
// goroutine and owns no shared state.
type Loop struct {
	source     Source
	stdinFD    int
	watchdogFD int
	reap       func() (int, bool, error)
	logger     *slog.Logger

	stdinClosed     bool
	stdinPending    bool
	signalPending   bool
	childrenPending bool
	watchdogPending bool
	announcedExits  map[int]bool
}

// NewLoop builds a Loop. The controlling pipe is switched to
// non-blocking mode so draining it can never stall the supervisor.
func NewLoop(cfg LoopConfig) (*Loop, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reap := cfg.Reap
	if reap == nil {
		reap = PollNextChild
	}
	if cfg.StdinFD >= 0 {
		if err := unix.SetNonblock(cfg.StdinFD, true); err != nil {
			return nil, errdefs.Sys("set controlling pipe non-blocking", err)
		}
	}
	return &Loop{
		source:         cfg.Source,
		stdinFD:        cfg.StdinFD,
		watchdogFD:     cfg.WatchdogFD,
		reap:           reap,
		logger:         logger,
		announcedExits: make(map[int]bool),
	}, nil
}

// Draining reports whether the controlling pipe has closed: only
// termination conditions matter from then on.
func (l *Loop) Draining() bool { return l.stdinClosed }

// Next blocks until something the supervisor must act on has happened
// and returns it. Within one invocation, pipe closure is checked
// before signals and signals before child reaps, but any condition
// that remains pending is retried on the following call, so no
// readiness edge is ever dropped: every signal occurrence and every
// pipe closure yields exactly one event, eventually.
func (l *Loop) Next() (Event, error) {
	for {
		if !l.stdinPending && !l.signalPending && !l.childrenPending && !l.watchdogPending {
			if err := l.poll(); err != nil {
				return Event{}, err
			}
		}

		if l.stdinPending {
			l.stdinPending = false
			if l.consumeStdin() {
				l.stdinClosed = true
				return Event{Kind: StdinClosed}, nil
			}
		}

		if l.watchdogPending {
			l.watchdogPending = false
			l.drainWatchdog()
			return Event{Kind: WatchdogExpired}, nil
		}

		if l.signalPending {
			sig, ok, err := l.source.Next()
			switch {
			case err != nil:
				return Event{}, err
			case !ok:
				l.signalPending = false
			case sig == unix.SIGCHLD:
				// Never surfaced directly: it only means
				// "children may be reapable".
				l.childrenPending = true
			default:
				// At most one event per call; signalPending
				// stays set so the next call keeps draining.
				return Event{Kind: TermSignal, Signal: sig}, nil
			}
		}

		if l.childrenPending {
			pid, ok, err := l.reap()
			switch {
			case err != nil:
				l.logger.Warn("reap query failed", "error", err)
				l.childrenPending = false
			case !ok:
				l.childrenPending = false
			case l.announcedExits[pid]:
				// Already surfaced; an unreaped zombie would
				// otherwise be named again on every SIGCHLD.
				l.childrenPending = false
			default:
				l.announcedExits[pid] = true
				return Event{Kind: ChildExit, Pid: pid}, nil
			}
		}
	}
}

// poll blocks on combined readiness with no timeout. The controlling
// pipe participates only while it is still open.
func (l *Loop) poll() error {
	pfds := make([]unix.PollFd, 0, 3)
	pfds = append(pfds, unix.PollFd{Fd: int32(l.source.FD()), Events: unix.POLLIN})

	stdinIndex := -1
	if l.stdinFD >= 0 && !l.stdinClosed {
		stdinIndex = len(pfds)
		pfds = append(pfds, unix.PollFd{Fd: int32(l.stdinFD), Events: unix.POLLIN})
	}
	watchdogIndex := -1
	if l.watchdogFD >= 0 {
		watchdogIndex = len(pfds)
		pfds = append(pfds, unix.PollFd{Fd: int32(l.watchdogFD), Events: unix.POLLIN})
	}

	for {
		_, err := unix.Poll(pfds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return errdefs.Sys("poll", err)
		}
		break
	}

	// POLLHUP, POLLERR, and POLLNVAL all count as readiness: the
	// follow-up read resolves what actually happened.
	if pfds[0].Revents != 0 {
		l.signalPending = true
	}
	if stdinIndex >= 0 && pfds[stdinIndex].Revents != 0 {
		l.stdinPending = true
	}
	if watchdogIndex >= 0 && pfds[watchdogIndex].Revents != 0 {
		l.watchdogPending = true
	}
	return nil
}

// consumeStdin discards controlling-pipe input until end-of-data or
// "would block". Reports true when the pipe should be considered
// closed. Any error other than EAGAIN is treated as closure — an
// unreadable pipe must never be treated as "still open", or the
// supervisor would hang forever on a broken descriptor — but the
// distinction is logged rather than silently lost.
func (l *Loop) consumeStdin() bool {
	var scratch [4096]byte
	for {
		n, err := unix.Read(l.stdinFD, scratch[:])
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return false
		case err != nil:
			l.logger.Warn("read error on controlling pipe, treating as closure", "error", err)
			return true
		case n == 0:
			return true
		}
		// Bytes received are discarded by protocol.
	}
}

// drainWatchdog consumes the timer descriptor's expiration count so it
// does not stay readable forever.
func (l *Loop) drainWatchdog() {
	var buf [8]byte
	_, err := unix.Read(l.watchdogFD, buf[:])
	if err != nil && err != unix.EAGAIN {
		l.logger.Warn("drain watchdog timer", "error", err)
	}
}
