// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package supervise

import (
	"golang.org/x/sys/unix"

	"github.com/zackw/openvpn-netns-tools/lib/errdefs"
)

// terminationSignals is the set of catchable signals whose default
// action is to terminate the process without a core dump. Everything
// else keeps its default disposition: SIGKILL and SIGSTOP cannot be
// caught, SIGTSTP/SIGTTIN/SIGTTOU suspend rather than terminate,
// SIGURG and SIGWINCH are ignored by default, and the fatal-exception
// and abort signals (SIGABRT, SIGBUS, SIGFPE, SIGILL, SIGQUIT,
// SIGSEGV, SIGSYS, SIGTRAP, SIGXCPU, SIGXFSZ) must crash normally
// rather than appear to hang.
func terminationSignals() []unix.Signal {
	return []unix.Signal{
		unix.SIGHUP,
		unix.SIGINT,
		unix.SIGPIPE,
		unix.SIGALRM,
		unix.SIGTERM,
		unix.SIGUSR1,
		unix.SIGUSR2,
		unix.SIGVTALRM,
		unix.SIGPROF,
		unix.SIGIO,
		unix.SIGPWR,
		unix.SIGSTKFLT,
	}
}

// platformSetup routes the terminating set (plus SIGCHLD) through the
// self-pipe relay. A signalfd over a blocked mask would be the obvious
// kernel-native choice, but it cannot be made safe under a managed
// runtime: a signal mask is per-thread, the runtime creates threads
// that never inherit the supervisor thread's mask, and a
// process-directed signal delivered to any unmasked thread takes its
// default action and kills the process before the descriptor ever
// becomes readable. The runtime's own signal plumbing is the only
// delivery path that covers every thread, so the relay subscribes
// through it and forwards each occurrence as one byte down the pipe.
//
// The pre-existing mask is still captured for the Token; nothing is
// blocked.
func platformSetup() (*Token, error) {
	var origMask unix.Sigset_t
	if err := unix.PthreadSigmask(unix.SIG_SETMASK, nil, &origMask); err != nil {
		return nil, errdefs.Sys("sigprocmask", err)
	}

	sigs := append(terminationSignals(), unix.SIGCHLD)
	source, err := newRelaySource(sigs)
	if err != nil {
		return nil, err
	}
	return &Token{origMask: origMask, source: source}, nil
}

// CloseStdout closes fd 1 and covers it with a duplicate of stderr, so
// anything accidentally written to stdout afterwards lands on stderr
// instead of a recycled descriptor. The output protocol requires this:
// closing stdout is how a helper signals "setup complete" to the
// process at the other end of the pipe.
func CloseStdout() error {
	// fd 1 is gone even if close reports an error; log-and-continue
	// is the caller's policy for that case.
	closeErr := unix.Close(1)
	if err := unix.Dup3(2, 1, 0); err != nil {
		// Low-level descriptor state is now inconsistent; nothing
		// sensible can continue.
		return errdefs.Sys("dup stderr over stdout", err)
	}
	return errdefs.Sys("close stdout", closeErr)
}
