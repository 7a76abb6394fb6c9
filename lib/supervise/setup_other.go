// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package supervise

import (
	"golang.org/x/sys/unix"

	"github.com/zackw/openvpn-netns-tools/lib/errdefs"
)

// terminationSignals is the set of catchable signals whose default
// action is to terminate the process without a core dump, minus the
// Linux-only SIGPWR and SIGSTKFLT which do not exist here.
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
	}
}

// platformSetup routes the terminating set (plus SIGCHLD) through the
// self-pipe relay. The relay channel is buffered so occurrences are
// not lost while the pipe is full. No original mask is recorded:
// Sigset_t layouts differ per platform and nothing here consults it.
func platformSetup() (*Token, error) {
	sigs := append(terminationSignals(), unix.SIGCHLD)
	source, err := newRelaySource(sigs)
	if err != nil {
		return nil, err
	}
	return &Token{source: source}, nil
}

// CloseStdout closes fd 1 and covers it with a duplicate of stderr.
// See the Linux variant for why.
func CloseStdout() error {
	closeErr := unix.Close(1)
	if err := unix.Dup2(2, 1); err != nil {
		return errdefs.Sys("dup stderr over stdout", err)
	}
	return errdefs.Sys("close stdout", closeErr)
}
