// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package supervise

import (
	"sync"

	"golang.org/x/sys/unix"

	"github.com/zackw/openvpn-netns-tools/lib/errdefs"
)

// Token is evidence that Setup has run: the process-wide signal
// handling is established and a Source is live. It carries the
// pre-setup mask so spawned children can be given the original
// disposition. Threading the Token through call sites makes the
// one-time ordering requirement explicit instead of hiding it in
// initialization order.
type Token struct {
	origMask unix.Sigset_t
	source   Source
}

// Source returns the signal source selected at setup.
func (t *Token) Source() Source { return t.source }

// OrigMask returns the signal mask the process had when Setup ran,
// recorded so spawned children can be handed the pre-setup state.
func (t *Token) OrigMask() unix.Sigset_t { return t.origMask }

var setupOnce sync.Once

// Setup arranges for every catchable terminating signal (plus SIGCHLD,
// for reap notification) to surface on the returned Token's Source, a
// relay goroutine feeding a self-pipe. Callers depend only on the
// Source contract, never on the mechanism backing it.
//
// Setup must be called exactly once, before any other goroutine is
// started, so the signal arrangements apply process-wide before any
// concurrent worker can observe the wrong ones. A second call fails.
func Setup() (*Token, error) {
	var token *Token
	var err error
	ran := false
	setupOnce.Do(func() {
		ran = true
		token, err = platformSetup()
	})
	if !ran {
		return nil, errdefs.Sys("supervise setup called twice", unix.EALREADY)
	}
	return token, err
}
