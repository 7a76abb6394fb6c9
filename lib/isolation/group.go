// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package isolation

import (
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"

	"github.com/zackw/openvpn-netns-tools/lib/clock"
)

// terminationGrace is how long a process group gets between the
// cooperative SIGTERM and the forced SIGKILL.
const terminationGrace = 5 * time.Second

// GroupTerminator shuts down an entire process group with the same
// escalation used for namespace residents: SIGTERM, a grace interval,
// then SIGKILL to whatever survived.
type GroupTerminator struct {
	Clock  clock.Clock
	Logger *slog.Logger
	// Kill defaults to unix.Kill. Tests substitute a recorder.
	Kill func(pid int, sig unix.Signal) error
}

func (t *GroupTerminator) kill(pgid int, sig unix.Signal) error {
	fn := t.Kill
	if fn == nil {
		fn = unix.Kill
	}
	return fn(-pgid, sig)
}

// Terminate escalates against pgid's process group. If the group is
// already empty the grace interval is skipped entirely. Errors are
// logged and swallowed: teardown never aborts.
func (t *GroupTerminator) Terminate(pgid int) {
	if pgid <= 1 {
		// Refuse pgid 0 ("our own group") and 1; a bug here
		// must not take down the caller or the whole system.
		t.Logger.Warn("refusing to terminate process group", "pgid", pgid)
		return
	}
	err := t.kill(pgid, unix.SIGTERM)
	if errors.Is(err, unix.ESRCH) {
		return // nobody left, skip the grace interval
	}
	if err != nil {
		t.Logger.Warn("signaling process group failed",
			"pgid", pgid, "signal", "TERM", "error", err)
	}
	t.Clock.Sleep(terminationGrace)
	err = t.kill(pgid, unix.SIGKILL)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		t.Logger.Warn("signaling process group failed",
			"pgid", pgid, "signal", "KILL", "error", err)
	}
}
