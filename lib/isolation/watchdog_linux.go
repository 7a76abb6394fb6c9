// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package isolation

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/zackw/openvpn-netns-tools/lib/errdefs"
)

// NewWatchdogFD arms a one-shot monotonic timer that becomes readable
// after d. The descriptor plugs into the event loop as its watchdog
// source; closing it disarms the timer.
func NewWatchdogFD(d time.Duration) (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC,
		unix.TFD_NONBLOCK|unix.TFD_CLOEXEC)
	if err != nil {
		return -1, errdefs.Sys("timerfd_create", err)
	}
	spec := unix.ItimerSpec{Value: unix.NsecToTimespec(d.Nanoseconds())}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return -1, errdefs.Sys("timerfd_settime", err)
	}
	return fd, nil
}
