// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package isolation

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/zackw/openvpn-netns-tools/lib/errdefs"
)

// NewWatchdogFD needs timerfd, which only Linux provides.
func NewWatchdogFD(d time.Duration) (int, error) {
	_ = d
	return -1, errdefs.Sys("watchdog timer", unix.ENOSYS)
}
