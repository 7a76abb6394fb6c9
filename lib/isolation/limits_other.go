// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package isolation

import (
	"golang.org/x/sys/unix"

	"github.com/zackw/openvpn-netns-tools/lib/errdefs"
)

// ApplyLimits relies on Linux-only resources (MSGQUEUE, NICE, RTPRIO).
func ApplyLimits(specs []string) error {
	_ = specs
	return errdefs.Sys("setrlimit", unix.ENOSYS)
}
