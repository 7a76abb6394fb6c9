// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package isolation

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/zackw/openvpn-netns-tools/lib/errdefs"
)

var rlimitResources = map[string]int{
	"CPU":      unix.RLIMIT_CPU,
	"CORE":     unix.RLIMIT_CORE,
	"FSIZE":    unix.RLIMIT_FSIZE,
	"NOFILE":   unix.RLIMIT_NOFILE,
	"NPROC":    unix.RLIMIT_NPROC,
	"STACK":    unix.RLIMIT_STACK,
	"MEMLOCK":  unix.RLIMIT_MEMLOCK,
	"MSGQUEUE": unix.RLIMIT_MSGQUEUE,
	"NICE":     unix.RLIMIT_NICE,
	"RTPRIO":   unix.RLIMIT_RTPRIO,
}

// memResources are the resources a MEM spec fans out to. RLIMIT_RSS
// is set for completeness even though modern kernels ignore it.
var memResources = []int{unix.RLIMIT_AS, unix.RLIMIT_DATA, unix.RLIMIT_RSS}

// ApplyLimits installs the limits named by Specs-format strings into
// the calling process, immediately before it execs the isolated
// program. Both soft and hard limits are set so the program cannot
// raise them back.
func ApplyLimits(specs []string) error {
	for _, spec := range specs {
		name, value, ok := strings.Cut(spec, "=")
		if !ok {
			return fmt.Errorf("malformed limit spec %q", spec)
		}
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return &errdefs.ParseError{Want: "nonnegative integer", Input: value, Err: err}
		}
		lim := &unix.Rlimit{Cur: n, Max: n}
		if name == "MEM" {
			for _, res := range memResources {
				if err := unix.Setrlimit(res, lim); err != nil {
					return errdefs.Sys("setrlimit MEM", err)
				}
			}
			continue
		}
		res, ok := rlimitResources[name]
		if !ok {
			return fmt.Errorf("unknown resource limit %q", name)
		}
		if err := unix.Setrlimit(res, lim); err != nil {
			return errdefs.Sys("setrlimit "+name, err)
		}
	}
	return nil
}
