// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package isolation

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/zackw/openvpn-netns-tools/lib/errdefs"
)

// The recognized resource-limit names. Most map one-for-one onto
// setrlimit resources; MEM fans out to every memory-related resource
// and WALL is enforced by the supervisor's watchdog timer rather than
// by the kernel.
var limitNames = map[string]bool{
	"CPU":      true,
	"CORE":     true,
	"FSIZE":    true,
	"NOFILE":   true,
	"NPROC":    true,
	"STACK":    true,
	"MEMLOCK":  true,
	"MSGQUEUE": true,
	"NICE":     true,
	"RTPRIO":   true,
	"MEM":      true,
	"WALL":     true,
}

// Limits accumulates the resource budget for an isolated program.
type Limits struct {
	entries map[string]uint64
}

func NewLimits() *Limits {
	return &Limits{entries: make(map[string]uint64)}
}

// Set records one limit from its textual form. The name must be one
// of the recognized resources and the value a decimal count (seconds,
// bytes, or a plain number depending on the resource).
func (l *Limits) Set(name, value string) error {
	if !limitNames[name] {
		return fmt.Errorf("unknown resource limit %q", name)
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return &errdefs.ParseError{Want: "nonnegative integer", Input: value, Err: err}
	}
	l.entries[name] = n
	return nil
}

// Wall reports the wall-clock budget, if one was set. It is excluded
// from Specs because it is enforced in the parent, not the child.
func (l *Limits) Wall() (time.Duration, bool) {
	n, ok := l.entries["WALL"]
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// Specs renders the kernel-enforced limits as sorted NAME=value
// strings, the form carried across the re-exec boundary to the stage
// that applies them.
func (l *Limits) Specs() []string {
	specs := make([]string, 0, len(l.entries))
	for name, value := range l.entries {
		if name == "WALL" {
			continue
		}
		specs = append(specs, name+"="+strconv.FormatUint(value, 10))
	}
	sort.Strings(specs)
	return specs
}
