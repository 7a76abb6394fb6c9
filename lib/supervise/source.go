// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package supervise

import "golang.org/x/sys/unix"

// Source is a readiness-backed stream of signal occurrences. The
// descriptor returned by FD becomes readable when at least one blocked
// signal is pending; Next then drains them one at a time.
//
// Next returning ok == false means "none pending right now", never
// "none will ever arrive" — the caller goes back to polling FD.
type Source interface {
	// FD returns the pollable descriptor backing the source.
	FD() int

	// Next returns the next pending signal. ok is false when the
	// source is drained for now.
	Next() (sig unix.Signal, ok bool, err error)

	// Close releases the source's descriptors. The source is
	// unusable afterwards.
	Close() error
}
