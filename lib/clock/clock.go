// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time operations for testability. Production
// code injects Real(); tests inject Fake() so that the escalation grace
// interval in namespace teardown runs deterministically instead of
// stalling the test suite for real seconds.
package clock

import "time"

// Clock is the subset of the time package the helpers use. Every
// production function that would call time.Now, time.Sleep, or
// time.After accepts a Clock instead.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses the calling goroutine for at least duration d.
	Sleep(d time.Duration)

	// After returns a channel that receives the current time after
	// duration d elapses.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) Sleep(d time.Duration)                  { time.Sleep(d) }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
