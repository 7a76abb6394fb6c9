// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

// Package cleanup maintains an explicit ordered list of pending
// teardown actions for privileged resources. A helper pushes one action
// the moment a resource becomes fully owned; on any exit path, normal
// or error, Unwind pops and runs them in reverse push order.
//
// Teardown actions have no caller to report errors to — by the time
// they run, the program's exit code is already decided — so Unwind logs
// failures and keeps going. A partially-unwound stack would leak
// privileged resources, which is strictly worse than a noisy teardown.
package cleanup

import "log/slog"

type action struct {
	name string
	fn   func() error
}

// Stack is an ordered list of pending teardown actions. It is not safe
// for concurrent use; the helpers drive it from a single goroutine.
type Stack struct {
	logger  *slog.Logger
	actions []action
}

// NewStack returns an empty Stack that logs teardown failures through
// logger.
func NewStack(logger *slog.Logger) *Stack {
	return &Stack{logger: logger}
}

// Push registers a teardown action for a resource that just became
// owned. The name identifies the resource in teardown failure logs.
func (s *Stack) Push(name string, fn func() error) {
	s.actions = append(s.actions, action{name: name, fn: fn})
}

// Len reports the number of pending actions.
func (s *Stack) Len() int { return len(s.actions) }

// Unwind pops and runs every pending action in reverse push order.
// Failures are logged and never stop the unwind. Calling Unwind again
// after it returns is a no-op: each action runs at most once.
func (s *Stack) Unwind() {
	for i := len(s.actions) - 1; i >= 0; i-- {
		a := s.actions[i]
		if err := a.fn(); err != nil {
			s.logger.Error("teardown failed", "resource", a.name, "error", err)
		}
	}
	s.actions = s.actions[:0]
}
