// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

// Package errdefs defines the error types shared by the netns-tools
// helpers. Each type carries enough context for a one-line diagnostic on
// stderr: a failed child records its classified exit status and exact
// command line, a failed OS call records the operation that failed, and
// a parse failure records what the bad input was supposed to be.
//
// None of these errors are retried anywhere. Setup-phase callers
// propagate them and abort; teardown-phase callers log them and
// continue, because by the time teardown runs there is no one left to
// report to.
package errdefs

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// ChildError reports a child process that did not exit successfully.
// Exactly one of ExitCode >= 0 or Signal != 0 is set: a child either
// exited with a nonzero status or was killed by a signal.
type ChildError struct {
	// Cmdline is the full command line of the child, space-joined.
	Cmdline string

	// ExitCode is the child's exit status, or -1 when the child was
	// killed by a signal.
	ExitCode int

	// Signal is the signal that killed the child, or 0 when the child
	// exited on its own.
	Signal unix.Signal
}

func (e *ChildError) Error() string {
	if e.Signal != 0 {
		return fmt.Sprintf("child process '%s' killed by %s", e.Cmdline, unix.SignalName(e.Signal))
	}
	return fmt.Sprintf("child process '%s' exited unsuccessfully (code %d)", e.Cmdline, e.ExitCode)
}

// NewChildError builds a ChildError from a wait status and the command
// line that produced it.
func NewChildError(argv []string, status unix.WaitStatus) *ChildError {
	e := &ChildError{Cmdline: strings.Join(argv, " "), ExitCode: -1}
	if status.Signaled() {
		e.Signal = status.Signal()
	} else {
		e.ExitCode = status.ExitStatus()
	}
	return e
}

// SysError reports a failed OS-level call. Op names the failing
// operation in perror(3) style: "sigprocmask", "pipe",
// "poll stdin".
type SysError struct {
	Op  string
	Err error
}

func (e *SysError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *SysError) Unwrap() error { return e.Err }

// Sys wraps err as a SysError for the named operation. Returns nil when
// err is nil so call sites can wrap unconditionally.
func Sys(op string, err error) error {
	if err == nil {
		return nil
	}
	return &SysError{Op: op, Err: err}
}

// ParseError reports input that failed to parse: a pid enumeration
// yielding a non-integer token, or child output that is not valid
// UTF-8. Want names what the input was supposed to be; Input is the
// offending text.
type ParseError struct {
	Want  string
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s %q: %v", e.Want, e.Input, e.Err)
	}
	return fmt.Sprintf("invalid %s %q", e.Want, e.Input)
}

func (e *ParseError) Unwrap() error { return e.Err }
