// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

// Package statefile records which namespaces a running helper owns, in
// an atomically written on-disk ledger. The helpers guarantee teardown
// on every exit path they control, but an unblockable signal bypasses
// all cleanup; the ledger lets the next invocation notice and report
// the leak instead of leaving it invisible.
//
// The ledger is written atomically (temporary file, fsync, rename) so
// readers never see a partial state, and carries a timestamp so stale
// files from long-dead processes are not acted on.
package statefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// State is the ledger contents: which helper owns which namespaces.
type State struct {
	// Helper names the program that wrote the ledger, e.g.
	// "tunnel-ns".
	Helper string `cbor:"helper"`

	// Pid is the owning process, so a reader can tell a live owner
	// from a leak.
	Pid int `cbor:"pid"`

	// Namespaces lists owned namespace names in creation order.
	Namespaces []string `cbor:"namespaces"`

	// Timestamp is when the ledger was written. Check uses it to
	// discard ancient leftovers.
	Timestamp time.Time `cbor:"timestamp"`
}

// Write atomically writes the ledger: temporary file in the same
// directory, fsync, rename into place. Created with mode 0600; the
// parent directory must exist.
func Write(path string, state State) error {
	data, err := cbor.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling namespace ledger: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary ledger file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary ledger file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary ledger file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary ledger file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming ledger into place: %w", err)
	}

	// Make the rename durable across power loss.
	if parent, err := os.Open(filepath.Dir(path)); err == nil {
		parent.Sync()
		parent.Close()
	}

	return nil
}

// Read reads and parses a ledger. When the file does not exist the
// returned error wraps os.ErrNotExist (testable with errors.Is).
func Read(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}

	var state State
	if err := cbor.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("parsing ledger %s: %w", path, err)
	}
	return state, nil
}

// Check reads a ledger and reports whether it is recent enough to act
// on. A missing file is (zero, false, nil); a ledger older than maxAge
// is ignored the same way. Other errors (permissions, corruption) are
// returned so the caller can distinguish "no ledger" from "ledger
// unreadable".
func Check(path string, maxAge time.Duration) (State, bool, error) {
	state, err := Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, false, nil
		}
		return State{}, false, err
	}
	if time.Since(state.Timestamp) > maxAge {
		return State{}, false, nil
	}
	return state, true, nil
}

// Clear removes the ledger. Idempotent: a missing file is success.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing ledger: %w", err)
	}
	return nil
}
