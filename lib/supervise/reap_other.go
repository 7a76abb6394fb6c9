// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package supervise

// PollNextChild reports no reapable children. The non-destructive
// waitid(WNOWAIT) query is only wired up on Linux, which is the only
// platform the namespace helpers run on; here the event loop simply
// clears its children-pending flag and resumes waiting.
func PollNextChild() (pid int, ok bool, err error) {
	return 0, false, nil
}
