// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package isolation

// ChildEnviron builds the variables describing the isolated identity
// for the program's environment. They are layered over the scrubbed
// base environment, before any caller-supplied assignments.
func ChildEnviron(ident *Identity, home string) []string {
	return []string{
		"HOME=" + home,
		"USER=" + ident.Username,
		"LOGNAME=" + ident.Username,
		"SHELL=" + ident.Shell,
		"PWD=" + home,
		"TMPDIR=" + home + "/.tmp",
	}
}
