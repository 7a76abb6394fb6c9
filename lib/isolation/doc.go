// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

// Package isolation implements the resources behind the isolate
// helper: a freshly allocated uid/gid identity, a just-created home
// directory, and a background process group, managed with the same
// scoped-resource discipline as network namespaces — construction
// compensates its own partial effects, teardown escalates from
// cooperative termination to a forced kill after a fixed grace
// interval and never aborts partway.
//
// The identity allocator probes a configured uid range. When the uid
// has a real /etc/passwd entry its username, primary group, and shell
// are honored (but never its home directory); otherwise the identity
// is synthesized as iso-NNNN with gid equal to uid and /bin/sh.
//
// The wall-clock watchdog is a timer descriptor fed into the shared
// event loop as a second readiness source; expiry surfaces as an
// ordinary event and triggers group termination like any other
// shutdown trigger.
package isolation
