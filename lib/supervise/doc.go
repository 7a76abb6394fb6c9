// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervise is the shared supervisory substrate of the helper
// suite. Each helper runs indefinitely as a privileged supervisor and
// must observe a narrow set of external events — the controlling pipe
// closing, a terminating signal, a child exiting, a watchdog expiring —
// without losing any of them to adversarial timing, and then unwind its
// privileged resources.
//
// [Setup] establishes, once and before any other goroutine exists, the
// process-wide signal handling this requires: it computes the set of
// catchable signals whose default action is to terminate the process
// without a core dump, arranges for their occurrences to surface on a
// readiness-pollable [Source], and returns a [Token] capturing the
// original signal mask. Signals outside that set (fatal CPU exceptions,
// explicit aborts, job control) keep their default disposition so
// genuine crashes crash instead of appearing to hang.
//
// The Source is a pipe-relay: one background goroutine subscribes to
// the set through the runtime's signal plumbing and forwards each
// occurrence as one byte down a pipe (the self-pipe technique). The
// runtime's delivery path is the only one that covers every thread of
// the process, so it is the mechanism on every platform. Callers only
// ever see the read contract.
//
// [Loop] multiplexes the Source with the controlling pipe (and
// optionally a watchdog timer) into a single ordered event stream: one
// event per call, no event ever produced twice, no readiness edge ever
// dropped. SIGCHLD is never surfaced directly; it marks children as
// possibly reapable, resolved through the non-destructive reap query
// [PollNextChild] so that whichever component holds a child's handle
// still gets to collect its exit status.
package supervise
