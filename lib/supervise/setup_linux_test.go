// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package supervise

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

// A process-directed terminating signal must surface as an event
// rather than kill the process, even when the runtime has spawned
// threads beyond the one that ran setup. Delivery lands on an
// arbitrary thread, so the arrangement has to hold process-wide.
func TestSetupSurvivesProcessDirectedTermination(t *testing.T) {
	token, err := platformSetup()
	if err != nil {
		t.Fatalf("platformSetup: %v", err)
	}
	defer token.Source().Close()

	// Force extra threads into existence so the kernel has unrelated
	// candidates to deliver on.
	var wg sync.WaitGroup
	for i := 0; i < 2*runtime.NumCPU(); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runtime.LockOSThread()
			time.Sleep(10 * time.Millisecond)
		}()
	}
	wg.Wait()

	if err := unix.Kill(unix.Getpid(), unix.SIGTERM); err != nil {
		t.Fatalf("kill: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		sig, ok, err := token.Source().Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if ok && sig == unix.SIGTERM {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("SIGTERM never surfaced on the source")
		}
		time.Sleep(time.Millisecond)
	}
}

// Setup records the pre-existing mask without blocking anything; a
// blocked terminating set would leak into children spawned with the
// supervisor's disposition.
func TestSetupLeavesSignalMaskUntouched(t *testing.T) {
	var before unix.Sigset_t
	if err := unix.PthreadSigmask(unix.SIG_SETMASK, nil, &before); err != nil {
		t.Fatalf("sigprocmask: %v", err)
	}

	token, err := platformSetup()
	if err != nil {
		t.Fatalf("platformSetup: %v", err)
	}
	defer token.Source().Close()

	var after unix.Sigset_t
	if err := unix.PthreadSigmask(unix.SIG_SETMASK, nil, &after); err != nil {
		t.Fatalf("sigprocmask: %v", err)
	}
	if after != before {
		t.Fatalf("setup changed the thread signal mask: %v -> %v", before, after)
	}
	if token.OrigMask() != before {
		t.Fatalf("OrigMask = %v, want the pre-setup mask %v", token.OrigMask(), before)
	}
}
