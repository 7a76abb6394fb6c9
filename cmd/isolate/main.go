// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

// isolate runs a program under a freshly allocated uid with a fresh
// home directory, optionally confined to a network namespace and a
// resource budget.
//
// Usage:
//
//	isolate [VAR=value...] PROGRAM [ARGS...]
//
// Leading VAR=value arguments are added to the program's environment,
// except that names starting with ISOL_ configure the helper itself:
// ISOL_HOME, ISOL_LOW_UID, ISOL_HIGH_UID, ISOL_NETNS, and ISOL_RL_*
// for resource limits (ISOL_RL_CPU, ISOL_RL_MEM, ISOL_RL_WALL, and so
// on). Controls ride the command line, never the ambient environment:
// a setuid helper takes policy only from arguments it can see. An
// unrecognized ISOL_ name is fatal.
//
// The program runs in its own process group with inherited stdio;
// isolate exits with the program's exit status (128+N for death by
// signal N). On a terminating signal, or when the ISOL_RL_WALL budget
// expires, the whole process group is terminated with escalation and
// the home directory is removed.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/zackw/openvpn-netns-tools/lib/cleanup"
	"github.com/zackw/openvpn-netns-tools/lib/clock"
	"github.com/zackw/openvpn-netns-tools/lib/config"
	"github.com/zackw/openvpn-netns-tools/lib/errdefs"
	"github.com/zackw/openvpn-netns-tools/lib/isolation"
	"github.com/zackw/openvpn-netns-tools/lib/subprocess"
	"github.com/zackw/openvpn-netns-tools/lib/supervise"
	"github.com/zackw/openvpn-netns-tools/lib/version"
)

func main() {
	if len(os.Args) == 2 && os.Args[1] == "--version" {
		fmt.Printf("isolate %s\n", version.Info())
		return
	}
	if len(os.Args) > 1 && os.Args[1] == isolation.StageMarker {
		// Intermediate stage: already under the target credentials.
		if err := isolation.ExecStage(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "isolate: %v\n", err)
			os.Exit(127)
		}
		return // unreachable: ExecStage does not return on success
	}

	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "isolate: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

func run(args []string) (int, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadSystem()
	if err != nil {
		return 0, err
	}
	inv, err := isolation.ParseInvocation(args, cfg.Isolate)
	if err != nil {
		return 0, err
	}

	// Namespace confinement is by re-exec under ip-netns(8), stripped
	// of the control that requested it, so the re-invocation cannot
	// recurse. This happens while we still hold root.
	if inv.Netns != "" {
		return 0, reexecInNetns(inv.Netns, args)
	}

	token, err := supervise.Setup()
	if err != nil {
		return 0, err
	}
	env := subprocess.NewEnv(subprocess.Options{
		OrigMask: token.OrigMask(),
		Logger:   logger,
	})

	allocator := &isolation.Allocator{
		HomeRoot: inv.HomeRoot,
		LowUID:   inv.LowUID,
		HighUID:  inv.HighUID,
	}
	ident, err := allocator.Allocate()
	if err != nil {
		return 0, err
	}

	builder := &isolation.HomeBuilder{Root: inv.HomeRoot, Logger: logger}
	home, err := builder.Create(ident)
	if err != nil {
		return 0, err
	}
	stack := cleanup.NewStack(logger)
	stack.Push("home directory", func() error {
		builder.Destroy(home)
		return nil
	})

	environ := append([]string{}, env.Vars()...)
	environ = append(environ, isolation.ChildEnviron(ident, home)...)
	environ = append(environ, inv.ExtraEnv...)

	child, err := isolation.Start(ident, home, environ, inv.Limits, inv.Argv)
	if err != nil {
		stack.Unwind()
		return 0, err
	}
	terminator := &isolation.GroupTerminator{
		Clock:  clock.Real(),
		Logger: logger,
	}
	stack.Push("process group", func() error {
		terminator.Terminate(child.Process.Pid)
		return nil
	})

	watchdogFD := supervise.NoFD
	if wall, ok := inv.Limits.Wall(); ok {
		watchdogFD, err = isolation.NewWatchdogFD(wall)
		if err != nil {
			stack.Unwind()
			return 0, err
		}
	}

	loop, err := supervise.NewLoop(supervise.LoopConfig{
		Source:     token.Source(),
		StdinFD:    supervise.NoFD, // stdin belongs to the program
		WatchdogFD: watchdogFD,
		Logger:     logger,
	})
	if err != nil {
		stack.Unwind()
		return 0, err
	}

	code := wait(loop, child, logger)
	stack.Unwind()
	return code, nil
}

// wait runs the event loop until the program exits or a shutdown
// trigger ends the run early, and returns the exit code to mirror.
func wait(loop *supervise.Loop, child *exec.Cmd, logger *slog.Logger) int {
	for {
		event, err := loop.Next()
		if err != nil {
			logger.Error("event loop failed", "error", err)
			return reap(child)
		}
		switch event.Kind {
		case supervise.ChildExit:
			if event.Pid == child.Process.Pid {
				return reap(child)
			}
			logger.Warn("unexpected child exit", "pid", event.Pid)
		case supervise.TermSignal:
			logger.Info("terminating signal received, shutting down",
				"signal", event.String())
			return shutdownCode
		case supervise.WatchdogExpired:
			logger.Warn("wall-clock limit exceeded, shutting down")
			return shutdownCode
		default:
			logger.Warn("unexpected event", "event", event.String())
		}
	}
}

// shutdownCode is reported when the run was cut short before the
// program exited on its own. The process group is terminated by the
// cleanup stack right after.
const shutdownCode = 1

// reap collects the program's exit status and converts it to the code
// isolate mirrors: the exit status itself, or 128+N for signal N.
func reap(child *exec.Cmd) int {
	err := child.Wait()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}
	return 1
}

// reexecInNetns replaces the process with itself wrapped in
// ip netns exec, minus the ISOL_NETNS control.
func reexecInNetns(name string, args []string) error {
	exe, err := os.Executable()
	if err != nil {
		return errdefs.Sys("locate own executable", err)
	}
	ipPath, err := subprocess.LookPath("ip")
	if err != nil {
		return err
	}
	argv := []string{"ip", "netns", "exec", name, exe}
	for _, arg := range args {
		if strings.HasPrefix(arg, "ISOL_NETNS=") {
			continue
		}
		argv = append(argv, arg)
	}
	return errdefs.Sys("exec ip netns", unix.Exec(ipPath, argv, os.Environ()))
}
