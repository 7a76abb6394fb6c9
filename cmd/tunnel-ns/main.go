// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

// tunnel-ns creates a batch of network namespaces and holds them open
// until told to stop.
//
// Usage:
//
//	tunnel-ns [--verbose] [--dry-run] [--config FILE] PREFIX N
//
// The program creates namespaces PREFIX_ns0 through PREFIX_ns(N-1),
// prints each name on its own line as it becomes usable, and then
// closes stdout: the closed stream is the "setup complete" signal for
// whoever spawned us. It then waits. Closing its stdin, or any
// catchable terminating signal, triggers teardown of every namespace
// in reverse creation order, after which it exits 0. Bytes written to
// stdin are discarded.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/zackw/openvpn-netns-tools/lib/config"
	"github.com/zackw/openvpn-netns-tools/lib/netns"
	"github.com/zackw/openvpn-netns-tools/lib/statefile"
	"github.com/zackw/openvpn-netns-tools/lib/subprocess"
	"github.com/zackw/openvpn-netns-tools/lib/supervise"
	"github.com/zackw/openvpn-netns-tools/lib/version"
)

// ledgerStaleAfter bounds how old a leftover namespace ledger can be
// and still be worth warning about.
const ledgerStaleAfter = 24 * time.Hour

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "tunnel-ns: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("tunnel-ns", pflag.ContinueOnError)
	verbose := flags.BoolP("verbose", "v", false, "log every external command")
	dryRun := flags.BoolP("dry-run", "n", false, "log commands without running them")
	configPath := flags.StringP("config", "c", "", "configuration file")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Printf("tunnel-ns %s\n", version.Info())
		return nil
	}
	rest := flags.Args()
	if len(rest) != 2 {
		return fmt.Errorf("usage: tunnel-ns [--verbose] [--dry-run] [--config FILE] PREFIX N")
	}
	prefix := rest[0]
	if !netns.ValidName(prefix) {
		return fmt.Errorf("invalid namespace prefix %q", prefix)
	}
	count, err := strconv.Atoi(rest[1])
	if err != nil || count < 1 {
		return fmt.Errorf("namespace count must be a positive integer, got %q", rest[1])
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	}

	// Signal arrangements come first, before anything can spawn a
	// goroutine or a child.
	token, err := supervise.Setup()
	if err != nil {
		return err
	}

	env := subprocess.NewEnv(subprocess.Options{
		Verbose:  *verbose,
		DryRun:   *dryRun,
		OrigMask: token.OrigMask(),
		Logger:   logger,
	})

	manager := netns.New(netns.Config{
		Runner:     env,
		Logger:     logger,
		ConfigRoot: cfg.Tunnel.ConfigRoot,
		DryRun:     *dryRun,
	})

	return serve(serveDeps{
		manager: manager,
		logger:  logger,
		stdout:  os.Stdout,
		closeStdout: func() error {
			return supervise.CloseStdout()
		},
		newLoop: func() (eventLoop, error) {
			return supervise.NewLoop(supervise.LoopConfig{
				Source:     token.Source(),
				StdinFD:    0,
				WatchdogFD: supervise.NoFD,
				Logger:     logger,
			})
		},
		ledger: filepath.Join(cfg.Tunnel.StateDir, "tunnel-ns.state"),
		dryRun: *dryRun,
	}, prefix, count)
}

// eventLoop is the slice of the supervisory loop serve consumes.
// *supervise.Loop satisfies it.
type eventLoop interface {
	Next() (supervise.Event, error)
}

// serveDeps are the process-boundary pieces serve touches, split out
// so they can be substituted under test.
type serveDeps struct {
	manager     *netns.Manager
	logger      *slog.Logger
	stdout      io.Writer
	closeStdout func() error
	newLoop     func() (eventLoop, error)
	ledger      string
	dryRun      bool
}

// serve does everything after argument and signal setup: create the
// namespaces in order, announce each name, record the ledger, close
// stdout, and hold until a shutdown trigger unwinds it all.
func serve(deps serveDeps, prefix string, count int) error {
	if prev, live, err := statefile.Check(deps.ledger, ledgerStaleAfter); err != nil {
		deps.logger.Warn("namespace ledger unreadable", "path", deps.ledger, "error", err)
	} else if live {
		deps.logger.Warn("previous instance may have leaked namespaces",
			"pid", prev.Pid, "namespaces", prev.Namespaces)
	}

	names, stack, err := deps.manager.CreateAll(prefix, count, func(name string) {
		fmt.Fprintln(deps.stdout, name)
	})
	if err != nil {
		return err
	}

	writeLedger(deps, names)

	// All names are out; the closed stream tells the consumer setup
	// is complete.
	if err := deps.closeStdout(); err != nil {
		deps.logger.Warn("closing stdout failed", "error", err)
	}

	loop, err := deps.newLoop()
	if err != nil {
		stack.Unwind()
		return err
	}

	waitErr := wait(loop, deps.logger)

	stack.Unwind()
	clearLedger(deps)
	return waitErr
}

// writeLedger records the created namespaces for post-mortem leak
// diagnosis. A missing ledger only degrades that diagnosis; the
// namespaces themselves are fine, so failures are logged, not
// returned. Dry-run logs the intended write instead of touching the
// state directory.
func writeLedger(deps serveDeps, names []string) {
	if deps.dryRun {
		deps.logger.Info("write ledger", "path", deps.ledger, "namespaces", names)
		return
	}
	if err := os.MkdirAll(filepath.Dir(deps.ledger), 0o755); err != nil {
		deps.logger.Warn("creating state directory failed", "error", err)
	}
	if err := statefile.Write(deps.ledger, statefile.State{
		Helper:     "tunnel-ns",
		Pid:        os.Getpid(),
		Namespaces: names,
		Timestamp:  time.Now(),
	}); err != nil {
		deps.logger.Warn("writing namespace ledger failed", "error", err)
	}
}

func clearLedger(deps serveDeps) {
	if deps.dryRun {
		deps.logger.Info("clear ledger", "path", deps.ledger)
		return
	}
	if err := statefile.Clear(deps.ledger); err != nil {
		deps.logger.Warn("clearing namespace ledger failed", "error", err)
	}
}

// wait runs the event loop until a shutdown trigger arrives.
func wait(loop eventLoop, logger *slog.Logger) error {
	for {
		event, err := loop.Next()
		if err != nil {
			return err
		}
		switch event.Kind {
		case supervise.StdinClosed:
			logger.Info("controlling pipe closed, shutting down")
			return nil
		case supervise.TermSignal:
			logger.Info("terminating signal received, shutting down",
				"signal", event.String())
			return nil
		case supervise.ChildExit:
			// We spawn only short-lived ip(8) commands, which
			// are reaped synchronously; anything surfacing here
			// is a race worth knowing about.
			logger.Warn("unexpected child exit", "pid", event.Pid)
		default:
			logger.Warn("unexpected event", "event", event.String())
		}
	}
}
