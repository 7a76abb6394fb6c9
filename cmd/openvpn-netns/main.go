// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

// openvpn-netns brings up an OpenVPN tunnel serving an existing
// network namespace.
//
// Usage:
//
//	openvpn-netns [--verbose] [--dry-run] NAMESPACE CONFIG [ARGS...]
//
// NAMESPACE must already exist (tunnel-ns creates suitable ones).
// CONFIG is an OpenVPN configuration file; ARGS are appended to the
// OpenVPN command line. The VPN client is spawned with hooks that
// re-invoke this binary to move the tun device into the namespace and
// configure it. Once the tunnel is up the program writes READY to its
// stdout and closes it, then waits. Stdin closure or a terminating
// signal shuts the tunnel down and terminates every process still in
// the namespace; the namespace itself is left for its owner to
// delete. The VPN client dying on its own triggers the same teardown
// but a nonzero exit, since the tunnel collapsed rather than being
// asked to stop. All VPN client output goes to stderr.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sys/unix"

	"github.com/zackw/openvpn-netns-tools/lib/config"
	"github.com/zackw/openvpn-netns-tools/lib/errdefs"
	"github.com/zackw/openvpn-netns-tools/lib/netns"
	"github.com/zackw/openvpn-netns-tools/lib/subprocess"
	"github.com/zackw/openvpn-netns-tools/lib/supervise"
	"github.com/zackw/openvpn-netns-tools/lib/version"
)

// stopGrace is how long the VPN client gets to exit after SIGTERM
// before it is killed.
const stopGrace = 5 * time.Second

func main() {
	if len(os.Args) >= 3 {
		switch os.Args[1] {
		case "__up", "__route-up", "__down":
			if err := runHook(os.Args[1], os.Args[2]); err != nil {
				fmt.Fprintf(os.Stderr, "openvpn-netns hook: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "openvpn-netns: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("openvpn-netns", pflag.ContinueOnError)
	verbose := flags.BoolP("verbose", "v", false, "log every external command")
	dryRun := flags.BoolP("dry-run", "n", false, "log commands without running them")
	showVersion := flags.Bool("version", false, "print version and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *showVersion {
		fmt.Printf("openvpn-netns %s\n", version.Info())
		return nil
	}
	rest := flags.Args()
	if len(rest) < 2 {
		return fmt.Errorf("usage: openvpn-netns [--verbose] [--dry-run] NAMESPACE CONFIG [ARGS...]")
	}
	name := rest[0]
	vpnConfig := rest[1]
	vpnArgs := rest[2:]
	if !netns.ValidName(name) {
		return fmt.Errorf("invalid namespace name %q", name)
	}
	if !*dryRun && !netns.Exists(name) {
		return fmt.Errorf("namespace %s does not exist", name)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadSystem()
	if err != nil {
		return err
	}

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

	exe, err := os.Executable()
	if err != nil {
		return errdefs.Sys("locate own executable", err)
	}

	// The route-up hook reports tunnel readiness over an inherited
	// pipe; descriptor 3 in the VPN client, named to the hook through
	// OpenVPN's script environment.
	readyRead, readyWrite, err := os.Pipe()
	if err != nil {
		return errdefs.Sys("create readiness pipe", err)
	}
	defer readyRead.Close()

	argv := []string{"openvpn", "--config", vpnConfig}
	argv = append(argv, vpnArgs...)
	argv = append(argv,
		"--ifconfig-noexec", "--route-noexec",
		"--script-security", "2",
		"--setenv", "NETNS_READY_FD", "3",
		"--up", exe+" __up "+name,
		"--route-up", exe+" __route-up "+name,
		"--down", exe+" __down "+name,
	)
	vpn, err := env.Spawn(argv, readyWrite)
	readyWrite.Close()
	if err != nil {
		return err
	}

	manager := netns.New(netns.Config{
		Runner:     env,
		Logger:     logger,
		ConfigRoot: cfg.Tunnel.ConfigRoot,
	})

	if !*dryRun {
		if err := awaitTunnel(int(readyRead.Fd()), token.Source(), vpn.Process.Pid); err != nil {
			stopVPN(vpn, logger)
			manager.TerminateResidents(name)
			return err
		}
	}

	fmt.Println("READY")
	if err := supervise.CloseStdout(); err != nil {
		logger.Warn("closing stdout failed", "error", err)
	}

	loop, err := supervise.NewLoop(supervise.LoopConfig{
		Source:     token.Source(),
		StdinFD:    0,
		WatchdogFD: supervise.NoFD,
		Logger:     logger,
	})
	if err == nil {
		err = wait(loop, vpn.Process.Pid, logger)
	}

	stopVPN(vpn, logger)
	manager.TerminateResidents(name)
	return err
}

// eventLoop is the slice of the supervisory loop wait consumes.
// *supervise.Loop satisfies it.
type eventLoop interface {
	Next() (supervise.Event, error)
}

// wait runs the event loop until a shutdown trigger arrives. Stdin
// closure and terminating signals are orderly shutdowns; the VPN
// client dying underneath us means the tunnel collapsed, which the
// consumer learns through our nonzero exit.
func wait(loop eventLoop, vpnPid int, logger *slog.Logger) error {
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
			if event.Pid == vpnPid {
				return fmt.Errorf("VPN client exited unexpectedly")
			}
			logger.Warn("unexpected child exit", "pid", event.Pid)
		default:
			logger.Warn("unexpected event", "event", event.String())
		}
	}
}

// awaitTunnel blocks until the route-up hook reports readiness on
// readyFD, a terminating signal arrives, or the VPN client exits. Only
// the first is success.
func awaitTunnel(readyFD int, source supervise.Source, vpnPid int) error {
	pfds := []unix.PollFd{
		{Fd: int32(readyFD), Events: unix.POLLIN},
		{Fd: int32(source.FD()), Events: unix.POLLIN},
	}
	for {
		pfds[0].Revents = 0
		pfds[1].Revents = 0
		if _, err := unix.Poll(pfds, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			return errdefs.Sys("poll for tunnel readiness", err)
		}
		if pfds[0].Revents != 0 {
			var buf [64]byte
			n, err := unix.Read(readyFD, buf[:])
			if err == nil && n > 0 {
				return nil
			}
			// EOF: every copy of the write end is gone, so the
			// client exited without ever reporting readiness.
			return fmt.Errorf("VPN client exited before the tunnel came up")
		}
		if pfds[1].Revents != 0 {
			for {
				sig, ok, err := source.Next()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				if sig != unix.SIGCHLD {
					return fmt.Errorf("interrupted by signal %s while waiting for the tunnel", unix.SignalName(sig))
				}
				pid, exited, err := supervise.PollNextChild()
				if err == nil && exited && pid == vpnPid {
					return fmt.Errorf("VPN client exited before the tunnel came up")
				}
			}
		}
	}
}

// stopVPN terminates the VPN client with escalation and reaps it.
func stopVPN(vpn *exec.Cmd, logger *slog.Logger) {
	if vpn.Process == nil {
		return
	}
	if err := vpn.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Warn("signaling VPN client failed", "error", err)
	}
	done := make(chan error, 1)
	go func() { done <- vpn.Wait() }()
	select {
	case <-done:
	case <-time.After(stopGrace):
		logger.Warn("VPN client ignored SIGTERM, killing it")
		if err := vpn.Process.Kill(); err != nil {
			logger.Warn("killing VPN client failed", "error", err)
		}
		<-done
	}
}
