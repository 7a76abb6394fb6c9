// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

// Package netns manages the lifecycle of network namespaces as scoped
// resources: creation either completes fully or compensates its own
// partial effects before reporting failure, and teardown runs every
// step unconditionally — a partially-torn-down namespace is worse than
// a slow one, because it leaks invisibly.
//
// All privileged operations go through the external ip(8) tool via the
// subprocess execution boundary; the only direct syscalls are the
// terminate/kill requests sent to processes still resident in a
// namespace during teardown.
package netns

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"golang.org/x/sys/unix"

	"github.com/zackw/openvpn-netns-tools/lib/cleanup"
	"github.com/zackw/openvpn-netns-tools/lib/clock"
	"github.com/zackw/openvpn-netns-tools/lib/errdefs"
)

// DefaultConfigRoot is where per-namespace configuration directories
// live. ip-netns(8) bind-mounts the files under /etc/netns/<name>
// over /etc for processes entering the namespace.
const DefaultConfigRoot = "/etc/netns"

// terminationGrace is the fixed interval between the cooperative
// SIGTERM round and the escalated SIGKILL round during teardown. It is
// the only bounded sleep in the system.
const terminationGrace = 5 * time.Second

// Runner is the slice of the subprocess execution boundary the manager
// needs. *subprocess.Env satisfies it.
type Runner interface {
	Run(argv []string) error
	RunIgnoreFailure(argv []string)
	OutputPids(argv []string) ([]int, error)
}

// namePattern constrains namespace names to a single safe path
// component: they appear under /etc/netns and on ip(8) command lines.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidName reports whether name is acceptable as a namespace name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// runtimeDir is where ip-netns(8) keeps the namespace bind mounts.
const runtimeDir = "/run/netns"

// Exists reports whether the named namespace is currently present.
func Exists(name string) bool {
	_, err := os.Stat(filepath.Join(runtimeDir, name))
	return err == nil
}

// Config configures a Manager.
type Config struct {
	// Runner executes the external namespace tooling. Required.
	Runner Runner

	// Clock provides the grace-interval sleep. Nil means the real
	// clock.
	Clock clock.Clock

	// Logger receives teardown diagnostics. Nil means slog.Default().
	Logger *slog.Logger

	// ConfigRoot overrides DefaultConfigRoot. Tests point it at a
	// temporary directory.
	ConfigRoot string

	// Kill overrides the signal-delivery primitive. Nil means
	// unix.Kill.
	Kill func(pid int, sig unix.Signal) error

	// DryRun suppresses the manager's direct filesystem effects (the
	// per-namespace configuration directory), logging the intended
	// action instead. The external tooling is already neutered by the
	// runner's own dry-run substitution; this covers the steps that
	// never leave the process.
	DryRun bool
}

// Manager creates and destroys network namespaces.
type Manager struct {
	run        Runner
	clock      clock.Clock
	logger     *slog.Logger
	configRoot string
	kill       func(pid int, sig unix.Signal) error
	dryRun     bool
}

// New builds a Manager.
func New(cfg Config) *Manager {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	configRoot := cfg.ConfigRoot
	if configRoot == "" {
		configRoot = DefaultConfigRoot
	}
	kill := cfg.Kill
	if kill == nil {
		kill = func(pid int, sig unix.Signal) error { return unix.Kill(pid, sig) }
	}
	return &Manager{
		run:        cfg.Runner,
		clock:      clk,
		logger:     logger,
		configRoot: configRoot,
		kill:       kill,
		dryRun:     cfg.DryRun,
	}
}

func (m *Manager) configDir(name string) string {
	return filepath.Join(m.configRoot, name)
}

// Create brings the named namespace from absent to owned: make its
// configuration directory, create the namespace, bring loopback up.
// Failure after the namespace became externally visible triggers
// compensating deletion before the error is returned, so a successful
// Create always means fully usable — the caller arms teardown only on
// success.
func (m *Manager) Create(name string) error {
	if !ValidName(name) {
		return &errdefs.ParseError{Want: "namespace name", Input: name}
	}

	dir := m.configDir(name)
	if m.dryRun {
		m.logger.Info("mkdir", "path", dir)
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return errdefs.Sys("mkdir "+dir, err)
	}

	if err := m.run.Run([]string{"ip", "netns", "add", name}); err != nil {
		m.removeConfigDir(name)
		return err
	}

	if err := m.run.Run([]string{"ip", "netns", "exec", name, "ip", "link", "set", "dev", "lo", "up"}); err != nil {
		// The namespace is already externally visible and the
		// general destructor is not armed yet: compensate here.
		m.run.RunIgnoreFailure([]string{"ip", "netns", "delete", name})
		m.removeConfigDir(name)
		return err
	}

	return nil
}

// Destroy tears the named namespace down: terminate resident
// processes (escalating from SIGTERM to SIGKILL after the grace
// interval), bring loopback down, delete the namespace, remove its
// configuration directory. Every step runs even when an earlier one
// failed; failures are logged, never returned, because by the time
// teardown runs there is no caller left to report to.
func (m *Manager) Destroy(name string) {
	m.TerminateResidents(name)
	m.run.RunIgnoreFailure([]string{"ip", "netns", "exec", name, "ip", "link", "set", "dev", "lo", "down"})
	m.run.RunIgnoreFailure([]string{"ip", "netns", "delete", name})
	m.removeConfigDir(name)
}

// TerminateResidents terminates every process inside the named
// namespace with escalation: SIGTERM to all, the grace interval, then
// SIGKILL to whatever is still there. A namespace with no residents
// skips the grace interval. Used on its own by supervisors that share
// a namespace they do not own.
func (m *Manager) TerminateResidents(name string) {
	pids := m.residentPids(name)
	if len(pids) == 0 {
		return
	}
	for _, pid := range pids {
		m.signal(pid, unix.SIGTERM)
	}
	m.clock.Sleep(terminationGrace)
	for _, pid := range m.residentPids(name) {
		m.signal(pid, unix.SIGKILL)
	}
}

// residentPids enumerates processes currently inside the namespace.
// Enumeration failure is logged and reported as empty: teardown must
// proceed regardless.
func (m *Manager) residentPids(name string) []int {
	pids, err := m.run.OutputPids([]string{"ip", "netns", "pids", name})
	if err != nil {
		m.logger.Error("enumerating namespace processes", "namespace", name, "error", err)
		return nil
	}
	return pids
}

// signal delivers sig to pid, ignoring "no such process": the process
// may legitimately have exited on its own since enumeration.
func (m *Manager) signal(pid int, sig unix.Signal) {
	if err := m.kill(pid, sig); err != nil && err != unix.ESRCH {
		m.logger.Warn("signaling namespace process", "pid", pid, "signal", unix.SignalName(sig), "error", err)
	}
}

func (m *Manager) removeConfigDir(name string) {
	if m.dryRun {
		m.logger.Info("rm -r", "path", m.configDir(name))
		return
	}
	if err := os.RemoveAll(m.configDir(name)); err != nil {
		m.logger.Error("removing namespace config directory", "namespace", name, "error", err)
	}
}

// CreateAll creates count namespaces named prefix_ns0 through
// prefix_ns<count-1>, in that order, calling announce after each one
// becomes owned. On failure partway through, everything already
// created is destroyed in reverse order before the error is returned.
// On success the returned stack holds one teardown action per
// namespace; Unwind runs them in reverse creation order.
func (m *Manager) CreateAll(prefix string, count int, announce func(name string)) ([]string, *cleanup.Stack, error) {
	stack := cleanup.NewStack(m.logger)
	names := make([]string, 0, count)

	for i := 0; i < count; i++ {
		name := fmt.Sprintf("%s_ns%d", prefix, i)
		if err := m.Create(name); err != nil {
			stack.Unwind()
			return nil, nil, fmt.Errorf("creating namespace %s: %w", name, err)
		}
		stack.Push(name, func() error {
			m.Destroy(name)
			return nil
		})
		names = append(names, name)
		if announce != nil {
			announce(name)
		}
	}

	return names, stack, nil
}
