// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

// Package subprocess is the single execution boundary of the helper
// suite: every external command — the ip(8) namespace tooling, the VPN
// client, the isolated program — is launched through it.
//
// Children never inherit the ambient environment. An [Env] is built
// from nothing, copying forward only an explicit allow-list of keys
// (terminal type, timezone, locale family) plus a fixed search path,
// so nothing the operator happened to have exported leaks into a
// privileged child. Standard input is always connected to /dev/null so
// a child can never interfere with the supervisor's own controlling
// pipe.
//
// Dry-run mode substitutes /bin/true for the real executable while
// still logging the intended command line, letting an operator audit
// the exact privileged actions with no side effects.
package subprocess

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"unicode/utf8"

	"golang.org/x/sys/unix"

	"github.com/zackw/openvpn-netns-tools/lib/errdefs"
)

// searchPath is the fixed PATH given to every child. Privileged
// children must not search operator-controlled directories.
const searchPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// dryRunExecutable replaces the real executable in dry-run mode. It
// must be a no-op that exits 0 regardless of arguments.
const dryRunExecutable = "/bin/true"

// preservedKeys are the only environment variables copied forward from
// the parent. LC_* is matched by prefix.
var preservedKeys = []string{"TERM", "TZ", "LANG"}

// Env is the execution context shared by every spawned child: the
// sanitized environment, the signal mask captured before the helpers
// blocked their own, and the verbose/dry-run flags. It is immutable
// after construction and shared by reference for the life of the
// process.
type Env struct {
	vars    []string
	mask    unix.Sigset_t
	verbose bool
	dryRun  bool
	logger  *slog.Logger
}

// Options configures NewEnv.
type Options struct {
	// Verbose logs every command line before it runs.
	Verbose bool

	// DryRun substitutes /bin/true for every executable.
	DryRun bool

	// Extra holds additional KEY=VALUE pairs for the child
	// environment, overriding any preserved key of the same name.
	Extra []string

	// OrigMask is the process signal mask captured before the
	// supervisor blocked terminating signals, as returned by
	// supervise.Setup. Recorded so the context documents what mask
	// the children conceptually run under.
	OrigMask unix.Sigset_t

	// Logger receives command traces and teardown-side failures.
	// Defaults to slog.Default().
	Logger *slog.Logger
}

// NewEnv builds the sanitized execution context. The parent's
// environment contributes only TERM, TZ, LANG, and LC_*; PATH is fixed;
// Extra pairs override. Keys are unique and the result is sorted so
// the environment is deterministic run to run.
func NewEnv(opts Options) *Env {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if keyPreserved(key) {
			merged[key] = value
		}
	}
	merged["PATH"] = searchPath
	for _, kv := range opts.Extra {
		if key, value, ok := strings.Cut(kv, "="); ok {
			merged[key] = value
		}
	}

	vars := make([]string, 0, len(merged))
	for key, value := range merged {
		vars = append(vars, key+"="+value)
	}
	sort.Strings(vars)

	return &Env{
		vars:    vars,
		mask:    opts.OrigMask,
		verbose: opts.Verbose,
		dryRun:  opts.DryRun,
		logger:  logger,
	}
}

func keyPreserved(key string) bool {
	for _, want := range preservedKeys {
		if key == want {
			return true
		}
	}
	return strings.HasPrefix(key, "LC_")
}

// Vars returns the child environment as KEY=VALUE pairs in
// deterministic order. The caller must not modify the slice.
func (e *Env) Vars() []string { return e.vars }

// Verbose reports whether command tracing is enabled.
func (e *Env) Verbose() bool { return e.verbose }

// DryRun reports whether privileged side effects are suppressed.
func (e *Env) DryRun() bool { return e.dryRun }

// Logger returns the logger the context was built with.
func (e *Env) Logger() *slog.Logger { return e.logger }

// command assembles the exec.Cmd for argv under this context: empty
// stdin, replaced environment, dry-run substitution.
func (e *Env) command(argv []string) *exec.Cmd {
	if e.verbose || e.dryRun {
		e.logger.Info("exec", "cmdline", strings.Join(argv, " "))
	}
	exe := argv[0]
	if e.dryRun {
		exe = dryRunExecutable
	}
	cmd := exec.Command(exe, argv[1:]...)
	cmd.Env = e.vars
	cmd.Stdin = nil // /dev/null: exec.Cmd opens it when Stdin is nil
	return cmd
}

// classify converts a Wait outcome into the uniform child-failure
// error: nil for status 0, otherwise a ChildError recording the exit
// code or killing signal and the exact command line.
func classify(argv []string, err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return errdefs.NewChildError(argv, unix.WaitStatus(status))
		}
	}
	return errdefs.Sys("run "+argv[0], err)
}

// Run spawns argv with stdout and stderr inherited and waits for it.
// Any outcome other than exit status 0 is an error.
func (e *Env) Run(argv []string) error {
	cmd := e.command(argv)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return classify(argv, cmd.Run())
}

// RunIgnoreFailure runs argv and logs any failure instead of returning
// it. This is the teardown-side policy: destructors have no caller to
// report to.
func (e *Env) RunIgnoreFailure(argv []string) {
	if err := e.Run(argv); err != nil {
		e.logger.Error("command failed during teardown", "error", err)
	}
}

// Output runs argv with stdout captured and stderr inherited, and
// returns the captured bytes on success.
func (e *Env) Output(argv []string) ([]byte, error) {
	cmd := e.command(argv)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = os.Stderr
	if err := classify(argv, cmd.Run()); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// OutputPids runs argv and parses its stdout as a whitespace-separated
// list of process ids.
func (e *Env) OutputPids(argv []string) ([]int, error) {
	raw, err := e.Output(argv)
	if err != nil {
		return nil, err
	}
	return parsePids(raw)
}

func parsePids(raw []byte) ([]int, error) {
	if !utf8.Valid(raw) {
		return nil, &errdefs.ParseError{Want: "process id list", Input: string(raw)}
	}
	var pids []int
	for _, field := range strings.Fields(string(raw)) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			return nil, &errdefs.ParseError{Want: "process id", Input: field, Err: err}
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

// Spawn starts argv without waiting for it. The child's stdout is
// routed to stderr: long-running children like the VPN client must not
// write to the supervisor's stdout, which belongs to the readiness
// protocol. Any extra files are passed starting at descriptor 3. The
// caller owns the returned handle and is responsible for reaping.
func (e *Env) Spawn(argv []string, extra ...*os.File) (*exec.Cmd, error) {
	cmd := e.command(argv)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = extra
	if err := cmd.Start(); err != nil {
		return nil, errdefs.Sys("spawn "+argv[0], err)
	}
	return cmd, nil
}

// LookPath resolves an executable name against the fixed search path
// given to children, never against the ambient PATH.
func LookPath(name string) (string, error) {
	if strings.ContainsRune(name, '/') {
		return name, nil
	}
	for _, dir := range strings.Split(searchPath, ":") {
		candidate := dir + "/" + name
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
			return candidate, nil
		}
	}
	return "", errdefs.Sys("find "+name+" on fixed path", unix.ENOENT)
}
