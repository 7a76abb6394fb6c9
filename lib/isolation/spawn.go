// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package isolation

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/zackw/openvpn-netns-tools/lib/errdefs"
	"github.com/zackw/openvpn-netns-tools/lib/subprocess"
)

// StageMarker is the hidden first argument that routes a re-invocation
// of the helper into ExecStage.
const StageMarker = "__runas"

// Start launches the isolated program. The launch is two-stage:
// Go offers no hook between fork and exec, and resource limits must
// be installed after the credential swap but before the program runs,
// so the child is this same binary re-invoked with StageMarker. The
// kernel applies the credential swap and the fresh process group at
// spawn; the intermediate stage applies the limits and execs the real
// program. Stdio is inherited: the isolated program talks to whatever
// the operator connected.
func Start(ident *Identity, home string, environ []string, limits *Limits, argv []string) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, errdefs.Sys("locate own executable", err)
	}

	stageArgs := []string{StageMarker}
	stageArgs = append(stageArgs, limits.Specs()...)
	stageArgs = append(stageArgs, "--")
	stageArgs = append(stageArgs, argv...)

	groups := make([]uint32, len(ident.Groups))
	for i, gid := range ident.Groups {
		groups[i] = uint32(gid)
	}

	cmd := exec.Command(exe, stageArgs...)
	cmd.Dir = home
	cmd.Env = environ
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{
			Uid:    uint32(ident.UID),
			Gid:    uint32(ident.GID),
			Groups: groups,
		},
		Setpgid: true,
	}
	if err := cmd.Start(); err != nil {
		return nil, errdefs.Sys("spawn "+argv[0], err)
	}
	return cmd, nil
}

// ExecStage is the intermediate stage: already running under the
// target credentials, it installs the resource limits and replaces
// itself with the program. args is everything after StageMarker.
func ExecStage(args []string) error {
	split := -1
	for i, arg := range args {
		if arg == "--" {
			split = i
			break
		}
	}
	if split < 0 || split == len(args)-1 {
		return fmt.Errorf("malformed stage arguments %v", args)
	}
	if err := ApplyLimits(args[:split]); err != nil {
		return err
	}
	argv := args[split+1:]
	path, err := subprocess.LookPath(argv[0])
	if err != nil {
		return err
	}
	return errdefs.Sys("exec "+argv[0], unix.Exec(path, argv, os.Environ()))
}
