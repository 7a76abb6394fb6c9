// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package isolation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/zackw/openvpn-netns-tools/lib/config"
	"github.com/zackw/openvpn-netns-tools/lib/errdefs"
	"github.com/zackw/openvpn-netns-tools/lib/netns"
)

// A leading argument is a variable assignment if it looks like one;
// everything from the first non-assignment onward is the program and
// its arguments.
var assignPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// Invocation is a fully parsed isolate command line: the policy
// controls stripped out of the leading assignments, the remaining
// assignments to pass through to the program, and the program itself.
type Invocation struct {
	HomeRoot string
	LowUID   int
	HighUID  int
	Netns    string
	Limits   *Limits
	ExtraEnv []string
	Argv     []string
}

// ParseInvocation splits args into leading VAR=value assignments and
// the program to run. Assignments whose name starts with ISOL_ are
// controls for the helper itself and never reach the program;
// unrecognized ISOL_ names are an error so a typo cannot silently
// weaken isolation. Defaults come from the loaded configuration.
func ParseInvocation(args []string, defaults config.IsolateConfig) (*Invocation, error) {
	inv := &Invocation{
		HomeRoot: defaults.HomeRoot,
		LowUID:   defaults.LowUID,
		HighUID:  defaults.HighUID,
		Limits:   NewLimits(),
	}
	i := 0
	for ; i < len(args); i++ {
		if !assignPattern.MatchString(args[i]) {
			break
		}
		name, value, _ := strings.Cut(args[i], "=")
		if !strings.HasPrefix(name, "ISOL_") {
			inv.ExtraEnv = append(inv.ExtraEnv, args[i])
			continue
		}
		if err := inv.setControl(name, value); err != nil {
			return nil, err
		}
	}
	if i == len(args) {
		return nil, fmt.Errorf("no program to run")
	}
	inv.Argv = args[i:]
	if inv.LowUID <= 0 || inv.HighUID < inv.LowUID {
		return nil, fmt.Errorf("invalid uid range %d-%d", inv.LowUID, inv.HighUID)
	}
	return inv, nil
}

func (inv *Invocation) setControl(name, value string) error {
	switch name {
	case "ISOL_HOME":
		if value == "" {
			return fmt.Errorf("ISOL_HOME must not be empty")
		}
		inv.HomeRoot = value
	case "ISOL_LOW_UID":
		n, err := strconv.Atoi(value)
		if err != nil {
			return &errdefs.ParseError{Want: "uid", Input: value, Err: err}
		}
		inv.LowUID = n
	case "ISOL_HIGH_UID":
		n, err := strconv.Atoi(value)
		if err != nil {
			return &errdefs.ParseError{Want: "uid", Input: value, Err: err}
		}
		inv.HighUID = n
	case "ISOL_NETNS":
		if !netns.ValidName(value) {
			return fmt.Errorf("invalid namespace name %q", value)
		}
		inv.Netns = value
	default:
		if rest, ok := strings.CutPrefix(name, "ISOL_RL_"); ok {
			return inv.Limits.Set(rest, value)
		}
		return fmt.Errorf("unrecognized control variable %s", name)
	}
	return nil
}
