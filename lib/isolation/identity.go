// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package isolation

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/zackw/openvpn-netns-tools/lib/errdefs"
)

// Identity names the credentials an isolated program runs under.
type Identity struct {
	UID      int
	GID      int
	Username string
	Shell    string
	// Groups holds supplementary group IDs from /etc/group for
	// identities that have a real passwd entry. Synthesized
	// identities have none.
	Groups []int
}

// Allocator finds a free uid within a half-inclusive-by-config range.
// A uid is considered free when no directory for its username exists
// under HomeRoot, so the home directory doubles as the allocation
// lock: creating it claims the identity.
type Allocator struct {
	HomeRoot string
	LowUID   int
	HighUID  int

	// PasswdPath and GroupPath default to the system databases.
	// Tests point them at fixtures.
	PasswdPath string
	GroupPath  string
}

func (a *Allocator) passwdPath() string {
	if a.PasswdPath != "" {
		return a.PasswdPath
	}
	return "/etc/passwd"
}

func (a *Allocator) groupPath() string {
	if a.GroupPath != "" {
		return a.GroupPath
	}
	return "/etc/group"
}

// Allocate scans the configured range from the bottom and returns the
// identity for the first uid whose home directory does not yet exist.
// The caller must create that directory before releasing whatever
// serializes concurrent allocators (in practice, helpers run one at a
// time per machine).
func (a *Allocator) Allocate() (*Identity, error) {
	if a.LowUID <= 0 || a.HighUID < a.LowUID {
		return nil, fmt.Errorf("invalid uid range %d-%d", a.LowUID, a.HighUID)
	}
	for uid := a.LowUID; uid <= a.HighUID; uid++ {
		ident, err := a.identityFor(uid)
		if err != nil {
			return nil, err
		}
		_, err = os.Stat(a.HomeRoot + "/" + ident.Username)
		if err == nil {
			continue // claimed
		}
		if !os.IsNotExist(err) {
			return nil, errdefs.Sys("stat "+a.HomeRoot+"/"+ident.Username, err)
		}
		return ident, nil
	}
	return nil, fmt.Errorf("no free uid in range %d-%d", a.LowUID, a.HighUID)
}

// identityFor honors the passwd entry for uid when one exists, except
// for the home directory, which is always ours to assign. Without an
// entry the identity is synthesized.
func (a *Allocator) identityFor(uid int) (*Identity, error) {
	ident, ok, err := lookupPasswd(a.passwdPath(), uid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Identity{
			UID:      uid,
			GID:      uid,
			Username: fmt.Sprintf("iso-%d", uid),
			Shell:    "/bin/sh",
		}, nil
	}
	groups, err := lookupGroups(a.groupPath(), ident.Username)
	if err != nil {
		return nil, err
	}
	ident.Groups = groups
	return ident, nil
}

// lookupPasswd scans a passwd-format file for the entry with the
// given uid. os/user is not used because it hides the login shell.
func lookupPasswd(path string, uid int) (*Identity, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errdefs.Sys("open "+path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 7 {
			continue
		}
		entryUID, err := strconv.Atoi(fields[2])
		if err != nil || entryUID != uid {
			continue
		}
		gid, err := strconv.Atoi(fields[3])
		if err != nil {
			continue
		}
		shell := fields[6]
		if shell == "" {
			shell = "/bin/sh"
		}
		return &Identity{
			UID:      uid,
			GID:      gid,
			Username: fields[0],
			Shell:    shell,
		}, true, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, false, errdefs.Sys("read "+path, err)
	}
	return nil, false, nil
}

// lookupGroups collects the gids of every group-format entry listing
// username as a member.
func lookupGroups(path string, username string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errdefs.Sys("open "+path, err)
	}
	defer f.Close()

	var groups []int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 4 {
			continue
		}
		gid, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		for _, member := range strings.Split(fields[3], ",") {
			if member == username {
				groups = append(groups, gid)
				break
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errdefs.Sys("read "+path, err)
	}
	return groups, nil
}
