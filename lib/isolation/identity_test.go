// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package isolation

import (
	"os"
	"path/filepath"
	"testing"
)

const passwdFixture = `root:x:0:0:root:/root:/bin/bash
daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin
carol:x:2001:100:Carol:/home/carol:/bin/zsh
noshell:x:2002:2002::/home/noshell:
`

const groupFixture = `root:x:0:
users:x:100:carol,dave
audio:x:29:carol
video:x:44:dave
`

func fixtureAllocator(t *testing.T, low, high int) *Allocator {
	t.Helper()
	dir := t.TempDir()
	passwd := filepath.Join(dir, "passwd")
	group := filepath.Join(dir, "group")
	if err := os.WriteFile(passwd, []byte(passwdFixture), 0o644); err != nil {
		t.Fatalf("writing passwd fixture: %v", err)
	}
	if err := os.WriteFile(group, []byte(groupFixture), 0o644); err != nil {
		t.Fatalf("writing group fixture: %v", err)
	}
	return &Allocator{
		HomeRoot:   filepath.Join(dir, "home"),
		LowUID:     low,
		HighUID:    high,
		PasswdPath: passwd,
		GroupPath:  group,
	}
}

func TestAllocateHonorsPasswdEntry(t *testing.T) {
	a := fixtureAllocator(t, 2001, 2010)
	ident, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if ident.UID != 2001 || ident.GID != 100 {
		t.Errorf("got uid %d gid %d, want 2001/100", ident.UID, ident.GID)
	}
	if ident.Username != "carol" {
		t.Errorf("got username %q, want carol", ident.Username)
	}
	if ident.Shell != "/bin/zsh" {
		t.Errorf("got shell %q, want /bin/zsh", ident.Shell)
	}
	if len(ident.Groups) != 2 || ident.Groups[0] != 100 || ident.Groups[1] != 29 {
		t.Errorf("got supplementary groups %v, want [100 29]", ident.Groups)
	}
}

func TestAllocateSynthesizesIdentity(t *testing.T) {
	a := fixtureAllocator(t, 2500, 2510)
	ident, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if ident.UID != 2500 || ident.GID != 2500 {
		t.Errorf("got uid %d gid %d, want 2500/2500", ident.UID, ident.GID)
	}
	if ident.Username != "iso-2500" {
		t.Errorf("got username %q, want iso-2500", ident.Username)
	}
	if ident.Shell != "/bin/sh" {
		t.Errorf("got shell %q, want /bin/sh", ident.Shell)
	}
	if ident.Groups != nil {
		t.Errorf("synthesized identity has groups %v", ident.Groups)
	}
}

func TestAllocateSkipsClaimedHomes(t *testing.T) {
	a := fixtureAllocator(t, 2500, 2510)
	if err := os.MkdirAll(filepath.Join(a.HomeRoot, "iso-2500"), 0o700); err != nil {
		t.Fatalf("claiming uid 2500: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(a.HomeRoot, "iso-2501"), 0o700); err != nil {
		t.Fatalf("claiming uid 2501: %v", err)
	}
	ident, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if ident.UID != 2502 {
		t.Errorf("got uid %d, want 2502", ident.UID)
	}
}

func TestAllocateExhaustedRange(t *testing.T) {
	a := fixtureAllocator(t, 2500, 2501)
	for _, name := range []string{"iso-2500", "iso-2501"} {
		if err := os.MkdirAll(filepath.Join(a.HomeRoot, name), 0o700); err != nil {
			t.Fatalf("claiming %s: %v", name, err)
		}
	}
	if _, err := a.Allocate(); err == nil {
		t.Fatal("Allocate succeeded with no free uid")
	}
}

func TestAllocateRejectsBadRange(t *testing.T) {
	a := fixtureAllocator(t, 3000, 2000)
	if _, err := a.Allocate(); err == nil {
		t.Fatal("Allocate accepted inverted range")
	}
}

func TestPasswdEntryWithEmptyShell(t *testing.T) {
	a := fixtureAllocator(t, 2002, 2002)
	ident, err := a.Allocate()
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if ident.Shell != "/bin/sh" {
		t.Errorf("got shell %q, want /bin/sh fallback", ident.Shell)
	}
}
