// Copyright 2026 The Netns Tools Authors
// SPDX-License-Identifier: Apache-2.0

package isolation

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zackw/openvpn-netns-tools/lib/errdefs"
)

// HomeBuilder creates and destroys per-identity home directories.
// Chown is injectable so tests can run unprivileged.
type HomeBuilder struct {
	Root   string
	Logger *slog.Logger
	Chown  func(path string, uid, gid int) error
}

func (b *HomeBuilder) chown(path string, uid, gid int) error {
	if b.Chown != nil {
		return b.Chown(path, uid, gid)
	}
	return os.Chown(path, uid, gid)
}

// Create makes the home directory and a private .tmp inside it, both
// mode 0700 and owned by the identity. Any failure after the first
// mkdir removes everything this call created; on error the filesystem
// is as it was before.
func (b *HomeBuilder) Create(ident *Identity) (string, error) {
	home := filepath.Join(b.Root, ident.Username)
	if err := os.Mkdir(home, 0o700); err != nil {
		return "", errdefs.Sys("mkdir "+home, err)
	}
	if err := b.populate(home, ident); err != nil {
		if rmErr := os.RemoveAll(home); rmErr != nil {
			b.Logger.Warn("cleanup of partial home directory failed",
				"path", home, "error", rmErr)
		}
		return "", err
	}
	return home, nil
}

func (b *HomeBuilder) populate(home string, ident *Identity) error {
	tmp := filepath.Join(home, ".tmp")
	if err := os.Mkdir(tmp, 0o700); err != nil {
		return errdefs.Sys("mkdir "+tmp, err)
	}
	if err := b.chown(home, ident.UID, ident.GID); err != nil {
		return errdefs.Sys("chown "+home, err)
	}
	if err := b.chown(tmp, ident.UID, ident.GID); err != nil {
		return errdefs.Sys("chown "+tmp, err)
	}
	return nil
}

// Destroy removes the home directory tree. Failures are logged, not
// returned: teardown runs to completion regardless.
func (b *HomeBuilder) Destroy(home string) {
	if err := os.RemoveAll(home); err != nil {
		b.Logger.Warn("removing home directory failed",
			"path", home, "error", err)
	}
}
