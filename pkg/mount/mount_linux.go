// USB Defender Core
// Copyright (c) 2026 The USB Defender Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of USB Defender Core.
//
// USB Defender Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// USB Defender Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with USB Defender Core.  If not, see <http://www.gnu.org/licenses/>.

//go:build linux

package mount

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

const protectiveFlags = unix.MS_NOEXEC | unix.MS_NODEV | unix.MS_NOSUID

// LinuxMounter mounts devices under Base using mount(2) directly, so the
// protective flags are part of the mount call itself rather than a later
// remount that could be skipped.
type LinuxMounter struct {
	// Base is the directory mountpoints are created under.
	Base string
	// Fstypes are the filesystem types tried in order.
	Fstypes []string
}

func NewLinuxMounter(base string, fstypes []string) *LinuxMounter {
	return &LinuxMounter{Base: base, Fstypes: fstypes}
}

func (m *LinuxMounter) MountSource(ctx context.Context, node string) (*Handle, error) {
	return m.mount(ctx, node, "src", unix.MS_RDONLY|protectiveFlags, true)
}

func (m *LinuxMounter) MountOutput(ctx context.Context, node string) (*Handle, error) {
	return m.mount(ctx, node, "out", protectiveFlags, false)
}

func (m *LinuxMounter) mount(
	ctx context.Context, node, kind string, flags uintptr, readOnly bool,
) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("mount cancelled: %w", err)
	}

	target := filepath.Join(m.Base, kind+"-"+filepath.Base(node))
	if err := os.MkdirAll(target, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create mountpoint: %w", err)
	}

	var lastErr error
	for _, fstype := range m.Fstypes {
		err := unix.Mount(node, target, fstype, flags, "")
		if err != nil {
			lastErr = err
			continue
		}

		if err := verifyFlags(target, flags); err != nil {
			log.Error().
				Err(err).
				Str("node", node).
				Str("fstype", fstype).
				Msg("mounted without required flags, unmounting")
			if umountErr := unix.Unmount(target, 0); umountErr != nil {
				log.Warn().Err(umountErr).Str("target", target).Msg("failed to unmount rejected mount")
			}
			removeMountpoint(target)
			return nil, fmt.Errorf("%w: %s", ErrMountDenied, node)
		}

		log.Info().
			Str("node", node).
			Str("target", target).
			Str("fstype", fstype).
			Bool("read_only", readOnly).
			Msg("device mounted with enforced flags")

		return &Handle{
			Node:     node,
			Path:     target,
			Fstype:   fstype,
			ReadOnly: readOnly,
		}, nil
	}

	removeMountpoint(target)
	if lastErr == nil {
		return nil, fmt.Errorf("%w: no filesystem types configured", ErrMountDenied)
	}
	return nil, fmt.Errorf("%w: %s: %s", ErrMountDenied, node, lastErr)
}

func (m *LinuxMounter) Unmount(handle *Handle) error {
	if handle == nil {
		return nil
	}

	err := unix.Unmount(handle.Path, 0)
	if err != nil {
		// a yanked device may already be gone, or busy; detach lazily
		log.Warn().
			Err(err).
			Str("target", handle.Path).
			Msg("unmount failed, retrying with detach")
		err = unix.Unmount(handle.Path, unix.MNT_DETACH)
	}

	removeMountpoint(handle.Path)

	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to unmount %s: %w", handle.Path, err)
	}
	return nil
}

// verifyFlags checks the live superblock flags of a mountpoint against the
// flags that were requested.
func verifyFlags(target string, flags uintptr) error {
	var st unix.Statfs_t
	if err := unix.Statfs(target, &st); err != nil {
		return fmt.Errorf("failed to statfs mountpoint: %w", err)
	}

	checks := []struct {
		name  string
		mount uintptr
		stat  int64
	}{
		{"ro", unix.MS_RDONLY, unix.ST_RDONLY},
		{"noexec", unix.MS_NOEXEC, unix.ST_NOEXEC},
		{"nodev", unix.MS_NODEV, unix.ST_NODEV},
		{"nosuid", unix.MS_NOSUID, unix.ST_NOSUID},
	}
	for _, check := range checks {
		if flags&check.mount == 0 {
			continue
		}
		if st.Flags&check.stat == 0 {
			return fmt.Errorf("mount flag %s not in effect", check.name)
		}
	}
	return nil
}

func removeMountpoint(target string) {
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Str("target", target).Msg("failed to remove mountpoint")
	}
}
