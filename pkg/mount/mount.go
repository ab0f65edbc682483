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

// Package mount mounts removable devices with enforced protective flags.
// Source devices are mounted read-only; both source and output mounts get
// noexec, nodev and nosuid. If the kernel cannot honor the flags the mount
// is refused outright rather than degraded.
package mount

import (
	"context"
	"errors"
)

// ErrMountDenied is returned when a device could not be mounted with the
// required protective flags. The device must not be used.
var ErrMountDenied = errors.New("mount with enforced flags denied")

// Handle describes an active mount created by a Mounter.
type Handle struct {
	// Node is the block device path that was mounted.
	Node string
	// Path is the mountpoint.
	Path string
	// Fstype is the filesystem type that succeeded.
	Fstype string
	// ReadOnly is true for source mounts.
	ReadOnly bool
}

// Mounter mounts and unmounts removable devices with enforced flags.
type Mounter interface {
	// MountSource mounts node read-only with noexec, nodev and nosuid.
	// Returns ErrMountDenied if the flags cannot be enforced.
	MountSource(ctx context.Context, node string) (*Handle, error)

	// MountOutput mounts node writable with noexec, nodev and nosuid.
	// Returns ErrMountDenied if the flags cannot be enforced.
	MountOutput(ctx context.Context, node string) (*Handle, error)

	// Unmount unmounts a handle. Unmount is best-effort: a device yanked
	// mid-session leaves nothing to unmount and that is not an error.
	Unmount(handle *Handle) error
}
