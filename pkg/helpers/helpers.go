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

package helpers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Default service directories. These are fixed rather than XDG-derived
// because the service runs as a dedicated system user on the kiosk.
const (
	DefaultConfigDir = "/etc/usb-defender"
	DefaultDataDir   = "/var/lib/usb-defender"
	DefaultLogDir    = "/var/log/usb-defender"
	DefaultMountBase = "/media/usb-defender"
)

// Contains returns true if slice contains value.
func Contains[T comparable](xs []T, x T) bool {
	for i := range xs {
		if xs[i] == x {
			return true
		}
	}
	return false
}

// HasExtension reports whether the filename's extension (without the dot,
// case-insensitive) is in exts.
func HasExtension(name string, exts []string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return false
	}
	return Contains(exts, ext)
}

// EnsureDirs creates each directory with mode 0755 if it does not exist.
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		err := os.MkdirAll(dir, 0o755)
		if err != nil {
			return fmt.Errorf("error creating directory %s: %w", dir, err)
		}
	}
	return nil
}

// CopyFile copies the file at src to dst, creating parent directories as
// needed, and syncs the destination before returning.
func CopyFile(src, dst string) error {
	err := os.MkdirAll(filepath.Dir(dst), 0o755)
	if err != nil {
		return fmt.Errorf("error creating destination directory: %w", err)
	}

	in, err := os.Open(src) //nolint:gosec
	if err != nil {
		return fmt.Errorf("error opening source file: %w", err)
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.Create(dst) //nolint:gosec
	if err != nil {
		return fmt.Errorf("error creating destination file: %w", err)
	}

	_, err = out.ReadFrom(in)
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("error copying file contents: %w", err)
	}

	err = out.Sync()
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("error syncing destination file: %w", err)
	}

	return out.Close()
}
