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

package config

import "time"

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = enabled
}

// MaxFileSize returns the per-file size limit in bytes.
func (c *Instance) MaxFileSize() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(c.vals.Files.MaxSizeMB) * 1024 * 1024
}

// MaxTotalSize returns the per-session total size limit in bytes.
func (c *Instance) MaxTotalSize() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int64(c.vals.Files.MaxTotalSizeMB) * 1024 * 1024
}

func (c *Instance) AllowedExtensions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	exts := make([]string, len(c.vals.Files.AllowedExtensions))
	copy(exts, c.vals.Files.AllowedExtensions)
	return exts
}

func (c *Instance) BlockedExtensions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	exts := make([]string, len(c.vals.Files.BlockedExtensions))
	copy(exts, c.vals.Files.BlockedExtensions)
	return exts
}

func (c *Instance) ScannerSocket() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Scanner.Socket
}

func (c *Instance) ScannerTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Scanner.TimeoutSecs) * time.Second
}

func (c *Instance) Conversion() Conversion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Conversion
}

func (c *Instance) ConversionTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Conversion.TimeoutSecs) * time.Second
}

func (c *Instance) TransferMethod() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Transfer.Method
}

func (c *Instance) SetTransferMethod(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.Transfer.Method = method
}

func (c *Instance) LocalTarget() LocalTarget {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Transfer.Local
}

func (c *Instance) NetworkTarget() NetworkTarget {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Transfer.Network
}

func (c *Instance) CloudTarget() CloudTarget {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Transfer.Cloud
}

func (c *Instance) MountBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Devices.MountBase
}

func (c *Instance) Filesystems() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fs := make([]string, len(c.vals.Devices.Filesystems))
	copy(fs, c.vals.Devices.Filesystems)
	return fs
}

func (c *Instance) IdentityTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Devices.IdentityTimeoutSecs) * time.Second
}

func (c *Instance) Workers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Service.Workers
}

func (c *Instance) DeliveryAttempts() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Service.DeliveryAttempts
}

func (c *Instance) DeliveryTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.vals.Service.DeliveryTimeoutSecs) * time.Second
}
