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

package devices

// DeviceEvent represents a removable block device partition appearing on
// the system. The device is not mounted at this point; mounting is done
// separately with enforced flags.
type DeviceEvent struct {
	// Node is the block device path, e.g. "/dev/sdb1".
	Node string

	// Label is the filesystem volume label, if any.
	Label string

	// Fstype is the detected filesystem type, if known.
	Fstype string

	// DeviceType indicates the bus, e.g. "USB", "SD", "removable".
	DeviceType string

	// SizeBytes is the partition size, 0 if unknown.
	SizeBytes int64
}

// Monitor provides detection of removable storage devices being attached
// and detached. Implementations must filter out internal disks and system
// partitions, and must never mount anything themselves.
type Monitor interface {
	// Events returns a channel that emits a DeviceEvent when a removable
	// device partition appears. Closed when Stop is called.
	Events() <-chan DeviceEvent

	// Removals returns a channel that emits the device node when a
	// removable device disappears. Closed when Stop is called.
	Removals() <-chan string

	// Start begins monitoring for attach/detach events.
	Start() error

	// Stop terminates the monitor and releases all resources. After Stop,
	// the Events and Removals channels are closed.
	Stop()

	// Forget removes a device from internal tracking so it can be
	// re-detected on the next scan. Used after a session ends while the
	// device is still attached.
	Forget(node string)
}
