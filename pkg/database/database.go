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

package database

import "time"

// RegistryDbFile is the registry database filename inside the data directory.
const RegistryDbFile = "registry.db"

// RegisteredDevice is a secure output device authorized for gated delivery.
// A device is identified by the exact tuple of serial, vendor ID and product
// ID as reported by the hardware.
type RegisteredDevice struct {
	RegisteredAt time.Time
	LastUsedAt   time.Time
	Serial       string
	VendorID     string
	ProductID    string
	Label        string
	Notes        string
	DBID         int64
	UseCount     int64
}

// UsageRecord is one append-only entry in a registered device's usage log.
type UsageRecord struct {
	UsedAt    time.Time
	SessionID string
	DBID      int64
	DeviceID  int64
	FileCount int
}
