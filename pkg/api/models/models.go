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

package models

const (
	NotificationSessionStarted      = "session.started"
	NotificationSessionPhase        = "session.phase"
	NotificationSessionCompleted    = "session.completed"
	NotificationSessionFailed       = "session.failed"
	NotificationFileValidated       = "file.validated"
	NotificationFileScanned         = "file.scanned"
	NotificationFileConverted       = "file.converted"
	NotificationFileDelivered       = "file.delivered"
	NotificationFileFailed          = "file.failed"
	NotificationDeviceRegistered    = "device.registered"
	NotificationDeviceUnregistered  = "device.unregistered"
	NotificationUnregisteredBlocked = "device.unregistered_blocked"
)

type Notification struct {
	Params any
	Method string
}

type SessionParams struct {
	SessionID   string `json:"sessionId"`
	Phase       string `json:"phase,omitempty"`
	DeviceNode  string `json:"deviceNode,omitempty"`
	VolumeLabel string `json:"volumeLabel,omitempty"`
	Error       string `json:"error,omitempty"`
	Delivered   int    `json:"delivered,omitempty"`
	Failed      int    `json:"failed,omitempty"`
}

type FileParams struct {
	SessionID string `json:"sessionId"`
	Path      string `json:"path"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Signature string `json:"signature,omitempty"`
	Artifacts int    `json:"artifacts,omitempty"`
}

type DeviceParams struct {
	SessionID string `json:"sessionId,omitempty"`
	Serial    string `json:"serial"`
	VendorID  string `json:"vendorId"`
	ProductID string `json:"productId"`
	Label     string `json:"label,omitempty"`
	Node      string `json:"node,omitempty"`
}
