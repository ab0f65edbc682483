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

package notifications

import "github.com/USBDefenderProject/usb-defender-core/pkg/api/models"

func SessionStarted(ns chan<- models.Notification, payload models.SessionParams) {
	ns <- models.Notification{
		Method: models.NotificationSessionStarted,
		Params: payload,
	}
}

func SessionPhase(ns chan<- models.Notification, payload models.SessionParams) {
	ns <- models.Notification{
		Method: models.NotificationSessionPhase,
		Params: payload,
	}
}

func SessionCompleted(ns chan<- models.Notification, payload models.SessionParams) {
	ns <- models.Notification{
		Method: models.NotificationSessionCompleted,
		Params: payload,
	}
}

func SessionFailed(ns chan<- models.Notification, payload models.SessionParams) {
	ns <- models.Notification{
		Method: models.NotificationSessionFailed,
		Params: payload,
	}
}

func FileValidated(ns chan<- models.Notification, payload models.FileParams) {
	ns <- models.Notification{
		Method: models.NotificationFileValidated,
		Params: payload,
	}
}

func FileScanned(ns chan<- models.Notification, payload models.FileParams) {
	ns <- models.Notification{
		Method: models.NotificationFileScanned,
		Params: payload,
	}
}

func FileConverted(ns chan<- models.Notification, payload models.FileParams) {
	ns <- models.Notification{
		Method: models.NotificationFileConverted,
		Params: payload,
	}
}

func FileDelivered(ns chan<- models.Notification, payload models.FileParams) {
	ns <- models.Notification{
		Method: models.NotificationFileDelivered,
		Params: payload,
	}
}

func FileFailed(ns chan<- models.Notification, payload models.FileParams) {
	ns <- models.Notification{
		Method: models.NotificationFileFailed,
		Params: payload,
	}
}

func DeviceRegistered(ns chan<- models.Notification, payload models.DeviceParams) {
	ns <- models.Notification{
		Method: models.NotificationDeviceRegistered,
		Params: payload,
	}
}

func DeviceUnregistered(ns chan<- models.Notification, payload models.DeviceParams) {
	ns <- models.Notification{
		Method: models.NotificationDeviceUnregistered,
		Params: payload,
	}
}

func UnregisteredBlocked(ns chan<- models.Notification, payload models.DeviceParams) {
	ns <- models.Notification{
		Method: models.NotificationUnregisteredBlocked,
		Params: payload,
	}
}
