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

package service

import (
	"github.com/USBDefenderProject/usb-defender-core/pkg/api/models"
	"github.com/USBDefenderProject/usb-defender-core/pkg/service/broker"
	"github.com/rs/zerolog/log"
)

// startAuditLogger subscribes to the event stream and writes every
// notification to the structured log. This is the kiosk's persistent
// audit trail; it runs until the broker shuts down.
func startAuditLogger(b *broker.Broker) {
	events, _ := b.Subscribe(notificationBuffer)
	go func() {
		for notif := range events {
			auditEvent(notif)
		}
	}()
}

func auditEvent(notif models.Notification) {
	event := log.Info().Str("event", notif.Method)

	switch params := notif.Params.(type) {
	case models.SessionParams:
		event = event.
			Str("session_id", params.SessionID).
			Str("phase", params.Phase)
		if params.DeviceNode != "" {
			event = event.Str("node", params.DeviceNode)
		}
		if params.Error != "" {
			event = event.Str("error", params.Error)
		}
		if notif.Method == models.NotificationSessionCompleted ||
			notif.Method == models.NotificationSessionFailed {
			event = event.
				Int("delivered", params.Delivered).
				Int("failed", params.Failed)
		}
	case models.FileParams:
		event = event.
			Str("session_id", params.SessionID).
			Str("path", params.Path).
			Str("status", params.Status)
		if params.Reason != "" {
			event = event.Str("reason", params.Reason)
		}
		if params.Signature != "" {
			event = event.Str("signature", params.Signature)
		}
	case models.DeviceParams:
		event = event.
			Str("serial", params.Serial).
			Str("vendor_id", params.VendorID).
			Str("product_id", params.ProductID).
			Str("node", params.Node)
		if params.SessionID != "" {
			event = event.Str("session_id", params.SessionID)
		}
	}

	event.Msg("audit")
}
