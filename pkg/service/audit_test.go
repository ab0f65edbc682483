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
	"bytes"
	"encoding/json"
	"testing"

	"github.com/USBDefenderProject/usb-defender-core/pkg/api/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureLog redirects the global logger into a buffer for the duration
// of the test. Tests using it cannot run in parallel.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func parseLogLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestAuditEventSessionCompleted(t *testing.T) {
	buf := captureLog(t)

	auditEvent(models.Notification{
		Method: models.NotificationSessionCompleted,
		Params: models.SessionParams{
			SessionID: "session-1",
			Phase:     "completed",
			Delivered: 3,
			Failed:    1,
		},
	})

	entry := parseLogLine(t, buf)
	assert.Equal(t, models.NotificationSessionCompleted, entry["event"])
	assert.Equal(t, "session-1", entry["session_id"])
	assert.Equal(t, float64(3), entry["delivered"])
	assert.Equal(t, float64(1), entry["failed"])
}

func TestAuditEventBlockedDevice(t *testing.T) {
	buf := captureLog(t)

	auditEvent(models.Notification{
		Method: models.NotificationUnregisteredBlocked,
		Params: models.DeviceParams{
			SessionID: "session-1",
			Serial:    "ZZ999",
			VendorID:  "abcd",
			ProductID: "0001",
			Node:      "/dev/sdc1",
		},
	})

	entry := parseLogLine(t, buf)
	assert.Equal(t, models.NotificationUnregisteredBlocked, entry["event"])
	assert.Equal(t, "ZZ999", entry["serial"])
	assert.Equal(t, "/dev/sdc1", entry["node"])
}

func TestAuditEventFileFailure(t *testing.T) {
	buf := captureLog(t)

	auditEvent(models.Notification{
		Method: models.NotificationFileFailed,
		Params: models.FileParams{
			SessionID: "session-1",
			Path:      "docs/carrier.txt",
			Status:    "infected",
			Signature: "Eicar-Test-Signature",
		},
	})

	entry := parseLogLine(t, buf)
	assert.Equal(t, "docs/carrier.txt", entry["path"])
	assert.Equal(t, "infected", entry["status"])
	assert.Equal(t, "Eicar-Test-Signature", entry["signature"])
}
