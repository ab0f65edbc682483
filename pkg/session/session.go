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

package session

import (
	"time"

	"github.com/USBDefenderProject/usb-defender-core/pkg/devices"
	"github.com/USBDefenderProject/usb-defender-core/pkg/mount"
	"github.com/USBDefenderProject/usb-defender-core/pkg/transfer"
)

// FileRecord tracks one selected file through the pipeline.
type FileRecord struct {
	// RelPath is the file's path relative to the source mount root.
	RelPath string
	Status  FileStatus
	// Reason describes why the file stopped, for terminal failure states.
	Reason string
	// Artifacts are the converted page images awaiting delivery.
	Artifacts []transfer.Artifact
	SizeBytes int64
}

// Session is one sanitization run, from source attach to delivery.
// Exactly one session is active at a time; a second source device
// attached mid-session is ignored.
type Session struct {
	StartedAt   time.Time
	SourceMount *mount.Handle
	ID          string
	OutputNode  string
	FailReason  string
	Source      devices.DeviceEvent
	Files       []*FileRecord
	Phase       Phase
	// sourceDone is set once the source device is unmounted after
	// processing; its removal is then expected rather than fatal.
	sourceDone bool
	// outputMount is the enforced mount of the verified output device,
	// nil until the gated flow accepts one.
	outputMount *mount.Handle
}

// Snapshot is a copy of session state safe to hand outside the
// orchestrator's lock.
type Snapshot struct {
	StartedAt  time.Time
	ID         string
	FailReason string
	Files      []FileRecord
	Phase      Phase
	Source     devices.DeviceEvent
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		ID:         s.ID,
		Phase:      s.Phase,
		Source:     s.Source,
		StartedAt:  s.StartedAt,
		FailReason: s.FailReason,
		Files:      make([]FileRecord, 0, len(s.Files)),
	}
	for _, rec := range s.Files {
		snap.Files = append(snap.Files, *rec)
	}
	return snap
}

// counts returns how many files were delivered and how many ended in a
// failure state.
func (s *Session) counts() (delivered, failed int) {
	for _, rec := range s.Files {
		switch rec.Status {
		case FileDelivered:
			delivered++
		default:
			if rec.Status.terminal() {
				failed++
			}
		}
	}
	return delivered, failed
}
