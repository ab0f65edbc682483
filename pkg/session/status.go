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

// Phase is the stage a sanitization session is in. Phases only move
// forward; a failed session ends in PhaseFailed rather than returning to
// an earlier phase.
type Phase string

const (
	// PhaseBrowsing: source device mounted read-only, awaiting file
	// selection.
	PhaseBrowsing Phase = "browsing"
	// PhaseValidating: selected files are checked against policy.
	PhaseValidating Phase = "validating"
	// PhaseProcessing: accepted files are scanned and converted.
	PhaseProcessing Phase = "processing"
	// PhaseAwaitingOutput: gated delivery is waiting for a secure output
	// device to be attached.
	PhaseAwaitingOutput Phase = "awaiting_output"
	// PhaseVerifyingOutput: an attached candidate device is being checked
	// against the registry.
	PhaseVerifyingOutput Phase = "verifying_output"
	// PhaseDelivering: artifacts are being written to the destination.
	PhaseDelivering Phase = "delivering"
	// PhaseCompleted: the session finished; at least one file delivered.
	PhaseCompleted Phase = "completed"
	// PhaseFailed: the session ended without delivering anything.
	PhaseFailed Phase = "failed"
)

// FileStatus is the per-file state within a session. Each file progresses
// independently; one file's failure never affects another's.
type FileStatus string

const (
	FilePending       FileStatus = "pending"
	FileRejected      FileStatus = "rejected"
	FileScanning      FileStatus = "scanning"
	FileInfected      FileStatus = "infected"
	FileScanError     FileStatus = "scan_error"
	FileConverting    FileStatus = "converting"
	FileConvertError  FileStatus = "convert_error"
	FileConverted     FileStatus = "converted"
	FileDelivered     FileStatus = "delivered"
	FileDeliveryError FileStatus = "delivery_error"
)

// terminal reports whether a file status is final.
func (s FileStatus) terminal() bool {
	switch s {
	case FileRejected, FileInfected, FileScanError, FileConvertError,
		FileDelivered, FileDeliveryError:
		return true
	default:
		return false
	}
}
