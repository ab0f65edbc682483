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

// Package scanner gates files through malware scanning. A scan that cannot
// complete is an error verdict, which callers must treat exactly like a
// detection for the purpose of letting the file through: never as clean.
package scanner

import "context"

// Verdict is the outcome of scanning one file.
type Verdict string

const (
	// VerdictClean means the scanner affirmatively passed the file.
	VerdictClean Verdict = "clean"
	// VerdictInfected means a signature matched.
	VerdictInfected Verdict = "infected"
	// VerdictError means the scan did not complete. The file must not
	// proceed.
	VerdictError Verdict = "error"
)

// ScanResult is the verdict for one file.
type ScanResult struct {
	Verdict Verdict
	// Signature is the detection name when Verdict is VerdictInfected.
	Signature string
	// Detail describes the failure when Verdict is VerdictError.
	Detail string
}

// Gateway scans files through an external scanning engine.
type Gateway interface {
	// Ping checks that the scanning engine is reachable. The service
	// refuses to start sessions without a live scanner.
	Ping(ctx context.Context) error

	// Scan scans the file at path. Failures are reported in the result's
	// Verdict, not as a Go error, so no code path can confuse a failed
	// scan with a clean one.
	Scan(ctx context.Context, path string) ScanResult
}
