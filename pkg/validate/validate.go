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

// Package validate applies file acceptance policy before any content is
// scanned or converted: extension allowlist/denylist, size limits and a
// content-sniffing check against known dangerous types.
package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/USBDefenderProject/usb-defender-core/pkg/helpers"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// dangerousMIMETypes are content types rejected regardless of extension.
// The sniffed type, not the filename, decides: a renamed .exe is still
// rejected here.
var dangerousMIMETypes = []string{
	"application/x-executable",
	"application/x-sharedlib",
	"application/x-pie-executable",
	"application/x-mach-binary",
	"application/x-ms-dos-executable",
	"application/x-msdownload",
	"application/vnd.microsoft.portable-executable",
	"application/x-elf",
	"application/x-object",
	"application/x-shellscript",
	"application/x-bat",
	"application/x-msi",
	"application/java-archive",
	"application/x-java-applet",
}

// expectedMIMEPrefixes maps extensions to the content-type prefixes they
// are expected to sniff as. A mismatch is suspicious but warn-only; the
// scanner and converter still see the file.
var expectedMIMEPrefixes = map[string][]string{
	"pdf":  {"application/pdf"},
	"jpg":  {"image/jpeg"},
	"jpeg": {"image/jpeg"},
	"png":  {"image/png"},
	"gif":  {"image/gif"},
	"bmp":  {"image/bmp", "image/x-ms-bmp"},
	"tiff": {"image/tiff"},
	"txt":  {"text/plain"},
	"rtf":  {"text/rtf", "application/rtf"},
}

// Status is the outcome of policy validation.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Result reports the validation outcome for one file.
type Result struct {
	Status Status
	// Reason is set when the file is rejected.
	Reason string
	// Warning is set for accepted files with suspicious properties, such
	// as content not matching the extension.
	Warning string
	// SizeBytes is the file's size, for session total accounting.
	SizeBytes int64
}

// Policy holds the limits and lists validation applies. Construct with the
// config accessors so a reloaded config takes effect per session.
type Policy struct {
	AllowedExtensions []string
	BlockedExtensions []string
	MaxFileSize       int64
}

// Validator validates candidate files against a Policy.
type Validator struct {
	policy Policy
}

func NewValidator(policy Policy) *Validator {
	return &Validator{policy: policy}
}

// Validate applies policy to the file at path. Rejections carry a Reason;
// only I/O failures return an error, and callers must treat an error as a
// rejection.
func (v *Validator) Validate(path string) (Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return Result{Status: StatusRejected, Reason: "not a regular file"}, nil
	}

	result := Result{SizeBytes: info.Size()}

	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		result.Status = StatusRejected
		result.Reason = "file has no extension"
		return result, nil
	}

	if helpers.Contains(v.policy.BlockedExtensions, ext) {
		result.Status = StatusRejected
		result.Reason = fmt.Sprintf("extension .%s is blocked", ext)
		return result, nil
	}

	if !helpers.Contains(v.policy.AllowedExtensions, ext) {
		result.Status = StatusRejected
		result.Reason = fmt.Sprintf("extension .%s is not allowed", ext)
		return result, nil
	}

	if v.policy.MaxFileSize > 0 && info.Size() > v.policy.MaxFileSize {
		result.Status = StatusRejected
		result.Reason = fmt.Sprintf(
			"file size %d exceeds limit %d", info.Size(), v.policy.MaxFileSize,
		)
		return result, nil
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to detect content type: %w", err)
	}

	for _, dangerous := range dangerousMIMETypes {
		if mtype.Is(dangerous) {
			result.Status = StatusRejected
			result.Reason = fmt.Sprintf("dangerous content type %s", mtype.String())
			return result, nil
		}
	}

	if expected, ok := expectedMIMEPrefixes[ext]; ok {
		matched := false
		for _, prefix := range expected {
			if strings.HasPrefix(mtype.String(), prefix) {
				matched = true
				break
			}
		}
		if !matched {
			result.Warning = fmt.Sprintf(
				"content type %s does not match extension .%s", mtype.String(), ext,
			)
			log.Warn().
				Str("path", filepath.Base(path)).
				Str("detected", mtype.String()).
				Str("extension", ext).
				Msg("file content does not match extension")
		}
	}

	result.Status = StatusAccepted
	return result, nil
}
