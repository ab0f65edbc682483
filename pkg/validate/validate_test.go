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

package validate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() Policy {
	return Policy{
		AllowedExtensions: []string{"pdf", "txt", "png", "docx"},
		BlockedExtensions: []string{"exe", "sh"},
		MaxFileSize:       1024,
	}
}

func writeTestFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestValidateAcceptsAllowedFile(t *testing.T) {
	t.Parallel()

	v := NewValidator(testPolicy())
	path := writeTestFile(t, "notes.txt", []byte("plain text content\n"))

	result, err := v.Validate(path)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, result.Status)
	assert.Empty(t, result.Warning)
	assert.Equal(t, int64(19), result.SizeBytes)
}

func TestValidateRejectsBlockedExtension(t *testing.T) {
	t.Parallel()

	v := NewValidator(testPolicy())
	path := writeTestFile(t, "run.sh", []byte("#!/bin/sh\necho hi\n"))

	result, err := v.Validate(path)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Status)
	assert.Contains(t, result.Reason, "blocked")
}

func TestValidateRejectsUnlistedExtension(t *testing.T) {
	t.Parallel()

	v := NewValidator(testPolicy())
	path := writeTestFile(t, "data.xyz", []byte("whatever"))

	result, err := v.Validate(path)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Status)
	assert.Contains(t, result.Reason, "not allowed")
}

func TestValidateRejectsMissingExtension(t *testing.T) {
	t.Parallel()

	v := NewValidator(testPolicy())
	path := writeTestFile(t, "README", []byte("no extension"))

	result, err := v.Validate(path)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Status)
}

func TestValidateRejectsOversizedFile(t *testing.T) {
	t.Parallel()

	v := NewValidator(testPolicy())
	path := writeTestFile(t, "big.txt", make([]byte, 2048))

	result, err := v.Validate(path)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Status)
	assert.Contains(t, result.Reason, "exceeds limit")
}

func TestValidateRejectsRenamedExecutable(t *testing.T) {
	t.Parallel()

	v := NewValidator(testPolicy())
	// minimal ELF header, named like a document
	elf := append([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0}, make([]byte, 56)...)
	path := writeTestFile(t, "invoice.pdf", elf)

	result, err := v.Validate(path)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Status)
	assert.Contains(t, result.Reason, "dangerous content type")
}

func TestValidateWarnsOnMismatchedContent(t *testing.T) {
	t.Parallel()

	v := NewValidator(testPolicy())
	// PNG magic bytes with a .txt name: suspicious but not dangerous
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	path := writeTestFile(t, "readme.txt", png)

	result, err := v.Validate(path)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, result.Status)
	assert.NotEmpty(t, result.Warning)
}

func TestValidateRejectsDirectory(t *testing.T) {
	t.Parallel()

	v := NewValidator(testPolicy())
	dir := t.TempDir()

	result, err := v.Validate(dir)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, result.Status)
}
