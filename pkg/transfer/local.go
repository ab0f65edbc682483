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

package transfer

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// LocalSink delivers artifacts into a directory on the kiosk itself,
// typically a watched ingest folder.
type LocalSink struct {
	fs  afero.Fs
	dir string
}

func NewLocalSink(fs afero.Fs, dir string) *LocalSink {
	return &LocalSink{fs: fs, dir: dir}
}

func (s *LocalSink) Deliver(ctx context.Context, sessionID string, artifacts []Artifact) []Result {
	base := filepath.Join(s.dir, sessionID)
	results := make([]Result, 0, len(artifacts))

	for _, artifact := range artifacts {
		result := Result{Artifact: artifact, Destination: filepath.Join(base, artifact.RelPath)}

		if err := ctx.Err(); err != nil {
			result.Err = fmt.Errorf("delivery cancelled: %w", err)
			results = append(results, result)
			continue
		}

		if err := s.copyFile(artifact.SourcePath, result.Destination); err != nil {
			result.Err = err
		} else {
			log.Debug().
				Str("destination", result.Destination).
				Msg("artifact delivered locally")
		}
		results = append(results, result)
	}
	return results
}

func (s *LocalSink) copyFile(src, dst string) error {
	if err := s.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	in, err := s.fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := s.fs.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy artifact: %w", err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to sync destination file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close destination file: %w", err)
	}
	return nil
}

func (s *LocalSink) Test(_ context.Context) error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("output directory is not writable: %w", err)
	}

	probe := filepath.Join(s.dir, ".writetest")
	f, err := s.fs.Create(probe)
	if err != nil {
		return fmt.Errorf("output directory is not writable: %w", err)
	}
	_ = f.Close()
	if err := s.fs.Remove(probe); err != nil {
		return fmt.Errorf("failed to remove write probe: %w", err)
	}
	return nil
}

func (s *LocalSink) DestinationInfo() string {
	return "local:" + s.dir
}
