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
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/USBDefenderProject/usb-defender-core/pkg/devices"
	"github.com/USBDefenderProject/usb-defender-core/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

var (
	// ErrNoOutputDevice is returned when delivery is attempted with no
	// output device attached and mounted.
	ErrNoOutputDevice = errors.New("no output device attached")

	// ErrUnverifiedDevice is returned when the attached output device is
	// not in the secure device registry. Nothing is written to it.
	ErrUnverifiedDevice = errors.New("output device is not a registered secure device")
)

// RegistryGateway is the slice of the device registry the sink needs.
type RegistryGateway interface {
	Verify(id devices.Identity) (bool, error)
	RecordUsage(id devices.Identity, sessionID string, fileCount int) error
}

// SecureDeviceSink delivers artifacts onto a registered USB device. The
// device's identity is re-read from hardware and checked against the
// registry inside the same critical section as the writes, so the device
// cannot be swapped between verification and delivery.
type SecureDeviceSink struct {
	registry  RegistryGateway
	identity  devices.IdentityReader
	fs        afero.Fs
	node      string
	mountPath string
	mu        syncutil.Mutex
}

func NewSecureDeviceSink(registry RegistryGateway, identity devices.IdentityReader) *SecureDeviceSink {
	return &SecureDeviceSink{
		registry: registry,
		identity: identity,
		fs:       afero.NewOsFs(),
	}
}

// SetOutput points the sink at a freshly mounted output device.
func (s *SecureDeviceSink) SetOutput(node, mountPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.node = node
	s.mountPath = mountPath
}

// ClearOutput detaches the sink from the output device, e.g. after the
// device is removed or the session ends.
func (s *SecureDeviceSink) ClearOutput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.node = ""
	s.mountPath = ""
}

// verifyLocked re-reads the device identity and checks the registry.
// Callers must hold s.mu. Any failure to establish identity is a refusal.
func (s *SecureDeviceSink) verifyLocked(ctx context.Context) (devices.Identity, error) {
	if s.node == "" {
		return devices.Identity{}, ErrNoOutputDevice
	}

	id, err := s.identity.Identity(ctx, s.node)
	if err != nil {
		return devices.Identity{}, fmt.Errorf("%w: %s", ErrUnverifiedDevice, err)
	}

	ok, err := s.registry.Verify(id)
	if err != nil {
		return devices.Identity{}, fmt.Errorf("%w: registry lookup failed: %s", ErrUnverifiedDevice, err)
	}
	if !ok {
		return devices.Identity{}, ErrUnverifiedDevice
	}
	return id, nil
}

func (s *SecureDeviceSink) Deliver(
	ctx context.Context, sessionID string, artifacts []Artifact,
) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.verifyLocked(ctx)
	if err != nil {
		log.Error().Err(err).Str("node", s.node).Msg("secure delivery refused")
		results := make([]Result, 0, len(artifacts))
		for _, artifact := range artifacts {
			results = append(results, Result{Artifact: artifact, Err: err})
		}
		return results
	}

	base := filepath.Join(s.mountPath, sessionID)
	results := make([]Result, 0, len(artifacts))
	delivered := 0

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
			delivered++
		}
		results = append(results, result)
	}

	if delivered > 0 {
		if err := s.registry.RecordUsage(id, sessionID, delivered); err != nil {
			log.Warn().Err(err).Str("identity", id.String()).Msg("failed to record device usage")
		}
	}

	return results
}

func (s *SecureDeviceSink) copyFile(src, dst string) error {
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

func (s *SecureDeviceSink) Test(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.verifyLocked(ctx)
	return err
}

func (s *SecureDeviceSink) DestinationInfo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.node == "" {
		return "secure device (none attached)"
	}
	return "secure device " + s.node
}
