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
	"net"
	"os"
	"path"

	"github.com/USBDefenderProject/usb-defender-core/pkg/config"
	"github.com/cloudsoda/go-smb2"
	"github.com/rs/zerolog/log"
)

// NetworkSink delivers artifacts to an SMB share. A fresh session is
// dialed per delivery; kiosk deliveries are minutes apart and a cached
// connection would only rot between them.
type NetworkSink struct {
	cfg config.NetworkTarget
}

func NewNetworkSink(cfg config.NetworkTarget) *NetworkSink {
	return &NetworkSink{cfg: cfg}
}

func (s *NetworkSink) connect(ctx context.Context) (*smb2.Session, *smb2.Share, error) {
	server := s.cfg.Server
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "445")
	}

	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     s.cfg.Username,
			Password: s.cfg.Password,
		},
	}

	session, err := d.Dial(ctx, server)
	if err != nil {
		return nil, nil, fmt.Errorf("error dialing SMB server: %w", err)
	}

	fs, err := session.Mount(s.cfg.Share)
	if err != nil {
		if logoffErr := session.Logoff(); logoffErr != nil {
			log.Warn().Err(logoffErr).Msg("error logging off SMB session")
		}
		return nil, nil, fmt.Errorf("error mounting SMB share: %w", err)
	}

	return session, fs, nil
}

func (s *NetworkSink) disconnect(session *smb2.Session, fs *smb2.Share) {
	if err := fs.Umount(); err != nil {
		log.Warn().Err(err).Msg("error unmounting SMB share")
	}
	if err := session.Logoff(); err != nil {
		log.Warn().Err(err).Msg("error logging off SMB session")
	}
}

func (s *NetworkSink) Deliver(ctx context.Context, sessionID string, artifacts []Artifact) []Result {
	session, fs, err := s.connect(ctx)
	if err != nil {
		results := make([]Result, 0, len(artifacts))
		for _, artifact := range artifacts {
			results = append(results, Result{Artifact: artifact, Err: err})
		}
		return results
	}
	defer s.disconnect(session, fs)

	results := make([]Result, 0, len(artifacts))
	for _, artifact := range artifacts {
		// SMB paths always use forward slashes here; the library translates
		remote := path.Join(sessionID, artifact.RelPath)
		result := Result{
			Artifact:    artifact,
			Destination: fmt.Sprintf("smb://%s/%s/%s", s.cfg.Server, s.cfg.Share, remote),
		}

		if err := ctx.Err(); err != nil {
			result.Err = fmt.Errorf("delivery cancelled: %w", err)
			results = append(results, result)
			continue
		}

		if err := s.upload(fs, artifact.SourcePath, remote); err != nil {
			result.Err = err
		} else {
			log.Debug().Str("destination", result.Destination).Msg("artifact delivered over SMB")
		}
		results = append(results, result)
	}
	return results
}

func (s *NetworkSink) upload(fs *smb2.Share, src, remote string) error {
	if dir := path.Dir(remote); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating remote directory: %w", err)
		}
	}

	in, err := os.Open(src) //nolint:gosec
	if err != nil {
		return fmt.Errorf("failed to open artifact: %w", err)
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := fs.Create(remote)
	if err != nil {
		return fmt.Errorf("error creating remote file: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("error uploading artifact: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("error closing remote file: %w", err)
	}
	return nil
}

func (s *NetworkSink) Test(ctx context.Context) error {
	session, fs, err := s.connect(ctx)
	if err != nil {
		return err
	}
	s.disconnect(session, fs)
	return nil
}

func (s *NetworkSink) DestinationInfo() string {
	return fmt.Sprintf("smb://%s/%s", s.cfg.Server, s.cfg.Share)
}
