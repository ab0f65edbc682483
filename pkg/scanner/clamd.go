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

package scanner

import (
	"context"
	"fmt"
	"time"

	clamd "github.com/dutchcoders/go-clamd"
	"github.com/rs/zerolog/log"
)

// ClamdGateway scans files via a clamd daemon socket.
type ClamdGateway struct {
	client  *clamd.Clamd
	timeout time.Duration
}

// NewClamdGateway connects to clamd at address, which is a unix socket
// path or a "tcp://host:port" URL. Timeout bounds each scan.
func NewClamdGateway(address string, timeout time.Duration) *ClamdGateway {
	return &ClamdGateway{
		client:  clamd.NewClamd(address),
		timeout: timeout,
	}
}

func (g *ClamdGateway) Ping(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- g.client.Ping()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("clamd ping cancelled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("clamd ping failed: %w", err)
		}
		return nil
	}
}

func (g *ClamdGateway) Scan(ctx context.Context, path string) ScanResult {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type outcome struct {
		result *clamd.ScanResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		ch, err := g.client.ScanFile(path)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		var last *clamd.ScanResult
		for result := range ch {
			last = result
		}
		done <- outcome{result: last}
	}()

	select {
	case <-ctx.Done():
		return ScanResult{
			Verdict: VerdictError,
			Detail:  fmt.Sprintf("scan did not complete: %s", ctx.Err()),
		}
	case o := <-done:
		return g.toResult(path, o.result, o.err)
	}
}

func (g *ClamdGateway) toResult(path string, result *clamd.ScanResult, err error) ScanResult {
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("clamd scan failed")
		return ScanResult{Verdict: VerdictError, Detail: err.Error()}
	}
	if result == nil {
		return ScanResult{Verdict: VerdictError, Detail: "clamd returned no result"}
	}

	switch result.Status {
	case clamd.RES_OK:
		return ScanResult{Verdict: VerdictClean}
	case clamd.RES_FOUND:
		log.Warn().
			Str("path", path).
			Str("signature", result.Description).
			Msg("malware detected")
		return ScanResult{Verdict: VerdictInfected, Signature: result.Description}
	default:
		return ScanResult{
			Verdict: VerdictError,
			Detail:  fmt.Sprintf("clamd status %s: %s", result.Status, result.Description),
		}
	}
}
