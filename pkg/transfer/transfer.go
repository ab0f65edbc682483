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

// Package transfer delivers converted artifacts to their configured
// destination. Destinations are deterministic per session so a retried
// delivery overwrites its own output instead of duplicating it.
package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/USBDefenderProject/usb-defender-core/pkg/config"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

// Artifact is one converted output file awaiting delivery.
type Artifact struct {
	// SourcePath is the artifact's location in the session work area.
	SourcePath string
	// RelPath is the path the artifact takes under the session folder at
	// the destination, e.g. "report/report_001.png".
	RelPath string
}

// Result is the delivery outcome for one artifact.
type Result struct {
	Err         error
	Artifact    Artifact
	Destination string
}

// Delivered reports whether the artifact reached the destination.
func (r Result) Delivered() bool {
	return r.Err == nil
}

// Sink delivers artifacts to one destination type.
type Sink interface {
	// Deliver copies the artifacts into a session-scoped location at the
	// destination. It returns one Result per artifact; a failure for one
	// artifact does not abort the rest.
	Deliver(ctx context.Context, sessionID string, artifacts []Artifact) []Result

	// Test checks the destination is usable before a session starts
	// processing.
	Test(ctx context.Context) error

	// DestinationInfo describes the destination for audit events.
	DestinationInfo() string
}

// NewSink builds the sink for the configured transfer method. An unknown
// method falls back to the secure device sink, the most restrictive
// destination, rather than failing open to an easier one.
func NewSink(cfg *config.Instance, secure *SecureDeviceSink) Sink {
	method := cfg.TransferMethod()
	switch method {
	case config.MethodLocal:
		return NewLocalSink(afero.NewOsFs(), cfg.LocalTarget().OutputDir)
	case config.MethodNetwork:
		return NewNetworkSink(cfg.NetworkTarget())
	case config.MethodCloud:
		sink, err := NewCloudSink(cfg.CloudTarget())
		if err != nil {
			log.Error().Err(err).Msg("cloud sink unavailable, falling back to secure device")
			return secure
		}
		return sink
	case config.MethodSecureDevice:
		return secure
	default:
		log.Warn().
			Str("method", method).
			Msg("unknown transfer method, using secure device")
		return secure
	}
}

// retryDelay is the base delay between delivery attempts.
const retryDelay = 2 * time.Second

// deliverWithRetry calls fn up to attempts times, backing off between
// tries. It stops early when the context ends.
func deliverWithRetry(
	ctx context.Context, clock clockwork.Clock, attempts int, fn func() error,
) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		log.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Int("attempts", attempts).
			Msg("delivery attempt failed")

		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("delivery cancelled: %w", ctx.Err())
		case <-clock.After(retryDelay * time.Duration(attempt)):
		}
	}
	return lastErr
}

// DeliverWithRetry wraps a sink's Deliver with bounded retries and a
// per-call timeout. Only artifacts that failed are retried.
func DeliverWithRetry(
	ctx context.Context,
	clock clockwork.Clock,
	sink Sink,
	sessionID string,
	artifacts []Artifact,
	attempts int,
	timeout time.Duration,
) []Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	results := make(map[string]Result, len(artifacts))
	pending := artifacts

	err := deliverWithRetry(ctx, clock, attempts, func() error {
		batch := sink.Deliver(ctx, sessionID, pending)

		var failed []Artifact
		for _, result := range batch {
			results[result.Artifact.RelPath] = result
			if !result.Delivered() {
				failed = append(failed, result.Artifact)
			}
		}
		pending = failed

		if len(failed) > 0 {
			return fmt.Errorf("%d of %d artifacts failed", len(failed), len(batch))
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("delivery incomplete after retries")
	}

	ordered := make([]Result, 0, len(artifacts))
	for _, artifact := range artifacts {
		ordered = append(ordered, results[artifact.RelPath])
	}
	return ordered
}
