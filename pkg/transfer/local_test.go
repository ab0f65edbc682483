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
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMemFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o600))
}

func TestLocalSinkDeliver(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeMemFile(t, fs, "/work/report/report_001.png", "page one")
	writeMemFile(t, fs, "/work/report/report_002.png", "page two")

	sink := NewLocalSink(fs, "/outbox")
	artifacts := []Artifact{
		{SourcePath: "/work/report/report_001.png", RelPath: "report/report_001.png"},
		{SourcePath: "/work/report/report_002.png", RelPath: "report/report_002.png"},
	}

	results := sink.Deliver(context.Background(), "session-1", artifacts)
	require.Len(t, results, 2)
	for _, result := range results {
		assert.True(t, result.Delivered(), "unexpected error: %v", result.Err)
	}

	content, err := afero.ReadFile(fs, "/outbox/session-1/report/report_001.png")
	require.NoError(t, err)
	assert.Equal(t, "page one", string(content))
}

func TestLocalSinkDeliverIsIdempotent(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeMemFile(t, fs, "/work/memo.png", "rendered memo")

	sink := NewLocalSink(fs, "/outbox")
	artifacts := []Artifact{{SourcePath: "/work/memo.png", RelPath: "memo.png"}}

	for range 2 {
		results := sink.Deliver(context.Background(), "session-1", artifacts)
		require.True(t, results[0].Delivered())
	}

	// redelivery overwrites the same destination, never duplicates
	entries, err := afero.ReadDir(fs, "/outbox/session-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalSinkPartialFailure(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeMemFile(t, fs, "/work/good.png", "ok")

	sink := NewLocalSink(fs, "/outbox")
	artifacts := []Artifact{
		{SourcePath: "/work/missing.png", RelPath: "missing.png"},
		{SourcePath: "/work/good.png", RelPath: "good.png"},
	}

	results := sink.Deliver(context.Background(), "session-1", artifacts)
	require.Len(t, results, 2)
	assert.False(t, results[0].Delivered())
	assert.True(t, results[1].Delivered(), "one failed artifact must not abort the rest")
}

func TestLocalSinkTest(t *testing.T) {
	t.Parallel()

	sink := NewLocalSink(afero.NewMemMapFs(), "/outbox")
	require.NoError(t, sink.Test(context.Background()))

	sink = NewLocalSink(afero.NewReadOnlyFs(afero.NewMemMapFs()), "/outbox")
	require.Error(t, sink.Test(context.Background()))
}

// flakySink fails every artifact for the first failCalls calls.
type flakySink struct {
	inner     *LocalSink
	calls     int
	failCalls int
}

func (s *flakySink) Deliver(ctx context.Context, sessionID string, artifacts []Artifact) []Result {
	s.calls++
	if s.calls <= s.failCalls {
		results := make([]Result, 0, len(artifacts))
		for _, artifact := range artifacts {
			results = append(results, Result{Artifact: artifact, Err: assert.AnError})
		}
		return results
	}
	return s.inner.Deliver(ctx, sessionID, artifacts)
}

func (s *flakySink) Test(ctx context.Context) error { return s.inner.Test(ctx) }
func (s *flakySink) DestinationInfo() string        { return s.inner.DestinationInfo() }

func TestDeliverWithRetryRecovers(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	writeMemFile(t, fs, "/work/memo.png", "rendered memo")

	clock := clockwork.NewFakeClock()
	sink := &flakySink{inner: NewLocalSink(fs, "/outbox"), failCalls: 1}
	artifacts := []Artifact{{SourcePath: "/work/memo.png", RelPath: "memo.png"}}

	go func() {
		clock.BlockUntil(1)
		clock.Advance(time.Minute)
	}()

	results := DeliverWithRetry(
		context.Background(), clock, sink, "session-1", artifacts, 3, time.Minute,
	)
	require.Len(t, results, 1)
	assert.True(t, results[0].Delivered())
	assert.Equal(t, 2, sink.calls)
}

func TestDeliverWithRetryGivesUp(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	sink := &flakySink{inner: NewLocalSink(afero.NewMemMapFs(), "/outbox"), failCalls: 99}
	artifacts := []Artifact{{SourcePath: "/work/memo.png", RelPath: "memo.png"}}

	go func() {
		clock.BlockUntil(1)
		clock.Advance(time.Minute)
	}()

	results := DeliverWithRetry(
		context.Background(), clock, sink, "session-1", artifacts, 2, time.Minute,
	)
	require.Len(t, results, 1)
	assert.False(t, results[0].Delivered())
	assert.Equal(t, 2, sink.calls)
}
