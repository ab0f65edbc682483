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

// Package session runs the sanitization pipeline: source device attach,
// file selection, validation, scanning, conversion and delivery, with the
// gated air-gap flow for secure output devices.
package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/USBDefenderProject/usb-defender-core/pkg/api/models"
	"github.com/USBDefenderProject/usb-defender-core/pkg/api/notifications"
	"github.com/USBDefenderProject/usb-defender-core/pkg/config"
	"github.com/USBDefenderProject/usb-defender-core/pkg/convert"
	"github.com/USBDefenderProject/usb-defender-core/pkg/devices"
	"github.com/USBDefenderProject/usb-defender-core/pkg/helpers/syncutil"
	"github.com/USBDefenderProject/usb-defender-core/pkg/mount"
	"github.com/USBDefenderProject/usb-defender-core/pkg/scanner"
	"github.com/USBDefenderProject/usb-defender-core/pkg/transfer"
	"github.com/USBDefenderProject/usb-defender-core/pkg/validate"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoSession is returned for operations that need an active session.
	ErrNoSession = errors.New("no active session")

	// ErrWrongPhase is returned when an operation does not apply to the
	// session's current phase.
	ErrWrongPhase = errors.New("operation not valid in current phase")
)

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Config        *config.Instance
	Monitor       devices.Monitor
	Mounter       mount.Mounter
	Scanner       scanner.Gateway
	Converter     convert.Gateway
	Sink          transfer.Sink
	Secure        *transfer.SecureDeviceSink
	Identity      devices.IdentityReader
	Registry      transfer.RegistryGateway
	Notifications chan<- models.Notification
	Clock         clockwork.Clock
	// WorkDir holds per-session scratch space for converted artifacts.
	WorkDir string
	// AutoSelect processes every candidate file on the source as soon as
	// it mounts, for headless operation without a selection UI.
	AutoSelect bool
}

// Orchestrator owns the single active session and reacts to device
// events. All device channel consumption happens in Run's loop; public
// methods are safe to call from other goroutines.
type Orchestrator struct {
	deps     Deps
	runCtx   context.Context
	outputCh chan devices.DeviceEvent

	mu         syncutil.Mutex
	current    *Session
	cancelSess context.CancelFunc
	wg         sync.WaitGroup
}

func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		deps:     deps,
		outputCh: make(chan devices.DeviceEvent, 4),
	}
}

// Run consumes monitor events until ctx ends. It returns after any active
// session goroutine has finished.
func (o *Orchestrator) Run(ctx context.Context) {
	o.runCtx = ctx

	for {
		select {
		case <-ctx.Done():
			o.mu.Lock()
			if o.cancelSess != nil {
				o.cancelSess()
			}
			o.mu.Unlock()
			o.wg.Wait()
			return
		case event, ok := <-o.deps.Monitor.Events():
			if !ok {
				o.wg.Wait()
				return
			}
			o.handleAttach(event)
		case node, ok := <-o.deps.Monitor.Removals():
			if !ok {
				o.wg.Wait()
				return
			}
			o.handleDetach(node)
		}
	}
}

// CurrentSession returns a snapshot of the active session, or nil.
func (o *Orchestrator) CurrentSession() *Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return nil
	}
	snap := o.current.snapshot()
	return &snap
}

func (o *Orchestrator) handleAttach(event devices.DeviceEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current == nil {
		o.startSessionLocked(event)
		return
	}

	// once the source is released, a gated session treats every attach as
	// an output candidate, even before the awaiting phase is announced
	awaitingOutput := o.current.Phase == PhaseAwaitingOutput ||
		o.current.Phase == PhaseVerifyingOutput ||
		(o.gated() && o.current.sourceDone && o.current.outputMount == nil)
	if awaitingOutput {
		select {
		case o.outputCh <- event:
		default:
			log.Warn().Str("node", event.Node).Msg("output candidate queue full, ignoring device")
		}
		return
	}

	log.Info().
		Str("node", event.Node).
		Str("session_id", o.current.ID).
		Msg("ignoring device attached during active session")
}

func (o *Orchestrator) handleDetach(node string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current == nil {
		return
	}

	switch {
	case node == o.current.Source.Node && !o.current.sourceDone:
		log.Warn().
			Str("node", node).
			Str("session_id", o.current.ID).
			Msg("source device removed mid-session, cancelling")
		o.current.FailReason = "source device removed"
		if o.cancelSess != nil {
			o.cancelSess()
		}
	case node == o.current.OutputNode:
		log.Warn().
			Str("node", node).
			Str("session_id", o.current.ID).
			Msg("output device removed during delivery")
		if o.deps.Secure != nil {
			o.deps.Secure.ClearOutput()
		}
	}
}

// startSessionLocked begins a session for a freshly attached source
// device. Caller holds o.mu.
func (o *Orchestrator) startSessionLocked(event devices.DeviceEvent) {
	// output candidates queued by a previous session are meaningless now
	for {
		select {
		case <-o.outputCh:
			continue
		default:
		}
		break
	}

	sessCtx, cancel := context.WithCancel(o.runCtx)

	if err := o.deps.Scanner.Ping(sessCtx); err != nil {
		cancel()
		log.Error().Err(err).Msg("scanner unavailable, refusing session")
		notifications.SessionFailed(o.deps.Notifications, models.SessionParams{
			DeviceNode: event.Node,
			Error:      "scanner unavailable",
		})
		o.deps.Monitor.Forget(event.Node)
		return
	}

	handle, err := o.deps.Mounter.MountSource(sessCtx, event.Node)
	if err != nil {
		cancel()
		log.Error().Err(err).Str("node", event.Node).Msg("refusing source device")
		notifications.SessionFailed(o.deps.Notifications, models.SessionParams{
			DeviceNode: event.Node,
			Error:      err.Error(),
		})
		o.deps.Monitor.Forget(event.Node)
		return
	}

	sess := &Session{
		ID:          uuid.New().String(),
		Source:      event,
		SourceMount: handle,
		Phase:       PhaseBrowsing,
		StartedAt:   o.deps.Clock.Now(),
	}
	o.current = sess
	o.cancelSess = cancel

	log.Info().
		Str("session_id", sess.ID).
		Str("node", event.Node).
		Str("label", event.Label).
		Msg("session started")
	notifications.SessionStarted(o.deps.Notifications, models.SessionParams{
		SessionID:   sess.ID,
		Phase:       string(sess.Phase),
		DeviceNode:  event.Node,
		VolumeLabel: event.Label,
	})

	if o.deps.AutoSelect {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			paths, err := o.Browse()
			if err != nil {
				log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to browse source")
				o.failSession(sessCtx, "failed to read source device")
				return
			}
			if err := o.SelectFiles(sessCtx, paths); err != nil {
				log.Error().Err(err).Str("session_id", sess.ID).Msg("session processing failed")
			}
		}()
	}
}

// Browse lists candidate files on the source device, relative to the
// mount root. Hidden files and directories are skipped.
func (o *Orchestrator) Browse() ([]string, error) {
	o.mu.Lock()
	if o.current == nil {
		o.mu.Unlock()
		return nil, ErrNoSession
	}
	root := o.current.SourceMount.Path
	o.mu.Unlock()

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("failed to relativize path: %w", err)
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk source device: %w", err)
	}
	return paths, nil
}

// SelectFiles runs the selected files through the full pipeline and
// returns when the session completes or fails. The session must be in
// the browsing phase.
func (o *Orchestrator) SelectFiles(ctx context.Context, relPaths []string) error {
	o.mu.Lock()
	sess := o.current
	if sess == nil {
		o.mu.Unlock()
		return ErrNoSession
	}
	if sess.Phase != PhaseBrowsing {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongPhase, sess.Phase)
	}
	o.setPhaseLocked(sess, PhaseValidating)
	o.mu.Unlock()

	o.validateFiles(sess, relPaths)

	accepted := o.acceptedFiles(sess)
	if len(accepted) == 0 {
		o.failSession(ctx, "no files accepted for processing")
		return errors.New("no files accepted for processing")
	}

	o.setPhase(sess, PhaseProcessing)
	o.processFiles(ctx, sess, accepted)

	if err := ctx.Err(); err != nil {
		o.mu.Lock()
		reason := sess.FailReason
		o.mu.Unlock()
		o.failSession(ctx, reason)
		return fmt.Errorf("session cancelled: %w", err)
	}

	artifacts := o.collectArtifacts(sess)
	if len(artifacts) == 0 {
		o.failSession(ctx, "no files survived scanning and conversion")
		return errors.New("no files survived scanning and conversion")
	}

	// processing is done with the source; release it so the gated flow
	// can require its removal before any output device appears
	o.releaseSource(sess)

	if err := o.deliver(ctx, sess, artifacts); err != nil {
		o.failSession(ctx, err.Error())
		return err
	}

	o.finishSession(sess)
	return nil
}

func (o *Orchestrator) validateFiles(sess *Session, relPaths []string) {
	validator := validate.NewValidator(validate.Policy{
		AllowedExtensions: o.deps.Config.AllowedExtensions(),
		BlockedExtensions: o.deps.Config.BlockedExtensions(),
		MaxFileSize:       o.deps.Config.MaxFileSize(),
	})
	maxTotal := o.deps.Config.MaxTotalSize()

	var total int64
	for _, rel := range relPaths {
		rec := &FileRecord{RelPath: rel, Status: FilePending}

		result, err := validator.Validate(filepath.Join(sess.SourceMount.Path, rel))
		switch {
		case err != nil:
			rec.Status = FileRejected
			rec.Reason = fmt.Sprintf("validation failed: %s", err)
		case result.Status == validate.StatusRejected:
			rec.Status = FileRejected
			rec.Reason = result.Reason
		case maxTotal > 0 && total+result.SizeBytes > maxTotal:
			rec.Status = FileRejected
			rec.Reason = "session size limit reached"
		default:
			rec.SizeBytes = result.SizeBytes
			total += result.SizeBytes
		}

		o.mu.Lock()
		sess.Files = append(sess.Files, rec)
		o.mu.Unlock()

		if rec.Status == FileRejected {
			log.Info().
				Str("session_id", sess.ID).
				Str("path", rel).
				Str("reason", rec.Reason).
				Msg("file rejected")
			notifications.FileFailed(o.deps.Notifications, models.FileParams{
				SessionID: sess.ID,
				Path:      rel,
				Status:    string(FileRejected),
				Reason:    rec.Reason,
			})
		} else {
			notifications.FileValidated(o.deps.Notifications, models.FileParams{
				SessionID: sess.ID,
				Path:      rel,
				Status:    string(FilePending),
				Reason:    result.Warning,
			})
		}
	}
}

func (o *Orchestrator) acceptedFiles(sess *Session) []*FileRecord {
	o.mu.Lock()
	defer o.mu.Unlock()

	accepted := make([]*FileRecord, 0, len(sess.Files))
	for _, rec := range sess.Files {
		if rec.Status == FilePending {
			accepted = append(accepted, rec)
		}
	}
	return accepted
}

// processFiles scans and converts accepted files with a bounded worker
// pool. Each file fails or survives on its own.
func (o *Orchestrator) processFiles(ctx context.Context, sess *Session, records []*FileRecord) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.deps.Config.Workers())

	for _, rec := range records {
		g.Go(func() error {
			o.processFile(ctx, sess, rec)
			// per-file failures are recorded, not propagated; only
			// cancellation stops the pool
			return ctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("processing pool stopped early")
	}
}

func (o *Orchestrator) processFile(ctx context.Context, sess *Session, rec *FileRecord) {
	src := filepath.Join(sess.SourceMount.Path, rec.RelPath)

	o.setFileStatus(sess, rec, FileScanning, "")
	result := o.deps.Scanner.Scan(ctx, src)
	switch result.Verdict {
	case scanner.VerdictInfected:
		o.setFileStatus(sess, rec, FileInfected, result.Signature)
		notifications.FileFailed(o.deps.Notifications, models.FileParams{
			SessionID: sess.ID,
			Path:      rec.RelPath,
			Status:    string(FileInfected),
			Signature: result.Signature,
		})
		return
	case scanner.VerdictClean:
	default:
		// anything that is not a positive clean verdict fails the file
		o.setFileStatus(sess, rec, FileScanError, result.Detail)
		notifications.FileFailed(o.deps.Notifications, models.FileParams{
			SessionID: sess.ID,
			Path:      rec.RelPath,
			Status:    string(FileScanError),
			Reason:    result.Detail,
		})
		return
	}

	notifications.FileScanned(o.deps.Notifications, models.FileParams{
		SessionID: sess.ID,
		Path:      rec.RelPath,
		Status:    string(scanner.VerdictClean),
	})

	o.setFileStatus(sess, rec, FileConverting, "")

	// each file renders into its own directory named after its source
	// path, so same-named files in different folders cannot collide
	stem := strings.TrimSuffix(rec.RelPath, filepath.Ext(rec.RelPath))
	outDir := filepath.Join(o.deps.WorkDir, sess.ID, stem)

	pages, err := o.deps.Converter.Convert(ctx, src, outDir)
	if err != nil {
		o.setFileStatus(sess, rec, FileConvertError, err.Error())
		notifications.FileFailed(o.deps.Notifications, models.FileParams{
			SessionID: sess.ID,
			Path:      rec.RelPath,
			Status:    string(FileConvertError),
			Reason:    err.Error(),
		})
		return
	}

	artifacts := make([]transfer.Artifact, 0, len(pages))
	for _, page := range pages {
		artifacts = append(artifacts, transfer.Artifact{
			SourcePath: page,
			RelPath:    filepath.Join(stem, filepath.Base(page)),
		})
	}

	o.mu.Lock()
	rec.Artifacts = artifacts
	o.mu.Unlock()
	o.setFileStatus(sess, rec, FileConverted, "")

	notifications.FileConverted(o.deps.Notifications, models.FileParams{
		SessionID: sess.ID,
		Path:      rec.RelPath,
		Status:    string(FileConverted),
		Artifacts: len(artifacts),
	})
}

func (o *Orchestrator) collectArtifacts(sess *Session) []transfer.Artifact {
	o.mu.Lock()
	defer o.mu.Unlock()

	var artifacts []transfer.Artifact
	for _, rec := range sess.Files {
		if rec.Status == FileConverted {
			artifacts = append(artifacts, rec.Artifacts...)
		}
	}
	return artifacts
}

// deliver hands the artifacts to the sink. For the gated secure device
// flow it first waits for a verified output device.
func (o *Orchestrator) deliver(ctx context.Context, sess *Session, artifacts []transfer.Artifact) error {
	if o.gated() {
		if err := o.awaitOutputDevice(ctx, sess); err != nil {
			return err
		}
	}

	o.setPhase(sess, PhaseDelivering)

	results := transfer.DeliverWithRetry(
		ctx,
		o.deps.Clock,
		o.deps.Sink,
		sess.ID,
		artifacts,
		o.deps.Config.DeliveryAttempts(),
		o.deps.Config.DeliveryTimeout(),
	)
	o.applyDeliveryResults(sess, results)

	o.mu.Lock()
	delivered, _ := sess.counts()
	o.mu.Unlock()
	if delivered == 0 {
		return errors.New("delivery failed for all files")
	}
	return nil
}

func (o *Orchestrator) gated() bool {
	return o.deps.Config.TransferMethod() == config.MethodSecureDevice
}

// awaitOutputDevice blocks until a registered secure device is attached
// and mounted, rejecting unregistered candidates as they appear. There is
// no attempt limit; the operator can keep trying devices until one
// verifies or the session is cancelled. Candidates queued since the
// source was released are picked up, not discarded.
func (o *Orchestrator) awaitOutputDevice(ctx context.Context, sess *Session) error {
	o.setPhase(sess, PhaseAwaitingOutput)

	for {
		var candidate devices.DeviceEvent
		select {
		case <-ctx.Done():
			return fmt.Errorf("cancelled while awaiting output device: %w", ctx.Err())
		case candidate = <-o.outputCh:
		}

		o.setPhase(sess, PhaseVerifyingOutput)

		id, err := o.deps.Identity.Identity(ctx, candidate.Node)
		if err != nil {
			log.Warn().Err(err).Str("node", candidate.Node).Msg("cannot identify candidate device")
			o.rejectCandidate(sess, candidate, devices.Identity{})
			o.setPhase(sess, PhaseAwaitingOutput)
			continue
		}

		ok, err := o.deps.Registry.Verify(id)
		if err != nil {
			// a broken registry means no device can be trusted; the
			// session fails rather than guess
			log.Error().Err(err).Str("node", candidate.Node).Msg("registry lookup failed")
			o.deps.Monitor.Forget(candidate.Node)
			return fmt.Errorf("device registry unavailable: %w", err)
		}
		if !ok {
			o.rejectCandidate(sess, candidate, id)
			o.setPhase(sess, PhaseAwaitingOutput)
			continue
		}

		handle, err := o.deps.Mounter.MountOutput(ctx, candidate.Node)
		if err != nil {
			log.Error().Err(err).Str("node", candidate.Node).Msg("cannot mount output device")
			o.rejectCandidate(sess, candidate, id)
			o.setPhase(sess, PhaseAwaitingOutput)
			continue
		}

		o.mu.Lock()
		sess.OutputNode = candidate.Node
		sess.outputMount = handle
		o.mu.Unlock()
		if o.deps.Secure != nil {
			o.deps.Secure.SetOutput(candidate.Node, handle.Path)
		}

		log.Info().
			Str("session_id", sess.ID).
			Str("node", candidate.Node).
			Str("identity", id.String()).
			Msg("output device verified")
		return nil
	}
}

// rejectCandidate records an unregistered device being refused. This is
// the audit trail for blocked exfiltration attempts.
func (o *Orchestrator) rejectCandidate(sess *Session, candidate devices.DeviceEvent, id devices.Identity) {
	log.Warn().
		Str("session_id", sess.ID).
		Str("node", candidate.Node).
		Str("identity", id.String()).
		Msg("unregistered device blocked")
	notifications.UnregisteredBlocked(o.deps.Notifications, models.DeviceParams{
		SessionID: sess.ID,
		Serial:    id.Serial,
		VendorID:  id.VendorID,
		ProductID: id.ProductID,
		Label:     candidate.Label,
		Node:      candidate.Node,
	})
	o.deps.Monitor.Forget(candidate.Node)
}

func (o *Orchestrator) applyDeliveryResults(sess *Session, results []transfer.Result) {
	failed := make(map[string]string)
	for _, result := range results {
		if !result.Delivered() {
			dir := filepath.Dir(result.Artifact.RelPath)
			if result.Err != nil {
				failed[dir] = result.Err.Error()
			}
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	for _, rec := range sess.Files {
		if rec.Status != FileConverted {
			continue
		}
		stem := strings.TrimSuffix(rec.RelPath, filepath.Ext(rec.RelPath))
		if reason, ok := failed[stem]; ok {
			rec.Status = FileDeliveryError
			rec.Reason = reason
			notifications.FileFailed(o.deps.Notifications, models.FileParams{
				SessionID: sess.ID,
				Path:      rec.RelPath,
				Status:    string(FileDeliveryError),
				Reason:    reason,
			})
			continue
		}
		rec.Status = FileDelivered
		notifications.FileDelivered(o.deps.Notifications, models.FileParams{
			SessionID: sess.ID,
			Path:      rec.RelPath,
			Status:    string(FileDelivered),
			Artifacts: len(rec.Artifacts),
		})
	}
}

// releaseSource unmounts the source device once processing is done.
func (o *Orchestrator) releaseSource(sess *Session) {
	o.mu.Lock()
	handle := sess.SourceMount
	sess.sourceDone = true
	o.mu.Unlock()

	if handle == nil {
		return
	}
	if err := o.deps.Mounter.Unmount(handle); err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to unmount source device")
	}
	o.deps.Monitor.Forget(sess.Source.Node)
}

func (o *Orchestrator) finishSession(sess *Session) {
	o.mu.Lock()
	delivered, failed := sess.counts()
	o.mu.Unlock()

	o.cleanupSession(sess, PhaseCompleted)

	log.Info().
		Str("session_id", sess.ID).
		Int("delivered", delivered).
		Int("failed", failed).
		Msg("session completed")
	notifications.SessionCompleted(o.deps.Notifications, models.SessionParams{
		SessionID: sess.ID,
		Phase:     string(PhaseCompleted),
		Delivered: delivered,
		Failed:    failed,
	})
}

func (o *Orchestrator) failSession(ctx context.Context, reason string) {
	o.mu.Lock()
	sess := o.current
	o.mu.Unlock()
	if sess == nil {
		return
	}

	if reason == "" {
		if err := ctx.Err(); err != nil {
			reason = err.Error()
		} else {
			reason = "session failed"
		}
	}

	o.mu.Lock()
	sess.FailReason = reason
	o.mu.Unlock()

	o.cleanupSession(sess, PhaseFailed)

	delivered, failed := sess.counts()
	log.Error().
		Str("session_id", sess.ID).
		Str("reason", reason).
		Msg("session failed")
	notifications.SessionFailed(o.deps.Notifications, models.SessionParams{
		SessionID: sess.ID,
		Phase:     string(PhaseFailed),
		Error:     reason,
		Delivered: delivered,
		Failed:    failed,
	})
}

// cleanupSession releases all session resources and clears the active
// session so a new source device can start the next one.
func (o *Orchestrator) cleanupSession(sess *Session, final Phase) {
	o.mu.Lock()
	sourceDone := sess.sourceDone
	outputMount := sess.outputMount
	o.mu.Unlock()

	if !sourceDone {
		o.releaseSource(sess)
	}

	if o.deps.Secure != nil {
		o.deps.Secure.ClearOutput()
	}
	if outputMount != nil {
		if err := o.deps.Mounter.Unmount(outputMount); err != nil {
			log.Warn().Err(err).Str("node", outputMount.Node).Msg("failed to unmount output device")
		}
		o.deps.Monitor.Forget(outputMount.Node)
	}

	workDir := filepath.Join(o.deps.WorkDir, sess.ID)
	if err := os.RemoveAll(workDir); err != nil {
		log.Warn().Err(err).Str("dir", workDir).Msg("failed to remove session work directory")
	}

	o.mu.Lock()
	sess.Phase = final
	o.current = nil
	if o.cancelSess != nil {
		o.cancelSess()
		o.cancelSess = nil
	}
	o.mu.Unlock()
}

func (o *Orchestrator) setPhase(sess *Session, phase Phase) {
	o.mu.Lock()
	o.setPhaseLocked(sess, phase)
	o.mu.Unlock()
}

func (o *Orchestrator) setPhaseLocked(sess *Session, phase Phase) {
	sess.Phase = phase
	log.Debug().
		Str("session_id", sess.ID).
		Str("phase", string(phase)).
		Msg("session phase changed")
	notifications.SessionPhase(o.deps.Notifications, models.SessionParams{
		SessionID: sess.ID,
		Phase:     string(phase),
	})
}

func (o *Orchestrator) setFileStatus(sess *Session, rec *FileRecord, status FileStatus, reason string) {
	o.mu.Lock()
	rec.Status = status
	if reason != "" {
		rec.Reason = reason
	}
	o.mu.Unlock()

	log.Debug().
		Str("session_id", sess.ID).
		Str("path", rec.RelPath).
		Str("status", string(status)).
		Msg("file status changed")
}
