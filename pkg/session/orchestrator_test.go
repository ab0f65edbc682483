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

package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/USBDefenderProject/usb-defender-core/pkg/api/models"
	"github.com/USBDefenderProject/usb-defender-core/pkg/config"
	"github.com/USBDefenderProject/usb-defender-core/pkg/devices"
	"github.com/USBDefenderProject/usb-defender-core/pkg/mount"
	"github.com/USBDefenderProject/usb-defender-core/pkg/scanner"
	"github.com/USBDefenderProject/usb-defender-core/pkg/transfer"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeMonitor struct {
	events   chan devices.DeviceEvent
	removals chan string

	mu        sync.Mutex
	forgotten []string
}

func newFakeMonitor() *fakeMonitor {
	return &fakeMonitor{
		events:   make(chan devices.DeviceEvent, 8),
		removals: make(chan string, 8),
	}
}

func (m *fakeMonitor) Events() <-chan devices.DeviceEvent { return m.events }
func (m *fakeMonitor) Removals() <-chan string            { return m.removals }
func (m *fakeMonitor) Start() error                       { return nil }
func (m *fakeMonitor) Stop()                              {}

func (m *fakeMonitor) Forget(node string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forgotten = append(m.forgotten, node)
}

// fakeMounter hands out paths prepared by the test instead of touching
// the kernel.
type fakeMounter struct {
	paths map[string]string
	deny  map[string]bool

	mu        sync.Mutex
	unmounted []string
}

func (f *fakeMounter) mount(node string, readOnly bool) (*mount.Handle, error) {
	if f.deny[node] {
		return nil, mount.ErrMountDenied
	}
	path, ok := f.paths[node]
	if !ok {
		return nil, mount.ErrMountDenied
	}
	return &mount.Handle{Node: node, Path: path, Fstype: "vfat", ReadOnly: readOnly}, nil
}

func (f *fakeMounter) MountSource(_ context.Context, node string) (*mount.Handle, error) {
	return f.mount(node, true)
}

func (f *fakeMounter) MountOutput(_ context.Context, node string) (*mount.Handle, error) {
	return f.mount(node, false)
}

func (f *fakeMounter) Unmount(handle *mount.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unmounted = append(f.unmounted, handle.Node)
	return nil
}

// fakeScanner returns per-file verdicts keyed by base name; unlisted
// files scan clean. Files in blockUntilCancel park until the session
// context ends.
type fakeScanner struct {
	pingErr          error
	verdicts         map[string]scanner.ScanResult
	blockUntilCancel map[string]bool
}

func (s *fakeScanner) Ping(_ context.Context) error { return s.pingErr }

func (s *fakeScanner) Scan(ctx context.Context, path string) scanner.ScanResult {
	name := filepath.Base(path)
	if s.blockUntilCancel[name] {
		<-ctx.Done()
		return scanner.ScanResult{Verdict: scanner.VerdictError, Detail: ctx.Err().Error()}
	}
	if result, ok := s.verdicts[name]; ok {
		return result
	}
	return scanner.ScanResult{Verdict: scanner.VerdictClean}
}

// fakeConverter writes one page per source file. Base names listed in
// fail return an error instead.
type fakeConverter struct {
	fail map[string]bool
}

func (c *fakeConverter) Convert(_ context.Context, src, outDir string) ([]string, error) {
	name := filepath.Base(src)
	if c.fail[name] {
		return nil, assert.AnError
	}
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, err
	}
	stem := name[:len(name)-len(filepath.Ext(name))]
	page := filepath.Join(outDir, stem+".png")
	if err := os.WriteFile(page, []byte("rendered "+name), 0o600); err != nil {
		return nil, err
	}
	return []string{page}, nil
}

type stubRegistry struct {
	registered map[devices.Identity]bool
	verifyErr  error

	mu    sync.Mutex
	usage []string
}

func (r *stubRegistry) Verify(id devices.Identity) (bool, error) {
	if r.verifyErr != nil {
		return false, r.verifyErr
	}
	return r.registered[id], nil
}

func (r *stubRegistry) RecordUsage(_ devices.Identity, sessionID string, _ int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage = append(r.usage, sessionID)
	return nil
}

type stubIdentityReader struct {
	ids map[string]devices.Identity
}

func (r *stubIdentityReader) Identity(_ context.Context, node string) (devices.Identity, error) {
	id, ok := r.ids[node]
	if !ok {
		return devices.Identity{}, devices.ErrIdentityUnavailable
	}
	return id, nil
}

// rig wires an orchestrator to fakes and collects notifications.
type rig struct {
	orch    *Orchestrator
	monitor *fakeMonitor
	mounter *fakeMounter
	scanner *fakeScanner
	cancel  context.CancelFunc
	done    chan struct{}

	ns     chan models.Notification
	nsMu   sync.Mutex
	nsSeen []models.Notification
}

func newRig(t *testing.T, method string, deps func(*Deps)) *rig {
	t.Helper()

	cfg, err := config.NewConfig(t.TempDir(), config.BaseDefaults)
	require.NoError(t, err)
	cfg.SetTransferMethod(method)

	r := &rig{
		monitor: newFakeMonitor(),
		mounter: &fakeMounter{paths: map[string]string{}, deny: map[string]bool{}},
		scanner: &fakeScanner{},
		ns:      make(chan models.Notification, 64),
		done:    make(chan struct{}),
	}
	d := Deps{
		Config:        cfg,
		Monitor:       r.monitor,
		Mounter:       r.mounter,
		Scanner:       r.scanner,
		Converter:     &fakeConverter{},
		Notifications: r.ns,
		Clock:         clockwork.NewRealClock(),
		WorkDir:       t.TempDir(),
		AutoSelect:    true,
	}
	if deps != nil {
		deps(&d)
	}
	r.orch = NewOrchestrator(d)

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	go func() {
		for n := range r.ns {
			r.nsMu.Lock()
			r.nsSeen = append(r.nsSeen, n)
			r.nsMu.Unlock()
		}
	}()
	go func() {
		r.orch.Run(ctx)
		close(r.ns)
		close(r.done)
	}()

	t.Cleanup(func() {
		cancel()
		<-r.done
	})
	return r
}

// awaitEvent blocks until a notification with the given method arrives
// and returns it.
func (r *rig) awaitEvent(t *testing.T, method string) models.Notification {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		r.nsMu.Lock()
		for _, n := range r.nsSeen {
			if n.Method == method {
				r.nsMu.Unlock()
				return n
			}
		}
		r.nsMu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s notification", method)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// awaitPhase blocks until a phase notification for the given phase
// arrives.
func (r *rig) awaitPhase(t *testing.T, phase Phase) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		r.nsMu.Lock()
		for _, n := range r.nsSeen {
			if n.Method != models.NotificationSessionPhase {
				continue
			}
			if params, ok := n.Params.(models.SessionParams); ok && params.Phase == string(phase) {
				r.nsMu.Unlock()
				return
			}
		}
		r.nsMu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for phase %s", phase)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (r *rig) eventCount(method string) int {
	r.nsMu.Lock()
	defer r.nsMu.Unlock()
	count := 0
	for _, n := range r.nsSeen {
		if n.Method == method {
			count++
		}
	}
	return count
}

func writeSourceFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestSessionMixedOutcomes(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	outDir := t.TempDir()
	writeSourceFile(t, srcDir, "notes.txt", "meeting notes")
	writeSourceFile(t, srcDir, "carrier.txt", "looks harmless")
	writeSourceFile(t, srcDir, "tool.exe", "MZ fake binary")

	r := newRig(t, config.MethodLocal, func(d *Deps) {
		d.Sink = transfer.NewLocalSink(afero.NewOsFs(), outDir)
	})
	r.mounter.paths["/dev/sdb1"] = srcDir
	r.scanner.verdicts = map[string]scanner.ScanResult{
		"carrier.txt": {Verdict: scanner.VerdictInfected, Signature: "Eicar-Test-Signature"},
	}

	r.monitor.events <- devices.DeviceEvent{Node: "/dev/sdb1", Label: "INTAKE"}

	completed := r.awaitEvent(t, models.NotificationSessionCompleted)
	params, ok := completed.Params.(models.SessionParams)
	require.True(t, ok)
	assert.Equal(t, 1, params.Delivered)
	assert.Equal(t, 2, params.Failed)

	content, err := os.ReadFile(filepath.Join(outDir, params.SessionID, "notes", "notes.png"))
	require.NoError(t, err)
	assert.Equal(t, "rendered notes.txt", string(content))

	// the infected carrier must leave nothing behind
	_, err = os.Stat(filepath.Join(outDir, params.SessionID, "carrier"))
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, 1, r.eventCount(models.NotificationSessionStarted))
	assert.GreaterOrEqual(t, r.eventCount(models.NotificationFileFailed), 2)
}

func TestScanErrorFileIsNeverDelivered(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	outDir := t.TempDir()
	writeSourceFile(t, srcDir, "report.txt", "quarterly report")
	writeSourceFile(t, srcDir, "flaky.txt", "scanner chokes on this")

	r := newRig(t, config.MethodLocal, func(d *Deps) {
		d.Sink = transfer.NewLocalSink(afero.NewOsFs(), outDir)
	})
	r.mounter.paths["/dev/sdb1"] = srcDir
	r.scanner.verdicts = map[string]scanner.ScanResult{
		"flaky.txt": {Verdict: scanner.VerdictError, Detail: "scan daemon timeout"},
	}

	r.monitor.events <- devices.DeviceEvent{Node: "/dev/sdb1", Label: "INTAKE"}

	completed := r.awaitEvent(t, models.NotificationSessionCompleted)
	params, ok := completed.Params.(models.SessionParams)
	require.True(t, ok)
	assert.Equal(t, 1, params.Delivered)
	assert.Equal(t, 1, params.Failed)

	failed := r.awaitEvent(t, models.NotificationFileFailed)
	fileParams, ok := failed.Params.(models.FileParams)
	require.True(t, ok)
	assert.Equal(t, "flaky.txt", fileParams.Path)
	assert.Equal(t, string(FileScanError), fileParams.Status)
	assert.Equal(t, "scan daemon timeout", fileParams.Reason)

	content, err := os.ReadFile(filepath.Join(outDir, params.SessionID, "report", "report.png"))
	require.NoError(t, err)
	assert.Equal(t, "rendered report.txt", string(content))

	// a file the scanner could not judge leaves nothing on the output side
	_, err = os.Stat(filepath.Join(outDir, params.SessionID, "flaky"))
	assert.True(t, os.IsNotExist(err))
}

func TestGatedDeliveryBlocksUnregisteredDevice(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	outDir := t.TempDir()
	writeSourceFile(t, srcDir, "memo.txt", "quarterly memo")

	trusted := devices.Identity{Serial: "AA123", VendorID: "0951", ProductID: "1666"}
	registry := &stubRegistry{registered: map[devices.Identity]bool{trusted: true}}
	reader := &stubIdentityReader{ids: map[string]devices.Identity{
		"/dev/sdc1": {Serial: "ZZ999", VendorID: "abcd", ProductID: "0001"},
		"/dev/sdd1": trusted,
	}}
	secure := transfer.NewSecureDeviceSink(registry, reader)

	r := newRig(t, config.MethodSecureDevice, func(d *Deps) {
		d.Sink = secure
		d.Secure = secure
		d.Identity = reader
		d.Registry = registry
	})
	r.mounter.paths["/dev/sdb1"] = srcDir
	r.mounter.paths["/dev/sdc1"] = t.TempDir()
	r.mounter.paths["/dev/sdd1"] = outDir

	r.monitor.events <- devices.DeviceEvent{Node: "/dev/sdb1", Label: "INTAKE"}
	r.awaitEvent(t, models.NotificationSessionStarted)
	r.awaitPhase(t, PhaseAwaitingOutput)

	// a random stick inserted at the output gate must be refused
	r.monitor.events <- devices.DeviceEvent{Node: "/dev/sdc1", Label: "RANDOM"}
	blocked := r.awaitEvent(t, models.NotificationUnregisteredBlocked)
	deviceParams, ok := blocked.Params.(models.DeviceParams)
	require.True(t, ok)
	assert.Equal(t, "ZZ999", deviceParams.Serial)
	assert.Equal(t, "/dev/sdc1", deviceParams.Node)

	r.monitor.events <- devices.DeviceEvent{Node: "/dev/sdd1", Label: "SECURE"}
	completed := r.awaitEvent(t, models.NotificationSessionCompleted)
	params, ok := completed.Params.(models.SessionParams)
	require.True(t, ok)
	assert.Equal(t, 1, params.Delivered)

	content, err := os.ReadFile(filepath.Join(outDir, params.SessionID, "memo", "memo.png"))
	require.NoError(t, err)
	assert.Equal(t, "rendered memo.txt", string(content))

	registry.mu.Lock()
	defer registry.mu.Unlock()
	assert.Equal(t, []string{params.SessionID}, registry.usage)
}

func TestOutputDeviceAcceptedAtSourceRelease(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	outDir := t.TempDir()
	writeSourceFile(t, srcDir, "memo.txt", "quarterly memo")

	trusted := devices.Identity{Serial: "AA123", VendorID: "0951", ProductID: "1666"}
	registry := &stubRegistry{registered: map[devices.Identity]bool{trusted: true}}
	reader := &stubIdentityReader{ids: map[string]devices.Identity{"/dev/sdd1": trusted}}
	secure := transfer.NewSecureDeviceSink(registry, reader)

	r := newRig(t, config.MethodSecureDevice, func(d *Deps) {
		d.Sink = secure
		d.Secure = secure
		d.Identity = reader
		d.Registry = registry
	})
	r.mounter.paths["/dev/sdb1"] = srcDir
	r.mounter.paths["/dev/sdd1"] = outDir

	r.monitor.events <- devices.DeviceEvent{Node: "/dev/sdb1", Label: "INTAKE"}
	r.awaitEvent(t, models.NotificationSessionStarted)

	// insert the secure device the instant the source is released,
	// without waiting for the awaiting-output phase to be announced
	deadline := time.Now().Add(5 * time.Second)
	for {
		r.monitor.mu.Lock()
		released := len(r.monitor.forgotten) > 0
		r.monitor.mu.Unlock()
		if released {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for source release")
		}
		time.Sleep(time.Millisecond)
	}
	r.monitor.events <- devices.DeviceEvent{Node: "/dev/sdd1", Label: "SECURE"}

	completed := r.awaitEvent(t, models.NotificationSessionCompleted)
	params, ok := completed.Params.(models.SessionParams)
	require.True(t, ok)
	assert.Equal(t, 1, params.Delivered)
}

func TestRegistryFailureFailsGatedSession(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	writeSourceFile(t, srcDir, "memo.txt", "quarterly memo")

	trusted := devices.Identity{Serial: "AA123", VendorID: "0951", ProductID: "1666"}
	registry := &stubRegistry{verifyErr: assert.AnError}
	reader := &stubIdentityReader{ids: map[string]devices.Identity{
		"/dev/sdd1": trusted,
	}}
	secure := transfer.NewSecureDeviceSink(registry, reader)

	r := newRig(t, config.MethodSecureDevice, func(d *Deps) {
		d.Sink = secure
		d.Secure = secure
		d.Identity = reader
		d.Registry = registry
	})
	r.mounter.paths["/dev/sdb1"] = srcDir
	r.mounter.paths["/dev/sdd1"] = t.TempDir()

	r.monitor.events <- devices.DeviceEvent{Node: "/dev/sdb1", Label: "INTAKE"}
	r.awaitEvent(t, models.NotificationSessionStarted)
	r.awaitPhase(t, PhaseAwaitingOutput)

	// a registry that cannot answer must end the session, not wave
	// devices through or keep the operator waiting
	r.monitor.events <- devices.DeviceEvent{Node: "/dev/sdd1", Label: "SECURE"}
	failed := r.awaitEvent(t, models.NotificationSessionFailed)
	params, ok := failed.Params.(models.SessionParams)
	require.True(t, ok)
	assert.Contains(t, params.Error, "device registry unavailable")
	assert.Zero(t, params.Delivered)
	assert.Nil(t, r.orch.CurrentSession())
}

func TestSourceRemovalFailsSession(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	writeSourceFile(t, srcDir, "stuck.txt", "never finishes")

	r := newRig(t, config.MethodLocal, func(d *Deps) {
		d.Sink = transfer.NewLocalSink(afero.NewOsFs(), t.TempDir())
	})
	r.mounter.paths["/dev/sdb1"] = srcDir
	r.scanner.blockUntilCancel = map[string]bool{"stuck.txt": true}

	r.monitor.events <- devices.DeviceEvent{Node: "/dev/sdb1", Label: "INTAKE"}
	r.awaitEvent(t, models.NotificationSessionStarted)

	r.monitor.removals <- "/dev/sdb1"

	failed := r.awaitEvent(t, models.NotificationSessionFailed)
	params, ok := failed.Params.(models.SessionParams)
	require.True(t, ok)
	assert.Equal(t, "source device removed", params.Error)
	assert.Zero(t, params.Delivered)
}

func TestMountDeniedRefusesSession(t *testing.T) {
	t.Parallel()

	r := newRig(t, config.MethodLocal, func(d *Deps) {
		d.Sink = transfer.NewLocalSink(afero.NewOsFs(), t.TempDir())
	})
	r.mounter.deny["/dev/sdb1"] = true

	r.monitor.events <- devices.DeviceEvent{Node: "/dev/sdb1"}

	failed := r.awaitEvent(t, models.NotificationSessionFailed)
	params, ok := failed.Params.(models.SessionParams)
	require.True(t, ok)
	assert.Empty(t, params.SessionID, "no session may exist for a refused mount")
	assert.Equal(t, "/dev/sdb1", params.DeviceNode)
	assert.Nil(t, r.orch.CurrentSession())
}

func TestScannerDownRefusesSession(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	writeSourceFile(t, srcDir, "notes.txt", "meeting notes")

	r := newRig(t, config.MethodLocal, func(d *Deps) {
		d.Sink = transfer.NewLocalSink(afero.NewOsFs(), t.TempDir())
	})
	r.mounter.paths["/dev/sdb1"] = srcDir
	r.scanner.pingErr = assert.AnError

	r.monitor.events <- devices.DeviceEvent{Node: "/dev/sdb1"}

	failed := r.awaitEvent(t, models.NotificationSessionFailed)
	params, ok := failed.Params.(models.SessionParams)
	require.True(t, ok)
	assert.Equal(t, "scanner unavailable", params.Error)
	assert.Nil(t, r.orch.CurrentSession())

	// nothing was mounted, nothing to unmount
	r.mounter.mu.Lock()
	defer r.mounter.mu.Unlock()
	assert.Empty(t, r.mounter.unmounted)
}
