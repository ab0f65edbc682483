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

//go:build linux

// Package service assembles the kiosk: device monitoring, the session
// orchestrator, the device registry and the audit event stream.
package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/USBDefenderProject/usb-defender-core/pkg/api/models"
	"github.com/USBDefenderProject/usb-defender-core/pkg/config"
	"github.com/USBDefenderProject/usb-defender-core/pkg/convert"
	"github.com/USBDefenderProject/usb-defender-core/pkg/database/registrydb"
	"github.com/USBDefenderProject/usb-defender-core/pkg/devices"
	"github.com/USBDefenderProject/usb-defender-core/pkg/helpers"
	"github.com/USBDefenderProject/usb-defender-core/pkg/mount"
	"github.com/USBDefenderProject/usb-defender-core/pkg/scanner"
	"github.com/USBDefenderProject/usb-defender-core/pkg/service/broker"
	"github.com/USBDefenderProject/usb-defender-core/pkg/session"
	"github.com/USBDefenderProject/usb-defender-core/pkg/transfer"
	"github.com/rs/zerolog/log"
)

// notificationBuffer is the capacity of the event channel between the
// orchestrator and the broker.
const notificationBuffer = 100

// Service is a running kiosk instance.
type Service struct {
	cfg      *config.Instance
	registry *registrydb.RegistryDB
	monitor  devices.Monitor
	orch     *session.Orchestrator
	broker   *broker.Broker
	ns       chan models.Notification

	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Start wires up and launches the kiosk service. The returned Service
// keeps running until Stop is called.
func Start(cfg *config.Instance, dataDir string) (*Service, error) {
	ctx, cancel := context.WithCancel(context.Background())

	registry, err := registrydb.OpenRegistryDB(ctx, dataDir)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open device registry: %w", err)
	}

	monitor, err := devices.NewMonitor()
	if err != nil {
		cancel()
		_ = registry.Close()
		return nil, fmt.Errorf("failed to create device monitor: %w", err)
	}

	workDir := filepath.Join(dataDir, "work")
	if err := helpers.EnsureDirs(workDir); err != nil {
		cancel()
		_ = registry.Close()
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	identity := &devices.UdevIdentityReader{Timeout: cfg.IdentityTimeout()}
	secure := transfer.NewSecureDeviceSink(registry, identity)
	conv := cfg.Conversion()

	ns := make(chan models.Notification, notificationBuffer)
	orch := session.NewOrchestrator(session.Deps{
		Config:  cfg,
		Monitor: monitor,
		Mounter: mount.NewLinuxMounter(cfg.MountBase(), cfg.Filesystems()),
		Scanner: scanner.NewClamdGateway(cfg.ScannerSocket(), cfg.ScannerTimeout()),
		Converter: convert.NewDocImageConverter(convert.Options{
			Format:       conv.OutputFormat,
			DPI:          conv.DPI,
			Quality:      conv.Quality,
			MaxDimension: conv.MaxDimension,
		}, cfg.ConversionTimeout()),
		Sink:          transfer.NewSink(cfg, secure),
		Secure:        secure,
		Identity:      identity,
		Registry:      registry,
		Notifications: ns,
		WorkDir:       workDir,
		AutoSelect:    true,
	})

	// the broker outlives ctx so final session events still reach the
	// audit log during shutdown; it exits when ns closes
	svc := &Service{
		cfg:      cfg,
		registry: registry,
		monitor:  monitor,
		orch:     orch,
		broker:   broker.NewBroker(context.Background(), ns),
		ns:       ns,
		cancel:   cancel,
	}

	svc.broker.Start()
	startAuditLogger(svc.broker)

	if err := monitor.Start(); err != nil {
		svc.cancel()
		close(svc.ns)
		_ = registry.Close()
		return nil, fmt.Errorf("failed to start device monitor: %w", err)
	}

	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		orch.Run(ctx)
	}()

	log.Info().
		Str("transfer_method", cfg.TransferMethod()).
		Str("mount_base", cfg.MountBase()).
		Msg("service started")
	return svc, nil
}

// CurrentSession exposes the active session state for status queries.
func (s *Service) CurrentSession() *session.Snapshot {
	return s.orch.CurrentSession()
}

// Notifications subscribes to the audit event stream. The caller must
// Unsubscribe with the returned ID when done.
func (s *Service) Notifications(bufferSize int) (<-chan models.Notification, int) {
	return s.broker.Subscribe(bufferSize)
}

// Unsubscribe drops an event stream subscription.
func (s *Service) Unsubscribe(id int) {
	s.broker.Unsubscribe(id)
}

// Stop shuts the service down in dependency order: no new device events,
// then the orchestrator, then the event stream, then the registry.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		log.Info().Msg("stopping service")

		s.monitor.Stop()
		s.cancel()
		s.wg.Wait()

		close(s.ns)

		if err := s.registry.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close device registry")
		}
		log.Info().Msg("service stopped")
	})
}
