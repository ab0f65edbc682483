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

// Package registrydb stores the registry of secure output devices
// authorized for gated delivery, plus an append-only usage log.
package registrydb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/USBDefenderProject/usb-defender-core/pkg/database"
	"github.com/USBDefenderProject/usb-defender-core/pkg/devices"
	"github.com/USBDefenderProject/usb-defender-core/pkg/helpers/syncutil"
	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNullSQL = errors.New("RegistryDB is not connected")

	// ErrNotFound is returned when no device matches the given identity.
	ErrNotFound = errors.New("device not registered")

	// ErrDuplicateIdentity is returned when registering an identity that
	// already exists in the registry.
	ErrDuplicateIdentity = errors.New("device already registered")

	// ErrUnverifiableIdentity is returned when registering a device whose
	// identity tuple is incomplete. Such a device could never be verified
	// at delivery time, so registration requires explicit acknowledgement.
	ErrUnverifiableIdentity = errors.New("device identity is incomplete and can never verify")
)

const sqliteConnParams = "?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000"

// RegistryDB is the secure device registry. All mutating operations take
// the write lock so registration, import and usage recording serialize
// against verification reads.
type RegistryDB struct {
	sql     *sql.DB
	ctx     context.Context
	dataDir string
	mu      syncutil.RWMutex
}

// OpenRegistryDB opens (creating if needed) the registry database in
// dataDir and runs pending migrations.
func OpenRegistryDB(ctx context.Context, dataDir string) (*RegistryDB, error) {
	db := &RegistryDB{sql: nil, ctx: ctx, dataDir: dataDir}
	err := db.Open()
	return db, err
}

func (db *RegistryDB) Open() error {
	dbPath := db.GetDBPath()
	err := os.MkdirAll(filepath.Dir(dbPath), 0o750)
	if err != nil {
		return fmt.Errorf("failed to create directory for database: %w", err)
	}

	sqlInstance, err := sql.Open("sqlite3", dbPath+sqliteConnParams)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.sql = sqlInstance

	return db.MigrateUp()
}

func (db *RegistryDB) GetDBPath() string {
	return filepath.Join(db.dataDir, database.RegistryDbFile)
}

func (db *RegistryDB) MigrateUp() error {
	if db.sql == nil {
		return ErrNullSQL
	}
	return sqlMigrateUp(db.sql)
}

func (db *RegistryDB) UnsafeGetSQLDb() *sql.DB {
	return db.sql
}

func (db *RegistryDB) Close() error {
	if db.sql == nil {
		return nil
	}
	err := db.sql.Close()
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.sql = nil
	return nil
}

// Register adds a device identity to the registry. An incomplete identity
// is rejected with ErrUnverifiableIdentity unless ackUnverifiable is set,
// because it will fail verification at every delivery; the acknowledgement
// is recorded in the device's notes.
func (db *RegistryDB) Register(
	id devices.Identity, label, notes string, ackUnverifiable bool,
) (*database.RegisteredDevice, error) {
	if db.sql == nil {
		return nil, ErrNullSQL
	}

	if !id.Complete() {
		if !ackUnverifiable {
			return nil, ErrUnverifiableIdentity
		}
		if notes != "" {
			notes += "; "
		}
		notes += "incomplete identity, unverifiable risk acknowledged at registration"
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	return sqlRegister(db.ctx, db.sql, id, label, notes)
}

// Unregister removes a device and its usage log from the registry.
func (db *RegistryDB) Unregister(id devices.Identity) error {
	if db.sql == nil {
		return ErrNullSQL
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	return sqlUnregister(db.ctx, db.sql, id)
}

// Verify reports whether the exact identity tuple is registered. An
// identity with any empty field never verifies. Errors must be treated by
// callers as "not verified", never as a pass.
func (db *RegistryDB) Verify(id devices.Identity) (bool, error) {
	if db.sql == nil {
		return false, ErrNullSQL
	}

	if !id.Complete() {
		return false, nil
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	return sqlVerify(db.ctx, db.sql, id)
}

// RecordUsage appends a usage log entry for the device and bumps its
// last-used timestamp and use count.
func (db *RegistryDB) RecordUsage(id devices.Identity, sessionID string, fileCount int) error {
	if db.sql == nil {
		return ErrNullSQL
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	return sqlRecordUsage(db.ctx, db.sql, id, sessionID, fileCount)
}

// GetDevice returns the registered device matching the identity.
func (db *RegistryDB) GetDevice(id devices.Identity) (*database.RegisteredDevice, error) {
	if db.sql == nil {
		return nil, ErrNullSQL
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	return sqlGetDevice(db.ctx, db.sql, id)
}

// ListDevices returns all registered devices ordered by registration time.
func (db *RegistryDB) ListDevices() ([]database.RegisteredDevice, error) {
	if db.sql == nil {
		return nil, ErrNullSQL
	}

	db.mu.RLock()
	defer db.mu.RUnlock()
	return sqlListDevices(db.ctx, db.sql)
}

// GetUsage returns the usage log for a device, most recent first.
func (db *RegistryDB) GetUsage(id devices.Identity) ([]database.UsageRecord, error) {
	if db.sql == nil {
		return nil, ErrNullSQL
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	device, err := sqlGetDevice(db.ctx, db.sql, id)
	if err != nil {
		return nil, err
	}
	return sqlGetUsage(db.ctx, db.sql, device.DBID)
}

// Truncate removes all devices and usage records.
func (db *RegistryDB) Truncate() error {
	if db.sql == nil {
		return ErrNullSQL
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	return sqlTruncate(db.ctx, db.sql)
}
