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

package registrydb

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/USBDefenderProject/usb-defender-core/pkg/database"
	"github.com/USBDefenderProject/usb-defender-core/pkg/devices"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Queries go here to keep the interface clean

//go:embed migrations/*.sql
var migrationFiles embed.FS

func sqlMigrateUp(db *sql.DB) error {
	if err := database.MigrateUp(db, migrationFiles, "migrations"); err != nil {
		return fmt.Errorf("failed to run registry database migrations: %w", err)
	}
	return nil
}

//goland:noinspection SqlWithoutWhere
func sqlTruncate(ctx context.Context, db *sql.DB) error {
	sqlStmt := `
	delete from usage_log;
	delete from devices;
	vacuum;
	`
	_, err := db.ExecContext(ctx, sqlStmt)
	if err != nil {
		return fmt.Errorf("failed to truncate database: %w", err)
	}
	return nil
}

func sqlRegister(
	ctx context.Context, db *sql.DB, id devices.Identity, label, notes string,
) (*database.RegisteredDevice, error) {
	now := time.Now()

	result, err := db.ExecContext(ctx, `
		insert into devices (serial, vendor_id, product_id, label, notes, registered_at)
		values (?, ?, ?, ?, ?, ?);
	`, id.Serial, id.VendorID, id.ProductID, label, notes, now.Unix())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) &&
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrDuplicateIdentity
		}
		return nil, fmt.Errorf("failed to insert device: %w", err)
	}

	dbID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get inserted device id: %w", err)
	}

	return &database.RegisteredDevice{
		DBID:         dbID,
		Serial:       id.Serial,
		VendorID:     id.VendorID,
		ProductID:    id.ProductID,
		Label:        label,
		Notes:        notes,
		RegisteredAt: now,
	}, nil
}

// sqlImportDevice inserts a device preserving its snapshot timestamps and
// usage counters, for lossless registry import.
func sqlImportDevice(
	ctx context.Context, db *sql.DB, device database.RegisteredDevice,
) (int64, error) {
	var lastUsed int64
	if !device.LastUsedAt.IsZero() {
		lastUsed = device.LastUsedAt.Unix()
	}

	result, err := db.ExecContext(ctx, `
		insert into devices
			(serial, vendor_id, product_id, label, notes,
			registered_at, last_used_at, use_count)
		values (?, ?, ?, ?, ?, ?, ?, ?);
	`, device.Serial, device.VendorID, device.ProductID, device.Label,
		device.Notes, device.RegisteredAt.Unix(), lastUsed, device.UseCount)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) &&
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, ErrDuplicateIdentity
		}
		return 0, fmt.Errorf("failed to insert device: %w", err)
	}

	dbID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted device id: %w", err)
	}
	return dbID, nil
}

// sqlRestoreUsage appends a usage record with its original timestamp,
// without touching the device's counters.
func sqlRestoreUsage(
	ctx context.Context, db *sql.DB, deviceID int64, record database.UsageRecord,
) error {
	_, err := db.ExecContext(ctx, `
		insert into usage_log (device_id, session_id, file_count, used_at)
		values (?, ?, ?, ?);
	`, deviceID, record.SessionID, record.FileCount, record.UsedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}
	return nil
}

func sqlUnregister(ctx context.Context, db *sql.DB, id devices.Identity) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil &&
			!errors.Is(rollbackErr, sql.ErrTxDone) {
			log.Warn().Err(rollbackErr).Msg("failed to rollback transaction")
		}
	}()

	_, err = tx.ExecContext(ctx, `
		delete from usage_log where device_id in (
			select id from devices
			where serial = ? and vendor_id = ? and product_id = ?
		);
	`, id.Serial, id.VendorID, id.ProductID)
	if err != nil {
		return fmt.Errorf("failed to delete usage log: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		delete from devices
		where serial = ? and vendor_id = ? and product_id = ?;
	`, id.Serial, id.VendorID, id.ProductID)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func sqlVerify(ctx context.Context, db *sql.DB, id devices.Identity) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		select count(*) from devices
		where serial = ? and vendor_id = ? and product_id = ?;
	`, id.Serial, id.VendorID, id.ProductID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query device: %w", err)
	}
	return count > 0, nil
}

func sqlGetDevice(
	ctx context.Context, db *sql.DB, id devices.Identity,
) (*database.RegisteredDevice, error) {
	row := db.QueryRowContext(ctx, `
		select id, serial, vendor_id, product_id, label, notes,
			registered_at, last_used_at, use_count
		from devices
		where serial = ? and vendor_id = ? and product_id = ?;
	`, id.Serial, id.VendorID, id.ProductID)

	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	return device, nil
}

func sqlListDevices(ctx context.Context, db *sql.DB) ([]database.RegisteredDevice, error) {
	rows, err := db.QueryContext(ctx, `
		select id, serial, vendor_id, product_id, label, notes,
			registered_at, last_used_at, use_count
		from devices
		order by registered_at asc, id asc;
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("failed to close rows")
		}
	}()

	list := make([]database.RegisteredDevice, 0)
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		list = append(list, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}
	return list, nil
}

func sqlRecordUsage(
	ctx context.Context, db *sql.DB, id devices.Identity, sessionID string, fileCount int,
) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil &&
			!errors.Is(rollbackErr, sql.ErrTxDone) {
			log.Warn().Err(rollbackErr).Msg("failed to rollback transaction")
		}
	}()

	var deviceID int64
	err = tx.QueryRowContext(ctx, `
		select id from devices
		where serial = ? and vendor_id = ? and product_id = ?;
	`, id.Serial, id.VendorID, id.ProductID).Scan(&deviceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to query device: %w", err)
	}

	now := time.Now().Unix()

	_, err = tx.ExecContext(ctx, `
		insert into usage_log (device_id, session_id, file_count, used_at)
		values (?, ?, ?, ?);
	`, deviceID, sessionID, fileCount, now)
	if err != nil {
		return fmt.Errorf("failed to insert usage record: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		update devices set last_used_at = ?, use_count = use_count + 1
		where id = ?;
	`, now, deviceID)
	if err != nil {
		return fmt.Errorf("failed to update device usage: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func sqlGetUsage(ctx context.Context, db *sql.DB, deviceID int64) ([]database.UsageRecord, error) {
	rows, err := db.QueryContext(ctx, `
		select id, device_id, session_id, file_count, used_at
		from usage_log
		where device_id = ?
		order by used_at desc, id desc;
	`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage log: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("failed to close rows")
		}
	}()

	list := make([]database.UsageRecord, 0)
	for rows.Next() {
		var record database.UsageRecord
		var usedAt int64
		err := rows.Scan(
			&record.DBID,
			&record.DeviceID,
			&record.SessionID,
			&record.FileCount,
			&usedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		record.UsedAt = time.Unix(usedAt, 0)
		list = append(list, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate usage log: %w", err)
	}
	return list, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*database.RegisteredDevice, error) {
	var device database.RegisteredDevice
	var registeredAt, lastUsedAt int64
	err := row.Scan(
		&device.DBID,
		&device.Serial,
		&device.VendorID,
		&device.ProductID,
		&device.Label,
		&device.Notes,
		&registeredAt,
		&lastUsedAt,
		&device.UseCount,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	device.RegisteredAt = time.Unix(registeredAt, 0)
	if lastUsedAt > 0 {
		device.LastUsedAt = time.Unix(lastUsedAt, 0)
	}
	return &device, nil
}
