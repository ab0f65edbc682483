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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/USBDefenderProject/usb-defender-core/pkg/database"
	"github.com/USBDefenderProject/usb-defender-core/pkg/devices"
	"github.com/rs/zerolog/log"
)

// ImportMode controls how an imported snapshot combines with existing
// registry contents.
type ImportMode string

const (
	// ImportMerge keeps existing devices and adds new ones; devices
	// already present are skipped.
	ImportMerge ImportMode = "merge"
	// ImportReplace clears the registry before importing.
	ImportReplace ImportMode = "replace"
)

const snapshotVersion = 1

// Snapshot is the portable JSON form of the registry. It carries every
// device field and the full usage log, so a restored registry is
// indistinguishable from the original.
type Snapshot struct {
	ExportedAt time.Time        `json:"exportedAt"`
	Devices    []SnapshotDevice `json:"devices"`
	Version    int              `json:"version"`
}

type SnapshotDevice struct {
	RegisteredAt time.Time       `json:"registeredAt"`
	LastUsedAt   time.Time       `json:"lastUsedAt"`
	Serial       string          `json:"serial"`
	VendorID     string          `json:"vendorId"`
	ProductID    string          `json:"productId"`
	Label        string          `json:"label,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	Usage        []SnapshotUsage `json:"usage,omitempty"`
	UseCount     int64           `json:"useCount"`
}

type SnapshotUsage struct {
	UsedAt    time.Time `json:"usedAt"`
	SessionID string    `json:"sessionId"`
	FileCount int       `json:"fileCount"`
}

// Export writes a JSON snapshot of all registered devices and their
// usage logs to w.
func (db *RegistryDB) Export(w io.Writer) error {
	if db.sql == nil {
		return ErrNullSQL
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	list, err := sqlListDevices(db.ctx, db.sql)
	if err != nil {
		return fmt.Errorf("failed to list devices for export: %w", err)
	}

	snapshot := Snapshot{
		Version:    snapshotVersion,
		ExportedAt: time.Now(),
		Devices:    make([]SnapshotDevice, 0, len(list)),
	}
	for _, device := range list {
		usage, err := sqlGetUsage(db.ctx, db.sql, device.DBID)
		if err != nil {
			return fmt.Errorf("failed to read usage log for export: %w", err)
		}

		entry := SnapshotDevice{
			Serial:       device.Serial,
			VendorID:     device.VendorID,
			ProductID:    device.ProductID,
			Label:        device.Label,
			Notes:        device.Notes,
			RegisteredAt: device.RegisteredAt,
			LastUsedAt:   device.LastUsedAt,
			UseCount:     device.UseCount,
			Usage:        make([]SnapshotUsage, 0, len(usage)),
		}
		// stored oldest-first so a restore reproduces the original
		// insert order
		for i := len(usage) - 1; i >= 0; i-- {
			entry.Usage = append(entry.Usage, SnapshotUsage{
				SessionID: usage[i].SessionID,
				FileCount: usage[i].FileCount,
				UsedAt:    usage[i].UsedAt,
			})
		}
		snapshot.Devices = append(snapshot.Devices, entry)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&snapshot); err != nil {
		return fmt.Errorf("failed to encode registry snapshot: %w", err)
	}
	return nil
}

// Import reads a JSON snapshot from r and applies it according to mode,
// restoring devices with their original timestamps, counters and usage
// logs. It returns the number of devices added. Devices with incomplete
// identities are skipped with a warning rather than imported blind.
func (db *RegistryDB) Import(r io.Reader, mode ImportMode) (int, error) {
	if db.sql == nil {
		return 0, ErrNullSQL
	}

	var snapshot Snapshot
	if err := json.NewDecoder(r).Decode(&snapshot); err != nil {
		return 0, fmt.Errorf("failed to decode registry snapshot: %w", err)
	}

	if snapshot.Version > snapshotVersion {
		return 0, fmt.Errorf(
			"snapshot version %d is newer than supported %d",
			snapshot.Version, snapshotVersion,
		)
	}
	if mode != ImportMerge && mode != ImportReplace {
		return 0, fmt.Errorf("unknown import mode %q", mode)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if mode == ImportReplace {
		if err := sqlTruncate(db.ctx, db.sql); err != nil {
			return 0, fmt.Errorf("failed to clear registry for replace import: %w", err)
		}
	}

	added := 0
	for _, entry := range snapshot.Devices {
		id := devices.Identity{
			Serial:    entry.Serial,
			VendorID:  entry.VendorID,
			ProductID: entry.ProductID,
		}

		if !id.Complete() {
			log.Warn().
				Str("identity", id.String()).
				Msg("skipping snapshot device with incomplete identity")
			continue
		}

		dbID, err := sqlImportDevice(db.ctx, db.sql, database.RegisteredDevice{
			Serial:       entry.Serial,
			VendorID:     entry.VendorID,
			ProductID:    entry.ProductID,
			Label:        entry.Label,
			Notes:        entry.Notes,
			RegisteredAt: entry.RegisteredAt,
			LastUsedAt:   entry.LastUsedAt,
			UseCount:     entry.UseCount,
		})
		if err != nil {
			if errors.Is(err, ErrDuplicateIdentity) {
				log.Debug().
					Str("identity", id.String()).
					Msg("skipping already registered device")
				continue
			}
			return added, fmt.Errorf("failed to import device %s: %w", id, err)
		}

		for _, record := range entry.Usage {
			err := sqlRestoreUsage(db.ctx, db.sql, dbID, database.UsageRecord{
				SessionID: record.SessionID,
				FileCount: record.FileCount,
				UsedAt:    record.UsedAt,
			})
			if err != nil {
				return added, fmt.Errorf("failed to restore usage for %s: %w", id, err)
			}
		}
		added++
	}

	return added, nil
}
