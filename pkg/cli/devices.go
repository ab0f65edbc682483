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

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/USBDefenderProject/usb-defender-core/pkg/api/models"
	"github.com/USBDefenderProject/usb-defender-core/pkg/database/registrydb"
	"github.com/USBDefenderProject/usb-defender-core/pkg/devices"
	"github.com/rs/zerolog/log"
)

// openRegistry opens the device registry for a one-shot management
// command, exiting on failure.
func openRegistry(dataDir string) *registrydb.RegistryDB {
	db, err := registrydb.OpenRegistryDB(context.Background(), dataDir)
	if err != nil {
		log.Error().Err(err).Msg("failed to open device registry")
		_, _ = fmt.Fprintf(os.Stderr, "Error opening device registry: %v\n", err)
		os.Exit(1)
	}
	return db
}

func parseIdentityArg(spec string) devices.Identity {
	id, err := devices.ParseIdentity(spec)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: invalid identity %q: %v\n", spec, err)
		_, _ = fmt.Fprint(os.Stderr, "Expected serial:vendor:product, e.g. AA123:0951:1666\n")
		os.Exit(1)
	}
	return id
}

func registerDevice(dataDir, spec, label, notes string, ackNoSerial bool) {
	id := parseIdentityArg(spec)

	db := openRegistry(dataDir)
	defer func() { _ = db.Close() }()

	device, err := db.Register(id, label, notes, ackNoSerial)
	switch {
	case errors.Is(err, registrydb.ErrUnverifiableIdentity):
		_, _ = fmt.Fprint(os.Stderr,
			"Error: device has no serial number and will never verify.\n"+
				"Pass -ack-no-serial to register it anyway.\n")
		os.Exit(1)
	case errors.Is(err, registrydb.ErrDuplicateIdentity):
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s is already registered\n", id)
		os.Exit(1)
	case err != nil:
		log.Error().Err(err).Msg("failed to register device")
		_, _ = fmt.Fprintf(os.Stderr, "Error registering device: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("event", models.NotificationDeviceRegistered).
		Str("serial", id.Serial).
		Str("vendor_id", id.VendorID).
		Str("product_id", id.ProductID).
		Str("label", device.Label).
		Msg("audit")

	_, _ = fmt.Printf("Registered %s", id)
	if device.Label != "" {
		_, _ = fmt.Printf(" (%s)", device.Label)
	}
	_, _ = fmt.Println()
	os.Exit(0)
}

func unregisterDevice(dataDir, spec string) {
	id := parseIdentityArg(spec)

	db := openRegistry(dataDir)
	defer func() { _ = db.Close() }()

	err := db.Unregister(id)
	switch {
	case errors.Is(err, registrydb.ErrNotFound):
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s is not registered\n", id)
		os.Exit(1)
	case err != nil:
		log.Error().Err(err).Msg("failed to unregister device")
		_, _ = fmt.Fprintf(os.Stderr, "Error unregistering device: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("event", models.NotificationDeviceUnregistered).
		Str("serial", id.Serial).
		Str("vendor_id", id.VendorID).
		Str("product_id", id.ProductID).
		Msg("audit")

	_, _ = fmt.Printf("Unregistered %s\n", id)
	os.Exit(0)
}

func listDevices(dataDir string) {
	db := openRegistry(dataDir)
	defer func() { _ = db.Close() }()

	list, err := db.ListDevices()
	if err != nil {
		log.Error().Err(err).Msg("failed to list devices")
		_, _ = fmt.Fprintf(os.Stderr, "Error listing devices: %v\n", err)
		os.Exit(1)
	}

	if len(list) == 0 {
		_, _ = fmt.Println("No devices registered.")
		os.Exit(0)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SERIAL\tVENDOR\tPRODUCT\tLABEL\tUSES\tLAST USED")
	for _, device := range list {
		lastUsed := "never"
		if !device.LastUsedAt.IsZero() {
			lastUsed = device.LastUsedAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			device.Serial, device.VendorID, device.ProductID,
			device.Label, device.UseCount, lastUsed)
	}
	_ = w.Flush()
	os.Exit(0)
}

func exportDevices(dataDir, path string) {
	db := openRegistry(dataDir)
	defer func() { _ = db.Close() }()

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error creating export file: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = file.Close() }()

	if err := db.Export(file); err != nil {
		log.Error().Err(err).Msg("failed to export devices")
		_, _ = fmt.Fprintf(os.Stderr, "Error exporting devices: %v\n", err)
		os.Exit(1)
	}

	_, _ = fmt.Printf("Exported device registry to %s\n", path)
	os.Exit(0)
}

func importDevices(dataDir, path, mode string) {
	importMode := registrydb.ImportMode(mode)
	if importMode != registrydb.ImportMerge && importMode != registrydb.ImportReplace {
		_, _ = fmt.Fprintf(os.Stderr, "Error: import mode must be merge or replace, got %q\n", mode)
		os.Exit(1)
	}

	db := openRegistry(dataDir)
	defer func() { _ = db.Close() }()

	file, err := os.Open(path)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error opening import file: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = file.Close() }()

	added, err := db.Import(file, importMode)
	if err != nil {
		log.Error().Err(err).Msg("failed to import devices")
		_, _ = fmt.Fprintf(os.Stderr, "Error importing devices: %v\n", err)
		os.Exit(1)
	}

	_, _ = fmt.Printf("Imported %d devices from %s\n", added, path)
	os.Exit(0)
}
