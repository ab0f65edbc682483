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

// Package cli handles command line flags and the device registry
// management commands.
package cli

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/USBDefenderProject/usb-defender-core/pkg/config"
	"github.com/USBDefenderProject/usb-defender-core/pkg/helpers"
)

type Flags struct {
	Daemon      *bool
	ConfigDir   *string
	DataDir     *string
	LogDir      *string
	Register    *string
	Unregister  *string
	Label       *string
	Notes       *string
	AckNoSerial *bool
	List        *bool
	Export      *string
	Import      *string
	ImportMode  *string
	Version     *bool
	Debug       *bool
}

// SetupFlags defines all CLI flags. Call before flag.Parse.
func SetupFlags() *Flags {
	return &Flags{
		Daemon: flag.Bool(
			"daemon",
			false,
			"run the kiosk service in the foreground",
		),
		ConfigDir: flag.String(
			"config-dir",
			helpers.DefaultConfigDir,
			"directory containing config.toml",
		),
		DataDir: flag.String(
			"data-dir",
			helpers.DefaultDataDir,
			"directory for the device registry and session work area",
		),
		LogDir: flag.String(
			"log-dir",
			helpers.DefaultLogDir,
			"directory for log files",
		),
		Register: flag.String(
			"register-device",
			"",
			"register a secure device by serial:vendor:product identity",
		),
		Unregister: flag.String(
			"unregister-device",
			"",
			"remove a secure device by serial:vendor:product identity",
		),
		Label: flag.String(
			"label",
			"",
			"human readable label for -register-device",
		),
		Notes: flag.String(
			"notes",
			"",
			"free-form notes for -register-device",
		),
		AckNoSerial: flag.Bool(
			"ack-no-serial",
			false,
			"allow registering a device without a serial number",
		),
		List: flag.Bool(
			"list-devices",
			false,
			"list registered secure devices",
		),
		Export: flag.String(
			"export-devices",
			"",
			"write the device registry to a JSON file",
		),
		Import: flag.String(
			"import-devices",
			"",
			"load devices from a JSON file into the registry",
		),
		ImportMode: flag.String(
			"import-mode",
			"merge",
			"import behavior: merge or replace",
		),
		Version: flag.Bool(
			"version",
			false,
			"print version and exit",
		),
		Debug: flag.Bool(
			"debug",
			false,
			"enable debug logging",
		),
	}
}

func isFlagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// Pre parses flags and actions the ones that need no environment setup.
func (f *Flags) Pre() {
	flag.Parse()

	if *f.Version {
		_, _ = fmt.Printf("%s v%s\n", config.AppName, config.AppVersion)
		os.Exit(0)
	}
}

// Setup prepares the runtime environment: directories, logging and
// config, in that order. Extra log writers receive a copy of every log
// line, for foreground daemon output.
func (f *Flags) Setup(logWriters []io.Writer) (*config.Instance, error) {
	if err := helpers.EnsureDirs(*f.ConfigDir, *f.DataDir, *f.LogDir); err != nil {
		return nil, fmt.Errorf("failed to create base directories: %w", err)
	}

	cfg, err := config.NewConfig(*f.ConfigDir, config.BaseDefaults)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	debug := *f.Debug || cfg.DebugLogging()
	if err := helpers.InitLogging(*f.LogDir, debug, logWriters); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cfg, nil
}

// Post actions the registry management flags. It exits the process when
// one was handled; a plain -daemon invocation returns.
func (f *Flags) Post() {
	switch {
	case isFlagPassed("register-device"):
		registerDevice(*f.DataDir, *f.Register, *f.Label, *f.Notes, *f.AckNoSerial)
	case isFlagPassed("unregister-device"):
		unregisterDevice(*f.DataDir, *f.Unregister)
	case *f.List:
		listDevices(*f.DataDir)
	case isFlagPassed("export-devices"):
		exportDevices(*f.DataDir, *f.Export)
	case isFlagPassed("import-devices"):
		importDevices(*f.DataDir, *f.Import, *f.ImportMode)
	}
}
