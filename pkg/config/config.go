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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/USBDefenderProject/usb-defender-core/pkg/helpers/syncutil"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

const (
	// CfgFile is the name of the config file inside the config directory.
	CfgFile = "config.toml"
	// SchemaVersion is the current config schema version.
	SchemaVersion = 1
	// AppName identifies the application in logs and user output.
	AppName = "usb-defender"
)

// AppVersion is the release version, overridden at build time with
// -ldflags "-X ...config.AppVersion=x.y.z".
var AppVersion = "0.1.0-dev"

// Transfer method names accepted in [transfer].method.
const (
	MethodSecureDevice = "secure_device"
	MethodLocal        = "local"
	MethodNetwork      = "network"
	MethodCloud        = "cloud"
)

type Values struct {
	ConfigSchema int        `toml:"config_schema"`
	DebugLogging bool       `toml:"debug_logging"`
	Files        Files      `toml:"files,omitempty"`
	Scanner      Scanner    `toml:"scanner,omitempty"`
	Conversion   Conversion `toml:"conversion,omitempty"`
	Transfer     Transfer   `toml:"transfer,omitempty"`
	Devices      Devices    `toml:"devices,omitempty"`
	Service      Service    `toml:"service,omitempty"`
}

type Files struct {
	MaxSizeMB         int      `toml:"max_size_mb,omitempty"`
	MaxTotalSizeMB    int      `toml:"max_total_size_mb,omitempty"`
	AllowedExtensions []string `toml:"allowed_extensions,omitempty"`
	BlockedExtensions []string `toml:"blocked_extensions,omitempty"`
}

type Scanner struct {
	Socket      string `toml:"socket,omitempty"`
	TimeoutSecs int    `toml:"timeout_secs,omitempty"`
}

type Conversion struct {
	OutputFormat string `toml:"output_format,omitempty"`
	DPI          int    `toml:"dpi,omitempty"`
	Quality      int    `toml:"quality,omitempty"`
	MaxDimension int    `toml:"max_dimension,omitempty"`
	TimeoutSecs  int    `toml:"timeout_secs,omitempty"`
}

type Transfer struct {
	Method  string        `toml:"method,omitempty"`
	Local   LocalTarget   `toml:"local,omitempty"`
	Network NetworkTarget `toml:"network,omitempty"`
	Cloud   CloudTarget   `toml:"cloud,omitempty"`
}

type LocalTarget struct {
	OutputDir string `toml:"output_dir,omitempty"`
}

type NetworkTarget struct {
	Server   string `toml:"server,omitempty"`
	Share    string `toml:"share,omitempty"`
	Username string `toml:"username,omitempty"`
	Password string `toml:"password,omitempty"`
}

type CloudTarget struct {
	Endpoint  string `toml:"endpoint,omitempty"`
	Bucket    string `toml:"bucket,omitempty"`
	Region    string `toml:"region,omitempty"`
	AccessKey string `toml:"access_key,omitempty"`
	SecretKey string `toml:"secret_key,omitempty"`
	Prefix    string `toml:"prefix,omitempty"`
	UseSSL    bool   `toml:"use_ssl,omitempty"`
}

type Devices struct {
	MountBase           string   `toml:"mount_base,omitempty"`
	Filesystems         []string `toml:"filesystems,omitempty"`
	IdentityTimeoutSecs int      `toml:"identity_timeout_secs,omitempty"`
}

type Service struct {
	Workers             int `toml:"workers,omitempty"`
	DeliveryAttempts    int `toml:"delivery_attempts,omitempty"`
	DeliveryTimeoutSecs int `toml:"delivery_timeout_secs,omitempty"`
}

// BaseDefaults are used for a fresh install and to fill in values missing
// from a loaded config file.
var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Files: Files{
		MaxSizeMB:      100,
		MaxTotalSizeMB: 500,
		AllowedExtensions: []string{
			"pdf", "doc", "docx", "xls", "xlsx", "ppt", "pptx",
			"odt", "ods", "odp", "txt", "rtf",
			"jpg", "jpeg", "png", "gif", "bmp", "tiff",
		},
		BlockedExtensions: []string{
			"exe", "msi", "bat", "cmd", "com", "scr", "pif",
			"sh", "ps1", "js", "vbs", "jar", "dll",
		},
	},
	Scanner: Scanner{
		Socket:      "/var/run/clamav/clamd.ctl",
		TimeoutSecs: 300,
	},
	Conversion: Conversion{
		OutputFormat: "png",
		DPI:          150,
		Quality:      95,
		MaxDimension: 2400,
		TimeoutSecs:  180,
	},
	Transfer: Transfer{
		Method: MethodSecureDevice,
	},
	Devices: Devices{
		MountBase:           "/media/usb-defender",
		Filesystems:         []string{"vfat", "exfat", "ntfs", "ext4", "ext3", "ext2"},
		IdentityTimeoutSecs: 5,
	},
	Service: Service{
		Workers:             2,
		DeliveryAttempts:    3,
		DeliveryTimeoutSecs: 60,
	},
}

type Instance struct {
	mu      syncutil.RWMutex
	cfgPath string
	vals    Values
}

// NewConfig loads the config file in configDir, creating it from defaults
// on first run.
func NewConfig(configDir string, defaults Values) (*Instance, error) {
	cfg := Instance{
		cfgPath: filepath.Join(configDir, CfgFile),
		vals:    defaults,
	}

	exists := true
	_, err := os.Stat(cfg.cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error checking config file: %w", err)
		}
		exists = false
	}

	if exists {
		err = cfg.Load()
		if err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		log.Info().Msg("no config file found, writing defaults")
		err = cfg.Save()
		if err != nil {
			return nil, fmt.Errorf("error saving config: %w", err)
		}
	}

	return &cfg, nil
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	data, err := os.ReadFile(c.cfgPath)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	newVals := Values{}
	err = toml.Unmarshal(data, &newVals)
	if err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}

	if newVals.ConfigSchema > SchemaVersion {
		return fmt.Errorf(
			"config schema %d is newer than supported %d",
			newVals.ConfigSchema, SchemaVersion,
		)
	}

	c.vals = withDefaults(newVals, BaseDefaults)
	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	c.vals.ConfigSchema = SchemaVersion

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("error marshalling config: %w", err)
	}

	err = os.MkdirAll(filepath.Dir(c.cfgPath), 0o755)
	if err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	err = os.WriteFile(c.cfgPath, data, 0o600)
	if err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// withDefaults fills in any zero-valued fields in vals from defaults.
func withDefaults(vals, defaults Values) Values {
	if vals.ConfigSchema == 0 {
		vals.ConfigSchema = defaults.ConfigSchema
	}
	if vals.Files.MaxSizeMB == 0 {
		vals.Files.MaxSizeMB = defaults.Files.MaxSizeMB
	}
	if vals.Files.MaxTotalSizeMB == 0 {
		vals.Files.MaxTotalSizeMB = defaults.Files.MaxTotalSizeMB
	}
	if len(vals.Files.AllowedExtensions) == 0 {
		vals.Files.AllowedExtensions = defaults.Files.AllowedExtensions
	}
	if len(vals.Files.BlockedExtensions) == 0 {
		vals.Files.BlockedExtensions = defaults.Files.BlockedExtensions
	}
	if vals.Scanner.Socket == "" {
		vals.Scanner.Socket = defaults.Scanner.Socket
	}
	if vals.Scanner.TimeoutSecs == 0 {
		vals.Scanner.TimeoutSecs = defaults.Scanner.TimeoutSecs
	}
	if vals.Conversion.OutputFormat == "" {
		vals.Conversion.OutputFormat = defaults.Conversion.OutputFormat
	}
	if vals.Conversion.DPI == 0 {
		vals.Conversion.DPI = defaults.Conversion.DPI
	}
	if vals.Conversion.Quality == 0 {
		vals.Conversion.Quality = defaults.Conversion.Quality
	}
	if vals.Conversion.MaxDimension == 0 {
		vals.Conversion.MaxDimension = defaults.Conversion.MaxDimension
	}
	if vals.Conversion.TimeoutSecs == 0 {
		vals.Conversion.TimeoutSecs = defaults.Conversion.TimeoutSecs
	}
	if vals.Transfer.Method == "" {
		vals.Transfer.Method = defaults.Transfer.Method
	}
	if vals.Devices.MountBase == "" {
		vals.Devices.MountBase = defaults.Devices.MountBase
	}
	if len(vals.Devices.Filesystems) == 0 {
		vals.Devices.Filesystems = defaults.Devices.Filesystems
	}
	if vals.Devices.IdentityTimeoutSecs == 0 {
		vals.Devices.IdentityTimeoutSecs = defaults.Devices.IdentityTimeoutSecs
	}
	if vals.Service.Workers == 0 {
		vals.Service.Workers = defaults.Service.Workers
	}
	if vals.Service.DeliveryAttempts == 0 {
		vals.Service.DeliveryAttempts = defaults.Service.DeliveryAttempts
	}
	if vals.Service.DeliveryTimeoutSecs == 0 {
		vals.Service.DeliveryTimeoutSecs = defaults.Service.DeliveryTimeoutSecs
	}
	return vals
}
