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

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/USBDefenderProject/usb-defender-core/pkg/cli"
	"github.com/USBDefenderProject/usb-defender-core/pkg/service"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := cli.SetupFlags()
	flags.Pre()

	var logWriters []io.Writer
	if *flags.Daemon {
		logWriters = []io.Writer{os.Stderr}
	}

	cfg, err := flags.Setup(logWriters)
	if err != nil {
		return err
	}

	defer func() {
		if err := recover(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	flags.Post()

	if !*flags.Daemon {
		flag.Usage()
		return nil
	}

	// enforced mounts need CAP_SYS_ADMIN
	if os.Geteuid() != 0 {
		return errors.New("the kiosk service must run as root to mount devices")
	}

	svc, err := service.Start(cfg, *flags.DataDir)
	if err != nil {
		log.Error().Err(err).Msg("error starting service")
		return fmt.Errorf("error starting service: %w", err)
	}
	defer svc.Stop()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	log.Info().Msg("shutdown signal received")
	return nil
}
