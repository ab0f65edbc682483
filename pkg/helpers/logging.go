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

package helpers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogFile is the name of the rotating service log inside the log directory.
const LogFile = "core.log"

// InitLogging sets up the global zerolog logger writing to a rotating log
// file in logDir plus any extra writers. Debug enables debug-level output
// and a console writer on stderr.
func InitLogging(logDir string, debug bool, writers []io.Writer) error {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	err := os.MkdirAll(logDir, 0o755)
	if err != nil {
		return fmt.Errorf("error creating log directory: %w", err)
	}

	logWriters := []io.Writer{&lumberjack.Logger{
		Filename:   filepath.Join(logDir, LogFile),
		MaxSize:    1,
		MaxBackups: 2,
	}}
	logWriters = append(logWriters, writers...)

	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		logWriters = append(logWriters, zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = zerolog.New(io.MultiWriter(logWriters...)).With().
		Timestamp().
		Caller().
		Logger()

	return nil
}
