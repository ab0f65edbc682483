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

// Package devices monitors removable block devices and reads their hardware
// identity.
package devices

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrIdentityUnavailable is returned when a device's hardware identity
// cannot be read within the bounded timeout. Callers must treat this as a
// trust failure, never as a wildcard match.
var ErrIdentityUnavailable = errors.New("device identity unavailable")

// Identity is the hardware identity tuple of a USB storage device as
// reported by udev.
type Identity struct {
	Serial    string
	VendorID  string
	ProductID string
}

// Equal reports whether two identities match on the exact tuple. An
// identity with an empty serial never matches anything, including itself.
func (id Identity) Equal(other Identity) bool {
	if id.Serial == "" || other.Serial == "" {
		return false
	}
	return id.Serial == other.Serial &&
		id.VendorID == other.VendorID &&
		id.ProductID == other.ProductID
}

// Complete reports whether all three identity fields are present.
func (id Identity) Complete() bool {
	return id.Serial != "" && id.VendorID != "" && id.ProductID != ""
}

func (id Identity) String() string {
	return fmt.Sprintf("%s:%s:%s", id.Serial, id.VendorID, id.ProductID)
}

// ParseIdentity parses a serial:vendor:product triple as used by the
// operator CLI.
func ParseIdentity(s string) (Identity, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Identity{}, fmt.Errorf("invalid identity %q, want serial:vendor:product", s)
	}
	return Identity{
		Serial:    strings.TrimSpace(parts[0]),
		VendorID:  strings.ToLower(strings.TrimSpace(parts[1])),
		ProductID: strings.ToLower(strings.TrimSpace(parts[2])),
	}, nil
}

// IdentityReader reads the identity tuple of a block device node.
type IdentityReader interface {
	Identity(ctx context.Context, node string) (Identity, error)
}

// UdevIdentityReader reads device identity from the udev property database
// via udevadm. Reads are bounded by Timeout so a wedged device cannot stall
// the gated delivery path.
type UdevIdentityReader struct {
	Timeout time.Duration
}

func (r *UdevIdentityReader) Identity(ctx context.Context, node string) (Identity, error) {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "udevadm", "info", "--query=property", "--name="+node)
	out, err := cmd.Output()
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %s", ErrIdentityUnavailable, err)
	}

	id := parseUdevProperties(string(out))
	if id.Serial == "" && id.VendorID == "" && id.ProductID == "" {
		return Identity{}, fmt.Errorf("%w: no identity properties for %s", ErrIdentityUnavailable, node)
	}
	return id, nil
}

// parseUdevProperties extracts the identity tuple from udevadm
// KEY=value property output.
func parseUdevProperties(out string) Identity {
	var id Identity
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "ID_SERIAL_SHORT":
			id.Serial = value
		case "ID_VENDOR_ID":
			id.VendorID = strings.ToLower(value)
		case "ID_MODEL_ID":
			id.ProductID = strings.ToLower(value)
		}
	}
	return id
}
