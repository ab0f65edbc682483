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

package scanner

import (
	"testing"

	clamd "github.com/dutchcoders/go-clamd"
	"github.com/stretchr/testify/assert"
)

func TestToResultMapsVerdicts(t *testing.T) {
	t.Parallel()

	g := &ClamdGateway{}

	result := g.toResult("a.pdf", &clamd.ScanResult{Status: clamd.RES_OK}, nil)
	assert.Equal(t, VerdictClean, result.Verdict)

	result = g.toResult("b.pdf", &clamd.ScanResult{
		Status:      clamd.RES_FOUND,
		Description: "Eicar-Signature",
	}, nil)
	assert.Equal(t, VerdictInfected, result.Verdict)
	assert.Equal(t, "Eicar-Signature", result.Signature)

	result = g.toResult("c.pdf", &clamd.ScanResult{
		Status:      clamd.RES_ERROR,
		Description: "lstat() failed",
	}, nil)
	assert.Equal(t, VerdictError, result.Verdict)
	assert.Contains(t, result.Detail, "lstat() failed")
}

func TestToResultErrorIsNeverClean(t *testing.T) {
	t.Parallel()

	g := &ClamdGateway{}

	result := g.toResult("a.pdf", nil, assert.AnError)
	assert.Equal(t, VerdictError, result.Verdict)

	result = g.toResult("a.pdf", nil, nil)
	assert.Equal(t, VerdictError, result.Verdict, "missing result must not pass as clean")
}
