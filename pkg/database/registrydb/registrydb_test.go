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
	"bytes"
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/USBDefenderProject/usb-defender-core/pkg/devices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *RegistryDB {
	t.Helper()
	db, err := OpenRegistryDB(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})
	return db
}

func testIdentity() devices.Identity {
	return devices.Identity{Serial: "AA123", VendorID: "0951", ProductID: "1666"}
}

func TestRegisterAndVerify(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	id := testIdentity()

	device, err := db.Register(id, "office kingston", "2nd floor cabinet", false)
	require.NoError(t, err)
	assert.Equal(t, id.Serial, device.Serial)
	assert.Equal(t, "2nd floor cabinet", device.Notes)
	assert.False(t, device.RegisteredAt.IsZero())

	ok, err := db.Verify(id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRequiresExactTuple(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	id := testIdentity()

	_, err := db.Register(id, "", "", false)
	require.NoError(t, err)

	for _, other := range []devices.Identity{
		{Serial: "BB456", VendorID: id.VendorID, ProductID: id.ProductID},
		{Serial: id.Serial, VendorID: "dead", ProductID: id.ProductID},
		{Serial: id.Serial, VendorID: id.VendorID, ProductID: "beef"},
	} {
		ok, err := db.Verify(other)
		require.NoError(t, err)
		assert.False(t, ok, "identity %s must not verify", other)
	}
}

func TestVerifyIncompleteIdentityFailsClosed(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	ok, err := db.Verify(devices.Identity{VendorID: "0951", ProductID: "1666"})
	require.NoError(t, err)
	assert.False(t, ok, "identity without serial must never verify")
}

func TestRegisterDuplicate(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	id := testIdentity()

	_, err := db.Register(id, "", "", false)
	require.NoError(t, err)

	_, err = db.Register(id, "again", "", false)
	require.ErrorIs(t, err, ErrDuplicateIdentity)
}

func TestRegisterIncompleteIdentity(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	id := devices.Identity{VendorID: "0951", ProductID: "1666"}

	_, err := db.Register(id, "", "", false)
	require.ErrorIs(t, err, ErrUnverifiableIdentity)

	// explicit acknowledgement lets the row exist, but it still never verifies
	device, err := db.Register(id, "no serial", "", true)
	require.NoError(t, err)
	assert.Contains(t, device.Notes, "acknowledged", "acknowledgement must land in the notes")

	ok, err := db.Verify(id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnregister(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	id := testIdentity()

	_, err := db.Register(id, "", "", false)
	require.NoError(t, err)
	require.NoError(t, db.RecordUsage(id, "session-1", 3))

	require.NoError(t, db.Unregister(id))

	ok, err := db.Verify(id)
	require.NoError(t, err)
	assert.False(t, ok)

	require.ErrorIs(t, db.Unregister(id), ErrNotFound)
}

func TestRecordUsage(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	id := testIdentity()

	_, err := db.Register(id, "", "", false)
	require.NoError(t, err)

	require.NoError(t, db.RecordUsage(id, "session-1", 3))
	require.NoError(t, db.RecordUsage(id, "session-2", 1))

	device, err := db.GetDevice(id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), device.UseCount)
	assert.False(t, device.LastUsedAt.IsZero())

	usage, err := db.GetUsage(id)
	require.NoError(t, err)
	require.Len(t, usage, 2)
	assert.Equal(t, "session-2", usage[0].SessionID)
	assert.Equal(t, 3, usage[1].FileCount)
}

func TestRecordUsageUnknownDevice(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	err := db.RecordUsage(testIdentity(), "session-1", 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	_, err := db.Register(testIdentity(), "", "", false)
	require.NoError(t, err)
	require.NoError(t, db.RecordUsage(testIdentity(), "session-1", 1))

	require.NoError(t, db.Truncate())

	list, err := db.ListDevices()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestExportImportMerge(t *testing.T) {
	t.Parallel()
	src := openTestDB(t)
	dst := openTestDB(t)

	_, err := src.Register(testIdentity(), "kingston", "", false)
	require.NoError(t, err)
	_, err = src.Register(devices.Identity{Serial: "CC789", VendorID: "abcd", ProductID: "ef01"}, "", "", false)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, src.Export(&buf))

	// one device already exists in the destination
	_, err = dst.Register(testIdentity(), "kingston", "", false)
	require.NoError(t, err)

	added, err := dst.Import(&buf, ImportMerge)
	require.NoError(t, err)
	assert.Equal(t, 1, added, "existing device should be skipped")

	list, err := dst.ListDevices()
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestExportImportPreservesHistory(t *testing.T) {
	t.Parallel()
	src := openTestDB(t)
	dst := openTestDB(t)
	id := testIdentity()

	_, err := src.Register(id, "kingston", "issued to reception", false)
	require.NoError(t, err)
	require.NoError(t, src.RecordUsage(id, "session-1", 3))
	require.NoError(t, src.RecordUsage(id, "session-2", 1))

	original, err := src.GetDevice(id)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, src.Export(&buf))

	added, err := dst.Import(&buf, ImportMerge)
	require.NoError(t, err)
	require.Equal(t, 1, added)

	restored, err := dst.GetDevice(id)
	require.NoError(t, err)
	assert.Equal(t, original.Label, restored.Label)
	assert.Equal(t, original.Notes, restored.Notes)
	assert.Equal(t, original.UseCount, restored.UseCount)
	assert.Equal(t, original.RegisteredAt.Unix(), restored.RegisteredAt.Unix())
	assert.Equal(t, original.LastUsedAt.Unix(), restored.LastUsedAt.Unix())

	usage, err := dst.GetUsage(id)
	require.NoError(t, err)
	require.Len(t, usage, 2)
	assert.Equal(t, "session-2", usage[0].SessionID)
	assert.Equal(t, "session-1", usage[1].SessionID)
	assert.Equal(t, 3, usage[1].FileCount)
}

func TestImportReplace(t *testing.T) {
	t.Parallel()
	src := openTestDB(t)
	dst := openTestDB(t)

	_, err := src.Register(testIdentity(), "kingston", "", false)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, src.Export(&buf))

	stale := devices.Identity{Serial: "OLD", VendorID: "1111", ProductID: "2222"}
	_, err = dst.Register(stale, "", "", false)
	require.NoError(t, err)

	added, err := dst.Import(&buf, ImportReplace)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	ok, err := dst.Verify(stale)
	require.NoError(t, err)
	assert.False(t, ok, "replace import must drop previous registrations")
}

func TestImportRejectsUnknownMode(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)

	_, err := db.Import(bytes.NewBufferString(`{"version":1,"devices":[]}`), ImportMode("append"))
	require.Error(t, err)
}

func TestVerifySurfacesQueryErrors(t *testing.T) {
	t.Parallel()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = mockDB.Close() }()

	mock.ExpectQuery("select count").WillReturnError(assert.AnError)

	db := &RegistryDB{sql: mockDB, ctx: context.Background()}
	ok, verifyErr := db.Verify(testIdentity())
	require.Error(t, verifyErr)
	assert.False(t, ok, "a failed lookup must never verify")
	require.NoError(t, mock.ExpectationsWereMet())
}
