// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package internal

import (
	"bytes"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindEndOfCentralDirectory(t *testing.T) {
	end := &EndCentralDirectoryRecord{
		EntriesOnDisk:          3,
		TotalEntries:           3,
		CentralDirectorySize:   150,
		CentralDirectoryOffset: 1000,
		Comment:                []byte("hello"),
	}
	encoded, err := end.Encode()
	require.NoError(t, err)

	data := append(bytes.Repeat([]byte{0}, 1150), encoded...)
	got, err := FindEndOfCentralDirectory(bytes.NewReader(data), int64(len(data)), DefaultEndRecordProbes)
	require.NoError(t, err)

	assert.Equal(t, int64(1150), got.Offset)
	assert.Equal(t, uint16(3), got.TotalEntries)
	assert.Equal(t, uint32(1000), got.CentralDirectoryOffset)
	assert.Equal(t, []byte("hello"), got.Comment)
}

func TestFindEndOfCentralDirectory_ProbeBound(t *testing.T) {
	end := &EndCentralDirectoryRecord{Comment: bytes.Repeat([]byte{'c'}, math.MaxUint16)}
	encoded, err := end.Encode()
	require.NoError(t, err)

	_, err = FindEndOfCentralDirectory(bytes.NewReader(encoded), int64(len(encoded)), DefaultEndRecordProbes)
	assert.ErrorIs(t, err, ErrMalformed, "a maximal comment lies outside the default scan window")

	got, err := FindEndOfCentralDirectory(bytes.NewReader(encoded), int64(len(encoded)), math.MaxUint16+1)
	require.NoError(t, err)
	assert.Len(t, got.Comment, math.MaxUint16)
}

func TestFindEndOfCentralDirectory_TooSmall(t *testing.T) {
	_, err := FindEndOfCentralDirectory(bytes.NewReader([]byte("PK")), 2, DefaultEndRecordProbes)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEndCentralDirectoryRecord_CommentCapacity(t *testing.T) {
	end := &EndCentralDirectoryRecord{Comment: make([]byte, math.MaxUint16+1)}
	_, err := end.Encode()
	assert.ErrorIs(t, err, ErrCapacity)
}

func TestEncodeEndRecords_Zip64(t *testing.T) {
	records := EndRecords{
		EntriesOnDisk:          70000,
		TotalEntries:           70000,
		CentralDirectorySize:   5 << 20,
		CentralDirectoryOffset: 6 << 30,
		Zip64EndOffset:         6<<30 + 5<<20,
	}
	encoded, err := EncodeEndRecords(records)
	require.NoError(t, err)
	require.Len(t, encoded, Zip64EndOfCentralDirLen+Zip64LocatorLen+EndOfCentralDirLen)

	// Place the records where the locator claims the Zip64 end record is.
	base := int64(records.Zip64EndOffset)
	src := &offsetReader{base: base, data: encoded}
	size := base + int64(len(encoded))

	end, err := FindEndOfCentralDirectory(src, size, DefaultEndRecordProbes)
	require.NoError(t, err)
	assert.Equal(t, uint16(Sentinel16), end.TotalEntries)
	assert.Equal(t, uint32(Sentinel32), end.CentralDirectoryOffset)

	loc, err := ReadZip64Locator(src, end.Offset)
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, records.Zip64EndOffset, loc.Zip64EndOffset)
	assert.Equal(t, uint32(1), loc.TotalDisks)

	z64, err := ReadZip64EndRecord(src, int64(loc.Zip64EndOffset))
	require.NoError(t, err)
	assert.Equal(t, records.TotalEntries, z64.TotalEntries)
	assert.Equal(t, records.CentralDirectorySize, z64.CentralDirectorySize)
	assert.Equal(t, records.CentralDirectoryOffset, z64.CentralDirectoryOffset)
}

func TestEncodeEndRecords_Classic(t *testing.T) {
	encoded, err := EncodeEndRecords(EndRecords{TotalEntries: 2, EntriesOnDisk: 2, CentralDirectorySize: 92, CentralDirectoryOffset: 400})
	require.NoError(t, err)
	assert.Len(t, encoded, EndOfCentralDirLen)

	loc, err := ReadZip64Locator(bytes.NewReader(encoded), 0)
	require.NoError(t, err)
	assert.Nil(t, loc)
}

func TestReadCentralDirectory_Signature(t *testing.T) {
	var buf bytes.Buffer
	for _, name := range []string{"a.txt", "b/c.txt"} {
		h := GeneralFileHeader{FileHeader: FileHeader{Name: []byte(name)}}
		encoded, err := h.Encode()
		require.NoError(t, err)
		buf.Write(encoded)
	}
	buf.Write((&DigitalSignature{Data: []byte("sig")}).Encode())
	buf.Write(make([]byte, EndOfCentralDirLen))

	cd, err := ReadCentralDirectory(&buf, 2)
	require.NoError(t, err)
	require.Len(t, cd.Entries, 2)
	assert.Equal(t, "b/c.txt", string(cd.Entries[1].Name))
	require.NotNil(t, cd.Signature)
	assert.Equal(t, []byte("sig"), cd.Signature.Data)
}

// offsetReader serves data as if it started at base; bytes before base read as zero.
type offsetReader struct {
	base int64
	data []byte
}

func (r *offsetReader) ReadAt(p []byte, off int64) (int, error) {
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		if pos >= r.base+int64(len(r.data)) {
			break
		}
		if pos < r.base {
			p[n] = 0
		} else {
			p[n] = r.data[pos-r.base]
		}
		n++
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
