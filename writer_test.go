// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemon4ksan/zipkit/internal"
	"github.com/lemon4ksan/zipkit/internal/sys"
)

// memWriter is an archiveWriter over a byte buffer.
type memWriter struct {
	bytes.Buffer
}

func (w *memWriter) reserve(int64) error        { return nil }
func (w *memWriter) position() (uint32, uint64) { return 0, uint64(w.Len()) }

func TestVersionNeeded(t *testing.T) {
	tests := []struct {
		name string
		h    internal.GeneralFileHeader
		want uint16
	}{
		{"stored", internal.GeneralFileHeader{FileHeader: internal.FileHeader{Name: []byte("a")}}, 10},
		{"deflated", internal.GeneralFileHeader{FileHeader: internal.FileHeader{Name: []byte("a"), Method: uint16(Deflated)}}, 20},
		{"directory", internal.GeneralFileHeader{FileHeader: internal.FileHeader{Name: []byte("d/")}}, 20},
		{"zipcrypto", internal.GeneralFileHeader{FileHeader: internal.FileHeader{Name: []byte("a"), Flags: internal.FlagEncrypted}}, 20},
		{"large", internal.GeneralFileHeader{FileHeader: internal.FileHeader{Name: []byte("a"), UncompressedSize: math.MaxUint32}}, 45},
		{"far offset", internal.GeneralFileHeader{FileHeader: internal.FileHeader{Name: []byte("a")}, OffsetLocalHeader: 1 << 33}, 45},
		{"aes", internal.GeneralFileHeader{FileHeader: internal.FileHeader{Name: []byte("a"), AES: &internal.AESExtraDataRecord{}}}, 51},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, versionNeeded(&tt.h))
		})
	}
}

func TestVersionMadeBy(t *testing.T) {
	assert.Equal(t, uint16(3<<8|63), versionMadeBy(sys.HostSystemUNIX))
	assert.Equal(t, uint16(63), versionMadeBy(sys.HostSystemNTFS))
	assert.Equal(t, uint16(19<<8|63), versionMadeBy(sys.HostSystemDarwin))
}

func TestPlaceEntry(t *testing.T) {
	w := &memWriter{}
	w.WriteString("prefix")

	h := &internal.GeneralFileHeader{FileHeader: internal.FileHeader{
		Flags:            internal.FlagDataDescriptor | internal.FlagUTF8,
		CompressedSize:   5,
		UncompressedSize: 5,
		Name:             []byte("a.txt"),
	}}
	require.NoError(t, placeEntry(w, h, strings.NewReader("hello")))

	assert.Equal(t, uint64(len("prefix")), h.OffsetLocalHeader)
	assert.Zero(t, h.Flags&internal.FlagDataDescriptor)
	assert.Equal(t, uint16(10), h.VersionNeeded)

	local, err := internal.ReadLocalFileHeader(bytes.NewReader(w.Bytes()), int64(h.OffsetLocalHeader))
	require.NoError(t, err)
	assert.Equal(t, "a.txt", string(local.Name))
	assert.Equal(t, uint64(5), local.CompressedSize)
	assert.Equal(t, "hello", string(w.Bytes()[local.OffsetStartOfData:]))
}

func TestPlaceEntry_SizeMismatch(t *testing.T) {
	h := &internal.GeneralFileHeader{FileHeader: internal.FileHeader{CompressedSize: 10, Name: []byte("a")}}
	err := placeEntry(&memWriter{}, h, strings.NewReader("short"))
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestWriteCentralDirectory(t *testing.T) {
	tests := []struct {
		name      string
		entries   int
		signature *internal.DigitalSignature
		comment   string
	}{
		{"empty archive", 0, nil, ""},
		{"entries with comment", 3, nil, "hello"},
		{"digital signature", 2, &internal.DigitalSignature{Data: []byte("sig")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &memWriter{}
			var headers []*internal.GeneralFileHeader
			for i := range tt.entries {
				h := &internal.GeneralFileHeader{FileHeader: internal.FileHeader{
					Name:             []byte(strings.Repeat("n", i+1)),
					CompressedSize:   1,
					UncompressedSize: 1,
				}}
				require.NoError(t, placeEntry(w, h, strings.NewReader("x")))
				headers = append(headers, h)
			}
			cdStart := w.Len()
			require.NoError(t, writeCentralDirectory(w, headers, tt.signature, []byte(tt.comment)))

			data := w.Bytes()
			end, err := internal.FindEndOfCentralDirectory(bytes.NewReader(data), int64(len(data)), 0)
			require.NoError(t, err)
			assert.Equal(t, uint16(tt.entries), end.TotalEntries)
			assert.Equal(t, uint16(tt.entries), end.EntriesOnDisk)
			assert.Equal(t, uint32(cdStart), end.CentralDirectoryOffset)
			assert.Equal(t, tt.comment, string(end.Comment))

			cd, err := internal.ReadCentralDirectory(
				io.NewSectionReader(bytes.NewReader(data), int64(end.CentralDirectoryOffset), int64(end.CentralDirectorySize)),
				uint64(end.TotalEntries))
			require.NoError(t, err)
			require.Len(t, cd.Entries, tt.entries)
			for i, h := range cd.Entries {
				assert.Equal(t, headers[i].Name, h.Name)
				assert.Equal(t, headers[i].OffsetLocalHeader, h.OffsetLocalHeader)
			}
			assert.Equal(t, tt.signature, cd.Signature)
		})
	}
}

func TestWriteCentralDirectory_Zip64(t *testing.T) {
	w := &memWriter{}
	h := &internal.GeneralFileHeader{FileHeader: internal.FileHeader{
		Name:             []byte("big.bin"),
		CompressedSize:   1 << 32,
		UncompressedSize: 1 << 33,
	}, OffsetLocalHeader: 1 << 32}
	h.VersionNeeded = versionNeeded(h)
	require.NoError(t, writeCentralDirectory(w, []*internal.GeneralFileHeader{h}, nil, nil))

	data := w.Bytes()
	end, err := internal.FindEndOfCentralDirectory(bytes.NewReader(data), int64(len(data)), 0)
	require.NoError(t, err)

	cd, err := internal.ReadCentralDirectory(bytes.NewReader(data[:end.CentralDirectorySize]), 1)
	require.NoError(t, err)
	got := cd.Entries[0]
	assert.Equal(t, uint64(1<<33), got.UncompressedSize)
	assert.Equal(t, uint64(1<<32), got.CompressedSize)
	assert.Equal(t, uint64(1<<32), got.OffsetLocalHeader)
	assert.Equal(t, uint16(45), got.VersionNeeded)

	// The entry sizes are promoted; the directory itself is small enough
	// for the classic end record.
	raw := data[:internal.CentralDirectoryEntryLen]
	assert.Equal(t, uint32(internal.Sentinel32), binary.LittleEndian.Uint32(raw[20:24]))
	assert.Equal(t, uint32(internal.Sentinel32), binary.LittleEndian.Uint32(raw[42:46]))
	locator, err := internal.ReadZip64Locator(bytes.NewReader(data), end.Offset)
	require.NoError(t, err)
	assert.Nil(t, locator)
}

func TestWriteCentralDirectory_SplitVolumes(t *testing.T) {
	base := filepath.Join(t.TempDir(), "out.zip")
	w, err := newSplitWriter(OSStorage{}, base, SplitLegacy, MinSplitSize)
	require.NoError(t, err)

	var headers []*internal.GeneralFileHeader
	payload := bytes.Repeat([]byte("z"), 700)
	for _, name := range []string{"one", "two", "three"} {
		h := &internal.GeneralFileHeader{FileHeader: internal.FileHeader{
			Name:             []byte(name),
			CRC32:            crc32.ChecksumIEEE(payload),
			CompressedSize:   uint64(len(payload)),
			UncompressedSize: uint64(len(payload)),
		}}
		require.NoError(t, placeEntry(w, h, bytes.NewReader(payload)))
		headers = append(headers, h)
	}
	require.NoError(t, writeCentralDirectory(w, headers, nil, nil))
	require.NoError(t, w.Close())

	// Headers start wherever they land, but never straddle a boundary.
	for _, h := range headers {
		assert.LessOrEqual(t, h.OffsetLocalHeader+internal.LocalFileHeaderLen+uint64(len(h.Name)), uint64(MinSplitSize))
	}
	assert.Greater(t, len(w.names), 1)
	assert.Equal(t, base, w.names[len(w.names)-1])

	cfg := defaultConfig()
	st, err := readArchive(base, &cfg, nameCodec{})
	require.NoError(t, err)
	defer st.volumes.Close()
	assert.Equal(t, len(w.names), st.volumes.count())
	require.Len(t, st.entries, 3)

	for _, e := range st.entries {
		cr, err := openEntry(st.volumes, e, nil)
		require.NoError(t, err)
		got, err := io.ReadAll(cr)
		require.NoError(t, err)
		assert.Equal(t, payload, got)
		cr.Close()
	}
}
