// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package internal implements the binary layout of ZIP records: local and
// central file headers, extra data records, the end of central directory
// records and their Zip64 counterparts.
package internal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Each record type must be identified using a header signature that identifies the record type.
// Signature values begin with the two byte constant marker of 0x4b50, representing the characters "PK".
const (
	CentralDirectorySignature            uint32 = 0x02014b50
	LocalFileHeaderSignature             uint32 = 0x04034b50
	DigitalSignatureSignature            uint32 = 0x05054b50
	EndOfCentralDirSignature             uint32 = 0x06054b50
	Zip64EndOfCentralDirSignature        uint32 = 0x06064b50
	Zip64EndOfCentralDirLocatorSignature uint32 = 0x07064b50
	SplitArchiveSignature                uint32 = 0x08074b50
	SingleVolumeSplitSignature           uint32 = 0x30304b50 // split output that fit one volume
)

// Fixed record lengths, signature included.
const (
	LocalFileHeaderLen       = 30
	CentralDirectoryEntryLen = 46
	EndOfCentralDirLen       = 22
	Zip64EndOfCentralDirLen  = 56
	Zip64LocatorLen          = 20
	SplitSignatureLen        = 4
)

// General purpose bit flags.
const (
	FlagEncrypted      uint16 = 0x0001
	FlagDataDescriptor uint16 = 0x0008
	FlagUTF8           uint16 = 0x0800
)

// Sentinel values marking a field whose real value lives in the Zip64 extra record.
const (
	Sentinel32 = math.MaxUint32
	Sentinel16 = math.MaxUint16
)

var (
	// ErrMalformed reports a signature mismatch, a truncated record or an unreadable extra field.
	ErrMalformed = errors.New("zip: malformed archive")

	// ErrCapacity reports a variable-length field that does not fit its 16-bit length.
	ErrCapacity = errors.New("zip: capacity exceeded")
)

// FileHeader holds the fields shared by local and central file headers.
// Sizes are always the resolved 64-bit values; the 32-bit wire fields are
// derived from them on encode.
type FileHeader struct {
	VersionNeeded    uint16
	Flags            uint16
	Method           uint16 // wire method; 99 for AES entries
	ModifiedTime     uint16
	ModifiedDate     uint16
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
	Name             []byte

	Zip64 *Zip64ExtendInfo    // as parsed; recomputed on encode
	AES   *AESExtraDataRecord // present only for AES entries
	Extra []ExtraDataRecord   // unrecognised records, kept verbatim
}

// IsEncrypted reports whether bit 0 of the flags is set.
func (h *FileHeader) IsEncrypted() bool { return h.Flags&FlagEncrypted != 0 }

// IsUTF8 reports whether the name and comment are UTF-8 encoded.
func (h *FileHeader) IsUTF8() bool { return h.Flags&FlagUTF8 != 0 }

// IsDir reports whether the entry name denotes a directory.
func (h *FileHeader) IsDir() bool {
	return len(h.Name) > 0 && (h.Name[len(h.Name)-1] == '/' || h.Name[len(h.Name)-1] == '\\')
}

// CompressionMethod returns the real compression method, looking through the AES wrapper.
func (h *FileHeader) CompressionMethod() uint16 {
	if h.AES != nil {
		return h.AES.Method
	}
	return h.Method
}

// LocalFileHeader is the header written immediately before an entry's data.
type LocalFileHeader struct {
	FileHeader

	Offset            int64 // position of the signature
	OffsetStartOfData int64
}

// Encode serializes the local header. Sizes that need Zip64 are replaced by
// sentinels and carried in a Zip64 extra record.
func (h *LocalFileHeader) Encode() ([]byte, error) {
	promoted := Promote(h.UncompressedSize, h.CompressedSize, 0, 0)
	zip64 := &Zip64ExtendInfo{
		Fields:           promoted,
		UncompressedSize: h.UncompressedSize,
		CompressedSize:   h.CompressedSize,
	}
	extra := encodeExtraRecords(zip64, h.AES, h.Extra)

	if len(h.Name) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: name is %d bytes", ErrCapacity, len(h.Name))
	}
	if len(extra) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: extra field is %d bytes", ErrCapacity, len(extra))
	}

	buf := make([]byte, LocalFileHeaderLen+len(h.Name)+len(extra))
	binary.LittleEndian.PutUint32(buf[0:4], LocalFileHeaderSignature)
	binary.LittleEndian.PutUint16(buf[4:6], h.VersionNeeded)
	binary.LittleEndian.PutUint16(buf[6:8], h.Flags)
	binary.LittleEndian.PutUint16(buf[8:10], h.Method)
	binary.LittleEndian.PutUint16(buf[10:12], h.ModifiedTime)
	binary.LittleEndian.PutUint16(buf[12:14], h.ModifiedDate)
	binary.LittleEndian.PutUint32(buf[14:18], h.CRC32)
	binary.LittleEndian.PutUint32(buf[18:22], wire32(h.CompressedSize, promoted&Zip64CompressedSize != 0))
	binary.LittleEndian.PutUint32(buf[22:26], wire32(h.UncompressedSize, promoted&Zip64UncompressedSize != 0))
	binary.LittleEndian.PutUint16(buf[26:28], uint16(len(h.Name)))
	binary.LittleEndian.PutUint16(buf[28:30], uint16(len(extra)))

	copy(buf[LocalFileHeaderLen:], h.Name)
	copy(buf[LocalFileHeaderLen+len(h.Name):], extra)

	return buf, nil
}

// ReadLocalFileHeader parses the local header starting at offset.
// Zip64 data that cannot be decoded is ignored; callers resolve sizes from
// the central directory.
func ReadLocalFileHeader(src io.ReaderAt, offset int64) (*LocalFileHeader, error) {
	if offset < 0 {
		return nil, fmt.Errorf("%w: negative local header offset %d", ErrMalformed, offset)
	}

	var buf [LocalFileHeaderLen]byte
	if _, err := src.ReadAt(buf[:], offset); err != nil {
		return nil, fmt.Errorf("%w: read local header at %d: %v", ErrMalformed, offset, err)
	}
	if sig := binary.LittleEndian.Uint32(buf[0:4]); sig != LocalFileHeaderSignature {
		return nil, fmt.Errorf("%w: expected local file header signature at %d, got %#08x", ErrMalformed, offset, sig)
	}

	h := &LocalFileHeader{
		FileHeader: FileHeader{
			VersionNeeded:    binary.LittleEndian.Uint16(buf[4:6]),
			Flags:            binary.LittleEndian.Uint16(buf[6:8]),
			Method:           binary.LittleEndian.Uint16(buf[8:10]),
			ModifiedTime:     binary.LittleEndian.Uint16(buf[10:12]),
			ModifiedDate:     binary.LittleEndian.Uint16(buf[12:14]),
			CRC32:            binary.LittleEndian.Uint32(buf[14:18]),
			CompressedSize:   uint64(binary.LittleEndian.Uint32(buf[18:22])),
			UncompressedSize: uint64(binary.LittleEndian.Uint32(buf[22:26])),
		},
		Offset: offset,
	}
	nameLen := int64(binary.LittleEndian.Uint16(buf[26:28]))
	extraLen := int64(binary.LittleEndian.Uint16(buf[28:30]))

	variable := make([]byte, nameLen+extraLen)
	if len(variable) > 0 {
		if _, err := src.ReadAt(variable, offset+LocalFileHeaderLen); err != nil {
			return nil, fmt.Errorf("%w: read local header name: %v", ErrMalformed, err)
		}
	}
	h.Name = variable[:nameLen]
	h.OffsetStartOfData = offset + LocalFileHeaderLen + nameLen + extraLen

	records, err := parseExtraRecords(variable[nameLen:])
	if err != nil {
		return nil, err
	}
	var need Zip64Field
	if h.UncompressedSize == Sentinel32 {
		need |= Zip64UncompressedSize
	}
	if h.CompressedSize == Sentinel32 {
		need |= Zip64CompressedSize
	}
	if err := h.applyExtraRecords(records, need); err != nil && !errors.Is(err, errZip64Short) {
		return nil, err
	}

	return h, nil
}

// GeneralFileHeader is a central directory entry.
type GeneralFileHeader struct {
	FileHeader

	VersionMadeBy     uint16
	DiskNumberStart   uint32
	InternalAttrs     uint16
	ExternalAttrs     uint32
	OffsetLocalHeader uint64
	Comment           []byte
}

// Encode serializes the central directory entry, promoting sizes, offset and
// disk number to Zip64 where they overflow.
func (h *GeneralFileHeader) Encode() ([]byte, error) {
	promoted := Promote(h.UncompressedSize, h.CompressedSize, h.OffsetLocalHeader, h.DiskNumberStart)
	zip64 := &Zip64ExtendInfo{
		Fields:           promoted,
		UncompressedSize: h.UncompressedSize,
		CompressedSize:   h.CompressedSize,
		Offset:           h.OffsetLocalHeader,
		DiskNumber:       h.DiskNumberStart,
	}
	extra := encodeExtraRecords(zip64, h.AES, h.Extra)

	switch {
	case len(h.Name) > math.MaxUint16:
		return nil, fmt.Errorf("%w: name is %d bytes", ErrCapacity, len(h.Name))
	case len(extra) > math.MaxUint16:
		return nil, fmt.Errorf("%w: extra field is %d bytes", ErrCapacity, len(extra))
	case len(h.Comment) > math.MaxUint16:
		return nil, fmt.Errorf("%w: entry comment is %d bytes", ErrCapacity, len(h.Comment))
	}

	disk := uint16(h.DiskNumberStart)
	if promoted&Zip64DiskNumber != 0 {
		disk = Sentinel16
	}

	buf := make([]byte, CentralDirectoryEntryLen+len(h.Name)+len(extra)+len(h.Comment))
	binary.LittleEndian.PutUint32(buf[0:4], CentralDirectorySignature)
	binary.LittleEndian.PutUint16(buf[4:6], h.VersionMadeBy)
	binary.LittleEndian.PutUint16(buf[6:8], h.VersionNeeded)
	binary.LittleEndian.PutUint16(buf[8:10], h.Flags)
	binary.LittleEndian.PutUint16(buf[10:12], h.Method)
	binary.LittleEndian.PutUint16(buf[12:14], h.ModifiedTime)
	binary.LittleEndian.PutUint16(buf[14:16], h.ModifiedDate)
	binary.LittleEndian.PutUint32(buf[16:20], h.CRC32)
	binary.LittleEndian.PutUint32(buf[20:24], wire32(h.CompressedSize, promoted&Zip64CompressedSize != 0))
	binary.LittleEndian.PutUint32(buf[24:28], wire32(h.UncompressedSize, promoted&Zip64UncompressedSize != 0))
	binary.LittleEndian.PutUint16(buf[28:30], uint16(len(h.Name)))
	binary.LittleEndian.PutUint16(buf[30:32], uint16(len(extra)))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(len(h.Comment)))
	binary.LittleEndian.PutUint16(buf[34:36], disk)
	binary.LittleEndian.PutUint16(buf[36:38], h.InternalAttrs)
	binary.LittleEndian.PutUint32(buf[38:42], h.ExternalAttrs)
	binary.LittleEndian.PutUint32(buf[42:46], wire32(h.OffsetLocalHeader, promoted&Zip64Offset != 0))

	offset := CentralDirectoryEntryLen
	offset += copy(buf[offset:], h.Name)
	offset += copy(buf[offset:], extra)
	copy(buf[offset:], h.Comment)

	return buf, nil
}

// ReadCentralDirEntry parses one central directory entry, signature included.
func ReadCentralDirEntry(src io.Reader) (*GeneralFileHeader, error) {
	var buf [CentralDirectoryEntryLen]byte
	if _, err := io.ReadFull(src, buf[:]); err != nil {
		return nil, fmt.Errorf("%w: read central directory entry: %v", ErrMalformed, err)
	}
	if sig := binary.LittleEndian.Uint32(buf[0:4]); sig != CentralDirectorySignature {
		return nil, fmt.Errorf("%w: expected central directory signature, got %#08x", ErrMalformed, sig)
	}

	h := &GeneralFileHeader{
		FileHeader: FileHeader{
			VersionNeeded:    binary.LittleEndian.Uint16(buf[6:8]),
			Flags:            binary.LittleEndian.Uint16(buf[8:10]),
			Method:           binary.LittleEndian.Uint16(buf[10:12]),
			ModifiedTime:     binary.LittleEndian.Uint16(buf[12:14]),
			ModifiedDate:     binary.LittleEndian.Uint16(buf[14:16]),
			CRC32:            binary.LittleEndian.Uint32(buf[16:20]),
			CompressedSize:   uint64(binary.LittleEndian.Uint32(buf[20:24])),
			UncompressedSize: uint64(binary.LittleEndian.Uint32(buf[24:28])),
		},
		VersionMadeBy:     binary.LittleEndian.Uint16(buf[4:6]),
		DiskNumberStart:   uint32(binary.LittleEndian.Uint16(buf[34:36])),
		InternalAttrs:     binary.LittleEndian.Uint16(buf[36:38]),
		ExternalAttrs:     binary.LittleEndian.Uint32(buf[38:42]),
		OffsetLocalHeader: uint64(binary.LittleEndian.Uint32(buf[42:46])),
	}
	nameLen := int(binary.LittleEndian.Uint16(buf[28:30]))
	extraLen := int(binary.LittleEndian.Uint16(buf[30:32]))
	commentLen := int(binary.LittleEndian.Uint16(buf[32:34]))

	variable := make([]byte, nameLen+extraLen+commentLen)
	if _, err := io.ReadFull(src, variable); err != nil {
		return nil, fmt.Errorf("%w: read central directory name, extra and comment: %v", ErrMalformed, err)
	}
	h.Name = stripDriveMarker(variable[:nameLen])
	h.Comment = variable[nameLen+extraLen:]

	records, err := parseExtraRecords(variable[nameLen : nameLen+extraLen])
	if err != nil {
		return nil, err
	}

	var need Zip64Field
	if h.UncompressedSize == Sentinel32 {
		need |= Zip64UncompressedSize
	}
	if h.CompressedSize == Sentinel32 {
		need |= Zip64CompressedSize
	}
	if h.OffsetLocalHeader == Sentinel32 {
		need |= Zip64Offset
	}
	if h.DiskNumberStart == Sentinel16 {
		need |= Zip64DiskNumber
	}
	if err := h.applyExtraRecords(records, need); err != nil {
		return nil, err
	}
	if h.Zip64 != nil {
		if h.Zip64.Fields&Zip64Offset != 0 {
			h.OffsetLocalHeader = h.Zip64.Offset
		}
		if h.Zip64.Fields&Zip64DiskNumber != 0 {
			h.DiskNumberStart = h.Zip64.DiskNumber
		}
	}

	return h, nil
}

// applyExtraRecords sorts parsed records into Zip64, AES and the rest, and
// resolves the sizes that were carried as sentinels.
func (h *FileHeader) applyExtraRecords(records []ExtraDataRecord, need Zip64Field) error {
	var zip64Err error
	for _, rec := range records {
		switch rec.Tag {
		case Zip64ExtraTag:
			info, err := decodeZip64(rec.Data, need)
			if err != nil {
				zip64Err = err
				continue
			}
			h.Zip64 = info
		case AESExtraTag:
			aes, err := decodeAES(rec.Data)
			if err != nil {
				return err
			}
			h.AES = aes
		default:
			h.Extra = append(h.Extra, rec)
		}
	}

	if h.Zip64 != nil {
		if h.Zip64.Fields&Zip64UncompressedSize != 0 {
			h.UncompressedSize = h.Zip64.UncompressedSize
		}
		if h.Zip64.Fields&Zip64CompressedSize != 0 {
			h.CompressedSize = h.Zip64.CompressedSize
		}
	}
	return zip64Err
}

// stripDriveMarker drops everything up to and including the last drive
// marker ":/" or `:\`, so "C:/dir/a.txt" is read as "dir/a.txt".
func stripDriveMarker(name []byte) []byte {
	cut := 0
	for _, marker := range [][]byte{[]byte(":/"), []byte(`:\`)} {
		if i := bytes.LastIndex(name, marker); i >= 0 {
			cut = max(cut, i+len(marker))
		}
	}
	return name[cut:]
}

func wire32(v uint64, promoted bool) uint32 {
	if promoted {
		return Sentinel32
	}
	return uint32(v)
}
