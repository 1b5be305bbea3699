// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package internal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// DefaultEndRecordProbes bounds the backward scan for the end of central
// directory signature. Comments longer than the bound are not found unless
// the caller widens it.
const DefaultEndRecordProbes = 3000

// EndCentralDirectoryRecord is the classic end of central directory record.
type EndCentralDirectoryRecord struct {
	DiskNumber             uint16
	CentralDirectoryDisk   uint16
	EntriesOnDisk          uint16
	TotalEntries           uint16
	CentralDirectorySize   uint32
	CentralDirectoryOffset uint32
	Comment                []byte

	Offset int64 // where the signature was found
}

// Encode serializes the record and its comment.
func (e *EndCentralDirectoryRecord) Encode() ([]byte, error) {
	if len(e.Comment) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: archive comment is %d bytes", ErrCapacity, len(e.Comment))
	}

	buf := make([]byte, EndOfCentralDirLen+len(e.Comment))
	binary.LittleEndian.PutUint32(buf[0:4], EndOfCentralDirSignature)
	binary.LittleEndian.PutUint16(buf[4:6], e.DiskNumber)
	binary.LittleEndian.PutUint16(buf[6:8], e.CentralDirectoryDisk)
	binary.LittleEndian.PutUint16(buf[8:10], e.EntriesOnDisk)
	binary.LittleEndian.PutUint16(buf[10:12], e.TotalEntries)
	binary.LittleEndian.PutUint32(buf[12:16], e.CentralDirectorySize)
	binary.LittleEndian.PutUint32(buf[16:20], e.CentralDirectoryOffset)
	binary.LittleEndian.PutUint16(buf[20:22], uint16(len(e.Comment)))
	copy(buf[EndOfCentralDirLen:], e.Comment)

	return buf, nil
}

// Zip64EndCentralDirectoryRecord is the Zip64 end of central directory record.
// The extensible data sector is not preserved.
type Zip64EndCentralDirectoryRecord struct {
	VersionMadeBy          uint16
	VersionNeeded          uint16
	DiskNumber             uint32
	CentralDirectoryDisk   uint32
	EntriesOnDisk          uint64
	TotalEntries           uint64
	CentralDirectorySize   uint64
	CentralDirectoryOffset uint64
}

func (z *Zip64EndCentralDirectoryRecord) Encode() []byte {
	buf := make([]byte, Zip64EndOfCentralDirLen)
	binary.LittleEndian.PutUint32(buf[0:4], Zip64EndOfCentralDirSignature)
	binary.LittleEndian.PutUint64(buf[4:12], Zip64EndOfCentralDirLen-12)
	binary.LittleEndian.PutUint16(buf[12:14], z.VersionMadeBy)
	binary.LittleEndian.PutUint16(buf[14:16], z.VersionNeeded)
	binary.LittleEndian.PutUint32(buf[16:20], z.DiskNumber)
	binary.LittleEndian.PutUint32(buf[20:24], z.CentralDirectoryDisk)
	binary.LittleEndian.PutUint64(buf[24:32], z.EntriesOnDisk)
	binary.LittleEndian.PutUint64(buf[32:40], z.TotalEntries)
	binary.LittleEndian.PutUint64(buf[40:48], z.CentralDirectorySize)
	binary.LittleEndian.PutUint64(buf[48:56], z.CentralDirectoryOffset)
	return buf
}

// Zip64EndCentralDirectoryLocator points at the Zip64 end record.
type Zip64EndCentralDirectoryLocator struct {
	Zip64EndDisk   uint32
	Zip64EndOffset uint64
	TotalDisks     uint32
}

func (l *Zip64EndCentralDirectoryLocator) Encode() []byte {
	buf := make([]byte, Zip64LocatorLen)
	binary.LittleEndian.PutUint32(buf[0:4], Zip64EndOfCentralDirLocatorSignature)
	binary.LittleEndian.PutUint32(buf[4:8], l.Zip64EndDisk)
	binary.LittleEndian.PutUint64(buf[8:16], l.Zip64EndOffset)
	binary.LittleEndian.PutUint32(buf[16:20], l.TotalDisks)
	return buf
}

// DigitalSignature is the optional record following the central directory.
type DigitalSignature struct {
	Data []byte
}

func (d *DigitalSignature) Encode() []byte {
	buf := make([]byte, 6+len(d.Data))
	binary.LittleEndian.PutUint32(buf[0:4], DigitalSignatureSignature)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(d.Data)))
	copy(buf[6:], d.Data)
	return buf
}

// CentralDirectory is the ordered list of central entries and the optional
// digital signature that follows them.
type CentralDirectory struct {
	Entries   []*GeneralFileHeader
	Signature *DigitalSignature
}

// FindEndOfCentralDirectory locates and parses the end record by probing
// backwards from size-22 for at most probes positions.
func FindEndOfCentralDirectory(src io.ReaderAt, size int64, probes int) (*EndCentralDirectoryRecord, error) {
	if size < EndOfCentralDirLen {
		return nil, fmt.Errorf("%w: %d bytes is too small for an end of central directory record", ErrMalformed, size)
	}
	if probes <= 0 {
		probes = DefaultEndRecordProbes
	}

	last := size - EndOfCentralDirLen
	first := max(last-int64(probes-1), 0)

	buf := make([]byte, size-first)
	if _, err := src.ReadAt(buf, first); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: read archive tail: %v", ErrMalformed, err)
	}

	for pos := last; pos >= first; pos-- {
		rec := buf[pos-first:]
		if binary.LittleEndian.Uint32(rec[0:4]) != EndOfCentralDirSignature {
			continue
		}
		commentLen := int(binary.LittleEndian.Uint16(rec[20:22]))
		if EndOfCentralDirLen+commentLen > len(rec) {
			// Signature bytes inside a comment or entry data.
			continue
		}
		return &EndCentralDirectoryRecord{
			DiskNumber:             binary.LittleEndian.Uint16(rec[4:6]),
			CentralDirectoryDisk:   binary.LittleEndian.Uint16(rec[6:8]),
			EntriesOnDisk:          binary.LittleEndian.Uint16(rec[8:10]),
			TotalEntries:           binary.LittleEndian.Uint16(rec[10:12]),
			CentralDirectorySize:   binary.LittleEndian.Uint32(rec[12:16]),
			CentralDirectoryOffset: binary.LittleEndian.Uint32(rec[16:20]),
			Comment:                append([]byte(nil), rec[EndOfCentralDirLen:EndOfCentralDirLen+commentLen]...),
			Offset:                 pos,
		}, nil
	}

	return nil, fmt.Errorf("%w: end of central directory signature not found in last %d positions", ErrMalformed, probes)
}

// ReadZip64Locator reads the locator immediately preceding the end record at
// endOffset. It returns nil without error when there is none.
func ReadZip64Locator(src io.ReaderAt, endOffset int64) (*Zip64EndCentralDirectoryLocator, error) {
	pos := endOffset - Zip64LocatorLen
	if pos < 0 {
		return nil, nil
	}

	var buf [Zip64LocatorLen]byte
	if _, err := src.ReadAt(buf[:], pos); err != nil {
		return nil, fmt.Errorf("%w: read zip64 locator: %v", ErrMalformed, err)
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != Zip64EndOfCentralDirLocatorSignature {
		return nil, nil
	}
	return &Zip64EndCentralDirectoryLocator{
		Zip64EndDisk:   binary.LittleEndian.Uint32(buf[4:8]),
		Zip64EndOffset: binary.LittleEndian.Uint64(buf[8:16]),
		TotalDisks:     binary.LittleEndian.Uint32(buf[16:20]),
	}, nil
}

// ReadZip64EndRecord parses the Zip64 end record at offset.
func ReadZip64EndRecord(src io.ReaderAt, offset int64) (*Zip64EndCentralDirectoryRecord, error) {
	var buf [Zip64EndOfCentralDirLen]byte
	if _, err := src.ReadAt(buf[:], offset); err != nil {
		return nil, fmt.Errorf("%w: read zip64 end record at %d: %v", ErrMalformed, offset, err)
	}
	if sig := binary.LittleEndian.Uint32(buf[0:4]); sig != Zip64EndOfCentralDirSignature {
		return nil, fmt.Errorf("%w: expected zip64 end record signature at %d, got %#08x", ErrMalformed, offset, sig)
	}
	return &Zip64EndCentralDirectoryRecord{
		VersionMadeBy:          binary.LittleEndian.Uint16(buf[12:14]),
		VersionNeeded:          binary.LittleEndian.Uint16(buf[14:16]),
		DiskNumber:             binary.LittleEndian.Uint32(buf[16:20]),
		CentralDirectoryDisk:   binary.LittleEndian.Uint32(buf[20:24]),
		EntriesOnDisk:          binary.LittleEndian.Uint64(buf[24:32]),
		TotalEntries:           binary.LittleEndian.Uint64(buf[32:40]),
		CentralDirectorySize:   binary.LittleEndian.Uint64(buf[40:48]),
		CentralDirectoryOffset: binary.LittleEndian.Uint64(buf[48:56]),
	}, nil
}

// ReadCentralDirectory reads count entries and an optional trailing digital
// signature from src.
func ReadCentralDirectory(src io.Reader, count uint64) (*CentralDirectory, error) {
	br := bufio.NewReader(src)
	cd := &CentralDirectory{Entries: make([]*GeneralFileHeader, 0, min(count, 1<<16))}

	for i := uint64(0); i < count; i++ {
		h, err := ReadCentralDirEntry(br)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		cd.Entries = append(cd.Entries, h)
	}

	peek, err := br.Peek(6)
	if err != nil || binary.LittleEndian.Uint32(peek[0:4]) != DigitalSignatureSignature {
		return cd, nil
	}
	size := int(binary.LittleEndian.Uint16(peek[4:6]))
	data := make([]byte, 6+size)
	if _, err := io.ReadFull(br, data); err != nil {
		return nil, fmt.Errorf("%w: read digital signature: %v", ErrMalformed, err)
	}
	cd.Signature = &DigitalSignature{Data: data[6:]}
	return cd, nil
}

// EncodeEndRecords builds the trailing records for a central directory of
// the given shape. Zip64EndOffset is where the Zip64 end record will start,
// relative to the disk the records are written on.
func EncodeEndRecords(e EndRecords) ([]byte, error) {
	var out []byte
	useZip64 := NeedsZip64End(e.TotalEntries, e.CentralDirectorySize, e.CentralDirectoryOffset, e.DiskNumber)

	if useZip64 {
		rec := &Zip64EndCentralDirectoryRecord{
			VersionMadeBy:          e.VersionMadeBy,
			VersionNeeded:          45,
			DiskNumber:             e.DiskNumber,
			CentralDirectoryDisk:   e.CentralDirectoryDisk,
			EntriesOnDisk:          e.EntriesOnDisk,
			TotalEntries:           e.TotalEntries,
			CentralDirectorySize:   e.CentralDirectorySize,
			CentralDirectoryOffset: e.CentralDirectoryOffset,
		}
		loc := &Zip64EndCentralDirectoryLocator{
			Zip64EndDisk:   e.DiskNumber,
			Zip64EndOffset: e.Zip64EndOffset,
			TotalDisks:     e.DiskNumber + 1,
		}
		out = append(out, rec.Encode()...)
		out = append(out, loc.Encode()...)
	}

	end := &EndCentralDirectoryRecord{
		DiskNumber:             clamp16(uint64(e.DiskNumber)),
		CentralDirectoryDisk:   clamp16(uint64(e.CentralDirectoryDisk)),
		EntriesOnDisk:          clamp16(e.EntriesOnDisk),
		TotalEntries:           clamp16(e.TotalEntries),
		CentralDirectorySize:   clamp32(e.CentralDirectorySize),
		CentralDirectoryOffset: clamp32(e.CentralDirectoryOffset),
		Comment:                e.Comment,
	}
	b, err := end.Encode()
	if err != nil {
		return nil, err
	}
	return append(out, b...), nil
}

// EndRecords describes the central directory for EncodeEndRecords.
type EndRecords struct {
	VersionMadeBy          uint16
	DiskNumber             uint32
	CentralDirectoryDisk   uint32
	EntriesOnDisk          uint64
	TotalEntries           uint64
	CentralDirectorySize   uint64
	CentralDirectoryOffset uint64
	Zip64EndOffset         uint64
	Comment                []byte
}

func clamp16(v uint64) uint16 {
	if v >= math.MaxUint16 {
		return Sentinel16
	}
	return uint16(v)
}

func clamp32(v uint64) uint32 {
	if v >= math.MaxUint32 {
		return Sentinel32
	}
	return uint32(v)
}
