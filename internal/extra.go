// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package internal

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Extra field header IDs.
const (
	Zip64ExtraTag uint16 = 0x0001
	AESExtraTag   uint16 = 0x9901
)

// Zip64SafetyMargin is added to the uncompressed size before comparing it
// with the 32-bit limit, so entries close to the limit are promoted early.
const Zip64SafetyMargin = 50

const aesExtraLen = 7

var errZip64Short = fmt.Errorf("%w: zip64 extra record too short", ErrMalformed)

// ExtraDataRecord is a single (tag, size, payload) record of an extra field.
type ExtraDataRecord struct {
	Tag  uint16
	Data []byte
}

// Zip64Field is a set of header fields carried in a Zip64 extra record.
type Zip64Field uint8

const (
	Zip64UncompressedSize Zip64Field = 1 << iota
	Zip64CompressedSize
	Zip64Offset
	Zip64DiskNumber
)

// Zip64ExtendInfo is the decoded Zip64 extended information record.
// Only the fields named in Fields are present on the wire, always in the
// order uncompressed size, compressed size, offset, disk number.
type Zip64ExtendInfo struct {
	Fields           Zip64Field
	UncompressedSize uint64
	CompressedSize   uint64
	Offset           uint64
	DiskNumber       uint32
}

// Encode returns the record payload without the tag and size prefix.
func (z *Zip64ExtendInfo) Encode() []byte {
	buf := make([]byte, 0, 28)
	if z.Fields&Zip64UncompressedSize != 0 {
		buf = binary.LittleEndian.AppendUint64(buf, z.UncompressedSize)
	}
	if z.Fields&Zip64CompressedSize != 0 {
		buf = binary.LittleEndian.AppendUint64(buf, z.CompressedSize)
	}
	if z.Fields&Zip64Offset != 0 {
		buf = binary.LittleEndian.AppendUint64(buf, z.Offset)
	}
	if z.Fields&Zip64DiskNumber != 0 {
		buf = binary.LittleEndian.AppendUint32(buf, z.DiskNumber)
	}
	return buf
}

func decodeZip64(data []byte, need Zip64Field) (*Zip64ExtendInfo, error) {
	info := &Zip64ExtendInfo{Fields: need}
	read64 := func() (uint64, bool) {
		if len(data) < 8 {
			return 0, false
		}
		v := binary.LittleEndian.Uint64(data)
		data = data[8:]
		return v, true
	}

	var ok bool
	if need&Zip64UncompressedSize != 0 {
		if info.UncompressedSize, ok = read64(); !ok {
			return nil, errZip64Short
		}
	}
	if need&Zip64CompressedSize != 0 {
		if info.CompressedSize, ok = read64(); !ok {
			return nil, errZip64Short
		}
	}
	if need&Zip64Offset != 0 {
		if info.Offset, ok = read64(); !ok {
			return nil, errZip64Short
		}
	}
	if need&Zip64DiskNumber != 0 {
		if len(data) < 4 {
			return nil, errZip64Short
		}
		info.DiskNumber = binary.LittleEndian.Uint32(data)
	}
	return info, nil
}

// Promote reports which fields overflow their 32-bit (or, for the disk
// number, 16-bit) slots and must move to the Zip64 record.
func Promote(uncompressed, compressed, offset uint64, disk uint32) Zip64Field {
	var f Zip64Field
	if uncompressed+Zip64SafetyMargin >= math.MaxUint32 {
		f |= Zip64UncompressedSize
	}
	if compressed >= math.MaxUint32 {
		f |= Zip64CompressedSize
	}
	if offset >= math.MaxUint32 {
		f |= Zip64Offset
	}
	if disk >= math.MaxUint16 {
		f |= Zip64DiskNumber
	}
	return f
}

// NeedsZip64End reports whether the end of central directory values require
// the Zip64 end record and locator.
func NeedsZip64End(entries, cdSize, cdOffset uint64, disk uint32) bool {
	return entries >= math.MaxUint16 || cdSize >= math.MaxUint32 || cdOffset >= math.MaxUint32 || disk >= math.MaxUint16
}

// AES encryption strengths as stored in the AES extra record.
const (
	AESStrength128 uint8 = 1
	AESStrength192 uint8 = 2
	AESStrength256 uint8 = 3
)

// AESExtraDataRecord is the WinZip AES extra record (tag 0x9901).
type AESExtraDataRecord struct {
	VendorVersion uint16 // 1 for AE-1, 2 for AE-2
	VendorID      [2]byte
	Strength      uint8
	Method        uint16 // actual compression method
}

// Encode returns the record payload without the tag and size prefix.
func (a *AESExtraDataRecord) Encode() []byte {
	buf := make([]byte, aesExtraLen)
	binary.LittleEndian.PutUint16(buf[0:2], a.VendorVersion)
	buf[2], buf[3] = a.VendorID[0], a.VendorID[1]
	buf[4] = a.Strength
	binary.LittleEndian.PutUint16(buf[5:7], a.Method)
	return buf
}

func decodeAES(data []byte) (*AESExtraDataRecord, error) {
	if len(data) < aesExtraLen {
		return nil, fmt.Errorf("%w: aes extra record is %d bytes", ErrMalformed, len(data))
	}
	a := &AESExtraDataRecord{
		VendorVersion: binary.LittleEndian.Uint16(data[0:2]),
		VendorID:      [2]byte{data[2], data[3]},
		Strength:      data[4],
		Method:        binary.LittleEndian.Uint16(data[5:7]),
	}
	if a.Strength < AESStrength128 || a.Strength > AESStrength256 {
		return nil, fmt.Errorf("%w: unknown aes strength %d", ErrMalformed, a.Strength)
	}
	return a, nil
}

// parseExtraRecords splits an extra field into its records. A record whose
// declared size runs past the end of the field is an error.
func parseExtraRecords(extra []byte) ([]ExtraDataRecord, error) {
	var records []ExtraDataRecord
	for len(extra) > 0 {
		if len(extra) < 4 {
			// Some writers pad the extra field; a trailing fragment is not a record.
			break
		}
		tag := binary.LittleEndian.Uint16(extra[0:2])
		size := int(binary.LittleEndian.Uint16(extra[2:4]))
		extra = extra[4:]
		if size > len(extra) {
			return nil, fmt.Errorf("%w: extra record %#04x claims %d bytes, %d left", ErrMalformed, tag, size, len(extra))
		}
		records = append(records, ExtraDataRecord{Tag: tag, Data: extra[:size:size]})
		extra = extra[size:]
	}
	return records, nil
}

func encodeExtraRecords(zip64 *Zip64ExtendInfo, aes *AESExtraDataRecord, rest []ExtraDataRecord) []byte {
	var buf []byte
	appendRecord := func(tag uint16, data []byte) {
		buf = binary.LittleEndian.AppendUint16(buf, tag)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(data)))
		buf = append(buf, data...)
	}

	if zip64 != nil && zip64.Fields != 0 {
		appendRecord(Zip64ExtraTag, zip64.Encode())
	}
	if aes != nil {
		appendRecord(AESExtraTag, aes.Encode())
	}
	for _, rec := range rest {
		appendRecord(rec.Tag, rec.Data)
	}
	return buf
}
