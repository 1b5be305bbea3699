// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"fmt"
	"io"

	"github.com/lemon4ksan/zipkit/internal"
)

// archiveState is everything read from an existing archive's trailing
// structures. It is replaced as a whole on every successful load.
type archiveState struct {
	volumes   *volumeSet
	entries   []*Entry
	index     map[string]int
	comment   []byte
	signature *internal.DigitalSignature

	cdOffset     int64 // logical offset of the first central entry
	recordsStart int64 // logical offset of the Zip64 end record, or of the end record
	endOffset    int64 // logical offset of the end record
}

// readArchive parses the end records and central directory of the archive
// at path. Every failure is fatal for the whole archive.
func readArchive(path string, cfg *Config, codec nameCodec) (*archiveState, error) {
	scheme := DetectScheme(path)
	names := []string{path}
	if scheme == SplitNumeric {
		var err error
		if names, err = discoverNumericVolumes(cfg.Storage, path); err != nil {
			return nil, err
		}
	}

	vs, err := newVolumeSet(cfg.Storage, scheme, names)
	if err != nil {
		return nil, err
	}

	return readStructure(vs, path, cfg, codec)
}

// readStructure takes ownership of vs and closes it on failure.
func readStructure(vs *volumeSet, path string, cfg *Config, codec nameCodec) (_ *archiveState, err error) {
	defer func() {
		if err != nil {
			vs.Close()
		}
	}()

	tail := vs.tail()
	end, err := internal.FindEndOfCentralDirectory(tail, tail.Size(), cfg.EndRecordProbes)
	if err != nil {
		return nil, err
	}
	endLogical := vs.tailBase() + end.Offset

	locator, err := internal.ReadZip64Locator(vs, endLogical)
	if err != nil {
		return nil, err
	}

	// The end record sits on the last disk; anything past disk 0 found in a
	// plain file means the other volumes use the legacy naming.
	lastDisk := uint32(end.DiskNumber)
	if locator != nil && locator.TotalDisks > 0 {
		lastDisk = locator.TotalDisks - 1
	}
	if vs.scheme == SplitNone && lastDisk > 0 {
		legacy, err := newVolumeSet(cfg.Storage, SplitLegacy, legacyVolumeNames(path, int(lastDisk)+1))
		if err != nil {
			return nil, err
		}
		vs.Close()
		vs = legacy
		endLogical = vs.tailBase() + end.Offset
		if locator, err = internal.ReadZip64Locator(vs, endLogical); err != nil {
			return nil, err
		}
	}

	var (
		total    = uint64(end.TotalEntries)
		cdSize   = uint64(end.CentralDirectorySize)
		cdOffset = uint64(end.CentralDirectoryOffset)
		cdDisk   = uint32(end.CentralDirectoryDisk)
	)
	recordsStart := endLogical

	if locator != nil {
		z64Logical, err := vs.locate(locator.Zip64EndDisk, locator.Zip64EndOffset)
		if err != nil {
			return nil, err
		}
		z64, err := internal.ReadZip64EndRecord(vs, z64Logical)
		if err != nil {
			return nil, err
		}
		total = z64.TotalEntries
		cdSize = z64.CentralDirectorySize
		cdOffset = z64.CentralDirectoryOffset
		cdDisk = z64.CentralDirectoryDisk
		recordsStart = z64Logical
	}

	cdLogical, err := vs.locate(cdDisk, cdOffset)
	if err != nil {
		return nil, err
	}
	if cdLogical+int64(cdSize) > recordsStart {
		return nil, fmt.Errorf("%w: central directory of %d bytes at %d overlaps the end records at %d",
			ErrOffsetOutOfRange, cdSize, cdLogical, recordsStart)
	}

	cd, err := internal.ReadCentralDirectory(io.NewSectionReader(vs, cdLogical, int64(cdSize)), total)
	if err != nil {
		return nil, err
	}

	st := &archiveState{
		volumes:      vs,
		entries:      make([]*Entry, 0, len(cd.Entries)),
		index:        make(map[string]int, len(cd.Entries)),
		comment:      end.Comment,
		signature:    cd.Signature,
		cdOffset:     cdLogical,
		recordsStart: recordsStart,
		endOffset:    endLogical,
	}
	for _, h := range cd.Entries {
		e, err := newEntry(h, codec)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", h.Name, err)
		}
		if _, dup := st.index[e.name]; !dup {
			st.index[e.name] = len(st.entries)
		}
		st.entries = append(st.entries, e)
	}
	return st, nil
}

// dataOffset returns the logical offset of an entry's payload, read from
// its local header.
func dataOffset(vs *volumeSet, h *internal.GeneralFileHeader) (int64, error) {
	logical, err := vs.locate(h.DiskNumberStart, h.OffsetLocalHeader)
	if err != nil {
		return 0, err
	}
	local, err := internal.ReadLocalFileHeader(vs, logical)
	if err != nil {
		return 0, err
	}
	if local.OffsetStartOfData+int64(h.CompressedSize) > vs.Size() {
		return 0, fmt.Errorf("%w: payload of %d bytes at %d runs past the archive end",
			ErrOffsetOutOfRange, h.CompressedSize, local.OffsetStartOfData)
	}
	return local.OffsetStartOfData, nil
}

// openEntry builds the read pipeline for e over vs: bounded payload
// section, decrypter, decompressor and checksum verification. Sizes and CRC
// come from the central directory, which stays correct when the local
// header defers them to a data descriptor.
func openEntry(vs *volumeSet, e *Entry, passwords PasswordSource) (*checksumReader, error) {
	h := e.header
	start, err := dataOffset(vs, h)
	if err != nil {
		return nil, err
	}

	var payload io.Reader = io.NewSectionReader(vs, start, int64(h.CompressedSize))
	var dr *decryptReader
	if e.IsEncrypted() {
		pwd, err := passwordFor(passwords, e.name)
		if err != nil {
			return nil, err
		}
		dec, err := newDecrypter(e.encryption, pwd, h.CRC32, h.ModifiedTime)
		if err != nil {
			return nil, err
		}
		if dr, err = newDecryptReader(payload, dec, int64(h.CompressedSize)); err != nil {
			return nil, err
		}
		payload = dr
	}

	rc, err := decompress(e.method, payload)
	if err != nil {
		return nil, err
	}

	// AE-2 stores no CRC; the authentication code covers the data instead.
	checkCRC := h.AES == nil || h.AES.VendorVersion == 1
	return newChecksumReader(rc, dr, h.CRC32, h.UncompressedSize, checkCRC), nil
}
