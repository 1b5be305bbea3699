// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/lemon4ksan/zipkit/internal"
	"github.com/lemon4ksan/zipkit/internal/sys"
)

// LatestZipVersion is the APPNOTE version recorded in "version made by".
const LatestZipVersion uint16 = 63

// payload is an entry's encoded bytes together with the values its
// headers need.
type payload struct {
	buf          *spoolBuffer
	crc          uint32
	uncompressed int64
}

func (p *payload) Close() error { return p.buf.Close() }

// encodePayload runs the write pipeline for src: CRC, compression and
// encryption into a spool buffer. Nothing is written to the archive, so a
// failure here leaves it untouched.
func (a *Archive) encodePayload(src *source) (*payload, error) {
	p := &payload{buf: newSpoolBuffer(a.config.MemoryThreshold)}
	if src.isDir || src.open == nil {
		return p, nil
	}

	rc, err := src.open()
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer rc.Close()

	h := crc32.NewIEEE()
	raw := io.TeeReader(rc, h)

	if src.encryption == NotEncrypted {
		if p.uncompressed, err = compress(src.method, src.level, raw, p.buf); err != nil {
			p.Close()
			return nil, err
		}
		p.crc = h.Sum32()
		return p, nil
	}

	pwd, err := passwordFor(src.passwords, src.name)
	if err != nil {
		p.Close()
		return nil, err
	}

	// The ZipCrypto check byte taken from the CRC is only known once the
	// data has been read, so compression runs first into its own spool.
	if src.encryption == ZipCrypto && a.config.ZipCryptoVerify == VerifyCRC {
		compressed := newSpoolBuffer(a.config.MemoryThreshold)
		defer compressed.Close()

		if p.uncompressed, err = compress(src.method, src.level, raw, compressed); err != nil {
			p.Close()
			return nil, err
		}
		p.crc = h.Sum32()

		r, err := compressed.Reader()
		if err != nil {
			p.Close()
			return nil, err
		}
		if err := encryptInto(p.buf, r, src.encryption, pwd, byte(p.crc>>24)); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	}

	_, dosTime := timeToMsDos(src.modTime.UTC())
	enc, err := newEncrypter(src.encryption, pwd, byte(dosTime>>8))
	if err != nil {
		p.Close()
		return nil, err
	}
	ew, err := newEncryptWriter(p.buf, enc)
	if err != nil {
		p.Close()
		return nil, err
	}
	if p.uncompressed, err = compress(src.method, src.level, raw, ew); err != nil {
		p.Close()
		return nil, err
	}
	if err := ew.Close(); err != nil {
		p.Close()
		return nil, err
	}
	p.crc = h.Sum32()
	return p, nil
}

func encryptInto(dst io.Writer, src io.Reader, m EncryptionMethod, pwd []byte, check byte) error {
	enc, err := newEncrypter(m, pwd, check)
	if err != nil {
		return err
	}
	ew, err := newEncryptWriter(dst, enc)
	if err != nil {
		return err
	}
	if _, err := io.Copy(ew, src); err != nil {
		return err
	}
	return ew.Close()
}

// entryHeader builds the central header describing src and its encoded
// payload. Disk and offset are filled in when the entry is placed.
func (a *Archive) entryHeader(src *source, p *payload) (*internal.GeneralFileHeader, error) {
	name, flags, err := a.codec.encode(src.name)
	if err != nil {
		return nil, err
	}
	var comment []byte
	if src.comment != "" {
		if comment, _, err = a.codec.encode(src.comment); err != nil {
			return nil, err
		}
	}
	if len(name) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: name is %d bytes", ErrCapacityExceeded, len(name))
	}
	if len(comment) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: entry comment is %d bytes", ErrCapacityExceeded, len(comment))
	}

	dosDate, dosTime := timeToMsDos(src.modTime.UTC())
	h := &internal.GeneralFileHeader{
		FileHeader: internal.FileHeader{
			Flags:            flags,
			Method:           uint16(src.method),
			ModifiedTime:     dosTime,
			ModifiedDate:     dosDate,
			CRC32:            p.crc,
			CompressedSize:   uint64(p.buf.Len()),
			UncompressedSize: uint64(p.uncompressed),
			Name:             name,
		},
		VersionMadeBy: versionMadeBy(src.host),
		Comment:       comment,
	}
	if src.method == Deflated {
		h.Flags |= deflateLevelBits(src.level)
	}

	switch {
	case src.encryption.IsAES():
		h.Flags |= internal.FlagEncrypted
		h.Method = winZipAESMarker
		h.CRC32 = 0
		h.AES = &internal.AESExtraDataRecord{
			VendorVersion: 2,
			VendorID:      [2]byte{'A', 'E'},
			Strength:      src.encryption.aesStrength(),
			Method:        uint16(src.method),
		}
	case src.encryption == ZipCrypto:
		h.Flags |= internal.FlagEncrypted
	}

	h.ExternalAttrs = sys.ExternalAttrs(src.host, src.mode)
	return h, nil
}

func versionMadeBy(host sys.HostSystem) uint16 {
	if host == sys.HostSystemNTFS {
		host = sys.HostSystemFAT
	}
	return uint16(host)<<8 | LatestZipVersion
}

// versionNeeded returns the minimum feature version for h once its disk
// and offset are known.
func versionNeeded(h *internal.GeneralFileHeader) uint16 {
	switch {
	case h.AES != nil:
		return 51
	case internal.Promote(h.UncompressedSize, h.CompressedSize, h.OffsetLocalHeader, h.DiskNumberStart) != 0:
		return 45
	case h.Method == uint16(Deflated), h.IsDir(), h.IsEncrypted():
		return 20
	}
	return 10
}

// placeEntry writes the local header for h followed by data, which must be
// exactly h.CompressedSize bytes. h receives its disk and offset.
func placeEntry(w archiveWriter, h *internal.GeneralFileHeader, data io.Reader) error {
	h.Flags &^= internal.FlagDataDescriptor
	local := &internal.LocalFileHeader{FileHeader: h.FileHeader}
	buf, err := local.Encode()
	if err != nil {
		return err
	}
	if err := w.reserve(int64(len(buf))); err != nil {
		return err
	}

	// The header length does not depend on the version, only its contents.
	h.DiskNumberStart, h.OffsetLocalHeader = w.position()
	h.VersionNeeded = versionNeeded(h)
	local.VersionNeeded = h.VersionNeeded
	if buf, err = local.Encode(); err != nil {
		return err
	}

	if _, err := w.Write(buf); err != nil {
		return err
	}
	n, err := io.Copy(w, data)
	if err != nil {
		return err
	}
	if uint64(n) != h.CompressedSize {
		return fmt.Errorf("%w: wrote %d payload bytes, header records %d", ErrIntegrity, n, h.CompressedSize)
	}
	return nil
}

// copyEntry places an existing entry's payload verbatim. The local header
// is regenerated from the central one, so data descriptors are folded in.
func copyEntry(w archiveWriter, vs *volumeSet, old *internal.GeneralFileHeader) (*internal.GeneralFileHeader, error) {
	start, err := dataOffset(vs, old)
	if err != nil {
		return nil, err
	}
	h := *old
	if err := placeEntry(w, &h, io.NewSectionReader(vs, start, int64(old.CompressedSize))); err != nil {
		return nil, err
	}
	return &h, nil
}

// reencryptEntry re-keys an encrypted entry: the payload is decrypted with
// oldPwd and encrypted again with newPwd using the same method. The
// compressed bytes are not touched, so sizes stay the same.
func (a *Archive) reencryptEntry(w archiveWriter, vs *volumeSet, e *Entry, oldPwd, newPwd []byte) (*internal.GeneralFileHeader, error) {
	old := e.header
	start, err := dataOffset(vs, old)
	if err != nil {
		return nil, err
	}

	dec, err := newDecrypter(e.encryption, oldPwd, old.CRC32, old.ModifiedTime)
	if err != nil {
		return nil, err
	}
	dr, err := newDecryptReader(io.NewSectionReader(vs, start, int64(old.CompressedSize)), dec, int64(old.CompressedSize))
	if err != nil {
		return nil, err
	}

	// Without a data descriptor the CRC is known before the data, so the
	// configured check byte can be honoured.
	check := byte(old.ModifiedTime >> 8)
	if a.config.ZipCryptoVerify == VerifyCRC && old.Flags&internal.FlagDataDescriptor == 0 {
		check = byte(old.CRC32 >> 24)
	}

	buf := newSpoolBuffer(a.config.MemoryThreshold)
	defer buf.Close()
	if err := encryptInto(buf, dr, e.encryption, newPwd, check); err != nil {
		return nil, err
	}
	r, err := buf.Reader()
	if err != nil {
		return nil, err
	}

	h := *old
	if err := placeEntry(w, &h, r); err != nil {
		return nil, err
	}
	return &h, nil
}

// centralWriter tracks what EncodeEndRecords needs while central entries
// are written.
type centralWriter struct {
	w         archiveWriter
	started   bool
	disk      uint32
	offset    uint64
	size      uint64
	total     uint64
	onLastVol uint64
	lastDisk  uint32
}

func (c *centralWriter) write(buf []byte) error {
	if err := c.w.reserve(int64(len(buf))); err != nil {
		return err
	}
	disk, off := c.w.position()
	if !c.started {
		c.started = true
		c.disk, c.offset = disk, off
	}
	if disk != c.lastDisk {
		c.lastDisk = disk
		c.onLastVol = 0
	}
	if _, err := c.w.Write(buf); err != nil {
		return err
	}
	c.size += uint64(len(buf))
	return nil
}

// writeCentralDirectory writes the central entries, the digital signature
// if any and the end records.
func writeCentralDirectory(w archiveWriter, headers []*internal.GeneralFileHeader, sig *internal.DigitalSignature, comment []byte) error {
	cw := &centralWriter{w: w}
	for _, h := range headers {
		buf, err := h.Encode()
		if err != nil {
			return fmt.Errorf("encode central entry %q: %w", h.Name, err)
		}
		if err := cw.write(buf); err != nil {
			return err
		}
		cw.total++
		cw.onLastVol++
	}
	if sig != nil {
		if err := cw.write(sig.Encode()); err != nil {
			return err
		}
	}
	if !cw.started {
		cw.disk, cw.offset = w.position()
		cw.lastDisk = cw.disk
	}

	rec := internal.EndRecords{
		VersionMadeBy:          versionMadeBy(sys.HostSystemByOS()),
		CentralDirectoryDisk:   cw.disk,
		TotalEntries:           cw.total,
		CentralDirectorySize:   cw.size,
		CentralDirectoryOffset: cw.offset,
		Comment:                comment,
	}

	// The records go to one volume; sizing them needs a first encoding.
	probe, err := internal.EncodeEndRecords(rec)
	if err != nil {
		return err
	}
	if err := w.reserve(int64(len(probe))); err != nil {
		return err
	}
	rec.DiskNumber, rec.Zip64EndOffset = w.position()
	rec.EntriesOnDisk = cw.total
	if rec.DiskNumber != cw.lastDisk {
		rec.EntriesOnDisk = 0
	} else if cw.disk != rec.DiskNumber {
		rec.EntriesOnDisk = cw.onLastVol
	}

	buf, err := internal.EncodeEndRecords(rec)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}
