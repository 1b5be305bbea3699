// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"
	"time"

	"github.com/lemon4ksan/zipkit/internal"
	"github.com/lemon4ksan/zipkit/internal/sys"
)

// SizeUnknown marks a source whose length is not known before it is read.
const SizeUnknown int64 = -1

// Entry is a read-only view of one central directory entry.
type Entry struct {
	name       string
	comment    string
	mode       fs.FileMode
	modTime    time.Time
	method     CompressionMethod
	encryption EncryptionMethod
	host       sys.HostSystem

	header *internal.GeneralFileHeader
}

func newEntry(h *internal.GeneralFileHeader, codec nameCodec) (*Entry, error) {
	e := &Entry{
		name:    strings.ReplaceAll(codec.decode(h.Name, h.IsUTF8()), `\`, "/"),
		comment: codec.decode(h.Comment, h.IsUTF8()),
		modTime: msDosToTime(h.ModifiedDate, h.ModifiedTime),
		method:  CompressionMethod(h.CompressionMethod()),
		host:    sys.HostSystem(h.VersionMadeBy >> 8),
		header:  h,
	}
	e.mode = sys.FileMode(e.host, h.ExternalAttrs, strings.HasSuffix(e.name, "/"))

	if h.IsEncrypted() {
		e.encryption = ZipCrypto
		if h.AES != nil {
			m, err := aesMethodFromStrength(h.AES.Strength)
			if err != nil {
				return nil, err
			}
			e.encryption = m
		}
	}
	return e, nil
}

// Name returns the entry path within the archive, with forward slashes.
func (e *Entry) Name() string { return e.name }

// Comment returns the entry comment.
func (e *Entry) Comment() string { return e.comment }

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool { return e.mode.IsDir() }

// Mode returns the permission and type bits decoded from the external attributes.
func (e *Entry) Mode() fs.FileMode { return e.mode }

// ModTime returns the DOS modification time, at two second resolution.
func (e *Entry) ModTime() time.Time { return e.modTime }

// UncompressedSize returns the size of the entry content.
func (e *Entry) UncompressedSize() int64 { return int64(e.header.UncompressedSize) }

// CompressedSize returns the stored payload size, encryption overhead included.
func (e *Entry) CompressedSize() int64 { return int64(e.header.CompressedSize) }

// CRC32 returns the stored checksum. AE-2 entries store zero.
func (e *Entry) CRC32() uint32 { return e.header.CRC32 }

// Method returns the compression method.
func (e *Entry) Method() CompressionMethod { return e.method }

// Encryption returns the encryption method.
func (e *Entry) Encryption() EncryptionMethod { return e.encryption }

// IsEncrypted reports whether the entry is encrypted.
func (e *Entry) IsEncrypted() bool { return e.encryption != NotEncrypted }

// HostSystem returns the system the entry attributes were written for.
func (e *Entry) HostSystem() sys.HostSystem { return e.host }

// Volume returns the disk number holding the entry's local header.
func (e *Entry) Volume() uint32 { return e.header.DiskNumberStart }

// Offset returns the stored local header offset.
func (e *Entry) Offset() uint64 { return e.header.OffsetLocalHeader }

// RequiresZip64 reports whether any of the entry's fields needed Zip64.
func (e *Entry) RequiresZip64() bool {
	h := e.header
	return internal.Promote(h.UncompressedSize, h.CompressedSize, h.OffsetLocalHeader, h.DiskNumberStart) != 0
}

// source describes an entry to be written.
type source struct {
	name     string
	diskPath string // set for entries added from the local file system
	isDir    bool
	mode     fs.FileMode
	modTime  time.Time
	size     int64
	comment  string
	open     func() (io.ReadCloser, error)

	method     CompressionMethod
	level      int
	encryption EncryptionMethod
	passwords  PasswordSource
	host       sys.HostSystem
}

func (a *Archive) newSource(name string) *source {
	return &source{
		name:       name,
		mode:       0644,
		modTime:    time.Now(),
		size:       SizeUnknown,
		method:     a.config.CompressionMethod,
		level:      a.config.CompressionLevel,
		encryption: a.config.EncryptionMethod,
		passwords:  a.config.Passwords,
		host:       sys.HostSystemByOS(),
	}
}

// newSourceFromPath describes the file or directory at filePath. Symlinks
// are stored as links, not followed.
func (a *Archive) newSourceFromPath(filePath string) (*source, error) {
	info, err := os.Lstat(filePath)
	if err != nil {
		return nil, err
	}

	s := a.newSource(info.Name())
	s.diskPath = filePath
	s.mode = info.Mode()
	s.modTime = info.ModTime()

	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(filePath)
		if err != nil {
			return nil, fmt.Errorf("read link: %w", err)
		}
		s.size = int64(len(target))
		s.open = func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(target)), nil
		}
	case info.IsDir():
		s.asDir()
		s.mode = info.Mode()
	default:
		s.size = info.Size()
		s.open = func() (io.ReadCloser, error) { return os.Open(filePath) }
	}
	return s, nil
}

func (a *Archive) newSourceFromReader(r io.Reader, name string, size int64) (*source, error) {
	if r == nil {
		return nil, fmt.Errorf("zip: nil reader for %q", name)
	}
	s := a.newSource(name)
	s.size = size
	s.open = func() (io.ReadCloser, error) { return io.NopCloser(r), nil }
	return s, nil
}

// asDir turns s into a directory entry.
func (s *source) asDir() {
	s.isDir = true
	s.mode = 0755 | fs.ModeDir
	s.size = 0
	s.method = Stored
	s.encryption = NotEncrypted
	s.open = nil
	if !strings.HasSuffix(s.name, "/") {
		s.name += "/"
	}
}

// normalizeName cleans an entry name into archive form.
func normalizeName(name string, isDir bool) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if isDir && name != "" {
		name += "/"
	}
	return name
}
