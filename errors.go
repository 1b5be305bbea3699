// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"errors"
	"fmt"

	"github.com/lemon4ksan/zipkit/internal"
)

var (
	// ErrMalformedArchive is returned when a signature, record length or extra
	// field does not parse.
	ErrMalformedArchive = internal.ErrMalformed

	// ErrCapacityExceeded is returned when a name, comment or extra field
	// exceeds 65535 bytes.
	ErrCapacityExceeded = internal.ErrCapacity

	// ErrUnsupportedMethod is returned for compression methods other than
	// Stored and Deflated, and for unknown encryption strengths.
	ErrUnsupportedMethod = errors.New("zip: unsupported method")

	// ErrWrongPassword is returned when the ZipCrypto check byte or the AES
	// password verifier does not match.
	ErrWrongPassword = errors.New("zip: wrong password")

	// ErrIntegrity is returned when the CRC-32 or AES authentication code of
	// an entry does not match its data.
	ErrIntegrity = errors.New("zip: integrity check failed")

	// ErrOffsetOutOfRange is returned when an offset or volume index points
	// outside the archive.
	ErrOffsetOutOfRange = errors.New("zip: offset out of range")

	// ErrStorage wraps failures of the underlying storage.
	ErrStorage = errors.New("zip: storage error")

	// ErrEntryNotFound is returned when the requested entry is not in the archive.
	ErrEntryNotFound = errors.New("zip: entry not found")

	// ErrDuplicateEntry is returned when adding an entry whose name already exists.
	ErrDuplicateEntry = errors.New("zip: duplicate entry name")

	// ErrInsecurePath is returned when an entry name escapes the extraction directory.
	ErrInsecurePath = errors.New("zip: insecure file path")

	// ErrSplitArchive is returned by mutations that split archives do not support.
	ErrSplitArchive = errors.New("zip: operation not supported on split archive")

	// ErrPasswordRequired is returned when an encrypted entry is read or
	// written without a password source.
	ErrPasswordRequired = errors.New("zip: password required")
)

// OpenError reports a failure while reading the archive structure. The
// archive is unusable after it.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string { return fmt.Sprintf("zip: open %s: %v", e.Path, e.Err) }
func (e *OpenError) Unwrap() error { return e.Err }

// EntryError reports a failure confined to one entry.
type EntryError struct {
	Op   string
	Name string
	Err  error
}

func (e *EntryError) Error() string { return fmt.Sprintf("zip: %s %q: %v", e.Op, e.Name, e.Err) }
func (e *EntryError) Unwrap() error { return e.Err }

func storageErr(op, path string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrStorage, op, path, err)
}
