// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"context"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
)

// checksumReader verifies the size and CRC-32 of a decompressed entry once
// the stream reaches EOF. For encrypted entries the remaining ciphertext is
// drained at EOF so the authentication code is always checked.
type checksumReader struct {
	rc       io.ReadCloser
	dr       *decryptReader // nil for plain entries
	hash     hash.Hash32
	checkCRC bool
	want     uint32
	size     uint64
	read     uint64
	err      error // sticky result of verification
	onClose  func() error
}

func newChecksumReader(rc io.ReadCloser, dr *decryptReader, want uint32, size uint64, checkCRC bool) *checksumReader {
	return &checksumReader{
		rc:       rc,
		dr:       dr,
		hash:     crc32.NewIEEE(),
		checkCRC: checkCRC,
		want:     want,
		size:     size,
	}
}

func (cr *checksumReader) Read(p []byte) (int, error) {
	if cr.err != nil {
		return 0, cr.err
	}

	n, err := cr.rc.Read(p)
	if n > 0 {
		cr.read += uint64(n)
		if cr.read > cr.size {
			cr.err = fmt.Errorf("%w: entry is longer than its recorded %d bytes", ErrIntegrity, cr.size)
			return n, cr.err
		}
		cr.hash.Write(p[:n])
	}

	switch {
	case err == io.EOF:
		cr.err = cr.verify()
		return n, cr.err
	case err == io.ErrUnexpectedEOF:
		cr.err = fmt.Errorf("%w: truncated entry data", ErrIntegrity)
		return n, cr.err
	case err != nil:
		cr.err = err
	}
	return n, err
}

func (cr *checksumReader) verify() error {
	if cr.dr != nil {
		if err := cr.dr.drain(); err != nil {
			return err
		}
	}
	if cr.read != cr.size {
		return fmt.Errorf("%w: read %d bytes, want %d", ErrIntegrity, cr.read, cr.size)
	}
	if cr.checkCRC {
		if got := cr.hash.Sum32(); got != cr.want {
			return fmt.Errorf("%w: crc32 is %08x, want %08x", ErrIntegrity, got, cr.want)
		}
	}
	return io.EOF
}

// Close verifies an entry that was read to its recorded size without
// reaching EOF, then releases the decompressor and the stream's volume
// handles. An entry closed before all of its bytes were read is not
// verified.
func (cr *checksumReader) Close() error {
	var err error
	if cr.err == nil && cr.read == cr.size {
		cr.err = cr.verify()
		if cr.err != io.EOF {
			err = cr.err
		}
	}

	if cerr := cr.rc.Close(); err == nil {
		err = cerr
	}
	if cr.onClose != nil {
		if cerr := cr.onClose(); err == nil {
			err = cerr
		}
	}
	return err
}

// contextReader wraps an io.Reader to make it respect context cancellation.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (n int, err error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
