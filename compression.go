// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

// CompressionMethod represents the compression algorithm used for an entry.
type CompressionMethod uint16

// Supported compression methods, numbered as in APPNOTE.TXT
const (
	Stored   CompressionMethod = 0 // No compression - entry stored as-is
	Deflated CompressionMethod = 8 // DEFLATE compression
)

func (m CompressionMethod) String() string {
	switch m {
	case Stored:
		return "store"
	case Deflated:
		return "deflate"
	}
	return fmt.Sprintf("method(%d)", uint16(m))
}

// ParseCompressionMethod is the inverse of CompressionMethod.String.
func ParseCompressionMethod(s string) (CompressionMethod, error) {
	switch s {
	case "store", "stored":
		return Stored, nil
	case "deflate", "deflated":
		return Deflated, nil
	}
	return Stored, fmt.Errorf("%w: compression %q", ErrUnsupportedMethod, s)
}

// Compression levels for DEFLATE algorithm
const (
	DeflateNormal    = 6 // Default compression level (good balance between speed and ratio)
	DeflateMaximum   = 9 // Maximum compression (best ratio, slowest speed)
	DeflateFast      = 3 // Fast compression (lower ratio, faster speed)
	DeflateSuperFast = 1 // Super fast compression (lowest ratio, fastest speed)
)

// deflateLevelBits returns general purpose bits 1-2 describing the level.
func deflateLevelBits(level int) uint16 {
	switch {
	case level >= DeflateMaximum:
		return 0x2
	case level == DeflateSuperFast:
		return 0x6
	case level > 0 && level <= DeflateFast:
		return 0x4
	}
	return 0
}

var deflaters [flate.BestCompression + 1]sync.Pool

// compress copies src into dest using method and returns the bytes read.
func compress(method CompressionMethod, level int, src io.Reader, dest io.Writer) (int64, error) {
	switch method {
	case Stored:
		return io.Copy(dest, src)
	case Deflated:
		if level < flate.BestSpeed || level > flate.BestCompression {
			level = DeflateNormal
		}
		w, _ := deflaters[level].Get().(*flate.Writer)
		if w == nil {
			var err error
			if w, err = flate.NewWriter(dest, level); err != nil {
				return 0, err
			}
		} else {
			w.Reset(dest)
		}
		defer deflaters[level].Put(w)

		n, err := io.Copy(w, src)
		if err != nil {
			return n, err
		}
		return n, w.Close()
	}
	return 0, fmt.Errorf("%w: compression %v", ErrUnsupportedMethod, method)
}

// decompress wraps src in a reader for method.
func decompress(method CompressionMethod, src io.Reader) (io.ReadCloser, error) {
	switch method {
	case Stored:
		return io.NopCloser(src), nil
	case Deflated:
		return flate.NewReader(src), nil
	}
	return nil, fmt.Errorf("%w: compression %v", ErrUnsupportedMethod, method)
}
