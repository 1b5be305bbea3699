// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompress_RoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("compressible text "), 500)

	tests := []struct {
		method CompressionMethod
		level  int
	}{
		{Stored, 0},
		{Deflated, DeflateSuperFast},
		{Deflated, DeflateNormal},
		{Deflated, DeflateMaximum},
		{Deflated, 42}, // out of range falls back to the default
	}

	for _, tt := range tests {
		// Twice per level so pooled writers are reused.
		for range 2 {
			var buf bytes.Buffer
			n, err := compress(tt.method, tt.level, bytes.NewReader(data), &buf)
			require.NoError(t, err)
			assert.Equal(t, int64(len(data)), n)
			if tt.method == Deflated {
				assert.Less(t, buf.Len(), len(data))
			}

			rc, err := decompress(tt.method, &buf)
			require.NoError(t, err)
			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, data, got)
			require.NoError(t, rc.Close())
		}
	}
}

func TestCompress_Unsupported(t *testing.T) {
	_, err := compress(CompressionMethod(14), 0, bytes.NewReader(nil), io.Discard)
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
	_, err = decompress(CompressionMethod(12), bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestParseCompressionMethod(t *testing.T) {
	for _, m := range []CompressionMethod{Stored, Deflated} {
		got, err := ParseCompressionMethod(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseCompressionMethod("lzma")
	assert.ErrorIs(t, err, ErrUnsupportedMethod)
}

func TestDeflateLevelBits(t *testing.T) {
	assert.Equal(t, uint16(0x2), deflateLevelBits(DeflateMaximum))
	assert.Equal(t, uint16(0x6), deflateLevelBits(DeflateSuperFast))
	assert.Equal(t, uint16(0x4), deflateLevelBits(DeflateFast))
	assert.Zero(t, deflateLevelBits(DeflateNormal))
}
