// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"bytes"
	"context"
	"hash/crc32"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumReader(t *testing.T) {
	data := []byte("hello world")
	crc := crc32.ChecksumIEEE(data)

	tests := []struct {
		name     string
		content  []byte
		want     uint32
		size     uint64
		checkCRC bool
		wantErr  error
	}{
		{"valid checksum", data, crc, uint64(len(data)), true, nil},
		{"invalid checksum", []byte("wrong data!"), crc, uint64(len(data)), true, ErrIntegrity},
		{"checksum skipped", []byte("wrong data!"), crc, uint64(len(data)), false, nil},
		{"too short", data[:5], crc, uint64(len(data)), true, ErrIntegrity},
		{"too long", append(bytes.Clone(data), '!'), crc, uint64(len(data)), true, ErrIntegrity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cr := newChecksumReader(io.NopCloser(bytes.NewReader(tt.content)), nil, tt.want, tt.size, tt.checkCRC)
			_, err := io.Copy(io.Discard, cr)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			// The result is sticky.
			_, again := cr.Read(make([]byte, 1))
			if tt.wantErr != nil {
				assert.ErrorIs(t, again, tt.wantErr)
			} else {
				assert.Equal(t, io.EOF, again)
			}
			assert.NoError(t, cr.Close())
		})
	}
}

func TestChecksumReader_VerifiesOnClose(t *testing.T) {
	data := []byte("hello world")
	crc := crc32.ChecksumIEEE(data)

	tests := []struct {
		name    string
		content []byte
		consume int
		wantErr error
	}{
		{"full read, valid", data, len(data), nil},
		{"full read, corrupted", []byte("hello wOrld"), len(data), ErrIntegrity},
		{"partial read is not verified", []byte("hello wOrld"), 5, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cr := newChecksumReader(io.NopCloser(bytes.NewReader(tt.content)), nil, crc, uint64(len(data)), true)
			_, err := io.ReadFull(cr, make([]byte, tt.consume))
			require.NoError(t, err)

			err = cr.Close()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChecksumReader_TruncatedSource(t *testing.T) {
	src := io.NopCloser(io.MultiReader(bytes.NewReader([]byte("abc")), iotestErrReader{io.ErrUnexpectedEOF}))
	cr := newChecksumReader(src, nil, 0, 10, true)

	_, err := io.ReadAll(cr)
	assert.ErrorIs(t, err, ErrIntegrity)
}

func TestChecksumReader_OnClose(t *testing.T) {
	closed := false
	cr := newChecksumReader(io.NopCloser(bytes.NewReader(nil)), nil, 0, 0, true)
	cr.onClose = func() error {
		closed = true
		return nil
	}

	require.NoError(t, cr.Close())
	assert.True(t, closed)
}

type iotestErrReader struct{ err error }

func (r iotestErrReader) Read([]byte) (int, error) { return 0, r.err }

func TestContextReader(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &contextReader{ctx: ctx, r: bytes.NewReader([]byte("data"))}

	buf := make([]byte, 2)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cancel()
	_, err = r.Read(buf)
	assert.ErrorIs(t, err, context.Canceled)
}
