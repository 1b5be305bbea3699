// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/lemon4ksan/zipkit/internal"
)

func TestLookupEncoding(t *testing.T) {
	tests := []struct {
		name    string
		wantNil bool
		wantErr bool
	}{
		{"", true, false},
		{"UTF-8", true, false},
		{"cp437", false, false},
		{"cp866", false, false},
		{"Shift_JIS", false, false},
		{"windows-1251", false, false},
		{"klingon", false, true},
	}

	for _, tt := range tests {
		enc, err := LookupEncoding(tt.name)
		if tt.wantErr {
			assert.Error(t, err, tt.name)
			continue
		}
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.wantNil, enc == nil, tt.name)
	}
}

func TestNameCodec_Decode(t *testing.T) {
	tests := []struct {
		name  string
		codec nameCodec
		raw   []byte
		utf8  bool
		want  string
	}{
		{"utf8 flag", nameCodec{}, []byte("héllo.txt"), true, "héllo.txt"},
		{"ascii without flag", nameCodec{}, []byte("plain.txt"), false, "plain.txt"},
		{"cp437 fallback", nameCodec{}, []byte{'m', 0x81, 'x'}, false, "müx"},
		{"configured cp866", nameCodec{enc: charmap.CodePage866}, []byte{0x8f, 0xe0, 0xa8}, false, "При"},
		{"flag wins over encoding", nameCodec{enc: charmap.CodePage866}, []byte("ok"), true, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.codec.decode(tt.raw, tt.utf8))
		})
	}
}

func TestNameCodec_Encode(t *testing.T) {
	raw, flags, err := nameCodec{}.encode("данные.txt")
	require.NoError(t, err)
	assert.Equal(t, internal.FlagUTF8, flags)
	assert.Equal(t, "данные.txt", string(raw))

	codec := nameCodec{enc: charmap.CodePage866}
	raw, flags, err = codec.encode("данные.txt")
	require.NoError(t, err)
	assert.Zero(t, flags)
	assert.Equal(t, "данные.txt", codec.decode(raw, false))

	_, _, err = nameCodec{enc: charmap.CodePage437}.encode("日本")
	assert.Error(t, err)
}

func TestNameCodec_DecodeComment(t *testing.T) {
	assert.Equal(t, "naïve", nameCodec{}.decodeComment([]byte("naïve")))
	assert.Equal(t, "ü", nameCodec{}.decodeComment([]byte{0x81}))
}
