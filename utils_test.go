// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"bytes"
	"io"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeToMsDos(t *testing.T) {
	tests := []struct {
		name         string
		time         time.Time
		expectedDate uint16
		expectedTime uint16
	}{
		{
			name:         "Epoch time",
			time:         time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC),
			expectedDate: 0x0021, // 0<<9 | 1<<5 | 1
			expectedTime: 0x0000,
		},
		{
			name:         "Specific date",
			time:         time.Date(2023, 12, 15, 14, 30, 15, 0, time.UTC),
			expectedDate: 0x578F, // 43<<9 | 12<<5 | 15
			expectedTime: 0x73C7, // 14<<11 | 30<<5 | 15/2
		},
		{
			name:         "Before 1980",
			time:         time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
			expectedDate: 0x0021,
			expectedTime: 0x0000,
		},
		{
			name:         "After 2107",
			time:         time.Date(2108, 1, 1, 0, 0, 0, 0, time.UTC),
			expectedDate: 0xFE21, // 127<<9 | 1<<5 | 1
			expectedTime: 0x0000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			date, timeVal := timeToMsDos(tt.time)
			assert.Equal(t, tt.expectedDate, date, "date %04x", date)
			assert.Equal(t, tt.expectedTime, timeVal, "time %04x", timeVal)
		})
	}
}

func TestMsDosToTime(t *testing.T) {
	tests := []struct {
		name     string
		date     uint16
		timeVal  uint16
		expected time.Time
	}{
		{"Epoch", 0x0021, 0x0000, time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"Specific date", 0x578F, 0x73C7, time.Date(2023, 12, 15, 14, 30, 14, 0, time.UTC)},
		{"Max time values", 0x0021, 0xBF7D, time.Date(1980, 1, 1, 23, 59, 58, 0, time.UTC)},
		{"Invalid month clamped", 0x0001, 0x0000, time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"Invalid day clamped", 0x0020, 0x0000, time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, msDosToTime(tt.date, tt.timeVal).Equal(tt.expected))
		})
	}
}

func TestMsDosTime_RoundTrip(t *testing.T) {
	for _, tm := range []time.Time{
		time.Date(1980, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 12, 15, 14, 30, 15, 0, time.UTC),
		time.Date(2107, 12, 31, 23, 59, 59, 0, time.UTC),
	} {
		date, timeVal := timeToMsDos(tm)
		got := msDosToTime(date, timeVal)
		assert.WithinDuration(t, tm, got, 2*time.Second)
	}
}

func TestSpoolBuffer(t *testing.T) {
	tests := []struct {
		name   string
		limit  int64
		onDisk bool
	}{
		{"in memory", 1 << 10, false},
		{"spilled", 16, true},
	}

	data := bytes.Repeat([]byte("0123456789"), 20)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newSpoolBuffer(tt.limit)
			defer b.Close()

			for chunk := range slicesChunk(data, 7) {
				_, err := b.Write(chunk)
				require.NoError(t, err)
			}
			assert.Equal(t, int64(len(data)), b.Len())
			assert.Equal(t, tt.onDisk, b.file != nil)

			// Reader may be taken more than once.
			for range 2 {
				r, err := b.Reader()
				require.NoError(t, err)
				got, err := io.ReadAll(r)
				require.NoError(t, err)
				assert.Equal(t, data, got)
			}

			if tt.onDisk {
				name := b.file.Name()
				require.NoError(t, b.Close())
				assert.NoFileExists(t, name)
			}
		})
	}
}

func slicesChunk(b []byte, n int) func(func([]byte) bool) {
	return func(yield func([]byte) bool) {
		for len(b) > 0 {
			m := min(n, len(b))
			if !yield(b[:m]) {
				return
			}
			b = b[m:]
		}
	}
}

func TestTempName(t *testing.T) {
	a := tempName(filepath.Join("dir", "archive.zip"))
	b := tempName(filepath.Join("dir", "archive.zip"))

	assert.NotEqual(t, a, b)
	assert.Equal(t, "dir", filepath.Dir(a))
	assert.True(t, strings.HasPrefix(filepath.Base(a), ".archive.zip."))
	assert.True(t, strings.HasSuffix(a, ".tmp"))
}

func TestHasMeta(t *testing.T) {
	assert.False(t, hasMeta("dir/file.txt"))
	for _, p := range []string{"*.txt", "file?.txt", "[ab].txt", `a\*`} {
		assert.True(t, hasMeta(p), p)
	}
}

func TestSafeJoin(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses unix paths")
	}

	tests := []struct {
		dir     string
		name    string
		want    string
		wantErr bool
	}{
		{"/tmp/out", "a.txt", "/tmp/out/a.txt", false},
		{"/tmp/out", "dir/", "/tmp/out/dir", false},
		{"/", "a.txt", "/a.txt", false},
		{"/tmp/out", "../a.txt", "", true},
		{"/tmp/out", "dir/../../a.txt", "", true},
		{"/tmp/out", "/etc/passwd", "", true},
		{"/tmp/out", "", "", true},
	}

	for _, tt := range tests {
		got, err := safeJoin(tt.dir, tt.name)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInsecurePath, tt.name)
			continue
		}
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got)
	}
}
