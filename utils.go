// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// spoolBuffer holds an encoded payload in memory until it grows past
// limit, then moves it to a temporary file.
type spoolBuffer struct {
	limit int64
	mem   bytes.Buffer
	file  *os.File
	size  int64
}

func newSpoolBuffer(limit int64) *spoolBuffer {
	return &spoolBuffer{limit: limit}
}

func (b *spoolBuffer) Write(p []byte) (int, error) {
	if b.file == nil && int64(b.mem.Len()+len(p)) > b.limit {
		f, err := os.CreateTemp("", "zipkit-spool-*")
		if err != nil {
			return 0, err
		}
		if _, err := f.Write(b.mem.Bytes()); err != nil {
			cleanupTempFile(f)
			return 0, err
		}
		b.file = f
		b.mem = bytes.Buffer{}
	}

	var n int
	var err error
	if b.file != nil {
		n, err = b.file.Write(p)
	} else {
		n, err = b.mem.Write(p)
	}
	b.size += int64(n)
	return n, err
}

// Reader returns the spooled bytes from the start.
func (b *spoolBuffer) Reader() (io.Reader, error) {
	if b.file == nil {
		return bytes.NewReader(b.mem.Bytes()), nil
	}
	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return b.file, nil
}

func (b *spoolBuffer) Len() int64 { return b.size }

func (b *spoolBuffer) Close() error {
	if b.file != nil {
		cleanupTempFile(b.file)
		b.file = nil
	}
	b.mem = bytes.Buffer{}
	return nil
}

func cleanupTempFile(f *os.File) {
	f.Close()
	os.Remove(f.Name())
}

// tempName returns a unique sibling of path for an atomic rewrite.
func tempName(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
}

// Time conversion functions
func timeToMsDos(t time.Time) (dosDate uint16, dosTime uint16) {
	year := min(max(t.Year()-1980, 0), 127)
	month := uint16(t.Month())
	day := uint16(t.Day())
	hour := uint16(t.Hour())
	minute := uint16(t.Minute())
	second := uint16(t.Second())

	dosDate = uint16(year)<<9 | month<<5 | day
	dosTime = hour<<11 | minute<<5 | second/2
	return dosDate, dosTime
}

func msDosToTime(dosDate uint16, dosTime uint16) time.Time {
	day := dosDate & 0x1F
	month := (dosDate >> 5) & 0x0F
	year := int((dosDate>>9)&0x7F) + 1980
	second := (dosTime & 0x1F) * 2
	minute := (dosTime >> 5) & 0x3F
	hour := (dosTime >> 11) & 0x1F

	if month < 1 || month > 12 {
		month = 1
	}
	if day < 1 || day > 31 {
		day = 1
	}

	return time.Date(year, time.Month(month), int(day), int(hour), int(minute), int(second), 0, time.UTC)
}

// hasMeta checks if the string contains pattern matching characters.
func hasMeta(path string) bool {
	for i := 0; i < len(path); i++ {
		switch path[i] {
		case '*', '?', '[', '\\':
			return true
		}
	}
	return false
}
