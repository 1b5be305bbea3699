// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/lemon4ksan/zipkit/internal"
)

// SplitScheme selects how the volumes of a split archive are named and how
// entry offsets map onto them.
type SplitScheme uint8

const (
	// SplitNone is a single-file archive.
	SplitNone SplitScheme = iota

	// SplitLegacy names volumes name.z01, name.z02, ... with the last volume
	// named name.zip. Volume 0 starts with the split marker and offsets are
	// relative to the volume named by the entry's disk number. Headers are
	// never split across volumes.
	SplitLegacy

	// SplitNumeric names volumes name.001, name.002, ... and cuts the
	// archive bytes at exact volume boundaries. Offsets are absolute.
	SplitNumeric
)

func (s SplitScheme) String() string {
	switch s {
	case SplitNone:
		return "none"
	case SplitLegacy:
		return "legacy"
	case SplitNumeric:
		return "numeric"
	}
	return fmt.Sprintf("SplitScheme(%d)", uint8(s))
}

// ParseSplitScheme is the inverse of SplitScheme.String.
func ParseSplitScheme(s string) (SplitScheme, error) {
	for _, scheme := range []SplitScheme{SplitNone, SplitLegacy, SplitNumeric} {
		if scheme.String() == s {
			return scheme, nil
		}
	}
	return SplitNone, fmt.Errorf("zip: unknown split scheme %q", s)
}

// MinSplitSize is the smallest accepted volume size.
const MinSplitSize = 1 << 10

const numericSuffix = ".001"

// DetectScheme reports the scheme implied by the path an archive is opened
// with. Legacy split archives are only recognised once their end record is read.
func DetectScheme(path string) SplitScheme {
	if strings.HasSuffix(path, numericSuffix) {
		return SplitNumeric
	}
	return SplitNone
}

// VolumeName returns the file name of volume index (zero based) of the
// archive whose main path is base. last marks the final volume of a
// legacy archive, which keeps the base name.
func VolumeName(base string, scheme SplitScheme, index int, last bool) string {
	switch scheme {
	case SplitLegacy:
		if last {
			return base
		}
		return strings.TrimSuffix(base, filepath.Ext(base)) + fmt.Sprintf(".z%02d", index+1)
	case SplitNumeric:
		return strings.TrimSuffix(base, numericSuffix) + fmt.Sprintf(".%03d", index+1)
	}
	return base
}

// volumeSet exposes the volumes of an archive as one logical byte range.
// Volumes are opened on first use; a clone shares names and sizes but owns
// its handles.
type volumeSet struct {
	storage Storage
	scheme  SplitScheme
	names   []string
	starts  []int64
	sizes   []int64
	files   []RandomAccessFile
}

func newVolumeSet(storage Storage, scheme SplitScheme, names []string) (*volumeSet, error) {
	v := &volumeSet{
		storage: storage,
		scheme:  scheme,
		names:   names,
		starts:  make([]int64, len(names)),
		sizes:   make([]int64, len(names)),
		files:   make([]RandomAccessFile, len(names)),
	}

	var total int64
	for i, name := range names {
		info, err := storage.Stat(name)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: missing volume %s", ErrOffsetOutOfRange, name)
			}
			return nil, storageErr("stat", name, err)
		}
		v.starts[i] = total
		v.sizes[i] = info.Size()
		total += info.Size()
	}
	return v, nil
}

// discoverNumericVolumes lists the volumes of the numeric split archive
// whose first volume is path.
func discoverNumericVolumes(storage Storage, path string) ([]string, error) {
	base := strings.TrimSuffix(path, numericSuffix)
	matches, err := storage.Glob(globEscape(base) + ".[0-9][0-9][0-9]*")
	if err != nil {
		return nil, storageErr("glob", base, err)
	}

	var numbers []int
	for _, m := range matches {
		if n, err := strconv.Atoi(strings.TrimPrefix(m, base+".")); err == nil && n > 0 {
			numbers = append(numbers, n)
		}
	}
	if len(numbers) == 0 {
		return nil, fmt.Errorf("%w: no volumes found for %s", ErrOffsetOutOfRange, path)
	}

	// The highest numbered volume is the head; every lower one must exist.
	slices.SortFunc(numbers, func(a, b int) int { return b - a })
	highest := numbers[0]

	names := make([]string, highest)
	for i := range names {
		names[i] = VolumeName(base, SplitNumeric, i, false)
	}
	return names, nil
}

func legacyVolumeNames(path string, disks int) []string {
	names := make([]string, disks)
	for i := range names {
		names[i] = VolumeName(path, SplitLegacy, i, i == disks-1)
	}
	return names
}

// globEscape quotes the pattern metacharacters of a literal path prefix.
func globEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[':
			b.WriteByte('[')
			b.WriteRune(r)
			b.WriteByte(']')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (v *volumeSet) clone() *volumeSet {
	c := *v
	c.files = make([]RandomAccessFile, len(v.files))
	return &c
}

func (v *volumeSet) count() int { return len(v.names) }

// Size returns the length of the logical concatenation.
func (v *volumeSet) Size() int64 {
	if len(v.names) == 0 {
		return 0
	}
	last := len(v.names) - 1
	return v.starts[last] + v.sizes[last]
}

// locate maps an entry's disk number and stored offset to a logical offset.
func (v *volumeSet) locate(disk uint32, offset uint64) (int64, error) {
	var logical int64
	switch v.scheme {
	case SplitLegacy:
		if int(disk) >= len(v.names) {
			return 0, fmt.Errorf("%w: volume %d of %d", ErrOffsetOutOfRange, disk, len(v.names))
		}
		if offset > uint64(v.sizes[disk]) {
			return 0, fmt.Errorf("%w: offset %d past end of volume %d", ErrOffsetOutOfRange, offset, disk)
		}
		logical = v.starts[disk] + int64(offset)
	default:
		logical = int64(offset)
	}

	if logical < 0 || logical > v.Size() {
		return 0, fmt.Errorf("%w: offset %d, archive is %d bytes", ErrOffsetOutOfRange, offset, v.Size())
	}
	return logical, nil
}

// volumeOf returns the index of the volume holding the logical offset.
func (v *volumeSet) volumeOf(logical int64) int {
	i, found := slices.BinarySearch(v.starts, logical)
	if !found {
		i--
	}
	// Skip empty volumes sharing the same start.
	for i+1 < len(v.starts) && v.starts[i+1] == logical {
		i++
	}
	return max(i, 0)
}

func (v *volumeSet) file(i int) (RandomAccessFile, error) {
	if v.files[i] != nil {
		return v.files[i], nil
	}
	f, err := v.storage.Open(v.names[i])
	if err != nil {
		return nil, storageErr("open", v.names[i], err)
	}
	v.files[i] = f
	return f, nil
}

// ReadAt reads across volume boundaries.
func (v *volumeSet) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrOffsetOutOfRange, off)
	}

	n := 0
	for n < len(p) {
		pos := off + int64(n)
		if pos >= v.Size() {
			return n, io.EOF
		}
		i := v.volumeOf(pos)
		f, err := v.file(i)
		if err != nil {
			return n, err
		}

		local := pos - v.starts[i]
		chunk := p[n:min(len(p), n+int(v.sizes[i]-local))]
		m, err := f.ReadAt(chunk, local)
		n += m
		if err != nil && !(err == io.EOF && m == len(chunk)) {
			if err == io.EOF {
				return n, io.ErrUnexpectedEOF
			}
			return n, storageErr("read", v.names[i], err)
		}
	}
	return n, nil
}

// tail returns the region the end record must be searched in: the last
// volume for legacy archives, everything otherwise.
func (v *volumeSet) tail() *io.SectionReader {
	if v.scheme == SplitLegacy {
		last := len(v.names) - 1
		return io.NewSectionReader(v, v.starts[last], v.sizes[last])
	}
	return io.NewSectionReader(v, 0, v.Size())
}

func (v *volumeSet) tailBase() int64 {
	if v.scheme == SplitLegacy {
		return v.starts[len(v.names)-1]
	}
	return 0
}

func (v *volumeSet) Close() error {
	var errs []error
	for i, f := range v.files {
		if f != nil {
			errs = append(errs, f.Close())
			v.files[i] = nil
		}
	}
	return errors.Join(errs...)
}

// archiveWriter is where entries, the central directory and the end
// records are written.
type archiveWriter interface {
	io.Writer
	// reserve guarantees the next n bytes land in a single volume.
	reserve(n int64) error
	// position returns the disk number and stored offset of the next byte.
	position() (disk uint32, offset uint64)
}

// fileWriter writes a single-file archive starting at offset.
type fileWriter struct {
	f      RandomAccessFile
	offset int64
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.offset += int64(n)
	return n, err
}

func (w *fileWriter) reserve(int64) error { return nil }

// rewind moves the write position back to offset, dropping a partly
// written entry.
func (w *fileWriter) rewind(offset int64) error {
	if _, err := w.f.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	w.offset = offset
	return nil
}

func (w *fileWriter) position() (uint32, uint64) { return 0, uint64(w.offset) }

// splitWriter writes volumes of at most limit bytes.
type splitWriter struct {
	storage Storage
	base    string
	scheme  SplitScheme
	limit   int64

	index   int
	cur     RandomAccessFile
	written int64 // bytes in the current volume
	total   int64 // bytes across all volumes
	names   []string
}

func newSplitWriter(storage Storage, base string, scheme SplitScheme, limit int64) (*splitWriter, error) {
	w := &splitWriter{storage: storage, base: base, scheme: scheme, limit: limit, index: -1}
	if err := w.next(); err != nil {
		return nil, err
	}
	if scheme == SplitLegacy {
		var marker [internal.SplitSignatureLen]byte
		binary.LittleEndian.PutUint32(marker[:], internal.SplitArchiveSignature)
		if _, err := w.Write(marker[:]); err != nil {
			return nil, err
		}
	}
	return w, nil
}

func (w *splitWriter) next() error {
	if w.cur != nil {
		if err := w.cur.Close(); err != nil {
			return storageErr("close", w.names[w.index], err)
		}
	}
	w.index++
	name := VolumeName(w.base, w.scheme, w.index, false)
	f, err := w.storage.Create(name)
	if err != nil {
		return storageErr("create", name, err)
	}
	w.cur = f
	w.written = 0
	w.names = append(w.names, name)
	return nil
}

func (w *splitWriter) Write(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if w.written >= w.limit {
			if err := w.next(); err != nil {
				return n, err
			}
		}
		chunk := p[n:min(len(p), n+int(w.limit-w.written))]
		m, err := w.cur.Write(chunk)
		n += m
		w.written += int64(m)
		w.total += int64(m)
		if err != nil {
			return n, storageErr("write", w.names[w.index], err)
		}
	}
	return n, nil
}

func (w *splitWriter) reserve(n int64) error {
	if w.scheme == SplitLegacy && w.written > 0 && w.written+n > w.limit {
		return w.next()
	}
	return nil
}

func (w *splitWriter) position() (uint32, uint64) {
	if w.scheme == SplitLegacy {
		return uint32(w.index), uint64(w.written)
	}
	return 0, uint64(w.total)
}

// Close closes the last volume and gives it its final name. Legacy output
// that never left the first volume is not a split archive, so its marker is
// replaced with the single volume one, keeping every offset in place.
func (w *splitWriter) Close() error {
	if w.scheme == SplitLegacy && w.index == 0 {
		var marker [internal.SplitSignatureLen]byte
		binary.LittleEndian.PutUint32(marker[:], internal.SingleVolumeSplitSignature)
		if _, err := w.cur.Seek(0, io.SeekStart); err != nil {
			w.cur.Close()
			return storageErr("seek", w.names[w.index], err)
		}
		if _, err := w.cur.Write(marker[:]); err != nil {
			w.cur.Close()
			return storageErr("write", w.names[w.index], err)
		}
	}
	if err := w.cur.Close(); err != nil {
		return storageErr("close", w.names[w.index], err)
	}
	if w.scheme == SplitLegacy {
		last := VolumeName(w.base, w.scheme, w.index, true)
		if err := w.storage.Rename(w.names[w.index], last); err != nil {
			return storageErr("rename", w.names[w.index], err)
		}
		w.names[w.index] = last
	}
	return nil
}

// abort removes every volume written so far.
func (w *splitWriter) abort() {
	if w.cur != nil {
		w.cur.Close()
	}
	for _, name := range w.names {
		w.storage.Remove(name)
	}
}
