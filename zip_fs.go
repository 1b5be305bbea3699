// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

var (
	_ fs.FS        = (*zipFS)(nil)
	_ fs.StatFS    = (*zipFS)(nil)
	_ fs.ReadDirFS = (*zipFS)(nil)
)

type zipFS struct {
	a *Archive
}

// Open implements fs.FS, allowing the archive to be used as a read-only filesystem.
func (zfs *zipFS) Open(name string) (fs.File, error) {
	info, err := zfs.stat(name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}

	if info.IsDir() {
		return &fsDir{info: info, path: name, fs: zfs}, nil
	}

	rc, err := zfs.a.OpenEntry(info.entry.name)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &fsFile{info: info, rc: rc}, nil
}

// Stat implements fs.StatFS.
func (zfs *zipFS) Stat(name string) (fs.FileInfo, error) {
	info, err := zfs.stat(name)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return info, nil
}

// ReadDir implements fs.ReadDirFS.
func (zfs *zipFS) ReadDir(name string) ([]fs.DirEntry, error) {
	info, err := zfs.stat(name)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	if !info.IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	return zfs.children(name), nil
}

// stat handles the root directory, explicit entries and directories that
// only exist as a prefix of other entries.
func (zfs *zipFS) stat(name string) (fileInfo, error) {
	if !fs.ValidPath(name) {
		return fileInfo{}, fs.ErrInvalid
	}
	if name == "." {
		return fileInfo{name: ".", dir: true}, nil
	}

	if e, err := zfs.a.Entry(name); err == nil {
		return fileInfo{name: path.Base(name), entry: e, dir: e.IsDir()}, nil
	}

	prefix := name + "/"
	for _, e := range zfs.a.Entries() {
		if strings.HasPrefix(e.name, prefix) {
			return fileInfo{name: path.Base(name), dir: true}, nil
		}
	}
	return fileInfo{}, fs.ErrNotExist
}

// children lists the direct children of dir, sorted by name.
func (zfs *zipFS) children(dir string) []fs.DirEntry {
	prefix := ""
	if dir != "." {
		prefix = dir + "/"
	}

	seen := make(map[string]int)
	var entries []fs.DirEntry
	for _, e := range zfs.a.Entries() {
		rel, ok := strings.CutPrefix(e.name, prefix)
		if !ok || rel == "" {
			continue
		}

		child, rest, nested := strings.Cut(rel, "/")
		info := fileInfo{name: child, dir: nested}
		if !nested || rest == "" {
			info.entry = e
			info.dir = e.IsDir()
		}

		// An explicit entry wins over a directory implied by deeper names.
		if i, dup := seen[child]; dup {
			if info.entry != nil && rest == "" {
				entries[i] = fs.FileInfoToDirEntry(info)
			}
			continue
		}
		seen[child] = len(entries)
		entries = append(entries, fs.FileInfoToDirEntry(info))
	}

	slices.SortFunc(entries, func(x, y fs.DirEntry) int { return strings.Compare(x.Name(), y.Name()) })
	return entries
}

// fsFile wraps an entry reader to satisfy fs.File.
type fsFile struct {
	info fileInfo
	rc   io.ReadCloser
}

func (f *fsFile) Stat() (fs.FileInfo, error) { return f.info, nil }
func (f *fsFile) Read(b []byte) (int, error) { return f.rc.Read(b) }
func (f *fsFile) Close() error               { return f.rc.Close() }

// fsDir satisfies fs.ReadDirFile. Successive ReadDir calls continue where
// the previous one stopped.
type fsDir struct {
	info    fileInfo
	path    string
	fs      *zipFS
	entries []fs.DirEntry
	read    bool
	offset  int
}

func (d *fsDir) Stat() (fs.FileInfo, error) { return d.info, nil }
func (d *fsDir) Close() error               { return nil }
func (d *fsDir) Read(b []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.name, Err: fs.ErrInvalid}
}

func (d *fsDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if !d.read {
		d.entries = d.fs.children(d.path)
		d.read = true
	}

	rest := d.entries[d.offset:]
	if n <= 0 {
		d.offset = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	n = min(n, len(rest))
	d.offset += n
	return rest[:n], nil
}

// fileInfo describes an entry or a directory implied by entry names.
type fileInfo struct {
	name  string
	dir   bool
	entry *Entry // nil for implied directories
}

func (i fileInfo) Name() string { return i.name }
func (i fileInfo) IsDir() bool  { return i.dir }
func (i fileInfo) Sys() any     { return i.entry }

func (i fileInfo) Size() int64 {
	if i.entry == nil {
		return 0
	}
	return i.entry.UncompressedSize()
}

func (i fileInfo) Mode() fs.FileMode {
	switch {
	case i.entry != nil:
		return i.entry.mode
	case i.dir:
		return fs.ModeDir | 0755
	}
	return 0644
}

func (i fileInfo) ModTime() time.Time {
	if i.entry == nil {
		return time.Time{}
	}
	return i.entry.modTime
}
