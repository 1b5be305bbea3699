// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// RandomAccessFile is an open archive file or volume.
type RandomAccessFile interface {
	io.Reader
	io.Writer
	io.Seeker
	io.ReaderAt
	io.Closer

	Size() (int64, error)
	Truncate(size int64) error
}

// Storage is the file system an archive and its volumes live on.
// Implementations that cannot write return errors.ErrUnsupported from
// Create, OpenFile, Remove and Rename.
type Storage interface {
	// Open opens name for reading.
	Open(name string) (RandomAccessFile, error)
	// OpenFile opens name for reading and writing, creating it if needed.
	OpenFile(name string) (RandomAccessFile, error)
	// Create creates or truncates name.
	Create(name string) (RandomAccessFile, error)
	Stat(name string) (fs.FileInfo, error)
	Remove(name string) error
	Rename(oldpath, newpath string) error
	// Glob returns the names matching pattern, in filepath.Match syntax.
	Glob(pattern string) ([]string, error)
}

// OSStorage is the local file system.
type OSStorage struct{}

var _ Storage = OSStorage{}

func (OSStorage) Open(name string) (RandomAccessFile, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

func (OSStorage) OpenFile(name string) (RandomAccessFile, error) {
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

func (OSStorage) Create(name string) (RandomAccessFile, error) {
	if dir := filepath.Dir(name); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	return osFile{f}, nil
}

func (OSStorage) Stat(name string) (fs.FileInfo, error) { return os.Stat(name) }
func (OSStorage) Remove(name string) error              { return os.Remove(name) }
func (OSStorage) Rename(oldpath, newpath string) error  { return os.Rename(oldpath, newpath) }
func (OSStorage) Glob(pattern string) ([]string, error) { return filepath.Glob(pattern) }

type osFile struct {
	*os.File
}

func (f osFile) Size() (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
