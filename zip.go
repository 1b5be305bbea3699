// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package zipkit reads, writes and mutates ZIP archives in place.
//
// It handles Zip64 archives, multi-volume (split) archives in both the
// legacy name.z01 layout and the numeric name.001 layout, and encrypts
// entries with either the traditional PKWARE cipher (ZipCrypto) or WinZip
// AES. Every entry read is verified against its CRC-32 or AES
// authentication code.
//
// An Archive is bound to a path on a [Storage]. Opening a path that does
// not exist yields an empty archive that is created by the first add.
//
// # Basic Usage
//
// Creating an archive:
//
//	archive, _ := zipkit.Open("output.zip")
//	defer archive.Close()
//	archive.AddFile("file.txt")
//	archive.AddDir("images/", zipkit.WithPath("assets"))
//
// Creating an encrypted split archive of 100MB volumes:
//
//	archive, _ := zipkit.Open("backup.zip",
//		zipkit.WithPassword("secret"),
//		zipkit.WithSplit(zipkit.SplitLegacy, 100<<20))
//	archive.AddFiles([]string{"db.dump", "logs/"})
//
// Modifying an existing archive:
//
//	archive, _ := zipkit.Open("old.zip", zipkit.WithPassword("secret"))
//
//	// 1. Remove obsolete files
//	archive.Remove("logs/obsolete.log")
//
//	// 2. Re-key every encrypted entry
//	archive.ChangePassword("new-secret")
//
//	// 3. Update the archive comment
//	archive.SetComment("nightly build")
//
// Joining a split archive back into one file:
//
//	archive, _ := zipkit.Open("backup.zip")
//	archive.Merge("backup-single.zip")
//
// The archive can also be read through the [fs.FS] interface:
//
//	data, _ := fs.ReadFile(archive.FS(), "file.txt")
//
// An Archive is not safe for concurrent use, with one exception: readers
// returned by OpenEntry own their volume handles and may be read from
// separate goroutines.
package zipkit

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/lemon4ksan/zipkit/internal"
)

// Archive is a ZIP archive on storage.
type Archive struct {
	path   string
	config Config
	codec  nameCodec
	log    *slog.Logger

	state *archiveState // nil until the archive exists
}

// Open opens the archive at path. If path does not exist an empty archive
// is returned; it is written by the first add. A path ending in .001 is
// read as a numeric split archive, and a file whose end record names more
// than one disk as a legacy split archive.
//
// Structural errors are returned as *OpenError.
func Open(path string, options ...Option) (*Archive, error) {
	cfg := defaultConfig()
	for _, opt := range options {
		opt(&cfg)
	}

	a := &Archive{
		path:   path,
		config: cfg,
		codec:  nameCodec{enc: cfg.Encoding},
		log:    cfg.Logger.With("path", path),
	}

	if _, err := cfg.Storage.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			a.log.Debug("new archive")
			return a, nil
		}
		return nil, &OpenError{Path: path, Err: storageErr("stat", path, err)}
	}

	if err := a.load(); err != nil {
		return nil, err
	}
	return a, nil
}

// load replaces the in-memory view with what is on storage.
func (a *Archive) load() error {
	st, err := readArchive(a.path, &a.config, a.codec)
	if err != nil {
		return &OpenError{Path: a.path, Err: err}
	}
	if a.state != nil {
		a.state.volumes.Close()
	}
	a.state = st
	a.log.Debug("loaded archive", "entries", len(st.entries), "volumes", st.volumes.count())
	return nil
}

// Close releases the archive's storage handles.
func (a *Archive) Close() error {
	if a.state == nil {
		return nil
	}
	return a.state.volumes.Close()
}

// Path returns the path the archive is read from. For numeric split
// archives this is the first volume.
func (a *Archive) Path() string { return a.path }

// Entries returns the central directory entries in archive order.
func (a *Archive) Entries() []*Entry {
	if a.state == nil {
		return nil
	}
	return slices.Clone(a.state.entries)
}

// Entry returns the entry with the given name. Directory names may be
// given with or without the trailing slash.
func (a *Archive) Entry(name string) (*Entry, error) {
	if a.state != nil {
		key := strings.TrimPrefix(path.Clean(strings.ReplaceAll(name, `\`, "/")), "/")
		for _, k := range []string{key, key + "/"} {
			if i, ok := a.state.index[k]; ok {
				return a.state.entries[i], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
}

// Exists reports whether a file or directory entry with the given name exists.
func (a *Archive) Exists(name string) bool {
	_, err := a.Entry(name)
	return err == nil
}

// Glob returns all entries whose names match the specified shell pattern.
// Pattern syntax is identical to [path.Match].
func (a *Archive) Glob(pattern string) ([]*Entry, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}

	if !hasMeta(pattern) {
		if e, err := a.Entry(pattern); err == nil {
			return []*Entry{e}, nil
		}
		return nil, nil
	}

	var matches []*Entry
	for _, e := range a.Entries() {
		if matched, _ := path.Match(pattern, strings.TrimSuffix(e.name, "/")); matched {
			matches = append(matches, e)
		}
	}
	return matches, nil
}

// Comment returns the archive comment.
func (a *Archive) Comment() string {
	if a.state == nil {
		return ""
	}
	return a.codec.decodeComment(a.state.comment)
}

// SplitScheme returns the volume layout of the archive.
func (a *Archive) SplitScheme() SplitScheme {
	if a.state == nil {
		return SplitNone
	}
	return a.state.volumes.scheme
}

// IsSplit reports whether the archive is stored as several volumes.
func (a *Archive) IsSplit() bool { return a.SplitScheme() != SplitNone }

// IsEncrypted reports whether any entry is encrypted.
func (a *Archive) IsEncrypted() bool {
	return slices.ContainsFunc(a.Entries(), (*Entry).IsEncrypted)
}

// Volumes returns the file names of the archive's volumes in disk order.
func (a *Archive) Volumes() []string {
	if a.state == nil {
		return nil
	}
	return slices.Clone(a.state.volumes.names)
}

// SetPassword uses pwd for every encrypted entry read or written from now on.
func (a *Archive) SetPassword(pwd string) {
	a.config.Passwords = StaticPassword(pwd)
}

// SetPasswordSource sets where passwords for encrypted entries come from.
func (a *Archive) SetPasswordSource(src PasswordSource) {
	a.config.Passwords = src
}

// FS returns a read-only fs.FS view of the archive.
func (a *Archive) FS() fs.FS {
	return &zipFS{a: a}
}

// AddFile adds a file, symlink or directory from the local file system.
// Directories are added recursively under their own name.
func (a *Archive) AddFile(path string, options ...AddOption) error {
	return a.AddFiles([]string{path}, options...)
}

// AddFiles adds several paths in one pass. Entries are named after the
// path's base name unless WithRoot, WithPath or WithName say otherwise.
func (a *Archive) AddFiles(paths []string, options ...AddOption) error {
	var sources []*source
	for _, p := range paths {
		collected, err := a.collect(p, filepath.Dir(filepath.Clean(p)), true, options)
		if err != nil {
			return err
		}
		sources = append(sources, collected...)
	}
	return a.addSources(sources)
}

// AddDir recursively adds the contents of a local directory. Entry names
// are relative to dir. Symlinks aren't followed.
func (a *Archive) AddDir(dir string, options ...AddOption) error {
	sources, err := a.collect(dir, filepath.Clean(dir), false, options)
	if err != nil {
		return err
	}
	return a.addSources(sources)
}

// collect describes root and, for directories, everything below it. Names
// are made relative to base.
func (a *Archive) collect(root, base string, includeRoot bool, options []AddOption) ([]*source, error) {
	var sources []*source
	err := filepath.WalkDir(root, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !includeRoot && walkPath == root {
			return nil
		}

		s, err := a.newSourceFromPath(walkPath)
		if err != nil {
			return err
		}
		if rel, err := filepath.Rel(base, walkPath); err == nil {
			s.name = filepath.ToSlash(rel)
		}
		if s.isDir {
			s.name += "/"
		}
		for _, opt := range options {
			opt(s)
		}
		sources = append(sources, s)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return sources, nil
}

// AddReader streams content from an io.Reader into the archive.
// Use SizeUnknown for size if the length is not known ahead of time.
func (a *Archive) AddReader(r io.Reader, name string, size int64, options ...AddOption) error {
	s, err := a.newSourceFromReader(r, name, size)
	if err != nil {
		return err
	}
	for _, opt := range options {
		opt(s)
	}
	return a.addSources([]*source{s})
}

// AddBytes adds a file from a byte slice.
func (a *Archive) AddBytes(data []byte, name string, options ...AddOption) error {
	return a.AddReader(bytes.NewReader(data), name, int64(len(data)), options...)
}

// AddString adds a file from a string.
func (a *Archive) AddString(content string, name string, options ...AddOption) error {
	return a.AddReader(strings.NewReader(content), name, int64(len(content)), options...)
}

// Mkdir adds an empty directory entry.
func (a *Archive) Mkdir(name string, options ...AddOption) error {
	s := a.newSource(name)
	s.asDir()
	for _, opt := range options {
		opt(s)
	}
	return a.addSources([]*source{s})
}

// addSources validates and writes new entries after the existing ones and
// rewrites the central directory. Entries that fail are reported as
// *EntryError and left out; the others are kept.
func (a *Archive) addSources(sources []*source) error {
	if a.IsSplit() {
		return ErrSplitArchive
	}

	var errs []error
	seen := make(map[string]bool)
	if a.state != nil {
		for name := range a.state.index {
			seen[name] = true
		}
	}

	pending := make([]*source, 0, len(sources))
	for _, s := range sources {
		s.name = normalizeName(s.name, s.isDir)
		if err := a.checkNewName(s.name, seen); err != nil {
			errs = append(errs, a.entryDone("add", s.name, err))
			continue
		}
		parents, err := a.missingDirs(s, seen)
		if err != nil {
			errs = append(errs, a.entryDone("add", s.name, err))
			continue
		}
		pending = append(pending, parents...)
		pending = append(pending, s)
		seen[s.name] = true
	}
	if len(pending) == 0 {
		return errors.Join(errs...)
	}

	if err := a.appendEntries(sortSources(pending, a.config.SortStrategy), &errs); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *Archive) checkNewName(name string, seen map[string]bool) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty entry name", ErrInsecurePath)
	case seen[name]:
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
	case !strings.HasSuffix(name, "/") && seen[name+"/"]:
		return fmt.Errorf("%w: %s is already a directory", ErrDuplicateEntry, name)
	}
	return nil
}

// missingDirs returns directory entries for the parents of s that the
// archive does not have yet.
func (a *Archive) missingDirs(s *source, seen map[string]bool) ([]*source, error) {
	var missing []string
	for dir := path.Dir(strings.TrimSuffix(s.name, "/")); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if seen[dir+"/"] {
			break
		}
		if seen[dir] {
			return nil, fmt.Errorf("%w: %s is already a file", ErrDuplicateEntry, dir)
		}
		missing = append(missing, dir)
	}

	dirs := make([]*source, 0, len(missing))
	for i := len(missing) - 1; i >= 0; i-- {
		d := a.newSource(missing[i])
		d.asDir()
		d.modTime = s.modTime
		dirs = append(dirs, d)
		seen[d.name] = true
	}
	return dirs, nil
}

// openWriter prepares the destination of an add: a fresh file, fresh
// volumes, or the existing file positioned over its central directory.
func (a *Archive) openWriter() (archiveWriter, func() error, func(), error) {
	storage := a.config.Storage

	if a.state == nil && a.config.SplitScheme != SplitNone {
		if a.config.SplitSize < MinSplitSize {
			return nil, nil, nil, fmt.Errorf("zip: split size %d is below the minimum of %d bytes", a.config.SplitSize, MinSplitSize)
		}
		sw, err := newSplitWriter(storage, a.path, a.config.SplitScheme, a.config.SplitSize)
		if err != nil {
			return nil, nil, nil, err
		}
		finish := func() error {
			if err := sw.Close(); err != nil {
				return err
			}
			if sw.scheme == SplitNumeric {
				a.path = sw.names[0]
			}
			return nil
		}
		return sw, finish, sw.abort, nil
	}

	var (
		f   RandomAccessFile
		err error
	)
	if a.state == nil {
		f, err = storage.Create(a.path)
	} else {
		f, err = storage.OpenFile(a.path)
	}
	if err != nil {
		return nil, nil, nil, storageErr("open", a.path, err)
	}

	fw := &fileWriter{f: f}
	if a.state != nil {
		if err := fw.rewind(a.state.cdOffset); err != nil {
			f.Close()
			return nil, nil, nil, storageErr("seek", a.path, err)
		}
	}

	finish := func() error {
		if err := f.Truncate(fw.offset); err != nil {
			f.Close()
			return storageErr("truncate", a.path, err)
		}
		if err := f.Close(); err != nil {
			return storageErr("close", a.path, err)
		}
		return nil
	}
	abort := func() {
		if a.state == nil {
			f.Close()
			storage.Remove(a.path)
			return
		}
		// Put the original central directory back over whatever was written.
		if err := fw.rewind(a.state.cdOffset); err == nil {
			if err := writeCentralDirectory(fw, a.headers(), a.state.signature, a.state.comment); err == nil {
				f.Truncate(fw.offset)
			}
		}
		f.Close()
	}
	return fw, finish, abort, nil
}

// appendEntries writes sources after the existing entries. Per-entry
// failures are appended to errs; the returned error is fatal.
func (a *Archive) appendEntries(sources []*source, errs *[]error) error {
	w, finish, abort, err := a.openWriter()
	if err != nil {
		return err
	}

	var (
		headers   []*internal.GeneralFileHeader
		comment   []byte
		signature *internal.DigitalSignature
	)
	if a.state != nil {
		headers = a.headers()
		comment, signature = a.state.comment, a.state.signature
	}

	fw, single := w.(*fileWriter)
	for _, src := range sources {
		p, err := a.encodePayload(src)
		if err != nil {
			*errs = append(*errs, a.entryDone("add", src.name, err))
			continue
		}

		var start int64
		if single {
			start = fw.offset
		}
		h, err := a.placeSource(w, src, p)
		p.Close()
		if err != nil {
			if !single {
				abort()
				return a.entryDone("add", src.name, err)
			}
			if rerr := fw.rewind(start); rerr != nil {
				abort()
				return storageErr("seek", a.path, rerr)
			}
			*errs = append(*errs, a.entryDone("add", src.name, err))
			continue
		}

		headers = append(headers, h)
		a.log.Debug("added entry", "entry", src.name, "size", h.UncompressedSize, "volume", h.DiskNumberStart)
		a.entryDone("add", src.name, nil)
	}

	if err := writeCentralDirectory(w, headers, signature, comment); err != nil {
		abort()
		return err
	}
	if err := finish(); err != nil {
		return err
	}
	return a.load()
}

// headers returns copies of the current central headers.
func (a *Archive) headers() []*internal.GeneralFileHeader {
	headers := make([]*internal.GeneralFileHeader, 0, len(a.state.entries))
	for _, e := range a.state.entries {
		h := *e.header
		headers = append(headers, &h)
	}
	return headers
}

func (a *Archive) placeSource(w archiveWriter, src *source, p *payload) (*internal.GeneralFileHeader, error) {
	h, err := a.entryHeader(src, p)
	if err != nil {
		return nil, err
	}
	r, err := p.buf.Reader()
	if err != nil {
		return nil, err
	}
	if err := placeEntry(w, h, r); err != nil {
		return nil, err
	}
	return h, nil
}

// entryDone reports the outcome of one entry to the progress callback and
// wraps a failure as *EntryError.
func (a *Archive) entryDone(op, name string, err error) error {
	if a.config.OnEntryProcessed != nil {
		a.config.OnEntryProcessed(name, err)
	}
	if err == nil {
		return nil
	}
	a.log.Debug("entry failed", "op", op, "entry", name, "error", err)
	return &EntryError{Op: op, Name: name, Err: err}
}

// OpenEntry returns a reader for the named entry's content. The reader
// verifies the CRC-32 or AES authentication code when it reaches EOF and
// has its own storage handles.
func (a *Archive) OpenEntry(name string) (io.ReadCloser, error) {
	e, err := a.Entry(name)
	if err != nil {
		return nil, err
	}

	vs := a.state.volumes.clone()
	cr, err := openEntry(vs, e, a.config.Passwords)
	if err != nil {
		vs.Close()
		return nil, &EntryError{Op: "open", Name: e.name, Err: err}
	}
	cr.onClose = vs.Close
	return cr, nil
}

// Extract writes the named entry below dir, restoring its mode and
// modification time.
func (a *Archive) Extract(name, dir string) error {
	e, err := a.Entry(name)
	if err != nil {
		return err
	}
	if dir, err = filepath.Abs(dir); err != nil {
		return err
	}
	if err := a.extractEntry(context.Background(), e, dir); err != nil {
		return a.entryDone("extract", e.name, err)
	}
	a.entryDone("extract", e.name, nil)
	if e.IsDir() {
		restoreTimes(dir, []*Entry{e})
	}
	return nil
}

// ExtractAll writes every entry below dir.
func (a *Archive) ExtractAll(dir string) error {
	return a.ExtractAllWithContext(context.Background(), dir)
}

// ExtractAllWithContext extracts every entry with context support.
// Entries that fail are reported as *EntryError; extraction continues with
// the next one unless ctx is done.
func (a *Archive) ExtractAllWithContext(ctx context.Context, dir string) error {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	var errs []error
	var dirsToRestore []*Entry

	entries := a.Entries()
	slices.SortStableFunc(entries, func(x, y *Entry) int { return strings.Compare(x.name, y.name) })

	a.log.Debug("extracting", "dest", dir, "entries", len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := a.extractEntry(ctx, e, dir)
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return err
		}
		if err == nil && e.IsDir() {
			dirsToRestore = append(dirsToRestore, e)
		}
		if err := a.entryDone("extract", e.name, err); err != nil {
			errs = append(errs, err)
		}
	}

	restoreTimes(dir, dirsToRestore)
	return errors.Join(errs...)
}

// restoreTimes sets directory times last, deepest first, since extracting
// their children updates them.
func restoreTimes(dir string, dirs []*Entry) {
	for i := len(dirs) - 1; i >= 0; i-- {
		os.Chtimes(filepath.Join(dir, filepath.FromSlash(dirs[i].name)), time.Now(), dirs[i].modTime)
	}
}

// safeJoin joins an entry name to the extraction directory, rejecting names
// that would land outside it. dir must be absolute.
func safeJoin(dir, name string) (string, error) {
	local := filepath.FromSlash(strings.TrimSuffix(name, "/"))
	target := filepath.Join(dir, local)
	if !filepath.IsLocal(local) || !within(dir, target) {
		return "", fmt.Errorf("%w: %s", ErrInsecurePath, name)
	}
	return target, nil
}

// within reports whether target is dir or lies below it.
func within(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	return err == nil && filepath.IsLocal(rel)
}

// extractEntry handles low-level extraction of one entry. Restoring
// permissions and times is best effort.
func (a *Archive) extractEntry(ctx context.Context, e *Entry, dir string) error {
	target, err := safeJoin(dir, e.name)
	if err != nil {
		return err
	}

	if e.IsDir() {
		return os.MkdirAll(target, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}

	cr, err := openEntry(a.state.volumes, e, a.config.Passwords)
	if err != nil {
		return err
	}
	defer cr.Close()

	if e.mode&fs.ModeSymlink != 0 {
		return extractSymlink(cr, dir, target)
	}

	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, &contextReader{ctx: ctx, r: cr}); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	perm := e.mode.Perm()
	if perm == 0 {
		perm = 0644
	}
	os.Chmod(target, perm)
	os.Chtimes(target, time.Now(), e.modTime)
	return nil
}

// extractSymlink creates a link whose target must resolve inside dir.
func extractSymlink(r io.Reader, dir, target string) error {
	link, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return err
	}
	dest := filepath.FromSlash(string(link))
	resolved := filepath.Join(filepath.Dir(target), dest)
	if filepath.IsAbs(dest) || !within(dir, resolved) {
		return fmt.Errorf("%w: link %s points to %s", ErrInsecurePath, target, link)
	}
	os.Remove(target)
	return os.Symlink(dest, target)
}

// SetComment replaces the archive comment. Only the end record is
// rewritten. A new archive is created empty with the comment.
func (a *Archive) SetComment(comment string) error {
	raw, _, err := a.codec.encode(comment)
	if err != nil {
		return err
	}
	if len(raw) > 0xFFFF {
		return fmt.Errorf("%w: archive comment is %d bytes", ErrCapacityExceeded, len(raw))
	}
	if a.IsSplit() {
		return ErrSplitArchive
	}

	storage := a.config.Storage
	if a.state == nil {
		f, err := storage.Create(a.path)
		if err != nil {
			return storageErr("create", a.path, err)
		}
		fw := &fileWriter{f: f}
		if err := writeCentralDirectory(fw, nil, nil, raw); err != nil {
			f.Close()
			storage.Remove(a.path)
			return err
		}
		if err := f.Close(); err != nil {
			return storageErr("close", a.path, err)
		}
		return a.load()
	}

	f, err := storage.OpenFile(a.path)
	if err != nil {
		return storageErr("open", a.path, err)
	}
	defer f.Close()

	// The comment length is the last fixed field of the end record.
	tail := make([]byte, 2+len(raw))
	binary.LittleEndian.PutUint16(tail, uint16(len(raw)))
	copy(tail[2:], raw)

	lengthAt := a.state.endOffset + internal.EndOfCentralDirLen - 2
	if _, err := f.Seek(lengthAt, io.SeekStart); err != nil {
		return storageErr("seek", a.path, err)
	}
	if _, err := f.Write(tail); err != nil {
		return storageErr("write", a.path, err)
	}
	if err := f.Truncate(lengthAt + int64(len(tail))); err != nil {
		return storageErr("truncate", a.path, err)
	}

	a.log.Info("updated comment", "size", len(raw))
	a.state.comment = raw
	return nil
}

// Remove deletes entries by name. Naming a directory removes everything
// below it. All names must exist; otherwise nothing is changed. The
// archive is rewritten through a temporary file.
func (a *Archive) Remove(names ...string) error {
	if a.IsSplit() {
		return ErrSplitArchive
	}
	if len(names) == 0 {
		return nil
	}
	if a.state == nil {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, names[0])
	}

	removed := make(map[*Entry]bool)
	for _, name := range names {
		clean := strings.TrimPrefix(path.Clean(strings.ReplaceAll(name, `\`, "/")), "/")
		dirPrefix := clean + "/"

		matched := false
		for _, e := range a.Entries() {
			if e.name == clean || strings.HasPrefix(e.name, dirPrefix) {
				removed[e] = true
				matched = true
			}
		}
		if !matched {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, name)
		}
	}

	vs := a.state.volumes
	err := a.rewrite(a.path, func(w archiveWriter, e *Entry) (*internal.GeneralFileHeader, error) {
		if removed[e] {
			a.log.Debug("removed entry", "entry", e.name)
			return nil, nil
		}
		return copyEntry(w, vs, e.header)
	})
	if err != nil {
		return err
	}
	a.log.Info("removed entries", "count", len(removed))
	return a.load()
}

// ChangePassword re-encrypts every encrypted entry with newPwd, keeping
// each entry's method. The current password source must open them.
func (a *Archive) ChangePassword(newPwd string) error {
	if newPwd == "" {
		return ErrPasswordRequired
	}
	if a.IsSplit() {
		return ErrSplitArchive
	}
	if a.state == nil {
		a.SetPassword(newPwd)
		return nil
	}

	vs := a.state.volumes
	err := a.rewrite(a.path, func(w archiveWriter, e *Entry) (*internal.GeneralFileHeader, error) {
		if !e.IsEncrypted() {
			return copyEntry(w, vs, e.header)
		}
		oldPwd, err := passwordFor(a.config.Passwords, e.name)
		if err != nil {
			return nil, err
		}
		return a.reencryptEntry(w, vs, e, oldPwd, []byte(newPwd))
	})
	if err != nil {
		return err
	}

	a.log.Info("changed password")
	a.SetPassword(newPwd)
	return a.load()
}

// Merge writes the archive as a single file to dest. Offsets are
// recomputed, disk numbers reset and the split marker dropped. The archive
// itself is left as it is.
func (a *Archive) Merge(dest string) error {
	if a.state == nil {
		return fmt.Errorf("%w: %s does not exist", ErrEntryNotFound, a.path)
	}
	if slices.Contains(a.state.volumes.names, dest) {
		return fmt.Errorf("zip: merge destination %s is one of the volumes", dest)
	}

	vs := a.state.volumes
	err := a.rewrite(dest, func(w archiveWriter, e *Entry) (*internal.GeneralFileHeader, error) {
		return copyEntry(w, vs, e.header)
	})
	if err != nil {
		return err
	}
	a.log.Info("merged archive", "dest", dest, "volumes", vs.count())
	return nil
}

// rewrite builds a new single-file archive at dest from the current
// entries, through a temporary sibling file that replaces dest on success
// and is removed on failure. each returns nil to drop an entry.
func (a *Archive) rewrite(dest string, each func(w archiveWriter, e *Entry) (*internal.GeneralFileHeader, error)) (err error) {
	storage := a.config.Storage
	tmp := tempName(dest)

	f, err := storage.Create(tmp)
	if err != nil {
		return storageErr("create", tmp, err)
	}
	closed := false
	defer func() {
		if err != nil {
			if !closed {
				f.Close()
			}
			storage.Remove(tmp)
		}
	}()

	fw := &fileWriter{f: f}
	var headers []*internal.GeneralFileHeader
	for _, e := range a.state.entries {
		h, err := each(fw, e)
		if err != nil {
			return &EntryError{Op: "rewrite", Name: e.name, Err: err}
		}
		if h != nil {
			headers = append(headers, h)
		}
	}
	if err := writeCentralDirectory(fw, headers, a.state.signature, a.state.comment); err != nil {
		return err
	}

	closed = true
	if err := f.Close(); err != nil {
		return storageErr("close", tmp, err)
	}
	if dest == a.path {
		a.state.volumes.Close()
	}
	if err := storage.Rename(tmp, dest); err != nil {
		return storageErr("rename", tmp, err)
	}
	return nil
}
