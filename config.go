// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"time"

	"golang.org/x/text/encoding"

	"github.com/lemon4ksan/zipkit/internal"
)

// DefaultMemoryThreshold is the payload size above which encoded entries
// are spooled to a temporary file.
const DefaultMemoryThreshold = 8 << 20

// Config defines archive-wide parameters. Settings that describe entries
// are defaults; AddOption values override them per entry.
type Config struct {
	// CompressionMethod is the default algorithm for new entries.
	CompressionMethod CompressionMethod

	// CompressionLevel controls the speed vs size trade-off (1-9).
	CompressionLevel int

	// EncryptionMethod is the default encryption for new entries.
	EncryptionMethod EncryptionMethod

	// ZipCryptoVerify selects the ZipCrypto check byte written on new entries.
	ZipCryptoVerify ZipCryptoVerify

	// Passwords supplies key material for encrypted entries.
	Passwords PasswordSource

	// Encoding handles names of entries without the UTF-8 flag. When nil,
	// names are written as UTF-8 and legacy names are read as CP437.
	Encoding encoding.Encoding

	// SplitScheme and SplitSize make the first add to a new archive write
	// volumes of at most SplitSize bytes.
	SplitScheme SplitScheme
	SplitSize   int64

	// EndRecordProbes bounds the backward scan for the end record.
	EndRecordProbes int

	// MemoryThreshold is the largest payload kept in memory while encoding.
	MemoryThreshold int64

	// SortStrategy orders entries of multi-entry adds.
	SortStrategy SortStrategy

	// Storage is the file system the archive lives on.
	Storage Storage

	Logger *slog.Logger

	// OnEntryProcessed is called after each entry is added or extracted.
	OnEntryProcessed func(name string, err error)
}

func defaultConfig() Config {
	return Config{
		CompressionMethod: Deflated,
		CompressionLevel:  DeflateNormal,
		EndRecordProbes:   internal.DefaultEndRecordProbes,
		MemoryThreshold:   DefaultMemoryThreshold,
		Storage:           OSStorage{},
		Logger:            slog.New(slog.DiscardHandler),
	}
}

// Option configures an Archive.
type Option func(c *Config)

// WithConfig replaces the whole configuration. Zero fields take defaults.
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		def := defaultConfig()
		*c = cfg
		if c.EndRecordProbes <= 0 {
			c.EndRecordProbes = def.EndRecordProbes
		}
		if c.MemoryThreshold <= 0 {
			c.MemoryThreshold = def.MemoryThreshold
		}
		if c.Storage == nil {
			c.Storage = def.Storage
		}
		if c.Logger == nil {
			c.Logger = def.Logger
		}
	}
}

// WithCompression sets the default compression method and level.
func WithCompression(method CompressionMethod, level int) Option {
	return func(c *Config) {
		c.CompressionMethod = method
		c.CompressionLevel = level
	}
}

// WithEncryption sets the default encryption method for new entries.
func WithEncryption(method EncryptionMethod) Option {
	return func(c *Config) { c.EncryptionMethod = method }
}

// WithZipCryptoVerify selects the check byte of new ZipCrypto entries.
func WithZipCryptoVerify(v ZipCryptoVerify) Option {
	return func(c *Config) { c.ZipCryptoVerify = v }
}

// WithPassword uses pwd for every encrypted entry. If no encryption
// method is set, it defaults to AES256.
func WithPassword(pwd string) Option {
	return func(c *Config) {
		c.Passwords = StaticPassword(pwd)
		if c.EncryptionMethod == NotEncrypted {
			c.EncryptionMethod = AES256
		}
	}
}

// WithPasswordSource sets the password source.
func WithPasswordSource(src PasswordSource) Option {
	return func(c *Config) { c.Passwords = src }
}

// WithEncoding sets the encoding for names without the UTF-8 flag.
func WithEncoding(enc encoding.Encoding) Option {
	return func(c *Config) { c.Encoding = enc }
}

// WithSplit makes the first add to a new archive produce a split archive.
func WithSplit(scheme SplitScheme, size int64) Option {
	return func(c *Config) {
		c.SplitScheme = scheme
		c.SplitSize = size
	}
}

// WithEndRecordProbes widens or narrows the end record scan.
func WithEndRecordProbes(n int) Option {
	return func(c *Config) { c.EndRecordProbes = n }
}

// WithMemoryThreshold sets the in-memory payload limit.
func WithMemoryThreshold(n int64) Option {
	return func(c *Config) { c.MemoryThreshold = n }
}

// WithSortStrategy sets the entry order of multi-entry adds.
func WithSortStrategy(s SortStrategy) Option {
	return func(c *Config) { c.SortStrategy = s }
}

// WithStorage sets the storage backend.
func WithStorage(s Storage) Option {
	return func(c *Config) { c.Storage = s }
}

// WithLogger sets the logger. Operations log at Debug, rewrites at Info.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithProgress sets the OnEntryProcessed callback.
func WithProgress(fn func(name string, err error)) Option {
	return func(c *Config) { c.OnEntryProcessed = fn }
}

// AddOption is a functional option for configuring entries during addition.
type AddOption func(s *source)

// WithName overrides the entry name. The name is normalized to use
// forward slashes.
func WithName(name string) AddOption {
	return func(s *source) {
		if name != "" {
			s.name = name
		}
	}
}

// WithPath prepends a directory path to the entry name.
func WithPath(p string) AddOption {
	return func(s *source) {
		if p != "" && p != "." {
			s.name = path.Join(filepath.ToSlash(p), s.name)
		}
	}
}

// WithRoot names entries added from disk relative to root instead of by
// their base name.
func WithRoot(root string) AddOption {
	return func(s *source) {
		if root == "" || s.diskPath == "" {
			return
		}
		if rel, err := filepath.Rel(root, s.diskPath); err == nil {
			s.name = filepath.ToSlash(rel)
			if s.isDir {
				s.name += "/"
			}
		}
	}
}

// WithMode sets the permission bits recorded for the entry.
func WithMode(mode fs.FileMode) AddOption {
	return func(s *source) {
		s.mode = s.mode&fs.ModeType | mode.Perm()
	}
}

// WithModTime sets the modification time recorded for the entry.
func WithModTime(t time.Time) AddOption {
	return func(s *source) { s.modTime = t }
}

// WithEntryComment sets the entry comment (max 65535 bytes).
func WithEntryComment(comment string) AddOption {
	return func(s *source) { s.comment = comment }
}

// WithEntryCompression overrides the compression of one entry. Ignored for
// directories.
func WithEntryCompression(method CompressionMethod, level int) AddOption {
	return func(s *source) {
		if !s.isDir {
			s.method = method
			s.level = level
		}
	}
}

// WithEntryEncryption overrides the encryption of one entry. Ignored for
// directories.
func WithEntryEncryption(method EncryptionMethod, pwd string) AddOption {
	return func(s *source) {
		if !s.isDir {
			s.encryption = method
			if pwd != "" {
				s.passwords = StaticPassword(pwd)
			}
		}
	}
}
