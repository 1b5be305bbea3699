// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the zipkit command line configuration.
//
// Configuration is read from a single YAML file named by:
//   - the --config flag, or
//   - the ZIPKIT_CONFIG environment variable.
//
// Without either, Default is used. Command line flags override file values.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/lemon4ksan/zipkit"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "ZIPKIT_CONFIG"

// Config is the command line configuration.
type Config struct {
	// Compression configures new entries.
	Compression CompressionConfig `yaml:"compression"`

	// Encryption configures new entries. The password itself is never read
	// from the file.
	Encryption EncryptionConfig `yaml:"encryption"`

	// Split configures new split archives.
	Split SplitConfig `yaml:"split"`

	// Encoding is the IANA name of the charset used for entry names without
	// the UTF-8 flag. Empty means CP437 on read and UTF-8 on write.
	Encoding string `yaml:"encoding"`

	// Sort orders multi-file adds: default, large-last, size, zip64 or name.
	Sort string `yaml:"sort"`

	// EndRecordProbes bounds the backward scan for the end record.
	EndRecordProbes int `yaml:"end_record_probes"`

	// MemoryThreshold is the largest payload kept in memory while encoding,
	// in human units such as "8MiB".
	MemoryThreshold string `yaml:"memory_threshold"`

	// S3 configures s3:// archive paths.
	S3 S3Config `yaml:"s3"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
}

// CompressionConfig configures compression of new entries.
type CompressionConfig struct {
	// Method is store or deflate.
	// Default: deflate
	Method string `yaml:"method"`

	// Level is the deflate level, 1-9.
	// Default: 6
	Level int `yaml:"level"`
}

// EncryptionConfig configures encryption of new entries.
type EncryptionConfig struct {
	// Method is none, zipcrypto, aes128, aes192 or aes256. It only applies
	// when a password is given.
	// Default: aes256
	Method string `yaml:"method"`

	// Verify selects the ZipCrypto check byte: crc or time.
	// Default: crc
	Verify string `yaml:"verify"`
}

// SplitConfig configures split output.
type SplitConfig struct {
	// Scheme is none, legacy or numeric.
	Scheme string `yaml:"scheme"`

	// Size is the volume size in human units such as "100MB".
	Size string `yaml:"size"`
}

// S3Config configures the S3 storage backend.
type S3Config struct {
	// Region overrides the region from the shared AWS config.
	Region string `yaml:"region"`

	// Profile selects a shared config profile.
	Profile string `yaml:"profile"`

	// ExpectedBucketOwner is sent with every request when set.
	ExpectedBucketOwner string `yaml:"expected_bucket_owner"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Compression: CompressionConfig{
			Method: zipkit.Deflated.String(),
			Level:  zipkit.DeflateNormal,
		},
		Encryption: EncryptionConfig{
			Method: zipkit.AES256.String(),
			Verify: "crc",
		},
		Split: SplitConfig{
			Scheme: zipkit.SplitNone.String(),
		},
		Sort:            "default",
		EndRecordProbes: 3000,
		MemoryThreshold: "8MiB",
		LogLevel:        "warn",
	}
}

// Load loads the file named by path, or by ZIPKIT_CONFIG when path is
// empty. With neither set it returns Default.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path. Fields missing
// from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

var sortStrategies = map[string]zipkit.SortStrategy{
	"default":    zipkit.SortDefault,
	"large-last": zipkit.SortLargeFilesLast,
	"size":       zipkit.SortSizeAscending,
	"zip64":      zipkit.SortZip64Optimized,
	"name":       zipkit.SortAlphabetical,
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if _, err := zipkit.ParseCompressionMethod(c.Compression.Method); err != nil {
		errs = append(errs, fmt.Errorf("compression.method: %w", err))
	}
	if c.Compression.Level < 1 || c.Compression.Level > 9 {
		errs = append(errs, fmt.Errorf("compression.level must be between 1 and 9, got %d", c.Compression.Level))
	}
	if _, err := zipkit.ParseEncryptionMethod(c.Encryption.Method); err != nil {
		errs = append(errs, fmt.Errorf("encryption.method: %w", err))
	}
	if c.Encryption.Verify != "crc" && c.Encryption.Verify != "time" {
		errs = append(errs, fmt.Errorf("encryption.verify must be crc or time, got %q", c.Encryption.Verify))
	}
	if _, err := zipkit.ParseSplitScheme(c.Split.Scheme); err != nil {
		errs = append(errs, fmt.Errorf("split.scheme: %w", err))
	}
	if c.Split.Size != "" {
		if _, err := humanize.ParseBytes(c.Split.Size); err != nil {
			errs = append(errs, fmt.Errorf("split.size: %w", err))
		}
	}
	if _, err := zipkit.LookupEncoding(c.Encoding); err != nil {
		errs = append(errs, fmt.Errorf("encoding: %w", err))
	}
	if _, ok := sortStrategies[c.Sort]; !ok {
		errs = append(errs, fmt.Errorf("sort: unknown strategy %q", c.Sort))
	}
	if c.EndRecordProbes <= 0 {
		errs = append(errs, fmt.Errorf("end_record_probes must be positive"))
	}
	if _, err := humanize.ParseBytes(c.MemoryThreshold); err != nil {
		errs = append(errs, fmt.Errorf("memory_threshold: %w", err))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Level returns the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelWarn, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// SplitSize returns the volume size in bytes, or 0 when unset.
func (c *Config) SplitSize() (int64, error) {
	if strings.TrimSpace(c.Split.Size) == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.Split.Size)
	if err != nil {
		return 0, fmt.Errorf("split size %q: %w", c.Split.Size, err)
	}
	return int64(n), nil
}

// Options converts the configuration into archive options. Validate must
// have succeeded.
func (c *Config) Options() ([]zipkit.Option, error) {
	method, err := zipkit.ParseCompressionMethod(c.Compression.Method)
	if err != nil {
		return nil, err
	}
	enc, err := zipkit.LookupEncoding(c.Encoding)
	if err != nil {
		return nil, err
	}
	threshold, err := humanize.ParseBytes(c.MemoryThreshold)
	if err != nil {
		return nil, err
	}

	verify := zipkit.VerifyCRC
	if c.Encryption.Verify == "time" {
		verify = zipkit.VerifyModTime
	}

	return []zipkit.Option{
		zipkit.WithCompression(method, c.Compression.Level),
		zipkit.WithZipCryptoVerify(verify),
		zipkit.WithEncoding(enc),
		zipkit.WithEndRecordProbes(c.EndRecordProbes),
		zipkit.WithMemoryThreshold(int64(threshold)),
		zipkit.WithSortStrategy(sortStrategies[c.Sort]),
	}, nil
}

// EncryptionMethod returns the method applied when a password is given.
func (c *Config) EncryptionMethod() (zipkit.EncryptionMethod, error) {
	return zipkit.ParseEncryptionMethod(c.Encryption.Method)
}
