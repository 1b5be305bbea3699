// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemon4ksan/zipkit"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zipkit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "deflate", cfg.Compression.Method)
	assert.Equal(t, 6, cfg.Compression.Level)
	assert.Equal(t, "aes256", cfg.Encryption.Method)
	assert.Equal(t, "none", cfg.Split.Scheme)

	size, err := cfg.SplitSize()
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestLoad_WithoutFile(t *testing.T) {
	t.Setenv(EnvVar, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_FromEnvironment(t *testing.T) {
	path := writeConfig(t, `
compression:
  method: store
split:
  scheme: numeric
  size: 100MB
log_level: debug
`)
	t.Setenv(EnvVar, path)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "store", cfg.Compression.Method)
	assert.Equal(t, 6, cfg.Compression.Level, "unset fields keep defaults")
	assert.Equal(t, "numeric", cfg.Split.Scheme)

	size, err := cfg.SplitSize()
	require.NoError(t, err)
	assert.Equal(t, int64(100_000_000), size)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestLoad_ExplicitPathWins(t *testing.T) {
	t.Setenv(EnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	path := writeConfig(t, "sort: name\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "name", cfg.Sort)
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "compression: [\n"},
		{"unknown method", "compression:\n  method: lzma\n"},
		{"level out of range", "compression:\n  level: 12\n"},
		{"unknown encryption", "encryption:\n  method: des\n"},
		{"bad verify", "encryption:\n  verify: never\n"},
		{"unknown scheme", "split:\n  scheme: rar\n"},
		{"bad size", "split:\n  size: lots\n"},
		{"unknown encoding", "encoding: klingon\n"},
		{"unknown sort", "sort: random\n"},
		{"bad log level", "log_level: loud\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOptions(t *testing.T) {
	cfg := Default()
	cfg.Compression.Method = "store"
	cfg.Encoding = "cp866"

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Len(t, opts, 6)

	method, err := cfg.EncryptionMethod()
	require.NoError(t, err)
	assert.Equal(t, zipkit.AES256, method)
}
