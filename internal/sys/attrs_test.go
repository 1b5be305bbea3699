// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sys

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileMode(t *testing.T) {
	tests := []struct {
		name  string
		host  HostSystem
		attrs uint32
		isDir bool
		want  fs.FileMode
	}{
		{"unix regular", HostSystemUNIX, uint32(S_IFREG|0644) << 16, false, 0644},
		{"unix directory", HostSystemUNIX, uint32(S_IFDIR|0755) << 16, true, 0755 | fs.ModeDir},
		{"unix symlink", HostSystemDarwin, uint32(S_IFLNK|0777) << 16, false, 0777 | fs.ModeSymlink},
		{"unix without mode", HostSystemUNIX, 0, false, 0644},
		{"dos read only", HostSystemFAT, DOSReadOnly, false, 0444},
		{"dos directory bit", HostSystemFAT, DOSDirectory, false, 0755 | fs.ModeDir},
		{"unknown host trailing slash", HostSystemAmiga, 0, true, 0755 | fs.ModeDir},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FileMode(tt.host, tt.attrs, tt.isDir))
		})
	}
}

func TestExternalAttrs_RoundTrip(t *testing.T) {
	modes := []fs.FileMode{0644, 0600, 0755 | fs.ModeDir, 0777 | fs.ModeSymlink}
	for _, mode := range modes {
		attrs := ExternalAttrs(HostSystemUNIX, mode)
		assert.Equal(t, mode, FileMode(HostSystemUNIX, attrs, mode.IsDir()), "mode %v", mode)
	}
}

func TestExternalAttrs_DOS(t *testing.T) {
	assert.Equal(t, uint32(DOSArchive), ExternalAttrs(HostSystemFAT, 0644))
	assert.Equal(t, uint32(DOSArchive|DOSReadOnly), ExternalAttrs(HostSystemFAT, 0444))
	assert.Equal(t, uint32(DOSDirectory), ExternalAttrs(HostSystemFAT, 0755|fs.ModeDir))
}

func TestHostSystem_String(t *testing.T) {
	assert.Equal(t, "UNIX", HostSystemUNIX.String())
	assert.Equal(t, "Unknown", HostSystem(200).String())
}
