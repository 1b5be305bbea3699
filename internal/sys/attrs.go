// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sys

import "io/fs"

// ExternalAttrs encodes mode for the given host system.
func ExternalAttrs(host HostSystem, mode fs.FileMode) uint32 {
	switch {
	case host.IsUnix():
		unixMode := uint32(mode.Perm())
		switch {
		case mode.IsDir():
			unixMode |= S_IFDIR
		case mode&fs.ModeSymlink != 0:
			unixMode |= S_IFLNK
		default:
			unixMode |= S_IFREG
		}
		attrs := unixMode << 16
		// DOS bits too, for readers that only look at the low byte.
		if mode.IsDir() {
			attrs |= DOSDirectory
		}
		return attrs

	case host.IsDOS():
		var attrs uint32 = DOSArchive
		if mode.IsDir() {
			attrs = DOSDirectory
		}
		if mode&0200 == 0 {
			attrs |= DOSReadOnly
		}
		return attrs
	}
	return 0
}

// FileMode decodes external attributes written by host. isDir reports
// whether the entry name ends with a slash.
func FileMode(host HostSystem, attrs uint32, isDir bool) fs.FileMode {
	if host.IsUnix() && attrs>>16 != 0 {
		unixMode := attrs >> 16
		mode := fs.FileMode(unixMode & 0777)

		switch unixMode & S_IFMT {
		case S_IFDIR:
			mode |= fs.ModeDir
		case S_IFLNK:
			mode |= fs.ModeSymlink
		case S_IFSOCK:
			mode |= fs.ModeSocket
		case S_IFIFO:
			mode |= fs.ModeNamedPipe
		case S_IFCHR:
			mode |= fs.ModeDevice | fs.ModeCharDevice
		case S_IFBLK:
			mode |= fs.ModeDevice
		}
		if isDir {
			mode |= fs.ModeDir
		}
		return mode
	}

	var mode fs.FileMode = 0644
	if isDir || attrs&DOSDirectory != 0 {
		mode = 0755 | fs.ModeDir
	}
	if attrs&DOSReadOnly != 0 {
		mode &^= 0222
	}
	return mode
}
