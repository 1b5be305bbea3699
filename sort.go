// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"cmp"
	"slices"
)

// SortStrategy defines the order in which a multi-entry add writes its
// entries. Writing large entries last keeps the offsets of small ones
// below the Zip64 limit.
type SortStrategy int

const (
	SortDefault        SortStrategy = iota // insertion order
	SortLargeFilesLast                     // entries of 4GB or more at the end
	SortSizeAscending                      // smallest first
	SortZip64Optimized                     // buckets <10MB, <4GB, >=4GB, each ascending
	SortAlphabetical                       // A-Z by name
)

// sortSources returns a sorted copy of sources. Sorts are stable.
func sortSources(sources []*source, strategy SortStrategy) []*source {
	sorted := slices.Clone(sources)

	switch strategy {
	case SortLargeFilesLast:
		slices.SortStableFunc(sorted, func(a, b *source) int {
			return cmp.Compare(boolRank(isLarge(a.size)), boolRank(isLarge(b.size)))
		})
	case SortSizeAscending:
		slices.SortStableFunc(sorted, func(a, b *source) int { return cmp.Compare(a.size, b.size) })
	case SortZip64Optimized:
		slices.SortStableFunc(sorted, func(a, b *source) int {
			if c := cmp.Compare(sizePriority(a.size), sizePriority(b.size)); c != 0 {
				return c
			}
			return cmp.Compare(a.size, b.size)
		})
	case SortAlphabetical:
		slices.SortStableFunc(sorted, func(a, b *source) int { return cmp.Compare(a.name, b.name) })
	}
	return sorted
}

// isLarge reports whether size needs Zip64. Unknown sizes count as large.
func isLarge(size int64) bool { return size < 0 || size >= 1<<32 }

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sizePriority(size int64) int {
	switch {
	case size < 0:
		return 2
	case size < 10<<20:
		return 0
	case size < 1<<32:
		return 1
	}
	return 2
}
