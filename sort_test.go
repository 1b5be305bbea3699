// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zipkit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortSources(t *testing.T) {
	const (
		mb = int64(1 << 20)
		gb = int64(1 << 30)
	)
	sources := []*source{
		{name: "huge", size: 5 * gb},
		{name: "b-small", size: 10},
		{name: "unknown", size: SizeUnknown},
		{name: "medium", size: 100 * mb},
		{name: "a-small", size: 10},
		{name: "tiny", size: 1},
	}

	tests := []struct {
		strategy SortStrategy
		want     []string
	}{
		{SortDefault, []string{"huge", "b-small", "unknown", "medium", "a-small", "tiny"}},
		{SortLargeFilesLast, []string{"b-small", "medium", "a-small", "tiny", "huge", "unknown"}},
		{SortSizeAscending, []string{"unknown", "tiny", "b-small", "a-small", "medium", "huge"}},
		{SortZip64Optimized, []string{"tiny", "b-small", "a-small", "medium", "unknown", "huge"}},
		{SortAlphabetical, []string{"a-small", "b-small", "huge", "medium", "tiny", "unknown"}},
	}

	for _, tt := range tests {
		sorted := sortSources(sources, tt.strategy)

		var names []string
		for _, s := range sorted {
			names = append(names, s.name)
		}
		assert.Equal(t, tt.want, names, "strategy %d", tt.strategy)
	}

	assert.Equal(t, "huge", sources[0].name, "input must not be reordered")
}
