// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lemon4ksan/zipkit"
)

// testClient serves objects from memory. calls records the Range of every
// GetObject for asserting.
type testClient struct {
	objects map[string][]byte

	mu    sync.Mutex
	calls []string
}

func (c *testClient) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := c.objects[aws.ToString(input.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}

	rangeBytes := aws.ToString(input.Range)
	c.mu.Lock()
	c.calls = append(c.calls, rangeBytes)
	c.mu.Unlock()

	if rangeBytes == "" {
		return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
	}

	start, end, _ := strings.Cut(strings.TrimPrefix(rangeBytes, "bytes="), "-")
	i, err := strconv.ParseInt(start, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid start byte in range `%s`: %w", rangeBytes, err)
	}
	j, err := strconv.ParseInt(end, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid end byte in range `%s`: %w", rangeBytes, err)
	}
	j = min(j, int64(len(data))-1)
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data[i : j+1]))}, nil
}

func (c *testClient) HeadObject(_ context.Context, input *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := c.objects[aws.ToString(input.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(data))),
		LastModified:  aws.Time(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)),
	}, nil
}

func (c *testClient) ListObjectsV2(_ context.Context, input *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for key := range c.objects {
		if strings.HasPrefix(key, aws.ToString(input.Prefix)) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	for _, key := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
	}
	return out, nil
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri         string
		bucket, key string
		ok          bool
	}{
		{"s3://bucket/path/to/a.zip", "bucket", "path/to/a.zip", true},
		{"s3://bucket/", "", "", false},
		{"s3://bucket", "", "", false},
		{"/local/a.zip", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, ok := ParseURI(tt.uri)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestStat(t *testing.T) {
	store := New(&testClient{objects: map[string][]byte{"dir/a.zip": make([]byte, 42)}}, "bucket")

	info, err := store.Stat("dir/a.zip")
	require.NoError(t, err)
	assert.Equal(t, "a.zip", info.Name())
	assert.Equal(t, int64(42), info.Size())

	_, err = store.Stat("dir/missing.zip")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestReadAt(t *testing.T) {
	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i)
	}
	client := &testClient{objects: map[string][]byte{"obj": data}}
	store := New(client, "bucket", func(o *Options) { o.BlockSize = 100 })

	f, err := store.Open("obj")
	require.NoError(t, err)
	defer f.Close()

	buf := make([]byte, 10)
	n, err := f.ReadAt(buf, 5)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, data[5:15], buf)

	// Served from the cached block.
	_, err = f.ReadAt(buf, 50)
	require.NoError(t, err)
	assert.Equal(t, data[50:60], buf)
	assert.Equal(t, []string{"bytes=5-104"}, client.calls)

	// Spans the cached block and a new one.
	buf = make([]byte, 20)
	_, err = f.ReadAt(buf, 95)
	require.NoError(t, err)
	assert.Equal(t, data[95:115], buf)

	n, err = f.ReadAt(buf, 990)
	assert.Equal(t, 10, n)
	assert.ErrorIs(t, err, io.EOF)

	_, err = f.ReadAt(buf, 1000)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadSeek(t *testing.T) {
	store := New(&testClient{objects: map[string][]byte{"obj": []byte("hello, world")}}, "bucket")
	f, err := store.Open("obj")
	require.NoError(t, err)

	_, err = f.Seek(-5, io.SeekEnd)
	require.NoError(t, err)
	rest, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "world", string(rest))
}

func TestReadOnly(t *testing.T) {
	store := New(&testClient{objects: map[string][]byte{"obj": {1}}}, "bucket")

	_, err := store.Create("new.zip")
	assert.ErrorIs(t, err, errors.ErrUnsupported)
	_, err = store.OpenFile("obj")
	assert.ErrorIs(t, err, errors.ErrUnsupported)
	assert.ErrorIs(t, store.Remove("obj"), errors.ErrUnsupported)
	assert.ErrorIs(t, store.Rename("obj", "other"), errors.ErrUnsupported)

	f, err := store.Open("obj")
	require.NoError(t, err)
	_, err = f.Write([]byte{2})
	assert.ErrorIs(t, err, errors.ErrUnsupported)
	assert.ErrorIs(t, f.Truncate(0), errors.ErrUnsupported)
}

func TestGlob(t *testing.T) {
	store := New(&testClient{objects: map[string][]byte{
		"backups/a.001": nil,
		"backups/a.002": nil,
		"backups/b.001": nil,
		"other/a.001":   nil,
	}}, "bucket")

	matches, err := store.Glob("backups/a.[0-9][0-9][0-9]")
	require.NoError(t, err)
	assert.Equal(t, []string{"backups/a.001", "backups/a.002"}, matches)

	_, err = store.Glob("[")
	assert.Error(t, err)
}

// uploadDir loads every file of dir into a bucket under prefix.
func uploadDir(t *testing.T, dir, prefix string) map[string][]byte {
	t.Helper()
	objects := make(map[string][]byte)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		objects[prefix+e.Name()] = data
	}
	return objects
}

func TestArchive(t *testing.T) {
	payload := bytes.Repeat([]byte("zipkit over s3 "), 500)

	tests := []struct {
		name   string
		split  zipkit.SplitScheme
		remote string
	}{
		{"single", zipkit.SplitNone, "archives/out.zip"},
		{"numeric", zipkit.SplitNumeric, "archives/out.zip.001"},
		{"legacy", zipkit.SplitLegacy, "archives/out.zip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			opts := []zipkit.Option{zipkit.WithPassword("secret")}
			if tt.split != zipkit.SplitNone {
				opts = append(opts, zipkit.WithSplit(tt.split, zipkit.MinSplitSize))
			}

			// Split archives are written by a single add.
			src := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(src, "data.txt"), payload, 0644))
			require.NoError(t, os.Mkdir(filepath.Join(src, "docs"), 0755))
			require.NoError(t, os.WriteFile(filepath.Join(src, "docs", "small.txt"), []byte("small"), 0644))

			local, err := zipkit.Open(filepath.Join(dir, "out.zip"), opts...)
			require.NoError(t, err)
			err = local.AddFiles([]string{filepath.Join(src, "data.txt"), filepath.Join(src, "docs")},
				zipkit.WithEntryCompression(zipkit.Stored, 0))
			require.NoError(t, err)
			require.NoError(t, local.Close())

			store := New(&testClient{objects: uploadDir(t, dir, "archives/")}, "bucket")
			remote, err := zipkit.Open(tt.remote, zipkit.WithStorage(store), zipkit.WithPassword("secret"))
			require.NoError(t, err)
			defer remote.Close()

			assert.Equal(t, tt.split != zipkit.SplitNone, remote.IsSplit())
			assert.True(t, remote.Exists("docs/"))

			rc, err := remote.OpenEntry("data.txt")
			require.NoError(t, err)
			got, err := io.ReadAll(rc)
			require.NoError(t, err)
			require.NoError(t, rc.Close())
			assert.Equal(t, payload, got)

			wantErr := errors.ErrUnsupported
			if remote.IsSplit() {
				wantErr = zipkit.ErrSplitArchive
			}
			assert.ErrorIs(t, remote.AddString("x", "x.txt"), wantErr)
		})
	}
}
