// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package s3store reads archives stored as objects in an Amazon S3 bucket.
//
// Object keys stand in for file paths, so split volumes are found next to
// the main object exactly as on a local disk. The store is read-only:
// Create, OpenFile, Remove and Rename return errors.ErrUnsupported.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/lemon4ksan/zipkit"
)

// Client abstracts the S3 APIs the store needs.
type Client interface {
	GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListObjectsV2(context.Context, *s3.ListObjectsV2Input, ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Options customises New.
type Options struct {
	// CtxFn returns a context.Context to be used with every S3 call.
	//
	// By default, context.Background is used.
	CtxFn func() context.Context

	// ExpectedBucketOwner is added to every request when not empty.
	ExpectedBucketOwner string

	// BlockSize is the minimum number of bytes fetched by one ranged
	// GetObject. Archive headers are small and read one at a time, so each
	// fetch reads ahead.
	//
	// By default, 64KiB is used.
	BlockSize int64
}

const defaultBlockSize = 64 * 1024

// Storage is a read-only zipkit.Storage over one bucket. Names are object keys.
type Storage struct {
	client Client
	bucket string
	opts   Options
}

var _ zipkit.Storage = (*Storage)(nil)

// New returns a Storage reading objects from bucket.
func New(client Client, bucket string, optFns ...func(*Options)) *Storage {
	opts := Options{
		CtxFn:     context.Background,
		BlockSize: defaultBlockSize,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = defaultBlockSize
	}
	return &Storage{client: client, bucket: bucket, opts: opts}
}

// ParseURI splits an s3://bucket/key URI. ok is false for anything else.
func ParseURI(uri string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(uri, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

func (s *Storage) owner() *string {
	if s.opts.ExpectedBucketOwner == "" {
		return nil
	}
	return aws.String(s.opts.ExpectedBucketOwner)
}

// Stat returns the object's size and modification time. A missing object
// is reported as fs.ErrNotExist.
func (s *Storage) Stat(name string) (fs.FileInfo, error) {
	out, err := s.client.HeadObject(s.opts.CtxFn(), &s3.HeadObjectInput{
		Bucket:              aws.String(s.bucket),
		Key:                 aws.String(name),
		ExpectedBucketOwner: s.owner(),
	})
	if err != nil {
		return nil, s.wrap("stat", name, err)
	}
	return objectInfo{
		name:    path.Base(name),
		size:    aws.ToInt64(out.ContentLength),
		modTime: aws.ToTime(out.LastModified),
	}, nil
}

// Open returns a handle reading the object with ranged GetObject calls.
func (s *Storage) Open(name string) (zipkit.RandomAccessFile, error) {
	info, err := s.Stat(name)
	if err != nil {
		return nil, err
	}
	return &object{s: s, key: name, size: info.Size()}, nil
}

// Glob lists the keys matching pattern in path.Match syntax. Only the
// literal prefix of the pattern is sent to S3.
func (s *Storage) Glob(pattern string) ([]string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, err
	}

	prefix := pattern
	if i := strings.IndexAny(pattern, `*?[\`); i >= 0 {
		prefix = pattern[:i]
	}

	var matches []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:              aws.String(s.bucket),
		Prefix:              aws.String(prefix),
		ExpectedBucketOwner: s.owner(),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(s.opts.CtxFn())
		if err != nil {
			return nil, s.wrap("list", prefix, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if ok, _ := path.Match(pattern, key); ok {
				matches = append(matches, key)
			}
		}
	}
	return matches, nil
}

func (s *Storage) OpenFile(name string) (zipkit.RandomAccessFile, error) {
	return nil, s.readOnly("open", name)
}

func (s *Storage) Create(name string) (zipkit.RandomAccessFile, error) {
	return nil, s.readOnly("create", name)
}

func (s *Storage) Remove(name string) error { return s.readOnly("remove", name) }

func (s *Storage) Rename(oldpath, _ string) error { return s.readOnly("rename", oldpath) }

func (s *Storage) readOnly(op, name string) error {
	return &fs.PathError{Op: op, Path: s.uri(name), Err: errors.ErrUnsupported}
}

func (s *Storage) uri(key string) string { return "s3://" + s.bucket + "/" + key }

// wrap maps S3 not-found responses to fs.ErrNotExist.
func (s *Storage) wrap(op, name string, err error) error {
	var (
		nf *types.NotFound
		nk *types.NoSuchKey
		re *awshttp.ResponseError
	)
	if errors.As(err, &nf) || errors.As(err, &nk) || (errors.As(err, &re) && re.HTTPStatusCode() == 404) {
		err = fmt.Errorf("%w: %w", fs.ErrNotExist, err)
	}
	return &fs.PathError{Op: op, Path: s.uri(name), Err: err}
}

// object is an open S3 object. The last fetched block is kept so that
// consecutive header reads share a request.
type object struct {
	s    *Storage
	key  string
	size int64
	off  int64

	blockStart int64
	block      []byte
}

var _ zipkit.RandomAccessFile = (*object)(nil)

func (o *object) Size() (int64, error) { return o.size, nil }

func (o *object) Read(p []byte) (int, error) {
	n, err := o.ReadAt(p, o.off)
	o.off += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (o *object) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += o.off
	case io.SeekEnd:
		offset += o.size
	default:
		return 0, fmt.Errorf("s3store: invalid whence %d", whence)
	}
	if offset < 0 {
		return 0, fmt.Errorf("s3store: negative position %d", offset)
	}
	o.off = offset
	return offset, nil
}

func (o *object) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("s3store: negative offset %d", off)
	}
	if off >= o.size {
		return 0, io.EOF
	}

	n := 0
	for n < len(p) && off+int64(n) < o.size {
		pos := off + int64(n)
		if pos < o.blockStart || pos >= o.blockStart+int64(len(o.block)) {
			want := max(int64(len(p)-n), o.s.opts.BlockSize)
			if err := o.fetch(pos, min(want, o.size-pos)); err != nil {
				return n, err
			}
		}
		n += copy(p[n:], o.block[pos-o.blockStart:])
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// fetch replaces the cached block with length bytes starting at start.
func (o *object) fetch(start, length int64) error {
	out, err := o.s.client.GetObject(o.s.opts.CtxFn(), &s3.GetObjectInput{
		Bucket:              aws.String(o.s.bucket),
		Key:                 aws.String(o.key),
		Range:               aws.String(fmt.Sprintf("bytes=%d-%d", start, start+length-1)),
		ExpectedBucketOwner: o.s.owner(),
	})
	if err != nil {
		return o.s.wrap("read", o.key, err)
	}
	defer out.Body.Close()

	block := make([]byte, length)
	if _, err := io.ReadFull(out.Body, block); err != nil {
		return o.s.wrap("read", o.key, err)
	}
	o.blockStart, o.block = start, block
	return nil
}

func (o *object) Write([]byte) (int, error) { return 0, o.s.readOnly("write", o.key) }

func (o *object) Truncate(int64) error { return o.s.readOnly("truncate", o.key) }

func (o *object) Close() error {
	o.block = nil
	return nil
}

type objectInfo struct {
	name    string
	size    int64
	modTime time.Time
}

func (i objectInfo) Name() string       { return i.name }
func (i objectInfo) Size() int64        { return i.size }
func (i objectInfo) Mode() fs.FileMode  { return 0444 }
func (i objectInfo) ModTime() time.Time { return i.modTime }
func (i objectInfo) IsDir() bool        { return false }
func (i objectInfo) Sys() any           { return nil }
