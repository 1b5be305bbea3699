// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/schollz/progressbar/v3"

	"github.com/lemon4ksan/zipkit"
	"github.com/lemon4ksan/zipkit/s3store"
)

// openArchive opens path with the configured options, then extra. s3://
// paths are opened read-only through s3store.
func openArchive(ctx context.Context, path string, extra ...zipkit.Option) (*zipkit.Archive, error) {
	options, err := env.cfg.Options()
	if err != nil {
		return nil, err
	}
	options = append(options, zipkit.WithLogger(env.logger))
	if opts.Password != "" {
		method, err := env.cfg.EncryptionMethod()
		if err != nil {
			return nil, err
		}
		options = append(options, zipkit.WithEncryption(method), zipkit.WithPassword(opts.Password))
	}

	if bucket, key, ok := s3store.ParseURI(path); ok {
		store, err := newS3Storage(ctx, bucket)
		if err != nil {
			return nil, err
		}
		options = append(options, zipkit.WithStorage(store))
		path = key
	}

	return zipkit.Open(path, append(options, extra...)...)
}

func newS3Storage(ctx context.Context, bucket string) (*s3store.Storage, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if env.cfg.S3.Profile != "" {
		loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(env.cfg.S3.Profile))
	}
	if env.cfg.S3.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(env.cfg.S3.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load default config error: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(options *s3.Options) {
		options.DisableLogOutputChecksumValidationSkipped = true
	})
	return s3store.New(client, bucket, func(o *s3store.Options) {
		o.CtxFn = func() context.Context { return ctx }
		o.ExpectedBucketOwner = env.cfg.S3.ExpectedBucketOwner
	}), nil
}

// newProgressBar is progressbar.DefaultBytes with a slower refresh,
// writing to stderr. showBytes false counts entries instead.
func newProgressBar(max int64, description string, showBytes bool) *progressbar.ProgressBar {
	return progressbar.NewOptions64(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(showBytes),
		progressbar.OptionSetWidth(10),
		progressbar.OptionThrottle(1*time.Second),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true))
}
