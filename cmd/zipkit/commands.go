// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"

	"github.com/lemon4ksan/zipkit"
)

func noExtraArgs(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}
	return nil
}

type listCommand struct {
	Long bool `short:"l" long:"long" description:"show sizes, methods and times"`
	Args struct {
		Archive  string   `positional-arg-name:"archive" description:"local path or s3://bucket/key of the archive" required:"yes"`
		Patterns []string `positional-arg-name:"pattern" description:"only list entries matching these shell patterns"`
	} `positional-args:"yes"`
}

func (c *listCommand) Execute(args []string) error {
	if err := noExtraArgs(args); err != nil {
		return err
	}

	a, err := openArchive(context.Background(), c.Args.Archive)
	if err != nil {
		return err
	}
	defer a.Close()

	entries := a.Entries()
	if len(c.Args.Patterns) > 0 {
		entries = nil
		for _, p := range c.Args.Patterns {
			matches, err := a.Glob(p)
			if err != nil {
				return fmt.Errorf("pattern %q: %w", p, err)
			}
			entries = append(entries, matches...)
		}
	}

	if !c.Long {
		for _, e := range entries {
			fmt.Println(e.Name())
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	var total, packed int64
	for _, e := range entries {
		total += e.UncompressedSize()
		packed += e.CompressedSize()
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			humanize.IBytes(uint64(e.UncompressedSize())),
			humanize.IBytes(uint64(e.CompressedSize())),
			e.Method(),
			e.Encryption(),
			e.ModTime().Format("2006-01-02 15:04"),
			e.Name())
	}
	fmt.Fprintf(w, "%s\t%s\t\t\t\t%d entries\t\n", humanize.IBytes(uint64(total)), humanize.IBytes(uint64(packed)), len(entries))
	if err := w.Flush(); err != nil {
		return err
	}

	if a.IsSplit() {
		fmt.Printf("%s split archive, %d volumes\n", a.SplitScheme(), len(a.Volumes()))
	}
	if comment := a.Comment(); comment != "" {
		fmt.Println(comment)
	}
	return nil
}

type addCommand struct {
	Path       string `long:"path" description:"directory inside the archive to add files under"`
	Store      bool   `long:"store" description:"store entries without compression"`
	Level      int    `long:"level" description:"deflate level 1-9; defaults to the config file"`
	Split      string `long:"split" description:"write a new archive as volumes of this size, e.g. 100MB"`
	Scheme     string `long:"scheme" description:"split volume naming" choice:"legacy" choice:"numeric"`
	Encrypt    string `long:"encrypt" description:"encryption used with --password" choice:"zipcrypto" choice:"aes128" choice:"aes192" choice:"aes256"`
	NoProgress bool   `long:"no-progress" description:"do not draw a progress bar"`
	Args       struct {
		Archive string           `positional-arg-name:"archive" description:"local path or s3://bucket/key of the archive" required:"yes"`
		Files   []flags.Filename `positional-arg-name:"file" description:"files or directories to add" required:"yes"`
	} `positional-args:"yes"`
}

func (c *addCommand) Execute(args []string) error {
	if err := noExtraArgs(args); err != nil {
		return err
	}

	var extra []zipkit.Option
	if c.Store || c.Level != 0 {
		method := zipkit.Deflated
		level := env.cfg.Compression.Level
		if c.Store {
			method = zipkit.Stored
		}
		if c.Level != 0 {
			level = c.Level
		}
		extra = append(extra, zipkit.WithCompression(method, level))
	}
	if c.Encrypt != "" {
		method, err := zipkit.ParseEncryptionMethod(c.Encrypt)
		if err != nil {
			return err
		}
		extra = append(extra, zipkit.WithEncryption(method))
	}

	splitSize, err := env.cfg.SplitSize()
	if err != nil {
		return err
	}
	if c.Split != "" {
		n, err := humanize.ParseBytes(c.Split)
		if err != nil {
			return fmt.Errorf("split size %q: %w", c.Split, err)
		}
		splitSize = int64(n)
	}
	scheme, err := zipkit.ParseSplitScheme(env.cfg.Split.Scheme)
	if err != nil {
		return err
	}
	if c.Scheme != "" {
		if scheme, err = zipkit.ParseSplitScheme(c.Scheme); err != nil {
			return err
		}
	}
	if splitSize > 0 {
		if scheme == zipkit.SplitNone {
			scheme = zipkit.SplitLegacy
		}
		extra = append(extra, zipkit.WithSplit(scheme, splitSize))
	}

	files := make([]string, len(c.Args.Files))
	for i, f := range c.Args.Files {
		files[i] = string(f)
	}

	var failed int
	progress := func(string, error) {}
	if !c.NoProgress {
		bar := newProgressBar(-1, "adding", false)
		defer bar.Close()
		progress = func(name string, err error) {
			bar.Describe(name)
			_ = bar.Add(1)
		}
	}
	extra = append(extra, zipkit.WithProgress(func(name string, err error) {
		if err != nil {
			failed++
			env.logger.Warn("skipped entry", "entry", name, "error", err)
		}
		progress(name, err)
	}))

	a, err := openArchive(context.Background(), c.Args.Archive, extra...)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.AddFiles(files, zipkit.WithPath(c.Path)); err != nil {
		var entryErr *zipkit.EntryError
		if !errors.As(err, &entryErr) {
			return err
		}
		return fmt.Errorf("%d entries failed: %w", failed, err)
	}
	return nil
}

type extractCommand struct {
	Dest  flags.Filename `short:"d" long:"dest" description:"directory to extract into" default:"."`
	Quiet bool           `short:"q" long:"quiet" description:"do not draw a progress bar"`
	Args  struct {
		Archive string   `positional-arg-name:"archive" description:"local path or s3://bucket/key of the archive" required:"yes"`
		Names   []string `positional-arg-name:"name" description:"entries to extract; all when omitted"`
	} `positional-args:"yes"`
}

func (c *extractCommand) Execute(args []string) error {
	if err := noExtraArgs(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sizes := make(map[string]int64)
	var extra []zipkit.Option
	var onEntry func(name string)
	if !c.Quiet {
		extra = append(extra, zipkit.WithProgress(func(name string, err error) {
			if err != nil {
				env.logger.Warn("extract failed", "entry", name, "error", err)
			}
			onEntry(name)
		}))
	}

	a, err := openArchive(ctx, c.Args.Archive, extra...)
	if err != nil {
		return err
	}
	defer a.Close()

	var total int64
	for _, e := range a.Entries() {
		sizes[e.Name()] = e.UncompressedSize()
		total += e.UncompressedSize()
	}
	if !c.Quiet {
		bar := newProgressBar(total, "extracting", true)
		defer bar.Close()
		onEntry = func(name string) { _ = bar.Add64(sizes[name]) }
	}

	dest := string(c.Dest)
	if len(c.Args.Names) == 0 {
		return a.ExtractAllWithContext(ctx, dest)
	}

	var errs []error
	for _, name := range c.Args.Names {
		if err := a.Extract(name, dest); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type removeCommand struct {
	Args struct {
		Archive string   `positional-arg-name:"archive" description:"local path or s3://bucket/key of the archive" required:"yes"`
		Names   []string `positional-arg-name:"name" description:"entries or directories to remove" required:"yes"`
	} `positional-args:"yes"`
}

func (c *removeCommand) Execute(args []string) error {
	if err := noExtraArgs(args); err != nil {
		return err
	}

	a, err := openArchive(context.Background(), c.Args.Archive)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Remove(c.Args.Names...); err != nil {
		return err
	}
	env.logger.Info("removed entries", "archive", c.Args.Archive, "names", len(c.Args.Names))
	return nil
}

type commentCommand struct {
	Args struct {
		Archive string   `positional-arg-name:"archive" description:"local path or s3://bucket/key of the archive" required:"yes"`
		Text    []string `positional-arg-name:"text" description:"new comment; prints the current one when omitted"`
	} `positional-args:"yes"`
}

func (c *commentCommand) Execute(args []string) error {
	if err := noExtraArgs(args); err != nil {
		return err
	}

	a, err := openArchive(context.Background(), c.Args.Archive)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(c.Args.Text) == 0 {
		fmt.Println(a.Comment())
		return nil
	}
	return a.SetComment(strings.Join(c.Args.Text, " "))
}

type passwdCommand struct {
	New  string `long:"new" description:"new password" env:"ZIPKIT_NEW_PASSWORD" default-mask:"-" required:"yes"`
	Args struct {
		Archive string `positional-arg-name:"archive" description:"local path or s3://bucket/key of the archive" required:"yes"`
	} `positional-args:"yes"`
}

func (c *passwdCommand) Execute(args []string) error {
	if err := noExtraArgs(args); err != nil {
		return err
	}
	if opts.Password == "" {
		return fmt.Errorf("the current password is required: %w", zipkit.ErrPasswordRequired)
	}

	a, err := openArchive(context.Background(), c.Args.Archive)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.IsEncrypted() {
		env.logger.Warn("archive has no encrypted entries", "archive", c.Args.Archive)
		return nil
	}
	return a.ChangePassword(c.New)
}

type mergeCommand struct {
	Args struct {
		Archive string         `positional-arg-name:"archive" description:"local path or s3://bucket/key of the archive" required:"yes"`
		Dest    flags.Filename `positional-arg-name:"dest" description:"path of the single-file archive to write" required:"yes"`
	} `positional-args:"yes"`
}

func (c *mergeCommand) Execute(args []string) error {
	if err := noExtraArgs(args); err != nil {
		return err
	}

	a, err := openArchive(context.Background(), c.Args.Archive)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.IsSplit() {
		env.logger.Warn("archive is not split; writing a copy", "archive", c.Args.Archive)
	}
	if err := a.Merge(string(c.Args.Dest)); err != nil {
		return err
	}
	env.logger.Info("merged archive", "volumes", len(a.Volumes()), "dest", string(c.Args.Dest))
	return nil
}
