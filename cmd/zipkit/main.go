// Copyright 2025 Lemon4ksan. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command zipkit lists, creates, extracts and modifies ZIP archives,
// including split and encrypted ones. Archive paths of the form
// s3://bucket/key are read from Amazon S3.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/lemon4ksan/zipkit/internal/config"
)

var opts struct {
	Config   flags.Filename `short:"c" long:"config" description:"YAML config file; defaults to $ZIPKIT_CONFIG"`
	Password string         `short:"P" long:"password" description:"password for encrypted entries" env:"ZIPKIT_PASSWORD" default-mask:"-"`
	Verbose  bool           `short:"v" long:"verbose" description:"log every archive operation"`
	Profile  string         `short:"p" long:"profile" description:"AWS profile for s3:// archives"`

	List    listCommand    `command:"list" alias:"ls" description:"list the entries of an archive"`
	Add     addCommand     `command:"add" alias:"a" description:"add files or directories to an archive, creating it if needed"`
	Extract extractCommand `command:"extract" alias:"x" description:"extract entries, verifying their checksums"`
	Remove  removeCommand  `command:"remove" alias:"rm" description:"remove entries or directories from an archive"`
	Comment commentCommand `command:"comment" description:"print or replace the archive comment"`
	Passwd  passwdCommand  `command:"passwd" description:"re-encrypt every encrypted entry with a new password"`
	Merge   mergeCommand   `command:"merge" description:"join a split archive into a single file"`
}

// env is what every command needs once global flags are parsed.
var env struct {
	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	p := flags.NewParser(&opts, flags.Default)
	p.CommandHandler = func(command flags.Commander, args []string) error {
		cfg, err := config.Load(string(opts.Config))
		if err != nil {
			return fmt.Errorf("load config error: %w", err)
		}
		if opts.Profile != "" {
			cfg.S3.Profile = opts.Profile
		}

		level, err := cfg.Level()
		if err != nil {
			return err
		}
		if opts.Verbose {
			level = slog.LevelDebug
		}

		env.cfg = cfg
		env.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		return command.Execute(args)
	}

	if _, err := p.Parse(); err != nil {
		if !flags.WroteHelp(err) {
			os.Exit(1)
		}
	}
}
