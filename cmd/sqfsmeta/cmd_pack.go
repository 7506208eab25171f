// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package main

import (
	"fmt"
	"path/filepath"

	"github.com/jessevdk/go-flags"

	"github.com/snapcore/sqfsmeta/builder"
	"github.com/snapcore/sqfsmeta/osutil"
)

func init() {
	const (
		short = "Build an archive from a directory"
		long  = `
The pack command builds an archive of the directory tree at the source
path. When the image path is a directory the archive is written into it,
named after the source directory. Options given on the command line
override those read from the --config file.
`
	)

	addCommand("pack", short, long, func() flags.Commander { return &cmdPack{} })
}

type cmdPack struct {
	Config          string   `long:"config" value-name:"<file>" description:"Read build options from a YAML file"`
	BlockSize       uint32   `short:"b" long:"block-size" value-name:"<bytes>" description:"Data block size"`
	Compression     string   `long:"comp" choice:"gzip" choice:"xz" choice:"lzma" choice:"lz4" choice:"zstd" description:"Compression algorithm"`
	BigEndian       bool     `long:"big-endian" description:"Write a big endian archive"`
	NoFragments     bool     `long:"no-fragments" description:"Do not pack file tails into fragments"`
	AlwaysFragments bool     `long:"always-fragments" description:"Pack the tails of large files into fragments too"`
	NoDuplicates    bool     `long:"no-duplicates" description:"Do not detect files with identical content"`
	NoPadding       bool     `long:"no-padding" description:"Do not pad the archive to a multiple of 4KiB"`
	Sort            string   `long:"sort" value-name:"<file>" description:"Store files listed with a priority first"`
	Exclude         []string `short:"e" long:"exclude" value-name:"<pattern>" description:"Skip paths matching the pattern"`
	MkfsTime        int64    `long:"mkfs-time" value-name:"<seconds>" description:"Creation time of the archive"`
	Processors      int      `long:"processors" value-name:"<n>" description:"Number of files digested in parallel"`
	Force           bool     `long:"force" description:"Replace an existing image"`

	Positional struct {
		Source string `positional-arg-name:"<source>"`
		Image  string `positional-arg-name:"<image>"`
	} `positional-args:"yes" required:"yes"`
}

// options merges the command line options over the config file ones.
func (x *cmdPack) options() (*builder.Options, error) {
	opts := &builder.Options{}
	if x.Config != "" {
		var err error
		opts, err = builder.LoadOptions(x.Config)
		if err != nil {
			return nil, err
		}
	}
	if x.BlockSize != 0 {
		opts.BlockSize = x.BlockSize
	}
	if x.Compression != "" {
		opts.Compression = x.Compression
	}
	if x.Sort != "" {
		opts.SortFile = x.Sort
	}
	if x.MkfsTime != 0 {
		opts.MkfsTime = x.MkfsTime
	}
	if x.Processors != 0 {
		opts.Processors = x.Processors
	}
	opts.Exclude = append(opts.Exclude, x.Exclude...)
	opts.BigEndian = opts.BigEndian || x.BigEndian
	opts.NoFragments = opts.NoFragments || x.NoFragments
	opts.AlwaysFragments = opts.AlwaysFragments || x.AlwaysFragments
	opts.NoDuplicates = opts.NoDuplicates || x.NoDuplicates
	opts.NoPadding = opts.NoPadding || x.NoPadding
	return opts, nil
}

// target is the path the archive gets written to.
func (x *cmdPack) target() (string, error) {
	image := x.Positional.Image
	if osutil.IsDirectory(image) {
		image = filepath.Join(image, filepath.Base(filepath.Clean(x.Positional.Source))+".squashfs")
	}
	// archives are never appended to
	if !x.Force && osutil.FileExists(image) {
		return "", fmt.Errorf("cannot pack into %q: file exists, use --force to replace it", image)
	}
	return image, nil
}

func (x *cmdPack) Execute([]string) error {
	opts, err := x.options()
	if err != nil {
		return err
	}
	image, err := x.target()
	if err != nil {
		return err
	}
	summary, err := builder.Build(x.Positional.Source, image, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(Stdout, "packed %d inodes into %s (%d bytes)\n", summary.Superblock.Inodes, image, summary.Size)
	fmt.Fprintf(Stdout, "%d files, %d directories, %d symlinks, %d devices, %d fifos, %d sockets\n",
		summary.Files, summary.Directories, summary.Symlinks, summary.Devices, summary.Fifos, summary.Sockets)
	if summary.HardLinks > 0 || summary.Duplicates > 0 {
		fmt.Fprintf(Stdout, "%d hard links, %d duplicate files\n", summary.HardLinks, summary.Duplicates)
	}
	if summary.Skipped > 0 {
		fmt.Fprintf(Stdout, "%d entries skipped\n", summary.Skipped)
	}
	return nil
}
