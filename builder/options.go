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

package builder

import (
	"bytes"
	"fmt"
	"math/bits"
	"os"
	"runtime"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/snapcore/sqfsmeta/squashfs"
)

const (
	DefaultBlockSize   = 128 * 1024
	DefaultCompression = "gzip"
)

// Options control how an archive is built. The zero value builds a
// little endian, gzip compressed archive with 128KiB blocks, fragments
// for small files and duplicate detection.
type Options struct {
	BlockSize   uint32 `yaml:"block-size,omitempty"`
	Compression string `yaml:"compression,omitempty"`
	// BigEndian writes every multi-byte field in big endian order.
	BigEndian bool `yaml:"big-endian,omitempty"`

	// NoFragments stores file tails in data blocks of their own.
	NoFragments bool `yaml:"no-fragments,omitempty"`
	// AlwaysFragments also puts the tails of files larger than a block
	// into fragments.
	AlwaysFragments bool `yaml:"always-fragments,omitempty"`
	// NoDuplicates disables detection of files with identical content.
	NoDuplicates bool `yaml:"no-duplicates,omitempty"`

	UncompressedInodes    bool `yaml:"uncompressed-inodes,omitempty"`
	UncompressedData      bool `yaml:"uncompressed-data,omitempty"`
	UncompressedFragments bool `yaml:"uncompressed-fragments,omitempty"`

	// SortFile lists "path priority" lines, files with a higher priority
	// are stored first.
	SortFile string `yaml:"sort-file,omitempty"`
	// Exclude are doublestar patterns matched against paths relative to
	// the source root.
	Exclude []string `yaml:"exclude,omitempty"`

	// MkfsTime is the creation time in seconds since the epoch, zero
	// means now (or $SOURCE_DATE_EPOCH).
	MkfsTime int64 `yaml:"mkfs-time,omitempty"`
	// NoPadding skips padding the archive to a multiple of 4KiB.
	NoPadding bool `yaml:"no-padding,omitempty"`
	// Processors is the number of files digested in parallel, zero
	// means one per CPU.
	Processors int `yaml:"processors,omitempty"`
}

// LoadOptions reads options from a YAML file.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var opts Options
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil {
		return nil, fmt.Errorf("cannot parse build options %q: %v", path, err)
	}
	return &opts, nil
}

func (o *Options) withDefaults() *Options {
	opts := *o
	if opts.BlockSize == 0 {
		opts.BlockSize = DefaultBlockSize
	}
	if opts.Compression == "" {
		opts.Compression = DefaultCompression
	}
	if opts.Processors == 0 {
		opts.Processors = runtime.NumCPU()
	}
	return &opts
}

// Validate checks the options, unset values are validated with their
// defaults.
func (o *Options) Validate() error {
	opts := o.withDefaults()
	bs := opts.BlockSize
	if bs < squashfs.MinBlockSize || bs > squashfs.MaxBlockSize || bits.OnesCount32(bs) != 1 {
		return fmt.Errorf("invalid block size %d: must be a power of two between %d and %d",
			bs, squashfs.MinBlockSize, squashfs.MaxBlockSize)
	}
	id, err := squashfs.ParseCompression(opts.Compression)
	if err != nil {
		return err
	}
	if _, err := squashfs.NewCompressor(id, nil); err != nil {
		return err
	}
	if opts.NoFragments && opts.AlwaysFragments {
		return fmt.Errorf("cannot use both no-fragments and always-fragments")
	}
	for _, pattern := range opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}
	if opts.MkfsTime < 0 || opts.MkfsTime > 0xffffffff {
		return fmt.Errorf("invalid mkfs time %d", opts.MkfsTime)
	}
	if opts.Processors < 0 {
		return fmt.Errorf("invalid number of processors %d", opts.Processors)
	}
	return nil
}

// flags are the superblock flags implied by the options.
func (o *Options) flags() squashfs.SuperblockFlags {
	flags := squashfs.FlagNoXattrs
	if o.UncompressedInodes {
		flags |= squashfs.FlagUncompressedInodes
	}
	if o.UncompressedData {
		flags |= squashfs.FlagUncompressedData
	}
	if o.UncompressedFragments {
		flags |= squashfs.FlagUncompressedFragments
	}
	if o.NoFragments {
		flags |= squashfs.FlagNoFragments
	}
	if o.AlwaysFragments {
		flags |= squashfs.FlagAlwaysFragments
	}
	if !o.NoDuplicates {
		flags |= squashfs.FlagDuplicates
	}
	return flags
}
