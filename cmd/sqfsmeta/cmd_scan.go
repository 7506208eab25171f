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
	"time"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"

	"github.com/snapcore/sqfsmeta/squashfs"
)

func init() {
	const (
		short = "Show the geometry and inode counts of an archive"
		long  = `
The scan command reads the superblock, the fragment, inode and id tables
of an archive and prints a summary as YAML.
`
	)

	addCommand("scan", short, long, func() flags.Commander { return &cmdScan{} })
}

type cmdScan struct {
	AllowNewerMinor bool `long:"allow-newer-minor" description:"Accept archives with a newer minor version"`

	Positional struct {
		Image string `positional-arg-name:"<image>"`
	} `positional-args:"yes" required:"yes"`
}

type scanCounts struct {
	Files        int `yaml:"files"`
	Directories  int `yaml:"directories"`
	Symlinks     int `yaml:"symlinks"`
	BlockDevices int `yaml:"block-devices"`
	CharDevices  int `yaml:"char-devices"`
	Fifos        int `yaml:"fifos"`
	Sockets      int `yaml:"sockets"`
}

type scanBytes struct {
	UncompressedFiles uint64 `yaml:"uncompressed-files"`
	CompressedFiles   uint64 `yaml:"compressed-files"`
	Fragments         uint64 `yaml:"fragments"`
	Directories       uint64 `yaml:"directories"`
}

type scanReport struct {
	Version     string     `yaml:"version"`
	ByteOrder   string     `yaml:"byte-order"`
	Compression string     `yaml:"compression"`
	BlockSize   uint32     `yaml:"block-size"`
	BytesUsed   uint64     `yaml:"bytes-used"`
	Created     string     `yaml:"created"`
	Inodes      uint32     `yaml:"inodes"`
	Fragments   int        `yaml:"fragments"`
	IDs         int        `yaml:"ids"`
	Flags       []string   `yaml:"flags,omitempty"`
	Counts      scanCounts `yaml:"counts"`
	Bytes       scanBytes  `yaml:"bytes"`
}

var flagNames = []struct {
	flag squashfs.SuperblockFlags
	name string
}{
	{squashfs.FlagUncompressedInodes, "uncompressed-inodes"},
	{squashfs.FlagUncompressedData, "uncompressed-data"},
	{squashfs.FlagCheckData, "check-data"},
	{squashfs.FlagUncompressedFragments, "uncompressed-fragments"},
	{squashfs.FlagNoFragments, "no-fragments"},
	{squashfs.FlagAlwaysFragments, "always-fragments"},
	{squashfs.FlagDuplicates, "duplicates"},
	{squashfs.FlagExportable, "exportable"},
	{squashfs.FlagUncompressedXattrs, "uncompressed-xattrs"},
	{squashfs.FlagNoXattrs, "no-xattrs"},
	{squashfs.FlagCompressorOptions, "compressor-options"},
	{squashfs.FlagUncompressedIDs, "uncompressed-ids"},
}

func (x *cmdScan) Execute([]string) error {
	a, closeImage, err := openImage(x.Positional.Image, x.AllowNewerMinor)
	if err != nil {
		return err
	}
	defer closeImage()

	scan, err := a.Scan()
	if err != nil {
		return err
	}
	sb := scan.Superblock
	report := scanReport{
		Version:     fmt.Sprintf("%d.%d", sb.Major, sb.Minor),
		ByteOrder:   "little-endian",
		Compression: sb.Compression.String(),
		BlockSize:   sb.BlockSize,
		BytesUsed:   sb.BytesUsed,
		Created:     time.Unix(int64(sb.MkfsTime), 0).UTC().Format(time.RFC3339),
		Inodes:      sb.Inodes,
		Fragments:   len(scan.Fragments),
		IDs:         len(scan.IDs),
		Counts: scanCounts{
			// the root is not counted by the scan
			Files:        scan.Inodes.Files,
			Directories:  scan.Inodes.Directories + 1,
			Symlinks:     scan.Inodes.Symlinks,
			BlockDevices: scan.Inodes.BlockDevices,
			CharDevices:  scan.Inodes.CharDevices,
			Fifos:        scan.Inodes.Fifos,
			Sockets:      scan.Inodes.Sockets,
		},
		Bytes: scanBytes{
			UncompressedFiles: scan.Inodes.UncompressedFileBytes,
			CompressedFiles:   scan.Inodes.CompressedFileBytes,
			Fragments:         scan.Inodes.FragmentBytes,
			Directories:       scan.Inodes.UncompressedDirBytes,
		},
	}
	if scan.Swapped {
		report.ByteOrder = "big-endian"
	}
	for _, f := range flagNames {
		if sb.Flags.Has(f.flag) {
			report.Flags = append(report.Flags, f.name)
		}
	}

	enc := yaml.NewEncoder(Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(&report); err != nil {
		return err
	}
	return enc.Close()
}
