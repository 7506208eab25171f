// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2021-2024 Canonical Ltd
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
 * https://www.kernel.org/doc/html/v5.8/filesystems/squashfs.html
 */

package squashfs

import (
	"fmt"
	"io"
	"math/bits"

	"github.com/snapcore/sqfsmeta/squashfs/internal"
)

// SuperblockFlags are the feature flags stored in the superblock.
type SuperblockFlags uint16

const (
	FlagUncompressedInodes    SuperblockFlags = 0x0001
	FlagUncompressedData      SuperblockFlags = 0x0002
	FlagCheckData             SuperblockFlags = 0x0004
	FlagUncompressedFragments SuperblockFlags = 0x0008
	FlagNoFragments           SuperblockFlags = 0x0010
	FlagAlwaysFragments       SuperblockFlags = 0x0020
	FlagDuplicates            SuperblockFlags = 0x0040
	FlagExportable            SuperblockFlags = 0x0080
	FlagUncompressedXattrs    SuperblockFlags = 0x0100
	FlagNoXattrs              SuperblockFlags = 0x0200
	FlagCompressorOptions     SuperblockFlags = 0x0400
	FlagUncompressedIDs       SuperblockFlags = 0x0800
)

func (f SuperblockFlags) Has(flag SuperblockFlags) bool {
	return f&flag == flag
}

// Superblock is the fixed-size header at the start of the archive, with
// every field in host form.
type Superblock struct {
	Inodes      uint32
	MkfsTime    uint32
	BlockSize   uint32
	Fragments   uint32
	Compression Compression
	BlockLog    uint16
	Flags       SuperblockFlags
	IDs         uint16
	Major       uint16
	Minor       uint16
	RootInode   InodeRef
	BytesUsed   uint64

	IDTableStart        uint64
	XattrIDTableStart   uint64
	InodeTableStart     uint64
	DirectoryTableStart uint64
	FragmentTableStart  uint64
	LookupTableStart    uint64
}

// ReadOptions tune how archives are read.
type ReadOptions struct {
	// AllowNewerMinor accepts archives whose minor version is newer
	// than MinorVersion.
	AllowNewerMinor bool
}

var superblockLayout = internal.Layout{
	{Offset: 0, Width: 4},  // magic
	{Offset: 4, Width: 4},  // inodes
	{Offset: 8, Width: 4},  // mkfs_time
	{Offset: 12, Width: 4}, // block_size
	{Offset: 16, Width: 4}, // fragments
	{Offset: 20, Width: 2}, // compression
	{Offset: 22, Width: 2}, // block_log
	{Offset: 24, Width: 2}, // flags
	{Offset: 26, Width: 2}, // no_ids
	{Offset: 28, Width: 2}, // s_major
	{Offset: 30, Width: 2}, // s_minor
	{Offset: 32, Width: 8}, // root_inode
	{Offset: 40, Width: 8}, // bytes_used
	{Offset: 48, Width: 8}, // id_table_start
	{Offset: 56, Width: 8}, // xattr_id_table_start
	{Offset: 64, Width: 8}, // inode_table_start
	{Offset: 72, Width: 8}, // directory_table_start
	{Offset: 80, Width: 8}, // fragment_table_start
	{Offset: 88, Width: 8}, // lookup_table_start
}

// ParseSuperblock decodes a superblock in either byte order. It returns
// whether the archive byte order is swapped (big endian).
func ParseSuperblock(data []byte, opts *ReadOptions) (*Superblock, bool, error) {
	if err := internal.CheckSize("superblock", data, SuperblockSize); err != nil {
		return nil, false, err
	}
	if opts == nil {
		opts = &ReadOptions{}
	}

	var m [4]byte
	copy(m[:], data[:4])

	swap := false
	switch m {
	case Magic:
	case SwappedMagic:
		swap = true
	default:
		return nil, false, ErrUnrecognizedMagic
	}

	raw := make([]byte, SuperblockSize)
	copy(raw, data)
	if swap {
		internal.Swap(raw, superblockLayout)
	}

	sb := &Superblock{
		Inodes:              internal.ReadUint32(raw[4:]),
		MkfsTime:            internal.ReadUint32(raw[8:]),
		BlockSize:           internal.ReadUint32(raw[12:]),
		Fragments:           internal.ReadUint32(raw[16:]),
		Compression:         Compression(internal.ReadUint16(raw[20:])),
		BlockLog:            internal.ReadUint16(raw[22:]),
		Flags:               SuperblockFlags(internal.ReadUint16(raw[24:])),
		IDs:                 internal.ReadUint16(raw[26:]),
		Major:               internal.ReadUint16(raw[28:]),
		Minor:               internal.ReadUint16(raw[30:]),
		RootInode:           InodeRef(internal.ReadUint64(raw[32:])),
		BytesUsed:           internal.ReadUint64(raw[40:]),
		IDTableStart:        internal.ReadUint64(raw[48:]),
		XattrIDTableStart:   internal.ReadUint64(raw[56:]),
		InodeTableStart:     internal.ReadUint64(raw[64:]),
		DirectoryTableStart: internal.ReadUint64(raw[72:]),
		FragmentTableStart:  internal.ReadUint64(raw[80:]),
		LookupTableStart:    internal.ReadUint64(raw[88:]),
	}

	if sb.Major != MajorVersion || (sb.Minor > MinorVersion && !opts.AllowNewerMinor) {
		return nil, false, &UnsupportedVersionError{Major: sb.Major, Minor: sb.Minor}
	}
	if err := sb.validate(); err != nil {
		return nil, false, err
	}
	return sb, swap, nil
}

func (sb *Superblock) validate() error {
	if sb.BlockSize < MinBlockSize || sb.BlockSize > MaxBlockSize || bits.OnesCount32(sb.BlockSize) != 1 {
		return corruptf("superblock", 12, "invalid block size %d", sb.BlockSize)
	}
	if uint32(1)<<sb.BlockLog != sb.BlockSize {
		return corruptf("superblock", 22, "block log %d does not match block size %d", sb.BlockLog, sb.BlockSize)
	}
	if sb.InodeTableStart >= sb.DirectoryTableStart {
		return corruptf("superblock", 64, "inode table start %d not before directory table start %d",
			sb.InodeTableStart, sb.DirectoryTableStart)
	}
	return nil
}

// ReadSuperblock reads and decodes the superblock at the start of r.
func ReadSuperblock(r io.ReaderAt, opts *ReadOptions) (*Superblock, bool, error) {
	data, err := readAt(r, 0, SuperblockSize)
	if err != nil {
		return nil, false, err
	}
	return ParseSuperblock(data, opts)
}

// Encode returns the on-disk form of the superblock, big endian if swap
// is set. Magic and version are always the ones of this package.
func (sb *Superblock) Encode(swap bool) []byte {
	b := make([]byte, SuperblockSize)
	copy(b[0:4], Magic[:])
	internal.PutUint32(b[4:], sb.Inodes)
	internal.PutUint32(b[8:], sb.MkfsTime)
	internal.PutUint32(b[12:], sb.BlockSize)
	internal.PutUint32(b[16:], sb.Fragments)
	internal.PutUint16(b[20:], uint16(sb.Compression))
	internal.PutUint16(b[22:], sb.BlockLog)
	internal.PutUint16(b[24:], uint16(sb.Flags))
	internal.PutUint16(b[26:], sb.IDs)
	internal.PutUint16(b[28:], MajorVersion)
	internal.PutUint16(b[30:], MinorVersion)
	internal.PutUint64(b[32:], uint64(sb.RootInode))
	internal.PutUint64(b[40:], sb.BytesUsed)
	internal.PutUint64(b[48:], sb.IDTableStart)
	internal.PutUint64(b[56:], sb.XattrIDTableStart)
	internal.PutUint64(b[64:], sb.InodeTableStart)
	internal.PutUint64(b[72:], sb.DirectoryTableStart)
	internal.PutUint64(b[80:], sb.FragmentTableStart)
	internal.PutUint64(b[88:], sb.LookupTableStart)
	if swap {
		internal.Swap(b, superblockLayout)
	}
	return b
}

func (sb *Superblock) String() string {
	return fmt.Sprintf("squashfs %d.%d, %s, block size %d, %d inodes, %d fragments",
		sb.Major, sb.Minor, sb.Compression, sb.BlockSize, sb.Inodes, sb.Fragments)
}
