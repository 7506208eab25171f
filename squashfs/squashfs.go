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
)

const (
	// https://github.com/plougher/squashfs-tools/blob/master/squashfs-tools/squashfs_fs.h
	SuperblockSize    = 96
	MetadataBlockSize = 8192

	// MaxNameLen is the longest directory entry name.
	MaxNameLen             = 256
	directoryMaxEntryCount = 256

	// MajorVersion and MinorVersion are the format version read and
	// written by this package.
	MajorVersion = 4
	MinorVersion = 0

	// InvalidFragment marks a regular file without a tail fragment.
	InvalidFragment = 0xffffffff
	// InvalidTable marks an absent optional table in the superblock.
	InvalidTable = 0xffffffffffffffff
	// NoXattr marks an extended inode without extended attributes.
	NoXattr = 0xffffffff

	// metadata block headers have this bit set when stored literally
	metadataUncompressedBit = 0x8000
	// DataUncompressedBit is set in data and fragment block sizes that
	// are stored literally.
	DataUncompressedBit = 1 << 24

	// MinBlockSize and MaxBlockSize bound the data block size.
	MinBlockSize = 4096
	MaxBlockSize = 1 << 20
)

var (
	// Magic is the magic prefix of little-endian squashfs archives.
	Magic = [4]byte{'h', 's', 'q', 's'}
	// SwappedMagic is the magic prefix of big-endian squashfs archives.
	SwappedMagic = [4]byte{'s', 'q', 's', 'h'}
)

// InodeRef locates a record in a metadata table: the byte offset of the
// metadata block holding it, relative to the table start, and the offset
// of the record inside the decompressed block.
type InodeRef uint64

// NewInodeRef packs a block offset and an in-block offset.
func NewInodeRef(block uint32, offset uint16) InodeRef {
	return InodeRef(uint64(block)<<16 | uint64(offset))
}

func (r InodeRef) Block() uint32 {
	return uint32(r >> 16)
}

func (r InodeRef) Offset() uint16 {
	return uint16(r & 0xffff)
}

func (r InodeRef) String() string {
	return fmt.Sprintf("%d:%d", r.Block(), r.Offset())
}

// DataBlockSize is the on-disk size of a data or fragment block given its
// size field.
func DataBlockSize(size uint32) uint32 {
	return size &^ DataUncompressedBit
}

// DataBlockCompressed tells if a data or fragment block is compressed.
func DataBlockCompressed(size uint32) bool {
	return size&DataUncompressedBit == 0
}
