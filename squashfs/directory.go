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
	"math"

	"github.com/snapcore/sqfsmeta/squashfs/internal"
)

const (
	directoryHeaderSize = 12
	directoryEntrySize  = 8
	// directory inodes count the virtual "." and ".." entries in their
	// size
	directoryVirtualSize = 3
)

var (
	directoryHeaderLayout = internal.Layout{
		{Offset: 0, Width: 4}, // count
		{Offset: 4, Width: 4}, // start_block
		{Offset: 8, Width: 4}, // inode_number
	}
	directoryEntryLayout = internal.Layout{
		{Offset: 0, Width: 2}, // offset
		{Offset: 2, Width: 2}, // inode_offset
		{Offset: 4, Width: 2}, // type
		{Offset: 6, Width: 2}, // size
	}
)

// DirectoryEntry is one name of a directory listing.
type DirectoryEntry struct {
	Name string
	// Ref locates the inode of the entry in the inode table.
	Ref    InodeRef
	Number uint32
	// Type is the basic type of the inode.
	Type InodeType
}

// DirectoryBuffer is the decompressed directory table data holding one
// listing.
type DirectoryBuffer struct {
	// Data holds whole decompressed metadata blocks, the listing starts
	// at Offset.
	Data   []byte
	Offset int
	Size   int
	// Next is the absolute offset right after the last block read.
	Next int64
}

// Listing returns the raw listing bytes.
func (b *DirectoryBuffer) Listing() []byte {
	return b.Data[b.Offset : b.Offset+b.Size]
}

// ReadDirectory reads the listing of size bytes that starts offset bytes
// into the directory table block at start (relative to the directory
// table), calling fn for each entry in order when fn is not nil.
func (a *Archive) ReadDirectory(start uint32, offset uint16, size uint32, fn func(DirectoryEntry) error) (*DirectoryBuffer, error) {
	if int(offset) >= MetadataBlockSize {
		return nil, corruptf("directory table", int64(start), "listing offset %d past block end", offset)
	}
	need := int(offset) + int(size)
	off := int64(a.sb.DirectoryTableStart) + int64(start)
	var data []byte
	for len(data) < need {
		if off >= int64(a.sb.BytesUsed) {
			return nil, corruptf("directory table", off, "listing of %d bytes past end of archive", size)
		}
		if cap(data)-len(data) < MetadataBlockSize {
			grown := make([]byte, len(data), cap(data)+MetadataBlockSize)
			copy(grown, data)
			data = grown
		}
		n, next, err := a.br.read(off, data[len(data):cap(data)])
		if err != nil {
			return nil, err
		}
		data = data[:len(data)+n]
		off = next
	}
	buf := &DirectoryBuffer{Data: data, Offset: int(offset), Size: int(size), Next: off}
	if fn != nil {
		if err := walkListing(buf.Listing(), a.swapped, fn); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func walkListing(listing []byte, swap bool, fn func(DirectoryEntry) error) error {
	record := func(pos, size int, l internal.Layout) ([]byte, error) {
		if pos+size > len(listing) {
			return nil, corruptf("directory table", int64(pos), "record of %d bytes past end of listing (%d bytes)", size, len(listing))
		}
		b := make([]byte, size)
		copy(b, listing[pos:pos+size])
		if swap && l != nil {
			internal.Swap(b, l)
		}
		return b, nil
	}

	for pos := 0; pos < len(listing); {
		hdr, err := record(pos, directoryHeaderSize, directoryHeaderLayout)
		if err != nil {
			return err
		}
		// a stored count of 0xffffffff does not wrap to zero entries
		stored := internal.ReadUint32(hdr)
		if stored >= directoryMaxEntryCount {
			return corruptf("directory table", int64(pos), "directory header with %d entries", uint64(stored)+1)
		}
		startBlock := internal.ReadUint32(hdr[4:])
		number := internal.ReadUint32(hdr[8:])
		pos += directoryHeaderSize

		for i := 0; i <= int(stored); i++ {
			e, err := record(pos, directoryEntrySize, directoryEntryLayout)
			if err != nil {
				return err
			}
			itype := InodeType(internal.ReadUint16(e[4:]))
			if !itype.Valid() || itype.Extended() {
				return &UnknownInodeTypeError{Type: uint16(itype), Offset: int64(pos)}
			}
			nameLen := int(internal.ReadUint16(e[6:])) + 1
			if nameLen > MaxNameLen {
				return corruptf("directory table", int64(pos), "entry name of %d bytes", nameLen)
			}
			name, err := record(pos+directoryEntrySize, nameLen, nil)
			if err != nil {
				return err
			}
			entry := DirectoryEntry{
				Name:   string(name),
				Ref:    NewInodeRef(startBlock, internal.ReadUint16(e[0:])),
				Number: uint32(int64(number) + int64(internal.ReadInt16(e[2:]))),
				Type:   itype,
			}
			if err := fn(entry); err != nil {
				return err
			}
			pos += directoryEntrySize + nameLen
		}
	}
	return nil
}

// ReadDir returns the entries of the directory inode dir.
func (a *Archive) ReadDir(dir *Inode) ([]DirectoryEntry, error) {
	if dir.Type.Basic() != DirType {
		return nil, fmt.Errorf("squashfs: cannot list inode %d: not a directory", dir.Number)
	}
	if dir.Size < directoryVirtualSize {
		return nil, corruptf("inode table", 0, "directory inode %d with size %d", dir.Number, dir.Size)
	}
	if dir.StartBlock > math.MaxUint32 || dir.Offset > math.MaxUint16 {
		return nil, corruptf("inode table", 0, "directory inode %d listing at %d:%d", dir.Number, dir.StartBlock, dir.Offset)
	}
	var entries []DirectoryEntry
	_, err := a.ReadDirectory(uint32(dir.StartBlock), uint16(dir.Offset), uint32(dir.Size-directoryVirtualSize), func(e DirectoryEntry) error {
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// DirectoryRun is one directory header with the entries it covers, in
// on-disk form.
type DirectoryRun struct {
	Data []byte
	// First is the name of the first entry of the run.
	First string
}

// EncodeDirectory encodes the listing of entries, which must be sorted by
// name. A new header starts every 256 entries, when the inodes of the
// entries are in a different inode table block or when an inode number
// is too far from the header one.
func EncodeDirectory(entries []DirectoryEntry, swap bool) ([]DirectoryRun, error) {
	var runs []DirectoryRun
	for i := 0; i < len(entries); {
		first := entries[i]
		j := i
		size := directoryHeaderSize
		for ; j < len(entries) && j-i < directoryMaxEntryCount; j++ {
			e := entries[j]
			delta := int64(e.Number) - int64(first.Number)
			if e.Ref.Block() != first.Ref.Block() || delta < math.MinInt16 || delta > math.MaxInt16 {
				break
			}
			if len(e.Name) == 0 || len(e.Name) > MaxNameLen {
				return nil, fmt.Errorf("squashfs: invalid directory entry name %q", e.Name)
			}
			if !e.Type.Valid() || e.Type.Extended() {
				return nil, fmt.Errorf("squashfs: invalid directory entry type %d", e.Type)
			}
			size += directoryEntrySize + len(e.Name)
		}

		b := make([]byte, directoryHeaderSize, size)
		internal.PutUint32(b[0:], uint32(j-i-1))
		internal.PutUint32(b[4:], first.Ref.Block())
		internal.PutUint32(b[8:], first.Number)
		if swap {
			internal.Swap(b, directoryHeaderLayout)
		}
		for _, e := range entries[i:j] {
			eb := make([]byte, directoryEntrySize)
			internal.PutUint16(eb[0:], e.Ref.Offset())
			internal.PutInt16(eb[2:], int16(int64(e.Number)-int64(first.Number)))
			internal.PutUint16(eb[4:], uint16(e.Type))
			internal.PutUint16(eb[6:], uint16(len(e.Name)-1))
			if swap {
				internal.Swap(eb, directoryEntryLayout)
			}
			b = append(b, eb...)
			b = append(b, e.Name...)
		}
		runs = append(runs, DirectoryRun{Data: b, First: first.Name})
		i = j
	}
	return runs, nil
}
