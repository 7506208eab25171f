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
	"github.com/snapcore/sqfsmeta/squashfs/internal"
)

const (
	fragmentEntrySize = 16
	// FragmentsPerBlock is the number of fragment entries held by one
	// metadata block.
	FragmentsPerBlock = MetadataBlockSize / fragmentEntrySize
)

var fragmentEntryLayout = internal.Layout{
	{Offset: 0, Width: 8},  // start_block
	{Offset: 8, Width: 4},  // size
	{Offset: 12, Width: 4}, // unused
}

// FragmentEntry locates one fragment block.
type FragmentEntry struct {
	// Start is the absolute offset of the fragment block.
	Start uint64
	// Size is the on-disk size of the block.
	Size         uint32
	Uncompressed bool
}

// ReadFragmentTable loads the fragment table described by the superblock.
// An archive without fragments yields an empty table without reading
// anything.
func (a *Archive) ReadFragmentTable() ([]FragmentEntry, error) {
	count := int(a.sb.Fragments)
	if count == 0 {
		return nil, nil
	}
	data, err := a.readIndexedTable("fragment table", a.sb.FragmentTableStart, count, fragmentEntrySize)
	if err != nil {
		return nil, err
	}
	entries := make([]FragmentEntry, count)
	for i := range entries {
		e := data[i*fragmentEntrySize : (i+1)*fragmentEntrySize]
		if a.swapped {
			internal.Swap(e, fragmentEntryLayout)
		}
		size := internal.ReadUint32(e[8:])
		entries[i] = FragmentEntry{
			Start:        internal.ReadUint64(e),
			Size:         DataBlockSize(size),
			Uncompressed: !DataBlockCompressed(size),
		}
	}
	return entries, nil
}

// EncodeFragmentEntries returns the fragment table entries in on-disk
// form, ready for EncodeIndexedTable.
func EncodeFragmentEntries(entries []FragmentEntry, swap bool) []byte {
	out := make([]byte, len(entries)*fragmentEntrySize)
	for i, fe := range entries {
		e := out[i*fragmentEntrySize : (i+1)*fragmentEntrySize]
		internal.PutUint64(e, fe.Start)
		size := fe.Size
		if fe.Uncompressed {
			size |= DataUncompressedBit
		}
		internal.PutUint32(e[8:], size)
		if swap {
			internal.Swap(e, fragmentEntryLayout)
		}
	}
	return out
}
