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

const tableIndexEntrySize = 8

// indexedTableBlocks is the number of metadata blocks holding count
// entries of entrySize bytes.
func indexedTableBlocks(count, entrySize int) int {
	return (count*entrySize + MetadataBlockSize - 1) / MetadataBlockSize
}

// readIndexedTable reads a table of count entries of entrySize bytes. The
// indirect index of absolute metadata block offsets is stored at
// tableStart. Entries are returned in archive byte order.
func (a *Archive) readIndexedTable(table string, tableStart uint64, count, entrySize int) ([]byte, error) {
	if count == 0 {
		return nil, nil
	}
	blocks := indexedTableBlocks(count, entrySize)
	index, err := readAt(a.r, int64(tableStart), blocks*tableIndexEntrySize)
	if err != nil {
		return nil, &CorruptError{Table: table + " index", Offset: int64(tableStart), Err: err}
	}
	if a.swapped {
		internal.SwapArray(index, tableIndexEntrySize)
	}

	total := count * entrySize
	data := make([]byte, blocks*MetadataBlockSize)
	filled := 0
	for i := 0; i < blocks; i++ {
		start := int64(internal.ReadUint64(index[i*tableIndexEntrySize:]))
		n, _, err := a.br.read(start, data[filled:filled+MetadataBlockSize])
		if err != nil {
			return nil, err
		}
		expected := total - filled
		if expected > MetadataBlockSize {
			expected = MetadataBlockSize
		}
		if n != expected {
			return nil, corruptf(table, start, "metadata block holds %d bytes, expected %d", n, expected)
		}
		filled += n
	}
	return data[:total], nil
}

// EncodeIndexedTable stores data, already in archive byte order, in
// metadata blocks followed by their indirect index. tableStart is the
// absolute offset the result is written at. It returns the encoded table
// and the absolute offset of the index, the value stored in the
// superblock.
func EncodeIndexedTable(data []byte, compression Compressor, swap bool, tableStart uint64) ([]byte, uint64, error) {
	var out, index []byte
	for len(data) > 0 {
		chunk := data
		if len(chunk) > MetadataBlockSize {
			chunk = chunk[:MetadataBlockSize]
		}
		block, err := EncodeMetadataBlock(chunk, compression, swap)
		if err != nil {
			return nil, 0, err
		}
		entry := make([]byte, tableIndexEntrySize)
		internal.PutUint64(entry, tableStart+uint64(len(out)))
		index = append(index, entry...)
		out = append(out, block...)
		data = data[len(chunk):]
	}
	if swap {
		internal.SwapArray(index, tableIndexEntrySize)
	}
	indexStart := tableStart + uint64(len(out))
	return append(out, index...), indexStart, nil
}
