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

const idEntrySize = 4

// ReadIDTable returns the uid/gid values indexed by inode headers.
func (a *Archive) ReadIDTable() ([]uint32, error) {
	count := int(a.sb.IDs)
	data, err := a.readIndexedTable("id table", a.sb.IDTableStart, count, idEntrySize)
	if err != nil {
		return nil, err
	}
	if a.swapped {
		internal.SwapArray(data, idEntrySize)
	}
	ids := make([]uint32, count)
	for i := range ids {
		ids[i] = internal.ReadUint32(data[i*idEntrySize:])
	}
	return ids, nil
}

// EncodeIDs returns the id table entries in on-disk form, ready for
// EncodeIndexedTable.
func EncodeIDs(ids []uint32, swap bool) []byte {
	out := make([]byte, len(ids)*idEntrySize)
	for i, id := range ids {
		internal.PutUint32(out[i*idEntrySize:], id)
	}
	if swap {
		internal.SwapArray(out, idEntrySize)
	}
	return out
}
