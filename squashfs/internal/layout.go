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

package internal

// Field is one multi-byte field of an on-disk record, given by its byte
// offset from the start of the record and its width in bytes.
type Field struct {
	Offset int
	Width  int
}

// Layout lists the multi-byte fields of a fixed-size record. Single bytes
// and byte strings are not listed as they are the same in either byte
// order.
type Layout []Field

// Size is the number of bytes covered by the layout.
func (l Layout) Size() int {
	size := 0
	for _, f := range l {
		if end := f.Offset + f.Width; end > size {
			size = end
		}
	}
	return size
}

// Extend returns a new layout with fields appended.
func (l Layout) Extend(fields ...Field) Layout {
	out := make(Layout, 0, len(l)+len(fields))
	out = append(out, l...)
	return append(out, fields...)
}

func reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// Swap converts the record at the start of data between little and big
// endian in place. The conversion is its own inverse.
func Swap(data []byte, l Layout) {
	for _, f := range l {
		reverse(data[f.Offset : f.Offset+f.Width])
	}
}

// SwapArray converts a packed array of width-byte integers in place.
func SwapArray(data []byte, width int) {
	for off := 0; off+width <= len(data); off += width {
		reverse(data[off : off+width])
	}
}
