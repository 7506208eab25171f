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

import "fmt"

type ParseError struct {
	Stype string
	Err   error
}

func (r *ParseError) Error() string {
	return fmt.Sprintf("squashfs: failed to parse %s: reason %v", r.Stype, r.Err)
}

func (r *ParseError) Unwrap() error {
	return r.Err
}

// CheckSize returns a ParseError if data cannot hold a record of size bytes.
func CheckSize(stype string, data []byte, size int) error {
	if len(data) < size {
		return &ParseError{
			Stype: stype,
			Err:   fmt.Errorf("need %d bytes, have %d", size, len(data)),
		}
	}
	return nil
}

func ReadUint16(data []byte) uint16 {
	return uint16(data[0]) | uint16(data[1])<<8
}

func ReadInt16(data []byte) int16 {
	return int16(ReadUint16(data))
}

func ReadUint32(data []byte) uint32 {
	return uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
}

func ReadInt32(data []byte) int32 {
	return int32(ReadUint32(data))
}

func ReadUint64(data []byte) uint64 {
	return uint64(data[0]) | uint64(data[1])<<8 | uint64(data[2])<<16 | uint64(data[3])<<24 |
		uint64(data[4])<<32 | uint64(data[5])<<40 | uint64(data[6])<<48 | uint64(data[7])<<56
}

func ReadInt64(data []byte) int64 {
	return int64(ReadUint64(data))
}

func PutUint16(data []byte, v uint16) {
	data[0] = byte(v)
	data[1] = byte(v >> 8)
}

func PutInt16(data []byte, v int16) {
	PutUint16(data, uint16(v))
}

func PutUint32(data []byte, v uint32) {
	data[0] = byte(v)
	data[1] = byte(v >> 8)
	data[2] = byte(v >> 16)
	data[3] = byte(v >> 24)
}

func PutUint64(data []byte, v uint64) {
	for i := 0; i < 8; i++ {
		data[i] = byte(v >> (8 * i))
	}
}
