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
	"errors"
	"fmt"
)

var (
	// ErrUnrecognizedMagic is returned for data that is not a squashfs
	// archive in either byte order.
	ErrUnrecognizedMagic = errors.New("squashfs: not a recognized archive")

	// ErrCorrupt is matched by every error describing damaged metadata.
	ErrCorrupt = errors.New("squashfs: filesystem corrupted")
)

// UnsupportedVersionError is returned for archives with a major version
// other than MajorVersion or a minor version newer than MinorVersion.
type UnsupportedVersionError struct {
	Major uint16
	Minor uint16
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("squashfs: unsupported version %d.%d, expected %d.%d",
		e.Major, e.Minor, MajorVersion, MinorVersion)
}

// CorruptError describes metadata that cannot be decoded. The whole scan
// is abandoned, records after the damage cannot be located.
type CorruptError struct {
	// Table is the metadata table being read, e.g. "inode table".
	Table string
	// Offset is the byte offset of the damage, absolute for on-disk
	// blocks and relative to the decompressed table for records.
	Offset int64
	Err    error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("squashfs: corrupt %s at offset %d: %v", e.Table, e.Offset, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

func (e *CorruptError) Is(target error) bool {
	return target == ErrCorrupt
}

func corruptf(table string, offset int64, format string, v ...interface{}) error {
	return &CorruptError{Table: table, Offset: offset, Err: fmt.Errorf(format, v...)}
}

// UnknownInodeTypeError is returned when a record carries a type tag
// that is not a known inode type.
type UnknownInodeTypeError struct {
	Type   uint16
	Offset int64
}

func (e *UnknownInodeTypeError) Error() string {
	return fmt.Sprintf("squashfs: unknown inode type %d at offset %d", e.Type, e.Offset)
}

func (e *UnknownInodeTypeError) Is(target error) bool {
	return target == ErrCorrupt
}

// UnsupportedCompressionError is returned for compression types without
// a backend.
type UnsupportedCompressionError struct {
	ID Compression
}

func (e *UnsupportedCompressionError) Error() string {
	return fmt.Sprintf("squashfs: unsupported compression type %s", e.ID)
}
