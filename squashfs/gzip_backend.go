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
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zlib"

	"github.com/snapcore/sqfsmeta/squashfs/internal"
)

const (
	gzipDefaultLevel    = 9
	gzipOptionsSize     = 8
	gzipDefaultWindow   = 15
	gzipStrategyDefault = 0x1
)

// gzipBackend handles squashfs "gzip" compression, which is a zlib
// stream.
type gzipBackend struct {
	CompressionLevel int
	WindowSize       int
	Strategies       uint16
}

// The gzip options block is 8 bytes
// i32 - Compression level
// i16 - Window size
// i16 - Strategies
func createGzipBackend(options []byte) (*gzipBackend, error) {
	gb := &gzipBackend{
		CompressionLevel: gzipDefaultLevel,
		WindowSize:       gzipDefaultWindow,
		Strategies:       gzipStrategyDefault,
	}
	if options == nil {
		return gb, nil
	}
	if err := internal.CheckSize("gzip options", options, gzipOptionsSize); err != nil {
		return nil, err
	}
	gb.CompressionLevel = int(internal.ReadInt32(options[0:]))
	gb.WindowSize = int(internal.ReadUint16(options[4:]))
	gb.Strategies = internal.ReadUint16(options[6:])
	if gb.CompressionLevel < 1 || gb.CompressionLevel > 9 {
		return nil, fmt.Errorf("squashfs: invalid gzip compression level %d", gb.CompressionLevel)
	}
	return gb, nil
}

func (gb *gzipBackend) ID() Compression {
	return CompressionGzip
}

func (gb *gzipBackend) Compress(in []byte) ([]byte, error) {
	var b bytes.Buffer
	zw, err := zlib.NewWriterLevel(&b, gb.CompressionLevel)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(in); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (gb *gzipBackend) Decompress(in []byte, out []byte) (int, error) {
	zr, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		return 0, err
	}
	defer zr.Close()

	return readInto(zr, out)
}
