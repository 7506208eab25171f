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
	"io"

	"github.com/snapcore/sqfsmeta/squashfs/internal"
)

// Compression is the compressor id stored in the superblock.
type Compression uint16

// Compression types supported by squashfs
const (
	CompressionGzip Compression = 1
	CompressionLzma Compression = 2
	CompressionLzo  Compression = 3
	CompressionXz   Compression = 4
	CompressionLz4  Compression = 5
	CompressionZstd Compression = 6
)

var compressionNames = map[Compression]string{
	CompressionGzip: "gzip",
	CompressionLzma: "lzma",
	CompressionLzo:  "lzo",
	CompressionXz:   "xz",
	CompressionLz4:  "lz4",
	CompressionZstd: "zstd",
}

func (c Compression) String() string {
	if name, ok := compressionNames[c]; ok {
		return name
	}
	return fmt.Sprintf("compression(%d)", uint16(c))
}

// ParseCompression maps a compressor name to its id.
func ParseCompression(name string) (Compression, error) {
	for id, n := range compressionNames {
		if n == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown compression %q", name)
}

// Compressor compresses and decompresses metadata and data blocks.
type Compressor interface {
	// ID is the superblock compression id of the backend.
	ID() Compression
	// Compress returns the compressed form of in. Incompressible input
	// may be returned at its original length, callers then store the
	// block literally.
	Compress(in []byte) ([]byte, error)
	// Decompress decompresses in into out and returns the number of
	// bytes produced. Output that does not fit into out is an error.
	Decompress(in []byte, out []byte) (int, error)
}

var errOutputOverflow = errors.New("decompressed data larger than output buffer")

// compressorOptionsLayouts describe the multi-byte fields of the options
// block of each compressor.
var compressorOptionsLayouts = map[Compression]internal.Layout{
	CompressionGzip: {{Offset: 0, Width: 4}, {Offset: 4, Width: 2}, {Offset: 6, Width: 2}},
	CompressionXz:   {{Offset: 0, Width: 4}, {Offset: 4, Width: 4}},
	CompressionLz4:  {{Offset: 0, Width: 4}, {Offset: 4, Width: 4}},
	CompressionZstd: {{Offset: 0, Width: 4}},
	CompressionLzo:  {{Offset: 0, Width: 4}, {Offset: 4, Width: 4}},
}

func swapCompressorOptions(id Compression, options []byte) {
	l, ok := compressorOptionsLayouts[id]
	if !ok || len(options) < l.Size() {
		return
	}
	internal.Swap(options, l)
}

// NewCompressor returns the backend for id configured from the (little
// endian) compressor options block, options may be nil.
func NewCompressor(id Compression, options []byte) (Compressor, error) {
	switch id {
	case CompressionGzip:
		return createGzipBackend(options)
	case CompressionXz:
		return createXzBackend(options)
	case CompressionLzma:
		return createLzmaBackend(options)
	case CompressionLz4:
		return createLz4Backend(options)
	case CompressionZstd:
		return createZstdBackend(options)
	default:
		return nil, &UnsupportedCompressionError{ID: id}
	}
}

// readInto fills out from a decompressing reader. Only a clean end of
// stream ends the output early, a stream that holds more than len(out)
// bytes is an error.
func readInto(r io.Reader, out []byte) (int, error) {
	n := 0
	for n < len(out) {
		m, err := r.Read(out[n:])
		n += m
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return 0, streamError(err)
		}
	}
	// out is full, the stream has to end here
	var extra [1]byte
	for {
		m, err := r.Read(extra[:])
		if m > 0 {
			return 0, errOutputOverflow
		}
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return 0, streamError(err)
		}
	}
}

func streamError(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("truncated compressed stream: %w", err)
	}
	return err
}
