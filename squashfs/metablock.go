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
	"io"

	"golang.org/x/xerrors"

	"github.com/snapcore/sqfsmeta/logger"
	"github.com/snapcore/sqfsmeta/squashfs/internal"
)

const metadataHeaderSize = 2

// readAt reads exactly n bytes at off, a short read is an error.
func readAt(r io.ReaderAt, off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := r.ReadAt(buf, off)
	if read == n {
		return buf, nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return nil, xerrors.Errorf("cannot read %d bytes at offset %d: %w", n, off, err)
}

// blockReader decodes metadata blocks of one archive.
type blockReader struct {
	stream      io.ReaderAt
	compression Compressor
	swap        bool
	// check data archives store an extra marker byte after the header
	checkData bool
}

func (br *blockReader) headerSize() int64 {
	if br.checkData {
		return metadataHeaderSize + 1
	}
	return metadataHeaderSize
}

// read decodes the metadata block at start into out, which must have room
// for MetadataBlockSize bytes. It returns the number of decompressed bytes
// and the offset right after the block.
func (br *blockReader) read(start int64, out []byte) (int, int64, error) {
	hdr, err := readAt(br.stream, start, metadataHeaderSize)
	if err != nil {
		return 0, 0, &CorruptError{Table: "metadata block", Offset: start, Err: err}
	}
	if br.swap {
		internal.SwapArray(hdr, 2)
	}
	header := internal.ReadUint16(hdr)
	compressed := header&metadataUncompressedBit == 0
	size := int(header &^ metadataUncompressedBit)
	if size == 0 {
		size = metadataUncompressedBit
	}
	if size > MetadataBlockSize {
		return 0, 0, corruptf("metadata block", start, "block size %d larger than %d", size, MetadataBlockSize)
	}

	payloadStart := start + br.headerSize()
	payload, err := readAt(br.stream, payloadStart, size)
	if err != nil {
		return 0, 0, &CorruptError{Table: "metadata block", Offset: start, Err: err}
	}

	n := size
	if compressed {
		if br.compression == nil {
			return 0, 0, corruptf("metadata block", start, "compressed block in uncompressed archive")
		}
		n, err = br.compression.Decompress(payload, out[:MetadataBlockSize])
		if err != nil {
			return 0, 0, &CorruptError{Table: "metadata block", Offset: start, Err: err}
		}
	} else {
		copy(out, payload)
	}

	logger.Debugf("squashfs: metadata block at %d: %d bytes stored, %d bytes, compressed %v", start, size, n, compressed)
	return n, payloadStart + int64(size), nil
}

// EncodeMetadataBlock returns the on-disk form of one metadata block
// holding data. The block is stored literally when compression is nil or
// does not make it smaller.
func EncodeMetadataBlock(data []byte, compression Compressor, swap bool) ([]byte, error) {
	if len(data) > MetadataBlockSize {
		return nil, xerrors.Errorf("cannot encode metadata block of %d bytes", len(data))
	}
	payload := data
	header := uint16(len(data)) | metadataUncompressedBit
	if compression != nil && len(data) > 0 {
		c, err := compression.Compress(data)
		if err != nil {
			return nil, xerrors.Errorf("cannot compress metadata block: %w", err)
		}
		if len(c) < len(data) {
			payload = c
			header = uint16(len(c))
		}
	}

	out := make([]byte, metadataHeaderSize+len(payload))
	internal.PutUint16(out, header)
	if swap {
		internal.SwapArray(out[:metadataHeaderSize], 2)
	}
	copy(out[metadataHeaderSize:], payload)
	return out, nil
}

// MetadataWriter packs records into a table of metadata blocks. Records
// may span block boundaries.
type MetadataWriter struct {
	compression Compressor
	swap        bool

	pending []byte
	out     []byte
}

// NewMetadataWriter returns a writer producing blocks compressed with
// compression (nil for literal blocks) in the given byte order.
func NewMetadataWriter(compression Compressor, swap bool) *MetadataWriter {
	return &MetadataWriter{
		compression: compression,
		swap:        swap,
		pending:     make([]byte, 0, MetadataBlockSize),
	}
}

// Position is the reference of the next byte written.
func (w *MetadataWriter) Position() InodeRef {
	return NewInodeRef(uint32(len(w.out)), uint16(len(w.pending)))
}

func (w *MetadataWriter) Write(p []byte) (int, error) {
	written := len(p)
	for len(p) > 0 {
		room := MetadataBlockSize - len(w.pending)
		if room > len(p) {
			room = len(p)
		}
		w.pending = append(w.pending, p[:room]...)
		p = p[room:]
		if len(w.pending) == MetadataBlockSize {
			if err := w.emit(); err != nil {
				return written - len(p), err
			}
		}
	}
	return written, nil
}

func (w *MetadataWriter) emit() error {
	block, err := EncodeMetadataBlock(w.pending, w.compression, w.swap)
	if err != nil {
		return err
	}
	w.out = append(w.out, block...)
	w.pending = w.pending[:0]
	return nil
}

// Flush stores any partially filled block.
func (w *MetadataWriter) Flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	return w.emit()
}

// Bytes returns the encoded table, only complete after Flush.
func (w *MetadataWriter) Bytes() []byte {
	return w.out
}
