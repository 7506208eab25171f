// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024 Canonical Ltd
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
 */

package builder

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/snapcore/sqfsmeta/logger"
	"github.com/snapcore/sqfsmeta/squashfs"
)

// FileLayout is where the content of a regular file is stored.
type FileLayout struct {
	Size uint64
	// StartBlock is the absolute offset of the first data block.
	StartBlock uint64
	BlockSizes []uint32
	// Fragment holds the tail of the file at FragmentOffset, or is
	// squashfs.InvalidFragment.
	Fragment       uint32
	FragmentOffset uint32
}

// DataWriter stores the content of regular files.
type DataWriter interface {
	// WriteFile stores the size bytes of the file at path. duplicate is
	// set when identical content was stored before, the earlier layout
	// is returned then.
	WriteFile(path string, size int64) (layout *FileLayout, duplicate bool, err error)
}

// sink is the archive being written sequentially.
type sink struct {
	w   io.Writer
	off uint64
}

func (s *sink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	s.off += uint64(n)
	return n, err
}

type contentKey struct {
	size   int64
	digest uint64
}

type storedContent struct {
	path   string
	layout *FileLayout
}

type blockWriterOptions struct {
	BlockSize int
	// nil stores blocks literally
	DataCompression     squashfs.Compressor
	FragmentCompression squashfs.Compressor
	NoFragments         bool
	AlwaysFragments     bool
	NoDuplicates        bool
	// Digests are content digests computed ahead, by path
	Digests map[string]uint64
}

// blockWriter writes data blocks and fragment blocks to the archive.
type blockWriter struct {
	out  *sink
	opts blockWriterOptions

	fragments []squashfs.FragmentEntry
	pending   []byte

	seen map[contentKey][]storedContent

	dataBytes uint64
}

func newBlockWriter(out *sink, opts blockWriterOptions) *blockWriter {
	return &blockWriter{
		out:     out,
		opts:    opts,
		pending: make([]byte, 0, opts.BlockSize),
		seen:    make(map[contentKey][]storedContent),
	}
}

// writeBlock stores one block, compressed when that makes it smaller, and
// returns its size field.
func (bw *blockWriter) writeBlock(block []byte, comp squashfs.Compressor) (uint32, error) {
	payload := block
	size := uint32(len(block)) | squashfs.DataUncompressedBit
	if comp != nil {
		c, err := comp.Compress(block)
		if err != nil {
			return 0, fmt.Errorf("cannot compress block: %v", err)
		}
		if len(c) < len(block) {
			payload = c
			size = uint32(len(c))
		}
	}
	if _, err := bw.out.Write(payload); err != nil {
		return 0, err
	}
	bw.dataBytes += uint64(len(payload))
	return size, nil
}

// flushFragment stores the pending fragment block.
func (bw *blockWriter) flushFragment() error {
	if len(bw.pending) == 0 {
		return nil
	}
	start := bw.out.off
	size, err := bw.writeBlock(bw.pending, bw.opts.FragmentCompression)
	if err != nil {
		return err
	}
	bw.fragments = append(bw.fragments, squashfs.FragmentEntry{
		Start:        start,
		Size:         squashfs.DataBlockSize(size),
		Uncompressed: !squashfs.DataBlockCompressed(size),
	})
	logger.Debugf("fragment %d: %d bytes at %d", len(bw.fragments)-1, len(bw.pending), start)
	bw.pending = bw.pending[:0]
	return nil
}

// addFragment appends a file tail to the pending fragment block.
func (bw *blockWriter) addFragment(tail []byte) (index, offset uint32, err error) {
	if len(bw.pending)+len(tail) > bw.opts.BlockSize {
		if err := bw.flushFragment(); err != nil {
			return 0, 0, err
		}
	}
	index = uint32(len(bw.fragments))
	offset = uint32(len(bw.pending))
	bw.pending = append(bw.pending, tail...)
	return index, offset, nil
}

// Finish stores the last fragment block and returns the fragment table.
func (bw *blockWriter) Finish() ([]squashfs.FragmentEntry, error) {
	if err := bw.flushFragment(); err != nil {
		return nil, err
	}
	return bw.fragments, nil
}

func (bw *blockWriter) useFragment(size int64) bool {
	if bw.opts.NoFragments {
		return false
	}
	return size < int64(bw.opts.BlockSize) || bw.opts.AlwaysFragments
}

func digestFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

func sameContent(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	bufA := make([]byte, 64*1024)
	bufB := make([]byte, 64*1024)
	for {
		na, errA := io.ReadFull(fa, bufA)
		nb, errB := io.ReadFull(fb, bufB)
		if na != nb || !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		if errA == io.EOF || errA == io.ErrUnexpectedEOF {
			return errB == io.EOF || errB == io.ErrUnexpectedEOF, nil
		}
		if errA != nil {
			return false, errA
		}
		if errB != nil {
			return false, errB
		}
	}
}

func (bw *blockWriter) WriteFile(path string, size int64) (*FileLayout, bool, error) {
	if size == 0 {
		return &FileLayout{Fragment: squashfs.InvalidFragment}, false, nil
	}

	var key contentKey
	if !bw.opts.NoDuplicates {
		digest, ok := bw.opts.Digests[path]
		if !ok {
			var err error
			digest, err = digestFile(path)
			if err != nil {
				return nil, false, err
			}
		}
		key = contentKey{size: size, digest: digest}
		for _, prev := range bw.seen[key] {
			same, err := sameContent(prev.path, path)
			if err != nil {
				return nil, false, err
			}
			if same {
				logger.Debugf("%q has the same content as %q", path, prev.path)
				return prev.layout, true, nil
			}
		}
	}

	layout, err := bw.store(path, size)
	if err != nil {
		return nil, false, err
	}
	if !bw.opts.NoDuplicates {
		bw.seen[key] = append(bw.seen[key], storedContent{path: path, layout: layout})
	}
	return layout, false, nil
}

func (bw *blockWriter) store(path string, size int64) (*FileLayout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	layout := &FileLayout{
		Size:       uint64(size),
		StartBlock: bw.out.off,
		Fragment:   squashfs.InvalidFragment,
	}
	bs := int64(bw.opts.BlockSize)
	full := size / bs
	tail := size % bs
	if !bw.useFragment(size) && tail > 0 {
		// the tail gets a short block of its own
		full++
		tail = 0
	}

	buf := make([]byte, bs)
	remaining := size
	for i := int64(0); i < full; i++ {
		n := bs
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(f, buf[:n]); err != nil {
			return nil, fmt.Errorf("cannot read %q: %v", path, err)
		}
		blockSize, err := bw.writeBlock(buf[:n], bw.opts.DataCompression)
		if err != nil {
			return nil, err
		}
		layout.BlockSizes = append(layout.BlockSizes, blockSize)
		remaining -= n
	}
	if tail > 0 {
		if _, err := io.ReadFull(f, buf[:tail]); err != nil {
			return nil, fmt.Errorf("cannot read %q: %v", path, err)
		}
		layout.Fragment, layout.FragmentOffset, err = bw.addFragment(buf[:tail])
		if err != nil {
			return nil, err
		}
	}
	return layout, nil
}
