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
	"io/fs"
	"strings"

	"github.com/snapcore/sqfsmeta/logger"
)

// Archive is a read session over one squashfs archive. Decoded structures
// are in host form whatever the archive byte order.
type Archive struct {
	r       io.ReaderAt
	sb      *Superblock
	swapped bool
	comp    Compressor
	br      *blockReader
}

// Open reads the superblock and the compressor options of the archive in
// r and prepares the decompression backend.
func Open(r io.ReaderAt, opts *ReadOptions) (*Archive, error) {
	sb, swapped, err := ReadSuperblock(r, opts)
	if err != nil {
		return nil, err
	}

	a := &Archive{
		r:       r,
		sb:      sb,
		swapped: swapped,
	}

	var options []byte
	if sb.Flags.Has(FlagCompressorOptions) {
		// options are always stored literally, right after the superblock
		raw := &blockReader{stream: r, swap: swapped}
		buf := make([]byte, MetadataBlockSize)
		n, _, err := raw.read(SuperblockSize, buf)
		if err != nil {
			return nil, fmt.Errorf("cannot read compressor options: %w", err)
		}
		options = buf[:n]
		if swapped {
			swapCompressorOptions(sb.Compression, options)
		}
	}
	a.comp, err = NewCompressor(sb.Compression, options)
	if err != nil {
		return nil, err
	}
	a.br = &blockReader{
		stream:      r,
		compression: a.comp,
		swap:        swapped,
		checkData:   sb.Flags.Has(FlagCheckData),
	}
	logger.Debugf("squashfs: opened %s, swapped %v", sb, swapped)
	return a, nil
}

func (a *Archive) Superblock() *Superblock {
	return a.sb
}

// Swapped tells if the archive is big endian.
func (a *Archive) Swapped() bool {
	return a.swapped
}

func (a *Archive) Compressor() Compressor {
	return a.comp
}

// ReadBlock decodes the metadata block at the absolute offset start. It
// returns the decompressed bytes and the offset right after the block.
func (a *Archive) ReadBlock(start int64) ([]byte, int64, error) {
	buf := make([]byte, MetadataBlockSize)
	n, next, err := a.br.read(start, buf)
	if err != nil {
		return nil, 0, err
	}
	return buf[:n], next, nil
}

// Scan is the whole metadata of an archive.
type Scan struct {
	Superblock *Superblock
	Swapped    bool
	Inodes     *InodeTableScan
	Fragments  []FragmentEntry
	IDs        []uint32
}

// Scan reads the fragment table, the inode table and the id table.
func (a *Archive) Scan() (*Scan, error) {
	frags, err := a.ReadFragmentTable()
	if err != nil {
		return nil, err
	}
	inodes, err := a.ScanInodeTable()
	if err != nil {
		return nil, err
	}
	ids, err := a.ReadIDTable()
	if err != nil {
		return nil, err
	}
	return &Scan{
		Superblock: a.sb,
		Swapped:    a.swapped,
		Inodes:     inodes,
		Fragments:  frags,
		IDs:        ids,
	}, nil
}

var errNotDir = errors.New("not a directory")

// LookupPath resolves a slash separated path from the root directory.
func (a *Archive) LookupPath(scan *InodeTableScan, name string) (*Inode, error) {
	cur := scan.Root
	for _, elem := range strings.Split(name, "/") {
		if elem == "" || elem == "." {
			continue
		}
		if cur.Type.Basic() != DirType {
			return nil, &fs.PathError{Op: "lookup", Path: name, Err: errNotDir}
		}
		entries, err := a.ReadDir(cur)
		if err != nil {
			return nil, err
		}
		var found *DirectoryEntry
		for i := range entries {
			if entries[i].Name == elem {
				found = &entries[i]
				break
			}
		}
		if found == nil {
			return nil, &fs.PathError{Op: "lookup", Path: name, Err: fs.ErrNotExist}
		}
		cur, err = scan.Lookup(found.Ref)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}
