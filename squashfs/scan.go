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
	"github.com/snapcore/sqfsmeta/logger"
)

// InodeTableScan is the decompressed inode table of an archive together
// with what was learned walking it.
type InodeTableScan struct {
	// Table holds the decompressed inode table.
	Table []byte
	// RootBlock is the offset into Table of the decompressed block
	// holding the root inode.
	RootBlock int
	Root      *Inode
	// Inodes are the records in table order, the root excluded.
	Inodes []*Inode

	// the counters exclude the root directory
	Files        int
	Directories  int
	Symlinks     int
	BlockDevices int
	CharDevices  int
	Fifos        int
	Sockets      int

	// UncompressedFileBytes is the sum of the sizes of regular files.
	UncompressedFileBytes uint64
	// CompressedFileBytes is the sum of the on-disk sizes of the data
	// blocks listed by regular files.
	CompressedFileBytes uint64
	// FragmentBytes is the sum of the file tails stored in fragments.
	FragmentBytes uint64
	// UncompressedDirBytes is the sum of the listing sizes of the
	// directories stored before the root directory listing.
	UncompressedDirBytes uint64
	// DirectoryStartBlock is the directory table block holding the
	// root directory listing.
	DirectoryStartBlock uint32

	decoder inodeDecoder
	rootPos int
	// blocks maps the on-disk offset of each metadata block, relative to
	// the start of the table, to its offset into Table.
	blocks    map[uint32]int
	positions map[int]int
}

// Lookup returns the inode referenced by ref.
func (s *InodeTableScan) Lookup(ref InodeRef) (*Inode, error) {
	pos, err := s.Position(ref)
	if err != nil {
		return nil, err
	}
	if i, ok := s.positions[pos]; ok {
		return s.Inodes[i], nil
	}
	if pos == s.rootPos {
		return s.Root, nil
	}
	n, _, err := s.decoder.decode(s.Table, pos)
	return n, err
}

// Position resolves ref to an offset into Table.
func (s *InodeTableScan) Position(ref InodeRef) (int, error) {
	start, ok := s.blocks[ref.Block()]
	if !ok {
		return 0, corruptf("inode table", int64(ref.Block()), "no metadata block starts at inode reference %s", ref)
	}
	pos := start + int(ref.Offset())
	if pos >= len(s.Table) {
		return 0, corruptf("inode table", int64(pos), "inode reference %s past end of table", ref)
	}
	return pos, nil
}

// count classifies one record. The root is never passed here.
func (s *InodeTableScan) count(n *Inode, blockSize uint32) {
	switch n.Type.Basic() {
	case FileType:
		s.Files++
		s.UncompressedFileBytes += n.Size
		for _, bs := range n.BlockSizes {
			s.CompressedFileBytes += uint64(DataBlockSize(bs))
		}
		if n.HasFragment() {
			s.FragmentBytes += n.Size - uint64(len(n.BlockSizes))*uint64(blockSize)
		}
	case DirType:
		s.Directories++
		if n.StartBlock < uint64(s.DirectoryStartBlock) {
			s.UncompressedDirBytes += n.Size
		}
	case SymlinkType:
		s.Symlinks++
	case BlockDevType:
		s.BlockDevices++
	case CharDevType:
		s.CharDevices++
	case FifoType:
		s.Fifos++
	case SocketType:
		s.Sockets++
	}
}

// ScanInodes reads the inode table stored from start to end (absolute
// offsets) and walks its records. root locates the root directory inode,
// its block offset relative to start.
func (a *Archive) ScanInodes(start, end int64, root InodeRef) (*InodeTableScan, error) {
	s := &InodeTableScan{
		RootBlock: -1,
		decoder:   inodeDecoder{blockLog: a.sb.BlockLog, swap: a.swapped},
		blocks:    make(map[uint32]int),
		positions: make(map[int]int),
	}

	table := make([]byte, 0, MetadataBlockSize)
	for off := start; off < end; {
		if cap(table)-len(table) < MetadataBlockSize {
			grown := make([]byte, len(table), cap(table)+MetadataBlockSize)
			copy(grown, table)
			table = grown
		}
		rel := off - start
		if rel > 0xffffffff {
			return nil, corruptf("inode table", off, "table larger than 4GiB")
		}
		s.blocks[uint32(rel)] = len(table)
		if uint32(rel) == root.Block() {
			s.RootBlock = len(table)
		}
		n, next, err := a.br.read(off, table[len(table):cap(table)])
		if err != nil {
			return nil, err
		}
		table = table[:len(table)+n]
		off = next
	}
	s.Table = table

	if s.RootBlock < 0 {
		return nil, corruptf("inode table", start+int64(root.Block()), "no metadata block at root inode %s", root)
	}
	rootPos := s.RootBlock + int(root.Offset())
	rootInode, _, err := s.decoder.decode(table, rootPos)
	if err != nil {
		return nil, err
	}
	if rootInode.Type.Basic() != DirType {
		return nil, corruptf("inode table", int64(rootPos), "root inode is a %s", rootInode.Type)
	}
	s.Root = rootInode
	s.rootPos = rootPos
	s.DirectoryStartBlock = uint32(rootInode.StartBlock)

	for pos := 0; pos < rootPos; {
		n, size, err := s.decoder.decode(table, pos)
		if err != nil {
			return nil, err
		}
		s.positions[pos] = len(s.Inodes)
		s.Inodes = append(s.Inodes, n)
		s.count(n, a.sb.BlockSize)
		pos += size
		if pos > rootPos {
			return nil, corruptf("inode table", int64(pos), "record overlaps the root inode at %d", rootPos)
		}
	}
	if count := uint32(len(s.Inodes) + 1); count != a.sb.Inodes {
		return nil, corruptf("inode table", start, "%d inodes, superblock has %d", count, a.sb.Inodes)
	}

	logger.Debugf("squashfs: scanned %d bytes of inode table, %d inodes before the root", len(table), len(s.Inodes))
	return s, nil
}

// ScanInodeTable scans the inode table described by the superblock.
func (a *Archive) ScanInodeTable() (*InodeTableScan, error) {
	return a.ScanInodes(int64(a.sb.InodeTableStart), int64(a.sb.DirectoryTableStart), a.sb.RootInode)
}
