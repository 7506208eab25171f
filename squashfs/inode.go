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
	"fmt"

	"github.com/snapcore/sqfsmeta/squashfs/internal"
)

// InodeType is the type tag of an inode record.
type InodeType uint16

// Inode types supported by squashfs
const (
	DirType         InodeType = 1
	FileType        InodeType = 2
	SymlinkType     InodeType = 3
	BlockDevType    InodeType = 4
	CharDevType     InodeType = 5
	FifoType        InodeType = 6
	SocketType      InodeType = 7
	ExtDirType      InodeType = 8
	ExtFileType     InodeType = 9
	ExtSymlinkType  InodeType = 10
	ExtBlockDevType InodeType = 11
	ExtCharDevType  InodeType = 12
	ExtFifoType     InodeType = 13
	ExtSocketType   InodeType = 14

	extendedTypeOffset = 7
)

var inodeTypeNames = [...]string{
	DirType:      "directory",
	FileType:     "file",
	SymlinkType:  "symlink",
	BlockDevType: "block device",
	CharDevType:  "char device",
	FifoType:     "fifo",
	SocketType:   "socket",
}

func (t InodeType) Valid() bool {
	return t >= DirType && t <= ExtSocketType
}

// Basic maps extended types to their basic counterpart, the type used
// in directory entries.
func (t InodeType) Basic() InodeType {
	if t > SocketType {
		return t - extendedTypeOffset
	}
	return t
}

func (t InodeType) Extended() bool {
	return t > SocketType
}

func (t InodeType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("inode type %d", uint16(t))
	}
	name := inodeTypeNames[t.Basic()]
	if t.Extended() {
		return "extended " + name
	}
	return name
}

// DirectoryIndex speeds up lookups in large directories, one is stored
// per metadata block of the listing.
type DirectoryIndex struct {
	// Index is the byte offset into the listing
	Index uint32
	// StartBlock of the metadata block holding that part of the listing
	StartBlock uint32
	Name       string
}

// Inode is a decoded inode record of any type. Which fields are
// meaningful depends on Type.
type Inode struct {
	Type     InodeType
	Mode     uint16
	UIDIndex uint16
	GIDIndex uint16
	Mtime    uint32
	Number   uint32

	NLink uint32
	// StartBlock is the absolute offset of the first data block of a
	// file, or the directory table block holding a directory listing.
	StartBlock uint64
	// Offset is the listing offset inside the StartBlock block for
	// directories, the offset inside the fragment for files.
	Offset uint32
	// Size is the file size, the directory listing size (including 3
	// bytes for the virtual "." and ".." entries) or the symlink target
	// length.
	Size     uint64
	Parent   uint32
	Fragment uint32
	Sparse   uint64
	Xattr    uint32
	Rdev     uint32

	BlockSizes []uint32
	Target     string
	Index      []DirectoryIndex
}

// HasFragment tells if the tail of the file is stored in a fragment.
func (n *Inode) HasFragment() bool {
	return n.Fragment != InvalidFragment
}

var (
	baseInodeLayout = internal.Layout{
		{Offset: 0, Width: 2},  // inode_type
		{Offset: 2, Width: 2},  // mode
		{Offset: 4, Width: 2},  // uid
		{Offset: 6, Width: 2},  // guid
		{Offset: 8, Width: 4},  // mtime
		{Offset: 12, Width: 4}, // inode_number
	}
	dirInodeLayout = baseInodeLayout.Extend(
		internal.Field{Offset: 16, Width: 4}, // start_block
		internal.Field{Offset: 20, Width: 4}, // nlink
		internal.Field{Offset: 24, Width: 2}, // file_size
		internal.Field{Offset: 26, Width: 2}, // offset
		internal.Field{Offset: 28, Width: 4}, // parent_inode
	)
	extDirInodeLayout = baseInodeLayout.Extend(
		internal.Field{Offset: 16, Width: 4}, // nlink
		internal.Field{Offset: 20, Width: 4}, // file_size
		internal.Field{Offset: 24, Width: 4}, // start_block
		internal.Field{Offset: 28, Width: 4}, // parent_inode
		internal.Field{Offset: 32, Width: 2}, // i_count
		internal.Field{Offset: 34, Width: 2}, // offset
		internal.Field{Offset: 36, Width: 4}, // xattr
	)
	fileInodeLayout = baseInodeLayout.Extend(
		internal.Field{Offset: 16, Width: 4}, // start_block
		internal.Field{Offset: 20, Width: 4}, // fragment
		internal.Field{Offset: 24, Width: 4}, // offset
		internal.Field{Offset: 28, Width: 4}, // file_size
	)
	extFileInodeLayout = baseInodeLayout.Extend(
		internal.Field{Offset: 16, Width: 8}, // start_block
		internal.Field{Offset: 24, Width: 8}, // file_size
		internal.Field{Offset: 32, Width: 8}, // sparse
		internal.Field{Offset: 40, Width: 4}, // nlink
		internal.Field{Offset: 44, Width: 4}, // fragment
		internal.Field{Offset: 48, Width: 4}, // offset
		internal.Field{Offset: 52, Width: 4}, // xattr
	)
	symlinkInodeLayout = baseInodeLayout.Extend(
		internal.Field{Offset: 16, Width: 4}, // nlink
		internal.Field{Offset: 20, Width: 4}, // symlink_size
	)
	devInodeLayout = baseInodeLayout.Extend(
		internal.Field{Offset: 16, Width: 4}, // nlink
		internal.Field{Offset: 20, Width: 4}, // rdev
	)
	extDevInodeLayout = devInodeLayout.Extend(
		internal.Field{Offset: 24, Width: 4}, // xattr
	)
	ipcInodeLayout = baseInodeLayout.Extend(
		internal.Field{Offset: 16, Width: 4}, // nlink
	)
	extIpcInodeLayout = ipcInodeLayout.Extend(
		internal.Field{Offset: 20, Width: 4}, // xattr
	)
	directoryIndexLayout = internal.Layout{
		{Offset: 0, Width: 4}, // index
		{Offset: 4, Width: 4}, // start_block
		{Offset: 8, Width: 4}, // size
	}
)

const directoryIndexSize = 12

// inodeLayouts maps each type to the fixed part of its record.
var inodeLayouts = map[InodeType]internal.Layout{
	DirType:         dirInodeLayout,
	FileType:        fileInodeLayout,
	SymlinkType:     symlinkInodeLayout,
	BlockDevType:    devInodeLayout,
	CharDevType:     devInodeLayout,
	FifoType:        ipcInodeLayout,
	SocketType:      ipcInodeLayout,
	ExtDirType:      extDirInodeLayout,
	ExtFileType:     extFileInodeLayout,
	ExtSymlinkType:  symlinkInodeLayout,
	ExtBlockDevType: extDevInodeLayout,
	ExtCharDevType:  extDevInodeLayout,
	ExtFifoType:     extIpcInodeLayout,
	ExtSocketType:   extIpcInodeLayout,
}

// fileBlockCount is the number of entries in the block list of a file.
// With a fragment the tail is not stored in a block of its own.
func fileBlockCount(size uint64, fragment uint32, blockLog uint16) uint64 {
	if fragment == InvalidFragment {
		return (size + (uint64(1) << blockLog) - 1) >> blockLog
	}
	return size >> blockLog
}

// inodeDecoder decodes records of one inode table.
type inodeDecoder struct {
	blockLog uint16
	swap     bool
}

// record copies the next size bytes at pos in host byte order.
func (d *inodeDecoder) record(table []byte, pos, size int, l internal.Layout) ([]byte, error) {
	if pos+size > len(table) {
		return nil, corruptf("inode table", int64(pos), "record of %d bytes past end of table (%d bytes)", size, len(table))
	}
	b := make([]byte, size)
	copy(b, table[pos:pos+size])
	if d.swap && l != nil {
		internal.Swap(b, l)
	}
	return b, nil
}

// peekType returns the type tag of the record at pos.
func (d *inodeDecoder) peekType(table []byte, pos int) (InodeType, error) {
	b, err := d.record(table, pos, 2, internal.Layout{{Offset: 0, Width: 2}})
	if err != nil {
		return 0, err
	}
	return InodeType(internal.ReadUint16(b)), nil
}

// decode decodes the inode record at pos and returns it with the size of
// the record.
func (d *inodeDecoder) decode(table []byte, pos int) (*Inode, int, error) {
	itype, err := d.peekType(table, pos)
	if err != nil {
		return nil, 0, err
	}
	l, ok := inodeLayouts[itype]
	if !ok {
		return nil, 0, &UnknownInodeTypeError{Type: uint16(itype), Offset: int64(pos)}
	}
	b, err := d.record(table, pos, l.Size(), l)
	if err != nil {
		return nil, 0, err
	}

	n := &Inode{
		Type:     itype,
		Mode:     internal.ReadUint16(b[2:]),
		UIDIndex: internal.ReadUint16(b[4:]),
		GIDIndex: internal.ReadUint16(b[6:]),
		Mtime:    internal.ReadUint32(b[8:]),
		Number:   internal.ReadUint32(b[12:]),
	}
	size := len(b)

	switch itype {
	case DirType:
		n.StartBlock = uint64(internal.ReadUint32(b[16:]))
		n.NLink = internal.ReadUint32(b[20:])
		n.Size = uint64(internal.ReadUint16(b[24:]))
		n.Offset = uint32(internal.ReadUint16(b[26:]))
		n.Parent = internal.ReadUint32(b[28:])
	case ExtDirType:
		n.NLink = internal.ReadUint32(b[16:])
		n.Size = uint64(internal.ReadUint32(b[20:]))
		n.StartBlock = uint64(internal.ReadUint32(b[24:]))
		n.Parent = internal.ReadUint32(b[28:])
		count := int(internal.ReadUint16(b[32:]))
		n.Offset = uint32(internal.ReadUint16(b[34:]))
		n.Xattr = internal.ReadUint32(b[36:])
		for i := 0; i < count; i++ {
			idx, isize, err := d.decodeDirectoryIndex(table, pos+size)
			if err != nil {
				return nil, 0, err
			}
			n.Index = append(n.Index, idx)
			size += isize
		}
	case FileType:
		n.StartBlock = uint64(internal.ReadUint32(b[16:]))
		n.Fragment = internal.ReadUint32(b[20:])
		n.Offset = internal.ReadUint32(b[24:])
		n.Size = uint64(internal.ReadUint32(b[28:]))
		n.NLink = 1
	case ExtFileType:
		n.StartBlock = internal.ReadUint64(b[16:])
		n.Size = internal.ReadUint64(b[24:])
		n.Sparse = internal.ReadUint64(b[32:])
		n.NLink = internal.ReadUint32(b[40:])
		n.Fragment = internal.ReadUint32(b[44:])
		n.Offset = internal.ReadUint32(b[48:])
		n.Xattr = internal.ReadUint32(b[52:])
	case SymlinkType, ExtSymlinkType:
		n.NLink = internal.ReadUint32(b[16:])
		n.Size = uint64(internal.ReadUint32(b[20:]))
		if n.Size > uint64(len(table)) {
			return nil, 0, corruptf("inode table", int64(pos), "symlink size %d too large", n.Size)
		}
		target, err := d.record(table, pos+size, int(n.Size), nil)
		if err != nil {
			return nil, 0, err
		}
		n.Target = string(target)
		size += len(target)
		if itype == ExtSymlinkType {
			x, err := d.record(table, pos+size, 4, internal.Layout{{Offset: 0, Width: 4}})
			if err != nil {
				return nil, 0, err
			}
			n.Xattr = internal.ReadUint32(x)
			size += 4
		}
	case BlockDevType, CharDevType, ExtBlockDevType, ExtCharDevType:
		n.NLink = internal.ReadUint32(b[16:])
		n.Rdev = internal.ReadUint32(b[20:])
		if itype.Extended() {
			n.Xattr = internal.ReadUint32(b[24:])
		}
	case FifoType, SocketType, ExtFifoType, ExtSocketType:
		n.NLink = internal.ReadUint32(b[16:])
		if itype.Extended() {
			n.Xattr = internal.ReadUint32(b[20:])
		}
	}

	if itype == FileType || itype == ExtFileType {
		blocks := fileBlockCount(n.Size, n.Fragment, d.blockLog)
		if blocks*4 > uint64(len(table)-pos-size) {
			return nil, 0, corruptf("inode table", int64(pos), "block list of %d entries past end of table", blocks)
		}
		list, err := d.record(table, pos+size, int(blocks)*4, nil)
		if err != nil {
			return nil, 0, err
		}
		if d.swap {
			internal.SwapArray(list, 4)
		}
		n.BlockSizes = make([]uint32, blocks)
		for i := range n.BlockSizes {
			n.BlockSizes[i] = internal.ReadUint32(list[i*4:])
		}
		size += len(list)
	}

	return n, size, nil
}

func (d *inodeDecoder) decodeDirectoryIndex(table []byte, pos int) (DirectoryIndex, int, error) {
	b, err := d.record(table, pos, directoryIndexSize, directoryIndexLayout)
	if err != nil {
		return DirectoryIndex{}, 0, err
	}
	nameLen := int(internal.ReadUint32(b[8:])) + 1
	if nameLen > MaxNameLen {
		return DirectoryIndex{}, 0, corruptf("inode table", int64(pos), "directory index name of %d bytes", nameLen)
	}
	name, err := d.record(table, pos+directoryIndexSize, nameLen, nil)
	if err != nil {
		return DirectoryIndex{}, 0, err
	}
	idx := DirectoryIndex{
		Index:      internal.ReadUint32(b[0:]),
		StartBlock: internal.ReadUint32(b[4:]),
		Name:       string(name),
	}
	return idx, directoryIndexSize + nameLen, nil
}

// EncodeInode returns the on-disk record of n, big endian if swap is set.
func EncodeInode(n *Inode, swap bool) ([]byte, error) {
	l, ok := inodeLayouts[n.Type]
	if !ok {
		return nil, &UnknownInodeTypeError{Type: uint16(n.Type)}
	}
	b := make([]byte, l.Size())
	internal.PutUint16(b[0:], uint16(n.Type))
	internal.PutUint16(b[2:], n.Mode)
	internal.PutUint16(b[4:], n.UIDIndex)
	internal.PutUint16(b[6:], n.GIDIndex)
	internal.PutUint32(b[8:], n.Mtime)
	internal.PutUint32(b[12:], n.Number)

	var tail []byte
	switch n.Type {
	case DirType:
		if n.Size > 0xffff || n.StartBlock > 0xffffffff || n.Offset > 0xffff {
			return nil, fmt.Errorf("squashfs: directory listing too large for a basic directory inode")
		}
		internal.PutUint32(b[16:], uint32(n.StartBlock))
		internal.PutUint32(b[20:], n.NLink)
		internal.PutUint16(b[24:], uint16(n.Size))
		internal.PutUint16(b[26:], uint16(n.Offset))
		internal.PutUint32(b[28:], n.Parent)
	case ExtDirType:
		if len(n.Index) > 0xffff {
			return nil, fmt.Errorf("squashfs: too many directory index entries")
		}
		internal.PutUint32(b[16:], n.NLink)
		internal.PutUint32(b[20:], uint32(n.Size))
		internal.PutUint32(b[24:], uint32(n.StartBlock))
		internal.PutUint32(b[28:], n.Parent)
		internal.PutUint16(b[32:], uint16(len(n.Index)))
		internal.PutUint16(b[34:], uint16(n.Offset))
		internal.PutUint32(b[36:], n.Xattr)
		for _, idx := range n.Index {
			if len(idx.Name) == 0 || len(idx.Name) > MaxNameLen {
				return nil, fmt.Errorf("squashfs: invalid directory index name %q", idx.Name)
			}
			ib := make([]byte, directoryIndexSize, directoryIndexSize+len(idx.Name))
			internal.PutUint32(ib[0:], idx.Index)
			internal.PutUint32(ib[4:], idx.StartBlock)
			internal.PutUint32(ib[8:], uint32(len(idx.Name)-1))
			if swap {
				internal.Swap(ib, directoryIndexLayout)
			}
			tail = append(tail, append(ib, idx.Name...)...)
		}
	case FileType:
		if n.StartBlock > 0xffffffff || n.Size > 0xffffffff {
			return nil, fmt.Errorf("squashfs: file too large for a basic file inode")
		}
		internal.PutUint32(b[16:], uint32(n.StartBlock))
		internal.PutUint32(b[20:], n.Fragment)
		internal.PutUint32(b[24:], n.Offset)
		internal.PutUint32(b[28:], uint32(n.Size))
	case ExtFileType:
		internal.PutUint64(b[16:], n.StartBlock)
		internal.PutUint64(b[24:], n.Size)
		internal.PutUint64(b[32:], n.Sparse)
		internal.PutUint32(b[40:], n.NLink)
		internal.PutUint32(b[44:], n.Fragment)
		internal.PutUint32(b[48:], n.Offset)
		internal.PutUint32(b[52:], n.Xattr)
	case SymlinkType, ExtSymlinkType:
		internal.PutUint32(b[16:], n.NLink)
		internal.PutUint32(b[20:], uint32(len(n.Target)))
		tail = append(tail, n.Target...)
		if n.Type == ExtSymlinkType {
			x := make([]byte, 4)
			internal.PutUint32(x, n.Xattr)
			if swap {
				internal.SwapArray(x, 4)
			}
			tail = append(tail, x...)
		}
	case BlockDevType, CharDevType, ExtBlockDevType, ExtCharDevType:
		internal.PutUint32(b[16:], n.NLink)
		internal.PutUint32(b[20:], n.Rdev)
		if n.Type.Extended() {
			internal.PutUint32(b[24:], n.Xattr)
		}
	case FifoType, SocketType, ExtFifoType, ExtSocketType:
		internal.PutUint32(b[16:], n.NLink)
		if n.Type.Extended() {
			internal.PutUint32(b[20:], n.Xattr)
		}
	}
	if swap {
		internal.Swap(b, l)
	}

	if n.Type == FileType || n.Type == ExtFileType {
		list := make([]byte, 4*len(n.BlockSizes))
		for i, bs := range n.BlockSizes {
			internal.PutUint32(list[i*4:], bs)
		}
		if swap {
			internal.SwapArray(list, 4)
		}
		tail = append(tail, list...)
	}
	return append(b, tail...), nil
}
