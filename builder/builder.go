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
	"fmt"
	"math"
	"math/bits"
	"os"
	"time"

	"github.com/snapcore/sqfsmeta/logger"
	"github.com/snapcore/sqfsmeta/osutil"
	"github.com/snapcore/sqfsmeta/squashfs"
)

const padding = 4096

var timeNow = time.Now

// Summary describes a built archive.
type Summary struct {
	Superblock *squashfs.Superblock

	Files       int
	Directories int
	Symlinks    int
	Devices     int
	Fifos       int
	Sockets     int
	// HardLinks counts directory entries sharing the inode of an
	// earlier one.
	HardLinks int
	// Duplicates counts files whose content was stored before.
	Duplicates int
	// Skipped counts source entries that could not be added.
	Skipped int

	DataBytes uint64
	BytesUsed uint64
	// Size is BytesUsed with padding.
	Size uint64
}

type build struct {
	opts *Options
	swap bool
	reg  *Registry
	data DataWriter

	inodes *squashfs.MetadataWriter
	dirs   *squashfs.MetadataWriter

	ids     []uint32
	idIndex map[uint32]uint16

	summary *Summary
}

// Build writes an archive of the tree at source to dest.
func Build(source, dest string, opts *Options) (summary *Summary, err error) {
	if opts == nil {
		opts = &Options{}
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	id, err := squashfs.ParseCompression(opts.Compression)
	if err != nil {
		return nil, err
	}
	comp, err := squashfs.NewCompressor(id, nil)
	if err != nil {
		return nil, err
	}
	pick := func(literal bool) squashfs.Compressor {
		if literal {
			return nil
		}
		return comp
	}

	reg := NewRegistry()
	if opts.SortFile != "" {
		if _, err := LoadSortList(reg, opts.SortFile, source); err != nil {
			return nil, err
		}
	}
	w := &walker{excludes: opts.Exclude, reg: reg, links: make(map[osutil.FileID]*node)}
	root, err := w.walkRoot(source)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(dest)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dest)
		}
	}()

	out := &sink{w: f}
	if _, err := out.Write(make([]byte, squashfs.SuperblockSize)); err != nil {
		return nil, err
	}
	order := emissionOrder(w.files)
	var digests map[string]uint64
	if !opts.NoDuplicates {
		var paths []string
		for _, sf := range order {
			if sf.node.id.Size > 0 {
				paths = append(paths, sf.path)
			}
		}
		digests, err = digestFiles(paths, opts.Processors)
		if err != nil {
			return nil, err
		}
	}
	bw := newBlockWriter(out, blockWriterOptions{
		BlockSize:           int(opts.BlockSize),
		DataCompression:     pick(opts.UncompressedData),
		FragmentCompression: pick(opts.UncompressedFragments),
		NoFragments:         opts.NoFragments,
		AlwaysFragments:     opts.AlwaysFragments,
		NoDuplicates:        opts.NoDuplicates,
		Digests:             digests,
	})
	b := &build{
		opts:    opts,
		swap:    opts.BigEndian,
		reg:     reg,
		data:    bw,
		inodes:  squashfs.NewMetadataWriter(pick(opts.UncompressedInodes), opts.BigEndian),
		dirs:    squashfs.NewMetadataWriter(pick(opts.UncompressedInodes), opts.BigEndian),
		idIndex: make(map[uint32]uint16),
		summary: &Summary{Skipped: w.skipped},
	}

	count := b.number(root, order)
	for _, sf := range order {
		if err := b.writeFile(sf); err != nil {
			return nil, err
		}
	}
	if err := b.writeDir(root, count+1); err != nil {
		return nil, err
	}

	fragments, err := bw.Finish()
	if err != nil {
		return nil, err
	}
	if err := b.inodes.Flush(); err != nil {
		return nil, err
	}
	if err := b.dirs.Flush(); err != nil {
		return nil, err
	}

	sb := &squashfs.Superblock{
		Inodes:            count,
		MkfsTime:          b.mkfsTime(),
		BlockSize:         opts.BlockSize,
		Fragments:         uint32(len(fragments)),
		Compression:       id,
		BlockLog:          uint16(bits.TrailingZeros32(opts.BlockSize)),
		Flags:             opts.flags(),
		RootInode:         root.ref,
		XattrIDTableStart: squashfs.InvalidTable,
		LookupTableStart:  squashfs.InvalidTable,
		Major:             squashfs.MajorVersion,
		Minor:             squashfs.MinorVersion,
	}

	sb.InodeTableStart = out.off
	if _, err := out.Write(b.inodes.Bytes()); err != nil {
		return nil, err
	}
	sb.DirectoryTableStart = out.off
	if _, err := out.Write(b.dirs.Bytes()); err != nil {
		return nil, err
	}
	table, start, err := squashfs.EncodeIndexedTable(squashfs.EncodeFragmentEntries(fragments, b.swap), comp, b.swap, out.off)
	if err != nil {
		return nil, err
	}
	sb.FragmentTableStart = start
	if _, err := out.Write(table); err != nil {
		return nil, err
	}
	if len(b.ids) > math.MaxUint16 {
		return nil, fmt.Errorf("cannot build archive: %d distinct uids and gids", len(b.ids))
	}
	sb.IDs = uint16(len(b.ids))
	table, start, err = squashfs.EncodeIndexedTable(squashfs.EncodeIDs(b.ids, b.swap), comp, b.swap, out.off)
	if err != nil {
		return nil, err
	}
	sb.IDTableStart = start
	if _, err := out.Write(table); err != nil {
		return nil, err
	}
	sb.BytesUsed = out.off

	if !opts.NoPadding {
		if rem := out.off % padding; rem != 0 {
			if _, err := out.Write(make([]byte, padding-rem)); err != nil {
				return nil, err
			}
		}
	}
	if _, err := f.WriteAt(sb.Encode(b.swap), 0); err != nil {
		return nil, err
	}

	b.summary.Superblock = sb
	b.summary.DataBytes = bw.dataBytes
	b.summary.BytesUsed = sb.BytesUsed
	b.summary.Size = out.off
	logger.Debugf("built %s: %s", dest, sb)
	return b.summary, nil
}

func (b *build) mkfsTime() uint32 {
	if b.opts.MkfsTime != 0 {
		return uint32(b.opts.MkfsTime)
	}
	if epoch := osutil.GetenvInt64("SOURCE_DATE_EPOCH"); epoch > 0 && epoch <= math.MaxUint32 {
		return uint32(epoch)
	}
	return uint32(timeNow().Unix())
}

// number assigns inode numbers in the order inodes are written: regular
// files in emission order, then the other inodes of each directory
// before the directory itself. The root comes last, its number is the
// inode count.
func (b *build) number(root *node, order []*sourceFile) uint32 {
	var n uint32
	for _, sf := range order {
		if sf.node.number == 0 {
			n++
			sf.node.number = n
		}
	}
	var walk func(dir *node)
	walk = func(dir *node) {
		for _, de := range dir.children {
			switch {
			case de.node.typ == squashfs.DirType:
				walk(de.node)
			case de.node.number == 0:
				n++
				de.node.number = n
			}
		}
		n++
		dir.number = n
	}
	walk(root)
	return n
}

func (b *build) idFor(v uint32) uint16 {
	if i, ok := b.idIndex[v]; ok {
		return i
	}
	i := uint16(len(b.ids))
	b.ids = append(b.ids, v)
	b.idIndex[v] = i
	return i
}

func (b *build) header(n *node, t squashfs.InodeType) squashfs.Inode {
	return squashfs.Inode{
		Type:     t,
		Mode:     uint16(n.id.Mode & 0xfff),
		UIDIndex: b.idFor(n.id.Uid),
		GIDIndex: b.idFor(n.id.Gid),
		Mtime:    uint32(n.id.Mtime.Unix()),
		Number:   n.number,
	}
}

func (b *build) writeInode(n *squashfs.Inode) (squashfs.InodeRef, error) {
	ref := b.inodes.Position()
	rec, err := squashfs.EncodeInode(n, b.swap)
	if err != nil {
		return 0, err
	}
	if _, err := b.inodes.Write(rec); err != nil {
		return 0, err
	}
	return ref, nil
}

// writeFile stores the content and the inode of a regular file, unless
// the same source file was written through another path.
func (b *build) writeFile(sf *sourceFile) error {
	n := sf.node
	dev, ino := n.id.Device, n.id.Inode
	if ref, ok := b.reg.LookupWritten(dev, ino); ok {
		logger.Debugf("%q is a hard link to inode %s", sf.path, ref)
		b.summary.HardLinks++
		return nil
	}

	logger.Debugf("writing %q, priority %d", sf.path, sf.priority)
	layout, dup, err := b.data.WriteFile(sf.path, n.id.Size)
	if err != nil {
		return err
	}
	if dup {
		b.summary.Duplicates++
	}

	t := squashfs.FileType
	if n.links > 1 || layout.StartBlock > math.MaxUint32 || layout.Size > math.MaxUint32 {
		t = squashfs.ExtFileType
	}
	inode := b.header(n, t)
	inode.NLink = n.links
	inode.StartBlock = layout.StartBlock
	inode.Size = layout.Size
	inode.Fragment = layout.Fragment
	inode.Offset = layout.FragmentOffset
	inode.BlockSizes = layout.BlockSizes
	inode.Xattr = squashfs.NoXattr

	ref, err := b.writeInode(&inode)
	if err != nil {
		return err
	}
	n.ref = ref
	n.written = true
	b.reg.RecordWritten(dev, ino, ref)
	b.summary.Files++
	return nil
}

// writeOther stores the inode of a symlink, device, fifo or socket.
func (b *build) writeOther(n *node) error {
	ref, existed, err := b.reg.WriteOnce(n.id.Device, n.id.Inode, func() (squashfs.InodeRef, error) {
		inode := b.header(n, n.typ)
		inode.NLink = n.links
		switch n.typ {
		case squashfs.SymlinkType:
			target, err := os.Readlink(n.path)
			if err != nil {
				return 0, err
			}
			inode.Target = target
			inode.Size = uint64(len(target))
			b.summary.Symlinks++
		case squashfs.BlockDevType, squashfs.CharDevType:
			inode.Rdev = encodeDevice(n.id.Rdev)
			b.summary.Devices++
		case squashfs.FifoType:
			b.summary.Fifos++
		case squashfs.SocketType:
			b.summary.Sockets++
		}
		return b.writeInode(&inode)
	})
	if err != nil {
		return err
	}
	if existed {
		b.summary.HardLinks++
	}
	n.ref = ref
	n.written = true
	return nil
}

// encodeDevice packs a device number the way squashfs stores it.
func encodeDevice(rdev uint64) uint32 {
	major, minor := osutil.Major(rdev), osutil.Minor(rdev)
	return (minor & 0xff) | (major&0xfff)<<8 | (minor&^0xff)<<12
}

// writeDir writes the inodes below dir that are not written yet, then
// its listing and its inode.
func (b *build) writeDir(dir *node, parent uint32) error {
	for _, de := range dir.children {
		n := de.node
		switch {
		case n.typ == squashfs.DirType:
			if err := b.writeDir(n, dir.number); err != nil {
				return err
			}
		case n.typ == squashfs.FileType:
			ref, ok := b.reg.LookupWritten(n.id.Device, n.id.Inode)
			if !ok {
				return fmt.Errorf("internal error: %q was not written", n.path)
			}
			n.ref = ref
		case !n.written:
			if err := b.writeOther(n); err != nil {
				return err
			}
		}
	}

	entries := make([]squashfs.DirectoryEntry, len(dir.children))
	for i, de := range dir.children {
		entries[i] = squashfs.DirectoryEntry{
			Name:   de.name,
			Ref:    de.node.ref,
			Number: de.node.number,
			Type:   de.node.typ,
		}
	}
	runs, err := squashfs.EncodeDirectory(entries, b.swap)
	if err != nil {
		return err
	}
	start := b.dirs.Position()
	var index []squashfs.DirectoryIndex
	size := 0
	for _, run := range runs {
		pos := b.dirs.Position()
		if pos.Block() != start.Block() && (len(index) == 0 || index[len(index)-1].StartBlock != pos.Block()) {
			index = append(index, squashfs.DirectoryIndex{Index: uint32(size), StartBlock: pos.Block(), Name: run.First})
		}
		if _, err := b.dirs.Write(run.Data); err != nil {
			return err
		}
		size += len(run.Data)
	}

	t := squashfs.DirType
	if size+3 > math.MaxUint16 {
		t = squashfs.ExtDirType
	}
	inode := b.header(dir, t)
	inode.NLink = 2 + dir.subdirs
	inode.StartBlock = uint64(start.Block())
	inode.Offset = uint32(start.Offset())
	inode.Size = uint64(size) + 3
	inode.Parent = parent
	if t == squashfs.ExtDirType {
		inode.Index = index
		inode.Xattr = squashfs.NoXattr
	}
	ref, err := b.writeInode(&inode)
	if err != nil {
		return err
	}
	dir.ref = ref
	dir.written = true
	b.summary.Directories++
	return nil
}
