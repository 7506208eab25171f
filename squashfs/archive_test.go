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

package squashfs_test

import (
	"bytes"
	"fmt"
	"io/fs"

	. "gopkg.in/check.v1"

	"github.com/snapcore/sqfsmeta/logger"
	"github.com/snapcore/sqfsmeta/squashfs"
	"github.com/snapcore/sqfsmeta/testutil"
)

type archiveSuite struct {
	testutil.BaseTest
}

var _ = Suite(&archiveSuite{})

func (s *archiveSuite) open(c *C, img *image) *squashfs.Archive {
	a, err := squashfs.Open(img, nil)
	c.Assert(err, IsNil)
	return a
}

func (s *archiveSuite) TestScanRootFileSymlink(c *C) {
	img := makeImage(c, imageOptions{})
	c.Assert(img.sb.Inodes, Equals, uint32(3))
	c.Assert(img.sb.Fragments, Equals, uint32(0))

	a := s.open(c, img)
	c.Check(a.Swapped(), Equals, false)
	scan, err := a.ScanInodeTable()
	c.Assert(err, IsNil)

	c.Check(scan.Files, Equals, 1)
	c.Check(scan.Symlinks, Equals, 1)
	c.Check(scan.Directories, Equals, 0)
	c.Check(scan.Inodes, HasLen, 2)
	c.Check(scan.Root.Type, Equals, squashfs.DirType)
	c.Check(scan.Root.Number, Equals, uint32(3))
	c.Check(scan.RootBlock, Equals, 0)

	link := scan.Inodes[1]
	c.Assert(link.Type, Equals, squashfs.SymlinkType)
	c.Check(link.Target, Equals, testLinkTarget)
	c.Check(uint64(len(link.Target)), Equals, link.Size)

	c.Check(scan.UncompressedFileBytes, Equals, uint64(len(testFileData)))
	c.Check(scan.CompressedFileBytes, Equals, uint64(len(testFileData)))
	c.Check(scan.FragmentBytes, Equals, uint64(0))
}

func (s *archiveSuite) TestScanBothByteOrdersAgree(c *C) {
	comp, err := squashfs.NewCompressor(squashfs.CompressionZstd, nil)
	c.Assert(err, IsNil)
	extra := func() []*squashfs.Inode {
		return []*squashfs.Inode{
			{Type: squashfs.CharDevType, Mode: 0600, NLink: 1, Rdev: 0x0501},
			{Type: squashfs.ExtFifoType, Mode: 0600, NLink: 1, Xattr: squashfs.NoXattr},
		}
	}

	var scans []*squashfs.Scan
	var listings [][]squashfs.DirectoryEntry
	for _, swap := range []bool{false, true} {
		img := makeImage(c, imageOptions{swap: swap, compression: comp, fragment: true, extra: extra()})
		a := s.open(c, img)
		c.Check(a.Swapped(), Equals, swap)
		scan, err := a.Scan()
		c.Assert(err, IsNil)
		scans = append(scans, scan)
		entries, err := a.ReadDir(scan.Inodes.Root)
		c.Assert(err, IsNil)
		listings = append(listings, entries)
	}

	le, be := scans[0], scans[1]
	c.Check(be.Swapped, Equals, true)
	c.Check(be.Superblock.Inodes, Equals, le.Superblock.Inodes)
	c.Check(be.Superblock.RootInode, Equals, le.Superblock.RootInode)
	c.Check(be.Fragments, DeepEquals, le.Fragments)
	c.Check(be.IDs, DeepEquals, le.IDs)
	c.Check(be.Inodes.Inodes, DeepEquals, le.Inodes.Inodes)
	c.Check(be.Inodes.Root, DeepEquals, le.Inodes.Root)
	c.Check(be.Inodes.Files, Equals, 2)
	c.Check(le.Inodes.CharDevices, Equals, 1)
	c.Check(be.Inodes.Fifos, Equals, 1)
	c.Check(listings[1], DeepEquals, listings[0])
	c.Check(listings[0], HasLen, 3)
}

func (s *archiveSuite) TestScanFragments(c *C) {
	img := makeImage(c, imageOptions{fragment: true})
	a := s.open(c, img)
	scan, err := a.Scan()
	c.Assert(err, IsNil)

	c.Check(scan.Fragments, DeepEquals, []squashfs.FragmentEntry{
		{Start: squashfs.SuperblockSize + uint64(len(testFileData)), Size: uint32(len(testTailData)), Uncompressed: true},
	})
	c.Check(scan.IDs, DeepEquals, []uint32{0})
	c.Check(scan.Inodes.Files, Equals, 2)
	c.Check(scan.Inodes.FragmentBytes, Equals, uint64(len(testTailData)))
	c.Check(scan.Inodes.UncompressedFileBytes, Equals, uint64(len(testFileData)+len(testTailData)))
}

func (s *archiveSuite) TestBlockListsAddUp(c *C) {
	img := makeImage(c, imageOptions{fragment: true, extra: []*squashfs.Inode{
		{
			Type:       squashfs.ExtFileType,
			Size:       2*testBlockSize + 100,
			Fragment:   0,
			NLink:      2,
			BlockSizes: []uint32{1000, 2000 | squashfs.DataUncompressedBit},
			Xattr:      squashfs.NoXattr,
		},
		{
			Type:       squashfs.FileType,
			Size:       testBlockSize + 1,
			Fragment:   squashfs.InvalidFragment,
			NLink:      1,
			BlockSizes: []uint32{10, 1},
		},
	}})
	scan, err := s.open(c, img).ScanInodeTable()
	c.Assert(err, IsNil)

	var sizes, blocks, tails uint64
	for _, n := range scan.Inodes {
		if n.Type.Basic() != squashfs.FileType {
			continue
		}
		sizes += n.Size
		for _, bs := range n.BlockSizes {
			blocks += uint64(squashfs.DataBlockSize(bs))
		}
		if n.HasFragment() {
			tails += n.Size % testBlockSize
		}
	}
	c.Check(scan.Files, Equals, 4)
	c.Check(scan.UncompressedFileBytes, Equals, sizes)
	c.Check(scan.CompressedFileBytes, Equals, blocks)
	c.Check(scan.CompressedFileBytes, Equals, uint64(len(testFileData)+1000+2000+10+1))
	c.Check(scan.FragmentBytes, Equals, tails)
	c.Check(scan.FragmentBytes, Equals, uint64(len(testTailData)+100))
}

func (s *archiveSuite) TestUncompressedDirBytes(c *C) {
	img := makeImage(c, imageOptions{directoryPad: 9000, extra: []*squashfs.Inode{
		{Type: squashfs.DirType, NLink: 2, StartBlock: 0, Size: 3, Parent: 1},
		{Type: squashfs.ExtDirType, NLink: 2, StartBlock: 0, Size: 40, Parent: 1, Xattr: squashfs.NoXattr},
		{Type: squashfs.DirType, NLink: 2, StartBlock: 1 << 20, Size: 500, Parent: 1},
	}})
	a := s.open(c, img)
	scan, err := a.ScanInodeTable()
	c.Assert(err, IsNil)
	c.Check(scan.Directories, Equals, 3)
	c.Check(scan.DirectoryStartBlock > 0, Equals, true)
	c.Check(scan.UncompressedDirBytes, Equals, uint64(43))

	// the root listing comes after the filler
	entries, err := a.ReadDir(scan.Root)
	c.Assert(err, IsNil)
	c.Check(entries, DeepEquals, img.entries)
}

func (s *archiveSuite) TestLookup(c *C) {
	img := makeImage(c, imageOptions{swap: true, fragment: true})
	a := s.open(c, img)
	scan, err := a.ScanInodeTable()
	c.Assert(err, IsNil)

	for _, e := range img.entries {
		n, err := scan.Lookup(e.Ref)
		c.Assert(err, IsNil)
		c.Check(n.Number, Equals, e.Number)
		c.Check(n.Type, Equals, e.Type)
	}
	root, err := scan.Lookup(img.root)
	c.Assert(err, IsNil)
	c.Check(root, Equals, scan.Root)

	_, err = scan.Lookup(squashfs.NewInodeRef(7, 0))
	c.Check(err, ErrorMatches, `.*no metadata block starts at inode reference 7:0`)
	_, err = scan.Lookup(squashfs.NewInodeRef(0, 8000))
	c.Check(err, ErrorMatches, `.*inode reference 0:8000 past end of table`)
}

func (s *archiveSuite) TestLookupPath(c *C) {
	img := makeImage(c, imageOptions{})
	a := s.open(c, img)
	scan, err := a.ScanInodeTable()
	c.Assert(err, IsNil)

	n, err := a.LookupPath(scan, "/hello")
	c.Assert(err, IsNil)
	c.Check(n.Type, Equals, squashfs.FileType)
	c.Check(n.Size, Equals, uint64(len(testFileData)))

	n, err = a.LookupPath(scan, "link")
	c.Assert(err, IsNil)
	c.Check(n.Target, Equals, testLinkTarget)

	n, err = a.LookupPath(scan, "/")
	c.Assert(err, IsNil)
	c.Check(n, Equals, scan.Root)

	_, err = a.LookupPath(scan, "/missing")
	c.Check(err, testutil.ErrorIs, fs.ErrNotExist)
	c.Check(err, ErrorMatches, `lookup /missing: file does not exist`)

	_, err = a.LookupPath(scan, "/hello/x")
	c.Check(err, ErrorMatches, `lookup /hello/x: not a directory`)
}

func (s *archiveSuite) TestReadBlock(c *C) {
	img := makeImage(c, imageOptions{})
	a := s.open(c, img)
	data, next, err := a.ReadBlock(int64(img.sb.InodeTableStart))
	c.Assert(err, IsNil)
	c.Check(next, Equals, int64(img.sb.DirectoryTableStart))
	// the first record is the regular file
	c.Check(data[:2], DeepEquals, []byte{byte(squashfs.FileType), 0})
}

func (s *archiveSuite) TestFragmentTableWithoutFragmentsReadsNothing(c *C) {
	img := makeImage(c, imageOptions{})
	// point the table somewhere unreadable
	img.sb.FragmentTableStart = 1 << 40
	copy(img.data, img.sb.Encode(false))

	r := &countingReaderAt{r: bytes.NewReader(img.data)}
	a, err := squashfs.Open(r, nil)
	c.Assert(err, IsNil)
	c.Check(r.reads, DeepEquals, []int64{0})

	frags, err := a.ReadFragmentTable()
	c.Assert(err, IsNil)
	c.Check(frags, HasLen, 0)
	c.Check(r.reads, DeepEquals, []int64{0})
}

func (s *archiveSuite) TestFragmentTableBadIndex(c *C) {
	img := makeImage(c, imageOptions{fragment: true})
	img.sb.FragmentTableStart = uint64(len(img.data)) - 4
	copy(img.data, img.sb.Encode(false))

	_, err := s.open(c, img).ReadFragmentTable()
	c.Check(err, ErrorMatches, `squashfs: corrupt fragment table index at offset \d+: .*unexpected EOF`)
}

func (s *archiveSuite) TestFragmentTableBlockTooShort(c *C) {
	img := makeImage(c, imageOptions{fragment: true})
	// the table claims two fragments but stores one
	img.sb.Fragments = 2
	copy(img.data, img.sb.Encode(false))

	_, err := s.open(c, img).ReadFragmentTable()
	c.Check(err, ErrorMatches, `squashfs: corrupt fragment table at offset \d+: metadata block holds 16 bytes, expected 32`)
}

func (s *archiveSuite) TestUnknownInodeTypeAbortsScan(c *C) {
	img := makeImage(c, imageOptions{})
	// literal block: 2 byte header then the file record
	img.data[img.sb.InodeTableStart+2] = 0x20

	scan, err := s.open(c, img).ScanInodeTable()
	c.Check(scan, IsNil)
	c.Check(err, DeepEquals, &squashfs.UnknownInodeTypeError{Type: 0x20, Offset: 0})
}

func (s *archiveSuite) TestRootMustBeDirectory(c *C) {
	img := makeImage(c, imageOptions{})
	img.sb.RootInode = squashfs.NewInodeRef(0, 0)
	copy(img.data, img.sb.Encode(false))

	_, err := s.open(c, img).ScanInodeTable()
	c.Check(err, ErrorMatches, `squashfs: corrupt inode table at offset 0: root inode is a file`)
}

func (s *archiveSuite) TestRootBlockMissing(c *C) {
	img := makeImage(c, imageOptions{})
	img.sb.RootInode = squashfs.NewInodeRef(5, 0)
	copy(img.data, img.sb.Encode(false))

	_, err := s.open(c, img).ScanInodeTable()
	c.Check(err, ErrorMatches, `.*no metadata block at root inode 5:0`)
	c.Check(err, testutil.ErrorIs, squashfs.ErrCorrupt)
}

func (s *archiveSuite) TestInodeCountMismatch(c *C) {
	img := makeImage(c, imageOptions{fragment: true})
	c.Assert(img.sb.Inodes, Equals, uint32(4))
	for _, count := range []uint32{3, 5} {
		img.sb.Inodes = count
		copy(img.data, img.sb.Encode(false))

		_, err := s.open(c, img).ScanInodeTable()
		c.Check(err, testutil.ErrorIs, squashfs.ErrCorrupt)
		c.Check(err, ErrorMatches, fmt.Sprintf(`squashfs: corrupt inode table at offset \d+: 4 inodes, superblock has %d`, count))
		var cerr *squashfs.CorruptError
		c.Assert(err, testutil.ErrorAs, &cerr)
		c.Check(cerr.Offset, Equals, int64(img.sb.InodeTableStart))
	}
}

func (s *archiveSuite) TestCorruptInodeBlock(c *C) {
	comp, err := squashfs.NewCompressor(squashfs.CompressionXz, nil)
	c.Assert(err, IsNil)
	img := makeImage(c, imageOptions{compression: comp})
	start := img.sb.InodeTableStart
	data := img.data
	if data[start+1]&0x80 == 0 {
		// garble the compressed stream
		for i := start + 6; i < start+12; i++ {
			data[i] ^= 0xff
		}
	} else {
		data[start], data[start+1] = 0xff, 0xff
	}
	_, err = s.open(c, img).ScanInodeTable()
	c.Check(err, testutil.ErrorIs, squashfs.ErrCorrupt)
}

func (s *archiveSuite) TestOpenErrors(c *C) {
	img := makeImage(c, imageOptions{})
	img.sb.Compression = squashfs.CompressionLzo
	copy(img.data, img.sb.Encode(false))
	_, err := squashfs.Open(img, nil)
	c.Check(err, DeepEquals, &squashfs.UnsupportedCompressionError{ID: squashfs.CompressionLzo})

	_, err = squashfs.Open(bytes.NewReader(make([]byte, 200)), nil)
	c.Check(err, Equals, squashfs.ErrUnrecognizedMagic)
}

func (s *archiveSuite) TestDebugLog(c *C) {
	buf, restore := logger.MockDebugLogger()
	s.AddCleanup(restore)

	_, err := s.open(c, makeImage(c, imageOptions{})).ScanInodeTable()
	c.Assert(err, IsNil)
	c.Check(buf.String(), testutil.Contains, "2 inodes before the root")
}
