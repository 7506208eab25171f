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
	"errors"

	. "gopkg.in/check.v1"

	"github.com/snapcore/sqfsmeta/squashfs"
	"github.com/snapcore/sqfsmeta/squashfs/internal"
	"github.com/snapcore/sqfsmeta/testutil"
)

type superblockSuite struct{}

var _ = Suite(&superblockSuite{})

func testSuperblock() *squashfs.Superblock {
	return &squashfs.Superblock{
		Inodes:              3,
		MkfsTime:            testMkfsTime,
		BlockSize:           testBlockSize,
		Fragments:           1,
		Compression:         squashfs.CompressionXz,
		BlockLog:            testBlockLog,
		Flags:               squashfs.FlagNoXattrs | squashfs.FlagDuplicates,
		IDs:                 2,
		Major:               squashfs.MajorVersion,
		Minor:               squashfs.MinorVersion,
		RootInode:           squashfs.NewInodeRef(0x1234, 0x56),
		BytesUsed:           0x10203,
		IDTableStart:        0x10000,
		XattrIDTableStart:   squashfs.InvalidTable,
		InodeTableStart:     0x200,
		DirectoryTableStart: 0x800,
		FragmentTableStart:  0xf000,
		LookupTableStart:    squashfs.InvalidTable,
	}
}

func (s *superblockSuite) TestParseLittleEndian(c *C) {
	sb := testSuperblock()
	data := sb.Encode(false)
	c.Check(data, testutil.HasBytePrefix, []byte("hsqs"))

	parsed, swapped, err := squashfs.ParseSuperblock(data, nil)
	c.Assert(err, IsNil)
	c.Check(swapped, Equals, false)
	c.Check(parsed, DeepEquals, sb)
}

func (s *superblockSuite) TestParseBigEndian(c *C) {
	sb := testSuperblock()
	data := sb.Encode(true)
	c.Check(data, testutil.HasBytePrefix, []byte("sqsh"))
	// block size 4096 is 00 00 10 00 in big endian
	c.Check(data[12:16], DeepEquals, []byte{0, 0, 0x10, 0})

	parsed, swapped, err := squashfs.ParseSuperblock(data, nil)
	c.Assert(err, IsNil)
	c.Check(swapped, Equals, true)
	c.Check(parsed, DeepEquals, sb)
}

func (s *superblockSuite) TestReadSuperblock(c *C) {
	sb := testSuperblock()
	parsed, swapped, err := squashfs.ReadSuperblock(bytes.NewReader(sb.Encode(true)), nil)
	c.Assert(err, IsNil)
	c.Check(swapped, Equals, true)
	c.Check(parsed.InodeTableStart, Equals, uint64(0x200))
}

func (s *superblockSuite) TestReadSuperblockShort(c *C) {
	_, _, err := squashfs.ReadSuperblock(bytes.NewReader([]byte("hsqs")), nil)
	c.Check(err, ErrorMatches, `cannot read 96 bytes at offset 0: unexpected EOF`)
}

func (s *superblockSuite) TestParseShort(c *C) {
	_, _, err := squashfs.ParseSuperblock(make([]byte, 10), nil)
	var perr *internal.ParseError
	c.Assert(errors.As(err, &perr), Equals, true)
	c.Check(perr.Stype, Equals, "superblock")
}

func (s *superblockSuite) TestUnrecognizedMagic(c *C) {
	data := testSuperblock().Encode(false)
	copy(data, "shsq")
	_, _, err := squashfs.ParseSuperblock(data, nil)
	c.Check(err, Equals, squashfs.ErrUnrecognizedMagic)
}

func (s *superblockSuite) TestUnsupportedMajor(c *C) {
	data := testSuperblock().Encode(false)
	internal.PutUint16(data[28:], 3)
	_, _, err := squashfs.ParseSuperblock(data, nil)
	c.Check(err, DeepEquals, &squashfs.UnsupportedVersionError{Major: 3, Minor: 0})
	c.Check(err, ErrorMatches, `squashfs: unsupported version 3.0, expected 4.0`)
}

func (s *superblockSuite) TestNewerMinor(c *C) {
	data := testSuperblock().Encode(true)
	// big endian s_minor
	data[30], data[31] = 0, 1
	_, _, err := squashfs.ParseSuperblock(data, nil)
	var verr *squashfs.UnsupportedVersionError
	c.Assert(errors.As(err, &verr), Equals, true)
	c.Check(verr.Minor, Equals, uint16(1))

	sb, swapped, err := squashfs.ParseSuperblock(data, &squashfs.ReadOptions{AllowNewerMinor: true})
	c.Assert(err, IsNil)
	c.Check(swapped, Equals, true)
	c.Check(sb.Minor, Equals, uint16(1))
}

func (s *superblockSuite) TestInvalidGeometry(c *C) {
	for _, t := range []struct {
		mutate func(sb *squashfs.Superblock)
		err    string
	}{
		{func(sb *squashfs.Superblock) { sb.BlockSize = 1024 }, `.*invalid block size 1024`},
		{func(sb *squashfs.Superblock) { sb.BlockSize = 4096 + 512 }, `.*invalid block size 4608`},
		{func(sb *squashfs.Superblock) { sb.BlockSize = 2 << 20 }, `.*invalid block size 2097152`},
		{func(sb *squashfs.Superblock) { sb.BlockLog = 13 }, `.*block log 13 does not match block size 4096`},
		{func(sb *squashfs.Superblock) { sb.DirectoryTableStart = sb.InodeTableStart }, `.*inode table start 512 not before directory table start 512`},
	} {
		sb := testSuperblock()
		t.mutate(sb)
		_, _, err := squashfs.ParseSuperblock(sb.Encode(false), nil)
		c.Check(err, ErrorMatches, t.err)
		c.Check(err, testutil.ErrorIs, squashfs.ErrCorrupt)
	}
}

func (s *superblockSuite) TestFlags(c *C) {
	f := squashfs.FlagNoXattrs | squashfs.FlagCheckData
	c.Check(f.Has(squashfs.FlagCheckData), Equals, true)
	c.Check(f.Has(squashfs.FlagDuplicates), Equals, false)
	c.Check(f.Has(squashfs.FlagNoXattrs|squashfs.FlagCheckData), Equals, true)
}

func (s *superblockSuite) TestString(c *C) {
	c.Check(testSuperblock().String(), Equals, "squashfs 4.0, xz, block size 4096, 3 inodes, 1 fragments")
}

func (s *superblockSuite) TestInodeRef(c *C) {
	ref := squashfs.NewInodeRef(0x2010, 0x1ff)
	c.Check(uint64(ref), Equals, uint64(0x20100000|0x1ff))
	c.Check(ref.Block(), Equals, uint32(0x2010))
	c.Check(ref.Offset(), Equals, uint16(0x1ff))
	c.Check(ref.String(), Equals, "8208:511")
}

func (s *superblockSuite) TestDataBlockSize(c *C) {
	c.Check(squashfs.DataBlockSize(100|squashfs.DataUncompressedBit), Equals, uint32(100))
	c.Check(squashfs.DataBlockCompressed(100|squashfs.DataUncompressedBit), Equals, false)
	c.Check(squashfs.DataBlockCompressed(100), Equals, true)
}
