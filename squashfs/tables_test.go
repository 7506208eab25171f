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
	. "gopkg.in/check.v1"

	"github.com/snapcore/sqfsmeta/squashfs"
	"github.com/snapcore/sqfsmeta/squashfs/internal"
)

type tablesSuite struct{}

var _ = Suite(&tablesSuite{})

func (s *tablesSuite) TestEncodeIndexedTable(c *C) {
	data := make([]byte, squashfs.MetadataBlockSize+100)
	table, index, err := squashfs.EncodeIndexedTable(data, nil, false, 1000)
	c.Assert(err, IsNil)
	// two literal blocks then two offsets
	c.Check(index, Equals, uint64(1000+2+squashfs.MetadataBlockSize+2+100))
	c.Check(table, HasLen, 2+squashfs.MetadataBlockSize+2+100+16)
	idx := table[index-1000:]
	c.Check(internal.ReadUint64(idx), Equals, uint64(1000))
	c.Check(internal.ReadUint64(idx[8:]), Equals, uint64(1000+2+squashfs.MetadataBlockSize))

	table, index, err = squashfs.EncodeIndexedTable(nil, nil, false, 77)
	c.Assert(err, IsNil)
	c.Check(table, HasLen, 0)
	c.Check(index, Equals, uint64(77))
}

func (s *tablesSuite) TestFragmentTableSpansBlocks(c *C) {
	for _, swap := range []bool{false, true} {
		img := makeImage(c, imageOptions{swap: swap, fragment: true, unusedFragments: squashfs.FragmentsPerBlock + 10})
		a, err := squashfs.Open(img, nil)
		c.Assert(err, IsNil)
		frags, err := a.ReadFragmentTable()
		c.Assert(err, IsNil)
		c.Assert(frags, HasLen, squashfs.FragmentsPerBlock+11)
		c.Check(frags[0].Uncompressed, Equals, true)
		last := frags[len(frags)-1]
		c.Check(last, Equals, squashfs.FragmentEntry{Start: uint64(squashfs.FragmentsPerBlock+9) << 12, Size: uint32(squashfs.FragmentsPerBlock + 9)})
	}
}

func (s *tablesSuite) TestIDTableSpansBlocks(c *C) {
	ids := make([]uint32, 3000)
	for i := range ids {
		ids[i] = uint32(i * 7)
	}
	for _, swap := range []bool{false, true} {
		img := makeImage(c, imageOptions{swap: swap, ids: ids})
		a, err := squashfs.Open(img, nil)
		c.Assert(err, IsNil)
		got, err := a.ReadIDTable()
		c.Assert(err, IsNil)
		c.Check(got, DeepEquals, ids)
	}
}

func (s *tablesSuite) TestEncodeFragmentEntries(c *C) {
	entries := []squashfs.FragmentEntry{{Start: 0x0102, Size: 0x30, Uncompressed: true}}
	le := squashfs.EncodeFragmentEntries(entries, false)
	c.Check(le, DeepEquals, []byte{2, 1, 0, 0, 0, 0, 0, 0, 0x30, 0, 0, 1, 0, 0, 0, 0})
	be := squashfs.EncodeFragmentEntries(entries, true)
	c.Check(be, DeepEquals, []byte{0, 0, 0, 0, 0, 0, 1, 2, 1, 0, 0, 0x30, 0, 0, 0, 0})
	c.Check(squashfs.EncodeIDs([]uint32{0x0a0b}, true), DeepEquals, []byte{0, 0, 0x0a, 0x0b})
}
