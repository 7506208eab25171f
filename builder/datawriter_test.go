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

package builder_test

import (
	"bytes"
	"path/filepath"
	"strings"

	. "gopkg.in/check.v1"

	"github.com/snapcore/sqfsmeta/builder"
	"github.com/snapcore/sqfsmeta/squashfs"
)

type dataWriterSuite struct {
	dir string
	out bytes.Buffer
}

var _ = Suite(&dataWriterSuite{})

func (s *dataWriterSuite) SetUpTest(c *C) {
	s.dir = c.MkDir()
	s.out.Reset()
}

func (s *dataWriterSuite) file(c *C, name, content string) (string, int64) {
	makeFile(c, s.dir, name, content)
	return filepath.Join(s.dir, name), int64(len(content))
}

func literal(n int) uint32 {
	return uint32(n) | squashfs.DataUncompressedBit
}

func (s *dataWriterSuite) TestSmallFilesShareFragment(c *C) {
	bw := builder.NewBlockWriter(&s.out, builder.BlockWriterOptions{BlockSize: 4096})
	p1, n1 := s.file(c, "one", "0123456789")
	p2, n2 := s.file(c, "two", strings.Repeat("x", 20))

	l1, dup, err := bw.WriteFile(p1, n1)
	c.Assert(err, IsNil)
	c.Check(dup, Equals, false)
	c.Check(l1, DeepEquals, &builder.FileLayout{Size: 10, Fragment: 0, FragmentOffset: 0})

	l2, _, err := bw.WriteFile(p2, n2)
	c.Assert(err, IsNil)
	c.Check(l2, DeepEquals, &builder.FileLayout{Size: 20, Fragment: 0, FragmentOffset: 10})

	// nothing is written until the fragment block fills up
	c.Check(s.out.Len(), Equals, 0)

	frags, err := bw.Finish()
	c.Assert(err, IsNil)
	c.Check(frags, DeepEquals, []squashfs.FragmentEntry{{Start: 0, Size: 30, Uncompressed: true}})
	c.Check(s.out.String(), Equals, "0123456789"+strings.Repeat("x", 20))
}

func (s *dataWriterSuite) TestFragmentBlockFull(c *C) {
	bw := builder.NewBlockWriter(&s.out, builder.BlockWriterOptions{BlockSize: 4096})
	p1, n1 := s.file(c, "one", strings.Repeat("a", 3000))
	p2, n2 := s.file(c, "two", strings.Repeat("b", 3000))

	_, _, err := bw.WriteFile(p1, n1)
	c.Assert(err, IsNil)
	l2, _, err := bw.WriteFile(p2, n2)
	c.Assert(err, IsNil)
	c.Check(l2.Fragment, Equals, uint32(1))
	c.Check(l2.FragmentOffset, Equals, uint32(0))

	frags, err := bw.Finish()
	c.Assert(err, IsNil)
	c.Check(frags, DeepEquals, []squashfs.FragmentEntry{
		{Start: 0, Size: 3000, Uncompressed: true},
		{Start: 3000, Size: 3000, Uncompressed: true},
	})
}

func (s *dataWriterSuite) TestLargeFileTailBlock(c *C) {
	bw := builder.NewBlockWriter(&s.out, builder.BlockWriterOptions{BlockSize: 4096})
	p, n := s.file(c, "big", strings.Repeat("z", 5000))

	l, _, err := bw.WriteFile(p, n)
	c.Assert(err, IsNil)
	c.Check(l, DeepEquals, &builder.FileLayout{
		Size:       5000,
		BlockSizes: []uint32{literal(4096), literal(904)},
		Fragment:   squashfs.InvalidFragment,
	})
	frags, err := bw.Finish()
	c.Assert(err, IsNil)
	c.Check(frags, HasLen, 0)
	c.Check(s.out.Len(), Equals, 5000)
}

func (s *dataWriterSuite) TestNoFragments(c *C) {
	bw := builder.NewBlockWriter(&s.out, builder.BlockWriterOptions{BlockSize: 4096, NoFragments: true})
	p1, n1 := s.file(c, "small", "tiny")
	p2, n2 := s.file(c, "big", strings.Repeat("z", 5000))

	l1, _, err := bw.WriteFile(p1, n1)
	c.Assert(err, IsNil)
	c.Check(l1, DeepEquals, &builder.FileLayout{
		Size:       4,
		BlockSizes: []uint32{literal(4)},
		Fragment:   squashfs.InvalidFragment,
	})
	l2, _, err := bw.WriteFile(p2, n2)
	c.Assert(err, IsNil)
	c.Check(l2, DeepEquals, &builder.FileLayout{
		Size:       5000,
		StartBlock: 4,
		BlockSizes: []uint32{literal(4096), literal(904)},
		Fragment:   squashfs.InvalidFragment,
	})

	frags, err := bw.Finish()
	c.Assert(err, IsNil)
	c.Check(frags, HasLen, 0)
	c.Check(s.out.Len(), Equals, 5004)
}

func (s *dataWriterSuite) TestAlwaysFragments(c *C) {
	bw := builder.NewBlockWriter(&s.out, builder.BlockWriterOptions{BlockSize: 4096, AlwaysFragments: true})
	p, n := s.file(c, "big", strings.Repeat("z", 5000))

	l, _, err := bw.WriteFile(p, n)
	c.Assert(err, IsNil)
	c.Check(l, DeepEquals, &builder.FileLayout{
		Size:       5000,
		BlockSizes: []uint32{literal(4096)},
		Fragment:   0,
	})

	frags, err := bw.Finish()
	c.Assert(err, IsNil)
	c.Check(frags, DeepEquals, []squashfs.FragmentEntry{{Start: 4096, Size: 904, Uncompressed: true}})
}

func (s *dataWriterSuite) TestEmptyFile(c *C) {
	bw := builder.NewBlockWriter(&s.out, builder.BlockWriterOptions{BlockSize: 4096})
	p, n := s.file(c, "empty", "")
	l, dup, err := bw.WriteFile(p, n)
	c.Assert(err, IsNil)
	c.Check(dup, Equals, false)
	c.Check(l, DeepEquals, &builder.FileLayout{Fragment: squashfs.InvalidFragment})
	frags, err := bw.Finish()
	c.Assert(err, IsNil)
	c.Check(frags, HasLen, 0)
}

func (s *dataWriterSuite) TestDuplicates(c *C) {
	bw := builder.NewBlockWriter(&s.out, builder.BlockWriterOptions{BlockSize: 4096, NoFragments: true})
	p1, n1 := s.file(c, "one", "same content")
	p2, n2 := s.file(c, "two", "same content")
	p3, n3 := s.file(c, "three", "diff content")

	l1, dup, err := bw.WriteFile(p1, n1)
	c.Assert(err, IsNil)
	c.Check(dup, Equals, false)
	l2, dup, err := bw.WriteFile(p2, n2)
	c.Assert(err, IsNil)
	c.Check(dup, Equals, true)
	c.Check(l2, Equals, l1)
	l3, dup, err := bw.WriteFile(p3, n3)
	c.Assert(err, IsNil)
	c.Check(dup, Equals, false)
	c.Check(l3.StartBlock, Equals, uint64(n1))

	c.Check(s.out.String(), Equals, "same contentdiff content")
	c.Check(bw.DataBytes(), Equals, uint64(24))
}

func (s *dataWriterSuite) TestNoDuplicates(c *C) {
	bw := builder.NewBlockWriter(&s.out, builder.BlockWriterOptions{BlockSize: 4096, NoFragments: true, NoDuplicates: true})
	p1, n1 := s.file(c, "one", "same content")
	p2, n2 := s.file(c, "two", "same content")

	_, _, err := bw.WriteFile(p1, n1)
	c.Assert(err, IsNil)
	l2, dup, err := bw.WriteFile(p2, n2)
	c.Assert(err, IsNil)
	c.Check(dup, Equals, false)
	c.Check(l2.StartBlock, Equals, uint64(n1))
	c.Check(s.out.String(), Equals, "same contentsame content")
}

func (s *dataWriterSuite) TestCompressedBlocks(c *C) {
	comp, err := squashfs.NewCompressor(squashfs.CompressionGzip, nil)
	c.Assert(err, IsNil)
	bw := builder.NewBlockWriter(&s.out, builder.BlockWriterOptions{
		BlockSize:           4096,
		DataCompression:     comp,
		FragmentCompression: comp,
		AlwaysFragments:     true,
	})
	p, n := s.file(c, "zeros", strings.Repeat("\x00", 4096+100))

	l, _, err := bw.WriteFile(p, n)
	c.Assert(err, IsNil)
	c.Assert(l.BlockSizes, HasLen, 1)
	c.Check(squashfs.DataBlockCompressed(l.BlockSizes[0]), Equals, true)
	c.Check(int(l.BlockSizes[0]) < 4096, Equals, true)

	frags, err := bw.Finish()
	c.Assert(err, IsNil)
	c.Assert(frags, HasLen, 1)
	c.Check(frags[0].Uncompressed, Equals, false)
	c.Check(frags[0].Start, Equals, uint64(l.BlockSizes[0]))

	out := make([]byte, 4096)
	got, err := comp.Decompress(s.out.Bytes()[:l.BlockSizes[0]], out)
	c.Assert(err, IsNil)
	c.Check(got, Equals, 4096)
	c.Check(bytes.Count(out, []byte{0}), Equals, 4096)
}
