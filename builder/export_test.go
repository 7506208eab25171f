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
	"io"
	"time"

	"github.com/snapcore/sqfsmeta/osutil"
	"github.com/snapcore/sqfsmeta/squashfs"
	"github.com/snapcore/sqfsmeta/testutil"
)

var (
	InodeType    = inodeType
	EncodeDevice = encodeDevice
	DigestFiles  = digestFiles
)

func MockTimeNow(f func() time.Time) (restore func()) {
	return testutil.Mock(&timeNow, f)
}

// EmissionOrder orders paths with the given priorities.
func EmissionOrder(paths []string, prios []int16) []string {
	files := make([]*sourceFile, len(paths))
	for i := range paths {
		files[i] = &sourceFile{path: paths[i], priority: prios[i]}
	}
	var ordered []string
	for _, f := range emissionOrder(files) {
		ordered = append(ordered, f.path)
	}
	return ordered
}

// Walk walks root and returns the relative paths found, depth first,
// and the number of skipped entries.
func Walk(root string, excludes []string) (paths []string, skipped int, err error) {
	w := &walker{excludes: excludes, reg: NewRegistry(), links: make(map[osutil.FileID]*node)}
	top, err := w.walkRoot(root)
	if err != nil {
		return nil, 0, err
	}
	var visit func(n *node, prefix string)
	visit = func(n *node, prefix string) {
		for _, de := range n.children {
			p := prefix + de.name
			paths = append(paths, p)
			if de.node.typ == squashfs.DirType {
				visit(de.node, p+"/")
			}
		}
	}
	visit(top, "")
	return paths, w.skipped, nil
}

type BlockWriter = blockWriter

type BlockWriterOptions = blockWriterOptions

func NewBlockWriter(w io.Writer, opts BlockWriterOptions) *BlockWriter {
	return newBlockWriter(&sink{w: w}, opts)
}

func (bw *blockWriter) DataBytes() uint64 {
	return bw.dataBytes
}
