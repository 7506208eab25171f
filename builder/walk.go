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
	"os"
	"path"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sys/unix"

	"github.com/snapcore/sqfsmeta/logger"
	"github.com/snapcore/sqfsmeta/osutil"
	"github.com/snapcore/sqfsmeta/squashfs"
)

// node is one source inode, shared by all the paths linking to it.
type node struct {
	path string
	id   *osutil.Identity
	// typ is the basic inode type
	typ squashfs.InodeType
	// links counts the directory entries referencing the node
	links uint32

	// directories only
	children []dirent
	subdirs  uint32

	number  uint32
	ref     squashfs.InodeRef
	written bool
}

type dirent struct {
	name string
	node *node
}

// sourceFile is one path to a regular file, in discovery order.
type sourceFile struct {
	path     string
	node     *node
	priority int16
}

type walker struct {
	excludes []string
	reg      *Registry
	// hard linked non-directories
	links map[osutil.FileID]*node

	files   []*sourceFile
	skipped int
}

// inodeType maps the file type bits of a mode to a basic inode type.
func inodeType(mode uint32) (squashfs.InodeType, bool) {
	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		return squashfs.DirType, true
	case unix.S_IFREG:
		return squashfs.FileType, true
	case unix.S_IFLNK:
		return squashfs.SymlinkType, true
	case unix.S_IFBLK:
		return squashfs.BlockDevType, true
	case unix.S_IFCHR:
		return squashfs.CharDevType, true
	case unix.S_IFIFO:
		return squashfs.FifoType, true
	case unix.S_IFSOCK:
		return squashfs.SocketType, true
	}
	return 0, false
}

func (w *walker) excluded(rel string) bool {
	for _, pattern := range w.excludes {
		// patterns are validated with the options
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// walkRoot walks the tree at root. The root itself must be a readable
// directory.
func (w *walker) walkRoot(root string) (*node, error) {
	id, err := osutil.Lstat(root)
	if err != nil {
		return nil, err
	}
	if typ, _ := inodeType(id.Mode); typ != squashfs.DirType {
		return nil, fmt.Errorf("cannot build from %q: not a directory", root)
	}
	top := &node{path: root, id: id, typ: squashfs.DirType, links: 1}
	des, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	w.walkDir(top, "", des, w.reg.GetPriority(root, id.Device, id.Inode, 0))
	return top, nil
}

// walkDir adds the entries des of dir. Files and directories without a
// priority of their own inherit prio from dir.
func (w *walker) walkDir(dir *node, rel string, des []os.DirEntry, prio int16) {
	// os.ReadDir sorts by name, listings need that order too
	for _, de := range des {
		name := de.Name()
		relPath := path.Join(rel, name)
		if w.excluded(relPath) {
			logger.Debugf("excluding %q", relPath)
			continue
		}
		full := filepath.Join(dir.path, name)
		id, err := osutil.Lstat(full)
		if err != nil {
			logger.Noticef("Cannot stat %q: %v, skipping", full, err)
			w.skipped++
			continue
		}
		typ, ok := inodeType(id.Mode)
		if !ok {
			logger.Noticef("Cannot add %q: unknown file type %#o, skipping", full, id.Mode&unix.S_IFMT)
			w.skipped++
			continue
		}

		var n *node
		if typ != squashfs.DirType && id.Nlink > 1 {
			n = w.links[id.FileID]
		}
		if n == nil {
			n = &node{path: full, id: id, typ: typ}
			if typ != squashfs.DirType && id.Nlink > 1 {
				w.links[id.FileID] = n
			}
		}
		n.links++

		switch typ {
		case squashfs.DirType:
			sub, err := os.ReadDir(full)
			if err != nil {
				logger.Noticef("Cannot read directory %q: %v, skipping", full, err)
				w.skipped++
				continue
			}
			dir.subdirs++
			w.walkDir(n, relPath, sub, w.reg.GetPriority(full, id.Device, id.Inode, prio))
		case squashfs.FileType:
			fprio := w.reg.GetPriority(full, id.Device, id.Inode, prio)
			w.files = append(w.files, &sourceFile{path: full, node: n, priority: fprio})
		}
		dir.children = append(dir.children, dirent{name: name, node: n})
	}
}
