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

package main

import (
	"fmt"
	"io/fs"
	"text/tabwriter"

	"github.com/jessevdk/go-flags"

	"github.com/snapcore/sqfsmeta/squashfs"
)

func init() {
	const (
		short = "List a directory of an archive"
		long  = `
The ls command lists the directory at the given path of an archive, or
the root directory when no path is given. A path naming anything else
lists just that entry.
`
	)

	addCommand("ls", short, long, func() flags.Commander { return &cmdLs{} })
}

type cmdLs struct {
	AllowNewerMinor bool `long:"allow-newer-minor" description:"Accept archives with a newer minor version"`

	Positional struct {
		Image string `positional-arg-name:"<image>" required:"yes"`
		Path  string `positional-arg-name:"<path>"`
	} `positional-args:"yes"`
}

var typeModes = map[squashfs.InodeType]fs.FileMode{
	squashfs.DirType:      fs.ModeDir,
	squashfs.FileType:     0,
	squashfs.SymlinkType:  fs.ModeSymlink,
	squashfs.BlockDevType: fs.ModeDevice,
	squashfs.CharDevType:  fs.ModeDevice | fs.ModeCharDevice,
	squashfs.FifoType:     fs.ModeNamedPipe,
	squashfs.SocketType:   fs.ModeSocket,
}

// fileMode combines the type and the permission bits of n the way
// ls(1) shows them.
func fileMode(n *squashfs.Inode) fs.FileMode {
	mode := typeModes[n.Type.Basic()] | fs.FileMode(n.Mode&0777)
	if n.Mode&0o4000 != 0 {
		mode |= fs.ModeSetuid
	}
	if n.Mode&0o2000 != 0 {
		mode |= fs.ModeSetgid
	}
	if n.Mode&0o1000 != 0 {
		mode |= fs.ModeSticky
	}
	return mode
}

func (x *cmdLs) Execute([]string) error {
	a, closeImage, err := openImage(x.Positional.Image, x.AllowNewerMinor)
	if err != nil {
		return err
	}
	defer closeImage()

	scan, err := a.ScanInodeTable()
	if err != nil {
		return err
	}
	target, err := a.LookupPath(scan, x.Positional.Path)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(Stdout, 5, 3, 2, ' ', 0)
	defer w.Flush()

	if target.Type.Basic() != squashfs.DirType {
		printInode(w, target, target.Number, x.Positional.Path)
		return nil
	}
	entries, err := a.ReadDir(target)
	if err != nil {
		return err
	}
	for _, e := range entries {
		n, err := scan.Lookup(e.Ref)
		if err != nil {
			return err
		}
		printInode(w, n, e.Number, e.Name)
	}
	return nil
}

func printInode(w *tabwriter.Writer, n *squashfs.Inode, number uint32, name string) {
	size := n.Size
	switch n.Type.Basic() {
	case squashfs.DirType:
		// the listing size includes 3 bytes for "." and ".."
		size -= 3
	case squashfs.BlockDevType, squashfs.CharDevType, squashfs.FifoType, squashfs.SocketType:
		size = 0
	}
	if n.Type.Basic() == squashfs.SymlinkType {
		name = fmt.Sprintf("%s -> %s", name, n.Target)
	}
	fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", fileMode(n), number, size, name)
}
