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

package osutil

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// FileExists return true if given path can be stat()ed by us. Note that
// it may return false on e.g. permission issues.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDirectory return true if the given path can be stat()ed by us and
// is a directory. Note that it may return false on e.g. permission issues.
func IsDirectory(path string) bool {
	fileInfo, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fileInfo.IsDir()
}

// FileID is the filesystem identity of a file: two paths with the same
// FileID are hard links to the same inode.
type FileID struct {
	Device uint64
	Inode  uint64
}

// Identity is the subset of lstat(2) needed to describe a file in an
// archive.
type Identity struct {
	FileID

	Mode  uint32
	Nlink uint64
	Uid   uint32
	Gid   uint32
	Rdev  uint64
	Size  int64
	Mtime time.Time
}

var unixLstat = unix.Lstat

// Lstat returns the identity of path without following a trailing
// symlink.
func Lstat(path string) (*Identity, error) {
	var st unix.Stat_t
	if err := unixLstat(path, &st); err != nil {
		return nil, &os.PathError{Op: "lstat", Path: path, Err: err}
	}
	return &Identity{
		FileID: FileID{
			Device: uint64(st.Dev),
			Inode:  uint64(st.Ino),
		},
		Mode:  uint32(st.Mode),
		Nlink: uint64(st.Nlink),
		Uid:   st.Uid,
		Gid:   st.Gid,
		Rdev:  uint64(st.Rdev),
		Size:  st.Size,
		Mtime: time.Unix(int64(st.Mtim.Sec), int64(st.Mtim.Nsec)),
	}, nil
}

// Major and Minor split a device number the way the kernel does.
func Major(dev uint64) uint32 {
	return unix.Major(dev)
}

func Minor(dev uint64) uint32 {
	return unix.Minor(dev)
}
