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
	"sync"

	"github.com/snapcore/sqfsmeta/osutil"
	"github.com/snapcore/sqfsmeta/squashfs"
)

// Registry tracks source files by (device, inode) for the duration of
// one build: the priority assigned to each, and the inode written for
// each. Keys are the full pair, two files only collide when they are the
// same file.
type Registry struct {
	mu         sync.Mutex
	priorities map[osutil.FileID]int16
	written    map[osutil.FileID]squashfs.InodeRef
}

func NewRegistry() *Registry {
	return &Registry{
		priorities: make(map[osutil.FileID]int16),
		written:    make(map[osutil.FileID]squashfs.InodeRef),
	}
}

// SetPriority sets or replaces the priority of a file.
func (r *Registry) SetPriority(dev, ino uint64, priority int16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.priorities[osutil.FileID{Device: dev, Inode: ino}] = priority
}

// GetPriority returns the priority set for the file at path, or dflt.
func (r *Registry) GetPriority(path string, dev, ino uint64, dflt int16) int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.priorities[osutil.FileID{Device: dev, Inode: ino}]; ok {
		return p
	}
	return dflt
}

// RecordWritten remembers the inode written for a file.
func (r *Registry) RecordWritten(dev, ino uint64, ref squashfs.InodeRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.written[osutil.FileID{Device: dev, Inode: ino}] = ref
}

// LookupWritten returns the inode written for a file, if any.
func (r *Registry) LookupWritten(dev, ino uint64) (squashfs.InodeRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ref, ok := r.written[osutil.FileID{Device: dev, Inode: ino}]
	return ref, ok
}

// WriteOnce returns the inode recorded for a file, or calls write and
// records its result. The lookup and the insert happen under one lock,
// concurrent callers never both write the same file.
func (r *Registry) WriteOnce(dev, ino uint64, write func() (squashfs.InodeRef, error)) (ref squashfs.InodeRef, existed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := osutil.FileID{Device: dev, Inode: ino}
	if ref, ok := r.written[key]; ok {
		return ref, true, nil
	}
	ref, err = write()
	if err != nil {
		return 0, false, err
	}
	r.written[key] = ref
	return ref, false, nil
}
