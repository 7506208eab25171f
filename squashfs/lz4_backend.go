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

package squashfs

import (
	"github.com/pierrec/lz4/v4"

	"github.com/snapcore/sqfsmeta/squashfs/internal"
)

const lz4LegacyVersion = 1

// lz4Backend uses raw lz4 blocks, without the frame format.
type lz4Backend struct {
	Version uint32
	Flags   uint32
}

// The lz4 options block is 8 bytes
// i32 - Version
// i32 - Flags
func createLz4Backend(options []byte) (*lz4Backend, error) {
	lb := &lz4Backend{Version: lz4LegacyVersion}
	if options == nil {
		return lb, nil
	}
	if err := internal.CheckSize("lz4 options", options, 8); err != nil {
		return nil, err
	}
	lb.Version = internal.ReadUint32(options[0:])
	lb.Flags = internal.ReadUint32(options[4:])
	return lb, nil
}

func (lb *lz4Backend) ID() Compression {
	return CompressionLz4
}

func (lb *lz4Backend) Compress(in []byte) ([]byte, error) {
	out := make([]byte, lz4.CompressBlockBound(len(in)))
	n, err := lz4.CompressBlock(in, out, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// incompressible
		return in, nil
	}
	return out[:n], nil
}

func (lb *lz4Backend) Decompress(in []byte, out []byte) (int, error) {
	n, err := lz4.UncompressBlock(in, out)
	if err != nil {
		return 0, err
	}
	return n, nil
}
