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
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/snapcore/sqfsmeta/squashfs/internal"
)

const zstdDefaultLevel = 15

type zstdBackend struct {
	CompressionLevel int

	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// The zstd options block is 4 bytes
// i32 - Compression level
func createZstdBackend(options []byte) (*zstdBackend, error) {
	zb := &zstdBackend{CompressionLevel: zstdDefaultLevel}
	if options != nil {
		if err := internal.CheckSize("zstd options", options, 4); err != nil {
			return nil, err
		}
		zb.CompressionLevel = int(internal.ReadInt32(options[0:]))
	}
	if zb.CompressionLevel < 1 || zb.CompressionLevel > 22 {
		return nil, fmt.Errorf("squashfs: invalid zstd compression level %d", zb.CompressionLevel)
	}

	var err error
	zb.encoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(zb.CompressionLevel)),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	// no block of an archive decompresses to more than MaxBlockSize
	zb.decoder, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(MaxBlockSize))
	if err != nil {
		return nil, err
	}
	return zb, nil
}

func (zb *zstdBackend) ID() Compression {
	return CompressionZstd
}

func (zb *zstdBackend) Compress(in []byte) ([]byte, error) {
	return zb.encoder.EncodeAll(in, nil), nil
}

func (zb *zstdBackend) Decompress(in []byte, out []byte) (int, error) {
	data, err := zb.decoder.DecodeAll(in, make([]byte, 0, len(out)))
	if err != nil {
		return 0, err
	}
	if len(data) > len(out) {
		return 0, errOutputOverflow
	}
	return copy(out, data), nil
}
