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
	"bytes"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/snapcore/sqfsmeta/squashfs/internal"
)

type xzBackend struct {
	DictionarySize    int
	ExecutableFilters int
}

// The XZ options block is 8 bytes
// i32 - Dictionary Size
// i32 - Executable Filters (have no idea how to use those)
func createXzBackend(options []byte) (*xzBackend, error) {
	xb := &xzBackend{
		DictionarySize:    -1,
		ExecutableFilters: -1,
	}
	if options == nil {
		return xb, nil
	}
	if err := internal.CheckSize("xz options", options, 8); err != nil {
		return nil, err
	}
	xb.DictionarySize = int(internal.ReadInt32(options[0:]))
	xb.ExecutableFilters = int(internal.ReadInt32(options[4:]))
	return xb, nil
}

func (xb *xzBackend) ID() Compression {
	return CompressionXz
}

func (xb *xzBackend) Compress(in []byte) ([]byte, error) {
	// the kernel only verifies crc32 checks
	cfg := xz.WriterConfig{CheckSum: xz.CRC32}
	if xb.DictionarySize >= lzma.MinDictCap {
		cfg.DictCap = xb.DictionarySize
	}
	var b bytes.Buffer
	w, err := cfg.NewWriter(&b)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(in); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (xb *xzBackend) Decompress(in []byte, out []byte) (int, error) {
	cfg := xz.ReaderConfig{}
	// configure the reader from the options
	if xb.DictionarySize >= lzma.MinDictCap {
		cfg.DictCap = xb.DictionarySize
	}
	reader, err := cfg.NewReader(bytes.NewReader(in))
	if err != nil {
		return 0, err
	}
	return readInto(reader, out)
}
