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

	"github.com/ulikunitz/xz/lzma"
)

type lzmaBackend struct {
	// no options for lzma
}

func createLzmaBackend(options []byte) (*lzmaBackend, error) {
	return &lzmaBackend{}, nil
}

func (lb *lzmaBackend) ID() Compression {
	return CompressionLzma
}

func (lb *lzmaBackend) Compress(in []byte) ([]byte, error) {
	var b bytes.Buffer
	w, err := lzma.NewWriter(&b)
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

func (lb *lzmaBackend) Decompress(in []byte, out []byte) (int, error) {
	r, err := lzma.NewReader(bytes.NewReader(in))
	if err != nil {
		return 0, err
	}
	return readInto(r, out)
}
