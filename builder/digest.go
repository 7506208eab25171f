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

	"gopkg.in/tomb.v2"
)

// digestFiles computes the content digests of the files at paths with
// up to workers goroutines. The first read error stops all of them. With
// fewer than two workers nothing is computed ahead and nil is returned.
func digestFiles(paths []string, workers int) (map[string]uint64, error) {
	if workers < 2 || len(paths) < 2 {
		return nil, nil
	}
	if workers > len(paths) {
		workers = len(paths)
	}

	var t tomb.Tomb
	var mu sync.Mutex
	digests := make(map[string]uint64, len(paths))
	work := make(chan string)
	for i := 0; i < workers; i++ {
		t.Go(func() error {
			for {
				select {
				case p, ok := <-work:
					if !ok {
						return nil
					}
					d, err := digestFile(p)
					if err != nil {
						return err
					}
					mu.Lock()
					digests[p] = d
					mu.Unlock()
				case <-t.Dying():
					return tomb.ErrDying
				}
			}
		})
	}

feed:
	for _, p := range paths {
		select {
		case work <- p:
		case <-t.Dying():
			break feed
		}
	}
	close(work)
	if err := t.Wait(); err != nil {
		return nil, err
	}
	return digests, nil
}
