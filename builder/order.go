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
	"sort"
)

// emissionOrder returns files by descending priority. Files of equal
// priority keep their discovery order.
func emissionOrder(files []*sourceFile) []*sourceFile {
	buckets := make(map[int16][]*sourceFile)
	var prios []int16
	for _, f := range files {
		if _, ok := buckets[f.priority]; !ok {
			prios = append(prios, f.priority)
		}
		buckets[f.priority] = append(buckets[f.priority], f)
	}
	sort.Slice(prios, func(i, j int) bool { return prios[i] > prios[j] })

	ordered := make([]*sourceFile, 0, len(files))
	for _, p := range prios {
		ordered = append(ordered, buckets[p]...)
	}
	return ordered
}
