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
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/snapcore/sqfsmeta/logger"
	"github.com/snapcore/sqfsmeta/osutil"
)

// SortEntry is one line of a sort list.
type SortEntry struct {
	Path     string
	Priority int16
	Line     int
}

// ParseSortList reads lines of "path priority". The priority is the last
// field, so paths may contain blanks. Empty lines and lines starting
// with '#' are ignored.
func ParseSortList(r io.Reader) ([]SortEntry, error) {
	var entries []SortEntry
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		sep := strings.LastIndexAny(text, " \t")
		if sep < 0 {
			return nil, fmt.Errorf("line %d: missing priority in %q", line, text)
		}
		path := strings.TrimSpace(text[:sep])
		prio, err := strconv.ParseInt(text[sep+1:], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid priority %q", line, text[sep+1:])
		}
		if prio < math.MinInt16 || prio > math.MaxInt16 {
			return nil, fmt.Errorf("line %d: priority %d out of range [%d, %d]", line, prio, math.MinInt16, math.MaxInt16)
		}
		entries = append(entries, SortEntry{Path: path, Priority: int16(prio), Line: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// LoadSortList applies the sort list at path to reg. Relative entries
// are resolved against root. Entries that cannot be stat'ed are reported
// and skipped.
func LoadSortList(reg *Registry, path, root string) (applied int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	entries, err := ParseSortList(f)
	if err != nil {
		return 0, fmt.Errorf("cannot parse sort list %q: %v", path, err)
	}
	for _, e := range entries {
		p := e.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		id, err := osutil.Lstat(p)
		if err != nil {
			logger.Noticef("Cannot stat sort list entry %q (line %d): %v, ignoring", e.Path, e.Line, err)
			continue
		}
		reg.SetPriority(id.Device, id.Inode, e.Priority)
		applied++
	}
	logger.Debugf("sort list %q: %d of %d entries applied", path, applied, len(entries))
	return applied, nil
}
