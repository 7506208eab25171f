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
	"io"
	"os"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/snapcore/sqfsmeta/logger"
	"github.com/snapcore/sqfsmeta/squashfs"
)

var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr

	loggerQuietSetup = logger.QuietSetup
)

const (
	shortHelp = "Inspect and build squashfs archives"
	longHelp  = `
sqfsmeta reads the metadata of squashfs 4.0 archives in either byte
order, and builds archives from a directory tree.
`
)

func init() {
	err := logger.SimpleSetup()
	if err != nil {
		fmt.Fprintf(Stderr, "WARNING: failed to activate logging: %v\n", err)
	}
}

func main() {
	if err := parseArgs(os.Args[1:]); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(Stdout, err)
			return
		}
		fmt.Fprintf(Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type cmdInfo struct {
	name, shortHelp, longHelp string
	builder                   func() flags.Commander
}

var commands []*cmdInfo

// addCommand registers a command, the parser built for every invocation
// gets a fresh instance from builder.
func addCommand(name, shortHelp, longHelp string, builder func() flags.Commander) {
	commands = append(commands, &cmdInfo{
		name:      name,
		shortHelp: shortHelp,
		longHelp:  longHelp,
		builder:   builder,
	})
}

type options struct {
	Quiet func() `short:"q" long:"quiet" description:"Hide warnings about skipped files unless debugging"`
}

func newParser() *flags.Parser {
	var opts options
	opts.Quiet = func() {
		if err := loggerQuietSetup(); err != nil {
			fmt.Fprintf(Stderr, "WARNING: failed to activate quiet logging: %v\n", err)
		}
	}
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.ShortDescription = shortHelp
	parser.LongDescription = longHelp
	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.shortHelp, strings.TrimSpace(c.longHelp), c.builder()); err != nil {
			logger.Panicf("cannot add command %q: %v", c.name, err)
		}
	}
	return parser
}

func parseArgs(args []string) error {
	_, err := newParser().ParseArgs(args)
	return err
}

// openImage opens the archive at path, the returned close function
// releases it.
func openImage(path string, allowNewerMinor bool) (*squashfs.Archive, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	a, err := squashfs.Open(f, &squashfs.ReadOptions{AllowNewerMinor: allowNewerMinor})
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("cannot open %q: %w", path, err)
	}
	return a, f.Close, nil
}
