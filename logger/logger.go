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

package logger

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/snapcore/sqfsmeta/osutil"
)

// A Logger records what happens while reading or building an archive.
type Logger interface {
	// Notice is for problems the user should see, like skipped source
	// files
	Notice(msg string)
	// Debug is for block and table level tracing
	Debug(msg string)
}

const (
	// DefaultFlags are passed to the default console log.Logger
	DefaultFlags = log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile

	// debugEnv enables debug output of the console loggers
	debugEnv = "SQFSMETA_DEBUG"

	// callDepth is the frame of the Noticef/Debugf caller as seen from
	// Log.output
	callDepth = 4
)

type nullLogger struct{}

func (nullLogger) Notice(string) {}
func (nullLogger) Debug(string)  {}

// NullLogger is a logger that does nothing
var NullLogger = nullLogger{}

var (
	logger Logger = NullLogger
	lock   sync.Mutex

	stderr io.Writer = os.Stderr
)

// Panicf notifies the user and then panics
func Panicf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)

	lock.Lock()
	defer lock.Unlock()

	logger.Notice("PANIC " + msg)
	panic(msg)
}

// Noticef notifies the user of something
func Noticef(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)

	lock.Lock()
	defer lock.Unlock()

	logger.Notice(msg)
}

// Debugf records something in the debug log
func Debugf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)

	lock.Lock()
	defer lock.Unlock()

	logger.Debug(msg)
}

// SetLogger sets the global logger to the given one
func SetLogger(l Logger) {
	lock.Lock()
	defer lock.Unlock()

	logger = l
}

// MockLogger replaces the existing logger with a buffer and returns
// the log buffer and a restore function.
func MockLogger() (buf *bytes.Buffer, restore func()) {
	return mockLogger(nil)
}

// MockDebugLogger is like MockLogger but the returned logger always
// records debug messages.
func MockDebugLogger() (buf *bytes.Buffer, restore func()) {
	return mockLogger(&SetupOptions{Debug: true})
}

func mockLogger(opts *SetupOptions) (*bytes.Buffer, func()) {
	buf := &bytes.Buffer{}
	old := logger
	SetLogger(New(buf, DefaultFlags, opts))
	return buf, func() {
		SetLogger(old)
	}
}

// SetupOptions select what a Log shows.
type SetupOptions struct {
	// Quiet hides notices unless debugging is enabled.
	Quiet bool
	// Debug records debug messages whether or not SQFSMETA_DEBUG is
	// set.
	Debug bool
}

// Log is the console Logger.
type Log struct {
	log *log.Logger

	debug bool
	quiet bool
}

// New creates a Log writing to w with the given log.Logger flags, opts
// may be nil.
func New(w io.Writer, flag int, opts *SetupOptions) *Log {
	if opts == nil {
		opts = &SetupOptions{}
	}
	return &Log{
		log:   log.New(w, "", flag),
		debug: opts.Debug,
		quiet: opts.Quiet,
	}
}

func (l *Log) debugEnabled() bool {
	return l.debug || osutil.GetenvBool(debugEnv)
}

// Debug only prints when debugging is enabled
func (l *Log) Debug(msg string) {
	if l.debugEnabled() {
		l.output("DEBUG: " + msg)
	}
}

// Notice alerts the user about something. A quiet Log still shows
// notices while debugging.
func (l *Log) Notice(msg string) {
	if !l.quiet || l.debugEnabled() {
		l.output(msg)
	}
}

func (l *Log) output(msg string) {
	l.log.Output(callDepth, msg)
}

func buildFlags() int {
	flags := log.Lshortfile
	if term := os.Getenv("TERM"); term != "" {
		// interactive use, timestamps are useful
		flags = DefaultFlags
	}
	return flags
}

// Setup installs a console logger on standard error, opts may be nil.
func Setup(opts *SetupOptions) error {
	SetLogger(New(stderr, buildFlags(), opts))
	return nil
}

// SimpleSetup creates the default (console) logger
func SimpleSetup() error {
	return Setup(nil)
}

// QuietSetup creates a console logger that only shows notices when
// debugging is enabled.
func QuietSetup() error {
	return Setup(&SetupOptions{Quiet: true})
}
