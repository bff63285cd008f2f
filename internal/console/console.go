// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package console implements the line-discipline collaborator spec.md
// §4.6 routes device inode (major==1) reads and writes to: an edited
// input line with backspace, kill-line, and EOF handling, grounded on
// original_source/src/kernel/console.c's console_init/console_read/
// console_write/console_intr.
package console

import (
	"io"

	"github.com/tinykernel/tinyfs/internal/kthread"
)

const (
	bufSize = 128

	backspace     = 127
	eof           = 'D' - '@' // Ctrl-D
	killLine      = 'U' - '@' // Ctrl-U
	interruptChar = 'C' - '@' // Ctrl-C
)

// Line is a single edited input line plus raw output, standing in for
// original_source's package-level `struct console cons`: one per booted
// kernel instead of a global, same as internal/fsys replaces the other
// package-level singletons. It implements inode.CharDevice, so
// internal/inode.Tree.RegisterConsole accepts it directly.
type Line struct {
	mu  kthread.Spinlock
	sem *kthread.Sem

	buf      [bufSize]byte
	readIdx  uint64
	writeIdx uint64
	editIdx  uint64

	out         io.Writer
	onInterrupt func()
}

// New returns a Line that echoes output to out (the UART in the original;
// any io.Writer here, e.g. a terminal's stdout).
func New(out io.Writer) *Line {
	return &Line{sem: kthread.NewSem(0), out: out}
}

// OnInterrupt registers the callback Intr invokes when it sees Ctrl-C,
// standing in for console_intr's `kill(thisproc()->pid)` — signaling the
// foreground thread is the scheduler's job, which this module does not
// implement, so the caller supplies whatever "kill the foreground job"
// means in its own process model.
func (l *Line) OnInterrupt(fn func()) { l.onInterrupt = fn }

func (l *Line) echo(c byte) {
	if l.out != nil {
		l.out.Write([]byte{c})
	}
}

// Write implements inode.CharDevice: pushes every byte of src straight out
// to the UART, matching console_write (which in the original also
// temporarily unlocks the calling inode around the UART writes; that
// unlock/relock is the inode layer's concern, handled by
// internal/inode.Tree.Write calling this without holding the inode's own
// lock in the first place — see its doc comment).
func (l *Line) Write(src []byte) (int, error) {
	l.mu.Lock()
	for _, c := range src {
		l.echo(c)
	}
	l.mu.Unlock()
	return len(src), nil
}

// Read implements inode.CharDevice: blocks until the line buffer holds at
// least one unread byte, then copies up to len(dst) bytes, stopping early
// at a newline (inclusive) or an EOF control character (exclusive — EOF
// is never copied out; when it ends a Read that already copied bytes it is
// "put back" by rewinding readIdx, matching console_read's own handling,
// so the next Read sees EOF again, consumes it, and returns 0 for a
// line-buffered shell's exit check).
//
// Unlike internal/file.Pipe.Read, this wait is unalertable: CharDevice's
// interface carries no thread identity to check for a kill request, and
// spec.md's boundary scenarios test alertable waits only for pipes and
// process wait/exit, never for the console. A caller wanting a killable
// console read would need to race this call against its own cancellation
// signal at a layer above.
func (l *Line) Read(dst []byte) (int, error) {
	target := len(dst)
	n := 0

	l.mu.Lock()
	for n < target {
		if l.readIdx == l.writeIdx {
			l.mu.Unlock()
			l.sem.Wait()
			l.mu.Lock()
			continue
		}

		l.readIdx = (l.readIdx + 1) % bufSize
		c := l.buf[l.readIdx]
		if c == eof {
			if n > 0 {
				l.readIdx = (l.readIdx - 1 + bufSize) % bufSize
			}
			break
		}

		dst[n] = c
		n++
		if c == '\n' {
			break
		}
	}
	l.mu.Unlock()
	return n, nil
}

// Intr delivers one input character from the driver, matching
// console_intr: it edits the line buffer, echoes to out, and wakes a
// blocked Read once a line is ready (newline, EOF, or a full buffer).
func (l *Line) Intr(c byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c == '\r' {
		c = '\n'
	}

	switch c {
	case backspace:
		if l.editIdx != l.writeIdx {
			l.editIdx = (l.editIdx - 1 + bufSize) % bufSize
			l.echo('\b')
			l.echo(' ')
			l.echo('\b')
		}

	case killLine:
		for l.editIdx != l.writeIdx && l.buf[l.editIdx] != '\n' {
			l.editIdx = (l.editIdx - 1 + bufSize) % bufSize
			l.echo('\b')
			l.echo(' ')
			l.echo('\b')
		}

	case eof:
		if (l.editIdx+1)%bufSize == l.readIdx {
			return
		}
		l.editIdx = (l.editIdx + 1) % bufSize
		l.buf[l.editIdx] = c
		l.echo(c)
		l.writeIdx = l.editIdx
		l.sem.Post()

	case interruptChar:
		l.echo('^')
		l.echo('C')
		if l.onInterrupt != nil {
			l.onInterrupt()
		}

	default:
		if (l.editIdx+1)%bufSize == l.readIdx {
			return
		}
		l.editIdx = (l.editIdx + 1) % bufSize
		l.buf[l.editIdx] = c
		l.echo(c)
		if c == '\n' || (l.editIdx+1)%bufSize == l.readIdx {
			l.writeIdx = l.editIdx
			l.sem.Post()
		}
	}
}
