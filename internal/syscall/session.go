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

// Package syscall implements spec.md §6's syscall surface: open/openat,
// close, read, write, writev, dup, fstat, newfstatat, unlinkat, mkdirat,
// mknodat, chdir, pipe2, and a stubbed ioctl(TIOCGWINSZ). Every function
// here is grounded statement-for-statement on
// original_source/src/kernel/sysfile.c's define_syscall bodies, translated
// from "thisproc()-carries-everything" into an explicit Session (this
// module has no process table — see internal/path.Namex's and
// internal/file.File's doc comments for the same decision).
//
// Per spec.md §6's own stated error convention, every operation below
// returns a plain int: -1 on failure, a byte count or 0 on success,
// exactly like the syscall ABI it is standing in for, rather than a Go
// (int, error) pair. This is the one place in the module where that
// convention is the right one: it is the literal external interface
// spec.md's boundary scenarios test against ("`read(fds[0], buf, 10)` on
// empty pipe → `0`"), not an internal API this module is free to redesign.
package syscall

import (
	"github.com/tinykernel/tinyfs/internal/file"
	"github.com/tinykernel/tinyfs/internal/fsys"
	"github.com/tinykernel/tinyfs/internal/inode"
	"github.com/tinykernel/tinyfs/internal/kthread"
)

// Open mode flags, matching the real values <fcntl.h> gives them (the
// original source includes the real header rather than defining its own,
// so sys_openat's omode really does arrive pre-encoded this way).
const (
	ORdOnly = 0x0
	OWrOnly = 0x1
	ORdWr   = 0x2
	OCreat  = 0o100
)

// AtFDCwd is the only dirfd value the openat/mkdirat/mknodat/unlinkat/
// newfstatat family accepts, matching AT_FDCWD.
const AtFDCwd = -100

// TIOCGWINSZ is the only ioctl request Ioctl accepts.
const TIOCGWINSZ = 0x5413

// Session is one open-file context: a current working directory, a
// descriptor table, and (optionally) the kernel thread whose Killed()
// alertable reads/writes should observe. It replaces the fields
// original_source hangs off Proc (oftable, cwd) plus the kill check
// thisproc()->killed performs inline, none of which this module's process
// layer (out of scope per spec.md §1) exists to provide.
type Session struct {
	fs    *fsys.Filesystem
	table *file.Table
	oft   *file.OpenFileTable
	cwd   *inode.Inode

	thread      *kthread.Thread
	maxOpWriteN int
	pipeSize    int
}

// NewSession opens a session rooted at fs's root directory (Share'd, so
// closing the session's cwd later never drops the filesystem's own
// permanent root reference), with a descriptor table of size
// maxOpenFiles. thread may be nil, in which case alertable waits this
// session triggers (pipe reads/writes) never observe a kill.
func NewSession(fs *fsys.Filesystem, table *file.Table, maxOpenFiles, opMaxNumBlocks, pipeSize int, thread *kthread.Thread) *Session {
	return &Session{
		fs:          fs,
		table:       table,
		oft:         file.NewOpenFileTable(maxOpenFiles),
		cwd:         fs.Root(),
		thread:      thread,
		maxOpWriteN: file.MaxOpWriteN(fs.Super.BlockSizeBytes, opMaxNumBlocks),
		pipeSize:    pipeSize,
	}
}

// Close releases the session's cwd reference. Call once the session (the
// process it stands in for, in the original) is done.
func (s *Session) Close() {
	s.fs.Inodes.Put(nil, s.cwd)
}

func (s *Session) killed() bool {
	if s.thread == nil {
		return false
	}
	return s.thread.Killed()
}

func (s *Session) fd2file(fd int) *file.File {
	f, ok := s.oft.Get(fd)
	if !ok {
		return nil
	}
	return f
}
