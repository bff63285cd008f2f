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

// Package file implements spec.md §4.6's open-file layer: the global file
// table, per-process file-descriptor tables, and pipes, all sitting on top
// of internal/inode and internal/bcache exactly as original_source's
// src/fs/file.c and src/fs/pipe.c sit on top of inode.c and cache.c.
package file

import (
	"errors"

	"github.com/tinykernel/tinyfs/internal/bcache"
	"github.com/tinykernel/tinyfs/internal/inode"
)

// Kind distinguishes what a File slot is backing, mirroring FD_NONE/
// FD_PIPE/FD_INODE.
type Kind int

const (
	None Kind = iota
	PipeKind
	InodeKind
)

var (
	ErrNotReadable = errors.New("file: not open for reading")
	ErrNotWritable = errors.New("file: not open for writing")
	ErrTooLarge    = errors.New("file: offset at or beyond the inode's maximum size")
	ErrWrongType   = errors.New("file: operation does not apply to this file's kind")
)

// File is one slot of the global table: spec.md §3's File. ref, readable,
// writable, off, ino and pipe are all only ever touched while the owning
// Table's lock is held (for ref and kind transitions) or while ino is
// locked (for off, serializing concurrent writers sharing one File per
// spec.md §5's "off advanced only while the inode is locked").
type File struct {
	kind     Kind
	ref      uint32
	readable bool
	writable bool
	off      uint32
	ino      *inode.Inode
	pipe     *Pipe
}

// Kind, Readable, Writable, Inode, Pipe are read-only views a caller (the
// syscall layer) uses to decide what kind of descriptor it is holding.
func (f *File) Kind() Kind          { return f.kind }
func (f *File) Readable() bool      { return f.readable }
func (f *File) Writable() bool      { return f.writable }
func (f *File) Inode() *inode.Inode { return f.ino }
func (f *File) Pipe() *Pipe         { return f.pipe }
func (f *File) Offset() uint32      { return f.off }

// Stat mirrors original_source's struct stat as populated by stati/
// file_stat: just enough metadata for fstat/newfstatat to report.
type Stat struct {
	InodeNo  uint32
	Type     inode.Type
	NumLinks uint16
	NumBytes uint32
}

// Stat fills in st for an INODE file, locking the inode only long enough to
// copy its metadata. Returns ErrWrongType for a pipe, matching file_stat's
// "-1 unless FD_INODE" rule (the syscall layer translates that to -1).
func (f *File) Stat(st *Stat) error {
	if f.kind != InodeKind {
		return ErrWrongType
	}
	f.ino.Lock()
	defer f.ino.Unlock()
	st.InodeNo = f.ino.Number()
	st.Type = f.ino.Type()
	st.NumLinks = f.ino.NumLinks()
	st.NumBytes = f.ino.NumBytes()
	return nil
}

// Read reads into dst at f's current offset (INODE files) or from the pipe
// buffer (PIPE files), advancing the offset for INODE files by the amount
// actually read. killed is consulted only for pipes, which alone have an
// alertable wait per spec.md §5; pass nil if the caller tracks no
// killable thread.
func (f *File) Read(tree *inode.Tree, dst []byte, killed func() bool) (int, error) {
	if !f.readable {
		return 0, ErrNotReadable
	}
	switch f.kind {
	case PipeKind:
		return f.pipe.Read(dst, killed)
	case InodeKind:
		f.ino.Lock()
		n, err := tree.Read(f.ino, dst, f.off)
		f.off += uint32(n)
		f.ino.Unlock()
		return n, err
	default:
		panic("file: Read on a File with no backing object")
	}
}

// MaxOpWriteN returns the largest number of bytes a single Write chunk may
// ask one transaction to absorb: MAX_OP_WRITE_N. Following xv6-derived
// kernels' accounting (this core descends from the same lineage, per
// original_source's file_write using an identically named constant), the
// per-transaction budget reserves blocks for the inode entry, its bitmap
// bit, and a possible indirect-pointer block, and splits what remains
// between a data block and its own indirect-pointer update.
func MaxOpWriteN(blockSizeBytes int64, opMaxNumBlocks int) int {
	reserve := 4
	budget := opMaxNumBlocks - reserve
	if budget < 2 {
		budget = 2
	}
	return (budget / 2) * int(blockSizeBytes)
}

// Write writes src to f's current offset (INODE files, chunked across
// maxOpWriteN-sized transactions, each its own begin_op/end_op pair) or
// into the pipe buffer (PIPE files). killed is consulted only for pipes.
// For INODE files, the span is first clamped to the inode's maximum size
// exactly as file_write clamps to INODE_MAX_BYTES - f->off.
func (f *File) Write(cache *bcache.Cache, tree *inode.Tree, src []byte, maxOpWriteN int, killed func() bool) (int, error) {
	if !f.writable {
		return 0, ErrNotWritable
	}
	switch f.kind {
	case PipeKind:
		return f.pipe.Write(src, killed)
	case InodeKind:
		return f.writeInode(cache, tree, src, maxOpWriteN)
	default:
		panic("file: Write on a File with no backing object")
	}
}

func (f *File) writeInode(cache *bcache.Cache, tree *inode.Tree, src []byte, maxOpWriteN int) (int, error) {
	maxBytes := uint32(tree.MaxBytes())
	if f.off >= maxBytes {
		return 0, ErrTooLarge
	}
	n := len(src)
	if room := int(maxBytes - f.off); n > room {
		n = room
	}
	if maxOpWriteN < 1 {
		maxOpWriteN = 1
	}

	written := 0
	for written < n {
		chunk := n - written
		if chunk > maxOpWriteN {
			chunk = maxOpWriteN
		}

		op := cache.BeginOp()
		f.ino.Lock()
		w, err := tree.Write(op, f.ino, src[written:written+chunk], f.off)
		f.off += uint32(w)
		f.ino.Unlock()
		cache.EndOp(op)

		written += w
		if err != nil {
			return written, err
		}
		if w == 0 {
			break
		}
	}
	return written, nil
}
