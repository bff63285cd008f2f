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

package file

import (
	"errors"

	"github.com/tinykernel/tinyfs/internal/bcache"
	"github.com/tinykernel/tinyfs/internal/inode"
	"github.com/tinykernel/tinyfs/internal/kthread"
)

// ErrTableFull is returned by Alloc when every slot is in use, matching
// file_alloc's NULL return (spec.md §4.7: allocator exhaustion is fatal at
// lower layers, but the file table's exhaustion is user-visible: the
// syscall layer turns it into -1, same as a failed open()).
var ErrTableFull = errors.New("file: table exhausted")

// Table is the global file table of spec.md §3/§4.6: a fixed-size array of
// File slots, one Table per mounted filesystem (replacing original_source's
// static struct ftable, per the same singleton-elimination spec.md's
// Design Notes apply to bcache/inodes — see internal/fsys).
type Table struct {
	mu    kthread.Spinlock
	slots []File
}

// NewTable allocates a table of the given size (cfg's MaxOpenFiles), every
// slot starting closed.
func NewTable(size int) *Table {
	if size < 1 {
		size = 1
	}
	return &Table{slots: make([]File, size)}
}

// AllocInode claims a free slot and fills it in as an INODE file. Called by
// the syscall layer's open/openat after namex resolves (or creates) the
// target inode.
func (t *Table) AllocInode(ino *inode.Inode, readable, writable bool) (*File, error) {
	f, err := t.alloc()
	if err != nil {
		return nil, err
	}
	f.kind = InodeKind
	f.readable = readable
	f.writable = writable
	f.off = 0
	f.ino = ino
	return f, nil
}

// AllocPipe claims two free slots and wires them as the read and write
// ends of a fresh pipe, matching pipe_alloc. If only one slot is
// available, the claimed one is released before returning the error, so a
// half-open pipe never leaks a table slot.
func (t *Table) AllocPipe(pipeSize int) (r, w *File, err error) {
	r, err = t.alloc()
	if err != nil {
		return nil, nil, err
	}
	w, err = t.alloc()
	if err != nil {
		t.release(r)
		return nil, nil, err
	}

	p := NewPipe(pipeSize)
	r.kind, r.readable, r.writable, r.pipe = PipeKind, true, false, p
	w.kind, w.readable, w.writable, w.pipe = PipeKind, false, true, p
	return r, w, nil
}

func (t *Table) alloc() (*File, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.slots {
		if t.slots[i].ref == 0 {
			t.slots[i].ref = 1
			return &t.slots[i], nil
		}
	}
	return nil, ErrTableFull
}

// release clears a slot without running any close-side-effects; used only
// to unwind a partially-successful AllocPipe.
func (t *Table) release(f *File) {
	t.mu.Lock()
	*f = File{}
	t.mu.Unlock()
}

// Dup increments f's reference count and returns f itself (not a copy):
// the duplicate descriptor shares the same File, and therefore the same
// seek offset, matching file_dup and the dup round-trip law in spec.md §8.
func (t *Table) Dup(f *File) *File {
	t.mu.Lock()
	f.ref++
	t.mu.Unlock()
	return f
}

// Close decrements f's reference count; at zero it releases the
// underlying pipe or puts the underlying inode (in a transaction this call
// opens and closes itself, exactly as file_close opens a fresh OpContext
// rather than reusing a caller's), matching file_close.
func (t *Table) Close(cache *bcache.Cache, tree *inode.Tree, f *File) {
	t.mu.Lock()
	if f.kind == None {
		t.mu.Unlock()
		return
	}
	f.ref--
	if f.ref > 0 {
		t.mu.Unlock()
		return
	}
	closed := *f
	*f = File{}
	t.mu.Unlock()

	switch closed.kind {
	case PipeKind:
		closed.pipe.Close(closed.writable)
	case InodeKind:
		op := cache.BeginOp()
		tree.Put(op, closed.ino)
		cache.EndOp(op)
	}
}

// OpenFileTable is the per-process descriptor table of spec.md §3: a
// mapping from small-integer fd to *File, lowest-free allocation,
// matching init_oftable/NOPENFILE.
type OpenFileTable struct {
	mu    kthread.Spinlock
	slots []*File
}

// ErrNoFreeDescriptor is returned by Install when every descriptor slot is
// in use.
var ErrNoFreeDescriptor = errors.New("file: no free descriptor")

// NewOpenFileTable allocates an empty descriptor table of the given size.
func NewOpenFileTable(size int) *OpenFileTable {
	if size < 1 {
		size = 1
	}
	return &OpenFileTable{slots: make([]*File, size)}
}

// Install assigns f to the lowest-numbered free descriptor.
func (o *OpenFileTable) Install(f *File) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, slot := range o.slots {
		if slot == nil {
			o.slots[i] = f
			return i, nil
		}
	}
	return -1, ErrNoFreeDescriptor
}

// Get returns the File installed at fd, or ok==false for an out-of-range
// or empty slot (an invalid fd, per spec.md §4.7).
func (o *OpenFileTable) Get(fd int) (f *File, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if fd < 0 || fd >= len(o.slots) || o.slots[fd] == nil {
		return nil, false
	}
	return o.slots[fd], true
}

// Clear removes and returns whatever was installed at fd, or ok==false if
// the slot was already empty or out of range.
func (o *OpenFileTable) Clear(fd int) (f *File, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if fd < 0 || fd >= len(o.slots) || o.slots[fd] == nil {
		return nil, false
	}
	f = o.slots[fd]
	o.slots[fd] = nil
	return f, true
}
