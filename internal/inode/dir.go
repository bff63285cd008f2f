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

package inode

import (
	"encoding/binary"
	"fmt"

	"github.com/tinykernel/tinyfs/internal/bcache"
)

// DirEntry is spec.md §3's fixed-width directory record: an inode number
// paired with a name, padded/truncated to the filesystem's
// FileNameMaxLength. InodeNo==0 marks a tombstone.
type DirEntry struct {
	InodeNo uint32
	Name    string
}

func dirEntrySize(nameMaxLen int) int {
	return 4 + nameMaxLen
}

func (d DirEntry) encode(buf []byte, nameMaxLen int) {
	binary.LittleEndian.PutUint32(buf[0:4], d.InodeNo)
	name := []byte(d.Name)
	if len(name) > nameMaxLen {
		name = name[:nameMaxLen]
	}
	copy(buf[4:4+nameMaxLen], name)
	for i := len(name); i < nameMaxLen; i++ {
		buf[4+i] = 0
	}
}

func decodeDirEntry(buf []byte, nameMaxLen int) DirEntry {
	inodeNo := binary.LittleEndian.Uint32(buf[0:4])
	raw := buf[4 : 4+nameMaxLen]
	end := 0
	for end < len(raw) && raw[end] != 0 {
		end++
	}
	return DirEntry{InodeNo: inodeNo, Name: string(raw[:end])}
}

// Lookup scans dir (which must be a Directory) for name, returning its
// inode number and byte offset within the directory. Returns inodeNo==0
// if name is not present. The caller must hold dir's lock.
func (t *Tree) Lookup(dir *Inode, name string) (inodeNo uint32, index uint32) {
	if dir.entry.Type != Directory {
		panic("inode: Lookup: not a directory")
	}
	sz := uint32(dirEntrySize(t.nameMaxLen))
	buf := make([]byte, sz)
	for off := uint32(0); off < dir.entry.NumBytes; off += sz {
		if _, err := t.Read(dir, buf, off); err != nil {
			panic(fmt.Sprintf("inode: Lookup: %v", err))
		}
		e := decodeDirEntry(buf, t.nameMaxLen)
		if e.InodeNo != 0 && e.Name == name {
			return e.InodeNo, off
		}
	}
	return 0, 0
}

// Insert adds {name, inodeNo} to dir, reusing a tombstone slot (an entry
// with InodeNo==0) if one exists, else appending at the end. Returns the
// byte offset the entry was written at, or an error if name is already
// present. The caller must hold dir's lock and must give op enough
// remaining budget for up to three block writes: the entry's data block,
// the inode's own entry block when appending grows NumBytes, and the
// bitmap block when the directory grows into a fresh block (a reused
// tombstone slot needs only the first).
func (t *Tree) Insert(op *bcache.Op, dir *Inode, name string, inodeNo uint32) (uint32, error) {
	if dir.entry.Type != Directory {
		panic("inode: Insert: not a directory")
	}
	if len(name) > t.nameMaxLen {
		name = name[:t.nameMaxLen]
	}
	if existing, _ := t.Lookup(dir, name); existing != 0 {
		return 0, fmt.Errorf("inode: Insert: %q already present in directory %d", name, dir.number)
	}

	sz := uint32(dirEntrySize(t.nameMaxLen))
	buf := make([]byte, sz)
	off := uint32(0)
	for ; off < dir.entry.NumBytes; off += sz {
		if _, err := t.Read(dir, buf, off); err != nil {
			return 0, fmt.Errorf("inode: Insert: %w", err)
		}
		if decodeDirEntry(buf, t.nameMaxLen).InodeNo == 0 {
			break
		}
	}

	entry := DirEntry{InodeNo: inodeNo, Name: name}
	entry.encode(buf, t.nameMaxLen)
	if _, err := t.Write(op, dir, buf, off); err != nil {
		return 0, fmt.Errorf("inode: Insert: %w", err)
	}
	return off, nil
}

// ReadDir returns every live entry in dir (tombstones skipped), in on-disk
// order, for tinyfsctl shell's ls builtin. The caller must hold dir's lock.
func (t *Tree) ReadDir(dir *Inode) []DirEntry {
	if dir.entry.Type != Directory {
		panic("inode: ReadDir: not a directory")
	}
	sz := uint32(dirEntrySize(t.nameMaxLen))
	buf := make([]byte, sz)
	var entries []DirEntry
	for off := uint32(0); off < dir.entry.NumBytes; off += sz {
		if _, err := t.Read(dir, buf, off); err != nil {
			panic(fmt.Sprintf("inode: ReadDir: %v", err))
		}
		e := decodeDirEntry(buf, t.nameMaxLen)
		if e.InodeNo != 0 {
			entries = append(entries, e)
		}
	}
	return entries
}

// Remove deletes the directory entry at byte offset index by overwriting
// it with the directory's final entry and truncating NumBytes by one
// entry's width, keeping the directory tombstone-free. Per spec.md §9's
// Design Notes resolution of inode_remove's ambiguity, Remove persists
// the new NumBytes itself rather than leaving that to the caller. The
// caller must hold dir's lock and must give op enough budget for up to
// two block writes (the moved-in last entry, plus the inode's own entry
// block for the NumBytes update).
func (t *Tree) Remove(op *bcache.Op, dir *Inode, index uint32) {
	if dir.entry.Type != Directory {
		panic("inode: Remove: not a directory")
	}
	sz := uint32(dirEntrySize(t.nameMaxLen))
	if index >= dir.entry.NumBytes {
		panic("inode: Remove: index beyond directory size")
	}

	buf := make([]byte, sz)
	if _, err := t.Read(dir, buf, index); err != nil {
		panic(fmt.Sprintf("inode: Remove: %v", err))
	}
	if decodeDirEntry(buf, t.nameMaxLen).InodeNo == 0 {
		return
	}

	last := dir.entry.NumBytes - sz
	if _, err := t.Read(dir, buf, last); err != nil {
		panic(fmt.Sprintf("inode: Remove: %v", err))
	}
	if _, err := t.Write(op, dir, buf, index); err != nil {
		panic(fmt.Sprintf("inode: Remove: %v", err))
	}

	dir.entry.NumBytes = last
	t.syncLocked(op, dir, true)
}
