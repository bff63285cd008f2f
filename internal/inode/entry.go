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

// Package inode implements the inode layer: spec.md §4.4's Tree (Alloc,
// Get, Share, Put, Lock, Unlock, Sync, Read, Write, Clear) plus the
// directory operations (Lookup, Insert, Remove) that sit on top of Read
// and Write. Grounded on original_source/src/fs/inode.c for the exact
// control flow of every operation, and on the teacher's
// fs/inode.Inode interface (the sync.Locker embedding) and
// fs/inode/lookup_count.go (the "external synchronization required,
// destroy-on-zero" refcount helper) for the Go shape of the in-memory
// handle.
package inode

import "encoding/binary"

// Type is an on-disk InodeEntry's type tag.
type Type uint16

const (
	Invalid Type = iota
	Regular
	Directory
	Device
)

// RootInodeNo is the inode number of the filesystem root, fixed at mkfs
// time (original_source's ROOT_INODE_NO).
const RootInodeNo = 1

// ConsoleMajor is the major device number routed to the console
// collaborator (spec.md §4.6's "Inode type DEVICE with major==1").
const ConsoleMajor = 1

// Entry is the on-disk InodeEntry: spec.md §3's field list, packed as
// spec.md §9 describes (three u16 fields, then num_links, num_bytes,
// NumDirect direct pointers, one indirect pointer). The length of Addrs
// is fixed per Tree at InodeNumDirect; a zero Type marks the slot free.
type Entry struct {
	Type     Type
	Major    uint16
	Minor    uint16
	NumLinks uint16
	NumBytes uint32
	Addrs    []uint32
	Indirect uint32
}

// entrySize is the encoded byte size of an Entry with numDirect direct
// pointers; must match super.InodePerBlock's inodeEntrySize exactly so
// inode records and the superblock's inode-region sizing agree.
func entrySize(numDirect int) int {
	return 2*4 /* type, major, minor, num_links */ + 4 /* num_bytes */ + 4*numDirect + 4 /* indirect */
}

func newEntry(numDirect int) Entry {
	return Entry{Addrs: make([]uint32, numDirect)}
}

func (e *Entry) encode(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(e.Type))
	binary.LittleEndian.PutUint16(buf[2:4], e.Major)
	binary.LittleEndian.PutUint16(buf[4:6], e.Minor)
	binary.LittleEndian.PutUint16(buf[6:8], e.NumLinks)
	binary.LittleEndian.PutUint32(buf[8:12], e.NumBytes)
	off := 12
	for _, a := range e.Addrs {
		binary.LittleEndian.PutUint32(buf[off:off+4], a)
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], e.Indirect)
}

func decodeEntry(buf []byte, numDirect int) Entry {
	e := newEntry(numDirect)
	e.Type = Type(binary.LittleEndian.Uint16(buf[0:2]))
	e.Major = binary.LittleEndian.Uint16(buf[2:4])
	e.Minor = binary.LittleEndian.Uint16(buf[4:6])
	e.NumLinks = binary.LittleEndian.Uint16(buf[6:8])
	e.NumBytes = binary.LittleEndian.Uint32(buf[8:12])
	off := 12
	for i := range e.Addrs {
		e.Addrs[i] = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	}
	e.Indirect = binary.LittleEndian.Uint32(buf[off : off+4])
	return e
}

// MaxBytes is spec.md §3's INODE_MAX_BYTES: the largest file size this
// geometry can address through direct plus single-indirect pointers.
func MaxBytes(numDirect, numIndirect int, blockSizeBytes int64) int64 {
	return int64(numDirect+numIndirect) * blockSizeBytes
}
