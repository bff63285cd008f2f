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
	"github.com/tinykernel/tinyfs/internal/kthread"
	"github.com/tinykernel/tinyfs/internal/super"
)

// CharDevice is the collaborator a Device inode with Major==ConsoleMajor
// delegates Read/Write to; internal/console.Line implements it.
type CharDevice interface {
	Read(dst []byte) (int, error)
	Write(src []byte) (int, error)
}

// Inode is the in-memory handle for one on-disk InodeEntry: spec.md §3's
// Inode. Number and the lock are immutable for the handle's lifetime;
// Entry and Valid are protected by the handle's own lock (Lock/Unlock),
// exactly as the teacher's fs/inode.Inode embeds sync.Locker over the
// fields a caller is about to mutate.
type Inode struct {
	tree   *Tree
	number uint32

	lock  *kthread.Sem
	rc    refcount
	entry Entry
	valid bool
}

// Number returns the inode number. Safe to call without holding the lock.
func (ino *Inode) Number() uint32 { return ino.number }

// Lock acquires the inode's sleep-lock. Unalertable: per spec.md §9's
// Design Notes, "the block mutex is unalertable" applies equally to this
// sleep-lock (only a pipe's read-side wait is alertable).
func (ino *Inode) Lock() { ino.lock.Wait() }

// Unlock releases the inode's sleep-lock.
func (ino *Inode) Unlock() { ino.lock.Post() }

// Type, NumLinks, NumBytes, Major, Minor read the in-memory entry. The
// caller must hold the lock (or be certain no concurrent mutator can run,
// e.g. immediately after Tree.Alloc before the inode_no has been shared).
func (ino *Inode) Type() Type        { return ino.entry.Type }
func (ino *Inode) NumLinks() uint16  { return ino.entry.NumLinks }
func (ino *Inode) NumBytes() uint32  { return ino.entry.NumBytes }
func (ino *Inode) Major() uint16     { return ino.entry.Major }
func (ino *Inode) Minor() uint16     { return ino.entry.Minor }

// SetLinks, SetDevice mutate the in-memory entry; the caller must call
// Tree.Sync(op, ino, true) afterward (or rely on a subsequent mutator,
// such as Write, that syncs itself) to persist the change. Exported so
// mkdirat/mknodat (internal/syscall) can finish initializing a freshly
// allocated inode without the inode package needing to know about
// directory-entry or device-number conventions itself.
func (ino *Inode) SetLinks(n uint16)          { ino.entry.NumLinks = n }
func (ino *Inode) SetDevice(major, minor uint16) {
	ino.entry.Major = major
	ino.entry.Minor = minor
}

// Tree is the inode layer: spec.md §4.4's Alloc/Get/Share/Put/Lock/
// Unlock/Sync/Read/Write/Clear, plus the directory operations in dir.go.
// One Tree exists per mounted filesystem; spec.md's Design Notes model it
// as a field of a single Filesystem value rather than a package-level
// singleton (original_source's static `inodes`/`lock`/`head`).
type Tree struct {
	cache *bcache.Cache
	sb    *super.SuperBlock

	numDirect   int
	numIndirect int
	blockSize   int64
	nameMaxLen  int

	// mu is the direct analogue of original_source's global inode-layer
	// lock: it serializes Alloc's linear table scan and guards byNo
	// (standing in for the
	// original's intrusive inode list). refcount is independently
	// synchronized (its own mutex) rather than relying on mu, since the
	// C source calls increment_rc/decrement_rc from inode_share/
	// inode_put without holding its lock at all — treated here as an
	// intentional decoupling rather than reproduced as a bug.
	mu    kthread.Spinlock
	byNo  map[uint32]*Inode

	console CharDevice
}

// Open constructs a Tree over an already-opened block cache and
// superblock. RegisterConsole must be called afterward if this image has
// a console device inode (major==ConsoleMajor); Read/Write on such an
// inode panic otherwise.
func Open(cache *bcache.Cache, sb *super.SuperBlock, fileNameMaxLength int) *Tree {
	return &Tree{
		cache:       cache,
		sb:          sb,
		numDirect:   sb.InodeNumDirect,
		numIndirect: sb.InodeNumIndirect,
		blockSize:   sb.BlockSizeBytes,
		nameMaxLen:  fileNameMaxLength,
		byNo:        make(map[uint32]*Inode),
	}
}

// RegisterConsole wires the console device inode's backing collaborator.
func (t *Tree) RegisterConsole(dev CharDevice) { t.console = dev }

// NameMaxLen returns the geometry's FileNameMaxLength, the longest name a
// DirEntry can hold; internal/path truncates path components to this
// length exactly as skipelem does.
func (t *Tree) NameMaxLen() int { return t.nameMaxLen }

// MaxBytes returns INODE_MAX_BYTES for this tree's geometry; internal/file
// clamps file_write's span to this bound minus the current offset.
func (t *Tree) MaxBytes() int64 { return MaxBytes(t.numDirect, t.numIndirect, t.blockSize) }

// NumInodes returns the size of the inode table, the exclusive upper
// bound on a valid inode number; tinyfsctl fsck walks 1..NumInodes-1
// looking for non-Invalid entries.
func (t *Tree) NumInodes() uint32 { return t.sb.NumInodes }

// Blocks returns every data block number ino currently references: its
// direct pointers, then (if present) the indirect block itself followed
// by every non-hole entry it contains. Used only by tinyfsctl fsck to
// cross-check the bitmap against actual inode references; the caller
// must hold ino's lock.
func (t *Tree) Blocks(ino *Inode) []uint32 {
	var blocks []uint32
	for _, a := range ino.entry.Addrs {
		if a != 0 {
			blocks = append(blocks, a)
		}
	}
	if ino.entry.Indirect != 0 {
		blocks = append(blocks, ino.entry.Indirect)
		blk := t.cache.Acquire(uint64(ino.entry.Indirect))
		for i := 0; i < t.numIndirect; i++ {
			a := binary.LittleEndian.Uint32(blk.Data()[i*4 : i*4+4])
			if a != 0 {
				blocks = append(blocks, a)
			}
		}
		t.cache.Release(blk)
	}
	return blocks
}

func (t *Tree) toBlockNo(inodeNo uint32) uint64 {
	perBlock := uint32(super.InodePerBlock(t.blockSize, t.numDirect))
	return uint64(t.sb.InodeStart) + uint64(inodeNo/perBlock)
}

func (t *Tree) entryOffset(inodeNo uint32) int {
	perBlock := uint32(super.InodePerBlock(t.blockSize, t.numDirect))
	return int(inodeNo%perBlock) * entrySize(t.numDirect)
}

// Alloc scans the inode table for the first INVALID slot, claims it by
// writing a fresh entry of type t, and returns its inode number. Panics
// if the table is full, matching spec.md §4.7's "allocator exhaustion is
// fatal."
func (t *Tree) Alloc(op *bcache.Op, typ Type) uint32 {
	if typ == Invalid {
		panic("inode: Alloc requires a non-Invalid type")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for inodeNo := uint32(1); inodeNo < t.sb.NumInodes; inodeNo++ {
		blk := t.cache.Acquire(t.toBlockNo(inodeNo))
		off := t.entryOffset(inodeNo)
		e := decodeEntry(blk.Data()[off:off+entrySize(t.numDirect)], t.numDirect)
		if e.Type == Invalid {
			fresh := newEntry(t.numDirect)
			fresh.Type = typ
			fresh.encode(blk.Data()[off : off+entrySize(t.numDirect)])
			t.cache.Sync(op, blk)
			t.cache.Release(blk)
			return inodeNo
		}
		t.cache.Release(blk)
	}

	panic("inode: inode table exhausted")
}

// Get returns the shared in-memory handle for inodeNo, bumping its
// refcount. A fresh handle is created and inserted into byNo before its
// content is loaded from disk (spec.md §9's Design Notes resolution of
// inode_get's race: "insert first, then anyone finding it will block on
// the lock until initial load completes"), rather than original_source's
// order of locking-then-inserting.
func (t *Tree) Get(inodeNo uint32) *Inode {
	if inodeNo == 0 {
		return nil
	}
	if inodeNo >= t.sb.NumInodes {
		panic(fmt.Sprintf("inode: Get: inode number %d out of range", inodeNo))
	}

	t.mu.Lock()
	if ino, ok := t.byNo[inodeNo]; ok {
		ino.rc.inc()
		t.mu.Unlock()
		return ino
	}

	ino := &Inode{
		tree:   t,
		number: inodeNo,
		lock:   kthread.NewSem(1),
		entry:  newEntry(t.numDirect),
	}
	ino.rc.count = 1
	t.byNo[inodeNo] = ino
	t.mu.Unlock()

	ino.Lock()
	t.syncLocked(nil, ino, false)
	ino.Unlock()
	return ino
}

// Share bumps inode's refcount and returns the same handle.
func (t *Tree) Share(ino *Inode) *Inode {
	ino.rc.inc()
	return ino
}

// Put decrements inode's refcount. If it reaches zero and the inode has
// no remaining directory links, the inode's content is cleared, its type
// is marked Invalid on disk, and the handle is forgotten. The destroy
// check runs inside refcount's own dec (the lookupCount-style
// "destroy-on-zero" shape), rather than as a separate decrement-then-
// check-again step, so no concurrent Get can observe a refcount of zero
// that is about to be destroyed out from under it.
func (t *Tree) Put(op *bcache.Op, ino *Inode) {
	ino.rc.destroy = func() {
		if ino.entry.NumLinks != 0 {
			return
		}
		ino.Lock()
		ino.entry.Type = Invalid
		t.clearLocked(op, ino)
		ino.Unlock()

		t.mu.Lock()
		delete(t.byNo, ino.number)
		t.mu.Unlock()
	}
	ino.rc.dec()
}

// syncLocked loads or stores ino's entry relative to disk. write==false
// loads (only if !ino.valid); write==true stores (only if ino.valid).
// The caller must hold ino's lock.
func (t *Tree) syncLocked(op *bcache.Op, ino *Inode, write bool) {
	switch {
	case ino.valid && write:
		blk := t.cache.Acquire(t.toBlockNo(ino.number))
		off := t.entryOffset(ino.number)
		ino.entry.encode(blk.Data()[off : off+entrySize(t.numDirect)])
		t.cache.Sync(op, blk)
		t.cache.Release(blk)
	case !ino.valid && !write:
		blk := t.cache.Acquire(t.toBlockNo(ino.number))
		off := t.entryOffset(ino.number)
		ino.entry = decodeEntry(blk.Data()[off:off+entrySize(t.numDirect)], t.numDirect)
		t.cache.Release(blk)
		ino.valid = true
	case ino.valid && !write:
		// already loaded, nothing to do.
	case !ino.valid && write:
		panic("inode: Sync: cannot write an inode that has never been loaded")
	}
}

// Sync is the exported form of syncLocked; the caller must hold ino's
// lock, matching spec.md's contract.
func (t *Tree) Sync(op *bcache.Op, ino *Inode, write bool) {
	t.syncLocked(op, ino, write)
}

// mapBlock returns the on-disk block number holding file-relative block
// index for ino, allocating it first if op is non-nil and the slot is
// currently a hole. Returns 0 if op is nil and the slot is a hole
// (spec.md §4.4's "callers treat as hole"). The caller must hold ino's
// lock.
func (t *Tree) mapBlock(op *bcache.Op, ino *Inode, index uint32) uint32 {
	if int(index) < t.numDirect {
		if ino.entry.Addrs[index] == 0 {
			if op == nil {
				return 0
			}
			ino.entry.Addrs[index] = uint32(t.cache.Alloc(op))
			t.syncLocked(op, ino, true)
		}
		return ino.entry.Addrs[index]
	}

	indirectIndex := index - uint32(t.numDirect)
	if int(indirectIndex) >= t.numIndirect {
		panic("inode: mapBlock: file block index beyond INODE_MAX_BYTES")
	}

	if ino.entry.Indirect == 0 {
		if op == nil {
			return 0
		}
		ino.entry.Indirect = uint32(t.cache.Alloc(op))
		t.syncLocked(op, ino, true)
	}

	blk := t.cache.Acquire(uint64(ino.entry.Indirect))
	byteOff := int(indirectIndex) * 4
	blockNo := binary.LittleEndian.Uint32(blk.Data()[byteOff : byteOff+4])
	if blockNo == 0 {
		if op == nil {
			t.cache.Release(blk)
			return 0
		}
		blockNo = uint32(t.cache.Alloc(op))
		binary.LittleEndian.PutUint32(blk.Data()[byteOff:byteOff+4], blockNo)
		t.cache.Sync(op, blk)
	}
	t.cache.Release(blk)
	return blockNo
}

// Read copies up to len(dst) bytes starting at off from ino into dst,
// clamped to ino's current NumBytes, and returns the number of bytes
// copied. Device inodes delegate to the registered console collaborator.
// The caller must hold ino's lock.
func (t *Tree) Read(ino *Inode, dst []byte, off uint32) (int, error) {
	if ino.entry.Type == Device {
		if ino.entry.Major != ConsoleMajor || t.console == nil {
			panic("inode: Read: device inode has no registered collaborator")
		}
		return t.console.Read(dst)
	}

	count := uint32(len(dst))
	if off > ino.entry.NumBytes {
		return 0, fmt.Errorf("inode: Read: offset %d beyond file size %d", off, ino.entry.NumBytes)
	}
	if off+count > ino.entry.NumBytes {
		count = ino.entry.NumBytes - off
	}

	var haveRead uint32
	for haveRead < count {
		blockNo := t.mapBlock(nil, ino, (off+haveRead)/uint32(t.blockSize))
		if blockNo == 0 {
			panic("inode: Read: hole found within NumBytes")
		}
		blk := t.cache.Acquire(uint64(blockNo))
		inBlockOff := (off + haveRead) % uint32(t.blockSize)
		sz := uint32(t.blockSize) - inBlockOff
		if remain := count - haveRead; sz > remain {
			sz = remain
		}
		copy(dst[haveRead:haveRead+sz], blk.Data()[inBlockOff:inBlockOff+sz])
		t.cache.Release(blk)
		haveRead += sz
	}
	return int(haveRead), nil
}

// Write copies src into ino starting at off, extending NumBytes and
// allocating blocks on demand, wrapped in op. Requires off <= NumBytes
// and off+len(src) <= MaxBytes, panicking otherwise (a
// caller bug: spec.md §4.7 treats this as fatal, not a user-facing
// error). Device inodes delegate to the console collaborator. The caller
// must hold ino's lock and must have sized op's transaction budget to
// cover every block this call may dirty.
func (t *Tree) Write(op *bcache.Op, ino *Inode, src []byte, off uint32) (int, error) {
	if ino.entry.Type == Device {
		if ino.entry.Major != ConsoleMajor || t.console == nil {
			panic("inode: Write: device inode has no registered collaborator")
		}
		return t.console.Write(src)
	}

	count := uint32(len(src))
	end := off + count
	maxBytes := uint32(MaxBytes(t.numDirect, t.numIndirect, t.blockSize))
	if off > ino.entry.NumBytes {
		panic("inode: Write: offset beyond current file size")
	}
	if end > maxBytes {
		panic("inode: Write: write would exceed the maximum file size")
	}

	if end > ino.entry.NumBytes {
		ino.entry.NumBytes = end
		t.syncLocked(op, ino, true)
	}

	var written uint32
	for off < end {
		blockIndex := off / uint32(t.blockSize)
		blockOff := off % uint32(t.blockSize)
		sz := uint32(t.blockSize) - blockOff
		if remain := end - off; sz > remain {
			sz = remain
		}

		blockNo := t.mapBlock(op, ino, blockIndex)
		if blockNo == 0 {
			panic("inode: Write: mapBlock returned a hole under a non-nil op")
		}
		blk := t.cache.Acquire(uint64(blockNo))
		copy(blk.Data()[blockOff:blockOff+sz], src[written:written+sz])
		t.cache.Sync(op, blk)
		t.cache.Release(blk)

		off += sz
		written += sz
	}
	return int(written), nil
}

// Clear frees every direct and indirect data block belonging to ino,
// zeros NumBytes and Indirect, and persists the result. The caller must
// hold ino's lock.
func (t *Tree) Clear(op *bcache.Op, ino *Inode) {
	t.clearLocked(op, ino)
}

func (t *Tree) clearLocked(op *bcache.Op, ino *Inode) {
	if ino.entry.Indirect != 0 {
		blk := t.cache.Acquire(uint64(ino.entry.Indirect))
		addrs := make([]uint32, t.numIndirect)
		for i := range addrs {
			addrs[i] = binary.LittleEndian.Uint32(blk.Data()[i*4 : i*4+4])
		}
		t.cache.Release(blk)

		for _, a := range addrs {
			if a != 0 {
				t.cache.Free(op, uint64(a))
			}
		}
		t.cache.Free(op, uint64(ino.entry.Indirect))
		ino.entry.Indirect = 0
	}

	for i := range ino.entry.Addrs {
		if ino.entry.Addrs[i] != 0 {
			t.cache.Free(op, uint64(ino.entry.Addrs[i]))
			ino.entry.Addrs[i] = 0
		}
	}
	ino.entry.NumBytes = 0
	t.syncLocked(op, ino, true)
}
