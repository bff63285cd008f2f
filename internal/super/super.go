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

// Package super implements the on-disk superblock and the bitmap
// allocator it describes (spec.md §3's SuperBlock, and the "Superblock +
// bitmap" row of the layering table that spec.md names but does not
// design in detail). Everything here is pure data layout: no locking, no
// caching — bcache.Open loads the superblock once at startup and holds it
// read-only for the lifetime of the mount, exactly as spec.md's "read-only,
// loaded once" note describes.
package super

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/tinykernel/tinyfs/blockdev"
	"github.com/tinykernel/tinyfs/cfg"
)

// SuperBlockNum is the fixed disk block holding the SuperBlock. Block 0 is
// reserved for an MBR-style boot sector whose partition table gives the
// device adapter's partition start offset (blockdev.File.partitionStart);
// this package never touches block 0.
const SuperBlockNum = 1

// inodeEntrySize is the on-disk size, in bytes, of one packed InodeEntry:
// three u16 fields (type, major, minor) plus num_links (u16), num_bytes
// (u32), NumDirect direct pointers (u32 each), and one indirect pointer
// (u32) — spec.md §9's "Inode on disk" schema.
func inodeEntrySize(numDirect int) int {
	return 4*2 /* type, major, minor, num_links */ + 4 /* num_bytes */ + 4*numDirect /* addrs */ + 4 /* indirect */
}

// InodePerBlock is the number of packed InodeEntry records that fit in one
// block of the given size.
func InodePerBlock(blockSizeBytes int64, numDirect int) int {
	return int(blockSizeBytes) / inodeEntrySize(numDirect)
}

// SuperBlock is the read-only disk layout descriptor: spec.md §3's
// SuperBlock fields, plus DataStart, which every block-allocation bitmap
// lookup needs but spec.md leaves implicit in "the data region following
// the bitmap."
type SuperBlock struct {
	NumBlocks     uint32
	NumDataBlocks uint32
	NumInodes     uint32
	NumLogBlocks  uint32
	LogStart      uint32
	InodeStart    uint32
	BitmapStart   uint32
	DataStart     uint32

	// UUID stamps a random identifier into the image at mkfs time, used
	// only to correlate log lines across a recovery or fsck run with the
	// specific image that produced them. Never consulted for lookup or
	// validation — a pure addition to spec.md §9's on-disk layout, not a
	// change to any existing field's meaning or offset.
	UUID uuid.UUID

	// BlockSizeBytes and InodeNumDirect/InodeNumIndirect are runtime
	// geometry, not itself part of the on-disk SuperBlock record (spec.md's
	// boundary scenarios fix them at mkfs time via cfg, not via a
	// self-describing superblock field) but every caller computing inode
	// block offsets or bitmap bit positions needs them alongside the
	// on-disk fields, so we carry them on the loaded value for convenience.
	BlockSizeBytes   int64
	InodeNumDirect   int
	InodeNumIndirect int
}

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// Layout computes the SuperBlock for a fresh image of numBlocks total
// blocks and the given geometry, laying out
// [boot | super | log_header+body | inode_table | bitmap | data] as
// spec.md §9 describes. Used by mkfs.
func Layout(g cfg.GeometryConfig, numBlocks uint32) (*SuperBlock, error) {
	const bootAndSuperBlocks = 2

	numLogBlocks := uint32(g.LogMaxSize) + 1 // one header block + LogMaxSize body blocks
	logStart := uint32(bootAndSuperBlocks)
	inodeStart := logStart + numLogBlocks

	inodePerBlock := InodePerBlock(g.BlockSizeBytes, g.InodeNumDirect)
	if inodePerBlock < 1 {
		return nil, fmt.Errorf("super: block size %d too small to hold one inode (direct=%d)", g.BlockSizeBytes, g.InodeNumDirect)
	}
	numInodeBlocks := ceilDiv(uint32(g.NumInodes), uint32(inodePerBlock))
	bitmapStart := inodeStart + numInodeBlocks

	bitsPerBlock := uint32(g.BlockSizeBytes) * 8
	numBitmapBlocks := ceilDiv(numBlocks, bitsPerBlock)
	dataStart := bitmapStart + numBitmapBlocks

	if dataStart >= numBlocks {
		return nil, fmt.Errorf("super: image of %d blocks too small for metadata (data would start at block %d)", numBlocks, dataStart)
	}

	return &SuperBlock{
		NumBlocks:        numBlocks,
		NumDataBlocks:    numBlocks - dataStart,
		NumInodes:        uint32(g.NumInodes),
		NumLogBlocks:     numLogBlocks,
		LogStart:         logStart,
		InodeStart:       inodeStart,
		BitmapStart:      bitmapStart,
		DataStart:        dataStart,
		UUID:             uuid.New(),
		BlockSizeBytes:   g.BlockSizeBytes,
		InodeNumDirect:   g.InodeNumDirect,
		InodeNumIndirect: g.InodeNumIndirect,
	}, nil
}

// Encode serializes sb's on-disk fields into a single block-sized buffer,
// little-endian, packed in field-declaration order (spec.md §9: "Byte
// order is little-endian, struct fields packed as-declared").
func (sb *SuperBlock) Encode(blockSizeBytes int64) []byte {
	buf := make([]byte, blockSizeBytes)
	binary.LittleEndian.PutUint32(buf[0:4], sb.NumBlocks)
	binary.LittleEndian.PutUint32(buf[4:8], sb.NumDataBlocks)
	binary.LittleEndian.PutUint32(buf[8:12], sb.NumInodes)
	binary.LittleEndian.PutUint32(buf[12:16], sb.NumLogBlocks)
	binary.LittleEndian.PutUint32(buf[16:20], sb.LogStart)
	binary.LittleEndian.PutUint32(buf[20:24], sb.InodeStart)
	binary.LittleEndian.PutUint32(buf[24:28], sb.BitmapStart)
	binary.LittleEndian.PutUint32(buf[28:32], sb.DataStart)
	uuidBytes, _ := sb.UUID.MarshalBinary()
	copy(buf[32:48], uuidBytes)
	return buf
}

// decode parses the on-disk fields only; the runtime geometry fields
// (BlockSizeBytes, InodeNumDirect, InodeNumIndirect) are not stored on
// disk and must be filled in by the caller from cfg.
func decode(buf []byte) *SuperBlock {
	sb := &SuperBlock{
		NumBlocks:     binary.LittleEndian.Uint32(buf[0:4]),
		NumDataBlocks: binary.LittleEndian.Uint32(buf[4:8]),
		NumInodes:     binary.LittleEndian.Uint32(buf[8:12]),
		NumLogBlocks:  binary.LittleEndian.Uint32(buf[12:16]),
		LogStart:      binary.LittleEndian.Uint32(buf[16:20]),
		InodeStart:    binary.LittleEndian.Uint32(buf[20:24]),
		BitmapStart:   binary.LittleEndian.Uint32(buf[24:28]),
		DataStart:     binary.LittleEndian.Uint32(buf[28:32]),
	}
	_ = sb.UUID.UnmarshalBinary(buf[32:48])
	return sb
}

// Load reads the SuperBlock from disk block 1 and fills in the runtime
// geometry fields from g. g's geometry fields are expected to match what
// the image was formatted with; Load does not attempt to infer geometry
// from the on-disk record alone, since InodeNumDirect/InodeNumIndirect are
// not themselves persisted (spec.md fixes them at mkfs time and never
// revisits them).
func Load(dev blockdev.Device, g cfg.GeometryConfig) (*SuperBlock, error) {
	buf := make([]byte, g.BlockSizeBytes)
	if err := dev.Read(SuperBlockNum, buf); err != nil {
		return nil, fmt.Errorf("super: load: %w", err)
	}
	sb := decode(buf)
	sb.BlockSizeBytes = g.BlockSizeBytes
	sb.InodeNumDirect = g.InodeNumDirect
	sb.InodeNumIndirect = g.InodeNumIndirect
	return sb, nil
}

// WriteTo persists sb to disk block 1. Used by mkfs, and only by mkfs:
// spec.md's SuperBlock is otherwise read-only for the lifetime of a mount.
func (sb *SuperBlock) WriteTo(dev blockdev.Device) error {
	if err := dev.Write(SuperBlockNum, sb.Encode(sb.BlockSizeBytes)); err != nil {
		return fmt.Errorf("super: write: %w", err)
	}
	return nil
}
