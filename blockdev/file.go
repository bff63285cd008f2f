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

package blockdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// DefaultPartitionStart is the block offset the reference kernel's SD-card
// driver applied before every read/write (original_source's sd_read/
// sd_write add a constant `offset` of 133120 blocks to skip the
// partition table and boot sectors on the physical card). A File opened
// against a bare image file normally wants a partition start of 0; this
// constant only matters when tinyfs is laid out inside a larger raw disk
// image that reserves leading blocks the same way.
const DefaultPartitionStart = 133120

// File is the production Device: a fixed-size block store backed by a
// regular file, read and written with positioned I/O so that concurrent
// Read/Write calls on different blocks never need to share a file offset.
type File struct {
	f              *os.File
	blockSize      int64
	partitionStart uint64
	numBlocks      uint64
}

// OpenFile opens path as a block device of the given geometry.
// partitionStart is the block number within the file that block 0 of the
// filesystem maps to; pass 0 for a bare image file.
func OpenFile(path string, blockSize int64, partitionStart, numBlocks uint64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	return &File{
		f:              f,
		blockSize:      blockSize,
		partitionStart: partitionStart,
		numBlocks:      numBlocks,
	}, nil
}

// CreateFile creates path, sized to hold numBlocks blocks of blockSize
// bytes plus partitionStart leading blocks, and returns it opened.
func CreateFile(path string, blockSize int64, partitionStart, numBlocks uint64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: create %s: %w", path, err)
	}
	size := int64(partitionStart+numBlocks) * blockSize
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: truncate %s to %d bytes: %w", path, size, err)
	}
	return &File{
		f:              f,
		blockSize:      blockSize,
		partitionStart: partitionStart,
		numBlocks:      numBlocks,
	}, nil
}

func (d *File) NumBlocks() uint64 { return d.numBlocks }

func (d *File) offset(blockNo uint64) int64 {
	return int64(d.partitionStart+blockNo) * d.blockSize
}

func (d *File) Read(blockNo uint64, buf []byte) error {
	if int64(len(buf)) != d.blockSize {
		return fmt.Errorf("blockdev: read block %d: buffer is %d bytes, want %d", blockNo, len(buf), d.blockSize)
	}
	n, err := unix.Pread(int(d.f.Fd()), buf, d.offset(blockNo))
	if err != nil {
		return fmt.Errorf("blockdev: pread block %d: %w", blockNo, err)
	}
	if int64(n) != d.blockSize {
		return fmt.Errorf("blockdev: short read on block %d: got %d of %d bytes", blockNo, n, d.blockSize)
	}
	return nil
}

func (d *File) Write(blockNo uint64, buf []byte) error {
	if int64(len(buf)) != d.blockSize {
		return fmt.Errorf("blockdev: write block %d: buffer is %d bytes, want %d", blockNo, len(buf), d.blockSize)
	}
	n, err := unix.Pwrite(int(d.f.Fd()), buf, d.offset(blockNo))
	if err != nil {
		return fmt.Errorf("blockdev: pwrite block %d: %w", blockNo, err)
	}
	if int64(n) != d.blockSize {
		return fmt.Errorf("blockdev: short write on block %d: wrote %d of %d bytes", blockNo, n, d.blockSize)
	}
	return nil
}

// Sync flushes the backing file to stable storage. The cache layer calls
// this at the end of a committed transaction's apply phase, the Go
// equivalent of the reference driver's synchronous virtio_blk_rw.
func (d *File) Sync() error {
	if err := d.f.Sync(); err != nil {
		return fmt.Errorf("blockdev: sync: %w", err)
	}
	return nil
}

// Close releases the backing file descriptor.
func (d *File) Close() error {
	return d.f.Close()
}
