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
	"sync"
)

// Fake is an in-memory Device for unit tests, analogous to clock.FakeClock:
// deterministic, no real I/O, and cheap enough to recreate per test.
type Fake struct {
	mu        sync.Mutex
	blockSize int64
	numBlocks uint64
	blocks    map[uint64][]byte
}

// NewFake returns an all-zero Fake device of the given geometry.
func NewFake(blockSize int64, numBlocks uint64) *Fake {
	return &Fake{
		blockSize: blockSize,
		numBlocks: numBlocks,
		blocks:    make(map[uint64][]byte),
	}
}

func (d *Fake) NumBlocks() uint64 { return d.numBlocks }

func (d *Fake) Read(blockNo uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkBounds(blockNo, buf); err != nil {
		return err
	}
	if data, ok := d.blocks[blockNo]; ok {
		copy(buf, data)
	} else {
		clear(buf)
	}
	return nil
}

func (d *Fake) Write(blockNo uint64, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkBounds(blockNo, buf); err != nil {
		return err
	}
	data := make([]byte, d.blockSize)
	copy(data, buf)
	d.blocks[blockNo] = data
	return nil
}

func (d *Fake) checkBounds(blockNo uint64, buf []byte) error {
	if blockNo >= d.numBlocks {
		return fmt.Errorf("blockdev: block %d out of range [0, %d)", blockNo, d.numBlocks)
	}
	if int64(len(buf)) != d.blockSize {
		return fmt.Errorf("blockdev: buffer is %d bytes, want %d", len(buf), d.blockSize)
	}
	return nil
}

// Snapshot returns a copy of the block contents currently recorded, for
// tests that want to assert on-disk state directly rather than only
// through the layers above blockdev.
func (d *Fake) Snapshot() map[uint64][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[uint64][]byte, len(d.blocks))
	for no, data := range d.blocks {
		cp := make([]byte, len(data))
		copy(cp, data)
		out[no] = cp
	}
	return out
}
