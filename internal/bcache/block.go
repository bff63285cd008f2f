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

package bcache

import "github.com/tinykernel/tinyfs/internal/kthread"

// Block is a cached copy of one disk block: spec.md §3's Block entry. The
// embedded semaphore is the block's "acquired" mutex — a binary semaphore
// rather than a plain sync.Mutex, because cache eviction and the journal's
// checkpoint both need to distinguish "currently held by some thread"
// (acquired) from "pinned as part of an uncommitted transaction" (pinned),
// and because the block that created this Block may not be the one that
// first waits on it (a concurrent Acquire of the same, brand-new block_no
// blocks on this same semaphore before the creating goroutine's device
// read has even completed).
type Block struct {
	blockNo uint64
	data    []byte

	acquired bool
	pinned   bool
	valid    bool

	sem  *kthread.Sem
	node *lruNode[*Block]
}

// BlockNo returns the disk block number this entry caches.
func (b *Block) BlockNo() uint64 { return b.blockNo }

// Data returns the block's payload. The caller must hold the block
// acquired (via Cache.Acquire) for the duration of any read or write to
// the returned slice.
func (b *Block) Data() []byte { return b.data }

// Pinned reports whether the block is part of an uncommitted transaction.
// A pinned block is never evicted.
func (b *Block) Pinned() bool { return b.pinned }
