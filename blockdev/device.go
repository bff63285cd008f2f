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

// Package blockdev is the lowest layer of the filesystem core: raw,
// fixed-size block I/O against a backing store. Everything above this
// package (the block cache, the journal, the inode layer) only ever reads
// or writes whole blocks by number; blockdev is the only place that knows
// whether those blocks live in a real file, in memory, or behind an
// adapter that can be told to misbehave.
//
// The three implementations here — File, Fake, Flaky — play the role the
// teacher's clock package assigns to RealClock, FakeClock and
// SimulatedClock: one production implementation, and test doubles that let
// a test drive behavior (a failed write, a mid-commit crash) that would
// otherwise require an uncooperative piece of hardware.
package blockdev

// Device is raw block I/O. Implementations do not buffer, cache, or
// reorder; a Read or Write either completes against the backing store or
// returns a non-nil error. Per spec.md §4.1, the cache layer above this
// package treats any error here as fatal (it calls must() on it and
// panics) — Device itself just reports what happened.
type Device interface {
	// NumBlocks reports the device's fixed capacity in blocks.
	NumBlocks() uint64

	// Read reads exactly len(buf) bytes (the device's block size) from
	// block blockNo into buf.
	Read(blockNo uint64, buf []byte) error

	// Write writes exactly len(buf) bytes (the device's block size) from
	// buf to block blockNo.
	Write(blockNo uint64, buf []byte) error
}
