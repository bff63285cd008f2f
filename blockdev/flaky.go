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
	"errors"
	"sync"
)

// ErrInjected is returned by a Flaky device for a call consumed by
// FailNextWrites/FailNextReads.
var ErrInjected = errors.New("blockdev: injected failure")

// Flaky wraps another Device and lets a test arm two kinds of failure
// spec.md §8's crash-recovery scenarios need:
//
//   - FailNextReads/FailNextWrites: the next N calls of that kind return
//     ErrInjected, simulating a transient device error.
//   - Crash: every write from this point on silently succeeds from the
//     caller's point of view up to a limit, then the underlying device
//     stops being touched at all — modeling a power loss partway through
//     a journal commit, where some blocks made it to disk and the rest
//     did not. A fresh Flaky wrapping the same backing Fake (or a copy of
//     its Snapshot) then stands in for "the machine rebooted," and
//     bcache.Open's recovery path is exercised against exactly the
//     partially-written state the crash left behind.
type Flaky struct {
	mu sync.Mutex

	inner Device

	failReads  int
	failWrites int

	crashAfter int // -1: disabled. 0: crashed. >0: writes remaining before crash.
	crashed    bool
}

// NewFlaky wraps inner with fault injection disabled.
func NewFlaky(inner Device) *Flaky {
	return &Flaky{inner: inner, crashAfter: -1}
}

func (d *Flaky) NumBlocks() uint64 { return d.inner.NumBlocks() }

// FailNextReads arms the next n Read calls to return ErrInjected instead of
// reaching the wrapped device.
func (d *Flaky) FailNextReads(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failReads = n
}

// FailNextWrites arms the next n Write calls to return ErrInjected instead
// of reaching the wrapped device.
func (d *Flaky) FailNextWrites(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failWrites = n
}

// CrashAfterWrites arms a simulated power loss: the next n writes still
// reach the wrapped device, and every write after that is silently
// dropped (returns nil but never touches inner), modeling a commit that
// was interrupted mid-way through applying its logged blocks.
func (d *Flaky) CrashAfterWrites(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.crashAfter = n
	d.crashed = false
}

// Crashed reports whether the simulated crash has triggered.
func (d *Flaky) Crashed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.crashed
}

func (d *Flaky) Read(blockNo uint64, buf []byte) error {
	d.mu.Lock()
	if d.failReads > 0 {
		d.failReads--
		d.mu.Unlock()
		return ErrInjected
	}
	d.mu.Unlock()
	return d.inner.Read(blockNo, buf)
}

func (d *Flaky) Write(blockNo uint64, buf []byte) error {
	d.mu.Lock()
	if d.failWrites > 0 {
		d.failWrites--
		d.mu.Unlock()
		return ErrInjected
	}
	if d.crashed {
		d.mu.Unlock()
		return nil
	}
	if d.crashAfter == 0 {
		d.crashed = true
		d.mu.Unlock()
		return nil
	}
	if d.crashAfter > 0 {
		d.crashAfter--
	}
	d.mu.Unlock()
	return d.inner.Write(blockNo, buf)
}
