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

	"github.com/tinykernel/tinyfs/internal/kthread"
)

// ErrPipeClosed is returned by Read/Write when the opposite end is closed
// (read on a pipe whose writer left with data still wanted is not an
// error — it returns 0 — this is specifically the write-to-a-reader-less
// pipe and the killed-while-waiting cases).
var ErrPipeClosed = errors.New("file: pipe peer closed")

// Pipe is spec.md §3's Pipe: a fixed-capacity ring buffer with two
// readiness semaphores, grounded on original_source/src/fs/pipe.c's
// pipe_read/pipe_write/pipe_close. nread and nwrite are monotone counters;
// byte i lives at data[i%len(data)], so nwrite-nread is always the number
// of unread bytes and is invariantly within [0, len(data)].
type Pipe struct {
	mu     kthread.Spinlock
	data   []byte
	nread  uint64
	nwrite uint64

	readOpen  bool
	writeOpen bool

	rSem *kthread.Sem
	wSem *kthread.Sem
}

// NewPipe allocates a pipe with the given ring-buffer capacity, both ends
// open, matching init_pipe.
func NewPipe(size int) *Pipe {
	if size < 1 {
		size = 1
	}
	return &Pipe{
		data:      make([]byte, size),
		readOpen:  true,
		writeOpen: true,
		rSem:      kthread.NewSem(0),
		wSem:      kthread.NewSem(0),
	}
}

// Close flips the read-open or write-open flag (writable selects which)
// and wakes whichever side might be waiting on the one just closed,
// matching pipe_close. Unlike the C source, there is no explicit free: Go's
// allocator reclaims the Pipe once nothing references it, so the "both
// sides closed" branch (which only freed memory there) has no analogue
// here.
func (p *Pipe) Close(writable bool) {
	p.mu.Lock()
	if writable {
		p.writeOpen = false
		p.rSem.Post()
	} else {
		p.readOpen = false
		p.wSem.Post()
	}
	p.mu.Unlock()
}

// Read copies up to len(dst) bytes out of the ring buffer, blocking while
// it is empty and the write end is still open. A killed thread (per
// spec.md §5's alertable-wait rule for pipe I/O) aborts with ErrPipeClosed
// rather than waiting forever; killed may be nil if the caller tracks no
// killable thread. Returns 0, nil once the write end has closed and no
// unread bytes remain (pipe EOF, boundary scenario 4).
func (p *Pipe) Read(dst []byte, killed func() bool) (int, error) {
	p.mu.Lock()
	for p.nread == p.nwrite && p.writeOpen {
		if killed != nil && killed() {
			p.mu.Unlock()
			return 0, ErrPipeClosed
		}
		p.mu.Unlock()
		if err := p.rSem.AlertableWait(killed); err != nil {
			return 0, ErrPipeClosed
		}
		p.mu.Lock()
	}

	n := 0
	for n < len(dst) {
		if p.nread == p.nwrite {
			break
		}
		dst[n] = p.data[p.nread%uint64(len(p.data))]
		p.nread++
		n++
	}
	p.wSem.Post()
	p.mu.Unlock()
	return n, nil
}

// Write copies all of src into the ring buffer, blocking in pieces while it
// is full and the read end is still open. Returns ErrPipeClosed (without
// having written the remainder) the moment the read end closes or the
// calling thread is killed, matching pipe_write's -1 return; the count
// returned alongside ErrPipeClosed is the number of bytes of src already
// placed in the ring buffer before that happened.
func (p *Pipe) Write(src []byte, killed func() bool) (int, error) {
	p.mu.Lock()
	for i := 0; i < len(src); i++ {
		for p.nwrite == p.nread+uint64(len(p.data)) {
			if !p.readOpen || (killed != nil && killed()) {
				p.mu.Unlock()
				return i, ErrPipeClosed
			}
			p.rSem.Post()
			p.mu.Unlock()
			if err := p.wSem.AlertableWait(killed); err != nil {
				return i, ErrPipeClosed
			}
			p.mu.Lock()
		}
		p.data[p.nwrite%uint64(len(p.data))] = src[i]
		p.nwrite++
	}
	p.rSem.Post()
	p.mu.Unlock()
	return len(src), nil
}
