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

package kthread_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinykernel/tinyfs/internal/kthread"
)

func TestSemMutexMode(t *testing.T) {
	sem := kthread.NewSem(1)

	sem.Wait()

	done := make(chan struct{})
	go func() {
		sem.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second Wait returned before Post, permit was not exclusive")
	case <-time.After(20 * time.Millisecond):
	}

	sem.Post()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second Wait never returned after Post")
	}
}

func TestSemAlertableWaitReturnsErrKilledWithoutPermit(t *testing.T) {
	sem := kthread.NewSem(0)
	killed := func() bool { return true }

	err := sem.AlertableWait(killed)

	require.ErrorIs(t, err, kthread.ErrKilled)
}

func TestSemAlertableWaitSucceedsWhenPosted(t *testing.T) {
	sem := kthread.NewSem(0)
	var calls int
	killed := func() bool { calls++; return false }

	go func() {
		time.Sleep(10 * time.Millisecond)
		sem.Post()
	}()

	err := sem.AlertableWait(killed)

	assert.NoError(t, err)
	assert.GreaterOrEqual(t, calls, 1)
}

func TestSemPostAllWakesEveryWaiter(t *testing.T) {
	sem := kthread.NewSem(0)
	const n = 5
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			sem.WaitForSignal()
		}()
	}

	time.Sleep(20 * time.Millisecond)
	sem.PostAll()

	waited := make(chan struct{})
	go func() {
		wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("PostAll did not wake all waiters")
	}
}

func TestFakeHostKillIsObservedByAlertableWait(t *testing.T) {
	host := kthread.NewFakeHost()
	th := host.Spawn()
	sem := kthread.NewSem(0)

	killed := func() bool {
		return host.CurrentThread().Killed()
	}

	host.Kill(th)

	err := sem.AlertableWait(killed)

	require.ErrorIs(t, err, kthread.ErrKilled)
}

func TestRealHostReportsNoCurrentThread(t *testing.T) {
	var host kthread.RealHost
	assert.Nil(t, host.CurrentThread())
}
