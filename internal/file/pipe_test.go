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

package file_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinykernel/tinyfs/internal/file"
)

func TestPipeWriteThenReadRoundTrips(t *testing.T) {
	p := file.NewPipe(16)

	n, err := p.Write([]byte("hello"), nil)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	buf := make([]byte, 5)
	n, err = p.Read(buf, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
}

func TestPipeReadReturnsZeroOnEOFAfterWriterCloses(t *testing.T) {
	p := file.NewPipe(16)
	p.Close(true) // close the write end

	buf := make([]byte, 10)
	n, err := p.Read(buf, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPipeWriteFailsOnceReaderCloses(t *testing.T) {
	p := file.NewPipe(16)
	p.Close(false) // close the read end

	_, err := p.Write([]byte("x"), nil)
	assert.ErrorIs(t, err, file.ErrPipeClosed)
}

func TestPipeBlocksUntilDataArrives(t *testing.T) {
	p := file.NewPipe(16)

	result := make(chan string, 1)
	go func() {
		buf := make([]byte, 3)
		n, err := p.Read(buf, nil)
		if err != nil {
			result <- "error: " + err.Error()
			return
		}
		result <- string(buf[:n])
	}()

	// Give the reader a chance to block before anything is written.
	time.Sleep(20 * time.Millisecond)

	_, err := p.Write([]byte("abc"), nil)
	require.NoError(t, err)

	select {
	case got := <-result:
		assert.Equal(t, "abc", got)
	case <-time.After(time.Second):
		t.Fatal("reader never woke up")
	}
}

func TestPipeWriteBlocksUntilSpaceFrees(t *testing.T) {
	p := file.NewPipe(4)
	n, err := p.Write([]byte("abcd"), nil)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	done := make(chan error, 1)
	go func() {
		_, werr := p.Write([]byte("e"), nil)
		done <- werr
	}()

	time.Sleep(20 * time.Millisecond)

	buf := make([]byte, 1)
	_, err = p.Read(buf, nil)
	require.NoError(t, err)

	select {
	case werr := <-done:
		require.NoError(t, werr)
	case <-time.After(time.Second):
		t.Fatal("writer never woke up after space freed")
	}
}

func TestPipeReadAbortsWhenKilled(t *testing.T) {
	p := file.NewPipe(16)
	killed := func() bool { return true }

	buf := make([]byte, 1)
	_, err := p.Read(buf, killed)
	assert.ErrorIs(t, err, file.ErrPipeClosed)
}
