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

package blockdev_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinykernel/tinyfs/blockdev"
)

func TestFakeReadOfUnwrittenBlockIsZero(t *testing.T) {
	dev := blockdev.NewFake(512, 16)
	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = 0xFF
	}

	require.NoError(t, dev.Read(3, buf))

	for _, b := range buf {
		assert.EqualValues(t, 0, b)
	}
}

func TestFakeWriteThenReadRoundTrips(t *testing.T) {
	dev := blockdev.NewFake(512, 16)
	want := make([]byte, 512)
	copy(want, []byte("hello block"))

	require.NoError(t, dev.Write(5, want))

	got := make([]byte, 512)
	require.NoError(t, dev.Read(5, got))
	assert.Equal(t, want, got)
}

func TestFakeRejectsOutOfRangeBlock(t *testing.T) {
	dev := blockdev.NewFake(512, 4)
	buf := make([]byte, 512)

	assert.Error(t, dev.Read(4, buf))
	assert.Error(t, dev.Write(4, buf))
}

func TestFakeRejectsWrongSizeBuffer(t *testing.T) {
	dev := blockdev.NewFake(512, 4)

	assert.Error(t, dev.Read(0, make([]byte, 10)))
	assert.Error(t, dev.Write(0, make([]byte, 10)))
}

func TestFakeSnapshotIsIndependentCopy(t *testing.T) {
	dev := blockdev.NewFake(512, 4)
	buf := make([]byte, 512)
	copy(buf, []byte("x"))
	require.NoError(t, dev.Write(1, buf))

	snap := dev.Snapshot()
	snap[1][0] = 'y'

	readBack := make([]byte, 512)
	require.NoError(t, dev.Read(1, readBack))
	assert.EqualValues(t, 'x', readBack[0])
}
