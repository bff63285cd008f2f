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

func TestFlakyFailNextReadsThenRecovers(t *testing.T) {
	inner := blockdev.NewFake(512, 4)
	dev := blockdev.NewFlaky(inner)
	dev.FailNextReads(2)

	buf := make([]byte, 512)
	assert.ErrorIs(t, dev.Read(0, buf), blockdev.ErrInjected)
	assert.ErrorIs(t, dev.Read(0, buf), blockdev.ErrInjected)
	assert.NoError(t, dev.Read(0, buf))
}

func TestFlakyCrashAfterWritesDropsLaterWrites(t *testing.T) {
	inner := blockdev.NewFake(512, 4)
	dev := blockdev.NewFlaky(inner)
	dev.CrashAfterWrites(1)

	first := make([]byte, 512)
	copy(first, []byte("first"))
	require.NoError(t, dev.Write(0, first))

	second := make([]byte, 512)
	copy(second, []byte("second"))
	require.NoError(t, dev.Write(1, second))

	assert.True(t, dev.Crashed())

	got := make([]byte, 512)
	require.NoError(t, inner.Read(0, got))
	assert.Equal(t, first, got)

	require.NoError(t, inner.Read(1, got))
	for _, b := range got {
		assert.EqualValues(t, 0, b)
	}
}
