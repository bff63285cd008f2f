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

package inode_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinykernel/tinyfs/internal/bcache"
	"github.com/tinykernel/tinyfs/internal/inode"
)

func newTestDir(t *testing.T) (*fixture, *inode.Inode) {
	f := newFixture(t)
	var no uint32
	f.op(func(op *bcache.Op) { no = f.tree.Alloc(op, inode.Directory) })
	dir := f.tree.Get(no)
	return f, dir
}

func TestInsertThenLookupFindsEntry(t *testing.T) {
	f, dir := newTestDir(t)
	dir.Lock()
	defer dir.Unlock()
	defer f.tree.Put(nil, dir)

	var childNo uint32
	f.op(func(op *bcache.Op) { childNo = f.tree.Alloc(op, inode.Regular) })

	f.op(func(op *bcache.Op) {
		_, err := f.tree.Insert(op, dir, "file.txt", childNo)
		require.NoError(t, err)
	})

	got, _ := f.tree.Lookup(dir, "file.txt")
	assert.Equal(t, childNo, got)
}

func TestInsertDuplicateNameFails(t *testing.T) {
	f, dir := newTestDir(t)
	dir.Lock()
	defer dir.Unlock()
	defer f.tree.Put(nil, dir)

	var childNo uint32
	f.op(func(op *bcache.Op) { childNo = f.tree.Alloc(op, inode.Regular) })
	f.op(func(op *bcache.Op) {
		_, err := f.tree.Insert(op, dir, "dup", childNo)
		require.NoError(t, err)
	})

	f.op(func(op *bcache.Op) {
		_, err := f.tree.Insert(op, dir, "dup", childNo)
		assert.Error(t, err)
	})
}

func TestLookupMissReturnsZero(t *testing.T) {
	f, dir := newTestDir(t)
	dir.Lock()
	defer dir.Unlock()
	defer f.tree.Put(nil, dir)

	got, _ := f.tree.Lookup(dir, "nope")
	assert.EqualValues(t, 0, got)
}

func TestRemoveCompactsDirectoryAndSyncsSize(t *testing.T) {
	f, dir := newTestDir(t)
	dir.Lock()
	defer dir.Unlock()
	defer f.tree.Put(nil, dir)

	var n1, n2 uint32
	f.op(func(op *bcache.Op) {
		n1 = f.tree.Alloc(op, inode.Regular)
		n2 = f.tree.Alloc(op, inode.Regular)
	})
	var idx1 uint32
	f.op(func(op *bcache.Op) {
		var err error
		idx1, err = f.tree.Insert(op, dir, "one", n1)
		require.NoError(t, err)
		_, err = f.tree.Insert(op, dir, "two", n2)
		require.NoError(t, err)
	})

	sizeBefore := dir.NumBytes()
	f.op(func(op *bcache.Op) { f.tree.Remove(op, dir, idx1) })
	assert.Less(t, dir.NumBytes(), sizeBefore)

	got1, _ := f.tree.Lookup(dir, "one")
	assert.EqualValues(t, 0, got1)
	got2, _ := f.tree.Lookup(dir, "two")
	assert.Equal(t, n2, got2)
}
