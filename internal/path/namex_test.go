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

package path_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinykernel/tinyfs/blockdev"
	"github.com/tinykernel/tinyfs/cfg"
	"github.com/tinykernel/tinyfs/internal/fsys"
	"github.com/tinykernel/tinyfs/internal/inode"
	"github.com/tinykernel/tinyfs/internal/path"
	"github.com/tinykernel/tinyfs/internal/super"
)

// newTestFS formats a fresh image, then hand-builds a small tree:
// root/ -> "a" (dir) -> "b" (regular file).
func newTestFS(t *testing.T) (*fsys.Filesystem, *inode.Inode, *inode.Inode, *inode.Inode) {
	t.Helper()
	c := cfg.Default()
	sb, err := super.Layout(c.Geometry, 4096)
	require.NoError(t, err)

	dev := blockdev.NewFake(c.Geometry.BlockSizeBytes, uint64(sb.NumBlocks))
	require.NoError(t, sb.WriteTo(dev))

	fs, err := fsys.Mount(dev, c.Geometry, c.Runtime)
	require.NoError(t, err)

	var rootNo uint32 = inode.RootInodeNo
	op := fs.Cache.BeginOp()
	got := fs.Inodes.Alloc(op, inode.Directory)
	fs.Cache.EndOp(op)
	require.Equal(t, rootNo, got, "root must be the first inode allocated on a fresh image")

	root := fs.Inodes.Get(rootNo)
	root.Lock()

	var aNo uint32
	op = fs.Cache.BeginOp()
	aNo = fs.Inodes.Alloc(op, inode.Directory)
	_, err = fs.Inodes.Insert(op, root, "a", aNo)
	require.NoError(t, err)
	fs.Cache.EndOp(op)
	root.Unlock()

	a := fs.Inodes.Get(aNo)
	a.Lock()
	var bNo uint32
	op = fs.Cache.BeginOp()
	bNo = fs.Inodes.Alloc(op, inode.Regular)
	_, err = fs.Inodes.Insert(op, a, "b", bNo)
	require.NoError(t, err)
	fs.Cache.EndOp(op)
	a.Unlock()

	b := fs.Inodes.Get(bNo)
	return fs, root, a, b
}

func TestNamexResolvesAbsolutePath(t *testing.T) {
	fs, root, a, b := newTestFS(t)
	defer fs.Inodes.Put(nil, root)
	defer fs.Inodes.Put(nil, a)
	defer fs.Inodes.Put(nil, b)

	cwd := fs.Root()
	ino, _, err := path.Namex(fs, "/a/b", false, cwd, nil)
	require.NoError(t, err)
	require.NotNil(t, ino)
	assert.Equal(t, b.Number(), ino.Number())
	fs.Inodes.Put(nil, ino)
	fs.Inodes.Put(nil, cwd)
}

func TestNamexWantParentReturnsDirAndFinalName(t *testing.T) {
	fs, root, a, b := newTestFS(t)
	defer fs.Inodes.Put(nil, root)
	defer fs.Inodes.Put(nil, a)
	defer fs.Inodes.Put(nil, b)

	cwd := fs.Root()
	ino, name, err := path.Namex(fs, "/a/b", true, cwd, nil)
	require.NoError(t, err)
	require.NotNil(t, ino)
	assert.Equal(t, a.Number(), ino.Number())
	assert.Equal(t, "b", name)
	fs.Inodes.Put(nil, ino)
	fs.Inodes.Put(nil, cwd)
}

func TestNamexMissingComponentReturnsNilWithoutError(t *testing.T) {
	fs, root, a, b := newTestFS(t)
	defer fs.Inodes.Put(nil, root)
	defer fs.Inodes.Put(nil, a)
	defer fs.Inodes.Put(nil, b)

	cwd := fs.Root()
	ino, _, err := path.Namex(fs, "/a/missing", false, cwd, nil)
	require.NoError(t, err)
	assert.Nil(t, ino)
	fs.Inodes.Put(nil, cwd)
}

func TestNamexRootWithWantParentHasNoParent(t *testing.T) {
	fs, root, a, b := newTestFS(t)
	defer fs.Inodes.Put(nil, root)
	defer fs.Inodes.Put(nil, a)
	defer fs.Inodes.Put(nil, b)

	cwd := fs.Root()
	ino, _, err := path.Namex(fs, "/", true, cwd, nil)
	require.NoError(t, err)
	assert.Nil(t, ino)
	fs.Inodes.Put(nil, cwd)
}

func TestNamexRelativePathStartsFromCwd(t *testing.T) {
	fs, root, a, b := newTestFS(t)
	defer fs.Inodes.Put(nil, root)
	defer fs.Inodes.Put(nil, a)
	defer fs.Inodes.Put(nil, b)

	cwd := fs.Inodes.Get(a.Number())
	ino, _, err := path.Namex(fs, "b", false, cwd, nil)
	require.NoError(t, err)
	require.NotNil(t, ino)
	assert.Equal(t, b.Number(), ino.Number())
	fs.Inodes.Put(nil, ino)
	fs.Inodes.Put(nil, cwd)
}
