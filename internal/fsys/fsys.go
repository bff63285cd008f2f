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

// Package fsys bundles the block cache, superblock, and inode tree of a
// single mounted filesystem into one value, per spec.md §9's Design Notes
// redesign of the original_source's global mutable singletons
// (`bcache`, `inodes`, `ftable`, `log`): "Model as a single Filesystem
// value owned by the kernel boot sequence, passed by shared reference
// with interior mutability delimited by the locks listed in §5."
package fsys

import (
	"fmt"

	"github.com/tinykernel/tinyfs/blockdev"
	"github.com/tinykernel/tinyfs/cfg"
	"github.com/tinykernel/tinyfs/internal/bcache"
	"github.com/tinykernel/tinyfs/internal/inode"
	"github.com/tinykernel/tinyfs/internal/super"
)

// Filesystem is the one value a boot sequence constructs and every layer
// above it (path resolution, the file table, the syscall surface) holds a
// pointer to. There is no package-level singleton anywhere in this
// module; every lock it contains is reached only by following this
// pointer.
type Filesystem struct {
	Dev    blockdev.Device
	Super  *super.SuperBlock
	Cache  *bcache.Cache
	Inodes *inode.Tree

	root *inode.Inode
}

// Mount loads the superblock already present on dev, opens the block
// cache (running crash recovery as a side effect of bcache.Open), and
// constructs the inode tree over it. g must match the geometry the image
// was formatted with; Mount does not attempt to infer it.
func Mount(dev blockdev.Device, g cfg.GeometryConfig, r cfg.RuntimeConfig) (*Filesystem, error) {
	sb, err := super.Load(dev, g)
	if err != nil {
		return nil, fmt.Errorf("fsys: mount: %w", err)
	}

	cache := bcache.Open(dev, sb, r)
	tree := inode.Open(cache, sb, g.FileNameMaxLength)

	return &Filesystem{
		Dev:    dev,
		Super:  sb,
		Cache:  cache,
		Inodes: tree,
	}, nil
}

// Root returns a freshly Share'd handle to the filesystem's root inode
// (original_source's ROOT_INODE_NO); the caller owns the returned
// reference and must eventually Put it.
func (fs *Filesystem) Root() *inode.Inode {
	if fs.root == nil {
		fs.root = fs.Inodes.Get(inode.RootInodeNo)
	}
	return fs.Inodes.Share(fs.root)
}
