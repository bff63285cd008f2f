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

package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tinykernel/tinyfs/blockdev"
	"github.com/tinykernel/tinyfs/cfg"
	"github.com/tinykernel/tinyfs/internal/bcache"
	"github.com/tinykernel/tinyfs/internal/inode"
	"github.com/tinykernel/tinyfs/internal/super"
)

var mkfsSizeMB int64

var mkfsCmd = &cobra.Command{
	Use:   "mkfs <image>",
	Short: "Lay out a fresh filesystem image",
	Long: `mkfs creates <image> (truncating it if it already exists), sized at
mkfs-size-mb plus 64 blocks of headroom for the metadata regions (which
the data region shares, so it can hold somewhat less than mkfs-size-mb), and
writes the [boot | super | log | inodes | bitmap | data] layout spec.md
§9 describes: a superblock, an empty journal, an inode table with a
freshly allocated root directory, and a block bitmap with the boot/
super/log/inode-table region pre-marked allocated so the first real
Alloc call hands out a data block rather than the superblock itself.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMkfs(args[0], MountConfig)
	},
}

func init() {
	mkfsCmd.Flags().Int64Var(&mkfsSizeMB, "mkfs-size-mb", 8, "Size of the new image in megabytes, before 64 blocks of metadata headroom are added.")
	rootCmd.AddCommand(mkfsCmd)
}

func runMkfs(path string, c cfg.Config) error {
	g := c.Geometry
	bytesWanted := mkfsSizeMB * 1024 * 1024
	numBlocks := uint32(bytesWanted/g.BlockSizeBytes) + 64 // + metadata overhead headroom

	sb, err := super.Layout(g, numBlocks)
	if err != nil {
		return fmt.Errorf("mkfs: computing layout: %w", err)
	}

	dev, err := blockdev.CreateFile(path, g.BlockSizeBytes, 0, uint64(numBlocks))
	if err != nil {
		return fmt.Errorf("mkfs: %w", err)
	}
	defer dev.Close()

	if err := sb.WriteTo(dev); err != nil {
		return fmt.Errorf("mkfs: writing superblock: %w", err)
	}

	cache := bcache.Open(dev, sb, c.Runtime)
	cache.Reserve(uint64(sb.DataStart))
	tree := inode.Open(cache, sb, g.FileNameMaxLength)

	op := cache.BeginOp()
	rootNo := tree.Alloc(op, inode.Directory)
	if rootNo != inode.RootInodeNo {
		cache.EndOp(op)
		return fmt.Errorf("mkfs: first allocated inode was %d, want root inode %d", rootNo, inode.RootInodeNo)
	}
	root := tree.Get(rootNo)
	root.Lock()
	root.SetLinks(1)
	tree.Sync(op, root, true)
	if _, err := tree.Insert(op, root, ".", rootNo); err != nil {
		root.Unlock()
		cache.EndOp(op)
		return fmt.Errorf("mkfs: inserting root \".\": %w", err)
	}
	if _, err := tree.Insert(op, root, "..", rootNo); err != nil {
		root.Unlock()
		cache.EndOp(op)
		return fmt.Errorf("mkfs: inserting root \"..\": %w", err)
	}
	root.Unlock()
	cache.EndOp(op)
	tree.Put(nil, root)

	if err := dev.Sync(); err != nil {
		return fmt.Errorf("mkfs: %w", err)
	}

	slog.Info("mkfs: formatted image",
		"path", path,
		"uuid", sb.UUID,
		"num-blocks", sb.NumBlocks,
		"num-data-blocks", sb.NumDataBlocks,
		"num-inodes", sb.NumInodes)
	return nil
}
