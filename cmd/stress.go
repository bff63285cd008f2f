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
	"golang.org/x/sync/errgroup"

	"github.com/tinykernel/tinyfs/blockdev"
	"github.com/tinykernel/tinyfs/cfg"
	"github.com/tinykernel/tinyfs/internal/file"
	"github.com/tinykernel/tinyfs/internal/fsys"
	tsyscall "github.com/tinykernel/tinyfs/internal/syscall"
)

var stressNumClients int
var stressFilesPerClient int

var stressCmd = &cobra.Command{
	Use:   "stress <image>",
	Short: "Fan out concurrent clients against one mounted image",
	Long: `stress mounts <image> once and opens stress-num-clients independent
syscall.Session handles over the same *fsys.Filesystem, each with its own
file table, exactly as stress-num-clients separate original_source user
processes would share one kernel's global filesystem state. Every client
runs concurrently on its own goroutine, creating and reading back
stress-files-per-client regular files under its own directory, exercising
spec.md §5's group-commit guarantee (internal/bcache.Cache.EndOp batches
whichever transactions are outstanding when the last one ends) under real
goroutine concurrency rather than one goroutine simulating several
sequential operations.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStress(args[0], MountConfig, stressNumClients, stressFilesPerClient)
	},
}

func init() {
	stressCmd.Flags().IntVar(&stressNumClients, "stress-num-clients", 8, "Number of concurrent client goroutines.")
	stressCmd.Flags().IntVar(&stressFilesPerClient, "stress-files-per-client", 4, "Regular files each client creates and reads back.")
	rootCmd.AddCommand(stressCmd)
}

func runStress(path string, c cfg.Config, numClients, filesPerClient int) error {
	dev, err := blockdev.OpenFile(path, c.Geometry.BlockSizeBytes, 0, 0)
	if err != nil {
		return fmt.Errorf("stress: %w", err)
	}
	defer dev.Close()

	fs, err := fsys.Mount(dev, c.Geometry, c.Runtime)
	if err != nil {
		return fmt.Errorf("stress: %w", err)
	}

	var g errgroup.Group
	for client := 0; client < numClients; client++ {
		g.Go(func() error {
			return runStressClient(fs, c, client, filesPerClient)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("stress: %w", err)
	}

	slog.Info("stress: completed",
		"path", path,
		"num-clients", numClients,
		"files-per-client", filesPerClient)
	return nil
}

// runStressClient stands in for one concurrent user process: its own
// syscall.Session and file.Table over the shared fs, creating a directory
// no other client touches, then filesPerClient regular files it writes and
// immediately reads back.
func runStressClient(fs *fsys.Filesystem, c cfg.Config, client, filesPerClient int) error {
	table := file.NewTable(c.Runtime.MaxOpenFiles)
	sess := tsyscall.NewSession(fs, table, c.Runtime.MaxOpenFiles, c.Runtime.OpMaxNumBlocks, c.Runtime.PipeSize, nil)
	defer sess.Close()

	dir := fmt.Sprintf("stress-client-%d", client)
	if sess.Mkdirat(tsyscall.AtFDCwd, dir, 0) != 0 {
		return fmt.Errorf("client %d: mkdir %s failed", client, dir)
	}

	for i := 0; i < filesPerClient; i++ {
		name := fmt.Sprintf("%s/file-%d", dir, i)
		payload := []byte(fmt.Sprintf("client %d file %d\n", client, i))

		fd := sess.OpenAt(tsyscall.AtFDCwd, name, tsyscall.OWrOnly|tsyscall.OCreat)
		if fd < 0 {
			return fmt.Errorf("client %d: open %s for write failed", client, name)
		}
		if n := sess.Write(fd, payload); n != len(payload) {
			sess.CloseFd(fd)
			return fmt.Errorf("client %d: short write to %s", client, name)
		}
		sess.CloseFd(fd)

		rfd := sess.OpenAt(tsyscall.AtFDCwd, name, tsyscall.ORdOnly)
		if rfd < 0 {
			return fmt.Errorf("client %d: open %s for read failed", client, name)
		}
		buf := make([]byte, len(payload))
		n := sess.Read(rfd, buf)
		sess.CloseFd(rfd)
		if n != len(payload) || string(buf[:n]) != string(payload) {
			return fmt.Errorf("client %d: readback mismatch for %s", client, name)
		}
	}
	return nil
}
