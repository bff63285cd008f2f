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
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tinykernel/tinyfs/blockdev"
	"github.com/tinykernel/tinyfs/cfg"
	"github.com/tinykernel/tinyfs/internal/file"
	"github.com/tinykernel/tinyfs/internal/fsys"
	"github.com/tinykernel/tinyfs/internal/inode"
	tsyscall "github.com/tinykernel/tinyfs/internal/syscall"
)

var shellCmd = &cobra.Command{
	Use:   "shell <image>",
	Short: "Drive the syscall layer against a mounted image interactively",
	Long: `shell mounts <image> and reads line-oriented commands from stdin,
standing in for the out-of-scope user programs (cat, echo, init, mkdir in
original_source/src/user/*) that would otherwise be the only callers of the
syscall surface: ls, cat, echo, mkdir, mknod, rm, ln, stat. Each builtin maps
directly onto one or two internal/syscall.Session operations.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShell(args[0], MountConfig, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

func runShell(path string, c cfg.Config, in io.Reader, out io.Writer) error {
	dev, err := blockdev.OpenFile(path, c.Geometry.BlockSizeBytes, 0, 0)
	if err != nil {
		return fmt.Errorf("shell: %w", err)
	}
	defer dev.Close()

	fs, err := fsys.Mount(dev, c.Geometry, c.Runtime)
	if err != nil {
		return fmt.Errorf("shell: %w", err)
	}

	table := file.NewTable(c.Runtime.MaxOpenFiles)
	sess := tsyscall.NewSession(fs, table, c.Runtime.MaxOpenFiles, c.Runtime.OpMaxNumBlocks, c.Runtime.PipeSize, nil)
	defer sess.Close()

	sh := &shell{sess: sess, out: out}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" || fields[0] == "quit" {
			break
		}
		if err := sh.run(fields[0], fields[1:]); err != nil {
			fmt.Fprintf(out, "%s: %v\n", fields[0], err)
		}
	}
	return scanner.Err()
}

// shell dispatches one line at a time to a builtin, each of which drives
// sess directly: no argv parsing beyond whitespace splitting, no quoting,
// no pipelines. It exists to give the filesystem core a callable surface
// without a process layer to exec real user programs against.
type shell struct {
	sess *tsyscall.Session
	out  io.Writer
}

func (sh *shell) run(name string, args []string) error {
	switch name {
	case "ls":
		return sh.ls(args)
	case "cat":
		return sh.cat(args)
	case "echo":
		return sh.echo(args)
	case "mkdir":
		return sh.mkdir(args)
	case "mknod":
		return sh.mknod(args)
	case "rm":
		return sh.rm(args)
	case "ln":
		return sh.ln(args)
	case "stat":
		return sh.stat(args)
	case "cd":
		return sh.cd(args)
	default:
		return fmt.Errorf("unknown command")
	}
}

func (sh *shell) ls(args []string) error {
	p := "."
	if len(args) > 0 {
		p = args[0]
	}
	entries, ok := sh.sess.ReadDir(p)
	if !ok {
		return fmt.Errorf("%s: not a directory or not found", p)
	}
	for _, e := range entries {
		fmt.Fprintf(sh.out, "%d\t%s\n", e.InodeNo, e.Name)
	}
	return nil
}

func (sh *shell) cat(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: cat <path>")
	}
	fd := sh.sess.OpenAt(tsyscall.AtFDCwd, args[0], tsyscall.ORdOnly)
	if fd < 0 {
		return fmt.Errorf("%s: open failed", args[0])
	}
	defer sh.sess.CloseFd(fd)

	buf := make([]byte, 512)
	for {
		n := sh.sess.Read(fd, buf)
		if n <= 0 {
			return nil
		}
		sh.out.Write(buf[:n])
	}
}

func (sh *shell) echo(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: echo <path> <text...>")
	}
	fd := sh.sess.OpenAt(tsyscall.AtFDCwd, args[0], tsyscall.OWrOnly|tsyscall.OCreat)
	if fd < 0 {
		return fmt.Errorf("%s: open failed", args[0])
	}
	defer sh.sess.CloseFd(fd)

	line := strings.Join(args[1:], " ") + "\n"
	if n := sh.sess.Write(fd, []byte(line)); n != len(line) {
		return fmt.Errorf("%s: short write", args[0])
	}
	return nil
}

func (sh *shell) mkdir(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: mkdir <path>")
	}
	if sh.sess.Mkdirat(tsyscall.AtFDCwd, args[0], 0) != 0 {
		return fmt.Errorf("%s: mkdir failed", args[0])
	}
	return nil
}

func (sh *shell) mknod(args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: mknod <path> <major> <minor>")
	}
	major, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return fmt.Errorf("%s: bad major", args[1])
	}
	minor, err := strconv.ParseUint(args[2], 10, 16)
	if err != nil {
		return fmt.Errorf("%s: bad minor", args[2])
	}
	if sh.sess.Mknodat(tsyscall.AtFDCwd, args[0], uint16(major), uint16(minor)) != 0 {
		return fmt.Errorf("%s: mknod failed", args[0])
	}
	return nil
}

func (sh *shell) rm(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: rm <path>")
	}
	if sh.sess.Unlinkat(tsyscall.AtFDCwd, args[0], 0) != 0 {
		return fmt.Errorf("%s: unlink failed", args[0])
	}
	return nil
}

func (sh *shell) ln(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: ln <oldpath> <newpath>")
	}
	if sh.sess.Linkat(args[0], args[1]) != 0 {
		return fmt.Errorf("%s -> %s: link failed", args[1], args[0])
	}
	return nil
}

func (sh *shell) stat(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: stat <path>")
	}
	var st file.Stat
	if sh.sess.Newfstatat(tsyscall.AtFDCwd, args[0], &st, 0) != 0 {
		return fmt.Errorf("%s: stat failed", args[0])
	}
	fmt.Fprintf(sh.out, "inode=%d type=%s links=%d bytes=%d\n",
		st.InodeNo, typeName(st.Type), st.NumLinks, st.NumBytes)
	return nil
}

func (sh *shell) cd(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: cd <path>")
	}
	if sh.sess.Chdir(args[0]) != 0 {
		return fmt.Errorf("%s: chdir failed", args[0])
	}
	return nil
}

func typeName(t inode.Type) string {
	switch t {
	case inode.Regular:
		return "file"
	case inode.Directory:
		return "dir"
	case inode.Device:
		return "dev"
	default:
		return "invalid"
	}
}
