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

package syscall_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinykernel/tinyfs/blockdev"
	"github.com/tinykernel/tinyfs/cfg"
	"github.com/tinykernel/tinyfs/internal/file"
	"github.com/tinykernel/tinyfs/internal/fsys"
	"github.com/tinykernel/tinyfs/internal/inode"
	ipath "github.com/tinykernel/tinyfs/internal/path"
	"github.com/tinykernel/tinyfs/internal/super"
	tsyscall "github.com/tinykernel/tinyfs/internal/syscall"
)

// newTestSession formats a fresh image, hand-builds a root directory (the
// same bare-minimum an mkfs pass performs), and opens a Session over it.
func newTestSession(t *testing.T) (*fsys.Filesystem, *tsyscall.Session) {
	t.Helper()
	c := cfg.Default()
	sb, err := super.Layout(c.Geometry, 4096)
	require.NoError(t, err)

	dev := blockdev.NewFake(c.Geometry.BlockSizeBytes, uint64(sb.NumBlocks))
	require.NoError(t, sb.WriteTo(dev))

	fs, err := fsys.Mount(dev, c.Geometry, c.Runtime)
	require.NoError(t, err)

	op := fs.Cache.BeginOp()
	rootNo := fs.Inodes.Alloc(op, inode.Directory)
	require.Equal(t, inode.RootInodeNo, rootNo)
	root := fs.Inodes.Get(rootNo)
	root.Lock()
	root.SetLinks(1)
	fs.Inodes.Sync(op, root, true)
	_, err = fs.Inodes.Insert(op, root, ".", rootNo)
	require.NoError(t, err)
	_, err = fs.Inodes.Insert(op, root, "..", rootNo)
	require.NoError(t, err)
	root.Unlock()
	fs.Cache.EndOp(op)
	fs.Inodes.Put(nil, root)

	table := file.NewTable(c.Runtime.MaxOpenFiles)
	sess := tsyscall.NewSession(fs, table, c.Runtime.MaxOpenFiles, c.Runtime.OpMaxNumBlocks, c.Runtime.PipeSize, nil)
	return fs, sess
}

func TestOpenAtCreateThenWriteThenReadRoundTrips(t *testing.T) {
	_, sess := newTestSession(t)
	defer sess.Close()

	fd := sess.OpenAt(tsyscall.AtFDCwd, "/hello.txt", tsyscall.OCreat|tsyscall.ORdWr)
	require.GreaterOrEqual(t, fd, 0)

	n := sess.Write(fd, []byte("hi there"))
	assert.Equal(t, 8, n)
	assert.Equal(t, 0, sess.CloseFd(fd))

	fd2 := sess.OpenAt(tsyscall.AtFDCwd, "/hello.txt", tsyscall.ORdOnly)
	require.GreaterOrEqual(t, fd2, 0)
	buf := make([]byte, 32)
	n = sess.Read(fd2, buf)
	assert.Equal(t, "hi there", string(buf[:n]))
	assert.Equal(t, 0, sess.CloseFd(fd2))
}

func TestOpenAtWithoutCreateOnMissingPathFails(t *testing.T) {
	_, sess := newTestSession(t)
	defer sess.Close()

	fd := sess.OpenAt(tsyscall.AtFDCwd, "/nope", tsyscall.ORdOnly)
	assert.Equal(t, -1, fd)
}

func TestMkdiratThenChdirThenRelativeOpen(t *testing.T) {
	_, sess := newTestSession(t)
	defer sess.Close()

	assert.Equal(t, 0, sess.Mkdirat(tsyscall.AtFDCwd, "/sub", 0))
	assert.Equal(t, 0, sess.Chdir("/sub"))

	fd := sess.OpenAt(tsyscall.AtFDCwd, "file", tsyscall.OCreat|tsyscall.OWrOnly)
	require.GreaterOrEqual(t, fd, 0)
	assert.Equal(t, 3, sess.Write(fd, []byte("abc")))
	assert.Equal(t, 0, sess.CloseFd(fd))
}

func TestDupSharesOffsetAcrossDescriptors(t *testing.T) {
	_, sess := newTestSession(t)
	defer sess.Close()

	fd := sess.OpenAt(tsyscall.AtFDCwd, "/f", tsyscall.OCreat|tsyscall.ORdWr)
	require.GreaterOrEqual(t, fd, 0)
	require.Equal(t, 4, sess.Write(fd, []byte("1234")))

	dup := sess.Dup(fd)
	require.GreaterOrEqual(t, dup, 0)
	require.Equal(t, 2, sess.Write(dup, []byte("56")))

	assert.Equal(t, 0, sess.CloseFd(fd))
	assert.Equal(t, 0, sess.CloseFd(dup))
}

func TestFstatReportsInodeMetadata(t *testing.T) {
	_, sess := newTestSession(t)
	defer sess.Close()

	fd := sess.OpenAt(tsyscall.AtFDCwd, "/f", tsyscall.OCreat|tsyscall.ORdWr)
	require.GreaterOrEqual(t, fd, 0)
	require.Equal(t, 5, sess.Write(fd, []byte("hello")))

	var st file.Stat
	require.Equal(t, 0, sess.Fstat(fd, &st))
	assert.Equal(t, inode.Regular, st.Type)
	assert.EqualValues(t, 5, st.NumBytes)
	assert.Equal(t, 0, sess.CloseFd(fd))
}

func TestNewfstatatResolvesPathWithoutOpening(t *testing.T) {
	_, sess := newTestSession(t)
	defer sess.Close()

	fd := sess.OpenAt(tsyscall.AtFDCwd, "/f", tsyscall.OCreat|tsyscall.ORdWr)
	require.GreaterOrEqual(t, fd, 0)
	require.Equal(t, 3, sess.Write(fd, []byte("abc")))
	require.Equal(t, 0, sess.CloseFd(fd))

	var st file.Stat
	require.Equal(t, 0, sess.Newfstatat(tsyscall.AtFDCwd, "/f", &st, 0))
	assert.EqualValues(t, 3, st.NumBytes)
}

func TestUnlinkatRemovesEntryAndRejectsNonemptyDirectory(t *testing.T) {
	_, sess := newTestSession(t)
	defer sess.Close()

	fd := sess.OpenAt(tsyscall.AtFDCwd, "/f", tsyscall.OCreat|tsyscall.ORdWr)
	require.GreaterOrEqual(t, fd, 0)
	require.Equal(t, 0, sess.CloseFd(fd))
	assert.Equal(t, 0, sess.Unlinkat(tsyscall.AtFDCwd, "/f", 0))

	assert.Equal(t, -1, sess.OpenAt(tsyscall.AtFDCwd, "/f", tsyscall.ORdOnly))

	require.Equal(t, 0, sess.Mkdirat(tsyscall.AtFDCwd, "/d", 0))
	fd2 := sess.OpenAt(tsyscall.AtFDCwd, "/d/inner", tsyscall.OCreat|tsyscall.ORdWr)
	require.GreaterOrEqual(t, fd2, 0)
	require.Equal(t, 0, sess.CloseFd(fd2))
	assert.Equal(t, -1, sess.Unlinkat(tsyscall.AtFDCwd, "/d", 0))
}

func TestUnlinkatRejectsDotAndDotDot(t *testing.T) {
	_, sess := newTestSession(t)
	defer sess.Close()

	assert.Equal(t, -1, sess.Unlinkat(tsyscall.AtFDCwd, "/.", 0))
	assert.Equal(t, -1, sess.Unlinkat(tsyscall.AtFDCwd, "/..", 0))
}

func TestPipe2RoundTripsThroughBothEnds(t *testing.T) {
	_, sess := newTestSession(t)
	defer sess.Close()

	var fds [2]int
	require.Equal(t, 0, sess.Pipe2(&fds))

	n := sess.Write(fds[1], []byte("pipedata"))
	assert.Equal(t, 8, n)
	assert.Equal(t, 0, sess.CloseFd(fds[1]))

	buf := make([]byte, 32)
	n = sess.Read(fds[0], buf)
	assert.Equal(t, "pipedata", string(buf[:n]))
	assert.Equal(t, 0, sess.CloseFd(fds[0]))
}

func TestMknodatConsolePathForcesConsoleMajor(t *testing.T) {
	fs, sess := newTestSession(t)
	defer sess.Close()

	assert.Equal(t, 0, sess.Mknodat(tsyscall.AtFDCwd, "/console", 7, 0))

	var st file.Stat
	require.Equal(t, 0, sess.Newfstatat(tsyscall.AtFDCwd, "/console", &st, 0))
	assert.Equal(t, inode.Device, st.Type)

	root := fs.Root()
	ino, _, err := ipath.Namex(fs, "/console", false, root, nil)
	require.NoError(t, err)
	require.NotNil(t, ino)
	ino.Lock()
	assert.EqualValues(t, inode.ConsoleMajor, ino.Major())
	ino.Unlock()
	fs.Inodes.Put(nil, ino)
	fs.Inodes.Put(nil, root)
}

func TestIoctlAcceptsOnlyWinsize(t *testing.T) {
	_, sess := newTestSession(t)
	defer sess.Close()

	fd := sess.OpenAt(tsyscall.AtFDCwd, "/f", tsyscall.OCreat|tsyscall.ORdWr)
	require.GreaterOrEqual(t, fd, 0)
	assert.Equal(t, 0, sess.Ioctl(fd, tsyscall.TIOCGWINSZ))
	assert.Equal(t, 0, sess.CloseFd(fd))
}
