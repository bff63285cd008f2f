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

// Package path implements path resolution: spec.md §4.5's namex/skipelem,
// grounded statement-for-statement on original_source/src/fs/inode.c's
// `namex`/`skipelem`/`namei`/`nameiparent`, and on the teacher's fs/dir.go
// for the general shape of walking path components against a tree of
// nodes under explicit lock/unlock pairs.
package path

import (
	"strings"

	"github.com/tinykernel/tinyfs/internal/bcache"
	"github.com/tinykernel/tinyfs/internal/fsys"
	"github.com/tinykernel/tinyfs/internal/inode"
)

// skipelem reads the next path element from path, mirroring
// original_source's example table exactly:
//
//	skipelem("a/bb/c")   = ("bb/c", "a", true)
//	skipelem("///a//bb") = ("bb", "a", true)
//	skipelem("a")        = ("", "a", true)
//	skipelem("")         = skipelem("////") = ("", "", false)
//
// name is truncated to nameMaxLen, matching skipelem's FILE_NAME_MAX_LENGTH
// clamp (names are not NUL-padded here; Go strings carry their own length).
func skipelem(p string, nameMaxLen int) (rest, name string, ok bool) {
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", "", false
	}
	i := strings.IndexByte(p, '/')
	if i < 0 {
		name, rest = p, ""
	} else {
		name, rest = p[:i], strings.TrimLeft(p[i:], "/")
	}
	if len(name) > nameMaxLen {
		name = name[:nameMaxLen]
	}
	return rest, name, true
}

// Namex resolves path against fs's inode tree, starting at the root if
// path begins with "/" or at cwd otherwise (both Share'd before the walk
// begins, mirroring namex's inode_get(ROOT_INODE_NO)/inode_share(cwd)).
// If wantParent, the walk stops one component short and returns the
// locked-then-unlocked parent directory plus the final component's name;
// namex's own "/" has no parent" edge case (wantParent on a path with no
// remaining component to peel off) returns a nil inode and no error, not
// a failure — callers must check for a nil Inode exactly as they would
// check namex's NULL return.
//
// Unlike original_source's thisproc()->cwd, the caller's current working
// directory is passed explicitly as cwd: this module does not implement a
// process table, only the concurrency primitives (internal/kthread) and
// the filesystem core built on top of them, so there is nowhere for a
// thread-local cwd to live short of inventing process state the spec
// never asks for.
func Namex(fs *fsys.Filesystem, p string, wantParent bool, cwd *inode.Inode, op *bcache.Op) (ino *inode.Inode, name string, err error) {
	var cur *inode.Inode
	if strings.HasPrefix(p, "/") {
		cur = fs.Root()
	} else {
		cur = fs.Inodes.Share(cwd)
	}

	nameMaxLen := fs.Inodes.NameMaxLen()
	rest := p
	var elem string
	var ok bool
	for rest, elem, ok = skipelem(rest, nameMaxLen); ok; rest, elem, ok = skipelem(rest, nameMaxLen) {
		cur.Lock()
		if cur.Type() != inode.Directory {
			cur.Unlock()
			fs.Inodes.Put(op, cur)
			return nil, "", nil
		}

		if wantParent && rest == "" {
			cur.Unlock()
			return cur, elem, nil
		}

		childNo, _ := fs.Inodes.Lookup(cur, elem)
		next := fs.Inodes.Get(childNo)
		if next == nil {
			cur.Unlock()
			fs.Inodes.Put(op, cur)
			return nil, "", nil
		}
		cur.Unlock()
		fs.Inodes.Put(op, cur)
		cur = next
		name = elem
	}

	if wantParent {
		fs.Inodes.Put(op, cur)
		return nil, "", nil
	}
	return cur, name, nil
}
