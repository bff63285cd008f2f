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
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinykernel/tinyfs/cfg"
)

func TestRunShellEchoCatMkdirLsRoundTrip(t *testing.T) {
	c := cfg.Default()
	img := filepath.Join(t.TempDir(), "image")
	require.NoError(t, runMkfs(img, c))

	script := strings.Join([]string{
		"echo hello.txt hello world",
		"cat hello.txt",
		"mkdir sub",
		"ls",
		"stat hello.txt",
		"ln hello.txt hello2.txt",
		"rm hello.txt",
		"cat hello2.txt",
	}, "\n") + "\n"

	var out strings.Builder
	require.NoError(t, runShell(img, c, strings.NewReader(script), &out))

	got := out.String()
	assert.Contains(t, got, "hello world")
	assert.Contains(t, got, "sub")
	assert.Contains(t, got, "type=file")
	assert.Contains(t, got, "links=1")
}

func TestRunShellUnknownCommandReportsErrorAndContinues(t *testing.T) {
	c := cfg.Default()
	img := filepath.Join(t.TempDir(), "image")
	require.NoError(t, runMkfs(img, c))

	var out strings.Builder
	err := runShell(img, c, strings.NewReader("bogus\nls\n"), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "unknown command")
}
