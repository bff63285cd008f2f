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

package cfg

import "fmt"

const (
	BlockSizeTooSmallError     = "block-size-bytes must be a positive multiple of 64"
	LogMaxSizeInvalidError     = "log-max-size must be at least 1"
	InodeNumDirectInvalidError = "inode-num-direct must be at least 1"
	NumInodesInvalidError      = "num-inodes must be at least 1"
	OpMaxNumBlocksInvalidError = "op-max-num-blocks must be at least 1 and no greater than log-max-size"
	EvictionThresholdError     = "eviction-threshold must be at least 1"
	MaxOpenFilesInvalidError   = "max-open-files must be at least 1"
	FileNameMaxLengthError     = "file-name-max-length must be at least 1"
)

// ValidateConfig returns a non-nil error if the config describes a geometry
// or runtime setting that the rest of the filesystem core cannot operate
// on, the way the teacher's cfg/validate.go rejects out-of-range flags
// before they ever reach a mount.
func ValidateConfig(config *Config) error {
	g := config.Geometry
	r := config.Runtime

	if g.BlockSizeBytes <= 0 || g.BlockSizeBytes%64 != 0 {
		return fmt.Errorf(BlockSizeTooSmallError)
	}
	if g.LogMaxSize < 1 {
		return fmt.Errorf(LogMaxSizeInvalidError)
	}
	if g.InodeNumDirect < 1 {
		return fmt.Errorf(InodeNumDirectInvalidError)
	}
	if g.NumInodes < 1 {
		return fmt.Errorf(NumInodesInvalidError)
	}
	if g.FileNameMaxLength < 1 {
		return fmt.Errorf(FileNameMaxLengthError)
	}
	if r.OpMaxNumBlocks < 1 || r.OpMaxNumBlocks > g.LogMaxSize {
		return fmt.Errorf(OpMaxNumBlocksInvalidError)
	}
	if r.EvictionThreshold < 1 {
		return fmt.Errorf(EvictionThresholdError)
	}
	if r.MaxOpenFiles < 1 {
		return fmt.Errorf(MaxOpenFilesInvalidError)
	}

	return nil
}
