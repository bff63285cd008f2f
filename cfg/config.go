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

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the root configuration for a tinyfs image: the on-disk geometry
// written by mkfs and read back at mount time, plus the runtime knobs that
// only affect in-memory behavior (cache size, open-file limits, logging).
type Config struct {
	Geometry GeometryConfig `mapstructure:"geometry"`

	Runtime RuntimeConfig `mapstructure:"runtime"`

	Debug DebugConfig `mapstructure:"debug"`

	Logging LoggingConfig `mapstructure:"logging"`
}

// GeometryConfig fixes the on-disk layout of an image. Every field here is
// baked into the image by mkfs and must be reread, not re-derived, on every
// later mount: changing a geometry field and remounting an existing image
// corrupts it.
type GeometryConfig struct {
	// BlockSizeBytes is the size in bytes of one block, the unit of disk
	// I/O, cache entries, and journal entries.
	BlockSizeBytes int64 `mapstructure:"block-size-bytes"`

	// LogMaxSize is the maximum number of body blocks the journal can hold
	// committed-but-not-yet-applied at once.
	LogMaxSize int `mapstructure:"log-max-size"`

	// InodeNumDirect is the number of direct block pointers in an inode.
	InodeNumDirect int `mapstructure:"inode-num-direct"`

	// InodeNumIndirect is the number of block pointers reachable through an
	// inode's single indirect block.
	InodeNumIndirect int `mapstructure:"inode-num-indirect"`

	// NumInodes is the total number of inode slots in the inode table.
	NumInodes int `mapstructure:"num-inodes"`

	// FileNameMaxLength bounds one path component, not a full path.
	FileNameMaxLength int `mapstructure:"file-name-max-length"`
}

// RuntimeConfig holds knobs that affect only in-memory behavior and can
// differ between mounts of the same image.
type RuntimeConfig struct {
	// EvictionThreshold is the number of cached blocks held before the
	// cache starts evicting unreferenced entries on the next miss.
	EvictionThreshold int `mapstructure:"eviction-threshold"`

	// OpMaxNumBlocks is the per-transaction write budget; callers that
	// might touch more blocks than this in one logical operation must
	// split it across several transactions.
	OpMaxNumBlocks int `mapstructure:"op-max-num-blocks"`

	// PipeSize is the capacity, in bytes, of one pipe's ring buffer.
	PipeSize int `mapstructure:"pipe-size"`

	// MaxOpenFiles bounds the global open-file table.
	MaxOpenFiles int `mapstructure:"max-open-files"`
}

// DebugConfig controls invariant-checking behavior, mirroring the teacher's
// debug flags for mutex-hold-time logging and invariant enforcement.
type DebugConfig struct {
	// ExitOnInvariantViolation panics (rather than logging and continuing)
	// when a CheckInvariants-style assertion fails. Always true in
	// production use; tests that want to probe error-path behavior as a
	// returned error instead of a panic set it false.
	ExitOnInvariantViolation bool `mapstructure:"exit-on-invariant-violation"`

	// LogMutex logs when a lock is held longer than expected, useful when
	// chasing lock-ordering bugs in the cache or inode layer.
	LogMutex bool `mapstructure:"log-mutex"`
}

// LoggingConfig controls the package-level slog logger.
type LoggingConfig struct {
	Severity LogSeverity `mapstructure:"severity"`
}

// BindFlags registers tinyfsctl's persistent flags and binds each to its
// viper key, in the style of the teacher's cmd/root.go + generated
// cfg/config.go BindFlags.
func BindFlags(flagSet *pflag.FlagSet) error {
	d := Default()

	flagSet.Int64("block-size-bytes", d.Geometry.BlockSizeBytes, "Size in bytes of one block.")
	if err := viper.BindPFlag("geometry.block-size-bytes", flagSet.Lookup("block-size-bytes")); err != nil {
		return err
	}

	flagSet.Int("log-max-size", d.Geometry.LogMaxSize, "Maximum number of body blocks held by the journal at once.")
	if err := viper.BindPFlag("geometry.log-max-size", flagSet.Lookup("log-max-size")); err != nil {
		return err
	}

	flagSet.Int("inode-num-direct", d.Geometry.InodeNumDirect, "Number of direct block pointers per inode.")
	if err := viper.BindPFlag("geometry.inode-num-direct", flagSet.Lookup("inode-num-direct")); err != nil {
		return err
	}

	flagSet.Int("inode-num-indirect", d.Geometry.InodeNumIndirect, "Number of block pointers reachable through the indirect block.")
	if err := viper.BindPFlag("geometry.inode-num-indirect", flagSet.Lookup("inode-num-indirect")); err != nil {
		return err
	}

	flagSet.Int("num-inodes", d.Geometry.NumInodes, "Total number of inode slots.")
	if err := viper.BindPFlag("geometry.num-inodes", flagSet.Lookup("num-inodes")); err != nil {
		return err
	}

	flagSet.Int("file-name-max-length", d.Geometry.FileNameMaxLength, "Maximum length of one path component.")
	if err := viper.BindPFlag("geometry.file-name-max-length", flagSet.Lookup("file-name-max-length")); err != nil {
		return err
	}

	flagSet.Int("eviction-threshold", d.Runtime.EvictionThreshold, "Number of cached blocks before eviction is attempted on miss.")
	if err := viper.BindPFlag("runtime.eviction-threshold", flagSet.Lookup("eviction-threshold")); err != nil {
		return err
	}

	flagSet.Int("op-max-num-blocks", d.Runtime.OpMaxNumBlocks, "Per-transaction write budget.")
	if err := viper.BindPFlag("runtime.op-max-num-blocks", flagSet.Lookup("op-max-num-blocks")); err != nil {
		return err
	}

	flagSet.Int("pipe-size", d.Runtime.PipeSize, "Capacity in bytes of one pipe's ring buffer.")
	if err := viper.BindPFlag("runtime.pipe-size", flagSet.Lookup("pipe-size")); err != nil {
		return err
	}

	flagSet.Int("max-open-files", d.Runtime.MaxOpenFiles, "Size of the global open-file table.")
	if err := viper.BindPFlag("runtime.max-open-files", flagSet.Lookup("max-open-files")); err != nil {
		return err
	}

	flagSet.Bool("debug-invariants", d.Debug.ExitOnInvariantViolation, "Panic when an internal invariant is violated.")
	if err := viper.BindPFlag("debug.exit-on-invariant-violation", flagSet.Lookup("debug-invariants")); err != nil {
		return err
	}

	flagSet.Bool("debug-mutex", d.Debug.LogMutex, "Log when a lock is held longer than expected.")
	if err := viper.BindPFlag("debug.log-mutex", flagSet.Lookup("debug-mutex")); err != nil {
		return err
	}

	flagSet.String("log-severity", string(d.Logging.Severity), "Minimum severity logged: TRACE, DEBUG, INFO, WARNING, ERROR, OFF.")
	if err := viper.BindPFlag("logging.severity", flagSet.Lookup("log-severity")); err != nil {
		return err
	}

	return nil
}
