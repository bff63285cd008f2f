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

// Default returns the configuration used when mkfs is run with no
// overrides. The geometry numbers match the boundary scenarios the
// filesystem core is tested against: a 512-byte block, a 63-block journal,
// 12 direct pointers and a 128-entry indirect block per inode.
func Default() Config {
	return Config{
		Geometry: GeometryConfig{
			BlockSizeBytes:    512,
			LogMaxSize:        63,
			InodeNumDirect:    12,
			InodeNumIndirect:  128,
			NumInodes:         200,
			FileNameMaxLength: 14,
		},
		Runtime: RuntimeConfig{
			EvictionThreshold: 64,
			OpMaxNumBlocks:    10,
			PipeSize:          512,
			MaxOpenFiles:      64,
		},
		Debug: DebugConfig{
			ExitOnInvariantViolation: true,
			LogMutex:                 false,
		},
		Logging: LoggingConfig{
			Severity: InfoLogSeverity,
		},
	}
}
