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

package bcache

import "encoding/binary"

// logHeader is the in-memory copy of the on-disk journal header: spec.md
// §3's LogHeader, `{ u32 num_blocks; u32 block_no[LOG_MAX_SIZE]; }` padded
// to one block.
type logHeader struct {
	numBlocks uint32
	blockNo   []uint32 // len == logMaxSize
}

func newLogHeader(logMaxSize int) logHeader {
	return logHeader{blockNo: make([]uint32, logMaxSize)}
}

func (h logHeader) encode(blockSizeBytes int64) []byte {
	buf := make([]byte, blockSizeBytes)
	binary.LittleEndian.PutUint32(buf[0:4], h.numBlocks)
	for i, no := range h.blockNo {
		off := 4 + 4*i
		binary.LittleEndian.PutUint32(buf[off:off+4], no)
	}
	return buf
}

func decodeLogHeader(buf []byte, logMaxSize int) logHeader {
	h := newLogHeader(logMaxSize)
	h.numBlocks = binary.LittleEndian.Uint32(buf[0:4])
	for i := range h.blockNo {
		off := 4 + 4*i
		h.blockNo[i] = binary.LittleEndian.Uint32(buf[off : off+4])
	}
	return h
}
