// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package match

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/daviszhen/ranker/pkg/common"
)

// BlobPool backs pointer-owned attributes. A handle is owned by exactly
// one match and must be freed exactly once. Handle 0 is NULL.
//
// Blob contents are immutable, so Copy hands out a new handle over the
// same bytes.
type BlobPool struct {
	mu     sync.RWMutex
	_blobs [][]byte
	_alive []bool
	_free  []uint64
	_live  int
}

func NewBlobPool() *BlobPool {
	return &BlobPool{
		//slot 0 is the NULL handle
		_blobs: make([][]byte, 1, 64),
		_alive: make([]bool, 1, 64),
	}
}

func (pool *BlobPool) put(data []byte) uint64 {
	var h uint64
	if n := len(pool._free); n > 0 {
		h = pool._free[n-1]
		pool._free = pool._free[:n-1]
		pool._blobs[h] = data
		pool._alive[h] = true
	} else {
		h = uint64(len(pool._blobs))
		pool._blobs = append(pool._blobs, data)
		pool._alive = append(pool._alive, true)
	}
	pool._live++
	return h
}

// Alloc copies data into the pool. Empty data is NULL.
func (pool *BlobPool) Alloc(data []byte) uint64 {
	if len(data) == 0 {
		return 0
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	pool.mu.Lock()
	defer pool.mu.Unlock()
	return pool.put(buf)
}

func (pool *BlobPool) AllocString(s string) uint64 {
	return pool.Alloc([]byte(s))
}

// Adopt takes ownership of data without copying it.
func (pool *BlobPool) Adopt(data []byte) uint64 {
	if len(data) == 0 {
		return 0
	}
	pool.mu.Lock()
	defer pool.mu.Unlock()
	return pool.put(data)
}

func (pool *BlobPool) Get(h uint64) []byte {
	if h == 0 {
		return nil
	}
	pool.mu.RLock()
	defer pool.mu.RUnlock()
	if h >= uint64(len(pool._blobs)) || !pool._alive[h] {
		panic(fmt.Sprintf("read of dead blob %d", h))
	}
	return pool._blobs[h]
}

// Copy returns a new handle for the contents of h.
func (pool *BlobPool) Copy(h uint64) uint64 {
	if h == 0 {
		return 0
	}
	pool.mu.Lock()
	defer pool.mu.Unlock()
	if h >= uint64(len(pool._blobs)) || !pool._alive[h] {
		panic(fmt.Sprintf("copy of dead blob %d", h))
	}
	return pool.put(pool._blobs[h])
}

func (pool *BlobPool) Free(h uint64) {
	if h == 0 {
		return
	}
	pool.mu.Lock()
	defer pool.mu.Unlock()
	if h >= uint64(len(pool._blobs)) || !pool._alive[h] {
		panic(fmt.Sprintf("double free of blob %d", h))
	}
	pool._alive[h] = false
	pool._blobs[h] = nil
	pool._free = append(pool._free, h)
	pool._live--
}

// Live is the number of handles not yet freed.
func (pool *BlobPool) Live() int {
	pool.mu.RLock()
	defer pool.mu.RUnlock()
	return pool._live
}

// MVA blobs are packed little endian: 4 bytes per element for uint sets,
// 8 bytes for int64 sets.

func mvaStride(typ common.AttrType) int {
	switch typ {
	case common.AttrUint32Set:
		return 4
	case common.AttrInt64Set:
		return 8
	default:
		panic("usp")
	}
}

func EncodeMVA(typ common.AttrType, values []int64) []byte {
	stride := mvaStride(typ)
	buf := make([]byte, stride*len(values))
	for i, v := range values {
		if stride == 4 {
			binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
		} else {
			binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
		}
	}
	return buf
}

func MVALen(typ common.AttrType, data []byte) int {
	return len(data) / mvaStride(typ)
}

func MVAAt(typ common.AttrType, data []byte, i int) uint64 {
	if mvaStride(typ) == 4 {
		return uint64(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return binary.LittleEndian.Uint64(data[i*8:])
}

func DecodeMVA(typ common.AttrType, data []byte) []int64 {
	n := MVALen(typ, data)
	ret := make([]int64, n)
	for i := 0; i < n; i++ {
		ret[i] = int64(MVAAt(typ, data, i))
	}
	return ret
}
