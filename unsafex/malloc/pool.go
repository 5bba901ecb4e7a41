/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package malloc

import (
	"fmt"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"

	"github.com/cloudwego/memkit/internal/hack"
)

const poolWord = int(unsafe.Sizeof(uintptr(0)))

// Pool hands out fixed-size blocks from a single arena. Free blocks are
// threaded into a singly-linked list through their first machine word, so
// the pool carries no per-block metadata.
type Pool struct {
	arena     []byte
	freeHead  unsafe.Pointer
	blockSize int
	capacity  int
	free      int
}

// NewPool creates a pool of capacity blocks of blockSize bytes each.
// blockSize must be a positive multiple of the machine word.
func NewPool(blockSize, capacity int) (*Pool, error) {
	if blockSize <= 0 || blockSize%poolWord != 0 {
		return nil, fmt.Errorf("pool block size must be a positive multiple of %d, got %d", poolWord, blockSize)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("pool capacity must be positive, got %d", capacity)
	}
	p := &Pool{
		arena:     dirtmake.Bytes(blockSize*capacity, blockSize*capacity),
		blockSize: blockSize,
		capacity:  capacity,
	}
	for i := capacity - 1; i >= 0; i-- {
		b := unsafe.Add(hack.Addr(p.arena), i*blockSize)
		*(*unsafe.Pointer)(b) = p.freeHead
		p.freeHead = b
	}
	p.free = capacity
	return p, nil
}

// Get returns a blockSize-byte block, or nil when the pool is exhausted.
// The block is not zeroed.
func (p *Pool) Get() unsafe.Pointer {
	if p.freeHead == nil {
		return nil
	}
	b := p.freeHead
	p.freeHead = *(*unsafe.Pointer)(b)
	p.free--
	return b
}

// Put returns a block to the pool. Accepts nil. Panics when b does not
// name a block of this pool.
func (p *Pool) Put(b unsafe.Pointer) {
	if b == nil {
		return
	}
	off := uintptr(b) - uintptr(hack.Addr(p.arena))
	if off >= uintptr(len(p.arena)) {
		panic("pool: block not in arena")
	}
	if off%uintptr(p.blockSize) != 0 {
		panic("pool: misaligned block")
	}
	*(*unsafe.Pointer)(b) = p.freeHead
	p.freeHead = b
	p.free++
}

// BlockSize returns the size of each block in bytes.
func (p *Pool) BlockSize() int {
	return p.blockSize
}

// Available returns the number of free blocks.
func (p *Pool) Available() int {
	return p.free
}
