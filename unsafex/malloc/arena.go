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

	"github.com/bytedance/gopkg/lang/mcache"
)

// DefaultArenaChunkSize is the chunk size used by NewArena when callers
// have no better estimate.
const DefaultArenaChunkSize = 64 * 1024

const arenaAlign = 8

// Arena is a bump allocator over mcache-backed chunks. Individual
// allocations cannot be freed; memory is reclaimed by Reset or Close.
type Arena struct {
	chunks    [][]byte
	off       int
	chunkSize int
}

// NewArena creates an arena that grows in chunks of chunkSize bytes.
// The first chunk is allocated lazily.
func NewArena(chunkSize int) (*Arena, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("arena chunk size must be positive, got %d", chunkSize)
	}
	return &Arena{chunkSize: chunkSize}, nil
}

// Alloc returns size bytes from the arena, 8-byte aligned and not zeroed.
// Returns nil for non-positive sizes.
func (a *Arena) Alloc(size int) []byte {
	if size <= 0 {
		return nil
	}
	cur := a.current()
	if len(cur)-a.off < size {
		n := a.chunkSize
		if size > n {
			n = size
		}
		cur = mcache.Malloc(n)
		a.chunks = append(a.chunks, cur)
		a.off = 0
	}
	b := cur[a.off : a.off+size : a.off+size]
	a.off += (size + arenaAlign - 1) &^ (arenaAlign - 1)
	if a.off > len(cur) {
		a.off = len(cur)
	}
	return b
}

// Available returns the bytes left in the current chunk.
func (a *Arena) Available() int {
	return len(a.current()) - a.off
}

// Reset retires all chunks but the first and rewinds the arena. Previously
// returned slices must no longer be used.
func (a *Arena) Reset() {
	if len(a.chunks) == 0 {
		return
	}
	for _, c := range a.chunks[1:] {
		mcache.Free(c)
	}
	a.chunks = a.chunks[:1]
	a.off = 0
}

// Close returns every chunk to the cache. The arena is unusable afterwards
// until allocated from again, which starts a fresh first chunk.
func (a *Arena) Close() {
	for _, c := range a.chunks {
		mcache.Free(c)
	}
	a.chunks = nil
	a.off = 0
}

func (a *Arena) current() []byte {
	if len(a.chunks) == 0 {
		return nil
	}
	return a.chunks[len(a.chunks)-1]
}
