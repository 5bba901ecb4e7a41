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

// Package mem is a thin aligned-allocation facade over the process heap.
//
// Pointers returned by Alloc/Calloc/Realloc stay valid until passed to Free:
// each one is pinned in a package registry together with its backing store,
// which also keeps the garbage collector away from memory that is referenced
// only through raw pointers.
package mem

import (
	"sync"
	"unsafe"

	"github.com/bytedance/gopkg/lang/dirtmake"

	"github.com/cloudwego/memkit/align"
	"github.com/cloudwego/memkit/internal/hack"
)

const (
	ptrSize = unsafe.Sizeof(uintptr(0))
	maxInt  = uintptr(^uint(0) >> 1)
)

var (
	mu     sync.Mutex
	pinned = make(map[unsafe.Pointer][]byte)
)

// Alloc returns an alignment-aligned pointer to size writable bytes, or nil
// on failure. The bytes are not zeroed. alignment is raised to the pointer
// size if smaller and must otherwise be a power of two.
func Alloc(size, alignment uintptr) unsafe.Pointer {
	raw, p := allocRaw(size, alignment)
	if p == nil {
		return nil
	}
	pin(p, raw)
	return p
}

// Calloc allocates n*size bytes as Alloc does and zeroes them.
// Returns nil when n*size overflows.
func Calloc(n, size, alignment uintptr) unsafe.Pointer {
	if size != 0 && n > maxInt/size {
		return nil
	}
	p := Alloc(n*size, alignment)
	if p == nil {
		return nil
	}
	hack.Zero(p, n*size)
	return p
}

// Realloc moves the oldSize bytes at p into a fresh alignment-aligned block
// of newSize bytes, frees p and returns the new pointer. A nil p behaves
// like Alloc; a zero newSize behaves like Free and returns nil. On failure
// the original block is left untouched and nil is returned.
func Realloc(p unsafe.Pointer, oldSize, newSize, alignment uintptr) unsafe.Pointer {
	if p == nil {
		return Alloc(newSize, alignment)
	}
	if newSize == 0 {
		Free(p)
		return nil
	}
	q := Alloc(newSize, alignment)
	if q == nil {
		return nil
	}
	n := oldSize
	if newSize < n {
		n = newSize
	}
	if n > 0 {
		hack.Copy(q, p, n)
	}
	Free(p)
	return q
}

// Free releases a block obtained from this package. Accepts nil and
// pointers this package does not own as no-ops.
func Free(p unsafe.Pointer) {
	if p == nil {
		return
	}
	mu.Lock()
	delete(pinned, p)
	mu.Unlock()
}

// Count returns the number of live blocks. Intended for tests.
func Count() int {
	mu.Lock()
	defer mu.Unlock()
	return len(pinned)
}

func allocRaw(size, alignment uintptr) (raw []byte, p unsafe.Pointer) {
	if size == 0 {
		return nil, nil
	}
	if alignment < ptrSize {
		alignment = ptrSize
	}
	if !align.IsPowerOfTwo(alignment) {
		return nil, nil
	}
	total := size + alignment - 1
	if total < size || total > maxInt {
		return nil, nil
	}
	raw = dirtmake.Bytes(int(total), int(total))
	pad := align.Padding(uintptr(hack.Addr(raw)), alignment)
	return raw, unsafe.Add(hack.Addr(raw), pad)
}

func pin(p unsafe.Pointer, raw []byte) {
	mu.Lock()
	pinned[p] = raw
	mu.Unlock()
}
