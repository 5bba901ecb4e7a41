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
	"errors"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/cloudwego/memkit/align"
	"github.com/cloudwego/memkit/sysram"
	"github.com/cloudwego/memkit/unsafex/mem"
)

// header precedes every block's payload. next is meaningful only while the
// block sits on the free list; size counts units and includes the header.
type header struct {
	next *header
	size uintptr
}

const (
	// unitSize is the allocation quantum. Block sizes are whole multiples
	// of it, which keeps splits aligned without extra padding arithmetic.
	unitSize = unsafe.Sizeof(header{})

	// Alignment is the alignment of every header and payload address
	// handed out by FreeList.
	Alignment = unitSize
)

var (
	ErrOutOfMemory   = errors.New("malloc: platform allocation failed")
	ErrUninitialized = errors.New("malloc: free list not initialized")
)

// FreeList is a circular first-fit free-list allocator. A zero-size sentinel
// anchors the list; a rolling cursor biases each search to resume where the
// previous one left off. Blocks freed back are reinserted in address order
// and coalesced with address-adjacent neighbors on both sides.
//
// FreeList is not safe for concurrent use.
type FreeList struct {
	base     *header          // sentinel, size 0
	head     *header          // rolling search cursor
	segments []unsafe.Pointer // platform blocks obtained during growth
	stats    Stats
	log      zerolog.Logger
}

// Stats counts FreeList activity since Init.
type Stats struct {
	Allocs    uint64
	Frees     uint64
	Grows     uint64
	HeapBytes uintptr
}

// Block describes one free-list node, sentinel included.
type Block struct {
	Addr  uintptr
	Units uintptr
	Next  uintptr
}

// NewFreeList returns an empty allocator. The sentinel is allocated lazily
// by Init or by the first Malloc.
func NewFreeList() *FreeList {
	return &FreeList{log: zerolog.Nop()}
}

// SetLogger installs a diagnostic sink. Logging is off the correctness
// path; the default sink discards everything.
func (f *FreeList) SetLogger(l zerolog.Logger) {
	f.log = l
}

// Init ensures the sentinel exists and the cursor points at it. Idempotent;
// fails only if the sentinel itself cannot be allocated.
func (f *FreeList) Init() error {
	if f.base != nil {
		return nil
	}
	p := mem.Alloc(unitSize, Alignment)
	if p == nil {
		f.log.Error().Msg("sentinel allocation failed")
		return ErrOutOfMemory
	}
	b := (*header)(p)
	b.next = b
	b.size = 0
	f.base = b
	f.head = b
	f.log.Debug().Msg("free list initialized")
	return nil
}

// Terminate releases every block owned by the list, sentinel last, and
// clears all state. The allocator may be initialized again afterwards.
// Coalescing merges list nodes but never changes which platform blocks the
// list owns, so releasing the recorded growth segments frees exactly the
// memory reachable from the sentinel.
func (f *FreeList) Terminate() error {
	if f.base == nil {
		return ErrUninitialized
	}
	for _, s := range f.segments {
		mem.Free(s)
	}
	f.segments = nil
	mem.Free(unsafe.Pointer(f.base))
	f.base = nil
	f.head = nil
	f.stats = Stats{}
	f.log.Debug().Msg("free list terminated")
	return nil
}

// Malloc returns an Alignment-aligned pointer to at least n writable bytes,
// or nil when n is zero, exceeds sysram.Max, or heap growth fails. The list
// is left untouched on failure.
func (f *FreeList) Malloc(n uintptr) unsafe.Pointer {
	if n == 0 || uint64(n) > sysram.Max() {
		return nil
	}
	if f.Init() != nil {
		return nil
	}
	units := align.UnitCount(n, unitSize, Alignment) + 1 // one extra for the header

	prev := f.head
	p := prev.next
	for {
		if p.size >= units {
			if p.size == units {
				// exact fit: unlink the whole block
				prev.next = p.next
				f.head = prev
			} else {
				// oversize fit: carve the tail so the free block
				// keeps its identity and list position
				p.size -= units
				f.head = p
				p = blockAt(p, p.size)
				p.size = units
			}
			f.stats.Allocs++
			return unsafe.Add(unsafe.Pointer(p), unitSize)
		}
		if p == f.head {
			// full loop without a fit
			if !f.grow(units) {
				return nil
			}
			prev = f.head
			p = prev.next
			continue
		}
		prev, p = p, p.next
	}
}

// Free returns the block owning p to the list. Accepts nil. Passing a
// pointer not obtained from Malloc, or one already freed, is undefined.
func (f *FreeList) Free(p unsafe.Pointer) {
	if p == nil || f.base == nil {
		return
	}
	b := (*header)(unsafe.Add(p, -int(unitSize)))
	f.stats.Frees++
	f.insert(b)
}

// Available returns the payload bytes currently held on the free list.
func (f *FreeList) Available() uintptr {
	var n uintptr
	for _, b := range f.Dump() {
		if b.Units > 0 {
			n += (b.Units - 1) * unitSize
		}
	}
	return n
}

// Stats returns activity counters since Init.
func (f *FreeList) Stats() Stats {
	return f.stats
}

// Dump walks the list from the sentinel and reports every node.
// Intended for tests and diagnostics.
func (f *FreeList) Dump() []Block {
	if f.base == nil {
		return nil
	}
	var out []Block
	c := f.base
	for {
		out = append(out, Block{
			Addr:  uintptr(unsafe.Pointer(c)),
			Units: c.size,
			Next:  uintptr(unsafe.Pointer(c.next)),
		})
		c = c.next
		if c == f.base {
			return out
		}
	}
}

// grow obtains a fresh block of at least units units from the platform and
// hands it to the free list. The request is rounded up to the page size;
// the block's size reflects the exact units handed to the list.
func (f *FreeList) grow(units uintptr) bool {
	nbytes := align.UpPage(units * unitSize)
	p := mem.Alloc(nbytes, Alignment)
	if p == nil {
		f.log.Error().Uint64("bytes", uint64(nbytes)).Msg("heap growth refused")
		return false
	}
	h := (*header)(p)
	h.size = nbytes / unitSize
	f.segments = append(f.segments, p)
	f.stats.Grows++
	f.stats.HeapBytes += nbytes
	f.insert(h)
	return true
}

// insert links b into the list at its address-ordered position, coalescing
// with the successor and predecessor independently when address-adjacent.
// The sentinel is never absorbed. The cursor is left at b's predecessor.
func (f *FreeList) insert(b *header) {
	bp := uintptr(unsafe.Pointer(b))
	c := f.head
	for !(bp > addr(c) && bp < addr(c.next)) {
		if addr(c) >= addr(c.next) && (bp > addr(c) || bp < addr(c.next)) {
			break // wrap edge
		}
		c = c.next
	}

	if c.next != f.base && blockAt(b, b.size) == c.next {
		b.size += c.next.size
		b.next = c.next.next
	} else {
		b.next = c.next
	}
	if blockAt(c, c.size) == b {
		c.size += b.size
		c.next = b.next
	} else {
		c.next = b
	}
	f.head = c
}

func blockAt(h *header, units uintptr) *header {
	return (*header)(unsafe.Add(unsafe.Pointer(h), units*unitSize))
}

func addr(h *header) uintptr {
	return uintptr(unsafe.Pointer(h))
}
