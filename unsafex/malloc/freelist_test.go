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
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/memkit/align"
	"github.com/cloudwego/memkit/internal/hack"
	"github.com/cloudwego/memkit/unsafex/mem"
)

func overlap(a, b []byte) bool {
	pa := uintptr(hack.Addr(a))
	pb := uintptr(hack.Addr(b))
	return pa < pb+uintptr(len(b)) && pb < pa+uintptr(len(a))
}

// unitsFor mirrors the request sizing rule: aligned payload units plus one
// header unit.
func unitsFor(n uintptr) uintptr {
	return align.UnitCount(n, unitSize, Alignment) + 1
}

func newTestFreeList(t *testing.T) *FreeList {
	t.Helper()
	f := NewFreeList()
	require.NoError(t, f.Init())
	t.Cleanup(func() { f.Terminate() })
	return f
}

// checkList verifies the structural invariants: sentinel first with size 0,
// aligned node addresses, at most one wrap edge, and no two address-adjacent
// free neighbors left uncoalesced.
func checkList(t *testing.T, f *FreeList) {
	t.Helper()
	dump := f.Dump()
	require.NotEmpty(t, dump)
	require.Equal(t, uintptr(0), dump[0].Units, "sentinel must stay size 0")
	sentinel := dump[0].Addr
	wraps := 0
	for i, b := range dump {
		assert.True(t, align.IsAligned(b.Addr, Alignment), "node %d misaligned", i)
		if b.Addr >= b.Next {
			wraps++
		}
		if b.Units > 0 && b.Next != sentinel {
			assert.NotEqual(t, b.Addr+b.Units*unitSize, b.Next,
				"uncoalesced adjacent blocks at %#x", b.Addr)
		}
	}
	assert.LessOrEqual(t, wraps, 1, "more than one wrap edge")
}

func TestInitTerminate(t *testing.T) {
	f := NewFreeList()
	require.NoError(t, f.Init())
	require.NoError(t, f.Init()) // idempotent

	dump := f.Dump()
	require.Len(t, dump, 1)
	assert.Equal(t, uintptr(0), dump[0].Units)
	assert.Equal(t, dump[0].Addr, dump[0].Next)

	require.NoError(t, f.Terminate())
	assert.ErrorIs(t, f.Terminate(), ErrUninitialized)
	assert.Nil(t, f.Dump())

	// reinitializable after terminate
	require.NoError(t, f.Init())
	require.NoError(t, f.Terminate())
}

func TestMallocZeroSize(t *testing.T) {
	f := newTestFreeList(t)
	before := f.Dump()
	assert.Nil(t, f.Malloc(0))
	assert.Equal(t, before, f.Dump())
}

func TestMallocOverCeiling(t *testing.T) {
	f := newTestFreeList(t)
	before := f.Dump()
	assert.Nil(t, f.Malloc(^uintptr(0)))
	assert.Equal(t, before, f.Dump())
	assert.Zero(t, f.Stats().Grows)
}

func TestAllocateFreeCycle(t *testing.T) {
	f := newTestFreeList(t)

	p := f.Malloc(128)
	require.NotNil(t, p)
	assert.True(t, align.IsAligned(uintptr(p), Alignment))

	q := f.Malloc(256)
	require.NotNil(t, q)
	assert.NotEqual(t, p, q)
	checkList(t, f)

	f.Free(p)
	checkList(t, f)
	f.Free(q)
	checkList(t, f)

	grows := f.Stats().Grows
	r := f.Malloc(384)
	require.NotNil(t, r)
	assert.Equal(t, grows, f.Stats().Grows, "must be served from the coalesced block")
	f.Free(r)
	checkList(t, f)
}

func TestAlignmentAndCapacity(t *testing.T) {
	f := newTestFreeList(t)

	sizes := []uintptr{1, 8, 15, 16, 17, 64, 100, 128, 255, 1000, 4096, 10000}
	ptrs := make([]unsafe.Pointer, 0, len(sizes))
	for _, n := range sizes {
		p := f.Malloc(n)
		require.NotNil(t, p, "size %d", n)
		assert.True(t, align.IsAligned(uintptr(p), Alignment), "size %d", n)
		// every requested byte is writable
		b := hack.BytesAt(p, n)
		for i := range b {
			b[i] = byte(i)
		}
		for i := range b {
			require.Equal(t, byte(i), b[i], "size %d byte %d", n, i)
		}
		ptrs = append(ptrs, p)
		checkList(t, f)
	}
	for _, p := range ptrs {
		f.Free(p)
		checkList(t, f)
	}
}

func TestNoOverlap(t *testing.T) {
	f := newTestFreeList(t)

	const n = 96
	var blocks [][]byte
	for i := 0; i < 16; i++ {
		p := f.Malloc(n)
		require.NotNil(t, p)
		blocks = append(blocks, hack.BytesAt(p, n))
	}
	for i := range blocks {
		for j := i + 1; j < len(blocks); j++ {
			assert.False(t, overlap(blocks[i], blocks[j]), "blocks %d and %d", i, j)
		}
	}
	for _, b := range blocks {
		f.Free(hack.Addr(b))
		checkList(t, f)
	}
}

func TestCoalesceBothSides(t *testing.T) {
	f := newTestFreeList(t)

	const n = 48
	u := unitsFor(n)

	a := f.Malloc(n)
	b := f.Malloc(n)
	c := f.Malloc(n)
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.NotNil(t, c)
	require.Equal(t, uint64(1), f.Stats().Grows, "three small blocks fit one segment")

	// tail carving hands out descending addresses from one segment
	assert.Equal(t, uintptr(a)-u*unitSize, uintptr(b))
	assert.Equal(t, uintptr(b)-u*unitSize, uintptr(c))

	total := f.Stats().HeapBytes / unitSize

	f.Free(a)
	checkList(t, f)
	f.Free(c)
	checkList(t, f)
	f.Free(b) // merges predecessor region, b and a into one
	checkList(t, f)

	dump := f.Dump()
	require.Len(t, dump, 2, "sentinel plus a single coalesced region")
	assert.Equal(t, total, dump[1].Units)
}

func TestSplitOnOversizeFit(t *testing.T) {
	f := newTestFreeList(t)

	const n = 32
	u := unitsFor(n)

	p := f.Malloc(n)
	require.NotNil(t, p)
	dump := f.Dump()
	require.Len(t, dump, 2)
	region := dump[1]

	q := f.Malloc(n)
	require.NotNil(t, q)
	dump = f.Dump()
	require.Len(t, dump, 2)
	assert.Equal(t, region.Addr, dump[1].Addr, "free region keeps its position")
	assert.Equal(t, region.Units-u, dump[1].Units, "split removes exactly the allocated units")

	f.Free(p)
	f.Free(q)
}

func TestExactFit(t *testing.T) {
	f := newTestFreeList(t)

	const n = 64
	p1 := f.Malloc(n)
	p2 := f.Malloc(n)
	require.NotNil(t, p1)
	require.NotNil(t, p2)

	f.Free(p1)
	checkList(t, f)
	grows := f.Stats().Grows

	// the hole left by p1 fits exactly and is found first
	q := f.Malloc(n)
	require.NotNil(t, q)
	assert.Equal(t, p1, q)
	assert.Equal(t, grows, f.Stats().Grows)
	checkList(t, f)

	f.Free(q)
	f.Free(p2)
}

func TestReuseAfterFree(t *testing.T) {
	f := newTestFreeList(t)

	p := f.Malloc(200)
	require.NotNil(t, p)
	f.Free(p)

	grows := f.Stats().Grows
	q := f.Malloc(200)
	require.NotNil(t, q)
	assert.True(t, align.IsAligned(uintptr(q), Alignment))
	assert.Equal(t, grows, f.Stats().Grows, "no growth when a free block fits")
	assert.Equal(t, p, q, "coalescing makes the singleton reuse its address")
	f.Free(q)
}

func TestFreeNil(t *testing.T) {
	f := newTestFreeList(t)
	before := f.Dump()
	f.Free(nil)
	assert.Equal(t, before, f.Dump())

	// free on an uninitialized allocator is a no-op as well
	g := NewFreeList()
	g.Free(nil)
}

func TestAvailable(t *testing.T) {
	f := newTestFreeList(t)
	assert.Zero(t, f.Available())

	p := f.Malloc(512)
	require.NotNil(t, p)
	heap := f.Stats().HeapBytes
	used := unitsFor(512) * unitSize
	assert.Equal(t, heap-used-unitSize, f.Available(), "region payload excludes its header")

	f.Free(p)
	assert.Equal(t, heap-unitSize, f.Available())
}

func TestStats(t *testing.T) {
	f := newTestFreeList(t)

	p := f.Malloc(64)
	q := f.Malloc(64)
	f.Free(p)
	f.Free(q)

	s := f.Stats()
	assert.Equal(t, uint64(2), s.Allocs)
	assert.Equal(t, uint64(2), s.Frees)
	assert.Equal(t, uint64(1), s.Grows)
	assert.NotZero(t, s.HeapBytes)

	require.NoError(t, f.Terminate())
	require.NoError(t, f.Init())
	assert.Zero(t, f.Stats().Allocs)
}

func TestTerminateReleasesEverything(t *testing.T) {
	baseline := mem.Count()

	f := NewFreeList()
	require.NoError(t, f.Init())
	var ptrs []unsafe.Pointer
	for _, n := range []uintptr{32, 4096, 128, 9000} {
		p := f.Malloc(n)
		require.NotNil(t, p)
		ptrs = append(ptrs, p)
	}
	f.Free(ptrs[1])

	require.NoError(t, f.Terminate())
	assert.Equal(t, baseline, mem.Count(), "segments and sentinel must all be released")

	require.NoError(t, f.Init())
	require.NoError(t, f.Terminate())
}

func TestMultiSegmentGrowth(t *testing.T) {
	f := newTestFreeList(t)

	// each allocation exceeds one page worth of units, forcing a segment each
	big := 2 * align.PageSize()
	p := f.Malloc(big)
	q := f.Malloc(big)
	require.NotNil(t, p)
	require.NotNil(t, q)
	assert.Equal(t, uint64(2), f.Stats().Grows)
	checkList(t, f)

	f.Free(p)
	checkList(t, f)
	f.Free(q)
	checkList(t, f)
}

func TestDefaultFreeList(t *testing.T) {
	require.NoError(t, Init())

	p := Malloc(256)
	require.NotNil(t, p)
	assert.True(t, align.IsAligned(uintptr(p), Alignment))
	assert.NotEmpty(t, Dump())
	Free(p)

	require.NoError(t, Terminate())
	assert.ErrorIs(t, Terminate(), ErrUninitialized)
}
