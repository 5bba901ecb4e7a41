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

// Package malloc provides allocators that manage raw process memory: a
// circular free-list allocator (FreeList), a bump arena (Arena) and a
// fixed-size block pool (Pool).
//
// None of the allocators in this package are safe for concurrent use;
// callers requiring concurrency must serialize externally.
package malloc

import "unsafe"

// defaultFreeList backs the package-level functions.
var defaultFreeList = NewFreeList()

// Init prepares the default free list. Idempotent.
func Init() error {
	return defaultFreeList.Init()
}

// Terminate releases everything owned by the default free list.
func Terminate() error {
	return defaultFreeList.Terminate()
}

// Malloc allocates n bytes from the default free list.
func Malloc(n uintptr) unsafe.Pointer {
	return defaultFreeList.Malloc(n)
}

// Free returns a block to the default free list.
func Free(p unsafe.Pointer) {
	defaultFreeList.Free(p)
}

// Dump reports the default free list's nodes.
func Dump() []Block {
	return defaultFreeList.Dump()
}
