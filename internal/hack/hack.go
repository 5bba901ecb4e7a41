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

package hack

import "unsafe"

// BytesAt builds a []byte of the given length over the memory at p.
// The caller guarantees p names at least n readable/writable bytes.
func BytesAt(p unsafe.Pointer, n uintptr) []byte {
	return unsafe.Slice((*byte)(p), n)
}

// Addr returns the address of the first byte of b.
// b must not be empty.
func Addr(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}

// Copy copies n bytes from src to dst. The regions must not overlap.
func Copy(dst, src unsafe.Pointer, n uintptr) {
	copy(BytesAt(dst, n), BytesAt(src, n))
}

// Zero clears n bytes starting at p.
func Zero(p unsafe.Pointer, n uintptr) {
	b := BytesAt(p, n)
	for i := range b {
		b[i] = 0
	}
}
