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

// Package sysram reports physical memory figures and derives the ceiling
// applied to allocation requests.
package sysram

import "github.com/pbnjay/memory"

const (
	// DefaultReserve is subtracted from total RAM when computing Max.
	DefaultReserve = 1 << 30 // 1GB

	// DefaultFloor is the lower bound of Max regardless of reserve.
	DefaultFloor = 16 << 20 // 16MB

	// FallbackTotal is assumed when the platform cannot report RAM.
	FallbackTotal = 4 << 30 // 4GB
)

// Total returns the system's total physical RAM in bytes.
// Falls back to FallbackTotal when the platform reports nothing.
func Total() uint64 {
	if t := memory.TotalMemory(); t > 0 {
		return t
	}
	return FallbackTotal
}

// Max returns the largest size a single allocation request may ask for:
// total RAM minus DefaultReserve, but never below DefaultFloor.
func Max() uint64 {
	t := Total()
	if t <= DefaultReserve+DefaultFloor {
		return DefaultFloor
	}
	return t - DefaultReserve
}
