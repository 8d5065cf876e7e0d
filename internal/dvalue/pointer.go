/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dvalue

import "fmt"

// Pointer is a target-address value of declared width. It is an opaque
// identity handle: two pointers refer to the same heap object iff their
// canonical string forms match. The adapter never dereferences it.
type Pointer struct {
	// Size is the pointer width in bytes on the target (4 or 8).
	Size uint8

	// Low and High are the 32-bit halves of the address. High is zero for
	// 4-byte targets.
	Low  uint32
	High uint32
}

// NewPointer32 builds a 4-byte pointer.
func NewPointer32(addr uint32) Pointer {
	return Pointer{Size: 4, Low: addr}
}

// NewPointer64 builds an 8-byte pointer from its 32-bit halves.
func NewPointer64(high, low uint32) Pointer {
	return Pointer{Size: 8, Low: low, High: high}
}

// IsNull reports whether the pointer is the target's null address.
func (p Pointer) IsNull() bool {
	return p.Low == 0 && p.High == 0
}

// String returns the canonical hex form used as a cache key.
func (p Pointer) String() string {
	if p.Size == 8 {
		return fmt.Sprintf("0x%08x%08x", p.High, p.Low)
	}
	return fmt.Sprintf("0x%08x", p.Low)
}
