/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dvalue

import (
	"encoding/binary"
	"math"
)

// Append encodes v in its most compact wire form and appends it to dst.
// Compactness matters for round-trip fidelity: the runtime always emits the
// shortest representation, and tests compare encoded bytes directly.
func Append(dst []byte, v Value) []byte {
	switch v.Kind {
	case KindEOM:
		return append(dst, TagEOM)
	case KindREQ:
		return append(dst, TagREQ)
	case KindREP:
		return append(dst, TagREP)
	case KindERR:
		return append(dst, TagERR)
	case KindNFY:
		return append(dst, TagNFY)
	case KindUnused:
		return append(dst, TagUnused)
	case KindUndefined:
		return append(dst, TagUndefined)
	case KindNull:
		return append(dst, TagNull)

	case KindBoolean:
		if v.Bool {
			return append(dst, TagTrue)
		}
		return append(dst, TagFalse)

	case KindInteger:
		return appendInt(dst, v.Int)

	case KindString:
		return appendString(dst, v.Str)

	case KindBuffer:
		if len(v.Buf) <= 0xffff {
			dst = append(dst, TagBuf16)
			dst = binary.BigEndian.AppendUint16(dst, uint16(len(v.Buf)))
		} else {
			dst = append(dst, TagBuf32)
			dst = binary.BigEndian.AppendUint32(dst, uint32(len(v.Buf)))
		}
		return append(dst, v.Buf...)

	case KindNumber:
		dst = append(dst, TagNumber)
		return binary.BigEndian.AppendUint64(dst, math.Float64bits(v.Num))

	case KindObject:
		dst = append(dst, TagObject, byte(v.Class))
		return appendPointer(dst, v.Ptr)

	case KindPointer:
		dst = append(dst, TagPointer)
		return appendPointer(dst, v.Ptr)

	case KindLightFunc:
		dst = append(dst, TagLightFunc)
		dst = binary.BigEndian.AppendUint16(dst, v.Flags)
		return appendPointer(dst, v.Ptr)

	case KindHeapPtr:
		dst = append(dst, TagHeapPtr)
		return appendPointer(dst, v.Ptr)
	}

	// Unreachable for values built through this package's constructors.
	return dst
}

func appendInt(dst []byte, n int32) []byte {
	switch {
	case n >= 0 && n <= MaxPackedSmallInt:
		return append(dst, byte(tagIntSmallBase+n))
	case n >= 0 && n <= MaxPackedLargeInt:
		return append(dst, byte(tagIntLargeBase+(n>>8)), byte(n&0xff))
	default:
		dst = append(dst, TagInt32)
		return binary.BigEndian.AppendUint32(dst, uint32(n))
	}
}

func appendString(dst []byte, s string) []byte {
	switch {
	case len(s) <= MaxPackedStrLen:
		dst = append(dst, byte(tagStrPackedBase+len(s)))
	case len(s) <= 0xffff:
		dst = append(dst, TagStr16)
		dst = binary.BigEndian.AppendUint16(dst, uint16(len(s)))
	default:
		dst = append(dst, TagStr32)
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(s)))
	}
	return append(dst, s...)
}

func appendPointer(dst []byte, p Pointer) []byte {
	if p.Size == 8 {
		dst = append(dst, 8)
		dst = binary.BigEndian.AppendUint32(dst, p.High)
		return binary.BigEndian.AppendUint32(dst, p.Low)
	}
	dst = append(dst, 4)
	return binary.BigEndian.AppendUint32(dst, p.Low)
}
