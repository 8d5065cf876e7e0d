/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package dvalue

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrTruncated is returned when buf holds the start of a value but not
	// all of its bytes. The caller should retry once more bytes arrive.
	ErrTruncated = errors.New("dvalue: truncated value")

	// ErrBadTag is returned for a tag byte outside the protocol. It means
	// the stream is desynchronized; the connection must be torn down.
	ErrBadTag = errors.New("dvalue: unrecognized tag byte")
)

// Decode decodes the single value starting at buf[0] and returns it together
// with the number of bytes consumed. A nil error means the full value was
// present. ErrTruncated means buf must grow before decoding can proceed; no
// bytes are consumed. Any other error is a fatal protocol desync.
func Decode(buf []byte) (Value, int, error) {
	if len(buf) == 0 {
		return Value{}, 0, ErrTruncated
	}

	tag := buf[0]

	// Packed ranges first: decoded by tag-range arithmetic.
	switch {
	case tag >= tagIntLargeBase: // 0xc0-0xff
		if len(buf) < 2 {
			return Value{}, 0, ErrTruncated
		}
		n := (int32(tag-tagIntLargeBase) << 8) | int32(buf[1])
		return Int(n), 2, nil

	case tag >= tagIntSmallBase: // 0x80-0xbf
		return Int(int32(tag - tagIntSmallBase)), 1, nil

	case tag >= tagStrPackedBase: // 0x60-0x7f
		strLen := int(tag - tagStrPackedBase)
		if len(buf) < 1+strLen {
			return Value{}, 0, ErrTruncated
		}
		return String(string(buf[1 : 1+strLen])), 1 + strLen, nil
	}

	switch tag {
	case TagEOM:
		return EOM(), 1, nil
	case TagREQ:
		return Request(), 1, nil
	case TagREP:
		return Reply(), 1, nil
	case TagERR:
		return ErrMarker(), 1, nil
	case TagNFY:
		return Notify(), 1, nil

	case TagInt32:
		if len(buf) < 5 {
			return Value{}, 0, ErrTruncated
		}
		return Int(int32(binary.BigEndian.Uint32(buf[1:5]))), 5, nil

	case TagStr32:
		return decodeSized(buf, 4, func(b []byte) Value { return String(string(b)) })
	case TagStr16:
		return decodeSized(buf, 2, func(b []byte) Value { return String(string(b)) })
	case TagBuf32:
		return decodeSized(buf, 4, func(b []byte) Value { return Buffer(copyBytes(b)) })
	case TagBuf16:
		return decodeSized(buf, 2, func(b []byte) Value { return Buffer(copyBytes(b)) })

	case TagUnused:
		return Unused(), 1, nil
	case TagUndefined:
		return Undefined(), 1, nil
	case TagNull:
		return Null(), 1, nil
	case TagTrue:
		return Bool(true), 1, nil
	case TagFalse:
		return Bool(false), 1, nil

	case TagNumber:
		if len(buf) < 9 {
			return Value{}, 0, ErrTruncated
		}
		bits := binary.BigEndian.Uint64(buf[1:9])
		return Number(math.Float64frombits(bits)), 9, nil

	case TagObject:
		if len(buf) < 3 {
			return Value{}, 0, ErrTruncated
		}
		class := int(buf[1])
		ptr, n, err := decodePointer(buf[2:])
		if err != nil {
			return Value{}, 0, err
		}
		return Object(class, ptr), 2 + n, nil

	case TagPointer:
		ptr, n, err := decodePointer(buf[1:])
		if err != nil {
			return Value{}, 0, err
		}
		return RawPointer(ptr), 1 + n, nil

	case TagLightFunc:
		if len(buf) < 4 {
			return Value{}, 0, ErrTruncated
		}
		flags := binary.BigEndian.Uint16(buf[1:3])
		ptr, n, err := decodePointer(buf[3:])
		if err != nil {
			return Value{}, 0, err
		}
		return LightFunc(flags, ptr), 3 + n, nil

	case TagHeapPtr:
		ptr, n, err := decodePointer(buf[1:])
		if err != nil {
			return Value{}, 0, err
		}
		return HeapPtr(ptr), 1 + n, nil
	}

	return Value{}, 0, fmt.Errorf("%w: 0x%02x", ErrBadTag, tag)
}

// decodeSized handles the length-prefixed string/buffer forms. lenBytes is
// the width of the big-endian length prefix (2 or 4).
func decodeSized(buf []byte, lenBytes int, build func([]byte) Value) (Value, int, error) {
	if len(buf) < 1+lenBytes {
		return Value{}, 0, ErrTruncated
	}

	var size int
	if lenBytes == 4 {
		size = int(binary.BigEndian.Uint32(buf[1:5]))
	} else {
		size = int(binary.BigEndian.Uint16(buf[1:3]))
	}

	total := 1 + lenBytes + size
	if len(buf) < total {
		return Value{}, 0, ErrTruncated
	}

	return build(buf[1+lenBytes : total]), total, nil
}

// copyBytes detaches a payload slice from the input buffer. Zero-length
// payloads stay empty-but-non-nil so decoded values compare equal to what
// was encoded.
func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// decodePointer decodes the size-prefixed pointer representation shared by
// object, pointer, lightfunc and heapptr values. buf starts at the size byte.
func decodePointer(buf []byte) (Pointer, int, error) {
	if len(buf) < 1 {
		return Pointer{}, 0, ErrTruncated
	}

	size := int(buf[0])
	switch size {
	case 4:
		if len(buf) < 5 {
			return Pointer{}, 0, ErrTruncated
		}
		return NewPointer32(binary.BigEndian.Uint32(buf[1:5])), 5, nil
	case 8:
		if len(buf) < 9 {
			return Pointer{}, 0, ErrTruncated
		}
		high := binary.BigEndian.Uint32(buf[1:5])
		low := binary.BigEndian.Uint32(buf[5:9])
		return NewPointer64(high, low), 9, nil
	default:
		return Pointer{}, 0, fmt.Errorf("dvalue: unsupported pointer size %d", size)
	}
}
