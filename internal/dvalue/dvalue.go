/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package dvalue implements the Musashi debugger's self-describing tagged
// value encoding ("dvalues"). Every value on the wire starts with a tag byte
// that fully determines how many bytes follow, so the codec never needs
// look-ahead beyond the value currently being decoded.
package dvalue

import (
	"fmt"
	"strconv"
)

// Tag byte assignments. The 0x60-0xff range is packed: the tag's low bits
// carry the payload (short string lengths and small integers).
const (
	TagEOM   = 0x00
	TagREQ   = 0x01
	TagREP   = 0x02
	TagERR   = 0x03
	TagNFY   = 0x04
	TagInt32 = 0x10
	TagStr32 = 0x11
	TagStr16 = 0x12
	TagBuf32 = 0x13
	TagBuf16 = 0x14
	TagUnused    = 0x15
	TagUndefined = 0x16
	TagNull      = 0x17
	TagTrue      = 0x18
	TagFalse     = 0x19
	TagNumber    = 0x1a
	TagObject    = 0x1b
	TagPointer   = 0x1c
	TagLightFunc = 0x1d
	TagHeapPtr   = 0x1e

	tagStrPackedBase = 0x60 // 0x60-0x7f: string, length in low 5 bits
	tagIntSmallBase  = 0x80 // 0x80-0xbf: integer 0-63
	tagIntLargeBase  = 0xc0 // 0xc0-0xff: integer 0-16383, one trailing byte
)

// Packed representation limits. Integers and strings outside these limits
// fall back to the explicitly sized forms.
const (
	MaxPackedSmallInt = 0x3f   // single byte, tag-embedded
	MaxPackedLargeInt = 0x3fff // tag plus one byte
	MaxPackedStrLen   = 0x1f
)

// Kind discriminates the closed set of wire value representations.
type Kind int

const (
	KindEOM Kind = iota
	KindREQ
	KindREP
	KindERR
	KindNFY
	KindInteger
	KindString
	KindBuffer
	KindUnused
	KindUndefined
	KindNull
	KindBoolean
	KindNumber
	KindObject
	KindPointer
	KindLightFunc
	KindHeapPtr
)

// String returns the kind name used in logs and decode errors.
func (k Kind) String() string {
	switch k {
	case KindEOM:
		return "eom"
	case KindREQ:
		return "request"
	case KindREP:
		return "reply"
	case KindERR:
		return "error"
	case KindNFY:
		return "notify"
	case KindInteger:
		return "integer"
	case KindString:
		return "string"
	case KindBuffer:
		return "buffer"
	case KindUnused:
		return "unused"
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindObject:
		return "object"
	case KindPointer:
		return "pointer"
	case KindLightFunc:
		return "lightfunc"
	case KindHeapPtr:
		return "heapptr"
	default:
		return "unknown"
	}
}

// Value is one tagged wire value. Only the payload fields relevant to Kind
// are meaningful; the rest stay zero. Values are copied freely and never
// mutated after construction.
type Value struct {
	Kind Kind

	Int   int32   // KindInteger
	Str   string  // KindString
	Buf   []byte  // KindBuffer
	Bool  bool    // KindBoolean
	Num   float64 // KindNumber
	Class int     // KindObject class number

	// Ptr holds the target pointer for object, pointer, lightfunc and
	// heapptr values.
	Ptr Pointer

	// Flags holds the lightfunc flag word.
	Flags uint16
}

func EOM() Value       { return Value{Kind: KindEOM} }
func Request() Value   { return Value{Kind: KindREQ} }
func Reply() Value     { return Value{Kind: KindREP} }
func ErrMarker() Value { return Value{Kind: KindERR} }
func Notify() Value    { return Value{Kind: KindNFY} }
func Unused() Value    { return Value{Kind: KindUnused} }
func Undefined() Value { return Value{Kind: KindUndefined} }
func Null() Value      { return Value{Kind: KindNull} }

func Int(n int32) Value        { return Value{Kind: KindInteger, Int: n} }
func String(s string) Value    { return Value{Kind: KindString, Str: s} }
func Buffer(b []byte) Value    { return Value{Kind: KindBuffer, Buf: b} }
func Bool(b bool) Value        { return Value{Kind: KindBoolean, Bool: b} }
func Number(f float64) Value   { return Value{Kind: KindNumber, Num: f} }
func HeapPtr(p Pointer) Value  { return Value{Kind: KindHeapPtr, Ptr: p} }
func RawPointer(p Pointer) Value { return Value{Kind: KindPointer, Ptr: p} }

func Object(class int, p Pointer) Value {
	return Value{Kind: KindObject, Class: class, Ptr: p}
}

func LightFunc(flags uint16, p Pointer) Value {
	return Value{Kind: KindLightFunc, Flags: flags, Ptr: p}
}

// IsMarker reports whether the value is a framing marker rather than data.
func (v Value) IsMarker() bool {
	switch v.Kind {
	case KindEOM, KindREQ, KindREP, KindERR, KindNFY:
		return true
	}
	return false
}

// HasPointer reports whether the value carries a heap pointer usable as an
// identity key.
func (v Value) HasPointer() bool {
	switch v.Kind {
	case KindObject, KindPointer, KindLightFunc, KindHeapPtr:
		return true
	}
	return false
}

// String renders the value for logging. Strings are quoted; pointer-bearing
// values include their canonical pointer form.
func (v Value) String() string {
	switch v.Kind {
	case KindInteger:
		return strconv.FormatInt(int64(v.Int), 10)
	case KindString:
		return strconv.Quote(v.Str)
	case KindBuffer:
		return fmt.Sprintf("buffer[%d]", len(v.Buf))
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindObject:
		return fmt.Sprintf("object(class=%d, ptr=%s)", v.Class, v.Ptr)
	case KindPointer:
		return fmt.Sprintf("pointer(%s)", v.Ptr)
	case KindLightFunc:
		return fmt.Sprintf("lightfunc(flags=0x%04x, ptr=%s)", v.Flags, v.Ptr)
	case KindHeapPtr:
		return fmt.Sprintf("heapptr(%s)", v.Ptr)
	default:
		return v.Kind.String()
	}
}
