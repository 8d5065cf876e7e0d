/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package session

import (
	"fmt"
	"math"
	"strconv"

	"github.com/harold-b/musashi-dap/internal/dvalue"
	"github.com/harold-b/musashi-dap/internal/wire"
)

// valueUnavailable is the placeholder shown when an evaluation or
// inspection soft-fails.
const valueUnavailable = "<value unavailable>"

// genericObjectDisplay is the target runtime's default Object string form;
// seeing it means String() told us nothing useful.
const genericObjectDisplay = "[object Object]"

// formatValue renders a wire value for display. Strings are quoted, numbers
// use their shortest exact form, reference kinds get a bracketed summary.
func formatValue(v dvalue.Value) string {
	switch v.Kind {
	case dvalue.KindString:
		return strconv.Quote(v.Str)
	case dvalue.KindInteger:
		return strconv.Itoa(int(v.Int))
	case dvalue.KindNumber:
		return formatNumber(v.Num)
	case dvalue.KindBoolean:
		return strconv.FormatBool(v.Bool)
	case dvalue.KindNull:
		return "null"
	case dvalue.KindUndefined:
		return "undefined"
	case dvalue.KindUnused:
		return "unused"
	case dvalue.KindBuffer:
		return fmt.Sprintf("[buffer length=%d]", len(v.Buf))
	case dvalue.KindObject:
		return fmt.Sprintf("[%s %s]", wire.ClassName(v.Class), v.Ptr)
	case dvalue.KindPointer:
		return fmt.Sprintf("[pointer %s]", v.Ptr)
	case dvalue.KindLightFunc:
		return fmt.Sprintf("[lightfunc %s]", v.Ptr)
	case dvalue.KindHeapPtr:
		return fmt.Sprintf("[heapptr %s]", v.Ptr)
	default:
		return valueUnavailable
	}
}

// formatNumber prints integral doubles without a trailing fraction, the way
// the target runtime itself would.
func formatNumber(f float64) string {
	if !math.IsNaN(f) && !math.IsInf(f, 0) && f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
