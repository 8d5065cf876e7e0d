/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package sourcemap

import "fmt"

const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var base64Lookup = func() [256]int8 {
	var table [256]int8
	for i := range table {
		table[i] = -1
	}
	for i, c := range base64Chars {
		table[c] = int8(i)
	}
	return table
}()

// decodeVLQ decodes one base64 VLQ value from s and returns the value and
// the number of characters consumed. The low bit of the decoded quantity is
// the sign, the rest the magnitude; bit 5 of each digit is the continuation
// flag.
func decodeVLQ(s string) (int, int, error) {
	shift := uint(0)
	result := 0

	for i := 0; i < len(s); i++ {
		digit := base64Lookup[s[i]]
		if digit < 0 {
			return 0, 0, fmt.Errorf("sourcemap: invalid VLQ character %q", s[i])
		}

		result |= int(digit&0x1f) << shift
		if digit&0x20 == 0 {
			value := result >> 1
			if result&1 != 0 {
				value = -value
			}
			return value, i + 1, nil
		}
		shift += 5
	}

	return 0, 0, fmt.Errorf("sourcemap: unterminated VLQ value")
}
