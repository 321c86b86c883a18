// SPDX-License-Identifier: MIT
/*
Package bitint holds the power-of-two helpers used to size analyser
windows. Both functions are O(1), allocation free and safe to call from the
audio callback.

NextPowerOfTwo subtracts one before taking the bit length so that exact
powers map to themselves:

	size  size-1  bits.Len  result
	8     0111    3         8
	9     1000    4         16
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size, and 1 for
// non-positive sizes.
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two. A power of two
// has one bit set, so clearing its lowest set bit with n&(n-1) leaves zero.
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
