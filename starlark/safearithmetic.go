package starlark

import (
	"math"
)

// OldSafeAdd64 and OldSafeMul64 are plain int64 saturating arithmetic
// helpers for byte counts kept outside SafeInteger (starlarkstruct.Make
// sums size estimates with OldSafeAdd64): a result that overflows is
// clamped to math.MaxInt64 or math.MinInt64, and either extreme as an
// operand is kept as the result.

func OldSafeAdd64(a, b int64) int64 {
	if a == math.MinInt64 || a == math.MaxInt64 {
		return a
	}
	if b == math.MinInt64 || b == math.MaxInt64 {
		return b
	}

	if b >= 0 {
		if a > math.MaxInt64-b {
			return math.MaxInt64
		}
	} else if a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}

func OldSafeMul64(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	expectPositive := (a > 0) == (b > 0)
	product := a * b
	if a == math.MinInt64 || a == math.MaxInt64 || b == math.MinInt64 || b == math.MaxInt64 ||
		product/b != a || (product > 0) != expectPositive {
		if expectPositive {
			return math.MaxInt64
		}
		return math.MinInt64
	}

	return product
}

// OldSafeAdd and OldSafeMul are the int-width counterparts of the
// 64-bit helpers above.

func OldSafeAdd(a, b int) int {
	return int(OldSafeAdd64(int64(a), int64(b)))
}

func OldSafeMul(a, b int) int {
	return int(OldSafeMul64(int64(a), int64(b)))
}
