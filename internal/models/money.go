package models

import "math"

// Amounts are signed 64-bit integers in minor units (cents).
// Transaction amounts are validated to be strictly positive at construction;
// ledger balances may take any sign.

// AddAmount returns a+b, failing with ErrAmountOverflow when the sum is not
// representable in an int64.
func AddAmount(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrAmountOverflow
	}
	return sum, nil
}

// NegateAmount returns -a. The only non-representable negation is MinInt64.
func NegateAmount(a int64) (int64, error) {
	if a == math.MinInt64 {
		return 0, ErrAmountOverflow
	}
	return -a, nil
}

// IsPositiveAmount reports whether a is a valid transaction amount.
func IsPositiveAmount(a int64) bool {
	return a > 0
}
