// Package copier turns source-trader position changes into sized, risk-checked
// follower orders.
package copier

import "math"

// Size scales a source trade's USDC notional by the allocation percent and
// clamps the result to maxPositionSize when the cap is set. The result is
// never negative and never NaN; non-finite or non-positive inputs size to
// zero.
func Size(sourceSize, allocationPercent, maxPositionSize float64) float64 {
	if !finite(sourceSize) || !finite(allocationPercent) || sourceSize <= 0 || allocationPercent <= 0 {
		return 0
	}
	sized := sourceSize * allocationPercent / 100
	if maxPositionSize > 0 && sized > maxPositionSize {
		sized = maxPositionSize
	}
	return sized
}

// Allocate sizes an order from the follower's available capital rather than
// the source trade, with the same clamping rules as Size.
func Allocate(availableCapital, allocationPercent, maxPositionSize float64) float64 {
	return Size(availableCapital, allocationPercent, maxPositionSize)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
