package main

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// pow10 returns 10^decimals, failing when it does not fit in a uint64.
func pow10(decimals uint8) (uint64, error) {
	if decimals > 19 {
		return 0, fmt.Errorf("decimals %d out of range", decimals)
	}
	unit := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		unit *= 10
	}
	return unit, nil
}

// formatAmount converts raw units to a decimal string with the given
// number of decimal places.
func formatAmount(units uint64, decimals uint8) string {
	if decimals == 0 {
		return strconv.FormatUint(units, 10)
	}
	unit, err := pow10(decimals)
	if err != nil {
		return strconv.FormatUint(units, 10)
	}
	return fmt.Sprintf("%d.%0*d", units/unit, int(decimals), units%unit)
}

// parseAmount converts a decimal string to raw units.
func parseAmount(s string, decimals uint8) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return 0, fmt.Errorf("negative amount")
	}
	unit, err := pow10(decimals)
	if err != nil {
		return 0, err
	}

	parts := strings.SplitN(s, ".", 2)

	whole, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid whole part: %w", err)
	}

	var frac uint64
	if len(parts) == 2 {
		fracStr := parts[1]
		if len(fracStr) > int(decimals) {
			return 0, fmt.Errorf("too many decimal places (max %d)", decimals)
		}
		if fracStr != "" {
			// Pad to decimals digits.
			fracStr += strings.Repeat("0", int(decimals)-len(fracStr))
			frac, err = strconv.ParseUint(fracStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid fractional part: %w", err)
			}
		}
	}

	// Check overflow.
	if whole > math.MaxUint64/unit {
		return 0, fmt.Errorf("amount too large")
	}
	result := whole * unit
	if result > math.MaxUint64-frac {
		return 0, fmt.Errorf("amount too large")
	}

	return result + frac, nil
}
