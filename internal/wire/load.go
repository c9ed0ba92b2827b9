package wire

import (
	"fmt"

	"github.com/cu-fleet/curmd/internal/catalogue"
)

// The original ("caller's") load form packs both encodings into one value:
// the low byte carries a coarse percent 0..100, bits 8..27 carry the fine
// 0..1,000,000 form. Exactly one of the two sub-fields may be nonzero.
const (
	percentMask  = 0xff
	granularBits = 8
	granularMask = 0xfffff // 20 bits, enough for 1,000,000
)

// PackLoadOriginal builds the packed original-form value from exactly one
// of percent / granular (the other must be zero).
func PackLoadOriginal(percent, granular int) int {
	return (percent & percentMask) | ((granular & granularMask) << granularBits)
}

// UnpackLoadOriginal splits a packed original-form value into its percent
// and fine-grain sub-fields.
func UnpackLoadOriginal(v int) (percent, granular int) {
	return v & percentMask, (v >> granularBits) & granularMask
}

// PercentToUnified converts a coarse 0..100 percent load into the fine
// 0..1,000,000 unified representation the catalogue stores.
func PercentToUnified(percent int) int {
	return percent * (catalogue.MaxUnifiedLoad / catalogue.MaxPercentLoad)
}

// UnifiedToPercent converts a unified load back to whole percent, rounding
// down, matching the original daemon's integer-division behavior.
func UnifiedToPercent(unified int) int {
	return unified / (catalogue.MaxUnifiedLoad / catalogue.MaxPercentLoad)
}

// NormalizeLoad validates a packed original-form value and returns the
// unified load it denotes. Conflicting sub-fields (both nonzero), an empty
// value, and out-of-range values are all rejected.
func NormalizeLoad(original int) (int, error) {
	percent, granular := UnpackLoadOriginal(original)
	switch {
	case percent != 0 && granular != 0:
		return 0, fmt.Errorf("%w: load carries both percent %d and fine-grain %d", catalogue.ErrInvalidArgument, percent, granular)
	case percent != 0:
		if percent > catalogue.MaxPercentLoad {
			return 0, fmt.Errorf("%w: percent load %d out of range", catalogue.ErrInvalidArgument, percent)
		}
		return PercentToUnified(percent), nil
	case granular != 0:
		if granular > catalogue.MaxUnifiedLoad {
			return 0, fmt.Errorf("%w: fine-grain load %d out of range", catalogue.ErrInvalidArgument, granular)
		}
		return granular, nil
	default:
		return 0, fmt.Errorf("%w: load value is empty", catalogue.ErrInvalidArgument)
	}
}
