package partial

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/onnx-builder/symbolic"
)

// PromotionConfig controls how dtype mismatches between operands are handled during inference.
type PromotionConfig struct {
	// AllowPromotion enables automatic dtype promotion. If false (default),
	// dtype mismatches are reported as a *symbolic.TypeError.
	AllowPromotion bool

	// PrioritizeFloat16 prefers Float16 over Float32 when promoting.
	// Only applies when AllowPromotion is true.
	PrioritizeFloat16 bool
}

// PromoteDTypes returns the common dtype of operands.
//
// Without promotion all dtypes must be equal. With promotion, the dtype with the highest priority wins
// (Float64 > Float32 > Float16 > Int64 > ...), except that Float16+Float32 promotes to Float16 if
// PrioritizeFloat16 is set.
//
// The returned error is a *symbolic.TypeError located at the first mismatching operand.
func PromoteDTypes(config PromotionConfig, operands ...dtypes.DType) (dtypes.DType, error) {
	if len(operands) == 0 {
		return dtypes.InvalidDType, nil
	}
	target := operands[0]
	for ii, dtype := range operands[1:] {
		if dtype == target {
			continue
		}
		if !config.AllowPromotion {
			err := symbolic.NewTypeError(target, dtype, "dtype mismatch (implicit casting is not enabled)")
			err.Input = ii + 1
			return dtypes.InvalidDType, err
		}
		target = promotePair(target, dtype, config)
	}
	return target, nil
}

func promotePair(lhs, rhs dtypes.DType, config PromotionConfig) dtypes.DType {
	if config.PrioritizeFloat16 {
		if (lhs == dtypes.Float16 && rhs == dtypes.Float32) || (lhs == dtypes.Float32 && rhs == dtypes.Float16) {
			return dtypes.Float16
		}
	}
	if promotionPriority[rhs] > promotionPriority[lhs] {
		return rhs
	}
	return lhs
}

// promotionPriority ranks dtypes for promotion: the operand with the highest rank wins.
// Missing dtypes have rank 0.
var promotionPriority = map[dtypes.DType]int{
	dtypes.Bool:       10,
	dtypes.Uint8:      20,
	dtypes.Uint16:     25,
	dtypes.Uint32:     30,
	dtypes.Uint64:     35,
	dtypes.Int8:       40,
	dtypes.Int16:      50,
	dtypes.Int32:      60,
	dtypes.Int64:      70,
	dtypes.Float16:    80,
	dtypes.BFloat16:   80,
	dtypes.Float32:    90,
	dtypes.Float64:    100,
	dtypes.Complex64:  105,
	dtypes.Complex128: 110,
}
