package symbolic

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/dtypes/bfloat16"
	"github.com/x448/float16"
)

// BinaryOp enumerates the binary operations that can be folded on elements at graph-build time.
type BinaryOp uint8

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	// OpMod is the modulo whose result has the sign of the divisor.
	OpMod
	// OpFMod is the modulo whose result has the sign of the dividend (C fmod).
	OpFMod
	OpPow
	OpMax
	OpMin
	OpEqual
	OpLess
	OpLessOrEqual
	OpGreater
	OpGreaterOrEqual
	OpAnd
	OpOr
	OpXor
	OpBitwiseAnd
	OpBitwiseOr
	OpBitwiseXor
	OpShiftLeft
	OpShiftRight
)

var binaryOpNames = [...]string{
	OpAdd: "Add", OpSub: "Sub", OpMul: "Mul", OpDiv: "Div", OpMod: "Mod", OpFMod: "FMod", OpPow: "Pow",
	OpMax: "Max", OpMin: "Min", OpEqual: "Equal", OpLess: "Less", OpLessOrEqual: "LessOrEqual",
	OpGreater: "Greater", OpGreaterOrEqual: "GreaterOrEqual", OpAnd: "And", OpOr: "Or", OpXor: "Xor",
	OpBitwiseAnd: "BitwiseAnd", OpBitwiseOr: "BitwiseOr", OpBitwiseXor: "BitwiseXor",
	OpShiftLeft: "ShiftLeft", OpShiftRight: "ShiftRight",
}

// String implements fmt.Stringer.
func (op BinaryOp) String() string {
	if int(op) < len(binaryOpNames) {
		return binaryOpNames[op]
	}
	return "BinaryOp?"
}

// IsComparison returns whether the operation yields a boolean.
func (op BinaryOp) IsComparison() bool {
	switch op {
	case OpEqual, OpLess, OpLessOrEqual, OpGreater, OpGreaterOrEqual:
		return true
	}
	return false
}

// UnaryOp enumerates the unary operations that can be folded on elements at graph-build time.
type UnaryOp uint8

const (
	OpIdentity UnaryOp = iota
	OpNeg
	OpAbs
	OpSign
	OpNot
	OpBitwiseNot
	OpFloor
	OpCeil
	OpRound
	OpSqrt
	OpReciprocal
	OpSquare
	OpRelu
)

var unaryOpNames = [...]string{
	OpIdentity: "Identity", OpNeg: "Neg", OpAbs: "Abs", OpSign: "Sign", OpNot: "Not", OpBitwiseNot: "BitwiseNot",
	OpFloor: "Floor", OpCeil: "Ceil", OpRound: "Round", OpSqrt: "Sqrt", OpReciprocal: "Reciprocal",
	OpSquare: "Square", OpRelu: "Relu",
}

// String implements fmt.Stringer.
func (op UnaryOp) String() string {
	if int(op) < len(unaryOpNames) {
		return unaryOpNames[op]
	}
	return "UnaryOp?"
}

// WrapInt wraps v around the range of the integer dtype, the way a fixed-width integer overflows.
// Bool maps non-zero values to 1.
func WrapInt(v int64, dtype dtypes.DType) int64 {
	switch dtype {
	case dtypes.Int8:
		return int64(int8(v))
	case dtypes.Int16:
		return int64(int16(v))
	case dtypes.Int32:
		return int64(int32(v))
	case dtypes.Uint8:
		return int64(uint8(v))
	case dtypes.Uint16:
		return int64(uint16(v))
	case dtypes.Uint32:
		return int64(uint32(v))
	case dtypes.Bool:
		if v != 0 {
			return 1
		}
		return 0
	}
	return v
}

// RoundFloat rounds v to the nearest value representable by the float dtype.
func RoundFloat(v float64, dtype dtypes.DType) float64 {
	switch dtype {
	case dtypes.Float32:
		return float64(float32(v))
	case dtypes.Float16:
		return float64(float16.Fromfloat32(float32(v)).Float32())
	case dtypes.BFloat16:
		return float64(bfloat16.FromFloat64(v).Float32())
	}
	return v
}

// usesFloat32 returns whether the arithmetic of the dtype is carried out in float32.
func usesFloat32(dtype dtypes.DType) bool {
	return dtype == dtypes.Float32 || dtype.IsFloat16()
}

// FoldBinary computes op(a, b) for elements of the given operand dtype.
//
// Unknown operands propagate, two Values compute the actual result (wrapped or rounded to dtype, or
// a boolean for comparisons), and a few identities resolve symbolic operands (e.g. "N - N = 0" or
// "N == N"). Integer division or modulo by an element known to be zero returns an *ArithmeticError.
func FoldBinary(op BinaryOp, a, b Element, dtype dtypes.DType) (Element, error) {
	isFloat := dtype.IsFloat()
	if !isFloat && (op == OpDiv || op == OpMod || op == OpFMod) && b.IsZero() {
		return Element{}, NewArithmeticError(op.String(), a, b, "integer division by zero")
	}
	if a.IsValue() && b.IsValue() {
		if op.IsComparison() {
			return BoolElement(compareValues(op, a, b, isFloat)), nil
		}
		if isFloat {
			x, _ := a.Float()
			y, _ := b.Float()
			return FloatElement(RoundFloat(floatBinary(op, x, y, dtype), dtype)), nil
		}
		if dtype.IsComplex() {
			return UnknownElement(), nil
		}
		if op == OpPow && (a.IsFloat() || b.IsFloat()) {
			// Integer base with a float exponent.
			x, _ := a.Float()
			y, _ := b.Float()
			return Cast(FloatElement(math.Pow(x, y)), dtype), nil
		}
		x, y := MustInt(a), MustInt(b)
		return IntElement(WrapInt(intBinary(op, x, y, dtype), dtype)), nil
	}
	return foldSymbolic(op, a, b, isFloat), nil
}

// foldSymbolic resolves the identities that hold regardless of the concrete values.
func foldSymbolic(op BinaryOp, a, b Element, isFloat bool) Element {
	sameParam := a.IsParam() && a == b
	switch op {
	case OpEqual, OpLessOrEqual, OpGreaterOrEqual:
		if sameParam {
			return BoolElement(true)
		}
	case OpLess, OpGreater:
		if sameParam {
			return BoolElement(false)
		}
	case OpMax, OpMin:
		if sameParam {
			return a
		}
	case OpAnd:
		if a.IsZero() || b.IsZero() {
			return BoolElement(false)
		}
	case OpOr:
		if (a.IsValue() && !a.IsZero()) || (b.IsValue() && !b.IsZero()) {
			return BoolElement(true)
		}
	}
	if isFloat {
		return UnknownElement()
	}
	switch op {
	case OpAdd:
		if a.isIntValue(0) {
			return b
		}
		if b.isIntValue(0) {
			return a
		}
	case OpSub:
		if sameParam {
			return IntElement(0)
		}
		if b.isIntValue(0) {
			return a
		}
	case OpMul:
		if a.isIntValue(0) || b.isIntValue(0) {
			return IntElement(0)
		}
		if a.isIntValue(1) {
			return b
		}
		if b.isIntValue(1) {
			return a
		}
	case OpDiv:
		if b.isIntValue(1) {
			return a
		}
	}
	return UnknownElement()
}

func compareValues(op BinaryOp, a, b Element, isFloat bool) bool {
	var cmp int
	if isFloat || a.isFloat || b.isFloat {
		x, _ := a.Float()
		y, _ := b.Float()
		if math.IsNaN(x) || math.IsNaN(y) {
			return false
		}
		switch {
		case x < y:
			cmp = -1
		case x > y:
			cmp = 1
		}
	} else {
		x, y := a.i, b.i
		switch {
		case x < y:
			cmp = -1
		case x > y:
			cmp = 1
		}
	}
	switch op {
	case OpEqual:
		return cmp == 0
	case OpLess:
		return cmp < 0
	case OpLessOrEqual:
		return cmp <= 0
	case OpGreater:
		return cmp > 0
	default: // OpGreaterOrEqual
		return cmp >= 0
	}
}

func floatBinary(op BinaryOp, x, y float64, dtype dtypes.DType) float64 {
	if usesFloat32(dtype) {
		x32, y32 := float32(x), float32(y)
		switch op {
		case OpPow:
			return float64(math32.Pow(x32, y32))
		case OpFMod:
			return float64(math32.Mod(x32, y32))
		case OpMod:
			r := math32.Mod(x32, y32)
			if r != 0 && (r < 0) != (y32 < 0) {
				r += y32
			}
			return float64(r)
		}
	}
	switch op {
	case OpAdd:
		return x + y
	case OpSub:
		return x - y
	case OpMul:
		return x * y
	case OpDiv:
		return x / y
	case OpPow:
		return math.Pow(x, y)
	case OpFMod:
		return math.Mod(x, y)
	case OpMod:
		r := math.Mod(x, y)
		if r != 0 && (r < 0) != (y < 0) {
			r += y
		}
		return r
	case OpMax:
		return math.Max(x, y)
	case OpMin:
		return math.Min(x, y)
	}
	return math.NaN()
}

func intBinary(op BinaryOp, x, y int64, dtype dtypes.DType) int64 {
	switch op {
	case OpAdd:
		return x + y
	case OpSub:
		return x - y
	case OpMul:
		return x * y
	case OpDiv:
		if dtype.IsUnsigned() {
			return int64(uint64(x) / uint64(y))
		}
		return x / y
	case OpFMod:
		return x % y
	case OpMod:
		r := x % y
		if r != 0 && (r < 0) != (y < 0) {
			r += y
		}
		return r
	case OpPow:
		return intPow(x, y)
	case OpMax:
		return max(x, y)
	case OpMin:
		return min(x, y)
	case OpAnd:
		return boolToInt(x != 0 && y != 0)
	case OpOr:
		return boolToInt(x != 0 || y != 0)
	case OpXor:
		return boolToInt((x != 0) != (y != 0))
	case OpBitwiseAnd:
		return x & y
	case OpBitwiseOr:
		return x | y
	case OpBitwiseXor:
		return x ^ y
	case OpShiftLeft:
		if y < 0 || y >= 64 {
			return 0
		}
		return int64(uint64(x) << uint64(y))
	case OpShiftRight:
		if y < 0 || y >= 64 {
			return 0
		}
		return int64(uint64(x) >> uint64(y))
	}
	return 0
}

func intPow(base, exp int64) int64 {
	if exp < 0 {
		switch base {
		case 1:
			return 1
		case -1:
			if exp%2 == 0 {
				return 1
			}
			return -1
		}
		return 0
	}
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// FoldUnary computes op(a) for an element of the given dtype. Unknown and Param operands yield
// Unknown, except for OpIdentity.
//
// An integer reciprocal of an element known to be zero returns an *ArithmeticError.
func FoldUnary(op UnaryOp, a Element, dtype dtypes.DType) (Element, error) {
	if op == OpIdentity {
		return a, nil
	}
	if !a.IsValue() {
		return UnknownElement(), nil
	}
	if dtype.IsFloat() {
		x, _ := a.Float()
		return FloatElement(RoundFloat(floatUnary(op, x, dtype), dtype)), nil
	}
	if dtype.IsComplex() {
		return UnknownElement(), nil
	}
	x := MustInt(a)
	var result int64
	switch op {
	case OpNeg:
		result = -x
	case OpAbs:
		result = max(x, -x)
	case OpSign:
		result = int64(sign(float64(x)))
	case OpNot:
		result = boolToInt(x == 0)
	case OpBitwiseNot:
		result = ^x
	case OpFloor, OpCeil, OpRound:
		result = x
	case OpSqrt:
		if x < 0 {
			return UnknownElement(), nil
		}
		result = int64(math.Sqrt(float64(x)))
	case OpReciprocal:
		if x == 0 {
			return Element{}, NewArithmeticError(op.String(), IntElement(1), a, "integer division by zero")
		}
		result = 1 / x
	case OpSquare:
		result = x * x
	case OpRelu:
		result = max(x, 0)
	}
	return IntElement(WrapInt(result, dtype)), nil
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return x
}

func floatUnary(op UnaryOp, x float64, dtype dtypes.DType) float64 {
	if usesFloat32(dtype) {
		x32 := float32(x)
		switch op {
		case OpFloor:
			return float64(math32.Floor(x32))
		case OpCeil:
			return float64(math32.Ceil(x32))
		case OpSqrt:
			return float64(math32.Sqrt(x32))
		case OpAbs:
			return float64(math32.Abs(x32))
		}
	}
	switch op {
	case OpNeg:
		return -x
	case OpAbs:
		return math.Abs(x)
	case OpSign:
		return sign(x)
	case OpNot:
		if x == 0 {
			return 1
		}
		return 0
	case OpFloor:
		return math.Floor(x)
	case OpCeil:
		return math.Ceil(x)
	case OpRound:
		return math.RoundToEven(x)
	case OpSqrt:
		return math.Sqrt(x)
	case OpReciprocal:
		return 1 / x
	case OpSquare:
		return x * x
	case OpRelu:
		return math.Max(x, 0)
	}
	return math.NaN()
}
