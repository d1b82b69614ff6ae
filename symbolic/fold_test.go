package symbolic

import (
	"math"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFoldBinaryValues(t *testing.T) {
	testCases := []struct {
		name  string
		op    BinaryOp
		a, b  Element
		dtype dtypes.DType
		want  Element
	}{
		{"AddInt64", OpAdd, IntElement(2), IntElement(3), dtypes.Int64, IntElement(5)},
		{"SubInt64", OpSub, IntElement(2), IntElement(3), dtypes.Int64, IntElement(-1)},
		{"MulInt32Wraps", OpMul, IntElement(1 << 20), IntElement(1 << 12), dtypes.Int32, IntElement(0)},
		{"AddUint8Wraps", OpAdd, IntElement(250), IntElement(10), dtypes.Uint8, IntElement(4)},
		{"DivTruncates", OpDiv, IntElement(-7), IntElement(2), dtypes.Int64, IntElement(-3)},
		{"ModSignOfDivisor", OpMod, IntElement(-7), IntElement(3), dtypes.Int64, IntElement(2)},
		{"FModSignOfDividend", OpFMod, IntElement(-7), IntElement(3), dtypes.Int64, IntElement(-1)},
		{"PowInt", OpPow, IntElement(3), IntElement(4), dtypes.Int64, IntElement(81)},
		{"PowIntFloatExponent", OpPow, IntElement(4), FloatElement(0.5), dtypes.Int64, IntElement(2)},
		{"PowIntFloatExponentTruncates", OpPow, IntElement(10), FloatElement(0.5), dtypes.Int32, IntElement(3)},
		{"MaxInt", OpMax, IntElement(3), IntElement(-4), dtypes.Int64, IntElement(3)},
		{"LessInt", OpLess, IntElement(3), IntElement(4), dtypes.Int64, BoolElement(true)},
		{"EqualFloat", OpEqual, FloatElement(0.5), FloatElement(0.5), dtypes.Float32, BoolElement(true)},
		{"DivFloat32Rounds", OpDiv, FloatElement(1), FloatElement(3), dtypes.Float32, FloatElement(float64(float32(1.0) / 3))},
		{"DivFloat64", OpDiv, FloatElement(1), FloatElement(4), dtypes.Float64, FloatElement(0.25)},
		{"PowFloat32", OpPow, FloatElement(2), FloatElement(10), dtypes.Float32, FloatElement(1024)},
		{"AndBool", OpAnd, BoolElement(true), BoolElement(false), dtypes.Bool, BoolElement(false)},
		{"XorBool", OpXor, BoolElement(true), BoolElement(false), dtypes.Bool, BoolElement(true)},
		{"ShiftLeft", OpShiftLeft, IntElement(1), IntElement(4), dtypes.Uint32, IntElement(16)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FoldBinary(tc.op, tc.a, tc.b, tc.dtype)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestFoldBinarySymbolic(t *testing.T) {
	n := ParamElement("N")
	m := ParamElement("M")
	testCases := []struct {
		name string
		op   BinaryOp
		a, b Element
		want Element
	}{
		{"UnknownPropagates", OpAdd, UnknownElement(), IntElement(1), UnknownElement()},
		{"SameParamEqual", OpEqual, n, n, BoolElement(true)},
		{"SameParamLess", OpLess, n, n, BoolElement(false)},
		{"SameParamGreaterOrEqual", OpGreaterOrEqual, n, n, BoolElement(true)},
		{"DifferentParamsEqual", OpEqual, n, m, UnknownElement()},
		{"SameParamSub", OpSub, n, n, IntElement(0)},
		{"AddZero", OpAdd, n, IntElement(0), n},
		{"MulOne", OpMul, IntElement(1), n, n},
		{"MulZero", OpMul, UnknownElement(), IntElement(0), IntElement(0)},
		{"DivOne", OpDiv, n, IntElement(1), n},
		{"MaxSameParam", OpMax, n, n, n},
		{"MaxDifferentParams", OpMax, n, m, UnknownElement()},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FoldBinary(tc.op, tc.a, tc.b, dtypes.Int64)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestFoldDivisionByZero(t *testing.T) {
	for _, op := range []BinaryOp{OpDiv, OpMod, OpFMod} {
		_, err := FoldBinary(op, IntElement(3), IntElement(0), dtypes.Int64)
		var arithErr *ArithmeticError
		require.ErrorAs(t, err, &arithErr, "op %s", op)
		require.Equal(t, op.String(), arithErr.Operation)

		// Raised even if the dividend is not known.
		_, err = FoldBinary(op, UnknownElement(), IntElement(0), dtypes.Int32)
		require.ErrorAs(t, err, new(*ArithmeticError))
	}

	// Float division by zero follows IEEE.
	got, err := FoldBinary(OpDiv, FloatElement(1), FloatElement(0), dtypes.Float32)
	require.NoError(t, err)
	f, _ := got.Float()
	require.True(t, math.IsInf(f, 1))

	_, err = FoldUnary(OpReciprocal, IntElement(0), dtypes.Int64)
	require.ErrorAs(t, err, new(*ArithmeticError))
}

func TestFoldUnary(t *testing.T) {
	assert.Equal(t, IntElement(-3), must.M1(FoldUnary(OpNeg, IntElement(3), dtypes.Int64)))
	assert.Equal(t, IntElement(3), must.M1(FoldUnary(OpAbs, IntElement(-3), dtypes.Int64)))
	assert.Equal(t, IntElement(-1), must.M1(FoldUnary(OpSign, IntElement(-3), dtypes.Int64)))
	assert.Equal(t, BoolElement(true), must.M1(FoldUnary(OpNot, BoolElement(false), dtypes.Bool)))
	assert.Equal(t, FloatElement(2), must.M1(FoldUnary(OpFloor, FloatElement(2.7), dtypes.Float32)))
	assert.Equal(t, FloatElement(3), must.M1(FoldUnary(OpCeil, FloatElement(2.1), dtypes.Float32)))
	assert.Equal(t, FloatElement(2), must.M1(FoldUnary(OpRound, FloatElement(2.5), dtypes.Float64)))
	assert.Equal(t, FloatElement(3), must.M1(FoldUnary(OpSqrt, FloatElement(9), dtypes.Float32)))
	assert.Equal(t, IntElement(9), must.M1(FoldUnary(OpSquare, IntElement(-3), dtypes.Int64)))
	assert.Equal(t, UnknownElement(), must.M1(FoldUnary(OpNeg, ParamElement("N"), dtypes.Int64)))
	assert.Equal(t, ParamElement("N"), must.M1(FoldUnary(OpIdentity, ParamElement("N"), dtypes.Int64)))
}

func TestCastAndRounding(t *testing.T) {
	assert.Equal(t, IntElement(2), Cast(FloatElement(2.9), dtypes.Int64))
	assert.Equal(t, IntElement(-2), Cast(FloatElement(-2.9), dtypes.Int32))
	assert.Equal(t, IntElement(-1), Cast(IntElement(255), dtypes.Int8))
	assert.Equal(t, BoolElement(true), Cast(IntElement(7), dtypes.Bool))
	assert.Equal(t, FloatElement(3), Cast(IntElement(3), dtypes.Float16))
	assert.Equal(t, ParamElement("N"), Cast(ParamElement("N"), dtypes.Int32))

	// 1/3 has fewer significant digits in the half precision types.
	third := 1.0 / 3
	assert.NotEqual(t, third, RoundFloat(third, dtypes.Float32))
	assert.InDelta(t, third, RoundFloat(third, dtypes.Float16), 1e-3)
	assert.InDelta(t, third, RoundFloat(third, dtypes.BFloat16), 1e-2)
	assert.Equal(t, third, RoundFloat(third, dtypes.Float64))
}

func TestElementConversions(t *testing.T) {
	assert.Equal(t, IntElement(3), DimToElement(Value(3)))
	assert.Equal(t, ParamElement("N"), DimToElement(Param("N")))
	assert.Equal(t, UnknownElement(), DimToElement(Unknown()))

	assert.Equal(t, Value(4), must.M1(ElementToDim(IntElement(4))))
	assert.Equal(t, Param("N"), must.M1(ElementToDim(ParamElement("N"))))
	_, err := ElementToDim(IntElement(-2))
	require.ErrorAs(t, err, new(*AxisError))
	_, err = ElementToDim(FloatElement(1.5))
	require.ErrorAs(t, err, new(*TypeError))

	assert.Equal(t, "?", UnknownElement().String())
	assert.Equal(t, "N", ParamElement("N").String())
	assert.Equal(t, "-3", IntElement(-3).String())
	assert.Equal(t, "0.5", FloatElement(0.5).String())
}

func TestNormalizeIndex(t *testing.T) {
	assert.Equal(t, IntElement(2), must.M1(NormalizeIndex(IntElement(-1), Value(3))))
	assert.Equal(t, IntElement(1), must.M1(NormalizeIndex(IntElement(1), Value(3))))
	assert.Equal(t, IntElement(1), must.M1(NormalizeIndex(IntElement(1), Param("N"))))
	assert.Equal(t, UnknownElement(), must.M1(NormalizeIndex(IntElement(-1), Param("N"))))
	assert.Equal(t, UnknownElement(), must.M1(NormalizeIndex(UnknownElement(), Value(3))))

	_, err := NormalizeIndex(IntElement(3), Value(3))
	var axisErr *AxisError
	require.ErrorAs(t, err, &axisErr)
	require.Equal(t, 3, axisErr.Bound)
}

func TestLocate(t *testing.T) {
	err := Locate(NewShapeError(0, Value(2), Value(3), "dimensions cannot be broadcast"), "Add", 1)
	var shapeErr *ShapeError
	require.ErrorAs(t, err, &shapeErr)
	require.Equal(t, "Add", shapeErr.Op)
	require.Equal(t, 1, shapeErr.Input)
	require.Contains(t, err.Error(), "Add: input #1")

	// Already located errors are not overwritten.
	require.Same(t, shapeErr, Locate(err, "Mul", 0))
	require.Equal(t, "Add", shapeErr.Op)
	require.Equal(t, 1, shapeErr.Input)
	require.Nil(t, Locate(nil, "Add", 0))
}
