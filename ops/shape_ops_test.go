package ops

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/onnx-builder/partial"
	"github.com/gomlx/onnx-builder/symbolic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReshape(t *testing.T) {
	n := symbolic.Param("N")
	batch := tensor(dtypes.Float32, n, symbolic.Value(3), symbolic.Value(4))
	testCases := []struct {
		name   string
		data   *partial.Tensor
		target *partial.Tensor
		attrs  Attributes
		want   string
	}{
		{"InferredAxis", floats(2, 3, 4), ints(-1, 4), nil, "[6, 4]"},
		{"CopyAndInfer", batch, ints(0, -1), nil, "[N, 12]"},
		{"ParamQuotient", batch, ints(-1, 12), nil, "[N, 12]"},
		{"Flatten", floats(2, 3, 4), ints(-1), nil, "[24]"},
		{"AllowZero", floats(0, 3), ints(0, 3), Attributes{"allowzero": 1}, "[0, 3]"},
		{"UnknownTarget", floats(2, 3), tensor(dtypes.Int64, symbolic.Value(3)), nil, "[?, ?, ?]"},
		{"UnknownRankData", partial.New(dtypes.Float32, symbolic.UnknownShape()), ints(-1, 2), nil, "[?, 2]"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, inferShapeOf(t, "Reshape", tc.attrs, tc.data, tc.target))
		})
	}

	t.Run("Errors", func(t *testing.T) {
		_, err := inferOpErr("Reshape", nil, floats(2, 3), ints(4, 2))
		var shapeErr *symbolic.ShapeError
		require.ErrorAs(t, err, &shapeErr)
		assert.Equal(t, 1, shapeErr.Input)

		_, err = inferOpErr("Reshape", nil, floats(2, 3), ints(-1, -1))
		require.ErrorAs(t, err, new(*symbolic.AxisError))

		_, err = inferOpErr("Reshape", nil, floats(2, 3), ints(-1, 4))
		require.ErrorAs(t, err, new(*symbolic.ShapeError))
	})

	t.Run("CarriesElements", func(t *testing.T) {
		got := inferOp(t, "Reshape", nil, ints(5), ints(-1))[0]
		assert.Equal(t, []int64{5}, elementsOf(t, got))
	})
}

func TestShapeOp(t *testing.T) {
	x := tensor(dtypes.Float32, symbolic.Param("N"), symbolic.Value(3), symbolic.Unknown())
	got := inferOp(t, "Shape", nil, x)[0]
	assert.Equal(t, dtypes.Int64, got.DType)
	assert.Equal(t, "Int64[3]{N, 3, ?}", got.String())

	got = inferOp(t, "Shape", Attributes{"start": 1, "end": -1}, x)[0]
	assert.Equal(t, []int64{3}, elementsOf(t, got))

	got = inferOp(t, "Size", nil, floats(2, 3))[0]
	assert.True(t, got.Shape.IsScalar())
	assert.Equal(t, []int64{6}, elementsOf(t, got))
}

func TestShapeThenGather(t *testing.T) {
	x := tensor(dtypes.Float32, symbolic.Param("N"), symbolic.Value(3))
	shapeOfX := inferOp(t, "Shape", nil, x)[0]
	got := inferOp(t, "Gather", Attributes{"axis": 0}, shapeOfX, scalarInt(1))[0]
	require.True(t, got.Shape.IsScalar())
	assert.Equal(t, symbolic.IntElement(3), got.Element(0))

	got = inferOp(t, "Gather", nil, shapeOfX, scalarInt(-2))[0]
	assert.Equal(t, symbolic.ParamElement("N"), got.Element(0))

	_, err := inferOpErr("Gather", nil, shapeOfX, scalarInt(5))
	var axisErr *symbolic.AxisError
	require.ErrorAs(t, err, &axisErr)
	assert.Equal(t, 1, axisErr.Input)
	assert.Equal(t, "Gather", axisErr.Op)
}

func TestFlattenSqueezeUnsqueeze(t *testing.T) {
	assert.Equal(t, "[2, 12]", inferShapeOf(t, "Flatten", nil, floats(2, 3, 4)))
	assert.Equal(t, "[1, 24]", inferShapeOf(t, "Flatten", Attributes{"axis": 0}, floats(2, 3, 4)))
	assert.Equal(t, "[6, 4]", inferShapeOf(t, "Flatten", Attributes{"axis": -1}, floats(2, 3, 4)))

	assert.Equal(t, "[3]", inferShapeOf(t, "Squeeze", nil, floats(1, 3, 1)))
	assert.Equal(t, "[3, 1]", inferShapeOf(t, "Squeeze", nil, floats(1, 3, 1), ints(0)))
	assert.Equal(t, "[3, 1]", inferShapeOf(t, "Squeeze", Attributes{"axes": []int{0}}, floats(1, 3, 1)))
	_, err := inferOpErr("Squeeze", nil, floats(1, 3, 1), ints(1))
	require.ErrorAs(t, err, new(*symbolic.ShapeError))

	got := inferOp(t, "Unsqueeze", nil, scalarInt(7), ints(0))[0]
	assert.Equal(t, "[1]", got.Shape.String())
	assert.Equal(t, []int64{7}, elementsOf(t, got))
	assert.Equal(t, "[2, 1, 3, 1]", inferShapeOf(t, "Unsqueeze", nil, floats(2, 3), ints(1, -1)))
}

func TestTranspose(t *testing.T) {
	assert.Equal(t, "[4, 3, 2]", inferShapeOf(t, "Transpose", nil, floats(2, 3, 4)))
	assert.Equal(t, "[2, 4, 3]", inferShapeOf(t, "Transpose", Attributes{"perm": []int{0, 2, 1}}, floats(2, 3, 4)))
	_, err := inferOpErr("Transpose", Attributes{"perm": []int{0, 0, 1}}, floats(2, 3, 4))
	require.ErrorAs(t, err, new(*symbolic.AxisError))
}

func TestConcat(t *testing.T) {
	got := inferOp(t, "Concat", Attributes{"axis": 0}, ints(1, 2), ints(3))[0]
	assert.Equal(t, []int64{1, 2, 3}, elementsOf(t, got))

	n := symbolic.Param("N")
	assert.Equal(t, "[5, N]", inferShapeOf(t, "Concat", Attributes{"axis": 0},
		tensor(dtypes.Float32, symbolic.Value(2), symbolic.Unknown()),
		tensor(dtypes.Float32, symbolic.Value(3), n)))

	_, err := inferOpErr("Concat", Attributes{"axis": 0}, floats(2, 3), floats(3))
	var rankErr *symbolic.RankError
	require.ErrorAs(t, err, &rankErr)
	assert.Equal(t, 1, rankErr.Input)

	_, err = inferOpErr("Concat", Attributes{"axis": 0}, floats(2, 3), floats(2, 4))
	require.ErrorAs(t, err, new(*symbolic.ShapeError))
}

func TestSplit(t *testing.T) {
	outputs := inferOp(t, "Split", Attributes{"num_outputs": 3}, ints(1, 2, 3, 4, 5, 6))
	require.Len(t, outputs, 3)
	assert.Equal(t, []int64{3, 4}, elementsOf(t, outputs[1]))

	outputs = inferOp(t, "Split", Attributes{"num_outputs": 3}, floats(7, 2))
	assert.Equal(t, "[3, 2]", outputs[0].Shape.String())
	assert.Equal(t, "[1, 2]", outputs[2].Shape.String())

	outputs = inferOp(t, "Split", Attributes{"split": []int{2, 4}, "axis": 1}, floats(5, 6))
	require.Len(t, outputs, 2)
	assert.Equal(t, "[5, 2]", outputs[0].Shape.String())
	assert.Equal(t, "[5, 4]", outputs[1].Shape.String())

	_, err := inferOpErr("Split", Attributes{"split": []int{2, 2}}, floats(5))
	require.ErrorAs(t, err, new(*symbolic.ShapeError))

	for _, sizes := range [][]int{{1, 1, 1}, {3}} {
		_, err = inferOpErr("Split", Attributes{"num_outputs": 2, "split": sizes}, floats(3))
		var arityErr *ArityError
		require.ErrorAs(t, err, &arityErr, "split=%v", sizes)
		assert.Equal(t, "Split", arityErr.Op)
		assert.Equal(t, len(sizes), arityErr.Got)
	}
	_, err = inferOpErr("Split", Attributes{"num_outputs": 0}, floats(3))
	require.ErrorAs(t, err, new(*ArityError))
	_, err = inferOpErr("Dropout", Attributes{"num_outputs": 3}, floats(3))
	require.ErrorAs(t, err, new(*ArityError))
}

func TestExpandTileCast(t *testing.T) {
	assert.Equal(t, "[2, 3, 4]", inferShapeOf(t, "Expand", nil, floats(3, 1), ints(2, 1, 4)))
	got := inferOp(t, "Expand", nil, scalarInt(1), ints(3))[0]
	assert.Equal(t, []int64{1, 1, 1}, elementsOf(t, got))

	assert.Equal(t, "[4, 6]", inferShapeOf(t, "Tile", nil, floats(2, 3), ints(2, 2)))
	got = inferOp(t, "Tile", nil, ints(1, 2), ints(3))[0]
	assert.Equal(t, []int64{1, 2, 1, 2, 1, 2}, elementsOf(t, got))
	_, err := inferOpErr("Tile", nil, floats(2, 3), ints(2))
	require.ErrorAs(t, err, new(*symbolic.RankError))

	got = inferOp(t, "Cast", Attributes{"to": dtypes.Float32}, ints(1, 2))[0]
	assert.Equal(t, dtypes.Float32, got.DType)
	assert.True(t, got.Element(0).IsFloat())
	got = inferOp(t, "CastLike", nil, ints(1, 2), floats(1))[0]
	assert.Equal(t, dtypes.Float32, got.DType)
}
