package partial

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/onnx-builder/symbolic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithElements(t *testing.T) {
	t.Run("PinsUnknownDimension", func(t *testing.T) {
		base := New(dtypes.Int64, symbolic.MakeShape(symbolic.Unknown()))
		got, err := base.WithElements(symbolic.IntElements(1, 2, 3), DefaultElementCap)
		require.NoError(t, err)
		require.Equal(t, "[3]", got.Shape.String())
		values, ok := got.Ints()
		require.True(t, ok)
		require.Equal(t, []int64{1, 2, 3}, values)
		require.False(t, base.HasElements())
	})

	t.Run("UnknownRankBecomes1D", func(t *testing.T) {
		got, err := New(dtypes.Int64, symbolic.UnknownShape()).WithElements(symbolic.IntElements(4, 5), DefaultElementCap)
		require.NoError(t, err)
		require.Equal(t, 1, got.Rank())
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		_, err := New(dtypes.Int64, symbolic.ConcreteShape(2)).WithElements(symbolic.IntElements(1, 2, 3), DefaultElementCap)
		require.ErrorAs(t, err, new(*symbolic.ShapeError))
	})

	t.Run("AboveCap", func(t *testing.T) {
		got, err := New(dtypes.Int64, symbolic.ConcreteShape(3)).WithElements(symbolic.IntElements(1, 2, 3), 2)
		require.NoError(t, err)
		require.False(t, got.HasElements())
		require.Equal(t, "[3]", got.Shape.String())
	})

	t.Run("HigherRankDropsElements", func(t *testing.T) {
		got, err := New(dtypes.Int64, symbolic.ConcreteShape(1, 1)).WithElements(symbolic.IntElements(1), DefaultElementCap)
		require.NoError(t, err)
		require.False(t, got.HasElements())
	})

	t.Run("Scalar", func(t *testing.T) {
		got, err := New(dtypes.Int32, symbolic.ScalarShape()).WithElements(symbolic.IntElements(7), DefaultElementCap)
		require.NoError(t, err)
		require.Equal(t, symbolic.IntElement(7), got.Element(0))
		_, err = New(dtypes.Int32, symbolic.ScalarShape()).WithElements(symbolic.IntElements(7, 8), DefaultElementCap)
		require.Error(t, err)
	})

	t.Run("CastsToDType", func(t *testing.T) {
		got, err := New(dtypes.Float32, symbolic.ConcreteShape(1)).WithElements(symbolic.IntElements(2), DefaultElementCap)
		require.NoError(t, err)
		require.Equal(t, symbolic.FloatElement(2), got.Element(0))
	})
}

func TestElementsOrUnknown(t *testing.T) {
	elements, ok := New(dtypes.Int64, symbolic.ConcreteShape(3)).ElementsOrUnknown(DefaultElementCap)
	require.True(t, ok)
	require.Equal(t, []symbolic.Element{symbolic.UnknownElement(), symbolic.UnknownElement(), symbolic.UnknownElement()}, elements)

	elements, ok = New(dtypes.Int64, symbolic.ScalarShape()).ElementsOrUnknown(DefaultElementCap)
	require.True(t, ok)
	require.Len(t, elements, 1)

	_, ok = New(dtypes.Int64, symbolic.MakeShape(symbolic.Param("N"))).ElementsOrUnknown(DefaultElementCap)
	require.False(t, ok)
	_, ok = New(dtypes.Int64, symbolic.ConcreteShape(100)).ElementsOrUnknown(DefaultElementCap)
	require.False(t, ok)
	_, ok = New(dtypes.Int64, symbolic.ConcreteShape(2, 2)).ElementsOrUnknown(DefaultElementCap)
	require.False(t, ok)
}

func TestTensorAccessors(t *testing.T) {
	x := FromElements(dtypes.Int64, []symbolic.Element{symbolic.ParamElement("N"), symbolic.IntElement(3)}, DefaultElementCap)
	assert.Equal(t, "Int64[2]{N, 3}", x.String())
	assert.False(t, x.IsFullyResolved())
	_, ok := x.Ints()
	assert.False(t, ok)
	assert.Equal(t, symbolic.UnknownElement(), x.Element(5))

	y := FromInts(dtypes.Int64, 2, 3)
	assert.True(t, y.IsFullyResolved())

	// Clone is independent.
	clone := y.Clone()
	clone.Shape = symbolic.ConcreteShape(5)
	assert.Equal(t, "[2]", y.Shape.String())

	elements, _ := y.Elements()
	elements[0] = symbolic.IntElement(100)
	assert.Equal(t, symbolic.IntElement(2), y.Element(0))

	assert.Equal(t, symbolic.IntElement(9), ElementAt(symbolic.IntElements(9), 3))
	assert.Equal(t, symbolic.IntElement(8), ElementAt(symbolic.IntElements(7, 8), 1))
}

func TestPromoteDTypes(t *testing.T) {
	dtype, err := PromoteDTypes(PromotionConfig{}, dtypes.Float32, dtypes.Float32)
	require.NoError(t, err)
	require.Equal(t, dtypes.Float32, dtype)

	_, err = PromoteDTypes(PromotionConfig{}, dtypes.Float32, dtypes.Float32, dtypes.Int64)
	var typeErr *symbolic.TypeError
	require.ErrorAs(t, err, &typeErr)
	require.Equal(t, 2, typeErr.Input)

	dtype, err = PromoteDTypes(PromotionConfig{AllowPromotion: true}, dtypes.Int64, dtypes.Float16, dtypes.Int32)
	require.NoError(t, err)
	require.Equal(t, dtypes.Float16, dtype)

	dtype, err = PromoteDTypes(PromotionConfig{AllowPromotion: true}, dtypes.Float16, dtypes.Float32)
	require.NoError(t, err)
	require.Equal(t, dtypes.Float32, dtype)

	dtype, err = PromoteDTypes(PromotionConfig{AllowPromotion: true, PrioritizeFloat16: true}, dtypes.Float16, dtypes.Float32)
	require.NoError(t, err)
	require.Equal(t, dtypes.Float16, dtype)
}
