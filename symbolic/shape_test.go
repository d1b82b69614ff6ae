package symbolic

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeclareRank(t *testing.T) {
	s := UnknownShape()
	require.False(t, s.HasRank())
	require.Equal(t, -1, s.Rank())

	require.NoError(t, s.DeclareRank(3))
	require.Equal(t, 3, s.Rank())
	require.Equal(t, []Dim{Unknown(), Unknown(), Unknown()}, s.Dims())

	// Same rank is a no-op.
	require.NoError(t, s.DeclareRank(3))

	// Conflicting rank.
	err := s.DeclareRank(2)
	var rankErr *RankError
	require.ErrorAs(t, err, &rankErr)
	require.Equal(t, 2, rankErr.Want)
	require.Equal(t, 3, rankErr.Got)
	require.Equal(t, 3, s.Rank())
}

func TestNormalizeAxis(t *testing.T) {
	s := ConcreteShape(2, 3, 4)
	axis, err := s.NormalizeAxis(-1)
	require.NoError(t, err)
	require.Equal(t, 2, axis)

	axis, err = s.NormalizeAxis(1)
	require.NoError(t, err)
	require.Equal(t, 1, axis)

	_, err = s.NormalizeAxis(3)
	require.ErrorAs(t, err, new(*AxisError))
	_, err = s.NormalizeAxis(-4)
	require.ErrorAs(t, err, new(*AxisError))

	_, err = UnknownShape().NormalizeAxis(0)
	require.ErrorAs(t, err, new(*RankError))
}

func TestBroadcastShapes(t *testing.T) {
	testCases := []struct {
		name   string
		shapes []Shape
		want   Shape
	}{
		{"Same", []Shape{ConcreteShape(2, 3), ConcreteShape(2, 3)}, ConcreteShape(2, 3)},
		{"LeftPadding", []Shape{ConcreteShape(4, 2, 3), ConcreteShape(3)}, ConcreteShape(4, 2, 3)},
		{"Ones", []Shape{ConcreteShape(4, 1), ConcreteShape(1, 5)}, ConcreteShape(4, 5)},
		{"Scalar", []Shape{ScalarShape(), ConcreteShape(2, 3)}, ConcreteShape(2, 3)},
		{"Params", []Shape{MakeShape(Param("N"), Value(3)), MakeShape(Param("N"), Value(1))}, MakeShape(Param("N"), Value(3))},
		{"UnknownRank", []Shape{UnknownShape(), ConcreteShape(2)}, UnknownShape()},
		{"Single", []Shape{MakeShape(Param("N"), Unknown())}, MakeShape(Param("N"), Unknown())},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := BroadcastShapes(tc.shapes...)
			require.NoError(t, err)
			require.True(t, tc.want.Equal(got), "want %s, got %s", tc.want, got)
		})
	}

	t.Run("Mismatch", func(t *testing.T) {
		_, err := BroadcastShapes(ConcreteShape(5, 2), ConcreteShape(3))
		var shapeErr *ShapeError
		require.ErrorAs(t, err, &shapeErr)
		require.Equal(t, 1, shapeErr.Axis)
	})

	t.Run("MismatchWithUnknownRank", func(t *testing.T) {
		_, err := BroadcastShapes(ConcreteShape(2), ConcreteShape(3), UnknownShape())
		require.ErrorAs(t, err, new(*ShapeError))
	})
}

func TestBroadcastShapesOrder(t *testing.T) {
	conflicting := []Shape{MakeShape(Unknown()), ConcreteShape(3), ConcreteShape(2)}
	compatible := []Shape{MakeShape(Param("N")), ConcreteShape(1, 1), MakeShape(Param("N"))}
	permutations := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, perm := range permutations {
		t.Run(fmt.Sprint(perm), func(t *testing.T) {
			shapes := []Shape{conflicting[perm[0]], conflicting[perm[1]], conflicting[perm[2]]}
			_, err := BroadcastShapes(shapes...)
			var shapeErr *ShapeError
			require.ErrorAs(t, err, &shapeErr)
			require.Equal(t, 0, shapeErr.Axis)

			shapes = []Shape{compatible[perm[0]], compatible[perm[1]], compatible[perm[2]]}
			got, err := BroadcastShapes(shapes...)
			require.NoError(t, err)
			require.Equal(t, "[1, N]", got.String())

			shapes = []Shape{ConcreteShape(3), MakeShape(Unknown()), ConcreteShape(1)}
			got, err = BroadcastShapes(shapes[perm[0]], shapes[perm[1]], shapes[perm[2]])
			require.NoError(t, err)
			require.Equal(t, "[?]", got.String())
		})
	}
}

func TestMerge(t *testing.T) {
	merged, err := MakeShape(Param("N"), Unknown()).Merge(MakeShape(Unknown(), Value(3)))
	require.NoError(t, err)
	require.Equal(t, "[N, 3]", merged.String())

	merged, err = UnknownShape().Merge(ConcreteShape(2))
	require.NoError(t, err)
	require.Equal(t, "[2]", merged.String())

	_, err = ConcreteShape(2).Merge(ConcreteShape(2, 3))
	require.ErrorAs(t, err, new(*RankError))

	_, err = ConcreteShape(2, 3).Merge(ConcreteShape(2, 4))
	var shapeErr *ShapeError
	require.ErrorAs(t, err, &shapeErr)
	require.Equal(t, 1, shapeErr.Axis)
}

func TestShapeAccessors(t *testing.T) {
	s := MakeShape(Param("N"), Value(3), Unknown())
	assert.Equal(t, "[N, 3, ?]", s.String())
	assert.Equal(t, "[*]", UnknownShape().String())
	assert.Equal(t, "[]", ScalarShape().String())
	assert.True(t, ScalarShape().IsScalar())
	assert.Equal(t, Value(3), s.Dim(-2))
	assert.Equal(t, Unknown(), s.Size())
	assert.Equal(t, Value(24), ConcreteShape(2, 3, 4).Size())
	assert.Equal(t, Value(1), ScalarShape().Size())

	sizes, ok := ConcreteShape(2, 3).Concrete()
	require.True(t, ok)
	assert.Equal(t, []int{2, 3}, sizes)
	_, ok = s.Concrete()
	assert.False(t, ok)

	// Dims returns a copy.
	dims := s.Dims()
	dims[0] = Value(7)
	assert.Equal(t, Param("N"), s.Dim(0))

	changed := s.WithDim(2, Value(5))
	assert.Equal(t, "[N, 3, 5]", changed.String())
	assert.Equal(t, "[N, 3, ?]", s.String())

	assert.Panics(t, func() { UnknownShape().Dim(0) })
}

func TestBindings(t *testing.T) {
	s := MakeShape(Param("batch"), Value(3), Param("seq"))
	bindings := make(Bindings)
	require.NoError(t, s.Bind([]int{5, 3, 7}, bindings))
	require.Equal(t, Bindings{"batch": 5, "seq": 7}, bindings)
	require.Equal(t, "batch=5,seq=7", bindings.Key())
	require.Equal(t, []string{"batch", "seq"}, s.Params())

	resolved := s.Resolve(bindings)
	sizes, ok := resolved.Concrete()
	require.True(t, ok)
	require.Equal(t, []int{5, 3, 7}, sizes)

	// Conflicting binding for "batch".
	require.Error(t, MakeShape(Param("batch")).Bind([]int{6}, bindings))
	// Fixed dimension not matching.
	require.ErrorAs(t, s.Bind([]int{5, 4, 7}, make(Bindings)), new(*ShapeError))
	// Wrong rank.
	require.ErrorAs(t, s.Bind([]int{5, 3}, make(Bindings)), new(*RankError))

	require.Error(t, bindings.Merge(Bindings{"seq": 8}))
	require.NoError(t, bindings.Merge(Bindings{"seq": 7, "hidden": 16}))
	require.Equal(t, 16, bindings["hidden"])
}
