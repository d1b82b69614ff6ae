package ops

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/onnx-builder/partial"
	"github.com/gomlx/onnx-builder/symbolic"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helpers shared by the package tests.

func tensor(dtype dtypes.DType, dims ...symbolic.Dim) *partial.Tensor {
	return partial.New(dtype, symbolic.MakeShape(dims...))
}

func floats(sizes ...int) *partial.Tensor {
	return partial.New(dtypes.Float32, symbolic.ConcreteShape(sizes...))
}

func ints(values ...int64) *partial.Tensor { return partial.FromInts(dtypes.Int64, values...) }

func scalarInt(v int64) *partial.Tensor {
	return partial.Scalar(dtypes.Int64, symbolic.IntElement(v))
}

func inferOp(t *testing.T, op string, attrs Attributes, inputs ...*partial.Tensor) []*partial.Tensor {
	t.Helper()
	outputs, err := inferOpErr(op, attrs, inputs...)
	require.NoError(t, err)
	return outputs
}

func inferOpErr(op string, attrs Attributes, inputs ...*partial.Tensor) ([]*partial.Tensor, error) {
	c, found := Default.Lookup(op)
	if !found {
		return nil, errors.Errorf("operator %q not registered", op)
	}
	return Infer(c, NewInferContext(op, attrs), inputs)
}

func inferShapeOf(t *testing.T, op string, attrs Attributes, inputs ...*partial.Tensor) string {
	t.Helper()
	return inferOp(t, op, attrs, inputs...)[0].Shape.String()
}

func elementsOf(t *testing.T, tensor *partial.Tensor) []int64 {
	t.Helper()
	values, ok := tensor.Ints()
	require.Truef(t, ok, "elements of %s are not all known", tensor)
	return values
}

func TestArity(t *testing.T) {
	assert.True(t, Fixed(2).Accepts(2))
	assert.False(t, Fixed(2).Accepts(3))
	assert.True(t, Optional(1, 3).Accepts(1))
	assert.False(t, Optional(1, 3).Accepts(4))
	assert.True(t, Variadic(1).Accepts(10))
	assert.False(t, Variadic(1).Accepts(0))
	assert.Equal(t, "2", Fixed(2).String())
	assert.Equal(t, "1 to 3", Optional(1, 3).String())
	assert.Equal(t, "1 or more", Variadic(1).String())
}

func TestRegistry(t *testing.T) {
	for _, name := range []string{"Add", "Reshape", "Shape", "Gather", "Conv", "MaxPool", "Einsum", "TopK"} {
		_, found := Default.Lookup(name)
		assert.Truef(t, found, "operator %q not in the default registry", name)
	}
	names := Default.Names()
	require.Len(t, names, Default.Len())
	require.IsIncreasing(t, names)

	r := NewRegistry()
	require.Equal(t, 0, r.Len())
	identity := &Contract{Name: "MyIdentity", Arity: Fixed(1), Outputs: 1,
		Infer: func(_ *InferContext, inputs []*partial.Tensor) []*partial.Tensor { return single(inputs[0].Clone()) }}
	require.NoError(t, r.Register(identity))
	require.Error(t, r.Register(identity), "duplicate registration")
	require.Error(t, r.Register(&Contract{Name: "NoInfer", Arity: Fixed(1), Outputs: 1}))
	require.Error(t, r.Register(&Contract{Name: "NoOutputs", Arity: Fixed(1), Infer: identity.Infer}))
	require.Error(t, r.Register(&Contract{Name: "BadArity", Arity: Optional(3, 1), Outputs: 1, Infer: identity.Infer}))
	require.Panics(t, func() { r.MustRegister(identity) })
	c, found := r.Lookup("MyIdentity")
	require.True(t, found)
	require.Same(t, identity, c)
}

func TestInfer(t *testing.T) {
	add, _ := Default.Lookup("Add")

	t.Run("WrongArity", func(t *testing.T) {
		_, err := Infer(add, nil, []*partial.Tensor{floats(2)})
		var arityErr *ArityError
		require.ErrorAs(t, err, &arityErr)
		assert.Equal(t, "Add", arityErr.Op)
		assert.Equal(t, "inputs", arityErr.What)
		assert.Equal(t, 1, arityErr.Got)
	})

	t.Run("AbsentRequiredInput", func(t *testing.T) {
		_, err := Infer(add, nil, []*partial.Tensor{floats(2), nil})
		var arityErr *ArityError
		require.ErrorAs(t, err, &arityErr)
		assert.Equal(t, "input #1", arityErr.What)
	})

	t.Run("MissingAttribute", func(t *testing.T) {
		_, err := inferOpErr("Concat", nil, floats(2), floats(3))
		var arityErr *ArityError
		require.ErrorAs(t, err, &arityErr)
		assert.Equal(t, "Concat", arityErr.Op)
		assert.Contains(t, arityErr.What, "axis")
	})

	t.Run("WrongOutputCount", func(t *testing.T) {
		broken := &Contract{Name: "Broken", Arity: Fixed(1), Outputs: 2,
			Infer: func(_ *InferContext, inputs []*partial.Tensor) []*partial.Tensor { return single(inputs[0]) }}
		_, err := Infer(broken, nil, []*partial.Tensor{floats(1)})
		require.ErrorContains(t, err, "!?")
	})

	t.Run("OutputsFromAttributes", func(t *testing.T) {
		split, _ := Default.Lookup("Split")
		assert.Equal(t, 3, split.NumOutputs(Attributes{"num_outputs": 3}))
		assert.Equal(t, 2, split.NumOutputs(Attributes{"split": []int64{1, 2}}))
		assert.Equal(t, 1, split.NumOutputs(nil))
	})
}

func TestAttributes(t *testing.T) {
	attrs := Attributes{
		"i":      int64(3),
		"list":   []int64{1, -1},
		"f":      float32(0.5),
		"s":      "SAME_UPPER",
		"b":      1,
		"dtype":  dtypes.Int32,
		"wrong":  "not an int",
		"floats": []float32{1, 2},
	}
	assert.Equal(t, 3, attrs.Int("i"))
	assert.Equal(t, 7, attrs.IntOr("missing", 7))
	assert.Equal(t, []int{1, -1}, attrs.Ints("list"))
	assert.Equal(t, []int{3}, attrs.Ints("i"))
	assert.Equal(t, 0.5, attrs.FloatOr("f", 0))
	assert.Equal(t, []float64{1, 2}, attrs.FloatsOr("floats", nil))
	assert.Equal(t, "SAME_UPPER", attrs.String("s"))
	assert.Equal(t, "NOTSET", attrs.StringOr("auto_pad", "NOTSET"))
	assert.True(t, attrs.BoolOr("b", false))
	assert.Equal(t, dtypes.Int32, attrs.DType("dtype"))
	assert.Equal(t, dtypes.Float32, attrs.DTypeOr("to", dtypes.Float32))
	require.Panics(t, func() { attrs.Int("wrong") })
	require.Panics(t, func() { attrs.Int("missing") })

	clone := attrs.Clone()
	clone["i"] = 4
	assert.Equal(t, 3, attrs.Int("i"))
}

type fakeBuffer struct {
	dtype dtypes.DType
	dims  []int
}

func (b *fakeBuffer) DType() dtypes.DType { return b.dtype }
func (b *fakeBuffer) Dims() []int         { return b.dims }

type fakeBackend struct {
	executed []string
	outputs  int
}

func (f *fakeBackend) Execute(op string, _ Attributes, inputs []Buffer) ([]Buffer, error) {
	f.executed = append(f.executed, op)
	outputs := make([]Buffer, f.outputs)
	for ii := range outputs {
		outputs[ii] = inputs[0]
	}
	return outputs, nil
}

func TestRun(t *testing.T) {
	add, _ := Default.Lookup("Add")
	x := &fakeBuffer{dtype: dtypes.Float32, dims: []int{2}}

	backend := &fakeBackend{outputs: 1}
	outputs, err := add.Run(backend, nil, []Buffer{x, x})
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, []string{"Add"}, backend.executed)

	_, err = add.Run(nil, nil, []Buffer{x, x})
	require.Error(t, err)

	_, err = add.Run(&fakeBackend{outputs: 2}, nil, []Buffer{x, x})
	require.ErrorContains(t, err, "2 outputs")

	custom := &Contract{Name: "Custom", Arity: Fixed(1), Outputs: 1,
		Infer: func(_ *InferContext, inputs []*partial.Tensor) []*partial.Tensor { return single(inputs[0]) },
		Execute: func(_ Backend, _ Attributes, inputs []Buffer) ([]Buffer, error) {
			return inputs, nil
		}}
	outputs, err = custom.Run(backend, nil, []Buffer{x})
	require.NoError(t, err)
	require.Same(t, x, outputs[0].(*fakeBuffer))
	assert.Equal(t, []string{"Add"}, backend.executed, "custom hook must not call the backend")
}
