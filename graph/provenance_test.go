package graph

import (
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/onnx-builder/ops"
	"github.com/gomlx/onnx-builder/symbolic"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
)

func TestProvenance(t *testing.T) {
	b := New()
	dynamic := b.Input("dynamic", dtypes.Float32, symbolic.MakeShape(symbolic.Param("batch"), symbolic.Value(4)))
	static := b.Input("static", dtypes.Float32, symbolic.ConcreteShape(2, 4))
	ids := b.Input("ids", dtypes.Int64, symbolic.ConcreteShape(3))
	one := must.M1(b.ConstantScalar(dtypes.Int64, 1))

	dynamicShape := must.M1(b.Apply1("Shape", nil, dynamic))
	staticShape := must.M1(b.Apply1("Shape", nil, static))
	nonZero := must.M1(b.Apply1("NonZero", nil, ids))
	nonZeroShape := must.M1(b.Apply1("Shape", nil, nonZero))
	sum := must.M1(b.Apply1("Add", nil, ids, one))
	shapePlusOne := must.M1(b.Apply1("Add", nil, dynamicShape, one))

	tests := []struct {
		name string
		v    *Value
		want Provenance
	}{
		{"input", dynamic, ProvenanceDataDependent},
		{"constant", one, ProvenanceConstant},
		{"shape of dynamic input", dynamicShape, ProvenanceInputShape},
		{"shape of static input", staticShape, ProvenanceConstant},
		{"data dependent op", nonZero, ProvenanceDataDependent},
		{"shape of data dependent op", nonZeroShape, ProvenanceDataDependent},
		{"arithmetic on input contents", sum, ProvenanceDataDependent},
		{"arithmetic on input shape", shapePlusOne, ProvenanceInputShape},
		{"foreign value", New().Input("x", dtypes.Float32, symbolic.ScalarShape()), ProvenanceUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, b.Provenance(tc.v))
		})
	}
	assert.Equal(t, "input_shape", ProvenanceInputShape.String())
	assert.True(t, IsDataDependentOp("NonZero"))
	assert.False(t, IsDataDependentOp("Add"))
}

func TestDependencies(t *testing.T) {
	b := New()
	x := b.Input("x", dtypes.Float32, symbolic.MakeShape(symbolic.Param("N"), symbolic.Value(3)))
	y := b.Input("y", dtypes.Float32, symbolic.ConcreteShape(3))
	z := b.Input("z", dtypes.Float32, symbolic.ConcreteShape(3))

	shape := must.M1(b.Apply1("Shape", nil, x))
	ones := must.M1(b.Apply1("ConstantOfShape", ops.Attributes{"value": 1.0}, shape))
	assert.Empty(t, b.Dependencies(ones))
	assert.True(t, b.IsConstantExpression(ones))

	zy := must.M1(b.Apply1("Mul", nil, z, y))
	xzy := must.M1(b.Apply1("Add", nil, x, zy))
	assert.Equal(t, []string{"x", "y", "z"}, b.Dependencies(xzy))
	assert.False(t, b.IsConstantExpression(xzy))

	random := must.M1(b.Apply1("RandomUniformLike", nil, ones))
	assert.Empty(t, b.Dependencies(random))
	assert.False(t, b.IsConstantExpression(random))
}
