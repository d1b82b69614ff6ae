// Package graph builds lazy symbolic tensor graphs and linearizes them into Models.
//
// A Builder is used to declare inputs and constants, apply operators (see package ops) to the values they
// produce, and mark some values as outputs. Every application runs the operator's inference immediately, so
// each Value carries the shape, dtype and, for small integer tensors, the element values that can be derived
// from the graph structure alone. No numeric computation ever happens here.
//
// Build then walks the graph backwards from the outputs and emits a Model: a flat list of records, each
// addressing the tensors it consumes by dense slot indices.
//
// A Builder is not safe for concurrent use. Independent builders share no mutable state.
package graph

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/onnx-builder/internal/decode"
	"github.com/gomlx/onnx-builder/ops"
	"github.com/gomlx/onnx-builder/partial"
	"github.com/gomlx/onnx-builder/symbolic"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Builder accumulates the nodes of a graph.
type Builder struct {
	nodes   []*Node
	inputs  []NodeId
	outputs []NodeId

	registry   *ops.Registry
	elementCap int
	promotion  partial.PromotionConfig
}

// Option configures a Builder.
type Option func(b *Builder)

// WithElementCap sets the maximum number of elements tracked per tensor (default partial.DefaultElementCap).
// A cap of 0 disables element tracking, except for scalars created directly as constants.
func WithElementCap(elementCap int) Option {
	return func(b *Builder) { b.elementCap = max(elementCap, 0) }
}

// WithRegistry sets the operator registry used by Apply (default ops.Default).
func WithRegistry(registry *ops.Registry) Option {
	return func(b *Builder) { b.registry = registry }
}

// WithDTypePromotion configures the handling of mismatching operand dtypes. By default, they are an error.
func WithDTypePromotion(config partial.PromotionConfig) Option {
	return func(b *Builder) { b.promotion = config }
}

// New creates a new empty graph Builder.
func New(options ...Option) *Builder {
	b := &Builder{
		registry:   ops.Default,
		elementCap: partial.DefaultElementCap,
	}
	for _, option := range options {
		option(b)
	}
	return b
}

// NumNodes returns the number of nodes created so far, including those unreachable from any output.
func (b *Builder) NumNodes() int { return len(b.nodes) }

// Node returns the node with the given id, or nil if there is no such node.
func (b *Builder) Node(id NodeId) *Node {
	if id < 0 || int(id) >= len(b.nodes) {
		return nil
	}
	return b.nodes[id]
}

// InputNames returns the names of the inputs, in declaration order.
func (b *Builder) InputNames() []string {
	names := make([]string, len(b.inputs))
	for ii, id := range b.inputs {
		names[ii] = b.nodes[id].name
	}
	return names
}

func (b *Builder) newNode(n *Node) *Node {
	n.id = NodeId(len(b.nodes))
	b.nodes = append(b.nodes, n)
	return n
}

// value returns the handle for output i of node n.
func (b *Builder) value(n *Node, i int) *Value {
	return &Value{builder: b, node: n.id, output: i, tensor: n.outputs[i].Clone()}
}

// Input declares a graph input. Inputs are emitted first in the Model, in declaration order.
//
// The shape may hold Param dimensions (e.g. a dynamic batch axis), Unknown dimensions or an unknown rank.
func (b *Builder) Input(name string, dtype dtypes.DType, shape symbolic.Shape) *Value {
	n := b.newNode(&Node{
		kind:    KindInput,
		name:    name,
		outputs: []*partial.Tensor{partial.New(dtype, shape)},
	})
	b.inputs = append(b.inputs, n.id)
	klog.V(2).Infof("graph: input %q %s", name, n.outputs[0])
	return b.value(n, 0)
}

// Constant declares a constant with the raw little-endian payload given.
//
// The payload size must match dtype and dims exactly. The payload is kept opaque, except for scalars and
// 1-D constants within the element cap, whose elements are decoded.
func (b *Builder) Constant(raw []byte, dtype dtypes.DType, dims ...int) (*Value, error) {
	size, err := decode.Size(dtype, dims...)
	if err != nil {
		return nil, errors.WithMessagef(err, "Constant(%s%v)", dtype, dims)
	}
	if size != len(raw) {
		return nil, errors.Errorf("Constant(%s%v) needs %d bytes of data, got %d", dtype, dims, size, len(raw))
	}
	tensor := partial.New(dtype, symbolic.ConcreteShape(dims...))
	count, elementCap := 1, max(b.elementCap, 1)
	if len(dims) == 1 {
		count, elementCap = dims[0], b.elementCap
	}
	if len(dims) <= 1 && count <= elementCap {
		elements, err := decode.Elements(raw, dtype, count)
		if err != nil {
			return nil, errors.WithMessagef(err, "Constant(%s%v)", dtype, dims)
		}
		tensor, err = tensor.WithElements(elements, elementCap)
		if err != nil {
			return nil, err
		}
	}
	n := b.newNode(&Node{
		kind:    KindConstant,
		data:    slices.Clone(raw),
		outputs: []*partial.Tensor{tensor},
	})
	klog.V(2).Infof("graph: constant %s", tensor)
	return b.value(n, 0), nil
}

// ConstantInts declares a 1-D constant with the given integer values (dtype must be an integer or Bool).
func (b *Builder) ConstantInts(dtype dtypes.DType, values ...int64) (*Value, error) {
	if !dtype.IsInt() && dtype != dtypes.Bool {
		return nil, errors.Errorf("ConstantInts requires an integer dtype, got %s", dtype)
	}
	raw, err := decode.Encode(dtype, symbolic.IntElements(values...))
	if err != nil {
		return nil, err
	}
	return b.Constant(raw, dtype, len(values))
}

// ConstantScalar declares a scalar constant of the given dtype with value v.
func (b *Builder) ConstantScalar(dtype dtypes.DType, v float64) (*Value, error) {
	e := symbolic.FloatElement(v)
	if !dtype.IsFloat() {
		e = symbolic.IntElement(int64(v))
	}
	raw, err := decode.Encode(dtype, []symbolic.Element{e})
	if err != nil {
		return nil, err
	}
	return b.Constant(raw, dtype)
}

// Apply applies the operator op to the inputs and returns one Value per operator output.
//
// Absent optional inputs are given as nil. The operator's inference runs immediately: arity, shape, dtype
// and arithmetic errors are returned here, and in that case no node is created.
func (b *Builder) Apply(op string, attrs ops.Attributes, inputs ...*Value) ([]*Value, error) {
	contract, found := b.registry.Lookup(op)
	if !found {
		return nil, errors.Errorf("operator %q is not registered", op)
	}
	nodeInputs := make([]*Value, len(inputs))
	tensors := make([]*partial.Tensor, len(inputs))
	for ii, v := range inputs {
		if v == nil {
			continue
		}
		if v.builder != b {
			return nil, errors.Errorf("%s: input #%d was created by a different graph builder", op, ii)
		}
		nodeInputs[ii] = v.clone()
		tensors[ii] = nodeInputs[ii].tensor.Clone()
	}
	ctx := &ops.InferContext{
		Op:         op,
		Attrs:      attrs.Clone(),
		ElementCap: b.elementCap,
		Promotion:  b.promotion,
	}
	outputs, err := ops.Infer(contract, ctx, tensors)
	if err != nil {
		klog.V(2).Infof("graph: %s failed: %v", op, err)
		return nil, err
	}
	n := b.newNode(&Node{
		kind:     KindOperation,
		contract: contract,
		attrs:    ctx.Attrs,
		inputs:   nodeInputs,
		outputs:  outputs,
	})
	klog.V(2).Infof("graph: %s", n)
	values := make([]*Value, len(outputs))
	for ii := range outputs {
		values[ii] = b.value(n, ii)
	}
	return values, nil
}

// Apply1 is like Apply for operators with a single output.
func (b *Builder) Apply1(op string, attrs ops.Attributes, inputs ...*Value) (*Value, error) {
	values, err := b.Apply(op, attrs, inputs...)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, errors.Errorf("Apply1(%q) used with an operator with %d outputs", op, len(values))
	}
	return values[0], nil
}

// Output declares v as a graph output with the given name.
//
// The output always consumes an Operation: if v is produced by an Input or a Constant, an Identity operation
// is inserted first.
func (b *Builder) Output(v *Value, name string) error {
	if v == nil {
		return errors.Errorf("Output(%q) given a nil value", name)
	}
	if v.builder != b {
		return errors.Errorf("Output(%q) given a value created by a different graph builder", name)
	}
	v, err := b.materialize(v)
	if err != nil {
		return errors.WithMessagef(err, "Output(%q)", name)
	}
	n := b.newNode(&Node{
		kind:   KindOutput,
		name:   name,
		inputs: []*Value{v.clone()},
	})
	b.outputs = append(b.outputs, n.id)
	klog.V(2).Infof("graph: %s", n)
	return nil
}

// materialize returns v if it is produced by an Operation, or an Identity of it otherwise.
func (b *Builder) materialize(v *Value) (*Value, error) {
	if b.nodes[v.node].kind == KindOperation {
		return v, nil
	}
	return b.Apply1(IdentityOp, nil, v)
}
