package graph

import (
	"fmt"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/onnx-builder/ops"
	"github.com/gomlx/onnx-builder/partial"
	"github.com/gomlx/onnx-builder/symbolic"
)

// NodeId is the index of a node in its Builder's arena.
type NodeId int

// InvalidNodeId indicates a node that was never created.
const InvalidNodeId = NodeId(-1)

// NodeKind is the kind of a graph node.
type NodeKind int

const (
	KindInvalid NodeKind = iota
	KindInput
	KindConstant
	KindOperation
	KindOutput
)

// String implements fmt.Stringer.
func (k NodeKind) String() string {
	switch k {
	case KindInput:
		return "Input"
	case KindConstant:
		return "Constant"
	case KindOperation:
		return "Operation"
	case KindOutput:
		return "Output"
	default:
		return "Invalid"
	}
}

// IdentityOp is the operator used to turn Input and Constant values into Operation outputs when they are
// declared directly as outputs.
const IdentityOp = "Identity"

// Node is one node of the graph, owned by its Builder. Nodes are immutable once created.
type Node struct {
	id   NodeId
	kind NodeKind

	// name of Input and Output nodes.
	name string

	// data is the raw payload of Constant nodes.
	data []byte

	// contract and attrs of Operation nodes.
	contract *ops.Contract
	attrs    ops.Attributes

	// inputs are private copies of the consumed values. Absent optional inputs are nil.
	inputs []*Value

	// outputs are the inferred Partial Tensors of each output. Output nodes have none.
	outputs []*partial.Tensor
}

// Id of the node within its Builder.
func (n *Node) Id() NodeId { return n.id }

// Kind of the node.
func (n *Node) Kind() NodeKind { return n.kind }

// Name of Input and Output nodes, empty for other kinds.
func (n *Node) Name() string { return n.name }

// Op returns the operator name of Operation nodes, empty for other kinds.
func (n *Node) Op() string {
	if n.contract == nil {
		return ""
	}
	return n.contract.Name
}

// NumOutputs returns the number of values produced by the node.
func (n *Node) NumOutputs() int { return len(n.outputs) }

// String implements fmt.Stringer.
func (n *Node) String() string {
	switch n.kind {
	case KindInput:
		return fmt.Sprintf("#%d Input(%q) -> %s", n.id, n.name, n.outputs[0])
	case KindConstant:
		return fmt.Sprintf("#%d Constant(%d bytes) -> %s", n.id, len(n.data), n.outputs[0])
	case KindOperation:
		inputs := make([]string, len(n.inputs))
		for ii, v := range n.inputs {
			if v == nil {
				inputs[ii] = "_"
			} else {
				inputs[ii] = fmt.Sprintf("#%d:%d", v.node, v.output)
			}
		}
		outputs := make([]string, len(n.outputs))
		for ii, t := range n.outputs {
			outputs[ii] = t.String()
		}
		return fmt.Sprintf("#%d %s(%s) -> %s", n.id, n.Op(), strings.Join(inputs, ", "), strings.Join(outputs, ", "))
	case KindOutput:
		return fmt.Sprintf("#%d Output(%q) <- #%d:%d", n.id, n.name, n.inputs[0].node, n.inputs[0].output)
	}
	return fmt.Sprintf("#%d Invalid", n.id)
}

// Value is a handle to one output of a graph node, carrying its inferred Partial Tensor.
//
// A Value is immutable once returned by the Builder, and may be consumed by any number of operations:
// each consuming node keeps its own copy.
type Value struct {
	builder *Builder
	node    NodeId
	output  int
	tensor  *partial.Tensor
}

// clone returns a copy of v that shares nothing mutable with it.
func (v *Value) clone() *Value {
	if v == nil {
		return nil
	}
	c := *v
	c.tensor = v.tensor.Clone()
	return &c
}

// Builder that created the value.
func (v *Value) Builder() *Builder { return v.builder }

// Node returns the id of the node producing the value.
func (v *Value) Node() NodeId { return v.node }

// OutputIndex returns which output of its node the value is.
func (v *Value) OutputIndex() int { return v.output }

// Tensor returns a copy of the value's Partial Tensor.
func (v *Value) Tensor() *partial.Tensor { return v.tensor.Clone() }

// Shape returns the inferred shape.
func (v *Value) Shape() symbolic.Shape { return v.tensor.Shape.Clone() }

// DType returns the inferred dtype.
func (v *Value) DType() dtypes.DType { return v.tensor.DType }

// Rank returns the inferred rank, or -1 if unknown.
func (v *Value) Rank() int { return v.tensor.Rank() }

// Elements returns the inferred elements, if tracked.
func (v *Value) Elements() ([]symbolic.Element, bool) { return v.tensor.Elements() }

// String implements fmt.Stringer.
func (v *Value) String() string {
	if v == nil {
		return "Value(nil)"
	}
	return fmt.Sprintf("#%d:%d %s", v.node, v.output, v.tensor)
}
