package graph

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/support/sets"
)

// Provenance tells where the element values of a Value come from. Higher values are less static.
type Provenance int

const (
	// ProvenanceUnknown is returned for values not created by the Builder.
	ProvenanceUnknown Provenance = iota

	// ProvenanceConstant values depend only on constants: they are known at graph building time.
	ProvenanceConstant

	// ProvenanceInputShape values depend on the dimensions of inputs (e.g. the result of Shape), and are
	// known once the input dimensions are bound (see Model.ValidateInputs).
	ProvenanceInputShape

	// ProvenanceDataDependent values depend on the contents of input tensors.
	ProvenanceDataDependent
)

// String returns a human-readable name for the provenance.
func (p Provenance) String() string {
	switch p {
	case ProvenanceUnknown:
		return "unknown"
	case ProvenanceConstant:
		return "constant"
	case ProvenanceInputShape:
		return "input_shape"
	case ProvenanceDataDependent:
		return "data_dependent"
	default:
		return "invalid"
	}
}

// dataDependentOps are the operators whose outputs depend on tensor contents in ways shape inference can't
// follow: their output shapes depend on values, or their outputs are random.
var dataDependentOps = sets.MakeWith("NonZero", "Compress", "TopK", "RandomNormalLike", "RandomUniformLike")

// shapeOps are the operators whose outputs depend only on the shape of their input.
var shapeOps = sets.MakeWith("Shape", "Size")

// IsDataDependentOp returns whether the operator produces values (or shapes) that depend on tensor contents.
func IsDataDependentOp(op string) bool { return dataDependentOps.Has(op) }

// postOrder calls fn for root and all its predecessors, predecessors first, each node once.
// If skip is given, the predecessors of the nodes for which it returns true are not visited.
func (b *Builder) postOrder(root NodeId, skip func(n *Node) bool, fn func(n *Node)) {
	visited := sets.Make[NodeId]()
	expanded := sets.Make[NodeId]()
	stack := []NodeId{root}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		if visited.Has(id) {
			stack = stack[:len(stack)-1]
			continue
		}
		n := b.nodes[id]
		if expanded.Has(id) || (skip != nil && skip(n)) {
			stack = stack[:len(stack)-1]
			visited.Insert(id)
			fn(n)
			continue
		}
		expanded.Insert(id)
		for ii := len(n.inputs) - 1; ii >= 0; ii-- {
			if v := n.inputs[ii]; v != nil && !visited.Has(v.node) {
				stack = append(stack, v.node)
			}
		}
	}
}

// owns returns whether v is a valid value created by b.
func (b *Builder) owns(v *Value) bool {
	return v != nil && v.builder == b && int(v.node) < len(b.nodes)
}

// Provenance returns where the element values of v come from.
func (b *Builder) Provenance(v *Value) Provenance {
	if !b.owns(v) {
		return ProvenanceUnknown
	}
	provenance := make(map[NodeId]Provenance)

	// shapeFromData marks nodes whose output shapes may depend on tensor contents.
	shapeFromData := sets.Make[NodeId]()
	b.postOrder(v.node, nil, func(n *Node) {
		p := ProvenanceConstant
		switch {
		case n.kind == KindInput:
			p = ProvenanceDataDependent
		case n.kind == KindConstant:
		case n.kind == KindOperation && dataDependentOps.Has(n.Op()):
			p = ProvenanceDataDependent
			shapeFromData.Insert(n.id)
		case n.kind == KindOperation && shapeOps.Has(n.Op()):
			input := n.inputs[0]
			switch {
			case input.tensor.Shape.IsConcrete():
			case shapeFromData.Has(input.node):
				p = ProvenanceDataDependent
			default:
				p = ProvenanceInputShape
			}
		default:
			for _, input := range n.inputs {
				if input == nil {
					continue
				}
				p = max(p, provenance[input.node])
				if shapeFromData.Has(input.node) {
					shapeFromData.Insert(n.id)
				}
			}
		}
		if n.kind == KindOperation && p > ProvenanceConstant && n.resolved() {
			p = ProvenanceConstant
		}
		provenance[n.id] = p
	})
	return provenance[v.node]
}

// resolved returns whether all outputs of the node have fully resolved elements.
func (n *Node) resolved() bool {
	for _, t := range n.outputs {
		if !t.IsFullyResolved() {
			return false
		}
	}
	return len(n.outputs) > 0
}

// Dependencies returns the names of the inputs whose contents v depends on, in declaration order.
//
// Dependencies through operators that only use the shape of their input (Shape and Size) are not included:
// input shapes are fixed for a given Model execution.
func (b *Builder) Dependencies(v *Value) []string {
	if !b.owns(v) {
		return nil
	}
	var inputs []NodeId
	b.postOrder(v.node, func(n *Node) bool { return shapeOps.Has(n.Op()) }, func(n *Node) {
		if n.kind == KindInput {
			inputs = append(inputs, n.id)
		}
	})
	slices.Sort(inputs)
	names := make([]string, len(inputs))
	for ii, id := range inputs {
		names[ii] = b.nodes[id].name
	}
	return names
}

// IsConstantExpression returns whether v can be computed without the contents of any input: it depends only
// on constants and on input shapes, and not on random operators.
func (b *Builder) IsConstantExpression(v *Value) bool {
	if !b.owns(v) || len(b.Dependencies(v)) > 0 {
		return false
	}
	random := false
	b.postOrder(v.node, nil, func(n *Node) {
		random = random || n.Op() == "RandomNormalLike" || n.Op() == "RandomUniformLike"
	})
	return !random
}
