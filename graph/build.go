package graph

import (
	"fmt"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CycleError is returned by Build when the graph is not a DAG. It can only happen if node inputs are
// modified after construction.
type CycleError struct {
	// Node is the node found while it was still being visited.
	Node NodeId

	// Consumer is the node that refers back to Node.
	Consumer NodeId
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("graph has a cycle: node #%d consumes node #%d, which depends on it", e.Consumer, e.Node)
}

type visitState uint8

const (
	notVisited visitState = iota
	inProgress
	done
)

// linearizer holds the state of one Build.
type linearizer struct {
	b      *Builder
	state  []visitState
	slots  [][]int
	stack  []NodeId
	model  *Model
	nextID int
}

// Build linearizes the graph into a Model.
//
// Inputs are emitted first, in declaration order. Then, for each output in declaration order, every node
// it depends on that was not emitted yet, predecessors always before their consumers, with inputs visited
// left to right. Nodes not reachable from any output are not emitted.
//
// The traversal uses an explicit stack, so arbitrarily deep graphs are supported. Calling Build twice on
// an unchanged Builder yields identical Models.
func (b *Builder) Build() (*Model, error) {
	if len(b.outputs) == 0 {
		return nil, errors.New("Build called on a graph without outputs")
	}
	l := &linearizer{
		b:     b,
		state: make([]visitState, len(b.nodes)),
		slots: make([][]int, len(b.nodes)),
		model: &Model{},
	}
	for _, id := range b.inputs {
		l.emit(id)
	}
	for _, id := range b.outputs {
		if err := l.visit(id); err != nil {
			return nil, err
		}
	}
	l.model.NumSlots = l.nextID
	klog.V(1).Infof("graph: built model with %d records (%d inputs, %d outputs) out of %d nodes",
		len(l.model.Records), len(b.inputs), len(b.outputs), len(b.nodes))
	return l.model, nil
}

// visit emits root and all its not yet emitted predecessors.
func (l *linearizer) visit(root NodeId) error {
	l.stack = append(l.stack[:0], root)
	for len(l.stack) > 0 {
		id := l.stack[len(l.stack)-1]
		switch l.state[id] {
		case done:
			l.stack = l.stack[:len(l.stack)-1]

		case inProgress:
			// Second visit: all predecessors are done.
			l.stack = l.stack[:len(l.stack)-1]
			l.emit(id)

		case notVisited:
			l.state[id] = inProgress
			inputs := l.b.nodes[id].inputs
			for ii := len(inputs) - 1; ii >= 0; ii-- {
				if inputs[ii] == nil {
					continue
				}
				pred := inputs[ii].node
				switch l.state[pred] {
				case notVisited:
					l.stack = append(l.stack, pred)
				case inProgress:
					return errors.WithStack(&CycleError{Node: pred, Consumer: id})
				}
			}
		}
	}
	return nil
}

// emit assigns slots to the node and appends its record to the model.
func (l *linearizer) emit(id NodeId) {
	n := l.b.nodes[id]
	numSlots := max(len(n.outputs), 1) // Output records take one slot.
	slots := make([]int, numSlots)
	for ii := range slots {
		slots[ii] = l.nextID
		l.nextID++
	}
	l.slots[id] = slots
	l.state[id] = done

	record := Record{
		Index: slots[0],
		Kind:  n.kind,
		Slots: slots,
		Name:  n.name,
	}
	switch n.kind {
	case KindConstant:
		record.Data = n.data
	case KindOperation:
		record.Op = n.contract.Name
		record.Attrs = n.attrs.Clone()
	}
	if len(n.inputs) > 0 {
		record.Inputs = make([]int, len(n.inputs))
		for ii, v := range n.inputs {
			record.Inputs[ii] = -1
			if v != nil {
				record.Inputs[ii] = l.slots[v.node][v.output]
			}
		}
	}
	for _, t := range n.outputs {
		record.Outputs = append(record.Outputs, t.Clone())
	}
	if n.kind == KindOutput {
		record.Outputs = append(record.Outputs, n.inputs[0].tensor.Clone())
	}
	l.model.Records = append(l.model.Records, record)
}
