package graph

import (
	"bytes"
	"fmt"
	"maps"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/onnx-builder/ops"
	"github.com/gomlx/onnx-builder/partial"
	"github.com/gomlx/onnx-builder/symbolic"
	"github.com/pkg/errors"
)

// Record is one entry of a Model.
type Record struct {
	// Index is the first slot of the record. Indices are dense and increasing in emission order.
	Index int
	Kind  NodeKind

	// Op and Attrs of Operation records.
	Op    string
	Attrs ops.Attributes

	// Inputs are the slots consumed by Operation and Output records, -1 for absent optional inputs.
	// They always refer to records emitted earlier.
	Inputs []int

	// Slots holds one slot per output of the record. Output records take one slot of their own.
	Slots []int

	// Name of Input and Output records.
	Name string

	// Data is the raw payload of Constant records.
	Data []byte

	// Outputs are the inferred Partial Tensors of each slot. For Output records, the one of its input.
	Outputs []*partial.Tensor
}

// Model is the linearized program produced by Builder.Build.
type Model struct {
	Records []Record

	// NumSlots is the total number of slots used by the records.
	NumSlots int
}

func (m *Model) filter(kind NodeKind) []Record {
	var records []Record
	for _, r := range m.Records {
		if r.Kind == kind {
			records = append(records, r)
		}
	}
	return records
}

// Inputs returns the Input records, in declaration order.
func (m *Model) Inputs() []Record { return m.filter(KindInput) }

// Constants returns the Constant records used by the model, in emission order.
func (m *Model) Constants() []Record { return m.filter(KindConstant) }

// Operations returns the Operation records, in emission order.
func (m *Model) Operations() []Record { return m.filter(KindOperation) }

// Outputs returns the Output records, in declaration order.
func (m *Model) Outputs() []Record { return m.filter(KindOutput) }

// ValidateInputs checks concrete input dimensions against the symbolic input shapes of the model, in input
// order, and returns the values bound to each Param dimension.
//
// It returns an error if the number of inputs differs, if a rank or a concrete dimension doesn't match, or if
// the same Param is given different values.
func (m *Model) ValidateInputs(dims ...[]int) (symbolic.Bindings, error) {
	inputs := m.Inputs()
	if len(dims) != len(inputs) {
		return nil, errors.Errorf("model has %d inputs, %d shapes given", len(inputs), len(dims))
	}
	bindings := make(symbolic.Bindings)
	for ii, r := range inputs {
		if err := r.Outputs[0].Shape.Bind(dims[ii], bindings); err != nil {
			return nil, errors.WithMessagef(symbolic.Locate(err, "", ii), "input %q", r.Name)
		}
	}
	return bindings, nil
}

// OutputShapes returns the shapes of the outputs with the Params found in bindings resolved.
func (m *Model) OutputShapes(bindings symbolic.Bindings) []symbolic.Shape {
	outputs := m.Outputs()
	shapes := make([]symbolic.Shape, len(outputs))
	for ii, r := range outputs {
		shapes[ii] = r.Outputs[0].Shape.Resolve(bindings)
	}
	return shapes
}

// String implements fmt.Stringer, and pretty prints the model.
func (m *Model) String() string {
	var buf bytes.Buffer
	w := func(format string, args ...any) {
		if len(args) == 0 {
			buf.WriteString(format)
		} else {
			buf.WriteString(fmt.Sprintf(format, args...))
		}
	}
	constantBytes := 0
	opTypes := sets.Make[string]()
	for _, r := range m.Records {
		constantBytes += len(r.Data)
		if r.Kind == KindOperation {
			opTypes.Insert(r.Op)
		}
	}
	w("Model:\n")
	w("\t# records:\t%d (%d slots)\n", len(m.Records), m.NumSlots)
	w("\tConstants:\t%d (%s)\n", len(m.Constants()), humanize.Bytes(uint64(constantBytes)))
	w("\tOp types:\t%q\n", slices.Sorted(maps.Keys(opTypes)))
	for _, r := range m.Records {
		w("\t%s\n", r)
	}
	return buf.String()
}

// String implements fmt.Stringer.
func (r Record) String() string {
	outputs := fmt.Sprint(r.Outputs)
	switch r.Kind {
	case KindInput:
		return fmt.Sprintf("#%d = Input(%q) %s", r.Index, r.Name, outputs)
	case KindConstant:
		return fmt.Sprintf("#%d = Constant(%s) %s", r.Index, humanize.Bytes(uint64(len(r.Data))), outputs)
	case KindOperation:
		return fmt.Sprintf("%v = %s%v %s", r.Slots, r.Op, r.Inputs, outputs)
	case KindOutput:
		return fmt.Sprintf("#%d = Output(%q, #%d) %s", r.Index, r.Name, r.Inputs[0], outputs)
	}
	return fmt.Sprintf("#%d = Invalid", r.Index)
}
