package ops

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// Buffer is a concrete tensor owned by an execution backend.
type Buffer interface {
	DType() dtypes.DType
	Dims() []int
}

// Backend executes operators on concrete buffers. Backends are external to this module: the graph
// builder never calls them, it only produces the program they run.
type Backend interface {
	Execute(op string, attrs Attributes, inputs []Buffer) ([]Buffer, error)
}

// ExecuteFunc is a custom execution hook of an operator.
type ExecuteFunc func(backend Backend, attrs Attributes, inputs []Buffer) ([]Buffer, error)

// Run executes the operator on concrete inputs: with the contract's Execute hook if set, otherwise by
// delegating to the backend.
func (c *Contract) Run(backend Backend, attrs Attributes, inputs []Buffer) ([]Buffer, error) {
	if c.Execute != nil {
		return c.Execute(backend, attrs, inputs)
	}
	if backend == nil {
		return nil, errors.Errorf("operator %q has no execution hook and no backend was given", c.Name)
	}
	outputs, err := backend.Execute(c.Name, attrs, inputs)
	if err != nil {
		return nil, errors.WithMessagef(err, "executing %q", c.Name)
	}
	if want := c.NumOutputs(attrs); len(outputs) != want {
		return nil, errors.Errorf("backend returned %d outputs for %q, want %d", len(outputs), c.Name, want)
	}
	return outputs, nil
}
