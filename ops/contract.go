// Package ops defines the operator contract every graph operation satisfies (its arity, its number of
// outputs and its graph-build-time inference function) and the catalogue of built-in operators,
// registered in the Default registry.
//
// Inference functions receive only Partial Tensors, never real data: they compute output shapes, dtypes
// and, for small integer tensors, the output element values.
package ops

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/onnx-builder/partial"
	"github.com/gomlx/onnx-builder/symbolic"
	"github.com/pkg/errors"
)

// Unbounded is the Arity.Max of variadic operators.
const Unbounded = -1

// Arity is the accepted number of inputs of an operator: between Min and Max (inclusive), with Max set
// to Unbounded for variadic operators. Inputs past Min are optional and may be absent (nil).
type Arity struct {
	Min, Max int
}

// Fixed returns the arity of an operator with exactly n inputs.
func Fixed(n int) Arity { return Arity{Min: n, Max: n} }

// Optional returns the arity of an operator with min required inputs and up to max inputs.
func Optional(min, max int) Arity { return Arity{Min: min, Max: max} }

// Variadic returns the arity of an operator with at least min inputs.
func Variadic(min int) Arity { return Arity{Min: min, Max: Unbounded} }

// Accepts returns whether n inputs are acceptable.
func (a Arity) Accepts(n int) bool {
	return n >= a.Min && (a.Max == Unbounded || n <= a.Max)
}

// String implements fmt.Stringer.
func (a Arity) String() string {
	switch {
	case a.Max == Unbounded:
		return fmt.Sprintf("%d or more", a.Min)
	case a.Min == a.Max:
		return fmt.Sprintf("%d", a.Min)
	default:
		return fmt.Sprintf("%d to %d", a.Min, a.Max)
	}
}

// ArityError is raised when an operator is applied with the wrong number of inputs, a required input is
// absent, or a required attribute is missing.
type ArityError struct {
	Op string

	// What is "inputs", "input #i" or "attribute \"name\"".
	What  string
	Want  string
	Got   int
	Extra string
}

func (e *ArityError) Error() string {
	msg := fmt.Sprintf("%s: arity error: %s: want %s, got %d", e.Op, e.What, e.Want, e.Got)
	if e.Extra != "" {
		msg += " (" + e.Extra + ")"
	}
	return msg
}

// InferFunc computes the output Partial Tensors of an operator from its inputs' Partial Tensors.
//
// Absent optional inputs are given as nil. Errors are thrown as panics (usually of the typed errors in
// package symbolic, or *ArityError) and recovered by Infer.
type InferFunc func(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor

// Contract describes an operator: how it's applied and how its outputs are inferred.
type Contract struct {
	Name  string
	Arity Arity

	// Outputs is the number of outputs, used if OutputsFn is nil.
	Outputs int

	// OutputsFn returns the number of outputs for the given attributes, for operators whose
	// number of outputs is configurable (e.g. Split).
	OutputsFn func(attrs Attributes) int

	Infer InferFunc

	// Execute is an optional custom execution hook. If nil, Run delegates to the Backend.
	Execute ExecuteFunc
}

// NumOutputs returns the number of outputs of the operator when applied with attrs.
func (c *Contract) NumOutputs(attrs Attributes) int {
	if c.OutputsFn != nil {
		return c.OutputsFn(attrs)
	}
	return c.Outputs
}

// InferContext holds the configuration and attributes given to inference functions.
type InferContext struct {
	// Op is the name of the operator being inferred.
	Op    string
	Attrs Attributes

	// ElementCap is the maximum number of elements tracked per tensor.
	ElementCap int

	// Promotion configures how mismatching dtypes are handled.
	Promotion partial.PromotionConfig
}

// NewInferContext returns a context with the default configuration.
func NewInferContext(op string, attrs Attributes) *InferContext {
	return &InferContext{Op: op, Attrs: attrs, ElementCap: partial.DefaultElementCap}
}

// Infer checks the arity of inputs and runs the contract's inference.
//
// Errors are returned with the operator name filled in (see symbolic.Locate); nothing is left in an
// inconsistent state, since inference has no side effects.
func Infer(c *Contract, ctx *InferContext, inputs []*partial.Tensor) (outputs []*partial.Tensor, err error) {
	if !c.Arity.Accepts(len(inputs)) {
		return nil, &ArityError{Op: c.Name, What: "inputs", Want: c.Arity.String(), Got: len(inputs)}
	}
	for ii := range c.Arity.Min {
		if inputs[ii] == nil {
			return nil, &ArityError{Op: c.Name, What: fmt.Sprintf("input #%d", ii), Want: "present", Got: 0,
				Extra: "only optional inputs can be absent"}
		}
	}
	if ctx == nil {
		ctx = NewInferContext(c.Name, nil)
	}
	ctx.Op = c.Name
	err = exceptions.TryCatch[error](func() { outputs = c.Infer(ctx, inputs) })
	if err != nil {
		var arityErr *ArityError
		if errors.As(err, &arityErr) && arityErr.Op == "" {
			arityErr.Op = c.Name
		}
		return nil, symbolic.Locate(err, c.Name, symbolic.NoInput)
	}
	if want := c.NumOutputs(ctx.Attrs); len(outputs) != want {
		return nil, errors.Errorf("%s: inference returned %d outputs, but operator declares %d!?", c.Name, len(outputs), want)
	}
	return outputs, nil
}
