package symbolic

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// NoInput is the Location.Input value when the error is not attributed to a specific operand.
const NoInput = -1

// Location identifies where in the graph an inference error happened: the operator being applied and
// the position of the offending input.
//
// Errors are created without an operator and filled in by Locate as they cross the operator boundary.
type Location struct {
	Op    string
	Input int
}

func (l *Location) location() *Location { return l }

func (l *Location) prefix() string {
	switch {
	case l.Op == "" && l.Input == NoInput:
		return ""
	case l.Input == NoInput:
		return l.Op + ": "
	case l.Op == "":
		return fmt.Sprintf("input #%d: ", l.Input)
	default:
		return fmt.Sprintf("%s: input #%d: ", l.Op, l.Input)
	}
}

type locatable interface {
	location() *Location
}

// Locate fills the operator name and input position of a located error (RankError, ShapeError, AxisError,
// ArithmeticError or TypeError), if they are not set yet.
//
// It returns err itself, so it can be used inline. Errors of other types are returned untouched.
func Locate(err error, op string, input int) error {
	if err == nil {
		return nil
	}
	var l locatable
	if errors.As(err, &l) {
		loc := l.location()
		if loc.Op == "" {
			loc.Op = op
		}
		if loc.Input == NoInput {
			loc.Input = input
		}
	}
	return err
}

// RankError is raised when a declared or required rank conflicts with a known rank.
type RankError struct {
	Location
	Want, Got int
	Reason    string
}

// NewRankError creates a RankError. Use Got = -1 when the rank is unknown.
func NewRankError(want, got int, format string, args ...any) *RankError {
	return &RankError{Location: Location{Input: NoInput}, Want: want, Got: got, Reason: fmt.Sprintf(format, args...)}
}

func (e *RankError) Error() string {
	got := "unknown"
	if e.Got >= 0 {
		got = fmt.Sprintf("%d", e.Got)
	}
	return fmt.Sprintf("%srank error: %s (want rank %d, got %s)", e.prefix(), e.Reason, e.Want, got)
}

// ShapeError is raised when two dimensions are incompatible under broadcast or merge.
type ShapeError struct {
	Location
	Axis   int
	A, B   Dim
	Reason string
}

// NewShapeError creates a ShapeError for the conflicting pair a, b. Axis may be -1 if not applicable.
func NewShapeError(axis int, a, b Dim, format string, args ...any) *ShapeError {
	return &ShapeError{Location: Location{Input: NoInput}, Axis: axis, A: a, B: b, Reason: fmt.Sprintf(format, args...)}
}

func (e *ShapeError) Error() string {
	if e.Axis >= 0 {
		return fmt.Sprintf("%sshape error: %s at axis %d (%s vs %s)", e.prefix(), e.Reason, e.Axis, e.A, e.B)
	}
	return fmt.Sprintf("%sshape error: %s (%s vs %s)", e.prefix(), e.Reason, e.A, e.B)
}

// AxisError is raised for an out-of-range or unresolvable axis or index.
type AxisError struct {
	Location
	Axis int

	// Bound is the exclusive upper bound of valid values, or -1 if unknown.
	Bound  int
	Reason string
}

// NewAxisError creates an AxisError.
func NewAxisError(axis, bound int, format string, args ...any) *AxisError {
	return &AxisError{Location: Location{Input: NoInput}, Axis: axis, Bound: bound, Reason: fmt.Sprintf(format, args...)}
}

func (e *AxisError) Error() string {
	if e.Bound >= 0 {
		return fmt.Sprintf("%saxis error: %s (%d not in [%d, %d))", e.prefix(), e.Reason, e.Axis, -e.Bound, e.Bound)
	}
	return fmt.Sprintf("%saxis error: %s (%d)", e.prefix(), e.Reason, e.Axis)
}

// ArithmeticError is raised when a statically evaluable operation is known to fail, like an integer
// division or modulo by an element known to be zero.
type ArithmeticError struct {
	Location
	Operation string
	Lhs, Rhs  string
	Reason    string
}

// NewArithmeticError creates an ArithmeticError for operation applied to the given operands.
func NewArithmeticError(operation string, lhs, rhs fmt.Stringer, format string, args ...any) *ArithmeticError {
	return &ArithmeticError{
		Location:  Location{Input: NoInput},
		Operation: operation,
		Lhs:       lhs.String(),
		Rhs:       rhs.String(),
		Reason:    fmt.Sprintf(format, args...),
	}
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("%sarithmetic error: %s(%s, %s): %s", e.prefix(), e.Operation, e.Lhs, e.Rhs, e.Reason)
}

// TypeError is raised when the element type of an operand is not accepted by the operator.
type TypeError struct {
	Location
	Want, Got dtypes.DType
	Reason    string
}

// NewTypeError creates a TypeError. Want may be dtypes.InvalidDType if there isn't one single accepted dtype.
func NewTypeError(want, got dtypes.DType, format string, args ...any) *TypeError {
	return &TypeError{Location: Location{Input: NoInput}, Want: want, Got: got, Reason: fmt.Sprintf(format, args...)}
}

func (e *TypeError) Error() string {
	if e.Want == dtypes.InvalidDType {
		return fmt.Sprintf("%stype error: %s (got %s)", e.prefix(), e.Reason, e.Got)
	}
	return fmt.Sprintf("%stype error: %s (want %s, got %s)", e.prefix(), e.Reason, e.Want, e.Got)
}
