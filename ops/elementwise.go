package ops

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/onnx-builder/partial"
	"github.com/gomlx/onnx-builder/symbolic"
)

// unaryFolds maps the unary operators whose elements are computed at graph-build time to their fold.
var unaryFolds = map[string]symbolic.UnaryOp{
	"Identity":   symbolic.OpIdentity,
	"Neg":        symbolic.OpNeg,
	"Abs":        symbolic.OpAbs,
	"Sign":       symbolic.OpSign,
	"Not":        symbolic.OpNot,
	"BitwiseNot": symbolic.OpBitwiseNot,
	"Floor":      symbolic.OpFloor,
	"Ceil":       symbolic.OpCeil,
	"Round":      symbolic.OpRound,
	"Sqrt":       symbolic.OpSqrt,
	"Reciprocal": symbolic.OpReciprocal,
	"Square":     symbolic.OpSquare,
	"Relu":       symbolic.OpRelu,
}

// floatOnlyUnaryOps are the unary operators only defined for floating point tensors.
var floatOnlyUnaryOps = sets.MakeWith(
	"Exp", "Log", "Erf", "Sin", "Cos", "Tan", "Asin", "Acos", "Atan", "Sinh", "Cosh", "Tanh", "Asinh",
	"Acosh", "Atanh", "Sigmoid", "LeakyRelu", "Elu", "Selu", "Celu", "Gelu", "HardSigmoid", "HardSwish",
	"Softplus", "Softsign", "Mish", "ThresholdedRelu", "Floor", "Ceil", "Round", "Sqrt", "Reciprocal")

// binaryFolds maps the broadcasting binary operators to their element fold.
var binaryFolds = map[string]symbolic.BinaryOp{
	"Add":            symbolic.OpAdd,
	"Sub":            symbolic.OpSub,
	"Mul":            symbolic.OpMul,
	"Div":            symbolic.OpDiv,
	"Pow":            symbolic.OpPow,
	"Mod":            symbolic.OpMod,
	"BitwiseAnd":     symbolic.OpBitwiseAnd,
	"BitwiseOr":      symbolic.OpBitwiseOr,
	"BitwiseXor":     symbolic.OpBitwiseXor,
	"Equal":          symbolic.OpEqual,
	"Less":           symbolic.OpLess,
	"LessOrEqual":    symbolic.OpLessOrEqual,
	"Greater":        symbolic.OpGreater,
	"GreaterOrEqual": symbolic.OpGreaterOrEqual,
	"And":            symbolic.OpAnd,
	"Or":             symbolic.OpOr,
	"Xor":            symbolic.OpXor,
}

var logicalOps = sets.MakeWith("And", "Or", "Xor")

var bitwiseOps = sets.MakeWith("BitwiseAnd", "BitwiseOr", "BitwiseXor", "BitShift")

func elementwiseOps() []*Contract {
	var contracts []*Contract
	unaryNames := []string{
		"Identity", "Neg", "Abs", "Sign", "Not", "BitwiseNot", "Floor", "Ceil", "Round", "Sqrt", "Reciprocal",
		"Square", "Relu",
	}
	for name := range floatOnlyUnaryOps.Sub(sets.MakeWith(unaryNames...)) {
		unaryNames = append(unaryNames, name)
	}
	for _, name := range unaryNames {
		contracts = append(contracts, &Contract{Name: name, Arity: Fixed(1), Outputs: 1, Infer: inferUnary})
	}
	for _, name := range []string{"IsNaN", "IsInf"} {
		contracts = append(contracts, &Contract{Name: name, Arity: Fixed(1), Outputs: 1, Infer: inferIsNaNOrInf})
	}
	for name := range binaryFolds {
		contracts = append(contracts, &Contract{Name: name, Arity: Fixed(2), Outputs: 1, Infer: inferBinary})
	}
	contracts = append(contracts,
		&Contract{Name: "BitShift", Arity: Fixed(2), Outputs: 1, Infer: inferBinary},
		&Contract{Name: "PRelu", Arity: Fixed(2), Outputs: 1, Infer: inferBinary},
		&Contract{Name: "Max", Arity: Variadic(1), Outputs: 1, Infer: inferVariadic},
		&Contract{Name: "Min", Arity: Variadic(1), Outputs: 1, Infer: inferVariadic},
		&Contract{Name: "Sum", Arity: Variadic(1), Outputs: 1, Infer: inferVariadic},
		&Contract{Name: "Mean", Arity: Variadic(1), Outputs: 1, Infer: inferVariadic},
		&Contract{Name: "Where", Arity: Fixed(3), Outputs: 1, Infer: inferWhere},
		&Contract{Name: "Clip", Arity: Optional(1, 3), Outputs: 1, Infer: inferClip},
	)
	return contracts
}

func inferUnary(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	switch {
	case ctx.Op == "Not":
		requireDType(x, 0, "a boolean tensor", isBool)
	case ctx.Op == "BitwiseNot":
		requireDType(x, 0, "an integer tensor", isInteger)
	case floatOnlyUnaryOps.Has(ctx.Op):
		requireDType(x, 0, "a float tensor", isFloat)
	}
	output := sameShape(x, x.DType)
	fold, found := unaryFolds[ctx.Op]
	if !found || !x.HasElements() {
		return single(output)
	}
	elements := mapElements(ctx, output.Shape, inputs, func(args []symbolic.Element) (symbolic.Element, error) {
		return symbolic.FoldUnary(fold, args[0], x.DType)
	})
	return single(withElements(ctx, output, elements))
}

func inferIsNaNOrInf(_ *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	requireDType(inputs[0], 0, "a float tensor", isFloat)
	return single(sameShape(inputs[0], dtypes.Bool))
}

func inferBinary(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	lhs, rhs := inputs[0], inputs[1]
	var operandDType dtypes.DType
	switch {
	case ctx.Op == "Pow":
		// The exponent may have a different dtype than the base.
		operandDType = lhs.DType
	case logicalOps.Has(ctx.Op):
		requireDType(lhs, 0, "a boolean tensor", isBool)
		requireDType(rhs, 1, "a boolean tensor", isBool)
		operandDType = dtypes.Bool
	case bitwiseOps.Has(ctx.Op):
		operandDType = commonDType(ctx, lhs, rhs)
		requireDType(lhs, 0, "an integer tensor", isInteger)
	default:
		operandDType = commonDType(ctx, lhs, rhs)
	}
	outShape := broadcastInputs(lhs, rhs)
	if ctx.Op == "PRelu" {
		// PRelu's slope broadcasts to the input shape, not the other way around.
		outShape = mergeShapes(lhs.Shape, outShape, 1)
	}
	fold, found := binaryFolds[ctx.Op]
	switch ctx.Op {
	case "Mod":
		if ctx.Attrs.IntOr("fmod", 0) != 0 {
			fold = symbolic.OpFMod
		} else if operandDType.IsFloat() {
			at(symbolic.NewTypeError(dtypes.InvalidDType, operandDType, "Mod of floats requires fmod=1"), 0)
		}
	case "BitShift":
		found = true
		fold = symbolic.OpShiftRight
		if ctx.Attrs.String("direction") == "LEFT" {
			fold = symbolic.OpShiftLeft
		}
	}
	outDType := operandDType
	if fold.IsComparison() || logicalOps.Has(ctx.Op) {
		outDType = dtypes.Bool
	}
	output := partial.New(outDType, outShape)
	if !found {
		return single(output)
	}
	elements := mapElements(ctx, outShape, inputs, func(args []symbolic.Element) (symbolic.Element, error) {
		return symbolic.FoldBinary(fold, args[0], args[1], operandDType)
	})
	return single(withElements(ctx, output, elements))
}

// mergeShapes merges two shapes believed equal, locating errors at input.
func mergeShapes(a, b symbolic.Shape, input int) symbolic.Shape {
	merged, err := a.Merge(b)
	at(err, input)
	return merged
}

func inferVariadic(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	dtype := commonDType(ctx, inputs...)
	if ctx.Op == "Mean" {
		requireDType(inputs[0], 0, "a float tensor", isFloat)
	}
	outShape := broadcastInputs(inputs...)
	output := partial.New(dtype, outShape)
	var fold symbolic.BinaryOp
	switch ctx.Op {
	case "Max":
		fold = symbolic.OpMax
	case "Min":
		fold = symbolic.OpMin
	case "Sum":
		fold = symbolic.OpAdd
	default:
		return single(output)
	}
	elements := mapElements(ctx, outShape, inputs, func(args []symbolic.Element) (symbolic.Element, error) {
		acc := args[0]
		for _, e := range args[1:] {
			var err error
			acc, err = symbolic.FoldBinary(fold, acc, e, dtype)
			if err != nil {
				return acc, err
			}
		}
		return acc, nil
	})
	return single(withElements(ctx, output, elements))
}

func inferWhere(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	cond, onTrue, onFalse := inputs[0], inputs[1], inputs[2]
	requireDType(cond, 0, "a boolean condition", isBool)
	dtype := commonDType(ctx, nil, onTrue, onFalse)
	outShape := broadcastInputs(cond, onTrue, onFalse)
	output := partial.New(dtype, outShape)
	elements := mapElements(ctx, outShape, inputs, func(args []symbolic.Element) (symbolic.Element, error) {
		if c, ok := args[0].Bool(); ok {
			if c {
				return symbolic.Cast(args[1], dtype), nil
			}
			return symbolic.Cast(args[2], dtype), nil
		}
		if args[1] == args[2] {
			return args[1], nil
		}
		return symbolic.UnknownElement(), nil
	})
	return single(withElements(ctx, output, elements))
}

func inferClip(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	for ii := 1; ii < len(inputs); ii++ {
		if bound := inputs[ii]; bound != nil {
			if bound.Rank() > 0 {
				at(symbolic.NewRankError(0, bound.Rank(), "Clip bounds must be scalars"), ii)
			}
		}
	}
	commonDType(ctx, inputs...)
	output := sameShape(x, x.DType)
	elements := mapElements(ctx, output.Shape, inputs, func(args []symbolic.Element) (symbolic.Element, error) {
		e := args[0]
		var err error
		if optionalInput(inputs, 1) != nil {
			if e, err = symbolic.FoldBinary(symbolic.OpMax, e, args[1], x.DType); err != nil {
				return e, err
			}
		}
		if optionalInput(inputs, 2) != nil {
			if e, err = symbolic.FoldBinary(symbolic.OpMin, e, args[2], x.DType); err != nil {
				return e, err
			}
		}
		return e, nil
	})
	return single(withElements(ctx, output, elements))
}
