package ops

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/onnx-builder/partial"
	"github.com/gomlx/onnx-builder/symbolic"
)

func nnOps() []*Contract {
	return []*Contract{
		{Name: "MatMul", Arity: Fixed(2), Outputs: 1, Infer: inferMatMul},
		{Name: "Gemm", Arity: Optional(2, 3), Outputs: 1, Infer: inferGemm},
		{Name: "Conv", Arity: Optional(2, 3), Outputs: 1, Infer: inferConv},
		{Name: "ConvTranspose", Arity: Optional(2, 3), Outputs: 1, Infer: inferConvTranspose},
		{Name: "BatchNormalization", Arity: Fixed(5), OutputsFn: numOutputsAttr(1), Infer: inferBatchNorm},
		{Name: "InstanceNormalization", Arity: Fixed(3), Outputs: 1, Infer: inferChannelNorm},
		{Name: "GroupNormalization", Arity: Fixed(3), Outputs: 1, Infer: inferChannelNorm},
		{Name: "LayerNormalization", Arity: Optional(2, 3), OutputsFn: numOutputsAttr(1), Infer: inferLayerNorm},
		{Name: "Softmax", Arity: Fixed(1), Outputs: 1, Infer: inferAxisPreserving},
		{Name: "LogSoftmax", Arity: Fixed(1), Outputs: 1, Infer: inferAxisPreserving},
		{Name: "Hardmax", Arity: Fixed(1), Outputs: 1, Infer: inferAxisPreserving},
		{Name: "LRN", Arity: Fixed(1), Outputs: 1, Infer: inferLRN},
		{Name: "Dropout", Arity: Optional(1, 3), OutputsFn: numOutputsAttr(1), Infer: inferDropout},
	}
}

func inferMatMul(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	a, b := inputs[0], inputs[1]
	dtype := commonDType(ctx, a, b)
	rankA, rankB := a.Rank(), b.Rank()
	if rankA < 0 || rankB < 0 {
		return single(partial.New(dtype, symbolic.UnknownShape()))
	}
	if rankA == 0 {
		at(symbolic.NewRankError(1, 0, "MatMul of a scalar"), 0)
	}
	if rankB == 0 {
		at(symbolic.NewRankError(1, 0, "MatMul of a scalar"), 1)
	}

	// Rank-1 operands are promoted to matrices, and the promoted axis is removed from the result.
	dimsA, dimsB := a.Shape.Dims(), b.Shape.Dims()
	if rankA == 1 {
		dimsA = []symbolic.Dim{symbolic.Value(1), dimsA[0]}
	}
	if rankB == 1 {
		dimsB = []symbolic.Dim{dimsB[0], symbolic.Value(1)}
	}
	contractingA, contractingB := dimsA[len(dimsA)-1], dimsB[len(dimsB)-2]
	if _, err := symbolic.MaxDefined(contractingA, contractingB); err != nil {
		at(symbolic.NewShapeError(max(rankB-2, 0), contractingA, contractingB, "MatMul contracting dimensions differ"), 1)
	}
	batch, err := symbolic.BroadcastShapes(
		symbolic.MakeShape(dimsA[:len(dimsA)-2]...), symbolic.MakeShape(dimsB[:len(dimsB)-2]...))
	at(err, 1)
	dims := batch.Dims()
	if rankA > 1 {
		dims = append(dims, dimsA[len(dimsA)-2])
	}
	if rankB > 1 {
		dims = append(dims, dimsB[len(dimsB)-1])
	}
	return single(partial.New(dtype, symbolic.MakeShape(dims...)))
}

func inferGemm(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	a, b, c := inputs[0], inputs[1], optionalInput(inputs, 2)
	dtype := commonDType(ctx, inputs...)
	shapeA, shapeB := requireRank(a, 0, 2), requireRank(b, 1, 2)
	m, kA := shapeA.Dim(0), shapeA.Dim(1)
	if ctx.Attrs.BoolOr("transA", false) {
		m, kA = kA, m
	}
	kB, n := shapeB.Dim(0), shapeB.Dim(1)
	kAxis := 0
	if ctx.Attrs.BoolOr("transB", false) {
		kB, n = n, kB
		kAxis = 1
	}
	mergeDims(kB, kA, 1, kAxis)
	outShape := symbolic.MakeShape(m, n)
	if c != nil {
		broadcast, err := symbolic.BroadcastShapes(outShape, c.Shape)
		at(err, 2)
		if broadcast.HasRank() && broadcast.Rank() != 2 {
			at(symbolic.NewRankError(2, c.Rank(), "Gemm bias must broadcast to the output"), 2)
		}
	}
	return single(partial.New(dtype, outShape))
}

// windowAttrs holds the attributes of sliding window operators (convolutions and pooling).
type windowAttrs struct {
	autoPad                  string
	kernel                   []symbolic.Dim
	strides, dilations, pads []int
	ceilMode                 bool
}

// readWindowAttrs reads the window attributes for numSpatial spatial axes. kernel holds the kernel
// dimensions if they are not given by the "kernel_shape" attribute (it comes from the weights for
// convolutions), or nil.
func readWindowAttrs(ctx *InferContext, numSpatial int, kernel []symbolic.Dim) windowAttrs {
	w := windowAttrs{
		autoPad:   ctx.Attrs.StringOr("auto_pad", "NOTSET"),
		strides:   ctx.Attrs.IntsOr("strides", nil),
		dilations: ctx.Attrs.IntsOr("dilations", nil),
		pads:      ctx.Attrs.IntsOr("pads", nil),
		ceilMode:  ctx.Attrs.BoolOr("ceil_mode", false),
	}
	if ctx.Attrs.Has("kernel_shape") {
		w.kernel = symbolic.Dims(ctx.Attrs.Ints("kernel_shape")...)
	} else {
		w.kernel = kernel
	}
	check := func(name string, values []int, want int) {
		if values != nil && len(values) != want {
			at(symbolic.NewRankError(want, len(values), "attribute %q has the wrong number of values", name), 0)
		}
	}
	check("kernel_shape", ctx.Attrs.IntsOr("kernel_shape", nil), numSpatial)
	check("strides", w.strides, numSpatial)
	check("dilations", w.dilations, numSpatial)
	check("pads", w.pads, 2*numSpatial)
	return w
}

func intOr(values []int, i, defaultValue int) int {
	if values == nil {
		return defaultValue
	}
	return values[i]
}

// outputDims returns the output spatial dimensions of the window sliding over the spatial dimensions in.
func (w windowAttrs) outputDims(in []symbolic.Dim) []symbolic.Dim {
	out := make([]symbolic.Dim, len(in))
	for ii, d := range in {
		stride := intOr(w.strides, ii, 1)
		if w.autoPad == "SAME_UPPER" || w.autoPad == "SAME_LOWER" {
			out[ii] = symbolic.Unknown()
			if n, ok := d.Int(); ok {
				out[ii] = symbolic.Value((n + stride - 1) / stride)
			} else if stride == 1 {
				out[ii] = d
			}
			continue
		}
		var k symbolic.Dim
		if w.kernel != nil {
			k = w.kernel[ii]
		}
		kernel, ok := k.Int()
		if !ok {
			out[ii] = symbolic.Unknown()
			continue
		}
		p := symbolic.PoolParams{
			Kernel:   kernel,
			Stride:   stride,
			Dilation: intOr(w.dilations, ii, 1),
			CeilMode: w.ceilMode,
		}
		if w.autoPad == "NOTSET" {
			p.PadBegin, p.PadEnd = intOr(w.pads, ii, 0), intOr(w.pads, ii+len(in), 0)
		}
		var err error
		out[ii], err = symbolic.PoolDim(d, p)
		if err != nil {
			err.(*symbolic.ShapeError).Axis = ii + 2
			at(err, 0)
		}
	}
	return out
}

func inferConv(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x, w, bias := inputs[0], inputs[1], optionalInput(inputs, 2)
	dtype := commonDType(ctx, inputs...)
	rank := x.Rank()
	if rank < 0 {
		rank = w.Rank()
	}
	if rank < 0 {
		return single(partial.New(dtype, symbolic.UnknownShape()))
	}
	if rank < 3 {
		at(symbolic.NewRankError(3, rank, "Conv input must be [batch, channels, spatial...]"), 0)
	}
	xShape, wShape := requireRank(x, 0, rank), requireRank(w, 1, rank)
	group := ctx.Attrs.IntOr("group", 1)
	xDims, wDims := xShape.Dims(), wShape.Dims()
	if channels, ok := xDims[1].Int(); ok {
		if perGroup, ok := wDims[1].Int(); ok && channels != perGroup*group {
			at(symbolic.NewShapeError(1, xDims[1], symbolic.Value(perGroup*group),
				"Conv input channels don't match the kernel's channels x group=%d", group), 1)
		}
	}
	outChannels := wDims[0]
	if bias != nil {
		biasShape := requireRank(bias, 2, 1)
		outChannels = mergeDims(outChannels, biasShape.Dim(0), 2, 0)
	}
	attrs := readWindowAttrs(ctx, rank-2, wDims[2:])
	dims := append([]symbolic.Dim{xDims[0], outChannels}, attrs.outputDims(xDims[2:])...)
	return single(partial.New(dtype, symbolic.MakeShape(dims...)))
}

func inferConvTranspose(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x, w, bias := inputs[0], inputs[1], optionalInput(inputs, 2)
	dtype := commonDType(ctx, inputs...)
	rank := x.Rank()
	if rank < 0 {
		rank = w.Rank()
	}
	if rank < 0 {
		return single(partial.New(dtype, symbolic.UnknownShape()))
	}
	if rank < 3 {
		at(symbolic.NewRankError(3, rank, "ConvTranspose input must be [batch, channels, spatial...]"), 0)
	}
	xShape, wShape := requireRank(x, 0, rank), requireRank(w, 1, rank)
	xDims, wDims := xShape.Dims(), wShape.Dims()
	mergeDims(xDims[1], wDims[0], 1, 0)
	group := ctx.Attrs.IntOr("group", 1)
	outChannels := symbolic.Mul(wDims[1], symbolic.Value(group))
	if bias != nil {
		biasShape := requireRank(bias, 2, 1)
		outChannels = mergeDims(outChannels, biasShape.Dim(0), 2, 0)
	}
	numSpatial := rank - 2
	dims := []symbolic.Dim{xDims[0], outChannels}
	if ctx.Attrs.Has("output_shape") {
		outputShape := ctx.Attrs.Ints("output_shape")
		if len(outputShape) != numSpatial {
			at(symbolic.NewRankError(numSpatial, len(outputShape), "output_shape has the wrong number of values"), 0)
		}
		return single(partial.New(dtype, symbolic.MakeShape(append(dims, symbolic.Dims(outputShape...)...)...)))
	}
	attrs := readWindowAttrs(ctx, numSpatial, wDims[2:])
	outputPadding := ctx.Attrs.IntsOr("output_padding", nil)
	for ii, d := range xDims[2:] {
		stride := intOr(attrs.strides, ii, 1)
		if attrs.autoPad == "SAME_UPPER" || attrs.autoPad == "SAME_LOWER" {
			dims = append(dims, symbolic.Mul(d, symbolic.Value(stride)))
			continue
		}
		kernel, ok := attrs.kernel[ii].Int()
		if !ok {
			dims = append(dims, symbolic.Unknown())
			continue
		}
		p := symbolic.PoolParams{Kernel: kernel, Stride: stride, Dilation: intOr(attrs.dilations, ii, 1)}
		if attrs.autoPad == "NOTSET" {
			p.PadBegin, p.PadEnd = intOr(attrs.pads, ii, 0), intOr(attrs.pads, ii+numSpatial, 0)
		}
		out, err := symbolic.TransposedPoolDim(d, p, intOr(outputPadding, ii, 0))
		at(err, 0)
		dims = append(dims, out)
	}
	return single(partial.New(dtype, symbolic.MakeShape(dims...)))
}

// channelParam checks that the per-channel parameter at input is a 1-D tensor of size channels.
func channelParam(t *partial.Tensor, input int, channels symbolic.Dim) symbolic.Dim {
	shape := requireRank(t, input, 1)
	return mergeDims(channels, shape.Dim(0), input, 0)
}

func inferBatchNorm(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	numOutputs := checkNumOutputs(ctx, 1, 3)
	dtype := commonDType(ctx, x, inputs[1], inputs[2])
	requireMinRank(x, 0, 2)
	channels := symbolic.Unknown()
	if x.Rank() >= 2 {
		channels = x.Shape.Dim(1)
	}
	for ii := 1; ii < 5; ii++ {
		channels = channelParam(inputs[ii], ii, channels)
	}
	outputs := []*partial.Tensor{sameShape(x, dtype)}
	for range numOutputs - 1 {
		outputs = append(outputs, partial.New(inputs[3].DType, symbolic.MakeShape(channels)))
	}
	return outputs
}

func inferChannelNorm(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	dtype := commonDType(ctx, inputs...)
	requireMinRank(x, 0, 2)
	channels := symbolic.Unknown()
	if x.Rank() >= 2 {
		channels = x.Shape.Dim(1)
	}
	if ctx.Op == "GroupNormalization" {
		groups := ctx.Attrs.Int("num_groups")
		if n, ok := channels.Int(); ok && (groups <= 0 || n%groups != 0) {
			at(symbolic.NewShapeError(1, channels, symbolic.Value(groups), "channels not divisible by num_groups"), 0)
		}
		// Scale and bias are given per group in older versions, and per channel since.
		channels = symbolic.Unknown()
	}
	channelParam(inputs[1], 1, channels)
	channelParam(inputs[2], 2, channels)
	return single(sameShape(x, dtype))
}

func inferLayerNorm(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	numOutputs := checkNumOutputs(ctx, 1, 3)
	dtype := commonDType(ctx, inputs...)
	outputs := []*partial.Tensor{sameShape(x, dtype)}
	rank := x.Rank()
	statsShape := symbolic.UnknownShape()
	if rank >= 0 {
		axis := normalizeAxis(ctx.Attrs.IntOr("axis", -1), rank, 0)
		dims := x.Shape.Dims()
		for ii := axis; ii < rank; ii++ {
			dims[ii] = symbolic.Value(1)
		}
		statsShape = symbolic.MakeShape(dims...)
	}
	statsDType := ctx.Attrs.DTypeOr("stash_type", dtypes.Float32)
	for range numOutputs - 1 {
		outputs = append(outputs, partial.New(statsDType, statsShape))
	}
	return outputs
}

func inferAxisPreserving(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	requireDType(x, 0, "a float tensor", isFloat)
	if rank := x.Rank(); rank > 0 {
		normalizeAxis(ctx.Attrs.IntOr("axis", -1), rank, 0)
	}
	return single(sameShape(x, x.DType))
}

func inferLRN(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	requireDType(x, 0, "a float tensor", isFloat)
	requireMinRank(x, 0, 3)
	if size := ctx.Attrs.Int("size"); size < 1 {
		at(symbolic.NewAxisError(size, -1, "LRN size must be positive"), 0)
	}
	return single(sameShape(x, x.DType))
}

func inferDropout(ctx *InferContext, inputs []*partial.Tensor) []*partial.Tensor {
	x := inputs[0]
	numOutputs := checkNumOutputs(ctx, 1, 2)
	if ratio := optionalInput(inputs, 1); ratio != nil {
		requireScalar(ratio, 1)
	}
	if training := optionalInput(inputs, 2); training != nil {
		requireDType(training, 2, "a boolean training mode", isBool)
		requireScalar(training, 2)
	}
	outputs := []*partial.Tensor{x.Clone()}
	if numOutputs == 2 {
		outputs = append(outputs, sameShape(x, dtypes.Bool))
	}
	return outputs
}
