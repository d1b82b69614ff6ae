// Package benchmarks measures graph construction and linearization of large graphs.
package benchmarks

import (
	"flag"
	"fmt"
	"runtime"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/onnx-builder/graph"
	"github.com/gomlx/onnx-builder/ops"
	"github.com/gomlx/onnx-builder/symbolic"
	"github.com/janpfeifer/go-benchmarks"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/require"
)

var flagBenchDuration = flag.Duration("bench_duration", 0,
	"Benchmark duration, typically use 10 seconds. If left as 0, benchmark tests are disabled")

// deepChain builds x -> Neg -> Neg -> ... (depth times) -> output.
func deepChain(depth int) *graph.Builder {
	b := graph.New()
	v := b.Input("x", dtypes.Float32, symbolic.MakeShape(symbolic.Param("batch"), symbolic.Value(16)))
	for range depth {
		v = must.M1(b.Apply1("Neg", nil, v))
	}
	must.M(b.Output(v, "y"))
	return b
}

// mlp builds a multi-layer perceptron with a residual connection per layer, and a dynamic reshape at the end.
func mlp(layers, width int) *graph.Builder {
	b := graph.New()
	x := b.Input("x", dtypes.Float32, symbolic.MakeShape(symbolic.Param("batch"), symbolic.Value(width)))
	h := x
	for range layers {
		w := must.M1(b.Constant(make([]byte, 4*width*width), dtypes.Float32, width, width))
		bias := must.M1(b.Constant(make([]byte, 4*width), dtypes.Float32, width))
		y := must.M1(b.Apply1("Gemm", nil, h, w, bias))
		y = must.M1(b.Apply1("Relu", nil, y))
		h = must.M1(b.Apply1("Add", nil, h, y))
	}
	shape := must.M1(b.Apply1("Shape", nil, x))
	h = must.M1(b.Apply1("Reshape", nil, h, shape))
	h = must.M1(b.Apply1("ReduceMean", ops.Attributes{"keepdims": 0}, h))
	must.M(b.Output(h, "mean"))
	return b
}

func TestDeepChain(t *testing.T) {
	const depth = 100_000
	b := deepChain(depth)
	m, err := b.Build()
	require.NoError(t, err)
	require.Len(t, m.Records, depth+2)
	require.Equal(t, "[batch, 16]", m.Outputs()[0].Outputs[0].Shape.String())
}

func TestBenchBuild(t *testing.T) {
	if testing.Short() || *flagBenchDuration == 0 {
		fmt.Printf("Skipping graph build benchmark: --short or no --bench_duration set\n")
		t.SkipNow()
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for ii, depth := range []int{1_000, 10_000, 100_000} {
		b := deepChain(depth)
		benchmarks.New(benchmarks.NamedFunction{
			Name: fmt.Sprintf("Build/chain/depth=%d", depth),
			Func: func() { _ = must.M1(b.Build()) },
		}).
			WithWarmUps(3).
			WithDuration(*flagBenchDuration).
			WithHeader(ii == 0).
			Done()
	}
	for _, layers := range []int{8, 64} {
		benchmarks.New(benchmarks.NamedFunction{
			Name: fmt.Sprintf("Apply+Build/mlp/layers=%d", layers),
			Func: func() { _ = must.M1(mlp(layers, 64).Build()) },
		}).
			WithWarmUps(3).
			WithDuration(*flagBenchDuration).
			Done()
	}
}

func BenchmarkBuildDeepChain(b *testing.B) {
	g := deepChain(10_000)
	b.ResetTimer()
	for range b.N {
		_ = must.M1(g.Build())
	}
}

func BenchmarkApplyMLP(b *testing.B) {
	for range b.N {
		_ = mlp(16, 64)
	}
}
