// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patchmatchnet

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/require"
)

const (
	testDepthMin = 0.5
	testDepthMax = 100.0
)

func TestDepthHypothesesColdStart(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		return depthHypotheses(ctx, g, nil, 8, 0.025,
			Scalar(g, dtypes.Float32, testDepthMin), Scalar(g, dtypes.Float32, testDepthMax),
			2, 4, 4)
	})
	require.NoError(t, got.Shape().CheckDims(2, coldStartSamples, 4, 4))

	got.MustConstFlatData(func(flat any) {
		values := flat.([]float32)
		for _, v := range values {
			require.Greater(t, v, float32(testDepthMin))
			require.LessOrEqual(t, v, float32(testDepthMax)*(1+1e-6))
		}
		// One sample per inverse-depth bin: strictly increasing in inverse
		// depth along the sample axis, i.e. strictly decreasing in depth.
		const pixels = 4 * 4
		for b := 0; b < 2; b++ {
			for p := 0; p < pixels; p++ {
				for s := 1; s < coldStartSamples; s++ {
					prev := values[(b*coldStartSamples+s-1)*pixels+p]
					cur := values[(b*coldStartSamples+s)*pixels+p]
					require.Less(t, cur, prev,
						"sample %d of pixel %d should be closer than sample %d", s, p, s-1)
				}
			}
		}
	})
}

func TestDepthHypothesesSingleSample(t *testing.T) {
	graphtest.RunTestGraphFn(t, "single hypothesis passes the prior through",
		func(g *Graph) (inputs, outputs []*Node) {
			ctx := context.New()
			prior := Const(g, [][][][]float32{{{{2, 3}, {4, 5}}}})
			out := depthHypotheses(ctx, g, prior, 1, 0.005,
				Scalar(g, dtypes.Float32, testDepthMin), Scalar(g, dtypes.Float32, testDepthMax),
				1, 2, 2)
			return []*Node{prior}, []*Node{out}
		}, []any{
			[][][][]float32{{{{2, 3}, {4, 5}}}},
		}, 1e-6)
}

func TestDepthHypothesesPerturbation(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	const numSamples = 8
	got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		prior := MulScalar(Ones(g, shapes.Make(dtypes.Float32, 1, 1, 2, 2)), 10)
		return depthHypotheses(ctx, g, prior, numSamples, 0.01,
			Scalar(g, dtypes.Float32, testDepthMin), Scalar(g, dtypes.Float32, testDepthMax),
			1, 2, 2)
	})
	require.NoError(t, got.Shape().CheckDims(1, numSamples, 2, 2))

	got.MustConstFlatData(func(flat any) {
		values := flat.([]float32)
		for _, v := range values {
			require.GreaterOrEqual(t, v, float32(testDepthMin)*(1-1e-6))
			require.LessOrEqual(t, v, float32(testDepthMax)*(1+1e-6))
		}
		// Offset 0 sits at index numSamples/2 and reproduces the prior.
		const pixels = 2 * 2
		for p := 0; p < pixels; p++ {
			require.InDelta(t, 10, values[(numSamples/2)*pixels+p], 1e-4)
		}
		// Inverse depth increases with the offset index.
		for p := 0; p < pixels; p++ {
			for s := 1; s < numSamples; s++ {
				prev := values[(s-1)*pixels+p]
				cur := values[s*pixels+p]
				require.LessOrEqual(t, cur, prev*(1+1e-6))
			}
		}
	})
}
