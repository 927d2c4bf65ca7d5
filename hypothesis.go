// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patchmatchnet

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// coldStartSamples is the hypothesis count of the stratified random
// initialization at the coarsest stage, when no prior depth exists yet.
const coldStartSamples = 48

// depthHypotheses builds the per-pixel candidate depth volume
// [batch, samples, height, width] for one PatchMatch iteration. All sampling
// happens in inverse-depth space, between 1/depthMax and 1/depthMin (scalars).
//
// Three regimes:
//   - No prior (nil): stratified random cold start, one uniform sample per
//     each of coldStartSamples equal inverse-depth bins, so hypotheses are
//     strictly ordered in inverse depth.
//   - numSamples == 1: the prior [batch, 1, height, width] passes through
//     unchanged (and detached), nothing to perturb.
//   - Otherwise: numSamples hypotheses at offsets -numSamples/2 .. numSamples/2-1
//     around the detached prior, spaced intervalScale of the full inverse-depth
//     range apart and clamped to it.
//
// The prior is always detached: hypothesis placement guides the search but is
// not itself optimized through earlier iterations.
func depthHypotheses(ctx *context.Context, g *Graph, prior *Node, numSamples int,
	intervalScale float64, depthMin, depthMax *Node, batch, height, width int) *Node {
	invMin := Reciprocal(depthMin)
	invMax := Reciprocal(depthMax)

	if prior == nil {
		shape := shapes.Make(dtypes.Float32, batch, coldStartSamples, height, width)
		bins := Add(ctx.RandomUniform(g, shape), Iota(g, shape, 1))
		inv := Add(Mul(DivScalar(Sub(invMin, invMax), coldStartSamples), bins), invMax)
		return Reciprocal(inv)
	}
	if numSamples == 1 {
		return StopGradient(prior)
	}

	shape := shapes.Make(dtypes.Float32, batch, numSamples, height, width)
	offsets := AddScalar(Iota(g, shape, 1), -float64(numSamples/2))
	inv := Add(
		Reciprocal(StopGradient(prior)),
		Mul(MulScalar(Sub(invMin, invMax), intervalScale), offsets))
	inv = Min(Max(inv, invMax), invMin)
	return Reciprocal(inv)
}

// inverseDepthRegression converts the probability volume into a depth map by
// taking the expected hypothesis index and mapping it back through the
// per-pixel inverse-depth range spanned by the hypotheses. Returns
// [batch, 1, height, width].
func inverseDepthRegression(depth, score *Node) *Node {
	g := depth.Graph()
	numDepth := depth.Shape().Dimensions[1]

	index := ReduceAndKeep(Mul(Iota(g, depth.Shape(), 1), score), ReduceSum, 1)
	// Linear interpolation in inverse depth between the first and last
	// hypothesis of each pixel.
	invLast := Reciprocal(SliceAxis(depth, 1, AxisElem(numDepth-1)))
	invFirst := Reciprocal(SliceAxis(depth, 1, AxisElem(0)))
	return Reciprocal(Add(invFirst,
		Mul(Sub(invLast, invFirst), DivScalar(index, float64(numDepth-1)))))
}
