// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patchmatchnet

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// scoreHead is the shared 1x1x1 conv stack used by the pixelwise, similarity
// and feature-weight networks: group channels -> 16 -> 8 -> 1.
func scoreHead(ctx *context.Context, x *Node) *Node {
	x = convBlock(ctx.In("conv0"), x, 16, 1, 1)
	x = convBlock(ctx.In("conv1"), x, 8, 1, 1)
	return conv1x1(ctx.In("conv2"), x, 1, true)
}

// pixelwiseNet estimates how much one source view should contribute at each
// pixel, from its grouped similarity volume [batch, groups, samples, height,
// width]: per-hypothesis visibility scores, max-pooled over hypotheses.
// Returns [batch, 1, height, width] in (0, 1).
func pixelwiseNet(ctx *context.Context, similarity *Node) *Node {
	score := Sigmoid(scoreHead(ctx.In("pixelwise_net"), similarity)) // [batch, 1, samples, height, width]
	return ReduceAndKeep(Squeeze(score, 1), ReduceMax, 1)
}

// featureWeightNet scores each evaluation neighbor by how similar its
// reference feature is to the center pixel's, so the aggregation window can
// ignore neighbors across depth discontinuities. Computed once per stage.
// Returns [batch, neighbors, height, width] in (0, 1).
func featureWeightNet(ctx *context.Context, refFeature, evalGrid *Node, neighbors, groups int) *Node {
	dims := refFeature.Shape().Dimensions
	batch, channels, height, width := dims[0], dims[1], dims[2], dims[3]

	sampled := gridSample(refFeature, evalGrid, SampleBorder)
	sampled = Reshape(sampled, batch, groups, channels/groups, neighbors, height, width)
	center := Reshape(refFeature, batch, groups, channels/groups, 1, height, width)
	correlation := ReduceMean(Mul(sampled, center), 2) // [batch, groups, neighbors, height, width]

	weight := Sigmoid(scoreHead(ctx.In("feature_weight_net"), correlation))
	return Squeeze(weight, 1)
}

// depthWeight scores each (hypothesis, neighbor) pair by how close the
// neighbor's hypothesis is in normalized inverse depth, saturating through a
// sigmoid: identical depths score sigmoid(4) ≈ 0.982, anything 4 or more
// intervals away scores sigmoid(-4) ≈ 0.018. Not trained, and detached.
// Returns [batch, samples, neighbors, height, width].
func depthWeight(depth, evalGrid, depthMin, depthMax *Node, intervalScale float64, neighbors int) *Node {
	dims := depth.Shape().Dimensions
	batch, numDepth, height, width := dims[0], dims[1], dims[2], dims[3]

	invMin := Reciprocal(depthMin)
	invMax := Reciprocal(depthMax)
	normalized := Div(Sub(Reciprocal(depth), invMax), Sub(invMin, invMax))

	sampled := gridSample(normalized, evalGrid, SampleBorder)
	sampled = Reshape(sampled, batch, numDepth, neighbors, height, width)
	intervals := DivScalar(Abs(Sub(sampled, InsertAxes(normalized, 2))), intervalScale)
	weight := Sigmoid(MulScalar(AddScalar(Neg(ClipScalar(intervals, 0, 4)), 2), 2))
	return StopGradient(weight)
}

// similarityNet turns the view-aggregated similarity volume
// [batch, groups, samples, height, width] into per-hypothesis matching scores,
// spatially aggregated over the adaptive evaluation window with the given
// per-(hypothesis, neighbor) weights. Returns [batch, samples, height, width].
func similarityNet(ctx *context.Context, similarity, evalGrid, weight *Node, neighbors int) *Node {
	dims := similarity.Shape().Dimensions
	batch, numDepth, height, width := dims[0], dims[2], dims[3], dims[4]

	score := Squeeze(scoreHead(ctx.In("similarity_net"), similarity), 1) // [batch, samples, height, width]
	sampled := gridSample(score, evalGrid, SampleBorder)                 // hypotheses act as channels here
	sampled = Reshape(sampled, batch, numDepth, neighbors, height, width)
	return ReduceSum(Mul(sampled, weight), 2)
}
