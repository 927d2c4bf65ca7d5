// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patchmatchnet

import (
	"math"
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/stretchr/testify/require"
)

// latticeGrid builds an evaluation grid with zero learned offsets.
func latticeGrid(g *Graph, offsets []offset, batch, height, width int) *Node {
	learned := Zeros(g, shapes.Make(dtypes.Float32, batch, 2*len(offsets), height, width))
	return samplingGrid(learned, offsets)
}

func TestDepthWeightConstantDepth(t *testing.T) {
	// With a spatially constant hypothesis volume every neighbor agrees
	// exactly, so each weight saturates at sigmoid(2*(2-0)) = sigmoid(4).
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	const (
		height, width = 4, 4
		numDepth      = 3
	)
	offsets := evaluationOffsets(9, 2)
	got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		depth := MulScalar(Ones(g, shapes.Make(dtypes.Float32, 1, numDepth, height, width)), 5)
		grid := latticeGrid(g, offsets, 1, height, width)
		return depthWeight(depth, grid,
			Scalar(g, dtypes.Float32, testDepthMin), Scalar(g, dtypes.Float32, testDepthMax),
			0.025, len(offsets))
	})
	require.NoError(t, got.Shape().CheckDims(1, numDepth, len(offsets), height, width))

	want := float32(1 / (1 + math.Exp(-4)))
	got.MustConstFlatData(func(flat any) {
		for _, v := range flat.([]float32) {
			require.InDelta(t, want, v, 1e-4)
		}
	})
}

func TestPixelwiseNetRange(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		similarity := ctx.RandomUniform(g, shapes.Make(dtypes.Float32, 1, 4, 6, 4, 4))
		return pixelwiseNet(ctx, similarity)
	})
	require.NoError(t, got.Shape().CheckDims(1, 1, 4, 4))
	got.MustConstFlatData(func(flat any) {
		for _, v := range flat.([]float32) {
			require.Greater(t, v, float32(0))
			require.Less(t, v, float32(1))
		}
	})
}

func TestFeatureWeightNetRange(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	offsets := evaluationOffsets(9, 2)
	got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		feature := ctx.RandomUniform(g, shapes.Make(dtypes.Float32, 1, 8, 4, 4))
		grid := latticeGrid(g, offsets, 1, 4, 4)
		return featureWeightNet(ctx, feature, grid, len(offsets), 4)
	})
	require.NoError(t, got.Shape().CheckDims(1, len(offsets), 4, 4))
	got.MustConstFlatData(func(flat any) {
		for _, v := range flat.([]float32) {
			require.Greater(t, v, float32(0))
			require.Less(t, v, float32(1))
		}
	})
}

func TestSimilarityNetShape(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	offsets := evaluationOffsets(9, 2)
	const numDepth = 5
	got := context.MustExecOnce(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		similarity := ctx.RandomUniform(g, shapes.Make(dtypes.Float32, 1, 4, numDepth, 4, 4))
		grid := latticeGrid(g, offsets, 1, 4, 4)
		weight := DivScalar(
			Ones(g, shapes.Make(dtypes.Float32, 1, numDepth, len(offsets), 4, 4)),
			float64(len(offsets)))
		return similarityNet(ctx, similarity, grid, weight, len(offsets))
	})
	require.NoError(t, got.Shape().CheckDims(1, numDepth, 4, 4))
}
