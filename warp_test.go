// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patchmatchnet

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
)

func TestInvertProjection(t *testing.T) {
	// P * P⁻¹ must be the identity for a projection with bottom row (0,0,0,1).
	proj := [][][]float32{{
		{2, 0, 1, 5},
		{0, 3, 2, -1},
		{0, 0, 1, 2},
		{0, 0, 0, 1},
	}}
	identity := [][][]float32{{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}}
	graphtest.RunTestGraphFn(t, "invertProjection",
		func(g *Graph) (inputs, outputs []*Node) {
			p := Const(g, proj)
			product := Einsum("bij,bjk->bik", p, invertProjection(p))
			return []*Node{p}, []*Node{product}
		}, []any{identity}, 1e-5)
}

func TestWarpFeaturesIdentity(t *testing.T) {
	// With identical projections every pixel reprojects onto itself whatever
	// the hypothesized depth, so all hypothesis slices are equal. Exact value
	// checks only hold at the center pixel of an odd-sized image: the grid
	// normalization maps pixel x to x*width/(width-1) - 0.5, a half-pixel
	// shift everywhere except the center (faithful to the published model).
	graphtest.RunTestGraphFn(t, "warpFeatures identity",
		func(g *Graph) (inputs, outputs []*Node) {
			feature := Reshape(IotaFull(g, shapes.Make(dtypes.Float32, 25)), 1, 1, 5, 5)
			eye := Const(g, [][][]float32{{
				{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1},
			}})
			depth := Concatenate([]*Node{
				Ones(g, shapes.Make(dtypes.Float32, 1, 1, 5, 5)),
				MulScalar(Ones(g, shapes.Make(dtypes.Float32, 1, 1, 5, 5)), 7),
			}, 1)
			warped := warpFeatures(feature, eye, eye, depth) // [1, 1, 2, 5, 5]
			hypothesisDiff := Sub(
				SliceAxis(warped, 2, AxisElem(0)),
				SliceAxis(warped, 2, AxisElem(1)))
			center := Reshape(Slice(warped,
				AxisElem(0), AxisElem(0), AxisElem(0), AxisElem(2), AxisElem(2)), 1)
			return []*Node{feature}, []*Node{hypothesisDiff, center}
		}, []any{
			[][][][][]float32{{{{{0, 0, 0, 0, 0}, {0, 0, 0, 0, 0}, {0, 0, 0, 0, 0}, {0, 0, 0, 0, 0}, {0, 0, 0, 0, 0}}}}},
			[]float32{12},
		}, 1e-5)
}

func TestWarpFeaturesBehindCamera(t *testing.T) {
	// A negative hypothesized depth puts every point behind the source
	// camera; those samples are pushed off-image and contribute zero.
	graphtest.RunTestGraphFn(t, "warpFeatures behind camera",
		func(g *Graph) (inputs, outputs []*Node) {
			feature := Const(g, [][][][]float32{{{{1, 2}, {3, 4}}}})
			eye := Const(g, [][][]float32{{
				{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1},
			}})
			depth := Const(g, [][][][]float32{{{{-1, -1}, {-1, -1}}}})
			warped := warpFeatures(feature, eye, eye, depth)
			return []*Node{feature}, []*Node{warped}
		}, []any{
			[][][][][]float32{{{{{0, 0}, {0, 0}}}}},
		}, 1e-6)
}
