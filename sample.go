// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patchmatchnet

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// SamplePadding selects how gridSample treats coordinates outside the image.
type SamplePadding int

const (
	// SampleBorder clamps coordinates to the image border, repeating edge values.
	SampleBorder SamplePadding = iota

	// SampleZeros makes out-of-image corners contribute zero, so samples fade
	// to zero as they leave the image.
	SampleZeros
)

// gridSample bilinearly samples a channels-first feature map
// [batch, channels, height, width] at the positions given by grid
// [batch, gridHeight, gridWidth, 2], whose last axis holds normalized
// (x, y) coordinates: -1 and +1 are the outer edges of the first and last
// pixel (half-pixel convention), so pixel centers sit at
// x = -1 + (2*col+1)/width. It returns [batch, channels, gridHeight, gridWidth].
//
// Gradients flow to both the feature values and the grid coordinates, which is
// what makes warping by a depth hypothesis differentiable in the depth.
func gridSample(feature, grid *Node, padding SamplePadding) *Node {
	g := feature.Graph()
	dtype := feature.DType()
	dims := feature.Shape().Dimensions
	batch, channels, height, width := dims[0], dims[1], dims[2], dims[3]
	gridDims := grid.Shape().Dimensions
	gridHeight, gridWidth := gridDims[1], gridDims[2]

	xNorm := Squeeze(SliceAxis(grid, -1, AxisElem(0)), -1) // [batch, gridHeight, gridWidth]
	yNorm := Squeeze(SliceAxis(grid, -1, AxisElem(1)), -1)

	// Un-normalize: -1 -> -0.5 and +1 -> size-0.5, pixel centers at integers.
	x := DivScalar(AddScalar(MulScalar(AddScalar(xNorm, 1), float64(width)), -1), 2)
	y := DivScalar(AddScalar(MulScalar(AddScalar(yNorm, 1), float64(height)), -1), 2)

	x0 := Floor(x)
	y0 := Floor(y)
	fx := Sub(x, x0) // fractional part, the bilinear weight along x
	fy := Sub(y, y0)

	// Flatten the feature map to [batch*height*width, channels] so each corner
	// lookup is a single Gather over flat row indices.
	flat := Reshape(TransposeAllAxes(feature, 0, 2, 3, 1), batch*height*width, channels)
	batchOffset := MulScalar(
		Iota(g, shapes.Make(dtypes.Int32, batch, gridHeight, gridWidth), 0),
		height*width)

	corner := func(xc, yc *Node) *Node {
		xi := ConvertDType(ClipScalar(xc, 0, float64(width-1)), dtypes.Int32)
		yi := ConvertDType(ClipScalar(yc, 0, float64(height-1)), dtypes.Int32)
		indices := Add(batchOffset, Add(MulScalar(yi, width), xi))
		values := Gather(flat, InsertAxes(indices, -1)) // [batch, gridHeight, gridWidth, channels]
		if padding == SampleZeros {
			inX := LogicalAnd(
				GreaterOrEqual(xc, ScalarZero(g, dtype)),
				LessOrEqual(xc, Scalar(g, dtype, float64(width-1))))
			inY := LogicalAnd(
				GreaterOrEqual(yc, ScalarZero(g, dtype)),
				LessOrEqual(yc, Scalar(g, dtype, float64(height-1))))
			mask := ConvertDType(LogicalAnd(inX, inY), dtype)
			values = Mul(values, InsertAxes(mask, -1))
		}
		return values
	}

	x1 := AddScalar(x0, 1)
	y1 := AddScalar(y0, 1)
	w00 := Mul(OneMinus(fx), OneMinus(fy))
	w01 := Mul(fx, OneMinus(fy))
	w10 := Mul(OneMinus(fx), fy)
	w11 := Mul(fx, fy)

	out := Mul(corner(x0, y0), InsertAxes(w00, -1))
	out = Add(out, Mul(corner(x1, y0), InsertAxes(w01, -1)))
	out = Add(out, Mul(corner(x0, y1), InsertAxes(w10, -1)))
	out = Add(out, Mul(corner(x1, y1), InsertAxes(w11, -1)))

	// Back to channels-first: [batch, channels, gridHeight, gridWidth].
	return TransposeAllAxes(out, 0, 3, 1, 2)
}
