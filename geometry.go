// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patchmatchnet

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/context/initializers"
	"github.com/gomlx/gomlx/pkg/ml/layers"
)

// offset is a fixed (x, y) displacement in pixels.
type offset struct{ X, Y int }

// ring returns the 8-neighborhood at the given dilation, row-major,
// center excluded.
func ring(dilation int) []offset {
	var offsets []offset
	for dy := -dilation; dy <= dilation; dy += dilation {
		for dx := -dilation; dx <= dilation; dx += dilation {
			if dx == 0 && dy == 0 {
				continue
			}
			offsets = append(offsets, offset{X: dx, Y: dy})
		}
	}
	return offsets
}

// propagationOffsets returns the fixed spatial pattern from which depth
// hypotheses are propagated: 0 (disabled), 4 (cross), 8 (ring) or 16
// (ring plus doubled ring) neighbors, all scaled by dilation.
func propagationOffsets(neighbors, dilation int) []offset {
	switch neighbors {
	case 0:
		return nil
	case 4:
		return []offset{
			{X: 0, Y: -dilation},
			{X: -dilation, Y: 0},
			{X: dilation, Y: 0},
			{X: 0, Y: dilation},
		}
	case 8:
		return ring(dilation)
	case 16:
		offsets := ring(dilation)
		for _, o := range ring(dilation) {
			offsets = append(offsets, offset{X: 2 * o.X, Y: 2 * o.Y})
		}
		return offsets
	}
	exceptions.Panicf("patchmatchnet: no propagation pattern for %d neighbors", neighbors)
	return nil
}

// evaluationOffsets returns the adaptive evaluation window: a 3x3 grid
// including the center at dilation-1, optionally extended by the doubled
// 8-neighbor ring at the full dilation (the 17-point window). At dilation 1
// the grid degenerates to nine center offsets, keeping the window size (and
// the learned offset head's channel count) fixed.
func evaluationOffsets(neighbors, dilation int) []offset {
	d := dilation - 1
	var offsets []offset
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			offsets = append(offsets, offset{X: dx * d, Y: dy * d})
		}
	}
	switch neighbors {
	case 9:
	case 17:
		for _, o := range ring(dilation) {
			offsets = append(offsets, offset{X: 2 * o.X, Y: 2 * o.Y})
		}
	default:
		exceptions.Panicf("patchmatchnet: no evaluation pattern for %d neighbors", neighbors)
	}
	return offsets
}

// offsetConv is the learned per-pixel offset head: a dilated 3x3 convolution
// producing 2*neighbors channels, interleaved (x, y) per neighbor. It is
// zero-initialized so training starts from the fixed patterns alone.
func offsetConv(ctx *context.Context, feature *Node, neighbors, dilation int) *Node {
	ctx = ctx.WithInitializer(initializers.Zero)
	return layers.Convolution(ctx, feature).
		ChannelsAxis(images.ChannelsFirst).
		Channels(2 * neighbors).
		KernelSize(3).
		Dilations(dilation).
		PadSame().
		CurrentScope().
		Done()
}

// samplingGrid combines the fixed offset pattern with the learned per-pixel
// offsets into a normalized sampling grid for gridSample, shaped
// [batch, neighbors*height, width, 2]. The pixel lattice itself contributes
// no gradient, the learned offsets do.
func samplingGrid(learned *Node, offsets []offset) *Node {
	g := learned.Graph()
	dims := learned.Shape().Dimensions
	batch, height, width := dims[0], dims[2], dims[3]
	n := len(offsets)

	learned = Reshape(learned, batch, n, 2, height, width)
	xLearned := Squeeze(SliceAxis(learned, 2, AxisElem(0)), 2) // [batch, n, height, width]
	yLearned := Squeeze(SliceAxis(learned, 2, AxisElem(1)), 2)

	xFixed := make([]float32, n)
	yFixed := make([]float32, n)
	for i, o := range offsets {
		xFixed[i] = float32(o.X)
		yFixed[i] = float32(o.Y)
	}

	lattice := func(axis int, fixed []float32) *Node {
		base := Iota(g, shapes.Make(dtypes.Float32, height, width), axis)
		base = InsertAxes(base, 0, 0) // [1, 1, height, width]
		return StopGradient(Add(base, Reshape(Const(g, fixed), 1, n, 1, 1)))
	}
	x := Add(lattice(1, xFixed), xLearned) // [batch, n, height, width]
	y := Add(lattice(0, yFixed), yLearned)

	// Normalize to [-1, 1] with -1/+1 at the first/last pixel centers, the
	// convention expected upstream of the half-pixel un-normalization.
	xNorm := AddScalar(DivScalar(x, float64(width-1)/2), -1)
	yNorm := AddScalar(DivScalar(y, float64(height-1)/2), -1)
	grid := Stack([]*Node{xNorm, yNorm}, -1) // [batch, n, height, width, 2]
	return Reshape(grid, batch, n*height, width, 2)
}
