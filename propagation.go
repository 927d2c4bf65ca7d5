// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patchmatchnet

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
)

// propagate augments the hypothesis volume [batch, samples, height, width]
// with the middle hypothesis of each spatial neighbor, sampled through the
// adaptive propagation grid, then re-sorts every pixel's hypotheses ascending
// in depth. Good depth estimates spread to neighboring pixels this way, the
// core idea PatchMatch borrows from the classic algorithm.
//
// Returns [batch, samples+neighbors, height, width].
func propagate(depth, grid *Node, neighbors int) *Node {
	dims := depth.Shape().Dimensions
	batch, numDepth, height, width := dims[0], dims[1], dims[2], dims[3]

	middle := SliceAxis(depth, 1, AxisElem(numDepth/2)) // [batch, 1, height, width]
	sampled := gridSample(middle, grid, SampleBorder)   // [batch, 1, neighbors*height, width]
	sampled = Reshape(sampled, batch, neighbors, height, width)
	return Sort(Concatenate([]*Node{depth, sampled}, 1), 1, true)
}
