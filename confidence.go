// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patchmatchnet

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// confidenceMap derives a full-resolution confidence map [batch, height*2,
// width*2] from the finest stage's probability volume [batch, samples, height,
// width]: the probability mass in a 4-hypothesis window around each pixel's
// expected hypothesis index, bilinearly upsampled. Values stay in [0, 1]
// because the window sums a slice of a probability distribution.
func confidenceMap(score *Node) *Node {
	g := score.Graph()
	dtype := score.DType()
	dims := score.Shape().Dimensions
	batch, numDepth, height, width := dims[0], dims[1], dims[2], dims[3]

	// Moving sum of 4 along the hypothesis axis, padded 1 before and 2 after,
	// so entry d holds score[d-1] + score[d] + score[d+1] + score[d+2].
	padded := Concatenate([]*Node{
		Zeros(g, shapes.Make(dtype, batch, 1, height, width)),
		score,
		Zeros(g, shapes.Make(dtype, batch, 2, height, width)),
	}, 1)
	var windowSum *Node
	for k := 0; k < 4; k++ {
		window := SliceAxis(padded, 1, AxisRange(k, k+numDepth))
		if windowSum == nil {
			windowSum = window
		} else {
			windowSum = Add(windowSum, window)
		}
	}

	// Expected hypothesis index, truncated and clamped, selected by mask
	// rather than gather so the index stays per pixel.
	index := ReduceAndKeep(Mul(score, Iota(g, score.Shape(), 1)), ReduceSum, 1)
	index = ClipScalar(Floor(index), 0, float64(numDepth-1)) // [batch, 1, height, width]
	selector := ConvertDType(Equal(Iota(g, score.Shape(), 1), index), dtype)

	confidence := ReduceAndKeep(Mul(windowSum, selector), ReduceSum, 1)
	return Squeeze(upsample2x(confidence), 1)
}
