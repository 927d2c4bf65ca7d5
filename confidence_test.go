// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patchmatchnet

import (
	"testing"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/graph/graphtest"
	"github.com/gomlx/gomlx/pkg/core/shapes"
)

func TestConfidenceMapUniform(t *testing.T) {
	// A uniform probability volume over 8 hypotheses: every 4-window holds
	// 4/8 = 0.5 of the mass (the expected index, 3.5, truncates to 3, an
	// interior window), at every pixel and after upsampling.
	graphtest.RunTestGraphFn(t, "confidenceMap uniform",
		func(g *Graph) (inputs, outputs []*Node) {
			score := DivScalar(Ones(g, shapes.Make(dtypes.Float32, 1, 8, 2, 2)), 8)
			return []*Node{score}, []*Node{confidenceMap(score)}
		}, []any{
			[][][]float32{{
				{0.5, 0.5, 0.5, 0.5},
				{0.5, 0.5, 0.5, 0.5},
				{0.5, 0.5, 0.5, 0.5},
				{0.5, 0.5, 0.5, 0.5},
			}},
		}, 1e-5)
}

func TestConfidenceMapPeaked(t *testing.T) {
	// All probability mass on one hypothesis: the window around the expected
	// index captures everything, confidence 1.
	graphtest.RunTestGraphFn(t, "confidenceMap peaked",
		func(g *Graph) (inputs, outputs []*Node) {
			peak := ConvertDType(
				Equal(Iota(g, shapes.Make(dtypes.Float32, 1, 8, 2, 2), 1),
					Scalar(g, dtypes.Float32, 3)),
				dtypes.Float32)
			return []*Node{peak}, []*Node{confidenceMap(peak)}
		}, []any{
			[][][]float32{{
				{1, 1, 1, 1},
				{1, 1, 1, 1},
				{1, 1, 1, 1},
				{1, 1, 1, 1},
			}},
		}, 1e-5)
}
