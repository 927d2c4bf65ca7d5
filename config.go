// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package patchmatchnet implements PatchmatchNet ("PatchmatchNet: Learned Multi-View
// Patchmatch Stereo", Wang et al., CVPR 2021), a learned, differentiable variant of
// the PatchMatch stereo algorithm for multi-view depth estimation.
//
// Given a reference image, one or more source images and their camera projection
// matrices, Model.Infer builds a computation graph that regresses a dense depth map
// for the reference view, together with a per-pixel confidence map.
//
// The pipeline is coarse-to-fine: a shared feature pyramid network extracts features
// at 1/2, 1/4 and 1/8 of the input resolution, learned PatchMatch iterates at each
// scale (hypothesize, propagate, differentiably warp, aggregate, regress), and a
// final refinement network upsamples the half-resolution depth back to full
// resolution guided by the reference image.
//
// All tensors use channels-first layout ([batch, channels, height, width]), and all
// depth sampling happens in inverse-depth space, which distributes hypotheses evenly
// in image space rather than in scene space.
package patchmatchnet

import (
	"github.com/gomlx/exceptions"
)

// NumStages is the number of resolution stages of the coarse-to-fine pipeline.
// Stage 0 is full resolution and is handled by the refinement network alone;
// stages 1 to 3 (at 1/2, 1/4 and 1/8 resolution) run learned PatchMatch.
const NumStages = 4

// StageOptions configures the PatchMatch module of one resolution stage.
type StageOptions struct {
	// Stage index in [1, NumStages-1]. Stage 1 is the finest PatchMatch stage.
	Stage int

	// Iterations of hypothesize/propagate/evaluate at this stage.
	Iterations int

	// NumSamples is the number of depth hypotheses perturbed around the prior
	// depth at each iteration. The cold start at the coarsest stage ignores it
	// and always samples coldStartSamples hypotheses.
	NumSamples int

	// IntervalScale scales the inverse-depth spacing between perturbed
	// hypotheses, as a fraction of the full inverse-depth range.
	IntervalScale float64

	// PropagationRange dilates the fixed offset patterns and the learned offset
	// convolutions, widening the spatial reach of propagation and evaluation.
	PropagationRange int

	// PropagationNeighbors is the number of neighbors whose depth is propagated
	// into the hypothesis set each iteration. Must be 0, 4, 8 or 16.
	PropagationNeighbors int

	// EvaluationNeighbors is the size of the adaptive evaluation window.
	// Must be 9 or 17.
	EvaluationNeighbors int

	// NumFeatures is the channel count of the feature pyramid at this stage.
	NumFeatures int

	// NumGroups for group-wise feature correlation. Must divide NumFeatures.
	NumGroups int
}

// Options configures the full model. Stages are ordered finest first:
// Stages[0] configures stage 1 (half resolution), Stages[2] stage 3 (the
// coarsest, where depth search starts from scratch).
type Options struct {
	Stages [NumStages - 1]StageOptions
}

// DefaultOptions returns the configuration used by the published model.
func DefaultOptions() *Options {
	return &Options{
		Stages: [NumStages - 1]StageOptions{
			{Stage: 1, Iterations: 1, NumSamples: 8, IntervalScale: 0.005,
				PropagationRange: 6, PropagationNeighbors: 0, EvaluationNeighbors: 9,
				NumFeatures: 16, NumGroups: 4},
			{Stage: 2, Iterations: 2, NumSamples: 8, IntervalScale: 0.0125,
				PropagationRange: 4, PropagationNeighbors: 8, EvaluationNeighbors: 9,
				NumFeatures: 32, NumGroups: 8},
			{Stage: 3, Iterations: 2, NumSamples: 16, IntervalScale: 0.025,
				PropagationRange: 2, PropagationNeighbors: 16, EvaluationNeighbors: 9,
				NumFeatures: 64, NumGroups: 8},
		},
	}
}

func (opts *StageOptions) validate() {
	if opts.Stage < 1 || opts.Stage >= NumStages {
		exceptions.Panicf("patchmatchnet: stage must be in [1, %d], got %d", NumStages-1, opts.Stage)
	}
	switch opts.PropagationNeighbors {
	case 0, 4, 8, 16:
	default:
		exceptions.Panicf("patchmatchnet: stage %d: propagation neighbors must be 0, 4, 8 or 16, got %d",
			opts.Stage, opts.PropagationNeighbors)
	}
	switch opts.EvaluationNeighbors {
	case 9:
	case 17:
		// The 17-point window doubles the 8-neighbor ring, so it needs one.
		if opts.PropagationNeighbors < 8 {
			exceptions.Panicf("patchmatchnet: stage %d: a 17-point evaluation window requires at least 8 propagation neighbors, got %d",
				opts.Stage, opts.PropagationNeighbors)
		}
	default:
		exceptions.Panicf("patchmatchnet: stage %d: evaluation neighbors must be 9 or 17, got %d",
			opts.Stage, opts.EvaluationNeighbors)
	}
	if opts.NumGroups <= 0 || opts.NumFeatures%opts.NumGroups != 0 {
		exceptions.Panicf("patchmatchnet: stage %d: groups (%d) must divide feature channels (%d)",
			opts.Stage, opts.NumGroups, opts.NumFeatures)
	}
	if opts.Iterations < 1 {
		exceptions.Panicf("patchmatchnet: stage %d: iterations must be >= 1, got %d", opts.Stage, opts.Iterations)
	}
	if opts.NumSamples < 1 {
		exceptions.Panicf("patchmatchnet: stage %d: depth samples must be >= 1, got %d", opts.Stage, opts.NumSamples)
	}
	if opts.IntervalScale <= 0 {
		exceptions.Panicf("patchmatchnet: stage %d: interval scale must be positive, got %g", opts.Stage, opts.IntervalScale)
	}
}
