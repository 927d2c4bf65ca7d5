// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patchmatchnet

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
)

// patchMatchStage runs learned PatchMatch at one resolution stage.
type patchMatchStage struct {
	opts        StageOptions
	propOffsets []offset
	evalOffsets []offset
}

func newPatchMatchStage(opts StageOptions) *patchMatchStage {
	opts.validate()
	return &patchMatchStage{
		opts:        opts,
		propOffsets: propagationOffsets(opts.PropagationNeighbors, opts.PropagationRange),
		evalOffsets: evaluationOffsets(opts.EvaluationNeighbors, opts.PropagationRange),
	}
}

// hasPropagation reports whether this stage ever propagates: the finest stage
// with a single iteration skips propagation on its only (terminal) iteration,
// so it carries no propagation offset head at all.
func (s *patchMatchStage) hasPropagation() bool {
	return s.opts.PropagationNeighbors > 0 && !(s.opts.Stage == 1 && s.opts.Iterations == 1)
}

// stageState is the loop-carried state of the coarse-to-fine pipeline.
type stageState struct {
	// Depth estimate [batch, 1, height, width] at this stage's resolution.
	Depth *Node
	// Score is the probability volume [batch, samples, height, width] of the
	// stage's last iteration. The full-resolution confidence derives from the
	// finest stage's score.
	Score *Node
	// ViewWeights [batch, views-1, height, width] holds per-source-view
	// visibility weights, estimated once at the coarsest stage and reused
	// (upsampled) by all finer ones.
	ViewWeights *Node
}

// run executes this stage's PatchMatch iterations. prior and viewWeights are
// nil at the coarsest stage.
func (s *patchMatchStage) run(ctx *context.Context, refFeature *Node, srcFeatures []*Node,
	refProj *Node, srcProjs []*Node, depthMin, depthMax *Node,
	prior, viewWeights *Node) stageState {
	ctx = ctx.Inf("patch_match_%d", s.opts.Stage)
	g := refFeature.Graph()
	dims := refFeature.Shape().Dimensions
	batch, height, width := dims[0], dims[2], dims[3]

	var propagationGrid *Node
	if s.hasPropagation() {
		offsets := offsetConv(ctx.In("propagation_conv"), refFeature,
			s.opts.PropagationNeighbors, s.opts.PropagationRange)
		propagationGrid = samplingGrid(offsets, s.propOffsets)
	}
	evalHead := offsetConv(ctx.In("evaluation_conv"), refFeature,
		s.opts.EvaluationNeighbors, s.opts.PropagationRange)
	evaluationGrid := samplingGrid(evalHead, s.evalOffsets)

	featureWeight := featureWeightNet(ctx, refFeature, evaluationGrid,
		s.opts.EvaluationNeighbors, s.opts.NumGroups)

	depth := prior
	var score *Node
	for iter := 0; iter < s.opts.Iterations; iter++ {
		terminal := s.opts.Stage == 1 && iter == s.opts.Iterations-1
		hypotheses := depthHypotheses(ctx, g, depth, s.opts.NumSamples,
			s.opts.IntervalScale, depthMin, depthMax, batch, height, width)
		if s.opts.PropagationNeighbors > 0 && !terminal {
			hypotheses = propagate(hypotheses, propagationGrid, s.opts.PropagationNeighbors)
		}

		weight := depthWeight(hypotheses, evaluationGrid, depthMin, depthMax,
			s.opts.IntervalScale, s.opts.EvaluationNeighbors)
		weight = Mul(weight, InsertAxes(featureWeight, 1))
		weight = Div(weight, ReduceAndKeep(weight, ReduceSum, 2))

		depth, score, viewWeights = s.evaluate(ctx, refFeature, srcFeatures,
			refProj, srcProjs, hypotheses, evaluationGrid, weight, viewWeights, terminal)
	}
	return stageState{Depth: StopGradient(depth), Score: score, ViewWeights: viewWeights}
}

// evaluate warps every source view to the hypothesized depths, correlates
// against the reference features group-wise, combines views by their
// visibility weights, scores hypotheses with the similarity network and
// regresses a depth map. On the terminal iteration (isInverse) depth comes
// from inverse-depth regression of the expected hypothesis index, otherwise
// from the plain probability-weighted average.
func (s *patchMatchStage) evaluate(ctx *context.Context, refFeature *Node, srcFeatures []*Node,
	refProj *Node, srcProjs []*Node, hypotheses, evalGrid, weight, viewWeights *Node,
	isInverse bool) (depth, score, viewWeightsOut *Node) {
	groups := s.opts.NumGroups
	dims := refFeature.Shape().Dimensions
	batch, channels, height, width := dims[0], dims[1], dims[2], dims[3]

	refGrouped := Reshape(refFeature, batch, groups, channels/groups, 1, height, width)
	hasWeights := viewWeights != nil

	var similaritySum, weightSum *Node
	var collected []*Node
	for i, src := range srcFeatures {
		warped := warpFeatures(src, srcProjs[i], refProj, hypotheses)
		warped = Reshape(warped, batch, groups, channels/groups,
			warped.Shape().Dimensions[2], height, width)
		similarity := ReduceMean(Mul(warped, refGrouped), 2) // [batch, groups, samples, height, width]

		var viewWeight *Node
		if hasWeights {
			viewWeight = SliceAxis(viewWeights, 1, AxisElem(i)) // [batch, 1, height, width]
		} else {
			viewWeight = pixelwiseNet(ctx, similarity)
			collected = append(collected, viewWeight)
		}
		weighted := Mul(similarity, InsertAxes(viewWeight, 1))
		if similaritySum == nil {
			similaritySum = weighted
			weightSum = InsertAxes(viewWeight, 1)
		} else {
			similaritySum = Add(similaritySum, weighted)
			weightSum = Add(weightSum, InsertAxes(viewWeight, 1))
		}
	}

	scores := similarityNet(ctx, Div(similaritySum, weightSum), evalGrid, weight,
		s.opts.EvaluationNeighbors)
	score = Softmax(scores, 1)

	if isInverse {
		depth = inverseDepthRegression(hypotheses, score)
	} else {
		depth = ReduceAndKeep(Mul(hypotheses, score), ReduceSum, 1)
	}
	if hasWeights {
		viewWeightsOut = viewWeights
	} else {
		viewWeightsOut = StopGradient(Concatenate(collected, 1))
	}
	return depth, score, viewWeightsOut
}
