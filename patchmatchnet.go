// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patchmatchnet

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"k8s.io/klog/v2"
)

// Model is a PatchmatchNet depth estimation model. It is stateless between
// calls; all learned parameters live in the context under the scope given to
// Infer, so a single Model can serve many graphs and contexts.
type Model struct {
	options *Options
	stages  []*patchMatchStage // stages[0] is stage 1, the finest.
}

// New creates a Model. A nil options uses DefaultOptions. It panics if the
// configuration is invalid (unsupported neighbor counts, groups not dividing
// channels).
func New(options *Options) *Model {
	if options == nil {
		options = DefaultOptions()
	}
	m := &Model{options: options}
	for i := range options.Stages {
		if want := i + 1; options.Stages[i].Stage != want {
			exceptions.Panicf("patchmatchnet: Stages[%d] must configure stage %d, got %d",
				i, want, options.Stages[i].Stage)
		}
		m.stages = append(m.stages, newPatchMatchStage(options.Stages[i]))
	}
	return m
}

// Infer builds the depth estimation graph.
//
// Inputs:
//   - images: [batch, views, 3, height, width], view 0 is the reference view.
//     Height and width must be divisible by 8.
//   - projections: [batch, NumStages, views, 4, 4] projection matrices
//     (intrinsics times world-to-camera pose), per stage resolution. Index 0
//     along the stage axis is full resolution and is unused, entries 1 to 3
//     correspond to the 1/2, 1/4 and 1/8 resolution feature maps.
//   - depthMin, depthMax: scalars bounding the depth search range.
//
// Outputs: depth [batch, height, width] and confidence [batch, height, width]
// in [0, 1].
//
// The same feature network weights are applied to every view, so Infer marks
// the context unchecked for variable reuse.
func (m *Model) Infer(ctx *context.Context, images, projections, depthMin, depthMax *Node) (depth, confidence *Node) {
	ctx = ctx.Checked(false)
	dims := images.Shape().Dimensions
	if len(dims) != 5 || dims[2] != 3 {
		exceptions.Panicf("patchmatchnet: images must be [batch, views, 3, height, width], got %s",
			images.Shape())
	}
	batch, views, height, width := dims[0], dims[1], dims[3], dims[4]
	if height%8 != 0 || width%8 != 0 {
		exceptions.Panicf("patchmatchnet: image height and width must be divisible by 8, got %dx%d",
			height, width)
	}
	if views < 2 {
		exceptions.Panicf("patchmatchnet: need the reference view and at least one source view, got %d", views)
	}
	klog.V(1).Infof("patchmatchnet: building inference graph for %d views of %dx%d (batch %d)",
		views, width, height, batch)

	view := func(i int) *Node {
		return Squeeze(SliceAxis(images, 1, AxisElem(i)), 1) // [batch, 3, height, width]
	}
	refImage := view(0)
	refFeatures := featureNet(ctx, refImage)
	srcFeatures := make([][NumStages]*Node, views-1)
	for i := 1; i < views; i++ {
		srcFeatures[i-1] = featureNet(ctx, view(i))
	}

	projection := func(stage, v int) *Node {
		p := Slice(projections, AxisRange(), AxisElem(stage), AxisElem(v))
		return Reshape(p, batch, 4, 4)
	}

	var state stageState
	for stage := NumStages - 1; stage >= 1; stage-- {
		srcAtStage := make([]*Node, views-1)
		srcProjs := make([]*Node, views-1)
		for i := range srcAtStage {
			srcAtStage[i] = srcFeatures[i][stage]
			srcProjs[i] = projection(stage, i+1)
		}
		state = m.stages[stage-1].run(ctx, refFeatures[stage], srcAtStage,
			projection(stage, 0), srcProjs, depthMin, depthMax,
			state.Depth, state.ViewWeights)
		if stage > 1 {
			state.Depth = upsample2x(state.Depth)
			state.ViewWeights = upsample2x(state.ViewWeights)
		}
	}

	depth = refinement(ctx, refImage, state.Depth, depthMin, depthMax)
	confidence = confidenceMap(state.Score)
	return depth, confidence
}
