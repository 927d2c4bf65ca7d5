// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patchmatchnet

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
)

// transposeConv2x is a fractionally-strided 3x3 convolution doubling the
// spatial size (stride-2 transposed convolution with padding 1 and output
// padding 1): the input is dilated with zeros and convolved with asymmetric
// same padding.
func transposeConv2x(ctx *context.Context, x *Node, channels int) *Node {
	g := x.Graph()
	inChannels := x.Shape().Dimensions[1]
	// ChannelsFirst kernel layout: [input_channels, output_channels, spatial...].
	kernel := ctx.VariableWithShape("weights",
		shapes.Make(x.DType(), inChannels, channels, 3, 3)).ValueGraph(g)
	return Convolve(x, kernel).
		ChannelsAxis(images.ChannelsFirst).
		InputDilationPerAxis(2, 2).
		PaddingPerDim([][2]int{{1, 2}, {1, 2}}).
		Done()
}

// refinement lifts the half-resolution depth map [batch, 1, height, width] to
// full resolution [batch, height*2, width*2], guided by the reference image.
// Depth is normalized to [0, 1], a residual is predicted from fused image and
// depth features and added to the bilinearly upsampled depth, and the result
// is mapped back to metric depth. depthMin and depthMax are scalars.
func refinement(ctx *context.Context, image, depth, depthMin, depthMax *Node) *Node {
	ctx = ctx.In("refinement")
	span := Sub(depthMax, depthMin)
	normalized := Div(Sub(depth, depthMin), span)

	imageFeat := convBlock(ctx.In("conv"), image, 8, 3, 1)

	x := convBlock(ctx.In("deconv0"), normalized, 8, 3, 1)
	x = convBlock(ctx.In("deconv1"), x, 8, 3, 1)
	x = transposeConv2x(ctx.In("deconv2"), x, 8)
	x = batchnorm.New(ctx.In("deconv3"), x, 1).CurrentScope().Done()
	x = activations.Relu(x)

	fused := Concatenate([]*Node{x, imageFeat}, 1)
	residual := convBlock(ctx.In("residual0"), fused, 8, 3, 1)
	residual = conv3x3NoBias(ctx.In("residual1"), residual, 1)

	refined := Add(upsample2x(normalized), residual)
	return Squeeze(Add(Mul(refined, span), depthMin), 1)
}
