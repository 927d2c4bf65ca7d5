// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patchmatchnet

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/tensors/images"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/gomlx/pkg/ml/layers/batchnorm"
)

// convBlock is the basic building block of every sub-network: convolution
// (no bias), batch normalization and ReLU. It works for 1D, 2D and 3D inputs,
// the kernel size and stride apply to every spatial axis.
func convBlock(ctx *context.Context, x *Node, channels, kernelSize, stride int) *Node {
	x = layers.Convolution(ctx, x).
		ChannelsAxis(images.ChannelsFirst).
		Channels(channels).
		KernelSize(kernelSize).
		Strides(stride).
		PadSame().
		UseBias(false).
		Done()
	x = batchnorm.New(ctx, x, 1).Done()
	return activations.Relu(x)
}

// conv3x3NoBias is a plain 3x3 convolution with same padding and no bias.
func conv3x3NoBias(ctx *context.Context, x *Node, channels int) *Node {
	return layers.Convolution(ctx, x).
		ChannelsAxis(images.ChannelsFirst).
		Channels(channels).
		KernelSize(3).
		PadSame().
		UseBias(false).
		Done()
}

// conv1x1 is a plain convolution head with kernel size 1.
func conv1x1(ctx *context.Context, x *Node, channels int, useBias bool) *Node {
	return layers.Convolution(ctx, x).
		ChannelsAxis(images.ChannelsFirst).
		Channels(channels).
		KernelSize(1).
		UseBias(useBias).
		Done()
}

// featureNet is the feature pyramid network shared by all views. It takes an
// image [batch, 3, height, width] and returns per-stage feature maps, indexed
// by stage: entry 1 is [batch, 16, height/2, width/2], entry 2
// [batch, 32, height/4, width/4] and entry 3 [batch, 64, height/8, width/8].
// Entry 0 is nil, full resolution has no feature map.
//
// Coarser maps are bilinearly upsampled and fused into finer ones, so fine
// features carry coarse context (an FPN, Lin et al. 2017).
func featureNet(ctx *context.Context, image *Node) [NumStages]*Node {
	ctx = ctx.In("feature")

	block := func(scope string, x *Node, channels, kernelSize, stride int) *Node {
		return convBlock(ctx.In(scope), x, channels, kernelSize, stride)
	}

	x := block("stage1_0", image, 8, 3, 1)
	x = block("stage1_1", x, 8, 3, 1)
	x = block("stage1_2", x, 16, 5, 2)
	x = block("stage1_3", x, 16, 3, 1)
	res1 := block("stage1_4", x, 16, 3, 1)

	x = block("stage2_0", res1, 32, 5, 2)
	x = block("stage2_1", x, 32, 3, 1)
	res2 := block("stage2_2", x, 32, 3, 1)

	x = block("stage3_0", res2, 64, 5, 2)
	x = block("stage3_1", x, 64, 3, 1)
	res3 := block("stage3_2", x, 64, 3, 1)

	var out [NumStages]*Node
	out[3] = conv1x1(ctx.In("output3"), res3, 64, false)
	intra2 := Add(upsample2x(res3), conv1x1(ctx.In("inner2"), res2, 64, true))
	out[2] = conv1x1(ctx.In("output2"), intra2, 32, false)
	intra1 := Add(upsample2x(intra2), conv1x1(ctx.In("inner1"), res1, 64, true))
	out[1] = conv1x1(ctx.In("output1"), intra1, 16, false)
	return out
}

// upsample2x bilinearly doubles the two trailing spatial axes of a
// channels-first tensor.
func upsample2x(x *Node) *Node {
	dims := x.Shape().Dimensions
	sizes := make([]int, len(dims))
	for i := range sizes {
		sizes[i] = NoInterpolation
	}
	sizes[len(dims)-2] = 2 * dims[len(dims)-2]
	sizes[len(dims)-1] = 2 * dims[len(dims)-1]
	return Interpolate(x, sizes...).Bilinear().HalfPixelCenters(true).AlignCorner(false).Done()
}
