// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package patchmatchnet

import (
	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/core/shapes"
)

// minProjectedDepth is the z threshold below which a projected point counts
// as behind the source camera.
const minProjectedDepth = 1e-3

// invert3x3 inverts a batch of 3x3 matrices [batch, 3, 3] by the closed-form
// adjugate over determinant.
func invert3x3(m *Node) *Node {
	at := func(i, j int) *Node {
		return Squeeze(Slice(m, AxisRange(), AxisElem(i), AxisElem(j)), 1, 2) // [batch]
	}
	m00, m01, m02 := at(0, 0), at(0, 1), at(0, 2)
	m10, m11, m12 := at(1, 0), at(1, 1), at(1, 2)
	m20, m21, m22 := at(2, 0), at(2, 1), at(2, 2)

	c00 := Sub(Mul(m11, m22), Mul(m12, m21))
	c01 := Sub(Mul(m12, m20), Mul(m10, m22))
	c02 := Sub(Mul(m10, m21), Mul(m11, m20))
	det := Add(Add(Mul(m00, c00), Mul(m01, c01)), Mul(m02, c02))

	rows := []*Node{
		Stack([]*Node{c00, Sub(Mul(m02, m21), Mul(m01, m22)), Sub(Mul(m01, m12), Mul(m02, m11))}, -1),
		Stack([]*Node{c01, Sub(Mul(m00, m22), Mul(m02, m20)), Sub(Mul(m02, m10), Mul(m00, m12))}, -1),
		Stack([]*Node{c02, Sub(Mul(m01, m20), Mul(m00, m21)), Sub(Mul(m00, m11), Mul(m01, m10))}, -1),
	}
	return Div(Stack(rows, 1), InsertAxes(det, -1, -1))
}

// invertProjection inverts a batch of 4x4 projection matrices [batch, 4, 4]
// whose bottom row is (0, 0, 0, 1): inverse = [R⁻¹ | -R⁻¹t] over the same
// bottom row. Projections built from intrinsics and rigid poses always have
// this form.
func invertProjection(proj *Node) *Node {
	g := proj.Graph()
	batch := proj.Shape().Dimensions[0]

	m := Slice(proj, AxisRange(), AxisRange(0, 3), AxisRange(0, 3)) // [batch, 3, 3]
	t := Slice(proj, AxisRange(), AxisRange(0, 3), AxisElem(3))    // [batch, 3, 1]
	mInv := invert3x3(m)
	tInv := Neg(Einsum("bij,bjk->bik", mInv, t))

	top := Concatenate([]*Node{mInv, tInv}, -1) // [batch, 3, 4]
	bottom := BroadcastToDims(
		Reshape(Const(g, []float32{0, 0, 0, 1}), 1, 1, 4), batch, 1, 4)
	return Concatenate([]*Node{top, bottom}, 1)
}

// warpFeatures warps a source-view feature map [batch, channels, height, width]
// into the reference view, one warp per depth hypothesis
// [batch, samples, height, width]. Each reference pixel is back-projected at
// each hypothesized depth, reprojected into the source view and the source
// features are bilinearly sampled there. Points projecting behind the source
// camera (z <= minProjectedDepth) are pushed outside the image so they sample
// zero. Returns [batch, channels, samples, height, width].
//
// The sampling grid carries no gradient; gradients reach the source features
// through the bilinear sample only.
func warpFeatures(srcFeature, srcProj, refProj, depth *Node) *Node {
	g := srcFeature.Graph()
	dtype := srcFeature.DType()
	dims := srcFeature.Shape().Dimensions
	batch, channels, height, width := dims[0], dims[1], dims[2], dims[3]
	numDepth := depth.Shape().Dimensions[1]

	rel := Einsum("bij,bjk->bik", srcProj, invertProjection(refProj))
	rot := Slice(rel, AxisRange(), AxisRange(0, 3), AxisRange(0, 3)) // [batch, 3, 3]
	trans := Slice(rel, AxisRange(), AxisRange(0, 3), AxisElem(3))   // [batch, 3, 1]

	x := Reshape(Iota(g, shapes.Make(dtype, height, width), 1), 1, 1, height*width)
	y := Reshape(Iota(g, shapes.Make(dtype, height, width), 0), 1, 1, height*width)
	xyz := Concatenate([]*Node{x, y, OnesLike(x)}, 1) // [1, 3, height*width]
	xyz = BroadcastToDims(xyz, batch, 3, height*width)

	rotated := Einsum("bij,bjn->bin", rot, xyz) // [batch, 3, height*width]
	projected := Add(
		Mul(InsertAxes(rotated, 2), Reshape(depth, batch, 1, numDepth, height*width)),
		InsertAxes(trans, -1)) // [batch, 3, samples, height*width]

	component := func(i int) *Node {
		return Squeeze(SliceAxis(projected, 1, AxisElem(i)), 1) // [batch, samples, height*width]
	}
	px, py, pz := component(0), component(1), component(2)

	behind := LessOrEqual(pz, Scalar(g, dtype, minProjectedDepth))
	px = Where(behind, Scalar(g, dtype, float64(width)), px)
	py = Where(behind, Scalar(g, dtype, float64(height)), py)
	pz = Where(behind, ScalarOne(g, dtype), pz)

	xNorm := AddScalar(DivScalar(Div(px, pz), float64(width-1)/2), -1)
	yNorm := AddScalar(DivScalar(Div(py, pz), float64(height-1)/2), -1)
	grid := StopGradient(Stack([]*Node{xNorm, yNorm}, -1)) // [batch, samples, height*width, 2]

	warped := gridSample(srcFeature, grid, SampleZeros) // [batch, channels, samples, height*width]
	return Reshape(warped, batch, channels, numDepth, height, width)
}
