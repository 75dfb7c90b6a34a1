// Copyright 2025 cutlass-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package conv describes forward 3-D convolution problems and the tensor
// layouts they operate on. A convolution problem is expressed as an implicit
// GEMM: the activation tensor plays the A operand, the filter tensor the B
// operand, and the output tensor C, without ever materializing the im2col
// expansion.
package conv

import "fmt"

// GemmCoord holds the three logical dimensions of a matrix multiply.
type GemmCoord struct {
	M int // rows of A and C
	N int // columns of B and C
	K int // inner (reduction) dimension
}

// Problem3d describes one forward 3-D convolution invocation.
//
// The input activation tensor is N×D×H×W×C (NDHWC, channels innermost), the
// filter tensor is K×T×R×S×C, and the output tensor is N×Z×P×Q×K where
// (Z, P, Q) are the output spatial extents derived from padding, stride and
// dilation. A Problem3d is immutable once constructed: every iterator and
// kernel consumes it by value.
type Problem3d struct {
	// Input activation extents.
	N int // batch size
	D int // input depth
	H int // input height
	W int // input width
	C int // input channels

	// Filter extents. The channel extent is shared with the input.
	K int // output channels (filters)
	T int // filter depth
	R int // filter height
	S int // filter width

	PadD, PadH, PadW          int
	StrideD, StrideH, StrideW int
	DilD, DilH, DilW          int
}

// NewProblem3d returns a problem with unit stride and dilation and zero
// padding. Callers adjust the returned value before first use.
func NewProblem3d(n, d, h, w, c, k, t, r, s int) Problem3d {
	return Problem3d{
		N: n, D: d, H: h, W: w, C: c,
		K: k, T: t, R: r, S: s,
		StrideD: 1, StrideH: 1, StrideW: 1,
		DilD: 1, DilH: 1, DilW: 1,
	}
}

// OutputExtent returns the output spatial extents (Z, P, Q).
func (p Problem3d) OutputExtent() (z, pp, q int) {
	z = (p.D+2*p.PadD-p.DilD*(p.T-1)-1)/p.StrideD + 1
	pp = (p.H+2*p.PadH-p.DilH*(p.R-1)-1)/p.StrideH + 1
	q = (p.W+2*p.PadW-p.DilW*(p.S-1)-1)/p.StrideW + 1
	return z, pp, q
}

// ImplicitGemm returns the GEMM dimensions of the implicit matrix multiply:
//
//	M = N * Z * P * Q   (one row per output position)
//	N = K               (one column per output channel)
//	K = T * R * S * C   (one reduction step per filter tap and channel)
func (p Problem3d) ImplicitGemm() GemmCoord {
	z, pp, q := p.OutputExtent()
	return GemmCoord{
		M: p.N * z * pp * q,
		N: p.K,
		K: p.T * p.R * p.S * p.C,
	}
}

// UnitStrideDilation reports whether every spatial stride and dilation is one.
// The optimized iterator strategy requires this.
func (p Problem3d) UnitStrideDilation() bool {
	return p.StrideD == 1 && p.StrideH == 1 && p.StrideW == 1 &&
		p.DilD == 1 && p.DilH == 1 && p.DilW == 1
}

// Validate checks that every extent is positive and that the derived implicit
// GEMM dimensions are positive. Strides and dilations must be at least one;
// padding must be non-negative.
func (p Problem3d) Validate() error {
	dims := []struct {
		name string
		v    int
	}{
		{"N", p.N}, {"D", p.D}, {"H", p.H}, {"W", p.W}, {"C", p.C},
		{"K", p.K}, {"T", p.T}, {"R", p.R}, {"S", p.S},
		{"StrideD", p.StrideD}, {"StrideH", p.StrideH}, {"StrideW", p.StrideW},
		{"DilD", p.DilD}, {"DilH", p.DilH}, {"DilW", p.DilW},
	}
	for _, d := range dims {
		if d.v < 1 {
			return fmt.Errorf("conv: dimension %s must be positive, got %d", d.name, d.v)
		}
	}
	if p.PadD < 0 || p.PadH < 0 || p.PadW < 0 {
		return fmt.Errorf("conv: padding must be non-negative, got (%d,%d,%d)", p.PadD, p.PadH, p.PadW)
	}
	z, pp, q := p.OutputExtent()
	if z < 1 || pp < 1 || q < 1 {
		return fmt.Errorf("conv: output extent (%d,%d,%d) is empty", z, pp, q)
	}
	g := p.ImplicitGemm()
	if g.M < 1 || g.N < 1 || g.K < 1 {
		return fmt.Errorf("conv: implicit GEMM extent (%d,%d,%d) is empty", g.M, g.N, g.K)
	}
	return nil
}
