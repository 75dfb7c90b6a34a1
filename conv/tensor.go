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

package conv

// LayoutNDHWC maps activation and output tensor coordinates to flat slice
// offsets. Channels are innermost, so one output position's channels are
// contiguous and can be written with vector stores.
type LayoutNDHWC struct {
	N, D, H, W, C int
}

// Offset returns the flat offset of element (n, d, h, w, c).
func (l LayoutNDHWC) Offset(n, d, h, w, c int) int {
	return (((n*l.D+d)*l.H+h)*l.W+w)*l.C + c
}

// Size returns the number of elements addressed by the layout.
func (l LayoutNDHWC) Size() int {
	return l.N * l.D * l.H * l.W * l.C
}

// ActivationLayout returns the NDHWC layout of the problem's input tensor.
func (p Problem3d) ActivationLayout() LayoutNDHWC {
	return LayoutNDHWC{N: p.N, D: p.D, H: p.H, W: p.W, C: p.C}
}

// OutputLayout returns the NDHWC layout of the problem's output tensor
// (channels extent K).
func (p Problem3d) OutputLayout() LayoutNDHWC {
	z, pp, q := p.OutputExtent()
	return LayoutNDHWC{N: p.N, D: z, H: pp, W: q, C: p.K}
}

// LayoutKTRSC maps filter tensor coordinates to flat slice offsets. The
// (t, r, s, c) taps of one output channel are contiguous and enumerate in the
// same order as the implicit GEMM K dimension, so a GEMM column is a
// contiguous run of length T*R*S*C: the filter operand is column-major in
// GEMM terms.
type LayoutKTRSC struct {
	K, T, R, S, C int
}

// Offset returns the flat offset of element (k, t, r, s, c).
func (l LayoutKTRSC) Offset(k, t, r, s, c int) int {
	return (((k*l.T+t)*l.R+r)*l.S+s)*l.C + c
}

// Size returns the number of elements addressed by the layout.
func (l LayoutKTRSC) Size() int {
	return l.K * l.T * l.R * l.S * l.C
}

// FilterLayout returns the KTRSC layout of the problem's filter tensor.
func (p Problem3d) FilterLayout() LayoutKTRSC {
	return LayoutKTRSC{K: p.K, T: p.T, R: p.R, S: p.S, C: p.C}
}

// ScaleBias holds the per-output-channel affine transform applied by the
// fused epilogue: out = activation(acc*Scale[k] + Bias[k]). Both slices have
// one element per output channel and are read-only for the duration of a
// kernel invocation. A folded batch-norm layer lowers to exactly this pair.
type ScaleBias[T any] struct {
	Scale []T
	Bias  []T
}
