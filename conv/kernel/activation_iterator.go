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

package kernel

import (
	"github.com/ajroetker/go-highway/hwy"

	"github.com/whitelok/cutlass/conv"
)

// tileIterator gathers one operand fragment per k-tile step. Gather writes
// every element of dst: in-bounds elements receive the tensor value, masked
// (out-of-bounds) elements receive zero so they contribute nothing to the
// accumulator. Advance moves the cursor to the next k-tile.
type tileIterator[T hwy.Floats] interface {
	Gather(dst []T)
	Advance()
}

// outputPosition is one decomposed row of the implicit GEMM A operand: the
// (batch, output depth, output height, output width) position whose
// receptive field the row reads.
type outputPosition struct {
	n, z, p, q int
	valid      bool
}

// decomposeRows maps the tile's GEMM rows [rowBase, rowBase+tileM) to output
// positions. Rows at or beyond GEMM M are marked invalid and gather zeros.
func decomposeRows(p conv.Problem3d, rowBase, tileM int) []outputPosition {
	z, pp, q := p.OutputExtent()
	gemmM := p.N * z * pp * q
	rows := make([]outputPosition, tileM)
	for r := range rows {
		row := rowBase + r
		if row >= gemmM {
			continue
		}
		rem := row
		rows[r].n = rem / (z * pp * q)
		rem %= z * pp * q
		rows[r].z = rem / (pp * q)
		rem %= pp * q
		rows[r].p = rem / q
		rows[r].q = rem % q
		rows[r].valid = true
	}
	return rows
}

// activationIteratorAnalytic gathers activation-operand tiles by re-deriving
// every element's (t, r, s, c) filter tap and padding predicate from the
// problem descriptor on each step. It has no precondition on stride or
// dilation values.
type activationIteratorAnalytic[T hwy.Floats] struct {
	problem conv.Problem3d
	layout  conv.LayoutNDHWC
	src     []T
	rows    []outputPosition
	tile    TileShape
	gemmK   int
	kBase   int
}

func newActivationIteratorAnalytic[T hwy.Floats](p conv.Problem3d, tile TileShape, coord TileCoord, src []T) *activationIteratorAnalytic[T] {
	return &activationIteratorAnalytic[T]{
		problem: p,
		layout:  p.ActivationLayout(),
		src:     src,
		rows:    decomposeRows(p, coord.M*tile.M, tile.M),
		tile:    tile,
		gemmK:   p.ImplicitGemm().K,
	}
}

// Gather fills dst (tile.M × tile.K, row-major) with the current k-tile.
func (it *activationIteratorAnalytic[T]) Gather(dst []T) {
	if len(dst) < it.tile.M*it.tile.K {
		panic("kernel: activation fragment too short")
	}
	p := it.problem
	var zero T
	for r, pos := range it.rows {
		out := dst[r*it.tile.K : (r+1)*it.tile.K]
		if !pos.valid {
			for i := range out {
				out[i] = zero
			}
			continue
		}
		for kk := range out {
			k := it.kBase + kk
			if k >= it.gemmK {
				out[kk] = zero
				continue
			}
			// k enumerates (t, r, s, c) with channels fastest.
			c := k % p.C
			rem := k / p.C
			s := rem % p.S
			rem /= p.S
			fr := rem % p.R
			ft := rem / p.R

			d := pos.z*p.StrideD - p.PadD + ft*p.DilD
			h := pos.p*p.StrideH - p.PadH + fr*p.DilH
			w := pos.q*p.StrideW - p.PadW + s*p.DilW
			if d < 0 || d >= p.D || h < 0 || h >= p.H || w < 0 || w >= p.W {
				out[kk] = zero
				continue
			}
			out[kk] = it.src[it.layout.Offset(pos.n, d, h, w, c)]
		}
	}
}

func (it *activationIteratorAnalytic[T]) Advance() {
	it.kBase += it.tile.K
}

// kTapTable is the per-problem precomputation shared by every optimized
// iterator of one kernel invocation: for each GEMM k index, the flat offset
// of its filter tap relative to a row's base element and the (t, r, s) tap
// coordinates used for predicate lookups. Built once per problem; valid only
// for unit stride and dilation, where the offset between a row base and its
// (t, r, s, c) tap is loop-invariant across output positions.
type kTapTable struct {
	off     []int32
	t, r, s []int16
}

func newKTapTable(p conv.Problem3d) *kTapTable {
	gemmK := p.ImplicitGemm().K
	tab := &kTapTable{
		off: make([]int32, gemmK),
		t:   make([]int16, gemmK),
		r:   make([]int16, gemmK),
		s:   make([]int16, gemmK),
	}
	wc := p.W * p.C
	hwc := p.H * wc
	k := 0
	for ft := 0; ft < p.T; ft++ {
		for fr := 0; fr < p.R; fr++ {
			for fs := 0; fs < p.S; fs++ {
				base := ft*hwc + fr*wc + fs*p.C
				for c := 0; c < p.C; c++ {
					tab.off[k] = int32(base + c)
					tab.t[k] = int16(ft)
					tab.r[k] = int16(fr)
					tab.s[k] = int16(fs)
					k++
				}
			}
		}
	}
	return tab
}

// activationIteratorOptimized advances through k-tiles by table lookup: the
// per-problem kTapTable supplies tap offsets, and per-row validity tables
// (one bool per filter tap extent) replace the per-element coordinate
// arithmetic of the analytic strategy. Construction requires
// problem.UnitStrideDilation(); kernel assembly enforces this before any
// iterator is built.
type activationIteratorOptimized[T hwy.Floats] struct {
	src   []T
	taps  *kTapTable
	tile  TileShape
	gemmK int
	kBase int

	// Per row: base offset of (n, z-PadD, p-PadH, q-PadW, 0) and validity
	// of each filter tap along each spatial axis.
	rowBase  []int
	rowValid []bool
	validT   [][]bool
	validR   [][]bool
	validS   [][]bool
}

func newActivationIteratorOptimized[T hwy.Floats](p conv.Problem3d, taps *kTapTable, tile TileShape, coord TileCoord, src []T) *activationIteratorOptimized[T] {
	if !p.UnitStrideDilation() {
		panic("kernel: optimized activation iterator requires unit stride and dilation")
	}
	layout := p.ActivationLayout()
	rows := decomposeRows(p, coord.M*tile.M, tile.M)

	it := &activationIteratorOptimized[T]{
		src:      src,
		taps:     taps,
		tile:     tile,
		gemmK:    p.ImplicitGemm().K,
		rowBase:  make([]int, tile.M),
		rowValid: make([]bool, tile.M),
		validT:   make([][]bool, tile.M),
		validR:   make([][]bool, tile.M),
		validS:   make([][]bool, tile.M),
	}
	for r, pos := range rows {
		it.rowValid[r] = pos.valid
		if !pos.valid {
			continue
		}
		d0 := pos.z - p.PadD
		h0 := pos.p - p.PadH
		w0 := pos.q - p.PadW
		it.rowBase[r] = layout.Offset(pos.n, 0, 0, 0, 0) + (d0*p.H+h0)*p.W*p.C + w0*p.C
		it.validT[r] = tapValidity(d0, p.T, p.D)
		it.validR[r] = tapValidity(h0, p.R, p.H)
		it.validS[r] = tapValidity(w0, p.S, p.W)
	}
	return it
}

// tapValidity reports, for each tap index in [0, taps), whether base+tap lies
// inside [0, extent).
func tapValidity(base, taps, extent int) []bool {
	v := make([]bool, taps)
	for i := range v {
		pos := base + i
		v[i] = pos >= 0 && pos < extent
	}
	return v
}

// Gather fills dst (tile.M × tile.K, row-major) with the current k-tile.
func (it *activationIteratorOptimized[T]) Gather(dst []T) {
	if len(dst) < it.tile.M*it.tile.K {
		panic("kernel: activation fragment too short")
	}
	var zero T
	kEnd := min(it.kBase+it.tile.K, it.gemmK)
	for r := 0; r < it.tile.M; r++ {
		out := dst[r*it.tile.K : (r+1)*it.tile.K]
		if !it.rowValid[r] {
			for i := range out {
				out[i] = zero
			}
			continue
		}
		base := it.rowBase[r]
		vT, vR, vS := it.validT[r], it.validR[r], it.validS[r]
		kk := 0
		for k := it.kBase; k < kEnd; k++ {
			if vT[it.taps.t[k]] && vR[it.taps.r[k]] && vS[it.taps.s[k]] {
				out[kk] = it.src[base+int(it.taps.off[k])]
			} else {
				out[kk] = zero
			}
			kk++
		}
		for ; kk < it.tile.K; kk++ {
			out[kk] = zero
		}
	}
}

func (it *activationIteratorOptimized[T]) Advance() {
	it.kBase += it.tile.K
}
