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

// filterIteratorAnalytic gathers filter-operand tiles by re-deriving each
// element's (k, t, r, s, c) coordinate from the problem descriptor on every
// step and addressing through the KTRSC layout.
type filterIteratorAnalytic[T hwy.Floats] struct {
	problem conv.Problem3d
	layout  conv.LayoutKTRSC
	src     []T
	tile    TileShape
	colBase int
	gemmK   int
	kBase   int
}

func newFilterIteratorAnalytic[T hwy.Floats](p conv.Problem3d, tile TileShape, coord TileCoord, src []T) *filterIteratorAnalytic[T] {
	return &filterIteratorAnalytic[T]{
		problem: p,
		layout:  p.FilterLayout(),
		src:     src,
		tile:    tile,
		colBase: coord.N * tile.N,
		gemmK:   p.ImplicitGemm().K,
	}
}

// Gather fills dst (tile.K × tile.N, row-major) with the current k-tile.
// Columns at or beyond the output channel extent, and reduction indices at or
// beyond GEMM K, gather zero.
func (it *filterIteratorAnalytic[T]) Gather(dst []T) {
	if len(dst) < it.tile.K*it.tile.N {
		panic("kernel: filter fragment too short")
	}
	p := it.problem
	var zero T
	for kk := 0; kk < it.tile.K; kk++ {
		out := dst[kk*it.tile.N : (kk+1)*it.tile.N]
		k := it.kBase + kk
		if k >= it.gemmK {
			for i := range out {
				out[i] = zero
			}
			continue
		}
		c := k % p.C
		rem := k / p.C
		s := rem % p.S
		rem /= p.S
		fr := rem % p.R
		ft := rem / p.R
		for j := range out {
			col := it.colBase + j
			if col >= p.K {
				out[j] = zero
				continue
			}
			out[j] = it.src[it.layout.Offset(col, ft, fr, s, c)]
		}
	}
}

func (it *filterIteratorAnalytic[T]) Advance() {
	it.kBase += it.tile.K
}

// filterIteratorOptimized exploits the KTRSC layout directly: one GEMM column
// is a contiguous run of T*R*S*C filter taps, so advancing a k-tile is a
// constant offset bump and each element load is base+k with no coordinate
// arithmetic. The column base offsets are precomputed at construction.
type filterIteratorOptimized[T hwy.Floats] struct {
	src    []T
	tile   TileShape
	colOff []int
	colOK  []bool
	gemmK  int
	kBase  int
}

func newFilterIteratorOptimized[T hwy.Floats](p conv.Problem3d, tile TileShape, coord TileCoord, src []T) *filterIteratorOptimized[T] {
	gemmK := p.ImplicitGemm().K
	it := &filterIteratorOptimized[T]{
		src:    src,
		tile:   tile,
		colOff: make([]int, tile.N),
		colOK:  make([]bool, tile.N),
		gemmK:  gemmK,
	}
	for j := range it.colOff {
		col := coord.N*tile.N + j
		if col < p.K {
			it.colOff[j] = col * gemmK
			it.colOK[j] = true
		}
	}
	return it
}

// Gather fills dst (tile.K × tile.N, row-major) with the current k-tile.
func (it *filterIteratorOptimized[T]) Gather(dst []T) {
	if len(dst) < it.tile.K*it.tile.N {
		panic("kernel: filter fragment too short")
	}
	var zero T
	kEnd := min(it.kBase+it.tile.K, it.gemmK)
	for kk := 0; kk < it.tile.K; kk++ {
		out := dst[kk*it.tile.N : (kk+1)*it.tile.N]
		k := it.kBase + kk
		if k >= kEnd {
			for i := range out {
				out[i] = zero
			}
			continue
		}
		for j := range out {
			if it.colOK[j] {
				out[j] = it.src[it.colOff[j]+k]
			} else {
				out[j] = zero
			}
		}
	}
}

func (it *filterIteratorOptimized[T]) Advance() {
	it.kBase += it.tile.K
}

// scaleBiasIterator gathers the per-output-channel scale and bias fragment
// for the tile's column range. Out-of-range columns gather scale 0 and bias 0
// and are in any case masked at the epilogue's output boundary. Both iterator
// strategies share this implementation: the vector is addressed by output
// channel only, so there is nothing to precompute.
type scaleBiasIterator[T hwy.Floats] struct {
	scale   []T
	bias    []T
	tileN   int
	colBase int
}

func newScaleBiasIterator[T hwy.Floats](p conv.Problem3d, tile TileShape, coord TileCoord, sb conv.ScaleBias[T]) *scaleBiasIterator[T] {
	return &scaleBiasIterator[T]{
		scale:   sb.Scale,
		bias:    sb.Bias,
		tileN:   tile.N,
		colBase: coord.N * tile.N,
	}
}

// Gather fills scale and bias fragments of length tile.N.
func (it *scaleBiasIterator[T]) Gather(scale, bias []T) {
	if len(scale) < it.tileN || len(bias) < it.tileN {
		panic("kernel: scale/bias fragment too short")
	}
	var zero T
	for j := 0; j < it.tileN; j++ {
		col := it.colBase + j
		if col < len(it.scale) {
			scale[j] = it.scale[col]
			bias[j] = it.bias[col]
		} else {
			scale[j] = zero
			bias[j] = zero
		}
	}
}
