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

// Activation is the injected epilogue policy: a pure vector function applied
// after the scale/bias transform. It must hold no state; the epilogue may
// invoke it any number of times for the same accumulator fragment.
type Activation[T hwy.Floats] func(hwy.Vec[T]) hwy.Vec[T]

// Identity returns the pass-through activation.
func Identity[T hwy.Floats]() Activation[T] {
	return func(v hwy.Vec[T]) hwy.Vec[T] { return v }
}

// ReLU returns the rectified-linear activation max(v, 0).
func ReLU[T hwy.Floats]() Activation[T] {
	return func(v hwy.Vec[T]) hwy.Vec[T] {
		return hwy.Max(v, hwy.Zero[T]())
	}
}

// LeakyReLU returns the leaky rectified-linear activation: v where v > 0,
// slope*v otherwise. The slope is the epilogue's scalar parameter, bound at
// kernel assembly time.
func LeakyReLU[T hwy.Floats](slope T) Activation[T] {
	return func(v hwy.Vec[T]) hwy.Vec[T] {
		zero := hwy.Zero[T]()
		return hwy.IfThenElse(hwy.GreaterThan(v, zero), v, hwy.Mul(v, hwy.Set(slope)))
	}
}

// epilogue transforms finalized accumulator tiles and writes them to the
// output tensor. The scratch buffer makes partial-vector stores at the
// output-channel boundary explicit copies instead of overhanging vector
// stores.
type epilogue[T hwy.Floats] struct {
	tile    TileShape
	act     Activation[T]
	scratch []T
}

func newEpilogue[T hwy.Floats](tile TileShape, act Activation[T]) *epilogue[T] {
	return &epilogue[T]{
		tile:    tile,
		act:     act,
		scratch: make([]T, hwy.Zero[T]().NumLanes()),
	}
}

// writeTile computes activation(acc*scale + bias) elementwise and writes the
// result to the output tensor at the positions implied by the tile
// coordinate. Rows at or beyond GEMM M and columns at or beyond the output
// channel extent are never written, so partial tiles at tensor boundaries
// leave out-of-bound positions untouched.
//
// The output tensor is NDHWK with channels innermost, and GEMM rows enumerate
// (n, z, p, q) in layout order, so row r of the tile lands at flat offset
// (rowBase+r)*K + colBase.
func (e *epilogue[T]) writeTile(acc, scale, bias []T, p conv.Problem3d, coord TileCoord, out []T) {
	gemm := p.ImplicitGemm()
	rowBase := coord.M * e.tile.M
	colBase := coord.N * e.tile.N

	colsValid := min(e.tile.N, gemm.N-colBase)
	if colsValid <= 0 {
		return
	}
	lanes := hwy.Zero[T]().NumLanes()

	for r := 0; r < e.tile.M; r++ {
		row := rowBase + r
		if row >= gemm.M {
			break
		}
		accRow := acc[r*e.tile.N : (r+1)*e.tile.N]
		outRow := out[row*gemm.N+colBase:]

		for j := 0; j < colsValid; j += lanes {
			v := hwy.Load(accRow[j:])
			vs := hwy.Load(scale[j:])
			vb := hwy.Load(bias[j:])
			v = e.act(hwy.MulAdd(v, vs, vb))

			if j+lanes <= colsValid {
				hwy.Store(v, outRow[j:])
			} else {
				hwy.Store(v, e.scratch)
				copy(outRow[j:colsValid], e.scratch[:colsValid-j])
			}
		}
	}
}
