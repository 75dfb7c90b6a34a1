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

import "github.com/ajroetker/go-highway/hwy"

// tileMulAdd accumulates one staged k-tile into the tile accumulator,
// walking warp tiles in row-major order. The walk order is fixed by the
// shapes alone, so the accumulation order (and therefore the bit pattern of
// the result) is independent of which iterator strategy filled the
// fragments.
//
//   - aFrag is tile.M × tile.K (row-major)
//   - bFrag is tile.K × tile.N (row-major)
//   - acc   is tile.M × tile.N (row-major)
func tileMulAdd[T hwy.Floats](aFrag, bFrag, acc []T, tile TileShape, warp WarpShape) {
	for wm := 0; wm < tile.M; wm += warp.M {
		for wn := 0; wn < tile.N; wn += warp.N {
			warpMulAdd(aFrag, bFrag, acc, tile.K, tile.N, wm, wm+warp.M, wn, wn+warp.N)
		}
	}
}

// warpMulAdd computes acc[m0:m1, n0:n1] += A[m0:m1, :] * B[:, n0:n1] over one
// staged fragment pair using register blocking: 4 accumulator rows by two
// vector widths per micro-tile, with the A element broadcast and B rows
// loaded as vectors. Assembly validates that warp extents divide evenly into
// these micro-tiles (warp.M a multiple of 4, warp.N a multiple of the vector
// width), so there are no scalar tails.
func warpMulAdd[T hwy.Floats](aFrag, bFrag, acc []T, tileK, tileN, m0, m1, n0, n1 int) {
	lanes := hwy.Zero[T]().NumLanes()

	for i := m0; i+4 <= m1; i += 4 {
		aRow0 := i * tileK
		aRow1 := (i + 1) * tileK
		aRow2 := (i + 2) * tileK
		aRow3 := (i + 3) * tileK
		cRow0 := i * tileN
		cRow1 := (i + 1) * tileN
		cRow2 := (i + 2) * tileN
		cRow3 := (i + 3) * tileN

		j := n0
		for ; j+2*lanes <= n1; j += 2 * lanes {
			acc00 := hwy.Load(acc[cRow0+j:])
			acc01 := hwy.Load(acc[cRow0+j+lanes:])
			acc10 := hwy.Load(acc[cRow1+j:])
			acc11 := hwy.Load(acc[cRow1+j+lanes:])
			acc20 := hwy.Load(acc[cRow2+j:])
			acc21 := hwy.Load(acc[cRow2+j+lanes:])
			acc30 := hwy.Load(acc[cRow3+j:])
			acc31 := hwy.Load(acc[cRow3+j+lanes:])

			for p := 0; p < tileK; p++ {
				vA0 := hwy.Set(aFrag[aRow0+p])
				vA1 := hwy.Set(aFrag[aRow1+p])
				vA2 := hwy.Set(aFrag[aRow2+p])
				vA3 := hwy.Set(aFrag[aRow3+p])

				bRow := p * tileN
				vB0 := hwy.Load(bFrag[bRow+j:])
				vB1 := hwy.Load(bFrag[bRow+j+lanes:])

				acc00 = hwy.MulAdd(vA0, vB0, acc00)
				acc01 = hwy.MulAdd(vA0, vB1, acc01)
				acc10 = hwy.MulAdd(vA1, vB0, acc10)
				acc11 = hwy.MulAdd(vA1, vB1, acc11)
				acc20 = hwy.MulAdd(vA2, vB0, acc20)
				acc21 = hwy.MulAdd(vA2, vB1, acc21)
				acc30 = hwy.MulAdd(vA3, vB0, acc30)
				acc31 = hwy.MulAdd(vA3, vB1, acc31)
			}

			hwy.Store(acc00, acc[cRow0+j:])
			hwy.Store(acc01, acc[cRow0+j+lanes:])
			hwy.Store(acc10, acc[cRow1+j:])
			hwy.Store(acc11, acc[cRow1+j+lanes:])
			hwy.Store(acc20, acc[cRow2+j:])
			hwy.Store(acc21, acc[cRow2+j+lanes:])
			hwy.Store(acc30, acc[cRow3+j:])
			hwy.Store(acc31, acc[cRow3+j+lanes:])
		}

		// Single vector-width strip when the warp extent is an odd
		// multiple of the vector width.
		for ; j+lanes <= n1; j += lanes {
			acc0 := hwy.Load(acc[cRow0+j:])
			acc1 := hwy.Load(acc[cRow1+j:])
			acc2 := hwy.Load(acc[cRow2+j:])
			acc3 := hwy.Load(acc[cRow3+j:])

			for p := 0; p < tileK; p++ {
				vB := hwy.Load(bFrag[p*tileN+j:])
				acc0 = hwy.MulAdd(hwy.Set(aFrag[aRow0+p]), vB, acc0)
				acc1 = hwy.MulAdd(hwy.Set(aFrag[aRow1+p]), vB, acc1)
				acc2 = hwy.MulAdd(hwy.Set(aFrag[aRow2+p]), vB, acc2)
				acc3 = hwy.MulAdd(hwy.Set(aFrag[aRow3+p]), vB, acc3)
			}

			hwy.Store(acc0, acc[cRow0+j:])
			hwy.Store(acc1, acc[cRow1+j:])
			hwy.Store(acc2, acc[cRow2+j:])
			hwy.Store(acc3, acc[cRow3+j:])
		}
	}
}
