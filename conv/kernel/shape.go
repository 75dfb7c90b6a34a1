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

// Package kernel assembles forward 3-D convolution kernels that execute as
// software-pipelined implicit GEMMs with a fused scale+bias+activation
// epilogue. The flow per worker group is: swizzle picks an output tile, tile
// access iterators gather operand fragments, the staged mainloop overlaps
// gathering of k-tile i+Stages-1 with multiply-accumulate on k-tile i, and
// the epilogue transforms and writes the finished accumulator.
package kernel

// TileShape is the worker-group tile: each worker group produces an M×N block
// of the implicit GEMM output, consuming K-sized slabs of both operands per
// mainloop step.
type TileShape struct {
	M, N, K int
}

// WarpShape subdivides a tile's M×N extent. The compute step walks warp tiles
// in a fixed order, so accumulation order depends only on the shapes, never
// on the iterator strategy.
type WarpShape struct {
	M, N int
}

// TileCoord identifies one unit of output work: a (row tile, column tile)
// pair plus a batch slice index for grids that split the batch dimension.
type TileCoord struct {
	M, N, Z int
}

// GridShape is the tiled extent of the output: the number of row tiles,
// column tiles, and batch slices a problem decomposes into.
type GridShape struct {
	M, N, Z int
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
