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

// Swizzle maps a worker group's linear identity to the output tile it is
// responsible for. GridSize reports how many identities the map covers; Map
// returns the tile coordinate for one identity, or ok=false for
// over-provisioned identities, which are retired without doing work. Within
// one invocation every in-range tile coordinate is produced exactly once.
type Swizzle interface {
	GridSize(grid GridShape) int
	Map(grid GridShape, id int) (TileCoord, bool)
}

// IdentitySwizzle interleaves a group of 2^LogTile consecutive row tiles with
// each column tile, so worker groups that run concurrently touch neighboring
// output rows and reuse recently fetched filter columns. LogTile 0 is the
// plain row-major assignment. The column dimension is rounded up to the
// interleave width; identities that land past the true column extent are
// reported not-ok.
type IdentitySwizzle struct {
	LogTile int
}

// DefaultSwizzle picks the interleave width from the grid's column extent:
// wider interleaving for wider grids, none for narrow ones.
func DefaultSwizzle(grid GridShape) IdentitySwizzle {
	switch {
	case grid.N >= 8:
		return IdentitySwizzle{LogTile: 3}
	case grid.N >= 4:
		return IdentitySwizzle{LogTile: 2}
	case grid.N >= 2:
		return IdentitySwizzle{LogTile: 1}
	default:
		return IdentitySwizzle{LogTile: 0}
	}
}

func (s IdentitySwizzle) GridSize(grid GridShape) int {
	tile := 1 << s.LogTile
	return (grid.M * tile) * ceilDiv(grid.N, tile) * grid.Z
}

func (s IdentitySwizzle) Map(grid GridShape, id int) (TileCoord, bool) {
	tile := 1 << s.LogTile
	gridM := grid.M * tile
	gridN := ceilDiv(grid.N, tile)

	plane := gridM * gridN
	z := id / plane
	rem := id % plane
	bx := rem % gridM
	by := rem / gridM

	coord := TileCoord{
		M: bx >> s.LogTile,
		N: by*tile + bx%tile,
		Z: z,
	}
	if coord.M >= grid.M || coord.N >= grid.N || coord.Z >= grid.Z {
		return TileCoord{}, false
	}
	return coord, true
}
