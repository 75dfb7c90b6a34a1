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

// Package archinfo detects the host's SIMD generation and supplies the
// per-architecture default tile shapes kernel assembly starts from. Detection
// runs once at package init; the tables are cache-derived constants, not
// runtime measurements.
package archinfo

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// ArchTag identifies the target hardware generation a kernel is assembled
// for.
type ArchTag int

const (
	ArchScalar ArchTag = iota
	ArchNEON
	ArchAVX2
	ArchAVX512
)

func (a ArchTag) String() string {
	switch a {
	case ArchScalar:
		return "scalar"
	case ArchNEON:
		return "neon"
	case ArchAVX2:
		return "avx2"
	case ArchAVX512:
		return "avx512"
	default:
		return "unknown"
	}
}

// TileParams are the default shapes for one architecture: the worker-group
// tile, its warp subdivision, and the pipeline depth. Values are sized so one
// stage's A and B fragments stay within L2 while the warp working set fits
// L1, following the usual GotoBLAS-style split.
type TileParams struct {
	TileM, TileN, TileK int
	WarpM, WarpN        int
	Stages              int
}

// Detect returns the host's architecture tag.
func Detect() ArchTag {
	switch runtime.GOARCH {
	case "amd64":
		if cpu.X86.HasAVX512F && cpu.X86.HasAVX512BW && cpu.X86.HasAVX512VL {
			return ArchAVX512
		}
		if cpu.X86.HasAVX2 && cpu.X86.HasFMA {
			return ArchAVX2
		}
		return ArchScalar
	case "arm64":
		if cpu.ARM64.HasASIMD {
			return ArchNEON
		}
		return ArchScalar
	default:
		return ArchScalar
	}
}

// Defaults returns the default tile parameters for the given architecture.
func Defaults(arch ArchTag) TileParams {
	switch arch {
	case ArchAVX512:
		// 16 float32 lanes; 64-column warps are two vectors of the
		// widest element.
		return TileParams{TileM: 128, TileN: 128, TileK: 32, WarpM: 32, WarpN: 64, Stages: 3}
	case ArchAVX2:
		return TileParams{TileM: 128, TileN: 64, TileK: 32, WarpM: 32, WarpN: 32, Stages: 3}
	case ArchNEON:
		return TileParams{TileM: 64, TileN: 64, TileK: 32, WarpM: 16, WarpN: 32, Stages: 3}
	default:
		// Scalar fallback keeps fragments small; staging depth still
		// overlaps gather with compute.
		return TileParams{TileM: 32, TileN: 32, TileK: 16, WarpM: 16, WarpN: 16, Stages: 2}
	}
}
