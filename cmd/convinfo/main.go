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

// Package main prints the detected SIMD generation, the default tile
// parameters for it, and the kernel specializations that assemble on this
// host.
package main

import (
	"fmt"
	"runtime"

	"github.com/ajroetker/go-highway/hwy"
	"golang.org/x/sys/cpu"

	"github.com/whitelok/cutlass/conv/kernel"
	"github.com/whitelok/cutlass/internal/archinfo"
)

func main() {
	fmt.Printf("GOOS: %s\n", runtime.GOOS)
	fmt.Printf("GOARCH: %s\n", runtime.GOARCH)
	fmt.Printf("NumCPU: %d\n", runtime.NumCPU())
	fmt.Println()

	fmt.Printf("Highway dispatch name: %s\n", hwy.CurrentName())
	fmt.Printf("Highway dispatch width: %d bytes\n", hwy.CurrentWidth())
	if runtime.GOARCH == "amd64" {
		fmt.Printf("AVX2: %v  AVX512F: %v  FMA: %v\n", cpu.X86.HasAVX2, cpu.X86.HasAVX512F, cpu.X86.HasFMA)
	}
	fmt.Println()

	arch := archinfo.Detect()
	def := archinfo.Defaults(arch)
	fmt.Printf("Architecture tag: %s\n", arch)
	fmt.Printf("Default tile: %dx%dx%d, warp %dx%d, %d stages\n",
		def.TileM, def.TileN, def.TileK, def.WarpM, def.WarpN, def.Stages)
	fmt.Println()

	spec := kernel.Spec{
		Tile:   kernel.TileShape{M: def.TileM, N: def.TileN, K: def.TileK},
		Warp:   kernel.WarpShape{M: def.WarpM, N: def.WarpN},
		Stages: def.Stages,
	}

	fmt.Println("Assembled specializations:")
	for _, alg := range []kernel.IteratorAlgorithm{kernel.Analytic, kernel.Optimized} {
		s := spec
		s.Algorithm = alg
		if k32, err := kernel.Build[float32](s, kernel.ReLU[float32]()); err == nil {
			fmt.Printf("  %s (%s)\n", k32.Name(), k32.GoName())
		} else {
			fmt.Printf("  float32 %s: %v\n", alg, err)
		}
		if k64, err := kernel.Build[float64](s, kernel.ReLU[float64]()); err == nil {
			fmt.Printf("  %s (%s)\n", k64.Name(), k64.GoName())
		} else {
			fmt.Printf("  float64 %s: %v\n", alg, err)
		}
	}
}
