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
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/ajroetker/go-highway/hwy"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/whitelok/cutlass/conv"
)

// IteratorAlgorithm selects the tile access iterator strategy a kernel is
// assembled with.
type IteratorAlgorithm int

const (
	// Analytic iterators re-derive coordinates and predicates from the
	// problem descriptor on every step. No precondition on stride or
	// dilation.
	Analytic IteratorAlgorithm = iota

	// Optimized iterators advance precomputed per-problem offset tables.
	// Requires unit stride and dilation; CanImplement rejects problems
	// that violate this rather than falling back.
	Optimized
)

func (a IteratorAlgorithm) String() string {
	switch a {
	case Analytic:
		return "analytic"
	case Optimized:
		return "optimized"
	default:
		return fmt.Sprintf("iteratoralgorithm(%d)", int(a))
	}
}

// Spec is the full compile-time configuration of one kernel: tile and warp
// shapes, pipeline depth, iterator strategy, work-assignment swizzle, and the
// operand alignment contract. The element type is the Build type parameter;
// the activation policy is the Build argument. A Spec is resolved exactly
// once by Build; nothing here is consulted per tile.
type Spec struct {
	Tile   TileShape
	Warp   WarpShape
	Stages int

	Algorithm IteratorAlgorithm

	// Swizzle overrides the default identity swizzle when non-nil.
	Swizzle Swizzle

	// Alignment is the element alignment both channel extents (C and K)
	// must satisfy, matching the staging transfer width. Zero means no
	// constraint beyond 1.
	Alignment int
}

// Conv3d is an assembled forward-convolution kernel. It is immutable and safe
// for concurrent use; each Run launches its own worker-group grid.
type Conv3d[T hwy.Floats] struct {
	spec Spec
	act  Activation[T]
}

// Build assembles a kernel from the spec, or reports why no such
// specialization exists. All shape and strategy checking happens here, once;
// Run performs only per-problem checks.
func Build[T hwy.Floats](spec Spec, act Activation[T]) (*Conv3d[T], error) {
	if spec.Alignment == 0 {
		spec.Alignment = 1
	}
	if act == nil {
		act = Identity[T]()
	}
	if spec.Tile.M < 1 || spec.Tile.N < 1 || spec.Tile.K < 1 {
		return nil, fmt.Errorf("kernel: tile shape %dx%dx%d is empty", spec.Tile.M, spec.Tile.N, spec.Tile.K)
	}
	if spec.Warp.M < 1 || spec.Warp.N < 1 {
		return nil, fmt.Errorf("kernel: warp shape %dx%d is empty", spec.Warp.M, spec.Warp.N)
	}
	if spec.Tile.M%spec.Warp.M != 0 || spec.Tile.N%spec.Warp.N != 0 {
		return nil, fmt.Errorf("kernel: warp shape %dx%d does not tile %dx%d", spec.Warp.M, spec.Warp.N, spec.Tile.M, spec.Tile.N)
	}
	if spec.Warp.M%microRows != 0 {
		return nil, fmt.Errorf("kernel: warp rows %d not a multiple of the %d-row micro-tile", spec.Warp.M, microRows)
	}
	if lanes := hwy.Zero[T]().NumLanes(); spec.Warp.N%lanes != 0 {
		return nil, fmt.Errorf("kernel: warp columns %d not a multiple of the vector width %d", spec.Warp.N, lanes)
	}
	if spec.Stages < 2 {
		return nil, fmt.Errorf("kernel: pipeline needs at least 2 stages, got %d", spec.Stages)
	}
	if spec.Algorithm != Analytic && spec.Algorithm != Optimized {
		return nil, fmt.Errorf("kernel: no specialization for %s", spec.Algorithm)
	}
	if spec.Alignment < 1 {
		return nil, fmt.Errorf("kernel: alignment must be positive, got %d", spec.Alignment)
	}
	return &Conv3d[T]{spec: spec, act: act}, nil
}

// microRows is the row extent of the register-blocked micro-tile in
// warpMulAdd.
const microRows = 4

// Spec returns the configuration the kernel was assembled with.
func (k *Conv3d[T]) Spec() Spec { return k.spec }

// CanImplement reports whether the kernel can run the given problem: the
// problem must validate, the Optimized strategy requires unit stride and
// dilation, and both channel extents must satisfy the alignment contract.
func (k *Conv3d[T]) CanImplement(p conv.Problem3d) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if k.spec.Algorithm == Optimized && !p.UnitStrideDilation() {
		return fmt.Errorf("kernel: optimized iterators require unit stride and dilation; assemble the analytic specialization instead")
	}
	if p.C%k.spec.Alignment != 0 || p.K%k.spec.Alignment != 0 {
		return fmt.Errorf("kernel: channel extents (C=%d, K=%d) violate alignment %d", p.C, p.K, k.spec.Alignment)
	}
	return nil
}

// Run executes the kernel: x is the NDHWC activation tensor, w the KTRSC
// filter tensor, sb the per-output-channel scale/bias vectors, and y the
// NDHWK output tensor, fully populated on return. The batch dimension rides
// in the implicit GEMM M extent, so the grid's batch-slice depth is one.
func (k *Conv3d[T]) Run(p conv.Problem3d, x, w []T, sb conv.ScaleBias[T], y []T) error {
	if err := k.CanImplement(p); err != nil {
		return err
	}
	if n := p.ActivationLayout().Size(); len(x) < n {
		return fmt.Errorf("kernel: activation tensor has %d elements, problem needs %d", len(x), n)
	}
	if n := p.FilterLayout().Size(); len(w) < n {
		return fmt.Errorf("kernel: filter tensor has %d elements, problem needs %d", len(w), n)
	}
	if len(sb.Scale) < p.K || len(sb.Bias) < p.K {
		return fmt.Errorf("kernel: scale/bias vectors have %d/%d elements, problem needs %d", len(sb.Scale), len(sb.Bias), p.K)
	}
	if n := p.OutputLayout().Size(); len(y) < n {
		return fmt.Errorf("kernel: output tensor has %d elements, problem needs %d", len(y), n)
	}

	tile := k.spec.Tile
	gemm := p.ImplicitGemm()
	grid := GridShape{
		M: ceilDiv(gemm.M, tile.M),
		N: ceilDiv(gemm.N, tile.N),
		Z: 1,
	}
	sw := k.spec.Swizzle
	if sw == nil {
		sw = DefaultSwizzle(grid)
	}
	kTiles := ceilDiv(gemm.K, tile.K)

	// The optimized strategy's tap table depends only on the problem, so it
	// is computed once per invocation and shared read-only by all groups.
	var taps *kTapTable
	if k.spec.Algorithm == Optimized {
		taps = newKTapTable(p)
	}

	gridSize := sw.GridSize(grid)
	work := make(chan int, gridSize)
	for id := 0; id < gridSize; id++ {
		work <- id
	}
	close(work)

	numWorkers := min(runtime.GOMAXPROCS(0), gridSize)
	var wg sync.WaitGroup
	for range numWorkers {
		wg.Go(func() {
			bufs := newStageBuffers[T](tile, k.spec.Stages)
			acc := make([]T, tile.M*tile.N)
			ep := newEpilogue(tile, k.act)

			for id := range work {
				coord, ok := sw.Map(grid, id)
				if !ok {
					continue // over-provisioned identity, retire
				}
				clear(acc)

				var aIt, bIt tileIterator[T]
				if k.spec.Algorithm == Optimized {
					aIt = newActivationIteratorOptimized(p, taps, tile, coord, x)
					bIt = newFilterIteratorOptimized[T](p, tile, coord, w)
				} else {
					aIt = newActivationIteratorAnalytic(p, tile, coord, x)
					bIt = newFilterIteratorAnalytic(p, tile, coord, w)
				}
				sbIt := newScaleBiasIterator(p, tile, coord, sb)

				last := runPipeline(kTiles, bufs, aIt, bIt, sbIt, func(s *stageBuffer[T]) {
					tileMulAdd(s.a, s.b, acc, tile, k.spec.Warp)
				})
				ep.writeTile(acc, last.scale, last.bias, p, coord, y)
			}
		})
	}
	wg.Wait()
	return nil
}

// Name returns the kernel's procedural name, e.g.
// "conv3d_fprop_optimized_f32_128x128_32x3".
func (k *Conv3d[T]) Name() string {
	return fmt.Sprintf("conv3d_fprop_%s_%s_%dx%d_%dx%d",
		k.spec.Algorithm, elementName[T](),
		k.spec.Tile.M, k.spec.Tile.N, k.spec.Tile.K, k.spec.Stages)
}

// GoName returns the procedural name as an exported Go identifier, e.g.
// "Conv3dFpropOptimizedF32". Useful when generating registration tables or
// per-specialization test names.
func (k *Conv3d[T]) GoName() string {
	title := cases.Title(language.English, cases.NoLower)
	parts := []string{"conv3d", "fprop", k.spec.Algorithm.String(), elementName[T]()}
	var b strings.Builder
	for _, part := range parts {
		b.WriteString(title.String(part))
	}
	return b.String()
}

func elementName[T hwy.Floats]() string {
	var zero T
	switch any(zero).(type) {
	case float32:
		return "f32"
	case float64:
		return "f64"
	case hwy.Float16:
		return "f16"
	case hwy.BFloat16:
		return "bf16"
	default:
		return "unknown"
	}
}
