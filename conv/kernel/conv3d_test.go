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
	"math"
	"math/rand"
	"testing"

	"github.com/whitelok/cutlass/conv"
)

// referenceConv3d computes the fused convolution with a direct 7-loop sweep:
// out[n,z,p,q,k] = act(sum_trsc x[n,...]*w[k,t,r,s,c] * scale[k] + bias[k]),
// treating out-of-bound input positions as zero contribution.
func referenceConv3d(p conv.Problem3d, x, w []float32, sb conv.ScaleBias[float32], act func(float32) float32) []float32 {
	xl := p.ActivationLayout()
	wl := p.FilterLayout()
	yl := p.OutputLayout()
	z, pp, q := p.OutputExtent()

	y := make([]float32, yl.Size())
	for n := 0; n < p.N; n++ {
		for oz := 0; oz < z; oz++ {
			for op := 0; op < pp; op++ {
				for oq := 0; oq < q; oq++ {
					for k := 0; k < p.K; k++ {
						var sum float32
						for ft := 0; ft < p.T; ft++ {
							d := oz*p.StrideD - p.PadD + ft*p.DilD
							if d < 0 || d >= p.D {
								continue
							}
							for fr := 0; fr < p.R; fr++ {
								h := op*p.StrideH - p.PadH + fr*p.DilH
								if h < 0 || h >= p.H {
									continue
								}
								for fs := 0; fs < p.S; fs++ {
									ww := oq*p.StrideW - p.PadW + fs*p.DilW
									if ww < 0 || ww >= p.W {
										continue
									}
									for c := 0; c < p.C; c++ {
										sum += x[xl.Offset(n, d, h, ww, c)] * w[wl.Offset(k, ft, fr, fs, c)]
									}
								}
							}
						}
						y[yl.Offset(n, oz, op, oq, k)] = act(sum*sb.Scale[k] + sb.Bias[k])
					}
				}
			}
		}
	}
	return y
}

func reluScalar(x float32) float32 {
	if x < 0 {
		return 0
	}
	return x
}

func testSpec(alg IteratorAlgorithm) Spec {
	return Spec{
		Tile:      TileShape{M: 16, N: 16, K: 8},
		Warp:      WarpShape{M: 8, N: 16},
		Stages:    3,
		Algorithm: alg,
	}
}

func makeOperands(rng *rand.Rand, p conv.Problem3d) (x, w []float32, sb conv.ScaleBias[float32], y []float32) {
	x = randomSlice(rng, p.ActivationLayout().Size())
	w = randomSlice(rng, p.FilterLayout().Size())
	sb = conv.ScaleBias[float32]{
		Scale: nonZeroSlice(rng, p.K),
		Bias:  randomSlice(rng, p.K),
	}
	y = make([]float32, p.OutputLayout().Size())
	return x, w, sb, y
}

func checkClose(t *testing.T, got, want []float32, tol float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: %d vs %d", len(got), len(want))
	}
	for i := range got {
		bound := tol * float32(math.Max(1, math.Abs(float64(want[i]))))
		if float32(math.Abs(float64(got[i]-want[i]))) > bound {
			t.Fatalf("element %d = %v, want %v (tolerance %v)", i, got[i], want[i], bound)
		}
	}
}

func TestConv3dMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(10))

	problems := []struct {
		name string
		p    conv.Problem3d
	}{
		{
			"3x3x3 same padding",
			func() conv.Problem3d {
				p := conv.NewProblem3d(2, 6, 6, 6, 4, 10, 3, 3, 3)
				p.PadD, p.PadH, p.PadW = 1, 1, 1
				return p
			}(),
		},
		{
			"valid no padding",
			conv.NewProblem3d(1, 5, 6, 7, 3, 5, 2, 3, 2),
		},
		{
			"asymmetric filter",
			func() conv.Problem3d {
				p := conv.NewProblem3d(2, 4, 8, 8, 2, 6, 1, 3, 5)
				p.PadH, p.PadW = 1, 2
				return p
			}(),
		},
		{
			"heavy padding",
			func() conv.Problem3d {
				p := conv.NewProblem3d(1, 3, 3, 3, 2, 4, 3, 3, 3)
				p.PadD, p.PadH, p.PadW = 2, 2, 2
				return p
			}(),
		},
	}

	for _, alg := range []IteratorAlgorithm{Analytic, Optimized} {
		k, err := Build[float32](testSpec(alg), ReLU[float32]())
		if err != nil {
			t.Fatal(err)
		}
		for _, tt := range problems {
			t.Run(alg.String()+"/"+tt.name, func(t *testing.T) {
				x, w, sb, y := makeOperands(rng, tt.p)
				if err := k.Run(tt.p, x, w, sb, y); err != nil {
					t.Fatal(err)
				}
				want := referenceConv3d(tt.p, x, w, sb, reluScalar)
				checkClose(t, y, want, 1e-4)
			})
		}
	}
}

func TestConv3dStridedDilatedAnalytic(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	p := conv.NewProblem3d(1, 9, 9, 9, 3, 6, 3, 3, 3)
	p.StrideD, p.StrideH, p.StrideW = 2, 2, 2
	p.PadD, p.PadH, p.PadW = 1, 1, 1

	d := conv.NewProblem3d(1, 9, 9, 9, 3, 6, 3, 3, 3)
	d.DilD, d.DilH, d.DilW = 2, 2, 2

	k, err := Build[float32](testSpec(Analytic), Identity[float32]())
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []conv.Problem3d{p, d} {
		x, w, sb, y := makeOperands(rng, p)
		if err := k.Run(p, x, w, sb, y); err != nil {
			t.Fatal(err)
		}
		want := referenceConv3d(p, x, w, sb, func(v float32) float32 { return v })
		checkClose(t, y, want, 1e-4)
	}
}

// Iterator strategy is a performance choice, not a semantic one: for
// problems both strategies admit, outputs must be bit-identical.
func TestConv3dStrategiesBitIdentical(t *testing.T) {
	rng := rand.New(rand.NewSource(12))

	problems := []conv.Problem3d{
		func() conv.Problem3d {
			p := conv.NewProblem3d(2, 6, 6, 6, 4, 10, 3, 3, 3)
			p.PadD, p.PadH, p.PadW = 1, 1, 1
			return p
		}(),
		conv.NewProblem3d(1, 4, 5, 6, 7, 9, 2, 2, 2),
		conv.NewProblem3d(3, 2, 2, 2, 5, 4, 1, 1, 1),
	}

	analytic, err := Build[float32](testSpec(Analytic), LeakyReLU[float32](0.1))
	if err != nil {
		t.Fatal(err)
	}
	optimized, err := Build[float32](testSpec(Optimized), LeakyReLU[float32](0.1))
	if err != nil {
		t.Fatal(err)
	}

	for _, p := range problems {
		x, w, sb, _ := makeOperands(rng, p)
		yA := make([]float32, p.OutputLayout().Size())
		yO := make([]float32, p.OutputLayout().Size())
		if err := analytic.Run(p, x, w, sb, yA); err != nil {
			t.Fatal(err)
		}
		if err := optimized.Run(p, x, w, sb, yO); err != nil {
			t.Fatal(err)
		}
		for i := range yA {
			if yA[i] != yO[i] {
				t.Fatalf("outputs differ at %d: analytic %v, optimized %v", i, yA[i], yO[i])
			}
		}
	}
}

// A 1x1x1 filter with unit stride and no padding is exactly a per-position
// channel-mixing matrix multiply followed by the fused transform.
func TestConv3dPointwiseReducesToGemm(t *testing.T) {
	rng := rand.New(rand.NewSource(13))

	p := conv.NewProblem3d(2, 3, 4, 5, 8, 12, 1, 1, 1)
	x, w, sb, y := makeOperands(rng, p)

	k, err := Build[float32](testSpec(Optimized), ReLU[float32]())
	if err != nil {
		t.Fatal(err)
	}
	if err := k.Run(p, x, w, sb, y); err != nil {
		t.Fatal(err)
	}

	// Direct formula: y[pos,k] = relu(sum_c x[pos,c]*w[k,c] * scale + bias).
	positions := p.N * 3 * 4 * 5
	for pos := 0; pos < positions; pos++ {
		for kk := 0; kk < p.K; kk++ {
			var sum float32
			for c := 0; c < p.C; c++ {
				sum += x[pos*p.C+c] * w[kk*p.C+c]
			}
			want := reluScalar(sum*sb.Scale[kk] + sb.Bias[kk])
			got := y[pos*p.K+kk]
			if math.Abs(float64(got-want)) > 1e-4 {
				t.Fatalf("position %d channel %d = %v, want %v", pos, kk, got, want)
			}
		}
	}
}

// Every in-bound output position must be populated even when the output
// extents do not divide the tile shape.
func TestConv3dPartialTilesFullyPopulated(t *testing.T) {
	rng := rand.New(rand.NewSource(14))

	// GEMM M = 27, N = 5: both axes leave partial tiles with 16x16 tiling.
	p := conv.NewProblem3d(1, 3, 3, 3, 3, 5, 1, 1, 1)
	x, w, sb, y := makeOperands(rng, p)
	const sentinel = float32(-12345)
	for i := range y {
		y[i] = sentinel
	}

	k, err := Build[float32](testSpec(Analytic), Identity[float32]())
	if err != nil {
		t.Fatal(err)
	}
	if err := k.Run(p, x, w, sb, y); err != nil {
		t.Fatal(err)
	}
	for i, v := range y {
		if v == sentinel {
			t.Fatalf("output element %d left unwritten", i)
		}
	}
	want := referenceConv3d(p, x, w, sb, func(v float32) float32 { return v })
	checkClose(t, y, want, 1e-4)
}

// With fewer k-tiles than pipeline stages the mainloop goes straight from
// prologue to drain and must still be correct.
func TestConv3dFewerKTilesThanStages(t *testing.T) {
	rng := rand.New(rand.NewSource(15))

	// GEMM K = 8 = one k-tile, against 4 stages.
	p := conv.NewProblem3d(2, 4, 4, 4, 8, 8, 1, 1, 1)
	spec := testSpec(Optimized)
	spec.Stages = 4

	k, err := Build[float32](spec, ReLU[float32]())
	if err != nil {
		t.Fatal(err)
	}

	x, w, sb, y := makeOperands(rng, p)
	if err := k.Run(p, x, w, sb, y); err != nil {
		t.Fatal(err)
	}
	want := referenceConv3d(p, x, w, sb, reluScalar)
	checkClose(t, y, want, 1e-4)
}

// Fully padded-out taps must contribute exactly zero, not garbage: with an
// all-ones input and filter and identity transform, each output counts its
// in-bound taps.
func TestConv3dPaddingContributesZero(t *testing.T) {
	p := conv.NewProblem3d(1, 3, 3, 3, 1, 1, 3, 3, 3)
	p.PadD, p.PadH, p.PadW = 1, 1, 1

	x := make([]float32, p.ActivationLayout().Size())
	w := make([]float32, p.FilterLayout().Size())
	for i := range x {
		x[i] = 1
	}
	for i := range w {
		w[i] = 1
	}
	sb := conv.ScaleBias[float32]{Scale: []float32{1}, Bias: []float32{0}}
	y := make([]float32, p.OutputLayout().Size())

	k, err := Build[float32](testSpec(Analytic), Identity[float32]())
	if err != nil {
		t.Fatal(err)
	}
	if err := k.Run(p, x, w, sb, y); err != nil {
		t.Fatal(err)
	}

	// Corner (0,0,0): only the 2x2x2 in-bound corner of the 3x3x3 window.
	if y[0] != 8 {
		t.Errorf("corner output = %v, want 8", y[0])
	}
	// Center (1,1,1): the full 3x3x3 window.
	yl := p.OutputLayout()
	if got := y[yl.Offset(0, 1, 1, 1, 0)]; got != 27 {
		t.Errorf("center output = %v, want 27", got)
	}
	// Face center (0,1,1): one depth slab clipped.
	if got := y[yl.Offset(0, 0, 1, 1, 0)]; got != 18 {
		t.Errorf("face output = %v, want 18", got)
	}
}

func TestConv3dFloat64(t *testing.T) {
	rng := rand.New(rand.NewSource(16))

	p := conv.NewProblem3d(1, 4, 4, 4, 4, 6, 3, 3, 3)
	p.PadD, p.PadH, p.PadW = 1, 1, 1

	k, err := Build[float64](testSpec(Optimized), ReLU[float64]())
	if err != nil {
		t.Fatal(err)
	}

	x := make([]float64, p.ActivationLayout().Size())
	w := make([]float64, p.FilterLayout().Size())
	for i := range x {
		x[i] = rng.Float64()*2 - 1
	}
	for i := range w {
		w[i] = rng.Float64()*2 - 1
	}
	sb := conv.ScaleBias[float64]{Scale: make([]float64, p.K), Bias: make([]float64, p.K)}
	for i := 0; i < p.K; i++ {
		sb.Scale[i] = rng.Float64() + 0.5
		sb.Bias[i] = rng.Float64() - 0.5
	}
	y := make([]float64, p.OutputLayout().Size())
	if err := k.Run(p, x, w, sb, y); err != nil {
		t.Fatal(err)
	}

	// Spot-check against a direct computation in float64.
	yl := p.OutputLayout()
	xl := p.ActivationLayout()
	wl := p.FilterLayout()
	for _, pos := range [][4]int{{0, 0, 0, 0}, {0, 1, 2, 3}, {0, 3, 3, 3}} {
		n, oz, op, oq := pos[0], pos[1], pos[2], pos[3]
		for kk := 0; kk < p.K; kk++ {
			var sum float64
			for ft := 0; ft < p.T; ft++ {
				for fr := 0; fr < p.R; fr++ {
					for fs := 0; fs < p.S; fs++ {
						d, h, ww := oz-1+ft, op-1+fr, oq-1+fs
						if d < 0 || d >= p.D || h < 0 || h >= p.H || ww < 0 || ww >= p.W {
							continue
						}
						for c := 0; c < p.C; c++ {
							sum += x[xl.Offset(n, d, h, ww, c)] * w[wl.Offset(kk, ft, fr, fs, c)]
						}
					}
				}
			}
			want := sum*sb.Scale[kk] + sb.Bias[kk]
			if want < 0 {
				want = 0
			}
			got := y[yl.Offset(n, oz, op, oq, kk)]
			if math.Abs(got-want) > 1e-10 {
				t.Fatalf("output (%d,%d,%d,%d,%d) = %v, want %v", n, oz, op, oq, kk, got, want)
			}
		}
	}
}

func benchProblem() conv.Problem3d {
	p := conv.NewProblem3d(1, 8, 16, 16, 32, 64, 3, 3, 3)
	p.PadD, p.PadH, p.PadW = 1, 1, 1
	return p
}

func BenchmarkConv3dFprop(b *testing.B) {
	rng := rand.New(rand.NewSource(17))
	p := benchProblem()
	x, w, sb, y := makeOperands(rng, p)

	spec := Spec{
		Tile:      TileShape{M: 64, N: 64, K: 32},
		Warp:      WarpShape{M: 16, N: 32},
		Stages:    3,
		Algorithm: Analytic,
	}

	for _, alg := range []IteratorAlgorithm{Analytic, Optimized} {
		s := spec
		s.Algorithm = alg
		k, err := Build[float32](s, ReLU[float32]())
		if err != nil {
			b.Fatal(err)
		}
		b.Run(alg.String(), func(b *testing.B) {
			gemm := p.ImplicitGemm()
			b.SetBytes(int64(gemm.M) * int64(gemm.N) * int64(gemm.K) * 2 * 4)
			for b.Loop() {
				if err := k.Run(p, x, w, sb, y); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
