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
	"sync"

	"github.com/ajroetker/go-highway/hwy"
)

// stageBuffer is one slot of the pipeline's staging ring: the A, B, and
// scale/bias fragments of a single k-tile. Slots are shared between the fetch
// side and the compute side of one worker group; ownership is handed back and
// forth through the pipeline channels, never concurrent.
type stageBuffer[T hwy.Floats] struct {
	a, b        []T
	scale, bias []T
}

func newStageBuffers[T hwy.Floats](tile TileShape, stages int) []stageBuffer[T] {
	bufs := make([]stageBuffer[T], stages)
	for s := range bufs {
		bufs[s] = stageBuffer[T]{
			a:     make([]T, tile.M*tile.K),
			b:     make([]T, tile.K*tile.N),
			scale: make([]T, tile.N),
			bias:  make([]T, tile.N),
		}
	}
	return bufs
}

// runPipeline drives one worker group's software pipeline for kTiles steps.
//
// A fetch goroutine fills ring slots ahead of the compute loop: it gathers
// the A and B fragments of successive k-tiles (as disjoint writers joined
// before the slot is published) and hands each filled slot across a channel.
// The compute loop consumes slots in publication order and returns them for
// reuse. The channel hand-offs are the only synchronization: a publish
// happens-before the consume that computes on the slot, and the return
// happens-before the fetch that overwrites it S steps later.
//
// With kTiles >= stages the fetcher runs the prologue (filling the free
// slots) and then stays up to stages-1 tiles ahead of compute; with
// kTiles < stages the fetcher finishes during the prologue and the compute
// loop is pure drain.
//
// Returns the last consumed slot, whose scale/bias fragments correspond to
// the tile's column range and are consumed by the epilogue.
func runPipeline[T hwy.Floats](kTiles int, bufs []stageBuffer[T], aIt, bIt tileIterator[T], sbIt *scaleBiasIterator[T], compute func(*stageBuffer[T])) *stageBuffer[T] {
	stages := len(bufs)
	filled := make(chan int, stages)
	free := make(chan int, stages)
	for s := 0; s < stages; s++ {
		free <- s
	}

	go func() {
		defer close(filled)
		for kt := 0; kt < kTiles; kt++ {
			s := <-free
			buf := &bufs[s]

			var wg sync.WaitGroup
			wg.Go(func() {
				bIt.Gather(buf.b)
				bIt.Advance()
			})
			aIt.Gather(buf.a)
			aIt.Advance()
			sbIt.Gather(buf.scale, buf.bias)
			wg.Wait()

			filled <- s
		}
	}()

	var last *stageBuffer[T]
	for s := range filled {
		last = &bufs[s]
		compute(last)
		free <- s
	}
	return last
}
