// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package heap implements the per-thread arena allocator described in
// spec.md section 4.1 (HA): each goroutine that runs executor work owns
// an *Arena with power-of-two slab caches; large allocations bypass the
// slab caches and come straight from mmap'd pages. On goroutine exit the
// arena's outstanding pages are handed to a shared pool so the memory
// isn't wasted, mirroring "a shared merge path on thread exit."
//
// Invariant H1 from spec.md (every returned block is a valid allocation,
// distinguishable from an error) is modeled in Go simply by returning
// (Block, error) pairs instead of sentinel pointers -- see the design
// note in spec.md section 9 about how to adapt the sentinel-pointer FFI
// convention to a language with real sum types.
package heap

import (
	"sync"
	"sync/atomic"

	"github.com/vellumdb/vellum/ints"
	"github.com/vellumdb/vellum/internal/memops"
)

// mmapGranularity is the unit large allocations are rounded up to
// before going through mmapLarge, so the tracked byte count always
// matches a whole number of pages regardless of the caller's exact
// request size.
const mmapGranularity = 4096

// slabClasses are the power-of-two size classes an Arena caches,
// configurable via internal/config so an embedder can retune them for
// workloads with unusual column widths.
var slabClasses = []int{16, 32, 64, 128, 256, 512, 1024, 4096, 16384}

// SetSlabClasses overrides the default slab size classes. It must be
// called before any Arena is created; it exists so Session can apply
// internal/config's ArenaSlabClasses at startup.
func SetSlabClasses(classes []int) {
	if len(classes) > 0 {
		slabClasses = classes
	}
}

// largeThreshold is the allocation size above which the buddy/mmap path
// is used instead of a slab cache.
func largeThreshold() int {
	return slabClasses[len(slabClasses)-1]
}

// classFor returns the slab class index that fits n bytes, or -1 if n
// exceeds every class (i.e. n should go through the large-object path).
func classFor(n int) int {
	for i, c := range slabClasses {
		if n <= c {
			return i
		}
	}
	return -1
}

// Block is a single heap allocation. It carries its own size class so
// Free can return it to the right cache without a second lookup.
type Block struct {
	Data    []byte
	class   int  // -1 for large/direct allocations
	mmapped bool // true if Data came from mmapLarge and must be munmapLarge'd
}

var (
	liveBytes    int64
	peakBytes    int64
	directMaps   int64
	allocCount   int64
)

func track(delta int64) {
	n := atomic.AddInt64(&liveBytes, delta)
	for {
		p := atomic.LoadInt64(&peakBytes)
		if n <= p || atomic.CompareAndSwapInt64(&peakBytes, p, n) {
			break
		}
	}
}

// sharedPool receives slab blocks merged in from arenas whose owning
// goroutine has exited; a fresh Arena drains it before allocating a new
// slab, which keeps the steady-state allocation rate close to
// zero once the working set has warmed up.
var sharedPool pool

type pool struct {
	mu    sync.Mutex
	free  [][]Block // indexed by slab class
}

func (p *pool) init() {
	if p.free == nil {
		p.free = make([][]Block, len(slabClasses))
	}
}

func (p *pool) take(class int) (Block, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.init()
	n := len(p.free[class])
	if n == 0 {
		return Block{}, false
	}
	b := p.free[class][n-1]
	p.free[class] = p.free[class][:n-1]
	return b, true
}

func (p *pool) give(blocks []Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.init()
	for _, b := range blocks {
		if b.class < 0 || b.class >= len(p.free) {
			continue
		}
		p.free[b.class] = append(p.free[b.class], b)
	}
}

// Arena is a per-goroutine allocator. The zero value is ready to use.
// An Arena must not be shared between goroutines; this matches spec.md
// section 5's statement that per-thread arenas are not shared, and that
// columns allocated on worker threads must be promoted to the main heap
// before their owning goroutine exits.
type Arena struct {
	cache    [][]Block // per-class free lists local to this arena
	outgoing []Block   // blocks still reachable when Merge runs
}

func (a *Arena) initCache() {
	if a.cache == nil {
		a.cache = make([][]Block, len(slabClasses))
	}
}

// Alloc returns an n-byte block, preferring the local slab cache, then
// the shared pool, then a direct allocation for sizes above the largest
// slab class.
func (a *Arena) Alloc(n int) Block {
	class := classFor(n)
	if class < 0 {
		atomic.AddInt64(&allocCount, 1)
		if n >= hugeThreshold {
			aligned := int(ints.AlignUp(uint(n), mmapGranularity))
			if mem, err := mmapLarge(aligned); err == nil {
				atomic.AddInt64(&directMaps, 1)
				track(int64(aligned))
				return Block{Data: mem[:n], class: -1, mmapped: true}
			}
			// fall through to the Go allocator; mmap failures
			// (e.g. a sandboxed environment) should not be fatal
		}
		track(int64(n))
		return Block{Data: make([]byte, n), class: -1}
	}
	a.initCache()
	if k := len(a.cache[class]); k > 0 {
		b := a.cache[class][k-1]
		a.cache[class] = a.cache[class][:k-1]
		a.outgoing = append(a.outgoing, b)
		return Block{Data: b.Data[:n], class: class}
	}
	if b, ok := sharedPool.take(class); ok {
		a.outgoing = append(a.outgoing, b)
		return Block{Data: b.Data[:n], class: class}
	}
	size := slabClasses[class]
	atomic.AddInt64(&allocCount, 1)
	track(int64(size))
	b := Block{Data: make([]byte, size)[:n], class: class}
	a.outgoing = append(a.outgoing, b)
	return b
}

// Free returns b to the arena's local cache for reuse within the same
// goroutine; large allocations are unmapped if they came from mmapLarge
// and otherwise dropped for the GC to collect.
func (a *Arena) Free(b Block) {
	if b.class < 0 {
		track(-int64(cap(b.Data)))
		if b.mmapped {
			// b.Data may be sliced down from the full mmapGranularity-
			// rounded mapping (Alloc returns mem[:n]); munmap the whole
			// mapping, not just the requested prefix.
			munmapLarge(b.Data[:cap(b.Data)])
		}
		return
	}
	a.initCache()
	b.Data = b.Data[:cap(b.Data)]
	// Zero the slab before it can be handed back out by Alloc: COW
	// columns share underlying storage until written, so a reused slab
	// that still held a prior query's bytes would leak them into the
	// next allocation's unwritten tail.
	memops.ZeroMemory(b.Data)
	a.cache[b.class] = append(a.cache[b.class], b)
}

// Merge hands every block this arena is still holding back to the
// shared pool. It must be called exactly once, on the owning goroutine,
// immediately before that goroutine exits -- this is the "shared merge
// path on thread exit" spec.md section 4.1 requires.
func (a *Arena) Merge() {
	if len(a.cache) == 0 {
		return
	}
	for class := range a.cache {
		if len(a.cache[class]) > 0 {
			sharedPool.give(a.cache[class])
			a.cache[class] = nil
		}
	}
}

// Stats is the snapshot API spec.md section 4.1 requires: allocation
// counts, peak bytes, direct-map counts, and current/peak system usage.
type Stats struct {
	LiveBytes   int64
	PeakBytes   int64
	DirectMaps  int64
	AllocCount  int64
	SystemTotal int64 // host DRAM, 0 if undetermined; see SystemMemTotal
}

// Snapshot returns the current process-wide allocation counters.
func Snapshot() Stats {
	return Stats{
		LiveBytes:   atomic.LoadInt64(&liveBytes),
		PeakBytes:   atomic.LoadInt64(&peakBytes),
		DirectMaps:  atomic.LoadInt64(&directMaps),
		AllocCount:  atomic.LoadInt64(&allocCount),
		SystemTotal: SystemMemTotal(),
	}
}

// GC shrinks the shared pool's per-class free lists whose backing
// arrays have grown well past their length; the pooled blocks
// themselves stay in the pool. The executor
// calls this after every query, per spec.md section 4.7's "Arena GC"
// requirement, so idle memory from a large query doesn't linger across
// many small ones.
func GC() {
	sharedPool.mu.Lock()
	defer sharedPool.mu.Unlock()
	for i := range sharedPool.free {
		if cap(sharedPool.free[i]) > 2*len(sharedPool.free[i])+64 {
			trimmed := make([]Block, len(sharedPool.free[i]))
			copy(trimmed, sharedPool.free[i])
			sharedPool.free[i] = trimmed
		}
	}
}
