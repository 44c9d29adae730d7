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

// Package workerpool implements the fixed-count morsel worker pool from
// spec.md section 4.6 (WP): a set of goroutines consuming morsel tasks
// from a shared queue, a single global cancel flag polled at morsel
// boundaries, and an ordered teardown sequence.
//
// The fan-out/fan-in shape follows vm.SplitInput's WaitGroup-based
// pattern (vm/table.go): a batch of tasks is submitted, a WaitGroup
// latches completion, and per-task errors are collected into a slice
// indexed by task rather than funneled through a channel.
package workerpool

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vellumdb/vellum/internal/atomicext"
	"github.com/vellumdb/vellum/internal/heap"
	"github.com/vellumdb/vellum/internal/verr"
)

// Task is a single unit of morsel work. It receives the arena of the
// worker goroutine executing it, per spec.md's per-thread arena design.
type Task func(arena *heap.Arena) error

// Pool is a fixed-count worker pool. The zero value is not usable; call
// New.
type Pool struct {
	tasks   chan taskItem
	wg      sync.WaitGroup
	cancel  int32 // atomic; spec.md 4.6's single global cancel flag
	closing int32 // atomic; set by Destroy
	done    chan struct{}
	n       int

	// Per-task wall-clock stats, updated concurrently by every worker
	// goroutine with no shared lock: a CAS loop (atomicext) is cheaper
	// here than a mutex since contention is only on the rare occasion
	// two workers finish within the same few nanoseconds.
	taskCount    int64 // atomic
	taskSeconds  float64
	taskMinSec   float64
	taskMaxSec   float64
}

type taskItem struct {
	fn  Task
	err *error
	wg  *sync.WaitGroup
}

// New creates a pool with n workers; n <= 0 auto-detects via
// runtime.GOMAXPROCS, matching spec.md's "0 = auto-detect."
func New(n int) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
		if n < 1 {
			n = 1
		}
	}
	p := &Pool{
		tasks:      make(chan taskItem, n*4),
		done:       make(chan struct{}),
		n:          n,
		taskMinSec: math.Inf(1),
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Workers reports the pool's worker count.
func (p *Pool) Workers() int { return p.n }

// Stats is a snapshot of per-task wall-clock timings, for Session's
// diagnostic surface.
type Stats struct {
	TaskCount      int64
	TotalSeconds   float64
	MinTaskSeconds float64
	MaxTaskSeconds float64
}

// Stats reports task timings accumulated since the pool was created.
func (p *Pool) Stats() Stats {
	n := atomic.LoadInt64(&p.taskCount)
	min := atomicext.LoadFloat64(&p.taskMinSec)
	if n == 0 {
		min = 0
	}
	return Stats{
		TaskCount:      n,
		TotalSeconds:   atomicext.LoadFloat64(&p.taskSeconds),
		MinTaskSeconds: min,
		MaxTaskSeconds: atomicext.LoadFloat64(&p.taskMaxSec),
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	var arena heap.Arena
	defer arena.Merge()
	for {
		select {
		case item, ok := <-p.tasks:
			if !ok {
				return
			}
			start := time.Now()
			*item.err = item.fn(&arena)
			elapsed := time.Since(start).Seconds()
			atomic.AddInt64(&p.taskCount, 1)
			atomicext.AddFloat64(&p.taskSeconds, elapsed)
			atomicext.MinFloat64(&p.taskMinSec, elapsed)
			atomicext.MaxFloat64(&p.taskMaxSec, elapsed)
			item.wg.Done()
		case <-p.done:
			return
		}
	}
}

// Cancelled reports whether the global cancel flag is set. Stages
// consult this at morsel boundaries, per spec.md's cancellation model.
func (p *Pool) Cancelled() bool {
	return atomic.LoadInt32(&p.cancel) != 0
}

// Cancel sets the global cancel flag. It may be called from any
// goroutine, including a signal handler, per spec.md section 5.
func (p *Pool) Cancel() {
	atomic.StoreInt32(&p.cancel, 1)
}

// ClearCancel resets the flag; Execute calls this at the entry to every
// query so a prior cancellation never leaks into the next one.
func (p *Pool) ClearCancel() {
	atomic.StoreInt32(&p.cancel, 0)
}

// Run submits a batch of tasks and blocks until every one has completed
// (spec.md's "submitting a batch of morsel tasks and waiting for
// completion (latching)"). It returns the first non-nil error
// encountered, preferring verr.Cancelled if the pool was cancelled
// mid-batch.
func (p *Pool) Run(tasks []Task) error {
	if atomic.LoadInt32(&p.closing) != 0 {
		return verr.Sentinel(verr.Cancelled)
	}
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup
	wg.Add(len(tasks))
	for i, t := range tasks {
		p.tasks <- taskItem{fn: t, err: &errs[i], wg: &wg}
	}
	wg.Wait()

	var first error
	sawCancel := p.Cancelled()
	for _, e := range errs {
		if e == nil {
			continue
		}
		if first == nil {
			first = e
		}
		if e == verr.Sentinel(verr.Cancelled) || isCancel(e) {
			sawCancel = true
		}
	}
	if sawCancel {
		return verr.Sentinel(verr.Cancelled)
	}
	return first
}

func isCancel(err error) bool {
	ve, ok := err.(*verr.Error)
	return ok && ve.Kind == verr.Cancelled
}

// Destroy performs the ordered teardown spec.md section 4.6 requires:
// set a shutdown flag, signal all workers, and join them synchronously.
// Arena reclamation and symbol-table teardown are the caller's
// responsibility (spec.md: "pool -> symbols -> main heap").
func (p *Pool) Destroy() {
	if !atomic.CompareAndSwapInt32(&p.closing, 0, 1) {
		return
	}
	close(p.done)
	p.wg.Wait()
}
