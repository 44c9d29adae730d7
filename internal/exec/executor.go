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

package exec

import (
	"github.com/vellumdb/vellum/internal/dag"
	"github.com/vellumdb/vellum/internal/heap"
	"github.com/vellumdb/vellum/internal/symtab"
	"github.com/vellumdb/vellum/internal/values"
	"github.com/vellumdb/vellum/internal/verr"
	"github.com/vellumdb/vellum/internal/vlog"
	"github.com/vellumdb/vellum/internal/workerpool"
)

// Defaults named directly in spec.md section 4.7.
const (
	DefaultMorselSize        = 1024
	DefaultParallelThreshold = 64 * DefaultMorselSize
	DefaultDispatchMorsels   = 16
)

// Executor realizes an optimized dag.Graph against its bound source
// table, per spec.md section 4.7 (EX). One Executor is shared by every
// query on a Session; its pool and tuning knobs are fixed at
// construction.
type Executor struct {
	Pool              *workerpool.Pool
	Symbols           *symtab.Table
	MorselSize        int
	ParallelThreshold int
	DispatchMorsels   int
}

// New builds an Executor around pool with spec.md's default tunables,
// overridable via internal/config.
func New(pool *workerpool.Pool, symbols *symtab.Table) *Executor {
	return &Executor{
		Pool:              pool,
		Symbols:           symbols,
		MorselSize:        DefaultMorselSize,
		ParallelThreshold: DefaultParallelThreshold,
		DispatchMorsels:   DefaultDispatchMorsels,
	}
}

// queryCtx carries everything a stage needs to evaluate one node:
// the graph, the executor's tuning knobs, and the query-scoped arena
// for the calling (planner) goroutine. Worker-goroutine arenas are
// supplied per-task by workerpool.Pool.Run.
type queryCtx struct {
	ex    *Executor
	g     *dag.Graph
	arena heap.Arena
	id    string // query id, for vlog.Stage
}

// Execute realizes root against g's bound source table and returns the
// result, per spec.md section 4.7's top-level contract. It always
// clears the pool's cancel flag at entry (spec.md section 5: "execute
// clears it at entry, so a prior cancel does not persist into a new
// query") and runs heap.GC after finishing, successfully or not.
func (ex *Executor) Execute(g *dag.Graph, root dag.ID) (*values.Table, error) {
	ex.Pool.ClearCancel()
	defer heap.GC()
	qc := &queryCtx{ex: ex, g: g, id: queryID()}
	defer qc.arena.Merge()
	vlog.Stage(qc.id, "execute", "root", int(root))
	return ex.eval(qc, root)
}

var queryCounter int64

func queryID() string {
	queryCounter++
	return "q" + itoa(queryCounter)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// checkCancel is consulted at every morsel boundary, per spec.md
// section 5's cancellation model.
func (ex *Executor) checkCancel() error {
	if ex.Pool.Cancelled() {
		return verr.Sentinel(verr.Cancelled)
	}
	return nil
}

// parallel reports whether n rows of work justifies dispatching to the
// pool rather than running inline, per spec.md section 4.7's
// "PARALLEL_THRESHOLD (~64 morsels' worth)" rule.
func (ex *Executor) parallel(n int) bool {
	return n >= ex.ParallelThreshold
}

// eval dispatches a node to its stage implementation. Structural
// (pipeline-breaking) nodes produce a *values.Table; this function is
// also the recursion point used by stages that need a fully realized
// input table (FILTER's input, GROUP's input, etc).
func (ex *Executor) eval(qc *queryCtx, id dag.ID) (*values.Table, error) {
	if err := ex.checkCancel(); err != nil {
		return nil, err
	}
	n := qc.g.Nodes[id]
	switch n.Op {
	case dag.OpProject, dag.OpSelect, dag.OpAlias, dag.OpMaterialize:
		return ex.evalProject(qc, id)
	case dag.OpFilter:
		return ex.evalFilter(qc, id)
	case dag.OpGroup:
		return ex.evalGroup(qc, id)
	case dag.OpSort:
		return ex.evalSort(qc, id)
	case dag.OpJoin, dag.OpCrossJoin:
		return ex.evalJoin(qc, id)
	case dag.OpWindow:
		return ex.evalWindow(qc, id)
	case dag.OpHead:
		return ex.evalHead(qc, id)
	case dag.OpTail:
		return ex.evalTail(qc, id)
	case dag.OpDistinct:
		return ex.evalDistinct(qc, id)
	case dag.OpUnion, dag.OpIntersect, dag.OpExcept:
		return ex.evalSetOp(qc, id)
	default:
		return nil, verr.Newf(verr.Plan, "exec.eval", "node %v is not a table-producing operator", n.Op)
	}
}
