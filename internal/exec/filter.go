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
	"github.com/vellumdb/vellum/internal/values"
	"github.com/vellumdb/vellum/internal/workerpool"
)

// evalFilter implements FILTER per spec.md section 4.7: a two-pass
// morsel algorithm (count set bits, then gather into a preallocated
// destination) dispatched to the worker pool once the input is large
// enough, per the PARALLEL_THRESHOLD rule. Null bitmaps propagate
// through Table.AddCol -> Column.At unchanged; a predicate NULL is
// treated as not-satisfying, matching SQL's three-valued WHERE
// semantics.
func (ex *Executor) evalFilter(qc *queryCtx, id dag.ID) (*values.Table, error) {
	n := qc.g.Nodes[id]
	in, err := ex.inputTable(qc, n.Inputs[0], n.SourceIdx)
	if err != nil {
		return nil, err
	}
	defer in.Release()
	pred, err := ex.evalVec(qc, &scanSource{table: in}, n.Inputs[1])
	if err != nil {
		return nil, err
	}
	idx, err := ex.selectedIndices(pred, -1)
	if err != nil {
		return nil, err
	}
	return gatherTable(ex, in, idx)
}

// selectedIndices returns the row indices where mask is true (NULL
// counts as false), honoring an optional limit (-1 for unlimited). A
// limit forces the sequential, early-stopping scan spec.md's HEAD/
// FILTER fusion describes ("gathers only the first n passing rows");
// an unlimited scan dispatches per-morsel counting to the pool when
// the input is large, matching the two-pass contract.
func (ex *Executor) selectedIndices(mask *values.Vector, limit int) ([]int, error) {
	n := mask.Len()
	if limit >= 0 || !ex.parallel(n) {
		return sequentialSelect(mask, limit), nil
	}
	morsels := Morsels(n, ex.MorselSize)
	results := make([][]int, len(morsels))
	tasks := make([]workerpool.Task, len(morsels))
	for mi, m := range morsels {
		mi, m := mi, m
		tasks[mi] = func(arena *heap.Arena) error {
			if err := ex.checkCancel(); err != nil {
				return err
			}
			results[mi] = sequentialSelectRange(mask, m.Start, m.Start+m.Len, -1)
			return nil
		}
	}
	if err := ex.Pool.Run(tasks); err != nil {
		return nil, err
	}
	total := 0
	for _, r := range results {
		total += len(r)
	}
	out := make([]int, 0, total)
	for _, r := range results {
		out = append(out, r...)
	}
	return out, nil
}

func sequentialSelect(mask *values.Vector, limit int) []int {
	return sequentialSelectRange(mask, 0, mask.Len(), limit)
}

func sequentialSelectRange(mask *values.Vector, start, end, limit int) []int {
	var out []int
	bools := mask.Bools()
	nulls := mask.Nulls()
	for i := start; i < end; i++ {
		if !nulls.Get(i) && bools[i] {
			out = append(out, i)
			if limit >= 0 && len(out) >= limit {
				break
			}
		}
	}
	return out
}

// gatherTable builds a new table containing only the rows in idx, in
// idx's order, from every column of in -- the "gather into
// preallocated destination" half of spec.md's FILTER algorithm, also
// used by DISTINCT, SORT, the set operations, GROUP's HAVING and the
// fused HEAD(FILTER) path. Plain HEAD(n)/TAIL(n) use sliceTable.
func gatherTable(ex *Executor, in *values.Table, idx []int) (*values.Table, error) {
	out := values.NewTable(ex.Symbols)
	for c := 0; c < in.NCols(); c++ {
		col := in.GetColIdx(c)
		gathered := gatherColumn(col, idx)
		if err := out.AddCol(in.ColName(c), gathered); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func gatherColumn(col values.Column, idx []int) values.Column {
	out := values.NewVector(col.Code(), len(idx))
	for _, i := range idx {
		a := col.At(i)
		out = out.Append(a, a.IsNull())
	}
	return values.AsColumn(out)
}
