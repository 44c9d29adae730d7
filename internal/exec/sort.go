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
	"sort"

	genheap "github.com/vellumdb/vellum/heap"
	"github.com/vellumdb/vellum/internal/dag"
	isort "github.com/vellumdb/vellum/internal/sort"
	"github.com/vellumdb/vellum/internal/values"
)

// evalSort implements SORT per spec.md section 4.7: an in-memory
// comparison sort driven by a tuple of ORDER BY key vectors, honoring
// NULLS FIRST/LAST per key. When the optimizer fused a following HEAD(n)
// (dag.FlagHeadSortFused, n stashed in the node's EstRows), only the top
// n rows are materialized, via a bounded selection rather than a full
// sort-then-slice.
func (ex *Executor) evalSort(qc *queryCtx, id dag.ID) (*values.Table, error) {
	n := qc.g.Nodes[id]
	in, err := ex.eval(qc, n.Inputs[0])
	if err != nil {
		return nil, err
	}
	defer in.Release()
	ext := qc.g.SortExtOf(id)
	src := &scanSource{table: in}

	keyVecs := make([]*values.Vector, len(ext.Keys))
	for i, k := range ext.Keys {
		keyVecs[i], err = ex.evalVec(qc, src, k.Node)
		if err != nil {
			return nil, err
		}
	}

	nrows := in.NRows()
	idx := make([]int, nrows)
	for i := range idx {
		idx[i] = i
	}

	less := func(a, b int) bool {
		ra, rb := idx[a], idx[b]
		for ki, k := range ext.Keys {
			c := compareNullAware(keyVecs[ki].Get(ra), keyVecs[ki].Get(rb), k.NullsFirst)
			if k.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	}

	if n.Flags&dag.FlagHeadSortFused != 0 && n.EstRows > 0 && int(n.EstRows) < nrows {
		idx = topKIndices(idx, less, int(n.EstRows))
	} else if !alreadySortedSingleF64Key(ext.Keys, keyVecs) {
		sort.Slice(idx, less)
	}

	return gatherTable(ex, in, idx)
}

// topKIndices selects the k rows that sort first under less, in order,
// without fully sorting the other n-k. It mirrors sorting.Ktop's
// bounded-heap approach (sorting/ktop.go): a size-k heap of row indices
// ordered by "worse", so the heap's root is always the current worst
// of the k kept so far and a new, better candidate can evict it in
// O(log k) instead of paying for a full O(n log n) sort.
func topKIndices(rows []int, less func(a, b int) bool, k int) []int {
	if k <= 0 {
		return nil
	}
	worse := func(a, b int) bool { return less(b, a) }
	kept := make([]int, 0, k)
	for _, i := range rows {
		if len(kept) < k {
			genheap.PushSlice(&kept, i, worse)
			continue
		}
		if less(i, kept[0]) {
			kept[0] = i
			genheap.FixSlice(kept, 0, worse)
		}
	}
	out := make([]int, len(kept))
	i := len(kept) - 1
	for len(kept) > 0 {
		out[i] = genheap.PopSlice(&kept, worse)
		i--
	}
	return out
}

// alreadySortedSingleF64Key is a cheap pre-check for the common single
// numeric ORDER BY key case: if the column is already in the requested
// order, evalSort can skip sort.Slice's O(n log n) pass entirely and
// keep the identity permutation. It only handles a non-null F64 key,
// the shape internal/sort's generated isSortedAscFloat64/
// isSortedDescFloat64 kernels were built for; anything else falls
// through to the general comparison sort.
func alreadySortedSingleF64Key(keys []dag.SortKey, vecs []*values.Vector) bool {
	if len(keys) != 1 {
		return false
	}
	v := vecs[0]
	if v.Code().Base() != values.F64 || v.HasNulls() {
		return false
	}
	n := v.Len()
	if n <= 1 {
		return true
	}
	bits := make([]uint64, n)
	for i := 0; i < n; i++ {
		bits[i] = isort.Float64SortKey(v.Get(i).F64())
	}
	if keys[0].Desc {
		return isort.IsSortedDescFloat64Keys(bits)
	}
	return isort.IsSortedAscFloat64Keys(bits)
}
