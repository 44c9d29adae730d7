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
	"github.com/vellumdb/vellum/internal/values"
)

// evalHead implements HEAD(n), including the fused forms the optimizer
// may have attached: HEAD/FILTER (gather only the first n passing
// rows), HEAD/GROUP (the GROUP stage already stopped at n groups, so
// HEAD is an identity pass-through), and HEAD/SORT (the SORT stage
// already produced only the top n rows).
func (ex *Executor) evalHead(qc *queryCtx, id dag.ID) (*values.Table, error) {
	n := qc.g.Nodes[id]
	limit := int(n.EstRows)

	if n.Flags&dag.FlagHeadFilterFused != 0 {
		filterNode := qc.g.Nodes[n.Inputs[0]]
		in, err := ex.inputTable(qc, filterNode.Inputs[0], filterNode.SourceIdx)
		if err != nil {
			return nil, err
		}
		defer in.Release()
		pred, err := ex.evalVec(qc, &scanSource{table: in}, filterNode.Inputs[1])
		if err != nil {
			return nil, err
		}
		idx, err := ex.selectedIndices(pred, limit)
		if err != nil {
			return nil, err
		}
		return gatherTable(ex, in, idx)
	}

	in, err := ex.eval(qc, n.Inputs[0])
	if err != nil {
		return nil, err
	}
	if n.Flags&(dag.FlagHeadGroupFused|dag.FlagHeadSortFused) != 0 {
		// GROUP/SORT already truncated to the requested limit.
		return in, nil
	}
	defer in.Release()
	if limit > in.NRows() {
		limit = in.NRows()
	}
	return sliceTable(ex, in, 0, limit)
}

// evalTail implements TAIL(n): the last n rows of the input, per
// spec.md section 4.7.
func (ex *Executor) evalTail(qc *queryCtx, id dag.ID) (*values.Table, error) {
	n := qc.g.Nodes[id]
	in, err := ex.eval(qc, n.Inputs[0])
	if err != nil {
		return nil, err
	}
	defer in.Release()
	limit := int(n.EstRows)
	start := in.NRows() - limit
	if start < 0 {
		start = 0
	}
	return sliceTable(ex, in, start, in.NRows()-start)
}

// sliceTable returns a zero-copy view of in's rows [start, start+len)
// for Flat columns (via Vector.Slice's shared-storage design) and a
// gathered copy for Parted/MapCommon columns, per spec.md's "returns a
// zero-copy slice of the input table (with clone of nested vectors as
// needed)."
func sliceTable(ex *Executor, in *values.Table, start, length int) (*values.Table, error) {
	out := values.NewTable(ex.Symbols)
	for c := 0; c < in.NCols(); c++ {
		col := in.GetColIdx(c)
		var sliced values.Column
		if u, ok := col.(interface{ Underlying() *values.Vector }); ok {
			sliced = values.AsColumn(u.Underlying().Slice(start, length))
		} else {
			idx := make([]int, length)
			for i := range idx {
				idx[i] = start + i
			}
			sliced = gatherColumn(col, idx)
		}
		if err := out.AddCol(in.ColName(c), sliced); err != nil {
			return nil, err
		}
	}
	return out, nil
}
