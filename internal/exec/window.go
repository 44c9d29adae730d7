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

	"github.com/vellumdb/vellum/internal/dag"
	"github.com/vellumdb/vellum/internal/values"
)

// windowOps: window-only function tags, reusing dag.Op's numbering space
// just past the structural ops so WindowFunc.Op can carry either a
// reduction op (for aggregate windows, e.g. SUM() OVER (...)) or one of
// these ranking/navigation functions.
const (
	OpRowNumber dag.Op = 1000 + iota
	OpRank
	OpDenseRank
	OpNTile
	OpLag
	OpLead
	OpFirstValue
	OpLastValue
	OpNthValue
)

// evalWindow implements WINDOW per spec.md section 4.8: partitions rows
// by PartKeys, sorts each partition by OrderKeys, then evaluates every
// WindowFunc either as a running frame aggregate (for SUM/AVG/COUNT/MIN/
// MAX windows) or a ranking/navigation function over the partition's
// row order. Output columns are the input table's columns (in order)
// plus one appended column per WindowFunc.
func (ex *Executor) evalWindow(qc *queryCtx, id dag.ID) (*values.Table, error) {
	n := qc.g.Nodes[id]
	in, err := ex.eval(qc, n.Inputs[0])
	if err != nil {
		return nil, err
	}
	defer in.Release()
	ext := qc.g.WindowExtOf(id)
	src := &scanSource{table: in}

	nrows := in.NRows()
	partKeys := make([]*values.Vector, len(ext.PartKeys))
	for i, k := range ext.PartKeys {
		partKeys[i], err = ex.evalVec(qc, src, k)
		if err != nil {
			return nil, err
		}
	}
	orderKeys := make([]*values.Vector, len(ext.OrderKeys))
	for i, k := range ext.OrderKeys {
		orderKeys[i], err = ex.evalVec(qc, src, k.Node)
		if err != nil {
			return nil, err
		}
	}
	funcInputs := make([]*values.Vector, len(ext.Funcs))
	for i, f := range ext.Funcs {
		if f.Input == dag.ID(-1) {
			continue
		}
		funcInputs[i], err = ex.evalVec(qc, src, f.Input)
		if err != nil {
			return nil, err
		}
	}

	// Partition: group row indices by key tuple, preserving the order
	// partitions are first encountered (output row order is otherwise
	// unconstrained by the SQL standard, but this keeps it stable).
	partitions := map[groupHash][]int{}
	var partOrder []groupHash
	var buf []byte
	for row := 0; row < nrows; row++ {
		buf = buf[:0]
		buf = encodeKeyRow(buf, partKeys, row)
		h := hashKey(buf)
		if _, ok := partitions[h]; !ok {
			partOrder = append(partOrder, h)
		}
		partitions[h] = append(partitions[h], row)
	}

	results := make([][]values.Atom, len(ext.Funcs))
	for i := range results {
		results[i] = make([]values.Atom, nrows)
	}

	for _, h := range partOrder {
		rows := partitions[h]
		sort.SliceStable(rows, func(a, b int) bool {
			ra, rb := rows[a], rows[b]
			for ki, k := range ext.OrderKeys {
				c := compareNullAware(orderKeys[ki].Get(ra), orderKeys[ki].Get(rb), k.NullsFirst)
				if k.Desc {
					c = -c
				}
				if c != 0 {
					return c < 0
				}
			}
			return false
		})
		tied := func(a, b int) bool {
			for ki, k := range ext.OrderKeys {
				if compareNullAware(orderKeys[ki].Get(a), orderKeys[ki].Get(b), k.NullsFirst) != 0 {
					return false
				}
			}
			return true
		}
		for fi, f := range ext.Funcs {
			evalWindowFunc(f, funcInputs[fi], rows, tied, results[fi])
		}
	}

	out := values.NewTable(ex.Symbols)
	for c := 0; c < in.NCols(); c++ {
		if err := out.AddCol(in.ColName(c), in.GetColIdx(c)); err != nil {
			return nil, err
		}
	}
	for fi, f := range ext.Funcs {
		outCode := windowOutCode(f.Op, funcInputs[fi])
		col := values.NewVector(outCode, nrows)
		for row := 0; row < nrows; row++ {
			a := results[fi][row]
			col = col.Append(a, a.IsNull())
		}
		if err := out.AddCol(ex.Symbols.Intern(f.Alias), values.AsColumn(col)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func windowOutCode(op dag.Op, input *values.Vector) values.Code {
	switch op {
	case OpRowNumber, OpRank, OpDenseRank, OpNTile, dag.OpCount, dag.OpCountStar:
		return values.I64
	case dag.OpSum, dag.OpAvg, dag.OpStddev, dag.OpStddevPop, dag.OpVariance, dag.OpVariancePop:
		return values.F64
	default:
		if input != nil {
			return input.Code().Base()
		}
		return values.I64
	}
}

// evalWindowFunc fills out[row] for every row in this partition (rows,
// in their already partition-sorted order) according to f's function.
// Aggregate window ops and LAST_VALUE/NTH_VALUE use the default frame
// RANGE UNBOUNDED PRECEDING up to the current row's last peer on the
// order keys (the whole partition when there are no order keys);
// ranking/navigation ops are computed directly from position within
// rows.
func evalWindowFunc(f dag.WindowFunc, input *values.Vector, rows []int, tied func(a, b int) bool, out []values.Atom) {
	switch f.Op {
	case OpRowNumber:
		for i, row := range rows {
			out[row] = values.NewI64Atom(int64(i + 1))
		}
	case OpRank, OpDenseRank:
		rank := int64(1)
		dense := int64(1)
		for i, row := range rows {
			if i > 0 && !tied(rows[i-1], row) {
				rank = int64(i + 1)
				dense++
			}
			if f.Op == OpRank {
				out[row] = values.NewI64Atom(rank)
			} else {
				out[row] = values.NewI64Atom(dense)
			}
		}
	case OpNTile:
		tiles := f.N
		if tiles < 1 {
			tiles = 1
		}
		total := int64(len(rows))
		for i, row := range rows {
			pos := int64(i)
			tile := pos*tiles/total + 1
			out[row] = values.NewI64Atom(tile)
		}
	case OpLag:
		off := f.Offset
		if off == 0 {
			off = 1
		}
		for i, row := range rows {
			j := int64(i) - off
			if j < 0 || j >= int64(len(rows)) || input == nil {
				out[row] = values.NullAtom(values.I64)
				continue
			}
			out[row] = input.Get(rows[j])
		}
	case OpLead:
		off := f.Offset
		if off == 0 {
			off = 1
		}
		for i, row := range rows {
			j := int64(i) + off
			if j < 0 || j >= int64(len(rows)) || input == nil {
				out[row] = values.NullAtom(values.I64)
				continue
			}
			out[row] = input.Get(rows[j])
		}
	case OpFirstValue:
		for _, row := range rows {
			if input == nil {
				out[row] = values.NullAtom(values.I64)
			} else {
				out[row] = input.Get(rows[0])
			}
		}
	case OpLastValue:
		last := len(rows) - 1 // last peer of rows[i], found walking backwards
		for i := len(rows) - 1; i >= 0; i-- {
			if i+1 < len(rows) && !tied(rows[i], rows[i+1]) {
				last = i
			}
			if input == nil {
				out[rows[i]] = values.NullAtom(values.I64)
			} else {
				out[rows[i]] = input.Get(rows[last]) // UNBOUNDED PRECEDING..CURRENT ROW's last peer
			}
		}
	case OpNthValue:
		n := f.N
		last := len(rows) - 1
		for i := len(rows) - 1; i >= 0; i-- {
			if i+1 < len(rows) && !tied(rows[i], rows[i+1]) {
				last = i
			}
			row := rows[i]
			if input == nil || n < 1 || n > int64(last+1) {
				out[row] = values.NullAtom(values.I64)
				continue
			}
			out[row] = input.Get(rows[n-1])
		}
	default:
		runningAggregate(f.Op, input, rows, tied, out)
	}
}

// runningAggregate evaluates an aggregate window function over the
// default frame RANGE UNBOUNDED PRECEDING AND CURRENT ROW: each row sees
// the accumulation of every row up to and including its last peer on
// the order keys in partition order (so with no order keys, every row
// sees the whole partition).
func runningAggregate(op dag.Op, input *values.Vector, rows []int, tied func(a, b int) bool, out []values.Atom) {
	a := newAggState(op, func() values.Code {
		if input != nil {
			return input.Code()
		}
		return values.I64
	}(), 0)
	for i := 0; i < len(rows); {
		j := i + 1
		for j < len(rows) && tied(rows[i], rows[j]) {
			j++
		}
		for _, row := range rows[i:j] {
			a.accumulate(row, input)
		}
		v := a.finalize()
		for _, row := range rows[i:j] {
			out[row] = v
		}
		i = j
	}
}
