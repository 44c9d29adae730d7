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

// evalJoin implements JOIN/CROSS_JOIN per spec.md section 4.8: an
// equi-join hash join. The hash table is always built over the right
// side and probed with the left side's rows; RIGHT OUTER and FULL OUTER
// additionally walk the right side once more at the end to emit
// NULL-extended rows for any right row no probe ever matched.
// CROSS_JOIN is the degenerate no-keys case, handled separately.
func (ex *Executor) evalJoin(qc *queryCtx, id dag.ID) (*values.Table, error) {
	ext := qc.g.JoinExtOf(id)
	left, err := ex.eval(qc, ext.Left)
	if err != nil {
		return nil, err
	}
	defer left.Release()
	right, err := ex.eval(qc, ext.Right)
	if err != nil {
		return nil, err
	}
	defer right.Release()

	if ext.Kind == dag.JoinCross {
		return crossJoin(ex, left, right)
	}

	leftSrc := &scanSource{table: left}
	rightSrc := &scanSource{table: right}
	leftKeys := make([]*values.Vector, len(ext.LeftKeys))
	for i, k := range ext.LeftKeys {
		leftKeys[i], err = ex.evalVec(qc, leftSrc, k)
		if err != nil {
			return nil, err
		}
	}
	rightKeys := make([]*values.Vector, len(ext.RightKeys))
	for i, k := range ext.RightKeys {
		rightKeys[i], err = ex.evalVec(qc, rightSrc, k)
		if err != nil {
			return nil, err
		}
	}

	ht := make(map[groupHash][]int, right.NRows())
	var buf []byte
	for rrow := 0; rrow < right.NRows(); rrow++ {
		buf = buf[:0]
		buf = encodeKeyRow(buf, rightKeys, rrow)
		ht[hashKey(buf)] = append(ht[hashKey(buf)], rrow)
	}

	wantLeftOuter := ext.Kind == dag.JoinLeftOuter || ext.Kind == dag.JoinFullOuter
	wantRightOuter := ext.Kind == dag.JoinRightOuter || ext.Kind == dag.JoinFullOuter

	var leftIdx, rightIdx []int
	rightMatched := make([]bool, right.NRows())
	for lrow := 0; lrow < left.NRows(); lrow++ {
		buf = buf[:0]
		buf = encodeKeyRow(buf, leftKeys, lrow)
		matches := ht[hashKey(buf)]
		if len(matches) == 0 {
			if wantLeftOuter {
				leftIdx = append(leftIdx, lrow)
				rightIdx = append(rightIdx, -1)
			}
			continue
		}
		for _, rrow := range matches {
			leftIdx = append(leftIdx, lrow)
			rightIdx = append(rightIdx, rrow)
			rightMatched[rrow] = true
		}
	}

	if wantRightOuter {
		for rrow := 0; rrow < right.NRows(); rrow++ {
			if !rightMatched[rrow] {
				leftIdx = append(leftIdx, -1)
				rightIdx = append(rightIdx, rrow)
			}
		}
	}

	return joinGather(ex, left, right, leftIdx, rightIdx)
}

func crossJoin(ex *Executor, left, right *values.Table) (*values.Table, error) {
	ln, rn := left.NRows(), right.NRows()
	leftIdx := make([]int, 0, ln*rn)
	rightIdx := make([]int, 0, ln*rn)
	for l := 0; l < ln; l++ {
		for r := 0; r < rn; r++ {
			leftIdx = append(leftIdx, l)
			rightIdx = append(rightIdx, r)
		}
	}
	return joinGather(ex, left, right, leftIdx, rightIdx)
}

// joinGather builds the joined output table: left's columns gathered by
// leftIdx, then right's columns gathered by rightIdx, with a -1 index
// meaning "this row has no counterpart" (NULL-extended, per outer join
// semantics).
func joinGather(ex *Executor, left, right *values.Table, leftIdx, rightIdx []int) (*values.Table, error) {
	out := values.NewTable(ex.Symbols)
	n := len(leftIdx)
	for c := 0; c < left.NCols(); c++ {
		col := left.GetColIdx(c)
		gathered := gatherOrNull(col, leftIdx, n)
		if err := out.AddCol(left.ColName(c), gathered); err != nil {
			return nil, err
		}
	}
	for c := 0; c < right.NCols(); c++ {
		col := right.GetColIdx(c)
		gathered := gatherOrNull(col, rightIdx, n)
		if err := out.AddCol(right.ColName(c), gathered); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func gatherOrNull(col values.Column, idx []int, n int) values.Column {
	out := values.NewVector(col.Code(), n)
	for _, i := range idx {
		if i < 0 {
			out = out.Append(values.NullAtom(col.Code().Base()), true)
			continue
		}
		a := col.At(i)
		out = out.Append(a, a.IsNull())
	}
	return values.AsColumn(out)
}
