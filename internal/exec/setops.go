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

// evalSetOp implements UNION/INTERSECT/EXCEPT [ALL], per spec.md section
// 4.8. The ALL/DISTINCT variant is carried on the node via
// dag.FlagSetOpAll; both sides must already share the same column count
// and compatible types, enforced by the planner.
func (ex *Executor) evalSetOp(qc *queryCtx, id dag.ID) (*values.Table, error) {
	n := qc.g.Nodes[id]
	left, err := ex.eval(qc, n.Inputs[0])
	if err != nil {
		return nil, err
	}
	defer left.Release()
	right, err := ex.eval(qc, n.Inputs[1])
	if err != nil {
		return nil, err
	}
	defer right.Release()

	leftVecs := make([]*values.Vector, left.NCols())
	for c := range leftVecs {
		leftVecs[c] = materializeColumn(left.GetColIdx(c))
	}
	rightVecs := make([]*values.Vector, right.NCols())
	for c := range rightVecs {
		rightVecs[c] = materializeColumn(right.GetColIdx(c))
	}

	all := n.Flags&dag.FlagSetOpAll != 0
	rightHashes := make(map[groupHash]int) // hash -> remaining count (for INTERSECT/EXCEPT ALL)
	var buf []byte
	for row := 0; row < right.NRows(); row++ {
		buf = buf[:0]
		buf = encodeKeyRow(buf, rightVecs, row)
		rightHashes[hashKey(buf)]++
	}

	out := values.NewTable(ex.Symbols)

	switch n.Op {
	case dag.OpUnion:
		var idxLeft, idxRight []int
		seen := make(map[groupHash]struct{})
		for row := 0; row < left.NRows(); row++ {
			buf = buf[:0]
			buf = encodeKeyRow(buf, leftVecs, row)
			h := hashKey(buf)
			if !all {
				if _, ok := seen[h]; ok {
					continue
				}
				seen[h] = struct{}{}
			}
			idxLeft = append(idxLeft, row)
		}
		for row := 0; row < right.NRows(); row++ {
			buf = buf[:0]
			buf = encodeKeyRow(buf, rightVecs, row)
			h := hashKey(buf)
			if !all {
				if _, ok := seen[h]; ok {
					continue
				}
				seen[h] = struct{}{}
			}
			idxRight = append(idxRight, row)
		}
		leftPart, err := gatherTable(ex, left, idxLeft)
		if err != nil {
			return nil, err
		}
		defer leftPart.Release()
		rightPart, err := gatherTable(ex, right, idxRight)
		if err != nil {
			return nil, err
		}
		defer rightPart.Release()
		return concatTables(ex, leftPart, rightPart)

	case dag.OpIntersect:
		var idx []int
		seenOut := make(map[groupHash]struct{})
		for row := 0; row < left.NRows(); row++ {
			buf = buf[:0]
			buf = encodeKeyRow(buf, leftVecs, row)
			h := hashKey(buf)
			if rightHashes[h] == 0 {
				continue
			}
			if !all {
				if _, ok := seenOut[h]; ok {
					continue
				}
				seenOut[h] = struct{}{}
			} else {
				rightHashes[h]--
			}
			idx = append(idx, row)
		}
		return gatherTable(ex, left, idx)

	case dag.OpExcept:
		var idx []int
		seenOut := make(map[groupHash]struct{})
		for row := 0; row < left.NRows(); row++ {
			buf = buf[:0]
			buf = encodeKeyRow(buf, leftVecs, row)
			h := hashKey(buf)
			if rightHashes[h] > 0 {
				if all {
					rightHashes[h]--
				}
				continue
			}
			if !all {
				if _, ok := seenOut[h]; ok {
					continue
				}
				seenOut[h] = struct{}{}
			}
			idx = append(idx, row)
		}
		return gatherTable(ex, left, idx)
	}
	return out, nil
}

// concatTables appends b's rows after a's, column by column; both
// tables are assumed to share the same column count/order (enforced by
// the planner for a well-formed set operation).
func concatTables(ex *Executor, a, b *values.Table) (*values.Table, error) {
	out := values.NewTable(ex.Symbols)
	for c := 0; c < a.NCols(); c++ {
		av := materializeColumn(a.GetColIdx(c))
		bv := materializeColumn(b.GetColIdx(c))
		combined, err := values.Concat(av, bv)
		if err != nil {
			return nil, err
		}
		if err := out.AddCol(a.ColName(c), values.AsColumn(combined)); err != nil {
			return nil, err
		}
	}
	return out, nil
}
