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

// evalDistinct implements DISTINCT: keep the first row seen for each
// unique tuple across every column, per spec.md section 4.8's
// description of DISTINCT as "GROUP BY all output columns with no
// aggregates."
func (ex *Executor) evalDistinct(qc *queryCtx, id dag.ID) (*values.Table, error) {
	n := qc.g.Nodes[id]
	in, err := ex.eval(qc, n.Inputs[0])
	if err != nil {
		return nil, err
	}
	defer in.Release()

	vecs := make([]*values.Vector, in.NCols())
	for c := range vecs {
		vecs[c] = materializeColumn(in.GetColIdx(c))
	}

	seen := make(map[groupHash]struct{})
	var idx []int
	var buf []byte
	for row := 0; row < in.NRows(); row++ {
		buf = buf[:0]
		buf = encodeKeyRow(buf, vecs, row)
		h := hashKey(buf)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		idx = append(idx, row)
	}
	return gatherTable(ex, in, idx)
}
