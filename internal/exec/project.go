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
	"github.com/vellumdb/vellum/internal/verr"
)

// inputTable evaluates a node's input sub-graph, or falls back to the
// graph's sourceIdx-th bound table when input is unset (i.e. this is a
// base projection straight off FROM, or one side of a JOIN reading its
// own FROM-clause table), returning both the table and the Retain it
// holds; callers must Release it.
func (ex *Executor) inputTable(qc *queryCtx, input dag.ID, sourceIdx int32) (*values.Table, error) {
	if input == dag.ID(-1) {
		t := qc.g.SourceAt(sourceIdx)
		t.Retain()
		return t, nil
	}
	return ex.eval(qc, input)
}

// evalProject realizes PROJECT, SELECT, ALIAS, and MATERIALIZE nodes,
// per spec.md section 4.4's "structural" category. PROJECT computes a
// column per output expression (spec.md Invariant "Projection
// identity": SELECT * must reproduce source order/row count exactly,
// which falls out here because a SELECT * plan's ProjectExt.Cols is
// exactly the source's SCAN nodes in source order).
func (ex *Executor) evalProject(qc *queryCtx, id dag.ID) (*values.Table, error) {
	n := qc.g.Nodes[id]
	switch n.Op {
	case dag.OpProject:
		in, err := ex.inputTable(qc, n.Inputs[0], n.SourceIdx)
		if err != nil {
			return nil, err
		}
		defer in.Release()
		ext := qc.g.ProjectExtOf(id)
		src := &scanSource{table: in}
		out := values.NewTable(ex.Symbols)
		for i, c := range ext.Cols {
			vec, err := ex.evalVec(qc, src, c)
			if err != nil {
				return nil, err
			}
			name := ex.Symbols.Intern(ext.Aliases[i])
			if err := out.AddCol(name, values.AsColumn(vec)); err != nil {
				return nil, verr.Wrap(verr.SchemaMismatch, "exec.evalProject", err)
			}
		}
		return out, nil
	case dag.OpSelect:
		in, err := ex.eval(qc, n.Inputs[0])
		if err != nil {
			return nil, err
		}
		defer in.Release()
		ext := qc.g.SelectExtOf(id)
		out := values.NewTable(ex.Symbols)
		for _, idx := range ext.Keep {
			col := in.GetColIdx(idx)
			if err := out.AddCol(in.ColName(idx), col); err != nil {
				return nil, verr.Wrap(verr.SchemaMismatch, "exec.evalProject", err)
			}
		}
		return out, nil
	case dag.OpAlias:
		in, err := ex.eval(qc, n.Inputs[0])
		if err != nil {
			return nil, err
		}
		defer in.Release()
		ext := qc.g.AliasExtOf(id)
		if len(ext.Names) != in.NCols() {
			return nil, verr.Newf(verr.SchemaMismatch, "exec.evalProject", "alias has %d names for %d columns", len(ext.Names), in.NCols())
		}
		out := values.NewTable(ex.Symbols)
		for i := 0; i < in.NCols(); i++ {
			if err := out.AddCol(ext.Names[i], in.GetColIdx(i)); err != nil {
				return nil, verr.Wrap(verr.SchemaMismatch, "exec.evalProject", err)
			}
		}
		return out, nil
	case dag.OpMaterialize:
		in, err := ex.eval(qc, n.Inputs[0])
		if err != nil {
			return nil, err
		}
		return in, nil
	default:
		return nil, verr.Newf(verr.Plan, "exec.evalProject", "unexpected op %v", n.Op)
	}
}
