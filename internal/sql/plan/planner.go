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

// Package plan translates the ast package's syntax tree into a dag.Graph
// plus a list of output column aliases, the SQL planner described in
// spec.md section 4.8. Planning is purely schema-symbolic: no live data
// is touched until the caller hands the returned (*dag.Graph, dag.ID) to
// exec.Executor.Execute.
package plan

import (
	"fmt"

	"github.com/vellumdb/vellum/internal/dag"
	"github.com/vellumdb/vellum/internal/exec"
	"github.com/vellumdb/vellum/internal/optimize"
	"github.com/vellumdb/vellum/internal/sql/ast"
	"github.com/vellumdb/vellum/internal/symtab"
	"github.com/vellumdb/vellum/internal/values"
	"github.com/vellumdb/vellum/internal/verr"
)

// SqlResult is the successful outcome of planning and running a query:
// the realized table plus the output column names, in order, that go
// with its columns.
type SqlResult struct {
	Table   *values.Table
	Columns []string
}

// Result is the planner's contract for a single statement: either a
// completed query, a DDL/DML acknowledgement message, or an error.
type Result struct {
	Query *SqlResult
	Ddl   string
}

// Planner turns one ast.Statement at a time into an executed result. It
// holds an *exec.Executor because subquery resolution, CTE
// materialization, and CREATE TABLE AS SELECT all require eagerly
// running a nested plan before the outer statement can be finished.
type Planner struct {
	Symbols  *symtab.Table
	Catalog  Catalog
	Executor *exec.Executor
}

// New builds a Planner bound to a catalog and the executor used for
// eager sub-evaluation.
func New(symbols *symtab.Table, cat Catalog, ex *exec.Executor) *Planner {
	return &Planner{Symbols: symbols, Catalog: cat, Executor: ex}
}

// Run plans and executes a single statement.
func (p *Planner) Run(stmt ast.Statement) (Result, error) {
	switch s := stmt.(type) {
	case *ast.SelectStatement:
		t, sch, err := p.runSelect(s)
		if err != nil {
			return Result{}, err
		}
		names := make([]string, len(sch))
		for i, c := range sch {
			names[i] = c.name
		}
		return Result{Query: &SqlResult{Table: t, Columns: names}}, nil
	case *ast.CreateTableStatement:
		return p.runCreateTable(s)
	case *ast.DropTableStatement:
		return p.runDropTable(s)
	case *ast.InsertStatement:
		return p.runInsert(s)
	default:
		return Result{}, verr.Newf(verr.Plan, "plan.Run", "unsupported statement type %T", stmt)
	}
}

// Explain plans stmt without executing it and returns a textual dump of
// the resulting dag.Graph: since planning never touches live data, a
// SELECT can be explained with no table ever realized. Non-SELECT
// statements have no graph to show, so Explain just names the
// statement kind.
func (p *Planner) Explain(stmt ast.Statement) (string, error) {
	s, ok := stmt.(*ast.SelectStatement)
	if !ok {
		return fmt.Sprintf("%T: no query plan (DDL/DML statement)\n", stmt), nil
	}
	g := dag.NewGraph(nil)
	root, _, err := p.planSelect(g, s, nil)
	if err != nil {
		return "", err
	}
	return g.Dump(root), nil
}

// runSelect plans a SelectStatement into a graph, executes it, and
// returns the realized table plus its output schema.
func (p *Planner) runSelect(s *ast.SelectStatement) (*values.Table, schema, error) {
	g := dag.NewGraph(nil)
	root, sch, err := p.planSelect(g, s, nil)
	if err != nil {
		return nil, nil, err
	}
	root = optimize.Optimize(g, root)
	t, err := p.Executor.Execute(g, root)
	if err != nil {
		return nil, nil, err
	}
	return t, sch, nil
}

// planScalar plans s and requires exactly one row and one column,
// returning its sole value as an atom -- the shape a scalar subquery, an
// IN-subquery element, or an EXISTS test needs.
func (p *Planner) planScalar(s *ast.SelectStatement) (values.Atom, error) {
	t, _, err := p.runSelect(s)
	if err != nil {
		return values.Atom{}, err
	}
	defer t.Release()
	if t.NCols() != 1 {
		return values.Atom{}, verr.Newf(verr.Plan, "plan.planScalar", "subquery must return exactly one column, got %d", t.NCols())
	}
	col := t.GetColIdx(0)
	if t.NRows() == 0 {
		return values.NullAtom(col.At(0).Code().Base()), nil
	}
	if t.NRows() != 1 {
		return values.Atom{}, verr.Newf(verr.Plan, "plan.planScalar", "subquery must return exactly one row, got %d", t.NRows())
	}
	return col.At(0), nil
}

// planList plans s (an IN-subquery's right-hand side) and returns every
// row of its single output column as a flat atom list.
func (p *Planner) planList(s *ast.SelectStatement) ([]values.Atom, error) {
	t, _, err := p.runSelect(s)
	if err != nil {
		return nil, err
	}
	defer t.Release()
	if t.NCols() != 1 {
		return nil, verr.Newf(verr.Plan, "plan.planList", "subquery must return exactly one column, got %d", t.NCols())
	}
	col := t.GetColIdx(0)
	out := make([]values.Atom, t.NRows())
	for i := range out {
		out[i] = col.At(i)
	}
	return out, nil
}

// planRowCount plans s (an EXISTS subquery) and reports only whether it
// produced at least one row.
func (p *Planner) planRowCount(s *ast.SelectStatement) (int, error) {
	t, _, err := p.runSelect(s)
	if err != nil {
		return 0, err
	}
	defer t.Release()
	return t.NRows(), nil
}
