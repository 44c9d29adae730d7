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

package plan

import (
	"fmt"
	"strings"

	"github.com/vellumdb/vellum/internal/dag"
	"github.com/vellumdb/vellum/internal/optimize"
	"github.com/vellumdb/vellum/internal/sql/ast"
	"github.com/vellumdb/vellum/internal/values"
	"github.com/vellumdb/vellum/internal/verr"
)

// runCreateTable handles both `CREATE TABLE t (cols...)` (an empty,
// typed table) and `CREATE TABLE t AS SELECT ...` (the query's result,
// stored under t's name).
func (p *Planner) runCreateTable(s *ast.CreateTableStatement) (Result, error) {
	var t *values.Table
	if s.AsSelect != nil {
		var err error
		t, _, err = p.runSelect(s.AsSelect)
		if err != nil {
			return Result{}, err
		}
	} else {
		t = values.NewTable(p.Symbols)
		for _, cd := range s.Columns {
			code, ok := castCodes[strings.ToLower(cd.Type)]
			if !ok {
				return Result{}, verr.Newf(verr.Plan, "plan.runCreateTable", "unsupported column type %q", cd.Type)
			}
			v := values.NewVector(code, 0)
			if err := t.AddCol(p.Symbols.Intern(cd.Name), values.AsColumn(v)); err != nil {
				return Result{}, verr.Wrap(verr.Plan, "plan.runCreateTable", err)
			}
		}
	}
	ok, err := p.Catalog.CreateTable(s.Name, t, s.OrReplace, s.IfNotExists)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Ddl: fmt.Sprintf("table %q already exists, skipped", s.Name)}, nil
	}
	return Result{Ddl: fmt.Sprintf("CREATE TABLE %s", s.Name)}, nil
}

func (p *Planner) runDropTable(s *ast.DropTableStatement) (Result, error) {
	if err := p.Catalog.DropTable(s.Name, s.IfExists); err != nil {
		return Result{}, err
	}
	return Result{Ddl: fmt.Sprintf("DROP TABLE %s", s.Name)}, nil
}

// runInsert appends either a VALUES list or a SELECT's result to an
// existing table. New rows and the table's existing rows are combined
// via a single UNION ALL node (dag.OpUnion, all=true) rather than by
// hand-splicing columns, reusing the same set-op primitive SELECT
// statements use for their own UNION ALL.
func (p *Planner) runInsert(s *ast.InsertStatement) (Result, error) {
	target, ok := p.Catalog.Lookup(s.Table)
	if !ok {
		return Result{}, verr.Newf(verr.Plan, "plan.runInsert", "no such table %q", s.Table)
	}
	targetNames := make([]string, target.NCols())
	targetCodes := make([]values.Code, target.NCols())
	for i := 0; i < target.NCols(); i++ {
		targetNames[i] = target.ColNameString(i)
		targetCodes[i] = target.GetColIdx(i).Code().Base()
	}
	cols := s.Columns
	if len(cols) == 0 {
		cols = targetNames
	}

	g := dag.NewGraph(nil)
	ctx := &planCtx{p: p, g: g, ctes: map[string]cteBinding{}}

	var rowsNode dag.ID
	haveRows := false
	addRow := func(node dag.ID) {
		if !haveRows {
			rowsNode = node
			haveRows = true
			return
		}
		rowsNode = g.SetOp(dag.OpUnion, rowsNode, node, true)
	}

	if s.Query != nil {
		selNode, selSch, err := p.planSelect(g, s.Query, nil)
		if err != nil {
			return Result{}, err
		}
		if len(selSch) != len(cols) {
			return Result{}, verr.Newf(verr.Plan, "plan.runInsert", "INSERT has %d columns but query produces %d", len(cols), len(selSch))
		}
		node, err := reorderToTarget(ctx, selNode, selSch, cols, targetNames, targetCodes)
		if err != nil {
			return Result{}, err
		}
		addRow(node)
	} else {
		for _, row := range s.Values {
			if len(row) != len(cols) {
				return Result{}, verr.Newf(verr.Plan, "plan.runInsert", "INSERT has %d columns but a VALUES row has %d", len(cols), len(row))
			}
			node, err := insertLiteralRow(ctx, row, cols, targetNames, targetCodes)
			if err != nil {
				return Result{}, err
			}
			addRow(node)
		}
	}

	if !haveRows {
		return Result{Ddl: "INSERT 0"}, nil
	}

	existingNode, _ := scanSourceTable(ctx, target, "_existing")
	final := g.SetOp(dag.OpUnion, existingNode, rowsNode, true)
	final = optimize.Optimize(g, final)

	t, err := p.Executor.Execute(g, final)
	if err != nil {
		return Result{}, err
	}
	if _, err := p.Catalog.CreateTable(s.Table, t, true, false); err != nil {
		return Result{}, err
	}
	return Result{Ddl: fmt.Sprintf("INSERT %d", t.NRows()-target.NRows())}, nil
}

// reorderToTarget projects sch's columns (named per cols, positionally)
// into target column order, casting each to the target's declared type
// and filling any target column absent from cols with NULL.
func reorderToTarget(ctx *planCtx, node dag.ID, sch schema, cols, targetNames []string, targetCodes []values.Code) (dag.ID, error) {
	byName := map[string]int{}
	for i, c := range cols {
		byName[strings.ToLower(c)] = i
	}
	outCols := make([]dag.ID, len(targetNames))
	outAliases := make([]string, len(targetNames))
	for i, name := range targetNames {
		idx, ok := byName[strings.ToLower(name)]
		var id dag.ID
		if !ok {
			id = ctx.g.Const(values.NullAtom(targetCodes[i]))
		} else {
			srcID, _, err := compileExpr(ctx, sch, &ast.Identifier{Value: sch[idx].name})
			if err != nil {
				return 0, err
			}
			id = ctx.g.Unary(dag.OpCast, srcID, targetCodes[i])
		}
		outCols[i] = id
		outAliases[i] = name
	}
	return ctx.g.Project(node, &dag.ProjectExt{Cols: outCols, Aliases: outAliases}), nil
}

// insertLiteralRow compiles one VALUES row's expressions (against a
// one-row dual source, since they never reference any table) into a
// single-row Project matching target column order/types.
func insertLiteralRow(ctx *planCtx, row []ast.Expression, cols, targetNames []string, targetCodes []values.Code) (dag.ID, error) {
	src, _, err := dualSource(ctx)
	if err != nil {
		return 0, err
	}
	byName := map[string]ast.Expression{}
	for i, c := range cols {
		byName[strings.ToLower(c)] = row[i]
	}
	outCols := make([]dag.ID, len(targetNames))
	outAliases := make([]string, len(targetNames))
	for i, name := range targetNames {
		e, ok := byName[strings.ToLower(name)]
		var id dag.ID
		if !ok {
			id = ctx.g.Const(values.NullAtom(targetCodes[i]))
		} else {
			cid, _, err := compileExpr(ctx, schema{}, e)
			if err != nil {
				return 0, err
			}
			id = ctx.g.Unary(dag.OpCast, cid, targetCodes[i])
		}
		outCols[i] = id
		outAliases[i] = name
	}
	return ctx.g.Project(src, &dag.ProjectExt{Cols: outCols, Aliases: outAliases}), nil
}
