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
	"strings"

	"github.com/vellumdb/vellum/internal/dag"
	"github.com/vellumdb/vellum/internal/sql/ast"
	"github.com/vellumdb/vellum/internal/symtab"
	"github.com/vellumdb/vellum/internal/table"
	"github.com/vellumdb/vellum/internal/values"
	"github.com/vellumdb/vellum/internal/verr"
)

// cteBinding is one WITH-clause name bound to a node already appended
// to the statement's shared graph.
type cteBinding struct {
	node dag.ID
	sch  schema
}

// planCtx threads the graph and CTE bindings through one statement's
// recursive descent; every nested derived table and CTE body is planned
// into the same graph, per the multi-table-FROM/JOIN design in
// dag.Graph's own doc comment.
type planCtx struct {
	p    *Planner
	g    *dag.Graph
	ctes map[string]cteBinding
}

// scanSourceTable appends AddSource/ProjectSource nodes that expose
// every column of t under alias, the base case every FROM resolution
// eventually bottoms out at.
func scanSourceTable(ctx *planCtx, t *values.Table, alias string) (dag.ID, schema) {
	idx := ctx.g.AddSource(t)
	n := t.NCols()
	cols := make([]dag.ID, n)
	aliases := make([]string, n)
	sch := make(schema, n)
	for i := 0; i < n; i++ {
		name := t.ColNameString(i)
		code := t.GetColIdx(i).Code().Base()
		cols[i] = ctx.g.Scan(t.ColName(i), code)
		phys := alias + "." + name
		aliases[i] = phys
		sch[i] = column{physical: phys, table: alias, name: name, code: code}
	}
	id := ctx.g.ProjectSource(idx, &dag.ProjectExt{Cols: cols, Aliases: aliases})
	return id, sch
}

// bindAlias renames node's output columns to alias.col for every entry
// of sch, without re-evaluating anything -- used whenever a CTE, derived
// table, or plain table reference is given a FROM-clause alias.
func bindAlias(ctx *planCtx, node dag.ID, sch schema, alias string) (dag.ID, schema) {
	names := make([]symtab.ID, len(sch))
	out := make(schema, len(sch))
	for i, c := range sch {
		phys := alias + "." + c.name
		names[i] = ctx.p.Symbols.Intern(phys)
		out[i] = column{physical: phys, table: alias, name: c.name, code: c.code}
	}
	return ctx.g.Alias(node, names), out
}

// reorder appends a SELECT node that both reorders and/or trims sch's
// columns according to order (indices into sch, in output order).
func reorder(ctx *planCtx, node dag.ID, sch schema, order []int) (dag.ID, schema) {
	out := make(schema, len(order))
	for i, idx := range order {
		out[i] = sch[idx]
	}
	return ctx.g.Select(node, order), out
}

// resolveFrom walks a FROM-clause table expression, returning the node
// producing its rows and the symbolic schema of its output columns.
func resolveFrom(ctx *planCtx, te ast.TableExpr) (dag.ID, schema, error) {
	switch t := te.(type) {
	case *ast.TableName:
		return resolveTableName(ctx, t)
	case *ast.DerivedTable:
		return resolveDerivedTable(ctx, t)
	case *ast.JoinExpr:
		return resolveJoin(ctx, t)
	default:
		return dag.ID(-1), nil, verr.Newf(verr.Plan, "plan.resolveFrom", "unsupported FROM clause %T", te)
	}
}

func resolveTableName(ctx *planCtx, t *ast.TableName) (dag.ID, schema, error) {
	if t.Func != "" {
		src, err := runLoader(ctx, t)
		if err != nil {
			return dag.ID(-1), nil, err
		}
		alias := t.Alias
		if alias == "" {
			alias = t.Func
		}
		node, sch := scanSourceTable(ctx, src, alias)
		return node, sch, nil
	}
	if b, ok := ctx.ctes[strings.ToLower(t.Name)]; ok {
		alias := t.Alias
		if alias == "" {
			alias = t.Name
		}
		node, sch := bindAlias(ctx, b.node, b.sch, alias)
		return node, sch, nil
	}
	src, ok := ctx.p.Catalog.Lookup(t.Name)
	if !ok {
		return dag.ID(-1), nil, verr.Newf(verr.Plan, "plan.resolveTableName", "no such table %q", t.Name)
	}
	alias := t.Alias
	if alias == "" {
		alias = t.Name
	}
	node, sch := scanSourceTable(ctx, src, alias)
	return node, sch, nil
}

// runLoader evaluates a table-function FROM reference (read_csv(...)
// etc.) by calling straight into internal/table: loader arguments are
// plan-time literals, not row expressions, so they never touch the
// graph.
func runLoader(ctx *planCtx, t *ast.TableName) (*values.Table, error) {
	if len(t.Args) != 1 {
		return nil, verr.Newf(verr.Plan, "plan.runLoader", "%s() takes exactly one path argument", t.Func)
	}
	lit, ok := t.Args[0].(*ast.StringLiteral)
	if !ok {
		return nil, verr.Newf(verr.Plan, "plan.runLoader", "%s() argument must be a string literal", t.Func)
	}
	switch strings.ToLower(t.Func) {
	case "read_csv":
		return table.LoadCSV(lit.Value, ctx.p.Symbols)
	case "read_splayed":
		return table.LoadSplayed(lit.Value, ctx.p.Symbols)
	case "read_parted":
		return table.LoadParted(lit.Value, ctx.p.Symbols)
	default:
		return nil, verr.Newf(verr.Plan, "plan.runLoader", "unknown table function %q", t.Func)
	}
}

func resolveDerivedTable(ctx *planCtx, d *ast.DerivedTable) (dag.ID, schema, error) {
	node, sch, err := ctx.p.planSelect(ctx.g, d.Query, ctx)
	if err != nil {
		return dag.ID(-1), nil, err
	}
	if len(d.Cols) > 0 {
		if len(d.Cols) != len(sch) {
			return dag.ID(-1), nil, verr.Newf(verr.Plan, "plan.resolveDerivedTable", "column alias list has %d names for %d columns", len(d.Cols), len(sch))
		}
		for i := range sch {
			sch[i].name = d.Cols[i]
		}
	}
	alias := d.Alias
	if alias == "" {
		alias = "_sub"
	}
	outNode, outSch := bindAlias(ctx, node, sch, alias)
	return outNode, outSch, nil
}

func resolveJoin(ctx *planCtx, j *ast.JoinExpr) (dag.ID, schema, error) {
	leftNode, leftSch, err := resolveFrom(ctx, j.Left)
	if err != nil {
		return dag.ID(-1), nil, err
	}
	rightNode, rightSch, err := resolveFrom(ctx, j.Right)
	if err != nil {
		return dag.ID(-1), nil, err
	}

	kind := strings.ToLower(j.Kind)
	if kind == "cross" || j.On == nil {
		id := ctx.g.Join(&dag.JoinExt{Kind: dag.JoinCross, Left: leftNode, Right: rightNode})
		return id, append(append(schema{}, leftSch...), rightSch...), nil
	}

	leftKeys, rightKeys, err := equiJoinKeys(ctx, j.On, leftSch, rightSch)
	if err != nil {
		return dag.ID(-1), nil, err
	}

	switch kind {
	case "inner", "":
		id := ctx.g.Join(&dag.JoinExt{Kind: dag.JoinInner, Left: leftNode, Right: rightNode, LeftKeys: leftKeys, RightKeys: rightKeys})
		return id, append(append(schema{}, leftSch...), rightSch...), nil
	case "left":
		id := ctx.g.Join(&dag.JoinExt{Kind: dag.JoinLeftOuter, Left: leftNode, Right: rightNode, LeftKeys: leftKeys, RightKeys: rightKeys})
		return id, append(append(schema{}, leftSch...), rightSch...), nil
	case "full":
		id := ctx.g.Join(&dag.JoinExt{Kind: dag.JoinFullOuter, Left: leftNode, Right: rightNode, LeftKeys: leftKeys, RightKeys: rightKeys})
		return id, append(append(schema{}, leftSch...), rightSch...), nil
	case "right":
		// Rewritten to left-outer with swapped inputs (spec.md section
		// 4.8), then reordered back to the original left,right column
		// order so the caller never observes the rewrite.
		id := ctx.g.Join(&dag.JoinExt{Kind: dag.JoinLeftOuter, Left: rightNode, Right: leftNode, LeftKeys: rightKeys, RightKeys: leftKeys})
		combined := append(append(schema{}, rightSch...), leftSch...)
		order := make([]int, 0, len(combined))
		for i := range leftSch {
			order = append(order, len(rightSch)+i)
		}
		for i := range rightSch {
			order = append(order, i)
		}
		return reorder(ctx, id, combined, order)
	default:
		return dag.ID(-1), nil, verr.Newf(verr.Plan, "plan.resolveJoin", "unsupported join kind %q", j.Kind)
	}
}

// equiJoinKeys splits on into AND-conjuncts and compiles each side's key
// expression against its own schema, per spec.md section 4.8's
// restriction to equi-join conjunctions where each operand names
// exactly one side.
func equiJoinKeys(ctx *planCtx, on ast.Expression, leftSch, rightSch schema) ([]dag.ID, []dag.ID, error) {
	var leftKeys, rightKeys []dag.ID
	for _, conj := range splitConjuncts(on) {
		inf, ok := conj.(*ast.InfixExpression)
		if !ok || inf.Operator != "=" {
			return nil, nil, verr.Newf(verr.Plan, "plan.equiJoinKeys", "ON clause must be an AND of equality conjuncts")
		}
		lID, _, lErr := compileExpr(ctx, leftSch, inf.Left)
		rID, _, rErr := compileExpr(ctx, rightSch, inf.Right)
		if lErr == nil && rErr == nil {
			leftKeys = append(leftKeys, lID)
			rightKeys = append(rightKeys, rID)
			continue
		}
		// try the swapped assignment: left operand belongs to the right
		// side's schema and vice versa.
		lID2, _, lErr2 := compileExpr(ctx, rightSch, inf.Right)
		rID2, _, rErr2 := compileExpr(ctx, leftSch, inf.Left)
		if lErr2 == nil && rErr2 == nil {
			leftKeys = append(leftKeys, rID2)
			rightKeys = append(rightKeys, lID2)
			continue
		}
		return nil, nil, verr.Newf(verr.Plan, "plan.equiJoinKeys", "join conjunct must reference exactly one column from each side")
	}
	return leftKeys, rightKeys, nil
}

func splitConjuncts(e ast.Expression) []ast.Expression {
	if inf, ok := e.(*ast.InfixExpression); ok && strings.EqualFold(inf.Operator, "AND") {
		return append(splitConjuncts(inf.Left), splitConjuncts(inf.Right)...)
	}
	return []ast.Expression{e}
}
