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
	"github.com/vellumdb/vellum/internal/sql/ast"
	"github.com/vellumdb/vellum/internal/values"
	"github.com/vellumdb/vellum/internal/verr"
)

// outputItem is one SELECT-list entry, after '*' expansion and
// aggregate/window rewriting, ready to compile against a pipeline's
// current schema.
type outputItem struct {
	alias string
	expr  ast.Expression
}

// planSelect plans one SELECT statement, including any CTEs it
// introduces via WITH, into ctx.g. parentCtx, when non-nil, is the
// enclosing statement's planCtx: its CTE bindings are visible here but
// the ones this call adds never leak back to the parent, matching
// standard SQL CTE scoping.
func (p *Planner) planSelect(g *dag.Graph, s *ast.SelectStatement, parentCtx *planCtx) (dag.ID, schema, error) {
	ctx := &planCtx{p: p, g: g, ctes: map[string]cteBinding{}}
	if parentCtx != nil {
		for k, v := range parentCtx.ctes {
			ctx.ctes[k] = v
		}
	}
	for _, cte := range s.With {
		node, sch, err := p.planSelect(g, cte.Query, ctx)
		if err != nil {
			return 0, nil, err
		}
		if len(cte.Cols) > 0 {
			if len(cte.Cols) != len(sch) {
				return 0, nil, verr.Newf(verr.Plan, "plan.planSelect", "WITH %s column list has %d names for %d columns", cte.Name, len(cte.Cols), len(sch))
			}
			for i := range sch {
				sch[i].name = cte.Cols[i]
			}
		}
		node = g.Materialize(node)
		ctx.ctes[strings.ToLower(cte.Name)] = cteBinding{node: node, sch: sch}
	}

	if len(s.SetOps) == 0 {
		return planSingleSelect(ctx, s)
	}
	return planSetOpSelect(ctx, s)
}

// planSetOpSelect handles a statement with one or more UNION/INTERSECT/
// EXCEPT branches: each branch plans independently (its own DISTINCT
// applies to its own rows), the branches combine left-to-right, and only
// then does the combined result's ORDER BY/LIMIT/OFFSET apply. Standard
// SQL restricts a set-op query's ORDER BY to naming an output column (by
// alias or position), never an arbitrary fresh expression, so no hidden
// sort columns are needed here.
func planSetOpSelect(ctx *planCtx, s *ast.SelectStatement) (dag.ID, schema, error) {
	node, sch, err := planSelectBranch(ctx, s)
	if err != nil {
		return 0, nil, err
	}
	for _, so := range s.SetOps {
		rNode, rSch, err := planSelectBranch(ctx, so.Right)
		if err != nil {
			return 0, nil, err
		}
		if len(rSch) != len(sch) {
			return 0, nil, verr.Newf(verr.Plan, "plan.planSetOpSelect", "set operation operands have mismatched column counts (%d vs %d)", len(sch), len(rSch))
		}
		var op dag.Op
		switch strings.ToLower(so.Kind) {
		case "union":
			op = dag.OpUnion
		case "intersect":
			op = dag.OpIntersect
		case "except":
			op = dag.OpExcept
		default:
			return 0, nil, verr.Newf(verr.Plan, "plan.planSetOpSelect", "unsupported set operation %q", so.Kind)
		}
		node = ctx.g.SetOp(op, node, rNode, so.All)
	}
	return finishOrderLimit(ctx, node, sch, s.OrderBy, s.Limit, s.Offset)
}

// planSelectBranch plans one query_spec's FROM..SELECT-list core and its
// own DISTINCT, but no ORDER BY/LIMIT/OFFSET of its own.
func planSelectBranch(ctx *planCtx, s *ast.SelectStatement) (dag.ID, schema, error) {
	node, sch, items, err := buildPipeline(ctx, s)
	if err != nil {
		return 0, nil, err
	}
	node, outSch, err := projectItems(ctx, node, sch, items)
	if err != nil {
		return 0, nil, err
	}
	if s.Distinct {
		node = ctx.g.Distinct(node)
	}
	return node, outSch, nil
}

// planSingleSelect handles a statement with no set operations, where
// ORDER BY may reference arbitrary expressions not present in the
// SELECT list (resolved as hidden columns carried through SORT and
// dropped again before the caller sees them).
func planSingleSelect(ctx *planCtx, s *ast.SelectStatement) (dag.ID, schema, error) {
	node, sch, items, err := buildPipeline(ctx, s)
	if err != nil {
		return 0, nil, err
	}

	nVisible := len(items)
	visCols := make([]dag.ID, nVisible)
	visAliases := make([]string, nVisible)
	visSch := make(schema, nVisible)
	for i, it := range items {
		id, code, err := compileExpr(ctx, sch, it.expr)
		if err != nil {
			return 0, nil, err
		}
		visCols[i] = id
		visAliases[i] = it.alias
		visSch[i] = column{physical: it.alias, table: "", name: it.alias, code: code}
	}

	// Resolve ORDER BY keys against the visible output list first (by
	// alias or position), falling back to compiling a fresh expression
	// against the pre-projection schema for anything not already
	// selected -- that fresh expression becomes a hidden column.
	type orderKey struct {
		col        dag.ID
		desc       bool
		nullsFirst bool
	}
	var keys []orderKey
	var hiddenCols []dag.ID
	var hiddenAliases []string
	for _, ob := range s.OrderBy {
		if lit, ok := ob.Expr.(*ast.IntegerLiteral); ok {
			idx, err := visSch.positional(lit.Value)
			if err != nil {
				return 0, nil, err
			}
			keys = append(keys, orderKey{col: visCols[idx], desc: ob.Desc, nullsFirst: orderByNullsFirst(ob)})
			continue
		}
		if id, ok := ob.Expr.(*ast.Identifier); ok {
			if idx, err := visSch.find("", id.Value); err == nil {
				keys = append(keys, orderKey{col: visCols[idx], desc: ob.Desc, nullsFirst: orderByNullsFirst(ob)})
				continue
			}
		}
		id, _, err := compileExpr(ctx, sch, ob.Expr)
		if err != nil {
			return 0, nil, err
		}
		hiddenCols = append(hiddenCols, id)
		hiddenAliases = append(hiddenAliases, fmt.Sprintf("_ord%d", len(hiddenCols)-1))
		keys = append(keys, orderKey{col: id, desc: ob.Desc, nullsFirst: orderByNullsFirst(ob)})
	}

	if s.Distinct && len(hiddenCols) > 0 {
		return 0, nil, verr.Newf(verr.Plan, "plan.planSingleSelect", "SELECT DISTINCT ORDER BY expressions must appear in the select list")
	}

	allCols := append(append([]dag.ID{}, visCols...), hiddenCols...)
	allAliases := append(append([]string{}, visAliases...), hiddenAliases...)
	node = ctx.g.Project(node, &dag.ProjectExt{Cols: allCols, Aliases: allAliases})

	if len(keys) > 0 {
		sortKeys := make([]dag.SortKey, len(keys))
		for i, k := range keys {
			sortKeys[i] = dag.SortKey{Node: k.col, Desc: k.desc, NullsFirst: k.nullsFirst}
		}
		node = ctx.g.Sort(node, &dag.SortExt{Keys: sortKeys})
	}

	if len(hiddenCols) > 0 {
		keep := make([]int, nVisible)
		for i := range keep {
			keep[i] = i
		}
		node = ctx.g.Select(node, keep)
	}

	if s.Distinct {
		node = ctx.g.Distinct(node)
	}

	if s.Offset != nil && s.Limit == nil {
		return 0, nil, verr.Newf(verr.Plan, "plan.planSingleSelect", "OFFSET requires a LIMIT")
	}
	if s.Limit != nil {
		limit, err := literalInt(s.Limit)
		if err != nil {
			return 0, nil, err
		}
		if s.Offset != nil {
			offset, err := literalInt(s.Offset)
			if err != nil {
				return 0, nil, err
			}
			node = ctx.g.Head(node, offset+limit)
			node = ctx.g.Tail(node, limit)
		} else {
			node = ctx.g.Head(node, limit)
		}
	}

	return node, visSch, nil
}

func orderByNullsFirst(ob ast.OrderKey) bool {
	if ob.NullsSet {
		return ob.NullsFirst
	}
	// Default NULLS ordering: NULLS LAST for ASC, NULLS FIRST for DESC,
	// the conventional SQL default this executor's SORT also assumes.
	return ob.Desc
}

func literalInt(e ast.Expression) (int64, error) {
	lit, ok := e.(*ast.IntegerLiteral)
	if !ok {
		return 0, verr.Newf(verr.Plan, "plan.literalInt", "LIMIT/OFFSET must be an integer literal")
	}
	if lit.Value < 0 {
		return 0, verr.Newf(verr.Plan, "plan.literalInt", "LIMIT/OFFSET must not be negative")
	}
	return lit.Value, nil
}

// finishOrderLimit applies a set-op query's top-level ORDER BY/LIMIT/
// OFFSET to an already-combined result, resolving ORDER BY only by
// output alias or position (standard SQL disallows an arbitrary fresh
// expression there, unlike a plain SELECT's ORDER BY).
func finishOrderLimit(ctx *planCtx, node dag.ID, sch schema, orderBy []ast.OrderKey, limit, offset ast.Expression) (dag.ID, schema, error) {
	if len(orderBy) > 0 {
		keys := make([]dag.SortKey, len(orderBy))
		cols := make([]dag.ID, len(sch))
		for i, c := range sch {
			cols[i] = ctx.g.Scan(ctx.p.Symbols.Intern(c.physical), c.code)
		}
		for i, ob := range orderBy {
			var idx int
			var err error
			if lit, ok := ob.Expr.(*ast.IntegerLiteral); ok {
				idx, err = sch.positional(lit.Value)
			} else if id, ok := ob.Expr.(*ast.Identifier); ok {
				idx, err = sch.find("", id.Value)
			} else {
				return 0, nil, verr.Newf(verr.Plan, "plan.finishOrderLimit", "ORDER BY after a set operation must name an output column or position")
			}
			if err != nil {
				return 0, nil, err
			}
			keys[i] = dag.SortKey{Node: cols[idx], Desc: ob.Desc, NullsFirst: orderByNullsFirst(ob)}
		}
		node = ctx.g.Sort(node, &dag.SortExt{Keys: keys})
	}
	if offset != nil && limit == nil {
		return 0, nil, verr.Newf(verr.Plan, "plan.finishOrderLimit", "OFFSET requires a LIMIT")
	}
	if limit != nil {
		n, err := literalInt(limit)
		if err != nil {
			return 0, nil, err
		}
		if offset != nil {
			off, err := literalInt(offset)
			if err != nil {
				return 0, nil, err
			}
			node = ctx.g.Head(node, off+n)
			node = ctx.g.Tail(node, n)
		} else {
			node = ctx.g.Head(node, n)
		}
	}
	return node, sch, nil
}

// projectItems compiles items against sch and wraps node in a single
// PROJECT producing exactly those output columns, the shape
// planSelectBranch needs for both a plain query_spec and each set-op
// operand.
func projectItems(ctx *planCtx, node dag.ID, sch schema, items []outputItem) (dag.ID, schema, error) {
	cols := make([]dag.ID, len(items))
	aliases := make([]string, len(items))
	out := make(schema, len(items))
	for i, it := range items {
		id, code, err := compileExpr(ctx, sch, it.expr)
		if err != nil {
			return 0, nil, err
		}
		cols[i] = id
		aliases[i] = it.alias
		out[i] = column{physical: it.alias, table: "", name: it.alias, code: code}
	}
	return ctx.g.Project(node, &dag.ProjectExt{Cols: cols, Aliases: aliases}), out, nil
}

// buildPipeline resolves FROM, applies WHERE, plans GROUP/aggregates and
// HAVING, plans window functions, and expands '*' in the SELECT list,
// leaving items ready to compile against the returned schema by
// projectItems or planSingleSelect.
func buildPipeline(ctx *planCtx, s *ast.SelectStatement) (dag.ID, schema, []outputItem, error) {
	node, sch, err := dualOrFrom(ctx, s.From)
	if err != nil {
		return 0, nil, nil, err
	}

	if s.Where != nil {
		pred, _, err := compileExpr(ctx, sch, s.Where)
		if err != nil {
			return 0, nil, nil, err
		}
		node = ctx.g.Filter(node, pred)
	}

	items, err := expandItems(sch, s.Items)
	if err != nil {
		return 0, nil, nil, err
	}

	needsGroup := len(s.GroupBy) > 0
	if !needsGroup {
		for _, it := range items {
			if containsAggregate(it.expr) {
				needsGroup = true
				break
			}
		}
	}
	if !needsGroup && s.Having != nil && containsAggregate(s.Having) {
		needsGroup = true
	}

	if needsGroup {
		node, sch, items, err = planGroup(ctx, node, sch, s, items)
		if err != nil {
			return 0, nil, nil, err
		}
	} else if s.Having != nil {
		return 0, nil, nil, verr.Newf(verr.Plan, "plan.buildPipeline", "HAVING requires GROUP BY or an aggregate")
	}

	node, sch, items, err = planWindowFuncs(ctx, node, sch, items)
	if err != nil {
		return 0, nil, nil, err
	}

	return node, sch, items, nil
}

// expandItems resolves '*'/'t.*' wildcards in a SELECT list against sch
// and assigns each resulting item an output alias.
func expandItems(sch schema, raw []ast.SelectItem) ([]outputItem, error) {
	var items []outputItem
	for _, si := range raw {
		if _, ok := si.Expr.(*ast.Star); ok {
			for _, c := range sch {
				items = append(items, outputItem{alias: c.name, expr: &ast.QualifiedIdentifier{Parts: []string{c.table, c.name}}})
			}
			continue
		}
		if q, ok := si.Expr.(*ast.QualifiedIdentifier); ok && len(q.Parts) >= 1 && q.Parts[len(q.Parts)-1] == "*" {
			qualifier := q.Parts[len(q.Parts)-2]
			for _, c := range sch {
				if strings.EqualFold(c.table, qualifier) {
					items = append(items, outputItem{alias: c.name, expr: &ast.QualifiedIdentifier{Parts: []string{c.table, c.name}}})
				}
			}
			continue
		}
		alias := si.Alias
		if alias == "" {
			alias = inferAlias(si.Expr, len(items))
		}
		items = append(items, outputItem{alias: alias, expr: si.Expr})
	}
	return items, nil
}

func inferAlias(e ast.Expression, pos int) string {
	switch n := e.(type) {
	case *ast.Identifier:
		return n.Value
	case *ast.QualifiedIdentifier:
		return n.Parts[len(n.Parts)-1]
	default:
		return fmt.Sprintf("_col%d", pos+1)
	}
}

// dualOrFrom resolves a FROM clause, or (when absent) builds a
// one-row/one-column dummy source so bodies like `SELECT 1+1` still run
// through the ordinary Filter/Project pipeline with exactly one row.
func dualOrFrom(ctx *planCtx, te ast.TableExpr) (dag.ID, schema, error) {
	if te == nil {
		return dualSource(ctx)
	}
	return resolveFrom(ctx, te)
}

func dualSource(ctx *planCtx) (dag.ID, schema, error) {
	t := values.NewTable(ctx.p.Symbols)
	v := values.NewVector(values.Bool, 1).Append(values.NewBoolAtom(true), false)
	name := ctx.p.Symbols.Intern("_dual")
	if err := t.AddCol(name, values.AsColumn(v)); err != nil {
		return 0, nil, verr.Wrap(verr.Plan, "plan.dualSource", err)
	}
	node, sch := scanSourceTable(ctx, t, "_dual")
	return node, sch, nil
}
