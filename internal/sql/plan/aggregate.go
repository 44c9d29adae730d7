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
	"math"
	"strings"

	"github.com/vellumdb/vellum/internal/dag"
	"github.com/vellumdb/vellum/internal/sql/ast"
	"github.com/vellumdb/vellum/internal/values"
	"github.com/vellumdb/vellum/internal/verr"
)

var aggOps = map[string]dag.Op{
	"sum": dag.OpSum, "product": dag.OpProd,
	"min": dag.OpMin, "max": dag.OpMax,
	"count": dag.OpCount, "avg": dag.OpAvg,
	"first": dag.OpFirst, "last": dag.OpLast,
	"stddev": dag.OpStddev, "stddev_pop": dag.OpStddevPop,
	"variance": dag.OpVariance, "variance_pop": dag.OpVariancePop,
	"approx_percentile": dag.OpApproxPercentile,
}

func isAggregateName(name string) bool {
	_, ok := aggOps[strings.ToLower(name)]
	return ok
}

// containsAggregate reports whether e references an aggregate function
// call anywhere in its tree, used to decide whether a SELECT with no
// GROUP BY still collapses to a single whole-table group.
func containsAggregate(e ast.Expression) bool {
	found := false
	walkExpr(e, func(n ast.Expression) {
		if fc, ok := n.(*ast.FunctionCall); ok && fc.Over == nil && isAggregateName(fc.Name) {
			found = true
		}
	})
	return found
}

// walkExpr calls visit on every node of e's tree (not descending into
// subquery statements, which plan independently).
func walkExpr(e ast.Expression, visit func(ast.Expression)) {
	if e == nil {
		return
	}
	visit(e)
	switch n := e.(type) {
	case *ast.PrefixExpression:
		walkExpr(n.Right, visit)
	case *ast.InfixExpression:
		walkExpr(n.Left, visit)
		walkExpr(n.Right, visit)
	case *ast.BetweenExpression:
		walkExpr(n.Expr, visit)
		walkExpr(n.Low, visit)
		walkExpr(n.High, visit)
	case *ast.InExpression:
		walkExpr(n.Left, visit)
		for _, x := range n.List {
			walkExpr(x, visit)
		}
	case *ast.LikeExpression:
		walkExpr(n.Left, visit)
		walkExpr(n.Pattern, visit)
	case *ast.IsNullExpression:
		walkExpr(n.Left, visit)
	case *ast.CaseExpression:
		walkExpr(n.Value, visit)
		for _, w := range n.Whens {
			walkExpr(w.Condition, visit)
			walkExpr(w.Result, visit)
		}
		walkExpr(n.Else, visit)
	case *ast.CastExpression:
		walkExpr(n.Expr, visit)
	case *ast.FunctionCall:
		for _, a := range n.Args {
			walkExpr(a, visit)
		}
	}
}

// exprText renders a stable, unique-enough text key for an expression
// tree, used only to canonically de-duplicate repeated aggregates (e.g.
// two SELECT items both writing sum(price)).
func exprText(e ast.Expression) string {
	if e == nil {
		return ""
	}
	switch n := e.(type) {
	case *ast.Identifier:
		return strings.ToLower(n.Value)
	case *ast.QualifiedIdentifier:
		return strings.ToLower(strings.Join(n.Parts, "."))
	case *ast.IntegerLiteral:
		return fmt.Sprintf("%d", n.Value)
	case *ast.FloatLiteral:
		return fmt.Sprintf("%g", n.Value)
	case *ast.StringLiteral:
		return fmt.Sprintf("%q", n.Value)
	case *ast.BoolLiteral:
		return fmt.Sprintf("%v", n.Value)
	case *ast.NullLiteral:
		return "null"
	case *ast.Star:
		return "*"
	case *ast.PrefixExpression:
		return n.Operator + exprText(n.Right)
	case *ast.InfixExpression:
		return "(" + exprText(n.Left) + n.Operator + exprText(n.Right) + ")"
	case *ast.CastExpression:
		return "cast(" + exprText(n.Expr) + " as " + n.Target + ")"
	case *ast.FunctionCall:
		parts := make([]string, len(n.Args))
		for i, a := range n.Args {
			parts[i] = exprText(a)
		}
		key := strings.ToLower(n.Name) + "(" + strings.Join(parts, ",") + ")"
		if n.Distinct {
			key = "distinct:" + key
		}
		if n.FilterWhere != nil {
			key += " filter(" + exprText(n.FilterWhere) + ")"
		}
		return key
	default:
		return fmt.Sprintf("%T", e)
	}
}

// aggBuilder accumulates the unique aggregates referenced anywhere in a
// SELECT statement and rewrites every aggregate call it finds into a
// plain identifier referencing the GROUP node's eventual output column,
// per spec.md section 4.8's "de-duplicated by a canonical alias."
type aggBuilder struct {
	ctx   *planCtx
	sch   schema // schema aggregate arguments compile against (pre-GROUP)
	seen  map[string]string
	specs []dag.AggSpec
	codes []values.Code // output code of each specs entry, parallel slice
}

func newAggBuilder(ctx *planCtx, sch schema) *aggBuilder {
	return &aggBuilder{ctx: ctx, sch: sch, seen: map[string]string{}}
}

// rewrite returns a copy of e with every aggregate subtree replaced by
// an *ast.Identifier naming its (possibly newly allocated) output alias.
func (b *aggBuilder) rewrite(e ast.Expression) (ast.Expression, error) {
	if e == nil {
		return nil, nil
	}
	switch n := e.(type) {
	case *ast.FunctionCall:
		if n.Over == nil && isAggregateName(n.Name) {
			return b.add(n)
		}
		args := make([]ast.Expression, len(n.Args))
		for i, a := range n.Args {
			r, err := b.rewrite(a)
			if err != nil {
				return nil, err
			}
			args[i] = r
		}
		cp := *n
		cp.Args = args
		return &cp, nil
	case *ast.PrefixExpression:
		r, err := b.rewrite(n.Right)
		if err != nil {
			return nil, err
		}
		cp := *n
		cp.Right = r
		return &cp, nil
	case *ast.InfixExpression:
		l, err := b.rewrite(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := b.rewrite(n.Right)
		if err != nil {
			return nil, err
		}
		cp := *n
		cp.Left, cp.Right = l, r
		return &cp, nil
	case *ast.BetweenExpression:
		expr, err := b.rewrite(n.Expr)
		if err != nil {
			return nil, err
		}
		lo, err := b.rewrite(n.Low)
		if err != nil {
			return nil, err
		}
		hi, err := b.rewrite(n.High)
		if err != nil {
			return nil, err
		}
		cp := *n
		cp.Expr, cp.Low, cp.High = expr, lo, hi
		return &cp, nil
	case *ast.CaseExpression:
		cp := *n
		var err error
		if cp.Value, err = b.rewrite(n.Value); err != nil {
			return nil, err
		}
		if cp.Else, err = b.rewrite(n.Else); err != nil {
			return nil, err
		}
		cp.Whens = make([]ast.WhenClause, len(n.Whens))
		for i, w := range n.Whens {
			cond, err := b.rewrite(w.Condition)
			if err != nil {
				return nil, err
			}
			res, err := b.rewrite(w.Result)
			if err != nil {
				return nil, err
			}
			cp.Whens[i] = ast.WhenClause{Condition: cond, Result: res}
		}
		return &cp, nil
	case *ast.CastExpression:
		r, err := b.rewrite(n.Expr)
		if err != nil {
			return nil, err
		}
		cp := *n
		cp.Expr = r
		return &cp, nil
	default:
		return e, nil
	}
}

// add resolves (or reuses) one aggregate call's canonical alias and
// returns the identifier replacing it.
func (b *aggBuilder) add(fc *ast.FunctionCall) (ast.Expression, error) {
	key := exprText(fc)
	if alias, ok := b.seen[key]; ok {
		return &ast.Identifier{Value: alias}, nil
	}
	alias := fmt.Sprintf("_agg%d", len(b.specs))
	spec, code, err := b.buildSpec(fc, alias)
	if err != nil {
		return nil, err
	}
	b.specs = append(b.specs, spec)
	b.codes = append(b.codes, code)
	b.seen[key] = alias
	return &ast.Identifier{Value: alias}, nil
}

// aggOutCode is the output type of one aggregate, mirroring the
// executor's own per-op result codes (internal/exec/group.go's AddCol
// calls): counts are always I64, SUM/PRODUCT and the statistical family
// are always F64, and MIN/MAX/FIRST/LAST pass the input's own type through.
func aggOutCode(op dag.Op, inputCode values.Code) values.Code {
	switch op {
	case dag.OpCount, dag.OpCountStar, dag.OpCountDistinct:
		return values.I64
	case dag.OpSum, dag.OpProd, dag.OpAvg, dag.OpStddev, dag.OpStddevPop, dag.OpVariance, dag.OpVariancePop, dag.OpApproxPercentile:
		return values.F64
	default:
		return inputCode.Base()
	}
}

// literalFraction extracts approx_percentile's second argument as a
// plain float64 in [0, 1]: it must be a plan-time constant, since it
// is the single quantile the executor reads from each group's t-digest
// rather than a per-row value.
func literalFraction(e ast.Expression) (float64, bool) {
	var f float64
	switch n := e.(type) {
	case *ast.FloatLiteral:
		f = n.Value
	case *ast.IntegerLiteral:
		f = float64(n.Value)
	default:
		return 0, false
	}
	if f < 0 || f > 1 {
		return 0, false
	}
	return f, true
}

func (b *aggBuilder) buildSpec(fc *ast.FunctionCall, alias string) (dag.AggSpec, values.Code, error) {
	name := strings.ToLower(fc.Name)
	op := aggOps[name]

	if name == "count" && len(fc.Args) == 1 {
		if _, ok := fc.Args[0].(*ast.Star); ok {
			fc = &ast.FunctionCall{Name: fc.Name, Args: nil, FilterWhere: fc.FilterWhere}
		}
	}
	if name == "count" && len(fc.Args) == 0 {
		op = dag.OpCountStar
	}
	if fc.Distinct {
		if name != "count" {
			return dag.AggSpec{}, 0, verr.Newf(verr.Plan, "plan.buildSpec", "DISTINCT is only supported on COUNT")
		}
		op = dag.OpCountDistinct
	}

	if op == dag.OpApproxPercentile {
		if len(fc.Args) != 2 {
			return dag.AggSpec{}, 0, verr.Newf(verr.Plan, "plan.buildSpec", "approx_percentile takes exactly 2 arguments (column, fraction)")
		}
		inputID, _, err := compileExpr(b.ctx, b.sch, fc.Args[0])
		if err != nil {
			return dag.AggSpec{}, 0, err
		}
		frac, ok := literalFraction(fc.Args[1])
		if !ok {
			return dag.AggSpec{}, 0, verr.Newf(verr.Plan, "plan.buildSpec", "approx_percentile's second argument must be a numeric literal in [0, 1]")
		}
		return dag.AggSpec{Op: op, Input: inputID, Alias: alias, Frac: frac}, values.F64, nil
	}

	var inputID dag.ID
	var inputCode values.Code
	switch {
	case len(fc.Args) == 1:
		id, code, err := compileExpr(b.ctx, b.sch, fc.Args[0])
		if err != nil {
			return dag.AggSpec{}, 0, err
		}
		inputID, inputCode = id, code
	case len(fc.Args) == 0:
		// COUNT(*)/COUNT(): a dummy constant input, sized to the row
		// count by constVec the same as any other CONST_* scan -- the
		// aggregate never reads its value for OpCountStar.
		inputID = b.ctx.g.Const(values.NewBoolAtom(true))
		inputCode = values.Bool
	default:
		return dag.AggSpec{}, 0, verr.Newf(verr.Plan, "plan.buildSpec", "%s takes at most 1 argument", fc.Name)
	}

	if fc.FilterWhere != nil {
		predID, _, err := compileExpr(b.ctx, b.sch, fc.FilterWhere)
		if err != nil {
			return dag.AggSpec{}, 0, err
		}
		switch op {
		case dag.OpSum:
			x := b.ctx.g.Unary(dag.OpCast, inputID, values.F64)
			zero := b.ctx.g.Const(values.NewF64Atom(0))
			inputID = b.ctx.g.Ternary(dag.OpIf, predID, x, zero, values.F64)
			inputCode = values.F64
		case dag.OpMin, dag.OpMax:
			x := b.ctx.g.Unary(dag.OpCast, inputID, values.F64)
			nan := b.ctx.g.Const(values.NewF64Atom(math.NaN()))
			inputID = b.ctx.g.Ternary(dag.OpIf, predID, x, nan, values.F64)
			inputCode = values.F64
		case dag.OpCount, dag.OpCountStar:
			one := b.ctx.g.Const(values.NewI64Atom(1))
			zero := b.ctx.g.Const(values.NewI64Atom(0))
			inputID = b.ctx.g.Ternary(dag.OpIf, predID, one, zero, values.I64)
			inputCode = values.I64
			op = dag.OpSum
		case dag.OpAvg:
			return dag.AggSpec{}, 0, verr.Newf(verr.Plan, "plan.buildSpec", "FILTER is not supported on AVG")
		default:
			return dag.AggSpec{}, 0, verr.Newf(verr.Plan, "plan.buildSpec", "FILTER is not supported on %s", fc.Name)
		}
	}
	return dag.AggSpec{Op: op, Input: inputID, Alias: alias}, aggOutCode(op, inputCode), nil
}
