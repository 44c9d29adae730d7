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
	"github.com/vellumdb/vellum/internal/values"
	"github.com/vellumdb/vellum/internal/verr"
)

// compileExpr lowers a scalar ast.Expression to a node in ctx.g, scanning
// identifiers against sch. Scalar subqueries, IN-subqueries, and EXISTS
// are resolved here by eagerly planning and executing the subquery (they
// are never correlated, per spec.md section 4.8) and folding the result
// directly to a constant or an OR/EQ chain -- there is no separate
// AST-rewrite pass.
func compileExpr(ctx *planCtx, sch schema, e ast.Expression) (dag.ID, values.Code, error) {
	switch n := e.(type) {
	case *ast.Identifier:
		i, err := sch.find("", n.Value)
		if err != nil {
			return 0, 0, err
		}
		return ctx.g.Scan(ctx.p.Symbols.Intern(sch[i].physical), sch[i].code), sch[i].code, nil

	case *ast.QualifiedIdentifier:
		if len(n.Parts) < 2 {
			return 0, 0, verr.Newf(verr.Plan, "plan.compileExpr", "malformed qualified identifier")
		}
		qualifier := n.Parts[len(n.Parts)-2]
		name := n.Parts[len(n.Parts)-1]
		i, err := sch.find(qualifier, name)
		if err != nil {
			return 0, 0, err
		}
		return ctx.g.Scan(ctx.p.Symbols.Intern(sch[i].physical), sch[i].code), sch[i].code, nil

	case *ast.IntegerLiteral:
		return ctx.g.Const(values.NewI64Atom(n.Value)), values.I64, nil
	case *ast.FloatLiteral:
		return ctx.g.Const(values.NewF64Atom(n.Value)), values.F64, nil
	case *ast.StringLiteral:
		return ctx.g.Const(values.NewSymAtom(ctx.p.Symbols.Intern(n.Value))), values.Sym, nil
	case *ast.BoolLiteral:
		return ctx.g.Const(values.NewBoolAtom(n.Value)), values.Bool, nil
	case *ast.NullLiteral:
		return ctx.g.Const(values.NullAtom(values.I64)), values.I64, nil

	case *ast.PrefixExpression:
		return compilePrefix(ctx, sch, n)
	case *ast.InfixExpression:
		return compileInfix(ctx, sch, n)
	case *ast.BetweenExpression:
		return compileBetween(ctx, sch, n)
	case *ast.InExpression:
		return compileIn(ctx, sch, n)
	case *ast.LikeExpression:
		return compileLike(ctx, sch, n)
	case *ast.IsNullExpression:
		return compileIsNull(ctx, sch, n)
	case *ast.ExistsExpression:
		return compileExists(ctx, n)
	case *ast.ScalarSubquery:
		a, err := ctx.p.planScalar(n.Query)
		if err != nil {
			return 0, 0, err
		}
		return ctx.g.Const(a), a.Code().Base(), nil
	case *ast.CaseExpression:
		return compileCase(ctx, sch, n)
	case *ast.CastExpression:
		return compileCast(ctx, sch, n)
	case *ast.FunctionCall:
		return compileFunctionCall(ctx, sch, n)
	case *ast.Star:
		return 0, 0, verr.Newf(verr.Plan, "plan.compileExpr", "'*' is only valid in a SELECT list")
	case *ast.Placeholder:
		return 0, 0, verr.Newf(verr.Plan, "plan.compileExpr", "bind parameters are not supported")
	default:
		return 0, 0, verr.Newf(verr.Plan, "plan.compileExpr", "unsupported expression %T", e)
	}
}

func compilePrefix(ctx *planCtx, sch schema, n *ast.PrefixExpression) (dag.ID, values.Code, error) {
	id, code, err := compileExpr(ctx, sch, n.Right)
	if err != nil {
		return 0, 0, err
	}
	switch strings.ToUpper(n.Operator) {
	case "-":
		return ctx.g.Unary(dag.OpNeg, id, code.Base()), code.Base(), nil
	case "+":
		return id, code, nil
	case "NOT":
		return ctx.g.Unary(dag.OpNot, id, values.Bool), values.Bool, nil
	default:
		return 0, 0, verr.Newf(verr.Plan, "plan.compilePrefix", "unsupported unary operator %q", n.Operator)
	}
}

var infixOps = map[string]dag.Op{
	"+": dag.OpAdd, "-": dag.OpSub, "*": dag.OpMul, "/": dag.OpDiv, "%": dag.OpMod,
	"=": dag.OpEq, "<>": dag.OpNe, "!=": dag.OpNe,
	"<": dag.OpLt, "<=": dag.OpLe, ">": dag.OpGt, ">=": dag.OpGe,
	"AND": dag.OpAnd, "OR": dag.OpOr, "||": dag.OpConcat,
}

func compileInfix(ctx *planCtx, sch schema, n *ast.InfixExpression) (dag.ID, values.Code, error) {
	lID, lCode, err := compileExpr(ctx, sch, n.Left)
	if err != nil {
		return 0, 0, err
	}
	rID, rCode, err := compileExpr(ctx, sch, n.Right)
	if err != nil {
		return 0, 0, err
	}
	op, ok := infixOps[strings.ToUpper(n.Operator)]
	if !ok {
		return 0, 0, verr.Newf(verr.Plan, "plan.compileInfix", "unsupported operator %q", n.Operator)
	}
	switch op {
	case dag.OpEq, dag.OpNe, dag.OpLt, dag.OpLe, dag.OpGt, dag.OpGe, dag.OpAnd, dag.OpOr:
		return ctx.g.Binary(op, lID, rID, values.Bool), values.Bool, nil
	case dag.OpConcat:
		return ctx.g.Binary(op, lID, rID, values.Sym), values.Sym, nil
	default:
		return ctx.g.Binary(op, lID, rID, numericPromote(lCode, rCode)), numericPromote(lCode, rCode), nil
	}
}

// numericPromote is the arithmetic kernels' output type: F64 if either
// operand is floating point, I64 otherwise.
func numericPromote(a, b values.Code) values.Code {
	if a.Base() == values.F64 || b.Base() == values.F64 {
		return values.F64
	}
	return values.I64
}

// compileBetween decomposes BETWEEN into GE(expr,low) AND LE(expr,high),
// the executor kernel's deliberately-not-implemented OpBetween op being
// handled entirely as planner-level sugar over the primitives it does
// implement (see DESIGN.md's executor notes).
func compileBetween(ctx *planCtx, sch schema, n *ast.BetweenExpression) (dag.ID, values.Code, error) {
	exprID, _, err := compileExpr(ctx, sch, n.Expr)
	if err != nil {
		return 0, 0, err
	}
	lowID, _, err := compileExpr(ctx, sch, n.Low)
	if err != nil {
		return 0, 0, err
	}
	highID, _, err := compileExpr(ctx, sch, n.High)
	if err != nil {
		return 0, 0, err
	}
	ge := ctx.g.Binary(dag.OpGe, exprID, lowID, values.Bool)
	le := ctx.g.Binary(dag.OpLe, exprID, highID, values.Bool)
	result := ctx.g.Binary(dag.OpAnd, ge, le, values.Bool)
	if n.Not {
		result = ctx.g.Unary(dag.OpNot, result, values.Bool)
	}
	return result, values.Bool, nil
}

// compileIn decomposes `expr IN (list)` into an OR-chain of equalities
// and resolves `expr IN (SELECT ...)` by eagerly materializing the
// (necessarily non-correlated) subquery first.
func compileIn(ctx *planCtx, sch schema, n *ast.InExpression) (dag.ID, values.Code, error) {
	leftID, _, err := compileExpr(ctx, sch, n.Left)
	if err != nil {
		return 0, 0, err
	}
	var rhs []dag.ID
	if n.Subquery != nil {
		atoms, err := ctx.p.planList(n.Subquery)
		if err != nil {
			return 0, 0, err
		}
		for _, a := range atoms {
			rhs = append(rhs, ctx.g.Const(a))
		}
	} else {
		for _, e := range n.List {
			id, _, err := compileExpr(ctx, sch, e)
			if err != nil {
				return 0, 0, err
			}
			rhs = append(rhs, id)
		}
	}
	if len(rhs) == 0 {
		return ctx.g.Const(values.NewBoolAtom(n.Not)), values.Bool, nil
	}
	cur := ctx.g.Binary(dag.OpEq, leftID, rhs[0], values.Bool)
	for _, id := range rhs[1:] {
		eq := ctx.g.Binary(dag.OpEq, leftID, id, values.Bool)
		cur = ctx.g.Binary(dag.OpOr, cur, eq, values.Bool)
	}
	if n.Not {
		cur = ctx.g.Unary(dag.OpNot, cur, values.Bool)
	}
	return cur, values.Bool, nil
}

func compileLike(ctx *planCtx, sch schema, n *ast.LikeExpression) (dag.ID, values.Code, error) {
	lID, _, err := compileExpr(ctx, sch, n.Left)
	if err != nil {
		return 0, 0, err
	}
	pID, _, err := compileExpr(ctx, sch, n.Pattern)
	if err != nil {
		return 0, 0, err
	}
	op := dag.OpLike
	if n.CaseInsens {
		op = dag.OpILike
	}
	result := ctx.g.Binary(op, lID, pID, values.Bool)
	if n.Not {
		result = ctx.g.Unary(dag.OpNot, result, values.Bool)
	}
	return result, values.Bool, nil
}

func compileIsNull(ctx *planCtx, sch schema, n *ast.IsNullExpression) (dag.ID, values.Code, error) {
	id, _, err := compileExpr(ctx, sch, n.Left)
	if err != nil {
		return 0, 0, err
	}
	op := dag.OpIsNull
	if n.Not {
		op = dag.OpIsNotNull
	}
	return ctx.g.Unary(op, id, values.Bool), values.Bool, nil
}

func compileExists(ctx *planCtx, n *ast.ExistsExpression) (dag.ID, values.Code, error) {
	count, err := ctx.p.planRowCount(n.Subquery)
	if err != nil {
		return 0, 0, err
	}
	exists := count > 0
	if n.Not {
		exists = !exists
	}
	return ctx.g.Const(values.NewBoolAtom(exists)), values.Bool, nil
}

// compileCase lowers both CASE forms to a right-leaning IF/ELSE chain,
// reusing dag.Graph's Ternary/Else pair the same way the executor's
// evalElementwise does for a plain IF() call.
func compileCase(ctx *planCtx, sch schema, n *ast.CaseExpression) (dag.ID, values.Code, error) {
	var elseID dag.ID
	var outCode values.Code
	if n.Else != nil {
		var err error
		elseID, outCode, err = compileExpr(ctx, sch, n.Else)
		if err != nil {
			return 0, 0, err
		}
	}
	haveElse := n.Else != nil
	for i := len(n.Whens) - 1; i >= 0; i-- {
		w := n.Whens[i]
		var condID dag.ID
		var err error
		if n.Value != nil {
			valID, _, verr2 := compileExpr(ctx, sch, n.Value)
			if verr2 != nil {
				return 0, 0, verr2
			}
			condExprID, _, cerr := compileExpr(ctx, sch, w.Condition)
			if cerr != nil {
				return 0, 0, cerr
			}
			condID = ctx.g.Binary(dag.OpEq, valID, condExprID, values.Bool)
		} else {
			condID, _, err = compileExpr(ctx, sch, w.Condition)
			if err != nil {
				return 0, 0, err
			}
		}
		thenID, thenCode, err := compileExpr(ctx, sch, w.Result)
		if err != nil {
			return 0, 0, err
		}
		if !haveElse {
			elseID = ctx.g.Const(values.NullAtom(thenCode.Base()))
			outCode = thenCode
			haveElse = true
		}
		id := ctx.g.Ternary(dag.OpIf, condID, thenID, elseID, outCode)
		elseID = id
	}
	if !haveElse {
		return 0, 0, verr.Newf(verr.Plan, "plan.compileCase", "CASE expression has no WHEN clauses")
	}
	return elseID, outCode, nil
}

var castCodes = map[string]values.Code{
	"int": values.I64, "integer": values.I64, "bigint": values.I64, "smallint": values.I32,
	"float": values.F64, "double": values.F64, "real": values.F64, "decimal": values.F64, "numeric": values.F64,
	"bool": values.Bool, "boolean": values.Bool,
	"varchar": values.Sym, "text": values.Sym, "string": values.Sym, "char": values.Sym,
	"date": values.Date, "time": values.Time, "timestamp": values.Timestamp,
}

func compileCast(ctx *planCtx, sch schema, n *ast.CastExpression) (dag.ID, values.Code, error) {
	id, _, err := compileExpr(ctx, sch, n.Expr)
	if err != nil {
		return 0, 0, err
	}
	target := strings.ToLower(strings.TrimSpace(n.Target))
	// strip a trailing size spec like VARCHAR(32) or DECIMAL(10,2)
	if i := strings.IndexByte(target, '('); i >= 0 {
		target = target[:i]
	}
	code, ok := castCodes[target]
	if !ok {
		return 0, 0, verr.Newf(verr.Plan, "plan.compileCast", "unsupported CAST target %q", n.Target)
	}
	return ctx.g.Unary(dag.OpCast, id, code), code, nil
}
