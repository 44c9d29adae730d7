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
	"time"

	"github.com/vellumdb/vellum/internal/dag"
	"github.com/vellumdb/vellum/internal/sql/ast"
	"github.com/vellumdb/vellum/internal/values"
	"github.com/vellumdb/vellum/internal/verr"
)

// compileFunctionCall lowers the scalar function library from spec.md
// section 6. Aggregate and window calls never reach here: the
// group/window planning passes extract them from the SELECT list before
// the remaining expression tree is compiled.
func compileFunctionCall(ctx *planCtx, sch schema, fc *ast.FunctionCall) (dag.ID, values.Code, error) {
	name := strings.ToLower(fc.Name)
	if fc.Over != nil {
		return 0, 0, verr.Newf(verr.Plan, "plan.compileFunctionCall", "window function %q was not resolved by window planning", fc.Name)
	}
	if fc.Distinct {
		return 0, 0, verr.Newf(verr.Plan, "plan.compileFunctionCall", "DISTINCT is only valid on an aggregate")
	}

	switch name {
	case "current_date":
		if len(fc.Args) != 0 {
			return 0, 0, verr.Newf(verr.Plan, "plan.compileFunctionCall", "current_date takes no arguments")
		}
		days := int32(time.Now().UTC().Unix() / 86400)
		return ctx.g.Const(values.NewDateAtom(days)), values.Date, nil
	case "current_timestamp", "now":
		if len(fc.Args) != 0 {
			return 0, 0, verr.Newf(verr.Plan, "plan.compileFunctionCall", "%s takes no arguments", name)
		}
		return ctx.g.Const(values.NewTimestampAtom(time.Now().UTC().UnixMicro())), values.Timestamp, nil
	case "extract":
		return compileExtract(ctx, sch, fc)
	}

	args := make([]dag.ID, len(fc.Args))
	codes := make([]values.Code, len(fc.Args))
	for i, a := range fc.Args {
		id, code, err := compileExpr(ctx, sch, a)
		if err != nil {
			return 0, 0, err
		}
		args[i] = id
		codes[i] = code
	}

	switch name {
	case "abs":
		if len(args) != 1 {
			return 0, 0, verr.Newf(verr.Plan, "plan.compileFunctionCall", "abs takes exactly 1 argument")
		}
		return ctx.g.Unary(dag.OpAbs, args[0], codes[0].Base()), codes[0].Base(), nil
	case "ceil", "ceiling":
		return unary1(ctx, fc.Name, dag.OpCeil, args, values.F64)
	case "floor":
		return unary1(ctx, fc.Name, dag.OpFloor, args, values.F64)
	case "sqrt":
		return unary1(ctx, fc.Name, dag.OpSqrt, args, values.F64)
	case "ln":
		return unary1(ctx, fc.Name, dag.OpLn, args, values.F64)
	case "log":
		return unary1(ctx, fc.Name, dag.OpLog, args, values.F64)
	case "exp":
		return unary1(ctx, fc.Name, dag.OpExp, args, values.F64)
	case "upper":
		return unary1(ctx, fc.Name, dag.OpUpper, args, values.Sym)
	case "lower":
		return unary1(ctx, fc.Name, dag.OpLower, args, values.Sym)
	case "length", "char_length":
		return unary1(ctx, fc.Name, dag.OpLength, args, values.I64)
	case "trim":
		return unary1(ctx, fc.Name, dag.OpTrim, args, values.Sym)
	case "btrim":
		return unary1(ctx, fc.Name, dag.OpBTrim, args, values.Sym)
	case "concat":
		if len(args) < 2 {
			return 0, 0, verr.Newf(verr.Plan, "plan.compileFunctionCall", "concat requires at least 2 arguments")
		}
		id := args[0]
		for _, a := range args[1:] {
			id = ctx.g.Binary(dag.OpConcat, id, a, values.Sym)
		}
		return id, values.Sym, nil
	case "round":
		switch len(args) {
		case 1:
			n := ctx.g.Const(values.NewI64Atom(0))
			return ctx.g.Binary(dag.OpRound, args[0], n, values.F64), values.F64, nil
		case 2:
			return ctx.g.Binary(dag.OpRound, args[0], args[1], values.F64), values.F64, nil
		default:
			return 0, 0, verr.Newf(verr.Plan, "plan.compileFunctionCall", "round takes 1 or 2 arguments")
		}
	case "substr", "substring":
		switch len(args) {
		case 2:
			return ctx.g.Binary(dag.OpSubstr, args[0], args[1], values.Sym), values.Sym, nil
		case 3:
			return ctx.g.Ternary(dag.OpSubstr, args[0], args[1], args[2], values.Sym), values.Sym, nil
		default:
			return 0, 0, verr.Newf(verr.Plan, "plan.compileFunctionCall", "substr takes 2 or 3 arguments")
		}
	case "replace":
		if len(args) != 3 {
			return 0, 0, verr.Newf(verr.Plan, "plan.compileFunctionCall", "replace takes 3 arguments")
		}
		return ctx.g.Ternary(dag.OpReplace, args[0], args[1], args[2], values.Sym), values.Sym, nil
	case "date_trunc":
		if len(args) != 2 {
			return 0, 0, verr.Newf(verr.Plan, "plan.compileFunctionCall", "date_trunc takes 2 arguments")
		}
		return ctx.g.Binary(dag.OpDateTrunc, args[0], args[1], values.Timestamp), values.Timestamp, nil
	case "date_diff":
		if len(args) != 3 {
			return 0, 0, verr.Newf(verr.Plan, "plan.compileFunctionCall", "date_diff takes 3 arguments")
		}
		return ctx.g.Ternary(dag.OpDateDiff, args[0], args[1], args[2], values.I64), values.I64, nil
	case "date_add", "date_sub":
		if len(args) != 2 {
			return 0, 0, verr.Newf(verr.Plan, "plan.compileFunctionCall", "%s takes 2 arguments", name)
		}
		op := dag.OpDateAdd
		if name == "date_sub" {
			op = dag.OpDateSub
		}
		return ctx.g.Binary(op, args[0], args[1], values.Timestamp), values.Timestamp, nil
	case "least":
		return decomposeLeastGreatest(ctx, args, codes, dag.OpLt)
	case "greatest":
		return decomposeLeastGreatest(ctx, args, codes, dag.OpGt)
	case "coalesce":
		return decomposeCoalesce(ctx, args, codes)
	case "nullif":
		if len(args) != 2 {
			return 0, 0, verr.Newf(verr.Plan, "plan.compileFunctionCall", "nullif takes 2 arguments")
		}
		return decomposeNullIf(ctx, args[0], args[1], codes[0])
	case "regexp_like":
		switch len(args) {
		case 2:
			return ctx.g.Binary(dag.OpRegexMatch, args[0], args[1], values.Bool), values.Bool, nil
		case 3:
			flag, ok := fieldLiteral(fc.Args[2])
			if !ok || strings.ToLower(flag) != "i" {
				return 0, 0, verr.Newf(verr.Plan, "plan.compileFunctionCall", `regexp_like's third argument must be the literal "i"`)
			}
			return ctx.g.Binary(dag.OpRegexMatchCi, args[0], args[1], values.Bool), values.Bool, nil
		default:
			return 0, 0, verr.Newf(verr.Plan, "plan.compileFunctionCall", "regexp_like takes 2 or 3 arguments")
		}
	case "similar_to":
		if len(args) != 2 {
			return 0, 0, verr.Newf(verr.Plan, "plan.compileFunctionCall", "similar_to takes 2 arguments")
		}
		return ctx.g.Binary(dag.OpSimilarTo, args[0], args[1], values.Bool), values.Bool, nil
	default:
		return 0, 0, verr.Newf(verr.Plan, "plan.compileFunctionCall", "unknown function %q", fc.Name)
	}
}

func unary1(ctx *planCtx, name string, op dag.Op, args []dag.ID, out values.Code) (dag.ID, values.Code, error) {
	if len(args) != 1 {
		return 0, 0, verr.Newf(verr.Plan, "plan.compileFunctionCall", "%s takes exactly 1 argument", name)
	}
	return ctx.g.Unary(op, args[0], out), out, nil
}

// fieldLiteral extracts an EXTRACT(field FROM ts) field name without
// resolving it as a column reference: the grammar's field token is a
// bare keyword-like identifier, not a row expression.
func fieldLiteral(e ast.Expression) (string, bool) {
	switch n := e.(type) {
	case *ast.Identifier:
		return n.Value, true
	case *ast.StringLiteral:
		return n.Value, true
	default:
		return "", false
	}
}

func compileExtract(ctx *planCtx, sch schema, fc *ast.FunctionCall) (dag.ID, values.Code, error) {
	if len(fc.Args) != 2 {
		return 0, 0, verr.Newf(verr.Plan, "plan.compileExtract", "extract takes a field and a temporal argument")
	}
	field, ok := fieldLiteral(fc.Args[0])
	if !ok {
		return 0, 0, verr.Newf(verr.Plan, "plan.compileExtract", "EXTRACT field must be a bare identifier")
	}
	tsID, _, err := compileExpr(ctx, sch, fc.Args[1])
	if err != nil {
		return 0, 0, err
	}
	fieldID := ctx.g.Const(values.NewSymAtom(ctx.p.Symbols.Intern(field)))
	return ctx.g.Binary(dag.OpExtract, fieldID, tsID, values.I64), values.I64, nil
}

// decomposeLeastGreatest folds LEAST/GREATEST into a chain of
// IF(cmp(a,b), a, b), the executor having no direct OpLeast/OpGreatest
// kernel (see DESIGN.md's executor notes on planner-level decomposition).
func decomposeLeastGreatest(ctx *planCtx, args []dag.ID, codes []values.Code, cmp dag.Op) (dag.ID, values.Code, error) {
	if len(args) < 2 {
		return 0, 0, verr.Newf(verr.Plan, "plan.decomposeLeastGreatest", "requires at least 2 arguments")
	}
	out := codes[0].Base()
	for _, c := range codes[1:] {
		out = numericPromote(out, c)
	}
	cur := args[0]
	for _, a := range args[1:] {
		cond := ctx.g.Binary(cmp, cur, a, values.Bool)
		cur = ctx.g.Ternary(dag.OpIf, cond, cur, a, out)
	}
	return cur, out, nil
}

// decomposeCoalesce folds COALESCE into a right-leaning
// IF(IS_NOT_NULL(a), a, IF(IS_NOT_NULL(b), b, ...)) chain.
func decomposeCoalesce(ctx *planCtx, args []dag.ID, codes []values.Code) (dag.ID, values.Code, error) {
	if len(args) == 0 {
		return 0, 0, verr.Newf(verr.Plan, "plan.decomposeCoalesce", "coalesce requires at least 1 argument")
	}
	out := codes[len(codes)-1].Base()
	cur := args[len(args)-1]
	for i := len(args) - 2; i >= 0; i-- {
		notNull := ctx.g.Unary(dag.OpIsNotNull, args[i], values.Bool)
		cur = ctx.g.Ternary(dag.OpIf, notNull, args[i], cur, out)
	}
	return cur, out, nil
}

// decomposeNullIf folds NULLIF(a,b) into IF(EQ(a,b), CONST_NULL, a).
func decomposeNullIf(ctx *planCtx, a, b dag.ID, out values.Code) (dag.ID, values.Code, error) {
	eq := ctx.g.Binary(dag.OpEq, a, b, values.Bool)
	null := ctx.g.Const(values.NullAtom(out.Base()))
	return ctx.g.Ternary(dag.OpIf, eq, null, a, out.Base()), out.Base(), nil
}
