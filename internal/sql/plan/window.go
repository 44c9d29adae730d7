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
	"github.com/vellumdb/vellum/internal/exec"
	"github.com/vellumdb/vellum/internal/sql/ast"
	"github.com/vellumdb/vellum/internal/values"
	"github.com/vellumdb/vellum/internal/verr"
)

var windowFuncOps = map[string]dag.Op{
	"row_number": exec.OpRowNumber, "rank": exec.OpRank, "dense_rank": exec.OpDenseRank,
	"ntile": exec.OpNTile, "lag": exec.OpLag, "lead": exec.OpLead,
	"first_value": exec.OpFirstValue, "last_value": exec.OpLastValue, "nth_value": exec.OpNthValue,
}

// windowBuilder collects the OVER clauses referenced in a SELECT list,
// grouping calls that share an identical WindowSpec into a single
// dag.WindowExt, per spec.md section 4.8's window-function planning.
type windowBuilder struct {
	ctx     *planCtx
	sch     schema // schema to compile PARTITION BY/ORDER BY/argument exprs against
	keys    map[string]int
	exts    []*dag.WindowExt
	nfuncs  int
}

func newWindowBuilder(ctx *planCtx, sch schema) *windowBuilder {
	return &windowBuilder{ctx: ctx, sch: sch, keys: map[string]int{}}
}

func windowSpecKey(w *ast.WindowSpec) string {
	var b strings.Builder
	b.WriteString("part:")
	for _, p := range w.PartitionBy {
		b.WriteString(exprText(p))
		b.WriteByte(',')
	}
	b.WriteString("|order:")
	for _, o := range w.OrderBy {
		b.WriteString(exprText(o.Expr))
		fmt.Fprintf(&b, "%v%v%v,", o.Desc, o.NullsFirst, o.NullsSet)
	}
	fmt.Fprintf(&b, "|frame:%v", w.HasFrame)
	return b.String()
}

func (b *windowBuilder) rewrite(e ast.Expression) (ast.Expression, error) {
	if e == nil {
		return nil, nil
	}
	fc, ok := e.(*ast.FunctionCall)
	if !ok || fc.Over == nil {
		return rewriteChildren(e, b.rewrite)
	}
	extIdx, ok := b.keys[windowSpecKey(fc.Over)]
	if !ok {
		ext, err := b.buildExt(fc.Over)
		if err != nil {
			return nil, err
		}
		b.exts = append(b.exts, ext)
		extIdx = len(b.exts) - 1
		b.keys[windowSpecKey(fc.Over)] = extIdx
	}
	ext := b.exts[extIdx]
	alias := fmt.Sprintf("_w%d", b.nfuncs)
	b.nfuncs++
	wf, err := b.buildFunc(fc, alias)
	if err != nil {
		return nil, err
	}
	ext.Funcs = append(ext.Funcs, wf)
	return &ast.Identifier{Value: alias}, nil
}

func (b *windowBuilder) buildExt(w *ast.WindowSpec) (*dag.WindowExt, error) {
	ext := &dag.WindowExt{}
	for _, p := range w.PartitionBy {
		id, _, err := compileExpr(b.ctx, b.sch, p)
		if err != nil {
			return nil, err
		}
		ext.PartKeys = append(ext.PartKeys, id)
	}
	for _, o := range w.OrderBy {
		id, _, err := compileExpr(b.ctx, b.sch, o.Expr)
		if err != nil {
			return nil, err
		}
		ext.OrderKeys = append(ext.OrderKeys, dag.SortKey{Node: id, Desc: o.Desc, NullsFirst: o.NullsFirst})
	}
	// Frames default to RANGE UNBOUNDED PRECEDING -> UNBOUNDED FOLLOWING
	// without ORDER BY, and -> CURRENT ROW with ORDER BY (spec.md section
	// 4.8); custom ROWS/RANGE BETWEEN bounds are accepted by the grammar
	// but the executor's running accumulator always uses the default
	// frame (see DESIGN.md's executor notes), so they are not threaded
	// through here.
	ext.Frame = dag.FrameRange
	ext.Start = dag.FrameBound{Unbounded: true, Preceding: true}
	if len(w.OrderBy) > 0 {
		ext.End = dag.FrameBound{Current: true}
	} else {
		ext.End = dag.FrameBound{Unbounded: true, Preceding: false}
	}
	return ext, nil
}

func (b *windowBuilder) buildFunc(fc *ast.FunctionCall, alias string) (dag.WindowFunc, error) {
	name := strings.ToLower(fc.Name)
	wf := dag.WindowFunc{Input: dag.ID(-1), Alias: alias}
	if op, ok := windowFuncOps[name]; ok {
		wf.Op = op
		switch name {
		case "ntile":
			n, err := intArg(fc, 0)
			if err != nil {
				return wf, err
			}
			wf.N = n
		case "lag", "lead":
			if len(fc.Args) == 0 {
				return wf, verr.Newf(verr.Plan, "plan.buildFunc", "%s requires an argument", fc.Name)
			}
			id, _, err := compileExpr(b.ctx, b.sch, fc.Args[0])
			if err != nil {
				return wf, err
			}
			wf.Input = id
			if len(fc.Args) > 1 {
				off, err := intArg(fc, 1)
				if err != nil {
					return wf, err
				}
				wf.Offset = off
			}
		case "first_value", "last_value":
			if len(fc.Args) != 1 {
				return wf, verr.Newf(verr.Plan, "plan.buildFunc", "%s takes exactly 1 argument", fc.Name)
			}
			id, _, err := compileExpr(b.ctx, b.sch, fc.Args[0])
			if err != nil {
				return wf, err
			}
			wf.Input = id
		case "nth_value":
			if len(fc.Args) != 2 {
				return wf, verr.Newf(verr.Plan, "plan.buildFunc", "nth_value takes exactly 2 arguments")
			}
			id, _, err := compileExpr(b.ctx, b.sch, fc.Args[0])
			if err != nil {
				return wf, err
			}
			wf.Input = id
			n, err := intArg(fc, 1)
			if err != nil {
				return wf, err
			}
			wf.N = n
		}
		return wf, nil
	}
	if !isAggregateName(name) {
		return wf, verr.Newf(verr.Plan, "plan.buildFunc", "%q is not a valid window function", fc.Name)
	}
	wf.Op = aggOps[name]
	if name == "count" && (len(fc.Args) == 0 || isStar(fc.Args)) {
		wf.Op = exec.OpCount // COUNT(*) OVER(...) counts all rows in frame the same as COUNT(col)
		wf.Input = b.ctx.g.Const(values.NewBoolAtom(true))
		return wf, nil
	}
	if len(fc.Args) != 1 {
		return wf, verr.Newf(verr.Plan, "plan.buildFunc", "%s takes exactly 1 argument", fc.Name)
	}
	id, _, err := compileExpr(b.ctx, b.sch, fc.Args[0])
	if err != nil {
		return wf, err
	}
	wf.Input = id
	return wf, nil
}

func isStar(args []ast.Expression) bool {
	if len(args) != 1 {
		return false
	}
	_, ok := args[0].(*ast.Star)
	return ok
}

func intArg(fc *ast.FunctionCall, i int) (int64, error) {
	if i >= len(fc.Args) {
		return 0, verr.Newf(verr.Plan, "plan.intArg", "%s: missing argument %d", fc.Name, i)
	}
	lit, ok := fc.Args[i].(*ast.IntegerLiteral)
	if !ok {
		return 0, verr.Newf(verr.Plan, "plan.intArg", "%s: argument %d must be an integer literal", fc.Name, i)
	}
	return lit.Value, nil
}

// windowOutCode mirrors exec.windowOutCode (unexported) so the planner
// can predict a WINDOW node's appended column types without running it.
func windowOutCode(op dag.Op) values.Code {
	switch op {
	case exec.OpRowNumber, exec.OpRank, exec.OpDenseRank, exec.OpNTile, dag.OpCount, dag.OpCountStar:
		return values.I64
	case dag.OpSum, dag.OpAvg, dag.OpStddev, dag.OpStddevPop, dag.OpVariance, dag.OpVariancePop:
		return values.F64
	default:
		return values.F64
	}
}

// planWindowFuncs collects every OVER clause referenced in items,
// groups identical window specs into shared dag.WindowExt nodes, and
// rewrites items to reference the resulting output columns in place of
// the raw calls. If no item references a window function, node/sch are
// returned unchanged.
func planWindowFuncs(ctx *planCtx, node dag.ID, sch schema, items []outputItem) (dag.ID, schema, []outputItem, error) {
	b := newWindowBuilder(ctx, sch)
	newItems := make([]outputItem, len(items))
	for i, it := range items {
		rewritten, err := b.rewrite(it.expr)
		if err != nil {
			return 0, nil, nil, err
		}
		newItems[i] = outputItem{alias: it.alias, expr: rewritten}
	}
	if len(b.exts) == 0 {
		return node, sch, items, nil
	}
	for _, ext := range b.exts {
		node = ctx.g.Window(node, ext)
		for _, f := range ext.Funcs {
			sch = append(sch, column{physical: f.Alias, table: "", name: f.Alias, code: windowOutCode(f.Op)})
		}
	}
	return node, sch, newItems, nil
}

// rewriteChildren applies rewrite to every child expression of e, for
// windowBuilder's tree walk (aggBuilder.rewrite has its own switch).
func rewriteChildren(e ast.Expression, rewrite func(ast.Expression) (ast.Expression, error)) (ast.Expression, error) {
	switch n := e.(type) {
	case *ast.PrefixExpression:
		r, err := rewrite(n.Right)
		if err != nil {
			return nil, err
		}
		cp := *n
		cp.Right = r
		return &cp, nil
	case *ast.InfixExpression:
		l, err := rewrite(n.Left)
		if err != nil {
			return nil, err
		}
		r, err := rewrite(n.Right)
		if err != nil {
			return nil, err
		}
		cp := *n
		cp.Left, cp.Right = l, r
		return &cp, nil
	case *ast.FunctionCall:
		args := make([]ast.Expression, len(n.Args))
		for i, a := range n.Args {
			r, err := rewrite(a)
			if err != nil {
				return nil, err
			}
			args[i] = r
		}
		cp := *n
		cp.Args = args
		return &cp, nil
	case *ast.CaseExpression:
		cp := *n
		var err error
		if cp.Value, err = rewrite(n.Value); err != nil {
			return nil, err
		}
		if cp.Else, err = rewrite(n.Else); err != nil {
			return nil, err
		}
		cp.Whens = make([]ast.WhenClause, len(n.Whens))
		for i, w := range n.Whens {
			cond, err := rewrite(w.Condition)
			if err != nil {
				return nil, err
			}
			res, err := rewrite(w.Result)
			if err != nil {
				return nil, err
			}
			cp.Whens[i] = ast.WhenClause{Condition: cond, Result: res}
		}
		return &cp, nil
	case *ast.CastExpression:
		r, err := rewrite(n.Expr)
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
