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
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/vellumdb/vellum/date"
	"github.com/vellumdb/vellum/fastdate"
	"github.com/vellumdb/vellum/internal/dag"
	"github.com/vellumdb/vellum/internal/stringext"
	"github.com/vellumdb/vellum/internal/values"
	"github.com/vellumdb/vellum/internal/verr"
	"github.com/vellumdb/vellum/utf8"
)

// scanSource binds SCAN node resolution for the duration of one
// element-wise evaluation. The default is the graph's own source
// table; GROUP's HAVING fusion and mixed-aggregate projections
// temporarily rebind this to an intermediate result, per spec.md
// section 4.7's "rebinding scan resolution to the group-result
// schema."
type scanSource struct {
	table *values.Table
}

// evalVec computes the full output vector for a fuseable element-wise
// node id by recursing through its fused chain; no node in the chain
// other than id itself is separately materialized into a retained
// Vector, which is how spec.md section 4.5 pass 1's fusion manifests
// here: the recursion IS the fusion, so there is nothing additional
// for the optimizer to rewrite.
func (ex *Executor) evalVec(qc *queryCtx, src *scanSource, id dag.ID) (*values.Vector, error) {
	if err := ex.checkCancel(); err != nil {
		return nil, err
	}
	n := qc.g.Nodes[id]
	switch n.Op {
	case dag.OpScan:
		col, ok := src.table.GetCol(n.ColName)
		if !ok {
			name, _ := qc.ex.Symbols.Str(n.ColName)
			return nil, verr.Newf(verr.SchemaMismatch, "exec.evalVec", "unknown column %q", name)
		}
		return materializeColumn(col), nil
	case dag.OpConstBool, dag.OpConstI64, dag.OpConstF64, dag.OpConstSym, dag.OpConstNull:
		return constVec(n.Const, src.table.NRows()), nil
	}
	return ex.evalElementwise(qc, src, n)
}

// materializeColumn flattens a Column (which may be Parted/MapCommon)
// into a plain Vector so element-wise kernels can operate on a single
// contiguous view. Stages that care about avoiding this materialization
// for large Parted/MapCommon scans (FILTER, GROUP) iterate segments
// directly instead of calling this helper; it exists for scalar
// expression evaluation where genericity over Column matters more than
// avoiding one extra copy.
func materializeColumn(c values.Column) *values.Vector {
	if u, ok := c.(interface{ Underlying() *values.Vector }); ok {
		return u.Underlying()
	}
	out := values.NewVector(c.Code(), c.Rows())
	for i := 0; i < c.Rows(); i++ {
		a := c.At(i)
		out = out.Append(a, a.IsNull())
	}
	return out
}

func constVec(a values.Atom, n int) *values.Vector {
	out := values.NewVector(a.Code().Base(), n)
	for i := 0; i < n; i++ {
		out = out.Append(a, a.IsNull())
	}
	return out
}

// evalElementwise evaluates the non-leaf fuseable kernels: unary,
// binary, and ternary operators, per spec.md section 4.4's "fuseable
// element-wise" category. The ternary slot isn't IF-only: SUBSTR's
// 3-argument form, REPLACE, and DATE_DIFF all reuse the same
// cond/then/Else() operand layout (Else() just dereferences the
// sidecar slot a node's third operand lives in, regardless of Op).
func (ex *Executor) evalElementwise(qc *queryCtx, src *scanSource, n dag.Node) (*values.Vector, error) {
	switch n.Arity {
	case 1:
		a, err := ex.evalVec(qc, src, n.Inputs[0])
		if err != nil {
			return nil, err
		}
		return ex.unaryKernel(n.Op, n.OutType, a)
	case 2:
		a, err := ex.evalVec(qc, src, n.Inputs[0])
		if err != nil {
			return nil, err
		}
		b, err := ex.evalVec(qc, src, n.Inputs[1])
		if err != nil {
			return nil, err
		}
		return ex.binaryKernel(n.Op, n.OutType, a, b)
	case 3:
		x, err := ex.evalVec(qc, src, n.Inputs[0])
		if err != nil {
			return nil, err
		}
		y, err := ex.evalVec(qc, src, n.Inputs[1])
		if err != nil {
			return nil, err
		}
		z, err := ex.evalVec(qc, src, qc.g.Else(n.ID))
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case dag.OpIf:
			return ifKernel(n.OutType, x, y, z)
		default:
			return ex.ternaryKernel(n.Op, n.OutType, x, y, z)
		}
	default:
		return nil, verr.Newf(verr.NotImplemented, "exec.evalElementwise", "op %v arity %d", n.Op, n.Arity)
	}
}

// ternaryKernel evaluates non-IF 3-operand scalar functions row by row.
func (ex *Executor) ternaryKernel(op dag.Op, out values.Code, x, y, z *values.Vector) (*values.Vector, error) {
	n := x.Len()
	result := values.NewVector(out, n)
	for i := 0; i < n; i++ {
		if (x.Nulls().Get(i) || y.Nulls().Get(i) || z.Nulls().Get(i)) && op != dag.OpDateDiff {
			result = result.Append(values.NullAtom(out), true)
			continue
		}
		var atom values.Atom
		var err error
		switch op {
		case dag.OpSubstr:
			atom, err = ex.substr3Atom(x.Get(i), y.Get(i), z.Get(i))
		case dag.OpReplace:
			atom, err = ex.replaceAtom(x.Get(i), y.Get(i), z.Get(i))
		case dag.OpDateDiff:
			atom, err = ex.dateDiffAtom(x.Get(i), y.Get(i), z.Get(i))
		default:
			err = verr.Newf(verr.NotImplemented, "exec.ternaryKernel", "op %v", op)
		}
		if err != nil {
			return nil, err
		}
		result = result.Append(atom, atom.IsNull())
	}
	return result, nil
}

func ifKernel(out values.Code, cond, then, els *values.Vector) (*values.Vector, error) {
	n := cond.Len()
	result := values.NewVector(out, n)
	for i := 0; i < n; i++ {
		if cond.Nulls().Get(i) || !cond.Bools()[i] {
			a := els.Get(i)
			result = result.Append(a, a.IsNull())
		} else {
			a := then.Get(i)
			result = result.Append(a, a.IsNull())
		}
	}
	return result, nil
}

func (ex *Executor) unaryKernel(op dag.Op, out values.Code, a *values.Vector) (*values.Vector, error) {
	n := a.Len()
	result := values.NewVector(out, n)
	for i := 0; i < n; i++ {
		if a.Nulls().Get(i) && op != dag.OpIsNull && op != dag.OpIsNotNull {
			result = result.Append(values.NullAtom(out), true)
			continue
		}
		var atom values.Atom
		var err error
		switch op {
		case dag.OpNeg:
			atom, err = negAtom(out, a.Get(i))
		case dag.OpNot:
			atom = values.NewBoolAtom(!a.Get(i).Bool())
		case dag.OpAbs:
			atom, err = mathUnary(out, a.Get(i), math.Abs)
		case dag.OpCeil:
			atom, err = mathUnary(out, a.Get(i), math.Ceil)
		case dag.OpFloor:
			atom, err = mathUnary(out, a.Get(i), math.Floor)
		case dag.OpSqrt:
			atom, err = mathUnary(out, a.Get(i), math.Sqrt)
		case dag.OpLn:
			atom, err = mathUnary(out, a.Get(i), math.Log)
		case dag.OpLog:
			atom, err = mathUnary(out, a.Get(i), math.Log10)
		case dag.OpExp:
			atom, err = mathUnary(out, a.Get(i), math.Exp)
		case dag.OpUpper:
			atom, err = ex.symStringUnary(a.Get(i), strings.ToUpper)
		case dag.OpLower:
			atom, err = ex.symStringUnary(a.Get(i), strings.ToLower)
		case dag.OpLength:
			atom, err = ex.stringLength(a.Get(i))
		case dag.OpTrim, dag.OpBTrim:
			atom, err = ex.symStringUnary(a.Get(i), strings.TrimSpace)
		case dag.OpIsNull:
			atom = values.NewBoolAtom(a.Nulls().Get(i))
		case dag.OpIsNotNull:
			atom = values.NewBoolAtom(!a.Nulls().Get(i))
		case dag.OpCast:
			atom, err = ex.castAtom(out, a.Get(i))
		default:
			err = verr.Newf(verr.NotImplemented, "exec.unaryKernel", "op %v", op)
		}
		if err != nil {
			return nil, err
		}
		result = result.Append(atom, false)
	}
	return result, nil
}

func negAtom(out values.Code, a values.Atom) (values.Atom, error) {
	switch out.Base() {
	case values.I32:
		return values.NewI32Atom(-a.I32()), nil
	case values.I64:
		return values.NewI64Atom(-a.I64()), nil
	case values.F64:
		return values.NewF64Atom(-a.AsF64()), nil
	default:
		return values.Atom{}, verr.Newf(verr.TypeMismatch, "exec.negAtom", "cannot negate %v", out)
	}
}

func mathUnary(out values.Code, a values.Atom, f func(float64) float64) (values.Atom, error) {
	return values.NewF64Atom(f(a.AsF64())), nil
}

// symStringUnary resolves a SYM atom's interned string, applies f, and
// re-interns the result, per spec.md section 4.2's symbol table being
// the only valid way to go from a SYM atom to its bytes and back.
func (ex *Executor) symStringUnary(a values.Atom, f func(string) string) (values.Atom, error) {
	if a.Code().Base() != values.Sym {
		return values.Atom{}, verr.Newf(verr.TypeMismatch, "exec.symStringUnary", "string function requires a SYM operand")
	}
	s, ok := ex.Symbols.Str(a.Sym())
	if !ok {
		return values.Atom{}, verr.Newf(verr.SchemaMismatch, "exec.symStringUnary", "unresolvable symbol")
	}
	return values.NewSymAtom(ex.Symbols.Intern(f(s))), nil
}

func (ex *Executor) stringLength(a values.Atom) (values.Atom, error) {
	switch a.Code().Base() {
	case values.Sym:
		s, ok := ex.Symbols.Str(a.Sym())
		if !ok {
			return values.Atom{}, verr.Newf(verr.SchemaMismatch, "exec.stringLength", "unresolvable symbol")
		}
		return values.NewI64Atom(int64(utf8.ValidStringLength([]byte(s)))), nil
	case values.I64:
		return values.NewI64Atom(int64(len(strconv.FormatInt(a.I64(), 10)))), nil
	case values.F64:
		return values.NewI64Atom(int64(len(strconv.FormatFloat(a.F64(), 'g', -1, 64)))), nil
	default:
		return values.Atom{}, verr.Newf(verr.TypeMismatch, "exec.stringLength", "LENGTH requires a string or numeric operand")
	}
}

func (ex *Executor) binaryKernel(op dag.Op, out values.Code, a, b *values.Vector) (*values.Vector, error) {
	n := a.Len()
	if b.Len() != n {
		return nil, verr.Newf(verr.LengthMismatch, "exec.binaryKernel", "operand lengths %d vs %d", n, b.Len())
	}
	result := values.NewVector(out, n)
	for i := 0; i < n; i++ {
		nullA, nullB := a.Nulls().Get(i), b.Nulls().Get(i)
		if (nullA || nullB) && op != dag.OpAnd && op != dag.OpOr {
			result = result.Append(values.NullAtom(out), true)
			continue
		}
		atom, err := ex.binaryAtom(op, out, a.Get(i), b.Get(i), nullA, nullB)
		if err != nil {
			return nil, err
		}
		if atom.IsNull() {
			result = result.Append(atom, true)
		} else {
			result = result.Append(atom, false)
		}
	}
	return result, nil
}

func (ex *Executor) binaryAtom(op dag.Op, out values.Code, a, b values.Atom, nullA, nullB bool) (values.Atom, error) {
	switch op {
	case dag.OpAnd:
		return logicalAnd(a, b, nullA, nullB), nil
	case dag.OpOr:
		return logicalOr(a, b, nullA, nullB), nil
	}
	switch op {
	case dag.OpAdd, dag.OpSub, dag.OpMul, dag.OpDiv, dag.OpMod:
		return arith(op, out, a, b)
	case dag.OpEq:
		return values.NewBoolAtom(compare(a, b) == 0), nil
	case dag.OpNe:
		return values.NewBoolAtom(compare(a, b) != 0), nil
	case dag.OpLt:
		return values.NewBoolAtom(compare(a, b) < 0), nil
	case dag.OpLe:
		return values.NewBoolAtom(compare(a, b) <= 0), nil
	case dag.OpGt:
		return values.NewBoolAtom(compare(a, b) > 0), nil
	case dag.OpGe:
		return values.NewBoolAtom(compare(a, b) >= 0), nil
	case dag.OpConcat:
		return ex.concatAtom(a, b)
	case dag.OpLike:
		return ex.likeAtom(a, b, false)
	case dag.OpILike:
		return ex.likeAtom(a, b, true)
	case dag.OpSimilarTo:
		return ex.regexMatchAtom(a, b, regexSimilarTo)
	case dag.OpRegexMatch:
		return ex.regexMatchAtom(a, b, regexMatch)
	case dag.OpRegexMatchCi:
		return ex.regexMatchAtom(a, b, regexMatchCi)
	case dag.OpExtract:
		return ex.extractAtom(a, b, out)
	case dag.OpDateTrunc:
		return ex.dateTruncAtom(a, b)
	case dag.OpDateAdd:
		return ex.dateAddAtom(a, b, 1)
	case dag.OpDateSub:
		return ex.dateAddAtom(a, b, -1)
	case dag.OpSubstr:
		return ex.substr2Atom(a, b)
	case dag.OpRound:
		return roundAtom(a, b)
	default:
		return values.Atom{}, verr.Newf(verr.NotImplemented, "exec.binaryAtom", "op %v", op)
	}
}

func logicalAnd(a, b values.Atom, nullA, nullB bool) values.Atom {
	if !nullA && !a.Bool() {
		return values.NewBoolAtom(false)
	}
	if !nullB && !b.Bool() {
		return values.NewBoolAtom(false)
	}
	if nullA || nullB {
		return values.NullAtom(values.Bool)
	}
	return values.NewBoolAtom(true)
}

func logicalOr(a, b values.Atom, nullA, nullB bool) values.Atom {
	if !nullA && a.Bool() {
		return values.NewBoolAtom(true)
	}
	if !nullB && b.Bool() {
		return values.NewBoolAtom(true)
	}
	if nullA || nullB {
		return values.NullAtom(values.Bool)
	}
	return values.NewBoolAtom(false)
}

// arith implements spec.md's numeric division-by-zero rule: F64
// division by zero yields NaN; otherwise it is a domain error.
func arith(op dag.Op, out values.Code, a, b values.Atom) (values.Atom, error) {
	if out.Base() == values.F64 {
		x, y := a.AsF64(), b.AsF64()
		switch op {
		case dag.OpAdd:
			return values.NewF64Atom(x + y), nil
		case dag.OpSub:
			return values.NewF64Atom(x - y), nil
		case dag.OpMul:
			return values.NewF64Atom(x * y), nil
		case dag.OpDiv:
			if y == 0 {
				return values.NewF64Atom(math.NaN()), nil
			}
			return values.NewF64Atom(x / y), nil
		case dag.OpMod:
			return values.NewF64Atom(math.Mod(x, y)), nil
		}
	}
	x, y := a.I64(), b.I64()
	switch op {
	case dag.OpAdd:
		return values.NewI64Atom(x + y), nil
	case dag.OpSub:
		return values.NewI64Atom(x - y), nil
	case dag.OpMul:
		return values.NewI64Atom(x * y), nil
	case dag.OpDiv:
		if y == 0 {
			return values.Atom{}, verr.Newf(verr.Domain, "exec.arith", "integer division by zero")
		}
		return values.NewI64Atom(x / y), nil
	case dag.OpMod:
		if y == 0 {
			return values.Atom{}, verr.Newf(verr.Domain, "exec.arith", "integer modulo by zero")
		}
		return values.NewI64Atom(x % y), nil
	}
	return values.Atom{}, verr.Newf(verr.NotImplemented, "exec.arith", "op %v", op)
}

// compare orders two non-null atoms of the same logical family for
// EQ/NE/LT/LE/GT/GE and for SORT's tuple comparator.
func compare(a, b values.Atom) int {
	switch a.Code().Base() {
	case values.Bool:
		av, bv := a.Bool(), b.Bool()
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	case values.F64:
		x, y := a.AsF64(), b.AsF64()
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	case values.Sym:
		x, y := a.Sym(), b.Sym()
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	default:
		x, y := a.I64(), b.I64()
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	}
}

// compareNullAware orders two atoms honoring SORT's NULLS FIRST/LAST
// placement: a NULL atom never reaches compare().
func compareNullAware(a, b values.Atom, nullsFirst bool) int {
	if a.IsNull() && b.IsNull() {
		return 0
	}
	if a.IsNull() {
		if nullsFirst {
			return -1
		}
		return 1
	}
	if b.IsNull() {
		if nullsFirst {
			return 1
		}
		return -1
	}
	return compare(a, b)
}

// ExtractField / DateTrunc / DateDiff / Cast support, named in spec.md
// section 6's scalar function library; implemented over the epoch
// conventions declared in spec.md section 3 (DATE = days since epoch,
// TIME = microseconds since midnight, TIMESTAMP = microseconds since
// epoch).
const epochDay = 24 * time.Hour

// symString resolves a SYM atom's interned string, erroring on any
// other operand kind. LIKE/CONCAT/SUBSTR/REPLACE/CAST-to-string and the
// EXTRACT/DATE_TRUNC/DATE_DIFF field-or-unit operand all funnel through
// here since the symbol table is the only valid way to go from a SYM
// atom to its bytes, per spec.md section 4.2.
func (ex *Executor) symString(a values.Atom) (string, error) {
	if a.Code().Base() != values.Sym {
		return "", verr.Newf(verr.TypeMismatch, "exec.symString", "expected a SYM operand, got %v", a.Code())
	}
	s, ok := ex.Symbols.Str(a.Sym())
	if !ok {
		return "", verr.Newf(verr.SchemaMismatch, "exec.symString", "unresolvable symbol")
	}
	return s, nil
}

// atomString stringifies any scalar atom, the implicit conversion CONCAT
// and CAST(... AS string) need for non-SYM operands.
func (ex *Executor) atomString(a values.Atom) (string, error) {
	switch a.Code().Base() {
	case values.Sym:
		return ex.symString(a)
	case values.I64:
		return strconv.FormatInt(a.I64(), 10), nil
	case values.F64:
		return strconv.FormatFloat(a.F64(), 'g', -1, 64), nil
	case values.Bool:
		return strconv.FormatBool(a.Bool()), nil
	default:
		return "", verr.Newf(verr.TypeMismatch, "exec.atomString", "cannot convert %v to string", a.Code())
	}
}

func (ex *Executor) concatAtom(a, b values.Atom) (values.Atom, error) {
	as, err := ex.atomString(a)
	if err != nil {
		return values.Atom{}, err
	}
	bs, err := ex.atomString(b)
	if err != nil {
		return values.Atom{}, err
	}
	return values.NewSymAtom(ex.Symbols.Intern(as + bs)), nil
}

func (ex *Executor) likeAtom(a, b values.Atom, caseInsensitive bool) (values.Atom, error) {
	s, err := ex.symString(a)
	if err != nil {
		return values.Atom{}, err
	}
	pat, err := ex.symString(b)
	if err != nil {
		return values.Atom{}, err
	}
	if caseInsensitive {
		// stringext.NormalizeString case-folds via unicode.SimpleFold
		// rather than strings.ToLower, so ILIKE matches runes whose
		// upper/lower forms aren't in bijection (e.g. Turkish dotted
		// and dotless I) the way the teacher's own fold-normalized
		// string comparisons do.
		s = stringext.NormalizeString(s)
		pat = stringext.NormalizeString(pat)
	}
	return values.NewBoolAtom(likeMatch([]rune(s), []rune(pat))), nil
}

// regexMatchAtom evaluates SIMILAR TO / REGEXP_LIKE-style matching.
// kind selects the pattern dialect the same way the teacher's
// regexp2.RegexType does: similarTo rewrites the SQL SIMILAR TO
// wildcard dialect ('%'/'_', literal '.'/'^'/'$') into an anchored Go
// regexp, regexMatch/regexMatchCi treat the pattern as an
// already-Go-compatible (RE2) regular expression, searched rather than
// anchored, case-sensitive or not. Each row recompiles its pattern
// rather than caching it on the Executor, trading per-row compile cost
// for avoiding a shared mutable cache across concurrent morsel workers.
func (ex *Executor) regexMatchAtom(a, b values.Atom, kind regexKind) (values.Atom, error) {
	s, err := ex.symString(a)
	if err != nil {
		return values.Atom{}, err
	}
	pat, err := ex.symString(b)
	if err != nil {
		return values.Atom{}, err
	}
	expr := pat
	switch kind {
	case regexSimilarTo:
		expr = similarToPattern(pat)
	case regexMatchCi:
		expr = "(?i)" + pat
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return values.Atom{}, verr.Wrap(verr.InvalidInput, "exec.regexMatchAtom", err)
	}
	return values.NewBoolAtom(re.MatchString(s)), nil
}

type regexKind int

const (
	regexSimilarTo regexKind = iota
	regexMatch
	regexMatchCi
)

// similarToPattern translates a SQL SIMILAR TO pattern into an anchored
// Go regexp, mirroring the teacher's regexp2.Compile(expr, SimilarTo):
// '%' becomes '.*', '_' becomes '.', and '.', '^', '$' lose their Go
// regexp meta-meaning (SIMILAR TO treats them as literals), then the
// whole pattern is anchored with '^(...)$' since SIMILAR TO matches the
// entire string, not a substring.
func similarToPattern(pat string) string {
	var b strings.Builder
	b.WriteString("^(")
	runes := []rune(pat)
	for i, r := range runes {
		escaped := i > 0 && runes[i-1] == '\\'
		switch r {
		case '.', '^', '$':
			if !escaped {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		case '%':
			if escaped {
				b.WriteRune(r)
			} else {
				b.WriteString(".*")
			}
		case '_':
			if escaped {
				b.WriteRune(r)
			} else {
				b.WriteByte('.')
			}
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString(")$")
	return b.String()
}

// likeMatch implements SQL LIKE matching: '%' matches any run of
// characters (including none), '_' matches exactly one.
func likeMatch(s, pat []rune) bool {
	if len(pat) == 0 {
		return len(s) == 0
	}
	switch pat[0] {
	case '%':
		for i := 0; i <= len(s); i++ {
			if likeMatch(s[i:], pat[1:]) {
				return true
			}
		}
		return false
	case '_':
		if len(s) == 0 {
			return false
		}
		return likeMatch(s[1:], pat[1:])
	default:
		if len(s) == 0 || s[0] != pat[0] {
			return false
		}
		return likeMatch(s[1:], pat[1:])
	}
}

func (ex *Executor) extractAtom(a, b values.Atom, out values.Code) (values.Atom, error) {
	field, err := ex.symString(a)
	if err != nil {
		return values.Atom{}, err
	}
	return Extract(field, out, b)
}

func (ex *Executor) dateTruncAtom(a, b values.Atom) (values.Atom, error) {
	unit, err := ex.symString(a)
	if err != nil {
		return values.Atom{}, err
	}
	return DateTrunc(unit, b)
}

func (ex *Executor) dateDiffAtom(unit, a, b values.Atom) (values.Atom, error) {
	u, err := ex.symString(unit)
	if err != nil {
		return values.Atom{}, err
	}
	return DateDiff(u, a, b)
}

// dateAddAtom implements DATE_ADD(ts, 'duration')/DATE_SUB(ts, 'duration'),
// a calendar-aware offset distinct from adding a fixed number of
// microseconds: a month or year has a variable length in days, so the
// offset goes through date.Duration's Year/Month/Day arithmetic
// (date/duration.go) rather than fastdate's fixed-width Timestamp math.
// sign is -1 for DATE_SUB, 1 for DATE_ADD.
func (ex *Executor) dateAddAtom(a, b values.Atom, sign int) (values.Atom, error) {
	durStr, err := ex.symString(b)
	if err != nil {
		return values.Atom{}, err
	}
	dur, ok := date.ParseDuration(durStr)
	if !ok {
		return values.Atom{}, verr.Newf(verr.InvalidInput, "exec.dateAddAtom", "invalid duration %q", durStr)
	}
	if sign < 0 {
		dur.Year, dur.Month, dur.Day = -dur.Year, -dur.Month, -dur.Day
	}
	us := a.Timestamp()
	t := date.UnixMicro(us)
	out := dur.Add(t)
	return values.NewTimestampAtom(out.UnixMicro()), nil
}

func roundAtom(a, b values.Atom) (values.Atom, error) {
	x := a.AsF64()
	scale := math.Pow(10, float64(b.I64()))
	return values.NewF64Atom(math.Round(x*scale) / scale), nil
}

// substr2Atom implements the 2-argument SUBSTR(s, start) form: start to
// end of string. substr3Atom adds an explicit length. Both follow SQL's
// 1-based start convention, clamping an out-of-range start to the
// nearest valid boundary rather than erroring.
func (ex *Executor) substr2Atom(a, b values.Atom) (values.Atom, error) {
	s, err := ex.symString(a)
	if err != nil {
		return values.Atom{}, err
	}
	r := []rune(s)
	start := clampSubstrStart(int(b.I64()), len(r))
	return values.NewSymAtom(ex.Symbols.Intern(string(r[start:]))), nil
}

func (ex *Executor) substr3Atom(a, b, c values.Atom) (values.Atom, error) {
	s, err := ex.symString(a)
	if err != nil {
		return values.Atom{}, err
	}
	r := []rune(s)
	start := clampSubstrStart(int(b.I64()), len(r))
	length := int(c.I64())
	if length < 0 {
		length = 0
	}
	end := start + length
	if end > len(r) {
		end = len(r)
	}
	return values.NewSymAtom(ex.Symbols.Intern(string(r[start:end]))), nil
}

func clampSubstrStart(start, n int) int {
	start--
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	return start
}

func (ex *Executor) replaceAtom(a, b, c values.Atom) (values.Atom, error) {
	s, err := ex.symString(a)
	if err != nil {
		return values.Atom{}, err
	}
	from, err := ex.symString(b)
	if err != nil {
		return values.Atom{}, err
	}
	to, err := ex.symString(c)
	if err != nil {
		return values.Atom{}, err
	}
	return values.NewSymAtom(ex.Symbols.Intern(strings.ReplaceAll(s, from, to))), nil
}

// castAtom implements CAST(expr AS target), supporting the conversions
// among I64/F64/Bool/Sym that spec.md section 6's scalar function
// library names; a SYM source is parsed textually, and any target is
// reachable from a SYM source by the inverse stringify path.
func (ex *Executor) castAtom(out values.Code, a values.Atom) (values.Atom, error) {
	switch out.Base() {
	case values.I64:
		switch a.Code().Base() {
		case values.I64:
			return a, nil
		case values.F64:
			return values.NewI64Atom(int64(a.F64())), nil
		case values.Bool:
			if a.Bool() {
				return values.NewI64Atom(1), nil
			}
			return values.NewI64Atom(0), nil
		case values.Sym:
			s, err := ex.symString(a)
			if err != nil {
				return values.Atom{}, err
			}
			v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return values.Atom{}, verr.Wrap(verr.InvalidInput, "exec.castAtom", err)
			}
			return values.NewI64Atom(v), nil
		}
	case values.F64:
		switch a.Code().Base() {
		case values.F64:
			return a, nil
		case values.I64:
			return values.NewF64Atom(float64(a.I64())), nil
		case values.Sym:
			s, err := ex.symString(a)
			if err != nil {
				return values.Atom{}, err
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return values.Atom{}, verr.Wrap(verr.InvalidInput, "exec.castAtom", err)
			}
			return values.NewF64Atom(v), nil
		}
	case values.Bool:
		switch a.Code().Base() {
		case values.Bool:
			return a, nil
		case values.I64:
			return values.NewBoolAtom(a.I64() != 0), nil
		case values.Sym:
			s, err := ex.symString(a)
			if err != nil {
				return values.Atom{}, err
			}
			v, err := strconv.ParseBool(strings.TrimSpace(s))
			if err != nil {
				return values.Atom{}, verr.Wrap(verr.InvalidInput, "exec.castAtom", err)
			}
			return values.NewBoolAtom(v), nil
		}
	case values.Sym:
		s, err := ex.atomString(a)
		if err != nil {
			return values.Atom{}, err
		}
		return values.NewSymAtom(ex.Symbols.Intern(s)), nil
	}
	return values.Atom{}, verr.Newf(verr.TypeMismatch, "exec.castAtom", "unsupported CAST from %v to %v", a.Code(), out)
}

// tsOf widens any of the three temporal codes to a fastdate.Timestamp
// (microseconds since the Unix epoch), matching the storage convention
// spec.md section 3 assigns to TIMESTAMP and which DATE/TIME collapse
// to trivially (days*microsecondsPerDay, and micros-since-midnight
// respectively, both already in the TIMESTAMP epoch's units).
func tsOf(a values.Atom) (fastdate.Timestamp, error) {
	switch a.Code().Base() {
	case values.Timestamp:
		return fastdate.Timestamp(a.Timestamp()), nil
	case values.Date:
		return fastdate.Timestamp(int64(a.Date()) * int64(epochDay/time.Microsecond)), nil
	case values.Time:
		return fastdate.Timestamp(a.Time()), nil
	default:
		return 0, verr.Newf(verr.TypeMismatch, "exec.tsOf", "expected a temporal operand, got %v", a.Code())
	}
}

// Extract implements EXTRACT(field FROM ts); field is one of
// year/quarter/month/day/hour/minute/second/dow/doy. The field
// decomposition itself is fastdate's (fastdate/fastdate.go), the
// teacher's civil-calendar arithmetic package, rather than a
// time.Time round-trip through the standard library.
func Extract(field string, out values.Code, a values.Atom) (values.Atom, error) {
	if a.IsNull() {
		return values.NullAtom(values.I64), nil
	}
	ts, err := tsOf(a)
	if err != nil {
		return values.Atom{}, verr.Wrap(verr.TypeMismatch, "exec.Extract", err)
	}
	switch strings.ToLower(field) {
	case "year":
		return values.NewI64Atom(int64(ts.ExtractYear())), nil
	case "quarter":
		return values.NewI64Atom(int64(ts.ExtractQuarter())), nil
	case "month":
		return values.NewI64Atom(int64(ts.ExtractMonth())), nil
	case "day":
		return values.NewI64Atom(int64(ts.ExtractDay())), nil
	case "hour":
		return values.NewI64Atom(int64(ts.ExtractHour())), nil
	case "minute":
		return values.NewI64Atom(int64(ts.ExtractMinute())), nil
	case "second":
		return values.NewI64Atom(int64(ts.ExtractSecond())), nil
	case "dow":
		return values.NewI64Atom(int64(ts.ExtractDOW())), nil
	case "doy":
		return values.NewI64Atom(int64(ts.ExtractDOY())), nil
	default:
		return values.Atom{}, verr.Newf(verr.InvalidInput, "exec.Extract", "unsupported EXTRACT field %q", field)
	}
}

// DateTrunc implements DATE_TRUNC(unit, ts), via fastdate's Trunc*
// family.
func DateTrunc(unit string, a values.Atom) (values.Atom, error) {
	if a.IsNull() {
		return values.NullAtom(a.Code().Base()), nil
	}
	if a.Code().Base() != values.Timestamp {
		return values.Atom{}, verr.Newf(verr.TypeMismatch, "exec.DateTrunc", "DATE_TRUNC requires a TIMESTAMP operand")
	}
	ts := fastdate.Timestamp(a.Timestamp())
	var trunc fastdate.Timestamp
	switch strings.ToLower(unit) {
	case "year":
		trunc = ts.TruncYear()
	case "quarter":
		trunc = ts.TruncQuarter()
	case "month":
		trunc = ts.TruncMonth()
	case "day":
		trunc = ts.TruncDay()
	case "hour":
		trunc = ts.TruncHour()
	case "minute":
		trunc = ts.TruncMinute()
	case "second":
		trunc = ts.TruncSecond()
	default:
		return values.Atom{}, verr.Newf(verr.InvalidInput, "exec.DateTrunc", "unsupported DATE_TRUNC unit %q", unit)
	}
	return values.NewTimestampAtom(int64(trunc)), nil
}

// DateDiff implements DATE_DIFF(unit, a, b) as b-a in unit's scale.
// day/hour/minute/second stay on plain microsecond-delta arithmetic;
// month/year go through fastdate.DateDiffMonth, which accounts for
// partial months/years the way a flat division of microsecond deltas
// cannot.
func DateDiff(unit string, a, b values.Atom) (values.Atom, error) {
	if a.IsNull() || b.IsNull() {
		return values.NullAtom(values.I64), nil
	}
	ta := fastdate.Timestamp(a.Timestamp())
	tb := fastdate.Timestamp(b.Timestamp())
	delta := time.Duration(int64(tb)-int64(ta)) * time.Microsecond
	switch strings.ToLower(unit) {
	case "day":
		return values.NewI64Atom(int64(delta / epochDay)), nil
	case "hour":
		return values.NewI64Atom(int64(delta / time.Hour)), nil
	case "minute":
		return values.NewI64Atom(int64(delta / time.Minute)), nil
	case "second":
		return values.NewI64Atom(int64(delta / time.Second)), nil
	case "month":
		return values.NewI64Atom(ta.DateDiffMonth(tb)), nil
	case "year":
		return values.NewI64Atom(ta.DateDiffMonth(tb) / 12), nil
	default:
		return values.Atom{}, verr.Newf(verr.InvalidInput, "exec.DateDiff", "unsupported DATE_DIFF unit %q", unit)
	}
}

