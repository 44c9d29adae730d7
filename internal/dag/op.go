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

// Package dag implements the lazy operator graph (OG) from spec.md
// section 4.4: an append-only array of small operator nodes, plus a
// sidecar array of extended records for operators whose operands don't
// fit a node's fixed two input slots (GROUP, SORT, JOIN, WINDOW).
//
// The opcode numbering follows the same "generated enum" shape as
// vm/ops_gen.go's bcop constants, grouped by category to match
// spec.md's taxonomy: sources, fuseable element-wise ops, reductions,
// and structural (pipeline-breaking) ops.
package dag

// Op identifies a single operator node's behavior.
type Op uint16

const (
	// sources
	OpScan Op = iota
	OpConstBool
	OpConstI64
	OpConstF64
	OpConstSym
	OpConstNull

	// fuseable unary element-wise
	OpNeg
	OpNot
	OpAbs
	OpCeil
	OpFloor
	OpSqrt
	OpLn
	OpLog
	OpExp
	OpUpper
	OpLower
	OpLength
	OpTrim
	OpBTrim
	OpIsNull
	OpIsNotNull
	OpExtract
	OpDateTrunc
	OpCast

	// fuseable binary/n-ary element-wise
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpLike
	OpILike
	OpSimilarTo
	OpRegexMatch
	OpRegexMatchCi
	OpBetween
	OpConcat
	OpSubstr
	OpReplace
	OpCoalesce
	OpNullIf
	OpLeast
	OpGreatest
	OpRound
	OpDateDiff
	OpDateAdd
	OpDateSub
	OpIf // ternary: (cond, then, else)

	// reductions (emitted as part of an extended GROUP node's agg list,
	// but also usable as a bare whole-table reduction)
	OpSum
	OpProd
	OpMin
	OpMax
	OpCount
	OpCountStar
	OpAvg
	OpFirst
	OpLast
	OpCountDistinct
	OpStddev
	OpStddevPop
	OpVariance
	OpVariancePop
	OpApproxPercentile

	// structural / pipeline-breaking
	OpFilter
	OpSort
	OpGroup
	OpDistinct
	OpJoin
	OpProject
	OpSelect
	OpHead
	OpTail
	OpWindow
	OpAlias
	OpMaterialize
	OpCrossJoin
	OpUnion
	OpIntersect
	OpExcept
)

// IsFuseable reports whether op is an element-wise kernel the optimizer
// may fold into a fused chain (spec.md section 4.5 pass 1).
func (op Op) IsFuseable() bool {
	return op >= OpNeg && op <= OpIf
}

// IsReduction reports whether op is one of the aggregate kernels listed
// in spec.md section 4.4.
func (op Op) IsReduction() bool {
	return op >= OpSum && op <= OpVariancePop
}

// IsStructural reports whether op is a pipeline-breaking structural
// operator.
func (op Op) IsStructural() bool {
	return op >= OpFilter
}

// HasExt reports whether op requires an entry in the graph's extended
// (sidecar) node array because its operands don't fit in two input
// slots, per spec.md Invariant G2.
func (op Op) HasExt() bool {
	switch op {
	case OpGroup, OpSort, OpJoin, OpWindow, OpCrossJoin:
		return true
	default:
		return false
	}
}

func (op Op) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return "Op(?)"
}

var opNames = map[Op]string{
	OpScan: "SCAN", OpConstBool: "CONST_BOOL", OpConstI64: "CONST_I64",
	OpConstF64: "CONST_F64", OpConstSym: "CONST_SYM", OpConstNull: "CONST_NULL",
	OpNeg: "NEG", OpNot: "NOT", OpAbs: "ABS", OpCeil: "CEIL", OpFloor: "FLOOR",
	OpSqrt: "SQRT", OpLn: "LN", OpLog: "LOG", OpExp: "EXP", OpUpper: "UPPER",
	OpLower: "LOWER", OpLength: "LENGTH", OpTrim: "TRIM", OpBTrim: "BTRIM",
	OpIsNull: "IS_NULL", OpIsNotNull: "IS_NOT_NULL", OpExtract: "EXTRACT",
	OpDateTrunc: "DATE_TRUNC", OpCast: "CAST",
	OpAdd: "ADD", OpSub: "SUB", OpMul: "MUL", OpDiv: "DIV", OpMod: "MOD",
	OpEq: "EQ", OpNe: "NE", OpLt: "LT", OpLe: "LE", OpGt: "GT", OpGe: "GE",
	OpAnd: "AND", OpOr: "OR", OpLike: "LIKE", OpILike: "ILIKE",
	OpSimilarTo: "SIMILAR_TO", OpRegexMatch: "REGEX_MATCH", OpRegexMatchCi: "REGEX_MATCH_CI",
	OpBetween: "BETWEEN", OpConcat: "CONCAT", OpSubstr: "SUBSTR",
	OpReplace: "REPLACE", OpCoalesce: "COALESCE", OpNullIf: "NULLIF",
	OpLeast: "LEAST", OpGreatest: "GREATEST", OpRound: "ROUND",
	OpDateDiff: "DATE_DIFF", OpDateAdd: "DATE_ADD", OpDateSub: "DATE_SUB", OpIf: "IF",
	OpSum: "SUM", OpProd: "PROD", OpMin: "MIN", OpMax: "MAX", OpCount: "COUNT",
	OpCountStar: "COUNT_STAR", OpAvg: "AVG", OpFirst: "FIRST", OpLast: "LAST",
	OpCountDistinct: "COUNT_DISTINCT", OpStddev: "STDDEV", OpStddevPop: "STDDEV_POP",
	OpVariance: "VARIANCE", OpVariancePop: "VARIANCE_POP",
	OpFilter: "FILTER", OpSort: "SORT", OpGroup: "GROUP", OpDistinct: "DISTINCT",
	OpJoin: "JOIN", OpProject: "PROJECT", OpSelect: "SELECT", OpHead: "HEAD",
	OpTail: "TAIL", OpWindow: "WINDOW", OpAlias: "ALIAS", OpMaterialize: "MATERIALIZE",
	OpCrossJoin: "CROSS_JOIN", OpUnion: "UNION", OpIntersect: "INTERSECT", OpExcept: "EXCEPT",
}
