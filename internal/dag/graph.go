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

package dag

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/vellumdb/vellum/internal/symtab"
	"github.com/vellumdb/vellum/internal/values"
)

// Flags carries the per-node attribute bits a small C header would
// pack next to the opcode: dead-code marking and the fusion outcomes
// from spec.md section 4.5.
type Flags uint16

const (
	FlagDead Flags = 1 << iota
	FlagHeadFilterFused
	FlagHeadGroupFused
	FlagHeadSortFused
	FlagHavingFused
	FlagSelectionPushed
	FlagFused
)

// ID identifies a node by its position in a Graph's Nodes slice.
type ID int32

const noInput ID = -1

// Node is the fixed-size operator record from spec.md section 4.4:
// {opcode, arity, flags, out_type, id, est_rows, inputs[2]}. Operators
// needing more than two operands store an index into Graph.Ext instead.
type Node struct {
	Op      Op
	Arity   uint8
	Flags   Flags
	OutType values.Code
	ID      ID
	EstRows int64
	Inputs  [2]ID // noInput when unused

	// Const carries the literal payload for CONST_* nodes.
	Const values.Atom
	// ColName carries the source column name for SCAN nodes (resolved
	// to a symtab.ID by the planner before the node is built).
	ColName symtab.ID

	// ExtIdx indexes Graph.Ext for operators where Op.HasExt() is true;
	// -1 otherwise. This is Invariant G2's "index handle into a pinned
	// side array."
	ExtIdx int32

	// SourceIdx selects which of the graph's bound tables a node with
	// Inputs[0] == noInput reads from: 0 is Graph.Source, >=1 indexes
	// Graph.Extra[SourceIdx-1]. Only meaningful for PROJECT/SCAN nodes
	// at the base of a pipeline; every other node inherits its source
	// transitively through its own inputs. This is what lets a JOIN's
	// two sides each scan a different FROM-clause table within one
	// Graph, per spec.md section 4.8's multi-table FROM.
	SourceIdx int32
}

// AggSpec names a single aggregate computed by a GROUP node: its
// reduction op, the node whose output feeds it, an output alias, and
// (for a FILTER-rewritten aggregate per spec.md section 4.8) whether
// its input expression already encodes the FILTER (WHERE ...) rewrite.
type AggSpec struct {
	Op    Op
	Input ID
	Alias string
	// Frac is the target fraction for OpApproxPercentile (e.g. 0.95 for
	// the 95th percentile); unused by every other op.
	Frac float64
}

// GroupExt is the extended record for an OpGroup node.
type GroupExt struct {
	Keys       []ID
	KeyAliases []string // output column name for each Keys entry
	Aggs       []AggSpec
	HeadLimit  int // -1 if no HEAD/GROUP fusion (spec.md section 4.5 pass 4)
	Having     ID  // noInput if no HAVING fusion (spec.md section 4.5 pass 6)
}

// SortKey is one ORDER BY key: the node producing the key's value, and
// its direction/null-placement.
type SortKey struct {
	Node       ID
	Desc       bool
	NullsFirst bool
}

// SortExt is the extended record for an OpSort node.
type SortExt struct {
	Keys []SortKey
}

// JoinKind enumerates the supported join types, per spec.md section
// 4.7's JOIN stage algorithm.
type JoinKind uint8

const (
	JoinInner JoinKind = iota
	JoinLeftOuter
	JoinRightOuter
	JoinFullOuter
	JoinCross
)

func (k JoinKind) String() string {
	switch k {
	case JoinInner:
		return "inner"
	case JoinLeftOuter:
		return "left-outer"
	case JoinRightOuter:
		return "right-outer"
	case JoinFullOuter:
		return "full-outer"
	case JoinCross:
		return "cross"
	default:
		return "?"
	}
}

// JoinExt is the extended record for an OpJoin node. LeftKeys/RightKeys
// are equi-join key node lists, one per conjunct, per spec.md section
// 4.8's restriction to equi-join ON clauses.
type JoinExt struct {
	Kind      JoinKind
	Left      ID
	Right     ID
	LeftKeys  []ID
	RightKeys []ID
}

// FrameType distinguishes ROWS and RANGE window frames.
type FrameType uint8

const (
	FrameRows FrameType = iota
	FrameRange
)

// FrameBound describes one edge of a window frame.
type FrameBound struct {
	Unbounded bool
	Current   bool
	Offset    int64 // valid when !Unbounded && !Current
	Preceding bool  // false means FOLLOWING
}

// WindowFunc is one function computed by a WINDOW node.
type WindowFunc struct {
	Op     Op // reuses OpSum/OpCount/... for aggregate windows, plus
	         // the window-only ops declared in window.go
	Input  ID
	Offset int64 // for LAG/LEAD
	N      int64 // for NTILE/NTH_VALUE
	Alias  string
}

// WindowExt is the extended record for an OpWindow node.
type WindowExt struct {
	PartKeys  []ID
	OrderKeys []SortKey
	Funcs     []WindowFunc
	Frame     FrameType
	Start     FrameBound
	End       FrameBound
}

// Graph is a DAG bound to one or more source tables at construction,
// per spec.md section 4.4. Nodes are append-only; Invariant G1
// (acyclicity) is enforced at append time by requiring every input ID
// to already exist. A query that joins several FROM-clause tables
// binds each one with AddSource and references it from its own
// PROJECT node via SourceIdx, rather than needing a separate Graph per
// side: JOIN's Left/Right are just ordinary node ids within the same
// Graph.
type Graph struct {
	Source    *values.Table
	Extra     []*values.Table
	Nodes     []Node
	Ext       []any // *GroupExt | *SortExt | *JoinExt | *WindowExt
	Selection ID    // noInput if no selection mask attached
}

// NewGraph binds a fresh, empty graph to src as source index 0. The
// caller retains ownership of src; the graph does not release it (per
// spec.md: "a DAG ... must outlive any Column handle that references
// its nodes," not the reverse).
func NewGraph(src *values.Table) *Graph {
	return &Graph{Source: src, Selection: noInput}
}

// AddSource binds an additional FROM-clause table to the graph and
// returns the SourceIdx a PROJECT/SCAN node should use to read from it.
// The first call after NewGraph(nil) fills Source itself (index 0);
// subsequent calls append to Extra.
func (g *Graph) AddSource(t *values.Table) int32 {
	if g.Source == nil {
		g.Source = t
		return 0
	}
	g.Extra = append(g.Extra, t)
	return int32(len(g.Extra))
}

// SourceAt resolves a SourceIdx to its bound table.
func (g *Graph) SourceAt(idx int32) *values.Table {
	if idx == 0 {
		return g.Source
	}
	return g.Extra[idx-1]
}

// add appends a node, validating Invariant G1 (every input strictly
// precedes the new node).
func (g *Graph) add(n Node) ID {
	id := ID(len(g.Nodes))
	for _, in := range n.Inputs {
		if in != noInput && in >= id {
			panic(fmt.Sprintf("dag: Invariant G1 violated: node %d references input %d", id, in))
		}
	}
	n.ID = id
	n.ExtIdx = -1
	g.Nodes = append(g.Nodes, n)
	return id
}

// Scan appends a SCAN node reading the named source column.
func (g *Graph) Scan(colName symtab.ID, typ values.Code) ID {
	return g.add(Node{Op: OpScan, Arity: 0, OutType: typ, ColName: colName, Inputs: [2]ID{noInput, noInput}})
}

// Const appends a CONST_* node for a literal value.
func (g *Graph) Const(a values.Atom) ID {
	var op Op
	switch a.Code().Base() {
	case values.Bool:
		op = OpConstBool
	case values.F64:
		op = OpConstF64
	case values.Sym:
		op = OpConstSym
	default:
		op = OpConstI64
	}
	if a.IsNull() {
		op = OpConstNull
	}
	return g.add(Node{Op: op, Arity: 0, OutType: a.Code().Base(), Const: a, Inputs: [2]ID{noInput, noInput}})
}

// Unary appends a fuseable unary node.
func (g *Graph) Unary(op Op, in ID, out values.Code) ID {
	return g.add(Node{Op: op, Arity: 1, OutType: out, Inputs: [2]ID{in, noInput}})
}

// Binary appends a fuseable binary node.
func (g *Graph) Binary(op Op, a, b ID, out values.Code) ID {
	return g.add(Node{Op: op, Arity: 2, OutType: out, Inputs: [2]ID{a, b}})
}

// Ternary appends OpIf, whose third operand (the "else" branch) is
// threaded through the extended array since Node only has two input
// slots; we reuse GroupExt's Keys field shape for a plain []ID list to
// avoid a fourth extended-record type for a single operator.
func (g *Graph) Ternary(op Op, cond, then, els ID, out values.Code) ID {
	idx := len(g.Ext)
	g.Ext = append(g.Ext, []ID{els})
	id := g.add(Node{Op: op, Arity: 3, OutType: out, Inputs: [2]ID{cond, then}})
	g.Nodes[id].ExtIdx = int32(idx)
	return id
}

// Else returns the third operand of an OpIf node built via Ternary.
func (g *Graph) Else(n ID) ID {
	return g.Ext[g.Nodes[n].ExtIdx].([]ID)[0]
}

// Filter appends an OpFilter node.
func (g *Graph) Filter(input, pred ID) ID {
	return g.add(Node{Op: OpFilter, Arity: 2, OutType: values.TableCode, Inputs: [2]ID{input, pred}})
}

// Head/Tail append zero-copy-eligible limit nodes; n is stashed in
// EstRows since HEAD/TAIL take no other operand.
func (g *Graph) Head(input ID, n int64) ID {
	return g.add(Node{Op: OpHead, Arity: 1, OutType: values.TableCode, EstRows: n, Inputs: [2]ID{input, noInput}})
}

func (g *Graph) Tail(input ID, n int64) ID {
	return g.add(Node{Op: OpTail, Arity: 1, OutType: values.TableCode, EstRows: n, Inputs: [2]ID{input, noInput}})
}

// Group appends an OpGroup node with its extended record. It panics if
// ext.Keys repeats the same key node twice, the same soundness the
// planner's canonical-alias de-duplication relies on upstream.
func (g *Graph) Group(input ID, ext *GroupExt) ID {
	if ext.HeadLimit == 0 {
		ext.HeadLimit = -1
	}
	if ext.Having == 0 {
		ext.Having = noInput
	}
	for i, k := range ext.Keys {
		if slices.Contains(ext.Keys[:i], k) {
			panic(fmt.Sprintf("dag: Group: duplicate key node %d", k))
		}
	}
	idx := len(g.Ext)
	g.Ext = append(g.Ext, ext)
	id := g.add(Node{Op: OpGroup, Arity: 1, OutType: values.TableCode, Inputs: [2]ID{input, noInput}})
	g.Nodes[id].ExtIdx = int32(idx)
	return id
}

// Sort appends an OpSort node with its extended record.
func (g *Graph) Sort(input ID, ext *SortExt) ID {
	idx := len(g.Ext)
	g.Ext = append(g.Ext, ext)
	id := g.add(Node{Op: OpSort, Arity: 1, OutType: values.TableCode, Inputs: [2]ID{input, noInput}})
	g.Nodes[id].ExtIdx = int32(idx)
	return id
}

// Join appends an OpJoin (or OpCrossJoin) node with its extended record.
func (g *Graph) Join(ext *JoinExt) ID {
	op := OpJoin
	if ext.Kind == JoinCross {
		op = OpCrossJoin
	}
	idx := len(g.Ext)
	g.Ext = append(g.Ext, ext)
	id := g.add(Node{Op: op, Arity: 2, OutType: values.TableCode, Inputs: [2]ID{ext.Left, ext.Right}})
	g.Nodes[id].ExtIdx = int32(idx)
	return id
}

// Window appends an OpWindow node with its extended record.
func (g *Graph) Window(input ID, ext *WindowExt) ID {
	idx := len(g.Ext)
	g.Ext = append(g.Ext, ext)
	id := g.add(Node{Op: OpWindow, Arity: 1, OutType: values.TableCode, Inputs: [2]ID{input, noInput}})
	g.Nodes[id].ExtIdx = int32(idx)
	return id
}

// GroupExtOf, SortExtOf, JoinExtOf, WindowExtOf fetch the typed
// extended record for a node, panicking if the node is of the wrong
// kind -- callers always check n.Op first.
func (g *Graph) GroupExtOf(n ID) *GroupExt   { return g.Ext[g.Nodes[n].ExtIdx].(*GroupExt) }
func (g *Graph) SortExtOf(n ID) *SortExt     { return g.Ext[g.Nodes[n].ExtIdx].(*SortExt) }
func (g *Graph) JoinExtOf(n ID) *JoinExt     { return g.Ext[g.Nodes[n].ExtIdx].(*JoinExt) }
func (g *Graph) WindowExtOf(n ID) *WindowExt { return g.Ext[g.Nodes[n].ExtIdx].(*WindowExt) }

// Project/Select/Distinct/Alias/Materialize append the remaining
// structural nodes; their operand lists live in Ext as []ID when they
// need more than the two built-in input slots (Project's output list).
type ProjectExt struct {
	Cols    []ID
	Aliases []string
}

func (g *Graph) Project(input ID, ext *ProjectExt) ID {
	return g.projectFrom(input, 0, ext)
}

// ProjectSource appends a base PROJECT node reading directly from
// sourceIdx (Inputs[0] == noInput), the shape a JOIN/multi-table FROM
// uses for "scan this whole FROM-clause table."
func (g *Graph) ProjectSource(sourceIdx int32, ext *ProjectExt) ID {
	return g.projectFrom(noInput, sourceIdx, ext)
}

func (g *Graph) projectFrom(input ID, sourceIdx int32, ext *ProjectExt) ID {
	idx := len(g.Ext)
	g.Ext = append(g.Ext, ext)
	id := g.add(Node{Op: OpProject, Arity: 1, OutType: values.TableCode, Inputs: [2]ID{input, noInput}, SourceIdx: sourceIdx})
	g.Nodes[id].ExtIdx = int32(idx)
	return id
}

func (g *Graph) ProjectExtOf(n ID) *ProjectExt { return g.Ext[g.Nodes[n].ExtIdx].(*ProjectExt) }

// SelectExt is the extended record for an OpSelect node: a pass-through
// column-index trim used to drop the hidden ORDER BY source columns an
// intermediate projection carried, per spec.md section 4.8's "carried
// as hidden columns ... and trimmed before returning."
type SelectExt struct {
	Keep []int // indices into the input table's columns, in output order
}

func (g *Graph) Select(input ID, keep []int) ID {
	idx := len(g.Ext)
	g.Ext = append(g.Ext, &SelectExt{Keep: keep})
	id := g.add(Node{Op: OpSelect, Arity: 1, OutType: values.TableCode, Inputs: [2]ID{input, noInput}})
	g.Nodes[id].ExtIdx = int32(idx)
	return id
}

func (g *Graph) SelectExtOf(n ID) *SelectExt { return g.Ext[g.Nodes[n].ExtIdx].(*SelectExt) }

// AliasExt is the extended record for an OpAlias node: a pure rename of
// an input table's columns, used for derived-table aliasing (spec.md
// section 4.8's "derived (SELECT ...) -> recursive plan then
// column-rename").
type AliasExt struct {
	Names []symtab.ID
}

func (g *Graph) Alias(input ID, names []symtab.ID) ID {
	idx := len(g.Ext)
	g.Ext = append(g.Ext, &AliasExt{Names: names})
	id := g.add(Node{Op: OpAlias, Arity: 1, OutType: values.TableCode, Inputs: [2]ID{input, noInput}})
	g.Nodes[id].ExtIdx = int32(idx)
	return id
}

// Dump renders root and everything it transitively depends on as one
// line per node, in topological (construction) order, for EXPLAIN
// output. It never touches live data -- the same "purely symbolic"
// property plan.Planner relies on while building the graph.
func (g *Graph) Dump(root ID) string {
	var b strings.Builder
	reachable := make(map[ID]bool)
	var mark func(ID)
	mark = func(id ID) {
		if id == noInput || reachable[id] {
			return
		}
		reachable[id] = true
		n := g.Nodes[id]
		for _, in := range n.Inputs {
			mark(in)
		}
	}
	mark(root)
	for id, n := range g.Nodes {
		if !reachable[ID(id)] {
			continue
		}
		fmt.Fprintf(&b, "%3d: %-12s type=%-8s", id, n.Op, n.OutType)
		var ins []string
		for _, in := range n.Inputs {
			if in != noInput {
				ins = append(ins, fmt.Sprintf("%d", in))
			}
		}
		if len(ins) > 0 {
			fmt.Fprintf(&b, " <- %s", strings.Join(ins, ","))
		}
		if n.Op == OpScan {
			fmt.Fprintf(&b, " col=%d", n.ColName)
		}
		if ID(id) == root {
			b.WriteString("  (root)")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func (g *Graph) AliasExtOf(n ID) *AliasExt { return g.Ext[g.Nodes[n].ExtIdx].(*AliasExt) }

func (g *Graph) Distinct(input ID) ID {
	return g.add(Node{Op: OpDistinct, Arity: 1, OutType: values.TableCode, Inputs: [2]ID{input, noInput}})
}

// SetOp appends UNION/INTERSECT/EXCEPT; `all` is carried via Flags so
// the executor's set-op stage knows whether to dedupe.
const FlagSetOpAll Flags = 1 << 15

func (g *Graph) SetOp(op Op, left, right ID, all bool) ID {
	n := Node{Op: op, Arity: 2, OutType: values.TableCode, Inputs: [2]ID{left, right}}
	if all {
		n.Flags |= FlagSetOpAll
	}
	return g.add(n)
}

// Materialize marks a node as a pipeline-breaking barrier even when its
// operator would otherwise stream, used by the planner when a result
// must be fully realized before a later stage reuses it twice (e.g. a
// CTE referenced more than once).
func (g *Graph) Materialize(input ID) ID {
	return g.add(Node{Op: OpMaterialize, Arity: 1, OutType: values.TableCode, Inputs: [2]ID{input, noInput}})
}

// Root is a convenience for "the last-appended node," which is the
// common case for a planner building a single linear pipeline.
func (g *Graph) Root() ID {
	if len(g.Nodes) == 0 {
		return noInput
	}
	return ID(len(g.Nodes) - 1)
}

// AttachSelection records a boolean-mask node id to be propagated into
// scans by the optimizer's selection-propagation pass (spec.md section
// 4.5 pass 7).
func (g *Graph) AttachSelection(mask ID) { g.Selection = mask }

// Dead marks n unreachable so the executor can skip it, per spec.md
// section 4.5 pass 8 (dead-code elimination).
func (g *Graph) Dead(n ID) { g.Nodes[n].Flags |= FlagDead }

func (g *Graph) IsDead(n ID) bool { return g.Nodes[n].Flags&FlagDead != 0 }
