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

// Package optimize implements the fixed sequence of graph-to-graph
// rewrite passes from spec.md section 4.5 (OP). Each pass receives the
// root of the portion of the graph it cares about and returns a
// (possibly different) root; passes append new nodes, set flags
// (including Dead), and fill in fusion fields of existing nodes in
// place (GROUP's HeadLimit and Having, SORT's EstRows), but never
// remove a node.
//
// The pass sequencing mirrors plan/pir's Trace.optimize: a short list of
// named single-purpose functions called in a fixed order from one
// driver (plan/pir/optimize.go).
package optimize

import (
	"golang.org/x/exp/slices"

	"github.com/vellumdb/vellum/internal/dag"
)

// Optimize runs every pass in spec.md section 4.5's order and returns
// the (possibly rewritten) root node id to execute.
func Optimize(g *dag.Graph, root dag.ID) dag.ID {
	root = fuseElementwise(g, root)
	root = predicatePushThroughProject(g, root)
	root = headFilterFusion(g, root)
	root = headGroupFusion(g, root)
	root = headSortFusion(g, root)
	root = havingFusion(g, root)
	propagateSelection(g, root)
	deadCodeElim(g, root)
	return root
}

// fuseElementwise sets FlagFused on every fuseable unary/binary/ternary
// operator that has a fuseable input. It does not rewrite the graph,
// and no executor stage reads the flag: the executor's element-wise
// evaluator (internal/exec/elementwise.go) recurses through the chain
// and computes each operand as a full-length vector before applying
// the operator above it. Session.Explain dumps the graph without
// running Optimize, so the flag does not appear in its output.
func fuseElementwise(g *dag.Graph, root dag.ID) dag.ID {
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if !n.Op.IsFuseable() {
			continue
		}
		fused := false
		for _, in := range n.Inputs {
			if in == dag.ID(-1) || int(in) >= len(g.Nodes) {
				continue
			}
			if g.Nodes[in].Op.IsFuseable() {
				fused = true
			}
		}
		if fused {
			n.Flags |= dag.FlagFused
		}
	}
	return root
}

// predicatePushThroughProject rewrites FILTER(PROJECT(x, cols), pred)
// into PROJECT(FILTER(x, pred), cols) when every output column of
// PROJECT is a plain column reference (not a computed expression), see
// predicateOnlyReferencesPassthroughCols -- the one direction of spec.md pass 2
// that is always safe, since pushing a filter below a HEAD or SORT
// would change which rows survive and is therefore never applied here.
func predicatePushThroughProject(g *dag.Graph, root dag.ID) dag.ID {
	if root == dag.ID(-1) {
		return root
	}
	n := g.Nodes[root]
	if n.Op != dag.OpFilter {
		return root
	}
	inputID := n.Inputs[0]
	input := g.Nodes[inputID]
	if input.Op != dag.OpProject {
		return root
	}
	ext := g.ProjectExtOf(inputID)
	predID := n.Inputs[1]
	if !predicateOnlyReferencesPassthroughCols(g, predID, ext) {
		return root
	}
	newFilter := g.Filter(input.Inputs[0], predID)
	newProject := g.Project(newFilter, ext)
	return newProject
}

// predicateOnlyReferencesPassthroughCols reports whether every output
// column of the project is a plain SCAN node. This is a conservative
// syntactic check on the project alone: a project with computed
// (non-identity) output expressions is never considered pass-through.
// pred itself is not walked, and the project's aliases are not
// compared with the columns' source names.
func predicateOnlyReferencesPassthroughCols(g *dag.Graph, pred dag.ID, ext *dag.ProjectExt) bool {
	for _, c := range ext.Cols {
		if g.Nodes[c].Op != dag.OpScan {
			return false
		}
	}
	return true
}

// headFilterFusion detects HEAD(FILTER(scan, pred), n) and marks the
// HEAD node so the executor gathers only the first n passing rows
// instead of materializing the whole filtered table first (spec.md
// section 4.5 pass 3).
func headFilterFusion(g *dag.Graph, root dag.ID) dag.ID {
	if root == dag.ID(-1) {
		return root
	}
	n := &g.Nodes[root]
	if n.Op != dag.OpHead {
		return root
	}
	inputID := n.Inputs[0]
	if g.Nodes[inputID].Op == dag.OpFilter {
		n.Flags |= dag.FlagHeadFilterFused
	}
	return root
}

// headGroupFusion detects HEAD(GROUP(...), n) and passes n into the
// GROUP extended record's HeadLimit so phase 2 of the hash aggregation
// can stop early once n distinct groups are emitted (spec.md section
// 4.5 pass 4). Per spec.md section 9's open question, this fusion is
// only applied when the HEAD is the graph's designated root (i.e.
// nothing downstream -- no ORDER BY, no further FILTER -- could change
// which groups "the first n" refers to); the planner is responsible
// for never attaching this fusion when an ORDER BY or HAVING follows.
func headGroupFusion(g *dag.Graph, root dag.ID) dag.ID {
	if root == dag.ID(-1) {
		return root
	}
	n := &g.Nodes[root]
	if n.Op != dag.OpHead {
		return root
	}
	inputID := n.Inputs[0]
	if g.Nodes[inputID].Op != dag.OpGroup {
		return root
	}
	ext := g.GroupExtOf(inputID)
	if ext.Having != dag.ID(-1) {
		// HAVING could reject some of the first n groups the
		// hash table happens to emit first; fusion is unsound.
		return root
	}
	ext.HeadLimit = int(n.EstRows)
	n.Flags |= dag.FlagHeadGroupFused
	return root
}

// headSortFusion detects HEAD(SORT(...), n) and replaces it with a
// top-n scan, implemented by stashing n in the SORT node's EstRows
// field (HEAD carries no other payload) and marking both nodes so the
// executor's sort stage uses a bounded top-n heap instead of a full
// sort (spec.md section 4.5 pass 5).
func headSortFusion(g *dag.Graph, root dag.ID) dag.ID {
	if root == dag.ID(-1) {
		return root
	}
	n := &g.Nodes[root]
	if n.Op != dag.OpHead {
		return root
	}
	inputID := n.Inputs[0]
	sortNode := &g.Nodes[inputID]
	if sortNode.Op != dag.OpSort {
		return root
	}
	sortNode.EstRows = n.EstRows
	sortNode.Flags |= dag.FlagHeadSortFused
	n.Flags |= dag.FlagHeadSortFused
	return root
}

// havingFusion detects FILTER(GROUP, pred) at the graph root and fuses
// it into the GROUP node's Having field so the executor evaluates pred
// against GROUP's output columns directly, per spec.md section 4.5
// pass 6. The planner does not fuse HAVING itself: it emits a separate
// FILTER directly above the GROUP (internal/sql/plan/groupplan.go), and
// this pass fuses it only when that FILTER is the root passed to
// Optimize.
func havingFusion(g *dag.Graph, root dag.ID) dag.ID {
	if root == dag.ID(-1) {
		return root
	}
	n := g.Nodes[root]
	if n.Op != dag.OpFilter {
		return root
	}
	inputID := n.Inputs[0]
	if g.Nodes[inputID].Op != dag.OpGroup {
		return root
	}
	ext := g.GroupExtOf(inputID)
	if ext.Having != dag.ID(-1) {
		return root
	}
	ext.Having = n.Inputs[1]
	g.Nodes[inputID].Flags |= dag.FlagHavingFused
	g.Dead(root)
	return inputID
}

// propagateSelection marks scan nodes that feed a GROUP as eligible to
// skip masked rows during phase 1 of hash aggregation without
// allocating an intermediate filtered vector, per spec.md section 4.5
// pass 7. Propagation is recorded by flipping FlagSelectionPushed on
// every SCAN reachable from a GROUP whose input chain is purely
// fuseable (so the mask applies uniformly row-for-row). The flag is
// informational: the executor's GROUP reads g.Selection directly
// whenever one is attached, without checking the flag.
func propagateSelection(g *dag.Graph, root dag.ID) {
	if g.Selection == dag.ID(-1) {
		return
	}
	var mark func(id dag.ID)
	mark = func(id dag.ID) {
		n := &g.Nodes[id]
		switch n.Op {
		case dag.OpScan:
			n.Flags |= dag.FlagSelectionPushed
		case dag.OpGroup:
			mark(n.Inputs[0])
		default:
			if n.Op.IsFuseable() {
				for _, in := range n.Inputs {
					if in != dag.ID(-1) {
						mark(in)
					}
				}
			}
		}
	}
	mark(root)
}

// deadCodeElim marks every node unreachable from root as dead so the
// executor skips evaluating it, per spec.md section 4.5 pass 8.
func deadCodeElim(g *dag.Graph, root dag.ID) {
	if root == dag.ID(-1) {
		return
	}
	reachable := make([]bool, len(g.Nodes))
	var walk func(id dag.ID)
	walk = func(id dag.ID) {
		if id == dag.ID(-1) || reachable[id] {
			return
		}
		reachable[id] = true
		n := g.Nodes[id]
		for _, in := range n.Inputs {
			walk(in)
		}
		switch n.Op {
		case dag.OpGroup:
			ext := g.GroupExtOf(id)
			for _, k := range ext.Keys {
				walk(k)
			}
			for _, a := range ext.Aggs {
				walk(a.Input)
			}
			if ext.Having != dag.ID(-1) {
				walk(ext.Having)
			}
		case dag.OpSort:
			for _, k := range g.SortExtOf(id).Keys {
				walk(k.Node)
			}
		case dag.OpJoin, dag.OpCrossJoin:
			ext := g.JoinExtOf(id)
			walk(ext.Left)
			walk(ext.Right)
			for _, k := range ext.LeftKeys {
				walk(k)
			}
			for _, k := range ext.RightKeys {
				walk(k)
			}
		case dag.OpWindow:
			ext := g.WindowExtOf(id)
			for _, k := range ext.PartKeys {
				walk(k)
			}
			for _, k := range ext.OrderKeys {
				walk(k.Node)
			}
			for _, f := range ext.Funcs {
				if f.Input != dag.ID(-1) {
					walk(f.Input)
				}
			}
		case dag.OpProject:
			for _, c := range g.ProjectExtOf(id).Cols {
				walk(c)
			}
		case dag.OpIf:
			walk(g.Else(id))
		}
	}
	walk(root)
	var dead []dag.ID
	for i := range g.Nodes {
		if !reachable[i] {
			dead = append(dead, dag.ID(i))
		}
	}
	// Mark in a stable, increasing order so Dead's side effects (flag
	// bits flipped on nodes already walked by a later pass) are
	// reproducible across runs regardless of map/slice iteration order
	// elsewhere in the graph.
	slices.Sort(dead)
	for _, id := range dead {
		g.Dead(id)
	}
}
