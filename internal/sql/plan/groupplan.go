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

	"github.com/vellumdb/vellum/internal/dag"
	"github.com/vellumdb/vellum/internal/sql/ast"
	"github.com/vellumdb/vellum/internal/values"
)

// planGroup builds the GROUP BY key list and aggregate specs, rewrites
// every SELECT item (and HAVING) to reference the eventual GROUP
// output columns in place of the raw aggregate calls, and returns the
// node and schema immediately after the GROUP (and, if present, HAVING)
// stage. COUNT(DISTINCT col) is planned as a single OpCountDistinct
// AggSpec rather than a two-phase plan: the executor's aggState already
// de-duplicates per group internally (see DESIGN.md).
func planGroup(ctx *planCtx, node dag.ID, sch schema, s *ast.SelectStatement, items []outputItem) (dag.ID, schema, []outputItem, error) {
	ext := &dag.GroupExt{Having: dag.ID(-1)}
	var keyCodes []values.Code

	for i, gb := range s.GroupBy {
		var id dag.ID
		var code values.Code
		var alias string
		switch e := gb.(type) {
		case *ast.IntegerLiteral:
			idx, err := sch.positional(e.Value)
			if err != nil {
				return 0, nil, nil, err
			}
			id, code, err = compileExpr(ctx, sch, &ast.Identifier{Value: sch[idx].name})
			if err != nil {
				return 0, nil, nil, err
			}
			alias = sch[idx].name
		case *ast.Identifier:
			var err error
			id, code, err = compileExpr(ctx, sch, e)
			if err != nil {
				return 0, nil, nil, err
			}
			alias = e.Value
		default:
			var err error
			id, code, err = compileExpr(ctx, sch, gb)
			if err != nil {
				return 0, nil, nil, err
			}
			alias = fmt.Sprintf("_key%d", i)
		}
		ext.Keys = append(ext.Keys, id)
		ext.KeyAliases = append(ext.KeyAliases, alias)
		keyCodes = append(keyCodes, code)
	}

	b := newAggBuilder(ctx, sch)
	newItems := make([]outputItem, len(items))
	for i, it := range items {
		rewritten, err := b.rewrite(it.expr)
		if err != nil {
			return 0, nil, nil, err
		}
		newItems[i] = outputItem{alias: it.alias, expr: rewritten}
	}
	var havingExpr ast.Expression
	if s.Having != nil {
		var err error
		havingExpr, err = b.rewrite(s.Having)
		if err != nil {
			return 0, nil, nil, err
		}
	}
	ext.Aggs = b.specs
	ext.HeadLimit = -1

	node = ctx.g.Group(node, ext)

	outSch := make(schema, 0, len(ext.KeyAliases)+len(ext.Aggs))
	for i, alias := range ext.KeyAliases {
		outSch = append(outSch, column{physical: alias, table: "", name: alias, code: keyCodes[i]})
	}
	for i, spec := range ext.Aggs {
		outSch = append(outSch, column{physical: spec.Alias, table: "", name: spec.Alias, code: b.codes[i]})
	}

	if havingExpr != nil {
		pred, _, err := compileExpr(ctx, outSch, havingExpr)
		if err != nil {
			return 0, nil, nil, err
		}
		node = ctx.g.Filter(node, pred)
	}

	return node, outSch, newItems, nil
}
