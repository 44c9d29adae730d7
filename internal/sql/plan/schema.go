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

	"github.com/vellumdb/vellum/internal/values"
	"github.com/vellumdb/vellum/internal/verr"
)

// column is one entry of a schema: the physical column name a SCAN node
// interns (always unique within a graph, see schema doc below), the
// user-facing table qualifier and column name it resolves from, and the
// type the node producing it carries.
type column struct {
	physical string // interned name as it actually exists on the table a node evaluates to
	table    string // FROM-clause alias/name this column came from, "" if unqualifiable (e.g. a computed SELECT item)
	name     string // user-facing column name
	code     values.Code
}

// schema is the ordered, symbolic column list a pipeline stage produces.
// The planner never touches live data: every FROM/JOIN/GROUP/WINDOW/
// SELECT stage is built by tracking what columns and types the *next*
// structural node will produce once the executor actually runs it, and
// every Scan node is interned against a schema's physical names rather
// than a live table.
//
// Physical names are kept distinct from user-facing names so that two
// joined tables exposing the same column name don't collide on a single
// Table's column namespace: resolveFrom always aliases each FROM side's
// columns to "alias.col" before joining, and only the outermost SELECT
// stage reintroduces the bare/aliased names a caller actually asked for.
type schema []column

// find resolves a (possibly dotted) identifier against s, preferring an
// exact table-qualified match and falling back to an unqualified lookup
// that must be unambiguous.
func (s schema) find(qualifier, name string) (int, error) {
	if qualifier != "" {
		for i, c := range s {
			if strings.EqualFold(c.table, qualifier) && strings.EqualFold(c.name, name) {
				return i, nil
			}
		}
		return -1, verr.Newf(verr.Plan, "plan.schema.find", "no column %q in table %q", name, qualifier)
	}
	match := -1
	for i, c := range s {
		if strings.EqualFold(c.name, name) {
			if match >= 0 {
				return -1, verr.Newf(verr.Plan, "plan.schema.find", "ambiguous column reference %q", name)
			}
			match = i
		}
	}
	if match < 0 {
		return -1, verr.Newf(verr.Plan, "plan.schema.find", "no column %q in scope", name)
	}
	return match, nil
}

// positional resolves a 1-based ORDER BY/GROUP BY position.
func (s schema) positional(pos int64) (int, error) {
	if pos < 1 || int(pos) > len(s) {
		return -1, verr.Newf(verr.Plan, "plan.schema.positional", "position %d out of range for %d columns", pos, len(s))
	}
	return int(pos - 1), nil
}

// retable returns a copy of s with every entry's table qualifier
// overwritten to alias and its physical name rewritten to "alias.name",
// the shape resolveFrom gives every FROM-clause source before it can be
// joined or scanned from.
func retable(alias string, cols []column) schema {
	out := make(schema, len(cols))
	for i, c := range cols {
		out[i] = column{
			physical: alias + "." + c.name,
			table:    alias,
			name:     c.name,
			code:     c.code,
		}
	}
	return out
}
