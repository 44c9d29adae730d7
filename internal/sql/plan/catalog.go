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

import "github.com/vellumdb/vellum/internal/values"

// Catalog is the session's name -> stored-table map, as the planner
// needs to see it for FROM resolution and DDL/DML. internal/session
// implements this directly over its own map; tests implement it with a
// plain map-backed stub.
type Catalog interface {
	// Lookup returns the stored table registered under name, or ok=false.
	Lookup(name string) (t *values.Table, ok bool)

	// CreateTable registers t under name. If replace is false and name
	// already exists, it returns an error unless ifNotExists is true (in
	// which case it is a silent no-op returning ok=false).
	CreateTable(name string, t *values.Table, replace, ifNotExists bool) (ok bool, err error)

	// DropTable removes name. If ifExists is false and name doesn't
	// exist, it returns an error.
	DropTable(name string, ifExists bool) error

	// TableNames lists every currently registered table name.
	TableNames() []string
}
