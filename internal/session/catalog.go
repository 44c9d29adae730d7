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

package session

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/vellumdb/vellum/internal/symtab"
	"github.com/vellumdb/vellum/internal/table"
	"github.com/vellumdb/vellum/internal/values"
	"github.com/vellumdb/vellum/internal/verr"
)

// catalog is Session's plan.Catalog implementation: an in-memory
// name->table map backed by a lazy-loaded view of StorageRoot, so a
// table written by a prior process (via table.WriteSplayed/WriteParted)
// is resolvable by name without an explicit LOAD statement.
type catalog struct {
	mu      sync.Mutex
	tables  map[string]*values.Table
	root    string
	symbols *symtab.Table
}

func newCatalog(root string, symbols *symtab.Table) *catalog {
	return &catalog{
		tables:  make(map[string]*values.Table),
		root:    root,
		symbols: symbols,
	}
}

// Lookup implements plan.Catalog. A name not yet in the in-memory map
// is tried against root/<name>/schema.yaml before giving up; the first
// table.LoadSplayed/LoadParted that succeeds is cached for later calls.
func (c *catalog) Lookup(name string) (*values.Table, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tables[name]; ok {
		return t, true
	}
	dir := filepath.Join(c.root, name)
	if t, err := table.LoadSplayed(dir, c.symbols); err == nil {
		c.tables[name] = t
		return t, true
	}
	if t, err := table.LoadParted(dir, c.symbols); err == nil {
		c.tables[name] = t
		return t, true
	}
	return nil, false
}

// CreateTable implements plan.Catalog.
func (c *catalog) CreateTable(name string, t *values.Table, replace, ifNotExists bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tables[name]; exists && !replace {
		if ifNotExists {
			return false, nil
		}
		return false, verr.Newf(verr.InvalidInput, "session.CreateTable", "table %q already exists", name)
	}
	c.tables[name] = t
	return true, nil
}

// DropTable implements plan.Catalog.
func (c *catalog) DropTable(name string, ifExists bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, exists := c.tables[name]
	if !exists {
		if ifExists {
			return nil
		}
		return verr.Newf(verr.InvalidInput, "session.DropTable", "table %q does not exist", name)
	}
	old.Release()
	delete(c.tables, name)
	return nil
}

// TableNames implements plan.Catalog: every table registered in memory,
// plus every splayed/parted table directory found under root that
// hasn't been loaded yet, deduplicated and sorted.
func (c *catalog) TableNames() []string {
	c.mu.Lock()
	names := make(map[string]struct{}, len(c.tables))
	for name := range c.tables {
		names[name] = struct{}{}
	}
	c.mu.Unlock()

	if onDisk, err := table.ListTables(c.root); err == nil {
		for _, name := range onDisk {
			names[name] = struct{}{}
		}
	}

	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
