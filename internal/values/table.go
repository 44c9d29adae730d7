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

package values

import (
	"fmt"
	"strings"

	"github.com/vellumdb/vellum/internal/symtab"
)

// Column is a named value carried by a Table: an ordinary Vector, or a
// Parted/MapCommon composite presenting the same logical row-addressed
// view, per spec.md sections 3 and 4.3.
type Column interface {
	Refcounted
	Shape() Shape
	Code() Code
	// Rows returns the column's effective row count: for Flat this is
	// the vector length; for Parted the sum of segment lengths
	// (Invariant T2); for MapCommon the sum of the row-counts vector.
	Rows() int
	// At returns the logical row as an Atom, translating through the
	// segment map for Parted/MapCommon columns as needed.
	At(row int) Atom
}

// Parted is a column whose storage is a list of per-segment vectors,
// addressable by a logical row index that maps into (segment, local
// row), per the GLOSSARY's "Parted column" entry.
type Parted struct {
	ref      *refcount
	segments []*Vector
	offsets  []int // cumulative row offset of each segment's start
	total    int
}

// NewParted builds a Parted column from its segment vectors. All
// segments must share the same Code.
func NewParted(segments []*Vector) (*Parted, error) {
	p := &Parted{ref: newRefcount(), segments: segments, offsets: make([]int, len(segments))}
	total := 0
	for i, s := range segments {
		if i > 0 && s.Code() != segments[0].Code() {
			return nil, fmt.Errorf("values.NewParted: segment %d code mismatch", i)
		}
		s.Retain()
		p.offsets[i] = total
		total += s.Len()
	}
	p.total = total
	return p, nil
}

func (p *Parted) Shape() Shape { return Parted }
func (p *Parted) Code() Code {
	if len(p.segments) == 0 {
		return 0
	}
	return p.segments[0].Code()
}
func (p *Parted) Rows() int      { return p.total }
func (p *Parted) RefCount() int32 { return p.ref.Count() }
func (p *Parted) Retain()        { p.ref.retain() }
func (p *Parted) Release() {
	if p.ref.release() {
		for _, s := range p.segments {
			s.Release()
		}
		p.segments = nil
	}
}

// Locate translates a logical row index into (segment index, local
// row within that segment), per the GLOSSARY's definition of a parted
// column's addressing.
func (p *Parted) Locate(row int) (segment, local int) {
	// segments are typically few (one per partition), so a linear scan
	// beats maintaining a binary-searchable structure for this case.
	for i := len(p.offsets) - 1; i >= 0; i-- {
		if row >= p.offsets[i] {
			return i, row - p.offsets[i]
		}
	}
	panic("values: Parted.Locate: row out of range")
}

func (p *Parted) At(row int) Atom {
	seg, local := p.Locate(row)
	return p.segments[seg].Get(local)
}

// Segments exposes the underlying per-partition vectors, e.g. so the
// executor can dispatch one morsel-iterator per segment per spec.md
// section 4.7's "for parted inputs, morsels are produced per segment."
func (p *Parted) Segments() []*Vector { return p.segments }

// MapCommon is a virtual partition column storing one key value per
// partition plus a row-counts vector, expanding logically to the
// per-row partition key, per the GLOSSARY's "MapCommon column" entry.
type MapCommon struct {
	ref    *refcount
	keys   *Vector // one value per partition
	counts []int64 // row count of each partition
	total  int
}

// NewMapCommon builds a MapCommon column from parallel per-partition
// keys and row counts (Invariant T2: the row count matches the sum of
// counts).
func NewMapCommon(keys *Vector, counts []int64) (*MapCommon, error) {
	if keys.Len() != len(counts) {
		return nil, fmt.Errorf("values.NewMapCommon: %d keys but %d counts", keys.Len(), len(counts))
	}
	keys.Retain()
	total := 0
	for _, c := range counts {
		total += int(c)
	}
	cp := make([]int64, len(counts))
	copy(cp, counts)
	return &MapCommon{ref: newRefcount(), keys: keys, counts: cp, total: total}, nil
}

func (m *MapCommon) Shape() Shape   { return MapCommon }
func (m *MapCommon) Code() Code     { return m.keys.Code() }
func (m *MapCommon) Rows() int      { return m.total }
func (m *MapCommon) RefCount() int32 { return m.ref.Count() }
func (m *MapCommon) Retain()        { m.ref.retain() }
func (m *MapCommon) Release() {
	if m.ref.release() {
		m.keys.Release()
		m.keys = nil
	}
}

// Locate translates a logical row into (partition index, local row).
func (m *MapCommon) Locate(row int) (partition, local int) {
	acc := 0
	for i, c := range m.counts {
		if row < acc+int(c) {
			return i, row - acc
		}
		acc += int(c)
	}
	panic("values: MapCommon.Locate: row out of range")
}

func (m *MapCommon) At(row int) Atom {
	part, _ := m.Locate(row)
	return m.keys.Get(part)
}

// Counts returns the per-partition row counts.
func (m *MapCommon) Counts() []int64 { return m.counts }

// Keys returns the one-value-per-partition backing vector.
func (m *MapCommon) Keys() *Vector { return m.keys }

// flatColumn adapts *Vector to the Column interface.
type flatColumn struct{ *Vector }

func (f flatColumn) Shape() Shape { return Flat }
func (f flatColumn) Rows() int    { return f.Vector.Len() }
func (f flatColumn) At(row int) Atom {
	return f.Vector.Get(row)
}

// Underlying exposes the wrapped Vector for callers that can type-assert
// a Column down to it (e.g. the executor's element-wise evaluator,
// which wants a single contiguous view rather than a generic At(row)
// loop whenever a column happens to already be Flat).
func (f flatColumn) Underlying() *Vector { return f.Vector }

// AsColumn wraps a plain Vector as a Column.
func AsColumn(v *Vector) Column { return flatColumn{v} }

// Table is an ordered sequence of named columns, per spec.md section
// 3/4.3. Columns are referenced by an interned name (symtab.ID) so
// equality and lookups are cheap, matching the rest of the engine's
// "compare by ID, not bytes" convention.
type Table struct {
	ref     *refcount
	names   []symtab.ID
	cols    []Column
	nrows   int
	symbols *symtab.Table
}

// NewTable constructs an empty table bound to a symbol table (used to
// resolve column names to their string form for error messages and
// SELECT * column lists).
func NewTable(symbols *symtab.Table) *Table {
	return &Table{ref: newRefcount(), symbols: symbols}
}

func (t *Table) RefCount() int32 { return t.ref.Count() }
func (t *Table) Retain()         { t.ref.retain() }

// Release decrements the table's refcount; at zero it cascades release
// to every contained column, per spec.md's "a refcount of zero frees
// the allocation and, for composites, cascades release to all
// contained values."
func (t *Table) Release() {
	if t.ref.release() {
		for _, c := range t.cols {
			c.Release()
		}
		t.cols = nil
		t.names = nil
	}
}

// CloneRef returns a new handle sharing the same underlying table,
// matching spec.md section 3's "Table: ... shared via clone_ref."
func (t *Table) CloneRef() *Table {
	t.Retain()
	return t
}

// NRows returns the table's row count.
func (t *Table) NRows() int { return t.nrows }

// NCols returns the number of columns.
func (t *Table) NCols() int { return len(t.cols) }

// Symbols returns the symbol table this Table resolves names against,
// so external packages (e.g. internal/table's on-disk writers) can
// intern/resolve symbol-coded column values without reaching into a
// private field.
func (t *Table) Symbols() *symtab.Table { return t.symbols }

// ColName returns the interned name of column idx.
func (t *Table) ColName(idx int) symtab.ID { return t.names[idx] }

// ColNameString resolves ColName through the bound symbol table.
func (t *Table) ColNameString(idx int) string {
	s, _ := t.symbols.Str(t.names[idx])
	return s
}

// ColIdx returns the index of the column named by id, or -1.
func (t *Table) ColIdx(id symtab.ID) int {
	for i, n := range t.names {
		if n == id {
			return i
		}
	}
	return -1
}

// GetCol returns the column named by id.
func (t *Table) GetCol(id symtab.ID) (Column, bool) {
	i := t.ColIdx(id)
	if i < 0 {
		return nil, false
	}
	return t.cols[i], true
}

// GetColIdx returns the column at position idx.
func (t *Table) GetColIdx(idx int) Column { return t.cols[idx] }

// AddCol appends a named column, retaining it, per spec.md's
// table_add_col. It enforces Invariant T1 (flat column length must
// equal the table's row count, or define it if this is the first
// column) and Invariant T3 (unique names, case-insensitive).
func (t *Table) AddCol(name symtab.ID, col Column) error {
	nameStr, _ := t.symbols.Str(name)
	for _, n := range t.names {
		if n == name {
			return fmt.Errorf("values.AddCol: duplicate column %q", nameStr)
		}
		if existing, _ := t.symbols.Str(n); strings.EqualFold(existing, nameStr) {
			return fmt.Errorf("values.AddCol: duplicate column %q (case-insensitive)", nameStr)
		}
	}
	if len(t.cols) == 0 {
		t.nrows = col.Rows()
	} else if col.Shape() == Flat && col.Rows() != t.nrows {
		return fmt.Errorf("values.AddCol: column %q has %d rows, table has %d", nameStr, col.Rows(), t.nrows)
	} else if col.Shape() != Flat && col.Rows() != t.nrows {
		return fmt.Errorf("values.AddCol: column %q row count %d does not match table %d", nameStr, col.Rows(), t.nrows)
	}
	col.Retain()
	t.names = append(t.names, name)
	t.cols = append(t.cols, col)
	return nil
}

// Columns returns the table's columns in order (not retained; callers
// must not outlive the table without calling Retain themselves).
func (t *Table) Columns() []Column { return t.cols }

// Names returns the table's column names in order.
func (t *Table) Names() []symtab.ID { return t.names }
