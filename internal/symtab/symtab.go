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

// Package symtab implements the process-wide string interner described
// in spec.md section 4.2: a table mapping UTF-8 byte sequences to
// stable 64-bit IDs so that SYM columns can be compared by ID equality
// instead of byte comparison.
//
// The table is "lock-amortized" the way ion.Symtab amortizes its own
// map growth: readers take the cheap path (RLock, map lookup) and only
// escalate to a write lock on the first sighting of a new string.
package symtab

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/vellumdb/vellum/internal/verr"
)

// ID is a stable identifier for an interned string. ID 0 is never
// assigned to a real string; it is reserved so that a zero-valued ID
// field in a vector header unambiguously means "unset."
type ID uint64

// Table is a string<->ID interner. The zero Table is ready to use.
type Table struct {
	mu       sync.RWMutex
	interned []string  // ID - 1 -> string
	toindex  map[string]ID
}

// New returns an empty interning table.
func New() *Table {
	return &Table{toindex: make(map[string]ID)}
}

// global is the process-wide instance every session shares, matching
// spec.md's description of the symbol table as process-global state
// that outlives any one session.
var global = New()

// Global returns the process-wide symbol table.
func Global() *Table { return global }

// Intern returns a stable ID for s, allocating one if s has not been
// seen before.
func (t *Table) Intern(s string) ID {
	t.mu.RLock()
	if id, ok := t.toindex[s]; ok {
		t.mu.RUnlock()
		return id
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	// re-check: another writer may have interned s while we waited
	if id, ok := t.toindex[s]; ok {
		return id
	}
	if t.toindex == nil {
		t.toindex = make(map[string]ID)
	}
	id := ID(len(t.interned) + 1)
	t.interned = append(t.interned, s)
	t.toindex[s] = id
	return id
}

// InternBytes is identical to Intern but avoids an allocation on the
// lookup path when buf has already been interned.
func (t *Table) InternBytes(buf []byte) ID {
	t.mu.RLock()
	if id, ok := t.toindex[string(buf)]; ok {
		t.mu.RUnlock()
		return id
	}
	t.mu.RUnlock()
	return t.Intern(string(buf))
}

// Str returns the string associated with id, or ("", false) if id was
// never interned in this table.
func (t *Table) Str(id ID) (string, bool) {
	if id == 0 {
		return "", false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx := int(id) - 1
	if idx < 0 || idx >= len(t.interned) {
		return "", false
	}
	return t.interned[idx], true
}

// MustStr is Str, panicking on a missing ID; callers use it only where
// the ID was produced by this same table a moment earlier.
func (t *Table) MustStr(id ID) string {
	s, ok := t.Str(id)
	if !ok {
		panic("symtab: unknown id")
	}
	return s
}

// Symbolize returns the ID for s only if s has already been interned,
// without allocating a new entry -- used by the planner to check
// whether a literal could possibly match any value in a SYM column.
func (t *Table) Symbolize(s string) (ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.toindex[s]
	return id, ok
}

// Len returns the number of interned strings.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.interned)
}

// Width reports the narrowest adaptive storage width (in bytes: 1, 2,
// 4, or 8) that can hold every currently-interned ID, per spec.md
// section 4.2's "adaptive-width sym vectors."
func (t *Table) Width() int {
	n := t.Len()
	switch {
	case n <= 0xff:
		return 1
	case n <= 0xffff:
		return 2
	case n <= 0xffffffff:
		return 4
	default:
		return 8
	}
}

// Save persists the table so that splayed/parted tables written to
// disk can later be read back sharing the same ID space, per spec.md
// section 4.2. The format is a simple length-prefixed string stream,
// one entry per ID in order; it is not meant to be portable outside
// this engine.
func (t *Table) Save(path string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, err := os.Create(path)
	if err != nil {
		return verr.Wrap(verr.IO, "symtab.Save", err)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	var lenbuf [4]byte
	for _, s := range t.interned {
		binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(s)))
		if _, err := w.Write(lenbuf[:]); err != nil {
			return verr.Wrap(verr.IO, "symtab.Save", err)
		}
		if _, err := w.WriteString(s); err != nil {
			return verr.Wrap(verr.IO, "symtab.Save", err)
		}
	}
	return verr.Wrap(verr.IO, "symtab.Save", w.Flush())
}

// Load reads a symbol file written by Save and interns every entry
// into t, preserving ID order so that vectors referencing those IDs
// remain valid.
func (t *Table) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return verr.Wrap(verr.IO, "symtab.Load", err)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var lenbuf [4]byte
	for {
		_, err := io.ReadFull(r, lenbuf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return verr.Wrap(verr.CorruptData, "symtab.Load", err)
		}
		n := binary.LittleEndian.Uint32(lenbuf[:])
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return verr.Wrap(verr.CorruptData, "symtab.Load", err)
		}
		t.Intern(string(buf))
	}
	return nil
}
