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

package table

import (
	"path/filepath"
	"testing"

	"github.com/vellumdb/vellum/internal/symtab"
	"github.com/vellumdb/vellum/internal/values"
)

func buildTestTable(t *testing.T, symbols *symtab.Table, ids []int64, names []string) *values.Table {
	t.Helper()
	tbl := values.NewTable(symbols)

	idVec := values.NewVector(values.I64, len(ids))
	for _, id := range ids {
		idVec = idVec.Append(values.NewI64Atom(id), false)
	}
	if err := tbl.AddCol(symbols.Intern("id"), values.AsColumn(idVec)); err != nil {
		t.Fatalf("AddCol id: %v", err)
	}
	idVec.Release()

	nameVec := values.NewVector(values.Sym, len(names))
	for _, n := range names {
		nameVec = nameVec.Append(values.NewSymAtom(symbols.Intern(n)), false)
	}
	if err := tbl.AddCol(symbols.Intern("name"), values.AsColumn(nameVec)); err != nil {
		t.Fatalf("AddCol name: %v", err)
	}
	nameVec.Release()

	return tbl
}

func TestWriteLoadSplayedRoundTrip(t *testing.T) {
	symbols := symtab.New()
	tbl := buildTestTable(t, symbols, []int64{1, 2, 3}, []string{"alice", "bob", "carol"})
	defer tbl.Release()

	dir := filepath.Join(t.TempDir(), "splayed")
	if err := WriteSplayed(dir, tbl); err != nil {
		t.Fatalf("WriteSplayed: %v", err)
	}

	got, err := LoadSplayed(dir, symbols)
	if err != nil {
		t.Fatalf("LoadSplayed: %v", err)
	}
	defer got.Release()

	if got.NRows() != 3 || got.NCols() != 2 {
		t.Fatalf("got %d rows, %d cols; want 3 rows, 2 cols", got.NRows(), got.NCols())
	}
	idCol, ok := got.GetCol(symbols.Intern("id"))
	if !ok {
		t.Fatal("missing id column")
	}
	for i, want := range []int64{1, 2, 3} {
		if got := idCol.At(i).I64(); got != want {
			t.Errorf("id[%d] = %d, want %d", i, got, want)
		}
	}
	nameCol, ok := got.GetCol(symbols.Intern("name"))
	if !ok {
		t.Fatal("missing name column")
	}
	for i, want := range []string{"alice", "bob", "carol"} {
		s, _ := symbols.Str(nameCol.At(i).Sym())
		if s != want {
			t.Errorf("name[%d] = %q, want %q", i, s, want)
		}
	}
}

func TestWriteLoadPartedRoundTrip(t *testing.T) {
	symbols := symtab.New()
	seg0 := buildTestTable(t, symbols, []int64{1, 2}, []string{"alice", "bob"})
	defer seg0.Release()
	seg1 := buildTestTable(t, symbols, []int64{3}, []string{"carol"})
	defer seg1.Release()

	dir := filepath.Join(t.TempDir(), "parted")
	if err := WriteParted(dir, []*values.Table{seg0, seg1}, []string{"seg0", "seg1"}); err != nil {
		t.Fatalf("WriteParted: %v", err)
	}

	got, err := LoadParted(dir, symbols)
	if err != nil {
		t.Fatalf("LoadParted: %v", err)
	}
	defer got.Release()

	if got.NRows() != 3 {
		t.Fatalf("got %d rows, want 3", got.NRows())
	}
	idCol, ok := got.GetCol(symbols.Intern("id"))
	if !ok {
		t.Fatal("missing id column")
	}
	if idCol.Shape() != values.Parted {
		t.Fatalf("expected a Parted shape, got %v", idCol.Shape())
	}
	for i, want := range []int64{1, 2, 3} {
		if got := idCol.At(i).I64(); got != want {
			t.Errorf("id[%d] = %d, want %d", i, got, want)
		}
	}
}
