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
	"os"
	"path/filepath"
	"testing"

	"github.com/vellumdb/vellum/internal/symtab"
	"github.com/vellumdb/vellum/internal/values"
)

func writeTempCSV(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "in.csv")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write temp csv: %v", err)
	}
	return path
}

func TestLoadCSVInfersTypes(t *testing.T) {
	path := writeTempCSV(t, "id,score,name,active\n1,3.5,alice,true\n2,4.0,bob,false\n")
	symbols := symtab.New()
	tbl, err := LoadCSV(path, symbols)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	defer tbl.Release()

	if tbl.NRows() != 2 {
		t.Fatalf("expected 2 rows, got %d", tbl.NRows())
	}
	if tbl.NCols() != 4 {
		t.Fatalf("expected 4 cols, got %d", tbl.NCols())
	}

	wantCodes := map[string]values.Code{
		"id":     values.I64,
		"score":  values.F64,
		"name":   values.Sym,
		"active": values.Bool,
	}
	for i := 0; i < tbl.NCols(); i++ {
		name := tbl.ColNameString(i)
		col := tbl.GetColIdx(i)
		if col.Code() != wantCodes[name] {
			t.Errorf("column %q: got code %v, want %v", name, col.Code(), wantCodes[name])
		}
	}
}

func TestLoadCSVWidensOnMixedColumn(t *testing.T) {
	path := writeTempCSV(t, "x\n1\n2\nnotanumber\n")
	symbols := symtab.New()
	tbl, err := LoadCSV(path, symbols)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	defer tbl.Release()

	col := tbl.GetColIdx(0)
	if col.Code() != values.Sym {
		t.Fatalf("expected column to widen to SYM, got %v", col.Code())
	}
}

func TestLoadCSVHandlesEmptyFieldsAsNull(t *testing.T) {
	path := writeTempCSV(t, "a,b\n1,\n,2\n")
	symbols := symtab.New()
	tbl, err := LoadCSV(path, symbols)
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	defer tbl.Release()

	a := tbl.GetColIdx(0)
	b := tbl.GetColIdx(1)
	if a.At(1).IsNull() != true {
		t.Error("expected a[1] to be null")
	}
	if b.At(0).IsNull() != true {
		t.Error("expected b[0] to be null")
	}
}

func TestSniffDelimiter(t *testing.T) {
	cases := []struct {
		line string
		want rune
	}{
		{"a,b,c", ','},
		{"a\tb\tc", '\t'},
		{"a;b;c", ';'},
		{"a|b|c", '|'},
	}
	for _, c := range cases {
		if got := sniffDelimiter(c.line); got != c.want {
			t.Errorf("sniffDelimiter(%q) = %q, want %q", c.line, got, c.want)
		}
	}
}
