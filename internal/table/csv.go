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

// Package table implements the engine's on-disk/external table
// sources: CSV ingestion for spec.md section 4.8's `read_csv(...)`
// loader, and the splayed/parted binary formats for `read_splayed`/
// `read_parted`.
//
// Row splitting delegates to xsv's CsvChopper/TsvChopper (RowChopper
// implementations); the concrete delimiter-sniff and
// type-inference-from-sample convention (first 256 rows) follows
// jsonrl's sample-then-infer approach to schema discovery, since
// spec.md leaves the exact dialect unspecified.
package table

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/vellumdb/vellum/internal/symtab"
	"github.com/vellumdb/vellum/internal/values"
	"github.com/vellumdb/vellum/xsv"
)

const sniffSampleRows = 256

// sniffDelimiter picks the candidate separator that occurs most often
// in the first line of the file (ties go to the earlier candidate, and
// ',' wins when none occurs) -- the common heuristic for "unknown CSV
// dialect" ingestion.
func sniffDelimiter(firstLine string) rune {
	candidates := []rune{',', '\t', ';', '|'}
	best := ','
	bestCount := 0
	for _, d := range candidates {
		n := strings.Count(firstLine, string(d))
		if n > bestCount {
			bestCount = n
			best = d
		}
	}
	return best
}

// LoadCSV reads path as a header-plus-rows CSV/TSV file and returns a
// Table with one column per header field, each column's type inferred
// from the first sniffSampleRows data rows (bool < int < float <
// string widening, in that preference order, matching jsonrl's
// sample-then-widen convention).
func LoadCSV(path string, symbols *symtab.Table) (*values.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	peek, _ := br.Peek(4096)
	firstLine := string(peek)
	if i := strings.IndexByte(firstLine, '\n'); i >= 0 {
		firstLine = firstLine[:i]
	}
	delim := sniffDelimiter(firstLine)

	var chopper xsv.RowChopper
	if delim == '\t' {
		chopper = &xsv.TsvChopper{}
	} else {
		chopper = &xsv.CsvChopper{Separator: xsv.Delim(delim)}
	}

	header, err := chopper.GetNext(br)
	if err != nil {
		return nil, err
	}
	header = append([]string(nil), header...)

	var sample [][]string
	var rest [][]string
	for {
		rec, err := chopper.GetNext(br)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rec = append([]string(nil), rec...)
		if len(sample) < sniffSampleRows {
			sample = append(sample, rec)
		} else {
			rest = append(rest, rec)
		}
	}

	codes := make([]values.Code, len(header))
	for c := range header {
		codes[c] = inferColumnCode(sample, c)
	}

	all := append(sample, rest...)
	out := values.NewTable(symbols)
	for c, name := range header {
		vec := values.NewVector(codes[c], len(all))
		for _, rec := range all {
			var field string
			if c < len(rec) {
				field = rec[c]
			}
			vec = vec.Append(parseField(codes[c], field, symbols), field == "")
		}
		if err := out.AddCol(symbols.Intern(name), values.AsColumn(vec)); err != nil {
			out.Release()
			return nil, err
		}
	}
	return out, nil
}

// inferColumnCode classifies column c from the sample rows: every
// non-empty value must parse as the narrowest shared type, widening
// I64 -> F64 -> Sym (string) as soon as one sample value fails a
// narrower parse.
func inferColumnCode(sample [][]string, c int) values.Code {
	code := values.Bool
	for _, rec := range sample {
		if c >= len(rec) || rec[c] == "" {
			continue
		}
		field := rec[c]
		switch code {
		case values.Bool:
			if _, err := strconv.ParseBool(field); err == nil {
				continue
			}
			code = values.I64
			fallthrough
		case values.I64:
			if _, err := strconv.ParseInt(field, 10, 64); err == nil {
				continue
			}
			code = values.F64
			fallthrough
		case values.F64:
			if _, err := strconv.ParseFloat(field, 64); err == nil {
				continue
			}
			code = values.Sym
		}
	}
	return code
}

func parseField(code values.Code, field string, symbols *symtab.Table) values.Atom {
	if field == "" {
		return values.NullAtom(code)
	}
	switch code {
	case values.Bool:
		b, _ := strconv.ParseBool(field)
		return values.NewBoolAtom(b)
	case values.I64:
		n, _ := strconv.ParseInt(field, 10, 64)
		return values.NewI64Atom(n)
	case values.F64:
		v, _ := strconv.ParseFloat(field, 64)
		return values.NewF64Atom(v)
	default:
		return values.NewSymAtom(symbols.Intern(field))
	}
}
