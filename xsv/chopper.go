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

// Package xsv chops CSV (RFC 4180) and TSV text into rows of fields.
package xsv

import "io"

// Delim is a single-rune field separator, used by CsvChopper to
// override its default comma.
type Delim rune

// RowChopper fetches records row-by-row and splits each record into
// individual fields until the reader is exhausted (io.EOF).
type RowChopper interface {
	GetNext(r io.Reader) ([]string, error)
}
