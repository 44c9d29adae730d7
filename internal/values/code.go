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

// Package values implements the typed columnar value model from
// spec.md section 3/4.1: refcounted, copy-on-write vectors and atoms,
// and the Table composite built on top of them.
//
// There is no literal 32-byte header here -- spec.md section 9 already
// notes that an implementation without native value-level refcounting
// should model vectors as "immutable arrays plus a refcount," which is
// exactly what Vector and Table do. The *Code* numbering below mirrors
// the closed type enumeration from spec.md section 3 so that EXPLAIN
// output and error messages can report the same type names a caller of
// the native layer would see.
package values

import "fmt"

// Code is the logical type tag for a value. Positive codes name a
// vector's element type; Code(-c) for a positive c names an atom of
// that same element type, per spec.md section 3 ("Negative codes
// denote atoms").
type Code int8

const (
	_ Code = iota
	Bool
	I32
	I64
	F64
	Date      // days since epoch, 4B
	Time      // microseconds since midnight, 8B
	Timestamp // microseconds since epoch, 8B
	Sym       // interned string, adaptive 1/2/4/8 byte width
	TableCode // composite
)

// Atom returns the atom code corresponding to a vector code c.
func (c Code) Atom() Code { return -c }

// IsAtom reports whether c denotes a scalar rather than a vector.
func (c Code) IsAtom() bool { return c < 0 }

// Base strips the atom sign, returning the underlying element type for
// both vector and atom codes.
func (c Code) Base() Code {
	if c < 0 {
		return -c
	}
	return c
}

func (c Code) String() string {
	switch c.Base() {
	case Bool:
		return "BOOL"
	case I32:
		return "I32"
	case I64:
		return "I64"
	case F64:
		return "F64"
	case Date:
		return "DATE"
	case Time:
		return "TIME"
	case Timestamp:
		return "TIMESTAMP"
	case Sym:
		return "SYM"
	case TableCode:
		return "TABLE"
	default:
		return fmt.Sprintf("Code(%d)", int8(c))
	}
}

// Shape tags the physical layout of a column within a Table, per
// spec.md section 3/4.3: a column is ordinarily Flat, but may instead
// be Parted (a list of per-segment vectors) or MapCommon (one key per
// partition plus a row-counts vector).
type Shape uint8

const (
	Flat Shape = iota
	Parted
	MapCommon
)

func (s Shape) String() string {
	switch s {
	case Flat:
		return "flat"
	case Parted:
		return "parted"
	case MapCommon:
		return "mapcommon"
	default:
		return "unknown"
	}
}

// ElemSize returns the fixed width, in bytes, of one element of a
// vector with the given base code; Sym's width is adaptive and is
// reported separately via a vector's SymWidth.
func ElemSize(c Code) int {
	switch c.Base() {
	case Bool:
		return 1
	case I32, Date:
		return 4
	case I64, F64, Time, Timestamp:
		return 8
	case Sym:
		return 8 // worst case; adaptive vectors may use less
	default:
		return 0
	}
}

// IsNumeric reports whether values of this code participate in
// arithmetic and the numeric aggregates (SUM, AVG, STDDEV, ...).
func (c Code) IsNumeric() bool {
	switch c.Base() {
	case I32, I64, F64:
		return true
	default:
		return false
	}
}

// IsTemporal reports whether c is one of the date/time family.
func (c Code) IsTemporal() bool {
	switch c.Base() {
	case Date, Time, Timestamp:
		return true
	default:
		return false
	}
}
