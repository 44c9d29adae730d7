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
	"math"

	"github.com/vellumdb/vellum/internal/symtab"
)

// Atom is a single scalar value, carried in the "8-byte value union"
// spot of spec.md's value header. Atoms are not refcounted on their own
// (they never alias external storage) but still carry a Code so
// generic code can dispatch on them the same way it does on Vector.
type Atom struct {
	code Code // always the atom (negative) form
	null bool
	bits uint64 // reinterpreted payload for I32/I64/F64/Date/Time/Timestamp/Sym/Bool
}

// NewBoolAtom, NewI64Atom, etc. construct atoms of each scalar type.

func NewBoolAtom(v bool) Atom {
	b := uint64(0)
	if v {
		b = 1
	}
	return Atom{code: Bool.Atom(), bits: b}
}

func NewI32Atom(v int32) Atom {
	return Atom{code: I32.Atom(), bits: uint64(uint32(v))}
}

func NewI64Atom(v int64) Atom {
	return Atom{code: I64.Atom(), bits: uint64(v)}
}

func NewF64Atom(v float64) Atom {
	return Atom{code: F64.Atom(), bits: math.Float64bits(v)}
}

func NewDateAtom(days int32) Atom {
	return Atom{code: Date.Atom(), bits: uint64(uint32(days))}
}

func NewTimeAtom(micros int64) Atom {
	return Atom{code: Time.Atom(), bits: uint64(micros)}
}

func NewTimestampAtom(micros int64) Atom {
	return Atom{code: Timestamp.Atom(), bits: uint64(micros)}
}

func NewSymAtom(id symtab.ID) Atom {
	return Atom{code: Sym.Atom(), bits: uint64(id)}
}

// NullAtom returns a NULL atom of the given base code.
func NullAtom(base Code) Atom {
	return Atom{code: base.Atom(), null: true}
}

func (a Atom) Code() Code   { return a.code }
func (a Atom) IsNull() bool { return a.null }

func (a Atom) Bool() bool          { return a.bits != 0 }
func (a Atom) I32() int32          { return int32(uint32(a.bits)) }
func (a Atom) I64() int64          { return int64(a.bits) }
func (a Atom) F64() float64        { return math.Float64frombits(a.bits) }
func (a Atom) Date() int32         { return int32(uint32(a.bits)) }
func (a Atom) Time() int64         { return int64(a.bits) }
func (a Atom) Timestamp() int64    { return int64(a.bits) }
func (a Atom) Sym() symtab.ID      { return symtab.ID(a.bits) }

// AsF64 widens any numeric atom to float64, used by arithmetic kernels
// that operate generically over mixed I32/I64/F64 operands.
func (a Atom) AsF64() float64 {
	switch a.code.Base() {
	case I32:
		return float64(a.I32())
	case I64:
		return float64(a.I64())
	case F64:
		return a.F64()
	default:
		return math.NaN()
	}
}
