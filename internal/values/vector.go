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

	"github.com/vellumdb/vellum/internal/symtab"
)

// Vector is a refcounted, copy-on-write, fixed-width column of values.
// spec.md section 4.1's "pointer-following vector of fixed-width
// elements" is modeled here as a Go slice stored behind an `any`; the
// concrete element type is always one of bool, int32, int64, float64,
// or symtab.ID, selected by Code.
//
// A Vector that shares storage with a parent (produced by Slice) never
// mutates that storage directly; every mutator goes through cow, which
// clones when the refcount is greater than one, exactly as spec.md
// section 4.1 requires.
type Vector struct {
	ref      *refcount
	code     Code // always a vector (positive) code
	length   int
	offset   int // index into data/nulls where this vector's view begins
	nulls    *Bitmap
	symWidth uint8 // meaningful only when code == Sym; adaptive 1/2/4/8
	data     any   // []bool | []int32 | []int64 | []float64 | []symtab.ID
	parent   *Vector
}

// NewVector allocates a fresh vector of the given code and capacity,
// with length 0 ready for Append, per spec.md's vec_new(type, capacity).
func NewVector(code Code, capacity int) *Vector {
	v := &Vector{ref: newRefcount(), code: code, length: 0}
	switch code.Base() {
	case Bool:
		v.data = make([]bool, 0, capacity)
	case I32, Date:
		v.data = make([]int32, 0, capacity)
	case I64, Time, Timestamp:
		v.data = make([]int64, 0, capacity)
	case F64:
		v.data = make([]float64, 0, capacity)
	case Sym:
		v.data = make([]symtab.ID, 0, capacity)
		v.symWidth = 8
	default:
		panic(fmt.Sprintf("values: NewVector: unsupported code %v", code))
	}
	return v
}

// Code returns the vector's element type.
func (v *Vector) Code() Code { return v.code }

// Len returns the vector's logical length (spec.md Invariant T1 holds
// this equal to the owning table's row count for non-parted columns).
func (v *Vector) Len() int { return v.length }

// Nulls returns the vector's null bitmap, or nil if it has no nulls.
func (v *Vector) Nulls() *Bitmap { return v.nulls }

// HasNulls reports whether any element is NULL.
func (v *Vector) HasNulls() bool { return v.nulls.Any() }

// SymWidth returns the adaptive storage width (in bytes) of a SYM
// vector, per spec.md section 4.2.
func (v *Vector) SymWidth() uint8 { return v.symWidth }

// RefCount implements Refcounted.
func (v *Vector) RefCount() int32 { return v.ref.Count() }

// Retain increments the refcount; it is the only way to create a new
// owning reference to the same storage, per spec.md section 4.1.
func (v *Vector) Retain() {
	if v.parent != nil {
		v.parent.Retain()
		return
	}
	v.ref.retain()
}

// Release decrements the refcount; at zero it tears down the backing
// storage (nils it out so the Go GC can reclaim it) and, if this
// vector is itself a slice, releases its parent.
func (v *Vector) Release() {
	if v.parent != nil {
		v.parent.Release()
		return
	}
	if v.ref.release() {
		v.data = nil
		v.nulls = nil
	}
}

// cow returns a vector safe to mutate in place: v itself if its
// refcount is 1 and it is not a slice view, otherwise a fresh private
// copy with refcount 1, per spec.md section 4.1's cow(v).
func (v *Vector) cow() *Vector {
	if v.parent == nil && v.ref.Count() == 1 {
		return v
	}
	return v.clone()
}

func (v *Vector) clone() *Vector {
	out := &Vector{ref: newRefcount(), code: v.code, length: v.length, symWidth: v.symWidth}
	out.nulls = v.nulls.Clone()
	switch d := v.backing().(type) {
	case []bool:
		s := make([]bool, v.length)
		copy(s, d[v.offset:v.offset+v.length])
		out.data = s
	case []int32:
		s := make([]int32, v.length)
		copy(s, d[v.offset:v.offset+v.length])
		out.data = s
	case []int64:
		s := make([]int64, v.length)
		copy(s, d[v.offset:v.offset+v.length])
		out.data = s
	case []float64:
		s := make([]float64, v.length)
		copy(s, d[v.offset:v.offset+v.length])
		out.data = s
	case []symtab.ID:
		s := make([]symtab.ID, v.length)
		copy(s, d[v.offset:v.offset+v.length])
		out.data = s
	}
	return out
}

// backing returns the root vector's raw data slice, following the
// parent chain when v is itself a slice view.
func (v *Vector) backing() any {
	if v.parent != nil {
		return v.parent.backing()
	}
	return v.data
}

// Bools, I32s, I64s, F64s, Syms return the logical (offset-adjusted)
// view of a vector's backing storage. Callers must check Code first.

func (v *Vector) Bools() []bool {
	return v.backing().([]bool)[v.offset : v.offset+v.length]
}
func (v *Vector) I32s() []int32 {
	return v.backing().([]int32)[v.offset : v.offset+v.length]
}
func (v *Vector) I64s() []int64 {
	return v.backing().([]int64)[v.offset : v.offset+v.length]
}
func (v *Vector) F64s() []float64 {
	return v.backing().([]float64)[v.offset : v.offset+v.length]
}
func (v *Vector) Syms() []symtab.ID {
	return v.backing().([]symtab.ID)[v.offset : v.offset+v.length]
}

// Append adds a single element to the end of the vector, returning the
// (possibly relocated) vector to use from here on, mirroring
// vec_append's COW-safe, possibly-relocating contract.
func (v *Vector) Append(x Atom, null bool) *Vector {
	v = v.cow()
	if null {
		if v.nulls == nil {
			v.nulls = NewBitmap(v.length)
		}
	}
	switch d := v.data.(type) {
	case []bool:
		v.data = append(d, !null && x.Bool())
	case []int32:
		var e int32
		if !null {
			if v.code.Base() == Date {
				e = x.Date()
			} else {
				e = x.I32()
			}
		}
		v.data = append(d, e)
	case []int64:
		var e int64
		if !null {
			switch v.code.Base() {
			case Time:
				e = x.Time()
			case Timestamp:
				e = x.Timestamp()
			default:
				e = x.I64()
			}
		}
		v.data = append(d, e)
	case []float64:
		var e float64
		if !null {
			e = x.F64()
		}
		v.data = append(d, e)
	case []symtab.ID:
		var e symtab.ID
		if !null {
			e = x.Sym()
		}
		v.data = append(d, e)
	}
	if v.nulls != nil {
		v.nulls = growBitmap(v.nulls, v.length+1)
		if null {
			v.nulls.Set(v.length)
		}
	}
	v.length++
	return v
}

func growBitmap(b *Bitmap, n int) *Bitmap {
	if b.Len() >= n {
		return b
	}
	grown := NewBitmap(n)
	for i := 0; i < b.Len(); i++ {
		if b.Get(i) {
			grown.Set(i)
		}
	}
	return grown
}

// Slice returns a zero-copy view of v covering [offset, offset+length),
// sharing parent storage via a retained reference, per spec.md's
// vec_slice and its "slice-typed vectors hold a retained parent" design
// note.
func (v *Vector) Slice(offset, length int) *Vector {
	if offset < 0 || length < 0 || offset+length > v.length {
		panic("values: Slice out of range")
	}
	root := v
	base := v.offset
	if v.parent != nil {
		root = v.parent
	}
	root.Retain()
	return &Vector{
		ref:      root.ref,
		code:     v.code,
		length:   length,
		offset:   base + offset,
		nulls:    v.nulls.Slice(offset, length),
		symWidth: v.symWidth,
		parent:   root,
	}
}

// Concat produces a new vector containing the union of a's and b's
// rows. Both inputs must share a Code; the result's SymWidth, if
// applicable, widens to fit the union (spec.md section 4.2: "Writers
// that exceed the current width must widen the vector").
func Concat(a, b *Vector) (*Vector, error) {
	if a.code != b.code {
		return nil, fmt.Errorf("values.Concat: code mismatch %v vs %v", a.code, b.code)
	}
	out := &Vector{ref: newRefcount(), code: a.code, length: a.length + b.length}
	out.nulls = ConcatBitmaps(a.nulls, a.length, b.nulls, b.length)
	switch ad := a.backing().(type) {
	case []bool:
		bd := b.backing().([]bool)
		s := make([]bool, 0, out.length)
		s = append(s, ad[a.offset:a.offset+a.length]...)
		s = append(s, bd[b.offset:b.offset+b.length]...)
		out.data = s
	case []int32:
		bd := b.backing().([]int32)
		s := make([]int32, 0, out.length)
		s = append(s, ad[a.offset:a.offset+a.length]...)
		s = append(s, bd[b.offset:b.offset+b.length]...)
		out.data = s
	case []int64:
		bd := b.backing().([]int64)
		s := make([]int64, 0, out.length)
		s = append(s, ad[a.offset:a.offset+a.length]...)
		s = append(s, bd[b.offset:b.offset+b.length]...)
		out.data = s
	case []float64:
		bd := b.backing().([]float64)
		s := make([]float64, 0, out.length)
		s = append(s, ad[a.offset:a.offset+a.length]...)
		s = append(s, bd[b.offset:b.offset+b.length]...)
		out.data = s
	case []symtab.ID:
		bd := b.backing().([]symtab.ID)
		s := make([]symtab.ID, 0, out.length)
		s = append(s, ad[a.offset:a.offset+a.length]...)
		s = append(s, bd[b.offset:b.offset+b.length]...)
		out.data = s
		if b.symWidth > a.symWidth {
			out.symWidth = b.symWidth
		} else {
			out.symWidth = a.symWidth
		}
	}
	return out, nil
}

// Get returns the element at logical row i as an Atom, honoring nulls.
func (v *Vector) Get(i int) Atom {
	if v.nulls.Get(i) {
		return NullAtom(v.code)
	}
	switch v.code.Base() {
	case Bool:
		return NewBoolAtom(v.Bools()[i])
	case I32:
		return NewI32Atom(v.I32s()[i])
	case Date:
		return NewDateAtom(v.I32s()[i])
	case I64:
		return NewI64Atom(v.I64s()[i])
	case Time:
		return NewTimeAtom(v.I64s()[i])
	case Timestamp:
		return NewTimestampAtom(v.I64s()[i])
	case F64:
		return NewF64Atom(v.F64s()[i])
	case Sym:
		return NewSymAtom(v.Syms()[i])
	default:
		panic("values: Get: unsupported code")
	}
}

// Set overwrites the element at row i, COW-cloning first if needed, and
// returns the (possibly relocated) vector, mirroring vec_set.
func (v *Vector) Set(i int, x Atom, null bool) *Vector {
	v = v.cow()
	if null {
		if v.nulls == nil {
			v.nulls = NewBitmap(v.length)
		}
		v.nulls.Set(i)
		return v
	}
	if v.nulls != nil {
		v.nulls.Clear(i)
	}
	switch d := v.data.(type) {
	case []bool:
		d[i] = x.Bool()
	case []int32:
		if v.code.Base() == Date {
			d[i] = x.Date()
		} else {
			d[i] = x.I32()
		}
	case []int64:
		switch v.code.Base() {
		case Time:
			d[i] = x.Time()
		case Timestamp:
			d[i] = x.Timestamp()
		default:
			d[i] = x.I64()
		}
	case []float64:
		d[i] = x.F64()
	case []symtab.ID:
		d[i] = x.Sym()
	}
	return v
}
