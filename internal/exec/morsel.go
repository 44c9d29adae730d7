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

// Package exec implements the morsel-driven executor (EX) from
// spec.md section 4.7: it turns an optimized dag.Graph into a pipeline
// of stages operating on fixed-size morsels, dispatching element-wise
// and structural work to an internal/workerpool.Pool when an input is
// large enough to be worth parallelizing.
package exec

import "github.com/vellumdb/vellum/internal/values"

// Morsel is the "(vec, start, len, elem_size, null_bits)" tuple from
// spec.md section 4.7. It names a disjoint, covering slice of a
// Vector's rows for a single unit of parallel work.
type Morsel struct {
	Start int
	Len   int
}

// Morsels splits [0, nrows) into a disjoint, covering sequence of
// morsels of at most size rows each, per spec.md's "fixed-width
// contiguous chunks, default 1024 elements."
func Morsels(nrows, size int) []Morsel {
	if size <= 0 {
		size = DefaultMorselSize
	}
	if nrows == 0 {
		return nil
	}
	out := make([]Morsel, 0, (nrows+size-1)/size)
	for start := 0; start < nrows; start += size {
		n := size
		if start+n > nrows {
			n = nrows - start
		}
		out = append(out, Morsel{Start: start, Len: n})
	}
	return out
}

// PartedMorsels produces morsels per segment for a Parted column, per
// spec.md section 4.7: "for parted inputs, morsels are produced per
// segment." Each returned morsel's Start is relative to its own
// segment; segIdx identifies which segment it belongs to.
func PartedMorsels(p *values.Parted, size int) (segIdx []int, morsels []Morsel) {
	for i, seg := range p.Segments() {
		for _, m := range Morsels(seg.Len(), size) {
			segIdx = append(segIdx, i)
			morsels = append(morsels, m)
		}
	}
	return segIdx, morsels
}
