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

package sort

import "math"

// Float64SortKey maps f to a uint64 whose unsigned ordering matches
// f's IEEE-754 total order: flip the sign bit for non-negative values,
// flip every bit for negative ones. isSortedAscFloat64/isSortedDescFloat64
// operate on exactly this kind of key.
func Float64SortKey(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

// IsSortedAscFloat64Keys reports whether keys (as produced by
// Float64SortKey) is already non-decreasing.
func IsSortedAscFloat64Keys(keys []uint64) bool { return isSortedAscFloat64(keys) }

// IsSortedDescFloat64Keys reports whether keys (as produced by
// Float64SortKey) is already non-increasing.
func IsSortedDescFloat64Keys(keys []uint64) bool { return isSortedDescFloat64(keys) }
