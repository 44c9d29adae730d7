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

import "sync/atomic"

// refcount is the atomically-updated reference count every Vector and
// Table carries, per spec.md section 3's 32-byte header description.
// It is allocated on its own so that a COW clone gets a fresh counter
// while a retained alias shares the original.
type refcount struct {
	n int32
}

func newRefcount() *refcount { return &refcount{n: 1} }

// Count returns the current reference count. It exists primarily for
// the refcount-balance property tests described in spec.md section 8.
func (r *refcount) Count() int32 {
	return atomic.LoadInt32(&r.n)
}

func (r *refcount) retain() {
	atomic.AddInt32(&r.n, 1)
}

// release decrements the count and reports whether it reached zero,
// i.e. whether the caller is now responsible for tearing down the
// value.
func (r *refcount) release() bool {
	return atomic.AddInt32(&r.n, -1) == 0
}

// Refcounted is implemented by every value-model type (Vector, Table,
// Parted, MapCommon) so that generic graph/executor code can retain
// and release values without a type switch, mirroring the single
// retain/release pair spec.md section 4.1 specifies as "the only
// mutation primitives for lifetime."
type Refcounted interface {
	Retain()
	Release()
	RefCount() int32
}
