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

//go:build !windows

package heap

import "golang.org/x/sys/unix"

// hugeThreshold is the point above which a "large" allocation bypasses
// the Go runtime's allocator entirely and goes straight to an anonymous
// mmap, the way vm/malloc.go reserves a dedicated mapping for VM pages
// rather than letting large buffers churn through the garbage collector.
const hugeThreshold = 1 << 20 // 1MiB

func mmapLarge(n int) ([]byte, error) {
	return unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
}

func munmapLarge(mem []byte) error {
	return unix.Munmap(mem)
}
