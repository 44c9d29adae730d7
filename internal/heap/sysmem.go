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

package heap

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
)

// systemMemTotal caches the host's total usable DRAM, read once from
// /proc/meminfo on Linux. It stays zero (and should be ignored) on any
// other GOOS, or if the read fails -- unlike a standalone daemon's
// init(), a library has no business panicking just because its host
// doesn't expose /proc/meminfo.
var (
	systemMemTotal     int64
	systemMemTotalOnce sync.Once
)

// SystemMemTotal returns the host's total usable DRAM in bytes, or 0 if
// it could not be determined (non-Linux GOOS, or an unreadable/
// unparseable /proc/meminfo).
func SystemMemTotal() int64 {
	systemMemTotalOnce.Do(readSystemMemTotal)
	return atomic.LoadInt64(&systemMemTotal)
}

func readSystemMemTotal() {
	if runtime.GOOS != "linux" {
		return
	}
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return
	}
	defer f.Close()
	var kb int64
	for {
		n, err := fmt.Fscanf(f, "MemTotal: %d kB\n", &kb)
		if err != nil {
			return
		}
		if n > 0 {
			atomic.StoreInt64(&systemMemTotal, kb*1024)
			return
		}
	}
}
