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

// Package vlog is a global diagnostic hook, set once at process start
// and read from every hot path in the engine without requiring each
// package to carry a *log.Logger field.
package vlog

import "fmt"

// Printf is a global diagnostic function that can be set during init()
// to capture additional diagnostic information from the engine. It is
// nil by default, matching the library's "silent unless asked" default.
var Printf func(f string, args ...any)

// Errorf is the error-level counterpart of Printf; the CLI driver wires
// both to the same sink but callers use Errorf for conditions worth
// surfacing even when verbose logging is off.
var Errorf func(f string, args ...any)

func logf(f string, args ...any) {
	if Printf != nil {
		Printf(f, args...)
	}
}

func errf(f string, args ...any) {
	if Errorf != nil {
		Errorf(f, args...)
	}
}

// Stage logs a single executor stage transition: query id, stage name,
// and any key=value detail pairs (morsel counts, row counts, etc).
func Stage(queryID, stage string, detail ...any) {
	if Printf == nil {
		return
	}
	msg := fmt.Sprintf("query=%s stage=%s", queryID, stage)
	for i := 0; i+1 < len(detail); i += 2 {
		msg += fmt.Sprintf(" %v=%v", detail[i], detail[i+1])
	}
	logf("%s", msg)
}

// Error logs an operational error with context, without altering the
// error value itself (it is still returned up the call stack normally).
func Error(op string, err error) {
	errf("%s: %v", op, err)
}
