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

// Package verr defines the error kinds shared by every layer of the
// engine, from the heap up through the SQL planner.
//
// The C layer that spec.md describes returns sentinel pointers in place
// of allocations so that an error can travel through the same return
// channel as a valid value; we have no such channel in Go, so Kind plays
// the role of the sentinel's integer tag and *Error plays the role of
// the out-of-band message that would otherwise require a side channel.
package verr

import "fmt"

// Kind enumerates the error categories the engine can raise. The first
// block mirrors the native-layer kinds from spec.md section 7; the
// parser/planner kinds are layered on top since they never occur below
// the SQL planner.
type Kind int

const (
	OOM Kind = iota
	TypeMismatch
	NumericRange
	LengthMismatch
	RankMismatch
	Domain
	NotImplemented
	IO
	SchemaMismatch
	CorruptData
	Cancelled
	InvalidInput
	NullPointer
	NotInitialized
	RuntimeUnavailable

	// planner-only kinds
	Parse
	Plan
)

func (k Kind) String() string {
	switch k {
	case OOM:
		return "out of memory"
	case TypeMismatch:
		return "type mismatch"
	case NumericRange:
		return "numeric range"
	case LengthMismatch:
		return "length mismatch"
	case RankMismatch:
		return "rank mismatch"
	case Domain:
		return "domain error"
	case NotImplemented:
		return "not yet implemented"
	case IO:
		return "i/o error"
	case SchemaMismatch:
		return "schema mismatch"
	case CorruptData:
		return "corrupt data"
	case Cancelled:
		return "cancelled"
	case InvalidInput:
		return "invalid input"
	case NullPointer:
		return "null pointer"
	case NotInitialized:
		return "engine not initialized"
	case RuntimeUnavailable:
		return "runtime unavailable"
	case Parse:
		return "parse error"
	case Plan:
		return "plan error"
	default:
		return "unknown error"
	}
}

// Error is the typed error carried across every package boundary in the
// engine. Op names the operation that failed (e.g. "group.Run",
// "sql.Parse"); Msg is a human-readable detail string in the style of
// plan/pir's errorf, which always names the offending construct.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, verr.Cancelled) work by comparing Kind values
// wrapped in a bare *Error with no message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Newf builds an *Error the way plan/pir.errorf builds a *pir.Error:
// one call site, one kind, one formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind/op context to an underlying error without losing it.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: err.Error(), Err: err}
}

// Sentinel returns a bare *Error carrying only a Kind, suitable for use
// with errors.Is, mirroring a spec.md sentinel pointer: a value that
// signals "this is kind K" and nothing more.
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }

// Recoverable reports whether the session and runtime remain usable
// after err. Only a *Error of kind NotInitialized (the engine failed to
// initialize) is reported as not recoverable; every other kind, OOM
// included, and any non-*Error value is reported as recoverable.
func Recoverable(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return true
	}
	return e.Kind != NotInitialized
}
