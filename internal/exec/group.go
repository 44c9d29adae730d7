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

package exec

import (
	"encoding/binary"
	"math"

	"github.com/dchest/siphash"

	"github.com/vellumdb/vellum/internal/dag"
	"github.com/vellumdb/vellum/internal/heap"
	"github.com/vellumdb/vellum/internal/percentile"
	"github.com/vellumdb/vellum/internal/values"
	"github.com/vellumdb/vellum/internal/verr"
	"github.com/vellumdb/vellum/internal/workerpool"
)

// percentileCompression is the t-digest compression parameter (number
// of centroids retained) used for every OpApproxPercentile accumulator;
// higher trades memory for accuracy at the tails.
const percentileCompression = 100

// groupHash is the 128-bit siphash digest of an encoded key tuple, used
// as the bucket identity for the open-addressed hash aggregation
// spec.md section 4.7 describes; it is kept as two uint64s rather than
// a byte slice so it is directly comparable as a Go map key without an
// allocation per probe.
type groupHash struct{ lo, hi uint64 }

func hashKey(buf []byte) groupHash {
	lo, hi := siphash.Hash128(0, 0, buf)
	return groupHash{lo, hi}
}

// encodeKeyRow appends row i of each key vector to buf in a fixed,
// type-tagged binary form so that two rows with the same logical key
// values always encode identically regardless of underlying storage.
func encodeKeyRow(buf []byte, keys []*values.Vector, row int) []byte {
	var tmp [9]byte
	for _, k := range keys {
		if k.Nulls().Get(row) {
			tmp[0] = 0xff
			buf = append(buf, tmp[0])
			continue
		}
		tmp[0] = 0x01
		switch k.Code().Base() {
		case values.Bool:
			b := byte(0)
			if k.Bools()[row] {
				b = 1
			}
			buf = append(buf, tmp[0], b)
		case values.I32, values.Date:
			binary.LittleEndian.PutUint32(tmp[1:5], uint32(k.I32s()[row]))
			buf = append(buf, tmp[:5]...)
		case values.I64, values.Time, values.Timestamp:
			binary.LittleEndian.PutUint64(tmp[1:9], uint64(k.I64s()[row]))
			buf = append(buf, tmp[:9]...)
		case values.F64:
			binary.LittleEndian.PutUint64(tmp[1:9], math.Float64bits(k.F64s()[row]))
			buf = append(buf, tmp[:9]...)
		case values.Sym:
			binary.LittleEndian.PutUint64(tmp[1:9], uint64(k.Syms()[row]))
			buf = append(buf, tmp[:9]...)
		}
	}
	return buf
}

// aggState is a single aggregate's running accumulator for one group.
// SUM/AVG/STDDEV/VARIANCE widen to F64, matching the teacher convention
// of computing floating aggregates in F64 regardless of input width;
// MIN/MAX/FIRST/LAST preserve the input's atom type.
type aggState struct {
	op          dag.Op
	count       int64 // rows seen (for COUNT(*))
	nonNull     int64 // non-NULL rows seen (for COUNT(x), AVG, STDDEV)
	sum         float64
	sumSq       float64
	minmax      values.Atom
	minmaxSet   bool
	first       values.Atom
	firstRow    int
	firstSet    bool
	last        values.Atom
	lastRow     int
	distinct    map[groupHash]struct{}
	outCode     values.Code
	frac        float64 // target fraction for OpApproxPercentile
	samples     []float32
}

// outputCodeFor reports the output Code of an aggregate op, widening
// floating aggregates to F64 and COUNT-family ops to I64 regardless of
// the input's storage type.
func outputCodeFor(op dag.Op, inCode values.Code) values.Code {
	switch op {
	case dag.OpSum, dag.OpAvg, dag.OpStddev, dag.OpStddevPop, dag.OpVariance, dag.OpVariancePop, dag.OpProd, dag.OpApproxPercentile:
		return values.F64
	case dag.OpCount, dag.OpCountStar, dag.OpCountDistinct:
		return values.I64
	default:
		return inCode.Base()
	}
}

func newAggState(op dag.Op, inCode values.Code, frac float64) *aggState {
	a := &aggState{op: op, outCode: outputCodeFor(op, inCode), frac: frac}
	if op == dag.OpCountDistinct {
		a.distinct = make(map[groupHash]struct{})
	}
	return a
}

// accumulate folds row's value (or its absence, for COUNT_STAR) into a.
func (a *aggState) accumulate(row int, input *values.Vector) {
	a.count++
	if a.op == dag.OpCountStar {
		return
	}
	if input == nil || input.Nulls().Get(row) {
		return
	}
	a.nonNull++
	val := input.Get(row)
	switch a.op {
	case dag.OpSum, dag.OpAvg, dag.OpStddev, dag.OpStddevPop, dag.OpVariance, dag.OpVariancePop:
		f := val.AsF64()
		a.sum += f
		a.sumSq += f * f
	case dag.OpProd:
		if !a.minmaxSet {
			a.minmax = val
			a.minmaxSet = true
		} else {
			a.minmax = values.NewF64Atom(a.minmax.AsF64() * val.AsF64())
		}
	case dag.OpMin:
		if !a.minmaxSet || compare(val, a.minmax) < 0 {
			a.minmax = val
			a.minmaxSet = true
		}
	case dag.OpMax:
		if !a.minmaxSet || compare(val, a.minmax) > 0 {
			a.minmax = val
			a.minmaxSet = true
		}
	case dag.OpFirst:
		if !a.firstSet || row < a.firstRow {
			a.first = val
			a.firstRow = row
			a.firstSet = true
		}
	case dag.OpLast:
		if !a.firstSet || row > a.lastRow {
			a.last = val
			a.lastRow = row
			a.firstSet = true
		}
	case dag.OpCountDistinct:
		var buf []byte
		buf = encodeKeyRow(buf, []*values.Vector{input}, row)
		a.distinct[hashKey(buf)] = struct{}{}
	case dag.OpApproxPercentile:
		a.samples = append(a.samples, float32(val.AsF64()))
	}
}

// merge folds another partial accumulator (from a different parallel
// chunk) into a, per spec.md's phase-2 "merge across threads."
func (a *aggState) merge(b *aggState) {
	a.count += b.count
	a.nonNull += b.nonNull
	switch a.op {
	case dag.OpSum, dag.OpAvg, dag.OpStddev, dag.OpStddevPop, dag.OpVariance, dag.OpVariancePop:
		a.sum += b.sum
		a.sumSq += b.sumSq
	case dag.OpProd:
		if b.minmaxSet {
			if !a.minmaxSet {
				a.minmax, a.minmaxSet = b.minmax, true
			} else {
				a.minmax = values.NewF64Atom(a.minmax.AsF64() * b.minmax.AsF64())
			}
		}
	case dag.OpMin:
		if b.minmaxSet && (!a.minmaxSet || compare(b.minmax, a.minmax) < 0) {
			a.minmax, a.minmaxSet = b.minmax, true
		}
	case dag.OpMax:
		if b.minmaxSet && (!a.minmaxSet || compare(b.minmax, a.minmax) > 0) {
			a.minmax, a.minmaxSet = b.minmax, true
		}
	case dag.OpFirst:
		if b.firstSet && (!a.firstSet || b.firstRow < a.firstRow) {
			a.first, a.firstRow, a.firstSet = b.first, b.firstRow, true
		}
	case dag.OpLast:
		if b.firstSet && (!a.firstSet || b.lastRow > a.lastRow) {
			a.last, a.lastRow, a.firstSet = b.last, b.lastRow, true
		}
	case dag.OpCountDistinct:
		for h := range b.distinct {
			a.distinct[h] = struct{}{}
		}
	case dag.OpApproxPercentile:
		a.samples = append(a.samples, b.samples...)
	}
}

// finalize produces the output Atom for this accumulator, applying the
// per-op NULL/edge-case semantics from spec.md section 8: COUNT(*) on
// empty is 0 (not reachable here -- GROUP BY always has >=1 row per
// group); MIN/MAX propagate NULL only when every row was NULL; STDDEV/
// VARIANCE sample on a single element is NaN; STDDEV_POP/VAR_POP on a
// single element is 0; division by zero (AVG of 0 rows) is NaN.
func (a *aggState) finalize() values.Atom {
	switch a.op {
	case dag.OpSum:
		if a.nonNull == 0 {
			return values.NewF64Atom(0)
		}
		return values.NewF64Atom(a.sum)
	case dag.OpAvg:
		if a.nonNull == 0 {
			return values.NewF64Atom(math.NaN())
		}
		return values.NewF64Atom(a.sum / float64(a.nonNull))
	case dag.OpProd:
		if !a.minmaxSet {
			return values.NewF64Atom(1)
		}
		return values.NewF64Atom(a.minmax.AsF64())
	case dag.OpMin, dag.OpMax:
		if !a.minmaxSet {
			return values.NullAtom(a.outCode)
		}
		return a.minmax
	case dag.OpFirst:
		if !a.firstSet {
			return values.NullAtom(a.outCode)
		}
		return a.first
	case dag.OpLast:
		if !a.firstSet {
			return values.NullAtom(a.outCode)
		}
		return a.last
	case dag.OpCount:
		return values.NewI64Atom(a.nonNull)
	case dag.OpCountStar:
		return values.NewI64Atom(a.count)
	case dag.OpCountDistinct:
		return values.NewI64Atom(int64(len(a.distinct)))
	case dag.OpStddev, dag.OpVariance:
		if a.nonNull < 2 {
			return values.NewF64Atom(math.NaN())
		}
		v := sampleVariance(a.sum, a.sumSq, a.nonNull)
		if a.op == dag.OpVariance {
			return values.NewF64Atom(v)
		}
		return values.NewF64Atom(math.Sqrt(v))
	case dag.OpStddevPop, dag.OpVariancePop:
		if a.nonNull == 0 {
			return values.NewF64Atom(math.NaN())
		}
		if a.nonNull == 1 {
			if a.op == dag.OpVariancePop {
				return values.NewF64Atom(0)
			}
			return values.NewF64Atom(0)
		}
		v := popVariance(a.sum, a.sumSq, a.nonNull)
		if a.op == dag.OpVariancePop {
			return values.NewF64Atom(v)
		}
		return values.NewF64Atom(math.Sqrt(v))
	case dag.OpApproxPercentile:
		if len(a.samples) == 0 {
			return values.NewF64Atom(math.NaN())
		}
		td := percentile.NewTDigest(a.samples, percentileCompression)
		return values.NewF64Atom(float64(td.Percentile(float32(a.frac))))
	default:
		return values.NullAtom(a.outCode)
	}
}

func sampleVariance(sum, sumSq float64, n int64) float64 {
	mean := sum / float64(n)
	return (sumSq - float64(n)*mean*mean) / float64(n-1)
}

func popVariance(sum, sumSq float64, n int64) float64 {
	mean := sum / float64(n)
	return (sumSq - float64(n)*mean*mean) / float64(n)
}

// groupState is one hash table's worth of (key -> per-group aggregate
// states), the unit that phase 1 builds per-thread and phase 2 merges.
type groupState struct {
	order   []groupHash // first-seen order, for deterministic output
	reprRow map[groupHash]int
	aggs    map[groupHash][]*aggState
}

func newGroupState() *groupState {
	return &groupState{reprRow: make(map[groupHash]int), aggs: make(map[groupHash][]*aggState)}
}

func (s *groupState) get(h groupHash, row int, specs []dag.AggSpec, aggInputs []*values.Vector) []*aggState {
	if a, ok := s.aggs[h]; ok {
		return a
	}
	a := make([]*aggState, len(specs))
	for i, spec := range specs {
		var inCode values.Code
		if aggInputs[i] != nil {
			inCode = aggInputs[i].Code()
		}
		a[i] = newAggState(spec.Op, inCode, spec.Frac)
	}
	s.aggs[h] = a
	s.reprRow[h] = row
	s.order = append(s.order, h)
	return a
}

func (s *groupState) mergeFrom(other *groupState) {
	for _, h := range other.order {
		if existing, ok := s.aggs[h]; ok {
			for i, a := range existing {
				a.merge(other.aggs[h][i])
			}
		} else {
			s.aggs[h] = other.aggs[h]
			s.reprRow[h] = other.reprRow[h]
			s.order = append(s.order, h)
		}
	}
}

// evalGroup implements GROUP per spec.md section 4.7: two-phase
// open-addressed hash aggregation (phase 1 builds per-chunk partial
// tables in parallel when the input is large; phase 2 merges them
// sequentially, terminating early once HeadLimit distinct groups have
// been emitted if a HEAD fusion was applied). A selection mask
// attached to the graph and pushed onto this GROUP's scan inputs
// (optimize.propagateSelection) masks rows out of phase 1 entirely.
func (ex *Executor) evalGroup(qc *queryCtx, id dag.ID) (*values.Table, error) {
	n := qc.g.Nodes[id]
	in, err := ex.inputTable(qc, n.Inputs[0], n.SourceIdx)
	if err != nil {
		return nil, err
	}
	defer in.Release()
	ext := qc.g.GroupExtOf(id)
	src := &scanSource{table: in}

	keyVecs := make([]*values.Vector, len(ext.Keys))
	for i, k := range ext.Keys {
		keyVecs[i], err = ex.evalVec(qc, src, k)
		if err != nil {
			return nil, err
		}
	}
	aggInputs := make([]*values.Vector, len(ext.Aggs))
	for i, a := range ext.Aggs {
		if a.Op == dag.OpCountStar {
			continue
		}
		aggInputs[i], err = ex.evalVec(qc, src, a.Input)
		if err != nil {
			return nil, err
		}
	}

	nrows := in.NRows()
	var selMask *values.Vector
	if qc.g.Selection != dag.ID(-1) {
		selMask, err = ex.evalVec(qc, src, qc.g.Selection)
		if err != nil {
			return nil, err
		}
	}

	buildChunk := func(start, end int) *groupState {
		state := newGroupState()
		var buf []byte
		for row := start; row < end; row++ {
			if selMask != nil && (selMask.Nulls().Get(row) || !selMask.Bools()[row]) {
				continue
			}
			buf = buf[:0]
			buf = encodeKeyRow(buf, keyVecs, row)
			h := hashKey(buf)
			states := state.get(h, row, ext.Aggs, aggInputs)
			for i, a := range states {
				var input *values.Vector
				if ext.Aggs[i].Op != dag.OpCountStar {
					input = aggInputs[i]
				}
				a.accumulate(row, input)
			}
		}
		return state
	}

	var merged *groupState
	if ex.parallel(nrows) {
		morsels := Morsels(nrows, ex.MorselSize)
		partials := make([]*groupState, len(morsels))
		tasks := make([]workerpool.Task, len(morsels))
		for mi, m := range morsels {
			mi, m := mi, m
			tasks[mi] = func(arena *heap.Arena) error {
				if err := ex.checkCancel(); err != nil {
					return err
				}
				partials[mi] = buildChunk(m.Start, m.Start+m.Len)
				return nil
			}
		}
		if err := ex.Pool.Run(tasks); err != nil {
			return nil, err
		}
		merged = newGroupState()
		for _, p := range partials {
			merged.mergeFrom(p)
			if ext.HeadLimit >= 0 && len(merged.order) >= ext.HeadLimit {
				break
			}
		}
	} else {
		merged = buildChunk(0, nrows)
	}

	order := merged.order
	if ext.HeadLimit >= 0 && len(order) > ext.HeadLimit {
		order = order[:ext.HeadLimit]
	}

	out := values.NewTable(ex.Symbols)
	for ki, k := range ext.Keys {
		keyCol := values.NewVector(qc.g.Nodes[k].OutType, len(order))
		for _, h := range order {
			row := merged.reprRow[h]
			a := keyVecs[ki].Get(row)
			keyCol = keyCol.Append(a, a.IsNull())
		}
		name := ex.Symbols.Intern(ext.KeyAliases[ki])
		if err := out.AddCol(name, values.AsColumn(keyCol)); err != nil {
			return nil, verr.Wrap(verr.SchemaMismatch, "exec.evalGroup", err)
		}
	}
	for ai, spec := range ext.Aggs {
		var inCode values.Code
		if aggInputs[ai] != nil {
			inCode = aggInputs[ai].Code()
		}
		outCode := outputCodeFor(spec.Op, inCode)
		col := values.NewVector(outCode, len(order))
		for _, h := range order {
			states := merged.aggs[h]
			a := states[ai].finalize()
			col = col.Append(a, a.IsNull())
		}
		if err := out.AddCol(ex.Symbols.Intern(spec.Alias), values.AsColumn(col)); err != nil {
			return nil, verr.Wrap(verr.SchemaMismatch, "exec.evalGroup", err)
		}
	}

	if ext.Having != dag.ID(-1) {
		havingSrc := &scanSource{table: out}
		pred, err := ex.evalVec(qc, havingSrc, ext.Having)
		if err != nil {
			return nil, err
		}
		idx, err := ex.selectedIndices(pred, -1)
		if err != nil {
			return nil, err
		}
		filtered, err := gatherTable(ex, out, idx)
		out.Release()
		return filtered, err
	}
	return out, nil
}
