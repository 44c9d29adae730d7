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

// Package session is the embeddable entry point: one Session per
// engine instance, owning the symbol table,
// worker pool, executor, planner, and table catalog a query needs, and
// exposing the handful of operations a REPL or an embedder drives --
// execute a statement batch, list and describe tables, run a script
// file, explain a query's plan, and read back memory/task statistics.
//
// Session assigns every Execute call a uuid.New() query id, the same
// per-request identifier convention cmd/snellerd's query handlers use
// (github.com/google/uuid), for correlating a batch's log lines with a
// specific caller.
package session

import (
	"os"

	"github.com/google/uuid"

	"github.com/vellumdb/vellum/internal/config"
	"github.com/vellumdb/vellum/internal/exec"
	"github.com/vellumdb/vellum/internal/heap"
	"github.com/vellumdb/vellum/internal/sql/ast"
	"github.com/vellumdb/vellum/internal/sql/lexer"
	"github.com/vellumdb/vellum/internal/sql/parser"
	"github.com/vellumdb/vellum/internal/sql/plan"
	"github.com/vellumdb/vellum/internal/symtab"
	"github.com/vellumdb/vellum/internal/table"
	"github.com/vellumdb/vellum/internal/values"
	"github.com/vellumdb/vellum/internal/verr"
	"github.com/vellumdb/vellum/internal/vlog"
	"github.com/vellumdb/vellum/internal/workerpool"
)

// Session is one engine instance: a symbol table, a table catalog, a
// worker pool, and the executor/planner pair built on top of them.
// A Session is safe for concurrent Execute calls; the catalog and the
// worker pool both guard their own state.
type Session struct {
	cfg     config.Config
	symbols *symtab.Table
	cat     *catalog
	pool    *workerpool.Pool
	ex      *exec.Executor
	planner *plan.Planner
}

// New builds a Session from cfg. Use config.Default() or config.Load
// to obtain one.
func New(cfg config.Config) *Session {
	heap.SetSlabClasses(cfg.ArenaSlabClasses)

	symbols := symtab.New()
	cat := newCatalog(cfg.StorageRoot, symbols)
	pool := workerpool.New(cfg.Workers)

	ex := exec.New(pool, symbols)
	if cfg.MorselSize > 0 {
		ex.MorselSize = cfg.MorselSize
	}
	if cfg.ParallelThreshold > 0 {
		ex.ParallelThreshold = cfg.ParallelThreshold
	}
	if cfg.DispatchMorsels > 0 {
		ex.DispatchMorsels = cfg.DispatchMorsels
	}

	return &Session{
		cfg:     cfg,
		symbols: symbols,
		cat:     cat,
		pool:    pool,
		ex:      ex,
		planner: plan.New(symbols, cat, ex),
	}
}

// Open is the convenience path a CLI driver uses: load cfgPath (or the
// built-in defaults if cfgPath is empty) and build a Session from it.
func Open(cfgPath string) (*Session, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	return New(cfg), nil
}

// parse lexes and parses sql into a statement list, returning a
// verr.Parse error that folds in every parser error message if parsing
// failed.
func parse(sql string) ([]ast.Statement, error) {
	l := lexer.New(sql)
	p := parser.New(l)
	prog := p.ParseProgram()
	if errs := p.Errors(); len(errs) > 0 {
		msg := errs[0]
		for _, e := range errs[1:] {
			msg += "; " + e
		}
		return nil, verr.Newf(verr.Parse, "session.Execute", "%s", msg)
	}
	return prog.Statements, nil
}

// Execute parses sql as a ';'-separated batch of statements and runs
// each in order against the Session's catalog, stopping at the first
// error. It returns the plan.Result for every statement that completed
// before the failing one; the failed statement has no entry.
func (s *Session) Execute(sql string) ([]plan.Result, error) {
	id := uuid.New().String()
	vlog.Stage(id, "session.execute", "bytes", len(sql))

	stmts, err := parse(sql)
	if err != nil {
		return nil, err
	}
	results := make([]plan.Result, 0, len(stmts))
	for _, stmt := range stmts {
		res, err := s.planner.Run(stmt)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// ExecuteScriptFile reads path and runs its contents through Execute,
// the batch-script entry point a REPL's `\i file.sql` or a migration
// runner needs.
func (s *Session) ExecuteScriptFile(path string) ([]plan.Result, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, verr.Wrap(verr.IO, "session.ExecuteScriptFile", err)
	}
	return s.Execute(string(buf))
}

// Explain parses sql and returns a dag.Graph dump for every SELECT it
// contains, without executing any of them -- planning never touches
// live data, so this is cheap even for a query the caller will never
// actually run.
func (s *Session) Explain(sql string) (string, error) {
	stmts, err := parse(sql)
	if err != nil {
		return "", err
	}
	var out string
	for i, stmt := range stmts {
		if i > 0 {
			out += "--\n"
		}
		dump, err := s.planner.Explain(stmt)
		if err != nil {
			return "", err
		}
		out += dump
	}
	return out, nil
}

// TableNames lists every table the catalog currently knows about, both
// in-memory and discoverable under the configured storage root.
func (s *Session) TableNames() []string {
	return s.cat.TableNames()
}

// ColumnInfo describes one column of a table, for TableInfo.
type ColumnInfo struct {
	Name string
	Type string
}

// TableInfo is the schema summary table_info(name) returns: the
// column list and row count of a registered table.
type TableInfo struct {
	Name    string
	Rows    int
	Columns []ColumnInfo
}

// TableInfo looks up name in the catalog and describes its schema. It
// returns a verr.InvalidInput error if no such table is registered.
func (s *Session) TableInfo(name string) (TableInfo, error) {
	t, ok := s.cat.Lookup(name)
	if !ok {
		return TableInfo{}, verr.Newf(verr.InvalidInput, "session.TableInfo", "no such table %q", name)
	}
	info := TableInfo{
		Name:    name,
		Rows:    t.NRows(),
		Columns: make([]ColumnInfo, t.NCols()),
	}
	for i := 0; i < t.NCols(); i++ {
		info.Columns[i] = ColumnInfo{
			Name: t.ColNameString(i),
			Type: t.GetColIdx(i).Code().String(),
		}
	}
	return info, nil
}

// RegisterTable adds t to the catalog under name, replacing any
// existing table of that name. It is how an embedder hands the engine
// an already-loaded table (e.g. from table.LoadCSV) without going
// through SQL DDL.
func (s *Session) RegisterTable(name string, t *values.Table) error {
	_, err := s.cat.CreateTable(name, t, true, false)
	return err
}

// Symbols returns the Session's shared symbol table, for callers that
// need to intern column names before building a *values.Table to
// register.
func (s *Session) Symbols() *symtab.Table { return s.symbols }

// LoadCSV reads path as a CSV/TSV file (table.LoadCSV's dialect
// sniffing) and registers the result under name, so it becomes
// queryable as `FROM name`.
func (s *Session) LoadCSV(name, path string) error {
	t, err := table.LoadCSV(path, s.symbols)
	if err != nil {
		return err
	}
	return s.RegisterTable(name, t)
}

// SaveTable persists the named table to dir as a single-segment
// splayed directory (table.WriteSplayed), so it can be picked back up
// by a later Session via the catalog's on-disk lookup path.
func (s *Session) SaveTable(name, dir string) error {
	t, ok := s.cat.Lookup(name)
	if !ok {
		return verr.Newf(verr.InvalidInput, "session.SaveTable", "no such table %q", name)
	}
	return table.WriteSplayed(dir, t)
}

// MemStats is the diagnostic snapshot MemStats() exposes: the shared
// heap's allocation counters alongside the worker pool's per-task
// timing stats.
type MemStats struct {
	Heap  heap.Stats
	Tasks workerpool.Stats
}

// MemStats reports the Session's current memory and task statistics.
func (s *Session) MemStats() MemStats {
	return MemStats{
		Heap:  heap.Snapshot(),
		Tasks: s.pool.Stats(),
	}
}

// Close tears the Session down: cancels any in-flight work and joins
// every worker goroutine, per workerpool.Pool.Destroy's ordered
// teardown contract.
func (s *Session) Close() {
	s.pool.Cancel()
	s.pool.Destroy()
}
