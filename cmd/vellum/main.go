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

// Command vellum is a thin REPL/batch driver over internal/session: it
// wires flags to config.Load, feeds stdin or -f script files to
// Session.Execute, and prints whatever table or acknowledgement comes
// back -- the same flag.FlagSet-based shape as cmd/sneller's CLI, cut
// down to the one embeddable engine it drives.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/vellumdb/vellum/debug"
	"github.com/vellumdb/vellum/internal/session"
	"github.com/vellumdb/vellum/internal/sql/plan"
	"github.com/vellumdb/vellum/internal/symtab"
	"github.com/vellumdb/vellum/internal/values"
)

var (
	dashConfig  string
	dashScript  string
	dashExplain bool
	dashTables  bool
	dashPprofFd int
	dashCSV     string
)

func init() {
	flag.StringVar(&dashConfig, "c", "", "path to a .vellumrc.yaml config file")
	flag.StringVar(&dashScript, "f", "", "run a ';'-separated SQL script file and exit")
	flag.BoolVar(&dashExplain, "explain", false, "print query plans instead of executing them")
	flag.BoolVar(&dashTables, "tables", false, "list registered tables and exit")
	flag.IntVar(&dashPprofFd, "pprof-fd", -1, "bind pprof handlers to an inherited file descriptor")
	flag.StringVar(&dashCSV, "csv", "", "name=path pairs (comma-separated) of CSV/TSV files to load before running")
}

func main() {
	flag.Parse()
	log.SetFlags(0)

	if dashPprofFd >= 0 {
		debug.Fd(dashPprofFd, log.Default())
	}

	sess, err := session.Open(dashConfig)
	if err != nil {
		fmt.Fprintln(os.Stderr, "vellum:", err)
		os.Exit(1)
	}
	defer sess.Close()

	if err := loadCSVFlag(sess, dashCSV); err != nil {
		fmt.Fprintln(os.Stderr, "vellum:", err)
		os.Exit(1)
	}

	if dashTables {
		for _, name := range sess.TableNames() {
			fmt.Println(name)
		}
		return
	}

	switch {
	case dashScript != "":
		runScript(sess, dashScript)
	case flag.NArg() > 0:
		runSQL(sess, strings.Join(flag.Args(), " "))
	default:
		repl(sess)
	}
}

func loadCSVFlag(sess *session.Session, spec string) error {
	if spec == "" {
		return nil
	}
	for _, pair := range strings.Split(spec, ",") {
		name, path, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("vellum: -csv entry %q is not name=path", pair)
		}
		if err := sess.LoadCSV(name, path); err != nil {
			return fmt.Errorf("vellum: loading %q: %w", name, err)
		}
	}
	return nil
}

func runScript(sess *session.Session, path string) {
	results, err := sess.ExecuteScriptFile(path)
	printResults(results, err)
	if err != nil {
		os.Exit(1)
	}
}

func runSQL(sess *session.Session, sql string) {
	if dashExplain {
		out, err := sess.Explain(sql)
		if err != nil {
			fmt.Fprintln(os.Stderr, "vellum:", err)
			os.Exit(1)
		}
		fmt.Print(out)
		return
	}
	results, err := sess.Execute(sql)
	printResults(results, err)
	if err != nil {
		os.Exit(1)
	}
}

func repl(sess *session.Session) {
	fmt.Println("vellum: interactive SQL. Statements end with ';'; \\q to quit, \\d lists tables.")
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var buf strings.Builder
	prompt := "vellum> "
	fmt.Print(prompt)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		switch trimmed {
		case `\q`:
			return
		case `\d`:
			for _, name := range sess.TableNames() {
				fmt.Println(name)
			}
			fmt.Print(prompt)
			continue
		}
		buf.WriteString(line)
		buf.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			runSQL(sess, buf.String())
			buf.Reset()
		}
		fmt.Print(prompt)
	}
}

func printResults(results []plan.Result, runErr error) {
	for _, res := range results {
		switch {
		case res.Query != nil:
			printTable(res.Query)
		case res.Ddl != "":
			fmt.Println(res.Ddl)
		}
	}
	if runErr != nil {
		fmt.Fprintln(os.Stderr, "vellum:", runErr)
	}
}

func printTable(q *plan.SqlResult) {
	t := q.Table
	defer t.Release()
	symbols := t.Symbols()
	fmt.Println(strings.Join(q.Columns, "\t"))
	n := t.NRows()
	for row := 0; row < n; row++ {
		cells := make([]string, t.NCols())
		for col := 0; col < t.NCols(); col++ {
			cells[col] = atomString(t.GetColIdx(col).At(row), symbols)
		}
		fmt.Println(strings.Join(cells, "\t"))
	}
}

// atomString renders a single cell for the REPL/script output. Sym
// atoms need the table's symbol table to turn their interned id back
// into text; every other code is self-describing.
func atomString(a values.Atom, symbols *symtab.Table) string {
	if a.IsNull() {
		return "NULL"
	}
	switch a.Code().Base() {
	case values.Bool:
		return strconv.FormatBool(a.Bool())
	case values.I32:
		return strconv.FormatInt(int64(a.I32()), 10)
	case values.I64:
		return strconv.FormatInt(a.I64(), 10)
	case values.F64:
		return strconv.FormatFloat(a.F64(), 'g', -1, 64)
	case values.Date:
		return strconv.FormatInt(int64(a.Date()), 10)
	case values.Time:
		return strconv.FormatInt(a.Time(), 10)
	case values.Timestamp:
		return strconv.FormatInt(a.Timestamp(), 10)
	case values.Sym:
		if s, ok := symbols.Str(a.Sym()); ok {
			return s
		}
		return "?sym"
	default:
		return "?"
	}
}
