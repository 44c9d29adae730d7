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

package table

import (
	"encoding/binary"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v2"

	"github.com/vellumdb/vellum/compr"
	"github.com/vellumdb/vellum/internal/symtab"
	"github.com/vellumdb/vellum/internal/values"
)

// schemaFile is the name of the splayed/parted descriptor: column
// order, codes, and (for a parted table) segment file names, stored as
// YAML in the same spirit as the engine's own .vellumrc.yaml config
// (internal/config), rather than a bespoke binary header.
const schemaFile = "schema.yaml"

// schemaCol is one column's on-disk descriptor.
type schemaCol struct {
	Name string `yaml:"name"`
	Code int8   `yaml:"code"`
}

// schemaDoc is the root of schema.yaml. Segments is empty for a
// splayed (single-segment) table and has one entry per partition for
// a parted one.
type schemaDoc struct {
	Columns  []schemaCol `yaml:"columns"`
	Segments []string    `yaml:"segments,omitempty"`
	Digest   string      `yaml:"digest"`
}

// digest hashes the column layout (names, codes, segment list) so a
// reader can cheaply tell whether a cached schema still matches the
// directory contents, the same role blake2b-256 plays for sneller's
// blockfmt index digests (ion/blockfmt/fs.go, fsenv.go).
func digest(doc schemaDoc) string {
	h, _ := blake2b.New256(nil)
	for _, c := range doc.Columns {
		fmt.Fprintf(h, "%s:%d;", c.Name, c.Code)
	}
	for _, s := range doc.Segments {
		fmt.Fprintf(h, "%s;", s)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// WriteSplayed writes t to dir as a single-segment splayed table: one
// zstd-compressed column file per column plus schema.yaml, per
// spec.md section 4.8's `read_splayed(path)` counterpart loader.
func WriteSplayed(dir string, t *values.Table) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	doc := schemaDoc{}
	for i := 0; i < t.NCols(); i++ {
		name := t.ColNameString(i)
		col := t.GetColIdx(i)
		doc.Columns = append(doc.Columns, schemaCol{Name: name, Code: int8(col.Code())})
		v, ok := asVector(col)
		if !ok {
			return fmt.Errorf("table.WriteSplayed: column %q is not flat", name)
		}
		if err := writeColumnFile(filepath.Join(dir, colFileName(name)), v, t.Symbols()); err != nil {
			return err
		}
	}
	doc.Digest = digest(doc)
	return writeSchema(dir, doc)
}

// WriteParted writes one segment per entry of segments (each itself a
// Table sharing the same column layout) under dir/<segment name>/,
// plus a top-level schema.yaml naming the segment directories, so
// LoadParted can reassemble a values.Parted column per column without
// re-scanning the directory tree.
func WriteParted(dir string, segments []*values.Table, segmentNames []string) error {
	if len(segments) != len(segmentNames) {
		return fmt.Errorf("table.WriteParted: %d segments but %d names", len(segments), len(segmentNames))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	var doc schemaDoc
	if len(segments) > 0 {
		first := segments[0]
		for i := 0; i < first.NCols(); i++ {
			doc.Columns = append(doc.Columns, schemaCol{
				Name: first.ColNameString(i),
				Code: int8(first.GetColIdx(i).Code()),
			})
		}
	}
	for i, seg := range segments {
		segDir := filepath.Join(dir, segmentNames[i])
		if err := os.MkdirAll(segDir, 0o755); err != nil {
			return err
		}
		for c := 0; c < seg.NCols(); c++ {
			name := seg.ColNameString(c)
			v, ok := asVector(seg.GetColIdx(c))
			if !ok {
				return fmt.Errorf("table.WriteParted: column %q is not flat", name)
			}
			if err := writeColumnFile(filepath.Join(segDir, colFileName(name)), v, seg.Symbols()); err != nil {
				return err
			}
		}
		doc.Segments = append(doc.Segments, segmentNames[i])
	}
	doc.Digest = digest(doc)
	return writeSchema(dir, doc)
}

// LoadSplayed reads a table directory written by WriteSplayed.
func LoadSplayed(dir string, symbols *symtab.Table) (*values.Table, error) {
	doc, err := readSchema(dir)
	if err != nil {
		return nil, err
	}
	out := values.NewTable(symbols)
	for _, c := range doc.Columns {
		v, err := readColumnFile(filepath.Join(dir, colFileName(c.Name)), values.Code(c.Code), symbols)
		if err != nil {
			out.Release()
			return nil, err
		}
		if err := out.AddCol(symbols.Intern(c.Name), values.AsColumn(v)); err != nil {
			v.Release()
			out.Release()
			return nil, err
		}
		v.Release()
	}
	return out, nil
}

// LoadParted reads a table directory written by WriteParted, producing
// one values.Parted column per logical column made of that column's
// per-segment vector, per the GLOSSARY's "Parted column" entry and
// spec.md section 4.7's per-segment morsel dispatch for parted inputs.
func LoadParted(dir string, symbols *symtab.Table) (*values.Table, error) {
	doc, err := readSchema(dir)
	if err != nil {
		return nil, err
	}
	segVecs := make([][]*values.Vector, len(doc.Columns))
	for _, segName := range doc.Segments {
		segDir := filepath.Join(dir, segName)
		for ci, c := range doc.Columns {
			v, err := readColumnFile(filepath.Join(segDir, colFileName(c.Name)), values.Code(c.Code), symbols)
			if err != nil {
				return nil, err
			}
			segVecs[ci] = append(segVecs[ci], v)
		}
	}
	out := values.NewTable(symbols)
	for ci, c := range doc.Columns {
		parted, err := values.NewParted(segVecs[ci])
		if err != nil {
			out.Release()
			return nil, err
		}
		for _, v := range segVecs[ci] {
			v.Release()
		}
		if err := out.AddCol(symbols.Intern(c.Name), parted); err != nil {
			parted.Release()
			out.Release()
			return nil, err
		}
		parted.Release()
	}
	return out, nil
}

func colFileName(name string) string { return name + ".zst" }

func writeSchema(dir string, doc schemaDoc) error {
	buf, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(filepath.Join(dir, schemaFile), buf, 0o644)
}

func readSchema(dir string) (schemaDoc, error) {
	var doc schemaDoc
	buf, err := ioutil.ReadFile(filepath.Join(dir, schemaFile))
	if err != nil {
		return doc, err
	}
	if err := yaml.Unmarshal(buf, &doc); err != nil {
		return doc, err
	}
	return doc, nil
}

func asVector(col values.Column) (*values.Vector, bool) {
	type underlying interface{ Underlying() *values.Vector }
	if u, ok := col.(underlying); ok {
		return u.Underlying(), true
	}
	if v, ok := col.(*values.Vector); ok {
		return v, true
	}
	return nil, false
}

// columnCompression names the compr.Compressor/Decompressor this
// format uses for column files; compr.Compression dispatches it to a
// tuned klauspost/compress/zstd encoder, the same library the
// uncompressed-length-prefix framing below lets us drive through
// compr's fixed-destination-buffer Decompressor interface
// (compr/compression.go) rather than zstd's own streaming reader.
const columnCompression = "zstd"

// writeColumnFile encodes a vector's logical values as a simple
// length-prefixed, fixed-width binary payload (a null bitmap run
// followed by the raw element bytes), then writes a 4-byte
// uncompressed-length header followed by the compr-compressed bytes.
// The header lets readColumnFile size its destination buffer up
// front, which compr.Decompressor requires.
func writeColumnFile(path string, v *values.Vector, symbols *symtab.Table) error {
	raw := encodeVector(v, symbols)
	c := compr.Compression(columnCompression)
	compressed := c.Compress(raw, nil)
	out := make([]byte, 4, 4+len(compressed))
	binary.LittleEndian.PutUint32(out, uint32(len(raw)))
	out = append(out, compressed...)
	return ioutil.WriteFile(path, out, 0o644)
}

func readColumnFile(path string, code values.Code, symbols *symtab.Table) (*values.Vector, error) {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(buf) < 4 {
		return nil, fmt.Errorf("table: truncated column file %q", path)
	}
	rawLen := binary.LittleEndian.Uint32(buf)
	compressed := buf[4:]
	raw := make([]byte, rawLen)
	d := compr.Decompression(columnCompression)
	if err := d.Decompress(compressed, raw); err != nil {
		return nil, fmt.Errorf("table: decompressing %q: %w", path, err)
	}
	return decodeVector(raw, code, symbols)
}

// encodeVector lays out: int32 length, then one byte per row for the
// null bitmap (1 = null), then the row's raw value bytes for non-null
// rows in row order (the inferColumnCode/parseField CSV path never
// produces Date/Time/Timestamp columns, so only the four codes below
// need encoders here).
func encodeVector(v *values.Vector, symbols *symtab.Table) []byte {
	n := v.Len()
	buf := make([]byte, 4, 4+n*9)
	binary.LittleEndian.PutUint32(buf, uint32(n))
	for i := 0; i < n; i++ {
		if v.Nulls().Get(i) {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	for i := 0; i < n; i++ {
		if v.Nulls().Get(i) {
			continue
		}
		a := v.Get(i)
		switch v.Code().Base() {
		case values.Bool:
			b := byte(0)
			if a.Bool() {
				b = 1
			}
			buf = append(buf, b)
		case values.I64:
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], uint64(a.I64()))
			buf = append(buf, tmp[:]...)
		case values.F64:
			var tmp [8]byte
			binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(a.F64()))
			buf = append(buf, tmp[:]...)
		case values.Sym:
			s, _ := symbols.Str(a.Sym())
			lenBuf := make([]byte, 2)
			binary.LittleEndian.PutUint16(lenBuf, uint16(len(s)))
			buf = append(buf, lenBuf...)
			buf = append(buf, s...)
		}
	}
	return buf
}

func decodeVector(raw []byte, code values.Code, symbols *symtab.Table) (*values.Vector, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("table: truncated column file")
	}
	n := int(binary.LittleEndian.Uint32(raw))
	pos := 4
	if pos+n > len(raw) {
		return nil, fmt.Errorf("table: truncated column null mask")
	}
	nullMask := raw[pos : pos+n]
	pos += n

	v := values.NewVector(code, n)
	for i := 0; i < n; i++ {
		if nullMask[i] == 1 {
			v = v.Append(values.NullAtom(code), true)
			continue
		}
		switch code.Base() {
		case values.Bool:
			v = v.Append(values.NewBoolAtom(raw[pos] == 1), false)
			pos++
		case values.I64:
			x := int64(binary.LittleEndian.Uint64(raw[pos : pos+8]))
			v = v.Append(values.NewI64Atom(x), false)
			pos += 8
		case values.F64:
			bits := binary.LittleEndian.Uint64(raw[pos : pos+8])
			v = v.Append(values.NewF64Atom(math.Float64frombits(bits)), false)
			pos += 8
		case values.Sym:
			slen := int(binary.LittleEndian.Uint16(raw[pos : pos+2]))
			pos += 2
			s := string(raw[pos : pos+slen])
			pos += slen
			v = v.Append(values.NewSymAtom(symbols.Intern(s)), false)
		default:
			return nil, fmt.Errorf("table: unsupported on-disk code %v", code)
		}
	}
	return v, nil
}
