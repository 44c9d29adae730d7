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
	"io/fs"
	"os"
	"path"
	"sort"

	"github.com/vellumdb/vellum/fsutil"
)

// ListTables walks root looking for splayed/parted table directories
// (any directory directly containing schema.yaml) and returns their
// paths relative to root, sorted lexically. It backs session's
// table_names() catalog discovery over a directory of splayed/parted
// tables, using fsutil.WalkDir the same way the teacher walks a data
// root looking for index/blockfmt directories.
func ListTables(root string) ([]string, error) {
	fsys := os.DirFS(root)
	var names []string
	err := fsutil.WalkDir(fsys, ".", "", "", func(p string, d fsutil.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p == "." {
			return nil
		}
		if _, statErr := fs.Stat(fsys, path.Join(p, schemaFile)); statErr == nil {
			names = append(names, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}
