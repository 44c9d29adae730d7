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

// Package config loads the optional session configuration file that
// tunes the knobs spec.md leaves to the implementation: worker count,
// morsel size, the parallel-dispatch threshold, and the default storage
// root used to resolve read_splayed/read_parted paths.
package config

import (
	"os"

	"gopkg.in/yaml.v2"

	"github.com/vellumdb/vellum/internal/verr"
)

// Config holds the tunables an embedder or the REPL may override via
// .vellumrc.yaml. Zero values mean "let the engine pick a default."
type Config struct {
	Workers             int    `yaml:"workers"`
	MorselSize          int    `yaml:"morsel_size"`
	ParallelThreshold   int    `yaml:"parallel_threshold"`
	DispatchMorsels     int    `yaml:"dispatch_morsels"`
	StorageRoot         string `yaml:"storage_root"`
	ArenaSlabClasses     []int `yaml:"arena_slab_classes"`
}

// Default returns the engine's built-in tunables, matching the values
// named throughout spec.md section 4.7 (1024-element morsels, a
// ~64-morsel parallel threshold).
func Default() Config {
	return Config{
		Workers:           0, // 0 == auto-detect, per spec.md 4.6
		MorselSize:        1024,
		ParallelThreshold: 64 * 1024,
		DispatchMorsels:   16,
		StorageRoot:       ".",
		ArenaSlabClasses:  []int{16, 32, 64, 128, 256, 512, 1024, 4096, 16384},
	}
}

// Load reads a YAML config file and overlays it on top of Default().
// A missing file is not an error; it just yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, verr.Wrap(verr.IO, "config.Load", err)
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, verr.Wrap(verr.InvalidInput, "config.Load", err)
	}
	return cfg, nil
}
