// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"github.com/BurntSushi/toml"
)

const (
	// DefaultMaxMatches bounds the working set when a query gives no limit.
	DefaultMaxMatches = 1000
	// DefaultCheckEvery is how many rows a worker pushes between
	// cancellation checks.
	DefaultCheckEvery = 1024
	// CutFactor is the multiple of the capacity a working set may grow to
	// before the worst entries are cut.
	CutFactor = 4
)

// GroupingConfig replaces process wide grouping switches. It is copied
// into every grouper at construction.
type GroupingConfig struct {
	UTC       bool   `tag:"utc"`
	Collation string `tag:"collation"`
}

type SorterConfig struct {
	KBuffer    bool `tag:"kbuffer"`
	MaxMatches int  `tag:"maxMatches"`
	CheckEvery int  `tag:"checkEvery"`
}

type DataOptions struct {
	Path     string `tag:"path"`
	Format   string `tag:"format"`
	Schema   string `tag:"schema"`
	Segments int    `tag:"segments"`
}

type DebugOptions struct {
	CheckOwner   bool   `tag:"checkOwner"`
	LogEvictions bool   `tag:"logEvictions"`
	PrintPlan    bool   `tag:"printPlan"`
	PrintResult  bool   `tag:"printResult"`
	LogLevel     string `tag:"logLevel"`
}

type Config struct {
	Grouping GroupingConfig `tag:"grouping"`
	Sorter   SorterConfig   `tag:"sorter"`
	Data     DataOptions    `tag:"data"`
	Debug    DebugOptions   `tag:"debug"`
}

func DefaultConfig() *Config {
	return &Config{
		Grouping: GroupingConfig{
			UTC:       true,
			Collation: "libc_ci",
		},
		Sorter: SorterConfig{
			MaxMatches: DefaultMaxMatches,
			CheckEvery: DefaultCheckEvery,
		},
		Data: DataOptions{
			Format:   "csv",
			Segments: 1,
		},
		Debug: DebugOptions{
			LogLevel: "info",
		},
	}
}

// LoadConfig decodes a toml file over the defaults.
func LoadConfig(fpath string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(fpath, cfg); err != nil {
		return nil, err
	}
	cfg.fixup()
	return cfg, nil
}

func (cfg *Config) fixup() {
	if cfg.Sorter.MaxMatches <= 0 {
		cfg.Sorter.MaxMatches = DefaultMaxMatches
	}
	if cfg.Sorter.CheckEvery <= 0 {
		cfg.Sorter.CheckEvery = DefaultCheckEvery
	}
	if cfg.Data.Segments <= 0 {
		cfg.Data.Segments = 1
	}
}
