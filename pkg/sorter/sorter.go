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

// Package sorter keeps the bounded working set of a query: the top
// matches for plain queries, or the top groups with their counters and
// aggregates for grouping queries.
//
// A sorter is single threaded. Parallel workers each get a Clone and the
// clones are merged with MoveTo once the workers are done. Every match a
// sorter retains is a deep copy whose blobs the sorter frees exactly
// once, unless the match is handed out by Flatten.
package sorter

import (
	"github.com/xlab/treeprint"

	"github.com/daviszhen/ranker/pkg/match"
	"github.com/daviszhen/ranker/pkg/util"
)

type Sorter interface {
	// Push offers a raw row. The caller keeps ownership of m. It reports
	// whether the row changed the working set.
	Push(m *match.Match) bool
	// PushGrouped offers a row produced by another sorter. newSet marks
	// the head of a source group whose counters and aggregates must be
	// folded in. Other rows only compete for retention.
	PushGrouped(m *match.Match, newSet bool) bool
	GetLength() int
	// TotalCount is the number of raw rows pushed, merged sorters included.
	TotalCount() int64
	// Finalize completes the working set and visits every retained
	// match, best first when orderMatters.
	Finalize(visit func(m *match.Match), orderMatters bool)
	// Flatten finalizes, appends the retained matches best first to dst
	// and empties the sorter. The caller owns the appended matches.
	Flatten(dst *[]match.Match) int
	// Clone returns an empty sorter with the same configuration.
	Clone() Sorter
	// MoveTo merges everything into dst and empties the sorter.
	MoveTo(dst Sorter)
	// Release frees every retained match.
	Release()
	Schema() *match.Schema
	Pool() *match.BlobPool
	// SetSchema swaps the schema. With remap the retained matches are
	// rebuilt for the new layout.
	SetSchema(schema *match.Schema, remap bool)
	IsGroupBy() bool
	Explain(tree treeprint.Tree)
}

// Filter drops finalized groups, e.g. HAVING.
type Filter interface {
	Keep(m *match.Match) bool
	Fixup(old, s *match.Schema)
	Clone() Filter
	String() string
}

type Options struct {
	Schema *match.Schema
	Pool   *match.BlobPool
	// Limit is the number of matches, or of groups for group sorters.
	Limit  int
	Config *util.Config
}

func (opts *Options) config() *util.Config {
	if opts.Config == nil {
		return util.DefaultConfig()
	}
	return opts.Config
}

// base holds what every sorter shares.
type base struct {
	_schema *match.Schema
	_pool   *match.BlobPool
	_limit  int
	_total  int64
	_cfg    *util.Config
	_owner  util.OwnerCheck
}

func newBase(opts Options) base {
	util.AssertFunc(opts.Schema != nil && opts.Pool != nil)
	util.Assertf(opts.Limit > 0, "invalid limit %d", opts.Limit)
	cfg := opts.config()
	return base{
		_schema: opts.Schema,
		_pool:   opts.Pool,
		_limit:  opts.Limit,
		_cfg:    cfg,
		_owner:  util.NewOwnerCheck(cfg.Debug.CheckOwner),
	}
}

func (b *base) cloneBase() base {
	return base{
		_schema: b._schema,
		_pool:   b._pool,
		_limit:  b._limit,
		_cfg:    b._cfg,
		_owner:  util.NewOwnerCheck(b._owner.Enabled()),
	}
}

func (b *base) Schema() *match.Schema {
	return b._schema
}

func (b *base) Pool() *match.BlobPool {
	return b._pool
}

func (b *base) TotalCount() int64 {
	return b._total
}

func (b *base) addTotal(n int64) {
	b._total += n
}

// prepare computes the expression backed attributes of a raw row.
func (b *base) prepare(m *match.Match) {
	b._total++
	if b._schema.HasComputed() {
		b._schema.CalcComputed(m)
	}
}

// handOver moves ownership of both sides of a merge to the caller.
func (b *base) handOver() {
	b._owner.Release()
	b._owner.Check()
}

// remap rebuilds live matches for schema s.
func (b *base) remap(s *match.Schema, live func(fn func(m *match.Match))) {
	old := b._schema
	mapping := s.RemapFrom(old)
	live(func(m *match.Match) {
		s.RemapMatch(m, old, mapping, b._pool)
	})
}

type totalAdder interface {
	addTotal(n int64)
}
