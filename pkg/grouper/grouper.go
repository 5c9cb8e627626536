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

// Package grouper computes 64-bit group keys from matches.
//
// A grouper is not safe for concurrent use. Every worker gets its own
// instance through Clone, and the blob pool must be bound with
// SetBlobPool before the first key is computed.
package grouper

import (
	"fmt"

	"github.com/daviszhen/ranker/pkg/common"
	"github.com/daviszhen/ranker/pkg/match"
	"github.com/daviszhen/ranker/pkg/util"
)

type Grouper interface {
	KeyFromMatch(m *match.Match) uint64
	// KeyFromValue computes the key of one exploded element.
	KeyFromValue(v uint64) uint64
	// ResultType is the type of the value stored in @groupby.
	ResultType() common.AttrType
	SetBlobPool(pool *match.BlobPool)
	// Fixup rebinds locators after the schema changed from old to s.
	Fixup(old, s *match.Schema)
	Clone() Grouper
	String() string
}

// MultiGrouper explodes one match into several keys, one per distinct
// element of a multi-valued attribute.
type MultiGrouper interface {
	Grouper
	Keys(m *match.Match, dst []uint64) []uint64
}

// attrGrouper groups by the raw attribute value.
type attrGrouper struct {
	_name string
	_loc  match.Locator
	_typ  common.AttrType
}

func NewAttrGrouper(name string, loc match.Locator, typ common.AttrType) Grouper {
	util.AssertFunc(!loc.Blob)
	return &attrGrouper{_name: name, _loc: loc, _typ: typ}
}

func (g *attrGrouper) ResultType() common.AttrType {
	return g._typ
}

func (g *attrGrouper) KeyFromMatch(m *match.Match) uint64 {
	return m.GetAttr(g._loc)
}

func (g *attrGrouper) KeyFromValue(v uint64) uint64 {
	return v
}

func (g *attrGrouper) SetBlobPool(*match.BlobPool) {}

func (g *attrGrouper) Fixup(old, s *match.Schema) {
	g._loc = s.FixupLocator(g._loc, old)
}

func (g *attrGrouper) Clone() Grouper {
	ret := *g
	return &ret
}

func (g *attrGrouper) String() string {
	return fmt.Sprintf("attr(%s)", g._name)
}

// dateGrouper truncates a unix timestamp to a calendar bucket.
type dateGrouper struct {
	_name   string
	_loc    match.Locator
	_bucket common.DateBucket
	_utc    bool
}

func NewDateGrouper(name string, loc match.Locator, bucket common.DateBucket, cfg util.GroupingConfig) Grouper {
	util.AssertFunc(!loc.Blob)
	return &dateGrouper{
		_name:   name,
		_loc:    loc,
		_bucket: bucket,
		_utc:    cfg.UTC,
	}
}

func (g *dateGrouper) KeyFromMatch(m *match.Match) uint64 {
	return common.DateKey(m.GetInt(g._loc), g._bucket, g._utc)
}

func (g *dateGrouper) KeyFromValue(v uint64) uint64 {
	return common.DateKey(int64(v), g._bucket, g._utc)
}

func (g *dateGrouper) ResultType() common.AttrType {
	return common.AttrBigint
}

func (g *dateGrouper) SetBlobPool(*match.BlobPool) {}

func (g *dateGrouper) Fixup(old, s *match.Schema) {
	g._loc = s.FixupLocator(g._loc, old)
}

func (g *dateGrouper) Clone() Grouper {
	ret := *g
	return &ret
}

func (g *dateGrouper) String() string {
	zone := "local"
	if g._utc {
		zone = "utc"
	}
	return fmt.Sprintf("%s(%s,%s)", g._bucket, g._name, zone)
}

// stringGrouper hashes a string attribute under the active collation.
type stringGrouper struct {
	_name string
	_loc  match.Locator
	_coll *common.Collator
	_pool *match.BlobPool
}

func NewStringGrouper(name string, loc match.Locator, coll common.Collation) Grouper {
	util.AssertFunc(loc.Blob)
	return &stringGrouper{
		_name: name,
		_loc:  loc,
		_coll: common.NewCollator(coll),
	}
}

func (g *stringGrouper) KeyFromMatch(m *match.Match) uint64 {
	return g.KeyFromValue(m.GetAttr(g._loc))
}

// KeyFromValue takes a blob handle.
func (g *stringGrouper) KeyFromValue(v uint64) uint64 {
	data := g._pool.Get(v)
	if len(data) == 0 {
		return 0
	}
	return g._coll.Hash(data)
}

func (g *stringGrouper) ResultType() common.AttrType {
	return common.AttrBigint
}

func (g *stringGrouper) SetBlobPool(pool *match.BlobPool) {
	g._pool = pool
}

func (g *stringGrouper) Fixup(old, s *match.Schema) {
	g._loc = s.FixupLocator(g._loc, old)
}

func (g *stringGrouper) Clone() Grouper {
	return &stringGrouper{
		_name: g._name,
		_loc:  g._loc,
		_coll: g._coll.Clone(),
		_pool: g._pool,
	}
}

func (g *stringGrouper) String() string {
	return fmt.Sprintf("string(%s,%s)", g._name, g._coll.Collation())
}
