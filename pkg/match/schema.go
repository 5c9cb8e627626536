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

package match

import (
	"fmt"
	"strings"

	"github.com/tidwall/btree"

	"github.com/daviszhen/ranker/pkg/common"
	"github.com/daviszhen/ranker/pkg/util"
)

// AggrKind tags schema attributes that hold an aggregate result.
type AggrKind int

const (
	AggrNone AggrKind = iota
	AggrSum
	AggrAvg
	AggrMin
	AggrMax
	AggrCat
)

func (k AggrKind) String() string {
	switch k {
	case AggrNone:
		return "none"
	case AggrSum:
		return "sum"
	case AggrAvg:
		return "avg"
	case AggrMin:
		return "min"
	case AggrMax:
		return "max"
	case AggrCat:
		return "group_concat"
	default:
		return fmt.Sprintf("aggr(%d)", int(k))
	}
}

// Magic attribute names maintained by the group sorters.
const (
	AttrNameGroupBy  = "@groupby"
	AttrNameCount    = "@count"
	AttrNameDistinct = "@distinct"
	AttrNameWeight   = "@weight"
	AttrNameID       = "@id"
)

type AttrDesc struct {
	Name  string
	Type  common.AttrType
	Loc   Locator
	Expr  Expr
	Aggr  AggrKind
	Magic bool
}

type nameEntry struct {
	name string
	idx  int
}

func nameLess(a, b nameEntry) bool {
	return a.name < b.name
}

// Schema is the ordered list of match attributes. Locators handed out by
// a schema stay valid for its lifetime.
type Schema struct {
	_attrs    []AttrDesc
	_index    *btree.BTreeG[nameEntry]
	_blobLocs []int
	_computed []int
}

func NewSchema() *Schema {
	return &Schema{
		_index: btree.NewBTreeG[nameEntry](nameLess),
	}
}

func normName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (s *Schema) AddAttr(name string, typ common.AttrType) (Locator, error) {
	return s.AddAttrDesc(AttrDesc{Name: name, Type: typ})
}

func (s *Schema) AddAttrDesc(desc AttrDesc) (Locator, error) {
	desc.Name = normName(desc.Name)
	if desc.Name == "" {
		return InvalidLocator, fmt.Errorf("empty attribute name")
	}
	if _, has := s._index.Get(nameEntry{name: desc.Name}); has {
		return InvalidLocator, fmt.Errorf("duplicate attribute name '%s'", desc.Name)
	}
	idx := len(s._attrs)
	desc.Loc = Locator{Idx: idx, Blob: desc.Type.IsBlob()}
	s._attrs = append(s._attrs, desc)
	s._index.Set(nameEntry{name: desc.Name, idx: idx})
	if desc.Loc.Blob {
		s._blobLocs = append(s._blobLocs, idx)
	}
	if desc.Expr != nil {
		s._computed = append(s._computed, idx)
	}
	return desc.Loc, nil
}

// MustAddAttr is AddAttr for statically known schemas.
func (s *Schema) MustAddAttr(name string, typ common.AttrType) Locator {
	loc, err := s.AddAttr(name, typ)
	if err != nil {
		panic(err)
	}
	return loc
}

func (s *Schema) Len() int {
	return len(s._attrs)
}

func (s *Schema) Attr(i int) *AttrDesc {
	return &s._attrs[i]
}

func (s *Schema) AttrIndex(name string) int {
	ent, has := s._index.Get(nameEntry{name: normName(name)})
	if !has {
		return -1
	}
	return ent.idx
}

func (s *Schema) GetAttr(name string) (*AttrDesc, bool) {
	idx := s.AttrIndex(name)
	if idx < 0 {
		return nil, false
	}
	return &s._attrs[idx], true
}

// Names lists attribute names in index order.
func (s *Schema) Names() []string {
	ret := make([]string, len(s._attrs))
	for i := range s._attrs {
		ret[i] = s._attrs[i].Name
	}
	return ret
}

// SortedNames lists attribute names alphabetically.
func (s *Schema) SortedNames() []string {
	ret := make([]string, 0, len(s._attrs))
	s._index.Scan(func(ent nameEntry) bool {
		ret = append(ret, ent.name)
		return true
	})
	return ret
}

func (s *Schema) HasBlobs() bool {
	return len(s._blobLocs) > 0
}

// Clone copies the descriptors. Expressions are shared and must be safe
// for concurrent evaluation.
func (s *Schema) Clone() *Schema {
	ret := NewSchema()
	for _, desc := range s._attrs {
		_, err := ret.AddAttrDesc(desc)
		if err != nil {
			panic(err)
		}
	}
	return ret
}

func (s *Schema) NewMatch() Match {
	return Match{Attrs: make([]uint64, len(s._attrs))}
}

// CloneMatch deep copies src into dst: blob attributes get their own
// handles, everything else is copied as is. dst must not own blobs.
func (s *Schema) CloneMatch(dst, src *Match, pool *BlobPool) {
	dst.RowID = src.RowID
	dst.Weight = src.Weight
	dst.Tag = src.Tag
	if cap(dst.Attrs) >= len(src.Attrs) {
		dst.Attrs = dst.Attrs[:len(src.Attrs)]
	} else {
		dst.Attrs = make([]uint64, len(src.Attrs))
	}
	copy(dst.Attrs, src.Attrs)
	for _, idx := range s._blobLocs {
		dst.Attrs[idx] = pool.Copy(src.Attrs[idx])
	}
}

// FreeMatch releases every blob owned by m and clears the handles so a
// second call is harmless.
func (s *Schema) FreeMatch(m *Match, pool *BlobPool) {
	if m.Attrs == nil {
		return
	}
	for _, idx := range s._blobLocs {
		pool.Free(m.Attrs[idx])
		m.Attrs[idx] = 0
	}
}

// CalcComputed evaluates expression-backed attributes into m.
func (s *Schema) CalcComputed(m *Match) {
	for _, idx := range s._computed {
		desc := &s._attrs[idx]
		if desc.Type == common.AttrFloat {
			m.SetFloat(desc.Loc, desc.Expr.EvalFloat(m))
		} else {
			m.SetInt(desc.Loc, desc.Expr.EvalInt(m))
		}
	}
}

func (s *Schema) HasComputed() bool {
	return len(s._computed) > 0
}

// RemapFrom maps each attribute of s to its index in old, -1 for new
// attributes.
func (s *Schema) RemapFrom(old *Schema) []int {
	ret := make([]int, len(s._attrs))
	for i := range s._attrs {
		ret[i] = old.AttrIndex(s._attrs[i].Name)
	}
	return ret
}

// RemapMatch rebuilds m for schema s. Blob attributes that old has and s
// lacks are freed.
func (s *Schema) RemapMatch(m *Match, old *Schema, mapping []int, pool *BlobPool) {
	attrs := make([]uint64, len(s._attrs))
	used := make([]bool, len(m.Attrs))
	for i, from := range mapping {
		if from >= 0 {
			attrs[i] = m.Attrs[from]
			used[from] = true
		}
	}
	for _, idx := range old._blobLocs {
		if !used[idx] {
			pool.Free(m.Attrs[idx])
		}
	}
	m.Attrs = attrs
}

// FixupLocator maps loc, taken from old, to the locator of the same
// attribute in s.
func (s *Schema) FixupLocator(loc Locator, old *Schema) Locator {
	if !loc.Valid() {
		return loc
	}
	desc, has := s.GetAttr(old.Attr(loc.Idx).Name)
	util.Assertf(has, "attribute '%s' missing after schema swap", old.Attr(loc.Idx).Name)
	return desc.Loc
}
