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

package sorter

import (
	"fmt"
	"strings"

	"github.com/daviszhen/ranker/pkg/common"
	"github.com/daviszhen/ranker/pkg/match"
	"github.com/daviszhen/ranker/pkg/util"
)

// MaxSortKeys is the most keys an ORDER BY may have.
const MaxSortKeys = 5

type KeyKind int

const (
	KeyInt KeyKind = iota
	KeyFloat
	KeyString
	KeyWeight
	KeyRowID
)

func (k KeyKind) String() string {
	switch k {
	case KeyInt:
		return "int"
	case KeyFloat:
		return "float"
	case KeyString:
		return "string"
	case KeyWeight:
		return "weight"
	case KeyRowID:
		return "rowid"
	default:
		return fmt.Sprintf("key(%d)", int(k))
	}
}

// KeyKindOf maps an attribute type to the comparison it sorts by.
func KeyKindOf(typ common.AttrType) (KeyKind, error) {
	switch {
	case typ == common.AttrFloat:
		return KeyFloat, nil
	case typ.IsInt():
		return KeyInt, nil
	case typ == common.AttrString || typ == common.AttrJSONField:
		return KeyString, nil
	default:
		return KeyInt, fmt.Errorf("can not sort by %s", typ)
	}
}

type SortKey struct {
	Name string
	Kind KeyKind
	// Loc is unused for weight and rowid keys.
	Loc  match.Locator
	Desc bool
}

func (key *SortKey) String() string {
	if key.Desc {
		return key.Name + " desc"
	}
	return key.Name + " asc"
}

// Comparator ranks matches. Equal keys fall back to the row id, the
// smaller one ranks first, so the order is total and stable across
// workers.
type Comparator interface {
	// Better reports whether a ranks strictly before b.
	Better(a, b *match.Match) bool
	SetBlobPool(pool *match.BlobPool)
	Fixup(old, s *match.Schema)
	Clone() Comparator
	String() string
}

// multiKeyComparator compares up to MaxSortKeys keys held in a fixed array.
type multiKeyComparator struct {
	_keys [MaxSortKeys]SortKey
	_n    int
	_coll *common.Collator
	_pool *match.BlobPool
}

func NewComparator(keys []SortKey, coll common.Collation) (Comparator, error) {
	if len(keys) > MaxSortKeys {
		return nil, fmt.Errorf("too many sort keys %d, at most %d", len(keys), MaxSortKeys)
	}
	ret := &multiKeyComparator{
		_n:    len(keys),
		_coll: common.NewCollator(coll),
	}
	copy(ret._keys[:], keys)
	for i := 0; i < ret._n; i++ {
		key := &ret._keys[i]
		switch key.Kind {
		case KeyInt, KeyFloat:
			util.AssertFunc(key.Loc.Valid() && !key.Loc.Blob)
		case KeyString:
			util.AssertFunc(key.Loc.Valid() && key.Loc.Blob)
		}
	}
	return ret, nil
}

func (cmp *multiKeyComparator) compareKey(key *SortKey, a, b *match.Match) int {
	switch key.Kind {
	case KeyInt:
		return util.CompareInt(a.GetInt(key.Loc), b.GetInt(key.Loc))
	case KeyFloat:
		return util.CompareFloat(a.GetFloat(key.Loc), b.GetFloat(key.Loc))
	case KeyString:
		return cmp._coll.Compare(
			cmp._pool.Get(a.GetAttr(key.Loc)),
			cmp._pool.Get(b.GetAttr(key.Loc)))
	case KeyWeight:
		return util.CompareInt(a.Weight, b.Weight)
	case KeyRowID:
		return util.CompareInt(a.RowID, b.RowID)
	default:
		panic("usp")
	}
}

func (cmp *multiKeyComparator) Better(a, b *match.Match) bool {
	for i := 0; i < cmp._n; i++ {
		key := &cmp._keys[i]
		c := cmp.compareKey(key, a, b)
		if c == 0 {
			continue
		}
		if key.Desc {
			return c > 0
		}
		return c < 0
	}
	return a.RowID < b.RowID
}

func (cmp *multiKeyComparator) SetBlobPool(pool *match.BlobPool) {
	cmp._pool = pool
}

func (cmp *multiKeyComparator) Fixup(old, s *match.Schema) {
	for i := 0; i < cmp._n; i++ {
		switch cmp._keys[i].Kind {
		case KeyInt, KeyFloat, KeyString:
			cmp._keys[i].Loc = s.FixupLocator(cmp._keys[i].Loc, old)
		}
	}
}

func (cmp *multiKeyComparator) Clone() Comparator {
	return &multiKeyComparator{
		_keys: cmp._keys,
		_n:    cmp._n,
		_coll: cmp._coll.Clone(),
		_pool: cmp._pool,
	}
}

func (cmp *multiKeyComparator) String() string {
	parts := make([]string, 0, cmp._n)
	for i := 0; i < cmp._n; i++ {
		parts = append(parts, cmp._keys[i].String())
	}
	if len(parts) == 0 {
		return "@id asc"
	}
	return strings.Join(parts, ", ")
}

// exprComparator orders by one computed expression slot.
type exprComparator struct {
	_name string
	_loc  match.Locator
	_typ  common.AttrType
	_desc bool
}

// NewExprComparator orders by the computed attribute at loc. The
// expression is evaluated into the slot when the match is pushed.
func NewExprComparator(name string, loc match.Locator, typ common.AttrType, desc bool) Comparator {
	util.AssertFunc(typ.IsNumeric())
	return &exprComparator{_name: name, _loc: loc, _typ: typ, _desc: desc}
}

func (cmp *exprComparator) Better(a, b *match.Match) bool {
	var c int
	if cmp._typ == common.AttrFloat {
		c = util.CompareFloat(a.GetFloat(cmp._loc), b.GetFloat(cmp._loc))
	} else {
		c = util.CompareInt(a.GetInt(cmp._loc), b.GetInt(cmp._loc))
	}
	if c == 0 {
		return a.RowID < b.RowID
	}
	if cmp._desc {
		return c > 0
	}
	return c < 0
}

func (cmp *exprComparator) SetBlobPool(*match.BlobPool) {}

func (cmp *exprComparator) Fixup(old, s *match.Schema) {
	cmp._loc = s.FixupLocator(cmp._loc, old)
}

func (cmp *exprComparator) Clone() Comparator {
	ret := *cmp
	return &ret
}

func (cmp *exprComparator) String() string {
	if cmp._desc {
		return cmp._name + " desc"
	}
	return cmp._name + " asc"
}
