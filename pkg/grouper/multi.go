package grouper

import (
	"fmt"
	"slices"
	"strings"

	"github.com/daviszhen/ranker/pkg/common"
	"github.com/daviszhen/ranker/pkg/match"
	"github.com/daviszhen/ranker/pkg/util"
)

// KeyPart is one column of a composite key.
type KeyPart struct {
	Name string
	Loc  match.Locator
	Type common.AttrType
}

// compositeGrouper folds several columns left to right, each column
// hashed with the previous hash as seed.
type compositeGrouper struct {
	_parts []KeyPart
	_coll  *common.Collator
	_pool  *match.BlobPool
}

func NewCompositeGrouper(parts []KeyPart, coll common.Collation) Grouper {
	util.AssertFunc(len(parts) > 0)
	for _, part := range parts {
		util.AssertFunc(!part.Type.IsMVA())
	}
	return &compositeGrouper{
		_parts: slices.Clone(parts),
		_coll:  common.NewCollator(coll),
	}
}

func (g *compositeGrouper) KeyFromMatch(m *match.Match) uint64 {
	h := util.HashSeed0
	for _, part := range g._parts {
		v := m.GetAttr(part.Loc)
		if part.Loc.Blob {
			data := g._pool.Get(v)
			if part.Type == common.AttrString {
				h = g._coll.HashSeeded(data, h)
			} else {
				h = util.HashSeeded(data, h)
			}
			continue
		}
		h = util.HashU64Seeded(v, h)
	}
	return h
}

func (g *compositeGrouper) KeyFromValue(uint64) uint64 {
	panic("usp")
}

func (g *compositeGrouper) ResultType() common.AttrType {
	return common.AttrBigint
}

func (g *compositeGrouper) SetBlobPool(pool *match.BlobPool) {
	g._pool = pool
}

func (g *compositeGrouper) Fixup(old, s *match.Schema) {
	for i := range g._parts {
		g._parts[i].Loc = s.FixupLocator(g._parts[i].Loc, old)
	}
}

func (g *compositeGrouper) Clone() Grouper {
	return &compositeGrouper{
		_parts: slices.Clone(g._parts),
		_coll:  g._coll.Clone(),
		_pool:  g._pool,
	}
}

func (g *compositeGrouper) String() string {
	names := make([]string, 0, len(g._parts))
	for _, part := range g._parts {
		names = append(names, part.Name)
	}
	return fmt.Sprintf("multi(%s)", strings.Join(names, ","))
}

// mvaGrouper explodes an integer set attribute. Every distinct element
// is a key on its own.
type mvaGrouper struct {
	_name string
	_loc  match.Locator
	_typ  common.AttrType
	_pool *match.BlobPool
}

func NewMVAGrouper(name string, loc match.Locator, typ common.AttrType) MultiGrouper {
	util.AssertFunc(loc.Blob && typ.IsMVA())
	return &mvaGrouper{_name: name, _loc: loc, _typ: typ}
}

// KeyFromMatch returns the first element. Sorters use Keys.
func (g *mvaGrouper) KeyFromMatch(m *match.Match) uint64 {
	data := g._pool.Get(m.GetAttr(g._loc))
	if match.MVALen(g._typ, data) == 0 {
		return 0
	}
	return match.MVAAt(g._typ, data, 0)
}

func (g *mvaGrouper) KeyFromValue(v uint64) uint64 {
	return v
}

func (g *mvaGrouper) Keys(m *match.Match, dst []uint64) []uint64 {
	dst = dst[:0]
	data := g._pool.Get(m.GetAttr(g._loc))
	n := match.MVALen(g._typ, data)
	for i := 0; i < n; i++ {
		dst = append(dst, g.KeyFromValue(match.MVAAt(g._typ, data, i)))
	}
	return uniqueKeys(dst)
}

func (g *mvaGrouper) ResultType() common.AttrType {
	return common.AttrBigint
}

func (g *mvaGrouper) SetBlobPool(pool *match.BlobPool) {
	g._pool = pool
}

func (g *mvaGrouper) Fixup(old, s *match.Schema) {
	g._loc = s.FixupLocator(g._loc, old)
}

func (g *mvaGrouper) Clone() Grouper {
	ret := *g
	return &ret
}

func (g *mvaGrouper) String() string {
	return fmt.Sprintf("mva(%s)", g._name)
}

func uniqueKeys(keys []uint64) []uint64 {
	if len(keys) < 2 {
		return keys
	}
	slices.Sort(keys)
	return slices.Compact(keys)
}
