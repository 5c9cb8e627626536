package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/ranker/pkg/common"
)

func newTestSchema(t *testing.T) (*Schema, Locator, Locator, Locator) {
	s := NewSchema()
	id, err := s.AddAttr("gid", common.AttrBigint)
	require.NoError(t, err)
	price, err := s.AddAttr("Price", common.AttrFloat)
	require.NoError(t, err)
	title, err := s.AddAttr("title", common.AttrString)
	require.NoError(t, err)
	return s, id, price, title
}

func Test_SchemaLookup(t *testing.T) {
	s, _, price, title := newTestSchema(t)
	assert.Equal(t, 3, s.Len())
	desc, has := s.GetAttr("PRICE")
	require.True(t, has)
	assert.Equal(t, price, desc.Loc)
	assert.False(t, desc.Loc.Blob)
	assert.True(t, title.Blob)
	assert.Equal(t, -1, s.AttrIndex("missing"))
	assert.Equal(t, []string{"gid", "price", "title"}, s.SortedNames())

	_, err := s.AddAttr("price", common.AttrBigint)
	assert.Error(t, err)
}

func Test_CloneAndFreeMatch(t *testing.T) {
	s, id, price, title := newTestSchema(t)
	pool := NewBlobPool()

	src := s.NewMatch()
	src.RowID = 7
	src.SetInt(id, 42)
	src.SetFloat(price, 9.5)
	src.SetAttr(title, pool.AllocString("hello"))
	assert.Equal(t, 1, pool.Live())

	var dst Match
	s.CloneMatch(&dst, &src, pool)
	assert.Equal(t, 2, pool.Live())
	assert.Equal(t, uint64(7), dst.RowID)
	assert.Equal(t, int64(42), dst.GetInt(id))
	assert.Equal(t, 9.5, dst.GetFloat(price))
	assert.NotEqual(t, src.GetAttr(title), dst.GetAttr(title))
	assert.Equal(t, "hello", string(pool.Get(dst.GetAttr(title))))

	s.FreeMatch(&src, pool)
	assert.Equal(t, 1, pool.Live())
	//second release is a no-op because handles are cleared
	s.FreeMatch(&src, pool)
	assert.Equal(t, 1, pool.Live())
	assert.Equal(t, "hello", string(pool.Get(dst.GetAttr(title))))
	s.FreeMatch(&dst, pool)
	assert.Equal(t, 0, pool.Live())
}

func Test_BlobDoubleFree(t *testing.T) {
	pool := NewBlobPool()
	h := pool.AllocString("x")
	pool.Free(h)
	assert.Panics(t, func() {
		pool.Free(h)
	})
	assert.Equal(t, uint64(0), pool.AllocString(""))
	pool.Free(0)
	assert.Nil(t, pool.Get(0))
}

func Test_BlobReuse(t *testing.T) {
	pool := NewBlobPool()
	a := pool.AllocString("a")
	pool.Free(a)
	b := pool.AllocString("b")
	assert.Equal(t, a, b)
	assert.Equal(t, "b", string(pool.Get(b)))
}

func Test_MVA(t *testing.T) {
	for _, typ := range []common.AttrType{common.AttrUint32Set, common.AttrInt64Set} {
		data := EncodeMVA(typ, []int64{3, 1, 4})
		assert.Equal(t, 3, MVALen(typ, data))
		assert.Equal(t, uint64(4), MVAAt(typ, data, 2))
		assert.Equal(t, []int64{3, 1, 4}, DecodeMVA(typ, data))
	}
}

func Test_RemapMatch(t *testing.T) {
	s, id, _, title := newTestSchema(t)
	pool := NewBlobPool()
	m := s.NewMatch()
	m.SetInt(id, 5)
	m.SetAttr(title, pool.AllocString("dropped"))

	ns := NewSchema()
	ns.MustAddAttr("extra", common.AttrInteger)
	nid := ns.MustAddAttr("gid", common.AttrBigint)
	mapping := ns.RemapFrom(s)
	assert.Equal(t, []int{-1, 0}, mapping)
	ns.RemapMatch(&m, s, mapping, pool)
	assert.Equal(t, int64(5), m.GetInt(nid))
	assert.Len(t, m.Attrs, 2)
	assert.Equal(t, 0, pool.Live())
}

func Test_ComputedAttrs(t *testing.T) {
	s, id, _, _ := newTestSchema(t)
	loc, err := s.AddAttrDesc(AttrDesc{
		Name: "double_gid",
		Type: common.AttrBigint,
		Expr: IntExpr(func(m *Match) int64 { return m.GetInt(id) * 2 }),
	})
	require.NoError(t, err)
	assert.True(t, s.HasComputed())
	m := s.NewMatch()
	m.SetInt(id, 21)
	s.CalcComputed(&m)
	assert.Equal(t, int64(42), m.GetInt(loc))

	c := s.Clone()
	assert.Equal(t, s.Names(), c.Names())
	assert.True(t, c.HasComputed())
}
