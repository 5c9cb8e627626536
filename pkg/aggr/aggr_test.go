package aggr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviszhen/ranker/pkg/common"
	"github.com/daviszhen/ranker/pkg/match"
)

type testEnv struct {
	schema *match.Schema
	pool   *match.BlobPool
	qty    match.Locator
	price  match.Locator
	name   match.Locator
	out    match.Locator
	count  match.Locator
}

func newTestEnv(outType common.AttrType) *testEnv {
	env := &testEnv{
		schema: match.NewSchema(),
		pool:   match.NewBlobPool(),
	}
	env.qty = env.schema.MustAddAttr("qty", common.AttrBigint)
	env.price = env.schema.MustAddAttr("price", common.AttrFloat)
	env.name = env.schema.MustAddAttr("name", common.AttrString)
	env.out = env.schema.MustAddAttr("out", outType)
	env.count = env.schema.MustAddAttr("@count", common.AttrBigint)
	return env
}

func (env *testEnv) row(tag int32, qty int64, price float64, name string) *match.Match {
	m := env.schema.NewMatch()
	m.Tag = tag
	m.SetInt(env.qty, qty)
	m.SetFloat(env.price, price)
	m.SetAttr(env.name, env.pool.AllocString(name))
	m.SetInt(env.count, 1)
	return &m
}

func (env *testEnv) newAggr(kind match.AggrKind, in match.Locator, inType common.AttrType) Aggregate {
	aggr := New(Spec{
		Kind:   kind,
		Name:   "in",
		Alias:  "out",
		In:     in,
		InType: inType,
		Out:    env.out,
		Count:  env.count,
	})
	aggr.SetBlobPool(env.pool)
	return aggr
}

func Test_SumMinMaxInt(t *testing.T) {
	tests := []struct {
		kind match.AggrKind
		want int64
	}{
		{match.AggrSum, 17},
		{match.AggrMin, 3},
		{match.AggrMax, 10},
	}
	for _, tt := range tests {
		env := newTestEnv(common.AttrBigint)
		aggr := env.newAggr(tt.kind, env.qty, common.AttrBigint)
		head := env.row(0, 3, 0, "")
		aggr.Setup(head)
		aggr.Update(head, env.row(0, 4, 0, ""), false)
		partial := env.row(1, 100, 0, "")
		partial.SetInt(env.out, 10)
		aggr.Update(head, partial, true)
		aggr.Finalize(head)
		assert.Equal(t, tt.want, head.GetInt(env.out), tt.kind.String())
	}
}

func Test_SumMinMaxFloat(t *testing.T) {
	tests := []struct {
		kind match.AggrKind
		want float64
	}{
		{match.AggrSum, 6.5},
		{match.AggrMin, 1.25},
		{match.AggrMax, 3.0},
	}
	for _, tt := range tests {
		env := newTestEnv(common.AttrFloat)
		aggr := env.newAggr(tt.kind, env.price, common.AttrFloat)
		head := env.row(0, 0, 2.25, "")
		aggr.Setup(head)
		aggr.Update(head, env.row(0, 0, 1.25, ""), false)
		aggr.Update(head, env.row(0, 0, 3.0, ""), false)
		assert.InDelta(t, tt.want, head.GetFloat(env.out), 1e-9, tt.kind.String())
	}
}

func Test_AvgInt(t *testing.T) {
	env := newTestEnv(common.AttrFloat)
	aggr := env.newAggr(match.AggrAvg, env.qty, common.AttrBigint)
	head := env.row(0, 1, 0, "")
	aggr.Setup(head)
	aggr.Update(head, env.row(0, 2, 0, ""), false)
	head.SetInt(env.count, 2)
	assert.Equal(t, int64(3), head.GetInt(env.out))

	aggr.Finalize(head)
	assert.Equal(t, 1.5, head.GetFloat(env.out))

	aggr.Ungroup(head)
	assert.Equal(t, int64(3), head.GetInt(env.out))
}

func Test_AvgMerge(t *testing.T) {
	env := newTestEnv(common.AttrFloat)
	aggr := env.newAggr(match.AggrAvg, env.qty, common.AttrBigint)

	//partial 1: values 1,2
	left := env.row(0, 1, 0, "")
	aggr.Setup(left)
	aggr.Update(left, env.row(0, 2, 0, ""), false)
	left.SetInt(env.count, 2)

	//partial 2: values 3,3,4 already finalized
	right := env.row(1, 3, 0, "")
	aggr.Setup(right)
	aggr.Update(right, env.row(1, 3, 0, ""), false)
	aggr.Update(right, env.row(1, 4, 0, ""), false)
	right.SetInt(env.count, 3)
	aggr.Finalize(right)
	aggr.Ungroup(right)

	aggr.Update(left, right, true)
	left.SetInt(env.count, 5)
	aggr.Finalize(left)
	assert.Equal(t, 2.6, left.GetFloat(env.out))
}

func Test_AvgExactQuotient(t *testing.T) {
	assert.InDelta(t, 10.0/3.0, intQuo(10, 3), 1e-15)
	assert.Equal(t, 0.5, intQuo(1, 2))
	assert.Equal(t, -2.5, intQuo(-5, 2))
}

func Test_AvgFloatZeroCount(t *testing.T) {
	env := newTestEnv(common.AttrFloat)
	aggr := env.newAggr(match.AggrAvg, env.price, common.AttrFloat)
	head := env.row(0, 0, 4, "")
	aggr.Setup(head)
	head.SetInt(env.count, 0)
	aggr.Finalize(head)
	assert.Equal(t, 0.0, head.GetFloat(env.out))
}

func Test_GroupConcat(t *testing.T) {
	env := newTestEnv(common.AttrString)
	aggr := env.newAggr(match.AggrCat, env.name, common.AttrString)

	head := env.row(2, 0, 0, "b")
	aggr.Setup(head)
	aggr.Update(head, env.row(1, 0, 0, "a"), false)
	aggr.Update(head, env.row(2, 0, 0, "c"), false)
	aggr.Update(head, env.row(1, 0, 0, ""), false)

	aggr.Finalize(head)
	assert.Equal(t, "a,b,c", string(env.pool.Get(head.GetAttr(env.out))))

	//finalize is idempotent
	aggr.Finalize(head)
	assert.Equal(t, "a,b,c", string(env.pool.Get(head.GetAttr(env.out))))

	aggr.Ungroup(head)
	aggr.Finalize(head)
	assert.Equal(t, "a,b,c", string(env.pool.Get(head.GetAttr(env.out))))

	env.schema.FreeMatch(head, env.pool)
}

func Test_GroupConcatMergeOrder(t *testing.T) {
	build := func(order []int32) string {
		env := newTestEnv(common.AttrString)
		aggr := env.newAggr(match.AggrCat, env.name, common.AttrString)
		partials := map[int32]*match.Match{}
		for tag, vals := range map[int32][]string{0: {"x", "y"}, 1: {"p"}, 2: {"m", "n"}} {
			head := env.row(tag, 0, 0, vals[0])
			aggr.Setup(head)
			for _, v := range vals[1:] {
				m := env.row(tag, 0, 0, v)
				aggr.Update(head, m, false)
				env.schema.FreeMatch(m, env.pool)
			}
			partials[tag] = head
		}
		dst := env.row(order[0], 0, 0, "")
		aggr.Setup(dst)
		for _, tag := range order {
			aggr.Update(dst, partials[tag], true)
			env.schema.FreeMatch(partials[tag], env.pool)
		}
		aggr.Finalize(dst)
		ret := string(env.pool.Get(dst.GetAttr(env.out)))
		env.schema.FreeMatch(dst, env.pool)
		require.Equal(t, 0, env.pool.Live())
		return ret
	}
	want := "x,y,p,m,n"
	assert.Equal(t, want, build([]int32{0, 1, 2}))
	assert.Equal(t, want, build([]int32{2, 0, 1}))
	assert.Equal(t, want, build([]int32{1, 2, 0}))
}

func Test_GroupConcatNumbers(t *testing.T) {
	env := newTestEnv(common.AttrString)
	aggr := env.newAggr(match.AggrCat, env.qty, common.AttrBigint)
	head := env.row(0, 7, 0, "")
	aggr.Setup(head)
	aggr.Update(head, env.row(0, -3, 0, ""), false)
	aggr.Finalize(head)
	assert.Equal(t, "7,-3", string(env.pool.Get(head.GetAttr(env.out))))
}

func Test_ResultType(t *testing.T) {
	tests := []struct {
		kind    match.AggrKind
		in      common.AttrType
		want    common.AttrType
		wantErr bool
	}{
		{match.AggrSum, common.AttrInteger, common.AttrBigint, false},
		{match.AggrSum, common.AttrFloat, common.AttrFloat, false},
		{match.AggrMax, common.AttrTimestamp, common.AttrBigint, false},
		{match.AggrAvg, common.AttrBigint, common.AttrFloat, false},
		{match.AggrCat, common.AttrString, common.AttrString, false},
		{match.AggrSum, common.AttrString, common.AttrNone, true},
		{match.AggrAvg, common.AttrJSON, common.AttrNone, true},
		{match.AggrCat, common.AttrInt64Set, common.AttrNone, true},
	}
	for _, tt := range tests {
		got, err := ResultType(tt.kind, tt.in)
		if tt.wantErr {
			assert.Error(t, err)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func Test_NewBadPairPanics(t *testing.T) {
	env := newTestEnv(common.AttrBigint)
	assert.Panics(t, func() {
		env.newAggr(match.AggrSum, env.name, common.AttrString)
	})
}
