package compute

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xlab/treeprint"

	"github.com/daviszhen/ranker/pkg/common"
	"github.com/daviszhen/ranker/pkg/match"
	"github.com/daviszhen/ranker/pkg/sorter"
	"github.com/daviszhen/ranker/pkg/util"
)

type testRow struct {
	id     uint64
	weight int32
	cat    string
	price  int64
	user   int64
	ts     int64
	doc    string
	tags   []int64
	score  float64
}

func baseSchema() *match.Schema {
	s := match.NewSchema()
	s.MustAddAttr("cat", common.AttrString)
	s.MustAddAttr("price", common.AttrBigint)
	s.MustAddAttr("user", common.AttrBigint)
	s.MustAddAttr("ts", common.AttrTimestamp)
	s.MustAddAttr("doc", common.AttrJSON)
	s.MustAddAttr("tags", common.AttrInt64Set)
	s.MustAddAttr("score", common.AttrFloat)
	return s
}

func loc(t *testing.T, schema *match.Schema, name string) match.Locator {
	desc, has := schema.GetAttr(name)
	require.True(t, has, name)
	return desc.Loc
}

// makeRow builds r against the extended schema of s.
func makeRow(t *testing.T, s sorter.Sorter, r testRow) match.Match {
	schema := s.Schema()
	pool := s.Pool()
	m := schema.NewMatch()
	m.RowID = r.id
	m.Weight = r.weight
	m.SetAttr(loc(t, schema, "cat"), pool.AllocString(r.cat))
	m.SetInt(loc(t, schema, "price"), r.price)
	m.SetInt(loc(t, schema, "user"), r.user)
	m.SetInt(loc(t, schema, "ts"), r.ts)
	m.SetAttr(loc(t, schema, "doc"), pool.AllocString(r.doc))
	m.SetAttr(loc(t, schema, "tags"), pool.Alloc(match.EncodeMVA(common.AttrInt64Set, r.tags)))
	m.SetFloat(loc(t, schema, "score"), r.score)
	return m
}

func makeRows(t *testing.T, s sorter.Sorter, rs []testRow) []match.Match {
	ret := make([]match.Match, len(rs))
	for i, r := range rs {
		ret[i] = makeRow(t, s, r)
	}
	return ret
}

func freeRows(s sorter.Sorter, rows []match.Match) {
	for i := range rows {
		s.Schema().FreeMatch(&rows[i], s.Pool())
	}
}

func pushAll(s sorter.Sorter, rows []match.Match) {
	for i := range rows {
		s.Push(&rows[i])
	}
}

func create(t *testing.T, spec *QuerySpec, cfg *util.Config) (sorter.Sorter, *match.BlobPool) {
	pool := match.NewBlobPool()
	s, err := CreateSorter(spec, baseSchema(), pool, cfg)
	require.NoError(t, err)
	return s, pool
}

func explain(s sorter.Sorter) string {
	tree := treeprint.New()
	s.Explain(tree)
	return tree.String()
}

func Test_CreateSorterTopK(t *testing.T) {
	for _, kbuffer := range []bool{false, true} {
		cfg := util.DefaultConfig()
		cfg.Sorter.KBuffer = kbuffer
		s, pool := create(t, &QuerySpec{Limit: 3}, cfg)
		if kbuffer {
			assert.IsType(t, &sorter.KBufferSorter{}, s)
		} else {
			assert.IsType(t, &sorter.HeapSorter{}, s)
		}
		var defs []testRow
		for i, w := range []int32{5, 2, 8, 1, 9, 3} {
			defs = append(defs, testRow{id: uint64(i + 1), weight: w})
		}
		rows := makeRows(t, s, defs)
		pushAll(s, rows)
		freeRows(s, rows)

		var out []match.Match
		s.Flatten(&out)
		var weights []int32
		for i := range out {
			weights = append(weights, out[i].Weight)
		}
		assert.Equal(t, []int32{9, 8, 5}, weights)
		freeRows(s, out)
		assert.Equal(t, 0, pool.Live())
	}
}

func Test_CreateSorterGroupSum(t *testing.T) {
	spec := &QuerySpec{
		GroupBy:    []string{"cat"},
		Order:      []OrderItem{{Name: "total", Desc: true}},
		Aggregates: []AggrSpec{{Func: match.AggrSum, Attr: "price", Alias: "total"}},
		Limit:      10,
	}
	s, pool := create(t, spec, nil)
	rows := makeRows(t, s, []testRow{
		{id: 1, cat: "A", price: 10},
		{id: 2, cat: "B", price: 5},
		{id: 3, cat: "A", price: 7},
	})
	pushAll(s, rows)
	freeRows(s, rows)

	var out []match.Match
	require.Equal(t, 2, s.Flatten(&out))
	schema := s.Schema()
	catLoc := loc(t, schema, "cat")
	totalLoc := loc(t, schema, "total")
	countLoc := loc(t, schema, match.AttrNameCount)
	assert.Equal(t, "A", string(pool.Get(out[0].GetAttr(catLoc))))
	assert.Equal(t, int64(17), out[0].GetInt(totalLoc))
	assert.Equal(t, int64(2), out[0].GetInt(countLoc))
	assert.Equal(t, "B", string(pool.Get(out[1].GetAttr(catLoc))))
	assert.Equal(t, int64(5), out[1].GetInt(totalLoc))
	freeRows(s, out)
	assert.Equal(t, 0, pool.Live())
}

func Test_CreateSorterShapes(t *testing.T) {
	tests := []struct {
		name string
		spec *QuerySpec
		want string
	}{
		{"plain", &QuerySpec{Limit: 5}, "HeapSorter:"},
		{"group", &QuerySpec{Limit: 5, GroupBy: []string{"cat"}}, "GroupSorter:"},
		{"nbest", &QuerySpec{Limit: 5, GroupBy: []string{"cat"}, GroupLimit: 3}, "NBestGroupSorter:"},
		{"implicit", &QuerySpec{Aggregates: []AggrSpec{{Func: match.AggrMax, Attr: "price"}}}, "ImplicitGroupSorter:"},
		{"implicit distinct", &QuerySpec{Distinct: "user"}, "ImplicitGroupSorter:"},
		{"composite", &QuerySpec{Limit: 5, GroupBy: []string{"cat", "user"}}, "multi(cat,user)"},
		{"mva", &QuerySpec{Limit: 5, GroupBy: []string{"tags"}}, "GroupSorter:"},
		{"date", &QuerySpec{Limit: 5, GroupBy: []string{"ts"}, GroupFunc: GroupMonth}, "GroupSorter:"},
		{"json", &QuerySpec{Limit: 5, GroupBy: []string{"doc.a.b"}}, "GroupSorter:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := create(t, tt.spec, nil)
			assert.Contains(t, explain(s), tt.want)
		})
	}
}

func Test_CreateSorterSchema(t *testing.T) {
	base := baseSchema()
	spec := &QuerySpec{
		GroupBy:    []string{"cat"},
		Distinct:   "user",
		Aggregates: []AggrSpec{{Func: match.AggrAvg, Attr: "price"}},
	}
	s, err := CreateSorter(spec, base, match.NewBlobPool(), nil)
	require.NoError(t, err)
	schema := s.Schema()
	assert.NotSame(t, base, schema)
	assert.Equal(t, 7, base.Len())
	for _, name := range []string{match.AttrNameGroupBy, match.AttrNameCount, match.AttrNameDistinct} {
		desc, has := schema.GetAttr(name)
		require.True(t, has, name)
		assert.True(t, desc.Magic)
	}
	desc, has := schema.GetAttr("avg(price)")
	require.True(t, has)
	assert.Equal(t, match.AggrAvg, desc.Aggr)
	assert.Equal(t, common.AttrFloat, desc.Type)
}

func Test_CreateSorterErrors(t *testing.T) {
	sixKeys := []OrderItem{{Name: "price"}, {Name: "user"}, {Name: "ts"}, {Name: "score"}, {Name: "cat"}, {Name: "@id"}}
	tests := []struct {
		name string
		spec *QuerySpec
		want string
	}{
		{"unknown order", &QuerySpec{Order: []OrderItem{{Name: "nope"}}}, "unknown attribute 'nope'"},
		{"too many keys", &QuerySpec{Order: sixKeys}, "at most 5"},
		{"order by mva", &QuerySpec{Order: []OrderItem{{Name: "tags"}}}, "can not sort by"},
		{"negative limit", &QuerySpec{Limit: -1}, "invalid limit"},
		{"negative group limit", &QuerySpec{GroupBy: []string{"cat"}, GroupLimit: -2}, "invalid group limit"},
		{"group limit alone", &QuerySpec{GroupLimit: 2}, "requires group by"},
		{"within alone", &QuerySpec{WithinGroupOrder: []OrderItem{{Name: "price"}}}, "requires group by"},
		{"unknown group", &QuerySpec{GroupBy: []string{"nope"}}, "unknown attribute"},
		{"group magic", &QuerySpec{GroupBy: []string{"cat"}, Order: []OrderItem{{Name: "@distinct"}}}, "unknown attribute '@distinct'"},
		{"group count without group", &QuerySpec{Order: []OrderItem{{Name: "@count"}}}, "unknown attribute '@count'"},
		{"path on non json", &QuerySpec{GroupBy: []string{"cat.a"}}, "needs a json column"},
		{"date on string", &QuerySpec{GroupBy: []string{"cat"}, GroupFunc: GroupDay}, "needs a timestamp"},
		{"date on two columns", &QuerySpec{GroupBy: []string{"ts", "user"}, GroupFunc: GroupDay}, "exactly one"},
		{"composite mva", &QuerySpec{GroupBy: []string{"cat", "tags"}}, "together with other columns"},
		{"avg of string", &QuerySpec{Aggregates: []AggrSpec{{Func: match.AggrAvg, Attr: "cat"}}}, "avg can not take string"},
		{"aggregate unknown", &QuerySpec{Aggregates: []AggrSpec{{Func: match.AggrSum, Attr: "nope"}}}, "unknown attribute"},
		{"alias clash", &QuerySpec{Aggregates: []AggrSpec{{Func: match.AggrSum, Attr: "price", Alias: "user"}}}, "duplicate attribute name"},
		{"distinct mva", &QuerySpec{Distinct: "tags"}, "can not count distinct"},
		{"having alone", &QuerySpec{Having: &HavingSpec{Name: "price", Op: ">", Value: 1}}, "having requires"},
		{"having plain column", &QuerySpec{GroupBy: []string{"cat"}, Having: &HavingSpec{Name: "price", Op: ">", Value: 1}}, "can not reference 'price'"},
		{"having string", &QuerySpec{GroupBy: []string{"cat"}, Having: &HavingSpec{Name: "cat", Op: "=", Value: 1}}, "can not compare"},
		{"having op", &QuerySpec{GroupBy: []string{"cat"}, Having: &HavingSpec{Name: "@count", Op: "~", Value: 1}}, "unknown having operator"},
		{"collation", &QuerySpec{Collation: "klingon"}, "unknown collation"},
		{"expr without name", &QuerySpec{Order: []OrderItem{{Expr: match.IntExpr(func(*match.Match) int64 { return 0 })}}}, "needs a name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := CreateSorter(tt.spec, baseSchema(), match.NewBlobPool(), nil)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, strings.ToLower(err.Error()), err.Error())
		})
	}
}

func Test_ImplicitCountDistinct(t *testing.T) {
	spec := &QuerySpec{
		Distinct:   "user",
		Aggregates: []AggrSpec{{Func: match.AggrSum, Attr: "price", Alias: "total"}},
	}
	s, pool := create(t, spec, nil)
	rows := makeRows(t, s, []testRow{
		{id: 1, user: 1, price: 1},
		{id: 2, user: 2, price: 2},
		{id: 3, user: 1, price: 3},
		{id: 4, user: 3, price: 4},
	})
	pushAll(s, rows)
	freeRows(s, rows)

	var out []match.Match
	require.Equal(t, 1, s.Flatten(&out))
	schema := s.Schema()
	assert.Equal(t, int64(4), out[0].GetInt(loc(t, schema, match.AttrNameCount)))
	assert.Equal(t, int64(3), out[0].GetInt(loc(t, schema, match.AttrNameDistinct)))
	assert.Equal(t, int64(10), out[0].GetInt(loc(t, schema, "total")))
	assert.Equal(t, int64(4), s.TotalCount())
	freeRows(s, out)
	assert.Equal(t, 0, pool.Live())
}

func Test_HavingCount(t *testing.T) {
	spec := &QuerySpec{
		GroupBy: []string{"cat"},
		Having:  &HavingSpec{Name: "@count", Op: ">=", Value: 2},
	}
	s, pool := create(t, spec, nil)
	rows := makeRows(t, s, []testRow{
		{id: 1, cat: "a"},
		{id: 2, cat: "b"},
		{id: 3, cat: "A"},
		{id: 4, cat: "c"},
	})
	pushAll(s, rows)
	freeRows(s, rows)

	var out []match.Match
	require.Equal(t, 1, s.Flatten(&out))
	//libc_ci folds the case
	assert.Equal(t, int64(2), out[0].GetInt(loc(t, s.Schema(), match.AttrNameCount)))
	freeRows(s, out)
	assert.Equal(t, 0, pool.Live())
}

func Test_NBestWithinGroup(t *testing.T) {
	spec := &QuerySpec{
		GroupBy:          []string{"cat"},
		GroupLimit:       2,
		Order:            []OrderItem{{Name: "@count", Desc: true}},
		WithinGroupOrder: []OrderItem{{Name: "price", Desc: true}},
		Collation:        "binary",
	}
	s, pool := create(t, spec, nil)
	rows := makeRows(t, s, []testRow{
		{id: 1, cat: "A", price: 1},
		{id: 2, cat: "A", price: 5},
		{id: 3, cat: "B", price: 2},
		{id: 4, cat: "A", price: 3},
	})
	pushAll(s, rows)
	freeRows(s, rows)

	var out []match.Match
	require.Equal(t, 3, s.Flatten(&out))
	priceLoc := loc(t, s.Schema(), "price")
	var prices []int64
	for i := range out {
		prices = append(prices, out[i].GetInt(priceLoc))
	}
	assert.Equal(t, []int64{5, 3, 2}, prices)
	freeRows(s, out)
	assert.Equal(t, 0, pool.Live())
}

func Test_ExprOrder(t *testing.T) {
	s0, _ := create(t, &QuerySpec{}, nil)
	priceLoc := loc(t, s0.Schema(), "price")
	scoreLoc := loc(t, s0.Schema(), "score")
	rank := match.FloatExpr(func(m *match.Match) float64 {
		return float64(m.GetInt(priceLoc)) * m.GetFloat(scoreLoc)
	})
	spec := &QuerySpec{
		Order: []OrderItem{{Name: "rank", Expr: rank, Desc: true}},
		Limit: 2,
	}
	s, pool := create(t, spec, nil)
	assert.Contains(t, explain(s), "rank desc")
	rows := makeRows(t, s, []testRow{
		{id: 1, price: 10, score: 0.5},
		{id: 2, price: 2, score: 4},
		{id: 3, price: 3, score: 1},
	})
	pushAll(s, rows)
	freeRows(s, rows)

	var out []match.Match
	require.Equal(t, 2, s.Flatten(&out))
	assert.Equal(t, uint64(2), out[0].RowID)
	assert.Equal(t, uint64(1), out[1].RowID)
	assert.Equal(t, 8.0, out[0].GetFloat(loc(t, s.Schema(), "rank")))
	freeRows(s, out)
	assert.Equal(t, 0, pool.Live())
}

func Test_GroupByDay(t *testing.T) {
	spec := &QuerySpec{
		GroupBy:   []string{"ts"},
		GroupFunc: GroupDay,
		Order:     []OrderItem{{Name: "@groupby"}},
	}
	s, pool := create(t, spec, nil)
	rows := makeRows(t, s, []testRow{
		{id: 1, ts: 0},
		{id: 2, ts: 86400 + 5},
		{id: 3, ts: 3600},
	})
	pushAll(s, rows)
	freeRows(s, rows)

	var out []match.Match
	require.Equal(t, 2, s.Flatten(&out))
	groupBy := loc(t, s.Schema(), match.AttrNameGroupBy)
	count := loc(t, s.Schema(), match.AttrNameCount)
	assert.Equal(t, int64(19700101), out[0].GetInt(groupBy))
	assert.Equal(t, int64(2), out[0].GetInt(count))
	assert.Equal(t, int64(19700102), out[1].GetInt(groupBy))
	assert.Equal(t, int64(1), out[1].GetInt(count))
	freeRows(s, out)
	assert.Equal(t, 0, pool.Live())
}

func Test_GroupByJSON(t *testing.T) {
	spec := &QuerySpec{
		GroupBy: []string{"doc.a"},
		Order:   []OrderItem{{Name: "@count", Desc: true}},
	}
	s, pool := create(t, spec, nil)
	rows := makeRows(t, s, []testRow{
		{id: 1, doc: `{"a":1}`},
		{id: 2, doc: `{"a":"x"}`},
		{id: 3, doc: `{"a":1.0}`},
	})
	pushAll(s, rows)
	freeRows(s, rows)

	var out []match.Match
	require.Equal(t, 2, s.Flatten(&out))
	count := loc(t, s.Schema(), match.AttrNameCount)
	assert.Equal(t, int64(2), out[0].GetInt(count))
	assert.Equal(t, int64(1), out[1].GetInt(count))
	freeRows(s, out)
	assert.Equal(t, 0, pool.Live())
}

func Test_GroupByExplode(t *testing.T) {
	tests := []struct {
		name    string
		groupBy string
		rows    []testRow
	}{
		{"json array", "doc.tags[]", []testRow{
			{id: 1, doc: `{"tags":["a","b"]}`},
			{id: 2, doc: `{"tags":["b"]}`},
		}},
		{"mva", "tags", []testRow{
			{id: 1, tags: []int64{7, 9}},
			{id: 2, tags: []int64{9}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := &QuerySpec{
				GroupBy: []string{tt.groupBy},
				Order:   []OrderItem{{Name: "@count", Desc: true}},
			}
			s, pool := create(t, spec, nil)
			rows := makeRows(t, s, tt.rows)
			pushAll(s, rows)
			freeRows(s, rows)

			var out []match.Match
			require.Equal(t, 2, s.Flatten(&out))
			count := loc(t, s.Schema(), match.AttrNameCount)
			assert.Equal(t, int64(2), out[0].GetInt(count))
			assert.Equal(t, int64(1), out[1].GetInt(count))
			assert.Equal(t, int64(2), s.TotalCount())
			freeRows(s, out)
			assert.Equal(t, 0, pool.Live())
		})
	}
}

func Test_QuerySpecClone(t *testing.T) {
	spec := &QuerySpec{
		GroupBy:    []string{"cat"},
		Aggregates: []AggrSpec{{Func: match.AggrSum, Attr: "price", Alias: "total"}},
		Having:     &HavingSpec{Name: "total", Op: ">", Value: 3},
		Limit:      4,
	}
	cp := spec.Clone()
	cp.GroupBy[0] = "user"
	cp.Aggregates[0].Alias = "sum"
	cp.Having.Value = 10
	assert.Equal(t, "cat", spec.GroupBy[0])
	assert.Equal(t, "total", spec.Aggregates[0].Alias)
	assert.Equal(t, 3.0, spec.Having.Value)
	assert.Equal(t, 4, cp.Limit)
	assert.Equal(t, "order by @weight desc group by cat limit 4", spec.String())
}

func Test_ImplicitCount(t *testing.T) {
	spec := &QuerySpec{Count: true, Order: []OrderItem{{Name: "@count", Desc: true}}}
	require.True(t, spec.IsImplicit())
	assert.Equal(t, "order by @count desc count(*) limit 0", spec.String())
	s, pool := create(t, spec, nil)
	assert.Contains(t, explain(s), "ImplicitGroupSorter")
	rows := makeRows(t, s, []testRow{
		{id: 1, weight: 3},
		{id: 2, weight: 7},
		{id: 3, weight: 1},
		{id: 4, weight: 2},
		{id: 5, weight: 5},
	})
	pushAll(s, rows)
	freeRows(s, rows)

	var out []match.Match
	require.Equal(t, 1, s.Flatten(&out))
	assert.Equal(t, int64(5), out[0].GetInt(loc(t, s.Schema(), match.AttrNameCount)))
	assert.Equal(t, uint64(2), out[0].RowID)
	freeRows(s, out)
	assert.Equal(t, 0, pool.Live())
}

func Test_HavingBeforeLimit(t *testing.T) {
	spec := &QuerySpec{
		GroupBy: []string{"cat"},
		Order:   []OrderItem{{Name: "@count", Desc: true}},
		Having:  &HavingSpec{Name: "@count", Op: "<", Value: 2},
		Limit:   1,
	}
	s, pool := create(t, spec, nil)
	rows := makeRows(t, s, []testRow{
		{id: 1, cat: "A"},
		{id: 2, cat: "A"},
		{id: 3, cat: "A"},
		{id: 4, cat: "B"},
	})
	pushAll(s, rows)
	freeRows(s, rows)

	var out []match.Match
	require.Equal(t, 1, s.Flatten(&out))
	schema := s.Schema()
	assert.Equal(t, int64(1), out[0].GetInt(loc(t, schema, match.AttrNameCount)))
	assert.Equal(t, "B", string(pool.Get(out[0].GetAttr(loc(t, schema, "cat")))))
	freeRows(s, out)
	assert.Equal(t, 0, pool.Live())
}
