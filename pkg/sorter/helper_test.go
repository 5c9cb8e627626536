package sorter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daviszhen/ranker/pkg/aggr"
	"github.com/daviszhen/ranker/pkg/common"
	"github.com/daviszhen/ranker/pkg/grouper"
	"github.com/daviszhen/ranker/pkg/match"
	"github.com/daviszhen/ranker/pkg/util"
)

type testEnv struct {
	t      *testing.T
	schema *match.Schema
	pool   *match.BlobPool
	cfg    *util.Config

	gid      match.Locator
	cat      match.Locator
	price    match.Locator
	user     match.Locator
	tags     match.Locator
	label    match.Locator
	groupBy  match.Locator
	count    match.Locator
	distinct match.Locator
	total    match.Locator
	avg      match.Locator
	labels   match.Locator
}

func newTestEnv(t *testing.T) *testEnv {
	env := &testEnv{
		t:      t,
		schema: match.NewSchema(),
		pool:   match.NewBlobPool(),
		cfg:    util.DefaultConfig(),
	}
	s := env.schema
	env.gid = s.MustAddAttr("gid", common.AttrBigint)
	env.cat = s.MustAddAttr("cat", common.AttrString)
	env.price = s.MustAddAttr("price", common.AttrBigint)
	env.user = s.MustAddAttr("user", common.AttrBigint)
	env.tags = s.MustAddAttr("tags", common.AttrInt64Set)
	env.label = s.MustAddAttr("label", common.AttrString)
	env.groupBy = s.MustAddAttr(match.AttrNameGroupBy, common.AttrBigint)
	env.count = s.MustAddAttr(match.AttrNameCount, common.AttrBigint)
	env.distinct = s.MustAddAttr(match.AttrNameDistinct, common.AttrBigint)
	env.total = s.MustAddAttr("total", common.AttrBigint)
	env.avg = s.MustAddAttr("avgprice", common.AttrFloat)
	env.labels = s.MustAddAttr("labels", common.AttrString)
	return env
}

type rowDef struct {
	id     uint64
	weight int32
	tag    int32
	gid    int64
	cat    string
	price  int64
	user   int64
	tags   []int64
	label  string
}

func (env *testEnv) row(def rowDef) match.Match {
	m := env.schema.NewMatch()
	m.RowID = def.id
	m.Weight = def.weight
	m.Tag = def.tag
	m.SetInt(env.gid, def.gid)
	m.SetAttr(env.cat, env.pool.AllocString(def.cat))
	m.SetInt(env.price, def.price)
	m.SetInt(env.user, def.user)
	m.SetAttr(env.tags, env.pool.Alloc(match.EncodeMVA(common.AttrInt64Set, def.tags)))
	m.SetAttr(env.label, env.pool.AllocString(def.label))
	return m
}

func (env *testEnv) rows(defs []rowDef) []match.Match {
	ret := make([]match.Match, len(defs))
	for i, def := range defs {
		ret[i] = env.row(def)
	}
	return ret
}

func (env *testEnv) free(rows []match.Match) {
	for i := range rows {
		env.schema.FreeMatch(&rows[i], env.pool)
	}
}

func (env *testEnv) str(m *match.Match, loc match.Locator) string {
	return string(env.pool.Get(m.GetAttr(loc)))
}

func (env *testEnv) options(limit int) Options {
	return Options{
		Schema: env.schema,
		Pool:   env.pool,
		Limit:  limit,
		Config: env.cfg,
	}
}

func (env *testEnv) cmp(keys ...SortKey) Comparator {
	ret, err := NewComparator(keys, common.CollationLibcCI)
	require.NoError(env.t, err)
	ret.SetBlobPool(env.pool)
	return ret
}

func weightDesc() SortKey {
	return SortKey{Name: match.AttrNameWeight, Kind: KeyWeight, Desc: true}
}

func (env *testEnv) countDesc() SortKey {
	return SortKey{Name: match.AttrNameCount, Kind: KeyInt, Loc: env.count, Desc: true}
}

func (env *testEnv) aggregates() []aggr.Aggregate {
	specs := []aggr.Spec{
		{Kind: match.AggrSum, Name: "price", Alias: "total", In: env.price, InType: common.AttrBigint, Out: env.total},
		{Kind: match.AggrAvg, Name: "price", Alias: "avgprice", In: env.price, InType: common.AttrBigint, Out: env.avg, Count: env.count},
		{Kind: match.AggrCat, Name: "label", Alias: "labels", In: env.label, InType: common.AttrString, Out: env.labels},
	}
	ret := make([]aggr.Aggregate, len(specs))
	for i, spec := range specs {
		ret[i] = aggr.New(spec)
	}
	return ret
}

type groupSetup struct {
	limit      int
	groupLimit int
	grouper    grouper.Grouper
	order      Comparator
	within     Comparator
	distinct   bool
	having     Filter
}

func (env *testEnv) groupSorter(setup groupSetup) *GroupSorter {
	if setup.groupLimit == 0 {
		setup.groupLimit = 1
	}
	if setup.grouper == nil {
		setup.grouper = grouper.NewAttrGrouper("gid", env.gid, common.AttrBigint)
	}
	if setup.within == nil {
		setup.within = env.cmp(weightDesc())
	}
	if setup.order == nil {
		setup.order = env.cmp(env.countDesc())
	}
	opts := GroupOptions{
		Options:     env.options(setup.limit),
		GroupLimit:  setup.groupLimit,
		Grouper:     setup.grouper,
		WithinGroup: setup.within,
		GroupOrder:  setup.order,
		Aggregates:  env.aggregates(),
		Distinct:    match.InvalidLocator,
		Collation:   common.CollationLibcCI,
		Having:      setup.having,
	}
	if setup.distinct {
		opts.Distinct = env.user
		opts.DistinctType = common.AttrBigint
	}
	return NewGroupSorter(opts)
}

// groupResult is one flattened group.
type groupResult struct {
	head     uint64
	count    int64
	total    int64
	avg      float64
	distinct int64
	labels   string
	ids      []uint64
}

// collect flattens s into results keyed by @groupby and frees the rows.
func (env *testEnv) collect(s Sorter) map[uint64]*groupResult {
	var out []match.Match
	s.Flatten(&out)
	ret := make(map[uint64]*groupResult)
	for i := range out {
		m := &out[i]
		key := m.GetAttr(env.groupBy)
		res, has := ret[key]
		if !has {
			res = &groupResult{
				head:     m.RowID,
				count:    m.GetInt(env.count),
				total:    m.GetInt(env.total),
				avg:      m.GetFloat(env.avg),
				distinct: m.GetInt(env.distinct),
				labels:   env.str(m, env.labels),
			}
			ret[key] = res
		}
		res.ids = append(res.ids, m.RowID)
	}
	env.free(out)
	return ret
}
