package sorter

import (
	"fmt"
	"slices"

	"github.com/xlab/treeprint"
	"go.uber.org/zap"

	"github.com/daviszhen/ranker/pkg/aggr"
	"github.com/daviszhen/ranker/pkg/common"
	"github.com/daviszhen/ranker/pkg/distinct"
	"github.com/daviszhen/ranker/pkg/grouper"
	"github.com/daviszhen/ranker/pkg/match"
	"github.com/daviszhen/ranker/pkg/util"
)

type GroupOptions struct {
	Options
	// GroupLimit is how many rows each group keeps. 1 keeps the head only.
	GroupLimit int
	// Grouper is nil for the implicit single group.
	Grouper grouper.Grouper
	// WithinGroup picks the head of a group.
	WithinGroup Comparator
	// GroupOrder ranks the groups by their heads.
	GroupOrder Comparator
	Aggregates []aggr.Aggregate
	// Distinct is the attribute COUNT(DISTINCT) counts, invalid for none.
	Distinct     match.Locator
	DistinctType common.AttrType
	Collation    common.Collation
	Having       Filter
}

// GroupSorter keeps the best Limit groups. Every group is a ring of at
// most GroupLimit matches in an arena. The ring starts at the head,
// the best match of the group, which also carries the group state:
// @groupby, @count, @distinct and the aggregate columns.
//
// Groups are ranked only when the arena outgrows CutFactor*Limit*GroupLimit
// live matches and at Finalize. Tail rows of a ring stay unsorted until
// Finalize. Finalize hides the groups HAVING rejects and the ones below
// the best Limit instead of freeing them, so a finalized sorter still
// hands every group over in MoveTo.
type GroupSorter struct {
	base
	_groupLimit int
	_grouper    grouper.Grouper
	_multi      grouper.MultiGrouper
	_within     Comparator
	_order      Comparator
	_aggrs      []aggr.Aggregate
	_having     Filter

	_distinct     *distinct.Counter
	_distinctLoc  match.Locator
	_distinctType common.AttrType
	_distinctColl *common.Collator

	_groupByLoc     match.Locator
	_countLoc       match.Locator
	_distinctCntLoc match.Locator
	//slots moved from head to head
	_stateLocs []match.Locator
	_avgs      []aggr.Aggregate

	_data      []match.Match
	_next      []int
	_chainLen  []int
	_free      []int
	_groups    map[uint64]int
	_keys      []uint64
	_avgSave   []uint64
	_visible   []int
	_finalized bool
}

func magicLoc(schema *match.Schema, name string) match.Locator {
	desc, has := schema.GetAttr(name)
	util.Assertf(has, "schema lacks %s", name)
	return desc.Loc
}

func NewGroupSorter(opts GroupOptions) *GroupSorter {
	util.Assertf(opts.GroupLimit >= 1, "invalid group limit %d", opts.GroupLimit)
	if opts.WithinGroup == nil {
		opts.WithinGroup, _ = NewComparator(nil, opts.Collation)
	}
	if opts.GroupOrder == nil {
		opts.GroupOrder = opts.WithinGroup.Clone()
	}
	gs := &GroupSorter{
		base:        newBase(opts.Options),
		_groupLimit: opts.GroupLimit,
		_grouper:    opts.Grouper,
		_within:     opts.WithinGroup,
		_order:      opts.GroupOrder,
		_aggrs:      opts.Aggregates,
		_having:     opts.Having,
		_groups:     make(map[uint64]int),
	}
	if opts.Distinct.Valid() {
		gs._distinct = distinct.NewCounter()
		gs._distinctLoc = opts.Distinct
		gs._distinctType = opts.DistinctType
		gs._distinctColl = common.NewCollator(opts.Collation)
	} else {
		gs._distinctLoc = match.InvalidLocator
	}
	gs.bindSchema()
	gs.bindPool()
	return gs
}

// NewImplicitSorter folds every row into one group. It serves aggregates
// without GROUP BY.
func NewImplicitSorter(opts GroupOptions) *GroupSorter {
	opts.Grouper = nil
	opts.GroupLimit = 1
	opts.Limit = 1
	return NewGroupSorter(opts)
}

func (gs *GroupSorter) bindSchema() {
	gs._groupByLoc = magicLoc(gs._schema, match.AttrNameGroupBy)
	gs._countLoc = magicLoc(gs._schema, match.AttrNameCount)
	gs._distinctCntLoc = match.InvalidLocator
	if gs._distinct != nil {
		gs._distinctCntLoc = magicLoc(gs._schema, match.AttrNameDistinct)
	}
	gs._stateLocs = append(gs._stateLocs[:0], gs._groupByLoc, gs._countLoc)
	if gs._distinctCntLoc.Valid() {
		gs._stateLocs = append(gs._stateLocs, gs._distinctCntLoc)
	}
	gs._avgs = gs._avgs[:0]
	for _, ag := range gs._aggrs {
		gs._stateLocs = append(gs._stateLocs, ag.Out())
		if ag.Kind() == match.AggrAvg {
			gs._avgs = append(gs._avgs, ag)
		}
	}
}

func (gs *GroupSorter) bindPool() {
	gs._within.SetBlobPool(gs._pool)
	gs._order.SetBlobPool(gs._pool)
	if gs._grouper != nil {
		gs._grouper.SetBlobPool(gs._pool)
		gs._multi, _ = gs._grouper.(grouper.MultiGrouper)
	}
	for _, ag := range gs._aggrs {
		ag.SetBlobPool(gs._pool)
	}
}

func (gs *GroupSorter) alloc() int {
	if n := len(gs._free); n > 0 {
		idx := gs._free[n-1]
		gs._free = gs._free[:n-1]
		return idx
	}
	gs._data = append(gs._data, match.Match{})
	gs._next = append(gs._next, -1)
	gs._chainLen = append(gs._chainLen, 0)
	return len(gs._data) - 1
}

func (gs *GroupSorter) releaseSlot(idx int) {
	gs._schema.FreeMatch(&gs._data[idx], gs._pool)
	gs._next[idx] = -1
	gs._chainLen[idx] = 0
	gs._free = append(gs._free, idx)
}

func (gs *GroupSorter) releaseChain(head int) {
	for i := head; ; {
		next := gs._next[i]
		gs.releaseSlot(i)
		if next == head {
			break
		}
		i = next
	}
}

func (gs *GroupSorter) live() int {
	return len(gs._data) - len(gs._free)
}

// heads lists the group heads in arena order.
func (gs *GroupSorter) heads() []int {
	ret := make([]int, 0, len(gs._groups))
	for i, n := range gs._chainLen {
		if n > 0 {
			ret = append(ret, i)
		}
	}
	return ret
}

// moveState hands the group state of src over to dst. Blob slots of src
// are cleared so the state keeps a single owner.
func (gs *GroupSorter) moveState(dst, src int) {
	d, s := &gs._data[dst], &gs._data[src]
	for _, loc := range gs._stateLocs {
		if loc.Blob {
			gs._pool.Free(d.GetAttr(loc))
			d.SetAttr(loc, s.GetAttr(loc))
			s.SetAttr(loc, 0)
		} else {
			d.SetAttr(loc, s.GetAttr(loc))
		}
	}
}

// inheritState copies the group state of head into a tail row.
func (gs *GroupSorter) inheritState(tail, head int) {
	t, h := &gs._data[tail], &gs._data[head]
	for _, loc := range gs._stateLocs {
		if loc.Blob {
			gs._pool.Free(t.GetAttr(loc))
			t.SetAttr(loc, gs._pool.Copy(h.GetAttr(loc)))
		} else {
			t.SetAttr(loc, h.GetAttr(loc))
		}
	}
}

func (gs *GroupSorter) keyOf(m *match.Match) uint64 {
	if gs._grouper == nil {
		return 0
	}
	return gs._grouper.KeyFromMatch(m)
}

func (gs *GroupSorter) Push(m *match.Match) bool {
	gs._owner.Check()
	gs.prepare(m)
	if gs._multi != nil {
		gs._keys = gs._multi.Keys(m, gs._keys)
		accepted := false
		for _, key := range gs._keys {
			if gs.add(m, key, false, true, true) {
				accepted = true
			}
		}
		return accepted
	}
	return gs.add(m, gs.keyOf(m), false, true, true)
}

func (gs *GroupSorter) PushGrouped(m *match.Match, newSet bool) bool {
	gs._owner.Check()
	return gs.add(m, m.GetAttr(gs._groupByLoc), true, newSet, true)
}

func (gs *GroupSorter) add(m *match.Match, key uint64, grouped, newSet, withDistinct bool) bool {
	util.AssertFunc(!gs._finalized)
	//every add grows the arena by at most one match
	if gs.live() >= util.CutFactor*gs._limit*gs._groupLimit {
		gs.cutWorst(gs._limit)
	}
	head, has := gs._groups[key]
	if !has {
		if grouped && !newSet {
			//tail of a group this sorter never saw the head of
			return false
		}
		gs.newGroup(m, key, grouped)
		if withDistinct {
			gs.addDistinct(key, m, grouped)
		}
		return true
	}
	if newSet {
		h := &gs._data[head]
		if grouped {
			h.AddInt(gs._countLoc, m.GetInt(gs._countLoc))
		} else {
			h.AddInt(gs._countLoc, 1)
		}
		for _, ag := range gs._aggrs {
			ag.Update(h, m, grouped)
		}
	}
	if withDistinct {
		gs.addDistinct(key, m, grouped)
	}
	retained := gs.rank(key, head, m)
	return retained || newSet
}

func (gs *GroupSorter) newGroup(m *match.Match, key uint64, grouped bool) {
	idx := gs.alloc()
	gs._schema.CloneMatch(&gs._data[idx], m, gs._pool)
	head := &gs._data[idx]
	head.SetAttr(gs._groupByLoc, key)
	if !grouped {
		head.SetInt(gs._countLoc, 1)
		if gs._distinctCntLoc.Valid() {
			head.SetInt(gs._distinctCntLoc, 0)
		}
		for _, ag := range gs._aggrs {
			ag.Setup(head)
		}
	}
	gs._next[idx] = idx
	gs._chainLen[idx] = 1
	gs._groups[key] = idx
}

func (gs *GroupSorter) distinctValue(m *match.Match) (uint64, bool) {
	v := m.GetAttr(gs._distinctLoc)
	if !gs._distinctLoc.Blob {
		return v, true
	}
	data := gs._pool.Get(v)
	if len(data) == 0 {
		return 0, false
	}
	if gs._distinctType == common.AttrString {
		return gs._distinctColl.Hash(data), true
	}
	return util.HashBytes(data), true
}

func (gs *GroupSorter) addDistinct(key uint64, m *match.Match, grouped bool) {
	if gs._distinct == nil {
		return
	}
	v, ok := gs.distinctValue(m)
	if !ok {
		return
	}
	count := int32(1)
	if grouped {
		if c := m.GetInt(gs._distinctCntLoc); c > 1 {
			count = int32(c)
		}
	}
	gs._distinct.Add(key, v, count)
}

// rank decides whether m is retained inside its group.
func (gs *GroupSorter) rank(key uint64, head int, m *match.Match) bool {
	if gs._groupLimit == 1 {
		if !gs._within.Better(m, &gs._data[head]) {
			return false
		}
		idx := gs.alloc()
		gs._schema.CloneMatch(&gs._data[idx], m, gs._pool)
		gs.moveState(idx, head)
		gs.releaseSlot(head)
		gs._next[idx] = idx
		gs._chainLen[idx] = 1
		gs._groups[key] = idx
		return true
	}

	if n := gs._chainLen[head]; n < gs._groupLimit {
		idx := gs.alloc()
		gs._schema.CloneMatch(&gs._data[idx], m, gs._pool)
		gs._next[idx] = gs._next[head]
		gs._next[head] = idx
		gs._chainLen[head] = n + 1
		if gs._within.Better(&gs._data[idx], &gs._data[head]) {
			gs.promote(key, head, idx)
		}
		return true
	}

	//full ring, the head is the best so the worst is a tail
	worst := gs._next[head]
	for i := gs._next[worst]; i != head; i = gs._next[i] {
		if gs._within.Better(&gs._data[worst], &gs._data[i]) {
			worst = i
		}
	}
	if !gs._within.Better(m, &gs._data[worst]) {
		return false
	}
	gs._schema.FreeMatch(&gs._data[worst], gs._pool)
	gs._schema.CloneMatch(&gs._data[worst], m, gs._pool)
	if gs._within.Better(&gs._data[worst], &gs._data[head]) {
		gs.promote(key, head, worst)
	}
	return true
}

// promote makes idx, already linked into the ring, the head of the group.
func (gs *GroupSorter) promote(key uint64, head, idx int) {
	gs.moveState(idx, head)
	gs._chainLen[idx] = gs._chainLen[head]
	gs._chainLen[head] = 0
	gs._groups[key] = idx
}

func (gs *GroupSorter) groupBetter(a, b int) bool {
	return gs._order.Better(&gs._data[a], &gs._data[b])
}

// refreshDistinct writes the current distinct counts into the heads.
func (gs *GroupSorter) refreshDistinct() {
	if gs._distinct == nil {
		return
	}
	for _, h := range gs._groups {
		gs._data[h].SetInt(gs._distinctCntLoc, 0)
	}
	for key, cnt, ok := gs._distinct.CountStart(); ok; key, cnt, ok = gs._distinct.CountNext() {
		if h, has := gs._groups[key]; has {
			gs._data[h].SetInt(gs._distinctCntLoc, int64(cnt))
		}
	}
}

// cutWorst keeps the best keep groups. AVG columns are finalized for
// the ranking and their running sums restored afterwards.
func (gs *GroupSorter) cutWorst(keep int) {
	if len(gs._groups) <= keep {
		return
	}
	heads := gs.heads()
	if len(gs._avgs) > 0 {
		gs._avgSave = slices.Grow(gs._avgSave[:0], len(heads)*len(gs._avgs))
		for _, h := range heads {
			for _, ag := range gs._avgs {
				gs._avgSave = append(gs._avgSave, gs._data[h].GetAttr(ag.Out()))
				ag.Finalize(&gs._data[h])
			}
		}
	}
	gs.refreshDistinct()

	//restore needs the arena order, select on a copy
	ranked := slices.Clone(heads)
	util.SelectTop(ranked, keep, gs.groupBetter)

	if len(gs._avgs) > 0 {
		pos := 0
		for _, h := range heads {
			for _, ag := range gs._avgs {
				gs._data[h].SetAttr(ag.Out(), gs._avgSave[pos])
				pos++
			}
		}
	}

	removed := make([]uint64, 0, len(ranked)-keep)
	for _, h := range ranked[keep:] {
		key := gs._data[h].GetAttr(gs._groupByLoc)
		removed = append(removed, key)
		delete(gs._groups, key)
		gs.releaseChain(h)
	}
	if gs._distinct != nil {
		gs._distinct.Compact(removed)
	}
	if gs._cfg.Debug.LogEvictions {
		util.Info("cut groups",
			zap.Int("kept", keep),
			zap.Int("evicted", len(removed)),
			zap.Int("live", gs.live()))
	}
}

// sortChain relinks the ring of head best first and copies the group
// state into the tails.
func (gs *GroupSorter) sortChain(head int) {
	if gs._chainLen[head] < 2 {
		return
	}
	tails := make([]int, 0, gs._chainLen[head]-1)
	for i := gs._next[head]; i != head; i = gs._next[i] {
		tails = append(tails, i)
	}
	slices.SortFunc(tails, func(a, b int) int {
		if gs._within.Better(&gs._data[a], &gs._data[b]) {
			return -1
		}
		if gs._within.Better(&gs._data[b], &gs._data[a]) {
			return 1
		}
		return 0
	})
	prev := head
	for _, t := range tails {
		gs._next[prev] = t
		gs.inheritState(t, head)
		prev = t
	}
	gs._next[prev] = head
}

// finalize settles the state of every group, filters the heads with
// HAVING and picks the best Limit of the survivors.
func (gs *GroupSorter) finalize() {
	if gs._finalized {
		return
	}
	gs.refreshDistinct()
	heads := gs.heads()
	visible := make([]int, 0, len(heads))
	for _, h := range heads {
		head := &gs._data[h]
		for _, ag := range gs._aggrs {
			ag.Finalize(head)
		}
		if gs._having == nil || gs._having.Keep(head) {
			visible = append(visible, h)
		}
	}
	if len(visible) > gs._limit {
		util.SelectTop(visible, gs._limit, gs.groupBetter)
		visible = visible[:gs._limit]
	}
	if gs._groupLimit > 1 {
		for _, h := range visible {
			gs.sortChain(h)
		}
	}
	if gs._cfg.Debug.LogEvictions && len(visible) < len(heads) {
		util.Info("hide groups",
			zap.Int("visible", len(visible)),
			zap.Int("hidden", len(heads)-len(visible)))
	}
	gs._visible = visible
	gs._finalized = true
}

// orderedVisible lists the visible heads best first.
func (gs *GroupSorter) orderedVisible() []int {
	heads := slices.Clone(gs._visible)
	slices.SortFunc(heads, func(a, b int) int {
		if gs.groupBetter(a, b) {
			return -1
		}
		if gs.groupBetter(b, a) {
			return 1
		}
		return 0
	})
	return heads
}

func (gs *GroupSorter) GetLength() int {
	if gs._finalized {
		if gs._groupLimit == 1 {
			return len(gs._visible)
		}
		n := 0
		for _, h := range gs._visible {
			n += gs._chainLen[h]
		}
		return n
	}
	if gs._groupLimit == 1 {
		return min(len(gs._groups), gs._limit)
	}
	return min(gs.live(), gs._limit*gs._groupLimit)
}

func (gs *GroupSorter) visitChains(heads []int, visit func(m *match.Match)) {
	for _, h := range heads {
		visit(&gs._data[h])
		for i := gs._next[h]; i != h; i = gs._next[i] {
			visit(&gs._data[i])
		}
	}
}

func (gs *GroupSorter) Finalize(visit func(m *match.Match), orderMatters bool) {
	gs._owner.Check()
	gs.finalize()
	if orderMatters {
		gs.visitChains(gs.orderedVisible(), visit)
	} else {
		gs.visitChains(gs._visible, visit)
	}
}

func (gs *GroupSorter) Flatten(dst *[]match.Match) int {
	gs._owner.Check()
	gs.finalize()
	start := len(*dst)
	visible := gs.orderedVisible()
	gs.visitChains(visible, func(m *match.Match) {
		*dst = append(*dst, *m)
	})
	//ownership went to dst, hidden groups are freed
	for _, h := range visible {
		gs.forgetChain(h)
	}
	gs.Release()
	return len(*dst) - start
}

// forgetChain drops the ring of head without freeing its matches.
func (gs *GroupSorter) forgetChain(head int) {
	for i := head; ; {
		next := gs._next[i]
		gs._data[i] = match.Match{}
		gs._next[i] = -1
		gs._chainLen[i] = 0
		if next == head {
			break
		}
		i = next
	}
}

func (gs *GroupSorter) reset() {
	gs._data = gs._data[:0]
	gs._next = gs._next[:0]
	gs._chainLen = gs._chainLen[:0]
	gs._free = gs._free[:0]
	clear(gs._groups)
	if gs._distinct != nil {
		gs._distinct.Reset()
	}
	gs._visible = gs._visible[:0]
	gs._finalized = false
}

func (gs *GroupSorter) Release() {
	for _, h := range gs.heads() {
		gs.releaseChain(h)
	}
	clear(gs._data)
	gs.reset()
}

func (gs *GroupSorter) Clone() Sorter {
	ret := &GroupSorter{
		base:          gs.cloneBase(),
		_groupLimit:   gs._groupLimit,
		_within:       gs._within.Clone(),
		_order:        gs._order.Clone(),
		_distinctLoc:  gs._distinctLoc,
		_distinctType: gs._distinctType,
		_groups:       make(map[uint64]int),
	}
	if gs._grouper != nil {
		ret._grouper = gs._grouper.Clone()
	}
	if gs._having != nil {
		ret._having = gs._having.Clone()
	}
	ret._aggrs = make([]aggr.Aggregate, len(gs._aggrs))
	for i, ag := range gs._aggrs {
		ret._aggrs[i] = ag.Clone()
	}
	if gs._distinct != nil {
		ret._distinct = distinct.NewCounter()
		ret._distinctColl = gs._distinctColl.Clone()
	}
	ret.bindSchema()
	ret.bindPool()
	return ret
}

// MoveTo re-pushes every group into dst, hidden ones of a finalized
// sorter included. Heads fold their state into dst, tails only compete
// for a place. Raw distinct entries travel as they are, so distinct
// counts stay exact.
func (gs *GroupSorter) MoveTo(dst Sorter) {
	gs.handOver()
	other, ok := dst.(*GroupSorter)
	util.Assertf(ok, "group sorter merged into %T", dst)
	other._owner.Check()
	if gs._distinct != nil && other._distinct != nil {
		other._distinct.Append(gs._distinct.Entries())
	}
	for _, h := range gs.heads() {
		head := &gs._data[h]
		if gs._finalized {
			for _, ag := range gs._aggrs {
				ag.Ungroup(head)
			}
		}
		key := head.GetAttr(gs._groupByLoc)
		other.add(head, key, true, true, false)
		for i := gs._next[h]; i != h; i = gs._next[i] {
			other.add(&gs._data[i], key, true, false, false)
		}
	}
	other._total += gs._total
	gs.Release()
	gs._total = 0
}

func (gs *GroupSorter) SetSchema(schema *match.Schema, remap bool) {
	gs._owner.Check()
	old := gs._schema
	if remap {
		gs.remap(schema, func(fn func(m *match.Match)) {
			gs.visitChains(gs.heads(), fn)
		})
	}
	gs._within.Fixup(old, schema)
	gs._order.Fixup(old, schema)
	if gs._grouper != nil {
		gs._grouper.Fixup(old, schema)
	}
	for _, ag := range gs._aggrs {
		ag.Fixup(old, schema)
	}
	if gs._distinctLoc.Valid() {
		gs._distinctLoc = schema.FixupLocator(gs._distinctLoc, old)
	}
	if gs._having != nil {
		gs._having.Fixup(old, schema)
	}
	gs._schema = schema
	gs.bindSchema()
}

func (gs *GroupSorter) IsGroupBy() bool {
	return true
}

func (gs *GroupSorter) Explain(tree treeprint.Tree) {
	switch {
	case gs._grouper == nil:
		tree = tree.AddBranch("ImplicitGroupSorter:")
	case gs._groupLimit > 1:
		tree = tree.AddBranch("NBestGroupSorter:")
		tree.AddMetaNode("groupLimit", fmt.Sprintf("%d", gs._groupLimit))
	default:
		tree = tree.AddBranch("GroupSorter:")
	}
	tree.AddMetaNode("limit", fmt.Sprintf("%d", gs._limit))
	if gs._grouper != nil {
		tree.AddMetaNode("groupBy", gs._grouper.String())
	}
	tree.AddMetaNode("withinGroup", gs._within.String())
	tree.AddMetaNode("groupOrder", gs._order.String())
	if len(gs._aggrs) > 0 {
		sub := tree.AddBranch("aggregates:")
		for _, ag := range gs._aggrs {
			sub.AddNode(ag.String())
		}
	}
	if gs._distinct != nil {
		tree.AddMetaNode("distinct", gs._schema.Attr(gs._distinctLoc.Idx).Name)
	}
	if gs._having != nil {
		tree.AddMetaNode("having", gs._having.String())
	}
}
