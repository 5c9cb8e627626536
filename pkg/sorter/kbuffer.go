package sorter

import (
	"fmt"
	"slices"

	"github.com/xlab/treeprint"

	"github.com/daviszhen/ranker/pkg/match"
	"github.com/daviszhen/ranker/pkg/util"
)

// KBufferSorter appends matches unsorted into a buffer of CutFactor*Limit.
// When the buffer fills, one partition keeps the best 2*Limit and the
// worst of them becomes the bar new matches must beat.
type KBufferSorter struct {
	base
	_cmp   Comparator
	_data  []match.Match
	_bound int
}

func NewKBufferSorter(opts Options, cmp Comparator) *KBufferSorter {
	cmp.SetBlobPool(opts.Pool)
	return &KBufferSorter{
		base:   newBase(opts),
		_cmp:   cmp,
		_bound: -1,
	}
}

func (ks *KBufferSorter) better(a, b match.Match) bool {
	return ks._cmp.Better(&a, &b)
}

func (ks *KBufferSorter) Push(m *match.Match) bool {
	ks._owner.Check()
	ks.prepare(m)
	return ks.add(m)
}

func (ks *KBufferSorter) PushGrouped(m *match.Match, _ bool) bool {
	ks._owner.Check()
	return ks.add(m)
}

func (ks *KBufferSorter) add(m *match.Match) bool {
	if ks._bound >= 0 && !ks._cmp.Better(m, &ks._data[ks._bound]) {
		return false
	}
	ks._data = append(ks._data, match.Match{})
	ks._schema.CloneMatch(&ks._data[len(ks._data)-1], m, ks._pool)
	if len(ks._data) >= util.CutFactor*ks._limit {
		ks.cut(2 * ks._limit)
	}
	return true
}

// cut keeps the best n matches and frees the rest.
func (ks *KBufferSorter) cut(n int) {
	if len(ks._data) <= n {
		return
	}
	util.SelectNth(ks._data, n-1, ks.better)
	for i := n; i < len(ks._data); i++ {
		ks._schema.FreeMatch(&ks._data[i], ks._pool)
		ks._data[i] = match.Match{}
	}
	ks._data = ks._data[:n]
	ks._bound = n - 1
}

func (ks *KBufferSorter) GetLength() int {
	return min(len(ks._data), ks._limit)
}

func (ks *KBufferSorter) sort() {
	slices.SortFunc(ks._data, func(a, b match.Match) int {
		if ks._cmp.Better(&a, &b) {
			return -1
		}
		if ks._cmp.Better(&b, &a) {
			return 1
		}
		return 0
	})
}

// finish shrinks the buffer to Limit matches.
func (ks *KBufferSorter) finish(orderMatters bool) {
	ks.cut(ks._limit)
	ks._bound = -1
	if orderMatters {
		ks.sort()
	}
}

func (ks *KBufferSorter) Finalize(visit func(m *match.Match), orderMatters bool) {
	ks._owner.Check()
	ks.finish(orderMatters)
	for i := range ks._data {
		visit(&ks._data[i])
	}
}

func (ks *KBufferSorter) Flatten(dst *[]match.Match) int {
	ks._owner.Check()
	ks.finish(true)
	n := len(ks._data)
	*dst = append(*dst, ks._data...)
	clear(ks._data)
	ks._data = ks._data[:0]
	return n
}

func (ks *KBufferSorter) Clone() Sorter {
	return &KBufferSorter{
		base:   ks.cloneBase(),
		_cmp:   ks._cmp.Clone(),
		_bound: -1,
	}
}

func (ks *KBufferSorter) MoveTo(dst Sorter) {
	ks.handOver()
	for i := range ks._data {
		dst.PushGrouped(&ks._data[i], true)
	}
	dst.(totalAdder).addTotal(ks._total)
	ks.Release()
	ks._total = 0
}

func (ks *KBufferSorter) Release() {
	for i := range ks._data {
		ks._schema.FreeMatch(&ks._data[i], ks._pool)
	}
	clear(ks._data)
	ks._data = ks._data[:0]
	ks._bound = -1
}

func (ks *KBufferSorter) SetSchema(schema *match.Schema, remap bool) {
	ks._owner.Check()
	if remap {
		ks.remap(schema, func(fn func(m *match.Match)) {
			for i := range ks._data {
				fn(&ks._data[i])
			}
		})
	}
	ks._cmp.Fixup(ks._schema, schema)
	ks._schema = schema
}

func (ks *KBufferSorter) IsGroupBy() bool {
	return false
}

func (ks *KBufferSorter) Explain(tree treeprint.Tree) {
	tree = tree.AddBranch("KBufferSorter:")
	tree.AddMetaNode("limit", fmt.Sprintf("%d", ks._limit))
	tree.AddMetaNode("buffer", fmt.Sprintf("%d", util.CutFactor*ks._limit))
	tree.AddMetaNode("order", ks._cmp.String())
}
