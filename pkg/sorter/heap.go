package sorter

import (
	"fmt"
	"slices"

	"github.com/xlab/treeprint"

	"github.com/daviszhen/ranker/pkg/match"
	"github.com/daviszhen/ranker/pkg/util"
)

// HeapSorter keeps the top Limit matches in a binary heap whose root is
// the worst retained match. The heap orders indexes into _data so
// sifting never moves matches.
type HeapSorter struct {
	base
	_cmp  Comparator
	_data []match.Match
	_heap []int
}

func NewHeapSorter(opts Options, cmp Comparator) *HeapSorter {
	cmp.SetBlobPool(opts.Pool)
	return &HeapSorter{
		base: newBase(opts),
		_cmp: cmp,
	}
}

// worse is the heap order: the root is worse than everything else.
func (hs *HeapSorter) worse(a, b int) bool {
	return hs._cmp.Better(&hs._data[b], &hs._data[a])
}

func (hs *HeapSorter) Push(m *match.Match) bool {
	hs._owner.Check()
	hs.prepare(m)
	return hs.add(m)
}

func (hs *HeapSorter) PushGrouped(m *match.Match, _ bool) bool {
	hs._owner.Check()
	return hs.add(m)
}

func (hs *HeapSorter) add(m *match.Match) bool {
	if len(hs._heap) < hs._limit {
		idx := len(hs._data)
		hs._data = append(hs._data, match.Match{})
		hs._schema.CloneMatch(&hs._data[idx], m, hs._pool)
		util.HeapPush(&hs._heap, idx, hs.worse)
		return true
	}
	root := hs._heap[0]
	if !hs._cmp.Better(m, &hs._data[root]) {
		return false
	}
	hs._schema.FreeMatch(&hs._data[root], hs._pool)
	hs._schema.CloneMatch(&hs._data[root], m, hs._pool)
	util.HeapFix(hs._heap, 0, hs.worse)
	return true
}

func (hs *HeapSorter) GetLength() int {
	return len(hs._heap)
}

// ordered returns the data indexes best first.
func (hs *HeapSorter) ordered() []int {
	ret := slices.Clone(hs._heap)
	slices.SortFunc(ret, func(a, b int) int {
		if hs._cmp.Better(&hs._data[a], &hs._data[b]) {
			return -1
		}
		if hs._cmp.Better(&hs._data[b], &hs._data[a]) {
			return 1
		}
		return 0
	})
	return ret
}

func (hs *HeapSorter) Finalize(visit func(m *match.Match), orderMatters bool) {
	hs._owner.Check()
	idxs := hs._heap
	if orderMatters {
		idxs = hs.ordered()
	}
	for _, idx := range idxs {
		visit(&hs._data[idx])
	}
}

func (hs *HeapSorter) Flatten(dst *[]match.Match) int {
	hs._owner.Check()
	n := len(hs._heap)
	start := len(*dst)
	*dst = slices.Grow(*dst, n)[:start+n]
	//the root is the worst, fill from the back
	for i := n - 1; i >= 0; i-- {
		idx := util.HeapPop(&hs._heap, hs.worse)
		(*dst)[start+i] = hs._data[idx]
	}
	hs._data = hs._data[:0]
	return n
}

func (hs *HeapSorter) Clone() Sorter {
	return &HeapSorter{
		base: hs.cloneBase(),
		_cmp: hs._cmp.Clone(),
	}
}

func (hs *HeapSorter) MoveTo(dst Sorter) {
	hs.handOver()
	for _, idx := range hs._heap {
		dst.PushGrouped(&hs._data[idx], true)
	}
	dst.(totalAdder).addTotal(hs._total)
	hs.Release()
	hs._total = 0
}

func (hs *HeapSorter) Release() {
	for _, idx := range hs._heap {
		hs._schema.FreeMatch(&hs._data[idx], hs._pool)
	}
	hs._heap = hs._heap[:0]
	hs._data = hs._data[:0]
}

func (hs *HeapSorter) SetSchema(schema *match.Schema, remap bool) {
	hs._owner.Check()
	if remap {
		hs.remap(schema, func(fn func(m *match.Match)) {
			for _, idx := range hs._heap {
				fn(&hs._data[idx])
			}
		})
	}
	hs._cmp.Fixup(hs._schema, schema)
	hs._schema = schema
}

func (hs *HeapSorter) IsGroupBy() bool {
	return false
}

func (hs *HeapSorter) Explain(tree treeprint.Tree) {
	tree = tree.AddBranch("HeapSorter:")
	tree.AddMetaNode("limit", fmt.Sprintf("%d", hs._limit))
	tree.AddMetaNode("order", hs._cmp.String())
}
