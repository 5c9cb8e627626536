// Package distinct counts distinct values per group exactly.
//
// Every contribution is kept as a (group, value, count) triple. Counting
// sorts the triples and walks them once. Compact drops groups that the
// owning sorter evicted and collapses duplicate triples.
package distinct

import (
	"slices"

	"github.com/daviszhen/ranker/pkg/util"
)

type Entry struct {
	Group uint64
	Value uint64
	// Count is how many distinct values this entry stands for: 1 for a
	// raw row, the partial @distinct for a pre-grouped row.
	Count int32
}

func compareEntry(a, b Entry) int {
	if c := util.CompareInt(a.Group, b.Group); c != 0 {
		return c
	}
	if c := util.CompareInt(a.Value, b.Value); c != 0 {
		return c
	}
	//larger count first so a run starts with its max
	return util.CompareInt(b.Count, a.Count)
}

type Counter struct {
	_entries []Entry
	_sorted  bool
	_pos     int
}

func NewCounter() *Counter {
	return &Counter{_sorted: true}
}

func (c *Counter) Add(group, value uint64, count int32) {
	util.AssertFunc(count > 0)
	c._entries = append(c._entries, Entry{Group: group, Value: value, Count: count})
	c._sorted = false
}

func (c *Counter) Len() int {
	return len(c._entries)
}

func (c *Counter) Sort() {
	if c._sorted {
		return
	}
	slices.SortFunc(c._entries, compareEntry)
	c._sorted = true
}

// CountStart sorts the entries and returns the distinct count of the
// first group.
func (c *Counter) CountStart() (group uint64, count int, ok bool) {
	c.Sort()
	c._pos = 0
	return c.CountNext()
}

// CountNext returns the distinct count of the next group. Every distinct
// value adds the largest count it was seen with.
func (c *Counter) CountNext() (group uint64, count int, ok bool) {
	if c._pos >= len(c._entries) {
		return 0, 0, false
	}
	util.AssertFunc(c._sorted)
	first := &c._entries[c._pos]
	group = first.Group
	count = int(first.Count)
	value := first.Value
	c._pos++
	for ; c._pos < len(c._entries); c._pos++ {
		e := &c._entries[c._pos]
		if e.Group != group {
			break
		}
		if e.Value != value {
			value = e.Value
			count += int(e.Count)
		}
	}
	return group, count, true
}

// Counts returns the distinct count of every group.
func (c *Counter) Counts() map[uint64]int {
	ret := make(map[uint64]int)
	for group, count, ok := c.CountStart(); ok; group, count, ok = c.CountNext() {
		ret[group] = count
	}
	return ret
}

// Compact sorts the entries, removes the groups in removed and keeps one
// entry per (group, value).
func (c *Counter) Compact(removed []uint64) {
	c.Sort()
	if len(removed) > 1 {
		removed = slices.Clone(removed)
		slices.Sort(removed)
	}
	out := c._entries[:0]
	r := 0
	for i := range c._entries {
		e := c._entries[i]
		for r < len(removed) && removed[r] < e.Group {
			r++
		}
		if r < len(removed) && removed[r] == e.Group {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Group == e.Group && out[n-1].Value == e.Value {
			continue
		}
		out = append(out, e)
	}
	clear(c._entries[len(out):])
	c._entries = out
}

// Entries exposes the raw triples. The slice is owned by the counter.
func (c *Counter) Entries() []Entry {
	return c._entries
}

func (c *Counter) Append(entries []Entry) {
	if len(entries) == 0 {
		return
	}
	c._entries = append(c._entries, entries...)
	c._sorted = false
}

func (c *Counter) Reset() {
	c._entries = c._entries[:0]
	c._sorted = true
	c._pos = 0
}
