package aggr

import (
	"bytes"
	"encoding/binary"
	"strconv"

	treemap "github.com/liyue201/gostl/ds/map"

	"github.com/daviszhen/ranker/pkg/common"
	"github.com/daviszhen/ranker/pkg/match"
	"github.com/daviszhen/ranker/pkg/util"
)

// A pending GROUP_CONCAT blob starts with catPending followed by chunks
// of [tag int32][len uint32][bytes]. A finalized blob is the plain text.
const (
	catPending   byte = 0x01
	catChunkHead      = 8
	catSep            = ","
)

func appendChunk(dst []byte, tag int32, data []byte) []byte {
	var head [catChunkHead]byte
	binary.LittleEndian.PutUint32(head[:4], uint32(tag))
	binary.LittleEndian.PutUint32(head[4:], uint32(len(data)))
	dst = append(dst, head[:]...)
	return append(dst, data...)
}

func isPending(blob []byte) bool {
	return len(blob) > 0 && blob[0] == catPending
}

// walkChunks calls fn for every chunk of a pending blob.
func walkChunks(blob []byte, fn func(tag int32, data []byte)) {
	util.AssertFunc(isPending(blob))
	for rest := blob[1:]; len(rest) > 0; {
		util.AssertFunc(len(rest) >= catChunkHead)
		tag := int32(binary.LittleEndian.Uint32(rest[:4]))
		n := int(binary.LittleEndian.Uint32(rest[4:8]))
		rest = rest[catChunkHead:]
		fn(tag, rest[:n])
		rest = rest[n:]
	}
}

// catAggr is GROUP_CONCAT. Contributions are collected with the tag of
// the worker that produced them and joined in tag order at Finalize, so
// the result does not depend on the order workers are merged in.
type catAggr struct {
	_spec Spec
	_pool *match.BlobPool
}

func (aggr *catAggr) text(m *match.Match) []byte {
	v := m.GetAttr(aggr._spec.In)
	switch {
	case aggr._spec.In.Blob:
		return aggr._pool.Get(v)
	case aggr._spec.InType == common.AttrFloat:
		return strconv.AppendFloat(nil, m.GetFloat(aggr._spec.In), 'f', -1, 64)
	default:
		return strconv.AppendInt(nil, m.GetInt(aggr._spec.In), 10)
	}
}

func (aggr *catAggr) Setup(head *match.Match) {
	util.AssertFunc(head.GetAttr(aggr._spec.Out) == 0)
	blob := []byte{catPending}
	if data := aggr.text(head); len(data) > 0 {
		blob = appendChunk(blob, head.Tag, data)
	}
	head.SetAttr(aggr._spec.Out, aggr._pool.Adopt(blob))
}

func (aggr *catAggr) Update(head, m *match.Match, grouped bool) {
	old := head.GetAttr(aggr._spec.Out)
	cur := aggr._pool.Get(old)
	if !isPending(cur) {
		cur = aggr.wrap(cur, head.Tag)
	}
	blob := make([]byte, len(cur), len(cur)+catChunkHead+16)
	copy(blob, cur)
	if grouped {
		other := aggr._pool.Get(m.GetAttr(aggr._spec.Out))
		if !isPending(other) {
			other = aggr.wrap(other, m.Tag)
		}
		blob = append(blob, other[1:]...)
	} else if data := aggr.text(m); len(data) > 0 {
		blob = appendChunk(blob, m.Tag, data)
	}
	aggr._pool.Free(old)
	head.SetAttr(aggr._spec.Out, aggr._pool.Adopt(blob))
}

func (aggr *catAggr) wrap(text []byte, tag int32) []byte {
	ret := []byte{catPending}
	if len(text) > 0 {
		ret = appendChunk(ret, tag, text)
	}
	return ret
}

func (aggr *catAggr) Finalize(m *match.Match) {
	old := m.GetAttr(aggr._spec.Out)
	blob := aggr._pool.Get(old)
	if !isPending(blob) {
		return
	}
	byTag := treemap.New[int32, [][]byte](func(a, b int32) int {
		return util.CompareInt(a, b)
	})
	walkChunks(blob, func(tag int32, data []byte) {
		parts, err := byTag.Get(tag)
		if err != nil {
			parts = nil
		}
		byTag.Insert(tag, append(parts, data))
	})
	var out bytes.Buffer
	byTag.Traversal(func(_ int32, parts [][]byte) bool {
		for _, part := range parts {
			if out.Len() > 0 {
				out.WriteString(catSep)
			}
			out.Write(part)
		}
		return true
	})
	aggr._pool.Free(old)
	m.SetAttr(aggr._spec.Out, aggr._pool.Adopt(out.Bytes()))
}

func (aggr *catAggr) Ungroup(m *match.Match) {
	old := m.GetAttr(aggr._spec.Out)
	blob := aggr._pool.Get(old)
	if isPending(blob) {
		return
	}
	aggr._pool.Free(old)
	m.SetAttr(aggr._spec.Out, aggr._pool.Adopt(aggr.wrap(blob, m.Tag)))
}

func (aggr *catAggr) Kind() match.AggrKind {
	return match.AggrCat
}

func (aggr *catAggr) Out() match.Locator {
	return aggr._spec.Out
}

func (aggr *catAggr) Fixup(old, s *match.Schema) {
	aggr._spec.fixup(old, s)
}

func (aggr *catAggr) Clone() Aggregate {
	return &catAggr{_spec: aggr._spec, _pool: aggr._pool}
}

func (aggr *catAggr) SetBlobPool(pool *match.BlobPool) {
	aggr._pool = pool
}

func (aggr *catAggr) String() string {
	return aggr._spec.String()
}
