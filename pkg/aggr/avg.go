package aggr

import (
	"math"

	dec "github.com/govalues/decimal"

	"github.com/daviszhen/ranker/pkg/common"
	"github.com/daviszhen/ranker/pkg/match"
)

// avgAggr keeps the running sum in the Out slot until Finalize. The sum
// of integer input stays an int64 so the quotient is exact.
type avgAggr struct {
	_spec Spec
}

func (aggr *avgAggr) isInt() bool {
	return aggr._spec.InType != common.AttrFloat
}

func (aggr *avgAggr) Setup(head *match.Match) {
	if aggr.isInt() {
		head.SetInt(aggr._spec.Out, head.GetInt(aggr._spec.In))
	} else {
		head.SetFloat(aggr._spec.Out, head.GetFloat(aggr._spec.In))
	}
}

func (aggr *avgAggr) Update(head, m *match.Match, grouped bool) {
	loc := aggr._spec.In
	if grouped {
		loc = aggr._spec.Out
	}
	if aggr.isInt() {
		head.AddInt(aggr._spec.Out, m.GetInt(loc))
	} else {
		head.SetFloat(aggr._spec.Out, head.GetFloat(aggr._spec.Out)+m.GetFloat(loc))
	}
}

func (aggr *avgAggr) Finalize(m *match.Match) {
	cnt := m.GetInt(aggr._spec.Count)
	if cnt <= 0 {
		m.SetFloat(aggr._spec.Out, 0)
		return
	}
	if aggr.isInt() {
		m.SetFloat(aggr._spec.Out, intQuo(m.GetInt(aggr._spec.Out), cnt))
	} else {
		m.SetFloat(aggr._spec.Out, m.GetFloat(aggr._spec.Out)/float64(cnt))
	}
}

func intQuo(sum, cnt int64) float64 {
	sumDec, err := dec.NewFromInt64(sum, 0, 0)
	if err != nil {
		return float64(sum) / float64(cnt)
	}
	quo, err := sumDec.Quo(dec.MustNew(cnt, 0))
	if err != nil {
		return float64(sum) / float64(cnt)
	}
	ret, ok := quo.Float64()
	if !ok {
		return float64(sum) / float64(cnt)
	}
	return ret
}

func (aggr *avgAggr) Ungroup(m *match.Match) {
	cnt := m.GetInt(aggr._spec.Count)
	avg := m.GetFloat(aggr._spec.Out)
	if aggr.isInt() {
		m.SetInt(aggr._spec.Out, int64(math.Round(avg*float64(cnt))))
	} else {
		m.SetFloat(aggr._spec.Out, avg*float64(cnt))
	}
}

func (aggr *avgAggr) Kind() match.AggrKind {
	return match.AggrAvg
}

func (aggr *avgAggr) Out() match.Locator {
	return aggr._spec.Out
}

func (aggr *avgAggr) Fixup(old, s *match.Schema) {
	aggr._spec.fixup(old, s)
}

func (aggr *avgAggr) Clone() Aggregate {
	ret := *aggr
	return &ret
}

func (aggr *avgAggr) SetBlobPool(*match.BlobPool) {}

func (aggr *avgAggr) String() string {
	return aggr._spec.String()
}
