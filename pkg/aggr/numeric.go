package aggr

import (
	"golang.org/x/exp/constraints"

	"github.com/daviszhen/ranker/pkg/match"
)

type number interface {
	~int64 | ~float64
}

func sumOp[T constraints.Integer | constraints.Float](a, b T) T {
	return a + b
}

func minOp[T constraints.Ordered](a, b T) T {
	if b < a {
		return b
	}
	return a
}

func maxOp[T constraints.Ordered](a, b T) T {
	if b > a {
		return b
	}
	return a
}

func load[T number](m *match.Match, loc match.Locator) T {
	var zero T
	switch any(zero).(type) {
	case float64:
		return T(m.GetFloat(loc))
	default:
		return T(m.GetInt(loc))
	}
}

func store[T number](m *match.Match, loc match.Locator, v T) {
	switch x := any(v).(type) {
	case float64:
		m.SetFloat(loc, x)
	default:
		m.SetInt(loc, int64(v))
	}
}

// numericAggr is SUM, MIN or MAX over int64 or float64.
type numericAggr[T number] struct {
	_spec Spec
	_op   func(a, b T) T
}

func newNumeric[T number](spec Spec, op func(a, b T) T) Aggregate {
	return &numericAggr[T]{_spec: spec, _op: op}
}

func (aggr *numericAggr[T]) Setup(head *match.Match) {
	store(head, aggr._spec.Out, load[T](head, aggr._spec.In))
}

func (aggr *numericAggr[T]) Update(head, m *match.Match, grouped bool) {
	var v T
	if grouped {
		v = load[T](m, aggr._spec.Out)
	} else {
		v = load[T](m, aggr._spec.In)
	}
	store(head, aggr._spec.Out, aggr._op(load[T](head, aggr._spec.Out), v))
}

func (aggr *numericAggr[T]) Finalize(*match.Match) {}

func (aggr *numericAggr[T]) Ungroup(*match.Match) {}

func (aggr *numericAggr[T]) Kind() match.AggrKind {
	return aggr._spec.Kind
}

func (aggr *numericAggr[T]) Out() match.Locator {
	return aggr._spec.Out
}

func (aggr *numericAggr[T]) Fixup(old, s *match.Schema) {
	aggr._spec.fixup(old, s)
}

func (aggr *numericAggr[T]) Clone() Aggregate {
	ret := *aggr
	return &ret
}

func (aggr *numericAggr[T]) SetBlobPool(*match.BlobPool) {}

func (aggr *numericAggr[T]) String() string {
	return aggr._spec.String()
}
