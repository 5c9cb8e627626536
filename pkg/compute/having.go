package compute

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/daviszhen/ranker/pkg/common"
	"github.com/daviszhen/ranker/pkg/match"
	"github.com/daviszhen/ranker/pkg/sorter"
)

type cmpOp int

const (
	opEq cmpOp = iota
	opNe
	opLt
	opLe
	opGt
	opGe
)

var cmpOpNames = map[string]cmpOp{
	"=":  opEq,
	"==": opEq,
	"!=": opNe,
	"<>": opNe,
	"<":  opLt,
	"<=": opLe,
	">":  opGt,
	">=": opGe,
}

// havingFilter compares one numeric group column with a constant.
type havingFilter struct {
	_name  string
	_loc   match.Locator
	_float bool
	_opStr string
	_op    cmpOp
	_value float64
}

var _ sorter.Filter = &havingFilter{}

func newHavingFilter(spec *HavingSpec, desc *match.AttrDesc) (*havingFilter, error) {
	op, has := cmpOpNames[spec.Op]
	if !has {
		return nil, errors.Errorf("unknown having operator '%s'", spec.Op)
	}
	if !desc.Type.IsNumeric() {
		return nil, errors.Errorf("having can not compare %s column '%s'", desc.Type, desc.Name)
	}
	return &havingFilter{
		_name:  desc.Name,
		_loc:   desc.Loc,
		_float: desc.Type == common.AttrFloat,
		_opStr: spec.Op,
		_op:    op,
		_value: spec.Value,
	}, nil
}

func (f *havingFilter) Keep(m *match.Match) bool {
	var v float64
	if f._float {
		v = m.GetFloat(f._loc)
	} else {
		v = float64(m.GetInt(f._loc))
	}
	switch f._op {
	case opEq:
		return v == f._value
	case opNe:
		return v != f._value
	case opLt:
		return v < f._value
	case opLe:
		return v <= f._value
	case opGt:
		return v > f._value
	case opGe:
		return v >= f._value
	default:
		panic("usp")
	}
}

func (f *havingFilter) Fixup(old, s *match.Schema) {
	f._loc = s.FixupLocator(f._loc, old)
}

func (f *havingFilter) Clone() sorter.Filter {
	ret := *f
	return &ret
}

func (f *havingFilter) String() string {
	return fmt.Sprintf("%s %s %v", f._name, f._opStr, f._value)
}
