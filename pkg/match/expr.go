package match

import (
	"github.com/daviszhen/ranker/pkg/common"
)

// Expr is the expression evaluator seen by the sorters. Values of
// computed attributes are written into the match before it is ranked.
type Expr interface {
	Type() common.AttrType
	EvalInt(m *Match) int64
	EvalFloat(m *Match) float64
}

// FloatExpr adapts a function to Expr.
type FloatExpr func(m *Match) float64

func (f FloatExpr) Type() common.AttrType {
	return common.AttrFloat
}

func (f FloatExpr) EvalInt(m *Match) int64 {
	return int64(f(m))
}

func (f FloatExpr) EvalFloat(m *Match) float64 {
	return f(m)
}

// IntExpr adapts a function to Expr.
type IntExpr func(m *Match) int64

func (f IntExpr) Type() common.AttrType {
	return common.AttrBigint
}

func (f IntExpr) EvalInt(m *Match) int64 {
	return f(m)
}

func (f IntExpr) EvalFloat(m *Match) float64 {
	return float64(f(m))
}
