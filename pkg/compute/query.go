// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package compute turns a query description into a wired sorter and runs
// row segments through it in parallel.
package compute

import (
	"fmt"
	"strings"

	"github.com/huandu/go-clone"

	"github.com/daviszhen/ranker/pkg/match"
)

// GroupFunc applies a date bucket to the GROUP BY attribute.
type GroupFunc int

const (
	GroupAttr GroupFunc = iota
	GroupDay
	GroupWeek
	GroupMonth
	GroupYear
)

func (f GroupFunc) String() string {
	switch f {
	case GroupAttr:
		return "attr"
	case GroupDay:
		return "day"
	case GroupWeek:
		return "week"
	case GroupMonth:
		return "month"
	case GroupYear:
		return "year"
	default:
		return fmt.Sprintf("group_func(%d)", int(f))
	}
}

// OrderItem is one ORDER BY key. Name is an attribute, a magic name such
// as @weight, or, with Expr set, the label of a computed key.
type OrderItem struct {
	Name string
	Expr match.Expr
	Desc bool
}

func (item OrderItem) String() string {
	if item.Desc {
		return item.Name + " desc"
	}
	return item.Name + " asc"
}

type AggrSpec struct {
	Func  match.AggrKind
	Attr  string
	Alias string
}

func (spec AggrSpec) String() string {
	return fmt.Sprintf("%s(%s) as %s", spec.Func, spec.Attr, spec.Alias)
}

type HavingSpec struct {
	Name  string
	Op    string
	Value float64
}

func (spec *HavingSpec) String() string {
	return fmt.Sprintf("%s %s %v", spec.Name, spec.Op, spec.Value)
}

// QuerySpec is everything the factory needs to wire a sorter.
type QuerySpec struct {
	// Order ranks rows, or groups when GroupBy is set.
	Order []OrderItem
	// WithinGroupOrder picks the rows kept inside a group.
	WithinGroupOrder []OrderItem
	// GroupBy lists the grouping columns. A JSON subfield is written as
	// attr.path, appending [] explodes a JSON array.
	GroupBy   []string
	GroupFunc GroupFunc
	// GroupLimit is how many rows each group keeps, 0 means 1.
	GroupLimit int
	// Distinct is the attribute COUNT(DISTINCT) counts.
	Distinct   string
	Limit      int
	// Count asks for COUNT(*), an @count column, without GROUP BY.
	Count      bool
	Aggregates []AggrSpec
	Having     *HavingSpec
	// Collation overrides the configured collation.
	Collation string
}

func (spec *QuerySpec) Clone() *QuerySpec {
	return clone.Clone(spec).(*QuerySpec)
}

func (spec *QuerySpec) IsGroupBy() bool {
	return len(spec.GroupBy) > 0
}

// IsImplicit reports whether the rows fold into one group.
func (spec *QuerySpec) IsImplicit() bool {
	return !spec.IsGroupBy() && (spec.Count || len(spec.Aggregates) > 0 || spec.Distinct != "")
}

func (spec *QuerySpec) String() string {
	sb := strings.Builder{}
	sb.WriteString("order by ")
	sb.WriteString(joinItems(spec.Order))
	if spec.IsGroupBy() {
		sb.WriteString(" group by ")
		if spec.GroupFunc != GroupAttr {
			sb.WriteString(spec.GroupFunc.String())
			sb.WriteString("(")
			sb.WriteString(strings.Join(spec.GroupBy, ","))
			sb.WriteString(")")
		} else {
			sb.WriteString(strings.Join(spec.GroupBy, ","))
		}
	}
	if spec.Count && !spec.IsGroupBy() {
		sb.WriteString(" count(*)")
	}
	if len(spec.WithinGroupOrder) > 0 {
		sb.WriteString(" within group order by ")
		sb.WriteString(joinItems(spec.WithinGroupOrder))
	}
	fmt.Fprintf(&sb, " limit %d", spec.Limit)
	return sb.String()
}

func joinItems(items []OrderItem) string {
	if len(items) == 0 {
		return "@weight desc"
	}
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = item.String()
	}
	return strings.Join(parts, ",")
}
