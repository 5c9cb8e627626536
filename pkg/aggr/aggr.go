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

package aggr

import (
	"fmt"

	"github.com/daviszhen/ranker/pkg/common"
	"github.com/daviszhen/ranker/pkg/match"
)

// Aggregate folds rows of one group into the Out slot of the group head.
//
// A raw row carries its value in the input attribute. A grouped row comes
// from another sorter and carries its partial state in the Out slot.
type Aggregate interface {
	// Setup initialises the Out slot of a new head from its own raw value.
	Setup(head *match.Match)
	Update(head, m *match.Match, grouped bool)
	// Finalize turns the partial state into the final value.
	Finalize(m *match.Match)
	// Ungroup turns a finalized value back into a partial state.
	Ungroup(m *match.Match)
	Kind() match.AggrKind
	Out() match.Locator
	// Fixup rebinds locators after the schema changed from old to s.
	Fixup(old, s *match.Schema)
	Clone() Aggregate
	SetBlobPool(pool *match.BlobPool)
	String() string
}

// Spec describes one aggregate column.
type Spec struct {
	Kind   match.AggrKind
	Name   string
	Alias  string
	In     match.Locator
	InType common.AttrType
	Out    match.Locator
	// Count is the @count slot, used by AVG.
	Count match.Locator
}

func (spec *Spec) String() string {
	return fmt.Sprintf("%s(%s) as %s", spec.Kind, spec.Name, spec.Alias)
}

func (spec *Spec) fixup(old, s *match.Schema) {
	spec.In = s.FixupLocator(spec.In, old)
	spec.Out = s.FixupLocator(spec.Out, old)
	spec.Count = s.FixupLocator(spec.Count, old)
}

// ResultType is the type of the aggregate column, or an error when the
// function can not take the input type.
func ResultType(kind match.AggrKind, in common.AttrType) (common.AttrType, error) {
	switch kind {
	case match.AggrSum, match.AggrMin, match.AggrMax:
		if in == common.AttrFloat {
			return common.AttrFloat, nil
		}
		if in.IsInt() {
			return common.AttrBigint, nil
		}
	case match.AggrAvg:
		if in.IsNumeric() {
			return common.AttrFloat, nil
		}
	case match.AggrCat:
		if !in.IsMVA() && in != common.AttrNone {
			return common.AttrString, nil
		}
	}
	return common.AttrNone, fmt.Errorf("%s can not take %s", kind, in)
}

// New creates the aggregate for spec. Unsupported pairs of function and
// input type panic; callers check them with ResultType first.
func New(spec Spec) Aggregate {
	if _, err := ResultType(spec.Kind, spec.InType); err != nil {
		panic(err)
	}
	if spec.Kind != match.AggrAvg {
		spec.Count = match.InvalidLocator
	}
	switch spec.Kind {
	case match.AggrSum:
		if spec.InType == common.AttrFloat {
			return newNumeric[float64](spec, sumOp[float64])
		}
		return newNumeric[int64](spec, sumOp[int64])
	case match.AggrMin:
		if spec.InType == common.AttrFloat {
			return newNumeric[float64](spec, minOp[float64])
		}
		return newNumeric[int64](spec, minOp[int64])
	case match.AggrMax:
		if spec.InType == common.AttrFloat {
			return newNumeric[float64](spec, maxOp[float64])
		}
		return newNumeric[int64](spec, maxOp[int64])
	case match.AggrAvg:
		return &avgAggr{_spec: spec}
	case match.AggrCat:
		return &catAggr{_spec: spec}
	default:
		panic("usp")
	}
}
