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

package compute

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/xlab/treeprint"
	"go.uber.org/zap"

	"github.com/daviszhen/ranker/pkg/aggr"
	"github.com/daviszhen/ranker/pkg/common"
	"github.com/daviszhen/ranker/pkg/grouper"
	"github.com/daviszhen/ranker/pkg/match"
	"github.com/daviszhen/ranker/pkg/sorter"
	"github.com/daviszhen/ranker/pkg/util"
)

// explodeSuffix marks a JSON array whose elements are grouped one by one.
const explodeSuffix = "[]"

// CreateSorter wires the sorter for spec. The sorter works on an
// extended copy of schema that also holds the computed, magic and
// aggregate columns; rows pushed into it are built from Sorter.Schema.
func CreateSorter(spec *QuerySpec, schema *match.Schema, pool *match.BlobPool, cfg *util.Config) (sorter.Sorter, error) {
	if cfg == nil {
		cfg = util.DefaultConfig()
	}
	b := &builder{
		spec:   spec,
		cfg:    cfg,
		schema: schema.Clone(),
		pool:   pool,
		exprs:  make(map[string]match.Expr),
	}
	ret, err := b.build()
	if err != nil {
		return nil, err
	}
	tree := treeprint.NewWithRoot(spec.String())
	ret.Explain(tree)
	if cfg.Debug.PrintPlan {
		util.Info("sorter plan", zap.String("plan", tree.String()))
	} else if util.DebugEnabled() {
		util.Debug("sorter plan", zap.String("plan", tree.String()))
	}
	return ret, nil
}

type builder struct {
	spec   *QuerySpec
	cfg    *util.Config
	schema *match.Schema
	pool   *match.BlobPool
	coll   common.Collation
	limit  int
	//computed columns added so far
	exprs map[string]match.Expr
	//grouping columns by name, for HAVING
	groupCols map[string]bool
}

func (b *builder) build() (sorter.Sorter, error) {
	var err error
	spec := b.spec
	if err = b.checkLimits(); err != nil {
		return nil, err
	}
	collName := b.cfg.Grouping.Collation
	if spec.Collation != "" {
		collName = spec.Collation
	}
	b.coll, err = common.ParseCollation(collName)
	if err != nil {
		return nil, errors.Wrap(err, "collation")
	}
	if err = b.addExprs(spec.Order); err != nil {
		return nil, err
	}
	if err = b.addExprs(spec.WithinGroupOrder); err != nil {
		return nil, err
	}
	if len(spec.WithinGroupOrder) > 0 && !spec.IsGroupBy() {
		return nil, errors.New("within group order by requires group by")
	}

	opts := sorter.Options{
		Schema: b.schema,
		Pool:   b.pool,
		Limit:  b.limit,
		Config: b.cfg,
	}
	if !spec.IsGroupBy() && !spec.IsImplicit() {
		if spec.Having != nil {
			return nil, errors.New("having requires group by or aggregates")
		}
		cmp, err := b.comparator(spec.Order, "order by")
		if err != nil {
			return nil, err
		}
		if b.cfg.Sorter.KBuffer {
			return sorter.NewKBufferSorter(opts, cmp), nil
		}
		return sorter.NewHeapSorter(opts, cmp), nil
	}
	return b.buildGroup(opts)
}

func (b *builder) checkLimits() error {
	spec := b.spec
	switch {
	case spec.Limit < 0:
		return errors.Errorf("invalid limit %d", spec.Limit)
	case spec.Limit == 0:
		b.limit = b.cfg.Sorter.MaxMatches
		if b.limit <= 0 {
			b.limit = util.DefaultMaxMatches
		}
	default:
		b.limit = spec.Limit
	}
	if spec.GroupLimit < 0 {
		return errors.Errorf("invalid group limit %d", spec.GroupLimit)
	}
	if spec.GroupLimit > 1 && !spec.IsGroupBy() {
		return errors.Errorf("group limit %d requires group by", spec.GroupLimit)
	}
	if spec.GroupFunc != GroupAttr && len(spec.GroupBy) != 1 {
		return errors.Errorf("%s() takes exactly one group by column", spec.GroupFunc)
	}
	return nil
}

// addExprs turns expression keys into computed columns.
func (b *builder) addExprs(items []OrderItem) error {
	for _, item := range items {
		if item.Expr == nil {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(item.Name))
		if name == "" {
			return errors.New("order by expression needs a name")
		}
		//the same label names the same column in both clauses
		if _, has := b.exprs[name]; has {
			continue
		}
		typ := item.Expr.Type()
		if !typ.IsNumeric() {
			return errors.Errorf("expression '%s' is %s, only numeric expressions can be sorted", name, typ)
		}
		_, err := b.schema.AddAttrDesc(match.AttrDesc{
			Name: name,
			Type: typ,
			Expr: item.Expr,
		})
		if err != nil {
			return errors.Wrapf(err, "expression '%s'", name)
		}
		b.exprs[name] = item.Expr
	}
	return nil
}

func (b *builder) resolve(name string) (*match.AttrDesc, error) {
	desc, has := b.schema.GetAttr(name)
	if !has {
		return nil, errors.Errorf("unknown attribute '%s'", name)
	}
	return desc, nil
}

// comparator resolves ORDER BY items into sort keys.
func (b *builder) comparator(items []OrderItem, clause string) (sorter.Comparator, error) {
	if len(items) == 1 && items[0].Expr != nil {
		desc, err := b.resolve(items[0].Name)
		if err != nil {
			return nil, err
		}
		return sorter.NewExprComparator(desc.Name, desc.Loc, desc.Type, items[0].Desc), nil
	}
	if len(items) > sorter.MaxSortKeys {
		return nil, errors.Errorf("%s has %d keys, at most %d", clause, len(items), sorter.MaxSortKeys)
	}
	if len(items) == 0 {
		items = []OrderItem{{Name: match.AttrNameWeight, Desc: true}}
	}
	keys := make([]sorter.SortKey, 0, len(items))
	for _, item := range items {
		name := strings.ToLower(strings.TrimSpace(item.Name))
		key := sorter.SortKey{
			Name: name,
			Desc: item.Desc,
			Loc:  match.InvalidLocator,
		}
		switch name {
		case match.AttrNameWeight:
			key.Kind = sorter.KeyWeight
		case match.AttrNameID:
			key.Kind = sorter.KeyRowID
		default:
			desc, err := b.resolve(name)
			if err != nil {
				return nil, errors.Wrap(err, clause)
			}
			kind, err := sorter.KeyKindOf(desc.Type)
			if err != nil {
				return nil, errors.Wrapf(err, "%s '%s'", clause, name)
			}
			key.Kind = kind
			key.Loc = desc.Loc
		}
		keys = append(keys, key)
	}
	cmp, err := sorter.NewComparator(keys, b.coll)
	if err != nil {
		return nil, errors.Wrap(err, clause)
	}
	return cmp, nil
}

func (b *builder) buildGroup(opts sorter.Options) (sorter.Sorter, error) {
	spec := b.spec
	b.groupCols = make(map[string]bool)
	var grp grouper.Grouper
	groupByType := common.AttrBigint
	if spec.IsGroupBy() {
		var err error
		grp, err = b.grouper()
		if err != nil {
			return nil, err
		}
		groupByType = grp.ResultType()
	}
	if _, err := b.schema.AddAttrDesc(match.AttrDesc{
		Name:  match.AttrNameGroupBy,
		Type:  groupByType,
		Magic: true,
	}); err != nil {
		return nil, errors.Wrap(err, "group by")
	}
	countLoc, err := b.schema.AddAttrDesc(match.AttrDesc{
		Name:  match.AttrNameCount,
		Type:  common.AttrBigint,
		Magic: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "group by")
	}

	gopts := sorter.GroupOptions{
		Options:    opts,
		GroupLimit: max(spec.GroupLimit, 1),
		Grouper:    grp,
		Distinct:   match.InvalidLocator,
		Collation:  b.coll,
	}
	if spec.Distinct != "" {
		desc, err := b.resolve(spec.Distinct)
		if err != nil {
			return nil, errors.Wrap(err, "count distinct")
		}
		if desc.Magic || desc.Type.IsMVA() || desc.Type == common.AttrNone {
			return nil, errors.Errorf("can not count distinct %s column '%s'", desc.Type, desc.Name)
		}
		gopts.Distinct = desc.Loc
		gopts.DistinctType = desc.Type
		if _, err = b.schema.AddAttrDesc(match.AttrDesc{
			Name:  match.AttrNameDistinct,
			Type:  common.AttrBigint,
			Magic: true,
		}); err != nil {
			return nil, errors.Wrap(err, "count distinct")
		}
	}
	gopts.Aggregates, err = b.aggregates(countLoc)
	if err != nil {
		return nil, err
	}
	if spec.Having != nil {
		gopts.Having, err = b.having()
		if err != nil {
			return nil, err
		}
	}

	gopts.WithinGroup, err = b.comparator(spec.WithinGroupOrder, "within group order by")
	if err != nil {
		return nil, err
	}
	if spec.IsImplicit() {
		return sorter.NewImplicitSorter(gopts), nil
	}
	gopts.GroupOrder, err = b.comparator(spec.Order, "order by")
	if err != nil {
		return nil, err
	}
	return sorter.NewGroupSorter(gopts), nil
}

// grouper picks the key source matching the GROUP BY columns.
func (b *builder) grouper() (grouper.Grouper, error) {
	spec := b.spec
	if len(spec.GroupBy) > 1 {
		parts := make([]grouper.KeyPart, 0, len(spec.GroupBy))
		for _, name := range spec.GroupBy {
			desc, err := b.resolve(name)
			if err != nil {
				return nil, errors.Wrap(err, "group by")
			}
			if desc.Magic || desc.Type.IsMVA() || desc.Type.IsJSON() {
				return nil, errors.Errorf("can not group by %s column '%s' together with other columns", desc.Type, desc.Name)
			}
			parts = append(parts, grouper.KeyPart{Name: desc.Name, Loc: desc.Loc, Type: desc.Type})
			b.groupCols[desc.Name] = true
		}
		return grouper.NewCompositeGrouper(parts, b.coll), nil
	}

	name := strings.ToLower(strings.TrimSpace(spec.GroupBy[0]))
	explode := strings.HasSuffix(name, explodeSuffix)
	name = strings.TrimSuffix(name, explodeSuffix)
	attr, path := grouper.SplitPath(name)
	desc, err := b.resolve(attr)
	if err != nil {
		return nil, errors.Wrap(err, "group by")
	}
	if desc.Magic {
		return nil, errors.Errorf("can not group by '%s'", desc.Name)
	}
	if (len(path) > 0 || explode) && !desc.Type.IsJSON() {
		return nil, errors.Errorf("group by '%s' needs a json column, '%s' is %s", name, desc.Name, desc.Type)
	}
	if spec.GroupFunc != GroupAttr {
		if !desc.Type.IsInt() {
			return nil, errors.Errorf("%s() needs a timestamp, '%s' is %s", spec.GroupFunc, desc.Name, desc.Type)
		}
		return grouper.NewDateGrouper(desc.Name, desc.Loc, dateBucket(spec.GroupFunc), b.cfg.Grouping), nil
	}
	b.groupCols[desc.Name] = true
	switch {
	case desc.Type.IsJSON() && explode:
		return grouper.NewJSONArrayGrouper(name, desc.Loc, path, b.coll), nil
	case desc.Type.IsJSON():
		return grouper.NewJSONGrouper(name, desc.Loc, path, b.coll), nil
	case desc.Type.IsMVA():
		return grouper.NewMVAGrouper(desc.Name, desc.Loc, desc.Type), nil
	case desc.Type == common.AttrString:
		return grouper.NewStringGrouper(desc.Name, desc.Loc, b.coll), nil
	case desc.Type.IsNumeric():
		return grouper.NewAttrGrouper(desc.Name, desc.Loc, desc.Type), nil
	default:
		return nil, errors.Errorf("can not group by %s column '%s'", desc.Type, desc.Name)
	}
}

func dateBucket(f GroupFunc) common.DateBucket {
	switch f {
	case GroupDay:
		return common.BucketDay
	case GroupWeek:
		return common.BucketWeek
	case GroupMonth:
		return common.BucketMonth
	case GroupYear:
		return common.BucketYear
	default:
		panic("usp")
	}
}

func (b *builder) aggregates(countLoc match.Locator) ([]aggr.Aggregate, error) {
	ret := make([]aggr.Aggregate, 0, len(b.spec.Aggregates))
	for _, as := range b.spec.Aggregates {
		alias := as.Alias
		if alias == "" {
			alias = fmt.Sprintf("%s(%s)", as.Func, as.Attr)
		}
		in, err := b.resolve(as.Attr)
		if err != nil {
			return nil, errors.Wrapf(err, "aggregate '%s'", alias)
		}
		if in.Magic || in.Aggr != match.AggrNone {
			return nil, errors.Errorf("aggregate '%s' can not take '%s'", alias, in.Name)
		}
		typ, err := aggr.ResultType(as.Func, in.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "aggregate '%s'", alias)
		}
		inLoc, inType := in.Loc, in.Type
		out, err := b.schema.AddAttrDesc(match.AttrDesc{
			Name: alias,
			Type: typ,
			Aggr: as.Func,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "aggregate '%s'", alias)
		}
		ret = append(ret, aggr.New(aggr.Spec{
			Kind:   as.Func,
			Name:   as.Attr,
			Alias:  alias,
			In:     inLoc,
			InType: inType,
			Out:    out,
			Count:  countLoc,
		}))
	}
	return ret, nil
}

// having resolves the HAVING column. Only group columns, group magic
// columns and aggregates make sense on a finalized group.
func (b *builder) having() (sorter.Filter, error) {
	hs := b.spec.Having
	desc, err := b.resolve(hs.Name)
	if err != nil {
		return nil, errors.Wrap(err, "having")
	}
	allowed := desc.Aggr != match.AggrNone || b.groupCols[desc.Name]
	switch desc.Name {
	case match.AttrNameGroupBy, match.AttrNameCount, match.AttrNameDistinct:
		allowed = true
	}
	if !allowed {
		return nil, errors.Errorf("having can not reference '%s', only group by columns and aggregates", desc.Name)
	}
	filter, err := newHavingFilter(hs, desc)
	if err != nil {
		return nil, errors.Wrap(err, "having")
	}
	return filter, nil
}
