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

// Package source reads csv and parquet files into matches.
package source

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/daviszhen/ranker/pkg/common"
	"github.com/daviszhen/ranker/pkg/match"
	"github.com/daviszhen/ranker/pkg/util"
)

// Column is one column of a data file. @id and @weight columns fill the
// row id and the weight instead of an attribute.
type Column struct {
	Name string
	Type common.AttrType
}

// Layout lists the columns of a data file in file order.
type Layout struct {
	Columns []Column
}

// ParseLayout reads "name:type,name:type".
func ParseLayout(text string) (*Layout, error) {
	ret := &Layout{}
	seen := make(map[string]bool)
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, typName, found := strings.Cut(part, ":")
		name = strings.ToLower(strings.TrimSpace(name))
		if !found || name == "" {
			return nil, errors.Errorf("invalid column '%s', want name:type", part)
		}
		if seen[name] {
			return nil, errors.Errorf("duplicate column '%s'", name)
		}
		seen[name] = true
		typ, err := common.ParseAttrType(typName)
		if err != nil {
			return nil, errors.Wrapf(err, "column '%s'", name)
		}
		switch name {
		case match.AttrNameID, match.AttrNameWeight:
			if !typ.IsInt() {
				return nil, errors.Errorf("column '%s' must be an integer", name)
			}
		}
		ret.Columns = append(ret.Columns, Column{Name: name, Type: typ})
	}
	if len(ret.Columns) == 0 {
		return nil, errors.New("empty layout")
	}
	return ret, nil
}

// Schema is the attribute schema of the layout.
func (layout *Layout) Schema() *match.Schema {
	ret := match.NewSchema()
	for _, col := range layout.Columns {
		switch col.Name {
		case match.AttrNameID, match.AttrNameWeight:
			continue
		}
		ret.MustAddAttr(col.Name, col.Type)
	}
	return ret
}

func (layout *Layout) String() string {
	parts := make([]string, len(layout.Columns))
	for i, col := range layout.Columns {
		parts[i] = col.Name + ":" + col.Type.String()
	}
	return strings.Join(parts, ",")
}

type Options struct {
	Path   string
	Format string
	// Comma is the csv delimiter, ',' when zero.
	Comma rune
	// Header skips the first csv line.
	Header bool
	// FirstID is the row id of the first row without an @id column.
	FirstID uint64
}

// Reader yields the rows of one file. Next fills m, built from the
// target schema and holding no blobs, and returns false at the end.
// Afterwards m owns the blobs of the row.
type Reader interface {
	Next(m *match.Match) (bool, error)
	Close() error
}

func Open(opts Options, layout *Layout, schema *match.Schema, pool *match.BlobPool) (Reader, error) {
	binder, err := newRowBinder(opts, layout, schema, pool)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(opts.Format) {
	case "", "csv":
		return openCSV(opts, binder)
	case "parquet":
		return openParquet(opts, binder)
	default:
		return nil, errors.Errorf("unknown data format '%s'", opts.Format)
	}
}

// ReadAll drains r. The returned rows own their blobs.
func ReadAll(r Reader, schema *match.Schema, pool *match.BlobPool) ([]match.Match, error) {
	var ret []match.Match
	for {
		m := schema.NewMatch()
		ok, err := r.Next(&m)
		if err == nil && ok {
			err = util.CheckFault(util.FaultScopeSource, util.FaultSourceRead).Run()
		}
		if err != nil {
			schema.FreeMatch(&m, pool)
			for i := range ret {
				schema.FreeMatch(&ret[i], pool)
			}
			return nil, err
		}
		if !ok {
			return ret, nil
		}
		ret = append(ret, m)
	}
}

// rowBinder writes column values into matches.
type rowBinder struct {
	_cols   []Column
	_locs   []match.Locator
	_pool   *match.BlobPool
	_nextID uint64
	_line   int
}

func newRowBinder(opts Options, layout *Layout, schema *match.Schema, pool *match.BlobPool) (*rowBinder, error) {
	ret := &rowBinder{
		_cols:   layout.Columns,
		_locs:   make([]match.Locator, len(layout.Columns)),
		_pool:   pool,
		_nextID: max(opts.FirstID, 1),
	}
	for i, col := range layout.Columns {
		ret._locs[i] = match.InvalidLocator
		switch col.Name {
		case match.AttrNameID, match.AttrNameWeight:
			continue
		}
		desc, has := schema.GetAttr(col.Name)
		if !has {
			return nil, errors.Errorf("column '%s' is not in the schema", col.Name)
		}
		if desc.Type != col.Type {
			return nil, errors.Errorf("column '%s' is %s, the schema has %s", col.Name, col.Type, desc.Type)
		}
		ret._locs[i] = desc.Loc
	}
	return ret, nil
}

// begin resets m for the next row.
func (b *rowBinder) begin(m *match.Match, n int) {
	m.Reset(n)
	m.RowID = b._nextID
	b._nextID++
	b._line++
}

func (b *rowBinder) setInt(m *match.Match, i int, v int64) {
	switch b._cols[i].Name {
	case match.AttrNameID:
		m.RowID = uint64(v)
	case match.AttrNameWeight:
		m.Weight = int32(v)
	default:
		m.SetInt(b._locs[i], v)
	}
}

// setField parses a csv field into column i. An empty field is NULL.
func (b *rowBinder) setField(m *match.Match, i int, field string) error {
	col := &b._cols[i]
	if field == "" {
		return nil
	}
	switch {
	case col.Type == common.AttrTimestamp:
		ts, err := parseTimestamp(field)
		if err != nil {
			return b.fieldErr(i, err)
		}
		b.setInt(m, i, ts)
	case col.Type == common.AttrBool:
		v, err := strconv.ParseBool(field)
		if err != nil {
			return b.fieldErr(i, err)
		}
		if v {
			b.setInt(m, i, 1)
		} else {
			b.setInt(m, i, 0)
		}
	case col.Type.IsInt():
		v, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return b.fieldErr(i, err)
		}
		b.setInt(m, i, v)
	case col.Type == common.AttrFloat:
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return b.fieldErr(i, err)
		}
		m.SetFloat(b._locs[i], v)
	case col.Type.IsMVA():
		values, err := parseMVA(field)
		if err != nil {
			return b.fieldErr(i, err)
		}
		m.SetAttr(b._locs[i], b._pool.Alloc(match.EncodeMVA(col.Type, values)))
	case col.Type.IsJSON():
		if !json.Valid([]byte(field)) {
			return b.fieldErr(i, errors.New("invalid json"))
		}
		m.SetAttr(b._locs[i], b._pool.AllocString(field))
	case col.Type == common.AttrString:
		m.SetAttr(b._locs[i], b._pool.AllocString(field))
	default:
		return b.fieldErr(i, errors.Errorf("unsupported type %s", col.Type))
	}
	return nil
}

func (b *rowBinder) fieldErr(i int, err error) error {
	return errors.Wrapf(err, "row %d column '%s'", b._line, b._cols[i].Name)
}

// parseTimestamp takes unix seconds, a date or an RFC3339 time.
func parseTimestamp(field string) (int64, error) {
	if v, err := strconv.ParseInt(field, 10, 64); err == nil {
		return v, nil
	}
	for _, layout := range []string{time.DateOnly, time.DateTime, time.RFC3339} {
		if t, err := time.Parse(layout, field); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("invalid timestamp '%s'", field)
}

// parseMVA reads integers separated by spaces or semicolons.
func parseMVA(field string) ([]int64, error) {
	parts := strings.FieldsFunc(field, func(r rune) bool {
		return r == ' ' || r == ';'
	})
	ret := make([]int64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, err
		}
		ret = append(ret, v)
	}
	return ret, nil
}
