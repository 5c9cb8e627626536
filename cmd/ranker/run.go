package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/daviszhen/ranker/pkg/common"
	"github.com/daviszhen/ranker/pkg/compute"
	"github.com/daviszhen/ranker/pkg/match"
	"github.com/daviszhen/ranker/pkg/source"
	"github.com/daviszhen/ranker/pkg/util"
)

func buildQuery(q *queryFlags) (*compute.QuerySpec, error) {
	var err error
	spec := &compute.QuerySpec{
		GroupBy:    q.groupBy,
		GroupLimit: q.groupLimit,
		Distinct:   q.distinct,
		Limit:      q.limit,
		Count:      q.count,
		Collation:  q.collation,
	}
	if spec.Order, err = compute.ParseOrder(q.order); err != nil {
		return nil, err
	}
	if spec.WithinGroupOrder, err = compute.ParseOrder(q.within); err != nil {
		return nil, err
	}
	if spec.GroupFunc, err = compute.ParseGroupFunc(q.groupFunc); err != nil {
		return nil, err
	}
	for _, text := range q.aggrs {
		as, err := compute.ParseAggr(text)
		if err != nil {
			return nil, err
		}
		spec.Aggregates = append(spec.Aggregates, as)
	}
	if spec.Having, err = compute.ParseHaving(q.having); err != nil {
		return nil, err
	}
	return spec, nil
}

func run(ctx context.Context, cfg *util.Config, q *queryFlags, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	layout, err := source.ParseLayout(cfg.Data.Schema)
	if err != nil {
		return errors.Wrap(err, "schema")
	}
	spec, err := buildQuery(q)
	if err != nil {
		return err
	}
	pool := match.NewBlobPool()
	proto, err := compute.CreateSorter(spec, layout.Schema(), pool, cfg)
	if err != nil {
		return err
	}
	schema := proto.Schema()

	comma := ','
	if q.delimiter != "" {
		comma, _ = utf8.DecodeRuneInString(q.delimiter)
	}
	reader, err := source.Open(source.Options{
		Path:   cfg.Data.Path,
		Format: cfg.Data.Format,
		Comma:  comma,
		Header: q.header,
	}, layout, schema, pool)
	if err != nil {
		return err
	}
	rows, err := source.ReadAll(reader, schema, pool)
	if cerr := reader.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	defer func() {
		for i := range rows {
			schema.FreeMatch(&rows[i], pool)
		}
	}()
	util.Info("rows loaded",
		zap.String("path", cfg.Data.Path),
		zap.Int("rows", len(rows)))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	res, err := compute.RunSegments(ctx, proto, splitRows(schema, pool, rows, cfg.Data.Segments), cfg)
	if res == nil {
		return err
	}
	if err != nil {
		util.Warn("partial result", zap.Error(err))
	}

	var out []match.Match
	res.Flatten(&out)
	defer func() {
		for i := range out {
			schema.FreeMatch(&out[i], pool)
		}
	}()
	fmt.Fprintln(w, strings.Join(schema.Names(), "\t"))
	for i := range out {
		row := formatRow(schema, pool, &out[i])
		if cfg.Debug.PrintResult {
			util.Info("result", zap.Int("rank", i), zap.String("row", row))
		}
		fmt.Fprintln(w, row)
	}
	fmt.Fprintf(w, "%d rows, %d matched\n", len(out), res.TotalCount())
	return nil
}

// splitRows cuts rows into n contiguous segments.
func splitRows(schema *match.Schema, pool *match.BlobPool, rows []match.Match, n int) []compute.Segment {
	n = max(min(n, len(rows)), 1)
	size := (len(rows) + n - 1) / n
	ret := make([]compute.Segment, 0, n)
	for lo := 0; lo < len(rows) || len(ret) == 0; lo += size {
		hi := min(lo+size, len(rows))
		ret = append(ret, compute.NewSliceSegment(schema, pool, rows[lo:hi]))
		if hi == len(rows) {
			break
		}
	}
	return ret
}

func formatRow(schema *match.Schema, pool *match.BlobPool, m *match.Match) string {
	fields := make([]string, schema.Len())
	for i := range fields {
		desc := schema.Attr(i)
		fields[i] = formatValue(desc, pool, m.GetAttr(desc.Loc))
	}
	return strings.Join(fields, "\t")
}

func formatValue(desc *match.AttrDesc, pool *match.BlobPool, v uint64) string {
	switch {
	case desc.Type == common.AttrFloat:
		f := math.Float64frombits(v)
		return strconv.FormatFloat(f, 'f', -1, 64)
	case desc.Type.IsMVA():
		values := match.DecodeMVA(desc.Type, pool.Get(v))
		parts := make([]string, len(values))
		for i, x := range values {
			parts[i] = strconv.FormatInt(x, 10)
		}
		return strings.Join(parts, " ")
	case desc.Type.IsBlob():
		return string(pool.Get(v))
	default:
		return strconv.FormatInt(int64(v), 10)
	}
}
