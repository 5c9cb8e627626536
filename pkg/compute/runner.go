package compute

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/ranker/pkg/match"
	"github.com/daviszhen/ranker/pkg/sorter"
	"github.com/daviszhen/ranker/pkg/util"
)

// Segment is the row stream of one worker. Next fills m with a row
// whose blobs are owned by m, and returns false at the end.
type Segment interface {
	Next(m *match.Match) (bool, error)
}

// SliceSegment replays rows owned by the caller.
type SliceSegment struct {
	_schema *match.Schema
	_pool   *match.BlobPool
	_rows   []match.Match
	_pos    int
}

func NewSliceSegment(schema *match.Schema, pool *match.BlobPool, rows []match.Match) *SliceSegment {
	return &SliceSegment{_schema: schema, _pool: pool, _rows: rows}
}

func (seg *SliceSegment) Next(m *match.Match) (bool, error) {
	if seg._pos >= len(seg._rows) {
		return false, nil
	}
	seg._schema.CloneMatch(m, &seg._rows[seg._pos], seg._pool)
	seg._pos++
	return true, nil
}

// RunSegments pushes every segment into its own clone of proto, one
// goroutine per segment, and merges the clones back into proto in
// segment order. Rows are tagged with their segment index.
//
// When ctx ends the workers stop between two pushes, the partial results
// are still merged and returned together with the context error. Any
// other error, a panicking worker included, discards all results.
func RunSegments(ctx context.Context, proto sorter.Sorter, segments []Segment, cfg *util.Config) (sorter.Sorter, error) {
	if cfg == nil {
		cfg = util.DefaultConfig()
	}
	checkEvery := cfg.Sorter.CheckEvery
	if checkEvery <= 0 {
		checkEvery = util.DefaultCheckEvery
	}
	runID := uuid.NewString()
	start := time.Now()
	util.Debug("run segments",
		zap.String("run", runID),
		zap.Int("segments", len(segments)))

	workers := make([]sorter.Sorter, len(segments))
	for i := range segments {
		workers[i] = proto.Clone()
	}
	wg, gctx := errgroup.WithContext(ctx)
	for i, seg := range segments {
		wg.Go(func() (err error) {
			defer func() {
				if rErr := recover(); rErr != nil {
					err = errors.Wrapf(util.ConvertPanicError(rErr), "segment %d", i)
				}
			}()
			return pushSegment(gctx, workers[i], seg, int32(i), checkEvery)
		})
	}
	err := wg.Wait()
	if err != nil && !curtailed(ctx, err) {
		for _, w := range workers {
			w.Release()
		}
		util.Error("run segments failed",
			zap.String("run", runID),
			zap.Error(err))
		return nil, err
	}
	for _, w := range workers {
		w.MoveTo(proto)
	}
	fields := []zap.Field{
		zap.String("run", runID),
		zap.Int("segments", len(segments)),
		zap.Int64("total", proto.TotalCount()),
		zap.Int("length", proto.GetLength()),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err != nil {
		util.Warn("run segments curtailed", append(fields, zap.Error(err))...)
		return proto, err
	}
	util.Info("run segments", fields...)
	return proto, nil
}

// curtailed reports whether err only says that the parent ctx ended.
func curtailed(ctx context.Context, err error) bool {
	if ctx.Err() == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func pushSegment(ctx context.Context, s sorter.Sorter, seg Segment, tag int32, checkEvery int) error {
	schema := s.Schema()
	pool := s.Pool()
	m := schema.NewMatch()
	defer schema.FreeMatch(&m, pool)
	for n := 0; ; n++ {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := util.CheckFault(util.FaultScopeRunner, util.FaultRunnerPush).Run(); err != nil {
				return errors.Wrapf(err, "segment %d", tag)
			}
		}
		ok, err := seg.Next(&m)
		if err != nil {
			return errors.Wrapf(err, "segment %d", tag)
		}
		if !ok {
			return nil
		}
		m.Tag = tag
		s.Push(&m)
		schema.FreeMatch(&m, pool)
	}
}
