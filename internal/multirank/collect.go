package multirank

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/coffersTech/nanotrace/internal/engine"
	"github.com/coffersTech/nanotrace/internal/model"
	"github.com/coffersTech/nanotrace/internal/modules"
)

// Options tune Collect.
type Options struct {
	// Workers bounds concurrent rank ingestion; 0 or less means one per rank.
	Workers  int
	Strict   bool
	Compress bool
	RunID    string
	Year     int
	Logger   *zap.Logger
}

// RankUnreadable records a rank excluded from the comparison.
type RankUnreadable struct {
	Rank int
	Path string
	Err  error
}

func (e *RankUnreadable) Error() string {
	return fmt.Sprintf("rank %d (%s): %v", e.Rank, e.Path, e.Err)
}

func (e *RankUnreadable) Unwrap() error { return e.Err }

// RankResult is one successfully ingested rank.
type RankResult struct {
	Rank     int
	Dir      string
	Manifest *engine.Manifest
	Summary  RankSummary
}

// Collection is the outcome of ingesting every rank.
type Collection struct {
	Ranks    []RankResult
	Excluded []*RankUnreadable
}

// RankDir is the intermediate directory of rank r under root.
func RankDir(root string, r int) string {
	return filepath.Join(root, fmt.Sprintf("rank_%d", r))
}

// Collect ingests every capture into its own directory under root and
// summarizes it. It returns only after every rank has finished. A rank that
// cannot be read or summarized is excluded with a warning; only
// cancellation fails the whole collection.
func Collect(ctx context.Context, captures []Capture, root string, opts Options) (*Collection, error) {
	ctx, span := otel.Tracer("nanotrace/multirank").Start(ctx, "multirank.collect")
	defer span.End()
	span.SetAttributes(attribute.Int("ranks", len(captures)))

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		coll Collection
		mu   sync.Mutex
		wg   sync.WaitGroup
	)
	workers := opts.Workers
	if workers <= 0 || workers > len(captures) {
		workers = len(captures)
	}
	sem := make(chan struct{}, max(workers, 1))

	for _, c := range captures {
		wg.Add(1)
		go func(c Capture) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()

			res, err := collectRank(ctx, c, root, opts, logger)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("rank excluded", zap.Int("rank", c.Rank), zap.String("path", c.Path), zap.Error(err))
				coll.Excluded = append(coll.Excluded, &RankUnreadable{Rank: c.Rank, Path: c.Path, Err: err})
				return
			}
			coll.Ranks = append(coll.Ranks, *res)
		}(c)
	}

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(coll.Ranks, func(i, j int) bool { return coll.Ranks[i].Rank < coll.Ranks[j].Rank })
	sort.Slice(coll.Excluded, func(i, j int) bool { return coll.Excluded[i].Rank < coll.Excluded[j].Rank })
	span.SetAttributes(attribute.Int("excluded", len(coll.Excluded)))
	return &coll, nil
}

func collectRank(ctx context.Context, c Capture, root string, opts Options, logger *zap.Logger) (*RankResult, error) {
	dir := RankDir(root, c.Rank)
	p := engine.NewPipeline(engine.Options{
		Strict:   opts.Strict,
		Compress: opts.Compress,
		RunID:    opts.RunID,
		Rank:     model.Some(c.Rank),
		Year:     opts.Year,
	}, logger.With(zap.Int("rank", c.Rank)))

	m, err := p.IngestFile(ctx, c.Path, dir)
	if err != nil {
		return nil, err
	}
	mc := modules.NewContext(dir, m, modules.Settings{}, logger)
	sum, err := Summarize(mc, c.Rank)
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}
	return &RankResult{Rank: c.Rank, Dir: dir, Manifest: m, Summary: *sum}, nil
}
