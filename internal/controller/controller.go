// Package controller runs the stages of a parse: ingestion, rendering,
// optional cross-rank analysis, commit and cataloguing.
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/coffersTech/nanotrace/internal/catalog"
	"github.com/coffersTech/nanotrace/internal/config"
	"github.com/coffersTech/nanotrace/internal/engine"
	"github.com/coffersTech/nanotrace/internal/modules"
	"github.com/coffersTech/nanotrace/internal/multirank"
	"github.com/coffersTech/nanotrace/internal/report"
)

// Controller drives runs with one configuration.
type Controller struct {
	cfg    *config.Config
	logger *zap.Logger

	// Year completes glog timestamps; zero means the current year.
	Year int
	// NewRunID is replaceable for tests.
	NewRunID func() string
}

// New creates a Controller.
func New(cfg *config.Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{cfg: cfg, logger: logger, NewRunID: uuid.NewString}
}

// Parse turns one capture into a report in outDir.
func (c *Controller) Parse(ctx context.Context, input, outDir string) *report.Result {
	ctx, span := otel.Tracer("nanotrace/controller").Start(ctx, "parse")
	defer span.End()

	runID := c.NewRunID()
	span.SetAttributes(attribute.String("run_id", runID))
	logger := c.logger.With(zap.String("run_id", runID))
	c.cleanStale(outDir, logger)

	work, err := os.MkdirTemp("", "nanotrace-"+runID+"-")
	if err != nil {
		return report.Failed(report.StageIngestion, "", err)
	}
	defer os.RemoveAll(work)

	p := engine.NewPipeline(engine.Options{
		Strict:   c.cfg.Strict,
		Compress: c.cfg.CompressStreams,
		RunID:    runID,
		Year:     c.Year,
	}, logger)
	m, err := p.IngestFile(ctx, input, work)
	if err != nil {
		return report.Failed(report.StageIngestion, streamOf(err), err)
	}

	mc := modules.NewContext(work, m, c.cfg.Settings(), logger)
	combined, err := c.render(ctx, mc)
	if err != nil {
		return report.Failed(report.StageRendering, moduleOf(err), err)
	}

	files, err := c.writer(outDir, runID, logger).Commit(ctx, report.Part{Output: combined, Context: mc})
	if err != nil {
		return report.Failed(report.StageCommit, "", err)
	}

	res := &report.Result{
		OutDir:     outDir,
		Files:      files,
		Status:     report.StatusSuccess,
		Envelopes:  m.TotalEnvelopes,
		Dropped:    m.Dropped,
		ModulesRun: combined.ModulesRun,
		Skipped:    skippedNames(combined),
	}
	c.record(ctx, logger, res, []recordItem{{manifest: m, combined: combined}})
	return res
}

// MultiRank ingests every rank capture found in inputDir, renders a report
// per rank under rank_<N>/ and the cross-rank analysis at the top of outDir.
func (c *Controller) MultiRank(ctx context.Context, inputDir, outDir string) *report.Result {
	ctx, span := otel.Tracer("nanotrace/controller").Start(ctx, "multi_rank")
	defer span.End()

	runID := c.NewRunID()
	logger := c.logger.With(zap.String("run_id", runID))
	c.cleanStale(outDir, logger)

	captures, err := multirank.Discover(inputDir)
	if err != nil {
		return report.Failed(report.StageIngestion, "", err)
	}
	if len(captures) == 0 {
		return report.Failed(report.StageIngestion, "", fmt.Errorf("no rank captures found in %s", inputDir))
	}
	span.SetAttributes(attribute.Int("ranks", len(captures)))

	work, err := os.MkdirTemp("", "nanotrace-"+runID+"-")
	if err != nil {
		return report.Failed(report.StageIngestion, "", err)
	}
	defer os.RemoveAll(work)

	coll, err := multirank.Collect(ctx, captures, work, multirank.Options{
		Workers:  c.cfg.RankWorkers,
		Strict:   c.cfg.Strict,
		Compress: c.cfg.CompressStreams,
		RunID:    runID,
		Year:     c.Year,
		Logger:   logger,
	})
	if err != nil {
		return report.Failed(report.StageIngestion, "", err)
	}

	res := &report.Result{OutDir: outDir, Status: report.StatusSuccess}
	for _, ex := range coll.Excluded {
		res.Warnings = append(res.Warnings, ex.Error())
	}

	var (
		parts   []report.Part
		records []recordItem
		links   = make(map[int]string)
		ran     = make(map[string]bool)
	)
	for _, r := range coll.Ranks {
		prefix := fmt.Sprintf("rank_%d", r.Rank)
		mc := modules.NewContext(r.Dir, r.Manifest, c.cfg.Settings(), logger.With(zap.Int("rank", r.Rank)))
		combined, err := c.render(ctx, mc)
		if err != nil {
			return report.Failed(report.StageRendering, prefix+"/"+moduleOf(err), err)
		}
		parts = append(parts, report.Part{Prefix: prefix, Title: fmt.Sprintf("Rank %d", r.Rank), Output: combined, Context: mc})
		links[r.Rank] = prefix + "/" + report.IndexFile
		rank := r.Rank
		records = append(records, recordItem{manifest: r.Manifest, combined: combined, rank: &rank})

		res.Envelopes += r.Manifest.TotalEnvelopes
		res.Dropped.Malformed += r.Manifest.Dropped.Malformed
		res.Dropped.UnknownType += r.Manifest.Dropped.UnknownType
		res.Dropped.DanglingRefs += r.Manifest.Dropped.DanglingRefs
		for _, name := range combined.ModulesRun {
			if !ran[name] {
				ran[name] = true
				res.ModulesRun = append(res.ModulesRun, name)
			}
		}
		for _, name := range skippedNames(combined) {
			res.Skipped = append(res.Skipped, prefix+"/"+name)
		}
	}

	analysis := modules.NewRegistry(multirank.Module{Collection: coll, RankReports: links})
	root := modules.NewContext(work, nil, c.cfg.Settings(), logger)
	top, err := modules.RenderAll(ctx, analysis, root, modules.RenderOptions{})
	if err != nil {
		return report.Failed(report.StageAnalysis, moduleOf(err), err)
	}
	res.ModulesRun = append(res.ModulesRun, top.ModulesRun...)
	parts = append([]report.Part{{Title: "Multi-Rank Report", Output: top}}, parts...)

	files, err := c.writer(outDir, runID, logger).Commit(ctx, parts...)
	if err != nil {
		return report.Failed(report.StageCommit, "", err)
	}
	res.Files = files
	c.record(ctx, logger, res, records)
	return res
}

func (c *Controller) render(ctx context.Context, mc *modules.Context) (*modules.CombinedOutput, error) {
	return modules.RenderAll(ctx, modules.RegistryFor(mc.Settings), mc, modules.RenderOptions{
		Workers: c.cfg.RenderWorkers,
		Policy:  c.cfg.FailurePolicy(),
	})
}

func (c *Controller) writer(outDir, runID string, logger *zap.Logger) *report.Writer {
	return &report.Writer{
		OutDir:           outDir,
		RunID:            runID,
		CustomHeaderHTML: c.cfg.CustomHeaderHTML,
		MaterializeLazy:  c.cfg.MaterializeLazy,
		KeepIntermediate: c.cfg.KeepIntermediate,
		Logger:           logger,
	}
}

func (c *Controller) cleanStale(outDir string, logger *zap.Logger) {
	if c.cfg.StagingMaxAge <= 0 {
		return
	}
	if _, err := report.CleanStale(outDir, c.cfg.StagingMaxAge, logger); err != nil {
		logger.Warn("stale staging cleanup failed", zap.Error(err))
	}
}

type recordItem struct {
	manifest *engine.Manifest
	combined *modules.CombinedOutput
	rank     *int
}

// record writes the run to the catalog. Failures are warnings: the report
// is already committed.
func (c *Controller) record(ctx context.Context, logger *zap.Logger, res *report.Result, items []recordItem) {
	if !c.cfg.Catalog.Enabled {
		return
	}
	cat, err := catalog.Open(c.cfg.Catalog.Path)
	if err != nil {
		logger.Warn("catalog unavailable", zap.Error(err))
		res.Warnings = append(res.Warnings, err.Error())
		return
	}
	defer cat.Close()

	for _, it := range items {
		if err := cat.Record(ctx, it.manifest, it.combined, res.OutDir, res.Status, it.rank); err != nil {
			logger.Warn("catalog record failed", zap.Error(err))
			res.Warnings = append(res.Warnings, err.Error())
			return
		}
	}
}

func streamOf(err error) string {
	var se *engine.StreamWriteError
	if errors.As(err, &se) {
		return se.Stream.String()
	}
	return ""
}

func moduleOf(err error) string {
	var re *modules.RenderError
	if errors.As(err, &re) {
		return re.Module
	}
	return ""
}

func skippedNames(c *modules.CombinedOutput) []string {
	var out []string
	for _, s := range c.Skipped {
		out = append(out, s.Module)
	}
	return out
}
