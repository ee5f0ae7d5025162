package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/coffersTech/nanotrace/internal/model"
	"github.com/coffersTech/nanotrace/internal/pkg/digest"
	"github.com/coffersTech/nanotrace/internal/storage"
)

// Options tune one ingestion run.
type Options struct {
	// Strict turns malformed lines and unknown entry types into a fatal
	// error.
	Strict bool
	// Compress writes zstd-compressed streams.
	Compress bool
	// RunID is stamped into the manifest.
	RunID string
	// Rank is applied to records that carry no rank of their own.
	Rank model.OptInt
	// Year completes glog timestamps. Zero means the current year.
	Year int
}

// Pipeline turns one capture into a directory of intermediate streams.
// Lines are processed strictly in order.
type Pipeline struct {
	opts   Options
	logger *zap.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{opts: opts, logger: logger}
}

// IngestFile ingests the capture at path into outDir.
func (p *Pipeline) IngestFile(ctx context.Context, path, outDir string) (*Manifest, error) {
	rc, err := storage.OpenCapture(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer rc.Close()

	return p.Ingest(ctx, rc, outDir, path)
}

// Ingest reads r to the end and writes the intermediate directory outDir.
// Per-line failures are counted and skipped. Stream write failures, read
// failures and cancellation abort the run and leave no manifest behind.
func (p *Pipeline) Ingest(ctx context.Context, r io.Reader, outDir, sourceFile string) (*Manifest, error) {
	ctx, span := otel.Tracer("nanotrace/engine").Start(ctx, "ingest")
	defer span.End()
	start := time.Now()

	manifest := NewManifest(p.opts.RunID, filepath.Base(sourceFile))
	if sourceFile != "" {
		if h, err := digest.File(sourceFile); err == nil {
			manifest.SourceFileHash = h
		}
	}

	w, err := NewIntermediateWriter(outDir, manifest, p.opts.Compress)
	if err != nil {
		return nil, err
	}

	strs := NewStringTable()
	norm := NewNormalizer(strs, p.logger)
	norm.DefaultRank = p.opts.Rank
	if p.opts.Year != 0 {
		norm.Year = p.opts.Year
	}
	reader := norm.NewReader(r)

	for {
		if err := ctx.Err(); err != nil {
			w.Abort()
			return nil, err
		}

		env, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var lineErr *LineError
		if errors.As(err, &lineErr) {
			if p.strictFailure(err) {
				w.Abort()
				return nil, err
			}
			manifest.Drop(err)
			p.logger.Debug("skipping line", zap.Int("line", lineErr.Line), zap.Error(lineErr.Err))
			continue
		}
		if err != nil {
			w.Abort()
			return nil, fmt.Errorf("read capture: %w", err)
		}

		if err := w.Write(env); err != nil {
			if errors.Is(err, ErrUnknownEnvelopeType) && !p.opts.Strict {
				manifest.Drop(err)
				continue
			}
			w.Abort()
			return nil, err
		}
	}

	if err := w.Finalize(strs.Len(), norm.Dangling()); err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("envelopes", manifest.TotalEnvelopes),
		attribute.Int64("dropped", manifest.Dropped.Total()),
	)
	p.logger.Info("ingestion complete",
		zap.String("source", manifest.SourceFile),
		zap.Int64("envelopes", manifest.TotalEnvelopes),
		zap.Int64("malformed", manifest.Dropped.Malformed),
		zap.Int64("unknown", manifest.Dropped.UnknownType),
		zap.Int64("dangling_refs", manifest.Dropped.DanglingRefs),
		zap.Int("compile_ids", len(manifest.CompileIDs)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return manifest, nil
}

// strictFailure reports whether a per-line error ends a strict run.
func (p *Pipeline) strictFailure(err error) bool {
	return p.opts.Strict && (errors.Is(err, ErrMalformedLine) || errors.Is(err, ErrUnknownEnvelopeType))
}
