package report

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/coffersTech/nanotrace/internal/engine"
	"github.com/coffersTech/nanotrace/internal/modules"
)

// Part is one report tree inside the output directory. A single-capture run
// has one Part with an empty Prefix; a multi-rank run adds one per rank.
type Part struct {
	Prefix string
	Title  string
	Output *modules.CombinedOutput
	// Context resolves lazy references and locates the intermediate
	// streams. It may be nil when Output has no lazy references.
	Context *modules.Context
}

// Writer stages a complete report and moves it into place in one step.
type Writer struct {
	OutDir           string
	RunID            string
	CustomHeaderHTML string
	MaterializeLazy  bool
	KeepIntermediate bool
	Logger           *zap.Logger
}

// StagingDir is where a run with runID assembles its report.
func StagingDir(outDir, runID string) string {
	return filepath.Clean(outDir) + stagingInfix + runID
}

const (
	stagingInfix = ".staging-"
	retiredInfix = ".old-"

	intermediateDir = "intermediate"
)

// Commit writes every part into a staging directory and renames it to
// OutDir. On failure the staging directory is removed and OutDir is left
// as it was. It returns the written paths relative to OutDir.
func (w *Writer) Commit(ctx context.Context, parts ...Part) (files []string, err error) {
	ctx, span := otel.Tracer("nanotrace/report").Start(ctx, "commit")
	defer span.End()

	logger := w.logger()

	staging := StagingDir(w.OutDir, w.RunID)
	if err := os.RemoveAll(staging); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			os.RemoveAll(staging)
		}
	}()

	seen := make(map[string]bool)
	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		written, err := w.writePart(staging, p, seen)
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", partName(p), err)
		}
		files = append(files, written...)
	}

	if err := w.swap(staging); err != nil {
		return nil, err
	}
	sort.Strings(files)
	span.SetAttributes(attribute.Int("files", len(files)))
	logger.Info("report committed", zap.String("dir", w.OutDir), zap.Int("files", len(files)))
	return files, nil
}

func partName(p Part) string {
	if p.Prefix == "" {
		return "report"
	}
	return p.Prefix
}

func (w *Writer) writePart(root string, p Part, seen map[string]bool) ([]string, error) {
	var files []string
	put := func(rel string, data []byte) error {
		rel = filepath.ToSlash(filepath.Join(p.Prefix, rel))
		if !filepath.IsLocal(rel) {
			return fmt.Errorf("refusing to write outside the report: %q", rel)
		}
		if seen[rel] {
			return fmt.Errorf("duplicate report file %q", rel)
		}
		seen[rel] = true
		dst := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	}

	c := p.Output
	// Placeholders read the streams on demand, so they must ship with the report.
	keep := (w.KeepIntermediate || (!w.MaterializeLazy && len(c.LazyRefs) > 0)) && p.Context != nil
	streams := path.Join(p.Prefix, intermediateDir)
	for _, f := range c.Files {
		if err := put(f.Path, f.Content); err != nil {
			return nil, err
		}
	}
	for _, ref := range c.LazyRefs {
		data, err := w.lazyContent(p.Context, ref, streams)
		if err != nil {
			return nil, err
		}
		if err := put(ref.Path, data); err != nil {
			return nil, err
		}
	}

	dir, err := compileDirectory(c)
	if err != nil {
		return nil, err
	}
	if err := put(CompileDirectoryFile, dir); err != nil {
		return nil, err
	}

	title := p.Title
	if title == "" {
		title = "nanotrace report"
	}
	var manifest *engine.Manifest
	if p.Context != nil {
		manifest = p.Context.Manifest
	}
	index, err := indexPage(title, template.HTML(w.CustomHeaderHTML), c, manifest, keep)
	if err != nil {
		return nil, err
	}
	if err := put(IndexFile, index); err != nil {
		return nil, err
	}

	if keep {
		copied, err := copyIntermediate(p.Context.Dir, filepath.Join(root, filepath.FromSlash(streams)))
		if err != nil {
			return nil, fmt.Errorf("copy intermediate streams: %w", err)
		}
		for _, name := range copied {
			files = append(files, path.Join(streams, name))
		}
	}
	return files, nil
}

func (w *Writer) lazyContent(mc *modules.Context, ref modules.LazyRef, streams string) ([]byte, error) {
	if !w.MaterializeLazy {
		return modules.Placeholder(ref, streams)
	}
	if mc == nil {
		return nil, fmt.Errorf("lazy reference %s has no context", ref.Path)
	}
	return mc.Materialize(ref)
}

// swap moves staging into OutDir. An existing OutDir is retired first and
// removed only after the new report is in place.
func (w *Writer) swap(staging string) error {
	retired := filepath.Clean(w.OutDir) + retiredInfix + w.RunID
	hadOld := false
	if _, err := os.Stat(w.OutDir); err == nil {
		if err := os.Rename(w.OutDir, retired); err != nil {
			return fmt.Errorf("retire previous report: %w", err)
		}
		hadOld = true
	}
	if err := os.Rename(staging, w.OutDir); err != nil {
		if hadOld {
			os.Rename(retired, w.OutDir)
		}
		return fmt.Errorf("move report into place: %w", err)
	}
	if hadOld {
		// The new report is already in place; a leftover is CleanStale's job.
		if err := removeAll(retired); err != nil {
			w.logger().Warn("failed to remove previous report", zap.String("path", retired), zap.Error(err))
		}
	}
	return nil
}

// removeAll is replaced in tests.
var removeAll = os.RemoveAll

func (w *Writer) logger() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}

func copyIntermediate(src, dst string) ([]string, error) {
	entries, err := os.ReadDir(src)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if err := copyFile(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return nil, err
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
