package modules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// FailurePolicy controls what RenderAll does when a module fails.
type FailurePolicy string

const (
	// FailFatal aborts the render on the first module error.
	FailFatal FailurePolicy = "fatal"
	// FailSkip drops the failed module's output and keeps going.
	FailSkip FailurePolicy = "skip"
)

// ParseFailurePolicy maps a configuration value to a FailurePolicy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", FailFatal:
		return FailFatal, nil
	case FailSkip:
		return FailSkip, nil
	}
	return "", fmt.Errorf("unknown module failure policy %q", s)
}

// RenderError reports the module that failed.
type RenderError struct {
	Module string
	Err    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("module %s: %v", e.Module, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Registry is an ordered set of modules. The order decides how outputs are
// merged, not how they are scheduled.
type Registry struct {
	modules []Module
	ids     map[string]bool
}

// NewRegistry creates a registry holding mods in order.
func NewRegistry(mods ...Module) *Registry {
	r := &Registry{ids: make(map[string]bool)}
	for _, m := range mods {
		r.Register(m)
	}
	return r
}

// Register appends m. Registering the same ID twice panics.
func (r *Registry) Register(m Module) {
	if r.ids[m.ID()] {
		panic("modules: duplicate module id " + m.ID())
	}
	r.ids[m.ID()] = true
	r.modules = append(r.modules, m)
}

// Modules returns the registered modules in order.
func (r *Registry) Modules() []Module {
	return append([]Module(nil), r.modules...)
}

// Len returns the number of registered modules.
func (r *Registry) Len() int { return len(r.modules) }

// DefaultRegistry is the module set for an ordinary compile trace.
func DefaultRegistry() *Registry {
	return NewRegistry(
		CompileArtifacts{},
		Guards{},
		Cache{},
		CompilationMetrics{},
		ChromiumTrace{},
		SymbolicShapes{},
		TensorMetadata{},
		StackTrieModule{},
		CompileDirectory{},
	)
}

// ExportRegistry is the module set used in export mode.
func ExportRegistry() *Registry {
	return NewRegistry(
		Export{},
		SymbolicShapes{},
	)
}

// RegistryFor picks the preset matching settings.
func RegistryFor(s Settings) *Registry {
	if s.ExportMode {
		return ExportRegistry()
	}
	return DefaultRegistry()
}

// RenderOptions tune RenderAll.
type RenderOptions struct {
	// Workers bounds concurrent renders; 0 or less means one per module.
	Workers int
	Policy  FailurePolicy
}

// CombinedOutput is the merge of every module output in registry order.
type CombinedOutput struct {
	Files            []File
	DirectoryEntries map[string][]DirectoryEntry
	IndexEntries     []IndexEntry
	LazyRefs         []LazyRef
	ModulesRun       []string
	Skipped          []*RenderError
}

// Sections groups index entries by section, in first-seen order.
func (c *CombinedOutput) Sections() []Section {
	var out []Section
	idx := make(map[string]int)
	for _, e := range c.IndexEntries {
		i, ok := idx[e.Section]
		if !ok {
			i = len(out)
			idx[e.Section] = i
			out = append(out, Section{Title: e.Section})
		}
		out[i].Entries = append(out[i].Entries, e.HTML)
	}
	return out
}

// DirectoryKeys returns the compile id keys with entries, in report order.
func (c *CombinedOutput) DirectoryKeys() []string {
	keys := make([]string, 0, len(c.DirectoryEntries))
	for k := range c.DirectoryEntries {
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

// merge folds o into c.
func (c *CombinedOutput) merge(o *Output) {
	c.Files = append(c.Files, o.Files...)
	c.IndexEntries = append(c.IndexEntries, o.IndexEntries...)
	c.LazyRefs = append(c.LazyRefs, o.LazyRefs...)
	for k, v := range o.DirectoryEntries {
		c.DirectoryEntries[k] = append(c.DirectoryEntries[k], v...)
	}
}

// RenderAll renders every module of r against mc. Modules run
// concurrently; their outputs are merged in registry order so the result
// does not depend on scheduling.
func RenderAll(ctx context.Context, r *Registry, mc *Context, opts RenderOptions) (*CombinedOutput, error) {
	ctx, span := otel.Tracer("nanotrace/modules").Start(ctx, "render")
	defer span.End()

	mods := r.Modules()
	span.SetAttributes(attribute.Int("modules", len(mods)))
	outputs := make([]*Output, len(mods))
	errs := make([]error, len(mods))

	g, gctx := errgroup.WithContext(ctx)
	if opts.Workers > 0 {
		g.SetLimit(opts.Workers)
	}
	for i, m := range mods {
		g.Go(func() error {
			out, err := renderOne(gctx, m, mc)
			if err != nil {
				errs[i] = err
				if opts.Policy == FailSkip && !errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	combined := &CombinedOutput{DirectoryEntries: make(map[string][]DirectoryEntry)}
	for i, m := range mods {
		if errs[i] != nil {
			var re *RenderError
			if errors.As(errs[i], &re) {
				combined.Skipped = append(combined.Skipped, re)
			}
			mc.Logger.Warn("module skipped", zap.String("module", m.ID()), zap.Error(errs[i]))
			continue
		}
		combined.merge(outputs[i])
		combined.ModulesRun = append(combined.ModulesRun, m.ID())
	}
	return combined, nil
}

func renderOne(ctx context.Context, m Module, mc *Context) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := m.Render(ctx, mc)
	if err != nil {
		return nil, &RenderError{Module: m.ID(), Err: err}
	}
	if out == nil {
		out = NewOutput()
	}
	if err := out.validate(m.Strategy()); err != nil {
		return nil, &RenderError{Module: m.ID(), Err: err}
	}
	mc.Logger.Debug("module rendered",
		zap.String("module", m.ID()),
		zap.String("strategy", m.Strategy().String()),
		zap.Int("files", len(out.Files)),
		zap.Int("lazy", len(out.LazyRefs)),
		zap.Duration("took", time.Since(start)),
	)
	return out, nil
}
