package modules

import (
	"context"
	"html/template"
	"path"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/nanotrace/internal/model"
)

// Cache lists cache hit, miss and bypass artifacts. The counts are rendered
// into the index; the artifacts themselves are resolved lazily.
type Cache struct{}

func (Cache) Name() string              { return "Cache" }
func (Cache) ID() string                { return "cache" }
func (Cache) Strategy() LoadingStrategy { return Hybrid }

func (Cache) Subscriptions() []model.IntermediateFileType {
	return []model.IntermediateFileType{model.Cache}
}

// CacheSummary counts cache artifacts by status.
type CacheSummary struct {
	Hits     int
	Misses   int
	Bypasses int
}

func (s CacheSummary) Total() int { return s.Hits + s.Misses + s.Bypasses }

var cacheSummaryTmpl = template.Must(template.New("cache").Parse(`<div class="cache-summary">
<span class="success">{{.Hits}} hit(s)</span>
<span class="error">{{.Misses}} miss(es)</span>
<span class="warning">{{.Bypasses}} bypass(es)</span>
<span class="muted">({{.Total}} total)</span>
</div>`))

func (Cache) Render(_ context.Context, mc *Context) (*Output, error) {
	out := NewOutput()
	names := make(nameCounter)
	ord := make(ordinals)
	var sum CacheSummary

	err := mc.Each(model.Cache, func(e *model.IntermediateEntry) error {
		key := e.Key()
		name := fastjson.GetString(e.Metadata, "name")
		n := ord.next(key, e.Type, name)
		if e.Type != model.TypeArtifact {
			return nil
		}

		switch e.CacheStatus {
		case model.CacheHit:
			sum.Hits++
		case model.CacheMiss:
			sum.Misses++
		case model.CacheBypass:
			sum.Bypasses++
		}

		file, format := artifactFile(orDefault(name, "cache_artifact"), fastjson.GetString(e.Metadata, "encoding"))
		file = names.next(key, file)
		out.AddLazy(key, file, LazyRef{
			Path:      path.Join(key, file),
			Title:     file,
			Stream:    model.Cache,
			CompileID: key,
			EntryType: e.Type,
			Name:      name,
			Ordinal:   n,
			Format:    format,
		}, e.CacheStatus)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if sum.Total() > 0 {
		html, err := Fragment(cacheSummaryTmpl, sum)
		if err != nil {
			return nil, err
		}
		out.AddIndex("Cache Status", html)
	}
	return out, nil
}
