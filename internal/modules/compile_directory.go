package modules

import (
	"context"
	"encoding/json"
	"html/template"
	"sort"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/nanotrace/internal/engine"
	"github.com/coffersTech/nanotrace/internal/model"
)

const compileIDsFile = "compile_ids.json"

// CompileDirectory writes a machine-readable summary of every compile id:
// its status, the artifacts recorded for it and its external links.
type CompileDirectory struct{}

func (CompileDirectory) Name() string              { return "Compile Directory" }
func (CompileDirectory) ID() string                { return "compile_directory" }
func (CompileDirectory) Strategy() LoadingStrategy { return Eager }

func (CompileDirectory) Subscriptions() []model.IntermediateFileType {
	return []model.IntermediateFileType{
		model.Graphs, model.Codegen, model.Guards,
		model.CompilationMetrics, model.Artifacts, model.Cache,
	}
}

// CompileSummary is the record kept for one compile id.
type CompileSummary struct {
	DisplayName string            `json:"display_name"`
	Status      string            `json:"status"`
	Artifacts   []ArtifactSummary `json:"artifacts"`
	Links       []DirectoryEntry  `json:"links"`
}

// ArtifactSummary names one artifact and its kind.
type ArtifactSummary struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

func (m CompileDirectory) Render(ctx context.Context, mc *Context) (*Output, error) {
	dir := make(map[string]*CompileSummary)
	get := func(key string) *CompileSummary {
		s, ok := dir[key]
		if !ok {
			s = &CompileSummary{DisplayName: displayName(key), Status: engine.StatusUnknown, Artifacts: []ArtifactSummary{}, Links: []DirectoryEntry{}}
			dir[key] = s
		}
		return s
	}

	// One counter per producing module, fed in that module's stream order,
	// so names carry the same _N suffixes as the files actually written.
	var (
		artifactNames = make(nameCounter)
		guardNames    = make(nameCounter)
		metricNames   = make(nameCounter)
		cacheNames    = make(nameCounter)
	)
	for _, ft := range m.Subscriptions() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := mc.Each(ft, func(e *model.IntermediateEntry) error {
			key := e.Key()
			s := get(key)
			name := fastjson.GetString(e.Metadata, "name")
			switch {
			case ft == model.Graphs:
				file, _ := graphFile(e)
				s.add(artifactNames.next(key, file), "graph")
			case e.Type == model.TypeInductorOutputCode:
				_, file, _ := codegenFile(e, mc.Settings.PlainText)
				s.add(artifactNames.next(key, file), "codegen")
			case e.Type == model.TypeDynamoGuards:
				s.add(guardNames.next(key, "dynamo_guards.html"), "guards")
			case e.Type == model.TypeDynamoCppGuardsStr:
				s.add(guardNames.next(key, "dynamo_cpp_guards_str.txt"), "guards")
			case isMetricsType(e.Type):
				s.add(metricNames.next(key, e.Type+".html"), "metrics")
				if fastjson.GetString(e.Metadata, "fail_type") != "" {
					s.Status = engine.StatusFailure
				} else if s.Status == engine.StatusUnknown {
					s.Status = engine.StatusSuccess
				}
			case ft == model.Cache && e.Type == model.TypeArtifact:
				file, _ := artifactFile(orDefault(name, "cache_artifact"), fastjson.GetString(e.Metadata, "encoding"))
				s.add(cacheNames.next(key, file), "cache")
			case e.Type == model.TypeArtifact:
				if engine.CacheStatusOf(name) != model.CacheNone {
					return nil
				}
				file, _ := artifactFile(orDefault(name, "artifact"), fastjson.GetString(e.Metadata, "encoding"))
				s.add(artifactNames.next(key, file), "artifact")
			case e.Type == model.TypeLink:
				s.Links = append(s.Links, DirectoryEntry{
					Name: orDefault(name, "Link"),
					URL:  orDefault(fastjson.GetString(e.Metadata, "url"), "#"),
				})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if mc.Manifest != nil {
		for key, s := range dir {
			if d, ok := mc.Manifest.CompileID(key); ok {
				s.Status = d.Status
			}
		}
	}
	for _, s := range dir {
		sort.Slice(s.Artifacts, func(i, j int) bool { return s.Artifacts[i].Name < s.Artifacts[j].Name })
	}

	data, err := json.MarshalIndent(dir, "", "  ")
	if err != nil {
		return nil, err
	}
	out := NewOutput()
	out.AddFile("", "", compileIDsFile, data)
	if len(dir) > 0 {
		out.AddIndex("Compile Directory", template.HTML(
			`<p class="muted">Machine-readable summary: <a href="`+compileIDsFile+`">`+compileIDsFile+`</a></p>`))
	}
	return out, nil
}

func (s *CompileSummary) add(name, typ string) {
	s.Artifacts = append(s.Artifacts, ArtifactSummary{Name: name, Type: typ})
}
