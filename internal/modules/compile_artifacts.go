package modules

import (
	"context"
	"path"
	"strings"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/nanotrace/internal/engine"
	"github.com/coffersTech/nanotrace/internal/model"
)

// CompileArtifacts links the graphs, generated code and generic artifacts
// of every compilation. Nothing is read into memory at render time beyond
// the metadata needed to name the files.
type CompileArtifacts struct{}

func (CompileArtifacts) Name() string { return "Compile Artifacts" }
func (CompileArtifacts) ID() string   { return "compile_artifacts" }
func (CompileArtifacts) Strategy() LoadingStrategy {
	return Lazy
}

func (CompileArtifacts) Subscriptions() []model.IntermediateFileType {
	return []model.IntermediateFileType{model.Graphs, model.Codegen, model.Artifacts}
}

func (m CompileArtifacts) Render(ctx context.Context, mc *Context) (*Output, error) {
	out := NewOutput()
	names := make(nameCounter)

	if err := m.graphs(mc, out, names); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.codegen(mc, out, names); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.artifacts(mc, out, names); err != nil {
		return nil, err
	}
	return out, nil
}

func (CompileArtifacts) graphs(mc *Context, out *Output, names nameCounter) error {
	ord := make(ordinals)
	return mc.Each(model.Graphs, func(e *model.IntermediateEntry) error {
		key := e.Key()
		file, selector := graphFile(e)
		n := ord.next(key, e.Type, selector)
		file = names.next(key, file)

		out.AddLazy(key, file, LazyRef{
			Path:      path.Join(key, file),
			Title:     file,
			Stream:    model.Graphs,
			CompileID: key,
			EntryType: e.Type,
			Name:      selector,
			Ordinal:   n,
			Format:    FormatText,
		}, model.CacheNone)
		return nil
	})
}

func (CompileArtifacts) codegen(mc *Context, out *Output, names nameCounter) error {
	ord := make(ordinals)
	return mc.Each(model.Codegen, func(e *model.IntermediateEntry) error {
		key := e.Key()
		n := ord.next(key, e.Type, "")
		// dynamo_cpp_guards_str belongs to the guards module.
		if e.Type != model.TypeInductorOutputCode {
			return nil
		}

		base, file, format := codegenFile(e, mc.Settings.PlainText)
		file = names.next(key, file)

		out.AddLazy(key, file, LazyRef{
			Path:      path.Join(key, file),
			Title:     base,
			Stream:    model.Codegen,
			CompileID: key,
			EntryType: e.Type,
			Ordinal:   n,
			Format:    format,
		}, model.CacheNone)
		return nil
	})
}

func (CompileArtifacts) artifacts(mc *Context, out *Output, names nameCounter) error {
	ord := make(ordinals)
	return mc.Each(model.Artifacts, func(e *model.IntermediateEntry) error {
		key := e.Key()
		name := fastjson.GetString(e.Metadata, "name")

		switch e.Type {
		case model.TypeArtifact:
			n := ord.next(key, e.Type, name)
			if engine.CacheStatusOf(name) != model.CacheNone {
				return nil
			}
			file, format := artifactFile(orDefault(name, "artifact"), fastjson.GetString(e.Metadata, "encoding"))
			file = names.next(key, file)
			out.AddLazy(key, file, LazyRef{
				Path:      path.Join(key, file),
				Title:     file,
				Stream:    model.Artifacts,
				CompileID: key,
				EntryType: e.Type,
				Name:      name,
				Ordinal:   n,
				Format:    format,
			}, model.CacheNone)

		case model.TypeDumpFile:
			n := ord.next(key, e.Type, name)
			file := names.next("dump_file", sanitizeName(orDefault(name, "dump"))+".html")
			out.AddLazy(model.GlobalKey, file, LazyRef{
				Path:      path.Join("dump_file", file),
				Title:     orDefault(name, "dump"),
				Stream:    model.Artifacts,
				CompileID: key,
				EntryType: e.Type,
				Name:      name,
				Ordinal:   n,
				Format:    FormatSourceHTML,
			}, model.CacheNone)

		case model.TypeLink:
			ord.next(key, e.Type, name)
			url := fastjson.GetString(e.Metadata, "url")
			out.AddLink(key, DirectoryEntry{Name: orDefault(name, "Link"), URL: orDefault(url, "#")})
		}
		return nil
	})
}

// graphFile names the file of a graph entry. selector is the metadata name
// that tells apart entries of the same type, if any.
func graphFile(e *model.IntermediateEntry) (file, selector string) {
	name := fastjson.GetString(e.Metadata, "name")
	switch e.Type {
	case model.TypeOptimizeDDPSplitChild:
		return "optimize_ddp_split_child_" + sanitizeName(orDefault(name, "unknown")) + ".txt", name
	case model.TypeGraphDump:
		return sanitizeName(orDefault(name, "graph_dump")) + ".txt", name
	}
	return e.Type + ".txt", ""
}

// codegenFile names the page of an inductor_output_code entry.
func codegenFile(e *model.IntermediateEntry, plainText bool) (base, file string, format LazyFormat) {
	base = "inductor_output_code"
	if stem := (model.InductorOutputCode{Filename: fastjson.GetString(e.Metadata, "filename")}).Stem(); stem != "" {
		base += "_" + sanitizeName(stem)
	}
	if plainText {
		return base, base + ".txt", FormatText
	}
	return base, base + ".html", FormatCodeHTML
}

// artifactFile names an artifact file after its encoding.
func artifactFile(name, encoding string) (string, LazyFormat) {
	if strings.EqualFold(encoding, "json") {
		return sanitizeName(name) + ".json", FormatJSON
	}
	return sanitizeName(name) + ".txt", FormatText
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
