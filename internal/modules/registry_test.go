package modules

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/nanotrace/internal/model"
)

func filePaths(c *CombinedOutput) []string {
	var out []string
	for _, f := range c.Files {
		out = append(out, f.Path)
	}
	for _, r := range c.LazyRefs {
		out = append(out, r.Path)
	}
	sort.Strings(out)
	return out
}

func TestRenderAllDefault(t *testing.T) {
	mc := ingest(t, Settings{})
	combined, err := RenderAll(context.Background(), DefaultRegistry(), mc, RenderOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"compile_artifacts", "guards", "cache", "compilation_metrics", "chromium_trace",
		"symbolic_shapes", "tensor_metadata", "stack_trie", "compile_directory",
	}, combined.ModulesRun)

	want := []string{
		"0_0_0/cache_hit_fx_graph.json",
		"0_0_0/cache_miss_aot.txt",
		"0_0_0/compilation_metrics.html",
		"0_0_0/dynamo_cpp_guards_str.txt",
		"0_0_0/dynamo_guards.html",
		"0_0_0/dynamo_output_graph.txt",
		"0_0_0/fx_graph_cache_hash.json",
		"0_0_0/inductor_output_code_cxyz.html",
		"0_0_0/pre_grad.txt",
		"0_0_0/pre_grad_1.txt",
		"0_0_0/symbolic_guard_information_0.html",
		"0_0_0/tensor_metadata.json",
		"1_0_0/compilation_metrics.html",
		"chromium_events.json",
		"compile_ids.json",
		"dump_file/eval_with_key_7.html",
		"failures_and_restarts.html",
	}
	if diff := cmp.Diff(want, filePaths(combined)); diff != "" {
		t.Errorf("report files mismatch (-want +got):\n%s", diff)
	}

	var cache []DirectoryEntry
	for _, e := range combined.DirectoryEntries["0_0_0"] {
		if e.Cache != model.CacheNone {
			cache = append(cache, e)
		}
	}
	assert.Equal(t, []DirectoryEntry{
		{Name: "cache_hit_fx_graph.json", URL: "0_0_0/cache_hit_fx_graph.json", Cache: model.CacheHit},
		{Name: "cache_miss_aot.txt", URL: "0_0_0/cache_miss_aot.txt", Cache: model.CacheMiss},
	}, cache)
	assert.Contains(t, combined.DirectoryEntries["0_0_0"], DirectoryEntry{Name: "Profiler", URL: "https://example.com/trace"})

	var sections []string
	for _, s := range combined.Sections() {
		sections = append(sections, s.Title)
	}
	assert.Equal(t, []string{"Cache Status", "Failures and Restarts", "Chromium Trace", "Stack Trie", "Compile Directory"}, sections)
	assert.Equal(t, []string{model.GlobalKey, "0_0_0", "1_0_0"}, combined.DirectoryKeys())
}

func TestRenderAllMergeOrderIsStable(t *testing.T) {
	mc := ingest(t, Settings{})
	serial, err := RenderAll(context.Background(), DefaultRegistry(), mc, RenderOptions{Workers: 1})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		parallel, err := RenderAll(context.Background(), DefaultRegistry(), mc, RenderOptions{Workers: 8})
		require.NoError(t, err)
		if diff := cmp.Diff(serial, parallel); diff != "" {
			t.Fatalf("parallel render differs from serial (-serial +parallel):\n%s", diff)
		}
	}
}

func TestExportRegistry(t *testing.T) {
	mc := ingest(t, Settings{ExportMode: true})
	combined, err := RenderAll(context.Background(), RegistryFor(mc.Settings), mc, RenderOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"export", "symbolic_shapes"}, combined.ModulesRun)
	require.NotEmpty(t, combined.Files)
	assert.Equal(t, exportPage, combined.Files[0].Path)
	page := string(combined.Files[0].Content)
	assert.Contains(t, page, "mylib.custom")
	assert.Contains(t, page, "No fake kernel registered")
	assert.Contains(t, page, "ExportedProgram(...)")
}

type fakeModule struct {
	id       string
	strategy LoadingStrategy
	out      *Output
	err      error
	delay    time.Duration
}

func (f fakeModule) Name() string                                { return f.id }
func (f fakeModule) ID() string                                  { return f.id }
func (f fakeModule) Strategy() LoadingStrategy                   { return f.strategy }
func (f fakeModule) Subscriptions() []model.IntermediateFileType { return nil }
func (f fakeModule) Render(ctx context.Context, _ *Context) (*Output, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.out, f.err
}

func linksOutput(key string, names ...string) *Output {
	out := NewOutput()
	for _, n := range names {
		out.AddLink(key, DirectoryEntry{Name: n, URL: "#" + n})
	}
	return out
}

func TestRenderAllDirectoryOrderFollowsRegistry(t *testing.T) {
	mc := NewContext(t.TempDir(), nil, Settings{}, nil)
	reg := NewRegistry(
		fakeModule{id: "m1", strategy: Eager, out: linksOutput("x", "m1-1", "m1-2"), delay: 50 * time.Millisecond},
		fakeModule{id: "m2", strategy: Eager, out: linksOutput("x", "m2-1", "m2-2")},
	)

	combined, err := RenderAll(context.Background(), reg, mc, RenderOptions{Workers: 2})
	require.NoError(t, err)
	var names []string
	for _, e := range combined.DirectoryEntries["x"] {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"m1-1", "m1-2", "m2-1", "m2-2"}, names)
	assert.Equal(t, []string{"m1", "m2"}, combined.ModulesRun)
}

func TestCompileDirectoryNamesMatchWrittenFiles(t *testing.T) {
	for _, settings := range []Settings{{}, {PlainText: true}} {
		mc := ingest(t, settings)
		combined, err := RenderAll(context.Background(), DefaultRegistry(), mc, RenderOptions{})
		require.NoError(t, err)
		written := make(map[string]bool)
		for _, p := range filePaths(combined) {
			written[p] = true
		}

		var raw []byte
		for _, f := range combined.Files {
			if f.Path == compileIDsFile {
				raw = f.Content
			}
		}
		var dir map[string]CompileSummary
		require.NoError(t, json.Unmarshal(raw, &dir))
		for key, s := range dir {
			for _, a := range s.Artifacts {
				assert.True(t, written[key+"/"+a.Name], "%s/%s listed but not written (plain_text=%v)", key, a.Name, settings.PlainText)
			}
		}

		codegen := ArtifactSummary{Name: "inductor_output_code_cxyz.html", Type: "codegen"}
		if settings.PlainText {
			codegen.Name = "inductor_output_code_cxyz.txt"
		}
		assert.Contains(t, dir["0_0_0"].Artifacts, codegen)
		assert.Contains(t, dir["0_0_0"].Artifacts, ArtifactSummary{Name: "pre_grad_1.txt", Type: "graph"})
	}
}

func TestRenderAllFailurePolicy(t *testing.T) {
	mc := NewContext(t.TempDir(), nil, Settings{}, nil)
	boom := errors.New("boom")
	good := NewOutput()
	good.AddIndex("Good", "<p>ok</p>")
	reg := NewRegistry(
		fakeModule{id: "good", strategy: Eager, out: good},
		fakeModule{id: "bad", strategy: Eager, err: boom},
	)

	_, err := RenderAll(context.Background(), reg, mc, RenderOptions{})
	var re *RenderError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "bad", re.Module)
	assert.ErrorIs(t, err, boom)

	combined, err := RenderAll(context.Background(), reg, mc, RenderOptions{Policy: FailSkip})
	require.NoError(t, err)
	assert.Equal(t, []string{"good"}, combined.ModulesRun)
	require.Len(t, combined.Skipped, 1)
	assert.Equal(t, "bad", combined.Skipped[0].Module)
}

func TestRenderAllValidatesStrategy(t *testing.T) {
	mc := NewContext(t.TempDir(), nil, Settings{}, nil)
	lazy := NewOutput()
	lazy.LazyRefs = append(lazy.LazyRefs, LazyRef{Path: "x.txt", Ordinal: -1})

	tests := []struct {
		name     string
		strategy LoadingStrategy
		wantErr  bool
	}{
		{"eager with lazy refs", Eager, true},
		{"hybrid without summary", Hybrid, true},
		{"lazy", Lazy, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry(fakeModule{id: "m", strategy: tt.strategy, out: lazy})
			_, err := RenderAll(context.Background(), reg, mc, RenderOptions{})
			if tt.wantErr {
				var re *RenderError
				require.ErrorAs(t, err, &re)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestRenderAllCanceled(t *testing.T) {
	mc := ingest(t, Settings{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RenderAll(ctx, DefaultRegistry(), mc, RenderOptions{Policy: FailSkip})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegisterDuplicatePanics(t *testing.T) {
	assert.Panics(t, func() { NewRegistry(Guards{}, Guards{}) })
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FailFatal, p)
	p, err = ParseFailurePolicy("skip")
	require.NoError(t, err)
	assert.Equal(t, FailSkip, p)
	_, err = ParseFailurePolicy("retry")
	assert.Error(t, err)
}

func TestCompileDirectoryJSON(t *testing.T) {
	mc := ingest(t, Settings{})
	out, err := CompileDirectory{}.Render(context.Background(), mc)
	require.NoError(t, err)
	require.Len(t, out.Files, 1)

	var dir map[string]CompileSummary
	require.NoError(t, json.Unmarshal(out.Files[0].Content, &dir))
	assert.Equal(t, "success", dir["0_0_0"].Status)
	assert.Equal(t, "failure", dir["1_0_0"].Status)
	assert.Equal(t, "1/0", dir["1_0_0"].DisplayName)
	assert.Contains(t, dir["0_0_0"].Artifacts, ArtifactSummary{Name: "cache_hit_fx_graph.json", Type: "cache"})
	assert.Equal(t, []DirectoryEntry{{Name: "Profiler", URL: "https://example.com/trace"}}, dir["0_0_0"].Links)
}
