package report

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/nanotrace/internal/engine"
	"github.com/coffersTech/nanotrace/internal/model"
	"github.com/coffersTech/nanotrace/internal/modules"
)

const glog = `V1206 15:18:36.447000 1234 torch/_dynamo/convert_frame.py:1] `

var trace = []string{
	glog + `{"dynamo_start": {"stack": []}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0}`,
	glog + `{"dynamo_output_graph": {}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0, "has_payload": "a"}`,
	"\tdef forward(self, x):",
	glog + `{"artifact": {"name": "cache_hit_fx_graph", "encoding": "json"}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0, "has_payload": "b"}`,
	"\t{\"hit\": true}",
	glog + `{"compilation_metrics": {"co_name": "forward", "graph_op_count": 1}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0}`,
	`not json at all`,
}

func render(t *testing.T, settings modules.Settings) (*modules.Context, *modules.CombinedOutput) {
	t.Helper()
	dir := t.TempDir()
	p := engine.NewPipeline(engine.Options{RunID: "test", Year: 2024}, nil)
	m, err := p.Ingest(context.Background(), strings.NewReader(strings.Join(trace, "\n")+"\n"), dir, "trace.log")
	require.NoError(t, err)
	mc := modules.NewContext(dir, m, settings, nil)
	combined, err := modules.RenderAll(context.Background(), modules.DefaultRegistry(), mc, modules.RenderOptions{})
	require.NoError(t, err)
	return mc, combined
}

func TestCommitWritesReport(t *testing.T) {
	mc, combined := render(t, modules.Settings{})
	out := filepath.Join(t.TempDir(), "report")
	w := &Writer{OutDir: out, RunID: "r1", CustomHeaderHTML: `<div id="hdr">team</div>`, MaterializeLazy: true, KeepIntermediate: true}

	files, err := w.Commit(context.Background(), Part{Output: combined, Context: mc})
	require.NoError(t, err)
	assert.Contains(t, files, IndexFile)
	assert.Contains(t, files, CompileDirectoryFile)
	assert.Contains(t, files, "0_0_0/dynamo_output_graph.txt")
	assert.Contains(t, files, "intermediate/"+engine.ManifestFileName)
	assert.NoDirExists(t, StagingDir(out, "r1"))

	graph, err := os.ReadFile(filepath.Join(out, "0_0_0", "dynamo_output_graph.txt"))
	require.NoError(t, err)
	assert.Equal(t, "def forward(self, x):", string(graph))

	index, err := os.ReadFile(filepath.Join(out, IndexFile))
	require.NoError(t, err)
	assert.Contains(t, string(index), `<div id="hdr">team</div>`)
	assert.Contains(t, string(index), `id="0_0_0"`)
	assert.Contains(t, string(index), "1 malformed")

	raw, err := os.ReadFile(filepath.Join(out, CompileDirectoryFile))
	require.NoError(t, err)
	var dir map[string][]directoryItem
	require.NoError(t, json.Unmarshal(raw, &dir))
	assert.Contains(t, dir["0_0_0"], directoryItem{
		Name: "cache_hit_fx_graph.json", URL: "0_0_0/cache_hit_fx_graph.json", Suffix: "✅", CacheStatus: "hit",
	})
	assert.Contains(t, dir["0_0_0"], directoryItem{Name: "dynamo_output_graph.txt", URL: "0_0_0/dynamo_output_graph.txt"})
}

func TestCommitPlaceholders(t *testing.T) {
	mc, combined := render(t, modules.Settings{})
	out := filepath.Join(t.TempDir(), "report")
	w := &Writer{OutDir: out, RunID: "r1"}

	_, err := w.Commit(context.Background(), Part{Output: combined, Context: mc})
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(out, "0_0_0", "dynamo_output_graph.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "nanotrace query intermediate graphs")
	assert.FileExists(t, filepath.Join(out, "intermediate", model.Graphs.Filename()))
	assert.FileExists(t, filepath.Join(out, "intermediate", engine.ManifestFileName))

	// The query printed on the placeholder finds the entry it stands for.
	var ref modules.LazyRef
	for _, r := range combined.LazyRefs {
		if r.Path == "0_0_0/dynamo_output_graph.txt" {
			ref = r
		}
	}
	require.NotEmpty(t, ref.Path)
	require.GreaterOrEqual(t, ref.Ordinal, 0)
	want, err := mc.Resolve(ref)
	require.NoError(t, err)

	m, err := engine.LoadManifest(filepath.Join(out, "intermediate"))
	require.NoError(t, err)
	kept := modules.NewContext(filepath.Join(out, "intermediate"), m, modules.Settings{}, nil)
	got, err := kept.Select(ref.Stream, modules.RefQuery(ref))
	require.NoError(t, err)
	require.Greater(t, len(got), ref.Ordinal)
	assert.Equal(t, want[0], got[ref.Ordinal])
}

func TestCommitPlaceholdersUnderPrefix(t *testing.T) {
	mc, combined := render(t, modules.Settings{})
	out := filepath.Join(t.TempDir(), "report")
	w := &Writer{OutDir: out, RunID: "r1"}

	_, err := w.Commit(context.Background(), Part{Prefix: "rank_1", Output: combined, Context: mc})
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(out, "rank_1", "0_0_0", "dynamo_output_graph.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "nanotrace query rank_1/intermediate graphs")
	assert.FileExists(t, filepath.Join(out, "rank_1", "intermediate", model.Graphs.Filename()))
}

func TestCommitMaterializedSkipsStreams(t *testing.T) {
	mc, combined := render(t, modules.Settings{})
	out := filepath.Join(t.TempDir(), "report")
	w := &Writer{OutDir: out, RunID: "r1", MaterializeLazy: true}

	_, err := w.Commit(context.Background(), Part{Output: combined, Context: mc})
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(out, "intermediate"))
}

func TestCommitSucceedsWhenOldReportLingers(t *testing.T) {
	mc, combined := render(t, modules.Settings{})
	out := filepath.Join(t.TempDir(), "report")
	require.NoError(t, os.MkdirAll(out, 0o755))

	removeAll = func(string) error { return errors.New("device busy") }
	t.Cleanup(func() { removeAll = os.RemoveAll })

	w := &Writer{OutDir: out, RunID: "r3", MaterializeLazy: true}
	_, err := w.Commit(context.Background(), Part{Output: combined, Context: mc})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(out, IndexFile))
	assert.DirExists(t, out+retiredInfix+"r3")
}

func TestCommitReplacesPreviousReport(t *testing.T) {
	mc, combined := render(t, modules.Settings{})
	out := filepath.Join(t.TempDir(), "report")
	require.NoError(t, os.MkdirAll(out, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(out, "stale.html"), []byte("old"), 0o644))

	w := &Writer{OutDir: out, RunID: "r2", MaterializeLazy: true}
	_, err := w.Commit(context.Background(), Part{Output: combined, Context: mc})
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(out, "stale.html"))
	assert.NoDirExists(t, out+retiredInfix+"r2")
}

func TestCommitFailureLeavesNothing(t *testing.T) {
	combined := &modules.CombinedOutput{
		DirectoryEntries: map[string][]modules.DirectoryEntry{},
		LazyRefs: []modules.LazyRef{{
			Path: "0_0_0/missing.txt", Stream: model.Graphs, CompileID: "0_0_0",
			EntryType: model.TypeDynamoOutputGraph, Ordinal: 3,
		}},
	}
	mc := modules.NewContext(t.TempDir(), nil, modules.Settings{}, nil)
	out := filepath.Join(t.TempDir(), "report")
	w := &Writer{OutDir: out, RunID: "r3", MaterializeLazy: true}

	_, err := w.Commit(context.Background(), Part{Output: combined, Context: mc})
	require.Error(t, err)
	assert.NoDirExists(t, out)
	assert.NoDirExists(t, StagingDir(out, "r3"))
}

func TestCommitRejectsEscapingPaths(t *testing.T) {
	combined := &modules.CombinedOutput{
		Files:            []modules.File{{Path: "../evil.html", Content: []byte("x")}},
		DirectoryEntries: map[string][]modules.DirectoryEntry{},
	}
	out := filepath.Join(t.TempDir(), "report")
	_, err := (&Writer{OutDir: out, RunID: "r4"}).Commit(context.Background(), Part{Output: combined})
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(out), "evil.html"))
}

func TestCommitParts(t *testing.T) {
	mc, combined := render(t, modules.Settings{})
	root := modules.NewOutput()
	root.AddFile(model.GlobalKey, "summary.json", "summary.json", []byte("{}"))
	rootOut := &modules.CombinedOutput{Files: root.Files, DirectoryEntries: root.DirectoryEntries}

	out := filepath.Join(t.TempDir(), "report")
	files, err := (&Writer{OutDir: out, RunID: "r5", MaterializeLazy: true}).Commit(context.Background(),
		Part{Output: rootOut},
		Part{Prefix: "rank_0", Output: combined, Context: mc},
	)
	require.NoError(t, err)
	assert.Contains(t, files, "summary.json")
	assert.Contains(t, files, "rank_0/index.html")
	assert.FileExists(t, filepath.Join(out, "rank_0", "0_0_0", "dynamo_output_graph.txt"))
}

func TestStageError(t *testing.T) {
	boom := errors.New("boom")
	res := Failed(StageRendering, "guards", boom)
	assert.Equal(t, StatusFailure, res.Status)
	assert.ErrorIs(t, res.Err, boom)
	assert.EqualError(t, res.Err, "rendering failed in guards: boom")

	var se *StageError
	require.ErrorAs(t, res.Err, &se)
	assert.Equal(t, StageRendering, se.Stage)
}

func TestCleanStale(t *testing.T) {
	parent := t.TempDir()
	out := filepath.Join(parent, "report")
	for _, name := range []string{"report.staging-a", "report.old-b", "report.staging-fresh", "other.staging-c", "report"} {
		require.NoError(t, os.MkdirAll(filepath.Join(parent, name), 0o755))
	}
	old := time.Now().Add(-2 * time.Hour)
	for _, name := range []string{"report.staging-a", "report.old-b", "other.staging-c", "report"} {
		require.NoError(t, os.Chtimes(filepath.Join(parent, name), old, old))
	}

	n, err := CleanStale(out, time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoDirExists(t, filepath.Join(parent, "report.staging-a"))
	assert.NoDirExists(t, filepath.Join(parent, "report.old-b"))
	assert.DirExists(t, filepath.Join(parent, "report.staging-fresh"))
	assert.DirExists(t, filepath.Join(parent, "other.staging-c"))
	assert.DirExists(t, out)
}
