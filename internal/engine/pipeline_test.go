package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/nanotrace/internal/model"
	"github.com/coffersTech/nanotrace/internal/storage"
)

func sampleCapture() string {
	lines := []string{
		`{"string_table": {"0": "train.py", "1": "torch/_dynamo/convert_frame.py"}}`,
		`V1206 15:18:36.447000 1234 torch/_dynamo/convert_frame.py:123] {"dynamo_start": {"stack": [{"filename": 0, "line": 10, "name": "main"}]}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0}`,
		`V1206 15:18:36.500000 1234 torch/_dynamo/output_graph.py:1] {"dynamo_output_graph": {"sizes": {}}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0, "has_payload": "h"}`,
		"\tdef forward(self, x):",
		"\t    return x + 1",
		`V1206 15:18:36.600000 1234 torch/_dynamo/guards.py:1] {"dynamo_guards": {}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0, "has_payload": "h"}`,
		"\t[]",
		`V1206 15:18:36.700000 1234 torch/_dynamo/utils.py:1] {"compilation_metrics": {"co_name": "main", "fail_type": null}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0}`,
		`V1206 15:18:36.800000 1234 torch/_inductor/codecache.py:1] {"artifact": {"name": "cache_hit_fx_graph", "encoding": "json"}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0, "has_payload": "h"}`,
		"\t{}",
		`V1206 15:18:36.900000 1234 torch/_dynamo/utils.py:1] {"compilation_metrics": {"co_name": "f", "fail_type": "Unsupported"}, "frame_id": 1, "frame_compile_id": 0, "attempt": 0}`,
		`not even json`,
		`{"mystery_entry": {}}`,
	}
	return strings.Join(lines, "\n") + "\n"
}

func TestPipelineIngest(t *testing.T) {
	dir := t.TempDir()
	p := NewPipeline(Options{RunID: "run-1", Year: 2024}, nil)

	m, err := p.Ingest(context.Background(), strings.NewReader(sampleCapture()), dir, "")
	require.NoError(t, err)

	assert.EqualValues(t, 6, m.TotalEnvelopes)
	assert.EqualValues(t, 1, m.Dropped.Malformed)
	assert.EqualValues(t, 1, m.Dropped.UnknownType)
	assert.EqualValues(t, 0, m.Dropped.DanglingRefs)
	assert.Equal(t, 2, m.StringTableEntries)
	assert.EqualValues(t, 1, m.Cache.Hits)
	assert.True(t, m.Frozen())

	var sum int64
	for _, c := range m.EnvelopeCounts {
		sum += c
	}
	assert.Equal(t, m.TotalEnvelopes, sum)

	var fileSum int64
	for _, f := range m.Files {
		fileSum += f.Count
	}
	assert.Equal(t, m.TotalEnvelopes, fileSum)
	assert.EqualValues(t, 1, m.Files["cache"].Count)
	assert.Equal(t, "graphs.jsonl", m.Files["graphs"].Path)

	require.Len(t, m.CompileIDs, 2)
	assert.Equal(t, "0_0_0", m.CompileIDs[0].ID)
	assert.Equal(t, StatusSuccess, m.CompileIDs[0].Status)
	assert.True(t, m.CompileIDs[0].HasGraphs)
	assert.True(t, m.CompileIDs[0].HasGuards)
	assert.Equal(t, "1_0_0", m.CompileIDs[1].ID)
	assert.Equal(t, StatusFailure, m.CompileIDs[1].Status)

	loaded, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, m.TotalEnvelopes, loaded.TotalEnvelopes)
	assert.Equal(t, "run-1", loaded.RunID)
	assert.Equal(t, []string{"0_0_0", "1_0_0"}, loaded.CompileIDKeys())

	it, err := storage.OpenStream(dir, model.Graphs)
	require.NoError(t, err)
	graphs, err := storage.ReadAll(it)
	require.NoError(t, err)
	require.Len(t, graphs, 1)
	assert.Equal(t, "def forward(self, x):\n    return x + 1", graphs[0].PayloadString())
	assert.Equal(t, model.TypeDynamoOutputGraph, graphs[0].Type)

	it, err = storage.OpenStream(dir, model.CompilationMetrics)
	require.NoError(t, err)
	metrics, err := storage.ReadAll(it)
	require.NoError(t, err)
	require.Len(t, metrics, 3)
	assert.Equal(t, "train.py", metrics[0].Stack[0].Filename)
}

func TestPipelineHundredValidOneInvalid(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 100; i++ {
		if i == 50 {
			b.WriteString("{\"dynamo_guards\": \n")
		}
		fmt.Fprintf(&b, `{"dynamo_guards": {}, "frame_id": %d, "frame_compile_id": 0}`+"\n", i)
	}

	m, err := NewPipeline(Options{}, nil).Ingest(context.Background(), strings.NewReader(b.String()), t.TempDir(), "")
	require.NoError(t, err)
	assert.EqualValues(t, 100, m.TotalEnvelopes)
	assert.EqualValues(t, 1, m.Dropped.Malformed)
	assert.Len(t, m.CompileIDs, 100)
}

func TestPipelineStrictFailsOnMalformed(t *testing.T) {
	dir := t.TempDir()
	_, err := NewPipeline(Options{Strict: true}, nil).Ingest(context.Background(), strings.NewReader(sampleCapture()), dir, "")
	require.ErrorIs(t, err, ErrMalformedLine)

	_, statErr := os.Stat(filepath.Join(dir, ManifestFileName))
	assert.True(t, os.IsNotExist(statErr), "no manifest after an aborted run")
}

func TestPipelineStrictFailsOnUnknown(t *testing.T) {
	dir := t.TempDir()
	capture := `{"mystery": {}}` + "\n" + `{"dynamo_guards": {}}` + "\n"
	_, err := NewPipeline(Options{Strict: true}, nil).Ingest(context.Background(), strings.NewReader(capture), dir, "")
	require.ErrorIs(t, err, ErrUnknownEnvelopeType)
	assert.NoFileExists(t, filepath.Join(dir, ManifestFileName))

	m, err := NewPipeline(Options{}, nil).Ingest(context.Background(), strings.NewReader(capture), t.TempDir(), "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, m.TotalEnvelopes)
	assert.EqualValues(t, 1, m.Dropped.UnknownType)
}

func TestPipelineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPipeline(Options{}, nil).Ingest(ctx, strings.NewReader(sampleCapture()), t.TempDir(), "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPipelineCompressedStreams(t *testing.T) {
	dir := t.TempDir()
	m, err := NewPipeline(Options{Compress: true}, nil).Ingest(context.Background(), strings.NewReader(sampleCapture()), dir, "")
	require.NoError(t, err)
	assert.Equal(t, "guards.jsonl.zst", m.Files["guards"].Path)

	it, err := storage.OpenStream(dir, model.Guards)
	require.NoError(t, err)
	entries, err := storage.ReadAll(it)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPipelineIngestFileHashesSource(t *testing.T) {
	src := filepath.Join(t.TempDir(), "dedicated_log_torch_trace_rank_0.log")
	require.NoError(t, os.WriteFile(src, []byte(sampleCapture()), 0644))

	m, err := NewPipeline(Options{}, nil).IngestFile(context.Background(), src, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "dedicated_log_torch_trace_rank_0.log", m.SourceFile)
	assert.Len(t, m.SourceFileHash, 64)
}

func TestManifestFrozenAfterFinalize(t *testing.T) {
	dir := t.TempDir()
	m := NewManifest("r", "s")
	require.NoError(t, m.Finalize(dir, 0, 0))

	err := m.Record(&model.Envelope{EntryType: model.TypeArtifact}, model.Artifacts, model.CacheNone)
	assert.ErrorIs(t, err, ErrManifestFrozen)
	assert.ErrorIs(t, m.Finalize(dir, 0, 0), ErrManifestFrozen)
}
