package catalog

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/nanotrace/internal/engine"
	"github.com/coffersTech/nanotrace/internal/modules"
)

const glog = `V1206 15:18:36.447000 1234 torch/_dynamo/convert_frame.py:1] `

func ingest(t *testing.T) *engine.Manifest {
	t.Helper()
	lines := []string{
		glog + `{"dynamo_start": {"stack": []}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0}`,
		glog + `{"compilation_metrics": {"co_name": "forward", "graph_op_count": 1}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0}`,
		glog + `{"compilation_metrics": {"co_name": "step", "fail_type": "Unsupported"}, "frame_id": 1, "frame_compile_id": 0, "attempt": 0}`,
	}
	p := engine.NewPipeline(engine.Options{RunID: "run-1", Year: 2024}, nil)
	m, err := p.Ingest(context.Background(), strings.NewReader(strings.Join(lines, "\n")+"\n"), t.TempDir(), "trace.log")
	require.NoError(t, err)
	return m
}

func TestRecord(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer c.Close()

	m := ingest(t)
	combined := &modules.CombinedOutput{DirectoryEntries: map[string][]modules.DirectoryEntry{
		"0_0_0": {{Name: "a.txt", URL: "0_0_0/a.txt"}, {Name: "b.txt", URL: "0_0_0/b.txt"}},
	}}
	ctx := context.Background()
	require.NoError(t, c.Record(ctx, m, combined, "/tmp/out", "success", nil))
	// Recording again replaces instead of duplicating.
	require.NoError(t, c.Record(ctx, m, combined, "/tmp/out", "success", nil))

	runs, err := c.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
	assert.Nil(t, runs[0].Rank)
	assert.EqualValues(t, 3, runs[0].Envelopes)

	ids, err := c.CompileIDs(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"0_0_0": "success", "1_0_0": "failure"}, ids)

	n, err := c.ArtifactCount(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRecordPerRank(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	defer c.Close()

	m := ingest(t)
	ctx := context.Background()
	for _, r := range []int{0, 1} {
		rank := r
		require.NoError(t, c.Record(ctx, m, nil, "/tmp/out", "success", &rank))
	}
	runs, err := c.Runs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.NotNil(t, runs[0].Rank)
}
