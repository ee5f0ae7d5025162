package modules

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/coffersTech/nanotrace/internal/engine"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const glog = `V1206 15:18:36.447000 1234 torch/_dynamo/convert_frame.py:1] `

// traceLines is a small but complete compile trace: two frames, the second
// of which fails after a restart.
var traceLines = []string{
	`{"string_table": {"0": "train.py", "1": "model.py"}}`,
	glog + `{"dynamo_start": {"stack": [{"filename": 0, "line": 10, "name": "main"}, {"filename": 1, "line": 3, "name": "forward"}]}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0}`,
	glog + `{"dynamo_output_graph": {"sizes": {}}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0, "has_payload": "a"}`,
	"\tdef forward(self, x):",
	"\t    return x + 1",
	glog + `{"graph_dump": {"name": "pre_grad"}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0, "has_payload": "b"}`,
	"\tgraph one",
	glog + `{"graph_dump": {"name": "pre_grad"}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0, "has_payload": "c"}`,
	"\tgraph two",
	glog + `{"inductor_output_code": {"filename": "/tmp/ab/cxyz.py"}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0, "has_payload": "d"}`,
	"\timport torch",
	glog + `{"dynamo_guards": {}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0, "has_payload": "e"}`,
	"\t[{\"code\": \"L['x'].size()[0] == 8\", \"type\": \"TENSOR_MATCH\"}]",
	glog + `{"dynamo_cpp_guards_str": {}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0, "has_payload": "f"}`,
	"\tTREE_GUARD_MANAGER",
	glog + `{"symbolic_shape_specialization": {"symbol": "s0", "value": 8, "reason": "x.size(0) == 8", "sources": ["L['x'].size()[0]"]}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0}`,
	glog + `{"expression_created": {"id": 1, "result": "s0", "method": "size", "arguments": ["x"], "argument_ids": []}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0}`,
	glog + `{"expression_created": {"id": 2, "result": "Eq(s0, 8)", "method": "eq", "arguments": ["s0", "8"], "argument_ids": [1]}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0}`,
	glog + `{"guard_added": {"expr": "Eq(s0, 8)", "expr_node_id": 2, "user_stack": ["train.py:10 in main"], "stack": []}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0}`,
	glog + `{"artifact": {"name": "fx_graph_cache_hash", "encoding": "json"}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0, "has_payload": "g"}`,
	"\t{\"key\": \"abc\"}",
	glog + `{"artifact": {"name": "cache_hit_fx_graph", "encoding": "json"}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0, "has_payload": "h"}`,
	"\t{\"hit\": true}",
	glog + `{"artifact": {"name": "cache_miss_aot", "encoding": "string"}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0, "has_payload": "i"}`,
	"\tmissed",
	glog + `{"link": {"name": "Profiler", "url": "https://example.com/trace"}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0}`,
	glog + `{"dump_file": {"name": "eval_with_key_7"}, "has_payload": "j"}`,
	"\tdef forward(self):",
	"\t    pass",
	glog + `{"describe_tensor": {"id": 0, "ndim": 2, "dtype": "torch.float32", "device": "device(type='cuda', index=0)", "size": [8, 16]}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0}`,
	glog + `{"chromium_event": {}, "has_payload": "k"}`,
	"\t{\"name\": \"dynamo\", \"ph\": \"B\", \"ts\": 1}",
	glog + `{"chromium_event": {}, "has_payload": "l"}`,
	"\t{\"name\": \"dynamo\", \"ph\": \"E\", \"ts\": 9}",
	glog + `{"compilation_metrics": {"co_name": "forward", "co_filename": "model.py", "graph_op_count": 3, "entire_frame_compile_time_s": 1.25, "fail_type": null}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0}`,
	glog + `{"compilation_metrics": {"co_name": "step", "graph_op_count": 0, "restart_reasons": ["graph break"], "fail_type": "Unsupported", "fail_reason": "call_function foo"}, "frame_id": 1, "frame_compile_id": 0, "attempt": 0}`,
	glog + `{"missing_fake_kernel": {"op": "mylib.custom"}, "frame_id": 0, "frame_compile_id": 0, "attempt": 0}`,
	glog + `{"exported_program": {}, "has_payload": "m"}`,
	"\tExportedProgram(...)",
}

// ingest runs the trace through the ingestion pipeline and returns a
// Context over the result.
func ingest(t *testing.T, settings Settings) *Context {
	t.Helper()
	dir := t.TempDir()
	p := engine.NewPipeline(engine.Options{RunID: "test", Year: 2024}, nil)
	m, err := p.Ingest(context.Background(), strings.NewReader(strings.Join(traceLines, "\n")+"\n"), dir, "trace.log")
	require.NoError(t, err)
	return NewContext(dir, m, settings, nil)
}
