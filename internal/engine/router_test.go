package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/nanotrace/internal/model"
)

func TestRouteTable(t *testing.T) {
	tests := []struct {
		entryType string
		want      model.IntermediateFileType
	}{
		{model.TypeDynamoOutputGraph, model.Graphs},
		{model.TypeAOTJointGraph, model.Graphs},
		{model.TypeGraphDump, model.Graphs},
		{model.TypeInductorOutputCode, model.Codegen},
		{model.TypeDynamoCppGuardsStr, model.Codegen},
		{model.TypeDynamoGuards, model.Guards},
		{model.TypeExpressionCreated, model.Guards},
		{model.TypeCompilationMetrics, model.CompilationMetrics},
		{model.TypeDynamoStart, model.CompilationMetrics},
		{model.TypeStack, model.CompilationMetrics},
		{model.TypeChromiumEvent, model.ChromiumEvents},
		{model.TypeArtifact, model.Artifacts},
		{model.TypeLink, model.Artifacts},
		{model.TypeDescribeSource, model.TensorMetadata},
		{model.TypeExportedProgram, model.Export},
	}
	for _, tt := range tests {
		t.Run(tt.entryType, func(t *testing.T) {
			ft, status, err := Route(&model.Envelope{EntryType: tt.entryType, Metadata: json.RawMessage(`{}`)})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ft)
			assert.Equal(t, model.CacheNone, status)
		})
	}
}

func TestRouteCacheArtifacts(t *testing.T) {
	tests := []struct {
		name   string
		stream model.IntermediateFileType
		status model.CacheStatus
	}{
		{"cache_hit_fx_graph", model.Cache, model.CacheHit},
		{"cache_miss_aot_autograd", model.Cache, model.CacheMiss},
		{"cache_bypass_inductor", model.Cache, model.CacheBypass},
		{"fx_graph_cache_hit", model.Artifacts, model.CacheNone},
		{"cache_hits", model.Artifacts, model.CacheNone},
		{"", model.Artifacts, model.CacheNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta, _ := json.Marshal(map[string]string{"name": tt.name})
			ft, status, err := Route(&model.Envelope{EntryType: model.TypeArtifact, Metadata: meta})
			require.NoError(t, err)
			assert.Equal(t, tt.stream, ft)
			assert.Equal(t, tt.status, status)
		})
	}
}

func TestRouteIsPure(t *testing.T) {
	env := &model.Envelope{EntryType: model.TypeArtifact, Metadata: json.RawMessage(`{"name":"cache_miss_x"}`)}
	ft1, s1, err1 := Route(env)
	ft2, s2, err2 := Route(env)
	assert.Equal(t, ft1, ft2)
	assert.Equal(t, s1, s2)
	assert.Equal(t, err1, err2)
}

func TestRouteUnknown(t *testing.T) {
	_, _, err := Route(&model.Envelope{EntryType: model.TypeStr})
	assert.ErrorIs(t, err, ErrUnknownEnvelopeType)

	_, _, err = Route(&model.Envelope{EntryType: "mystery"})
	assert.ErrorIs(t, err, ErrUnknownEnvelopeType)
}

func TestEveryPriorityTypeRoutesExceptStr(t *testing.T) {
	for _, typ := range model.EntryTypePriority {
		_, _, err := Route(&model.Envelope{EntryType: typ, Metadata: json.RawMessage(`{}`)})
		if typ == model.TypeStr {
			assert.Error(t, err)
			continue
		}
		assert.NoError(t, err, typ)
	}
}
