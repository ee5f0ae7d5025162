package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMetadataVariants(t *testing.T) {
	m, err := DecodeMetadata(TypeCompilationMetrics, json.RawMessage(`{"co_name":"forward","fail_type":"Unsupported","guard_count":4}`))
	require.NoError(t, err)
	cm, ok := m.(CompilationMetricsMeta)
	require.True(t, ok)
	assert.Equal(t, TypeCompilationMetrics, cm.EntryType())
	assert.True(t, cm.Failed())
	assert.Equal(t, 4, *cm.GuardCount)
	assert.Nil(t, cm.CacheSize)

	m, err = DecodeMetadata(TypeInductorOutputCode, json.RawMessage(`{"filename":"/tmp/x/cabc123.py"}`))
	require.NoError(t, err)
	assert.Equal(t, "cabc123", m.(InductorOutputCode).Stem())

	m, err = DecodeMetadata(TypeMissingFakeKernel, json.RawMessage(`{"op":"aten::foo","reason":"no impl"}`))
	require.NoError(t, err)
	kf := m.(KernelFailure)
	assert.Equal(t, TypeMissingFakeKernel, kf.EntryType())
	assert.Equal(t, "aten::foo", kf.Op)
}

func TestDecodeMetadataGenericFallback(t *testing.T) {
	m, err := DecodeMetadata("future_entry", json.RawMessage(`{"name":"x","n":1}`))
	require.NoError(t, err)
	g, ok := m.(Generic)
	require.True(t, ok)
	assert.Equal(t, "future_entry", g.EntryType())
	assert.Equal(t, "x", g.StringField("name"))
	assert.Equal(t, "", g.StringField("n"))
}

func TestDecodeMetadataEmpty(t *testing.T) {
	m, err := DecodeMetadata(TypeDynamoStart, nil)
	require.NoError(t, err)
	assert.Empty(t, m.(DynamoStart).Stack)
}

func TestDecodeMetadataTypeMismatch(t *testing.T) {
	_, err := DecodeMetadata(TypeArtifact, json.RawMessage(`{"name":5}`))
	assert.Error(t, err)
}

func TestTensorFingerprint(t *testing.T) {
	m, err := DecodeMetadata(TypeDescribeTensor, json.RawMessage(`{"id":1,"dtype":"torch.float32","device":"device(type='cuda', index=0)","size":[8,16]}`))
	require.NoError(t, err)
	assert.Equal(t, "size=[8,16] dtype=torch.float32 device=device(type='cuda', index=0)", m.(DescribeTensor).Fingerprint())
}
