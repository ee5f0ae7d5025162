package storage

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/nanotrace/internal/model"
)

func writeEntries(t *testing.T, dir string, compress bool, n int) {
	t.Helper()
	w, err := CreateStream(filepath.Join(dir, StreamFileName(model.Guards, compress)), compress)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, w.Append(model.IntermediateEntry{
			Type:      model.TypeDynamoGuards,
			CompileID: "0_0",
			Lineno:    i,
			Metadata:  json.RawMessage(`{}`),
		}))
	}
	assert.EqualValues(t, n, w.Count())
	require.NoError(t, w.Close())
}

func TestStreamRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "zstd"}[compress], func(t *testing.T) {
			dir := t.TempDir()
			writeEntries(t, dir, compress, 3)

			it, err := OpenStream(dir, model.Guards)
			require.NoError(t, err)
			entries, err := ReadAll(it)
			require.NoError(t, err)
			require.Len(t, entries, 3)
			for i, e := range entries {
				assert.Equal(t, i, e.Lineno)
				assert.Equal(t, "0_0", e.CompileID)
			}
		})
	}
}

func TestOpenStreamMissingIsEmpty(t *testing.T) {
	it, err := OpenStream(t.TempDir(), model.Export)
	require.NoError(t, err)
	assert.False(t, it.Next())
	assert.NoError(t, it.Error())
	assert.NoError(t, it.Close())
}

func TestStreamIsRestartable(t *testing.T) {
	dir := t.TempDir()
	writeEntries(t, dir, false, 2)

	for i := 0; i < 2; i++ {
		it, err := OpenStream(dir, model.Guards)
		require.NoError(t, err)
		entries, err := ReadAll(it)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	}
}

func TestIteratorReportsCorruptLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, model.Guards.Filename())
	require.NoError(t, os.WriteFile(path, []byte("{\"type\":\"dynamo_guards\",\"metadata\":{}}\nnot json\n"), 0644))

	it, err := OpenStream(dir, model.Guards)
	require.NoError(t, err)
	defer it.Close()

	assert.True(t, it.Next())
	assert.False(t, it.Next())
	assert.ErrorContains(t, it.Error(), "guards line 2")
}

func TestOpenCaptureDetectsZstd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "capture.log.zst")

	f, err := os.Create(path)
	require.NoError(t, err)
	enc, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = enc.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	rc, err := OpenCapture(path)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestOpenCapturePlainAndTiny(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiny.log")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	rc, err := OpenCapture(path)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}
