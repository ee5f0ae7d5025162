package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/nanotrace/internal/modules"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.True(t, cfg.MaterializeLazy)
	assert.Equal(t, modules.FailFatal, cfg.FailurePolicy())
	assert.Equal(t, 24*time.Hour, cfg.StagingMaxAge)
	assert.Equal(t, "nanotrace.db", cfg.Catalog.Path)
	assert.False(t, cfg.PlainText)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
plain_text: true
render_workers: 2
module_failure_policy: skip
custom_header_html: "<b>from file</b>"
catalog:
  enabled: true
  path: runs.db
`), 0o644))

	t.Setenv("NANOTRACE_RENDER_WORKERS", "6")
	t.Setenv("NANOTRACE_CATALOG__PATH", "env.db")

	cfg, err := Load(path, map[string]any{"custom_header_html": "<b>from flag</b>"})
	require.NoError(t, err)
	assert.True(t, cfg.PlainText)
	assert.Equal(t, 6, cfg.RenderWorkers)
	assert.Equal(t, modules.FailSkip, cfg.FailurePolicy())
	assert.Equal(t, "<b>from flag</b>", cfg.CustomHeaderHTML)
	assert.True(t, cfg.Catalog.Enabled)
	assert.Equal(t, "env.db", cfg.Catalog.Path)

	s := cfg.Settings()
	assert.True(t, s.PlainText)
	assert.True(t, s.MaterializeLazy)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	t.Chdir(t.TempDir())
	_, err = Load("", map[string]any{"module_failure_policy": "retry"})
	assert.Error(t, err)

	_, err = Load("", map[string]any{"rank_workers": -1})
	assert.Error(t, err)
}
