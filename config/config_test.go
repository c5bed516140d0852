package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"churnrisk/errs"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
http:
  port: 9090
  timeout: 5s
artifacts:
  schema_path: art/schema.yaml
batch:
  max_rows: 50
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Http.Port)
	assert.Equal(t, 5*time.Second, cfg.Http.Timeout)
	assert.Equal(t, 50, cfg.Batch.MaxRows)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, filepath.Join(dir, "art/schema.yaml"), cfg.Artifacts.SchemaPath)
	assert.Equal(t, filepath.Join(dir, "artifacts/model.json"), cfg.Artifacts.ModelPath)
	assert.Equal(t, 20, cfg.Http.PreviewRows)
	assert.Empty(t, cfg.RateLimit.TrustedProxies)
}

func TestTrustedProxiesAcceptIPsAndCIDRs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.1", "::1"}
	assert.NoError(t, cfg.Validate())
}

func TestLoadFailures(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"missing":  filepath.Join(dir, "nope.yaml"),
		"syntax":   writeFile(t, dir, "bad.yaml", "http: [unclosed"),
		"validate": writeFile(t, dir, "rows.yaml", "batch:\n  max_rows: 0\n"),
		"proxies":  writeFile(t, dir, "proxies.yaml", "rate_limit:\n  trusted_proxies: [lb.internal]\n"),
	}
	for name, path := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(path)
			var cfgErr *errs.ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, "config", cfgErr.Artifact)
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestWatchArtifactsWarnsOnChange(t *testing.T) {
	dir := t.TempDir()
	model := writeFile(t, dir, "model.json", "{}")
	writeFile(t, dir, "other.txt", "x")

	core, logs := observer.New(zap.WarnLevel)
	changed := make(chan string, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, WatchArtifacts(ctx, zap.New(core), func(p string) { changed <- p }, model))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("y"), 0o644))
	require.NoError(t, os.WriteFile(model, []byte(`{"type":"x"}`), 0o644))

	select {
	case p := <-changed:
		abs, _ := filepath.Abs(model)
		assert.Equal(t, abs, p)
	case <-time.After(5 * time.Second):
		t.Fatal("no change event")
	}
	assert.GreaterOrEqual(t, logs.FilterMessage("artifact changed on disk; restart to load it").Len(), 1)
}
