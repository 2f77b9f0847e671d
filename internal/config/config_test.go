package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
app:
  name: charge-broker-test
  env: test
sync:
  pollInterval: 10s
  pollBatch: 5
lock:
  ttl: 15s
platform:
  baseUrl: https://platform.example.com
  operatorId: OP001
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "charge-broker-test", cfg.App.Name)
	assert.Equal(t, "test", cfg.App.Env)

	// 文件覆盖
	assert.Equal(t, 10*time.Second, cfg.Sync.PollInterval)
	assert.Equal(t, 5, cfg.Sync.PollBatch)
	assert.Equal(t, 15*time.Second, cfg.Lock.TTL)
	assert.Equal(t, "https://platform.example.com", cfg.Platform.BaseURL)

	// 未覆盖的字段保持默认
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 2*time.Hour, cfg.Sync.StuckAfter)
	assert.Equal(t, 10*time.Minute, cfg.Sync.StaleAfter)
	assert.Equal(t, 20, cfg.Sync.BackfillBatch)
	assert.Equal(t, "25m0s", cfg.Platform.TokenTTL.String())
	assert.True(t, cfg.Sync.Enabled)
	assert.True(t, cfg.Notify.Enabled)
	assert.False(t, cfg.API.Auth.Enabled)
}
