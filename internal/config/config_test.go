package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
venue:
  ws_url: "wss://demo.ctraderapi.com:5036"
  token_url: "https://openapi.ctrader.com/apps/token"
  client_id: "${TEST_CLIENT_ID}"
  client_secret: "secret-inline"
  access_token: "${TEST_ACCESS_TOKEN}"
  request_timeout: 7s

telegram:
  token: "${TEST_TG_TOKEN}"
  chat_id: 42

storage:
  db_file: "straddle.db"

runtime:
  log:
    level: "debug"
    format: "json"

symbols:
  eurusd:
    enabled: true
    stop_loss_ticks: 100
    trailing_stop_ticks: 50
    volume: 0.1
`

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "configs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "configs", "config.yaml"), []byte(sampleConfig), 0o644))
	oldwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(oldwd) })

	t.Setenv("TEST_CLIENT_ID", "client-from-env")
	t.Setenv("TEST_ACCESS_TOKEN", "token-from-env")
	t.Setenv("TEST_TG_TOKEN", "tg-from-env")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "wss://demo.ctraderapi.com:5036", cfg.Venue.WSUrl)
	// Плейсхолдеры ${ENV} подставляются из окружения.
	assert.Equal(t, "client-from-env", cfg.Venue.ClientID)
	assert.Equal(t, "secret-inline", cfg.Venue.ClientSecret)
	assert.Equal(t, "token-from-env", cfg.Venue.AccessToken)
	assert.Equal(t, 7*time.Second, cfg.Venue.RequestTimeout)
	// Незаданный таймаут берётся из значений по умолчанию.
	assert.Equal(t, 10*time.Second, cfg.Venue.AuthTimeout)

	assert.Equal(t, "tg-from-env", cfg.Telegram.Token)
	assert.Equal(t, int64(42), cfg.Telegram.ChatID)
	assert.Equal(t, 25, cfg.Telegram.PollTimeout)

	assert.Equal(t, "straddle.db", cfg.Storage.DBFile)
	assert.Equal(t, "debug", cfg.Runtime.Log.Level)

	// Имена символов нормализуются в верхний регистр.
	sym, ok := cfg.Symbols["EURUSD"]
	require.True(t, ok)
	assert.True(t, sym.Enabled)
	assert.Equal(t, int64(100), sym.StopLossTicks)
	assert.Equal(t, int64(50), sym.TrailingStopTicks)
	assert.InDelta(t, 0.1, sym.Volume, 1e-9)
}
