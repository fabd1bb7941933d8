package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultStoreDSN, cfg.Store.DSN)
	assert.Equal(t, 10*time.Second, cfg.Bridge.DispatchTimeoutDuration())
	assert.Equal(t, DefaultTopicPrefix, cfg.Bridge.TopicLabelPrefix)
	assert.True(t, cfg.Telegram.DropPendingUpdates)
	assert.Equal(t, 24*time.Hour, cfg.Server.JWTExpiresInDuration())
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[log]
level = "debug"

[discord]
token = "file-token"
user_account = true

[telegram]
bot_token = "123:abc"
topics_chat_id = -100111
operators = [42]

[store]
dsn = "postgres://localhost/crosschat"

[bridge]
dispatch_timeout = "3s"
`)
	t.Setenv(EnvDiscordToken, "env-token")
	t.Setenv(EnvTopicsChat, "-100222")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "env-token", cfg.Discord.Token)
	assert.True(t, cfg.Discord.UserAccount)
	assert.Equal(t, int64(-100222), cfg.Telegram.TopicsChatID)
	assert.Equal(t, "postgres://localhost/crosschat", cfg.Store.DSN)
	assert.Equal(t, 3*time.Second, cfg.Bridge.DispatchTimeoutDuration())
	assert.True(t, cfg.Telegram.IsOperator(42))
	assert.False(t, cfg.Telegram.IsOperator(7))
}

func TestLoadRejectsBadTopicsChatEnv(t *testing.T) {
	t.Setenv(EnvTopicsChat, "not-a-number")
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg := defaults()
	require.Error(t, cfg.Validate())

	cfg.Discord.Token = "d"
	cfg.Telegram.BotToken = "t"
	cfg.Telegram.TopicsChatID = -100
	require.ErrorContains(t, cfg.Validate(), "jwt_secret")

	cfg.Server.JWTSecret = "secret"
	require.NoError(t, cfg.Validate())

	cfg.Log.Format = "xml"
	require.ErrorContains(t, cfg.Validate(), "Format")
}

func TestParseDurationFallback(t *testing.T) {
	t.Parallel()
	assert.Equal(t, time.Minute, BridgeConfig{HealthInterval: "bogus"}.HealthIntervalDuration())
	assert.Equal(t, 10*time.Second, BridgeConfig{DispatchTimeout: "-1s"}.DispatchTimeoutDuration())
}

func TestIsOperatorEmptyListAllowsAll(t *testing.T) {
	t.Parallel()
	assert.True(t, TelegramConfig{}.IsOperator(99))
}
