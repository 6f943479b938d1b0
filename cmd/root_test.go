package cmd

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urun4m0r1/AIGF/aigf"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func assertLogLevel(t testing.TB, expected slog.Level, v *slog.LevelVar) {
	t.Helper()
	require.NotNil(t, v)
	assert.Equal(t, expected, v.Level())
}

func TestLoadConfigFromEnvFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	originalCfg := cfg
	cfg = aigf.DefaultConfig()
	t.Cleanup(func() { cfg = originalCfg })

	envFile := filepath.Join(t.TempDir(), "test.env")

	envContent := `
# General/database config

AIGF_DATABASE=/home/foo/aigf.sqlite3
AIGF_DATABASE_TYPE=sqlite
AIGF_DATABASE_LOG_LEVEL=INFO
AIGF_DATABASE_SLOW_THRESHOLD=250ms
AIGF_LOG_LEVEL=DEBUG
AIGF_STARTUP_TIMEOUT=20s
AIGF_SHUTDOWN_TIMEOUT=40s
AIGF_CONSOLE=false
AIGF_TEMPERATURES="로봇=0,보통=0.8,창의적=1.2"

# Sessions

AIGF_CACHE_BACKEND=database
AIGF_CACHE_DIR=/var/lib/aigf/cache
AIGF_TEMPLATE_DEFAULT_PROMPT_PATH=/etc/aigf/prompt.txt
AIGF_TEMPLATE_PROMPT_MODEL_PATH=/etc/aigf/prompt.yaml
AIGF_TEMPLATE_CONVERSATION_MODEL_PATH=/etc/aigf/conversation.yaml

# OpenAI config

AIGF_OPENAI_TOKEN=your-openai-token
AIGF_OPENAI_ORGANIZATION=org-foo
AIGF_OPENAI_BASE_URL=https://llm.example.com/v1
AIGF_OPENAI_LOG_LEVEL=WARN
AIGF_OPENAI_MAX_REQUESTS_PER_SECOND=2.5

# Discord bot config

AIGF_DISCORD_TOKEN=your-discord-bot-token
AIGF_DISCORD_APPLICATION_ID=your-discord-bot-app-id
AIGF_DISCORD_GUILD_IDS=111 222
AIGF_DISCORD_GUILD_IDS_FILE=/etc/aigf/guilds.txt
AIGF_DISCORD_LOG_LEVEL=WARN
AIGF_DISCORD_DISCORDGO_LOG_LEVEL=ERROR
AIGF_DISCORD_GATEWAY_INTENTS=3243773
AIGF_DISCORD_CUSTOM_STATUS="/도움말 을 입력하세요"

# API server

AIGF_API_ENABLED=true
AIGF_API_DEVELOPMENT=true
AIGF_API_LISTEN=127.0.0.1:5005
AIGF_API_SSL_CERT=/etc/ssl/cert.pem
AIGF_API_SSL_KEY=/etc/ssl/key.pem
AIGF_API_SSL_TLS_MIN_VERSION=772
AIGF_API_SECRET=your-api-secret
AIGF_API_LOG_LEVEL=DEBUG
AIGF_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5005 https://localhost:5005
AIGF_API_CORS_ALLOW_METHODS=GET POST DELETE
AIGF_API_CORS_ALLOW_CREDENTIALS=false
AIGF_API_CORS_MAX_AGE=1h
AIGF_API_READ_TIMEOUT=6s
AIGF_API_WRITE_TIMEOUT=11s
AIGF_API_SESSION_MAX_AGE=2h
`

	require.NoError(t, os.WriteFile(envFile, []byte(envContent), 0o600))
	t.Cleanup(
		func() {
			for _, key := range envKeys(envContent) {
				_ = os.Unsetenv(key)
			}
		},
	)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/aigf.sqlite3", cfg.Database)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assertLogLevel(t, slog.LevelInfo, cfg.DatabaseLogLevel)
	assert.Equal(t, 250*time.Millisecond, cfg.DatabaseSlowThreshold)
	assertLogLevel(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 20*time.Second, cfg.StartupTimeout)
	assert.Equal(t, 40*time.Second, cfg.ShutdownTimeout)
	assert.False(t, cfg.Console)
	assert.Equal(
		t,
		aigf.TemperatureTable{
			{Style: "로봇", Temperature: 0},
			{Style: "보통", Temperature: 0.8},
			{Style: "창의적", Temperature: 1.2},
		},
		cfg.Temperatures,
	)

	assert.Equal(t, "database", cfg.Cache.Backend)
	assert.Equal(t, "/var/lib/aigf/cache", cfg.Cache.Dir)
	assert.Equal(t, "/etc/aigf/prompt.txt", cfg.Template.DefaultPromptPath)
	assert.Equal(t, "/etc/aigf/prompt.yaml", cfg.Template.PromptModelPath)
	assert.Equal(t, "/etc/aigf/conversation.yaml", cfg.Template.ConversationModelPath)

	assert.Equal(t, "your-openai-token", cfg.OpenAI.Token)
	assert.Equal(t, "org-foo", cfg.OpenAI.Organization)
	assert.Equal(t, "https://llm.example.com/v1", cfg.OpenAI.BaseURL)
	assertLogLevel(t, slog.LevelWarn, cfg.OpenAI.LogLevel)
	assert.InDelta(t, 2.5, cfg.OpenAI.MaxRequestsPerSecond, 0.0001)

	assert.Equal(t, "your-discord-bot-token", cfg.Discord.Token)
	assert.Equal(t, "your-discord-bot-app-id", cfg.Discord.ApplicationID)
	assert.Equal(t, []string{"111", "222"}, cfg.Discord.GuildIDs)
	assert.Equal(t, "/etc/aigf/guilds.txt", cfg.Discord.GuildIDsFile)
	assertLogLevel(t, slog.LevelWarn, cfg.Discord.LogLevel)
	assertLogLevel(t, slog.LevelError, cfg.Discord.DiscordGoLogLevel)
	assert.Equal(t, discordgo.Intent(3243773), cfg.Discord.GatewayIntents)
	assert.Equal(t, "/도움말 을 입력하세요", cfg.Discord.CustomStatus)

	assert.True(t, cfg.API.Enabled)
	assert.True(t, cfg.API.Development)
	assert.Equal(t, "127.0.0.1:5005", cfg.API.Listen)
	assert.Equal(t, "tcp", cfg.API.ListenNetwork)
	assert.Equal(t, "/etc/ssl/cert.pem", cfg.API.SSL.Cert)
	assert.Equal(t, "/etc/ssl/key.pem", cfg.API.SSL.Key)
	assert.Equal(t, uint16(772), cfg.API.SSL.TLSMinVersion)
	assert.Equal(t, "your-api-secret", cfg.API.Secret)
	assertLogLevel(t, slog.LevelDebug, cfg.API.LogLevel)
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5005", "https://localhost:5005"},
		cfg.API.CORS.AllowOrigins,
	)
	assert.Equal(t, []string{"GET", "POST", "DELETE"}, cfg.API.CORS.AllowMethods)
	assert.Equal(t, aigf.DefaultCORSAllowHeaders, cfg.API.CORS.AllowHeaders)
	assert.Equal(t, aigf.DefaultCORSExposeHeaders, cfg.API.CORS.ExposeHeaders)
	assert.False(t, cfg.API.CORS.AllowCredentials)
	assert.Equal(t, time.Hour, cfg.API.CORS.MaxAge)
	assert.Equal(t, 6*time.Second, cfg.API.ReadTimeout)
	assert.Equal(t, aigf.DefaultReadHeaderTimeout, cfg.API.ReadHeaderTimeout)
	assert.Equal(t, 11*time.Second, cfg.API.WriteTimeout)
	assert.Equal(t, aigf.DefaultIdleTimeout, cfg.API.IdleTimeout)
	assert.Equal(t, 2*time.Hour, cfg.API.SessionMaxAge)
}

func TestDecodeHooks(t *testing.T) {
	testCases := []struct {
		name    string
		hook    mapstructure.DecodeHookFuncType
		data    any
		target  any
		want    any
		wantErr bool
	}{
		{
			name:   "level",
			hook:   LevelToStringHookFunc(),
			data:   "WARN",
			target: &slog.LevelVar{},
			want:   slog.LevelWarn,
		},
		{
			name:    "invalid level",
			hook:    LevelToStringHookFunc(),
			data:    "LOUD",
			target:  &slog.LevelVar{},
			wantErr: true,
		},
		{
			name:   "level hook ignores other types",
			hook:   LevelToStringHookFunc(),
			data:   "LOUD",
			target: "",
			want:   "LOUD",
		},
		{
			name:   "temperatures",
			hook:   TemperatureTableHookFunc(),
			data:   "보통=0.7",
			target: aigf.TemperatureTable{},
			want:   aigf.TemperatureTable{{Style: "보통", Temperature: 0.7}},
		},
		{
			name:    "invalid temperatures",
			hook:    TemperatureTableHookFunc(),
			data:    "보통",
			target:  aigf.TemperatureTable{},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				got, err := tc.hook(reflect.TypeOf(tc.data), reflect.TypeOf(tc.target), tc.data)
				if tc.wantErr {
					assert.Error(t, err)
					return
				}
				require.NoError(t, err)
				if lvl, ok := got.(*slog.LevelVar); ok {
					assert.Equal(t, tc.want, lvl.Level())
					return
				}
				assert.Equal(t, tc.want, got)
			},
		)
	}
}

// envKeys returns the variable names set in an env file
func envKeys(content string) []string {
	env, err := godotenv.Unmarshal(content)
	if err != nil {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	return keys
}
