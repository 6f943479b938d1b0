package aigf

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestParseTemperatureTable(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		s       string
		want    TemperatureTable
		wantErr bool
	}{
		{
			name: "pairs",
			s:    "로봇=0,보통=0.7,창의적=1.3",
			want: TemperatureTable{
				{Style: "로봇", Temperature: 0},
				{Style: "보통", Temperature: 0.7},
				{Style: "창의적", Temperature: 1.3},
			},
		},
		{
			name: "whitespace and empty entries",
			s:    " 로봇 = 0 ,, 보통=0.7 ,",
			want: TemperatureTable{
				{Style: "로봇", Temperature: 0},
				{Style: "보통", Temperature: 0.7},
			},
		},
		{name: "missing separator", s: "로봇", wantErr: true},
		{name: "not a number", s: "로봇=cold", wantErr: true},
		{name: "empty", s: " , ", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				got, err := ParseTemperatureTable(tc.s)
				if tc.wantErr {
					assert.Error(t, err)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tc.want, got)
			},
		)
	}
}

func TestTemperatureTable(t *testing.T) {
	t.Parallel()
	table := DefaultTemperatures

	temperature, level, ok := table.ByStyle("창의적")
	require.True(t, ok)
	assert.InDelta(t, 1.3, temperature, 0.0001)
	assert.Equal(t, 6, level)

	_, _, ok = table.ByStyle("없음")
	assert.False(t, ok)

	temperature, ok = table.ByLevel(2)
	require.True(t, ok)
	assert.InDelta(t, 0.3, temperature, 0.0001)

	_, ok = table.ByLevel(-1)
	assert.False(t, ok)
	_, ok = table.ByLevel(len(table))
	assert.False(t, ok)

	assert.Equal(
		t,
		[]string{"로봇", "고지식함", "단순함", "명확함", "보통", "융퉁성", "창의적", "헛소리"},
		table.Styles(),
	)

	parsed, err := ParseTemperatureTable(table.String())
	require.NoError(t, err)
	assert.Equal(t, table, parsed)
}

func TestDefaultConfig_Validation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing discord token",
			mutate:  func(cfg *Config) { cfg.Discord.Token = "" },
			wantErr: true,
		},
		{
			name:    "missing openai token",
			mutate:  func(cfg *Config) { cfg.OpenAI.Token = "" },
			wantErr: true,
		},
		{
			name:    "unknown database type",
			mutate:  func(cfg *Config) { cfg.DatabaseType = "mysql" },
			wantErr: true,
		},
		{
			name:    "unknown cache backend",
			mutate:  func(cfg *Config) { cfg.Cache.Backend = "redis" },
			wantErr: true,
		},
		{
			name:    "file backend without a dir",
			mutate:  func(cfg *Config) { cfg.Cache.Dir = "" },
			wantErr: true,
		},
		{
			name: "database backend without a dir",
			mutate: func(cfg *Config) {
				cfg.Cache.Backend = cacheBackendDatabase
				cfg.Cache.Dir = ""
			},
		},
		{
			name:    "empty temperature table",
			mutate:  func(cfg *Config) { cfg.Temperatures = TemperatureTable{} },
			wantErr: true,
		},
		{
			name: "temperature out of range",
			mutate: func(cfg *Config) {
				cfg.Temperatures = TemperatureTable{{Style: "뜨거움", Temperature: 3}}
			},
			wantErr: true,
		},
		{
			name:    "zero request rate",
			mutate:  func(cfg *Config) { cfg.OpenAI.MaxRequestsPerSecond = 0 },
			wantErr: true,
		},
		{
			name:    "invalid base url",
			mutate:  func(cfg *Config) { cfg.OpenAI.BaseURL = "not a url" },
			wantErr: true,
		},
		{
			name: "api disabled without listen address",
			mutate: func(cfg *Config) {
				cfg.API.Enabled = false
				cfg.API.Listen = ""
			},
		},
		{
			name:    "api enabled without listen address",
			mutate:  func(cfg *Config) { cfg.API.Listen = "" },
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				cfg := newTestConfig(t)
				tc.mutate(cfg)
				err := structValidator.Struct(cfg)
				if tc.wantErr {
					assert.Error(t, err)
				} else {
					assert.NoError(t, err)
				}
			},
		)
	}
}

func TestDefaultConfig_Copies(t *testing.T) {
	t.Parallel()
	a := DefaultConfig()
	b := DefaultConfig()

	a.Temperatures[0].Temperature = 2
	a.API.CORS.AllowMethods[0] = "PATCH"
	a.LogLevel.Set(DefaultDatabaseLogLevel)

	assert.InDelta(t, 0, b.Temperatures[0].Temperature, 0.0001)
	assert.InDelta(t, 0, DefaultTemperatures[0].Temperature, 0.0001)
	assert.Equal(t, DefaultCORSAllowMethods[0], b.API.CORS.AllowMethods[0])
	assert.Equal(t, DefaultLogLevel, b.LogLevel.Level())
}
