//nolint:lll // struct tags can't be split
package aigf

import (
	"crypto/tls"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	EnvvarSetEnvPrefix                = "AIGF_ENV_PREFIX"
	DefaultEnvPrefix                  = "AIGF"
	DefaultDatabaseType               = "sqlite"
	DefaultDatabase                   = "aigf.sqlite3"
	DefaultLogLevel                   = slog.LevelInfo
	DefaultStartupTimeout             = 30 * time.Second
	DefaultShutdownTimeout            = 60 * time.Second
	DefaultOpenAIMaxRequestsPerSecond = 1.0
	DefaultCacheBackend               = cacheBackendFile
	DefaultCacheDir                   = "cache"
	DefaultConsole                    = true

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultDiscordGatewayIntent = discordgo.IntentsGuilds
	DefaultDiscordLogLevel      = slog.LevelWarn
	DefaultDiscordgoLogLevel    = slog.LevelWarn
	DefaultDiscordCustomStatus  = "/도움말"
	DefaultDiscordErrorMessage  = "[오류가 발생했습니다]"
	discordMaxMessageLength     = 2000

	DefaultAPIListen               = "127.0.0.1:5000"
	DefaultAPISessionMaxAge        = 6 * time.Hour
	DefaultAPILogLevel             = slog.LevelInfo
	DefaultAPICORSAllowCredentials = true
	DefaultUITLSMinVersion         = tls.VersionTLS12
	defaultListenNetwork           = "tcp"

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelWarn
	DefaultOpenAILogLevel        = slog.LevelInfo

	cacheBackendFile     = "file"
	cacheBackendDatabase = "database"
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodDelete,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

// DefaultTemperatures maps creativity styles to sampling temperatures. The
// position of each entry is its creativity level.
var DefaultTemperatures = TemperatureTable{
	{Style: "로봇", Temperature: 0.0},
	{Style: "고지식함", Temperature: 0.1},
	{Style: "단순함", Temperature: 0.3},
	{Style: "명확함", Temperature: 0.5},
	{Style: "보통", Temperature: 0.7},
	{Style: "융퉁성", Temperature: 0.9},
	{Style: "창의적", Temperature: 1.3},
	{Style: "헛소리", Temperature: 1.5},
}

type Config struct {
	// Database connection string
	Database string `yaml:"database" mapstructure:"database" json:"database" binding:"required"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// Cache configures where per-channel session records are kept
	Cache *CacheConfig `yaml:"cache" mapstructure:"cache" json:"cache"`

	// Template points at the files used to seed new sessions. Empty paths
	// fall back to the embedded defaults.
	Template *TemplateConfig `yaml:"template" mapstructure:"template" json:"template"`

	// Temperatures is the creativity table. The index of each entry is the
	// creativity level stored with a session.
	Temperatures TemperatureTable `yaml:"temperatures" mapstructure:"temperatures" json:"temperatures" binding:"min=1,dive"`

	// OpenAI holds the configuration for the completion provider
	OpenAI *OpenAIConfig `yaml:"openai" mapstructure:"openai" json:"openai"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// API configures the admin API server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout sets a limit on the amount of time the bot has to
	// load sessions and connect to discord.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After this
	// elapses, the bot will force close all connections and exit.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Console enables the operator console: pressing Enter on stdin stops
	// the bot.
	Console bool `yaml:"console" mapstructure:"console" json:"console"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// CacheConfig selects the session record backend.
type CacheConfig struct {
	// Backend is either 'file' (YAML/JSON files under Dir) or 'database'
	Backend string `yaml:"backend" mapstructure:"backend" json:"backend" binding:"oneof=file database"`

	// Dir is the directory holding session files when Backend is 'file'
	Dir string `yaml:"dir" mapstructure:"dir" json:"dir" binding:"required_if=Backend file"`
}

// TemplateConfig points at the default template files.
type TemplateConfig struct {
	// DefaultPromptPath is a text file with the default prompt. `{0}` and
	// `{1}` are replaced by the user and AI names.
	DefaultPromptPath string `yaml:"default_prompt_path" mapstructure:"default_prompt_path" json:"default_prompt_path"`

	// PromptModelPath is the YAML trait taxonomy
	PromptModelPath string `yaml:"prompt_model_path" mapstructure:"prompt_model_path" json:"prompt_model_path"`

	// ConversationModelPath is the YAML conversation skeleton new sessions
	// are copied from
	ConversationModelPath string `yaml:"conversation_model_path" mapstructure:"conversation_model_path" json:"conversation_model_path"`
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id" binding:"required"`

	// GuildIDs lists the guilds slash commands are registered in.
	// Leave empty for commands to be registered as global.
	GuildIDs []string `yaml:"guild_ids" mapstructure:"guild_ids" json:"guild_ids"`

	// GuildIDsFile is a file with one guild ID per line, added to GuildIDs
	GuildIDsFile string `yaml:"guild_ids_file" mapstructure:"guild_ids_file" json:"guild_ids_file"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	// CustomStatus is shown as the bot's presence while online
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	httpClient *http.Client
}

// OpenAIConfig configures the completion provider.
type OpenAIConfig struct {
	// OpenAI API token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Organization is sent as the OpenAI-Organization header, if set
	Organization string `yaml:"organization" mapstructure:"organization" json:"organization"`

	// BaseURL overrides the API endpoint, for OpenAI-compatible servers
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"omitempty,url"`

	// OpenAI base log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// MaxRequestsPerSecond limits completion requests across all channels
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" binding:"gt=0"`
}

// APIConfig configures the admin API.
type APIConfig struct {
	// Enabled starts the admin API alongside the bot
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Secret used for signing cookies
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]"`

	// Configuration for SSL/TLS. Plain HTTP is served when no cert is set.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"required_if=Enabled true"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required_if=Enabled true"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"required_if=Enabled true"`

	// Max age for session cookies
	SessionMaxAge time.Duration `yaml:"session_max_age" mapstructure:"session_max_age" json:"session_max_age"`

	// Development relaxes cookie and CORS settings, and registers pprof
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	defaultExpose := make([]string, len(DefaultCORSExposeHeaders))
	copy(defaultExpose, DefaultCORSExposeHeaders)

	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		ExposeHeaders:    defaultExpose,
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// TemperatureLevel is a single row of the creativity table.
type TemperatureLevel struct {
	Style       string  `yaml:"style" mapstructure:"style" json:"style" binding:"required"`
	Temperature float32 `yaml:"temperature" mapstructure:"temperature" json:"temperature" binding:"gte=0,lte=2"`
}

// TemperatureTable maps creativity styles (and their positions, the
// creativity level) to sampling temperatures.
type TemperatureTable []TemperatureLevel

// ByStyle returns the temperature and level for the given style.
func (t TemperatureTable) ByStyle(style string) (temperature float32, level int, ok bool) {
	for i, row := range t {
		if row.Style == style {
			return row.Temperature, i, true
		}
	}
	return 0, 0, false
}

// ByLevel returns the temperature at the given creativity level.
func (t TemperatureTable) ByLevel(level int) (float32, bool) {
	if level < 0 || level >= len(t) {
		return 0, false
	}
	return t[level].Temperature, true
}

// Styles returns the style names, in level order.
func (t TemperatureTable) Styles() []string {
	styles := make([]string, 0, len(t))
	for _, row := range t {
		styles = append(styles, row.Style)
	}
	return styles
}

func (t TemperatureTable) String() string {
	rows := make([]string, 0, len(t))
	for _, row := range t {
		rows = append(
			rows,
			fmt.Sprintf("%s=%s", row.Style, strconv.FormatFloat(float64(row.Temperature), 'f', -1, 32)),
		)
	}
	return strings.Join(rows, ",")
}

// ParseTemperatureTable parses a table from its string form, as used in
// environment variables: "style=temperature" pairs separated by commas.
// Ex: "로봇=0,보통=0.7,창의적=1.3"
func ParseTemperatureTable(s string) (TemperatureTable, error) {
	var table TemperatureTable
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		style, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("invalid temperature entry %q (expected style=temperature)", pair)
		}
		temperature, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid temperature for %q: %w", style, err)
		}
		table = append(
			table,
			TemperatureLevel{Style: strings.TrimSpace(style), Temperature: float32(temperature)},
		)
	}
	if len(table) == 0 {
		return nil, fmt.Errorf("empty temperature table: %q", s)
	}
	return table, nil
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	openaiLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	openaiLogLevel.Set(DefaultOpenAILogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	temperatures := make(TemperatureTable, len(DefaultTemperatures))
	copy(temperatures, DefaultTemperatures)

	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Console:               DefaultConsole,
		Temperatures:          temperatures,
		Cache: &CacheConfig{
			Backend: DefaultCacheBackend,
			Dir:     DefaultCacheDir,
		},
		Template: &TemplateConfig{},
		OpenAI: &OpenAIConfig{
			LogLevel:             openaiLogLevel,
			MaxRequestsPerSecond: DefaultOpenAIMaxRequestsPerSecond,
		},
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			CustomStatus:      DefaultDiscordCustomStatus,
		},
		API: &APIConfig{
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			SSL: SSLConfig{
				TLSMinVersion: DefaultUITLSMinVersion,
			},
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			SessionMaxAge:     DefaultAPISessionMaxAge,
			CORS:              DefaultCORSConfig(),
		},
	}
}
