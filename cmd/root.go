package cmd

import (
	"context"
	"fmt"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/urun4m0r1/AIGF/aigf"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
)

var (
	cfg        = aigf.DefaultConfig()
	configFile string
)

// string slices are read from the environment as space-separated values
var stringSliceKeys = []string{
	"discord.guild_ids",
	"api.cors.allow_origins",
	"api.cors.allow_methods",
	"api.cors.allow_headers",
	"api.cors.expose_headers",
}

var rootCmd = &cobra.Command{
	Use:   "aigf [flags]",
	Short: "Discord bot that chats through a text-completion model",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := viper.Unmarshal(cfg, viper.DecodeHook(configDecodeHook())); err != nil {
			log.Fatalln(err)
		}
	},
}

func configDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		LevelToStringHookFunc(),
		TemperatureTableHookFunc(),
	)
}

// LevelToStringHookFunc decodes level names (DEBUG, INFO, WARN, ERROR)
// into *slog.LevelVar fields
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}
		if t.Elem() != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvlVar, err := levelStringToLevelVar(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		return lvlVar, nil
	}
}

// TemperatureTableHookFunc decodes "style=temperature,..." strings into
// an aigf.TemperatureTable
func TemperatureTableHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t != reflect.TypeOf(aigf.TemperatureTable{}) {
			return data, nil
		}
		return aigf.ParseTemperatureTable(data.(string))
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("error loading env file %s: %v", configFile, err)
		}
	}

	viper.SetDefault("database", aigf.DefaultDatabase)
	viper.SetDefault("database_type", aigf.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", aigf.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", aigf.DefaultDatabaseLogLevel.String())
	viper.SetDefault("log_level", aigf.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", aigf.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", aigf.DefaultShutdownTimeout)
	viper.SetDefault("console", aigf.DefaultConsole)
	viper.SetDefault("temperatures", aigf.DefaultTemperatures.String())

	// Session storage and templates
	viper.SetDefault("cache.backend", aigf.DefaultCacheBackend)
	viper.SetDefault("cache.dir", aigf.DefaultCacheDir)
	viper.SetDefault("template.default_prompt_path", "")
	viper.SetDefault("template.prompt_model_path", "")
	viper.SetDefault("template.conversation_model_path", "")

	// OpenAI config
	viper.SetDefault("openai.token", "")
	viper.SetDefault("openai.organization", "")
	viper.SetDefault("openai.base_url", "")
	viper.SetDefault("openai.log_level", aigf.DefaultOpenAILogLevel.String())
	viper.SetDefault("openai.max_requests_per_second", aigf.DefaultOpenAIMaxRequestsPerSecond)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_ids", []string{})
	viper.SetDefault("discord.guild_ids_file", "")
	viper.SetDefault("discord.log_level", aigf.DefaultDiscordLogLevel.String())
	viper.SetDefault("discord.discordgo_log_level", aigf.DefaultDiscordgoLogLevel.String())
	viper.SetDefault("discord.gateway_intents", aigf.DefaultDiscordGatewayIntent)
	viper.SetDefault("discord.custom_status", aigf.DefaultDiscordCustomStatus)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.development", false)
	viper.SetDefault("api.listen", aigf.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.log_level", aigf.DefaultAPILogLevel.String())
	viper.SetDefault("api.session_max_age", aigf.DefaultAPISessionMaxAge)
	viper.SetDefault("api.read_timeout", aigf.DefaultReadTimeout)
	viper.SetDefault("api.read_header_timeout", aigf.DefaultReadHeaderTimeout)
	viper.SetDefault("api.write_timeout", aigf.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", aigf.DefaultIdleTimeout)

	// API: SSL config
	viper.SetDefault("api.ssl.cert", "")
	viper.SetDefault("api.ssl.key", "")
	viper.SetDefault("api.ssl.tls_min_version", aigf.DefaultUITLSMinVersion)

	// API: CORS config
	viper.SetDefault("api.cors.allow_headers", aigf.DefaultCORSAllowHeaders)
	viper.SetDefault("api.cors.allow_methods", aigf.DefaultCORSAllowMethods)
	viper.SetDefault("api.cors.expose_headers", aigf.DefaultCORSExposeHeaders)
	viper.SetDefault("api.cors.allow_origins", []string{})
	viper.SetDefault("api.cors.max_age", aigf.DefaultCORSMaxAge)
	viper.SetDefault("api.cors.allow_credentials", aigf.DefaultAPICORSAllowCredentials)

	envPrefix := os.Getenv(aigf.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = aigf.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	for _, key := range stringSliceKeys {
		viper.Set(key, viper.GetStringSlice(key))
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load configuration from",
	)
}
