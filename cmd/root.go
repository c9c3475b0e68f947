package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/davidpm1021/TriviaBot/triviabot"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = triviabot.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "triviabot [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

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

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
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
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
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
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", triviabot.DefaultDatabase)
	viper.SetDefault("database_type", triviabot.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		triviabot.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		triviabot.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("runtime_config_ttl", triviabot.DefaultRuntimeConfigTTL)
	viper.SetDefault("user_cache_ttl", triviabot.DefaultUserCacheTTL)

	viper.SetDefault("log_level", triviabot.DefaultLogLevel.String())
	viper.SetDefault("api.log_level", triviabot.DefaultAPILogLevel.String())

	viper.SetDefault("startup_timeout", triviabot.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", triviabot.DefaultShutdownTimeout)

	viper.SetDefault("default_persona", triviabot.DefaultPersonaName)

	viper.SetDefault("queue.max_age", triviabot.DefaultQueueMaxAge)
	viper.SetDefault("queue.size", triviabot.DefaultQueueSize)
	viper.SetDefault(
		"queue.sleep_paused",
		triviabot.DefaultQueueSleepPaused,
	)
	viper.SetDefault(
		"queue.sleep_empty",
		triviabot.DefaultQueueSleepEmpty,
	)

	// OpenAI config
	viper.SetDefault("openai.log_level", triviabot.DefaultOpenAILogLevel.String())
	viper.SetDefault("openai.token", "")

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.owner_id", "")
	viper.SetDefault(
		"discord.log_level",
		triviabot.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		triviabot.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		triviabot.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault("discord.startup_message", triviabot.DefaultDiscordStartupMessage)

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	// API config
	viper.SetDefault("api.listen", triviabot.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")
	viper.SetDefault("api.development", false)

	viper.SetDefault(
		"api.session_max_age",
		triviabot.DefaultAPISessionMaxAge,
	)
	viper.SetDefault("api.read_timeout", triviabot.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		triviabot.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", triviabot.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", triviabot.DefaultIdleTimeout)

	// API: SSL config
	fatalErr(viper.BindEnv("api.ssl.cert"))
	fatalErr(viper.BindEnv("api.ssl.key"))
	fatalErr(viper.BindEnv("api.ssl.tls_min_version"))

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		triviabot.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		triviabot.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.expose_headers",
		triviabot.DefaultCORSExposeHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_origins",
		[]string{},
	)
	viper.SetDefault("api.cors.max_age", triviabot.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		triviabot.DefaultAPICORSAllowCredentials,
	)

	envPrefix := os.Getenv(triviabot.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = triviabot.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)
	viper.Set(
		"api.cors.expose_headers",
		viper.GetStringSlice("api.cors.expose_headers"),
	)

	applyWellKnownEnv()

	for _, key := range []string{
		"log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"openai.log_level",
		"database_log_level",
		"api.log_level",
	} {
		// already converted on a previous run
		if _, ok := viper.Get(key).(*slog.LevelVar); ok {
			continue
		}
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

// applyWellKnownEnv maps un-prefixed environment variables commonly used
// by bot hosting platforms onto the viper config keys. These take effect
// only when set, and win over the prefixed equivalents.
//
//   - DISCORD_TOKEN: the Discord bot token
//   - OPENAI_API_KEY: the OpenAI API key
//   - DATABASE_URL: a sqlite path, or a postgres:// connection string
//     (which also switches database_type to postgres)
//   - DEFAULT_PERSONA: the initial default host persona
//   - DEBUG_MODE: enables debug logging and development mode
//   - HOST / PORT: the API listen address
func applyWellKnownEnv() {
	if token := os.Getenv("DISCORD_TOKEN"); token != "" {
		viper.Set("discord.token", token)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		viper.Set("openai.token", key)
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database", dbURL)
		if strings.HasPrefix(dbURL, "postgres://") ||
			strings.HasPrefix(dbURL, "postgresql://") {
			viper.Set("database_type", "postgres")
		} else {
			viper.Set("database_type", "sqlite")
		}
	}
	if persona := os.Getenv("DEFAULT_PERSONA"); persona != "" {
		viper.Set("default_persona", persona)
	}
	if debugMode := os.Getenv("DEBUG_MODE"); debugMode != "" {
		switch strings.ToLower(debugMode) {
		case "1", "true", "yes", "on":
			viper.Set("log_level", slog.LevelDebug.String())
			viper.Set("database_log_level", slog.LevelDebug.String())
			viper.Set("api.development", true)
		}
	}

	host := os.Getenv("HOST")
	port := os.Getenv("PORT")
	if host != "" || port != "" {
		if host == "" {
			host = "127.0.0.1"
		}
		if port == "" {
			port = "5000"
		}
		viper.Set("api.listen", fmt.Sprintf("%s:%s", host, port))
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
