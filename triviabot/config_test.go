package triviabot

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateDefaultRuntimeConfig(t *testing.T) {
	cfg := DefaultRuntimeConfig()
	cfg.UserRoundLimit6h = 0
	err := structValidator.Struct(cfg)
	require.Error(t, err)
}

func DefaultTestConfig(t testing.TB) *Config {
	tmpdir := t.TempDir()
	cfg := DefaultConfig()
	ids := newCommandData(t)

	cfg.DatabaseType = dbTypeSQLite
	cfg.Database = filepath.Join(tmpdir, fmt.Sprintf("%s.sqlite3", t.Name()))
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 10 * time.Second
	cfg.API.CORS.AllowOrigins = []string{"*"}
	cfg.API.Development = true
	cfg.OpenAI.Token = ids.OpenAIToken
	cfg.Discord.Token = ids.DiscordToken
	cfg.Discord.ApplicationID = ids.DiscordApplicationID
	cfg.RuntimeConfigTTL = 0
	cfg.UserCacheTTL = 0

	certfile := filepath.Join(tmpdir, "cert.pem")
	keyfile := filepath.Join(tmpdir, "key.pem")
	_, err := generateSelfSignedCert(certfile, keyfile)
	require.NoError(t, err)

	cfg.API.SSL = SSLConfig{
		Cert: certfile,
		Key:  keyfile,
	}

	cfg.API.Secret = "aksdfjakjsfdajfefIJHShi sfEISHSIDF HSIHDF"

	logLevel := slog.LevelWarn
	cfg.LogLevel.Set(logLevel)
	cfg.Discord.LogLevel.Set(logLevel)
	cfg.Discord.DiscordGoLogLevel.Set(logLevel)
	cfg.DatabaseLogLevel.Set(logLevel)
	cfg.OpenAI.LogLevel.Set(logLevel)
	cfg.API.LogLevel.Set(logLevel)

	return cfg
}
