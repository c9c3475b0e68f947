package triviabot

import (
	"io"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	gin.DefaultWriter = io.Discard

	cfg := DefaultTestConfig(t)
	bot, err := New(cfg)
	require.NoError(t, err)

	assert.NotNil(t, bot.discord)
	assert.NotNil(t, bot.openai)
	assert.NotNil(t, bot.api)
	assert.NotNil(t, bot.requestQueue)
	assert.Same(t, cfg, bot.config)

	require.NoError(t, bot.ValidateConfig())
}

func TestNewInvalidDatabaseType(t *testing.T) {
	gin.DefaultWriter = io.Discard

	cfg := DefaultTestConfig(t)
	cfg.DatabaseType = "oracle"
	_, err := New(cfg)
	require.Error(t, err)
}
