package triviabot

import (
	"context"
	"log/slog"
	"reflect"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/go-playground/validator/v10"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

var (
	columnRuntimeConfigAdminUsername = "admin_username"
	columnRuntimeConfigAdminPassword = "admin_password"

	columnRuntimeConfigUserRoundLimit6h = "user_round_limit_6h"
	columnRuntimeConfigDefaultPersona   = "default_persona"
	columnRuntimeConfigPaused           = "paused"
)

// CommandOptions are per-interaction behavior settings, embedded in
// [RuntimeConfig] and snapshotted onto each handler so an in-flight
// command keeps a consistent view even if the config changes under it.
//
//nolint:lll // struct tags can't be split
type CommandOptions struct {
	// RecoverPanic, if enabled, recovers and logs panics in
	// command handlers rather than crashing the bot.
	RecoverPanic bool `json:"recover_panic" gorm:"not null;default:false"`

	// DiscordErrorMessage is shown to users when a command fails.
	DiscordErrorMessage string `json:"discord_error_message" gorm:"type:string" binding:"omitempty,min=1,max=100"`

	// DiscordRateLimitMessage is shown to users who already have a
	// question in flight, or who hit their 6-hour round limit.
	DiscordRateLimitMessage string `json:"discord_rate_limit_message" gorm:"type:string" binding:"omitempty,min=1,max=100"`

	// DiscordNotificationChannelID, if set, receives bot lifecycle
	// announcements (startup, new users seen).
	DiscordNotificationChannelID string `json:"discord_notification_channel_id" gorm:"type:string"`
}

// RuntimeConfig is the bot's live configuration. It stores settings
// that can be modified at runtime via the admin API and persisted
// across restarts (e.g. being paused). Exactly one row exists.
//
//nolint:lll // struct tags can't be split
type RuntimeConfig struct {
	ModelUintID
	ModelUnixTime
	CommandOptions

	// Paused indicates whether the bot is currently paused. While
	// paused, new /trivia rounds are refused.
	Paused bool `json:"paused" gorm:"not null;default:false"`

	// DiscordCustomStatus is the custom status message displayed for the bot on Discord.
	DiscordCustomStatus string `json:"discord_custom_status" gorm:"type:string"`

	// DefaultPersona is assigned to new users, and used as the
	// fallback when a user's preferred persona no longer exists.
	DefaultPersona string `json:"default_persona" gorm:"column:default_persona;type:string" binding:"omitempty,min=1,max=32"`

	// TriviaCommandDescription is the description for the 'trivia' command.
	TriviaCommandDescription string `json:"trivia_command_description" gorm:"default:Start a trivia round!" binding:"min=1,max=100"`

	// UserRoundLimit6h limits the number of trivia rounds per user per
	// 6-hour window.
	UserRoundLimit6h int `gorm:"column:user_round_limit_6h;check:user_round_limit_6h > 0" json:"user_round_limit_6h" binding:"min=1"`

	// OpenAIModel is the chat completion model used for question
	// generation and persona replies.
	OpenAIModel string `json:"openai_model" gorm:"type:string" binding:"omitempty,min=1"`

	// OpenAITemperature is the sampling temperature for completions.
	OpenAITemperature float32 `json:"openai_temperature" gorm:"default:0.8" binding:"min=0,max=2"`

	// OpenAIMaxCompletionTokens caps the completion size per request.
	OpenAIMaxCompletionTokens int `json:"openai_max_completion_tokens" gorm:"default:600" binding:"omitnil,min=0"`

	// OpenAIMaxRequestsPerSecond is the rate limit on OpenAI chat
	// completion requests.
	OpenAIMaxRequestsPerSecond int `gorm:"column:openai_max_requests_per_second;default:1" json:"openai_max_requests_per_second" binding:"min=1"`

	// AdminUsername for the web UI
	AdminUsername string `json:"admin_username" gorm:"type:string" log:"[redacted]"`

	// AdminPassword stores the hashed password for the admin user
	AdminPassword string `json:"admin_password" gorm:"type:string" log:"[redacted]"`

	// LogLevel is the general logging level for the application.
	LogLevel DBLogLevel `gorm:"default:INFO;type:string;check:log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// OpenAILogLevel is the logging level for OpenAI-related operations.
	OpenAILogLevel DBLogLevel `gorm:"default:INFO;column:openai_log_level;type:string;check:openai_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"openai_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// DiscordLogLevel is the logging level for Discord-related operations.
	DiscordLogLevel DBLogLevel `gorm:"default:INFO;type:string;check:discord_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discord_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// DiscordGoLogLevel is the logging level for the DiscordGo library.
	DiscordGoLogLevel DBLogLevel `gorm:"default:INFO;column:discordgo_log_level;type:string;check:discordgo_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"discordgo_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// DatabaseLogLevel is the logging level for database operations.
	DatabaseLogLevel DBLogLevel `gorm:"default:INFO;type:string;check:database_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"database_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`

	// APILogLevel is the logging level for API operations.
	APILogLevel DBLogLevel `gorm:"default:INFO;type:string;check:api_log_level in ('INFO', 'WARN', 'ERROR', 'DEBUG')" json:"api_log_level" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

func (RuntimeConfig) TableName() string {
	return "config"
}

func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		CommandOptions: CommandOptions{
			RecoverPanic:            false,
			DiscordErrorMessage:     DefaultDiscordErrorMessage,
			DiscordRateLimitMessage: DefaultDiscordRateLimitMessage,
		},
		DiscordCustomStatus:        DefaultDiscordCustomStatus,
		DefaultPersona:             DefaultPersonaName,
		TriviaCommandDescription:   DefaultTriviaCommandDescription,
		UserRoundLimit6h:           DefaultRoundLimit6h,
		OpenAIModel:                DefaultOpenAIModel,
		OpenAITemperature:          DefaultOpenAITemperature,
		OpenAIMaxCompletionTokens:  DefaultOpenAIMaxCompletionTokens,
		OpenAIMaxRequestsPerSecond: DefaultOpenAIMaxRequestsPerSecond,
		LogLevel:                   DBLogLevel(slog.LevelInfo.String()),
		OpenAILogLevel:             DBLogLevel(slog.LevelInfo.String()),
		DiscordLogLevel:            DBLogLevel(slog.LevelInfo.String()),
		DiscordGoLogLevel:          DBLogLevel(slog.LevelInfo.String()),
		DatabaseLogLevel:           DBLogLevel(slog.LevelInfo.String()),
		APILogLevel:                DBLogLevel(slog.LevelInfo.String()),
	}
}

// runtimeConfigValueChanged reports whether updateVal is a non-nil
// pointer whose dereferenced value differs from currentVal. Used to
// decide which User columns a "global" config update should touch.
func runtimeConfigValueChanged(currentVal, updateVal any) bool {
	newValRef := reflect.ValueOf(updateVal)
	if newValRef.Kind() != reflect.Ptr {
		return false
	}

	if newValRef.IsNil() {
		return false
	}

	return !reflect.DeepEqual(currentVal, newValRef.Elem().Interface())
}

// updateUsersFromRuntimeConfig propagates changed global defaults to
// User records, but only for users whose current value still matches
// the old global default. Users who picked their own persona or were
// given a custom round limit keep their settings.
func updateUsersFromRuntimeConfig(
	ctx context.Context,
	db DBI,
	update RuntimeConfigUpdate,
	currentConfig *RuntimeConfig,
) error {
	log, ok := ContextLogger(ctx)
	if !ok || log == nil {
		log = slog.Default()
	}

	isNilPointer := func(v any) bool {
		if v == nil {
			return true
		}

		val := reflect.ValueOf(v)
		if val.Kind() == reflect.Ptr {
			return val.IsNil()
		}

		return false
	}

	return db.Transaction(
		ctx,
		func(tx *gorm.DB) error {
			updateField := func(
				updateVal any,
				currentVal any,
				userColumn string,
			) error {
				if isNilPointer(updateVal) {
					return nil
				}
				if !runtimeConfigValueChanged(currentVal, updateVal) {
					return nil
				}
				log.InfoContext(
					ctx,
					"globally updating user field",
					"field", userColumn,
					"current", currentVal,
					"new", updateVal,
				)
				if err := tx.Model(&User{}).Where(
					userColumn+" = ?",
					currentVal,
				).Update(userColumn, updateVal).Error; err != nil {
					log.Error(
						"error updating user records",
						tint.Err(err),
						"field", userColumn,
					)
					return err
				}
				return nil
			}

			if err := updateField(
				update.UserRoundLimit6h,
				currentConfig.UserRoundLimit6h,
				columnUserRoundLimit6h,
			); err != nil {
				return err
			}
			if err := updateField(
				update.DefaultPersona,
				currentConfig.DefaultPersona,
				columnUserPreferredPersona,
			); err != nil {
				return err
			}
			return nil
		},
	)
}

// RuntimeConfigUpdate is the PATCH payload for [RuntimeConfig]. Nil
// fields are left unchanged.
//
//nolint:lll // can't break tags
type RuntimeConfigUpdate struct {
	Paused       *bool `json:"paused,omitempty"`
	RecoverPanic *bool `json:"recover_panic,omitempty"`

	DiscordCustomStatus          *string `json:"discord_custom_status,omitempty"`
	DiscordRateLimitMessage      *string `json:"discord_rate_limit_message,omitempty"`
	DiscordErrorMessage          *string `json:"discord_error_message,omitempty"`
	DiscordNotificationChannelID *string `json:"discord_notification_channel_id,omitempty"`

	DefaultPersona           *string `json:"default_persona,omitempty" binding:"omitnil,min=1,max=32"`
	TriviaCommandDescription *string `json:"trivia_command_description,omitempty" binding:"omitnil,min=1,max=100"`
	UserRoundLimit6h         *int    `json:"user_round_limit_6h,omitempty" binding:"omitnil,min=1"`

	OpenAIModel                *string  `json:"openai_model,omitempty" binding:"omitnil,min=1"`
	OpenAITemperature          *float32 `json:"openai_temperature,omitempty" binding:"omitnil,min=0,max=2"`
	OpenAIMaxCompletionTokens  *int     `json:"openai_max_completion_tokens,omitempty" binding:"omitnil,min=0"`
	OpenAIMaxRequestsPerSecond *int     `json:"openai_max_requests_per_second,omitempty" binding:"omitnil,min=1,max=30000"`

	LogLevel          *DBLogLevel `json:"log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	OpenAILogLevel    *DBLogLevel `json:"openai_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordLogLevel   *DBLogLevel `json:"discord_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DiscordGoLogLevel *DBLogLevel `json:"discordgo_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	DatabaseLogLevel  *DBLogLevel `json:"database_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
	APILogLevel       *DBLogLevel `json:"api_log_level,omitempty" binding:"omitnil,oneof=INFO WARN ERROR DEBUG"`
}

// validateRuntimeUpdatePersona rejects config updates naming an
// unknown persona.
func validateRuntimeUpdatePersona(sl validator.StructLevel) {
	value := sl.Current().Interface().(RuntimeConfigUpdate)
	if value.DefaultPersona != nil && !validPersona(*value.DefaultPersona) {
		sl.ReportError(
			value.DefaultPersona,
			columnRuntimeConfigDefaultPersona,
			"DefaultPersona",
			"persona",
			strings.Join(personaNames(), " "),
		)
	}
}

func (b RuntimeConfigUpdate) validate() error {
	return structValidator.Struct(b)
}

func getDiscordPresenceStatusUpdate(config RuntimeConfig) discordgo.GatewayStatusUpdate {
	if config.Paused {
		return discordgo.GatewayStatusUpdate{
			AFK:    true,
			Status: string(discordgo.StatusDoNotDisturb),
		}
	}
	return discordgo.GatewayStatusUpdate{Status: config.DiscordCustomStatus}
}
