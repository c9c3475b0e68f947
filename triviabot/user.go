package triviabot

import (
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
)

var (
	columnUserID                = "user_id"
	columnUserLastSeen          = "last_seen"
	columnUserUsername          = "username"
	columnUserGlobalName        = "global_name"
	columnUserIgnored           = "ignored"
	columnUserPriority          = "priority"
	columnUserTotalGames        = "total_games"
	columnUserTotalWins         = "total_wins"
	columnUserTotalScore        = "total_score"
	columnUserCurrentStreak     = "current_streak"
	columnUserBestStreak        = "best_streak"
	columnUserAnsweredRounds    = "answered_rounds"
	columnUserResponseTime      = "total_response_time"
	columnUserPreferredPersona  = "preferred_persona"
	columnUserPreferredCategory = "preferred_category"
	columnUserRoundLimit6h      = "round_limit_6h"
)

// User represents a Discord user known to the bot, along with their
// lifetime trivia record. Aggregates are updated transactionally as each
// round resolves, so derived values (win rate, averages, ratings) can be
// computed without scanning round history.
type User struct {
	ModelUnixTime

	// ID is the Discord user ID ('snowflake' xID)
	ID string `gorm:"primaryKey" json:"id"`

	// Username is the Discord username
	Username string `json:"username" gorm:"index"`

	// GlobalName is the Discord user's global display name
	GlobalName string `json:"global_name" gorm:"index"`

	// LastSeen is the unix milli timestamp of the last interaction
	// received from this user
	LastSeen int64 `json:"last_seen"`

	// Ignored causes the bot to silently discard this user's commands
	Ignored bool `json:"ignored" gorm:"not null;default:false"`

	// Priority causes this user's rounds to be queued ahead of others,
	// and exempts them from the 6-hour round limit
	Priority bool `json:"priority" gorm:"not null;default:false"`

	// TotalGames is the number of resolved rounds (answered, skipped
	// or expired)
	TotalGames int `json:"total_games" gorm:"not null;default:0"`

	// TotalWins is the number of correctly answered rounds
	TotalWins int `json:"total_wins" gorm:"not null;default:0"`

	// TotalScore is the sum of all round scores
	TotalScore float64 `json:"total_score" gorm:"not null;default:0"`

	// CurrentStreak is the number of consecutive correct answers
	CurrentStreak int `json:"current_streak" gorm:"not null;default:0"`

	// BestStreak is the longest run of consecutive correct answers
	BestStreak int `json:"best_streak" gorm:"not null;default:0"`

	// AnsweredRounds is the number of rounds with a recorded response
	// time (skips and timeouts excluded)
	AnsweredRounds int `json:"answered_rounds" gorm:"not null;default:0"`

	// TotalResponseTime is the sum of response times for answered
	// rounds, in seconds
	TotalResponseTime float64 `json:"total_response_time" gorm:"not null;default:0"`

	// PreferredPersona is the host persona used when replying to this user
	PreferredPersona string `json:"preferred_persona"`

	// PreferredCategory, if set, is used when /trivia is invoked without
	// a category option
	PreferredCategory string `json:"preferred_category"`

	// RoundLimit6h limits the number of rounds this user can start in a
	// rolling 6-hour window
	RoundLimit6h int `json:"round_limit_6h" gorm:"column:round_limit_6h"`
}

// NewUser creates a new User from a discordgo.User.
func NewUser(u discordgo.User) *User {
	return &User{
		ID:           u.ID,
		Username:     u.Username,
		GlobalName:   u.GlobalName,
		LastSeen:     time.Now().UTC().UnixMilli(),
		RoundLimit6h: DefaultRoundLimit6h,
	}
}

// userChangedDiscordUsername indicates whether the given discordgo.User
// has a different username/global name than we've recorded.
func (u *User) userChangedDiscordUsername(du discordgo.User) bool {
	return u.Username != du.Username || u.GlobalName != du.GlobalName
}

// DisplayName returns the user's global display name, falling back to
// their username.
func (u *User) DisplayName() string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// WinRate returns the percentage of resolved rounds answered correctly,
// in the range [0, 100].
func (u *User) WinRate() float64 {
	if u.TotalGames == 0 {
		return 0
	}
	return 100 * float64(u.TotalWins) / float64(u.TotalGames)
}

// AvgScore returns the mean score per resolved round.
func (u *User) AvgScore() float64 {
	if u.TotalGames == 0 {
		return 0
	}
	return u.TotalScore / float64(u.TotalGames)
}

// AvgResponseTime returns the mean response time, in seconds, over
// answered rounds.
func (u *User) AvgResponseTime() float64 {
	if u.AnsweredRounds == 0 {
		return 0
	}
	return u.TotalResponseTime / float64(u.AnsweredRounds)
}

// PerformanceRating returns the user's named skill tier.
func (u *User) PerformanceRating() string {
	return performanceRating(u.WinRate(), u.AvgScore())
}

func (u User) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", u.ID),
		slog.String("username", u.Username),
		slog.String("global_name", u.GlobalName),
		slog.Int("total_games", u.TotalGames),
		slog.Int("total_wins", u.TotalWins),
		slog.Int("current_streak", u.CurrentStreak),
		slog.Bool("ignored", u.Ignored),
		slog.Bool("priority", u.Priority),
	)
}
