//nolint:lll // struct tags can't be split
package triviabot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"gorm.io/gorm"
)

// Leaderboard orderings accepted by the /leaderboard command.
const (
	LeaderboardTypeScore  = "score"
	LeaderboardTypeWins   = "wins"
	LeaderboardTypeStreak = "streak"

	leaderboardLimit = 10

	// minLeaderboardGames keeps one-lucky-answer accounts off the
	// normalized score board.
	minLeaderboardGames = 3
)

// UserStats accumulates a user's per-category trivia record. The
// all-time totals live on [User]; this table exists so /leaderboard
// and /stats can break results down by category.
type UserStats struct {
	ModelUintID
	ModelUnixTime
	UserID     string  `json:"user_id" gorm:"uniqueIndex:idx_user_category;not null"`
	Category   string  `json:"category" gorm:"uniqueIndex:idx_user_category;not null"`
	Games      int     `json:"games"`
	Wins       int     `json:"wins"`
	TotalScore float64 `json:"total_score"`
	BestStreak int     `json:"best_streak"`
}

func (UserStats) TableName() string {
	return "user_stats"
}

func (s UserStats) WinRate() float64 {
	if s.Games == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Games) * 100
}

func (s UserStats) Mastery() float64 {
	return CategoryMastery(s.Wins, s.Games)
}

func (s UserStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String(columnUserID, s.UserID),
		slog.String("category", s.Category),
		slog.Int("games", s.Games),
		slog.Int("wins", s.Wins),
	)
}

// recordRoundResult folds a finished round into the user's all-time
// aggregates and their per-category record, in a single transaction.
// Only terminal outcomes the user actually played count: answered,
// skipped and expired rounds all increment the games total, but only
// answered rounds contribute to the response-time average.
func (t *TriviaBot) recordRoundResult(
	ctx context.Context,
	user *User,
	r *Round,
	res roundResolution,
) error {
	switch res.state {
	case RoundStateAnswered, RoundStateSkipped, RoundStateExpired:
	//
	default:
		return nil
	}

	user.TotalGames++
	if res.correct {
		user.TotalWins++
		user.TotalScore += r.Score
		user.CurrentStreak++
		if user.CurrentStreak > user.BestStreak {
			user.BestStreak = user.CurrentStreak
		}
	} else {
		user.CurrentStreak = 0
	}
	if res.state == RoundStateAnswered {
		user.AnsweredRounds++
		user.TotalResponseTime += res.responseTime.Seconds()
	}

	return t.writeDB.Transaction(ctx, func(tx *gorm.DB) error {
		if err := tx.Model(user).Updates(
			map[string]any{
				columnUserTotalGames:     user.TotalGames,
				columnUserTotalWins:      user.TotalWins,
				columnUserTotalScore:     user.TotalScore,
				columnUserCurrentStreak:  user.CurrentStreak,
				columnUserBestStreak:     user.BestStreak,
				columnUserAnsweredRounds: user.AnsweredRounds,
				columnUserResponseTime:   user.TotalResponseTime,
			},
		).Error; err != nil {
			return fmt.Errorf("error updating user totals: %w", err)
		}

		stats := UserStats{UserID: user.ID, Category: r.Category}
		err := tx.Where(
			"user_id = ? AND category = ?",
			user.ID,
			r.Category,
		).FirstOrCreate(&stats).Error
		if err != nil {
			return fmt.Errorf("error loading category stats: %w", err)
		}

		stats.Games++
		if res.correct {
			stats.Wins++
			stats.TotalScore += r.Score
			if user.CurrentStreak > stats.BestStreak {
				stats.BestStreak = user.CurrentStreak
			}
		}
		if err = tx.Save(&stats).Error; err != nil {
			return fmt.Errorf("error updating category stats: %w", err)
		}
		return nil
	})
}

// LeaderboardEntry is a single ranked row, ready for display.
type LeaderboardEntry struct {
	Rank        int     `json:"rank"`
	UserID      string  `json:"user_id"`
	DisplayName string  `json:"display_name"`
	Value       float64 `json:"value"`
	Games       int     `json:"games"`
}

// leaderboard ranks users by the requested ordering. Global boards
// rank on the User aggregates; category boards rank on per-category
// mastery from UserStats.
func (t *TriviaBot) leaderboard(
	ctx context.Context,
	boardType string,
	category string,
) ([]LeaderboardEntry, error) {
	if category != "" {
		return t.categoryLeaderboard(ctx, category)
	}

	var users []User
	err := t.db.WithContext(ctx).Where(
		"total_games > 0 AND ignored = ?",
		false,
	).Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("error loading users: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(users))
	for i := range users {
		u := users[i]
		var value float64
		switch boardType {
		case LeaderboardTypeWins:
			value = float64(u.TotalWins)
		case LeaderboardTypeStreak:
			value = float64(u.BestStreak)
		default:
			if u.TotalGames < minLeaderboardGames {
				continue
			}
			value = NormalizedScore(&u)
		}
		entries = append(
			entries,
			LeaderboardEntry{
				UserID:      u.ID,
				DisplayName: u.DisplayName(),
				Value:       value,
				Games:       u.TotalGames,
			},
		)
	}

	sort.SliceStable(
		entries,
		func(i, j int) bool { return entries[i].Value > entries[j].Value },
	)
	if len(entries) > leaderboardLimit {
		entries = entries[:leaderboardLimit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

func (t *TriviaBot) categoryLeaderboard(
	ctx context.Context,
	category string,
) ([]LeaderboardEntry, error) {
	var stats []UserStats
	err := t.db.WithContext(ctx).Where(
		"category = ? AND games > 0",
		category,
	).Find(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("error loading category stats: %w", err)
	}

	entries := make([]LeaderboardEntry, 0, len(stats))
	for _, s := range stats {
		displayName := s.UserID
		if u := t.writeDB.GetUser(s.UserID); u != nil {
			displayName = u.DisplayName()
		}
		entries = append(
			entries,
			LeaderboardEntry{
				UserID:      s.UserID,
				DisplayName: displayName,
				Value:       s.Mastery(),
				Games:       s.Games,
			},
		)
	}

	sort.SliceStable(
		entries,
		func(i, j int) bool { return entries[i].Value > entries[j].Value },
	)
	if len(entries) > leaderboardLimit {
		entries = entries[:leaderboardLimit]
	}
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries, nil
}

// userCategoryStats returns a user's per-category records, best
// category first.
func (t *TriviaBot) userCategoryStats(
	ctx context.Context,
	userID string,
) ([]UserStats, error) {
	var stats []UserStats
	err := t.db.WithContext(ctx).Where(
		"user_id = ? AND games > 0",
		userID,
	).Find(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("error loading category stats: %w", err)
	}
	sort.SliceStable(
		stats,
		func(i, j int) bool { return stats[i].Mastery() > stats[j].Mastery() },
	)
	return stats, nil
}

// statsSummary renders a user's record as a Discord message body.
func statsSummary(u *User, categories []UserStats) string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "**%s** — %s\n", u.DisplayName(), u.PerformanceRating())
	_, _ = fmt.Fprintf(
		&sb,
		"Games: **%d** | Wins: **%d** (%.1f%%)\n",
		u.TotalGames,
		u.TotalWins,
		u.WinRate(),
	)
	_, _ = fmt.Fprintf(
		&sb,
		"Total score: **%.0f** | Avg: **%.1f**\n",
		u.TotalScore,
		u.AvgScore(),
	)
	_, _ = fmt.Fprintf(
		&sb,
		"Streak: **%d** (best: **%d**)",
		u.CurrentStreak,
		u.BestStreak,
	)
	if u.AnsweredRounds > 0 {
		_, _ = fmt.Fprintf(
			&sb,
			" | Avg response: **%.1fs**",
			u.AvgResponseTime(),
		)
	}
	if len(categories) > 0 {
		sb.WriteString("\n\n**Categories**\n")
		for i, s := range categories {
			if i >= 5 {
				break
			}
			_, _ = fmt.Fprintf(
				&sb,
				"%s: %d/%d (%.0f%% mastery)\n",
				titleCase(s.Category),
				s.Wins,
				s.Games,
				s.Mastery(),
			)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// compareUsers builds the head-to-head summary used by /compare and
// as grounding for the AI-written verdict.
func compareUsers(a *User, b *User) string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(
		&sb,
		"**%s** vs **%s**\n",
		a.DisplayName(),
		b.DisplayName(),
	)
	_, _ = fmt.Fprintf(
		&sb,
		"Rating: %s vs %s\n",
		a.PerformanceRating(),
		b.PerformanceRating(),
	)
	_, _ = fmt.Fprintf(
		&sb,
		"Games: %d vs %d | Wins: %d vs %d\n",
		a.TotalGames,
		b.TotalGames,
		a.TotalWins,
		b.TotalWins,
	)
	_, _ = fmt.Fprintf(
		&sb,
		"Win rate: %.1f%% vs %.1f%%\n",
		a.WinRate(),
		b.WinRate(),
	)
	_, _ = fmt.Fprintf(
		&sb,
		"Avg score: %.1f vs %.1f | Best streak: %d vs %d",
		a.AvgScore(),
		b.AvgScore(),
		a.BestStreak,
		b.BestStreak,
	)
	return sb.String()
}

func leaderboardBody(
	boardType string,
	category string,
	entries []LeaderboardEntry,
) string {
	var sb strings.Builder
	switch {
	case category != "":
		_, _ = fmt.Fprintf(
			&sb,
			"**%s mastery leaderboard**\n",
			titleCase(category),
		)
	case boardType == LeaderboardTypeWins:
		sb.WriteString("**Most wins**\n")
	case boardType == LeaderboardTypeStreak:
		sb.WriteString("**Best streaks**\n")
	default:
		sb.WriteString("**Top players**\n")
	}

	if len(entries) == 0 {
		sb.WriteString("Nobody's on the board yet. `/trivia` to claim it!")
		return sb.String()
	}

	for _, e := range entries {
		medal := fmt.Sprintf("%d.", e.Rank)
		switch e.Rank {
		case 1:
			medal = "\U0001F947"
		case 2:
			medal = "\U0001F948"
		case 3:
			medal = "\U0001F949"
		}
		switch {
		case category != "":
			_, _ = fmt.Fprintf(
				&sb,
				"%s **%s** — %.0f%% mastery (%d games)\n",
				medal,
				e.DisplayName,
				e.Value,
				e.Games,
			)
		case boardType == LeaderboardTypeWins || boardType == LeaderboardTypeStreak:
			_, _ = fmt.Fprintf(
				&sb,
				"%s **%s** — %.0f (%d games)\n",
				medal,
				e.DisplayName,
				e.Value,
				e.Games,
			)
		default:
			_, _ = fmt.Fprintf(
				&sb,
				"%s **%s** — %.1f (%d games)\n",
				medal,
				e.DisplayName,
				e.Value,
				e.Games,
			)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
