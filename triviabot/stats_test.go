package triviabot

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statsTestBot(t testing.TB) *TriviaBot {
	t.Helper()
	db := gormDB(t)
	return &TriviaBot{
		db:      db,
		writeDB: NewDatabase(db, nil, false),
		logger:  slog.Default(),
	}
}

func TestUserStatsWinRate(t *testing.T) {
	s := UserStats{}
	assert.Equal(t, float64(0), s.WinRate())

	s = UserStats{Games: 8, Wins: 6}
	assert.InDelta(t, 75, s.WinRate(), 0.0001)
	assert.InDelta(t, CategoryMastery(6, 8), s.Mastery(), 0.0001)
}

func TestRecordRoundResult(t *testing.T) {
	bot := statsTestBot(t)
	ctx := context.Background()

	u := &User{ID: "recorder", RoundLimit6h: DefaultRoundLimit6h}
	require.NoError(t, bot.db.Create(u).Error)

	r := &Round{
		Category:   "science",
		Difficulty: DifficultyEasy,
		Score:      150,
		Interaction: Interaction{
			InteractionID: t.Name(),
			UserID:        u.ID,
			User:          u,
		},
	}
	require.NoError(t, bot.db.Create(r).Error)

	res := roundResolution{
		state:        RoundStateAnswered,
		userAnswer:   "B",
		correct:      true,
		responseTime: 10 * time.Second,
	}
	require.NoError(t, bot.recordRoundResult(ctx, u, r, res))

	assert.Equal(t, 1, u.TotalGames)
	assert.Equal(t, 1, u.TotalWins)
	assert.Equal(t, 1, u.CurrentStreak)
	assert.Equal(t, 1, u.BestStreak)
	assert.InDelta(t, 150, u.TotalScore, 0.0001)
	assert.Equal(t, 1, u.AnsweredRounds)
	assert.InDelta(t, 10, u.TotalResponseTime, 0.0001)

	var saved User
	require.NoError(t, bot.db.Where("id = ?", u.ID).Last(&saved).Error)
	assert.Equal(t, 1, saved.TotalGames)
	assert.Equal(t, 1, saved.TotalWins)

	var stats UserStats
	require.NoError(
		t,
		bot.db.Where(
			"user_id = ? AND category = ?", u.ID, "science",
		).Take(&stats).Error,
	)
	assert.Equal(t, 1, stats.Games)
	assert.Equal(t, 1, stats.Wins)
	assert.InDelta(t, 150, stats.TotalScore, 0.0001)
	assert.Equal(t, 1, stats.BestStreak)

	// a wrong answer resets the streak and counts a game
	wrong := roundResolution{
		state:        RoundStateAnswered,
		userAnswer:   "A",
		correct:      false,
		responseTime: 5 * time.Second,
	}
	require.NoError(t, bot.recordRoundResult(ctx, u, r, wrong))
	assert.Equal(t, 2, u.TotalGames)
	assert.Equal(t, 1, u.TotalWins)
	assert.Equal(t, 0, u.CurrentStreak)
	assert.Equal(t, 1, u.BestStreak)
	assert.Equal(t, 2, u.AnsweredRounds)

	// a skip counts a game but not an answered round
	skip := roundResolution{state: RoundStateSkipped}
	require.NoError(t, bot.recordRoundResult(ctx, u, r, skip))
	assert.Equal(t, 3, u.TotalGames)
	assert.Equal(t, 2, u.AnsweredRounds)

	// non-terminal outcomes are ignored
	require.NoError(
		t,
		bot.recordRoundResult(ctx, u, r, roundResolution{state: RoundStateFailed}),
	)
	assert.Equal(t, 3, u.TotalGames)
}

func TestLeaderboard(t *testing.T) {
	bot := statsTestBot(t)
	ctx := context.Background()

	users := []*User{
		{
			ID:         "ace",
			Username:   "ace",
			TotalGames: 20,
			TotalWins:  18,
			TotalScore: 4000,
			BestStreak: 8,
		},
		{
			ID:         "mid",
			Username:   "mid",
			TotalGames: 20,
			TotalWins:  10,
			TotalScore: 2200,
			BestStreak: 3,
		},
		{
			ID:         "newbie",
			Username:   "newbie",
			TotalGames: 1,
			TotalWins:  1,
			TotalScore: 400,
			BestStreak: 1,
		},
		{
			ID:         "blocked",
			Username:   "blocked",
			Ignored:    true,
			TotalGames: 50,
			TotalWins:  50,
			TotalScore: 20000,
			BestStreak: 50,
		},
	}
	require.NoError(t, bot.db.Create(&users).Error)

	entries, err := bot.leaderboard(ctx, LeaderboardTypeScore, "")
	require.NoError(t, err)
	// newbie is under the minimum game count, blocked is ignored
	require.Len(t, entries, 2)
	assert.Equal(t, "ace", entries[0].UserID)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "mid", entries[1].UserID)
	assert.Equal(t, 2, entries[1].Rank)

	entries, err = bot.leaderboard(ctx, LeaderboardTypeWins, "")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "ace", entries[0].UserID)
	assert.Equal(t, float64(18), entries[0].Value)

	entries, err = bot.leaderboard(ctx, LeaderboardTypeStreak, "")
	require.NoError(t, err)
	assert.Equal(t, float64(8), entries[0].Value)
}

func TestLeaderboard_Truncation(t *testing.T) {
	bot := statsTestBot(t)
	ctx := context.Background()

	users := make([]*User, 0, 15)
	for i := 0; i < 15; i++ {
		users = append(
			users, &User{
				ID:         fmt.Sprintf("user%02d", i),
				TotalGames: 10,
				TotalWins:  i,
				TotalScore: float64(100 * i),
			},
		)
	}
	require.NoError(t, bot.db.Create(&users).Error)

	entries, err := bot.leaderboard(ctx, LeaderboardTypeWins, "")
	require.NoError(t, err)
	assert.Len(t, entries, leaderboardLimit)
	assert.Equal(t, "user14", entries[0].UserID)
}

func TestCategoryLeaderboard(t *testing.T) {
	bot := statsTestBot(t)
	ctx := context.Background()

	stats := []*UserStats{
		{UserID: "a", Category: "history", Games: 10, Wins: 9},
		{UserID: "b", Category: "history", Games: 10, Wins: 4},
		{UserID: "c", Category: "science", Games: 10, Wins: 10},
	}
	require.NoError(t, bot.db.Create(&stats).Error)

	entries, err := bot.leaderboard(ctx, LeaderboardTypeScore, "history")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].UserID)
	assert.InDelta(t, 90, entries[0].Value, 0.0001)
}

func TestUserCategoryStats(t *testing.T) {
	bot := statsTestBot(t)
	ctx := context.Background()

	stats := []*UserStats{
		{UserID: "u", Category: "history", Games: 10, Wins: 3},
		{UserID: "u", Category: "science", Games: 10, Wins: 9},
		{UserID: "u", Category: "music", Games: 0, Wins: 0},
		{UserID: "other", Category: "science", Games: 10, Wins: 10},
	}
	require.NoError(t, bot.db.Create(&stats).Error)

	result, err := bot.userCategoryStats(ctx, "u")
	require.NoError(t, err)
	// zero-game categories are excluded; best category first
	require.Len(t, result, 2)
	assert.Equal(t, "science", result[0].Category)
	assert.Equal(t, "history", result[1].Category)
}

func TestStatsSummary(t *testing.T) {
	u := &User{
		Username:          "player",
		GlobalName:        "Player One",
		TotalGames:        12,
		TotalWins:         9,
		TotalScore:        1800,
		CurrentStreak:     2,
		BestStreak:        5,
		AnsweredRounds:    10,
		TotalResponseTime: 80,
	}
	categories := []UserStats{
		{Category: "science", Games: 6, Wins: 5},
		{Category: "history", Games: 6, Wins: 4},
	}

	body := statsSummary(u, categories)
	assert.Contains(t, body, "Player One")
	assert.Contains(t, body, "Games: **12**")
	assert.Contains(t, body, "Wins: **9** (75.0%)")
	assert.Contains(t, body, "best: **5**")
	assert.Contains(t, body, "Avg response: **8.0s**")
	assert.Contains(t, body, "Science")
	assert.Contains(t, body, "History")
}

func TestCompareUsers(t *testing.T) {
	a := &User{Username: "alpha", TotalGames: 10, TotalWins: 8, TotalScore: 2000, BestStreak: 4}
	b := &User{Username: "beta", TotalGames: 20, TotalWins: 5, TotalScore: 1500, BestStreak: 2}

	body := compareUsers(a, b)
	assert.Contains(t, body, "**alpha** vs **beta**")
	assert.Contains(t, body, "Games: 10 vs 20")
	assert.Contains(t, body, "Wins: 8 vs 5")
	assert.Contains(t, body, "80.0% vs 25.0%")
}

func TestLeaderboardBody(t *testing.T) {
	entries := []LeaderboardEntry{
		{Rank: 1, DisplayName: "first", Value: 300, Games: 30},
		{Rank: 2, DisplayName: "second", Value: 200, Games: 20},
		{Rank: 3, DisplayName: "third", Value: 100, Games: 10},
		{Rank: 4, DisplayName: "fourth", Value: 50, Games: 5},
	}

	body := leaderboardBody(LeaderboardTypeScore, "", entries)
	assert.Contains(t, body, "**Top players**")
	assert.Contains(t, body, "\U0001F947 **first**")
	assert.Contains(t, body, "\U0001F948 **second**")
	assert.Contains(t, body, "\U0001F949 **third**")
	assert.Contains(t, body, "4. **fourth**")

	body = leaderboardBody(LeaderboardTypeWins, "", entries)
	assert.Contains(t, body, "**Most wins**")

	body = leaderboardBody(LeaderboardTypeScore, "science", entries)
	assert.Contains(t, body, "**Science mastery leaderboard**")
	assert.Contains(t, body, "mastery (30 games)")

	body = leaderboardBody(LeaderboardTypeScore, "", nil)
	assert.Contains(t, body, "Nobody's on the board yet")
}
