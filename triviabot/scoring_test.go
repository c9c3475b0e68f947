package triviabot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDifficultyMultiplier(t *testing.T) {
	testCases := []struct {
		name       string
		difficulty Difficulty
		expected   float64
	}{
		{"Easy", DifficultyEasy, 1.0},
		{"Medium", DifficultyMedium, 1.5},
		{"Hard", DifficultyHard, 2.0},
		{"Unknown falls back to easy", Difficulty("impossible"), 1.0},
		{"Empty falls back to easy", Difficulty(""), 1.0},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.Equal(t, tc.expected, DifficultyMultiplier(tc.difficulty))
			},
		)
	}
}

func TestRoundScore(t *testing.T) {
	testCases := []struct {
		name         string
		difficulty   Difficulty
		responseTime time.Duration
		expected     float64
	}{
		{"Instant easy answer doubles base", DifficultyEasy, 0, 200},
		{"Easy answer at window boundary", DifficultyEasy, 30 * time.Second, 100},
		{"Easy answer past window clamps", DifficultyEasy, 45 * time.Second, 100},
		{"Negative response time clamps to instant", DifficultyEasy, -5 * time.Second, 200},
		{"Easy answer halfway through window", DifficultyEasy, 15 * time.Second, 150},
		{"Instant hard answer", DifficultyHard, 0, 400},
		{"Hard answer at window boundary", DifficultyHard, 30 * time.Second, 200},
		{"Medium answer halfway through window", DifficultyMedium, 15 * time.Second, 225},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.InDelta(
					t,
					tc.expected,
					RoundScore(tc.difficulty, tc.responseTime),
					0.0001,
				)
			},
		)
	}
}

func TestStreakBonus(t *testing.T) {
	testCases := []struct {
		name     string
		score    float64
		streak   int
		expected float64
	}{
		{"No streak", 100, 0, 100},
		{"Negative streak", 100, -3, 100},
		{"Single win streak", 100, 1, 110},
		{"Five win streak", 100, 5, 150},
		{"Ten win streak hits the cap", 100, 10, 200},
		{"Streak beyond the cap", 100, 25, 200},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.InDelta(t, tc.expected, StreakBonus(tc.score, tc.streak), 0.0001)
			},
		)
	}
}

func TestNormalizedScore(t *testing.T) {
	noGames := &User{}
	assert.Equal(t, float64(0), NormalizedScore(noGames))

	// A user with a perfect record should rank above one with the same
	// average score but a losing record
	strong := &User{TotalGames: 20, TotalWins: 20, TotalScore: 3000}
	weak := &User{TotalGames: 20, TotalWins: 5, TotalScore: 3000}
	assert.Greater(t, NormalizedScore(strong), NormalizedScore(weak))

	// More games at the same accuracy should rank slightly higher
	veteran := &User{TotalGames: 100, TotalWins: 50, TotalScore: 15000}
	rookie := &User{TotalGames: 10, TotalWins: 5, TotalScore: 1500}
	assert.Greater(t, NormalizedScore(veteran), NormalizedScore(rookie))
}

func TestPerformanceRating(t *testing.T) {
	testCases := []struct {
		name     string
		winRate  float64
		avgScore float64
		expected string
	}{
		{"Perfect record", 100, 250, "Grandmaster"},
		{"Strong record", 90, 150, "Master"},
		{"Good record", 70, 130, "Expert"},
		{"Average record", 50, 100, "Adept"},
		{"Weak record", 30, 75, "Apprentice"},
		{"New player", 0, 0, "Novice"},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.Equal(
					t,
					tc.expected,
					performanceRating(tc.winRate, tc.avgScore),
				)
			},
		)
	}
}

func TestCategoryMastery(t *testing.T) {
	assert.Equal(t, float64(0), CategoryMastery(0, 0))

	// One lucky win is heavily discounted
	assert.InDelta(t, 10, CategoryMastery(1, 1), 0.0001)

	// Full confidence at ten or more games
	assert.InDelta(t, 100, CategoryMastery(10, 10), 0.0001)
	assert.InDelta(t, 50, CategoryMastery(10, 20), 0.0001)

	// Confidence never exceeds 1
	assert.InDelta(t, 100, CategoryMastery(50, 50), 0.0001)
}
