package triviabot

import (
	"math"
	"time"
)

const (
	// BasePoints is the flat point value of a correct answer before any
	// multipliers are applied.
	BasePoints = 100.0

	// AnswerWindow is how long a user has to answer a question. Answers
	// arriving after the window has elapsed score nothing; the speed
	// bonus decays linearly to zero across it.
	AnswerWindow = 30 * time.Second

	// streakBonusPerLevel is the score bonus granted per consecutive
	// correct answer.
	streakBonusPerLevel = 0.10

	// streakBonusCap limits the total streak bonus to +100%.
	streakBonusCap = 1.0
)

// Difficulty is a question difficulty tier.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

var difficultyMultipliers = map[Difficulty]float64{
	DifficultyEasy:   1.0,
	DifficultyMedium: 1.5,
	DifficultyHard:   2.0,
}

// DifficultyMultiplier returns the score multiplier for a difficulty
// tier. Unknown values are treated as easy.
func DifficultyMultiplier(d Difficulty) float64 {
	if m, ok := difficultyMultipliers[d]; ok {
		return m
	}
	return difficultyMultipliers[DifficultyEasy]
}

// speedMultiplier returns the time-based score multiplier:
//
//	1 + max(0, 30 - response_time_seconds) / 30
//
// An instant answer doubles the base points; an answer at (or beyond)
// the window boundary earns exactly the base points.
func speedMultiplier(responseTime time.Duration) float64 {
	if responseTime < 0 {
		responseTime = 0
	}
	window := AnswerWindow.Seconds()
	remaining := window - responseTime.Seconds()
	if remaining < 0 {
		remaining = 0
	}
	return 1 + remaining/window
}

// RoundScore computes the score for a correct answer given the question
// difficulty and the time taken to answer.
func RoundScore(difficulty Difficulty, responseTime time.Duration) float64 {
	return BasePoints * DifficultyMultiplier(difficulty) * speedMultiplier(responseTime)
}

// StreakBonus scales a round score by the user's streak going into the
// round: +10% per consecutive correct answer, capped at +100%.
func StreakBonus(score float64, streak int) float64 {
	if streak <= 0 {
		return score
	}
	bonus := float64(streak) * streakBonusPerLevel
	if bonus > streakBonusCap {
		bonus = streakBonusCap
	}
	return score * (1 + bonus)
}

// NormalizedScore produces a leaderboard ranking value that rewards
// accuracy and experience rather than raw volume: the user's average
// score, boosted by win rate, with a logarithmic bump for games played.
func NormalizedScore(u *User) float64 {
	if u.TotalGames == 0 {
		return 0
	}
	winRateBoost := 1 + (u.WinRate()/100)*0.5
	experienceBoost := 1 + math.Log(float64(u.TotalGames)+1)/20
	return u.AvgScore() * winRateBoost * experienceBoost
}

// performanceRating maps a blended accuracy/score value to a named tier.
// The blend weighs win rate at 60% and normalized average score at 40%.
func performanceRating(winRate, avgScore float64) string {
	normalizedAvg := avgScore / 200
	if normalizedAvg > 1 {
		normalizedAvg = 1
	}
	rating := winRate*0.6 + normalizedAvg*40

	switch {
	case rating >= 90:
		return "Grandmaster"
	case rating >= 80:
		return "Master"
	case rating >= 65:
		return "Expert"
	case rating >= 50:
		return "Adept"
	case rating >= 30:
		return "Apprentice"
	default:
		return "Novice"
	}
}

// CategoryMastery rates a user's command of a category in [0, 100].
// Win rate is discounted until the user has played at least ten rounds
// in the category, so a single lucky answer doesn't read as mastery.
func CategoryMastery(wins, games int) float64 {
	if games == 0 {
		return 0
	}
	winRate := 100 * float64(wins) / float64(games)
	confidence := float64(games) / 10
	if confidence > 1 {
		confidence = 1
	}
	return winRate * confidence
}
