package triviabot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoundOptions(t *testing.T) {
	ids := newCommandData(t)

	interaction := ids.newTriviaInteraction("science", "hard", "1990s")
	r := NewRound(interaction, NewUser(*interaction.User))

	assert.Equal(t, RoundStateQueued, r.State)
	assert.Equal(t, RoundStepEnqueued, r.Step)
	assert.Equal(t, "science", r.Category)
	assert.Equal(t, DifficultyHard, r.Difficulty)
	assert.Equal(t, "1990s", r.Era)
	assert.NotEmpty(t, r.Subcategory)
	assert.False(t, r.Priority)
}

func TestNewRoundInvalidOptions(t *testing.T) {
	ids := newCommandData(t)

	interaction := ids.newTriviaInteraction(
		"conspiracy theories",
		"impossible",
		"1800s",
	)
	r := NewRound(interaction, NewUser(*interaction.User))

	assert.True(t, validCategory(r.Category))
	assert.Equal(t, DifficultyEasy, r.Difficulty)
	assert.True(t, validEra(r.Era))
}

func TestNewRoundDefaults(t *testing.T) {
	ids := newCommandData(t)

	interaction := ids.newTriviaInteraction("", "", "")
	u := NewUser(*interaction.User)
	u.Priority = true
	r := NewRound(interaction, u)

	assert.True(t, validCategory(r.Category))
	assert.Equal(t, DifficultyEasy, r.Difficulty)
	assert.True(t, validEra(r.Era))
	assert.True(t, r.Priority)
}

func TestNewRoundPreferredCategory(t *testing.T) {
	ids := newCommandData(t)

	interaction := ids.newTriviaInteraction("", "", "")
	u := NewUser(*interaction.User)
	u.PreferredCategory = "history"
	r := NewRound(interaction, u)
	assert.Equal(t, "history", r.Category)

	// An explicit option overrides the preference
	interaction = ids.newTriviaInteraction("music", "", "")
	r = NewRound(interaction, u)
	assert.Equal(t, "music", r.Category)
}

func TestRoundStateIsFinal(t *testing.T) {
	final := []RoundState{
		RoundStateAnswered,
		RoundStateSkipped,
		RoundStateExpired,
		RoundStateFailed,
		RoundStateIgnored,
		RoundStateRateLimited,
		RoundStateAborted,
	}
	for _, state := range final {
		assert.True(t, state.IsFinal(), string(state))
	}

	notFinal := []RoundState{
		RoundStateQueued,
		RoundStateGenerating,
		RoundStateAwaitingAnswer,
		RoundState(""),
	}
	for _, state := range notFinal {
		assert.False(t, state.IsFinal(), string(state))
	}
}

func TestRoundAge(t *testing.T) {
	r := &Round{}
	r.CreatedAt = time.Now().Add(-time.Minute).UnixMilli()
	assert.GreaterOrEqual(t, r.Age(), time.Minute)
}

func TestResolveRound(t *testing.T) {
	bot := statsTestBot(t)
	ctx := context.Background()
	ids := newCommandData(t)

	interaction := ids.newTriviaInteraction("science", "easy", "1990s")
	u, isNew, err := bot.writeDB.GetOrCreateUser(ctx, nil, *interaction.User)
	require.NoError(t, err)
	require.True(t, isNew)

	r := NewRound(interaction, u)
	ids.populateRound(r)
	r.User = u
	r.UserID = u.ID
	r.State = RoundStateAwaitingAnswer
	r.Step = RoundStepAwaitingAnswer

	_, err = bot.writeDB.Create(ctx, r)
	require.NoError(t, err)

	bot.resolveRound(ctx, r, roundResolution{
		state:        RoundStateAnswered,
		userAnswer:   "B",
		correct:      true,
		responseTime: 15 * time.Second,
	})

	assert.Equal(t, RoundStateAnswered, r.State)
	assert.Equal(t, "B", r.UserAnswer)
	assert.True(t, r.Correct)
	assert.InDelta(t, 150.0, r.Score, 0.01)
	assert.InDelta(t, 15.0, r.ResponseTime, 0.01)
	assert.Equal(t, DefaultPersonaName, r.PersonaUsed)

	assert.Equal(t, 1, u.TotalGames)
	assert.Equal(t, 1, u.TotalWins)
	assert.Equal(t, 1, u.CurrentStreak)
	assert.InDelta(t, 150.0, u.TotalScore, 0.01)

	var saved Round
	require.NoError(
		t,
		bot.db.Take(&saved, "interaction_id = ?", ids.InteractionID).Error,
	)
	assert.Equal(t, RoundStateAnswered, saved.State)
	assert.Equal(t, "B", saved.UserAnswer)
	assert.True(t, saved.Correct)
	assert.InDelta(t, 150.0, saved.Score, 0.01)
	assert.Equal(t, DefaultPersonaName, saved.PersonaUsed)
}

func TestResolveRoundIncorrect(t *testing.T) {
	bot := statsTestBot(t)
	ctx := context.Background()
	ids := newCommandData(t)

	interaction := ids.newTriviaInteraction("science", "easy", "1990s")
	u, _, err := bot.writeDB.GetOrCreateUser(ctx, nil, *interaction.User)
	require.NoError(t, err)
	u.CurrentStreak = 4
	u.BestStreak = 4
	u.PreferredPersona = "stern_professor"

	r := NewRound(interaction, u)
	ids.populateRound(r)
	r.User = u
	r.UserID = u.ID
	r.State = RoundStateAwaitingAnswer

	_, err = bot.writeDB.Create(ctx, r)
	require.NoError(t, err)

	bot.resolveRound(ctx, r, roundResolution{
		state:        RoundStateAnswered,
		userAnswer:   "C",
		correct:      false,
		responseTime: 5 * time.Second,
	})

	assert.Zero(t, r.Score)
	assert.Equal(t, "stern_professor", r.PersonaUsed)
	assert.Equal(t, 0, u.CurrentStreak)
	assert.Equal(t, 4, u.BestStreak)
	assert.Equal(t, 1, u.TotalGames)
	assert.Equal(t, 0, u.TotalWins)
}
