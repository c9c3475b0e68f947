package triviabot

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubInteractionHandler implements [InteractionHandler], recording
// sent responses on buffered channels so tests can assert on what a
// command handler sent without a gateway connection.
type stubInteractionHandler struct {
	callRespond  chan *discordgo.InteractionResponse
	callEdit     chan *discordgo.WebhookEdit
	callFollowup chan *discordgo.WebhookParams
	callDelete   chan struct{}

	// onRespond, when set, runs while the initial acknowledgment is
	// being sent - after the active-round lookup, before the claim.
	onRespond func()

	interaction *discordgo.InteractionCreate
	config      CommandOptions
	logger      *slog.Logger
}

func newStubInteractionHandler(
	t testing.TB,
	i *discordgo.InteractionCreate,
) *stubInteractionHandler {
	t.Helper()
	cfg := DefaultRuntimeConfig()
	return &stubInteractionHandler{
		callRespond:  make(chan *discordgo.InteractionResponse, 100),
		callEdit:     make(chan *discordgo.WebhookEdit, 100),
		callFollowup: make(chan *discordgo.WebhookParams, 100),
		callDelete:   make(chan struct{}, 100),
		interaction:  i,
		config:       cfg.CommandOptions,
		logger:       slog.Default(),
	}
}

func (s *stubInteractionHandler) Respond(
	_ context.Context,
	i *discordgo.InteractionResponse,
) error {
	s.callRespond <- i
	if s.onRespond != nil {
		s.onRespond()
	}
	return nil
}

func (s *stubInteractionHandler) GetResponse(
	context.Context,
) (*discordgo.Message, error) {
	return &discordgo.Message{}, nil
}

func (s *stubInteractionHandler) Edit(
	_ context.Context,
	e *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.callEdit <- e
	return &discordgo.Message{}, nil
}

func (s *stubInteractionHandler) Followup(
	_ context.Context,
	params *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	s.callFollowup <- params
	return &discordgo.Message{}, nil
}

func (s *stubInteractionHandler) Delete(
	context.Context,
	...discordgo.RequestOption,
) {
	s.callDelete <- struct{}{}
}

func (s *stubInteractionHandler) GetInteraction() *discordgo.InteractionCreate {
	return s.interaction
}

func (s *stubInteractionHandler) Logger() *slog.Logger { return s.logger }

func (s *stubInteractionHandler) Config() CommandOptions { return s.config }

// receivedCall pops a recorded call, failing the test if the command
// handler never made one.
func receivedCall[T any](t testing.TB, ch chan T) T {
	t.Helper()
	var v T
	select {
	case v = <-ch:
	default:
		t.Fatalf("expected a call, got none")
	}
	return v
}

// commandTestBot returns a bot with enough wired up to exercise
// command handlers directly: a database and a runtime config, but no
// Discord session and no queue worker.
func commandTestBot(t testing.TB) *TriviaBot {
	t.Helper()
	bot := statsTestBot(t)
	bot.runtimeConfig = DefaultTestRuntimeConfig(t)
	return bot
}

// seedAwaitingRound stores a round in the awaiting-answer state, with a
// known question, as runRound leaves it once the answer window opens.
func seedAwaitingRound(
	t testing.TB,
	bot *TriviaBot,
	ids commandData,
) (*User, *Round) {
	t.Helper()
	ctx := context.Background()

	interaction := ids.newTriviaInteraction("science", "easy", "1990s")
	u, _, err := bot.writeDB.GetOrCreateUser(ctx, nil, *interaction.User)
	require.NoError(t, err)

	q := &Question{
		Category:      "science",
		Subcategory:   "biology",
		Difficulty:    DifficultyEasy,
		Era:           "1990s",
		Prompt:        "What does DNA stand for?",
		OptionA:       "Deoxyribonucleic acid",
		OptionB:       "Dinucleic acid",
		OptionC:       "Deoxyribose nucleotide array",
		OptionD:       "Diribonucleic acid",
		CorrectOption: "A",
		Source:        questionSourceFallback,
	}
	_, err = bot.writeDB.Create(ctx, q)
	require.NoError(t, err)

	r := NewRound(interaction, u)
	ids.populateRound(r)
	r.User = u
	r.UserID = u.ID
	r.Question = q
	r.QuestionID = &q.ID
	r.State = RoundStateAwaitingAnswer
	r.Step = RoundStepAwaitingAnswer
	askedAt := time.Now().UTC()
	r.AskedAt = &askedAt

	_, err = bot.writeDB.Create(ctx, r)
	require.NoError(t, err)
	return u, r
}

func TestHandleAnswerCommandCorrect(t *testing.T) {
	bot := commandTestBot(t)
	ctx := context.Background()
	ids := newCommandData(t)

	u, r := seedAwaitingRound(t, bot, ids)

	// lowercase input should be accepted
	handler := newStubInteractionHandler(t, ids.newAnswerInteraction("a"))
	bot.handleAnswerCommand(ctx, handler, u)

	ack := receivedCall(t, handler.callRespond)
	assert.Equal(
		t,
		discordgo.InteractionResponseDeferredChannelMessageWithSource,
		ack.Type,
	)

	var saved Round
	require.NoError(t, bot.db.Take(&saved, "id = ?", r.ID).Error)
	assert.Equal(t, RoundStateAnswered, saved.State)
	assert.Equal(t, "A", saved.UserAnswer)
	assert.True(t, saved.Correct)
	assert.Greater(t, saved.Score, float64(0))
	assert.Equal(t, DefaultPersonaName, saved.PersonaUsed)
	require.NotNil(t, saved.FinishedAt)

	followup := receivedCall(t, handler.callFollowup)
	assert.NotEmpty(t, followup.Content)

	reloaded := bot.writeDB.ReloadUser(u.ID)
	require.NotNil(t, reloaded)
	assert.Equal(t, 1, reloaded.TotalGames)
	assert.Equal(t, 1, reloaded.TotalWins)
	assert.Equal(t, 1, reloaded.CurrentStreak)
}

func TestHandleAnswerCommandIncorrect(t *testing.T) {
	bot := commandTestBot(t)
	ctx := context.Background()
	ids := newCommandData(t)

	u, r := seedAwaitingRound(t, bot, ids)

	handler := newStubInteractionHandler(t, ids.newAnswerInteraction("C"))
	bot.handleAnswerCommand(ctx, handler, u)

	var saved Round
	require.NoError(t, bot.db.Take(&saved, "id = ?", r.ID).Error)
	assert.Equal(t, RoundStateAnswered, saved.State)
	assert.Equal(t, "C", saved.UserAnswer)
	assert.False(t, saved.Correct)
	assert.Zero(t, saved.Score)

	// Wrong answers get the correct answer in the verdict
	followup := receivedCall(t, handler.callFollowup)
	assert.Contains(t, followup.Content, "Deoxyribonucleic acid")

	reloaded := bot.writeDB.ReloadUser(u.ID)
	require.NotNil(t, reloaded)
	assert.Equal(t, 1, reloaded.TotalGames)
	assert.Equal(t, 0, reloaded.TotalWins)
	assert.Equal(t, 0, reloaded.CurrentStreak)
}

func TestHandleAnswerCommandInvalidChoice(t *testing.T) {
	bot := commandTestBot(t)
	ctx := context.Background()
	ids := newCommandData(t)

	u, r := seedAwaitingRound(t, bot, ids)

	handler := newStubInteractionHandler(t, ids.newAnswerInteraction("Z"))
	bot.handleAnswerCommand(ctx, handler, u)

	resp := receivedCall(t, handler.callRespond)
	require.NotNil(t, resp.Data)
	assert.Contains(t, resp.Data.Content, "Pick an answer")
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)

	// The round is untouched
	var saved Round
	require.NoError(t, bot.db.Take(&saved, "id = ?", r.ID).Error)
	assert.Equal(t, RoundStateAwaitingAnswer, saved.State)
}

func TestHandleAnswerCommandNoActiveRound(t *testing.T) {
	bot := commandTestBot(t)
	ctx := context.Background()
	ids := newCommandData(t)

	interaction := ids.newTriviaInteraction("", "", "")
	u, _, err := bot.writeDB.GetOrCreateUser(ctx, nil, *interaction.User)
	require.NoError(t, err)

	handler := newStubInteractionHandler(t, ids.newAnswerInteraction("A"))
	bot.handleAnswerCommand(ctx, handler, u)

	resp := receivedCall(t, handler.callRespond)
	require.NotNil(t, resp.Data)
	assert.Equal(t, msgNoActiveRound, resp.Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
}

func TestHandleAnswerCommandJustExpired(t *testing.T) {
	bot := commandTestBot(t)
	ctx := context.Background()
	ids := newCommandData(t)

	u, r := seedAwaitingRound(t, bot, ids)
	bot.expireRound(r)

	// The window just closed: a late /answer should say so rather than
	// claiming there was never a question.
	handler := newStubInteractionHandler(t, ids.newAnswerInteraction("A"))
	bot.handleAnswerCommand(ctx, handler, u)

	resp := receivedCall(t, handler.callRespond)
	require.NotNil(t, resp.Data)
	assert.Equal(t, msgRoundTooLate, resp.Data.Content)
}

func TestHandleAnswerCommandLosesClaimRace(t *testing.T) {
	bot := commandTestBot(t)
	ctx := context.Background()
	ids := newCommandData(t)

	u, r := seedAwaitingRound(t, bot, ids)

	handler := newStubInteractionHandler(t, ids.newAnswerInteraction("A"))

	// Claim the round out from under the command while it acknowledges
	// the interaction - the window between its active-round lookup and
	// its own conditional claim.
	handler.onRespond = func() {
		claimed, err := bot.writeDB.UpdatesWhere(
			ctx,
			&Round{},
			map[string]any{columnRoundState: RoundStateSkipped},
			"id = ? AND state = ?",
			r.ID,
			RoundStateAwaitingAnswer,
		)
		require.NoError(t, err)
		require.Equal(t, int64(1), claimed)
	}

	bot.handleAnswerCommand(ctx, handler, u)

	followup := receivedCall(t, handler.callFollowup)
	assert.Equal(t, msgRoundTooLate, followup.Content)

	// The loser must not overwrite the winner's terminal state.
	var saved Round
	require.NoError(t, bot.db.Take(&saved, "id = ?", r.ID).Error)
	assert.Equal(t, RoundStateSkipped, saved.State)

	reloaded := bot.writeDB.ReloadUser(u.ID)
	require.NotNil(t, reloaded)
	assert.Equal(t, 0, reloaded.TotalGames)
}

func TestHandleAnswerCommandLateAnswer(t *testing.T) {
	bot := commandTestBot(t)
	ctx := context.Background()
	ids := newCommandData(t)

	u, r := seedAwaitingRound(t, bot, ids)

	// An expiry timer lost to a restart: the round is still awaiting,
	// but the window has long since closed.
	askedAt := time.Now().UTC().Add(-(AnswerWindow + time.Minute))
	_, err := bot.writeDB.RoundUpdates(
		ctx, r, map[string]any{columnRoundAskedAt: &askedAt},
	)
	require.NoError(t, err)

	handler := newStubInteractionHandler(t, ids.newAnswerInteraction("A"))
	bot.handleAnswerCommand(ctx, handler, u)

	var saved Round
	require.NoError(t, bot.db.Take(&saved, "id = ?", r.ID).Error)
	assert.Equal(t, RoundStateExpired, saved.State)
	assert.Empty(t, saved.UserAnswer)
	assert.False(t, saved.Correct)
	assert.Zero(t, saved.Score)

	reloaded := bot.writeDB.ReloadUser(u.ID)
	require.NotNil(t, reloaded)
	assert.Equal(t, 1, reloaded.TotalGames)
	assert.Equal(t, 0, reloaded.TotalWins)
}

func TestHandleSkipCommand(t *testing.T) {
	bot := commandTestBot(t)
	ctx := context.Background()
	ids := newCommandData(t)

	u, r := seedAwaitingRound(t, bot, ids)
	u.CurrentStreak = 3
	u.BestStreak = 3
	_, err := bot.writeDB.Save(ctx, u)
	require.NoError(t, err)

	handler := newStubInteractionHandler(t, ids.newSkipInteraction())
	bot.handleSkipCommand(ctx, handler, u)

	ack := receivedCall(t, handler.callRespond)
	assert.Equal(
		t,
		discordgo.InteractionResponseDeferredChannelMessageWithSource,
		ack.Type,
	)

	var saved Round
	require.NoError(t, bot.db.Take(&saved, "id = ?", r.ID).Error)
	assert.Equal(t, RoundStateSkipped, saved.State)
	assert.Zero(t, saved.Score)
	require.NotNil(t, saved.FinishedAt)

	// Skips reveal the correct answer
	followup := receivedCall(t, handler.callFollowup)
	assert.Contains(t, followup.Content, "Deoxyribonucleic acid")

	// A skip counts as a played, lost round
	reloaded := bot.writeDB.ReloadUser(u.ID)
	require.NotNil(t, reloaded)
	assert.Equal(t, 1, reloaded.TotalGames)
	assert.Equal(t, 0, reloaded.TotalWins)
	assert.Equal(t, 0, reloaded.CurrentStreak)
	assert.Equal(t, 3, reloaded.BestStreak)
}

func TestHandleSkipCommandLosesClaimRace(t *testing.T) {
	bot := commandTestBot(t)
	ctx := context.Background()
	ids := newCommandData(t)

	u, r := seedAwaitingRound(t, bot, ids)

	handler := newStubInteractionHandler(t, ids.newSkipInteraction())
	handler.onRespond = func() {
		bot.expireRound(r)
	}

	bot.handleSkipCommand(ctx, handler, u)

	followup := receivedCall(t, handler.callFollowup)
	assert.Equal(t, msgRoundTooLate, followup.Content)

	var saved Round
	require.NoError(t, bot.db.Take(&saved, "id = ?", r.ID).Error)
	assert.Equal(t, RoundStateExpired, saved.State)
}

func TestExpireRound(t *testing.T) {
	bot := commandTestBot(t)
	ids := newCommandData(t)

	u, r := seedAwaitingRound(t, bot, ids)

	handler := newStubInteractionHandler(t, ids.newAnswerInteraction("A"))
	r.handler = handler

	bot.expireRound(r)

	var saved Round
	require.NoError(t, bot.db.Take(&saved, "id = ?", r.ID).Error)
	assert.Equal(t, RoundStateExpired, saved.State)
	assert.Empty(t, saved.UserAnswer)
	assert.Zero(t, saved.Score)
	assert.Equal(t, DefaultPersonaName, saved.PersonaUsed)
	require.NotNil(t, saved.FinishedAt)

	// The timeout verdict reveals the correct answer
	followup := receivedCall(t, handler.callFollowup)
	assert.Contains(t, followup.Content, "Deoxyribonucleic acid")

	// A timeout counts as a played, lost round
	reloaded := bot.writeDB.ReloadUser(u.ID)
	require.NotNil(t, reloaded)
	assert.Equal(t, 1, reloaded.TotalGames)
	assert.Equal(t, 0, reloaded.TotalWins)

	// Firing again is a no-op: the round is no longer awaiting.
	bot.expireRound(r)
	assert.Empty(t, handler.callFollowup)
	assert.Equal(t, 1, bot.writeDB.ReloadUser(u.ID).TotalGames)
}

func TestExpireRoundAlreadyAnswered(t *testing.T) {
	bot := commandTestBot(t)
	ctx := context.Background()
	ids := newCommandData(t)

	u, r := seedAwaitingRound(t, bot, ids)

	handler := newStubInteractionHandler(t, ids.newAnswerInteraction("A"))
	bot.handleAnswerCommand(ctx, handler, u)
	receivedCall(t, handler.callFollowup)

	// The timer fires after the answer claimed the round: nothing to do.
	r.handler = handler
	bot.expireRound(r)

	var saved Round
	require.NoError(t, bot.db.Take(&saved, "id = ?", r.ID).Error)
	assert.Equal(t, RoundStateAnswered, saved.State)
	assert.True(t, saved.Correct)
	assert.Empty(t, handler.callFollowup)
}

func TestRunRoundRejectsSecondActiveRound(t *testing.T) {
	bot := commandTestBot(t)
	ctx := context.Background()
	ids := newCommandData(t)

	u, first := seedAwaitingRound(t, bot, ids)

	second := NewRound(ids.newTriviaInteraction("history", "easy", ""), u)
	ids.populateRound(second)
	second.InteractionID = ids.InteractionID + "_second"
	second.User = u
	second.UserID = u.ID
	second.State = RoundStateQueued
	second.AskedAt = nil
	second.Question = nil
	_, err := bot.writeDB.Create(ctx, second)
	require.NoError(t, err)

	handler := newStubInteractionHandler(
		t, ids.newTriviaInteraction("history", "easy", ""),
	)
	second.handler = handler

	bot.runRound(ctx, second)

	var saved Round
	require.NoError(t, bot.db.Take(&saved, "id = ?", second.ID).Error)
	assert.Equal(t, RoundStateRateLimited, saved.State)
	require.NotNil(t, saved.FinishedAt)

	edit := receivedCall(t, handler.callEdit)
	require.NotNil(t, edit.Content)
	assert.Equal(
		t, bot.RuntimeConfig().DiscordRateLimitMessage, *edit.Content,
	)

	// The round that was already in flight is untouched.
	var active Round
	require.NoError(t, bot.db.Take(&active, "id = ?", first.ID).Error)
	assert.Equal(t, RoundStateAwaitingAnswer, active.State)
}
