package triviabot

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	msgNoActiveRound = "You don't have an active question! Start one with `/trivia`."
	msgRoundTooLate  = "Time's up! That question already expired. Start a fresh one with `/trivia`."
)

// handleAnswerCommand resolves an /answer interaction against the user's
// active round. The race between concurrent answers, skips and the
// expiry timer is settled by a conditional state transition: whichever
// claim lands first wins, everyone else sees zero rows affected.
func (t *TriviaBot) handleAnswerCommand(
	ctx context.Context,
	handler InteractionHandler,
	user *User,
) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = t.logger
	}

	opts := discordInteractionOptions(handler.GetInteraction())
	choiceOpt, hasChoice := opts["choice"]
	if !hasChoice {
		respondEphemeral(ctx, handler, "Pick an answer: A, B, C or D.")
		return
	}
	choice := strings.ToUpper(strings.TrimSpace(choiceOpt.StringValue()))
	switch choice {
	case "A", "B", "C", "D":
	//
	default:
		respondEphemeral(ctx, handler, "Pick an answer: A, B, C or D.")
		return
	}

	active, err := t.activeRound(ctx, user.ID)
	if err != nil {
		logger.ErrorContext(ctx, "error looking up active round", tint.Err(err))
		respondEphemeral(ctx, handler, handler.Config().DiscordErrorMessage)
		return
	}
	if active == nil {
		respondEphemeral(ctx, handler, t.noActiveRoundMessage(ctx, user.ID))
		return
	}

	if ackErr := handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		},
	); ackErr != nil {
		logger.ErrorContext(ctx, "error acknowledging answer", tint.Err(ackErr))
		return
	}

	askedAt := time.Now().UTC()
	if active.AskedAt != nil {
		askedAt = *active.AskedAt
	}
	responseTime := time.Since(askedAt)

	targetState := RoundStateAnswered
	correct := false
	if active.Question != nil {
		correct = choice == active.Question.CorrectOption
	}
	if responseTime > AnswerWindow {
		// The expiry timer should have fired; if it didn't (e.g. it was
		// lost to a restart), a late answer still counts as a timeout.
		targetState = RoundStateExpired
		correct = false
	}

	finishedAt := time.Now().UTC()
	claimed, claimErr := t.writeDB.UpdatesWhere(
		ctx,
		&Round{},
		map[string]any{
			columnRoundState:      targetState,
			columnRoundStep:       "",
			columnRoundFinishedAt: &finishedAt,
		},
		"id = ? AND state = ?",
		active.ID,
		RoundStateAwaitingAnswer,
	)
	if claimErr != nil {
		logger.ErrorContext(ctx, "error claiming round", tint.Err(claimErr))
		return
	}
	if claimed == 0 {
		if _, fErr := handler.Followup(
			ctx,
			&discordgo.WebhookParams{Content: msgRoundTooLate},
		); fErr != nil {
			logger.WarnContext(ctx, "error sending followup", tint.Err(fErr))
		}
		return
	}

	active.handler = handler
	active.User = user
	active.logger = logger.With(slog.Group("round", roundLogAttrs(*active)...))

	res := roundResolution{
		state:        targetState,
		userAnswer:   choice,
		correct:      correct,
		responseTime: responseTime,
	}
	if targetState == RoundStateExpired {
		res.userAnswer = ""
		res.responseTime = 0
	}
	t.resolveRound(ctx, active, res)
}

// handleSkipCommand forfeits the user's active round. A skip counts as
// a played (lost) round: the streak resets and no points are scored.
func (t *TriviaBot) handleSkipCommand(
	ctx context.Context,
	handler InteractionHandler,
	user *User,
) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = t.logger
	}

	active, err := t.activeRound(ctx, user.ID)
	if err != nil {
		logger.ErrorContext(ctx, "error looking up active round", tint.Err(err))
		respondEphemeral(ctx, handler, handler.Config().DiscordErrorMessage)
		return
	}
	if active == nil {
		respondEphemeral(ctx, handler, t.noActiveRoundMessage(ctx, user.ID))
		return
	}

	if ackErr := handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		},
	); ackErr != nil {
		logger.ErrorContext(ctx, "error acknowledging skip", tint.Err(ackErr))
		return
	}

	finishedAt := time.Now().UTC()
	claimed, claimErr := t.writeDB.UpdatesWhere(
		ctx,
		&Round{},
		map[string]any{
			columnRoundState:      RoundStateSkipped,
			columnRoundStep:       "",
			columnRoundFinishedAt: &finishedAt,
		},
		"id = ? AND state = ?",
		active.ID,
		RoundStateAwaitingAnswer,
	)
	if claimErr != nil {
		logger.ErrorContext(ctx, "error claiming round", tint.Err(claimErr))
		return
	}
	if claimed == 0 {
		if _, fErr := handler.Followup(
			ctx,
			&discordgo.WebhookParams{Content: msgRoundTooLate},
		); fErr != nil {
			logger.WarnContext(ctx, "error sending followup", tint.Err(fErr))
		}
		return
	}

	active.handler = handler
	active.User = user
	active.logger = logger.With(slog.Group("round", roundLogAttrs(*active)...))

	t.resolveRound(ctx, active, roundResolution{state: RoundStateSkipped})
}

// noActiveRoundMessage distinguishes "nothing pending" from "you just
// missed the window", so a late answer gets a clearer explanation.
func (t *TriviaBot) noActiveRoundMessage(
	ctx context.Context,
	userID string,
) string {
	var last Round
	err := t.db.WithContext(ctx).Where(
		"user_id = ? AND state = ?",
		userID,
		RoundStateExpired,
	).Last(&last).Error
	if err == nil && last.FinishedAt != nil &&
		time.Since(*last.FinishedAt) < time.Minute {
		return msgRoundTooLate
	}
	return msgNoActiveRound
}

// respondEphemeral sends an immediate, ephemeral interaction response.
func respondEphemeral(
	ctx context.Context,
	handler InteractionHandler,
	content string,
) {
	if err := handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	); err != nil {
		handler.Logger().Warn("error sending response", tint.Err(err))
	}
}
