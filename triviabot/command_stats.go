package triviabot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// handleStatsCommand answers /stats with the user's record. The
// interaction has already been acknowledged (ephemerally).
func (t *TriviaBot) handleStatsCommand(
	ctx context.Context,
	handler InteractionHandler,
	user *User,
) {
	logger := handler.Logger()

	if user.TotalGames == 0 {
		content := "You haven't played yet! Start a round with `/trivia`."
		if _, err := handler.Edit(
			ctx,
			&discordgo.WebhookEdit{Content: &content},
		); err != nil {
			logger.ErrorContext(ctx, "error editing response", tint.Err(err))
		}
		return
	}

	categories, err := t.userCategoryStats(ctx, user.ID)
	if err != nil {
		logger.ErrorContext(ctx, "error loading category stats", tint.Err(err))
	}

	content := statsSummary(user, categories)
	if _, err = handler.Edit(
		ctx,
		&discordgo.WebhookEdit{Content: &content},
	); err != nil {
		logger.ErrorContext(ctx, "error editing response", tint.Err(err))
	}
}

// handleLeaderboardCommand answers /leaderboard. The interaction has
// already been acknowledged.
func (t *TriviaBot) handleLeaderboardCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	logger := handler.Logger()
	opts := discordInteractionOptions(handler.GetInteraction())

	boardType := LeaderboardTypeScore
	if opt, ok := opts[leaderboardCommandTypeOption]; ok {
		boardType = opt.StringValue()
	}
	var category string
	if opt, ok := opts[triviaCommandCategoryOption]; ok {
		category = opt.StringValue()
	}

	entries, err := t.leaderboard(ctx, boardType, category)
	if err != nil {
		logger.ErrorContext(ctx, "error loading leaderboard", tint.Err(err))
		content := handler.Config().DiscordErrorMessage
		_, _ = handler.Edit(ctx, &discordgo.WebhookEdit{Content: &content})
		return
	}

	content := leaderboardBody(boardType, category, entries)
	if _, err = handler.Edit(
		ctx,
		&discordgo.WebhookEdit{Content: &content},
	); err != nil {
		logger.ErrorContext(ctx, "error editing response", tint.Err(err))
	}
}

// handlePersonaCommand sets the user's preferred host persona.
func (t *TriviaBot) handlePersonaCommand(
	ctx context.Context,
	handler InteractionHandler,
	user *User,
) {
	logger := handler.Logger()
	opts := discordInteractionOptions(handler.GetInteraction())

	nameOpt, ok := opts[personaCommandNameOption]
	if !ok {
		respondEphemeral(
			ctx,
			handler,
			fmt.Sprintf("Pick a persona: %s", strings.Join(personaNames(), ", ")),
		)
		return
	}
	name := nameOpt.StringValue()
	if !validPersona(name) {
		respondEphemeral(
			ctx,
			handler,
			fmt.Sprintf(
				"I don't know %q. Available personas: %s",
				name,
				strings.Join(personaNames(), ", "),
			),
		)
		return
	}

	if _, err := t.writeDB.Update(
		ctx,
		user,
		columnUserPreferredPersona,
		name,
	); err != nil {
		logger.ErrorContext(ctx, "error updating persona", tint.Err(err))
		respondEphemeral(ctx, handler, handler.Config().DiscordErrorMessage)
		return
	}

	persona := personaByName(name)
	respondEphemeral(
		ctx,
		handler,
		fmt.Sprintf(
			"**%s** will host your rounds from now on.",
			persona.DisplayName,
		),
	)
}

// handleRoastCommand answers /roast with an AI-written roast of the
// user's record, in their chosen persona's voice. The interaction has
// already been acknowledged.
func (t *TriviaBot) handleRoastCommand(
	ctx context.Context,
	handler InteractionHandler,
	user *User,
) {
	logger := handler.Logger()

	if user.TotalGames == 0 {
		content := "I can't roast a blank slate. Play some `/trivia` first!"
		_, _ = handler.Edit(ctx, &discordgo.WebhookEdit{Content: &content})
		return
	}

	persona := personaByName(user.PreferredPersona)
	content, err := t.generateRoast(ctx, persona, user)
	if err != nil {
		logger.ErrorContext(ctx, "error generating roast", tint.Err(err))
		content = fmt.Sprintf(
			"%s, a %.1f%% win rate over %d games speaks for itself. "+
				"I don't even need to be clever.",
			user.DisplayName(),
			user.WinRate(),
			user.TotalGames,
		)
	}
	if _, err = handler.Edit(
		ctx,
		&discordgo.WebhookEdit{Content: &content},
	); err != nil {
		logger.ErrorContext(ctx, "error editing response", tint.Err(err))
	}
}

// handleCompareCommand answers /compare with a head-to-head stat
// summary and an AI verdict. The interaction has already been
// acknowledged.
func (t *TriviaBot) handleCompareCommand(
	ctx context.Context,
	handler InteractionHandler,
	user *User,
) {
	logger := handler.Logger()
	opts := discordInteractionOptions(handler.GetInteraction())

	edit := func(content string) {
		if _, err := handler.Edit(
			ctx,
			&discordgo.WebhookEdit{Content: &content},
		); err != nil {
			logger.ErrorContext(ctx, "error editing response", tint.Err(err))
		}
	}

	userOpt, ok := opts[compareCommandUserOption]
	if !ok {
		edit("Pick someone to compare against!")
		return
	}
	targetID, _ := userOpt.Value.(string)
	if targetID == "" {
		edit("Pick someone to compare against!")
		return
	}
	if targetID == user.ID {
		edit("Comparing you against yourself. It's a tie. Thrilling.")
		return
	}

	target := t.writeDB.GetUser(targetID)
	if target == nil || target.TotalGames == 0 {
		edit("They haven't played yet, so you win by default!")
		return
	}
	if user.TotalGames == 0 {
		edit("You haven't played yet! Get some `/trivia` games in first.")
		return
	}

	summary := compareUsers(user, target)
	persona := personaByName(user.PreferredPersona)
	verdict, err := t.generateComparison(ctx, persona, summary)
	if err != nil {
		logger.ErrorContext(ctx, "error generating comparison", tint.Err(err))
		edit(summary)
		return
	}
	edit(fmt.Sprintf("%s\n\n%s", summary, verdict))
}

// handlePingCommand answers /ping with the gateway heartbeat latency.
func (t *TriviaBot) handlePingCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	content := "\U0001F3D3 Pong!"
	if t.discord != nil {
		if latency := t.discord.heartbeatLatency(); latency > 0 {
			content = fmt.Sprintf(
				"\U0001F3D3 Pong! Gateway latency: %s",
				latency.Round(time.Millisecond),
			)
		}
	}
	respondEphemeral(ctx, handler, content)
}

// handleStatusCommand answers /status with bot health details.
func (t *TriviaBot) handleStatusCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	var sb strings.Builder
	sb.WriteString("**TriviaBot status**\n")
	if t.discord != nil && t.discord.connected.Load() {
		sb.WriteString("Gateway: connected\n")
		if latency := t.discord.heartbeatLatency(); latency > 0 {
			_, _ = fmt.Fprintf(
				&sb,
				"Latency: %s\n",
				latency.Round(time.Millisecond),
			)
		}
	} else {
		sb.WriteString("Gateway: disconnected\n")
	}
	if t.paused.Load() {
		sb.WriteString("State: paused\n")
	} else {
		sb.WriteString("State: running\n")
	}
	if t.discord != nil {
		guilds, members := t.discord.guildCount()
		_, _ = fmt.Fprintf(&sb, "Guilds: %d (%d members)\n", guilds, members)
	}
	var players int64
	if t.db != nil {
		if err := t.db.Model(&User{}).Count(&players).Error; err != nil {
			handler.Logger().ErrorContext(
				ctx,
				"error counting users",
				tint.Err(err),
			)
		}
	}
	_, _ = fmt.Fprintf(&sb, "Players: %d\n", players)
	_, _ = fmt.Fprintf(&sb, "Queued rounds: %d\n", t.requestQueue.Len())
	_, _ = fmt.Fprintf(&sb, "Rounds in progress: %d\n", t.roundsInProgress.Load())
	if !t.startedAt.IsZero() {
		_, _ = fmt.Fprintf(
			&sb,
			"Uptime: %s",
			time.Since(t.startedAt).Round(time.Second),
		)
	}
	respondEphemeral(ctx, handler, strings.TrimRight(sb.String(), "\n"))
}
