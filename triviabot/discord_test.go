package triviabot

import (
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockDiscordSession implements [DiscordSessionHandler] without a
// gateway connection. Methods log their arguments and return zero
// values.
type mockDiscordSession struct {
	logger   *slog.Logger
	logLevel *slog.LevelVar

	// latency is returned from HeartbeatLatency
	latency time.Duration
}

func newMockDiscordSession() *mockDiscordSession {
	logLevel := &slog.LevelVar{}
	logLevel.Set(slog.LevelWarn)
	return &mockDiscordSession{
		logger:   slog.Default(),
		logLevel: logLevel,
	}
}

func (m *mockDiscordSession) Open() error  { return nil }
func (m *mockDiscordSession) Close() error { return nil }

func (m *mockDiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.logger.Info(
		"ChannelMessageSend",
		"channel_id", channelID,
		"message", message,
	)
	return &discordgo.Message{}, nil
}

func (m *mockDiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	_ ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	m.logger.Info(
		"ApplicationCommandBulkOverwrite",
		"app_id", appID,
		"guild_id", guildID,
		"commands", len(commands),
	)
	return commands, nil
}

func (m *mockDiscordSession) UpdateCustomStatus(status string) error {
	m.logger.Info("UpdateCustomStatus", "status", status)
	return nil
}

func (m *mockDiscordSession) UpdateStatusComplex(
	data discordgo.UpdateStatusData,
) error {
	m.logger.Info("UpdateStatusComplex", "data", data)
	return nil
}

func (m *mockDiscordSession) AddHandler(any) func() {
	return func() {}
}

func (m *mockDiscordSession) InteractionRespond(
	_ *discordgo.Interaction,
	_ *discordgo.InteractionResponse,
	_ ...discordgo.RequestOption,
) error {
	return nil
}

func (m *mockDiscordSession) InteractionResponse(
	_ *discordgo.Interaction,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return &discordgo.Message{}, nil
}

func (m *mockDiscordSession) InteractionResponseEdit(
	_ *discordgo.Interaction,
	_ *discordgo.WebhookEdit,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return &discordgo.Message{}, nil
}

func (m *mockDiscordSession) InteractionResponseDelete(
	_ *discordgo.Interaction,
	_ ...discordgo.RequestOption,
) error {
	return nil
}

func (m *mockDiscordSession) FollowupMessageCreate(
	_ *discordgo.Interaction,
	_ bool,
	_ *discordgo.WebhookParams,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return &discordgo.Message{}, nil
}

func (m *mockDiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	_ *discordgo.MessageReference,
	_ ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	m.logger.Info(
		"ChannelMessageSendReply",
		"channel_id", channelID,
		"content", content,
	)
	return &discordgo.Message{}, nil
}

func (m *mockDiscordSession) SetHTTPClient(*http.Client) {}

func (m *mockDiscordSession) SetIdentify(discordgo.Identify) {}

func (m *mockDiscordSession) SetLogLevel(lvl slog.Level) error {
	m.logLevel.Set(lvl)
	return nil
}

func (m *mockDiscordSession) HeartbeatLatency() time.Duration {
	return m.latency
}

func (m *mockDiscordSession) GatewayBot(
	...discordgo.RequestOption,
) (*discordgo.GatewayBotResponse, error) {
	return &discordgo.GatewayBotResponse{}, nil
}

// testDiscord returns a Discord wired to a mock session, as it looks
// once the gateway reports ready.
func testDiscord(t testing.TB) (*Discord, *mockDiscordSession) {
	t.Helper()
	session := newMockDiscordSession()
	return &Discord{
		session: session,
		logger:  slog.Default(),
		guilds:  map[string]int{},
	}, session
}

func TestDiscordGuildTracking(t *testing.T) {
	d, _ := testDiscord(t)

	session := &discordgo.Session{State: discordgo.NewState()}
	session.State.SessionID = "session_" + t.Name()
	session.State.User = &discordgo.User{ID: "bot_id", Username: "bot"}

	d.handlerReady()(
		session,
		&discordgo.Ready{
			Guilds: []*discordgo.Guild{
				{ID: "guild_a", MemberCount: 10},
				{ID: "guild_b", MemberCount: 25},
			},
		},
	)

	guilds, members := d.guildCount()
	assert.Equal(t, 2, guilds)
	assert.Equal(t, 35, members)

	d.handlerGuildCreate()(
		session,
		&discordgo.GuildCreate{
			Guild: &discordgo.Guild{ID: "guild_c", MemberCount: 5},
		},
	)
	guilds, members = d.guildCount()
	assert.Equal(t, 3, guilds)
	assert.Equal(t, 40, members)

	d.handlerGuildDelete()(
		session,
		&discordgo.GuildDelete{
			Guild: &discordgo.Guild{ID: "guild_a"},
		},
	)
	guilds, members = d.guildCount()
	assert.Equal(t, 2, guilds)
	assert.Equal(t, 30, members)

	// A reconnect resends the full guild list
	d.handlerReady()(
		session,
		&discordgo.Ready{
			Guilds: []*discordgo.Guild{
				{ID: "guild_b", MemberCount: 26},
			},
		},
	)
	guilds, members = d.guildCount()
	assert.Equal(t, 1, guilds)
	assert.Equal(t, 26, members)
}

func TestDiscordHeartbeatLatency(t *testing.T) {
	d := &Discord{}
	assert.Zero(t, d.heartbeatLatency())

	d, session := testDiscord(t)
	session.latency = 42 * time.Millisecond
	assert.Equal(t, 42*time.Millisecond, d.heartbeatLatency())
}

func TestHandlePingCommand(t *testing.T) {
	bot := commandTestBot(t)
	ctx := context.Background()

	d, session := testDiscord(t)
	session.latency = 42 * time.Millisecond
	bot.discord = d

	handler := newStubInteractionHandler(t, nil)
	bot.handlePingCommand(ctx, handler)

	resp := receivedCall(t, handler.callRespond)
	require.NotNil(t, resp.Data)
	assert.Contains(t, resp.Data.Content, "Pong!")
	assert.Contains(t, resp.Data.Content, "42ms")
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
}

func TestHandlePingCommandNoSession(t *testing.T) {
	bot := commandTestBot(t)

	handler := newStubInteractionHandler(t, nil)
	bot.handlePingCommand(context.Background(), handler)

	resp := receivedCall(t, handler.callRespond)
	require.NotNil(t, resp.Data)
	assert.Contains(t, resp.Data.Content, "Pong!")
	assert.NotContains(t, resp.Data.Content, "latency")
}

func TestHandleStatusCommand(t *testing.T) {
	bot := commandTestBot(t)
	ctx := context.Background()

	d, session := testDiscord(t)
	session.latency = 55 * time.Millisecond
	d.connected.Store(true)
	d.guilds = map[string]int{"guild_a": 10, "guild_b": 20}
	bot.discord = d
	bot.requestQueue = NewRoundQueue(&QueueConfig{}, slog.Default())

	for _, id := range []string{"player_1", "player_2"} {
		require.NoError(
			t,
			bot.db.Create(
				&User{ID: id, RoundLimit6h: DefaultRoundLimit6h},
			).Error,
		)
	}

	handler := newStubInteractionHandler(t, nil)
	bot.handleStatusCommand(ctx, handler)

	resp := receivedCall(t, handler.callRespond)
	require.NotNil(t, resp.Data)
	content := resp.Data.Content
	assert.Contains(t, content, "Gateway: connected")
	assert.Contains(t, content, "Latency: 55ms")
	assert.Contains(t, content, "Guilds: 2 (30 members)")
	assert.Contains(t, content, "Players: 2")
	assert.Contains(t, content, "State: running")
	assert.Contains(t, content, "Queued rounds: 0")
}
