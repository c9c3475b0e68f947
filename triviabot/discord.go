package triviabot

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	// triviaCommandCategoryOption is the /trivia option selecting a
	// question category.
	triviaCommandCategoryOption = "category"

	// triviaCommandDifficultyOption is the /trivia option selecting a
	// question difficulty.
	triviaCommandDifficultyOption = "difficulty"

	// triviaCommandEraOption is the /trivia option selecting a decade.
	triviaCommandEraOption = "era"

	// answerCommandChoiceOption is the /answer option holding the
	// user's answer letter.
	answerCommandChoiceOption = "choice"

	// leaderboardCommandTypeOption selects the /leaderboard ordering.
	leaderboardCommandTypeOption = "type"

	// personaCommandNameOption selects the /persona name.
	personaCommandNameOption = "name"

	// compareCommandUserOption is the /compare target user.
	compareCommandUserOption = "user"
)

// Discord manages the bot's Discord integration: the gateway session,
// slash command registration, and presence updates.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	connected                   atomic.Bool
	discordgoRemoveHandlerFuncs []func()
	t                           *TriviaBot

	// guilds tracks guild membership from gateway events, since the
	// session runs with state tracking disabled. Keys are guild IDs,
	// values the member count reported by the last GuildCreate.
	guildsMu sync.Mutex
	guilds   map[string]int
}

// ackResponseFlag returns the appropriate discordgo.MessageFlags based
// on the given command. Game commands post publicly; informational and
// settings commands answer ephemerally.
func (*Discord) ackResponseFlag(command string) discordgo.MessageFlags {
	switch command {
	case DiscordSlashCommandTrivia,
		DiscordSlashCommandAnswer,
		DiscordSlashCommandSkip,
		DiscordSlashCommandLeaderboard,
		DiscordSlashCommandRoast,
		DiscordSlashCommandCompare:
		return discordgo.MessageFlagsLoading
	default:
		return discordgo.MessageFlagsEphemeral
	}
}

func newDiscord(config *DiscordConfig) (*Discord, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("discord token required")
	}
	return &Discord{
		config:                      config,
		discordgoRemoveHandlerFuncs: []func(){},
		guilds:                      map[string]int{},
	}, nil
}

// newSession initializes a new Discord session with the appropriate
// logger, token, and configuration.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{
		logger: d.logger.With(loggerNameKey, "discord_session_handler"),
	}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = false
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}

	if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
		return session, err
	}

	return session, nil
}

func commandContexts() *[]discordgo.InteractionContextType {
	contexts := []discordgo.InteractionContextType{
		discordgo.InteractionContextPrivateChannel,
		discordgo.InteractionContextGuild,
		discordgo.InteractionContextBotDM,
	}
	return &contexts
}

func commandIntegrationTypes() *[]discordgo.ApplicationIntegrationType {
	integrationTypes := []discordgo.ApplicationIntegrationType{
		discordgo.ApplicationIntegrationUserInstall,
		discordgo.ApplicationIntegrationGuildInstall,
	}
	return &integrationTypes
}

func categoryChoices() []*discordgo.ApplicationCommandOptionChoice {
	names := categoryNames()
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(names))
	for _, name := range names {
		choices = append(
			choices,
			&discordgo.ApplicationCommandOptionChoice{
				Name:  titleCase(name),
				Value: name,
			},
		)
	}
	return choices
}

func difficultyChoices() []*discordgo.ApplicationCommandOptionChoice {
	return []*discordgo.ApplicationCommandOptionChoice{
		{Name: "Easy", Value: string(DifficultyEasy)},
		{Name: "Medium", Value: string(DifficultyMedium)},
		{Name: "Hard", Value: string(DifficultyHard)},
	}
}

func eraChoices() []*discordgo.ApplicationCommandOptionChoice {
	choices := make(
		[]*discordgo.ApplicationCommandOptionChoice,
		0,
		len(questionEras),
	)
	for _, era := range questionEras {
		choices = append(
			choices,
			&discordgo.ApplicationCommandOptionChoice{Name: era, Value: era},
		)
	}
	return choices
}

func answerChoices() []*discordgo.ApplicationCommandOptionChoice {
	return []*discordgo.ApplicationCommandOptionChoice{
		{Name: "A", Value: "A"},
		{Name: "B", Value: "B"},
		{Name: "C", Value: "C"},
		{Name: "D", Value: "D"},
	}
}

func personaChoices() []*discordgo.ApplicationCommandOptionChoice {
	names := personaNames()
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(names))
	for _, name := range names {
		choices = append(
			choices,
			&discordgo.ApplicationCommandOptionChoice{
				Name:  builtinPersonas[name].DisplayName,
				Value: name,
			},
		)
	}
	return choices
}

// appCommandTrivia creates the ApplicationCommand for /trivia.
func (*Discord) appCommandTrivia(config RuntimeConfig) *discordgo.ApplicationCommand {
	dmPerm := true
	return &discordgo.ApplicationCommand{
		Name:             DiscordSlashCommandTrivia,
		Description:      config.TriviaCommandDescription,
		DMPermission:     &dmPerm,
		Type:             discordgo.ChatApplicationCommand,
		Contexts:         commandContexts(),
		IntegrationTypes: commandIntegrationTypes(),
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        triviaCommandCategoryOption,
				Description: "Question category",
				Choices:     categoryChoices(),
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        triviaCommandDifficultyOption,
				Description: "Question difficulty",
				Choices:     difficultyChoices(),
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        triviaCommandEraOption,
				Description: "Decade the question should focus on",
				Choices:     eraChoices(),
			},
		},
	}
}

func (*Discord) appCommandAnswer() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:             DiscordSlashCommandAnswer,
		Description:      "Answer your current trivia question",
		Type:             discordgo.ChatApplicationCommand,
		Contexts:         commandContexts(),
		IntegrationTypes: commandIntegrationTypes(),
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        answerCommandChoiceOption,
				Description: "Your answer",
				Required:    true,
				Choices:     answerChoices(),
			},
		},
	}
}

func (*Discord) appCommandSkip() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:             DiscordSlashCommandSkip,
		Description:      "Skip your current trivia question",
		Type:             discordgo.ChatApplicationCommand,
		Contexts:         commandContexts(),
		IntegrationTypes: commandIntegrationTypes(),
	}
}

func (*Discord) appCommandStats() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:             DiscordSlashCommandStats,
		Description:      "Show your trivia record",
		Type:             discordgo.ChatApplicationCommand,
		Contexts:         commandContexts(),
		IntegrationTypes: commandIntegrationTypes(),
	}
}

func (*Discord) appCommandLeaderboard() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:             DiscordSlashCommandLeaderboard,
		Description:      "Show the trivia leaderboard",
		Type:             discordgo.ChatApplicationCommand,
		Contexts:         commandContexts(),
		IntegrationTypes: commandIntegrationTypes(),
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        leaderboardCommandTypeOption,
				Description: "Ranking to show",
				Choices: []*discordgo.ApplicationCommandOptionChoice{
					{Name: "Score", Value: LeaderboardTypeScore},
					{Name: "Wins", Value: LeaderboardTypeWins},
					{Name: "Streak", Value: LeaderboardTypeStreak},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        triviaCommandCategoryOption,
				Description: "Rank by mastery of a single category",
				Choices:     categoryChoices(),
			},
		},
	}
}

func (*Discord) appCommandPersona() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:             DiscordSlashCommandPersona,
		Description:      "Choose the host persona for your rounds",
		Type:             discordgo.ChatApplicationCommand,
		Contexts:         commandContexts(),
		IntegrationTypes: commandIntegrationTypes(),
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        personaCommandNameOption,
				Description: "Persona name",
				Required:    true,
				Choices:     personaChoices(),
			},
		},
	}
}

func (*Discord) appCommandRoast() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:             DiscordSlashCommandRoast,
		Description:      "Get roasted about your trivia record",
		Type:             discordgo.ChatApplicationCommand,
		Contexts:         commandContexts(),
		IntegrationTypes: commandIntegrationTypes(),
	}
}

func (*Discord) appCommandCompare() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:             DiscordSlashCommandCompare,
		Description:      "Compare your trivia record with another player",
		Type:             discordgo.ChatApplicationCommand,
		Contexts:         commandContexts(),
		IntegrationTypes: commandIntegrationTypes(),
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        compareCommandUserOption,
				Description: "Player to compare against",
				Required:    true,
			},
		},
	}
}

func (*Discord) appCommandPing() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:             DiscordSlashCommandPing,
		Description:      "Check if the bot is alive",
		Type:             discordgo.ChatApplicationCommand,
		Contexts:         commandContexts(),
		IntegrationTypes: commandIntegrationTypes(),
	}
}

func (*Discord) appCommandStatus() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:             DiscordSlashCommandStatus,
		Description:      "Show bot status",
		Type:             discordgo.ChatApplicationCommand,
		Contexts:         commandContexts(),
		IntegrationTypes: commandIntegrationTypes(),
	}
}

// channelMessageSend sends the given message to the given discord channel ID
func (d *Discord) channelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) error {
	_, err := d.session.ChannelMessageSend(channelID, message, opts...)
	return err
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(s *discordgo.Session, r *discordgo.Ready) {
		d.guildsMu.Lock()
		d.guilds = map[string]int{}
		for _, g := range r.Guilds {
			d.guilds[g.ID] = g.MemberCount
		}
		d.guildsMu.Unlock()

		d.logger.Info(
			"Ready",
			"session_id", s.State.SessionID,
			columnUserID, s.State.User.ID,
			"username", s.State.User.Username,
			"guilds", len(r.Guilds),
		)
	}
}

func (d *Discord) handlerGuildCreate() func(
	s *discordgo.Session,
	g *discordgo.GuildCreate,
) {
	return func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		d.guildsMu.Lock()
		d.guilds[g.ID] = g.MemberCount
		d.guildsMu.Unlock()
	}
}

func (d *Discord) handlerGuildDelete() func(
	s *discordgo.Session,
	g *discordgo.GuildDelete,
) {
	return func(_ *discordgo.Session, g *discordgo.GuildDelete) {
		d.guildsMu.Lock()
		delete(d.guilds, g.ID)
		d.guildsMu.Unlock()
	}
}

// guildCount returns the number of guilds the bot is currently in, and
// the total member count across them (as last reported by the gateway).
func (d *Discord) guildCount() (guilds int, members int) {
	d.guildsMu.Lock()
	defer d.guildsMu.Unlock()
	for _, m := range d.guilds {
		members += m
	}
	return len(d.guilds), members
}

// heartbeatLatency returns the gateway heartbeat round-trip time, or
// zero when no session is connected.
func (d *Discord) heartbeatLatency() time.Duration {
	if d.session == nil {
		return 0
	}
	return d.session.HeartbeatLatency()
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		var sessionID string
		var userID string
		var username string

		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
			if s.State.User != nil {
				userID = s.State.User.ID
				username = s.State.User.Username
			}
		}
		d.logger.Info(
			"Connected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)
		config := d.t.RuntimeConfig()
		if config.DiscordNotificationChannelID != "" {
			if sendErr := d.channelMessageSend(
				config.DiscordNotificationChannelID,
				d.config.StartupMessage,
				discordgo.WithRetryOnRatelimit(false),
				discordgo.WithRestRetries(1),
			); sendErr != nil {
				d.logger.Error(
					"unable to send startup message",
					tint.Err(sendErr),
				)
			}
		}
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)

		var sessionID string
		var userID string
		var username string

		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
			if s.State.User != nil {
				userID = s.State.User.ID
				username = s.State.User.Username
			}
		}
		d.logger.Info(
			"disconnected",
			"session_id", sessionID,
			slog.Group("user", "id", userID, "username", username),
		)
	}
}

func (d *Discord) updateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

func (d *Discord) updateStatusComplex(data discordgo.UpdateStatusData) error {
	return d.session.UpdateStatusComplex(data)
}

// registerCommands sends the bot's commands to the discord bulk
// overwrite endpoint.
func (d *Discord) registerCommands(
	runtimeConfig RuntimeConfig,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	commands := []*discordgo.ApplicationCommand{
		d.appCommandTrivia(runtimeConfig),
		d.appCommandAnswer(),
		d.appCommandSkip(),
		d.appCommandStats(),
		d.appCommandLeaderboard(),
		d.appCommandPersona(),
		d.appCommandRoast(),
		d.appCommandCompare(),
		d.appCommandPing(),
		d.appCommandStatus(),
	}

	created, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command", c)
	}

	return created, nil
}

func (d *Discord) ackResponse(commandName string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Flags: d.ackResponseFlag(commandName),
		},
	}
}

// DiscordSessionHandler defines the subset of `discordgo.Session`
// methods used in this application, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// ChannelMessageSend sends a message to a specified channel.
	ChannelMessageSend(
		channelID string,
		message string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ApplicationCommandBulkOverwrite overwrites Discord application
	// commands in bulk.
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// UpdateCustomStatus sets the bot's user status to the given string.
	// If empty, sets the bot user to active and removes any existing
	// custom status.
	UpdateCustomStatus(status string) error

	// UpdateStatusComplex sends the given status update, untouched
	UpdateStatusComplex(data discordgo.UpdateStatusData) error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// InteractionRespond sends an interaction response to Discord
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// InteractionResponse gets the response to an interaction
	InteractionResponse(
		interaction *discordgo.Interaction,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// InteractionResponseEdit modifies the given interaction
	InteractionResponseEdit(
		interaction *discordgo.Interaction,
		newresp *discordgo.WebhookEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// InteractionResponseDelete deletes the given interaction
	InteractionResponseDelete(
		interaction *discordgo.Interaction,
		options ...discordgo.RequestOption,
	) error

	// FollowupMessageCreate creates a followup message for an
	// already-acknowledged interaction
	FollowupMessageCreate(
		interaction *discordgo.Interaction,
		wait bool,
		data *discordgo.WebhookParams,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessageSendReply sends a message to the given channel, as a
	// reply to the referenced message
	ChannelMessageSendReply(
		channelID string,
		content string,
		reference *discordgo.MessageReference,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// SetHTTPClient sets the HTTP client for the session
	SetHTTPClient(client *http.Client)

	// SetIdentify sets the identify object that's sent during the initial
	// handshake with the discord gateway
	SetIdentify(discordgo.Identify)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error

	// HeartbeatLatency returns the round-trip time of the last gateway
	// heartbeat
	HeartbeatLatency() time.Duration

	GatewayBot(options ...discordgo.RequestOption) (st *discordgo.GatewayBotResponse, err error)
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) GatewayBot(options ...discordgo.RequestOption) (
	st *discordgo.GatewayBotResponse,
	err error,
) {
	gb, err := d.session.GatewayBot(options...)
	if err != nil {
		d.logger.Error("error retrieving gateway bot", tint.Err(err))
	} else {
		d.logger.Info("retrieved gateway bot", "gateway_bot", structToSlogValue(gb))
	}
	return gb, err
}

func (d DiscordSession) ChannelMessageSendReply(
	channelID string,
	content string,
	reference *discordgo.MessageReference,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendReply(
		channelID, content, reference, options...,
	)
	if err != nil {
		d.logger.Error(
			"error sending message reply",
			tint.Err(err),
			"channel_id", channelID,
			"content", content,
			"reference", reference,
		)
	}
	return msg, err
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

func (d DiscordSession) SetHTTPClient(client *http.Client) {
	d.session.Client = client
}

func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	d.session.Identify = i
}

func (d DiscordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionRespond(interaction, resp, options...)
}

func (d DiscordSession) InteractionResponse(
	interaction *discordgo.Interaction,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.InteractionResponse(interaction, options...)
	if err != nil {
		d.logger.Error("error getting interaction response", tint.Err(err))
	}
	return msg, err
}

func (d DiscordSession) InteractionResponseEdit(
	interaction *discordgo.Interaction,
	newresp *discordgo.WebhookEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.InteractionResponseEdit(interaction, newresp, options...)
}

func (d DiscordSession) InteractionResponseDelete(
	interaction *discordgo.Interaction,
	options ...discordgo.RequestOption,
) error {
	return d.session.InteractionResponseDelete(interaction, options...)
}

func (d DiscordSession) FollowupMessageCreate(
	interaction *discordgo.Interaction,
	wait bool,
	data *discordgo.WebhookParams,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.FollowupMessageCreate(interaction, wait, data, options...)
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

func (d DiscordSession) HeartbeatLatency() time.Duration {
	return d.session.HeartbeatLatency()
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) ChannelMessageSend(
	channelID string,
	message string,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return d.session.ChannelMessageSend(channelID, message, opts...)
}

func (d DiscordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	created, err := d.session.ApplicationCommandBulkOverwrite(
		appID,
		guildID,
		commands,
		options...,
	)
	if err != nil {
		d.logger.Error("error overwriting discord commands", tint.Err(err))
		return created, err
	}
	for _, c := range created {
		d.logger.Info("Created command", "command", c)
	}

	return created, nil
}

func (d DiscordSession) UpdateCustomStatus(
	status string,
) error {
	return d.session.UpdateCustomStatus(status)
}

func (d DiscordSession) UpdateStatusComplex(
	data discordgo.UpdateStatusData,
) error {
	return d.session.UpdateStatusComplex(data)
}

// DiscordMessage is a DB model which logs details about an incoming
// discord message received via the discordgo.MessageCreate handler.
// These are generally limited to messages that mention the bot user or
// carry an owner command like !sync.
type DiscordMessage struct {
	ModelUintID
	ModelUnixTime
	MessageID           string `json:"message_id"`
	Content             string `json:"content"`
	ChannelID           string `json:"channel_id"`
	GuildID             string `json:"guild_id"`
	UserID              string `json:"user_id"`
	Username            string `json:"username"`
	GlobalName          string `json:"global_name"`
	InteractionID       string `json:"interaction_id"`
	ReferencedMessageID string `json:"referenced_message_id"`
	Payload             string `json:"payload"`
}

func NewDiscordMessage(m *discordgo.Message) DiscordMessage {
	user := m.Author
	if user == nil && m.Member != nil {
		user = m.Member.User
	}
	dm := DiscordMessage{
		MessageID: m.ID,
		Content:   m.Content,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
	}

	if user != nil {
		dm.UserID = user.ID
		dm.Username = user.Username
		dm.GlobalName = user.GlobalName
	}

	if m.MessageReference != nil {
		dm.ReferencedMessageID = m.MessageReference.MessageID
	} else if m.ReferencedMessage != nil {
		dm.ReferencedMessageID = m.ReferencedMessage.ID
	}

	if m.Interaction != nil {
		dm.InteractionID = m.Interaction.ID
	}
	if dm.InteractionID == "" && m.ReferencedMessage != nil && m.ReferencedMessage.Interaction != nil {
		dm.InteractionID = m.ReferencedMessage.Interaction.ID
	}
	data, err := json.Marshal(m)
	if err != nil {
		slog.Default().Error("failed to marshal discord message", tint.Err(err))
	}
	dm.Payload = string(data)
	return dm
}

func (m DiscordMessage) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("message_id", m.MessageID),
		slog.String("channel_id", m.ChannelID),
		slog.String("guild_id", m.GuildID),
		slog.String(columnUserID, m.UserID),
		slog.String("username", m.Username),
		slog.String("global_name", m.GlobalName),
		slog.String(columnRoundInteractionID, m.InteractionID),
		slog.String("referenced_message_id", m.ReferencedMessageID),
		slog.String("content", m.Content),
	)
}

// messageMentionsUser checks if a given discord message mentions the
// given user ID via @ (not plain message content).
func messageMentionsUser(m *discordgo.Message, userID string) bool {
	if m == nil {
		return false
	}
	if len(m.Mentions) == 0 {
		return false
	}
	for _, mention := range m.Mentions {
		if mention.ID == userID {
			return true
		}
	}
	return false
}

// getDiscordUser returns the [discordgo.User] associated with the
// interaction. Users don't always appear in the same place in the
// interaction object, so this checks known areas.
func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	u := i.User
	if u == nil && i.Member != nil {
		u = i.Member.User
	}
	return u
}
