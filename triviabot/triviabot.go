package triviabot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/davidpm1021/TriviaBot/triviabot.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	// WaitForResumeCheckInterval is the duration to sleep between checking
	// whether the bot has been un-paused/resumed (when [RuntimeConfig.Paused]
	// is no longer true).
	WaitForResumeCheckInterval = 5 * time.Second

	// UserWorkerSendTimeout is how long to wait when handing a popped
	// round to its user's worker before concluding the worker is busy
	// with a previous round.
	UserWorkerSendTimeout = time.Second
)

var (
	// busyInteractionDeleteDelay is the amount of time to wait
	// before deleting a 'busy' interaction that was sent to
	// the user (ex: when they use /trivia while their previous
	// round hasn't finished yet)
	busyInteractionDeleteDelay = 20 * time.Second
)

var (
	defaultLogWriter io.Writer = os.Stdout
)

// TriviaBot is the main application struct. It wires together the
// Discord gateway, the OpenAI client, the database, the backend API,
// and the round queue, and owns the bot's runtime lifecycle.
type TriviaBot struct {
	dbNotifier DBNotifier
	config     *Config

	// Pointer to a read-only GORM connection. This is from an
	// overabundance of caution for using SQLite.
	db *gorm.DB

	// gorm.DB wrapper for write/update/delete operations.
	// The only difference between this and [TriviaBot.db]
	// is that, when using sqlite, a mutex is used. Otherwise,
	// just use [TriviaBot.db].
	writeDB DBI

	// Standard logger. Missing loggers will try to use this,
	// and fall back to slog.Default()
	logger *slog.Logger

	// Handler to use for the above
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Handles OpenAI API integration
	openai *OpenAI

	// Provides the back-end admin API
	api *API

	// signalStop enables an explicit stop signal to be sent to the bot,
	// such as by the `/api/quit` endpoint
	signalStop chan struct{}

	// signalReady has a value sent on it once Run has finished
	// initializing: database open and migrated, runtime config loaded,
	// catchup done, discord session open, and commands registered.
	signalReady chan struct{}

	// A signal is sent on this channel when the
	// [TriviaBot.shutdown] function finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// Queues and manages priority for trivia rounds
	requestQueue *RoundQueue

	// If true, the bot will ignore new commands from
	// non-priority users, and queue commands from priority users.
	paused atomic.Bool

	// The time Run was called
	startedAt time.Time

	// A map of user IDs to user workers
	userWorkers map[string]*userRoundWorker

	// protecc the map
	userWorkerMu sync.RWMutex

	// Indicates whether admin credentials have been set.
	// If they haven't, Run will hold just after the init
	// process is done and the API has started, prior to starting
	// any other processes - this ensures the bot doesn't begin
	// responding to commands before it can be configured/stopped
	// via the API.
	pendingSetup atomic.Bool

	// getInteractionHandlerFunc should be a callable to be used
	// when an interaction is received, which returns an appropriate
	// InteractionHandler. Tests swap this out to stub discord.
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler

	// Runtime-configurable settings - things you may want to
	// change without restarting the bot.
	runtimeConfig *RuntimeConfig

	// protecc the runtime config
	cfgMu sync.RWMutex

	// roundsInProgress indicates the number of rounds actively
	// executing ([userRoundWorker.runQueuedRound])
	roundsInProgress atomic.Int64

	// expiryTimersRunning indicates the number of answer-window timers
	// ([TriviaBot.scheduleRoundExpiry]) currently running
	expiryTimersRunning atomic.Int64

	messageDeleteTimersRunning atomic.Int64
	userWorkersRunning         atomic.Int64

	triggerRuntimeConfigRefreshCh chan bool
	triggerUserCacheRefreshCh     chan bool
	triggerUserUpdatedRefreshCh   chan string
}

func (t *TriviaBot) getLogger(ctx context.Context) (
	context.Context,
	*slog.Logger,
) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = t.logger
		ctx = WithLogger(ctx, logger)
	}
	return ctx, logger
}

// RuntimeConfig returns a copy of the current runtime configuration
func (t *TriviaBot) RuntimeConfig() RuntimeConfig {
	t.cfgMu.RLock()
	defer t.cfgMu.RUnlock()
	return *t.runtimeConfig
}

// New creates and initializes a new TriviaBot instance from the given
// config. Call [TriviaBot.Run] on the result to start the bot.
func New(config *Config) (*TriviaBot, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres'"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	t := &TriviaBot{
		config:                        config,
		signalReady:                   make(chan struct{}, 1),
		userWorkers:                   map[string]*userRoundWorker{},
		userWorkerMu:                  sync.RWMutex{},
		eventShutdown:                 make(chan struct{}, 1),
		triggerRuntimeConfigRefreshCh: make(chan bool, 1),
		triggerUserCacheRefreshCh:     make(chan bool, 1),
		triggerUserUpdatedRefreshCh:   make(chan string, 1),
	}

	t.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     t.config.LogLevel,
			AddSource: true,
		},
	)

	t.logger = slog.New(t.logHandler)
	slog.SetDefault(t.logger)

	t.openai = newOpenAI(t, t.config.HTTPClient)

	t.config.Discord.httpClient = t.config.HTTPClient

	disc, err := newDiscord(t.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     t.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	disc.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     t.config.Discord.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "discord")

	t.discord = disc
	disc.t = t

	t.requestQueue = NewRoundQueue(
		t.config.Queue,
		t.logger.With(loggerNameKey, "queue"),
	)

	api, err := newAPI(t, config.API)
	errs = append(errs, err)
	t.api = api

	return t, errors.Join(errs...)
}

func (t *TriviaBot) ValidateConfig() error {
	err := structValidator.Struct(t.config)
	if err != nil {
		return err
	}

	return nil
}

// RegisterSlashCommands registers (or re-registers) the bot's slash
// commands with Discord.
func (t *TriviaBot) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return t.discord.registerCommands(t.RuntimeConfig(), options...)
}

// getUserWorker retrieves or creates a round worker for the given user.
// Each user has a dedicated worker so their rounds run one at a time.
func (t *TriviaBot) getUserWorker(
	ctx context.Context,
	u *User,
) *userRoundWorker {
	t.userWorkerMu.Lock()
	defer t.userWorkerMu.Unlock()

	userWorker := t.userWorkers[u.ID]
	if userWorker != nil {
		return userWorker
	}

	startSignal := make(chan struct{}, 1)

	userWorker = newUserWorker(t, u)

	go func() {
		t.userWorkersRunning.Add(1)
		defer t.userWorkersRunning.Add(-1)

		userWorker.Run(ctx, startSignal)

		t.userWorkerMu.Lock()
		defer t.userWorkerMu.Unlock()

		w, ok := t.userWorkers[u.ID]
		if ok && w == userWorker {
			delete(t.userWorkers, u.ID)
		}
	}()

	t.userWorkers[u.ID] = userWorker
	<-startSignal
	return userWorker
}

// catchupInterruptedRounds aborts rounds that were in-flight when the
// bot last stopped. A restart loses the in-memory answer-window timers
// and queue contents, and the interaction tokens are likely stale, so
// any round not in a final state is marked aborted rather than resumed.
// Aborted rounds don't count toward user stats or the 6-hour limit.
func (t *TriviaBot) catchupInterruptedRounds(ctx context.Context) error {
	t.waitForPause(ctx)
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = t.logger
		if logger == nil {
			logger = slog.Default()
		}
		ctx = WithLogger(ctx, logger)
	}

	var interrupted []Round
	rv := t.db.WithContext(ctx).Order("priority desc, created_at asc").Find(
		&interrupted,
		"state IN ?",
		[]string{
			string(RoundStateQueued),
			string(RoundStateGenerating),
			string(RoundStateAwaitingAnswer),
		},
	)
	if rv.Error != nil {
		logger.ErrorContext(
			ctx,
			"error performing catchup query",
			tint.Err(rv.Error),
		)
		return rv.Error
	}

	if len(interrupted) == 0 {
		logger.InfoContext(ctx, "no interrupted rounds to catch up")
		return nil
	}

	finishedAt := time.Now().UTC()
	for i := 0; i < len(interrupted); i++ {
		r := interrupted[i]
		logger.WarnContext(
			ctx,
			"aborting round interrupted by restart",
			slog.Group("round", roundLogAttrs(r)...),
		)
		if _, err := t.writeDB.RoundUpdates(
			ctx, &r, map[string]any{
				columnRoundState:      RoundStateAborted,
				columnRoundStep:       "",
				columnRoundFinishedAt: &finishedAt,
			},
		); err != nil {
			logger.ErrorContext(ctx, "error aborting round", tint.Err(err))
		}
	}
	return nil
}

// Run starts the main loop of the bot: it initializes the database,
// loads the runtime config, starts the API server, opens the Discord
// gateway session, and begins watching the round queue. It blocks until
// the context is canceled or a stop signal is received, then performs a
// graceful shutdown.
func (t *TriviaBot) Run(ctx context.Context) error {
	// prevents concurrent runs
	t.runMu.Lock()
	defer t.runMu.Unlock()

	t.signalStop = make(chan struct{}, 1)

	t.startedAt = time.Now()
	logger := t.logger

	if err := t.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	notifier, err := newDBNotifier(t)
	if err != nil {
		logger.Error("error creating db notifier", tint.Err(err))
		return err
	}
	t.dbNotifier = notifier

	ctx = WithLogger(ctx, logger)

	runtimeWG := &sync.WaitGroup{}

	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", t.config))
	if t.signalReady == nil {
		t.signalReady = make(chan struct{}, 1)
	}

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-t.signalStop:
			t.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			t.logger.Warn("context canceled, sending stop signal")
			t.signalStop <- struct{}{}
			return
		}
	}()

	go func() {
		httpErr := t.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			t.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, t.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- t.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			if t.api != nil && t.api.listener != nil {
				go func() {
					if e := t.api.listener.Close(); e != nil {
						logger.ErrorContext(ctx, "error closing listener", tint.Err(e))
					}
				}()
			}
			return err
		}
		logger.WarnContext(ctx, "init complete")
	}

	if setupErr := t.waitOnSetup(ctx, logger, runtimeWG); setupErr != nil {
		return setupErr
	}

	if t.openai.requestLimiter == nil {
		t.openai.requestLimiter = rate.NewLimiter(
			rate.Limit(t.RuntimeConfig().OpenAIMaxRequestsPerSecond),
			1,
		)
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		t.catchupAndWatchQueue(ctx, logger)
	}()

	runtimeCfg := t.RuntimeConfig()

	if discErr := t.initDiscordSession(ctx, runtimeWG); discErr != nil {
		t.logger.ErrorContext(ctx, "error creating discord session", tint.Err(discErr))
		return discErr
	}

	if err := t.discordInit(ctx, runtimeCfg, logger); err != nil {
		return err
	}

	t.startRuntimeConfigRefresher(ctx, runtimeWG, logger)
	t.startUserCacheRefresher(ctx, runtimeWG)
	t.startUserUpdatedListener(ctx, runtimeWG)

	t.signalReady <- struct{}{}
	t.logger.InfoContext(ctx, "sent ready signal")

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		if e := t.dbNotifier.Listen(ctx, t.dbNotifier.RuntimeConfigChannelName()); e != nil {
			t.logger.ErrorContext(ctx, "error listening to runtime config channel", tint.Err(e))
		}
	}()

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		if e := t.dbNotifier.Listen(ctx, t.dbNotifier.UserCacheChannelName()); e != nil {
			t.logger.ErrorContext(ctx, "error listening to user cache channel", tint.Err(e))
		}
	}()

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		if e := t.dbNotifier.Listen(ctx, t.dbNotifier.UserUpdateChannelName()); e != nil {
			t.logger.ErrorContext(ctx, "error listening to user update channel", tint.Err(e))
		}
	}()

	// block until something cancels the main runtime context - generally
	// from an interrupt, or the `/api/quit` endpoint
	stopCh := make(chan struct{}, 1)
	go func() {
		<-ctx.Done()
		stopCh <- struct{}{}
	}()
	<-stopCh

	// Commence shutdown
	return t.shutdown(ctx, runtimeWG)
}

func (t *TriviaBot) waitOnSetup(
	ctx context.Context,
	logger *slog.Logger,
	runtimeWG *sync.WaitGroup,
) error {
	if !t.pendingSetup.Load() {
		return nil
	}

	logger.WarnContext(
		ctx,
		fmt.Sprintf(
			"pending initial setup at: %s%s",
			t.api.listener.Addr().String(),
			apiAdminSetup,
		),
	)
	pendingStateCh := make(chan struct{}, 1)
	go func() {
		for ctx.Err() == nil {
			var runtimeState RuntimeConfig
			logger.InfoContext(ctx, "checking if runtime config exists yet")
			getRuntimeStateErr := t.db.Last(&runtimeState).Error
			if getRuntimeStateErr != nil {
				logger.ErrorContext(
					ctx,
					"error getting runtime state",
					tint.Err(getRuntimeStateErr),
				)
			}
			if runtimeState.AdminUsername != "" && runtimeState.AdminPassword != "" {
				pendingStateCh <- struct{}{}
				return
			}
			time.Sleep(5 * time.Second)
		}
	}()

	select {
	case <-ctx.Done():
		logger.WarnContext(ctx, "context cancelled waiting on setup, exiting")
		return t.shutdown(ctx, runtimeWG)
	case <-pendingStateCh:
		t.pendingSetup.Store(false)
	}

	return nil
}

// discordInit opens the discord websocket connection and sets the
// bot's custom status
func (t *TriviaBot) discordInit(
	ctx context.Context,
	runtimeCfg RuntimeConfig,
	logger *slog.Logger,
) error {
	t.logger.InfoContext(ctx, "connecting to discord")
	if err := t.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	if runtimeCfg.DiscordCustomStatus != "" && !t.paused.Load() {
		go func() {
			if statusErr := t.discord.session.UpdateCustomStatus(
				runtimeCfg.DiscordCustomStatus,
			); statusErr != nil {
				logger.Error("error updating discord status", tint.Err(statusErr))
			}
		}()
	}
	return nil
}

func (t *TriviaBot) catchupAndWatchQueue(ctx context.Context, logger *slog.Logger) {
	logger.InfoContext(ctx, "starting round catchup")
	if catchupErr := t.catchupInterruptedRounds(ctx); catchupErr != nil {
		logger.ErrorContext(
			ctx,
			"error catching up interrupted rounds",
			tint.Err(catchupErr),
		)
	}
	logger.InfoContext(ctx, "starting queue watcher")
	t.watchQueue(ctx)
	logger.InfoContext(ctx, "queue watcher done")
}

func (t *TriviaBot) startUserCacheRefresher(ctx context.Context, runtimeWG *sync.WaitGroup) {
	userCacheTTL := t.config.UserCacheTTL

	var lastRefresh time.Time

	if userCacheTTL > 0 {
		ticker := time.NewTicker(t.config.UserCacheTTL)
		defer ticker.Stop()

		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case t.triggerUserCacheRefreshCh <- false:
				//
				case <-time.After(15 * time.Second):
					t.logger.Info("timed out sending user cache refresh signal")
				}
			}
		}()
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		for {
			select {
			case <-ctx.Done():
				t.logger.Info("context canceled, stopping user cache refresher")
				return
			case forceRefresh := <-t.triggerUserCacheRefreshCh:
				if forceRefresh || lastRefresh.IsZero() {
					t.logger.Info("force-reloading cache")
					t.refreshUserCache(ctx)
					lastRefresh = time.Now()
					t.logger.Info("finished reloading")
				} else {
					elapsed := time.Since(lastRefresh)
					if elapsed > userCacheTTL {
						t.logger.Info("reloading cache")
						t.refreshUserCache(ctx)
						lastRefresh = time.Now()
						t.logger.Info("finished reloading")
					} else {
						t.logger.Info("recently refreshed, ignoring")
					}
				}
			}
		}
	}()
}

func (t *TriviaBot) startUserUpdatedListener(ctx context.Context, runtimeWG *sync.WaitGroup) {
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		for {
			select {
			case <-ctx.Done():
				t.logger.Info("context canceled, stopping user updated listener")
				return
			case userID := <-t.triggerUserUpdatedRefreshCh:
				if userID == "" {
					t.logger.Warn("empty user ID received, skipping refresh")
					continue
				}
				t.refreshUser(userID)
			}
		}
	}()
}

func (t *TriviaBot) refreshUser(userID string) {
	t.logger.Info("reloading user", "user_id", userID)
	user := t.writeDB.ReloadUser(userID)
	t.logger.Info("reloaded user", "user_id", userID)

	t.userWorkerMu.RLock()
	defer t.userWorkerMu.RUnlock()

	worker := t.userWorkers[user.ID]
	if worker != nil {
		worker.userMu.Lock()
		defer worker.userMu.Unlock()
		worker.user = user
	}
}

// startRuntimeConfigRefresher starts the cache refresher goroutine. This
// periodically refreshes [RuntimeConfig] from the database.
func (t *TriviaBot) startRuntimeConfigRefresher(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
	logger *slog.Logger,
) {
	runtimeConfigTTL := t.config.RuntimeConfigTTL

	if runtimeConfigTTL > 0 {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			ticker := time.NewTicker(runtimeConfigTTL)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					select {
					case t.triggerRuntimeConfigRefreshCh <- false:
						logger.Info("sent cache refresh signal from ticker")
					case <-time.After(5 * time.Second):
						logger.Warn("timed out sending config refresh signal")
					}
				}
			}
		}()
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case forceRefresh := <-t.triggerRuntimeConfigRefreshCh:
				refreshCh := make(chan struct{}, 1)
				refreshCtx, refreshCancel := context.WithTimeout(ctx, 30*time.Second)
				go func() {
					t.refreshRuntimeConfig(refreshCtx, forceRefresh)
					refreshCh <- struct{}{}
				}()
				select {
				case <-refreshCh:
				//
				case <-refreshCtx.Done():
					t.logger.Warn("refresh runtime config timed out or interrupted")
				}
				refreshCancel()
			}
		}
	}()
}

func (t *TriviaBot) refreshRuntimeConfig(ctx context.Context, force bool) {
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()

	runtimeConfigTTL := t.config.RuntimeConfigTTL
	rollbackConfig := t.runtimeConfig

	var refreshConfig RuntimeConfig
	if err := t.db.WithContext(ctx).Last(&refreshConfig).Error; err != nil {
		t.logger.Error("error getting runtime config", tint.Err(err))
		return
	}

	lastUpdated := time.Since(time.UnixMilli(refreshConfig.UpdatedAt))
	if force || lastUpdated > runtimeConfigTTL {
		t.logger.Info(
			fmt.Sprintf(
				"runtime config last updated: %s ago, refreshing",
				lastUpdated.String(),
			),
		)
		t.unsafeRefreshRuntimeConfig(rollbackConfig, &refreshConfig)
	} else {
		t.logger.Info("runtime config is up to date, skipping refresh")
	}
}

// unsafeRefreshRuntimeConfig refreshes the runtime configuration without
// locking the config mutex.
func (t *TriviaBot) unsafeRefreshRuntimeConfig(
	rollbackConfig *RuntimeConfig,
	existingConfig *RuntimeConfig,
) {
	t.logger.Info("refreshing runtime configuration and user cache")
	switch {
	case existingConfig.Paused:
		if !rollbackConfig.Paused {
			if discErr := t.discord.session.UpdateStatusComplex(
				discordgo.UpdateStatusData{
					AFK:    true,
					Status: string(discordgo.StatusDoNotDisturb),
				},
			); discErr != nil {
				t.logger.Error("error updating discord status", tint.Err(discErr))
			}
		}
	case existingConfig.DiscordCustomStatus != rollbackConfig.DiscordCustomStatus:
		if discErr := t.discord.session.UpdateCustomStatus(
			existingConfig.DiscordCustomStatus,
		); discErr != nil {
			t.logger.Error("error updating discord status", tint.Err(discErr))
		}
	}

	t.runtimeConfig = existingConfig
	t.setRuntimeLevels(*existingConfig)

	t.logger.Info("refreshed runtime config")
}

func (t *TriviaBot) refreshUserCache(_ context.Context) {
	t.writeDB.UserCacheLock()
	defer t.writeDB.UserCacheUnlock()
	_ = t.writeDB.LoadUsers()
}

func (t *TriviaBot) shutdown(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	t.logger.WarnContext(ctx, "shutting down")
	defer func() {
		if t.eventShutdown != nil {
			go func() {
				t.eventShutdown <- struct{}{}
			}()
		}
	}()
	shutdownStart := time.Now()
	shutdownTimeout := t.config.ShutdownTimeout
	if shutdownTimeout.Seconds() == 0 {
		t.logger.Warn("immediate shutdown")
		go func() {
			_ = t.api.httpServer.Close()
		}()
		return fmt.Errorf("request worker did not stop in time")
	}
	shutdownDeadline := shutdownStart.Add(shutdownTimeout)

	shutdownAnnouncementInterval := 10 * time.Second

	announcementTicker := time.NewTicker(shutdownAnnouncementInterval)
	defer announcementTicker.Stop()

	t.logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_timeout", t.config.ShutdownTimeout,
		"shutdown_started", shutdownStart,
		"shutdown_deadline", shutdownDeadline,
	)

	closeCtx, closeCancel := context.WithDeadline(
		context.Background(),
		shutdownDeadline,
	)
	defer closeCancel()

	// Graceful shutdown - at least until closeCtx is closed
	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait() // wait for anything spawned by the main processes
		runtimeStopEnd := time.Now()
		t.logger.InfoContext(
			ctx,
			"finished handling in-flight requests",
			"shutdown_started", shutdownStart,
			"runtime_stopped", runtimeStopEnd,
			"runtime_stop_duration", runtimeStopEnd.Sub(shutdownStart),
		)
		stopWG := &sync.WaitGroup{}

		// flush the queue
		if t.requestQueue != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				queueSize := t.requestQueue.Len()
				if err := t.requestQueue.Clear(context.Background()); err != nil {
					t.logger.ErrorContext(ctx, "error clearing queue", tint.Err(err))
				}
				t.logger.InfoContext(
					ctx,
					"purged request queue",
					"count", queueSize,
				)
			}()
		}

		stopWG.Add(1)
		go func() {
			defer stopWG.Done()

			t.userWorkerMu.Lock()
			defer t.userWorkerMu.Unlock()

			if t.userWorkers != nil {
				for wid, worker := range t.userWorkers {
					stopWG.Add(1)
					go func(workerID string, w *userRoundWorker) {
						defer stopWG.Done()
						t.logger.Info(
							fmt.Sprintf(
								"sending stop signal to worker for user '%s'",
								workerID,
							),
						)
						w.signalStop <- struct{}{}
						t.logger.Info(
							fmt.Sprintf(
								"sent stop signal to user worker '%s' - waiting on confirmation",
								workerID,
							),
						)
						<-w.stopped
						t.logger.Info(
							fmt.Sprintf(
								"confirmed worker '%s' stopped",
								workerID,
							),
						)
					}(wid, worker)
				}
			}
			t.userWorkers = map[string]*userRoundWorker{}
		}()

		if t.api.httpServer != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				t.logger.InfoContext(ctx, "stopping http server")
				_ = t.api.httpServer.Shutdown(closeCtx)
				t.logger.InfoContext(ctx, "http server stopped")
			}()
		}

		if t.discord.session != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				t.logger.InfoContext(ctx, "closing discord session")
				_ = t.discord.session.Close()
				t.logger.InfoContext(ctx, "discord session closed")
				if len(t.discord.discordgoRemoveHandlerFuncs) > 0 {
					t.logger.InfoContext(
						ctx,
						fmt.Sprintf(
							"removing %d discord handlers",
							len(t.discord.discordgoRemoveHandlerFuncs),
						),
					)
					for _, h := range t.discord.discordgoRemoveHandlerFuncs {
						h()
					}
					t.logger.InfoContext(ctx, "finished removing handlers")
				}
			}()
		}

		// wait on the above, then send a signal that we're done
		go func() {
			t.logger.InfoContext(ctx, "waiting graceful shutdown")
			stopWG.Wait()
			gracefulShutdownCh <- struct{}{}
			t.logger.InfoContext(ctx, "stopped http/discord")
		}()
	}()

	// if we get a signal on gracefulShutdownCh, everything stopped and
	// cleaned up normally.
	// otherwise, burn it all down!
	for {
		select {
		case <-gracefulShutdownCh:
			closeCancel()
			shutdownEnded := time.Now()
			t.logger.InfoContext(
				ctx,
				"shutdown complete",
				"shutdown_ended", shutdownEnded,
				"shutdown_duration", shutdownEnded.Sub(shutdownStart),
			)
			return nil
		case <-announcementTicker.C:
			remaining := time.Until(shutdownDeadline)
			t.logger.Warn(
				fmt.Sprintf(
					"time until hard shutdown: %s",
					remaining.String(),
				),
			)
		case <-closeCtx.Done(): // timed out, force-close everything
			t.logger.Warn("request worker did not stop in time, forcing close")

			go func() {
				_ = t.api.httpServer.Close()
			}()

			return fmt.Errorf("request worker did not stop in time")
		}
	}
}

// setRuntimeLevels sets the logging levels and request limits for
// various components based on the provided runtime configuration.
func (t *TriviaBot) setRuntimeLevels(state RuntimeConfig) {
	t.config.LogLevel.Set(state.LogLevel.Level())
	t.config.OpenAI.LogLevel.Set(state.OpenAILogLevel.Level())
	t.config.Discord.LogLevel.Set(state.DiscordLogLevel.Level())
	t.config.API.LogLevel.Set(state.APILogLevel.Level())
	t.config.Discord.DiscordGoLogLevel.Set(state.DiscordGoLogLevel.Level())
	t.config.DatabaseLogLevel.Set(state.DatabaseLogLevel.Level())
	if t.openai.requestLimiter == nil {
		t.openai.requestLimiter = rate.NewLimiter(
			rate.Limit(state.OpenAIMaxRequestsPerSecond),
			1,
		)
	} else {
		t.openai.requestLimiter.SetLimit(rate.Limit(state.OpenAIMaxRequestsPerSecond))
	}
}

func (t *TriviaBot) initRun(startCtx context.Context) error {
	t.logger.Debug("initializing DB...")
	if err := t.initDB(startCtx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	t.logger.Debug("finished initializing DB")

	// load or create the DB state config - this tells the bot whether
	// it should start in a 'paused' state (to avoid a potential scenario
	// where we want to keep it paused, but it crashes and restarts in
	// an active state)
	var botState RuntimeConfig

	getStateErr := t.db.Last(&botState).Error
	if getStateErr != nil {
		if errors.Is(getStateErr, gorm.ErrRecordNotFound) {
			t.pendingSetup.Store(true)
			botState = DefaultRuntimeConfig()
			if t.config.DefaultPersona != "" && validPersona(t.config.DefaultPersona) {
				botState.DefaultPersona = t.config.DefaultPersona
			}

			if _, err := t.writeDB.Create(startCtx, &botState); err != nil {
				return fmt.Errorf("error creating config: %w", err)
			}
		} else {
			return fmt.Errorf("error getting config: %w", getStateErr)
		}
	}
	if validationErr := structValidator.Struct(botState); validationErr != nil {
		return fmt.Errorf("invalid runtime config: %w", validationErr)
	}

	if botState.AdminUsername == "" || botState.AdminPassword == "" {
		t.pendingSetup.Store(true)
	}
	t.paused.Store(botState.Paused)
	t.setRuntimeLevels(botState)
	t.runtimeConfig = &botState

	return nil
}

func (t *TriviaBot) initDB(ctx context.Context) error {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = t.logger
	}

	handler := tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     t.config.DatabaseLogLevel,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, t.config.DatabaseSlowThreshold)
	db, err := getDB(t.config.DatabaseType, t.config.Database, gormLogger)

	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}

	t.db = db

	t.writeDB = NewDatabase(db, nil, t.config.DatabaseType == dbTypePostgres)
	t.requestQueue.db = t.writeDB

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("error getting database connection: %w", err)
	}

	if t.config.DatabaseType == dbTypeSQLite {
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		if sqliteExecPragma != nil {
			pragmaErrors := make([]error, 0, len(sqliteExecPragma))
			for _, p := range sqliteExecPragma {
				pragmaErrors = append(
					pragmaErrors,
					db.WithContext(ctx).Exec(p).Error,
				)
			}
			pragmaErr := errors.Join(pragmaErrors...)
			if pragmaErr != nil {
				return pragmaErr
			}
		}
	}

	logger.Debug("migrating database...")
	txn := db.WithContext(ctx).Begin()

	mg := txn.Migrator()
	err = mg.AutoMigrate(
		&User{},
		&Question{},
		&Round{},
		&UserStats{},
		&OpenAIAPILog{},
		&RuntimeConfig{},
		&InteractionLog{},
		&DiscordMessage{},
	)
	if err != nil {
		logger.Error("error migrating database", tint.Err(err))
		return fmt.Errorf("error migrating database: %w", err)
	}
	logger.Debug("finished migrating database")

	commitErr := txn.Commit().Error
	if commitErr != nil {
		return fmt.Errorf("error committing transaction: %w", commitErr)
	}
	_ = t.writeDB.LoadUsers()
	return nil
}

func (t *TriviaBot) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	logger := t.logger.With(loggerNameKey, "discord_session")

	if t.discord.session == nil {
		disc, discErr := t.discord.newSession()
		if discErr != nil {
			return fmt.Errorf("error creating discord session: %w", discErr)
		}
		t.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)

	if len(t.discord.discordgoRemoveHandlerFuncs) > 0 {
		for _, h := range t.discord.discordgoRemoveHandlerFuncs {
			h()
		}
	}

	identify := discordgo.Identify{
		Intents:  t.config.Discord.GatewayIntents,
		Presence: getDiscordPresenceStatusUpdate(t.RuntimeConfig()),
	}
	t.discord.session.SetIdentify(identify)

	t.discord.discordgoRemoveHandlerFuncs = []func(){
		t.discord.session.AddHandler(t.discord.handlerConnect()),
		t.discord.session.AddHandler(t.discord.handlerDisconnect()),
		t.discord.session.AddHandler(t.discord.handlerReady()),
		t.discord.session.AddHandler(t.discord.handlerGuildCreate()),
		t.discord.session.AddHandler(t.discord.handlerGuildDelete()),
		t.discord.session.AddHandler(
			func(
				_ *discordgo.Session,
				i *discordgo.InteractionCreate,
			) {
				handler := t.getInteractionHandlerFunc(ctx, i)
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					t.handleInteraction(ctx, handler)
				}()
			},
		),
		t.discord.session.AddHandler(
			func(
				_ *discordgo.Session,
				m *discordgo.MessageCreate,
			) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					t.handleDiscordMessage(ctx, m)
				}()
			},
		),
	}

	if t.getInteractionHandlerFunc == nil {
		t.getInteractionHandlerFunc = func(
			_ context.Context,
			i *discordgo.InteractionCreate,
		) InteractionHandler {
			handler := GatewayHandler{
				session:     t.discord.session,
				interaction: i,
				config:      t.RuntimeConfig().CommandOptions,
				mu:          &sync.RWMutex{},
				logger: t.logger.With(
					slog.Group(
						"interaction",
						interactionLogAttrs(*i)...,
					),
				),
			}
			return handler
		}
	}
	return nil
}

// Pause 'pauses' the bot. While paused, new rounds won't be queued or
// executed - unless User.Priority is set. In that case, that user's
// incoming rounds will be queued, though not executed until the bot
// is resumed.
func (t *TriviaBot) Pause(ctx context.Context) bool {
	prev := t.paused.Swap(true)
	if prev {
		return false
	}

	if err := t.discord.updateStatusComplex(
		discordgo.UpdateStatusData{
			AFK:    true,
			Status: string(discordgo.StatusDoNotDisturb),
		},
	); err != nil {
		t.logger.ErrorContext(ctx, "unable to update afk status", tint.Err(err))
	}
	if !t.runtimeConfig.Paused {
		if _, err := t.writeDB.Update(
			ctx,
			t.runtimeConfig,
			columnRuntimeConfigPaused,
			true,
		); err != nil {
			t.logger.ErrorContext(ctx, "unable to set paused in db", tint.Err(err))
		}
	}
	return true
}

// Resume resumes command processing. It returns a bool indicating whether
// the bot was paused at the time the function was called.
func (t *TriviaBot) Resume(ctx context.Context) bool {
	prev := t.paused.Swap(false)
	if !prev {
		t.logger.Warn("bot not paused")
		return false
	}
	t.logger.InfoContext(ctx, "bot resumed")

	if err := t.discord.updateCustomStatus(t.runtimeConfig.DiscordCustomStatus); err != nil {
		t.logger.ErrorContext(ctx, "unable to update online status", tint.Err(err))
	}

	if t.runtimeConfig.Paused {
		if _, err := t.writeDB.Update(
			ctx, t.runtimeConfig, columnRuntimeConfigPaused, false,
		); err != nil {
			t.logger.ErrorContext(ctx, "unable to set resumed in db", tint.Err(err))
		}
	}

	return true
}

// watchQueue is the main loop for handling queued trivia rounds.
func (t *TriviaBot) watchQueue(ctx context.Context) {
	defer func() {
		t.logger.InfoContext(
			ctx,
			"queue watcher stopped",
			"queue_size",
			t.requestQueue.Len(),
		)
	}()

	t.requestQueue.requestCh = make(chan *Round)

	wg := &sync.WaitGroup{}
	defer func() {
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer func() {
			close(t.requestQueue.requestCh)
			wg.Done()
		}()

		for ctx.Err() == nil {
			if t.paused.Load() {
				t.logger.DebugContext(ctx, "currently paused, sleeping")
				time.Sleep(t.requestQueue.config.SleepPaused)
				continue
			}

			req := t.requestQueue.Pop(ctx)

			if req == nil {
				t.logger.DebugContext(
					ctx,
					"no pending rounds, sleeping",
					"sleep_duration", t.requestQueue.config.SleepEmpty,
				)
				time.Sleep(t.requestQueue.config.SleepEmpty)
				continue
			}

			logger := t.logger.With(
				slog.Group("round", roundLogAttrs(*req)...),
			)

			if req.State == RoundStateQueued {
				logger.InfoContext(ctx, "popped round")
			} else {
				logger.WarnContext(
					ctx,
					fmt.Sprintf(
						"expected state '%s', got: '%s'",
						RoundStateQueued,
						req.State,
					),
				)
			}

			t.requestQueue.requestCh <- req
		}
	}()

	for req := range t.requestQueue.requestCh {
		logger := t.logger.With(
			slog.Group("round", roundLogAttrs(*req)...),
		)

		reqAge := req.Age()
		if t.config.Queue.MaxAge > 0 && reqAge > t.config.Queue.MaxAge {
			req.State = RoundStateExpired
			logger.WarnContext(
				ctx,
				"discarded old round",
				"round", req,
			)

			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := t.writeDB.Update(
					ctx,
					req,
					columnRoundState,
					RoundStateExpired,
				); err != nil {
					logger.ErrorContext(
						ctx,
						"failed to update expired round",
						tint.Err(err),
					)
				}
			}()
			continue
		}

		if req.User != nil && req.User.Ignored {
			logger.WarnContext(ctx, "ignoring blocked user round")

			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := t.writeDB.Update(
					ctx,
					req,
					columnRoundState,
					RoundStateIgnored,
				); err != nil {
					logger.ErrorContext(
						ctx,
						"failed to update ignored round",
						tint.Err(err),
					)
				}
			}()

			continue
		}

		startedAt := time.Now()
		req.StartedAt = &startedAt

		userWorker := t.getUserWorker(ctx, req.User)

		sendCtx, sendCancel := context.WithTimeout(ctx, UserWorkerSendTimeout)

		select {
		case userWorker.roundCh <- req:
			sendCancel()
		case <-sendCtx.Done():
			// If we can't immediately send the round to the user
			// worker, a round is already in progress. Tell the user
			// we're still on their previous question, then delete
			// that semi-temporary message after 20 seconds.
			logger.WarnContext(ctx, "timed out sending round to user worker")
			wg.Add(1)
			go func(r *Round) {
				reqCtx := ctx
				config := r.handler.Config()
				if config.RecoverPanic {
					defer func() {
						if rc := recover(); rc != nil {
							t.handleRecover(reqCtx, rc)
						}
					}()
				}
				defer wg.Done()

				reqLogger, ok := ContextLogger(reqCtx)
				if reqLogger == nil || !ok {
					reqLogger = slog.Default()
				}
				reqLogger = reqLogger.With(
					slog.Group("round", roundLogAttrs(*r)...),
				)
				reqCtx = WithLogger(reqCtx, reqLogger)

				reqLogger.WarnContext(
					reqCtx,
					"round already in progress for user",
				)
				responseMsg := config.DiscordRateLimitMessage
				finishedAt := time.Now()

				swg := &sync.WaitGroup{}
				swg.Add(1)
				go func() {
					defer swg.Done()
					if _, err := t.writeDB.RoundUpdates(
						reqCtx,
						r,
						map[string]any{
							columnRoundState:      RoundStateRateLimited,
							columnRoundStep:       "",
							columnRoundFinishedAt: &finishedAt,
							columnRoundStartedAt:  &startedAt,
							columnRoundResponse:   &responseMsg,
						},
					); err != nil {
						reqLogger.ErrorContext(
							reqCtx,
							"error saving rate limited round",
							tint.Err(err),
						)
					}
				}()

				swg.Add(1)
				go func() {
					defer swg.Done()
					_, editErr := r.handler.Edit(
						reqCtx,
						&discordgo.WebhookEdit{Content: &responseMsg},
					)
					if editErr != nil {
						reqLogger.WarnContext(
							reqCtx,
							"failed to edit message",
							tint.Err(editErr),
						)
						return
					}
					reqLogger.InfoContext(
						reqCtx,
						fmt.Sprintf(
							"temporary busy message will be deleted in: %s",
							busyInteractionDeleteDelay.String(),
						),
					)
					deleteTimer := time.NewTimer(busyInteractionDeleteDelay)
					t.messageDeleteTimersRunning.Add(1)
					defer func() {
						t.messageDeleteTimersRunning.Add(-1)
						deleteTimer.Stop()
						select {
						case <-deleteTimer.C:
							//
						default:
							//
						}
					}()
					select {
					case <-ctx.Done():
						reqLogger.InfoContext(
							reqCtx,
							"context cancelled, deleting rate-limited interaction response NOW",
						)
						delCtx, delCancel := context.WithTimeout(
							context.Background(),
							5*time.Second,
						)
						defer delCancel()
						r.handler.Delete(
							ctx,
							discordgo.WithRetryOnRatelimit(false),
							discordgo.WithContext(delCtx),
						)
					case <-deleteTimer.C:
						reqLogger.InfoContext(
							reqCtx,
							"deleting rate-limited interaction response",
						)
						r.handler.Delete(ctx)
					}
				}()
				swg.Wait()
			}(req)
		}
		sendCancel()
	}
}

// GetOrCreateUser will retrieve an existing (cached) User to return,
// or will create a new User record if one doesn't already exist for
// the given user's ID.
func (t *TriviaBot) GetOrCreateUser(
	ctx context.Context, u discordgo.User,
) (user *User, isNew bool, err error) {
	user, isNew, err = t.writeDB.GetOrCreateUser(ctx, t, u)
	if isNew {
		go t.discordNotifyNewUserSeen(ctx, user.Username, user.GlobalName, user.ID)
	}
	return user, isNew, err
}

func (t *TriviaBot) discordNotifyNewUserSeen(
	ctx context.Context,
	username string,
	globalName string,
	userID string,
) {
	log, ok := ContextLogger(ctx)
	if !ok || log == nil {
		log = t.logger
	}
	log = log.With(
		slog.Group(
			"new_user",
			"id", userID,
			"username", username,
			"global_name", globalName,
		),
	)
	log.Info("saw new user!")
	channelID := t.RuntimeConfig().DiscordNotificationChannelID
	if channelID == "" {
		log.Debug("no channel id set, not notifying of new user")
		return
	}
	if sendErr := t.discord.channelMessageSend(
		channelID,
		fmt.Sprintf(
			"**New player!** GlobalName: `%s` Username: `%s` UserID: `%s`",
			globalName,
			username,
			userID,
		),
		discordgo.WithContext(ctx),
		discordgo.WithRetryOnRatelimit(false),
	); sendErr != nil {
		log.Error("error sending new user notification", tint.Err(sendErr))
	}
}

// handleRecover handles the recovery from a panic in a goroutine. This is
// intended to be used when executing slash commands, and should only
// be used when [RuntimeConfig.RecoverPanic] is enabled.
func (*TriviaBot) handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	if nerr, ok := rc.(error); ok {
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(nerr),
			"stack_trace", stackTrace,
		)
		return
	}
	if nerr, ok := rc.(string); ok {
		logger.ErrorContext(
			ctx,
			"recovered from panic",
			tint.Err(errors.New(nerr)),
			"stack_trace", stackTrace,
		)
		return
	}
	logger.ErrorContext(
		ctx,
		"recovered from panic",
		"panic_arg", rc,
		"stack_trace", stackTrace,
	)
}

// InteractionHandler defines the interface for responding to Discord
// interactions. [GatewayHandler] is the production implementation;
// tests substitute their own.
type InteractionHandler interface {
	// Respond sends an initial response to a Discord interaction.
	Respond(ctx context.Context, i *discordgo.InteractionResponse) error

	// GetResponse retrieves the current response for an interaction.
	GetResponse(ctx context.Context) (*discordgo.Message, error)

	// Edit modifies an existing interaction response.
	Edit(
		ctx context.Context,
		e *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// Followup creates a followup message for the interaction.
	Followup(
		ctx context.Context,
		params *discordgo.WebhookParams,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// Delete removes an interaction response.
	Delete(ctx context.Context, opts ...discordgo.RequestOption)

	// GetInteraction returns the original InteractionCreate event.
	GetInteraction() *discordgo.InteractionCreate

	// Logger returns the logger associated with this handler.
	Logger() *slog.Logger

	// Config returns the command options for this handler.
	Config() CommandOptions
}

// GatewayHandler implements [InteractionHandler] for interactions
// received via the discord websocket gateway.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
	config      CommandOptions
	mu          *sync.RWMutex
}

func (w GatewayHandler) Config() CommandOptions {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := w.session.InteractionRespond(w.interaction.Interaction, response)
	if err != nil {
		w.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	} else {
		w.logger.InfoContext(ctx, "responded to interaction")
	}
	return err
}

func (w GatewayHandler) GetResponse(ctx context.Context) (
	*discordgo.Message,
	error,
) {
	msg, err := w.session.InteractionResponse(
		w.interaction.Interaction,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error getting interaction", tint.Err(err))
	} else {
		w.logger.InfoContext(ctx, "got interaction response", "message", msg)
	}
	return msg, err
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Edit(
	ctx context.Context,
	wh *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.InteractionResponseEdit(
		w.interaction.Interaction,
		wh,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	} else {
		w.logger.InfoContext(ctx, "edited interaction")
	}
	return msg, err
}

func (w GatewayHandler) Followup(
	ctx context.Context,
	params *discordgo.WebhookParams,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.FollowupMessageCreate(
		w.interaction.Interaction,
		true,
		params,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error sending followup message", tint.Err(err))
	} else {
		w.logger.InfoContext(ctx, "sent followup message", "message", msg)
	}
	return msg, err
}

func (w GatewayHandler) Delete(ctx context.Context, opts ...discordgo.RequestOption) {
	err := w.session.InteractionResponseDelete(
		w.interaction.Interaction,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error deleting interaction response", tint.Err(err))
	}
}

func (w GatewayHandler) Logger() *slog.Logger {
	return w.logger
}

// handleInteraction processes incoming Discord interactions.
//
// Game commands (/trivia, and the informational commands that may call
// OpenAI) are acknowledged with a deferred response up front, then
// dispatched; /trivia rounds are queued rather than run inline. The
// remaining commands (/answer, /skip, /persona, /ping, /status) respond
// on their own, since /answer and /skip need to check for an active
// round before deciding how to respond.
func (t *TriviaBot) handleInteraction(
	ctx context.Context,
	handler InteractionHandler,
) {
	interaction := handler.GetInteraction()
	logger := handler.Logger()

	i := handler.GetInteraction()
	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(
			ctx,
			"no user found in interaction",
			"interaction", structToSlogValue(i),
		)
		return
	}

	logger = logger.With(slog.Group("interaction", interactionLogAttrs(*i)...))
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(ctx, "received new interaction", "user", structToSlogValue(discordUser))

	interactionLog, err := newInteractionLog(i, discordUser)
	if err != nil {
		logger.ErrorContext(ctx, "error marshaling interaction", tint.Err(err))
	}

	wg := &sync.WaitGroup{}
	defer wg.Wait()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, createErr := t.writeDB.Create(
			context.WithoutCancel(ctx),
			interactionLog,
		); createErr != nil {
			logger.ErrorContext(ctx, "error logging interaction", tint.Err(createErr))
		}
	}()

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring", "user", discordUser)
		return
	}

	switch interaction.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(
			ctx, &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponsePong,
			},
		)
	case discordgo.InteractionApplicationCommand:
		commandName := i.ApplicationCommandData().Name

		u, _, e := t.GetOrCreateUser(ctx, *discordUser)

		if e != nil {
			logger.ErrorContext(ctx, "error getting user", tint.Err(e))

			wg.Add(1)
			go func() {
				defer wg.Done()
				handler.Delete(ctx)
			}()

			return
		}

		logger = logger.With(slog.Group("user", userLogAttrs(*u)...))
		ctx = WithLogger(ctx, logger)

		// ignore any interactions from ignored users, or from
		// non-priority users while the bot is paused
		if u.Ignored || (t.paused.Load() && !u.Priority) {
			wg.Add(1)
			go func() {
				defer wg.Done()
				t.handleIgnoredUserCommand(ctx, handler, u, i)
			}()

			return
		}

		switch commandName {
		case DiscordSlashCommandTrivia:
			if ackErr := handler.Respond(ctx, t.discord.ackResponse(commandName)); ackErr != nil {
				logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(ackErr))
				return
			}

			round := NewRound(i, u)
			round.handler = handler
			round.logger = logger

			if _, createErr := t.writeDB.Create(ctx, round); createErr != nil {
				logger.ErrorContext(ctx, "error creating round", tint.Err(createErr))
				t.finalizeRejectedRound(
					ctx,
					round,
					RoundStateFailed,
					handler.Config().DiscordErrorMessage,
				)
				return
			}

			msg, respErr := handler.GetResponse(ctx)
			if respErr != nil {
				logger.Error("error getting interaction response", tint.Err(respErr))
				t.finalizeRejectedRound(
					ctx,
					round,
					RoundStateFailed,
					handler.Config().DiscordErrorMessage,
				)
				return
			}

			round.Acknowledged = true
			if round.DiscordMessageID == "" && msg != nil {
				round.DiscordMessageID = msg.ID
			}

			if _, updErr := t.writeDB.Updates(
				ctx,
				round,
				map[string]any{
					columnRoundAcknowledged:     round.Acknowledged,
					columnRoundDiscordMessageID: round.DiscordMessageID,
				},
			); updErr != nil {
				logger.ErrorContext(ctx, "error updating round", tint.Err(updErr))
				t.finalizeRejectedRound(
					ctx,
					round,
					RoundStateFailed,
					handler.Config().DiscordErrorMessage,
				)
				return
			}

			logger = logger.With(
				slog.Group("round", roundLogAttrs(*round)...),
			)
			ctx = WithLogger(ctx, logger)

			if pushErr := t.requestQueue.Push(ctx, round, t.writeDB); pushErr != nil {
				logger.ErrorContext(ctx, "error enqueuing round", tint.Err(pushErr))
				if errors.Is(pushErr, ErrRoundTooOld) {
					content := "Sorry, that took too long - try again!"
					if _, editErr := handler.Edit(
						ctx,
						&discordgo.WebhookEdit{Content: &content},
					); editErr != nil {
						logger.WarnContext(ctx, "failed to edit message", tint.Err(editErr))
					}
				}
			}
		case DiscordSlashCommandStats:
			if ackErr := handler.Respond(ctx, t.discord.ackResponse(commandName)); ackErr != nil {
				logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(ackErr))
				return
			}
			t.handleStatsCommand(ctx, handler, u)
		case DiscordSlashCommandLeaderboard:
			if ackErr := handler.Respond(ctx, t.discord.ackResponse(commandName)); ackErr != nil {
				logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(ackErr))
				return
			}
			t.handleLeaderboardCommand(ctx, handler)
		case DiscordSlashCommandRoast:
			if ackErr := handler.Respond(ctx, t.discord.ackResponse(commandName)); ackErr != nil {
				logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(ackErr))
				return
			}
			t.handleRoastCommand(ctx, handler, u)
		case DiscordSlashCommandCompare:
			if ackErr := handler.Respond(ctx, t.discord.ackResponse(commandName)); ackErr != nil {
				logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(ackErr))
				return
			}
			t.handleCompareCommand(ctx, handler, u)
		case DiscordSlashCommandAnswer:
			t.handleAnswerCommand(ctx, handler, u)
		case DiscordSlashCommandSkip:
			t.handleSkipCommand(ctx, handler, u)
		case DiscordSlashCommandPersona:
			t.handlePersonaCommand(ctx, handler, u)
		case DiscordSlashCommandPing:
			t.handlePingCommand(ctx, handler)
		case DiscordSlashCommandStatus:
			t.handleStatusCommand(ctx, handler)
		default:
			logger.WarnContext(ctx, "unknown command", "command_name", commandName)
		}
	}
}

// handleIgnoredUserCommand processes commands from users who are
// marked as ignored, or from non-priority users while the bot is
// paused. For /trivia, a Round record is still created (in an ignored
// state) so the attempt is visible in the admin API.
func (t *TriviaBot) handleIgnoredUserCommand(
	ctx context.Context,
	handler InteractionHandler,
	u *User,
	i *discordgo.InteractionCreate,
) {
	logger := handler.Logger()
	commandName := i.ApplicationCommandData().Name
	logger.InfoContext(
		ctx,
		"handling ignored user interaction",
		"command_name", commandName,
	)
	if commandName != DiscordSlashCommandTrivia {
		return
	}

	round := NewRound(i, u)
	round.handler = handler
	round.State = RoundStateIgnored

	if _, e := t.writeDB.Create(ctx, round); e != nil {
		logger.ErrorContext(ctx, "error saving round record", tint.Err(e))
	} else {
		logger.InfoContext(
			ctx,
			"created new (ignored) round",
			"round", round,
		)
	}
}

// waitForPause blocks until the bot is in an "unpaused" state.
// A bool is returned indicating whether the bot was paused at the
// time the function was called.
func (t *TriviaBot) waitForPause(ctx context.Context) bool {
	if !t.paused.Load() {
		return false
	}

	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = t.logger
	}

	logger.Info("bot is paused, waiting for resume")
	for ctx.Err() == nil {
		if !t.paused.Load() {
			logger.Debug("bot resumed")
			break
		}
		time.Sleep(WaitForResumeCheckInterval)
	}
	return true
}

// handleDiscordMessage processes incoming Discord messages that mention
// the bot or are in response to a bot interaction.
//
// The owner-only '!sync' text command re-registers the bot's slash
// commands and replies with the result.
//
// Messages which are replies to a known bot interaction, or which
// mention the bot, are saved as [DiscordMessage] records. If a reply
// references a round whose [Round.DiscordMessageID] is empty, the
// round is backfilled with the referenced message ID.
//
// If the message mentions ONLY the bot and isn't a reply, the bot
// responds with a short usage hint (unless the user is ignored).
func (t *TriviaBot) handleDiscordMessage(
	ctx context.Context,
	m *discordgo.MessageCreate,
) {
	ctx, logger := t.getLogger(ctx)

	logger.DebugContext(ctx, "saw message", "message", structToSlogValue(m))

	user := m.Author
	if user == nil && m.Member != nil {
		user = m.Member.User
	}
	if user == nil {
		logger.WarnContext(ctx, "couldn't find user in discord message")
		return
	}

	if user.Bot || user.ID == t.config.Discord.ApplicationID {
		logger.DebugContext(ctx, "ignoring message from bot", "user", user)
		return
	}

	if t.config.Discord.OwnerID != "" &&
		user.ID == t.config.Discord.OwnerID &&
		strings.TrimSpace(m.Content) == discordSyncCommand {
		t.handleSyncCommand(ctx, logger, m)
		return
	}

	if m.MentionEveryone {
		logger.DebugContext(
			ctx,
			"ignoring message mentioning everyone",
			"message",
			structToSlogValue(m),
		)
		return
	}

	if len(m.Mentions) == 0 && m.ReferencedMessage == nil {
		logger.DebugContext(
			ctx,
			"ignoring message with no mentions or interaction",
			"message",
			structToSlogValue(m),
		)
		return
	}

	dm := NewDiscordMessage(m.Message)

	mentionsBot := messageMentionsUser(
		m.Message,
		t.config.Discord.ApplicationID,
	)

	// if the bot isn't mentioned, and this isn't a reply to one of the
	// bot's own interactions, we ignore the message entirely
	if dm.InteractionID == "" && !mentionsBot {
		logger.Debug("no interaction, no mentions, ignoring")
		return
	}

	wg := &sync.WaitGroup{}
	defer wg.Wait()

	defer func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := t.writeDB.Create(context.WithoutCancel(ctx), &dm); err != nil {
				logger.ErrorContext(
					ctx,
					"error creating discord message log",
					tint.Err(err), "discord_message",
					dm,
				)
			} else {
				logger.InfoContext(
					ctx,
					"created new discord_message mentioning bot",
					"discord_message",
					dm,
				)
			}
		}()
	}()

	switch {
	case dm.InteractionID == "" && mentionsBot:
		mentionCount := len(m.Mentions)
		if mentionCount != 1 {
			logger.InfoContext(
				ctx,
				"multiple mentions, will not respond to message",
			)
			return
		}
		u, _, err := t.GetOrCreateUser(ctx, *user)
		if err != nil {
			logger.ErrorContext(ctx, "error getting or creating user", tint.Err(err))
			return
		}
		if u.Ignored {
			logger.WarnContext(
				ctx,
				"ignoring direct message from ignored user",
				"user", u,
			)
			return
		}
		if _, err := t.discord.session.ChannelMessageSendReply(
			m.ChannelID,
			"Hey! Start a round with `/trivia` - answer with `/answer`.",
			m.Reference(),
			discordgo.WithContext(ctx),
			discordgo.WithRetryOnRatelimit(false),
		); err != nil {
			logger.ErrorContext(ctx, "error sending greeting reply", tint.Err(err))
		}
	case dm.InteractionID != "":
		round := Round{}

		err := t.db.Select("id", columnRoundInteractionID, "discord_message_id").Take(
			&round,
			"interaction_id = ?",
			dm.InteractionID,
		).Error
		if err != nil {
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				logger.InfoContext(
					ctx,
					"no round found for interaction",
					"interaction_id",
					dm.InteractionID,
				)
			default:
				logger.ErrorContext(ctx, "error finding round", tint.Err(err))
			}
			return
		}

		logger.InfoContext(
			ctx,
			"found matching message",
			"discord_message",
			dm,
		)
		if round.DiscordMessageID == "" {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, updErr := t.writeDB.Update(
					ctx,
					&round,
					columnRoundDiscordMessageID,
					dm.ReferencedMessageID,
				); updErr != nil {
					logger.Error(
						"error updating round with new discord_message_id",
						tint.Err(updErr),
					)
				}
			}()
		}
	}
}

// handleSyncCommand re-registers the bot's slash commands in response
// to the owner-only '!sync' text command.
func (t *TriviaBot) handleSyncCommand(
	ctx context.Context,
	logger *slog.Logger,
	m *discordgo.MessageCreate,
) {
	logger.InfoContext(ctx, "owner requested command sync")
	commands, err := t.RegisterSlashCommands(discordgo.WithContext(ctx))

	replyContent := fmt.Sprintf("Synced %d commands.", len(commands))
	if err != nil {
		logger.ErrorContext(ctx, "error syncing commands", tint.Err(err))
		replyContent = "Command sync failed - check the logs."
	}

	if _, sendErr := t.discord.session.ChannelMessageSendReply(
		m.ChannelID,
		replyContent,
		m.Reference(),
		discordgo.WithContext(ctx),
	); sendErr != nil {
		logger.ErrorContext(ctx, "error replying to sync command", tint.Err(sendErr))
	}
}
