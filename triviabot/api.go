package triviabot

import (
	"context"
	cryprand "crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	pprofPrefix             = "/debug"
	apiPrefix               = "/api"
	apiPathPause            = "/pause"
	apiPathResume           = "/resume"
	apiPathQuit             = "/quit"
	apiPathLogin            = "/login"
	apiPathLogout           = "/logout"
	apiPathUpdateUser       = "/user/:id"
	apiPathUserHistory      = "/user/:id/history"
	apiPathUsers            = "/users"
	apiPathReloadUsers      = "/users/reload"
	apiPathRegisterCommands = "/discord/register_commands"
	apiPathLoggedIn         = "/logged_in"
	apiHealthCheck          = "/healthz"
	apiPathConfig           = "/config"
	apiAdminSetup           = "/admin/create"
	apiPathSetup            = "/setup"
	apiPathSetupStatus      = "/setup/status"
	apiListRounds           = "/rounds"
	apiPathGetRound         = "/round/:id"
	apiListQuestions        = "/questions"
	apiPathDiscordMessages  = "/discord_messages"
	apiPathOpenAILogs       = "/openai/logs"
)

const (
	xRequestIDHeader = "X-Request-ID"
	sessionVarName   = "user"
	sessionVarField  = "username"
)

var (
	structValidator = validator.New()
)

var (
	Ascending  Sort = "asc"
	Descending Sort = "desc"
)

// API is the backend admin HTTP server. It exposes the bot's runtime
// config, user records, round history and lifecycle controls
// (pause/resume/quit) behind a session-cookie login.
type API struct {
	config              *APIConfig
	httpServer          *http.Server
	listener            net.Listener
	engine              *gin.Engine
	store               CookieStore
	loginRequestLimiter *rate.Limiter
	requestMetrics      map[string]int
	requestMetricsMu    sync.Mutex
	logger              *slog.Logger

	handlers *APIHandlers
}

// newAPI initializes and returns a new instance of the API struct.
//
// This sets up the logger, configures the Gin engine, initializes
// the APIHandlers, sets up the session store, configures TLS, and sets up
// middleware and routes.
func newAPI(t *TriviaBot, config *APIConfig) (*API, error) {
	setupLogger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)

	r := gin.New()

	api := &API{
		config:              config,
		engine:              r,
		requestMetrics:      map[string]int{},
		loginRequestLimiter: rate.NewLimiter(rate.Limit(1), 1),
	}
	apiHandlers := NewAPIHandlers(t)
	api.handlers = apiHandlers
	api.store = apiHandlers.store
	_ = r.Use(sessions.Sessions(sessionVarName, apiHandlers.store))

	tlsCfg, e := tlsConfig(
		config.SSL.Cert,
		config.SSL.Key,
		config.SSL.TLSMinVersion,
	)
	if e != nil {
		return nil, fmt.Errorf("error loading SSL certs: %w", e)
	}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	api.httpServer = httpServer
	api.logger = setupLogger.With(loggerNameKey, "api")

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 && api.config.Development {
		corsConfig.AllowOrigins = []string{"*"}
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		metricMiddleware(api),
		cors.New(corsConfig),
	)

	r.POST(apiPathLogin, apiHandlers.loginHandler)
	r.GET(apiHealthCheck, apiHandlers.healthCheck)
	r.POST(apiPathLogout, apiHandlers.logoutHandler)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	r.POST(apiPathSetup, apiHandlers.adminSetup)
	r.GET(apiPathSetupStatus, apiHandlers.setupStatus)

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(t))

	protected.GET(apiPathLoggedIn, apiHandlers.loggedIn)
	protected.GET(apiPathGetRound, apiHandlers.getRoundDetail)
	protected.GET(apiListRounds, apiHandlers.getRounds)
	protected.GET(apiListQuestions, apiHandlers.getQuestions)
	protected.GET(apiPathDiscordMessages, apiHandlers.getDiscordMessages)
	protected.GET(apiPathOpenAILogs, apiHandlers.getOpenAILogs)

	protected.POST(apiPathReloadUsers, apiHandlers.reloadUsers)
	protected.GET(apiPathUsers, apiHandlers.getUsers)
	protected.GET(apiPathUserHistory, apiHandlers.getUserHistory)
	protected.PATCH(apiPathUpdateUser, apiHandlers.updateUser)
	protected.GET(apiPathConfig, apiHandlers.getConfig)
	protected.PATCH(apiPathConfig, apiHandlers.updateRuntimeConfig)
	protected.POST(apiPathPause, apiHandlers.botPause)
	protected.POST(apiPathResume, apiHandlers.botResume)
	protected.POST(apiPathQuit, apiHandlers.botQuit)
	protected.POST(
		apiPathRegisterCommands,
		apiHandlers.discordRegisterCommands,
	)

	runtime.SetMutexProfileFraction(1)
	runtime.SetBlockProfileRate(1)
	return api, nil
}

func (a *API) Serve(ctx context.Context) error {
	if a.listener != nil {
		return a.httpServer.Serve(a.listener)
	}
	listenCfg := &net.ListenConfig{}
	ln, e := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)

	if e != nil {
		panic(e)
	}
	ln = tls.NewListener(ln, a.httpServer.TLSConfig)
	a.listener = ln
	return a.httpServer.Serve(a.listener)
}

func (a *API) getSessionUsername(c *gin.Context) (string, error) {
	store := a.store
	session, err := store.Get(c.Request, sessionVarName)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", errors.New("no session")
	}
	username, ok := session.Values[sessionVarField]
	if !ok {
		return "", errors.New("no username in session")
	}
	name, ok := username.(string)
	if !ok || name == "" {
		return "", errors.New("empty username in session")
	}
	return name, nil
}

type CookieStore interface {
	sessions.Store
}

func NewCookieStore(keyPairs ...[]byte) CookieStore {
	return &cookieStore{gsessions.NewCookieStore(keyPairs...)}
}

type cookieStore struct {
	*gsessions.CookieStore
}

func (c *cookieStore) Options(options sessions.Options) {
	c.CookieStore.Options = options.ToGorillaOptions()
}

// APIHandlers contains the handlers for the various API endpoints.
type APIHandlers struct {
	t      *TriviaBot
	logger *slog.Logger
	store  CookieStore
}

// NewAPIHandlers initializes and returns a new instance of APIHandlers.
//
// This sets up the logger, generates a secret key for session management,
// and configures the session store with appropriate options.
func NewAPIHandlers(t *TriviaBot) *APIHandlers {
	logger := t.logger.With(loggerNameKey, "api")

	var secretKey []byte
	switch sk := t.config.API.Secret; {
	case sk == "":
		logger.Warn(
			"api secret not set, generating random secret " +
				"(sessions will not persist across restarts)",
		)
		secretKey = securecookie.GenerateRandomKey(64)
	default:
		secretKey = derive64ByteKey(sk)
	}

	store := NewCookieStore(secretKey)
	sameSite := http.SameSiteStrictMode
	if t.config.API.Development {
		sameSite = http.SameSiteNoneMode
	}
	store.Options(
		sessions.Options{
			HttpOnly: true,
			Secure:   true,
			MaxAge:   int(t.config.API.SessionMaxAge.Seconds()),
			SameSite: sameSite,
		},
	)
	return &APIHandlers{t: t, logger: logger, store: store}
}

// setupStatus handles the HTTP GET request to check the setup status.
//
// Responses:
//   - 200 OK: Returns a JSON object with the setup status.
func (h *APIHandlers) setupStatus(c *gin.Context) {
	c.JSON(http.StatusOK, setupResponse{Required: h.t.pendingSetup.Load()})
}

// adminSetup handles the HTTP POST request for the initial admin setup.
//
// Responses:
//   - 201 Created: If the admin credentials were successfully set.
//   - 400 Bad Request: If the request payload is invalid.
//   - 403 Forbidden: If the setup is not pending.
//   - 500 Internal Server Error: If there is an error updating the admin credentials.
func (h *APIHandlers) adminSetup(c *gin.Context) {
	h.t.cfgMu.Lock()
	defer h.t.cfgMu.Unlock()

	if !h.t.pendingSetup.Load() {
		c.JSON(http.StatusForbidden, httpError{Error: "Forbidden"})
		return
	}

	logger := ginContextLogger(c)
	logger.Info("first time admin setup")
	var adminSetup adminSetupPayload

	if e := c.ShouldBindJSON(&adminSetup); e != nil {
		logger.Error("bad payload", tint.Err(e))
		c.JSON(http.StatusBadRequest, gin.H{"error": e.Error()})
		return
	}

	currentState := h.t.runtimeConfig

	username := adminSetup.Username

	password, err := HashPassword(adminSetup.Password)
	if err != nil {
		logger.Error("error hashing password", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "error setting admin credentials"},
		)
		return
	}

	if _, err = h.t.writeDB.Updates(
		c.Request.Context(),
		currentState, map[string]any{
			columnRuntimeConfigAdminUsername: username,
			columnRuntimeConfigAdminPassword: password,
		},
	); err != nil {
		logger.Error("error updating admin credentials", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "error updating admin credentials"},
		)
		return
	}
	h.t.runtimeConfig = currentState
	h.t.pendingSetup.Store(false)
	c.JSON(http.StatusCreated, gin.H{"message": "admin credentials set"})
}

// loginHandler handles the HTTP POST request to log in a user.
//
// Responses:
//   - 200 OK: If the user was successfully logged in.
//   - 400 Bad Request: If the request payload is invalid.
//   - 401 Unauthorized: If the credentials are incorrect or not set.
//   - 429 Too Many Requests: If the login attempts are rate limited.
//   - 500 Internal Server Error: If there is an error processing the login request.
func (h *APIHandlers) loginHandler(c *gin.Context) {
	logger := h.t.logger
	if logger == nil {
		logger = slog.Default()
	}
	if !h.t.api.loginRequestLimiter.Allow() {
		logger.Warn("login rate limited")

		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	var login userLogin
	if err := c.ShouldBindJSON(&login); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runtimeConfig := h.t.RuntimeConfig()
	if runtimeConfig.AdminUsername == "" || runtimeConfig.AdminPassword == "" {
		logger.Warn("admin username and password not set")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if login.Username != runtimeConfig.AdminUsername {
		logger.Warn("admin username incorrect")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	valid, err := VerifyPassword(runtimeConfig.AdminPassword, login.Password)
	if err != nil {
		logger.Error("error verifying password", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "Internal Server Error"},
		)
		return
	}
	if !valid {
		logger.Warn("invalid login attempt", "username", login.Username)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	session, err := h.t.api.store.New(c.Request, sessionVarName)
	if err != nil {
		logger.Error("error creating session", tint.Err(err))

		sess, _ := h.store.Get(c.Request, sessionVarName)
		if sess != nil {
			sess.Values[sessionVarField] = ""
			_ = sess.Save(c.Request, c.Writer)
		}
		ginReplyError(c, "internal server error")
		return
	}
	if session == nil {
		logger.Error("didn't get session!?")
		ginReplyError(c, "internal server error")
		return
	}
	sameSite := http.SameSiteStrictMode
	if h.t.api.config.Development {
		sameSite = http.SameSiteNoneMode
	}
	session.Options = &gsessions.Options{
		MaxAge:   int(h.t.api.config.SessionMaxAge.Seconds()),
		SameSite: sameSite,
		HttpOnly: true,
		Secure:   true,
	}
	session.Values[sessionVarField] = login.Username
	err = session.Save(c.Request, c.Writer)
	if err != nil {
		logger.Error("error saving session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	logger.Info("saved user session", "username", login.Username)
	c.JSON(http.StatusOK, loggedInResponse{Username: login.Username})
}

// healthCheck handles the HTTP GET request for a health check.
//
// Responses:
//   - 200 OK: Returns the health check information in JSON format.
func (h *APIHandlers) healthCheck(c *gin.Context) {
	c.JSON(
		http.StatusOK, healthCheckResponse{
			Paused:                  h.t.paused.Load(),
			QueueSize:               h.t.requestQueue.Len(),
			RoundsInProgress:        h.t.roundsInProgress.Load(),
			DiscordGatewayConnected: h.t.discord.connected.Load(),
		},
	)
}

// logoutHandler handles the HTTP POST request to log out a user.
//
// Responses:
//   - 200 OK: If the user was successfully logged out.
//   - 500 Internal Server Error: If there was an error processing the logout request.
func (h *APIHandlers) logoutHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	session, err := h.store.Get(c.Request, sessionVarName)
	if err != nil {
		logger.Error("error getting session", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	session.Values[sessionVarField] = ""
	err = session.Save(c.Request, c.Writer)
	if err != nil {
		logger.Error("error saving cookie", tint.Err(err))
	}
	ginReplyMessage(c, "logged out")
}

// loggedIn handles the HTTP GET request to check if a user is logged in.
//
// Responses:
//   - 200 OK: Returns the username of the logged-in user.
//   - 401 Unauthorized: If the user is not authenticated.
func (h *APIHandlers) loggedIn(c *gin.Context) {
	username, err := h.t.api.getSessionUsername(c)

	if err != nil {
		ginContextLogger(c).Warn(
			"error getting session username",
			tint.Err(err),
		)
		c.JSON(
			http.StatusUnauthorized,
			httpError{Error: "unauthorized"},
		)
		return
	}
	c.JSON(http.StatusOK, loggedInResponse{Username: username})
}

// discordRegisterCommands handles the HTTP POST request to register
// the bot's slash commands with Discord.
//
// Responses:
//   - 201 Created: If the commands were successfully registered.
//   - 500 Internal Server Error: If there was an error registering the commands.
func (h *APIHandlers) discordRegisterCommands(c *gin.Context) {
	log := ginContextLogger(c)
	log.Info("registering commands")

	createdCommands, err := h.t.discord.registerCommands(h.t.RuntimeConfig())
	if err != nil {
		log.Error("error registering commands", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error registering commands"})
		return
	}
	c.JSON(http.StatusCreated, createdCommands)
}

// botPause handles the HTTP POST request to pause the bot.
//
// Responses:
//   - 200 OK: If the bot was successfully paused.
//   - 409 Conflict: If the bot is already paused.
func (h *APIHandlers) botPause(c *gin.Context) {
	log := ginContextLogger(c)
	h.t.cfgMu.Lock()
	defer h.t.cfgMu.Unlock()

	if h.t.Pause(context.Background()) {
		log.Info("bot paused")
		ginReplyMessage(c, "bot paused")
		return
	}

	c.AbortWithStatusJSON(
		http.StatusConflict,
		httpError{Error: "bot already paused"},
	)
}

// botResume handles the HTTP POST request to resume a paused bot.
//
// Responses:
//   - 200 OK: If the bot was successfully resumed.
//   - 409 Conflict: If the bot isn't paused.
func (h *APIHandlers) botResume(c *gin.Context) {
	h.t.cfgMu.Lock()
	defer h.t.cfgMu.Unlock()

	ok := h.t.Resume(context.Background())
	if ok {
		ginReplyMessage(c, "bot resumed")
		return
	}
	c.AbortWithStatusJSON(http.StatusConflict, httpError{Error: "bot not paused"})
}

// reloadUsers handles the HTTP POST request to reload the user cache.
//
// Responses:
//   - 202 Accepted: If the reload notification was sent.
//   - 500 Internal Server Error: If the notification could not be sent.
func (h *APIHandlers) reloadUsers(c *gin.Context) {
	log := ginContextLogger(c)
	log.Info("sending user cache reload notification")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sent := h.t.dbNotifier.ReloadUserCache(ctx)
	if sent {
		c.JSON(http.StatusAccepted, httpReply{Message: "Notification sent"})
		return
	}
	c.JSON(http.StatusInternalServerError, httpError{Error: "error sending notification"})
}

// getUsers handles the HTTP GET request to retrieve a list of users.
//
// Supports pagination and sorting of the results, and optionally
// includes each user's per-category statistics.
//
// Responses:
//   - 200 OK: Returns the list of users, optionally including statistics.
//   - 400 Bad Request: If the query parameters are invalid.
//   - 500 Internal Server Error: If there is an error retrieving the users.
func (h *APIHandlers) getUsers(c *gin.Context) {
	var pagination GetUsersQuery
	if c.ShouldBindQuery(&pagination) != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid pagination"})
		return
	}

	if pagination.Order == "" {
		pagination.Order = Ascending
	}
	if pagination.Limit == 0 {
		pagination.Limit = 25
	}

	log := ginContextLogger(c)

	var users []User

	var err error
	switch pagination.Order {
	case Descending:
		err = h.t.db.Limit(pagination.Limit).Offset(pagination.Offset).Order("id desc").Find(&users).Error
	default:
		err = h.t.db.Limit(pagination.Limit).Offset(pagination.Offset).Order("id asc").Find(&users).Error
	}
	if err != nil {
		log.Error("error getting users", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error getting users"})
		return
	}

	if !pagination.IncludeStats {
		c.JSON(http.StatusOK, users)
		return
	}

	usersWithStats := make([]userWithStats, len(users))

	g, _ := errgroup.WithContext(context.Background())
	for ind, u := range users {
		ind, u := ind, u
		g.Go(
			func() error {
				withStats := userWithStats{User: u}
				stats, e := h.t.userCategoryStats(context.Background(), u.ID)
				withStats.CategoryStats = stats
				if e == nil {
					usersWithStats[ind] = withStats
				}
				return e
			},
		)
	}
	if e := g.Wait(); e != nil {
		log.Error("error getting user stats", tint.Err(e))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting user stats"},
		)
		return
	}

	c.JSON(http.StatusOK, usersWithStats)
}

// getUserHistory handles the HTTP GET request to retrieve a user's
// round history.
//
// Responses:
//   - 200 OK: Returns the user's round history.
//   - 400 Bad Request: If the query parameters are invalid.
//   - 404 Not Found: If the user does not exist.
//   - 500 Internal Server Error: If there is an error retrieving the user's history.
func (h *APIHandlers) getUserHistory(c *gin.Context) {
	var queryParams userHistoryQueryParams
	if err := c.ShouldBindQuery(&queryParams); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if queryParams.Sort == "" {
		queryParams.Sort = Ascending
	}
	if queryParams.Limit == 0 {
		queryParams.Limit = 20
	}

	timeoutCtx, cancel := context.WithTimeout(
		context.Background(),
		15*time.Second,
	)
	defer cancel()
	log := ginContextLogger(c)
	userID := c.Param("id")
	var user User

	if err := h.t.db.WithContext(timeoutCtx).First(
		&user,
		"id = ?",
		userID,
	).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("user not found", columnUserID, userID)
			c.JSON(http.StatusNotFound, httpError{Error: "User not found"})
			return
		}
		log.Error("error getting user", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error getting user"})
		return
	}

	var rounds []Round

	stmt := h.t.db.WithContext(timeoutCtx).Limit(queryParams.Limit)
	if queryParams.Sort == Descending {
		stmt = stmt.Order("id desc")
	} else {
		stmt = stmt.Order("id asc")
	}
	err := stmt.Preload("Question").Where(
		"user_id = ?",
		user.ID,
	).Find(&rounds).Error
	if err != nil {
		log.Error("error getting user history", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting user history"},
		)
		return
	}
	history := make([]userHistoryItem, len(rounds))

	for ind, r := range rounds {
		hist := userHistoryItem{
			Username:      user.Username,
			GlobalName:    user.GlobalName,
			UserID:        user.ID,
			State:         r.State,
			Step:          r.Step,
			Category:      r.Category,
			Difficulty:    r.Difficulty,
			Era:           r.Era,
			UserAnswer:    r.UserAnswer,
			Correct:       r.Correct,
			Score:         r.Score,
			ResponseTime:  r.ResponseTime,
			Response:      r.Response,
			CreatedAt:     time.UnixMilli(r.CreatedAt).UTC(),
			RoundID:       r.ID,
			InteractionID: r.InteractionID,
			Error:         string(r.Error),
		}
		if r.Question != nil {
			hist.Question = r.Question.Prompt
		}
		history[ind] = hist
	}

	log.Info(fmt.Sprintf("found %d records", len(history)))
	c.JSON(http.StatusOK, history)
}

// getConfig handles the HTTP GET request to retrieve the bot's runtime
// configuration.
//
// Responses:
//   - 200 OK: Returns the current runtime configuration in JSON format.
func (h *APIHandlers) getConfig(c *gin.Context) {
	botState := h.t.RuntimeConfig()
	c.JSON(http.StatusOK, botState)
}

// updateRuntimeConfig handles the HTTP PATCH request to update the bot's
// runtime configuration.
//
// This validates the request payload, applies the updates to the runtime
// configuration, and persists the changes to the database. It also ensures
// that the new configuration is valid and updates the bot's state accordingly.
//
// Responses:
//   - 202 Accepted: Returns the updated runtime configuration.
//   - 400 Bad Request: If the request payload is invalid.
//   - 500 Internal Server Error: If there is an error updating the configuration.
func (h *APIHandlers) updateRuntimeConfig(c *gin.Context) {
	t := h.t
	t.cfgMu.Lock()
	defer t.cfgMu.Unlock()

	ctx := context.Background()

	var updateRequest RuntimeConfigUpdate
	logger := ginContextLogger(c)
	if err := c.ShouldBindJSON(&updateRequest); err != nil {
		logger.Error("bad payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := updateRequest.validate(); err != nil {
		logger.Error("invalid update", tint.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	existingConfig := t.runtimeConfig
	rollbackConfig := *existingConfig

	updateData, err := json.Marshal(updateRequest)
	if err != nil {
		logger.ErrorContext(c, "Error marshaling update request", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error marshaling update request"})
		return
	}

	var updates map[string]any
	err = json.Unmarshal(updateData, &updates)
	if err != nil {
		logger.ErrorContext(c, "Error unmarshalling update request", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "Error unmarshalling update request"},
		)
		return
	}
	logger.InfoContext(c, "Applying updates", "updates", updates)

	var updateError error

	var statusCode int
	var ginResponse gin.H

	_ = h.t.writeDB.Transaction(
		ctx,
		func(tx *gorm.DB) error {
			updateError = tx.Model(existingConfig).Updates(updates).Error
			if updateError != nil {
				statusCode = http.StatusInternalServerError
				ginResponse = gin.H{"error": "Error updating config"}
				return updateError
			}

			updateError = structValidator.Struct(existingConfig)
			if updateError != nil {
				statusCode = http.StatusBadRequest
				ginResponse = gin.H{"error": "Error validating config"}
				return updateError
			}
			return nil
		},
	)

	if updateError != nil {
		h.t.runtimeConfig = &rollbackConfig
		logger.ErrorContext(c, "Error updating config", tint.Err(updateError))
		c.JSON(statusCode, ginResponse)
		return
	}

	t.setRuntimeLevels(*existingConfig)

	wasPaused := t.paused.Swap(existingConfig.Paused)
	switch {
	case wasPaused && !existingConfig.Paused:
		logger.Info("unpaused bot")
	case existingConfig.Paused && !wasPaused:
		logger.Warn("paused bot")
	}

	updateDiscordBotStatus(t, logger, rollbackConfig, existingConfig)

	if existingConfig.DiscordNotificationChannelID != rollbackConfig.DiscordNotificationChannelID {
		go sendStartupMessage(h.t.discord, logger, *existingConfig)
	}

	// any change in slash command parameters means we need to overwrite
	// the commands so the changes take effect
	g := new(errgroup.Group)

	g.Go(
		func() error {
			e := overwriteDiscordCommands(
				h.t.discord,
				logger,
				rollbackConfig,
				*existingConfig,
			)
			if e != nil {
				e = fmt.Errorf("error overwriting commands: %w", e)
			}
			return e
		},
	)

	g.Go(
		func() error {
			e := updateUsersFromRuntimeConfig(
				ctx,
				h.t.writeDB,
				updateRequest,
				&rollbackConfig,
			)
			if e != nil {
				e = fmt.Errorf("error updating users: %w", e)
			}
			return e
		},
	)

	if updErr := g.Wait(); updErr != nil {
		logger.Error("error processing update(s)", tint.Err(updErr))
	}

	c.JSON(http.StatusAccepted, existingConfig)

	sent := h.t.dbNotifier.ReloadRuntimeConfig(ctx)
	if !sent {
		logger.Error("error sending config update notification")
	}

	sent = h.t.dbNotifier.ReloadUserCache(ctx)
	if !sent {
		logger.Error("error sending user cache notification")
	}
}

// updateUser handles the HTTP PATCH request to update a user's record.
//
// Responses:
//   - 202 Accepted: Returns the updated user information.
//   - 400 Bad Request: If the request payload is invalid.
//   - 404 Not Found: If the user does not exist.
//   - 500 Internal Server Error: If there is an error updating the user.
func (h *APIHandlers) updateUser(c *gin.Context) {
	log := ginContextLogger(c)

	var update apiPatchUser
	if err := c.ShouldBindJSON(&update); err != nil {
		log.Warn("bad request", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if err := structValidator.Struct(update); err != nil {
		log.Warn("invalid update", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	userID := c.Param("id")
	user := h.t.writeDB.GetUser(userID)
	if user == nil {
		log.Warn("User not found", columnUserID, userID)
		c.JSON(http.StatusNotFound, httpError{Error: "User not found"})
		return
	}

	updateContent, err := json.Marshal(update)
	if err != nil {
		log.Error("error marshaling update request", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error marshaling update request"})
		return
	}

	var updateData map[string]any
	if err = json.Unmarshal(updateContent, &updateData); err != nil {
		log.Error("error unmarshalling update request", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error unmarshalling update request"},
		)
		return
	}

	if len(updateData) == 0 {
		c.JSON(http.StatusAccepted, user)
		return
	}

	log.Info("updating user", "user", user, "updates", updateData)

	_, err = h.t.writeDB.Updates(c.Request.Context(), user, updateData)
	if err != nil {
		log.Error("error updating user", columnUserID, userID, tint.Err(err))
		_ = h.t.writeDB.ReloadUser(userID)
		c.JSON(http.StatusInternalServerError, httpError{Error: "error updating User"})
		return
	}
	c.JSON(http.StatusAccepted, h.t.writeDB.ReloadUser(userID))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	h.t.dbNotifier.UserUpdated(ctx, userID)
}

// botQuit handles the HTTP POST request to stop the bot.
//
// This sends a stop signal to the bot, which initiates the shutdown
// process. It responds immediately to the client, indicating that the
// quit request has been received.
//
// Responses:
//   - 200 OK: Returns a message indicating that the quit request has been received.
func (h *APIHandlers) botQuit(c *gin.Context) {
	log := ginContextLogger(c)
	log.Warn("sending stop signal")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	doneCh := make(chan struct{}, 1)
	go func() {
		h.t.dbNotifier.Stop(ctx)
		doneCh <- struct{}{}
		close(doneCh)
	}()
	select {
	case <-doneCh:
		ginReplyMessage(c, "quitting")
	case <-ctx.Done():
		log.Warn("timeout sending stop signal")
		c.JSON(http.StatusGatewayTimeout, httpError{Error: "timeout sending stop signal"})
	}
}

// getRounds handles the HTTP GET request to retrieve a list of trivia
// rounds.
//
// It supports pagination and filtering by user ID, state, category, and
// date range. The results can be sorted in ascending or descending order
// based on the creation date.
//
// Responses:
//   - 200 OK: Returns a list of rounds.
//   - 400 Bad Request: If the query parameters are invalid.
//   - 500 Internal Server Error: If there is an error retrieving the rounds.
func (h *APIHandlers) getRounds(c *gin.Context) {
	var pagination GetRoundsQuery
	if err := c.ShouldBindQuery(&pagination); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid pagination"})
		return
	}

	if pagination.Order == "" {
		pagination.Order = Descending
	}
	if pagination.Limit == 0 {
		pagination.Limit = 25
	}

	log := ginContextLogger(c)

	var rounds []Round

	query := h.t.db.Model(&Round{}).Preload(
		"Question",
	).Limit(pagination.Limit).Offset(pagination.Offset)

	if pagination.UserID != "" {
		query = query.Where("user_id = ?", pagination.UserID)
	}

	if pagination.State != "" {
		query = query.Where("state = ?", pagination.State)
	}

	if pagination.Category != "" {
		query = query.Where("category = ?", pagination.Category)
	}

	if pagination.StartDate != "" {
		startDate, err := time.Parse("2006-01-02", pagination.StartDate)
		if err != nil {
			c.JSON(
				http.StatusBadRequest,
				httpError{Error: "invalid start_date format"},
			)
			return
		}
		query = query.Where("created_at >= ?", startDate.UnixMilli())
	}

	if pagination.EndDate != "" {
		endDate, err := time.Parse("2006-01-02", pagination.EndDate)
		if err != nil {
			c.JSON(
				http.StatusBadRequest,
				httpError{Error: "invalid end_date format"},
			)
			return
		}
		// Add one day to include the entire end date
		endDate = endDate.Add(24 * time.Hour)
		query = query.Where("created_at < ?", endDate.UnixMilli())
	}

	switch pagination.Order {
	case Descending:
		query = query.Order("created_at desc")
	default:
		query = query.Order("created_at asc")
	}

	err := query.Find(&rounds).Error
	if err != nil {
		log.ErrorContext(
			c.Request.Context(),
			"error getting rounds",
			tint.Err(err),
		)
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting rounds"},
		)
		return
	}

	c.JSON(http.StatusOK, rounds)
}

// getRoundDetail handles the HTTP GET request for a single round,
// including its question and any OpenAI API calls made on its behalf.
//
// Responses:
//   - 200 OK: Returns the round detail.
//   - 404 Not Found: If the round does not exist.
//   - 500 Internal Server Error: If there is an error retrieving the round.
func (h *APIHandlers) getRoundDetail(c *gin.Context) {
	log := ginContextLogger(c)
	roundID := c.Param("id")

	var round Round
	if err := h.t.db.Preload("Question").First(
		&round,
		"id = ?",
		roundID,
	).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, httpError{Error: "Round not found"})
			return
		}
		log.Error("error getting round", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error getting round"})
		return
	}

	var apiLogs []OpenAIAPILog
	if err := h.t.db.Where(
		"round_id = ?",
		round.ID,
	).Order("id asc").Find(&apiLogs).Error; err != nil {
		log.Error("error getting openai logs", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error getting openai logs"})
		return
	}

	c.JSON(http.StatusOK, RoundDetail{Round: round, OpenAILogs: apiLogs})
}

// getQuestions handles the HTTP GET request to retrieve generated
// questions, filtered by category and/or difficulty.
//
// Responses:
//   - 200 OK: Returns a list of questions.
//   - 400 Bad Request: If the query parameters are invalid.
//   - 500 Internal Server Error: If there is an error retrieving the questions.
func (h *APIHandlers) getQuestions(c *gin.Context) {
	var pagination GetQuestionsQuery
	if err := c.ShouldBindQuery(&pagination); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid pagination"})
		return
	}
	if pagination.Order == "" {
		pagination.Order = Descending
	}
	if pagination.Limit == 0 {
		pagination.Limit = 25
	}

	log := ginContextLogger(c)

	query := h.t.db.Model(&Question{}).Limit(pagination.Limit).Offset(pagination.Offset)
	if pagination.Category != "" {
		query = query.Where("category = ?", pagination.Category)
	}
	if pagination.Difficulty != "" {
		query = query.Where("difficulty = ?", pagination.Difficulty)
	}
	switch pagination.Order {
	case Descending:
		query = query.Order("id desc")
	default:
		query = query.Order("id asc")
	}

	var questions []Question
	if err := query.Find(&questions).Error; err != nil {
		log.Error("error getting questions", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting questions"},
		)
		return
	}
	c.JSON(http.StatusOK, questions)
}

// getDiscordMessages handles the HTTP GET request to retrieve logged
// Discord messages (mentions and replies seen by the bot).
//
// Responses:
//   - 200 OK: Returns a list of discord messages.
//   - 400 Bad Request: If the query parameters are invalid.
//   - 500 Internal Server Error: If there is an error retrieving the messages.
func (h *APIHandlers) getDiscordMessages(c *gin.Context) {
	var pagination GetUsersQuery
	if err := c.ShouldBindQuery(&pagination); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid pagination"})
		return
	}
	if pagination.Order == "" {
		pagination.Order = Descending
	}
	if pagination.Limit == 0 {
		pagination.Limit = 25
	}

	log := ginContextLogger(c)

	query := h.t.db.Model(&DiscordMessage{}).Limit(pagination.Limit).Offset(pagination.Offset)
	switch pagination.Order {
	case Descending:
		query = query.Order("id desc")
	default:
		query = query.Order("id asc")
	}

	var messages []DiscordMessage
	if err := query.Find(&messages).Error; err != nil {
		log.Error("error getting discord messages", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting discord messages"},
		)
		return
	}
	c.JSON(http.StatusOK, messages)
}

// getOpenAILogs handles the HTTP GET request to retrieve OpenAI API
// request logs.
//
// Responses:
//   - 200 OK: Returns a list of OpenAI API logs.
//   - 400 Bad Request: If the query parameters are invalid.
//   - 500 Internal Server Error: If there is an error retrieving the logs.
func (h *APIHandlers) getOpenAILogs(c *gin.Context) {
	var pagination GetOpenAILogsQuery
	if err := c.ShouldBindQuery(&pagination); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid pagination"})
		return
	}
	if pagination.Order == "" {
		pagination.Order = Descending
	}
	if pagination.Limit == 0 {
		pagination.Limit = 25
	}

	log := ginContextLogger(c)

	query := h.t.db.Model(&OpenAIAPILog{}).Limit(pagination.Limit).Offset(pagination.Offset)
	if pagination.Purpose != "" {
		query = query.Where("purpose = ?", pagination.Purpose)
	}
	if pagination.RoundID != 0 {
		query = query.Where("round_id = ?", pagination.RoundID)
	}
	switch pagination.Order {
	case Descending:
		query = query.Order("id desc")
	default:
		query = query.Order("id asc")
	}

	var apiLogs []OpenAIAPILog
	if err := query.Find(&apiLogs).Error; err != nil {
		log.Error("error getting openai logs", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting openai logs"},
		)
		return
	}
	c.JSON(http.StatusOK, apiLogs)
}

// GetRoundsQuery represents the query parameters for fetching Round records.
type GetRoundsQuery struct {
	Pagination
	UserID    string `form:"user_id"`
	State     string `form:"state"`
	Category  string `form:"category"`
	StartDate string `form:"start_date" binding:"omitempty,datetime=2006-01-02"`
	EndDate   string `form:"end_date" binding:"omitempty,datetime=2006-01-02"`
}

// GetQuestionsQuery represents the query parameters for fetching
// Question records.
type GetQuestionsQuery struct {
	Pagination
	Category   string `form:"category"`
	Difficulty string `form:"difficulty" binding:"omitempty,oneof=easy medium hard"`
}

// GetOpenAILogsQuery represents the query parameters for fetching
// OpenAIAPILog records.
type GetOpenAILogsQuery struct {
	Pagination
	Purpose string `form:"purpose"`
	RoundID uint   `form:"round_id"`
}

// Pagination represents the pagination parameters for API requests.
type Pagination struct {
	Limit  int  `form:"limit" binding:"omitempty,min=1,max=100"`
	Order  Sort `form:"order" binding:"omitempty,oneof=asc desc"`
	Offset int  `form:"offset" binding:"omitempty,min=0"`
}

// GetUsersQuery represents the query parameters for fetching User records.
type GetUsersQuery struct {
	Pagination
	IncludeStats bool `form:"include_stats" json:"include_stats"`
}

// Sort represents the sorting order for queries (ascending or descending).
type Sort string

// apiPatchUser accepts payload to update specific fields of a User record.
// Any non-nil value will be updated.
//
//nolint:lll // struct tags can't be split
type apiPatchUser struct {
	Priority          *bool   `json:"priority,omitempty" binding:"omitnil"`
	Ignored           *bool   `json:"ignored,omitempty" binding:"omitnil"`
	RoundLimit6h      *int    `json:"round_limit_6h,omitempty" binding:"omitnil,min=1"`
	PreferredPersona  *string `json:"preferred_persona,omitempty" binding:"omitnil,min=1,max=32"`
	PreferredCategory *string `json:"preferred_category,omitempty" binding:"omitnil,max=32"`
}

// userHistoryQueryParams represents the query parameters for fetching
// a user's round history.
type userHistoryQueryParams struct {
	Sort  Sort `form:"sort" json:"sort"`
	Limit int  `form:"limit" json:"limit"`
}

// userHistoryItem is a single round in a user's history, flattened
// for the admin UI.
type userHistoryItem struct {
	// UserID is the unique identifier of the user who played the round.
	UserID string `json:"user_id"`

	// Username is the Discord username of the user.
	Username string `json:"username"`

	// GlobalName is the global display name of the user on Discord.
	GlobalName string `json:"global_name"`

	// Question is the prompt of the question asked, if one was generated.
	Question string `json:"question,omitempty"`

	// Response is the bot's final reply for the round. It may be nil if
	// the round hasn't resolved yet or failed before responding.
	Response *string `json:"response,omitempty"`

	// State represents the round's current state.
	State RoundState `json:"state"`

	// Step indicates the round's current processing step.
	Step RoundStep `json:"step"`

	Category   string     `json:"category"`
	Difficulty Difficulty `json:"difficulty"`
	Era        string     `json:"era,omitempty"`

	// UserAnswer is the choice letter the user answered with, if any.
	UserAnswer string `json:"user_answer,omitempty"`

	Correct bool    `json:"correct"`
	Score   float64 `json:"score"`

	// ResponseTime is how long the user took to answer, in seconds.
	ResponseTime float64 `json:"response_time"`

	// Error contains any error message encountered during the round.
	Error string `json:"error,omitempty"`

	// CreatedAt is the timestamp when the round was created.
	CreatedAt time.Time `json:"created_at"`

	// RoundID is the unique identifier for this round.
	RoundID uint `json:"round_id"`

	// InteractionID is the Discord interaction identifier for the round.
	InteractionID string `json:"interaction_id"`
}

// userWithStats combines a User record with their per-category
// statistics, for the admin user listing.
type userWithStats struct {
	User

	// CategoryStats contains the user's per-category records. It may be
	// empty if the user hasn't finished any rounds.
	CategoryStats []UserStats `json:"stats,omitempty"`
}

// RoundDetail represents the detailed view of a Round, including
// related OpenAI API calls.
type RoundDetail struct {
	Round      Round          `json:"round"`
	OpenAILogs []OpenAIAPILog `json:"openai_logs"`
}

// loggedInResponse is returned when a user is successfully logged in.
type loggedInResponse struct {
	Username string `json:"username"`
}

// healthCheckResponse represents the response structure for the health
// check endpoint.
type healthCheckResponse struct {
	Paused                  bool  `json:"paused"`
	QueueSize               int   `json:"queue_size"`
	RoundsInProgress        int64 `json:"rounds_in_progress"`
	DiscordGatewayConnected bool  `json:"discord_gateway_connected"`
}

// httpReply represents a standard HTTP response message.
type httpReply struct {
	Message string `json:"message"`
}

// httpError represents an error message returned to the client.
type httpError struct {
	Error string `json:"error"`
}

// userLogin represents the payload for user login requests.
type userLogin struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// adminSetupPayload represents the payload for the initial admin setup.
type adminSetupPayload struct {
	Username        string `json:"username" binding:"required"`
	Password        string `json:"password" binding:"required,eqfield=ConfirmPassword"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// setupResponse is the response struct for the 'setup status'
// endpoint. If an admin username/password haven't been set yet,
// Required will be true, indicating setup is needed.
type setupResponse struct {
	Required bool `json:"required"`
}

// authMiddleware returns a Gin middleware function for authentication.
//
// It retrieves the session from the request and checks if the user is
// authenticated. If the user is not authenticated, it aborts the request
// with a 401 Unauthorized status.
//
// If the bot is pending setup (no admin credentials have been set),
// it also returns HTTP 401.
func authMiddleware(t *TriviaBot) gin.HandlerFunc {
	return func(c *gin.Context) {
		store := t.api.store
		logger := t.logger
		if logger == nil {
			logger = slog.Default()
		}
		if t.pendingSetup.Load() {
			logger.Warn("admin username and password not set")
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
		}

		session, err := store.Get(c.Request, sessionVarName)
		if err != nil {
			logger.Error("error getting session", tint.Err(err))
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		if session == nil {
			logger.Error("session is nil")
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		username, ok := session.Values[sessionVarField]

		if !ok || username == "" {
			logger.Warn(
				"username not found in session",
				"headers",
				c.Request.Header,
			)
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		logger.Info("got session", sessionVarField, username)

		c.Next()
	}
}

// requestIDMiddleware generates a Gin middleware function that assigns a
// unique request ID to each incoming request.
//
// It generates a random hexadecimal string and sets it in the Gin context
// under the key "X-Request-ID".
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		if requestID, exists := c.Get(xRequestIDHeader); exists {
			c.Header(xRequestIDHeader, requestID.(string))
		}
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	var requestLogger *slog.Logger
	logger, ok := c.Get(string(loggerContextKey))
	if ok {
		requestLogger, ok = logger.(*slog.Logger)
		if ok {
			return requestLogger
		}
	}
	requestLogger = slog.Default()
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	raw := c.Request.URL.RawQuery
	if raw != "" {
		path = path + "?" + raw
	}

	requestLogger = requestLogger.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
			"referer", c.Request.Referer(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware returns a Gin middleware function for logging
// HTTP requests.
//
// It logs the request method, path, remote address, user agent, referer,
// and the duration of the request, along with any errors.
func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}

// metricMiddleware returns a Gin middleware function for tracking API
// request metrics.
//
// It increments the request count for each unique combination of HTTP
// method and URL path.
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()

		a.requestMetricsMu.Lock()
		defer a.requestMetricsMu.Unlock()

		key := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		_, ok := a.requestMetrics[key]
		if !ok {
			a.requestMetrics[key] = 1
			return
		}
		a.requestMetrics[key]++
	}
}

// ginReplyMessage sends a JSON response with a message,
// with HTTP status code 200, via the gin context.
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError sends a JSON response with a message,
// with HTTP status code 500, via the gin context.
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}

// validatePatchUser rejects user PATCH payloads that name an unknown
// persona or category. An empty category clears the preference, so
// it's allowed through.
func validatePatchUser(sl validator.StructLevel) {
	value := sl.Current().Interface().(apiPatchUser)
	if value.PreferredPersona != nil && !validPersona(*value.PreferredPersona) {
		sl.ReportError(
			value.PreferredPersona,
			columnUserPreferredPersona,
			"PreferredPersona",
			"persona",
			strings.Join(personaNames(), " "),
		)
	}
	if value.PreferredCategory != nil &&
		*value.PreferredCategory != "" &&
		!validCategory(*value.PreferredCategory) {
		sl.ReportError(
			value.PreferredCategory,
			columnUserPreferredCategory,
			"PreferredCategory",
			"category",
			strings.Join(categoryNames(), " "),
		)
	}
}

//nolint:gochecknoinits // gotta register the validators
func init() {
	structValidator.SetTagName("binding")
	structValidator.RegisterCustomTypeFunc(validateQueueConfig, QueueConfig{})
	structValidator.RegisterStructValidation(
		validateRuntimeUpdatePersona,
		RuntimeConfigUpdate{},
	)
	structValidator.RegisterStructValidation(
		validatePatchUser,
		apiPatchUser{},
	)
}

// sendStartupMessage announces the bot in the configured notification
// channel, if one is set.
func sendStartupMessage(d *Discord, logger *slog.Logger, config RuntimeConfig) {
	if config.DiscordNotificationChannelID == "" {
		return
	}

	if sendErr := d.channelMessageSend(
		config.DiscordNotificationChannelID,
		d.config.StartupMessage,
	); sendErr != nil {
		logger.Error("error sending startup message", tint.Err(sendErr))
	}
}

// overwriteDiscordCommands re-registers the bot's slash commands when a
// runtime config change affects their definitions.
func overwriteDiscordCommands(
	d *Discord,
	logger *slog.Logger,
	oldState RuntimeConfig,
	currentState RuntimeConfig,
) error {
	if currentState.TriviaCommandDescription != oldState.TriviaCommandDescription {
		logger.Info("app command fields changed, overwriting")
		registered, registerErr := d.registerCommands(currentState)
		if registerErr != nil {
			logger.Error(
				"error registering commands",
				tint.Err(registerErr),
			)
		} else {
			logger.Info("registered commands", "commands", registered)
		}
		return registerErr
	}
	return nil
}

// updateDiscordBotStatus reflects runtime config changes in the bot's
// Discord presence: paused shows do-not-disturb, otherwise the custom
// status is applied when it changes.
func updateDiscordBotStatus(
	t *TriviaBot,
	logger *slog.Logger,
	rollbackConfig RuntimeConfig,
	existingConfig *RuntimeConfig,
) {
	switch {
	case existingConfig.Paused:
		if !rollbackConfig.Paused {
			if discErr := t.discord.session.UpdateStatusComplex(
				discordgo.UpdateStatusData{
					AFK:    true,
					Status: string(discordgo.StatusDoNotDisturb),
				},
			); discErr != nil {
				logger.Error("error updating discord status", tint.Err(discErr))
			}
		}
	case existingConfig.DiscordCustomStatus != rollbackConfig.DiscordCustomStatus:
		if discErr := t.discord.session.UpdateCustomStatus(
			existingConfig.DiscordCustomStatus,
		); discErr != nil {
			logger.Error("error updating discord status", tint.Err(discErr))
		}
	case rollbackConfig.Paused && !existingConfig.Paused:
		if discErr := t.discord.session.UpdateCustomStatus(
			existingConfig.DiscordCustomStatus,
		); discErr != nil {
			logger.Error("error updating discord status", tint.Err(discErr))
		}
	}
}

// generateSelfSignedCert generates a self-signed TLS certificate and
// private key, valid from the current time for 1 year.
func generateSelfSignedCert(
	certFile string,
	keyFile string,
) (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(cryprand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	certTemplate := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"TriviaBot"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(
		cryprand.Reader,
		&certTemplate,
		&certTemplate,
		&priv.PublicKey,
		priv,
	)
	if err != nil {
		return tls.Certificate{}, err
	}

	certOut, err := os.Create(certFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	defer func() {
		_ = certOut.Close()
	}()

	if err = pem.Encode(
		certOut,
		&pem.Block{Type: "CERTIFICATE", Bytes: derBytes},
	); err != nil {
		return tls.Certificate{}, err
	}

	keyOut, err := os.Create(keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	defer func() {
		_ = keyOut.Close()
	}()

	privBytes := x509.MarshalPKCS1PrivateKey(priv)
	if err = pem.Encode(
		keyOut,
		&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes},
	); err != nil {
		return tls.Certificate{}, err
	}

	return tls.LoadX509KeyPair(certFile, keyFile)
}
