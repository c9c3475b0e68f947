package triviabot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var (
	workerIdleTimeout          = 2 * time.Minute
	discordTokenDeadlineOffset = -3 * time.Minute
)

// workerLimiter tracks a worker's last activity, so idle workers can
// be stopped and removed.
type workerLimiter struct {
	// IdleTimeout is the duration after which a worker is considered 'idle'
	IdleTimeout time.Duration

	// LastCommandAt is the last time any slash command was seen for the
	// lifetime of this worker. If LastCommandAt+IdleTimeout is in the
	// past, the worker is considered idle and can be stopped.
	LastCommandAt time.Time

	mu sync.Mutex
}

func newWorkerLimiter() *workerLimiter {
	return &workerLimiter{IdleTimeout: workerIdleTimeout}
}

// Expired returns the worker's idle expiration time, and whether that
// time has already passed.
func (w *workerLimiter) Expired() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()

	expiresAt := w.LastCommandAt.Add(w.IdleTimeout)

	return expiresAt, now.After(expiresAt)
}

// SetLastCommand updates the LastCommandAt field to the provided timestamp.
func (w *workerLimiter) SetLastCommand(ts time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.LastCommandAt = ts
}

// TimeSinceLastCommand returns the duration since the last command was seen.
func (w *workerLimiter) TimeSinceLastCommand() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return time.Since(w.LastCommandAt)
}

// userRoundWorker runs one user's trivia rounds, one at a time. A
// user's rounds never execute concurrently: the worker serializes
// them, which (together with the active-round check in runRound)
// guarantees a user has at most one question pending.
type userRoundWorker struct {
	// user associated with this worker
	user   *User
	userMu *sync.Mutex

	// roundCh is the channel for receiving queued /trivia rounds
	roundCh chan *Round

	// lastCommandAt is the timestamp of the last round processed by this worker
	lastCommandAt atomic.Int64

	// signalStop is a channel for sending a stop signal to the worker
	signalStop chan struct{}

	// stopped receives a notification, with the stop time, when the
	// worker exits
	stopped chan time.Time

	limiter *workerLimiter

	// idleTimeoutCheckInterval is the interval at which the worker checks
	// whether it has been idle for longer than the idle timeout
	idleTimeoutCheckInterval time.Duration

	t *TriviaBot
}

func (w *userRoundWorker) User() User {
	w.userMu.Lock()
	defer w.userMu.Unlock()
	return *w.user
}

func (w *userRoundWorker) SetUser(u *User) {
	w.userMu.Lock()
	defer w.userMu.Unlock()
	w.user = u
}

func newUserWorker(t *TriviaBot, u *User) *userRoundWorker {
	return &userRoundWorker{
		user:                     u,
		userMu:                   &sync.Mutex{},
		roundCh:                  make(chan *Round),
		t:                        t,
		signalStop:               make(chan struct{}, 1),
		stopped:                  make(chan time.Time, 1),
		limiter:                  newWorkerLimiter(),
		idleTimeoutCheckInterval: time.Minute,
	}
}

// Run starts the worker loop, listening on roundCh for queued rounds.
// To stop the run, cancel the provided context or send on signalStop.
// If neither happens, the worker exits on its own after sitting idle
// for workerIdleTimeout (default 2 minutes).
func (u *userRoundWorker) Run(
	ctx context.Context,
	startCh chan struct{},
) {
	log, ok := ContextLogger(ctx)
	if log == nil || !ok {
		log = slog.Default()
	}
	log = log.With(
		slog.Group("user", userLogAttrs(u.User())...),
	)
	ctx = WithLogger(ctx, log)

	defer func() {
		stopSignalCtx, stopSignalCancel := context.WithTimeout(
			context.Background(),
			5*time.Second,
		)
		select {
		case u.stopped <- time.Now():
			log.Info("sent stop notification")
		case <-stopSignalCtx.Done():
			log.Warn("timed out sending stop signal")
		}
		stopSignalCancel()
	}()

	log.InfoContext(ctx, "starting user worker")
	startedAt := time.Now()
	ticker := time.NewTicker(u.idleTimeoutCheckInterval)

	defer func() {
		ticker.Stop()

		endedAt := time.Now()
		log.InfoContext(
			ctx,
			"stopped user worker",
			"started_at", startedAt,
			"stopped_at", endedAt,
			"runtime", endedAt.Sub(startedAt),
		)
	}()

	startCh <- struct{}{}
	close(startCh)

	u.limiter.SetLastCommand(time.Now())
	for {
		select {
		case <-ctx.Done():
			log.WarnContext(ctx, "context canceled")
			return
		case <-u.signalStop:
			log.WarnContext(ctx, "got stop signal")
			return
		case <-ticker.C:
			expiresAt, isExpired := u.limiter.Expired()
			if isExpired {
				log.InfoContext(
					ctx,
					"no rounds seen in 2 minutes, stopping worker",
					"last_command_at", u.limiter.LastCommandAt,
					"worker_expired", expiresAt,
				)
				return
			}
		case req := <-u.roundCh:
			u.handleRound(ctx, log, req, ticker)
		}
	}
}

// handleRound executes a single round, recovering panics when
// RecoverPanic is enabled. Resets the worker's idle timeout.
func (u *userRoundWorker) handleRound(
	ctx context.Context,
	log *slog.Logger,
	req *Round,
	ticker *time.Ticker,
) {
	log.InfoContext(ctx, "got round", "round", req)
	u.limiter.SetLastCommand(time.Now())

	reqPanicked := make(chan bool, 1)
	go func() {
		switch {
		case req.handler != nil && req.handler.Config().RecoverPanic:
			defer func() {
				if r := recover(); r != nil {
					log.ErrorContext(
						ctx,
						"panic in round",
						tint.Err(fmt.Errorf("%v", r)),
					)
					reqPanicked <- true
					return
				}
				reqPanicked <- false
			}()
		default:
			defer func() {
				reqPanicked <- false
			}()
		}
		u.runQueuedRound(ctx, req)
	}()
	panicked := <-reqPanicked
	if panicked {
		errMsg := DefaultDiscordErrorMessage
		if req.handler != nil {
			errMsg = req.handler.Config().DiscordErrorMessage
			_, _ = req.handler.Edit(
				ctx,
				&discordgo.WebhookEdit{Content: &errMsg},
			)
		}
		updateRoundState(ctx, log, u.t.writeDB, req, RoundStateFailed)
		return
	}

	u.lastCommandAt.Store(time.Now().UnixMilli())
	ticker.Reset(u.limiter.IdleTimeout)
}

// runQueuedRound runs a round popped from the memory queue, after
// re-checking conditions that may have changed while it sat queued
// (the user being ignored, or the interaction token nearing expiry).
func (u *userRoundWorker) runQueuedRound(
	ctx context.Context,
	r *Round,
) {
	t := u.t
	t.roundsInProgress.Add(1)
	defer t.roundsInProgress.Add(-1)

	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = t.logger
	}
	logger = logger.With(
		slog.Group("round", roundLogAttrs(*r)...),
	)
	if r.User != nil {
		logger = logger.With(slog.Group("user", userLogAttrs(*r.User)...))
	}
	ctx = WithLogger(ctx, logger)

	if r.User != nil && r.User.Ignored {
		logger.WarnContext(ctx, "user is ignored, discarding round")
		if r.State != RoundStateIgnored {
			updateRoundState(ctx, logger, t.writeDB, r, RoundStateIgnored)
		}
		return
	}

	// Leave enough token lifetime to generate a question, run the
	// answer window, and still deliver the verdict.
	startDeadline := r.Deadline().Add(discordTokenDeadlineOffset)
	if time.Now().UTC().After(startDeadline) {
		logger.WarnContext(ctx, "round expired before starting")
		updateRoundState(ctx, logger, t.writeDB, r, RoundStateExpired)
		return
	}

	if ctx.Err() != nil {
		logger.WarnContext(ctx, "context canceled, stopping round")
		return
	}

	t.runRound(ctx, r)
}

func updateRoundState(
	ctx context.Context,
	logger *slog.Logger,
	db DBI,
	r *Round,
	newState RoundState,
) {
	if _, err := db.Update(ctx, r, columnRoundState, newState); err != nil {
		logger.ErrorContext(ctx, "error updating round state", tint.Err(err))
	}
}
