package triviabot

import (
	"cmp"
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

// userRoundWindow is the sliding window over which UserRoundLimit6h
// is enforced.
const userRoundWindow = 6 * time.Hour

// ErrRoundTooOld indicates a round sat in the queue past QueueConfig.MaxAge
// before a worker could pick it up.
var ErrRoundTooOld = errors.New("round too old")

// RoundQueue is an in-memory priority queue of pending trivia rounds.
// Priority users jump the line; otherwise rounds run in arrival order.
type RoundQueue struct {
	queue     *roundPriorityQueue
	config    *QueueConfig
	logger    *slog.Logger
	mu        sync.Mutex
	db        DBI
	requestCh chan *Round
}

func NewRoundQueue(
	config *QueueConfig,
	logger *slog.Logger,
) *RoundQueue {
	q := &RoundQueue{
		queue:  &roundPriorityQueue{},
		logger: logger,
		config: config,
	}
	heap.Init(q.queue)
	return q
}

func (u *RoundQueue) Clear(_ context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.queue = &roundPriorityQueue{}
	heap.Init(u.queue)
	return nil
}

// oldestNonPriority finds the index of the oldest queued Round where
// Round.Priority is false. If none are found, the returned boolean is
// false.
func (u *RoundQueue) oldestNonPriority() (int, bool) {
	old := *u.queue
	for i := len(old) - 1; i >= 0; i-- {
		v := old[i]
		if !v.Priority {
			return i, true
		}
	}
	return 0, false
}

func (u *RoundQueue) popNext() *Round {
	if u.queue.Len() == 0 {
		return nil
	}
	return heap.Pop(u.queue).(*Round)
}

// Pop returns the next runnable round, discarding rounds that sat in
// the queue past MaxAge and rounds from ignored users along the way.
// Returns nil when the queue is empty.
func (u *RoundQueue) Pop(ctx context.Context) *Round {
	u.mu.Lock()
	defer u.mu.Unlock()

	for {
		req := u.popNext()
		if req == nil {
			return nil
		}

		logger := u.logger
		if logger == nil {
			logger = slog.Default()
		}
		logger = logger.With(slog.Group("round", roundLogAttrs(*req)...))
		ctx = WithLogger(ctx, logger)

		if u.config.MaxAge > 0 {
			reqAge := req.Age()
			if reqAge > u.config.MaxAge {
				req.State = RoundStateExpired
				logger.WarnContext(
					ctx,
					"discarded old round",
					"max_age", u.config.MaxAge,
					"round_age", reqAge,
				)
				if u.db != nil {
					if _, err := u.db.Update(
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
				}
				continue
			}
		}

		if req.User != nil && req.User.Ignored {
			logger.WarnContext(ctx, "ignoring blocked user round")
			if u.db != nil {
				if _, err := u.db.Update(
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
			}
			continue
		}

		if req.State != RoundStateQueued {
			logger.WarnContext(
				ctx,
				fmt.Sprintf(
					"expected state '%s', got: '%s'",
					RoundStateQueued,
					req.State,
				),
			)
			continue
		}

		logger.InfoContext(ctx, "popped round", "queue_size", u.queue.Len())
		return req
	}
}

func (u *RoundQueue) Len() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.queue.Len()
}

// Push enqueues a round. When the queue is full, the oldest
// non-priority round is aborted to make room (or the oldest overall,
// if everything queued is priority).
func (u *RoundQueue) Push(
	ctx context.Context,
	req *Round,
	db DBI,
) error {
	u.logger.InfoContext(ctx, "received round request", "round", req)
	req.Step = RoundStepEnqueued

	u.mu.Lock()
	defer u.mu.Unlock()

	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = u.logger.With("round", req)
		ctx = WithLogger(ctx, logger)
	}

	if u.config.Size > 0 && u.queue.Len() >= u.config.Size {
		var oldestReq *Round

		oldestInd, found := u.oldestNonPriority()
		switch {
		case found:
			oldestReq = heap.Remove(u.queue, oldestInd).(*Round)
			logger.WarnContext(
				ctx,
				"removed oldest non-priority round",
				"removed_round", oldestReq,
				"removed_index", oldestInd,
			)
		default:
			oldestReq = heap.Pop(u.queue).(*Round)
			logger.WarnContext(
				ctx,
				"no non-priority rounds, removing oldest overall round",
				"dropped_round", oldestReq,
				"max_size", u.config.Size,
				"current_size", u.queue.Len(),
			)
		}
		if oldestReq != nil {
			if _, err := db.Update(
				ctx,
				oldestReq,
				columnRoundState,
				RoundStateAborted,
			); err != nil {
				logger.Error("failed to update round", tint.Err(err))
			}
		}
	}

	// Save() instead of Update() so a zero-value primary key (fresh
	// record) is handled too.
	req.State = RoundStateQueued
	if _, err := db.Save(ctx, req); err != nil {
		logger.Error(
			"failed to update round state",
			"state", RoundStateQueued,
			tint.Err(err),
		)
		return err
	}

	reqAge := req.Age()
	if u.config.MaxAge > 0 && reqAge > u.config.MaxAge {
		req.State = RoundStateExpired
		logger.Warn(
			"discarding old round",
			"max_age", u.config.MaxAge,
			"round_age", reqAge,
		)
		if _, err := db.Update(
			ctx,
			req,
			columnRoundState,
			RoundStateExpired,
		); err != nil {
			logger.Error("failed to update expired round", tint.Err(err))
		}
		return fmt.Errorf("%w: (age: %s)", ErrRoundTooOld, reqAge)
	}

	heap.Push(u.queue, req)
	logger.Info("queued round", "round", req)
	return nil
}

type roundPriorityQueue []*Round

func (pq roundPriorityQueue) Len() int {
	return len(pq)
}

func (pq roundPriorityQueue) Less(i, j int) bool {
	left := pq[i]
	right := pq[j]
	if left.Priority && !right.Priority {
		return true
	}

	if right.Priority && !left.Priority {
		return false
	}

	return left.CreatedAt < right.CreatedAt
}

func (pq roundPriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *roundPriorityQueue) Push(x any) {
	n := len(*pq)
	item := x.(*Round)
	item.index = n
	*pq = append(*pq, item)
}

func (pq *roundPriorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[0 : n-1]
	return item
}

// roundAvailable reports whether the user is under their 6-hour round
// limit as of currentTime, and if not, when their next round frees up.
// Only rounds the user actually played (or has pending) count against
// the limit; failed and rejected rounds don't.
func roundAvailable(
	db *gorm.DB,
	u *User,
	currentTime time.Time,
) (bool, time.Time) {
	limit := u.RoundLimit6h
	if limit <= 0 {
		limit = DefaultRoundLimit6h
	}

	windowStart := currentTime.Add(-userRoundWindow)
	var rounds []Round
	err := db.Where(
		"user_id = ? AND created_at >= ? AND state NOT IN ?",
		u.ID,
		windowStart.UnixMilli(),
		[]RoundState{
			RoundStateFailed,
			RoundStateRateLimited,
			RoundStateAborted,
			RoundStateIgnored,
		},
	).Find(&rounds).Error
	if err != nil {
		// Fail open: a counting error shouldn't lock users out.
		return true, currentTime
	}

	availableAt, available := nextRoundAvailable(
		rounds,
		limit,
		userRoundWindow,
		currentTime,
	)
	return available, availableAt
}

// nextRoundAvailable returns the time when the user's next round is
// available and a bool indicating whether it's available immediately.
// Limit is the maximum number of rounds, timespan is the duration in
// which the limit is enforced, and currentTime is the reference point
// for the end of the span.
func nextRoundAvailable(
	rounds []Round,
	limit int,
	timespan time.Duration,
	currentTime time.Time,
) (time.Time, bool) {
	if len(rounds) == 0 {
		return currentTime, true
	}

	startTS := currentTime.Add(-timespan)

	roundTimes := make([]time.Time, 0, len(rounds))
	for _, r := range rounds {
		ts := time.UnixMilli(r.CreatedAt).UTC()
		if ts.Before(startTS) {
			continue
		}
		roundTimes = append(roundTimes, ts)
	}
	if len(roundTimes) < limit {
		return currentTime, true
	}

	slices.SortFunc(
		roundTimes, func(a, b time.Time) int {
			return cmp.Compare(a.UnixMilli(), b.UnixMilli())
		},
	)
	return roundTimes[len(roundTimes)-limit].Add(timespan), false
}
