package triviabot

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRoundPriorityQueue verifies the ordering logic of the priority
// queue used for pending rounds:
//  1. Priority rounds are always placed before non-priority rounds.
//  2. Within each group, older rounds (earlier CreatedAt) come first.
func TestRoundPriorityQueue(t *testing.T) {
	ts := time.Now()
	priorityRound := &Round{
		Priority:      true,
		ModelUnixTime: ModelUnixTime{CreatedAt: ts.UnixMilli()},
		Interaction: Interaction{
			User: &User{ID: "priorityNow"},
		},
	}
	priorityNewRound := &Round{
		Priority:      true,
		ModelUnixTime: ModelUnixTime{CreatedAt: ts.Add(10 * time.Minute).UnixMilli()},
		Interaction: Interaction{
			User: &User{ID: "priorityInFuture"},
		},
	}
	normalRound := &Round{
		Priority:      false,
		ModelUnixTime: ModelUnixTime{CreatedAt: ts.UnixMilli()},
		Interaction: Interaction{
			User: &User{ID: "normalNow"},
		},
	}
	normalOldRound := &Round{
		Priority:      false,
		ModelUnixTime: ModelUnixTime{CreatedAt: ts.Add(-time.Minute).UnixMilli()},
		Interaction: Interaction{
			User: &User{ID: "normalOld"},
		},
	}

	allRounds := []*Round{
		priorityRound,
		priorityNewRound,
		normalRound,
		normalOldRound,
	}

	expectedOrder := []string{
		priorityRound.User.ID,
		priorityNewRound.User.ID,
		normalOldRound.User.ID,
		normalRound.User.ID,
	}

	// Test with different push orders
	pushOrders := generatePermutations(allRounds)

	getIDs := func(rounds []*Round) []string {
		ids := make([]string, len(rounds))
		for i, r := range rounds {
			ids[i] = r.User.ID
		}
		return ids
	}

	for _, order := range pushOrders {
		t.Run(
			fmt.Sprintf("PushOrder_%v", getIDs(order)), func(t *testing.T) {
				pq := &roundPriorityQueue{}
				heap.Init(pq)

				for _, i := range order {
					heap.Push(pq, i)
				}

				result := []*Round{}
				for pq.Len() > 0 {
					result = append(result, heap.Pop(pq).(*Round))
				}

				require.Equal(t, len(allRounds), len(result))
				for i, expected := range expectedOrder {
					assert.Equal(
						t,
						expected,
						result[i].User.ID,
						"Mismatch at position %d",
						i,
					)
				}
			},
		)
	}
}

func TestRoundQueue(t *testing.T) {
	db := gormDB(t)
	writeDB := NewDatabase(db, nil, false)

	ts := time.Now()
	maxAge := 5 * time.Minute
	maxSize := 3

	priorityNowUser := &User{ID: "priorityNow"}
	priorityInFutureUser := &User{ID: "priorityInFuture"}
	normalNowUser := &User{ID: "normalNow"}
	normalOldUser := &User{ID: "normalOld"}
	priorityExpiredUser := &User{ID: "priorityExpired"}

	users := []*User{
		priorityNowUser,
		priorityInFutureUser,
		normalNowUser,
		normalOldUser,
		priorityExpiredUser,
	}
	if err := db.Create(&users).Error; err != nil {
		t.Fatal(err)
	}

	interactionIDCounter := 0
	randomInteractionID := func() string {
		interactionIDCounter++
		return fmt.Sprintf("%s/%d", t.Name(), interactionIDCounter)
	}

	priorityRound := &Round{
		Priority:      true,
		ModelUnixTime: ModelUnixTime{CreatedAt: ts.UnixMilli()},
		Interaction: Interaction{
			InteractionID: randomInteractionID(),
			UserID:        priorityNowUser.ID,
			User:          priorityNowUser,
		},
	}
	priorityNewRound := &Round{
		Priority:      true,
		ModelUnixTime: ModelUnixTime{CreatedAt: ts.Add(10 * time.Minute).UnixMilli()},
		Interaction: Interaction{
			InteractionID: randomInteractionID(),
			UserID:        priorityInFutureUser.ID,
			User:          priorityInFutureUser,
		},
	}

	normalRound := &Round{
		Priority:      false,
		ModelUnixTime: ModelUnixTime{CreatedAt: ts.UnixMilli()},
		Interaction: Interaction{
			InteractionID: randomInteractionID(),
			UserID:        normalNowUser.ID,
			User:          normalNowUser,
		},
	}
	normalOldRound := &Round{
		Priority:      false,
		ModelUnixTime: ModelUnixTime{CreatedAt: ts.Add(-time.Minute).UnixMilli()},
		Interaction: Interaction{
			InteractionID: randomInteractionID(),
			UserID:        normalOldUser.ID,
			User:          normalOldUser,
		},
	}
	expiredRound := &Round{
		Priority:      false,
		ModelUnixTime: ModelUnixTime{CreatedAt: ts.Add(-maxAge - time.Minute).UnixMilli()},
		Interaction: Interaction{
			InteractionID: randomInteractionID(),
			UserID:        priorityExpiredUser.ID,
			User:          priorityExpiredUser,
		},
	}

	queueCfg := &QueueConfig{
		Size:        maxSize,
		MaxAge:      maxAge,
		SleepPaused: 1 * time.Second,
		SleepEmpty:  1 * time.Second,
	}
	ctx := context.Background()
	pq := NewRoundQueue(queueCfg, slog.Default())
	pq.db = writeDB

	pushErr := pq.Push(ctx, expiredRound, writeDB)
	require.ErrorIsf(
		t,
		pushErr,
		ErrRoundTooOld,
		"error msg: %#v",
		pushErr,
	)
	n := pq.Pop(context.Background())
	if n != nil {
		t.Fatalf("expected nil, got %#v with age %s", n, n.Age().String())
	}

	require.NoError(t, pq.Push(ctx, normalOldRound, writeDB))
	require.NoError(t, pq.Push(ctx, normalRound, writeDB))
	require.NoError(t, pq.Push(ctx, priorityNewRound, writeDB))
	require.NoError(t, pq.Push(ctx, priorityRound, writeDB))
	require.Equal(t, pq.Len(), maxSize)

	result := []*Round{}
	for pq.Len() > 0 {
		result = append(result, pq.Pop(context.Background()))
	}

	require.Len(t, result, maxSize)
	assert.Equal(t, priorityRound.User.ID, result[0].User.ID)
	assert.Equal(t, priorityNewRound.User.ID, result[1].User.ID)
	assert.Equal(t, normalRound.User.ID, result[2].User.ID)
}

func TestRoundQueue_IgnoredUser(t *testing.T) {
	db := gormDB(t)
	writeDB := NewDatabase(db, nil, false)

	ignoredUser := &User{ID: "ignored", Ignored: true}
	require.NoError(t, db.Create(ignoredUser).Error)

	pq := NewRoundQueue(
		&QueueConfig{Size: 10, MaxAge: time.Hour},
		slog.Default(),
	)
	pq.db = writeDB

	r := &Round{
		ModelUnixTime: ModelUnixTime{CreatedAt: time.Now().UnixMilli()},
		Interaction: Interaction{
			InteractionID: t.Name(),
			UserID:        ignoredUser.ID,
			User:          ignoredUser,
		},
	}
	require.NoError(t, pq.Push(context.Background(), r, writeDB))
	assert.Nil(t, pq.Pop(context.Background()))

	var saved Round
	require.NoError(t, db.Take(&saved, "interaction_id = ?", t.Name()).Error)
	assert.Equal(t, RoundStateIgnored, saved.State)
}

func TestRoundQueue_Clear(t *testing.T) {
	db := gormDB(t)
	writeDB := NewDatabase(db, nil, false)

	u := &User{ID: "clearme"}
	require.NoError(t, db.Create(u).Error)

	pq := NewRoundQueue(
		&QueueConfig{Size: 10, MaxAge: time.Hour},
		slog.Default(),
	)

	for i := 0; i < 3; i++ {
		r := &Round{
			ModelUnixTime: ModelUnixTime{CreatedAt: time.Now().UnixMilli()},
			Interaction: Interaction{
				InteractionID: fmt.Sprintf("%s/%d", t.Name(), i),
				UserID:        u.ID,
				User:          u,
			},
		}
		require.NoError(t, pq.Push(context.Background(), r, writeDB))
	}
	require.Equal(t, 3, pq.Len())
	require.NoError(t, pq.Clear(context.Background()))
	assert.Equal(t, 0, pq.Len())
	assert.Nil(t, pq.Pop(context.Background()))
}

func TestNextRoundAvailable(t *testing.T) {
	limit := 4
	timespan := 1 * time.Hour
	currentTime := time.Date(2024, 10, 31, 12, 0, 0, 0, time.UTC)

	notIncluded := time.Date(2024, 10, 31, 8, 0, 0, 0, time.UTC)
	exactWindow := time.Date(2024, 10, 31, 11, 0, 0, 0, time.UTC)
	oneMinAfter := time.Date(2024, 10, 31, 11, 1, 0, 0, time.UTC)
	fiveMinAfter := time.Date(2024, 10, 31, 11, 5, 0, 0, time.UTC)
	fifteenMinAfter := time.Date(2024, 10, 31, 11, 15, 0, 0, time.UTC)
	thirtyMinAfter := time.Date(2024, 10, 31, 11, 30, 0, 0, time.UTC)

	rounds := make([]Round, 0, 6)
	for _, ts := range []time.Time{
		exactWindow,
		notIncluded,
		oneMinAfter,
		fiveMinAfter,
		fifteenMinAfter,
		thirtyMinAfter,
	} {
		rounds = append(
			rounds,
			Round{ModelUnixTime: ModelUnixTime{CreatedAt: ts.UnixMilli()}},
		)
	}
	timeAvailable, ok := nextRoundAvailable(
		rounds,
		limit,
		timespan,
		currentTime,
	)
	assert.False(t, ok)
	expectAvailable := oneMinAfter.Add(timespan)
	assert.Equal(t, expectAvailable, timeAvailable)

	// under the limit
	_, ok = nextRoundAvailable(rounds[:2], limit, timespan, currentTime)
	assert.True(t, ok)

	// no rounds at all
	_, ok = nextRoundAvailable(nil, limit, timespan, currentTime)
	assert.True(t, ok)
}

func generatePermutations[T any](arr []T) [][]T {
	var result [][]T
	var backtrack func(int)
	backtrack = func(start int) {
		if start == len(arr) {
			permutation := make([]T, len(arr))
			copy(permutation, arr)
			result = append(result, permutation)
			return
		}
		for i := start; i < len(arr); i++ {
			arr[start], arr[i] = arr[i], arr[start]
			backtrack(start + 1)
			arr[start], arr[i] = arr[i], arr[start]
		}
	}
	backtrack(0)
	return result
}
