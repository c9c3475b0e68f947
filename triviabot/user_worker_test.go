package triviabot

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateRoundState(t *testing.T) {
	db := gormDB(t)
	writeDB := NewDatabase(db, nil, false)

	u := &User{ID: "worker_user", RoundLimit6h: DefaultRoundLimit6h}
	require.NoError(t, db.Create(u).Error)

	r := &Round{
		State:         RoundStateQueued,
		ModelUnixTime: ModelUnixTime{CreatedAt: time.Now().UnixMilli()},
		Interaction: Interaction{
			InteractionID: t.Name(),
			UserID:        u.ID,
		},
	}
	require.NoError(t, db.Create(r).Error)

	updateRoundState(
		context.Background(), slog.Default(), writeDB, r, RoundStateFailed,
	)

	var saved Round
	require.NoError(t, db.Take(&saved, "id = ?", r.ID).Error)
	assert.Equal(t, RoundStateFailed, saved.State)
}
