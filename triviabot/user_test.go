package triviabot

import (
	"context"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUser(t *testing.T) {
	du := discordgo.User{
		ID:         "12345",
		Username:   "someuser",
		GlobalName: "Some User",
	}
	u := NewUser(du)
	assert.Equal(t, "12345", u.ID)
	assert.Equal(t, "someuser", u.Username)
	assert.Equal(t, "Some User", u.GlobalName)
	assert.Equal(t, DefaultRoundLimit6h, u.RoundLimit6h)
	assert.NotZero(t, u.LastSeen)
}

func TestUserDisplayName(t *testing.T) {
	u := &User{Username: "someuser", GlobalName: "Some User"}
	assert.Equal(t, "Some User", u.DisplayName())

	u.GlobalName = ""
	assert.Equal(t, "someuser", u.DisplayName())
}

func TestUserChangedDiscordUsername(t *testing.T) {
	u := &User{Username: "someuser", GlobalName: "Some User"}

	assert.False(
		t, u.userChangedDiscordUsername(
			discordgo.User{Username: "someuser", GlobalName: "Some User"},
		),
	)
	assert.True(
		t, u.userChangedDiscordUsername(
			discordgo.User{Username: "renamed", GlobalName: "Some User"},
		),
	)
	assert.True(
		t, u.userChangedDiscordUsername(
			discordgo.User{Username: "someuser", GlobalName: "Renamed"},
		),
	)
}

func TestUserAggregates(t *testing.T) {
	u := &User{}
	assert.Equal(t, float64(0), u.WinRate())
	assert.Equal(t, float64(0), u.AvgScore())
	assert.Equal(t, float64(0), u.AvgResponseTime())

	u = &User{
		TotalGames:        10,
		TotalWins:         7,
		TotalScore:        1500,
		AnsweredRounds:    8,
		TotalResponseTime: 40,
	}
	assert.InDelta(t, 70, u.WinRate(), 0.0001)
	assert.InDelta(t, 150, u.AvgScore(), 0.0001)
	assert.InDelta(t, 5, u.AvgResponseTime(), 0.0001)
	assert.NotEmpty(t, u.PerformanceRating())
}

func TestGetOrCreateUser(t *testing.T) {
	db := gormDB(t)
	writeDB := NewDatabase(db, nil, false)
	ctx := context.Background()

	du := discordgo.User{
		ID:         "54321",
		Username:   "newuser",
		GlobalName: "New User",
	}

	u, isNew, err := writeDB.GetOrCreateUser(ctx, nil, du)
	require.NoError(t, err)
	assert.True(t, isNew)
	require.NotNil(t, u)
	assert.Equal(t, du.ID, u.ID)

	// second call hits the cache
	again, isNew, err := writeDB.GetOrCreateUser(ctx, nil, du)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Same(t, u, again)

	// a username change is detected and persisted
	du.Username = "renameduser"
	du.GlobalName = "Renamed User"
	updated, isNew, err := writeDB.GetOrCreateUser(ctx, nil, du)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "renameduser", updated.Username)

	var saved User
	require.NoError(t, db.Where("id = ?", du.ID).Last(&saved).Error)
	assert.Equal(t, "renameduser", saved.Username)
	assert.Equal(t, "Renamed User", saved.GlobalName)
}

func TestReloadUser(t *testing.T) {
	db := gormDB(t)
	writeDB := NewDatabase(db, nil, false)
	ctx := context.Background()

	du := discordgo.User{ID: "777", Username: "reloadme"}
	u, _, err := writeDB.GetOrCreateUser(ctx, nil, du)
	require.NoError(t, err)

	// modify the record outside of the cache
	require.NoError(
		t,
		db.Model(&User{ID: u.ID}).Update(columnUserIgnored, true).Error,
	)
	assert.False(t, writeDB.GetUser(u.ID).Ignored)

	reloaded := writeDB.ReloadUser(u.ID)
	require.NotNil(t, reloaded)
	assert.True(t, reloaded.Ignored)
	assert.True(t, writeDB.GetUser(u.ID).Ignored)

	// reloading an unknown user evicts it from the cache
	assert.Nil(t, writeDB.ReloadUser("does-not-exist"))
}
