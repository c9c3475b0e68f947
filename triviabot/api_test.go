package triviabot

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// handleTestRequest runs a single gin handler against a synthetic
// request, returning the recorder holding the response.
func handleTestRequest(
	t testing.TB,
	handler gin.HandlerFunc,
	method string,
	body io.Reader,
	params ...gin.Param,
) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(method, "/", body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = params
	handler(c)
	return w
}

// apiTestBot wires enough of the bot to exercise API handlers
// directly: a database, a runtime config, and an in-process notifier.
func apiTestBot(t testing.TB) (*TriviaBot, *APIHandlers) {
	t.Helper()
	bot := commandTestBot(t)
	bot.triggerUserUpdatedRefreshCh = make(chan string, 10)
	bot.dbNotifier = &sqliteNotifier{
		logger:         slog.Default(),
		t:              bot,
		sqliteNotifyID: "notify_" + t.Name(),
	}
	return bot, &APIHandlers{t: bot, logger: slog.Default()}
}

func TestAPIUserUpdatePreferredCategory(t *testing.T) {
	bot, handlers := apiTestBot(t)
	ctx := context.Background()
	ids := newCommandData(t)

	interaction := ids.newTriviaInteraction("", "", "")
	u, _, err := bot.writeDB.GetOrCreateUser(ctx, nil, *interaction.User)
	require.NoError(t, err)
	require.Empty(t, u.PreferredCategory)

	payload, err := json.Marshal(
		apiPatchUser{PreferredCategory: strPtr("history")},
	)
	require.NoError(t, err)

	w := handleTestRequest(
		t,
		handlers.updateUser,
		http.MethodPatch,
		bytes.NewReader(payload),
		gin.Param{Key: "id", Value: u.ID},
	)
	assert.Equal(t, http.StatusAccepted, w.Code)

	updated := bot.writeDB.GetUser(u.ID)
	require.NotNil(t, updated)
	assert.Equal(t, "history", updated.PreferredCategory)

	var saved User
	require.NoError(t, bot.db.Take(&saved, "id = ?", u.ID).Error)
	assert.Equal(t, "history", saved.PreferredCategory)

	// The preference feeds rounds started without a category option
	r := NewRound(ids.newTriviaInteraction("", "", ""), updated)
	assert.Equal(t, "history", r.Category)

	// An empty value clears the preference
	payload, err = json.Marshal(apiPatchUser{PreferredCategory: strPtr("")})
	require.NoError(t, err)
	w = handleTestRequest(
		t,
		handlers.updateUser,
		http.MethodPatch,
		bytes.NewReader(payload),
		gin.Param{Key: "id", Value: u.ID},
	)
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.NoError(t, bot.db.Take(&saved, "id = ?", u.ID).Error)
	assert.Empty(t, saved.PreferredCategory)
}

func TestAPIBadUserUpdate(t *testing.T) {
	bot, handlers := apiTestBot(t)
	ctx := context.Background()
	ids := newCommandData(t)

	interaction := ids.newTriviaInteraction("", "", "")
	u, _, err := bot.writeDB.GetOrCreateUser(ctx, nil, *interaction.User)
	require.NoError(t, err)

	testCases := []struct {
		name    string
		payload apiPatchUser
	}{
		{
			name:    "Unknown category",
			payload: apiPatchUser{PreferredCategory: strPtr("cryptozoology")},
		},
		{
			name:    "Unknown persona",
			payload: apiPatchUser{PreferredPersona: strPtr("angry_robot")},
		},
		{
			name:    "Round limit below minimum",
			payload: apiPatchUser{RoundLimit6h: intPtr(0)},
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				payload, merr := json.Marshal(tc.payload)
				require.NoError(t, merr)

				w := handleTestRequest(
					t,
					handlers.updateUser,
					http.MethodPatch,
					bytes.NewReader(payload),
					gin.Param{Key: "id", Value: u.ID},
				)
				assert.Equal(t, http.StatusBadRequest, w.Code)
			},
		)
	}

	var saved User
	require.NoError(t, bot.db.Take(&saved, "id = ?", u.ID).Error)
	assert.Empty(t, saved.PreferredCategory)
	assert.Empty(t, saved.PreferredPersona)
}

func TestAPIUserUpdateNotFound(t *testing.T) {
	_, handlers := apiTestBot(t)

	payload, err := json.Marshal(apiPatchUser{Priority: boolPtr(true)})
	require.NoError(t, err)

	w := handleTestRequest(
		t,
		handlers.updateUser,
		http.MethodPatch,
		bytes.NewReader(payload),
		gin.Param{Key: "id", Value: "no_such_user"},
	)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
