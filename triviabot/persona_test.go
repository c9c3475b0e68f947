package triviabot

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersonaByName(t *testing.T) {
	p := personaByName("stern_professor")
	assert.Equal(t, "stern_professor", p.Name)
	assert.Equal(t, "The Stern Professor", p.DisplayName)

	// unknown and empty names fall back to the default
	assert.Equal(t, DefaultPersonaName, personaByName("nonexistent").Name)
	assert.Equal(t, DefaultPersonaName, personaByName("").Name)
}

func TestValidPersona(t *testing.T) {
	for _, name := range personaNames() {
		assert.True(t, validPersona(name))
	}
	assert.False(t, validPersona("game_show_villain"))
	assert.False(t, validPersona(""))
}

func TestPersonaNames(t *testing.T) {
	names := personaNames()
	require.NotEmpty(t, names)
	assert.True(t, sort.StringsAreSorted(names))
	assert.Contains(t, names, DefaultPersonaName)
}

func TestPersonaLine(t *testing.T) {
	pc := personaContext{
		User:    "devin",
		Score:   "150",
		Streak:  "3",
		Answer:  "Mars",
		Correct: "Mars",
	}

	for _, name := range personaNames() {
		p := personaByName(name)
		for _, rt := range []ResponseType{
			ResponseCorrect,
			ResponseIncorrect,
			ResponseSkip,
			ResponseTimeout,
			ResponseStreak,
		} {
			line := p.Line(rt, pc)
			require.NotEmpty(t, line, "%s has no %s templates", name, rt)
			assert.NotContains(t, line, "{user}")
			assert.NotContains(t, line, "{score}")
			assert.NotContains(t, line, "{streak}")
			assert.NotContains(t, line, "{answer}")
			assert.NotContains(t, line, "{correct}")
		}
	}
}

func TestPersonaLine_NoTemplates(t *testing.T) {
	p := Persona{Name: "empty", Style: "nothing"}
	// no roast templates exist; an empty line signals AI fallback
	assert.Empty(t, p.Line(ResponseRoast, personaContext{User: "devin"}))
}

func TestPersonaAIPrompt(t *testing.T) {
	p := personaByName(DefaultPersonaName)
	prompt := p.aiPrompt("Roast the user for losing five rounds in a row.")
	assert.Contains(t, prompt, p.Style)
	assert.Contains(t, prompt, "Roast the user")
	assert.Contains(t, prompt, "Stay in character")
}

func TestHandlePersonaCommand(t *testing.T) {
	bot := commandTestBot(t)
	ctx := context.Background()
	ids := newCommandData(t)

	interaction := ids.newTriviaInteraction("", "", "")
	u, _, err := bot.writeDB.GetOrCreateUser(ctx, nil, *interaction.User)
	require.NoError(t, err)

	handler := newStubInteractionHandler(
		t, ids.newPersonaInteraction("dramatic_narrator"),
	)
	bot.handlePersonaCommand(ctx, handler, u)

	resp := receivedCall(t, handler.callRespond)
	require.NotNil(t, resp.Data)
	assert.Contains(t, resp.Data.Content, "The Dramatic Narrator")

	var saved User
	require.NoError(t, bot.db.Take(&saved, "id = ?", u.ID).Error)
	assert.Equal(t, "dramatic_narrator", saved.PreferredPersona)
}

func TestHandlePersonaCommandUnknown(t *testing.T) {
	bot := commandTestBot(t)
	ctx := context.Background()
	ids := newCommandData(t)

	interaction := ids.newTriviaInteraction("", "", "")
	u, _, err := bot.writeDB.GetOrCreateUser(ctx, nil, *interaction.User)
	require.NoError(t, err)

	handler := newStubInteractionHandler(
		t, ids.newPersonaInteraction("angry_robot"),
	)
	bot.handlePersonaCommand(ctx, handler, u)

	resp := receivedCall(t, handler.callRespond)
	require.NotNil(t, resp.Data)
	assert.Contains(t, resp.Data.Content, "Available personas")

	var saved User
	require.NoError(t, bot.db.Take(&saved, "id = ?", u.ID).Error)
	assert.Empty(t, saved.PreferredPersona)
}
