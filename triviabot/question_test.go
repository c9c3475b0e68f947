package triviabot

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuestionJSON(t *testing.T) {
	raw := `{
  "question": "What planet is known as the Red Planet?",
  "options": ["Venus", "Mars", "Jupiter", "Saturn"],
  "correct": "B",
  "explanation": "Iron oxide on the surface gives Mars its reddish color."
}`
	q, err := parseQuestionJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, "What planet is known as the Red Planet?", q.Prompt)
	assert.Equal(t, "Venus", q.OptionA)
	assert.Equal(t, "Mars", q.OptionB)
	assert.Equal(t, "Jupiter", q.OptionC)
	assert.Equal(t, "Saturn", q.OptionD)
	assert.Equal(t, "B", q.CorrectOption)
	assert.Equal(t, "Mars", q.CorrectText())
	assert.Equal(t, questionSourceOpenAI, q.Source)
	assert.NotEmpty(t, q.Explanation)
}

func TestParseQuestionJSON_Fenced(t *testing.T) {
	testCases := []string{
		"```json\n%s\n```",
		"```\n%s\n```",
		"  ```json\n%s\n```  ",
		"%s",
	}
	body := `{"question": "Q?", "options": ["a", "b", "c", "d"], "correct": "a"}`

	for _, wrapper := range testCases {
		t.Run(
			wrapper, func(t *testing.T) {
				q, err := parseQuestionJSON(fmt.Sprintf(wrapper, body))
				require.NoError(t, err)
				assert.Equal(t, "Q?", q.Prompt)
				// correct letter is normalized to upper case
				assert.Equal(t, "A", q.CorrectOption)
			},
		)
	}
}

func TestParseQuestionJSON_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		raw  string
	}{
		{"Not JSON", "the answer is B"},
		{"Missing question", `{"options": ["a", "b", "c", "d"], "correct": "A"}`},
		{
			"Too few options",
			`{"question": "Q?", "options": ["a", "b"], "correct": "A"}`,
		},
		{
			"Too many options",
			`{"question": "Q?", "options": ["a", "b", "c", "d", "e"], "correct": "A"}`,
		},
		{
			"Empty option",
			`{"question": "Q?", "options": ["a", "", "c", "d"], "correct": "A"}`,
		},
		{
			"Invalid correct letter",
			`{"question": "Q?", "options": ["a", "b", "c", "d"], "correct": "E"}`,
		},
		{
			"Missing correct letter",
			`{"question": "Q?", "options": ["a", "b", "c", "d"]}`,
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				_, err := parseQuestionJSON(tc.raw)
				assert.Error(t, err)
			},
		)
	}
}

func TestQuestionOptionText(t *testing.T) {
	q := &Question{
		OptionA: "alpha",
		OptionB: "bravo",
		OptionC: "charlie",
		OptionD: "delta",
	}
	assert.Equal(t, "alpha", q.OptionText("A"))
	assert.Equal(t, "bravo", q.OptionText("b"))
	assert.Equal(t, "delta", q.OptionText("D"))
	assert.Equal(t, "", q.OptionText("E"))
	assert.Equal(t, "", q.OptionText(""))
}

func TestQuestionRender(t *testing.T) {
	q := &Question{
		Category:      "science",
		Difficulty:    DifficultyMedium,
		Era:           "1990s",
		Prompt:        "What does DNA stand for?",
		OptionA:       "Deoxyribonucleic acid",
		OptionB:       "Dinucleic acid",
		OptionC:       "Deoxyribose nucleotide",
		OptionD:       "Double nucleic acid",
		CorrectOption: "A",
	}
	rendered := q.Render()
	assert.Contains(t, rendered, "Science")
	assert.Contains(t, rendered, "What does DNA stand for?")
	assert.Contains(t, rendered, "**A.** Deoxyribonucleic acid")
	assert.Contains(t, rendered, "**D.** Double nucleic acid")
	assert.Contains(t, rendered, "/answer")
}

func TestValidCategoryAndEra(t *testing.T) {
	for _, name := range categoryNames() {
		assert.True(t, validCategory(name))
	}
	assert.False(t, validCategory("conspiracy theories"))
	assert.False(t, validCategory(""))

	assert.True(t, validEra("1980s"))
	assert.False(t, validEra("1800s"))
	assert.False(t, validEra(""))
}

func TestRandomQuestionParameters(t *testing.T) {
	for i := 0; i < 20; i++ {
		category := randomCategory()
		assert.True(t, validCategory(category))
		sub := randomSubcategory(category)
		assert.NotEmpty(t, sub)
		assert.True(t, validEra(randomEra()))
	}
	assert.Empty(t, randomSubcategory("not-a-category"))
}

func TestBuildQuestionPrompt(t *testing.T) {
	prompt := buildQuestionPrompt("science", "astronomy", DifficultyHard, "1960s")
	assert.Contains(t, prompt, "hard")
	assert.Contains(t, prompt, "science")
	assert.Contains(t, prompt, "astronomy")
	assert.Contains(t, prompt, "1960s")
	assert.Contains(t, prompt, `"correct": "A"`)

	// subcategory and era are optional
	bare := buildQuestionPrompt("history", "", DifficultyEasy, "")
	assert.NotContains(t, bare, "specifically")
	assert.NotContains(t, bare, "set in or about")
}

func TestFallbackQuestion(t *testing.T) {
	for _, d := range []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard} {
		q := fallbackQuestion(d)
		require.NotNil(t, q, "no fallback question for %s", d)
		assert.Equal(t, questionSourceFallback, q.Source)
		assert.NotEmpty(t, q.Prompt)
		assert.NotEmpty(t, q.CorrectText())
	}

	// unknown difficulty still returns a question
	assert.NotNil(t, fallbackQuestion(Difficulty("impossible")))
}
