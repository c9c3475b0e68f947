package triviabot

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
)

const (
	questionSourceOpenAI   = "openai"
	questionSourceFallback = "fallback"
)

// questionCategories maps each category to the subcategories used to
// vary generated questions within it.
var questionCategories = map[string][]string{
	"history":    {"ancient civilizations", "world wars", "american history", "european history"},
	"science":    {"physics", "chemistry", "biology", "astronomy"},
	"geography":  {"capitals", "landmarks", "rivers and mountains", "flags"},
	"sports":     {"football", "basketball", "olympics", "soccer"},
	"movies":     {"classics", "blockbusters", "directors", "famous quotes"},
	"music":      {"rock", "pop", "classical", "hip hop"},
	"television": {"sitcoms", "dramas", "animated series", "game shows"},
	"literature": {"novels", "poetry", "authors", "plays"},
	"technology": {"computers", "the internet", "video games", "inventions"},
	"food":       {"world cuisine", "cooking techniques", "desserts", "beverages"},
}

// questionEras are the decades a question can be pinned to.
var questionEras = []string{
	"1960s", "1970s", "1980s", "1990s", "2000s", "2010s", "2020s",
}

// Question is a generated (or fallback) multiple-choice question.
// Questions are persisted so rounds can reference them, and so repeated
// API failures still leave an auditable record of what was asked.
type Question struct {
	ModelUintID
	ModelUnixTime

	Category    string     `json:"category" gorm:"index"`
	Subcategory string     `json:"subcategory"`
	Difficulty  Difficulty `json:"difficulty" gorm:"type:string"`
	Era         string     `json:"era"`

	Prompt  string `json:"prompt" gorm:"type:string"`
	OptionA string `json:"option_a"`
	OptionB string `json:"option_b"`
	OptionC string `json:"option_c"`
	OptionD string `json:"option_d"`

	// CorrectOption is the letter of the correct choice (A-D)
	CorrectOption string `json:"correct_option"`

	Explanation string `json:"explanation"`

	// Source records where the question came from ('openai' or 'fallback')
	Source string `json:"source"`
}

// OptionText returns the answer text for a choice letter, or an empty
// string for an unknown letter.
func (q *Question) OptionText(choice string) string {
	switch strings.ToUpper(choice) {
	case "A":
		return q.OptionA
	case "B":
		return q.OptionB
	case "C":
		return q.OptionC
	case "D":
		return q.OptionD
	}
	return ""
}

// CorrectText returns the text of the correct answer.
func (q *Question) CorrectText() string {
	return q.OptionText(q.CorrectOption)
}

// Render formats the question for a Discord message.
func (q *Question) Render() string {
	var b strings.Builder
	fmt.Fprintf(
		&b,
		"**%s** (%s / %s)\n\n%s\n\n",
		titleCase(q.Category),
		q.Difficulty,
		q.Era,
		q.Prompt,
	)
	fmt.Fprintf(&b, "**A.** %s\n", q.OptionA)
	fmt.Fprintf(&b, "**B.** %s\n", q.OptionB)
	fmt.Fprintf(&b, "**C.** %s\n", q.OptionC)
	fmt.Fprintf(&b, "**D.** %s\n\n", q.OptionD)
	b.WriteString("Answer with `/answer` within 30 seconds!")
	return b.String()
}

func validCategory(category string) bool {
	_, ok := questionCategories[category]
	return ok
}

func validEra(era string) bool {
	for _, e := range questionEras {
		if e == era {
			return true
		}
	}
	return false
}

// categoryNames returns the category names in sorted order, for stable
// slash command choice registration.
func categoryNames() []string {
	names := make([]string, 0, len(questionCategories))
	for name := range questionCategories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func randomCategory() string {
	names := categoryNames()
	return names[rand.Intn(len(names))]
}

func randomSubcategory(category string) string {
	subs := questionCategories[category]
	if len(subs) == 0 {
		return ""
	}
	return subs[rand.Intn(len(subs))]
}

func randomEra() string {
	return questionEras[rand.Intn(len(questionEras))]
}

// buildQuestionPrompt produces the chat completion prompt used to
// generate a question.
func buildQuestionPrompt(
	category string,
	subcategory string,
	difficulty Difficulty,
	era string,
) string {
	var b strings.Builder
	fmt.Fprintf(
		&b,
		"Generate a %s multiple-choice trivia question about %s",
		difficulty,
		category,
	)
	if subcategory != "" {
		fmt.Fprintf(&b, " (specifically: %s)", subcategory)
	}
	if era != "" {
		fmt.Fprintf(&b, ", set in or about the %s", era)
	}
	b.WriteString(".\n\n")
	b.WriteString(
		"Respond with ONLY a JSON object in this exact format:\n" +
			"{\n" +
			`  "question": "the question text",` + "\n" +
			`  "options": ["choice A", "choice B", "choice C", "choice D"],` + "\n" +
			`  "correct": "A",` + "\n" +
			`  "explanation": "one-sentence explanation of the answer"` + "\n" +
			"}\n\n" +
			"The 'correct' field must be the letter (A, B, C or D) of the " +
			"correct choice. Do not include any other text.",
	)
	return b.String()
}

// questionPayload is the JSON document expected from the model.
type questionPayload struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Correct     string   `json:"correct"`
	Explanation string   `json:"explanation"`
}

// stripJSONFences removes markdown code fences (``` or ```json) that
// models often wrap JSON responses in, despite instructions.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// parseQuestionJSON parses a model response into a Question. The
// category/difficulty/era fields are left for the caller to fill in.
func parseQuestionJSON(raw string) (*Question, error) {
	var payload questionPayload
	if err := json.Unmarshal([]byte(stripJSONFences(raw)), &payload); err != nil {
		return nil, fmt.Errorf("error parsing question JSON: %w", err)
	}

	if strings.TrimSpace(payload.Question) == "" {
		return nil, errors.New("question text missing")
	}
	if len(payload.Options) != 4 {
		return nil, fmt.Errorf("expected 4 options, got %d", len(payload.Options))
	}
	for i, opt := range payload.Options {
		if strings.TrimSpace(opt) == "" {
			return nil, fmt.Errorf("option %d is empty", i)
		}
	}

	correct := strings.ToUpper(strings.TrimSpace(payload.Correct))
	switch correct {
	case "A", "B", "C", "D":
	//
	default:
		return nil, fmt.Errorf("invalid correct option: %q", payload.Correct)
	}

	return &Question{
		Prompt:        strings.TrimSpace(payload.Question),
		OptionA:       strings.TrimSpace(payload.Options[0]),
		OptionB:       strings.TrimSpace(payload.Options[1]),
		OptionC:       strings.TrimSpace(payload.Options[2]),
		OptionD:       strings.TrimSpace(payload.Options[3]),
		CorrectOption: correct,
		Explanation:   strings.TrimSpace(payload.Explanation),
		Source:        questionSourceOpenAI,
	}, nil
}

// fallbackQuestions are served when question generation fails, so a
// round never dead-ends on an API error.
var fallbackQuestions = map[Difficulty][]Question{
	DifficultyEasy: {
		{
			Category:      "geography",
			Subcategory:   "capitals",
			Era:           "2020s",
			Prompt:        "What is the capital of France?",
			OptionA:       "London",
			OptionB:       "Paris",
			OptionC:       "Berlin",
			OptionD:       "Madrid",
			CorrectOption: "B",
			Explanation:   "Paris has been the capital of France since 987 AD.",
		},
		{
			Category:      "science",
			Subcategory:   "astronomy",
			Era:           "2020s",
			Prompt:        "Which planet is known as the Red Planet?",
			OptionA:       "Venus",
			OptionB:       "Jupiter",
			OptionC:       "Mars",
			OptionD:       "Saturn",
			CorrectOption: "C",
			Explanation:   "Mars appears red due to iron oxide on its surface.",
		},
	},
	DifficultyMedium: {
		{
			Category:      "history",
			Subcategory:   "world wars",
			Era:           "1960s",
			Prompt:        "In what year did World War II end?",
			OptionA:       "1943",
			OptionB:       "1944",
			OptionC:       "1945",
			OptionD:       "1946",
			CorrectOption: "C",
			Explanation:   "World War II ended in 1945 with the surrender of Japan.",
		},
		{
			Category:      "literature",
			Subcategory:   "novels",
			Era:           "1960s",
			Prompt:        "Who wrote the novel 'To Kill a Mockingbird'?",
			OptionA:       "Harper Lee",
			OptionB:       "Mark Twain",
			OptionC:       "John Steinbeck",
			OptionD:       "F. Scott Fitzgerald",
			CorrectOption: "A",
			Explanation:   "Harper Lee published 'To Kill a Mockingbird' in 1960.",
		},
	},
	DifficultyHard: {
		{
			Category:      "science",
			Subcategory:   "chemistry",
			Era:           "2020s",
			Prompt:        "What is the atomic number of tungsten?",
			OptionA:       "68",
			OptionB:       "74",
			OptionC:       "79",
			OptionD:       "82",
			CorrectOption: "B",
			Explanation:   "Tungsten (symbol W) has atomic number 74.",
		},
		{
			Category:      "music",
			Subcategory:   "classical",
			Era:           "1970s",
			Prompt:        "How many symphonies did Beethoven complete?",
			OptionA:       "7",
			OptionB:       "8",
			OptionC:       "9",
			OptionD:       "10",
			CorrectOption: "C",
			Explanation:   "Beethoven completed nine symphonies; a tenth was left unfinished.",
		},
	},
}

// fallbackQuestion returns a copy of a random canned question for the
// given difficulty.
func fallbackQuestion(difficulty Difficulty) *Question {
	pool, ok := fallbackQuestions[difficulty]
	if !ok || len(pool) == 0 {
		pool = fallbackQuestions[DifficultyEasy]
	}
	q := pool[rand.Intn(len(pool))]
	q.Difficulty = difficulty
	q.Source = questionSourceFallback
	return &q
}
