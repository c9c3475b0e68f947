package triviabot

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
)

// DefaultPersonaName is the host persona used for new users when no
// other default is configured.
const DefaultPersonaName = "sarcastic_host"

// ResponseType identifies the kind of reply a persona is asked for.
type ResponseType string

const (
	ResponseCorrect   ResponseType = "correct"
	ResponseIncorrect ResponseType = "incorrect"
	ResponseSkip      ResponseType = "skip"
	ResponseTimeout   ResponseType = "timeout"
	ResponseStreak    ResponseType = "streak"
	ResponseRoast     ResponseType = "roast"
)

// Persona is a trivia host personality. Replies are picked from canned
// templates first; Style is the voice description handed to the model
// when a reply is generated instead (roasts, comparisons, or when a
// template pool is empty).
type Persona struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Style       string `json:"style"`

	Templates map[ResponseType][]string `json:"-"`
}

// personaContext holds the values substituted into persona templates.
type personaContext struct {
	User    string
	Score   string
	Streak  string
	Answer  string
	Correct string
}

func (pc personaContext) replacer() *strings.Replacer {
	return strings.NewReplacer(
		"{user}", pc.User,
		"{score}", pc.Score,
		"{streak}", pc.Streak,
		"{answer}", pc.Answer,
		"{correct}", pc.Correct,
	)
}

// Line picks a random template for the response type and fills in the
// context. Returns an empty string if the persona has no templates for
// the type, signaling the caller to fall back to AI generation.
func (p Persona) Line(rt ResponseType, pc personaContext) string {
	pool := p.Templates[rt]
	if len(pool) == 0 {
		return ""
	}
	return pc.replacer().Replace(pool[rand.Intn(len(pool))])
}

// aiPrompt builds the chat completion prompt used when no template
// exists, or when an explicitly AI-generated reply (roast, comparison)
// is requested.
func (p Persona) aiPrompt(instruction string) string {
	return fmt.Sprintf(
		"You are a trivia game host. Your personality: %s\n\n"+
			"%s\n\nReply with one or two sentences. Stay in character.",
		p.Style,
		instruction,
	)
}

var builtinPersonas = map[string]Persona{
	"sarcastic_host": {
		Name:        "sarcastic_host",
		DisplayName: "The Sarcastic Host",
		Style: "dry, sarcastic, and perpetually unimpressed, like a game " +
			"show host who has seen it all and is mildly annoyed to be here",
		Templates: map[ResponseType][]string{
			ResponseCorrect: {
				"Oh look, {user} got one right. {score} points. Try to contain your excitement.",
				"Correct. {score} points. Even a broken clock is right twice a day, {user}.",
				"Fine, yes, it was {answer}. {score} points. Don't let it go to your head.",
			},
			ResponseIncorrect: {
				"Nope. It was {correct}. I'd say 'better luck next time' but let's be realistic.",
				"Wrong. The answer was {correct}. I'm not mad, {user}, just disappointed.",
				"That's... not it. {correct} was the answer. Were you even trying?",
			},
			ResponseSkip: {
				"Skipping? Bold strategy, {user}. The answer was {correct}, by the way.",
				"Ah yes, the coward's gambit. It was {correct}.",
			},
			ResponseTimeout: {
				"Time's up. The answer was {correct}. I've seen glaciers move faster, {user}.",
				"And... nothing. The answer was {correct}. Thrilling stuff.",
			},
			ResponseStreak: {
				"A {streak} streak? Who are you and what have you done with {user}?",
				"{streak} in a row. I'd be impressed if my standards were lower.",
			},
		},
	},
	"cheerful_quizmaster": {
		Name:        "cheerful_quizmaster",
		DisplayName: "The Cheerful Quizmaster",
		Style: "relentlessly upbeat and encouraging, celebrates every little " +
			"thing with genuine warmth and lots of energy",
		Templates: map[ResponseType][]string{
			ResponseCorrect: {
				"YES! Amazing work, {user}! That's {score} points!",
				"Nailed it! {answer} is absolutely right — {score} points for {user}!",
				"Woohoo! {score} points! You're on fire, {user}!",
			},
			ResponseIncorrect: {
				"Ooh, so close! The answer was {correct}. You'll get the next one, {user}!",
				"Not quite, but great guess! It was {correct}. Keep at it!",
			},
			ResponseSkip: {
				"No worries, {user}! The answer was {correct}. On to the next one!",
			},
			ResponseTimeout: {
				"Time flew by! The answer was {correct}. Shake it off, {user}!",
			},
			ResponseStreak: {
				"INCREDIBLE! {streak} correct answers in a row! You're unstoppable, {user}!",
			},
		},
	},
	"stern_professor": {
		Name:        "stern_professor",
		DisplayName: "The Stern Professor",
		Style: "a strict but fair academic who treats trivia like a graded " +
			"examination, precise and a little formal, secretly proud of good students",
		Templates: map[ResponseType][]string{
			ResponseCorrect: {
				"Correct. {score} points. Acceptable work, {user}.",
				"Indeed, {answer}. {score} points. You did the reading, I see.",
			},
			ResponseIncorrect: {
				"Incorrect. The answer is {correct}. See me after class, {user}.",
				"No. {correct}. I suggest you review the material.",
			},
			ResponseSkip: {
				"An unanswered question is an automatic zero, {user}. The answer was {correct}.",
			},
			ResponseTimeout: {
				"Pencils down. The answer was {correct}. Time management, {user}.",
			},
			ResponseStreak: {
				"{streak} consecutive correct answers. Your diligence is noted, {user}.",
			},
		},
	},
	"dramatic_narrator": {
		Name:        "dramatic_narrator",
		DisplayName: "The Dramatic Narrator",
		Style: "an over-the-top movie-trailer narrator who treats every round " +
			"like the climax of an epic saga",
		Templates: map[ResponseType][]string{
			ResponseCorrect: {
				"AGAINST ALL ODDS... {user} answers {answer}... and TRIUMPHS! {score} points!",
				"In a world of uncertainty, one answer rang true. {score} points to {user}!",
			},
			ResponseIncorrect: {
				"A tragic turn! The answer... was {correct}. The crowd falls silent.",
				"So close to glory... yet it was {correct} all along. A devastating blow for {user}.",
			},
			ResponseSkip: {
				"{user} retreats from battle! The answer, lost to history... was {correct}.",
			},
			ResponseTimeout: {
				"The sands of time run out! The answer was {correct}. Roll credits.",
			},
			ResponseStreak: {
				"UNPRECEDENTED! {streak} victories in succession! Legends will be written of {user}!",
			},
		},
	},
	"chill_buddy": {
		Name:        "chill_buddy",
		DisplayName: "The Chill Buddy",
		Style: "laid-back and casual, like a friend quizzing you on the couch, " +
			"uses relaxed slang and never makes a big deal of anything",
		Templates: map[ResponseType][]string{
			ResponseCorrect: {
				"Nice, {answer} it is. {score} points, easy money.",
				"Yep, you got it. {score} points, {user}. Cruising.",
			},
			ResponseIncorrect: {
				"Ah, nah — it was {correct}. Happens to the best of us.",
				"Close-ish. {correct} was the one. No stress.",
			},
			ResponseSkip: {
				"All good, skip it. It was {correct} if you're curious.",
			},
			ResponseTimeout: {
				"Clock ran out, friend. It was {correct}. Next one's yours.",
			},
			ResponseStreak: {
				"Okay okay, {streak} in a row. Lowkey impressive, {user}.",
			},
		},
	},
}

// personaByName returns the named persona, falling back to the default
// when the name is unknown or empty.
func personaByName(name string) Persona {
	if p, ok := builtinPersonas[name]; ok {
		return p
	}
	return builtinPersonas[DefaultPersonaName]
}

func validPersona(name string) bool {
	_, ok := builtinPersonas[name]
	return ok
}

// personaNames returns the built-in persona names in sorted order, for
// stable slash command choice registration.
func personaNames() []string {
	names := make([]string, 0, len(builtinPersonas))
	for name := range builtinPersonas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
