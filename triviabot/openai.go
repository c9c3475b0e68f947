package triviabot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	openaiPurposeQuestion = "question"
	openaiPurposePersona  = "persona"
	openaiPurposeRoast    = "roast"
	openaiPurposeCompare  = "compare"
)

// OpenAIAPILog records a single chat completion request and its
// outcome, for auditing token spend and debugging bad generations.
type OpenAIAPILog struct {
	ModelUintID
	ModelUnixTime

	RoundID *uint  `json:"round_id"`
	Round   *Round `json:"-" gorm:"-"`

	// Purpose is what the completion was for (question, persona,
	// roast, compare).
	Purpose string `json:"purpose" gorm:"type:string;index"`

	RequestStarted int64 `json:"request_started"`
	RequestEnded   int64 `json:"request_ended"`

	RequestBody string `json:"request_payload" gorm:"type:string"`

	ResponseBody string `json:"response_payload" gorm:"type:string"`

	TotalTokens int `json:"total_tokens"`

	Error string `json:"error" gorm:"type:string"`
}

func (OpenAIAPILog) TableName() string {
	return "openai_api_log"
}

// OpenAI manages the OpenAI integration: the chat completion client,
// request rate limiting, and persistence of request logs. Question
// generation and persona replies both go through [OpenAI.chatCompletion].
type OpenAI struct {
	client         OpenAIClient
	config         *OpenAIConfig
	logger         *slog.Logger
	requestLimiter *rate.Limiter
	t              *TriviaBot

	mu *sync.RWMutex // primarily just protects requestLimiter
}

// OpenAIClient is the subset of the OpenAI API the bot uses. Tests
// substitute their own implementation.
type OpenAIClient interface {
	CreateChatCompletion(
		ctx context.Context,
		request openai.ChatCompletionRequest,
	) (openai.ChatCompletionResponse, error)
}

func newOpenAI(
	t *TriviaBot,
	httpClient *http.Client,
) *OpenAI {
	config := t.config.OpenAI
	o := &OpenAI{
		config: config,
		t:      t,
		mu:     &sync.RWMutex{},
	}
	o.logger = slog.New(
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	).With(loggerNameKey, "openai")

	clientCfg := openai.DefaultConfig(config.Token)
	if httpClient != nil {
		clientCfg.HTTPClient = httpClient
	}

	o.client = openai.NewClientWithConfig(clientCfg)

	return o
}

// setRequestLimit replaces the request limiter. Called on startup and
// whenever openai_max_requests_per_second changes at runtime.
func (o *OpenAI) setRequestLimit(requestsPerSecond int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requestLimiter = rate.NewLimiter(
		rate.Limit(requestsPerSecond),
		requestsPerSecond,
	)
}

func (o *OpenAI) waitOnRequestLimiter(ctx context.Context) error {
	o.mu.RLock()
	limiter := o.requestLimiter
	o.mu.RUnlock()
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("error waiting on request limiter: %w", err)
	}
	return nil
}

// chatCompletion executes a single chat completion using the current
// runtime model settings, and persists an [OpenAIAPILog] row whether
// the request succeeded or not.
func (o *OpenAI) chatCompletion(
	ctx context.Context,
	purpose string,
	roundID *uint,
	messages []openai.ChatCompletionMessage,
) (string, error) {
	if err := o.waitOnRequestLimiter(ctx); err != nil {
		return "", err
	}

	runtimeConfig := o.t.RuntimeConfig()
	req := openai.ChatCompletionRequest{
		Model:       runtimeConfig.OpenAIModel,
		Temperature: runtimeConfig.OpenAITemperature,
		MaxTokens:   runtimeConfig.OpenAIMaxCompletionTokens,
		Messages:    messages,
	}

	apiLog := OpenAIAPILog{
		RoundID:        roundID,
		Purpose:        purpose,
		RequestStarted: time.Now().UnixMilli(),
	}
	if reqBody, err := json.Marshal(req); err == nil {
		apiLog.RequestBody = string(reqBody)
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	apiLog.RequestEnded = time.Now().UnixMilli()

	if err != nil {
		apiLog.Error = err.Error()
	} else {
		apiLog.TotalTokens = resp.Usage.TotalTokens
		if respBody, marshalErr := json.Marshal(resp); marshalErr == nil {
			apiLog.ResponseBody = string(respBody)
		}
	}

	if _, createErr := o.t.writeDB.Create(
		context.WithoutCancel(ctx),
		&apiLog,
	); createErr != nil {
		o.logger.ErrorContext(
			ctx,
			"error saving api log",
			tint.Err(createErr),
		)
	}

	if err != nil {
		return "", fmt.Errorf("error creating chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// generateQuestion asks the model for a fresh question matching the
// round's category, subcategory, difficulty and era, and parses the
// JSON payload into a [Question]. The caller falls back to the bundled
// question pool on error.
func (t *TriviaBot) generateQuestion(
	ctx context.Context,
	r *Round,
) (*Question, error) {
	prompt := buildQuestionPrompt(
		r.Category,
		r.Subcategory,
		r.Difficulty,
		r.Era,
	)
	content, err := t.openai.chatCompletion(
		ctx,
		openaiPurposeQuestion,
		&r.ID,
		[]openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a trivia question writer. Respond only with JSON.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
	)
	if err != nil {
		return nil, err
	}

	question, err := parseQuestionJSON(content)
	if err != nil {
		return nil, fmt.Errorf("error parsing generated question: %w", err)
	}
	question.Category = r.Category
	question.Subcategory = r.Subcategory
	question.Difficulty = r.Difficulty
	question.Era = r.Era
	question.Source = questionSourceOpenAI
	return question, nil
}

// personaReply generates an in-character reply for personas (or
// response types) that have no canned template.
func (o *OpenAI) personaReply(
	ctx context.Context,
	t *TriviaBot,
	persona Persona,
	rt ResponseType,
	pc personaContext,
) (string, error) {
	var instruction string
	switch rt {
	case ResponseCorrect:
		instruction = fmt.Sprintf(
			"%s answered correctly (the answer was %s) and scored %s points. "+
				"React to their correct answer.",
			pc.User,
			pc.Correct,
			pc.Score,
		)
	case ResponseIncorrect:
		instruction = fmt.Sprintf(
			"%s answered %s, but the correct answer was %s. "+
				"React to their wrong answer.",
			pc.User,
			pc.Answer,
			pc.Correct,
		)
	case ResponseSkip:
		instruction = fmt.Sprintf(
			"%s skipped the question (the answer was %s). "+
				"React to them giving up.",
			pc.User,
			pc.Correct,
		)
	case ResponseTimeout:
		instruction = fmt.Sprintf(
			"%s ran out of time (the answer was %s). "+
				"React to them missing the deadline.",
			pc.User,
			pc.Correct,
		)
	case ResponseStreak:
		instruction = fmt.Sprintf(
			"%s is on a %s-answer win streak. Celebrate it in character.",
			pc.User,
			pc.Streak,
		)
	default:
		instruction = fmt.Sprintf("Say something to %s in character.", pc.User)
	}

	content, err := o.chatCompletion(
		ctx,
		openaiPurposePersona,
		nil,
		[]openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: persona.aiPrompt(instruction),
			},
		},
	)
	if err != nil {
		return "", err
	}
	return shortenString(content, discordMaxMessageLength), nil
}

// generateRoast writes a persona-flavored roast of the user's trivia
// record for /roast.
func (t *TriviaBot) generateRoast(
	ctx context.Context,
	persona Persona,
	user *User,
) (string, error) {
	record := fmt.Sprintf(
		"%s has played %d trivia games, won %d (%.1f%% win rate), "+
			"averages %.1f points per win, and their best streak is %d. "+
			"Their rating is %s.",
		user.DisplayName(),
		user.TotalGames,
		user.TotalWins,
		user.WinRate(),
		user.AvgScore(),
		user.BestStreak,
		user.PerformanceRating(),
	)
	instruction := fmt.Sprintf(
		"%s\n\nRoast this player's trivia record. Be funny and "+
			"specific about their numbers, but keep it good-natured.",
		record,
	)
	content, err := t.openai.chatCompletion(
		ctx,
		openaiPurposeRoast,
		nil,
		[]openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: persona.aiPrompt(instruction),
			},
		},
	)
	if err != nil {
		return "", err
	}
	return shortenString(content, discordMaxMessageLength), nil
}

// generateComparison writes the AI verdict for /compare, grounded on
// the head-to-head stat summary so the model can't invent numbers.
func (t *TriviaBot) generateComparison(
	ctx context.Context,
	persona Persona,
	summary string,
) (string, error) {
	instruction := fmt.Sprintf(
		"Here is a head-to-head trivia record:\n%s\n\n"+
			"Declare a winner and give your verdict. Base it only on "+
			"these numbers.",
		summary,
	)
	content, err := t.openai.chatCompletion(
		ctx,
		openaiPurposeCompare,
		nil,
		[]openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: persona.aiPrompt(instruction),
			},
		},
	)
	if err != nil {
		return "", err
	}
	return shortenString(content, discordMaxMessageLength), nil
}
