package triviabot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

// RoundState is the lifecycle state of a trivia round.
type RoundState string

const (
	// RoundStateQueued indicates the round is waiting in the request queue
	RoundStateQueued RoundState = "queued"

	// RoundStateGenerating indicates a question is being generated
	RoundStateGenerating RoundState = "generating"

	// RoundStateAwaitingAnswer indicates the question has been asked and
	// the answer window is open
	RoundStateAwaitingAnswer RoundState = "awaiting_answer"

	// RoundStateAnswered indicates the user answered within the window
	RoundStateAnswered RoundState = "answered"

	// RoundStateSkipped indicates the user skipped the question
	RoundStateSkipped RoundState = "skipped"

	// RoundStateExpired indicates the answer window elapsed, or the
	// request sat in the queue too long
	RoundStateExpired RoundState = "expired"

	// RoundStateFailed indicates an error prevented the round from
	// completing
	RoundStateFailed RoundState = "failed"

	// RoundStateIgnored indicates the round was discarded because the
	// user is ignored
	RoundStateIgnored RoundState = "ignored"

	// RoundStateRateLimited indicates the round was rejected due to the
	// user's 6-hour round limit, or a round already in progress
	RoundStateRateLimited RoundState = "rate_limited"

	// RoundStateAborted indicates the round was abandoned (e.g. bot
	// restarted mid-round)
	RoundStateAborted RoundState = "aborted"
)

// IsFinal indicates whether the state is terminal.
func (s RoundState) IsFinal() bool {
	switch s {
	case RoundStateAnswered,
		RoundStateSkipped,
		RoundStateExpired,
		RoundStateFailed,
		RoundStateIgnored,
		RoundStateRateLimited,
		RoundStateAborted:
		return true
	}
	return false
}

// RoundStep is the in-flight processing step of a round, for finer
// observability than RoundState alone.
type RoundStep string

const (
	RoundStepEnqueued       RoundStep = "enqueued"
	RoundStepGenerating     RoundStep = "generating"
	RoundStepAsking         RoundStep = "asking"
	RoundStepAwaitingAnswer RoundStep = "awaiting_answer"
)

var (
	columnRoundState         = "state"
	columnRoundStep          = "step"
	columnRoundPriority      = "priority"
	columnRoundCategory      = "category"
	columnRoundInteractionID = "interaction_id"
	columnRoundStartedAt     = "started_at"
	columnRoundFinishedAt    = "finished_at"
	columnRoundAskedAt       = "asked_at"
	columnRoundUserAnswer    = "user_answer"
	columnRoundCorrect       = "correct"
	columnRoundScore         = "score"
	columnRoundResponseTime  = "response_time"
	columnRoundResponse      = "response"
	columnRoundError         = "error"
	columnRoundAcknowledged  = "acknowledged"

	columnRoundDiscordMessageID = "discord_message_id"
	columnRoundQuestionID       = "question_id"
	columnRoundPersonaUsed      = "persona_used"
)

// Round is a single trivia round: one /trivia invocation, the question
// asked, and how it resolved. A round doubles as the user's score-history
// entry once it reaches a final state.
//
//nolint:lll // struct tags can't be split
type Round struct {
	ModelUintID
	ModelUnixTime
	Interaction

	State RoundState `json:"state" gorm:"type:string"`
	Step  RoundStep  `json:"step" gorm:"type:string"`

	// Priority rounds are queued ahead of others, and are executed even
	// while the bot is paused
	Priority bool `json:"priority" gorm:"not null;default:false"`

	Category    string     `json:"category" gorm:"index"`
	Subcategory string     `json:"subcategory"`
	Difficulty  Difficulty `json:"difficulty" gorm:"type:string"`
	Era         string     `json:"era"`

	QuestionID *uint     `json:"question_id"`
	Question   *Question `json:"question" gorm:"foreignKey:QuestionID"`

	// AskedAt is when the question was presented to the user; the
	// answer window is measured from here
	AskedAt *time.Time `json:"asked_at" gorm:"type:timestamp"`

	// UserAnswer is the choice letter the user answered with (A-D)
	UserAnswer string `json:"user_answer"`

	Correct bool `json:"correct" gorm:"not null;default:false"`

	// ResponseTime is the time taken to answer, in seconds
	ResponseTime float64 `json:"response_time"`

	Score float64 `json:"score"`

	// PersonaUsed is the persona that delivered the verdict, recorded
	// when the round resolves
	PersonaUsed string `json:"persona_used"`

	handler InteractionHandler `gorm:"-"`
	logger  *slog.Logger       `gorm:"-"`

	// index is the round's position in the in-memory priority queue.
	index int `gorm:"-"`
}

// NewRound creates a Round from a /trivia interaction. Options not
// provided are defaulted: category from the user's preference (or chosen
// at random), difficulty to easy, era at random.
func NewRound(i *discordgo.InteractionCreate, u *User) *Round {
	r := &Round{
		State:       RoundStateQueued,
		Step:        RoundStepEnqueued,
		Interaction: *NewUserInteraction(i, u),
		Difficulty:  DifficultyEasy,
	}
	if u != nil {
		r.Priority = u.Priority
		if u.PreferredCategory != "" {
			r.Category = u.PreferredCategory
		}
	}

	opts := discordInteractionOptions(i)
	if opt, ok := opts["category"]; ok {
		if c := opt.StringValue(); validCategory(c) {
			r.Category = c
		}
	}
	if opt, ok := opts["difficulty"]; ok {
		switch Difficulty(opt.StringValue()) {
		case DifficultyEasy, DifficultyMedium, DifficultyHard:
			r.Difficulty = Difficulty(opt.StringValue())
		}
	}
	if opt, ok := opts["era"]; ok {
		if e := opt.StringValue(); validEra(e) {
			r.Era = e
		}
	}

	if r.Category == "" {
		r.Category = randomCategory()
	}
	r.Subcategory = randomSubcategory(r.Category)
	if r.Era == "" {
		r.Era = randomEra()
	}

	return r
}

// Age returns the time elapsed since the round was created.
func (r *Round) Age() time.Duration {
	return time.Since(time.UnixMilli(r.CreatedAt))
}

func (r Round) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(r.ID)),
		slog.String(columnUserID, r.UserID),
		slog.String(columnRoundState, string(r.State)),
		slog.String(columnRoundStep, string(r.Step)),
		slog.String(columnRoundCategory, r.Category),
		slog.String("difficulty", string(r.Difficulty)),
		slog.Bool(columnRoundPriority, r.Priority),
	)
}

// runRound executes a queued round: enforces the one-active-round rule
// and the 6-hour limit, generates a question, presents it, and opens
// the answer window. Called from the owning user's worker goroutine.
func (t *TriviaBot) runRound(ctx context.Context, r *Round) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = t.logger
	}
	logger = logger.With(slog.Group("round", roundLogAttrs(*r)...))
	ctx = WithLogger(ctx, logger)
	r.logger = logger

	if active, _ := t.activeRound(ctx, r.UserID); active != nil {
		logger.WarnContext(
			ctx,
			"user already has an active round",
			"active_round_id", active.ID,
		)
		t.finalizeRejectedRound(
			ctx,
			r,
			RoundStateRateLimited,
			t.RuntimeConfig().DiscordRateLimitMessage,
		)
		return
	}

	if !r.Priority {
		available, availableAt := roundAvailable(t.db, r.User, time.Now())
		if !available {
			logger.WarnContext(
				ctx,
				"user reached round limit",
				"available_at", availableAt,
			)
			t.finalizeRejectedRound(
				ctx,
				r,
				RoundStateRateLimited,
				fmt.Sprintf(
					"You've hit your trivia limit for now! Try again <t:%d:R>.",
					availableAt.Unix(),
				),
			)
			return
		}
	}

	r.State = RoundStateGenerating
	r.Step = RoundStepGenerating
	if _, err := t.writeDB.RoundUpdates(
		ctx, r, map[string]any{
			columnRoundState: RoundStateGenerating,
			columnRoundStep:  RoundStepGenerating,
		},
	); err != nil {
		logger.ErrorContext(ctx, "error updating round state", tint.Err(err))
	}

	question, genErr := t.generateQuestion(ctx, r)
	if genErr != nil {
		logger.WarnContext(
			ctx,
			"question generation failed, using fallback",
			tint.Err(genErr),
		)
		question = fallbackQuestion(r.Difficulty)
		question.Category = r.Category
		question.Subcategory = r.Subcategory
		question.Era = r.Era
	}

	if _, err := t.writeDB.Create(ctx, question); err != nil {
		logger.ErrorContext(ctx, "error saving question", tint.Err(err))
		t.finalizeRejectedRound(
			ctx,
			r,
			RoundStateFailed,
			r.handler.Config().DiscordErrorMessage,
		)
		return
	}

	r.Question = question
	r.QuestionID = &question.ID
	r.Step = RoundStepAsking

	content := question.Render()
	askedAt := time.Now().UTC()

	if _, err := r.handler.Edit(
		ctx,
		&discordgo.WebhookEdit{Content: &content},
	); err != nil {
		logger.ErrorContext(ctx, "error presenting question", tint.Err(err))
		errMsg := NullableString(err.Error())
		if _, updErr := t.writeDB.RoundUpdates(
			ctx, r, map[string]any{
				columnRoundState:      RoundStateFailed,
				columnRoundStep:       "",
				columnRoundQuestionID: question.ID,
				columnRoundError:      errMsg,
			},
		); updErr != nil {
			logger.ErrorContext(ctx, "error updating round", tint.Err(updErr))
		}
		return
	}

	r.AskedAt = &askedAt
	r.State = RoundStateAwaitingAnswer
	r.Step = RoundStepAwaitingAnswer
	if _, err := t.writeDB.RoundUpdates(
		ctx, r, map[string]any{
			columnRoundState:      RoundStateAwaitingAnswer,
			columnRoundStep:       RoundStepAwaitingAnswer,
			columnRoundAskedAt:    &askedAt,
			columnRoundQuestionID: question.ID,
			columnRoundResponse:   &content,
		},
	); err != nil {
		logger.ErrorContext(ctx, "error updating round state", tint.Err(err))
	}

	t.scheduleRoundExpiry(ctx, r)
}

// finalizeRejectedRound marks a round with a terminal state and edits the
// deferred interaction response with the given message.
func (t *TriviaBot) finalizeRejectedRound(
	ctx context.Context,
	r *Round,
	state RoundState,
	message string,
) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = t.logger
	}
	finishedAt := time.Now().UTC()
	if _, err := t.writeDB.RoundUpdates(
		ctx, r, map[string]any{
			columnRoundState:      state,
			columnRoundStep:       "",
			columnRoundFinishedAt: &finishedAt,
			columnRoundResponse:   &message,
		},
	); err != nil {
		logger.ErrorContext(ctx, "error saving rejected round", tint.Err(err))
	}
	if r.handler == nil {
		return
	}
	if _, err := r.handler.Edit(
		ctx,
		&discordgo.WebhookEdit{Content: &message},
	); err != nil {
		logger.WarnContext(ctx, "failed to edit message", tint.Err(err))
	}
}

// scheduleRoundExpiry starts the answer window timer. When it fires, the
// round is expired only if it's still awaiting an answer - resolving the
// race with /answer and /skip through a conditional update.
func (t *TriviaBot) scheduleRoundExpiry(ctx context.Context, r *Round) {
	timer := time.NewTimer(AnswerWindow)
	t.expiryTimersRunning.Add(1)
	go func() {
		defer t.expiryTimersRunning.Add(-1)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			// Leave the round to be aborted by startup catchup.
			return
		case <-timer.C:
		//
		}

		t.expireRound(r)
	}()
}

// expireRound closes the answer window. The round is expired only if
// it's still awaiting an answer; a round already claimed by /answer or
// /skip is left alone.
func (t *TriviaBot) expireRound(r *Round) {
	logger := r.logger
	if logger == nil {
		logger = t.logger
	}

	finishedAt := time.Now().UTC()
	claimed, err := t.writeDB.UpdatesWhere(
		context.Background(),
		&Round{},
		map[string]any{
			columnRoundState:      RoundStateExpired,
			columnRoundStep:       "",
			columnRoundFinishedAt: &finishedAt,
		},
		"id = ? AND state = ?",
		r.ID,
		RoundStateAwaitingAnswer,
	)
	if err != nil {
		logger.Error("error expiring round", tint.Err(err))
		return
	}
	if claimed == 0 {
		// Already answered or skipped.
		return
	}

	logger.Info("round expired without an answer")
	t.resolveRound(context.Background(), r, roundResolution{
		state: RoundStateExpired,
	})
}

// roundResolution describes how an awaiting round ended.
type roundResolution struct {
	state        RoundState
	userAnswer   string
	correct      bool
	responseTime time.Duration
}

// resolveRound records the outcome of a round that reached the
// awaiting-answer state: computes the score, updates the user's record
// and per-category stats, and sends the persona's reply as a followup.
// The caller must have already claimed the terminal state transition.
func (t *TriviaBot) resolveRound(
	ctx context.Context,
	r *Round,
	res roundResolution,
) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = t.logger
	}
	logger = logger.With(slog.Group("round", roundLogAttrs(*r)...))

	user := r.User
	if user == nil {
		user = t.writeDB.ReloadUser(r.UserID)
		if user == nil {
			logger.ErrorContext(ctx, "user not found for round resolution")
			return
		}
	}

	priorStreak := user.CurrentStreak
	persona := personaByName(user.PreferredPersona)

	var score float64
	if res.correct {
		score = StreakBonus(
			RoundScore(r.Difficulty, res.responseTime),
			priorStreak,
		)
	}

	updates := map[string]any{
		columnRoundUserAnswer:   res.userAnswer,
		columnRoundCorrect:      res.correct,
		columnRoundScore:        score,
		columnRoundResponseTime: res.responseTime.Seconds(),
		columnRoundPersonaUsed:  persona.Name,
	}
	if res.state != RoundStateExpired {
		// Expiry already set the terminal state when claiming the round.
		finishedAt := time.Now().UTC()
		updates[columnRoundState] = res.state
		updates[columnRoundStep] = ""
		updates[columnRoundFinishedAt] = &finishedAt
	}
	if _, err := t.writeDB.RoundUpdates(ctx, r, updates); err != nil {
		logger.ErrorContext(ctx, "error saving round result", tint.Err(err))
	}
	r.State = res.state
	r.UserAnswer = res.userAnswer
	r.Correct = res.correct
	r.Score = score
	r.ResponseTime = res.responseTime.Seconds()
	r.PersonaUsed = persona.Name

	if err := t.recordRoundResult(ctx, user, r, res); err != nil {
		logger.ErrorContext(ctx, "error recording round result", tint.Err(err))
	}

	t.sendRoundReply(ctx, r, user, priorStreak)
}

// sendRoundReply delivers the persona's verdict (and a streak
// celebration when one is earned) as interaction followups.
func (t *TriviaBot) sendRoundReply(
	ctx context.Context,
	r *Round,
	user *User,
	priorStreak int,
) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = t.logger
	}

	if r.handler == nil {
		logger.WarnContext(ctx, "no interaction handler, skipping reply")
		return
	}

	persona := personaByName(r.PersonaUsed)
	pc := personaContext{
		User:    user.DisplayName(),
		Score:   fmt.Sprintf("%.0f", r.Score),
		Streak:  fmt.Sprintf("%d", user.CurrentStreak),
		Correct: "",
		Answer:  "",
	}
	if r.Question != nil {
		pc.Correct = fmt.Sprintf(
			"%s (%s)", r.Question.CorrectOption, r.Question.CorrectText(),
		)
		pc.Answer = r.Question.OptionText(r.UserAnswer)
	}

	var rt ResponseType
	switch r.State {
	case RoundStateAnswered:
		if r.Correct {
			rt = ResponseCorrect
		} else {
			rt = ResponseIncorrect
		}
	case RoundStateSkipped:
		rt = ResponseSkip
	case RoundStateExpired:
		rt = ResponseTimeout
	default:
		return
	}

	reply := persona.Line(rt, pc)
	if reply == "" {
		generated, err := t.openai.personaReply(ctx, t, persona, rt, pc)
		if err != nil {
			logger.WarnContext(
				ctx, "persona AI reply failed", tint.Err(err),
			)
			reply = t.RuntimeConfig().DiscordErrorMessage
		} else {
			reply = generated
		}
	}

	if r.Question != nil && r.Question.Explanation != "" && rt != ResponseCorrect {
		reply = fmt.Sprintf("%s\n\n*%s*", reply, r.Question.Explanation)
	}

	if _, err := r.handler.Followup(
		ctx,
		&discordgo.WebhookParams{
			Content: shortenString(reply, discordMaxMessageLength),
		},
	); err != nil {
		logger.ErrorContext(ctx, "error sending round reply", tint.Err(err))
	}

	// Celebrate streak milestones (every 3 correct answers).
	if r.Correct && user.CurrentStreak > priorStreak &&
		user.CurrentStreak >= 3 && user.CurrentStreak%3 == 0 {
		streakLine := persona.Line(ResponseStreak, pc)
		if streakLine != "" {
			if _, err := r.handler.Followup(
				ctx,
				&discordgo.WebhookParams{Content: streakLine},
			); err != nil {
				logger.WarnContext(
					ctx, "error sending streak followup", tint.Err(err),
				)
			}
		}
	}
}

// activeRound returns the user's round currently awaiting an answer,
// if any.
func (t *TriviaBot) activeRound(
	ctx context.Context,
	userID string,
) (*Round, error) {
	var round Round
	err := t.db.WithContext(ctx).Where(
		"user_id = ? AND state = ?",
		userID,
		RoundStateAwaitingAnswer,
	).Preload("Question").Last(&round).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &round, nil
}
