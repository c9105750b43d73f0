package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"sprout-agent/internal/domain"
	"sprout-agent/internal/logging"
)

const (
	defaultMaxMessages      = 20
	defaultMaxMessageLength = 2000
	defaultModelTimeout     = 20 * time.Second
)

// ModelClient completes a chat transcript whose first message is the system
// prompt.
type ModelClient interface {
	Complete(ctx context.Context, messages []domain.ChatMessage) (string, error)
}

// Moderator reports whether input should be refused.
type Moderator interface {
	Moderate(ctx context.Context, input string) (bool, error)
}

// Gateway turns a conversation into exactly one assistant reply, running at
// most one validated action on the user's behalf. It holds no per-turn state
// and is safe for concurrent use.
type Gateway struct {
	model     ModelClient
	moderator Moderator
	validator *Validator
	executor  *Executor
	logger    *zap.Logger

	features         PromptOptions
	systemPrompt     string
	modelTimeout     time.Duration
	maxMessages      int
	maxMessageLength int

	calendar CalendarService
}

type Option func(*Gateway)

func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

func WithFeatures(f PromptOptions) Option {
	return func(g *Gateway) { g.features = f }
}

func WithCalendar(c CalendarService) Option {
	return func(g *Gateway) { g.calendar = c }
}

func WithModerator(m Moderator) Option {
	return func(g *Gateway) { g.moderator = m }
}

func WithModelTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.modelTimeout = d
		}
	}
}

func WithMaxMessages(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxMessages = n
		}
	}
}

func WithMaxMessageLength(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxMessageLength = n
		}
	}
}

// New builds a Gateway. Budget actions are enabled by default; calendar
// actions need both WithFeatures and WithCalendar.
func New(model ModelClient, budgets BudgetService, opts ...Option) (*Gateway, error) {
	if model == nil {
		return nil, errors.New("gateway: model client must not be nil")
	}
	if budgets == nil {
		return nil, errors.New("gateway: budget service must not be nil")
	}
	g := &Gateway{
		model:            model,
		logger:           zap.NewNop(),
		features:         PromptOptions{EnableBudget: true},
		modelTimeout:     defaultModelTimeout,
		maxMessages:      defaultMaxMessages,
		maxMessageLength: defaultMaxMessageLength,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.features.EnableCalendar && g.calendar == nil {
		return nil, errors.New("gateway: calendar feature enabled without a calendar service")
	}

	resolver, err := NewResolver(budgets)
	if err != nil {
		return nil, err
	}
	g.executor, err = NewExecutor(budgets, g.calendar, resolver)
	if err != nil {
		return nil, err
	}
	g.validator = NewValidator(g.features)
	g.systemPrompt = BuildSystemPrompt(g.features)
	return g, nil
}

// Features reports the capabilities offered to the model.
func (g *Gateway) Features() PromptOptions { return g.features }

// HandleTurn answers the latest user message. The returned error is always a
// *Error with code ErrorInvalidInput; every other failure is logged and
// answered with a generic reply.
func (g *Gateway) HandleTurn(ctx context.Context, messages []domain.ChatMessage, userID string) (domain.ChatMessage, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.ChatMessage{}, newError(ErrorInvalidInput, "missing_user", nil)
	}
	history, tooLong, err := g.prepare(messages)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	logger := logging.FromContext(ctx, g.logger).With(
		zap.String("user_id", userID),
		zap.String("prompt_version", PromptVersion),
	)
	if tooLong {
		logger.Info("latest message exceeds length limit", zap.Int("limit", g.maxMessageLength))
		return domain.AssistantReply(messageTooLongReply), nil
	}

	reply, err := g.turn(ctx, logger, history, userID)
	if err != nil {
		g.logFailure(logger, err)
		return domain.AssistantReply(genericFailureReply), nil
	}
	return reply, nil
}

func (g *Gateway) turn(ctx context.Context, logger *zap.Logger, history []domain.ChatMessage, userID string) (domain.ChatMessage, error) {
	if g.moderator != nil {
		if latest, ok := latestUserContent(history); ok {
			flagged, err := g.moderator.Moderate(ctx, latest)
			if err != nil {
				return domain.ChatMessage{}, classifyUpstream("moderation", err)
			}
			if flagged {
				logger.Info("message refused by moderation")
				return domain.AssistantReply(moderationReply), nil
			}
		}
	}

	raw, err := g.complete(ctx, history)
	if err != nil {
		return domain.ChatMessage{}, err
	}

	env := ParseResponse(raw)
	logger.Debug("model response parsed", zap.Stringer("kind", env.Kind))
	switch env.Kind {
	case KindPlainText, KindMessage:
		if strings.TrimSpace(env.Content) == "" {
			return domain.AssistantReply(unrecognizedReply), nil
		}
		return domain.AssistantReply(env.Content), nil
	case KindAction:
		return g.act(ctx, logger, env.Action, userID)
	default:
		return domain.AssistantReply(unrecognizedReply), nil
	}
}

func (g *Gateway) complete(ctx context.Context, history []domain.ChatMessage) (string, error) {
	prompt := make([]domain.ChatMessage, 0, len(history)+1)
	prompt = append(prompt, domain.ChatMessage{Role: domain.RoleSystem, Content: g.systemPrompt})
	prompt = append(prompt, history...)

	callCtx, cancel := context.WithTimeout(ctx, g.modelTimeout)
	defer cancel()
	raw, err := g.model.Complete(callCtx, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", newError(ErrorUpstream, "model_timeout", err)
		}
		return "", classifyUpstream("model", err)
	}
	return raw, nil
}

func (g *Gateway) act(ctx context.Context, logger *zap.Logger, env ActionEnvelope, userID string) (domain.ChatMessage, error) {
	logger = logger.With(zap.String("action", env.Name))
	action, err := g.validator.Validate(env)
	if err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			return domain.ChatMessage{}, newError(ErrorInternal, "validation_error", err)
		}
		logger.Info("action rejected", zap.String("tag", string(verr.Tag)), zap.String("field", verr.Field))
		return domain.AssistantReply(clarifyingReply(verr)), nil
	}

	reply, err := g.executor.Execute(ctx, action, userID)
	if err != nil {
		var svcErr *serviceError
		if errors.As(err, &svcErr) {
			return domain.ChatMessage{}, &actionError{action: env.Name, err: newError(ErrorInternal, svcErr.reason, svcErr.err)}
		}
		return domain.ChatMessage{}, &actionError{action: env.Name, err: newError(ErrorInternal, "execution_error", err)}
	}
	logger.Info("action executed")
	return reply, nil
}

// actionError remembers which action was running when a failure occurred.
type actionError struct {
	action string
	err    *Error
}

func (e *actionError) Error() string { return e.err.Error() }
func (e *actionError) Unwrap() error { return e.err }

func (g *Gateway) logFailure(logger *zap.Logger, err error) {
	fields := []zap.Field{zap.Error(err)}
	var aerr *actionError
	if errors.As(err, &aerr) {
		fields = append(fields, zap.String("action", aerr.action))
	}
	var gerr *Error
	if errors.As(err, &gerr) {
		fields = append(fields, zap.String("code", string(gerr.Code)), zap.String("reason", gerr.Reason))
	} else {
		fields = append(fields, zap.String("code", string(ErrorInternal)), zap.String("reason", "unexpected_error"))
	}
	logger.Error("turn failed", fields...)
}

func classifyUpstream(source string, err error) *Error {
	if status, ok := upstreamStatusCode(err); ok && status == http.StatusTooManyRequests {
		return newError(ErrorRateLimited, source+"_rate_limited", err)
	}
	return newError(ErrorUpstream, source+"_error", err)
}

// prepare windows messages and validates what is kept. tooLong reports that
// the latest user message is over the length limit; older oversized
// messages are truncated in the returned copy.
func (g *Gateway) prepare(messages []domain.ChatMessage) (history []domain.ChatMessage, tooLong bool, err error) {
	if len(messages) == 0 {
		return nil, false, newError(ErrorInvalidInput, "empty_messages", nil)
	}
	kept := g.window(messages)
	latestUser := -1
	for i, m := range kept {
		if m.Role != domain.RoleUser && m.Role != domain.RoleAssistant {
			return nil, false, newError(ErrorInvalidInput, "invalid_role", nil)
		}
		if strings.TrimSpace(m.Content) == "" {
			return nil, false, newError(ErrorInvalidInput, "empty_content", nil)
		}
		if m.Role == domain.RoleUser {
			latestUser = i
		}
	}

	out := make([]domain.ChatMessage, len(kept))
	copy(out, kept)
	for i := range out {
		if utf8.RuneCountInString(out[i].Content) <= g.maxMessageLength {
			continue
		}
		if i == latestUser {
			return nil, true, nil
		}
		out[i].Content = truncateRunes(out[i].Content, g.maxMessageLength)
	}
	return out, false, nil
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// window keeps the most recent maxMessages messages.
func (g *Gateway) window(messages []domain.ChatMessage) []domain.ChatMessage {
	if len(messages) <= g.maxMessages {
		return messages
	}
	return messages[len(messages)-g.maxMessages:]
}

func latestUserContent(messages []domain.ChatMessage) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser {
			return messages[i].Content, true
		}
	}
	return "", false
}
