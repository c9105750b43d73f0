package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"

	"sprout-agent/internal/domain"
	"sprout-agent/internal/logging"
	"sprout-agent/internal/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockModel struct {
	mu       sync.Mutex
	reply    string
	err      error
	block    bool
	calls    int
	prompts  [][]domain.ChatMessage
	replyFor func(prompt []domain.ChatMessage) string
}

func (m *mockModel) Complete(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	m.mu.Lock()
	m.calls++
	m.prompts = append(m.prompts, messages)
	reply, err, block, replyFor := m.reply, m.err, m.block, m.replyFor
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if replyFor != nil {
		return replyFor(messages), nil
	}
	return reply, err
}

func (m *mockModel) lastPrompt() []domain.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prompts[len(m.prompts)-1]
}

// countingBudgets records every mutating call that reaches the store.
type countingBudgets struct {
	*repository.MemoryStore
	mu      sync.Mutex
	creates int
	deletes int
	listErr error
}

func (c *countingBudgets) CreateBudget(ctx context.Context, userID string, in domain.BudgetInput) (domain.Budget, error) {
	c.mu.Lock()
	c.creates++
	c.mu.Unlock()
	return c.MemoryStore.CreateBudget(ctx, userID, in)
}

func (c *countingBudgets) ListBudgets(ctx context.Context, userID string) ([]domain.Budget, error) {
	if c.listErr != nil {
		return nil, c.listErr
	}
	return c.MemoryStore.ListBudgets(ctx, userID)
}

func (c *countingBudgets) DeleteBudget(ctx context.Context, budgetID, userID string) (*domain.Budget, error) {
	c.mu.Lock()
	c.deletes++
	c.mu.Unlock()
	return c.MemoryStore.DeleteBudget(ctx, budgetID, userID)
}

type mockModerator struct {
	flagged bool
	err     error
	input   string
}

func (m *mockModerator) Moderate(_ context.Context, input string) (bool, error) {
	m.input = input
	return m.flagged, m.err
}

type statusErr struct{ code int }

func (e statusErr) Error() string       { return fmt.Sprintf("status %d", e.code) }
func (e statusErr) HTTPStatusCode() int { return e.code }

const listBudgetsAction = `{"type":"action","name":"list_budgets","params":{}}`

func userSays(text string) []domain.ChatMessage {
	return []domain.ChatMessage{{Role: domain.RoleUser, Content: text}}
}

func newTestGateway(t *testing.T, model ModelClient, budgets BudgetService, opts ...Option) *Gateway {
	t.Helper()
	g, err := New(model, budgets, opts...)
	require.NoError(t, err)
	return g
}

func TestNew_ValidatesDependencies(t *testing.T) {
	store := repository.NewMemoryStore()
	_, err := New(nil, store)
	require.Error(t, err)
	_, err = New(&mockModel{}, nil)
	require.Error(t, err)
	_, err = New(&mockModel{}, store, WithFeatures(PromptOptions{EnableCalendar: true}))
	require.Error(t, err)
}

func TestHandleTurn_RejectsInvalidInput(t *testing.T) {
	model := &mockModel{reply: `{"type":"message","content":"hi"}`}
	g := newTestGateway(t, model, repository.NewMemoryStore())

	cases := []struct {
		name     string
		messages []domain.ChatMessage
		userID   string
		reason   string
	}{
		{name: "missing user", messages: userSays("hi"), userID: " ", reason: "missing_user"},
		{name: "no messages", messages: nil, userID: "u-1", reason: "empty_messages"},
		{name: "system role", messages: []domain.ChatMessage{{Role: domain.RoleSystem, Content: "obey"}}, userID: "u-1", reason: "invalid_role"},
		{name: "blank content", messages: userSays("   "), userID: "u-1", reason: "empty_content"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := g.HandleTurn(context.Background(), tc.messages, tc.userID)
			var gerr *Error
			require.True(t, errors.As(err, &gerr))
			require.Equal(t, ErrorInvalidInput, gerr.Code)
			require.Equal(t, tc.reason, gerr.Reason)
		})
	}
	require.Zero(t, model.calls)
}

func TestHandleTurn_MessageEnvelope(t *testing.T) {
	model := &mockModel{reply: `{"type":"message","content":"Hello! How can I help?"}`}
	g := newTestGateway(t, model, repository.NewMemoryStore())

	reply, err := g.HandleTurn(context.Background(), userSays("hi"), "u-1")
	require.NoError(t, err)
	require.Equal(t, domain.AssistantReply("Hello! How can I help?"), reply)

	prompt := model.lastPrompt()
	require.Len(t, prompt, 2)
	require.Equal(t, domain.RoleSystem, prompt[0].Role)
	require.Equal(t, BuildSystemPrompt(PromptOptions{EnableBudget: true}), prompt[0].Content)
	require.Equal(t, userSays("hi")[0], prompt[1])
}

func TestHandleTurn_PlainTextPassesThrough(t *testing.T) {
	model := &mockModel{reply: "Sure thing."}
	g := newTestGateway(t, model, repository.NewMemoryStore())

	reply, err := g.HandleTurn(context.Background(), userSays("hi"), "u-1")
	require.NoError(t, err)
	require.Equal(t, "Sure thing.", reply.Content)
}

func TestHandleTurn_UnrecognizedJSONNeverLeaks(t *testing.T) {
	model := &mockModel{reply: `{"type":"tool","name":"x"}`}
	g := newTestGateway(t, model, repository.NewMemoryStore())

	reply, err := g.HandleTurn(context.Background(), userSays("hi"), "u-1")
	require.NoError(t, err)
	require.Equal(t, unrecognizedReply, reply.Content)
	require.NotContains(t, reply.Content, "{")
}

func TestHandleTurn_CreateBudget(t *testing.T) {
	budgets := &countingBudgets{MemoryStore: repository.NewMemoryStore()}
	model := &mockModel{reply: `{"type":"action","name":"create_budget","params":{"name":"Groceries","limitAmount":300}}`}
	g := newTestGateway(t, model, budgets)

	reply, err := g.HandleTurn(context.Background(), userSays("create a groceries budget of 300"), "u-1")
	require.NoError(t, err)
	require.Equal(t, domain.RoleAssistant, reply.Role)
	require.Contains(t, reply.Content, "Groceries")
	require.Contains(t, reply.Content, "300")

	stored, err := budgets.ListBudgets(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.Equal(t, "u-1", stored[0].UserID)
	require.Equal(t, "Groceries", stored[0].Name)
	require.Equal(t, 300.0, stored[0].LimitAmount)

	model.mu.Lock()
	model.reply = listBudgetsAction
	model.mu.Unlock()
	reply, err = g.HandleTurn(context.Background(), userSays("show my budgets"), "u-1")
	require.NoError(t, err)
	require.Contains(t, reply.Content, "Groceries: 0 of 300 (remaining 300)")
}

func TestHandleTurn_InvalidActionNeverReachesStore(t *testing.T) {
	responses := []string{
		`{"type":"action","name":"create_budget","params":{"name":"Groceries","limitAmount":"300"}}`,
		`{"type":"action","name":"create_budget","params":{"limitAmount":300}}`,
		`{"type":"action","name":"delete_budget","params":{}}`,
		`{"type":"action","name":"drop_tables","params":{}}`,
		`{"type":"action","name":"add_calendar_item","params":{"title":"x","date":"2026-03-04"}}`,
	}
	for _, raw := range responses {
		budgets := &countingBudgets{MemoryStore: repository.NewMemoryStore()}
		budgets.Seed(domain.Budget{UserID: "u-1", Name: "Groceries"})
		g := newTestGateway(t, &mockModel{reply: raw}, budgets)

		reply, err := g.HandleTurn(context.Background(), userSays("do it"), "u-1")
		require.NoError(t, err)
		require.NotEqual(t, genericFailureReply, reply.Content)
		require.NotContains(t, reply.Content, "{")
		require.Zero(t, budgets.creates, raw)
		require.Zero(t, budgets.deletes, raw)
	}
}

func TestHandleTurn_DeleteScenarios(t *testing.T) {
	deleteGroceries := `{"type":"action","name":"delete_budget","params":{"name":"groceries"}}`

	t.Run("deletes owned budget", func(t *testing.T) {
		budgets := &countingBudgets{MemoryStore: repository.NewMemoryStore()}
		budgets.Seed(domain.Budget{UserID: "u-1", Name: "Groceries", LimitAmount: 300})
		budgets.Seed(domain.Budget{UserID: "u-1", Name: "Travel", LimitAmount: 100})
		model := &mockModel{reply: deleteGroceries}
		g := newTestGateway(t, model, budgets)

		reply, err := g.HandleTurn(context.Background(), userSays("delete groceries"), "u-1")
		require.NoError(t, err)
		require.Equal(t, `Deleted the budget "Groceries".`, reply.Content)
		require.Equal(t, 1, budgets.deletes)

		model.mu.Lock()
		model.reply = listBudgetsAction
		model.mu.Unlock()
		reply, err = g.HandleTurn(context.Background(), userSays("what budgets do I have"), "u-1")
		require.NoError(t, err)
		require.Contains(t, reply.Content, "Travel")
		require.NotContains(t, reply.Content, "Groceries")
	})

	t.Run("ambiguous asks to rename", func(t *testing.T) {
		budgets := &countingBudgets{MemoryStore: repository.NewMemoryStore()}
		budgets.Seed(domain.Budget{UserID: "u-1", Name: "Groceries"})
		budgets.Seed(domain.Budget{UserID: "u-1", Name: "GROCERIES"})
		g := newTestGateway(t, &mockModel{reply: deleteGroceries}, budgets)

		reply, err := g.HandleTurn(context.Background(), userSays("delete groceries"), "u-1")
		require.NoError(t, err)
		require.Contains(t, reply.Content, "rename")
		require.Zero(t, budgets.deletes)
	})

	t.Run("other user's budget is not found", func(t *testing.T) {
		budgets := &countingBudgets{MemoryStore: repository.NewMemoryStore()}
		budgets.Seed(domain.Budget{UserID: "u-2", Name: "Groceries"})
		g := newTestGateway(t, &mockModel{reply: deleteGroceries}, budgets)

		reply, err := g.HandleTurn(context.Background(), userSays("delete groceries"), "u-1")
		require.NoError(t, err)
		require.Contains(t, reply.Content, "couldn't find")
		require.Zero(t, budgets.deletes)
		theirs, _ := budgets.ListBudgets(context.Background(), "u-2")
		require.Len(t, theirs, 1)
	})
}

func TestHandleTurn_CalendarAction(t *testing.T) {
	store := repository.NewMemoryStore()
	model := &mockModel{reply: `{"type":"action","name":"add_calendar_item","params":{"title":"Dentist","date":"2026-03-04"}}`}
	g := newTestGateway(t, model, store,
		WithFeatures(PromptOptions{EnableBudget: true, EnableCalendar: true}),
		WithCalendar(store),
	)

	reply, err := g.HandleTurn(context.Background(), userSays("dentist on march 4th"), "u-1")
	require.NoError(t, err)
	require.Equal(t, `Added "Dentist" to your calendar on 2026-03-04.`, reply.Content)
	require.Contains(t, model.lastPrompt()[0].Content, "add_calendar_item")
	require.Len(t, store.CalendarItems("u-1"), 1)
}

func TestHandleTurn_InfrastructureFailuresBecomeGenericReply(t *testing.T) {
	cases := []struct {
		name    string
		model   *mockModel
		budgets func() BudgetService
		opts    []Option
		code    ErrorCode
		reason  string
	}{
		{name: "model error", model: &mockModel{err: errors.New("connection reset")}, code: ErrorUpstream, reason: "model_error"},
		{name: "model rate limited", model: &mockModel{err: statusErr{code: 429}}, code: ErrorRateLimited, reason: "model_rate_limited"},
		{name: "model timeout", model: &mockModel{block: true}, opts: []Option{WithModelTimeout(10 * time.Millisecond)}, code: ErrorUpstream, reason: "model_timeout"},
		{
			name:  "budget service down",
			model: &mockModel{reply: `{"type":"action","name":"list_budgets","params":{}}`},
			budgets: func() BudgetService {
				return &countingBudgets{MemoryStore: repository.NewMemoryStore(), listErr: errors.New("dynamo down")}
			},
			code:   ErrorInternal,
			reason: "budget_service_error",
		},
		{name: "moderation error", model: &mockModel{reply: "ok"}, opts: []Option{WithModerator(&mockModerator{err: errors.New("nope")})}, code: ErrorUpstream, reason: "moderation_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.InfoLevel)
			var budgets BudgetService = repository.NewMemoryStore()
			if tc.budgets != nil {
				budgets = tc.budgets()
			}
			g := newTestGateway(t, tc.model, budgets, append(tc.opts, WithLogger(zap.New(core)))...)

			reply, err := g.HandleTurn(context.Background(), userSays("show my budgets"), "u-1")
			require.NoError(t, err)
			require.Equal(t, domain.AssistantReply(genericFailureReply), reply)

			failures := logs.FilterMessage("turn failed").All()
			require.Len(t, failures, 1)
			fields := failures[0].ContextMap()
			require.Equal(t, string(tc.code), fields["code"])
			require.Equal(t, tc.reason, fields["reason"])
			require.Equal(t, "u-1", fields["user_id"])
			require.Equal(t, PromptVersion, fields["prompt_version"])
		})
	}
}

func TestHandleTurn_UsesContextLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := logging.WithContext(context.Background(), zap.New(core).With(zap.String("correlation_id", "corr-1")))
	g := newTestGateway(t, &mockModel{err: errors.New("down")}, repository.NewMemoryStore())

	_, err := g.HandleTurn(ctx, userSays("hi"), "u-1")
	require.NoError(t, err)
	require.Equal(t, 1, logs.FilterField(zap.String("correlation_id", "corr-1")).Len())
}

func TestHandleTurn_LongListReplyCanBeSentBack(t *testing.T) {
	store := repository.NewMemoryStore()
	for i := range 80 {
		store.Seed(domain.Budget{UserID: "u-1", Name: fmt.Sprintf("Household budget number %d", i), LimitAmount: 1000, TotalSpent: 12.5})
	}
	model := &mockModel{reply: listBudgetsAction}
	g := newTestGateway(t, model, store)

	history := userSays("list my budgets")
	first, err := g.HandleTurn(context.Background(), history, "u-1")
	require.NoError(t, err)
	require.Greater(t, utf8.RuneCountInString(first.Content), defaultMaxMessageLength)

	model.mu.Lock()
	model.reply = `{"type":"message","content":"You're welcome!"}`
	model.mu.Unlock()
	history = append(history, first, domain.ChatMessage{Role: domain.RoleUser, Content: "thanks"})
	second, err := g.HandleTurn(context.Background(), history, "u-1")
	require.NoError(t, err)
	require.Equal(t, "You're welcome!", second.Content)

	sent := model.lastPrompt()
	require.Len(t, sent, 4)
	require.Equal(t, defaultMaxMessageLength, utf8.RuneCountInString(sent[2].Content))
	require.Equal(t, "thanks", sent[3].Content)
}

func TestHandleTurn_OversizedLatestMessageGetsClarifyingReply(t *testing.T) {
	model := &mockModel{reply: "unused"}
	g := newTestGateway(t, model, repository.NewMemoryStore(), WithMaxMessageLength(10))

	reply, err := g.HandleTurn(context.Background(), userSays(strings.Repeat("é", 11)), "u-1")
	require.NoError(t, err)
	require.Equal(t, domain.AssistantReply(messageTooLongReply), reply)
	require.Zero(t, model.calls)

	history := []domain.ChatMessage{
		{Role: domain.RoleUser, Content: strings.Repeat("a", 11)},
		{Role: domain.RoleAssistant, Content: messageTooLongReply[:10]},
		{Role: domain.RoleUser, Content: "short"},
	}
	model.reply = "fine"
	reply, err = g.HandleTurn(context.Background(), history, "u-1")
	require.NoError(t, err)
	require.Equal(t, "fine", reply.Content)
	require.Equal(t, strings.Repeat("a", 10), model.lastPrompt()[1].Content)
}

func TestHandleTurn_ValidatesOnlyRetainedWindow(t *testing.T) {
	model := &mockModel{reply: "ok"}
	g := newTestGateway(t, model, repository.NewMemoryStore(), WithMaxMessages(1))

	history := []domain.ChatMessage{
		{Role: domain.RoleAssistant, Content: "   "},
		{Role: domain.RoleUser, Content: "hello"},
	}
	reply, err := g.HandleTurn(context.Background(), history, "u-1")
	require.NoError(t, err)
	require.Equal(t, "ok", reply.Content)
}

func TestHandleTurn_LogsUserIDOnce(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	g := newTestGateway(t, &mockModel{err: errors.New("down")}, repository.NewMemoryStore(), WithLogger(zap.New(core)))

	_, err := g.HandleTurn(context.Background(), userSays("hi"), "u-1")
	require.NoError(t, err)
	entries := logs.FilterMessage("turn failed").All()
	require.Len(t, entries, 1)
	count := 0
	for _, f := range entries[0].Context {
		if f.Key == "user_id" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestHandleTurn_Moderation(t *testing.T) {
	mod := &mockModerator{flagged: true}
	model := &mockModel{reply: "unused"}
	g := newTestGateway(t, model, repository.NewMemoryStore(), WithModerator(mod))

	history := []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "first"},
		{Role: domain.RoleAssistant, Content: "answer"},
		{Role: domain.RoleUser, Content: "latest"},
	}
	reply, err := g.HandleTurn(context.Background(), history, "u-1")
	require.NoError(t, err)
	require.Equal(t, moderationReply, reply.Content)
	require.Equal(t, "latest", mod.input)
	require.Zero(t, model.calls)
}

func TestHandleTurn_TrimsHistory(t *testing.T) {
	model := &mockModel{reply: "ok"}
	g := newTestGateway(t, model, repository.NewMemoryStore(), WithMaxMessages(2))

	history := []domain.ChatMessage{
		{Role: domain.RoleUser, Content: "one"},
		{Role: domain.RoleAssistant, Content: "two"},
		{Role: domain.RoleUser, Content: "three"},
	}
	_, err := g.HandleTurn(context.Background(), history, "u-1")
	require.NoError(t, err)

	prompt := model.lastPrompt()
	require.Len(t, prompt, 3)
	require.Equal(t, "two", prompt[1].Content)
	require.Equal(t, "three", prompt[2].Content)
	require.Len(t, history, 3)
}

func TestHandleTurn_ConcurrentTurnsAreIsolated(t *testing.T) {
	store := repository.NewMemoryStore()
	model := &mockModel{replyFor: func(prompt []domain.ChatMessage) string {
		name := prompt[len(prompt)-1].Content
		return fmt.Sprintf(`{"type":"action","name":"create_budget","params":{"name":%q,"limitAmount":10}}`, name)
	}}
	g := newTestGateway(t, model, store)

	const users = 8
	replies := make([]domain.ChatMessage, users)
	var eg errgroup.Group
	for i := range users {
		eg.Go(func() error {
			reply, err := g.HandleTurn(context.Background(), userSays(fmt.Sprintf("budget-%d", i)), fmt.Sprintf("u-%d", i))
			replies[i] = reply
			return err
		})
	}
	require.NoError(t, eg.Wait())

	for i := range users {
		require.Contains(t, replies[i].Content, fmt.Sprintf("budget-%d", i))
		owned, err := store.ListBudgets(context.Background(), fmt.Sprintf("u-%d", i))
		require.NoError(t, err)
		require.Len(t, owned, 1)
		require.Equal(t, fmt.Sprintf("budget-%d", i), owned[0].Name)
	}
}
