package gateway

import (
	"context"
	"errors"
	"fmt"

	"sprout-agent/internal/domain"
)

// BudgetService is the budget store the gateway acts on. DeleteBudget returns
// nil when nothing was deleted.
type BudgetService interface {
	CreateBudget(ctx context.Context, userID string, in domain.BudgetInput) (domain.Budget, error)
	ListBudgets(ctx context.Context, userID string) ([]domain.Budget, error)
	DeleteBudget(ctx context.Context, budgetID, userID string) (*domain.Budget, error)
}

type CalendarService interface {
	AddCalendarItem(ctx context.Context, userID string, in domain.CalendarItemInput) (domain.CalendarItem, error)
}

// serviceError marks a failure of a domain service so the gateway can report
// it with the right reason.
type serviceError struct {
	reason string
	err    error
}

func (e *serviceError) Error() string { return e.reason + ": " + e.err.Error() }
func (e *serviceError) Unwrap() error { return e.err }

func budgetFailure(op string, err error) error {
	return &serviceError{reason: "budget_service_error", err: fmt.Errorf("%s: %w", op, err)}
}

// Executor turns validated actions into domain calls and reply messages.
// Expected business outcomes become replies; only service failures are
// returned as errors.
type Executor struct {
	budgets  BudgetService
	calendar CalendarService
	resolver *Resolver
}

func NewExecutor(budgets BudgetService, calendar CalendarService, resolver *Resolver) (*Executor, error) {
	if budgets == nil {
		return nil, errors.New("gateway: budget service must not be nil")
	}
	if resolver == nil {
		return nil, errors.New("gateway: resolver must not be nil")
	}
	return &Executor{budgets: budgets, calendar: calendar, resolver: resolver}, nil
}

func (x *Executor) Execute(ctx context.Context, action ValidatedAction, userID string) (domain.ChatMessage, error) {
	switch a := action.(type) {
	case CreateBudget:
		return x.createBudget(ctx, a, userID)
	case ListBudgets:
		return x.listBudgets(ctx, userID)
	case DeleteBudget:
		return x.deleteBudget(ctx, a, userID)
	case AddCalendarItem:
		return x.addCalendarItem(ctx, a, userID)
	default:
		return domain.ChatMessage{}, fmt.Errorf("gateway: unhandled action %T", action)
	}
}

func (x *Executor) createBudget(ctx context.Context, a CreateBudget, userID string) (domain.ChatMessage, error) {
	b, err := x.budgets.CreateBudget(ctx, userID, domain.BudgetInput{Name: a.BudgetName, LimitAmount: a.LimitAmount})
	if err != nil {
		return domain.ChatMessage{}, budgetFailure("create budget", err)
	}
	if b.Name == "" {
		b.Name = a.BudgetName
	}
	if b.LimitAmount == 0 {
		b.LimitAmount = a.LimitAmount
	}
	return domain.AssistantReply(budgetCreatedReply(b)), nil
}

func (x *Executor) listBudgets(ctx context.Context, userID string) (domain.ChatMessage, error) {
	all, err := x.budgets.ListBudgets(ctx, userID)
	if err != nil {
		return domain.ChatMessage{}, budgetFailure("list budgets", err)
	}
	owned := make([]domain.Budget, 0, len(all))
	for _, b := range all {
		if b.UserID == userID {
			owned = append(owned, b)
		}
	}
	return domain.AssistantReply(budgetListReply(owned)), nil
}

func (x *Executor) deleteBudget(ctx context.Context, a DeleteBudget, userID string) (domain.ChatMessage, error) {
	res, err := x.resolveDeleteTarget(ctx, a, userID)
	if err != nil {
		return domain.ChatMessage{}, budgetFailure("resolve budget", err)
	}
	switch res.Kind {
	case NotFound:
		return domain.AssistantReply(budgetNotFoundReply(a.BudgetName)), nil
	case Ambiguous:
		return domain.AssistantReply(budgetAmbiguousReply(res.Candidates)), nil
	}

	deleted, err := x.budgets.DeleteBudget(ctx, res.Budget.ID, userID)
	if err != nil {
		return domain.ChatMessage{}, budgetFailure("delete budget", err)
	}
	if deleted == nil {
		return domain.AssistantReply(budgetAlreadyDeletedReply(res.Budget.Name)), nil
	}
	if deleted.Name == "" {
		deleted.Name = res.Budget.Name
	}
	return domain.AssistantReply(budgetDeletedReply(*deleted)), nil
}

// resolveDeleteTarget tries the id first and falls back to the name when the
// id does not belong to the caller.
func (x *Executor) resolveDeleteTarget(ctx context.Context, a DeleteBudget, userID string) (Resolution, error) {
	if a.BudgetID != "" {
		res, err := x.resolver.ResolveBudgetByID(ctx, userID, a.BudgetID)
		if err != nil || res.Kind == Resolved || a.BudgetName == "" {
			return res, err
		}
	}
	return x.resolver.ResolveBudgetByName(ctx, userID, a.BudgetName)
}

func (x *Executor) addCalendarItem(ctx context.Context, a AddCalendarItem, userID string) (domain.ChatMessage, error) {
	if x.calendar == nil {
		return domain.AssistantReply(clarifyingReply(invalid(ActionAddCalendarItem, TagUnknownAction, ""))), nil
	}
	item, err := x.calendar.AddCalendarItem(ctx, userID, domain.CalendarItemInput{Title: a.Title, Date: a.Date, Time: a.Time})
	if err != nil {
		return domain.ChatMessage{}, &serviceError{reason: "calendar_service_error", err: fmt.Errorf("add calendar item: %w", err)}
	}
	if item.Title == "" {
		item = domain.CalendarItem{Title: a.Title, Date: a.Date, Time: a.Time}
	}
	return domain.AssistantReply(calendarAddedReply(item)), nil
}
