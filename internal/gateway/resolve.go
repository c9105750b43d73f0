package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sprout-agent/internal/domain"
)

// ResolutionKind is the outcome of matching a reference to stored budgets.
type ResolutionKind int

const (
	NotFound ResolutionKind = iota
	Resolved
	Ambiguous
)

func (k ResolutionKind) String() string {
	switch k {
	case Resolved:
		return "resolved"
	case Ambiguous:
		return "ambiguous"
	default:
		return "not_found"
	}
}

// Resolution carries Budget when Resolved and Candidates when Ambiguous.
type Resolution struct {
	Kind       ResolutionKind
	Budget     domain.Budget
	Candidates []domain.Budget
}

// Resolver matches human references to the caller's own budgets.
type Resolver struct {
	budgets BudgetService
}

func NewResolver(budgets BudgetService) (*Resolver, error) {
	if budgets == nil {
		return nil, errors.New("gateway: budget service must not be nil")
	}
	return &Resolver{budgets: budgets}, nil
}

// ResolveBudgetByName matches name case-insensitively against userID's
// budgets. Several matches are returned as Ambiguous; the resolver never
// picks one.
func (r *Resolver) ResolveBudgetByName(ctx context.Context, userID, name string) (Resolution, error) {
	owned, err := r.ownedBudgets(ctx, userID)
	if err != nil {
		return Resolution{}, err
	}
	want := strings.TrimSpace(name)
	var matches []domain.Budget
	for _, b := range owned {
		if strings.EqualFold(strings.TrimSpace(b.Name), want) {
			matches = append(matches, b)
		}
	}
	switch len(matches) {
	case 0:
		return Resolution{Kind: NotFound}, nil
	case 1:
		return Resolution{Kind: Resolved, Budget: matches[0]}, nil
	default:
		return Resolution{Kind: Ambiguous, Candidates: matches}, nil
	}
}

// ResolveBudgetByID finds id among userID's budgets. A budget owned by anyone
// else is reported as NotFound.
func (r *Resolver) ResolveBudgetByID(ctx context.Context, userID, id string) (Resolution, error) {
	owned, err := r.ownedBudgets(ctx, userID)
	if err != nil {
		return Resolution{}, err
	}
	id = strings.TrimSpace(id)
	for _, b := range owned {
		if b.ID == id {
			return Resolution{Kind: Resolved, Budget: b}, nil
		}
	}
	return Resolution{Kind: NotFound}, nil
}

// ownedBudgets lists userID's budgets and drops any record whose owner does
// not match, whatever the service returned.
func (r *Resolver) ownedBudgets(ctx context.Context, userID string) ([]domain.Budget, error) {
	all, err := r.budgets.ListBudgets(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("gateway: list budgets: %w", err)
	}
	owned := all[:0:0]
	for _, b := range all {
		if b.UserID == userID {
			owned = append(owned, b)
		}
	}
	return owned, nil
}
