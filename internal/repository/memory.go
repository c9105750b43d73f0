package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sprout-agent/internal/domain"
)

// MemoryStore is an in-process budget and calendar store with the same
// semantics as Client. The local CLI runs against it.
type MemoryStore struct {
	mu       sync.Mutex
	budgets  []domain.Budget
	calendar []domain.CalendarItem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Seed inserts an existing budget as-is, assigning an id when missing.
func (m *MemoryStore) Seed(b domain.Budget) domain.Budget {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	m.budgets = append(m.budgets, b)
	return b
}

func (m *MemoryStore) CreateBudget(_ context.Context, userID string, in domain.BudgetInput) (domain.Budget, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Budget{}, errors.New("repository: CreateBudget: user id is required")
	}
	b := domain.Budget{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        strings.TrimSpace(in.Name),
		LimitAmount: in.LimitAmount,
		CreatedAt:   time.Now().UTC(),
	}
	m.mu.Lock()
	m.budgets = append(m.budgets, b)
	m.mu.Unlock()
	return b, nil
}

func (m *MemoryStore) ListBudgets(_ context.Context, userID string) ([]domain.Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Budget
	for _, b := range m.budgets {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteBudget(_ context.Context, budgetID, userID string) (*domain.Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, b := range m.budgets {
		if b.ID == budgetID && b.UserID == userID {
			m.budgets = append(m.budgets[:i], m.budgets[i+1:]...)
			return &b, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) AddCalendarItem(_ context.Context, userID string, in domain.CalendarItemInput) (domain.CalendarItem, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.CalendarItem{}, errors.New("repository: AddCalendarItem: user id is required")
	}
	item := domain.CalendarItem{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     strings.TrimSpace(in.Title),
		Date:      in.Date,
		Time:      in.Time,
		CreatedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.calendar = append(m.calendar, item)
	m.mu.Unlock()
	return item, nil
}

// CalendarItems returns a copy of userID's calendar entries.
func (m *MemoryStore) CalendarItems(userID string) []domain.CalendarItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CalendarItem
	for _, item := range m.calendar {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	return out
}
