package domain

import "time"

// Budget is a spending limit owned by a single user. Budgets are created and
// deleted by the budget service; the gateway only reads them.
type Budget struct {
	ID          string
	UserID      string
	Name        string
	LimitAmount float64
	TotalSpent  float64
	CreatedAt   time.Time
}

// Remaining is always derived so it can never drift from the limit and spend.
func (b Budget) Remaining() float64 {
	return b.LimitAmount - b.TotalSpent
}

// BudgetInput is the payload accepted by CreateBudget.
type BudgetInput struct {
	Name        string
	LimitAmount float64
}
