package summary

import (
	"context"
	"fmt"

	"expense-api/internal/expenses"
	"expense-api/internal/models"
)

// Store is the persistence the summary component needs.
type Store interface {
	CategoryTotals(ctx context.Context, ownerID *int64) (map[models.Category]models.Money, error)
}

// Totals maps each category that has expenses to its exact total.
type Totals map[models.Category]models.Money

// Service aggregates the expenses visible to a user.
type Service struct {
	store Store
}

// NewService creates a summary service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Summarize returns per-category totals over the expenses user can see.
// Categories without expenses are omitted.
func (s *Service) Summarize(ctx context.Context, user *models.User) (Totals, error) {
	totals, err := s.store.CategoryTotals(ctx, expenses.VisibleOwner(user))
	if err != nil {
		return nil, fmt.Errorf("summarize expenses: %w", err)
	}
	return Totals(totals), nil
}

// Grand returns the sum over all categories.
func (t Totals) Grand() models.Money {
	var sum models.Money
	for _, m := range t {
		sum = sum.Add(m)
	}
	return sum
}
