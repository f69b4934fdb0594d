package expenses

import (
	"context"
	"fmt"

	"expense-api/internal/log"
	"expense-api/internal/models"
)

// Store is the persistence the expense component needs.
type Store interface {
	CreateExpense(ctx context.Context, e *models.Expense) (*models.Expense, error)
	GetExpense(ctx context.Context, id int64) (*models.Expense, error)
	UpdateExpense(ctx context.Context, id int64, mutate func(*models.Expense) error) (*models.Expense, error)
	DeleteExpense(ctx context.Context, id int64, check func(*models.Expense) error) error
	ListExpenses(ctx context.Context, ownerID *int64, f models.Filter) ([]models.Expense, error)
}

// Service manages expenses on behalf of an authenticated user. Staff users
// see every expense, everyone else only their own.
type Service struct {
	store Store
}

// NewService creates an expense service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// VisibleOwner returns the owner restriction for user, or nil for staff.
func VisibleOwner(user *models.User) *int64 {
	if user.IsStaff {
		return nil
	}
	id := user.ID
	return &id
}

// List returns the visible expenses matching f.
func (s *Service) List(ctx context.Context, user *models.User, f models.Filter) ([]models.Expense, error) {
	expenses, err := s.store.ListExpenses(ctx, VisibleOwner(user), f)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	return expenses, nil
}

// Create stores a new expense owned by user.
func (s *Service) Create(ctx context.Context, user *models.User, in Input) (*models.Expense, error) {
	if err := in.requireAll(); err != nil {
		return nil, err
	}

	e := &models.Expense{UserID: user.ID}
	in.apply(e)
	if err := e.Validate(); err != nil {
		return nil, err
	}

	created, err := s.store.CreateExpense(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("create expense: %w", err)
	}

	s.logChange(ctx, user, created, log.OpCreate, "expense created")
	return created, nil
}

// Get returns a single expense.
func (s *Service) Get(ctx context.Context, user *models.User, id int64) (*models.Expense, error) {
	e, err := s.store.GetExpense(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.CanAccess(e) {
		return nil, models.ErrForbidden
	}
	return e, nil
}

// Update changes an expense. A full update needs every required field; a
// partial update only changes the fields present in the input.
func (s *Service) Update(ctx context.Context, user *models.User, id int64, in Input, partial bool) (*models.Expense, error) {
	updated, err := s.store.UpdateExpense(ctx, id, func(e *models.Expense) error {
		if !user.CanAccess(e) {
			return models.ErrForbidden
		}
		if !partial {
			if err := in.requireAll(); err != nil {
				return err
			}
		}
		in.apply(e)
		return e.Validate()
	})
	if err != nil {
		return nil, err
	}

	s.logChange(ctx, user, updated, log.OpUpdate, "expense updated")
	return updated, nil
}

// Delete removes an expense.
func (s *Service) Delete(ctx context.Context, user *models.User, id int64) error {
	var deleted *models.Expense
	err := s.store.DeleteExpense(ctx, id, func(e *models.Expense) error {
		if !user.CanAccess(e) {
			return models.ErrForbidden
		}
		deleted = e
		return nil
	})
	if err != nil {
		return err
	}

	s.logChange(ctx, user, deleted, log.OpDelete, "expense deleted")
	return nil
}

func (s *Service) logChange(ctx context.Context, user *models.User, e *models.Expense, op, msg string) {
	fields := log.NewFields().
		WithUser(user.ID, user.Username).
		WithExpense(e.ID, e.Amount.String(), string(e.Category)).
		WithOperation(op)
	log.FromContext(ctx).WithComponent(log.ComponentExpense).InfoContext(ctx, msg, fields.ToSlice()...)
}
