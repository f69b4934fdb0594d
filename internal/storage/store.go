package storage

import (
	"context"
	"fmt"
	"strings"

	"expense-api/internal/models"
)

// Supported storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is the durable, transactional persistence used by every component.
// Each method runs as a single atomic unit against the backing database.
type Store interface {
	Ping(ctx context.Context) error
	Close() error

	CreateUser(ctx context.Context, username, passwordHash string, isStaff bool) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UserCount(ctx context.Context) (int, error)

	// GetOrCreateToken returns the user's token, replacing it with newKey when
	// none exists or stale reports it unusable.
	GetOrCreateToken(ctx context.Context, userID int64, newKey string, stale func(*models.Token) bool) (*models.Token, error)
	GetTokenUser(ctx context.Context, key string) (*models.User, *models.Token, error)
	DeleteToken(ctx context.Context, userID int64) error

	CreateExpense(ctx context.Context, e *models.Expense) (*models.Expense, error)
	GetExpense(ctx context.Context, id int64) (*models.Expense, error)
	// UpdateExpense loads the expense, lets mutate change it and persists the
	// result, all in one transaction. An error from mutate aborts the update.
	UpdateExpense(ctx context.Context, id int64, mutate func(*models.Expense) error) (*models.Expense, error)
	// DeleteExpense loads the expense, runs check and deletes it in one transaction.
	DeleteExpense(ctx context.Context, id int64, check func(*models.Expense) error) error
	// ListExpenses returns expenses matching f. A non-nil ownerID restricts the
	// result to that user's rows.
	ListExpenses(ctx context.Context, ownerID *int64, f models.Filter) ([]models.Expense, error)
	// CategoryTotals sums amounts per category, restricted to ownerID when non-nil.
	CategoryTotals(ctx context.Context, ownerID *int64) (map[models.Category]models.Money, error)
}

// Options selects and configures a storage backend.
type Options struct {
	Driver      string
	Path        string
	DatabaseURL string
}

// Open connects to the configured backend and applies pending migrations.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case DriverSQLite, "":
		return NewDB(opts.Path)
	case DriverPostgres:
		return NewPostgresDB(ctx, opts.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", opts.Driver)
	}
}

// listQuery builds the SELECT for ListExpenses. placeholder renders the n-th
// bind parameter and dateArg converts a date into the driver's argument type.
func listQuery(ownerID *int64, f models.Filter, placeholder func(n int) string, dateArg func(models.Date) any) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, placeholder(len(args))))
	}

	if ownerID != nil {
		add("user_id = %s", *ownerID)
	}
	if f.UserID != nil {
		add("user_id = %s", *f.UserID)
	}
	if f.Category != nil {
		add("category = %s", string(*f.Category))
	}
	if f.StartDate != nil {
		add("date >= %s", dateArg(*f.StartDate))
	}
	if f.EndDate != nil {
		add("date <= %s", dateArg(*f.EndDate))
	}

	var b strings.Builder
	b.WriteString("SELECT id, title, amount_cents, category, date, notes, user_id FROM expenses")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}

	b.WriteString(" ORDER BY ")
	for _, o := range f.Ordering {
		column := "date"
		if o.Field == models.OrderByAmount {
			column = "amount_cents"
		}
		b.WriteString(column)
		if o.Descending {
			b.WriteString(" DESC, ")
		} else {
			b.WriteString(" ASC, ")
		}
	}
	b.WriteString("id ASC")

	return b.String(), args
}

func categoryTotalsQuery(ownerID *int64, placeholder func(n int) string) (string, []any) {
	q := "SELECT category, CAST(SUM(amount_cents) AS BIGINT) FROM expenses"
	var args []any
	if ownerID != nil {
		q += " WHERE user_id = " + placeholder(1)
		args = append(args, *ownerID)
	}
	return q + " GROUP BY category ORDER BY category", args
}
