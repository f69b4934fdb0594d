package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"expense-api/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PostgresDB is the PostgreSQL implementation of Store.
type PostgresDB struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresDB)(nil)

// NewPostgresDB connects to databaseURL and runs migrations.
func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	if databaseURL == "" {
		return nil, errors.New("database url is required for the postgres driver")
	}

	if err := migratePostgres(databaseURL); err != nil {
		return nil, err
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	config.ConnConfig.ConnectTimeout = 15 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

func (db *PostgresDB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

func (db *PostgresDB) Close() error {
	db.pool.Close()
	return nil
}

func (db *PostgresDB) CreateUser(ctx context.Context, username, passwordHash string, isStaff bool) (*models.User, error) {
	row := db.pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash, is_staff) VALUES ($1, $2, $3) RETURNING "+userColumns,
		username, passwordHash, isStaff,
	)
	u, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, models.ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (db *PostgresDB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(db.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id))
}

func (db *PostgresDB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(db.pool.QueryRow(ctx, "SELECT "+userColumns+" FROM users WHERE username = $1", username))
}

func (db *PostgresDB) UserCount(ctx context.Context) (int, error) {
	var count int
	err := db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

// GetOrCreateToken locks the user row so concurrent logins agree on one key.
func (db *PostgresDB) GetOrCreateToken(ctx context.Context, userID int64, newKey string, stale func(*models.Token) bool) (*models.Token, error) {
	var token *models.Token
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT id FROM users WHERE id = $1 FOR UPDATE", userID); err != nil {
			return fmt.Errorf("lock user: %w", err)
		}

		existing, err := scanToken(tx.QueryRow(ctx,
			"SELECT key, user_id, created_at FROM tokens WHERE user_id = $1", userID))
		switch {
		case err == nil && (stale == nil || !stale(existing)):
			token = existing
			return nil
		case err == nil:
			if _, err := tx.Exec(ctx, "DELETE FROM tokens WHERE key = $1", existing.Key); err != nil {
				return fmt.Errorf("delete stale token: %w", err)
			}
		case !errors.Is(err, models.ErrNotFound):
			return err
		}

		created := &models.Token{Key: newKey, UserID: userID, CreatedAt: time.Now().UTC()}
		if _, err := tx.Exec(ctx,
			"INSERT INTO tokens (key, user_id, created_at) VALUES ($1, $2, $3)",
			created.Key, created.UserID, created.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert token: %w", err)
		}
		token = created
		return nil
	})
	return token, err
}

func (db *PostgresDB) GetTokenUser(ctx context.Context, key string) (*models.User, *models.Token, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT u.id, u.username, u.password_hash, u.is_staff, u.created_at, t.key, t.user_id, t.created_at
		FROM tokens t
		JOIN users u ON t.user_id = u.id
		WHERE t.key = $1
	`, key)

	var (
		u models.User
		t models.Token
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsStaff, &u.CreatedAt, &t.Key, &t.UserID, &t.CreatedAt); err != nil {
		return nil, nil, notFound(err)
	}
	return &u, &t, nil
}

func (db *PostgresDB) DeleteToken(ctx context.Context, userID int64) error {
	_, err := db.pool.Exec(ctx, "DELETE FROM tokens WHERE user_id = $1", userID)
	return err
}

func (db *PostgresDB) CreateExpense(ctx context.Context, e *models.Expense) (*models.Expense, error) {
	created := *e
	err := db.pool.QueryRow(ctx,
		"INSERT INTO expenses (title, amount_cents, category, date, notes, user_id) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id",
		e.Title, e.Amount.Cents, string(e.Category), e.Date.Time, e.Notes, e.UserID,
	).Scan(&created.ID)
	if err != nil {
		return nil, fmt.Errorf("insert expense: %w", err)
	}
	return &created, nil
}

func (db *PostgresDB) GetExpense(ctx context.Context, id int64) (*models.Expense, error) {
	return scanPgExpense(db.pool.QueryRow(ctx, "SELECT "+expenseColumns+" FROM expenses WHERE id = $1", id))
}

func (db *PostgresDB) UpdateExpense(ctx context.Context, id int64, mutate func(*models.Expense) error) (*models.Expense, error) {
	var updated *models.Expense
	err := pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		e, err := scanPgExpense(tx.QueryRow(ctx, "SELECT "+expenseColumns+" FROM expenses WHERE id = $1 FOR UPDATE", id))
		if err != nil {
			return err
		}
		owner := e.UserID
		if err := mutate(e); err != nil {
			return err
		}
		e.ID, e.UserID = id, owner

		if _, err := tx.Exec(ctx,
			"UPDATE expenses SET title = $1, amount_cents = $2, category = $3, date = $4, notes = $5 WHERE id = $6",
			e.Title, e.Amount.Cents, string(e.Category), e.Date.Time, e.Notes, id,
		); err != nil {
			return fmt.Errorf("update expense: %w", err)
		}
		updated = e
		return nil
	})
	return updated, err
}

func (db *PostgresDB) DeleteExpense(ctx context.Context, id int64, check func(*models.Expense) error) error {
	return pgx.BeginFunc(ctx, db.pool, func(tx pgx.Tx) error {
		e, err := scanPgExpense(tx.QueryRow(ctx, "SELECT "+expenseColumns+" FROM expenses WHERE id = $1 FOR UPDATE", id))
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(e); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, "DELETE FROM expenses WHERE id = $1", id); err != nil {
			return fmt.Errorf("delete expense: %w", err)
		}
		return nil
	})
}

func (db *PostgresDB) ListExpenses(ctx context.Context, ownerID *int64, f models.Filter) ([]models.Expense, error) {
	query, args := listQuery(ownerID, f, pgPlaceholder, func(d models.Date) any { return d.Time })

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	expenses := []models.Expense{}
	for rows.Next() {
		e, err := scanPgExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, *e)
	}

	return expenses, rows.Err()
}

func (db *PostgresDB) CategoryTotals(ctx context.Context, ownerID *int64) (map[models.Category]models.Money, error) {
	query, args := categoryTotalsQuery(ownerID, pgPlaceholder)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("category totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[models.Category]models.Money)
	for rows.Next() {
		var (
			category string
			cents    int64
		)
		if err := rows.Scan(&category, &cents); err != nil {
			return nil, err
		}
		totals[models.Category(category)] = models.Money{Cents: cents}
	}

	return totals, rows.Err()
}

func pgPlaceholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func scanPgExpense(row rowScanner) (*models.Expense, error) {
	var (
		e        models.Expense
		category string
		date     time.Time
	)
	if err := row.Scan(&e.ID, &e.Title, &e.Amount.Cents, &category, &date, &e.Notes, &e.UserID); err != nil {
		return nil, notFound(err)
	}
	e.Category = models.Category(category)
	e.Date = models.NewDate(date.Year(), date.Month(), date.Day())
	return &e, nil
}
