package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"expense-api/internal/models"

	"github.com/jackc/pgx/v5"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB is the SQLite implementation of Store.
type DB struct {
	conn *sql.DB
}

var _ Store = (*DB)(nil)

// NewDB opens a database connection and runs migrations.
func NewDB(path string) (*DB, error) {
	inMemory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", sqliteDSN(path, inMemory))
	if err != nil {
		return nil, err
	}

	// A single connection serializes writers and keeps an in-memory database alive.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}

	if err := migrateSQLite(conn); err != nil {
		conn.Close()
		return nil, err
	}

	return &DB{conn: conn}, nil
}

func sqliteDSN(path string, inMemory bool) string {
	if strings.Contains(path, "?") {
		return path
	}
	params := []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)", "_time_format=sqlite"}
	if !inMemory {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	return path + "?" + strings.Join(params, "&")
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// CreateUser creates a new user with the given username and password hash.
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string, isStaff bool) (*models.User, error) {
	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, is_staff, created_at) VALUES (?, ?, ?, ?)",
		username, passwordHash, isStaff, time.Now().UTC(),
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return nil, models.ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetUserByID(ctx, id)
}

const userColumns = "id, username, password_hash, is_staff, created_at"

// GetUserByID retrieves a user by ID.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	return scanUser(row)
}

// GetUserByUsername retrieves a user by username.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE username = ?", username)
	return scanUser(row)
}

// UserCount returns the number of users in the database.
func (db *DB) UserCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

// GetOrCreateToken returns the user's live token or stores newKey in its place.
func (db *DB) GetOrCreateToken(ctx context.Context, userID int64, newKey string, stale func(*models.Token) bool) (*models.Token, error) {
	var token *models.Token
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanToken(tx.QueryRowContext(ctx,
			"SELECT key, user_id, created_at FROM tokens WHERE user_id = ?", userID))
		switch {
		case err == nil && (stale == nil || !stale(existing)):
			token = existing
			return nil
		case err == nil:
			if _, err := tx.ExecContext(ctx, "DELETE FROM tokens WHERE key = ?", existing.Key); err != nil {
				return fmt.Errorf("delete stale token: %w", err)
			}
		case !errors.Is(err, models.ErrNotFound):
			return err
		}

		created := &models.Token{Key: newKey, UserID: userID, CreatedAt: time.Now().UTC()}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tokens (key, user_id, created_at) VALUES (?, ?, ?)",
			created.Key, created.UserID, created.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert token: %w", err)
		}
		token = created
		return nil
	})
	return token, err
}

// GetTokenUser resolves a token key to its token and owning user.
func (db *DB) GetTokenUser(ctx context.Context, key string) (*models.User, *models.Token, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.password_hash, u.is_staff, u.created_at, t.key, t.user_id, t.created_at
		FROM tokens t
		JOIN users u ON t.user_id = u.id
		WHERE t.key = ?
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

// DeleteToken removes the user's token, if any.
func (db *DB) DeleteToken(ctx context.Context, userID int64) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM tokens WHERE user_id = ?", userID)
	return err
}

const expenseColumns = "id, title, amount_cents, category, date, notes, user_id"

// CreateExpense inserts a new expense into the database.
func (db *DB) CreateExpense(ctx context.Context, e *models.Expense) (*models.Expense, error) {
	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO expenses (title, amount_cents, category, date, notes, user_id) VALUES (?, ?, ?, ?, ?, ?)",
		e.Title, e.Amount.Cents, string(e.Category), e.Date.String(), e.Notes, e.UserID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert expense: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	created := *e
	created.ID = id
	return &created, nil
}

// GetExpense retrieves a single expense by ID.
func (db *DB) GetExpense(ctx context.Context, id int64) (*models.Expense, error) {
	row := db.conn.QueryRowContext(ctx, "SELECT "+expenseColumns+" FROM expenses WHERE id = ?", id)
	return scanExpense(row)
}

// UpdateExpense applies mutate to an existing expense inside a transaction.
func (db *DB) UpdateExpense(ctx context.Context, id int64, mutate func(*models.Expense) error) (*models.Expense, error) {
	var updated *models.Expense
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		e, err := scanExpense(tx.QueryRowContext(ctx, "SELECT "+expenseColumns+" FROM expenses WHERE id = ?", id))
		if err != nil {
			return err
		}
		owner := e.UserID
		if err := mutate(e); err != nil {
			return err
		}
		e.ID, e.UserID = id, owner

		if _, err := tx.ExecContext(ctx,
			"UPDATE expenses SET title = ?, amount_cents = ?, category = ?, date = ?, notes = ? WHERE id = ?",
			e.Title, e.Amount.Cents, string(e.Category), e.Date.String(), e.Notes, id,
		); err != nil {
			return fmt.Errorf("update expense: %w", err)
		}
		updated = e
		return nil
	})
	return updated, err
}

// DeleteExpense removes an expense after check approves it.
func (db *DB) DeleteExpense(ctx context.Context, id int64, check func(*models.Expense) error) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		e, err := scanExpense(tx.QueryRowContext(ctx, "SELECT "+expenseColumns+" FROM expenses WHERE id = ?", id))
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(e); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM expenses WHERE id = ?", id); err != nil {
			return fmt.Errorf("delete expense: %w", err)
		}
		return nil
	})
}

// ListExpenses retrieves the expenses matching the filter.
func (db *DB) ListExpenses(ctx context.Context, ownerID *int64, f models.Filter) ([]models.Expense, error) {
	query, args := listQuery(ownerID, f,
		func(int) string { return "?" },
		func(d models.Date) any { return d.String() },
	)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	expenses := []models.Expense{}
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, *e)
	}

	return expenses, rows.Err()
}

// CategoryTotals sums the amounts per category.
func (db *DB) CategoryTotals(ctx context.Context, ownerID *int64) (map[models.Category]models.Money, error) {
	query, args := categoryTotalsQuery(ownerID, func(int) string { return "?" })

	rows, err := db.conn.QueryContext(ctx, query, args...)
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

func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsStaff, &u.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func scanToken(row rowScanner) (*models.Token, error) {
	var t models.Token
	if err := row.Scan(&t.Key, &t.UserID, &t.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func scanExpense(row rowScanner) (*models.Expense, error) {
	var (
		e        models.Expense
		category string
		date     string
		notes    sql.NullString
	)
	if err := row.Scan(&e.ID, &e.Title, &e.Amount.Cents, &category, &date, &notes, &e.UserID); err != nil {
		return nil, notFound(err)
	}

	d, err := models.ParseDate(date)
	if err != nil {
		return nil, fmt.Errorf("expense %d: stored date %q: %w", e.ID, date, err)
	}
	e.Date = d
	e.Category = models.Category(category)
	if notes.Valid {
		e.Notes = &notes.String
	}
	return &e, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
