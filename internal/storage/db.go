package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"expense-api/internal/models"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("duplicate record")
)

// SortDateDesc orders listings by date, newest first.
const SortDateDesc = "date_desc"

// DB wraps a sql.DB connection.
type DB struct {
	conn *sql.DB
}

// NewDB opens a database connection and runs migrations.
func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}

	// Every connection to ":memory:" is a separate database.
	if isMemory(path) {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func isMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL COLLATE NOCASE,
			email TEXT UNIQUE NOT NULL COLLATE NOCASE,
			password_hash TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS expenses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			amount INTEGER NOT NULL CHECK (amount > 0),
			category TEXT NOT NULL,
			description TEXT NOT NULL,
			date TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			idempotency_key TEXT UNIQUE,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_user_id ON expenses(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_category ON expenses(category)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_date ON expenses(date)`,
		`CREATE INDEX IF NOT EXISTS idx_expenses_idempotency_key ON expenses(idempotency_key)`,
		`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Ping verifies the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(se.Error(), "UNIQUE constraint failed")
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

const userColumns = "id, username, email, password_hash, created_at"

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// CreateUser creates a new user with the given credentials.
func (db *DB) CreateUser(ctx context.Context, username, email, passwordHash string) (*models.User, error) {
	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO users (username, email, password_hash) VALUES (?, ?, ?)",
		username, email, passwordHash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert user %q: %w", username, ErrDuplicate)
		}
		return nil, fmt.Errorf("insert user %q: %w", username, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return db.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (db *DB) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return scanUser(db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// GetUserByEmail retrieves a user by email.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email = ?", email))
}

// FindUserByUsernameOrEmail returns the first user matching either field.
func (db *DB) FindUserByUsernameOrEmail(ctx context.Context, username, email string) (*models.User, error) {
	return scanUser(db.conn.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ? OR email = ? LIMIT 1", username, email))
}

// DeleteUser removes a user and, through the foreign key, their expenses.
func (db *DB) DeleteUser(ctx context.Context, id int64) error {
	result, err := db.conn.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete user %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UserCount returns the number of users in the database.
func (db *DB) UserCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

const expenseColumns = "id, user_id, amount, category, description, date, created_at, idempotency_key"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExpense(row rowScanner) (*models.Expense, error) {
	var (
		e   models.Expense
		key sql.NullString
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.Amount, &e.Category, &e.Description, &e.Date, &e.CreatedAt, &key); err != nil {
		return nil, err
	}
	if key.Valid {
		e.IdempotencyKey = &key.String
	}
	return &e, nil
}

// CreateExpense inserts e and returns the stored row. A repeated idempotency
// key yields ErrDuplicate.
func (db *DB) CreateExpense(ctx context.Context, e *models.Expense) (*models.Expense, error) {
	var key sql.NullString
	if e.IdempotencyKey != nil {
		key = sql.NullString{String: *e.IdempotencyKey, Valid: true}
	}

	result, err := db.conn.ExecContext(ctx,
		"INSERT INTO expenses (user_id, amount, category, description, date, idempotency_key) VALUES (?, ?, ?, ?, ?, ?)",
		e.UserID, e.Amount, e.Category, e.Description, e.Date, key,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert expense: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("insert expense: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return db.GetExpense(ctx, id)
}

// GetExpense retrieves a single expense by ID.
func (db *DB) GetExpense(ctx context.Context, id int64) (*models.Expense, error) {
	e, err := scanExpense(db.conn.QueryRowContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE id = ?", id))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// GetExpenseByIdempotencyKey retrieves the user's expense created with key.
func (db *DB) GetExpenseByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Expense, error) {
	e, err := scanExpense(db.conn.QueryRowContext(ctx,
		"SELECT "+expenseColumns+" FROM expenses WHERE idempotency_key = ? AND user_id = ?", key, userID))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// ExpenseFilter narrows a listing.
type ExpenseFilter struct {
	UserID   int64
	Category string
	Sort     string
}

// ListExpenses retrieves the user's expenses. With Sort set to SortDateDesc
// rows are ordered by date then id, newest first; otherwise by id only.
func (db *DB) ListExpenses(ctx context.Context, f ExpenseFilter) ([]models.Expense, error) {
	query := "SELECT " + expenseColumns + " FROM expenses WHERE user_id = ?"
	args := []any{f.UserID}

	if f.Category != "" {
		query += " AND category = ?"
		args = append(args, f.Category)
	}
	if f.Sort == SortDateDesc {
		query += " ORDER BY date DESC, id DESC"
	} else {
		query += " ORDER BY id DESC"
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	expenses := []models.Expense{}
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, *e)
	}

	return expenses, rows.Err()
}

// ListCategories returns the distinct categories among the user's expenses,
// sorted ascending.
func (db *DB) ListCategories(ctx context.Context, userID int64) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT DISTINCT category FROM expenses WHERE user_id = ? ORDER BY category", userID)
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	categories := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}
