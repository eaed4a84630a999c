package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"expense-api/internal/apperr"
	"expense-api/internal/models"
	"expense-api/internal/money"
	"expense-api/internal/storage"
)

const dateLayout = "2006-01-02"

const (
	msgInvalidAmount  = "Invalid amount"
	msgInvalidDate    = "Invalid date format. Use YYYY-MM-DD"
	msgKeyAlreadyUsed = "Idempotency key already used"
)

// ExpenseStore persists expenses.
type ExpenseStore interface {
	CreateExpense(ctx context.Context, e *models.Expense) (*models.Expense, error)
	GetExpenseByIdempotencyKey(ctx context.Context, userID int64, key string) (*models.Expense, error)
	ListExpenses(ctx context.Context, f storage.ExpenseFilter) ([]models.Expense, error)
	ListCategories(ctx context.Context, userID int64) ([]string, error)
}

// ExpenseService creates and lists a user's expenses.
type ExpenseService struct {
	store ExpenseStore
}

// NewExpenseService creates an ExpenseService.
func NewExpenseService(store ExpenseStore) *ExpenseService {
	return &ExpenseService{store: store}
}

// CreateExpenseInput is a new expense as submitted by a client. Amount is a
// decimal in major units.
type CreateExpenseInput struct {
	Amount         string
	Category       string
	Description    string
	Date           string
	IdempotencyKey string
}

// Create validates and stores an expense for userID. When the idempotency key
// matches an expense the user already created, that record is returned with
// replayed set and nothing is written.
func (s *ExpenseService) Create(ctx context.Context, userID int64, in CreateExpenseInput) (e *models.Expense, replayed bool, err error) {
	category := strings.TrimSpace(in.Category)
	description := strings.TrimSpace(in.Description)
	date := strings.TrimSpace(in.Date)
	key := strings.TrimSpace(in.IdempotencyKey)

	if strings.TrimSpace(in.Amount) == "" || category == "" || description == "" || date == "" {
		return nil, false, apperr.Validation(msgMissingFields)
	}
	amount, err := money.ParseMajor(in.Amount)
	if err != nil {
		return nil, false, apperr.Validation(msgInvalidAmount)
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return nil, false, apperr.Validation(msgInvalidDate)
	}

	if key != "" {
		existing, err := s.store.GetExpenseByIdempotencyKey(ctx, userID, key)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, false, apperr.Internal("lookup idempotency key", err)
		}
	}

	expense := &models.Expense{
		UserID:      userID,
		Amount:      amount,
		Category:    category,
		Description: description,
		Date:        date,
	}
	if key != "" {
		expense.IdempotencyKey = &key
	}

	created, err := s.store.CreateExpense(ctx, expense)
	if err == nil {
		return created, false, nil
	}
	if key == "" || !errors.Is(err, storage.ErrDuplicate) {
		return nil, false, apperr.Internal("create expense", err)
	}

	// A concurrent request with the same key won the insert.
	existing, lookupErr := s.store.GetExpenseByIdempotencyKey(ctx, userID, key)
	switch {
	case lookupErr == nil:
		return existing, true, nil
	case errors.Is(lookupErr, storage.ErrNotFound):
		return nil, false, apperr.Validation(msgKeyAlreadyUsed)
	default:
		return nil, false, apperr.Internal(fmt.Sprintf("lookup idempotency key %q", key), lookupErr)
	}
}

// List returns the user's expenses, optionally narrowed to one category.
// sort "date_desc" orders by date then id, newest first; anything else orders
// by id, newest first.
func (s *ExpenseService) List(ctx context.Context, userID int64, category, sort string) ([]models.Expense, error) {
	expenses, err := s.store.ListExpenses(ctx, storage.ExpenseFilter{
		UserID:   userID,
		Category: category,
		Sort:     sort,
	})
	if err != nil {
		return nil, apperr.Internal("list expenses", err)
	}
	return expenses, nil
}

// Categories returns the distinct categories the user has recorded, sorted.
func (s *ExpenseService) Categories(ctx context.Context, userID int64) ([]string, error) {
	categories, err := s.store.ListCategories(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("list categories", err)
	}
	return categories, nil
}
