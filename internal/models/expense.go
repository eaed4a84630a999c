package models

import (
	"time"

	"expense-api/internal/money"
)

// Expense represents a stored expense record. Amount is in minor units.
type Expense struct {
	ID             int64
	UserID         int64
	Amount         int64
	Category       string
	Description    string
	Date           string
	CreatedAt      time.Time
	IdempotencyKey *string
}

// ExpenseView is the JSON representation returned to clients.
type ExpenseView struct {
	ID          int64       `json:"id"`
	Amount      money.Major `json:"amount"`
	Category    string      `json:"category"`
	Description string      `json:"description"`
	Date        string      `json:"date"`
	CreatedAt   time.Time   `json:"created_at"`
}

// View converts the stored record to its client-facing form.
func (e *Expense) View() ExpenseView {
	return ExpenseView{
		ID:          e.ID,
		Amount:      money.Major(e.Amount),
		Category:    e.Category,
		Description: e.Description,
		Date:        e.Date,
		CreatedAt:   e.CreatedAt,
	}
}

// User represents a user account.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// PublicUser is the account view safe to hand to clients.
type PublicUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Public strips credentials from u.
func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username, Email: u.Email}
}
