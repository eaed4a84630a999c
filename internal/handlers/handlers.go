package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"expense-api/internal/apperr"
	"expense-api/internal/auth"
	"expense-api/internal/models"
	"expense-api/internal/money"
	"expense-api/internal/service"
)

// Context key type to avoid collisions.
type contextKey string

const (
	// UserContextKey is the context key for the authenticated user.
	UserContextKey contextKey = "user"
	// IdempotencyKeyHeader may carry the idempotency key instead of the body.
	IdempotencyKeyHeader = "Idempotency-Key"

	msgMissingToken = "Missing authorization token"
	healthTimeout   = 2 * time.Second
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	auth     *service.AuthService
	expenses *service.ExpenseService
	db       Pinger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(authService *service.AuthService, expenseService *service.ExpenseService, db Pinger) *Handlers {
	return &Handlers{auth: authService, expenses: expenseService, db: db}
}

// WithUser returns a copy of ctx carrying the authenticated user.
func WithUser(ctx context.Context, user models.PublicUser) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// UserFromContext retrieves the authenticated user from ctx.
func UserFromContext(ctx context.Context) (models.PublicUser, bool) {
	user, ok := ctx.Value(UserContextKey).(models.PublicUser)
	return user, ok
}

// AuthMiddleware requires a valid bearer token naming an existing user and
// puts that user on the request context.
func (h *Handlers) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.ExtractBearer(r.Header.Get("Authorization"))
		if !ok {
			writeError(w, r, apperr.Authentication(msgMissingToken))
			return
		}

		user, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func currentUser(r *http.Request) (models.PublicUser, error) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		return models.PublicUser{}, apperr.Authentication(msgMissingToken)
	}
	return user, nil
}

type registerRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// Register handles POST /auth/register.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) error {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	session, err := h.auth.Register(r.Context(), service.RegisterInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		return err
	}

	RespondWithJSON(w, http.StatusCreated, session)
	return nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /auth/login.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) error {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}

	session, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		return err
	}

	RespondWithJSON(w, http.StatusOK, session)
	return nil
}

// Me handles GET /auth/me.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}
	RespondWithJSON(w, http.StatusOK, user)
	return nil
}

type createExpenseRequest struct {
	Amount         money.Input `json:"amount"`
	Category       string      `json:"category"`
	Description    string      `json:"description"`
	Date           string      `json:"date"`
	IdempotencyKey string      `json:"idempotencyKey"`
}

// CreateExpense handles POST /expenses. A replayed idempotency key answers
// 200 with the stored expense; a fresh expense answers 201.
func (h *Handlers) CreateExpense(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	var req createExpenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return err
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get(IdempotencyKeyHeader)
	}

	expense, replayed, err := h.expenses.Create(r.Context(), user.ID, service.CreateExpenseInput{
		Amount:         req.Amount.String(),
		Category:       req.Category,
		Description:    req.Description,
		Date:           req.Date,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return err
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	RespondWithJSON(w, status, expense.View())
	return nil
}

// ListExpenses handles GET /expenses?category=&sort=.
func (h *Handlers) ListExpenses(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	q := r.URL.Query()
	expenses, err := h.expenses.List(r.Context(), user.ID, q.Get("category"), q.Get("sort"))
	if err != nil {
		return err
	}

	views := make([]models.ExpenseView, 0, len(expenses))
	for i := range expenses {
		views = append(views, expenses[i].View())
	}
	RespondWithJSON(w, http.StatusOK, views)
	return nil
}

// ListCategories handles GET /categories.
func (h *Handlers) ListCategories(w http.ResponseWriter, r *http.Request) error {
	user, err := currentUser(r)
	if err != nil {
		return err
	}

	categories, err := h.expenses.Categories(r.Context(), user.ID)
	if err != nil {
		return err
	}
	RespondWithJSON(w, http.StatusOK, categories)
	return nil
}

// Health handles GET /healthz.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	w.Header().Set(headerContentType, "text/plain; charset=utf-8")
	if err := h.db.Ping(ctx); err != nil {
		slog.Error("health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("database unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
