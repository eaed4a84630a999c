package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"expense-api/internal/auth"
	"expense-api/internal/config"
	"expense-api/internal/handlers"
	"expense-api/internal/service"
	"expense-api/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

const (
	requestTimeout  = 60 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to ./config.yaml if present)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(cfg.NewLogger())

	if cfg.JWT.Secret == config.DefaultJWTSecret {
		slog.Warn("jwt.secret not set, using the development default")
	}

	db, err := storage.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	authService := service.NewAuthService(
		db,
		auth.NewHasher(cfg.Security.BcryptCost),
		auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.TokenTTL()),
	)
	if err := seedAdmin(context.Background(), db, authService, cfg.Admin); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	h := handlers.NewHandlers(authService, service.NewExpenseService(db), db)
	return serve(cfg.Addr(), setupRouter(h, cfg))
}

// seedAdmin creates the configured account when the database has no users.
func seedAdmin(ctx context.Context, db *storage.DB, authService *service.AuthService, admin config.AdminConfig) error {
	if admin.Username == "" || admin.Password == "" {
		return nil
	}
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	email := admin.Email
	if email == "" {
		email = strings.ToLower(admin.Username) + "@localhost"
	}
	session, err := authService.Register(ctx, service.RegisterInput{
		Username:        admin.Username,
		Email:           email,
		Password:        admin.Password,
		ConfirmPassword: admin.Password,
	})
	if err != nil {
		return err
	}
	slog.Info("created initial account", "username", session.User.Username, "email", session.User.Email)
	return nil
}

func setupRouter(h *handlers.Handlers, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", handlers.IdempotencyKeyHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if cfg.RateLimit.AuthPerMinute > 0 {
				r.Use(httprate.LimitByIP(cfg.RateLimit.AuthPerMinute, time.Minute))
			}
			r.Post("/register", handlers.MakeHandler(h.Register))
			r.Post("/login", handlers.MakeHandler(h.Login))
		})
		r.With(h.AuthMiddleware).Get("/me", handlers.MakeHandler(h.Me))
	})

	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware)
		r.Post("/expenses", handlers.MakeHandler(h.CreateExpense))
		r.Get("/expenses", handlers.MakeHandler(h.ListExpenses))
		r.Get("/categories", handlers.MakeHandler(h.ListCategories))
	})

	return r
}

func serve(addr string, router http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutdown signal received, draining requests")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}
