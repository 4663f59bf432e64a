package main

import (
	"context"
	"crypto/rand"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/acervoteatro/acervo/internal/access"
	"github.com/acervoteatro/acervo/internal/api"
	"github.com/acervoteatro/acervo/internal/blob"
	"github.com/acervoteatro/acervo/internal/cache"
	"github.com/acervoteatro/acervo/internal/config"
	"github.com/acervoteatro/acervo/internal/db"
	"github.com/acervoteatro/acervo/internal/export"
	"github.com/acervoteatro/acervo/internal/identity"
	"github.com/acervoteatro/acervo/internal/ledger"
	"github.com/acervoteatro/acervo/internal/lending"
	"github.com/acervoteatro/acervo/internal/media"
	"github.com/acervoteatro/acervo/internal/metrics"
	"github.com/acervoteatro/acervo/internal/model"
	"github.com/acervoteatro/acervo/internal/reconcile"
	"github.com/acervoteatro/acervo/internal/store"
)

// levelRouter is a slog.Handler that routes INFO/WARN to stdout and ERROR+ to stderr.
type levelRouter struct {
	stdout slog.Handler
	stderr slog.Handler
}

func (lr *levelRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo
}

func (lr *levelRouter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return lr.stderr.Handle(ctx, r)
	}
	return lr.stdout.Handle(ctx, r)
}

func (lr *levelRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithAttrs(attrs),
		stderr: lr.stderr.WithAttrs(attrs),
	}
}

func (lr *levelRouter) WithGroup(name string) slog.Handler {
	return &levelRouter{
		stdout: lr.stdout.WithGroup(name),
		stderr: lr.stderr.WithGroup(name),
	}
}

// setupLogger configures structured logging. INFO/WARN go to stdout, ERROR goes
// to stderr. If logPath is non-empty, all levels are also written to that file.
// Returns a cleanup function that closes the log file (if opened).
func setupLogger(logPath string) (func(), error) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var cleanup func()

	stdoutW := io.Writer(os.Stdout)
	stderrW := io.Writer(os.Stderr)

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		stdoutW = io.MultiWriter(os.Stdout, f)
		stderrW = io.MultiWriter(os.Stderr, f)
	}

	handler := &levelRouter{
		stdout: slog.NewTextHandler(stdoutW, opts),
		stderr: slog.NewTextHandler(stderrW, opts),
	}
	slog.SetDefault(slog.New(handler))
	return cleanup, nil
}

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(os.Args[1:], os.Getenv, os.Stdout)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging: INFO/WARN → stdout, ERROR → stderr.
	// Optionally also write to a log file.
	closeLog, err := setupLogger(cfg.LogPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if closeLog != nil {
		defer closeLog()
	}

	if err := run(cfg); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	database, err := db.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	// Ensure schema exists (idempotent).
	if err := db.EnsureSchema(ctx, database); err != nil {
		return fmt.Errorf("ensuring database schema: %w", err)
	}
	slog.Info("database ready", "dialect", database.Dialect)

	// Load JWT secret from database (auto-generated on first run).
	jwtSecret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		return fmt.Errorf("getting JWT secret: %w", err)
	}

	provider := &identity.Provider{DB: database, Secret: jwtSecret}
	if err := ensureAdmin(ctx, database, provider, cfg.AdminEmail); err != nil {
		return err
	}

	images, err := blob.Open(ctx, cfg.Blob())
	if err != nil {
		return fmt.Errorf("opening image store: %w", err)
	}
	slog.Info("image store ready", "driver", images.Driver())

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = cache.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			// Redis only speeds things up; run without it.
			slog.Warn("redis unavailable, caching and locks disabled", "addr", cfg.RedisAddr, "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
			slog.Info("redis connected", "addr", cfg.RedisAddr)
		}
	}

	m := metrics.New()
	listings := cache.New(redisClient, "acervo", cfg.CacheTTL)
	uploader := media.New(images)
	manager := &lending.Manager{DB: database, Uploader: uploader, Cache: listings, Metrics: m}

	deps := api.Deps{
		DB:       database,
		Identity: provider,
		Access:   &access.Controller{DB: database, Metrics: m},
		Ledger:   &ledger.Service{DB: database, Uploader: uploader, Cache: listings},
		Lending:  manager,
		Exporter: &export.Exporter{DB: database},
		Metrics:  m,
		Grace:    cfg.ReconcileGrace,
	}
	if images.Driver() != blob.DriverS3 {
		deps.Media = images
	}

	handler := api.LoggingMiddleware(api.NewRouter(deps))

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	if cfg.ReconcileInterval > 0 {
		worker := &reconcile.Worker{
			Reconciler: manager,
			Interval:   cfg.ReconcileInterval,
			Grace:      cfg.ReconcileGrace,
		}
		if redisClient != nil {
			worker.Locker = redislock.New(redisClient)
		}
		go worker.Run(workerCtx)
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-quit
		slog.Info("shutdown signal received", "signal", sig.String())
		stopWorker()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	slog.Info("server stopped, closing database")
	return nil
}

// ensureAdmin creates the first administrator when no admin profile exists,
// printing the generated password once.
func ensureAdmin(ctx context.Context, database *db.DB, provider *identity.Provider, email string) error {
	admins, err := store.CountAdmins(ctx, database)
	if err != nil {
		return fmt.Errorf("counting admins: %w", err)
	}
	if admins > 0 {
		return nil
	}

	existing, err := store.GetAccountByEmail(ctx, database, identity.NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("looking up admin account: %w", err)
	}
	if existing != nil {
		slog.Warn("no admin profile exists and the admin email is taken; promote a user manually",
			"email", email)
		return nil
	}

	password, err := generatePassword(16)
	if err != nil {
		return fmt.Errorf("generating password: %w", err)
	}

	account, err := provider.Register(ctx, email, password, "Admin")
	if err != nil {
		return fmt.Errorf("creating admin account: %w", err)
	}
	if _, err := store.InsertProfileIfAbsent(ctx, database, account.UserID, account.DisplayName,
		model.Grant{Role: model.RoleAdmin, CanEditItems: true}); err != nil {
		return fmt.Errorf("creating admin profile: %w", err)
	}

	printInitResult(account.Email, password)
	return nil
}

// printInitResult prints the first-run admin credentials to stdout.
func printInitResult(email, password string) {
	fmt.Println("Admin account created:")
	fmt.Printf("  Email:    %s\n", email)
	fmt.Printf("  Password: %s\n", password)
	fmt.Println()
	fmt.Println("Save this password, it cannot be recovered.")
	fmt.Println("The admin can change it after logging in.")
	fmt.Println()
}

// generatePassword creates a random password of the given length.
func generatePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%&*"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
