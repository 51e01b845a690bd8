package server

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"balance-service/internal/config"
	"balance-service/internal/domain"
	"balance-service/internal/errors"
	"balance-service/internal/handler"
	"balance-service/internal/ledger"
	"balance-service/internal/notify"
	"balance-service/internal/passcode"
	"balance-service/internal/rates"
	"balance-service/internal/service"
	"balance-service/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
)

// Server represents the HTTP server
type Server struct {
	router *mux.Router
	server *http.Server
	db     *sql.DB
	redis  *redis.Client
	cron   *cron.Cron
	logger *slog.Logger
	port   string
}

// NewServer wires the configured store backends into the transaction engine
// and builds the HTTP surface around it.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{logger: logger}

	versioned, err := s.buildVersionedStore(cfg)
	if err != nil {
		return nil, err
	}

	passcodeStore, err := s.buildPasscodeStore(cfg)
	if err != nil {
		return nil, err
	}

	var notifier domain.Notifier = notify.Noop{}
	if cfg.BotToken != "" {
		notifier = notify.NewTelegram(cfg.BotToken, "")
	}

	rateProvider := rates.NewProvider(cfg.RateURL, cfg.RateCurrency, logger)

	balances := ledger.New(versioned, cfg.BalancesKey, logger)
	members := ledger.NewMembers(versioned, cfg.MembersKey, logger)
	intents := ledger.NewIntents(versioned, cfg.IntentsKey, logger)
	authority := passcode.NewAuthority(passcodeStore, notifier, logger)

	engine := service.NewEngine(balances, members, intents, authority,
		rateProvider, notifier, cfg.OperatorChatID, logger)

	reconciler := service.NewReconciler(balances, members, intents, notifier, logger)
	s.cron = cron.New()
	s.cron.AddFunc("@every 1m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := reconciler.Run(ctx); err != nil {
			logger.Warn("Reconciliation pass failed", "error", err)
		}
	})

	// Initialize handlers
	balanceHandler := handler.NewBalanceHandler(engine)
	passcodeHandler := handler.NewPasscodeHandler(engine)
	transactionHandler := handler.NewTransactionHandler(engine, cfg.SharedSecret)
	adminHandler := handler.NewAdminHandler(engine)

	// Setup router
	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))

	router.HandleFunc("/balance", balanceHandler.GetBalance).Methods("POST")
	router.HandleFunc("/passcodes", passcodeHandler.Issue).Methods("POST")
	router.HandleFunc("/withdrawals", transactionHandler.Withdraw).Methods("POST")
	router.HandleFunc("/premium-purchases", transactionHandler.PremiumPurchase).Methods("POST")
	router.HandleFunc("/promo-unlocks", transactionHandler.PromoUnlock).Methods("POST")
	router.HandleFunc("/promo-submissions", transactionHandler.PromoSubmission).Methods("POST")

	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(adminAuthMiddleware(cfg.AdminPassword, logger))
	admin.HandleFunc("/balances/{subject}", adminHandler.GetBalance).Methods("GET")
	admin.HandleFunc("/adjustments", adminHandler.Adjust).Methods("POST")
	admin.HandleFunc("/members/{subject}", adminHandler.AddMember).Methods("PUT")
	admin.HandleFunc("/members/{subject}", adminHandler.RemoveMember).Methods("DELETE")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if s.db != nil {
			if err := s.db.Ping(); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unavailable"})
				return
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}).Methods("GET")

	s.router = router
	return s, nil
}

func (s *Server) buildVersionedStore(cfg *config.Config) (domain.VersionedStore, error) {
	switch cfg.StoreBackend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}

		// Configure connection pool for better performance
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			db.Close()
			return nil, err
		}
		s.logger.Info("Successfully connected to database")
		s.db = db
		return store.NewPostgresStore(db, s.logger), nil
	case "github":
		return store.NewGitHubStore(cfg.GitHubRepo, cfg.GitHubToken, "", s.logger), nil
	default:
		s.logger.Warn("Using in-memory versioned store; balances will not survive a restart")
		return store.NewMemoryStore(), nil
	}
}

func (s *Server) buildPasscodeStore(cfg *config.Config) (domain.PasscodeStore, error) {
	if cfg.PasscodeBackend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			client.Close()
			return nil, err
		}
		s.redis = client
		return passcode.NewRedisStore(client), nil
	}
	return passcode.NewMemoryStore(), nil
}

// adminAuthMiddleware guards the operator surface with the configured
// password; it fails closed when none is set.
func adminAuthMiddleware(password string, logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			supplied := r.Header.Get("X-Admin-Password")
			if password == "" ||
				subtle.ConstantTimeCompare([]byte(supplied), []byte(password)) != 1 {
				logger.Warn("Rejected admin request", "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]string{"error": string(errors.Unauthorized)})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Create response wrapper to capture status code
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server on the specified port
func (s *Server) Start(port string) (string, error) {
	// Create listener first to get actual port
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	// Get the actual port being used
	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server", "port", s.port)
	s.cron.Start()

	// Start server in background
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server failed", "error", err)
		}
	}()

	return s.port, nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	if s.cron != nil {
		cronCtx := s.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
		}
	}

	if s.db != nil {
		s.db.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() string {
	return s.port
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// StartServer starts the server with the given configuration
func StartServer(cfg *config.Config) (*Server, string, error) {
	// Initialize logger - use io.Discard for tests to avoid noise
	var logger *slog.Logger
	if cfg.ServerPort == "0" {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	} else {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		return nil, "", err
	}

	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		return nil, "", err
	}

	return server, port, nil
}
