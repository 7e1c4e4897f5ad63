package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/liamcoop/ruleng/gifts"
	"github.com/liamcoop/ruleng/internal/config"
	"github.com/liamcoop/ruleng/internal/logger"
	"github.com/liamcoop/ruleng/internal/metrics"
	"github.com/liamcoop/ruleng/registry"
	"github.com/liamcoop/ruleng/rules"
)

const maxGrantsLimit = 1000

type Server struct {
	cfg        *config.Config
	ledger     gifts.Ledger
	ledgerKind string
	ping       func(context.Context) error
	closeFn    func() error
	registry   *registry.Registry[gifts.Student]
	metrics    *metrics.Collector
	router     *chi.Mux
}

// NewServer wires the rule sets to a ledger: PostgreSQL when db is set, otherwise
// the SQLite file or memory ledger selected by cfg.
func NewServer(cfg *config.Config, db *sql.DB) (*Server, error) {
	opts, err := cfg.GiftOptions()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		registry: registry.New[gifts.Student](logger.Logger),
	}

	switch {
	case db != nil:
		s.ledger, s.ledgerKind, s.ping = gifts.NewPostgresLedger(db), "postgres", db.PingContext
	case cfg.Database.SQLitePath != "":
		sqlite, err := gifts.NewSQLiteLedger(cfg.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite ledger: %w", err)
		}
		s.ledger, s.ledgerKind, s.ping, s.closeFn = sqlite, "sqlite", sqlite.Ping, sqlite.Close
	default:
		s.ledger, s.ledgerKind = gifts.NewInMemoryLedger(), "memory"
	}

	var compileOpts []rules.CompileOption
	if cfg.Metrics.IsEnabled() {
		s.metrics = metrics.NewCollector(cfg.Metrics.Namespace, nil)
		compileOpts = append(compileOpts, rules.WithObserver(s.metrics))
	}

	svc := gifts.NewService(s.ledger, logger.Logger).WithTimeout(cfg.Rules.ActionTimeout)
	if err := gifts.Register(s.registry, svc, opts, compileOpts...); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register rule sets: %w", err)
	}

	logger.Info("rule sets loaded", "rule_sets", s.registry.List(), "ledger", s.ledgerKind)

	s.setupRoutes()

	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Method(http.MethodGet, s.cfg.Metrics.Path, s.metrics.Handler())
	}

	r.Get("/api/v1/health", s.handleHealth)

	r.Post("/api/v1/evaluate", s.handleEvaluate)

	r.Route("/api/v1/rulesets", func(r chi.Router) {
		r.Get("/", s.handleListRuleSets)
		r.Get("/{name}", s.handleGetRuleSet)
	})

	r.Get("/api/v1/grants", s.handleListGrants)
	r.Get("/api/v1/grants/{grantId}", s.handleGetGrant)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases the ledger opened by NewServer. A database passed in by the caller
// stays open.
func (s *Server) Close() error {
	if s.closeFn != nil {
		return s.closeFn()
	}
	return nil
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "healthy",
		Ledger:   s.ledgerKind,
		RuleSets: len(s.registry.List()),
	}

	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			respondJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// Evaluation handler
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.RuleSet == "" {
		respondError(w, http.StatusBadRequest, "ruleSet is required", nil)
		return
	}
	if req.Student.Name == "" {
		respondError(w, http.StatusBadRequest, "student.name is required", gifts.ErrAnonymousStudent)
		return
	}

	tree, err := s.registry.Get(req.RuleSet)
	if err != nil {
		respondError(w, http.StatusNotFound, "rule set not found", err)
		return
	}

	receipt := &gifts.Receipt{}
	student := req.Student
	student.Receipt = receipt

	startTime := time.Now()
	result := tree.Evaluate(student)
	evaluationTime := time.Since(startTime)

	resp := EvaluateResponse{
		RuleSet:        req.RuleSet,
		Result:         result.Kind().String(),
		Path:           result.Path(),
		Granted:        toGrantResponses(receipt.Grants()),
		EvaluationTime: evaluationTime.String(),
	}
	if resp.Path == nil {
		resp.Path = []string{}
	}
	if err := result.Err(); err != nil {
		resp.Error = err.Error()
	}

	status := statusForResult(result)
	if status >= http.StatusInternalServerError {
		logger.Error("rule set evaluation failed", "rule_set", req.RuleSet, "student", req.Student.Name, "error", result.Err())
	}
	respondJSON(w, status, resp)
}

func statusForResult(result rules.Result) int {
	switch {
	case result.IsMatched():
		return http.StatusOK
	case result.IsNoMatch():
		return http.StatusUnprocessableEntity
	case errors.Is(result.Err(), rules.ErrAssertion):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// List rule sets handler
func (s *Server) handleListRuleSets(w http.ResponseWriter, r *http.Request) {
	names := s.registry.List()
	resp := RuleSetsListResponse{RuleSets: make([]RuleSetResponse, 0, len(names))}
	for _, name := range names {
		resp.RuleSets = append(resp.RuleSets, RuleSetResponse{Name: name})
	}
	respondJSON(w, http.StatusOK, resp)
}

// Get rule set handler
func (s *Server) handleGetRuleSet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	description, err := s.registry.Describe(name)
	if err != nil {
		respondError(w, http.StatusNotFound, "rule set not found", err)
		return
	}

	respondJSON(w, http.StatusOK, RuleSetResponse{Name: name, Description: description})
}

// List grants handler
func (s *Server) handleListGrants(w http.ResponseWriter, r *http.Request) {
	var (
		grants []*gifts.Grant
		err    error
	)

	if student := r.URL.Query().Get("student"); student != "" {
		grants, err = s.ledger.ListByStudent(r.Context(), student)
	} else {
		limit := 100
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit < 1 || limit > maxGrantsLimit {
				respondError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxGrantsLimit), err)
				return
			}
		}
		grants, err = s.ledger.List(r.Context(), limit)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list grants", err)
		return
	}

	respondJSON(w, http.StatusOK, GrantsListResponse{Grants: toGrantResponses(grants)})
}

// Get grant handler
func (s *Server) handleGetGrant(w http.ResponseWriter, r *http.Request) {
	grant, err := s.ledger.Get(r.Context(), chi.URLParam(r, "grantId"))
	if errors.Is(err, gifts.ErrGrantNotFound) {
		respondError(w, http.StatusNotFound, "grant not found", err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get grant", err)
		return
	}

	respondJSON(w, http.StatusOK, toGrantResponse(grant))
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	logger.CountHTTPStatus(status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

func openDB(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func main() {
	configPath := flag.String("config", os.Getenv("RULENG_CONFIG"), "Path to a YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}

	ctx := context.Background()
	if err := logger.Setup(ctx, logger.Options{
		Level:           cfg.Logging.Level,
		ErrorSampleRate: cfg.Logging.ErrorSampleRate,
		OTELEnabled:     cfg.Logging.OTELEnabled,
		ServiceName:     cfg.Logging.ServiceName,
	}); err != nil {
		logger.Warn("Logger setup degraded", "error", err)
	}

	var db *sql.DB
	if cfg.Database.URL != "" {
		db, err = openDB(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", "error", err)
		}
		defer db.Close()
	} else if cfg.Database.Ledger() == "memory" {
		logger.Warn("No database configured, grants are kept in memory")
	}

	server, err := NewServer(cfg, db)
	if err != nil {
		logger.Fatal("Failed to create server", "error", err)
	}
	defer server.Close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Logger.Handler(), logger.LevelError),
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("Server starting", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	if err := logger.Shutdown(shutdownCtx); err != nil {
		logger.Error("Logger shutdown error", "error", err)
	}

	logger.Info("Server stopped")
}
