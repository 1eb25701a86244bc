// Package api provides the HTTP API server for the companion.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/quantumlife/companion/internal/agent"
	"github.com/quantumlife/companion/internal/clock"
	"github.com/quantumlife/companion/internal/core"
	"github.com/quantumlife/companion/internal/logging"
	"github.com/quantumlife/companion/internal/memory"
	"github.com/quantumlife/companion/internal/notifications"
	"github.com/quantumlife/companion/internal/proactive"
	"github.com/quantumlife/companion/internal/scheduler"
	"github.com/quantumlife/companion/internal/storage"
)

// UserHeader carries the caller's user id.
const UserHeader = "X-User-ID"

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server

	// Components
	agent     *agent.Agent
	db        *storage.DB
	clock     clock.Clock
	fakeClock *clock.Accelerated
	scheduler *scheduler.Scheduler
	proactive *proactive.Service
	hub       *notifications.Hub
	memory    *memory.Manager

	// Stores
	commitments *storage.CommitmentStore
	completions *storage.CompletionStore
	messages    *storage.ProactiveStore
	moods       *storage.MoodStore

	requestTimeout time.Duration
	started        time.Time
	log            *logging.Logger
}

// Config for the server
type Config struct {
	Host           string
	Port           int
	Agent          *agent.Agent
	DB             *storage.DB
	Clock          clock.Clock
	FakeClock      *clock.Accelerated // nil unless fake time is enabled
	Scheduler      *scheduler.Scheduler
	Proactive      *proactive.Service
	Hub            *notifications.Hub
	Memory         *memory.Manager
	RequestTimeout time.Duration
}

// New creates a new API server
func New(cfg Config) (*Server, error) {
	if cfg.Agent == nil {
		return nil, fmt.Errorf("%w: agent", core.ErrMissingRequired)
	}
	if cfg.DB == nil {
		return nil, fmt.Errorf("%w: database", core.ErrMissingRequired)
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("%w: clock", core.ErrMissingRequired)
	}
	if cfg.Memory == nil {
		cfg.Memory = memory.NewManager(nil, nil)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}

	s := &Server{
		agent:          cfg.Agent,
		db:             cfg.DB,
		clock:          cfg.Clock,
		fakeClock:      cfg.FakeClock,
		scheduler:      cfg.Scheduler,
		proactive:      cfg.Proactive,
		hub:            cfg.Hub,
		memory:         cfg.Memory,
		commitments:    storage.NewCommitmentStore(cfg.DB),
		completions:    storage.NewCompletionStore(cfg.DB),
		messages:       storage.NewProactiveStore(cfg.DB),
		moods:          storage.NewMoodStore(cfg.DB),
		requestTimeout: cfg.RequestTimeout,
		started:        time.Now(),
		log:            logging.Component("api"),
	}

	s.setupRouter()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRouter configures all routes
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(userContext)

		// The websocket outlives any request timeout.
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.requestTimeout))

			r.Get("/health", s.handleHealth)

			// Conversation
			r.Post("/chat", s.handleChat)
			r.Get("/history", s.handleHistory)
			r.Post("/checkin", s.handleCheckIn)

			NewCommitmentHandlers(s).RegisterRoutes(r)
			NewProactiveHandlers(s).RegisterRoutes(r)
			NewDebugHandlers(s).RegisterRoutes(r)

			// Scheduler
			r.Get("/scheduler", s.handleGetScheduler)
			r.Post("/scheduler/{taskID}/run", s.handleRunTask)
		})
	})

	s.router = r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("API server starting")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- Middleware ---

type userKey struct{}

// userContext reads the user id header. Missing means the default user.
func userContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := core.DefaultUserID
		if raw := strings.TrimSpace(r.Header.Get(UserHeader)); raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				respondError(w, http.StatusBadRequest, "invalid "+UserHeader+" header")
				return
			}
			userID = core.UserID(id)
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

// userFrom returns the caller set by userContext.
func userFrom(r *http.Request) core.UserID {
	if id, ok := r.Context().Value(userKey{}).(core.UserID); ok {
		return id
	}
	return core.DefaultUserID
}

// requestLogger writes one line per request through the api logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		entry := s.log.WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		})
		if ww.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request")
	})
}

// --- Response helpers ---

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps sentinel errors onto status codes.
func respondErr(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrCommitmentNotFound),
		errors.Is(err, core.ErrRecordNotFound),
		errors.Is(err, core.ErrHabitNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidInput),
		errors.Is(err, core.ErrMissingRequired),
		errors.Is(err, core.ErrInvalidStatus):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrDuplicateRecord),
		errors.Is(err, core.ErrHabitExists),
		errors.Is(err, core.ErrClockNotRunning):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// decodeJSON reads the body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON", core.ErrInvalidInput)
	}
	return nil
}

// pathID parses a numeric URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", core.ErrInvalidInput, name)
	}
	return id, nil
}

// queryInt reads a positive integer query parameter, falling back to def.
func queryInt(r *http.Request, name string, def int) int {
	if raw := r.URL.Query().Get(name); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return def
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	body := map[string]interface{}{
		"status":         status,
		"time":           s.clock.Now(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"memory":         s.memory.Enabled(),
	}
	if s.hub != nil {
		body["websocket_clients"] = s.hub.ClientCount()
	}
	respondJSON(w, code, body)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Message   string `json:"message"`
		SessionID string `json:"session_id"`
	}
	if err := decodeJSON(r, &input); err != nil {
		respondErr(w, err)
		return
	}

	resp, err := s.agent.Chat(r.Context(), agent.ChatRequest{
		UserID:    userFrom(r),
		SessionID: input.SessionID,
		Message:   input.Message,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	turns, err := s.agent.History(r.Context(), userFrom(r), queryInt(r, "limit", 20))
	if err != nil {
		respondErr(w, err)
		return
	}
	if turns == nil {
		turns = []*core.Conversation{}
	}
	respondJSON(w, http.StatusOK, turns)
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Mood  int    `json:"mood"`
		Notes string `json:"notes"`
	}
	if err := decodeJSON(r, &input); err != nil {
		respondErr(w, err)
		return
	}

	now := s.clock.Now()
	checkIn := &core.DailyCheckIn{
		UserID:      userFrom(r),
		CheckInDate: core.DateOf(now),
		Mood:        input.Mood,
		Notes:       input.Notes,
		Timestamp:   now,
	}
	created, err := s.moods.Upsert(r.Context(), checkIn)
	if err != nil {
		respondErr(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, checkIn)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusServiceUnavailable, "websocket notifications are disabled")
		return
	}
	s.hub.ServeWS(w, r, userFrom(r))
}

func (s *Server) handleGetScheduler(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		respondError(w, http.StatusServiceUnavailable, "scheduler is not running")
		return
	}
	body := map[string]interface{}{
		"stats": s.scheduler.GetStats(),
		"tasks": s.scheduler.ListTasks(),
	}
	if s.proactive != nil {
		body["proactive"] = s.proactive.GetStats()
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		respondError(w, http.StatusServiceUnavailable, "scheduler is not running")
		return
	}
	taskID := chi.URLParam(r, "taskID")
	if _, ok := s.scheduler.GetTask(taskID); !ok {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}
	if err := s.scheduler.RunNow(r.Context(), taskID); err != nil {
		respondErr(w, err)
		return
	}
	task, _ := s.scheduler.GetTask(taskID)
	respondJSON(w, http.StatusOK, task)
}
