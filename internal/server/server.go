package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazz-dev/gatecheck/internal/orchestrator"
	"github.com/hazz-dev/gatecheck/internal/storage"
)

// StateSource exposes the orchestrator's published state.
type StateSource interface {
	State() orchestrator.State
	Last() (orchestrator.Activation, bool)
}

// Activator runs one activation on demand.
type Activator interface {
	Activate(ctx context.Context) orchestrator.Activation
}

// HistoryStore defines the storage queries the server needs.
type HistoryStore interface {
	History(ctx context.Context, limit, offset int) ([]storage.Record, int, error)
	SuccessRate(ctx context.Context, last int) (float64, error)
}

// Server holds the chi router and its dependencies.
type Server struct {
	state      StateSource
	activator  Activator
	store      HistoryStore
	backendURL string
	router     chi.Router
	logger     *slog.Logger
}

// New creates a new Server and registers all routes. store may be nil when
// history is disabled.
func New(state StateSource, activator Activator, store HistoryStore, backendURL string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		state:      state,
		activator:  activator,
		store:      store,
		backendURL: backendURL,
		router:     chi.NewRouter(),
		logger:     logger,
	}
	s.registerRoutes()
	return s
}

// Router returns the chi router (for mounting or testing).
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/state", s.handleState)
	r.Post("/api/activate", s.handleActivate)
	r.Get("/api/activations", s.handleHistory)
}

// --- Response helpers ---

type envelope struct {
	Data  interface{} `json:"data"`
	Error string      `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Error: msg})
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type activationDetail struct {
	ID            string    `json:"id"`
	Outcome       string    `json:"outcome"`
	DeclaredState string    `json:"declared_state,omitempty"`
	ErrorCode     string    `json:"error_code,omitempty"`
	HTTPStatus    int       `json:"http_status,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	StartedAt     time.Time `json:"started_at"`
	Stale         bool      `json:"stale,omitempty"`
}

type stateResponse struct {
	Status      string            `json:"status"`
	Message     string            `json:"message"`
	Connected   bool              `json:"connected"`
	BackendURL  string            `json:"backend_url"`
	SuccessRate *float64          `json:"success_rate,omitempty"`
	Activation  *activationDetail `json:"activation"`
}

func newActivationDetail(a orchestrator.Activation) *activationDetail {
	d := &activationDetail{
		ID:            a.ID.String(),
		Outcome:       string(a.Outcome),
		DeclaredState: a.DeclaredState,
		DurationMs:    a.Duration().Milliseconds(),
		StartedAt:     a.StartedAt,
		Stale:         a.Stale,
	}
	if a.Cause != nil {
		d.ErrorCode = a.Cause.Code
		d.HTTPStatus = a.Cause.HTTPStatus
	}
	return d
}

func (s *Server) currentState(ctx context.Context) stateResponse {
	st := s.state.State()
	resp := stateResponse{
		Status:     st.Status,
		Message:    st.Message,
		Connected:  st.Connected(),
		BackendURL: s.backendURL,
	}
	if last, ok := s.state.Last(); ok {
		resp.Activation = newActivationDetail(last)
	}
	if s.store != nil {
		pct, err := s.store.SuccessRate(ctx, 100)
		if err != nil {
			s.logger.Warn("SuccessRate", "error", err)
		} else {
			resp.SuccessRate = &pct
		}
	}
	return resp
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.currentState(r.Context()))
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	act := s.activator.Activate(r.Context())
	resp := s.currentState(r.Context())
	// A stale activation is reported as-is; the state shows the newer one.
	resp.Activation = newActivationDetail(act)
	writeJSON(w, http.StatusOK, resp)
}

type historyResponse struct {
	Activations []storage.Record `json:"activations"`
	Total       int              `json:"total"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	const maxLimit = 1000

	limit := 50
	offset := 0

	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		if n > maxLimit {
			n = maxLimit
		}
		limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset parameter")
			return
		}
		offset = n
	}

	if s.store == nil {
		writeJSON(w, http.StatusOK, historyResponse{Activations: []storage.Record{}})
		return
	}

	records, total, err := s.store.History(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("History", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if records == nil {
		records = []storage.Record{}
	}

	writeJSON(w, http.StatusOK, historyResponse{
		Activations: records,
		Total:       total,
	})
}

// --- Middleware ---

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}
