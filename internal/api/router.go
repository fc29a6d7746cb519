package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kalambet/persona/internal/chat"
	"github.com/kalambet/persona/internal/ingest"
	"github.com/kalambet/persona/internal/metrics"
	"github.com/kalambet/persona/internal/profile"
	"github.com/kalambet/persona/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

var validate = validator.New()

type AppDeps struct {
	Store     *storage.Store
	Profiles  *profile.Manager
	Chat      *chat.Manager
	Processor *ingest.Processor
	Metrics   *metrics.Collector
	Logger    *zap.Logger
	Token     string

	// SessionListLimit is the default page size for GET /chat/sessions.
	SessionListLimit int
}

// NewAppHandler builds the REST API. /health and /metrics are public; every
// other route needs the bearer token, and all but POST /users also need the
// X-User-ID header.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.SessionListLimit <= 0 {
		deps.SessionListLimit = chat.DefaultMaxResults
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(observe(deps.Logger, deps.Metrics))

	r.Get("/health", handleHealth(deps))
	r.Handle("/metrics", deps.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/users", handleCreateUser(deps))

		r.Group(func(r chi.Router) {
			r.Use(RequireUser)

			r.Get("/me", handleGetMe(deps))
			r.Get("/preferences", handleGetPreferences(deps))
			r.Put("/preferences", handlePutPreferences(deps))
			r.Post("/preferences/rebuild", handleRebuild(deps))
			r.Get("/insights", handleInsights(deps))

			r.Post("/records", handleIngest(deps))
			r.Get("/records", handleListRecords(deps))
			r.Post("/records/process", handleProcessPending(deps))
			r.Get("/records/{id}", handleGetRecord(deps))
			r.Delete("/records/{id}", handleDeleteRecord(deps))
			r.Post("/records/{id}/process", handleProcessRecord(deps))

			r.Post("/chat/messages", handleChatMessage(deps))
			r.Get("/chat/sessions", handleListSessions(deps))
			r.Get("/chat/sessions/{id}", handleGetSession(deps))
			r.Delete("/chat/sessions/{id}", handleDeleteSession(deps))
			r.Get("/chat/suggestions", handleSuggestions(deps))
		})
	})

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.Ping(r.Context()); err != nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "database unavailable: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// observe logs each request and records its latency under the matched route
// pattern.
func observe(logger *zap.Logger, m *metrics.Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)
			m.ObserveHTTP(r.Method, route, status, elapsed)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", status),
				zap.Duration("duration", elapsed),
			)
		})
	}
}

// decodeBody reads a JSON body of at most limit bytes into v and validates it.
func decodeBody(w http.ResponseWriter, r *http.Request, limit int64, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	if err := validate.Struct(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
