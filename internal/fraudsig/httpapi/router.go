// Package httpapi serves liveness and counters for operators.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/chenzhangda16/fraudsig/internal/fraudsig/stats"
)

type Deps struct {
	Stats *stats.Counters
	// Ready reports a reason the processor cannot serve; nil means healthy.
	Ready func() error
	// LaneDepth is optional.
	LaneDepth func() []int
	Logger    *zap.Logger
}

type statsBody struct {
	stats.Snapshot
	LaneDepth []int `json:"lane_depth,omitempty"`
}

func NewRouter(d Deps) chi.Router {
	lg := d.Logger
	if lg == nil {
		lg = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(lg))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	// read-only endpoints, polled by dashboards on other origins
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		body := statsBody{}
		if d.Stats != nil {
			body.Snapshot = d.Stats.Snapshot()
		}
		if d.LaneDepth != nil {
			body.LaneDepth = d.LaneDepth()
		}
		writeJSON(w, http.StatusOK, body)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "endpoint not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// LoggerMiddleware logs each request at debug level; health probes are noisy.
func LoggerMiddleware(lg *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				lg.Debug("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Int("status", ww.Status()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
