// Package server provides the HTTP surface of sheet-sync: record CRUD
// against the record store, manual sync triggers, status, and the
// optional MCP endpoint.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/sheet-sync/internal/auth"
	"github.com/alexjbarnes/sheet-sync/internal/models"
	"github.com/alexjbarnes/sheet-sync/internal/scheduler"
	"github.com/alexjbarnes/sheet-sync/internal/schema"
	"github.com/alexjbarnes/sheet-sync/internal/state"
	"github.com/google/uuid"
)

// RecordStore is the record store as seen by the API.
type RecordStore interface {
	List(ctx context.Context) ([]models.Record, error)
	Get(ctx context.Context, key string) (models.Record, error)
	Create(ctx context.Context, rec models.Record) (string, error)
	Update(ctx context.Context, key string, fields map[string]string) (string, error)
	Delete(ctx context.Context, key string) (string, error)
}

// Syncer triggers passes and reports scheduler state.
type Syncer interface {
	Trigger()
	Status() scheduler.Status
}

// WatermarkSource returns the last completed pass.
type WatermarkSource interface {
	Watermark() (state.Watermark, error)
}

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Records    RecordStore
	Sync       Syncer
	Watermarks WatermarkSource
	Schema     schema.Schema
	Users      auth.Users
	MCPHandler http.Handler
	Logger     *slog.Logger
}

// NewMux builds the HTTP handler. Mutating routes and /mcp sit behind
// Basic auth when users are configured. Every request carries an
// X-Request-ID.
func NewMux(cfg MuxConfig) http.Handler {
	h := &handlers{
		records:    cfg.Records,
		sync:       cfg.Sync,
		watermarks: cfg.Watermarks,
		schema:     cfg.Schema,
		logger:     cfg.Logger,
	}

	protect := auth.Middleware(cfg.Users, cfg.Logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /data", h.list)
	mux.HandleFunc("GET /data/{id}", h.get)
	mux.Handle("POST /data", protect(http.HandlerFunc(h.create)))
	mux.Handle("PUT /data/{id}", protect(http.HandlerFunc(h.update)))
	mux.Handle("DELETE /data/{id}", protect(http.HandlerFunc(h.remove)))
	mux.Handle("POST /sync", protect(http.HandlerFunc(h.triggerSync)))
	mux.HandleFunc("GET /sync/status", h.status)

	if cfg.MCPHandler != nil {
		mux.Handle("/mcp", protect(cfg.MCPHandler))
	}

	return requestID(cfg.Logger, mux)
}

type requestIDKey struct{}

// RequestID returns the id assigned to the request, or "".
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// requestID tags each request with an id, honouring one supplied by the
// client, and logs the request once it completes.
func requestID(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}

		w.Header().Set("X-Request-ID", id)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))

		logger.Debug("http request",
			slog.String("request_id", id),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", sw.status),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses (MCP over SSE) working through the
// wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
