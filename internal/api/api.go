// Package api exposes preview sessions, job submission and quota over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/printpreview/internal/jobs"
	"github.com/local/printpreview/internal/limiter"
	"github.com/local/printpreview/internal/metrics"
	"github.com/local/printpreview/internal/preview"
	"github.com/local/printpreview/internal/rasterize"
	"github.com/local/printpreview/internal/source"
	"github.com/local/printpreview/internal/statuscheck"
	"github.com/local/printpreview/internal/store"
)

// Jobs is the submission backend.
type Jobs interface {
	preview.Submitter
	CurrentQuota(ctx context.Context, userID string) (jobs.Quota, error)
	History(ctx context.Context, userID string, limit int) ([]store.JobRecord, error)
	Job(ctx context.Context, userID, jobID string) (store.JobRecord, error)
	Cancel(ctx context.Context, userID, jobID string) (store.JobRecord, error)
}

// Opener opens a spooled PDF for rasterization.
type Opener func(path string) (preview.Document, error)

type Dependencies struct {
	Sessions *preview.Registry
	Jobs     Jobs
	Fetcher  *source.Fetcher
	Spool    *source.Spool
	Status   *statuscheck.Checker
	Limiter  *limiter.Adaptive
	Open     Opener

	JPEGQuality    int
	ColorMode      rasterize.ColorMode
	MaxUploadBytes int64
}

type Server struct {
	deps Dependencies
}

func New(deps Dependencies) *Server {
	if deps.Open == nil {
		deps.Open = OpenRasterizer
	}
	if deps.JPEGQuality <= 0 {
		deps.JPEGQuality = rasterize.DefaultQuality
	}
	if deps.ColorMode == "" {
		deps.ColorMode = rasterize.ColorRGB
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 50 << 20
	}
	if deps.Fetcher != nil && deps.Fetcher.MaxBytes <= 0 {
		deps.Fetcher.MaxBytes = deps.MaxUploadBytes
	}
	if deps.Limiter == nil {
		deps.Limiter = limiter.New(nil, limiter.Options{})
	}
	return &Server{deps: deps}
}

// OpenRasterizer opens path with MuPDF.
func OpenRasterizer(path string) (preview.Document, error) {
	d, err := rasterize.Open(path)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /status", s.route("status", s.handleStatus))

	mux.HandleFunc("POST /preview", s.route("create", s.handleCreate))
	mux.HandleFunc("GET /preview/{id}", s.route("state", s.handleState))
	mux.HandleFunc("DELETE /preview/{id}", s.route("delete", s.handleDelete))
	mux.HandleFunc("POST /preview/{id}/document", s.route("document", s.handleDocument))
	mux.HandleFunc("DELETE /preview/{id}/document", s.route("unload", s.handleUnload))
	mux.HandleFunc("POST /preview/{id}/selection", s.route("selection", s.handleSelection))
	mux.HandleFunc("POST /preview/{id}/toggle", s.route("toggle", s.handleToggle))
	mux.HandleFunc("POST /preview/{id}/settings", s.route("settings", s.handleSettings))
	mux.HandleFunc("POST /preview/{id}/viewport", s.route("viewport", s.handleViewport))
	mux.HandleFunc("POST /preview/{id}/navigate", s.route("navigate", s.handleNavigate))
	mux.HandleFunc("POST /preview/{id}/scroll", s.route("scroll", s.handleScroll))
	mux.HandleFunc("GET /preview/{id}/sheets/{sheet}/slots/{slot}", s.route("slot", s.handleSlot))
	mux.HandleFunc("GET /preview/{id}/events", s.route("events", s.handleEvents))
	mux.HandleFunc("POST /preview/{id}/submit", s.route("submit", s.handleSubmit))

	mux.HandleFunc("GET /quota", s.route("quota", s.handleQuota))
	mux.HandleFunc("GET /jobs", s.route("jobs", s.handleJobs))
	mux.HandleFunc("GET /jobs/{job}", s.route("job", s.handleJob))
	mux.HandleFunc("POST /jobs/{job}/cancel", s.route("cancel", s.handleCancel))
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// route counts responses per route and logs slow or failed requests.
func (s *Server) route(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		metrics.IncHTTP(name, rec.code)
		if rec.code >= 500 {
			log.Error().Str("route", name).Int("code", rec.code).Dur("took", time.Since(start)).Msg("request failed")
		} else {
			log.Debug().Str("route", name).Int("code", rec.code).Dur("took", time.Since(start)).Msg("request")
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadRequest("invalid json")
	}
	return nil
}

// clientKey identifies the caller for per-client limits.
func clientKey(r *http.Request) string {
	if u := userID(r); u != "" {
		return u
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// userID reads the caller from the X-User-ID header or the user_id query.
func userID(r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get("X-User-ID")); u != "" {
		return u
	}
	return strings.TrimSpace(r.URL.Query().Get("user_id"))
}

func pathInt(r *http.Request, name string) (int, error) {
	n, err := strconv.Atoi(r.PathValue(name))
	if err != nil {
		return 0, errBadRequest("invalid " + name)
	}
	return n, nil
}
