// Package server serves the stored summaries as HTML and JSON.
package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/AIDigest/internal/content"
	"github.com/TobiSchelling/AIDigest/internal/database"
	"github.com/TobiSchelling/AIDigest/internal/summary"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

const listLimit = 100

// Store is the read side of storage the server needs.
type Store interface {
	ListSummaries(ctx context.Context, limit int) ([]content.Summary, error)
	GetSummaryBetweenEpoch(ctx context.Context, start, end int64, excludeType string) ([]content.Summary, error)
}

// Server is the HTTP server for serving summaries.
type Server struct {
	store    Store
	gatherer prometheus.Gatherer
	log      *slog.Logger
	pages    map[string]*template.Template
	mux      *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithGatherer exposes the collectors of g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// New creates a new Server.
func New(store Store, opts ...Option) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown":   renderMarkdown,
		"formatDay":  database.FormatDayDisplay,
		"dayOf":      database.DayFromEpoch,
		"categories": func(s content.Summary) int { return len(s.Categories) },
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// For each page template, clone the base and parse the page into the clone.
	// This gives each page its own {{define "content"}} and {{define "title"}}.
	pageNames := []string{"index.html", "summary.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{
		store:    store,
		gatherer: prometheus.DefaultGatherer,
		log:      slog.Default(),
		pages:    pages,
		mux:      http.NewServeMux(),
	}
	for _, o := range opts {
		o(s)
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /summary/{date}", s.handleSummary)
	s.mux.HandleFunc("GET /api/summary/{date}", s.handleAPISummary)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.ListSummaries(r.Context(), listLimit)
	if err != nil {
		s.log.Error("listing summaries", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Summaries": summaries,
	})
}

// findSummary returns the summary for day. With several summary types on
// one day, ?type= selects one; otherwise the daily summary wins.
func (s *Server) findSummary(r *http.Request, day string) (*content.Summary, int, error) {
	start, end, err := database.DayBounds(day)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	summaries, err := s.store.GetSummaryBetweenEpoch(r.Context(), start, end, "")
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}

	want := r.URL.Query().Get("type")
	var pick *content.Summary
	for i := range summaries {
		sm := &summaries[i]
		switch {
		case want != "" && sm.Type == want:
			return sm, http.StatusOK, nil
		case want == "" && sm.Type == summary.DefaultType:
			return sm, http.StatusOK, nil
		case want == "" && pick == nil:
			pick = sm
		}
	}
	if pick == nil {
		return nil, http.StatusNotFound, fmt.Errorf("no summary for %s", day)
	}
	return pick, http.StatusOK, nil
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	day := r.PathValue("date")
	sm, status, err := s.findSummary(r, day)
	if status == http.StatusInternalServerError {
		s.log.Error("loading summary", "day", day, "error", err)
		http.Error(w, "Internal server error", status)
		return
	}
	if status == http.StatusBadRequest {
		http.Error(w, err.Error(), status)
		return
	}

	data := map[string]any{"Day": day, "Summary": sm}
	if sm != nil {
		data["Body"] = summary.Markdown(*sm)
	}
	s.renderStatus(w, status, "summary.html", data)
}

func (s *Server) handleAPISummary(w http.ResponseWriter, r *http.Request) {
	day := r.PathValue("date")
	sm, status, err := s.findSummary(r, day)
	if err != nil {
		if status == http.StatusInternalServerError {
			s.log.Error("loading summary", "day", day, "error", err)
			err = errors.New("internal server error")
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, sm)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	s.renderStatus(w, http.StatusOK, name, data)
}

func (s *Server) renderStatus(w http.ResponseWriter, status int, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.log.Error("template not found", "template", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		s.log.Error("rendering template", "template", name, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve listens on port until ctx is cancelled, then shuts down gracefully.
func Serve(ctx context.Context, srv *Server, port int) error {
	hs := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		srv.log.Info("server listening", "addr", "http://"+hs.Addr)
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hs.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
