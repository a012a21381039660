// Package web provides the HTTP server for the kanban board: server-rendered
// pages, the JSON API, and SSE updates.
package web

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
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/yuin/goldmark"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/mwaldron/kanban/board"
	"github.com/mwaldron/kanban/internal/db"
)

//go:embed templates/*
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Server is the kanban board web server.
type Server struct {
	projects  *board.ProjectService
	tickets   *board.TicketService
	metrics   *board.MetricsService
	templates *template.Template
	logger    *slog.Logger
	server    *http.Server

	// SSE clients
	sseClients   map[chan string]bool
	sseMu        sync.RWMutex
	done         chan struct{}
	shutdownOnce sync.Once
}

// NewServer creates a new board server on top of a database.
func NewServer(database *db.DB, logger *slog.Logger) (*Server, error) {
	store := db.NewStore(database)

	tmpl, err := template.New("").Funcs(templateFuncs()).ParseFS(templatesFS, "templates/*.html", "templates/partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	return &Server{
		projects:   board.NewProjectService(store),
		tickets:    board.NewTicketService(store),
		metrics:    board.NewMetricsService(store),
		templates:  tmpl,
		logger:     logger,
		sseClients: make(map[chan string]bool),
		done:       make(chan struct{}),
	}, nil
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	// Static files
	staticSub, _ := fs.Sub(staticFS, "static")
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Page routes
	r.HandleFunc("/", s.handleBoard).Methods(http.MethodGet)
	r.HandleFunc("/projects", s.handleProjects).Methods(http.MethodGet)
	r.HandleFunc("/tickets/{id}", s.handleTicketDetail).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/archived", s.handleArchived).Methods(http.MethodGet)

	// Project API
	r.HandleFunc("/api/projects", s.apiListProjects).Methods(http.MethodGet)
	r.HandleFunc("/api/projects", s.apiCreateProject).Methods(http.MethodPost)
	r.HandleFunc("/api/projects/{id}", s.apiGetProject).Methods(http.MethodGet)
	r.HandleFunc("/api/projects/{id}", s.apiUpdateProject).Methods(http.MethodPatch, http.MethodPut)
	r.HandleFunc("/api/projects/{id}", s.apiDeleteProject).Methods(http.MethodDelete)

	// Ticket API
	r.HandleFunc("/api/tickets", s.apiListTickets).Methods(http.MethodGet)
	r.HandleFunc("/api/tickets", s.apiCreateTicket).Methods(http.MethodPost)
	r.HandleFunc("/api/tickets/{id}", s.apiGetTicket).Methods(http.MethodGet)
	r.HandleFunc("/api/tickets/{id}", s.apiUpdateTicket).Methods(http.MethodPatch, http.MethodPut)
	r.HandleFunc("/api/tickets/{id}", s.apiDeleteTicket).Methods(http.MethodDelete)
	r.HandleFunc("/api/tickets/{id}/move", s.apiMoveTicket).Methods(http.MethodPost)

	// Comment API
	r.HandleFunc("/api/tickets/{id}/comments", s.apiListComments).Methods(http.MethodGet)
	r.HandleFunc("/api/tickets/{id}/comments", s.apiAddComment).Methods(http.MethodPost)
	r.HandleFunc("/api/comments/{id}", s.apiUpdateComment).Methods(http.MethodPatch, http.MethodPut)
	r.HandleFunc("/api/comments/{id}", s.apiDeleteComment).Methods(http.MethodDelete)

	// Dependency API
	r.HandleFunc("/api/tickets/{id}/dependencies", s.apiAddDependency).Methods(http.MethodPost)
	r.HandleFunc("/api/tickets/{id}/dependencies/{depID}", s.apiRemoveDependency).Methods(http.MethodDelete)

	// Enumerations (read-only; the sets are closed)
	r.HandleFunc("/api/states", s.apiListStates).Methods(http.MethodGet)
	r.HandleFunc("/api/types", s.apiListTypes).Methods(http.MethodGet)
	r.HandleFunc("/api/priorities", s.apiListPriorities).Methods(http.MethodGet)

	// Metrics API
	r.HandleFunc("/api/metrics", s.apiMetricsOverview).Methods(http.MethodGet)
	r.HandleFunc("/api/metrics/lead-time", s.apiLeadTime).Methods(http.MethodGet)
	r.HandleFunc("/api/metrics/deployment-frequency", s.apiDeploymentFrequency).Methods(http.MethodGet)
	r.HandleFunc("/api/metrics/change-failure-rate", s.apiChangeFailureRate).Methods(http.MethodGet)
	r.HandleFunc("/api/metrics/time-to-restore", s.apiTimeToRestore).Methods(http.MethodGet)
	r.HandleFunc("/api/metrics/completion", s.apiCompletion).Methods(http.MethodGet)
	r.HandleFunc("/api/tickets/{id}/report-failure", s.apiReportFailure).Methods(http.MethodPost)

	// Server-Sent Events
	r.HandleFunc("/api/events", s.handleSSE).Methods(http.MethodGet)

	return s.withLogging(r)
}

// Start runs the server on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting board server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	// Signal streaming handlers to return. They close their own channels,
	// so Shutdown never races a handler's cleanup.
	s.shutdownOnce.Do(func() { close(s.done) })

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Broadcast sends an SSE event to all clients.
func (s *Server) Broadcast(event string) {
	s.sseMu.RLock()
	defer s.sseMu.RUnlock()

	for ch := range s.sseClients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip
		}
	}
}

// withLogging wraps a handler with request logging.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

// render executes a template.
func (s *Server) render(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("Template error", "template", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// jsonResponse writes a JSON response.
func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// jsonCreated writes a JSON response with a 201 status.
func (s *Server) jsonCreated(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

// jsonError writes a JSON error response.
func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// serviceError maps domain errors onto HTTP status codes: validation
// failures are 400, missing resources 404, everything else 500.
func (s *Server) serviceError(w http.ResponseWriter, err error) {
	var verr *board.ValidationError
	if errors.As(err, &verr) {
		s.jsonError(w, verr.Msg, http.StatusBadRequest)
		return
	}
	var nferr *board.NotFoundError
	if errors.As(err, &nferr) {
		s.jsonError(w, nferr.Error(), http.StatusNotFound)
		return
	}
	s.logger.Error("Request failed", "error", err)
	s.jsonError(w, "Internal server error", http.StatusInternalServerError)
}

// templateFuncs returns custom template functions.
func templateFuncs() template.FuncMap {
	titleCaser := cases.Title(language.English)
	return template.FuncMap{
		"timeAgo": func(t time.Time) string {
			d := time.Since(t)
			switch {
			case d < time.Minute:
				return "just now"
			case d < time.Hour:
				return fmt.Sprintf("%dm ago", int(d.Minutes()))
			case d < 24*time.Hour:
				return fmt.Sprintf("%dh ago", int(d.Hours()))
			default:
				return fmt.Sprintf("%dd ago", int(d.Hours()/24))
			}
		},
		"formatTime": func(t time.Time) string {
			if t.IsZero() {
				return "N/A"
			}
			return t.Format("Jan 2, 2006 15:04:05")
		},
		"formatTimePtr": func(t *time.Time) string {
			if t == nil {
				return "N/A"
			}
			return t.Format("Jan 2, 2006 15:04:05")
		},
		// Title case for state and priority labels.
		"title": func(s any) string {
			return titleCaser.String(fmt.Sprintf("%v", s))
		},
		"truncate": func(n int, s string) string {
			if len(s) <= n {
				return s
			}
			return s[:n] + "..."
		},
		"add": func(a, b int) int {
			return a + b
		},
		"priorityColor": func(p board.Priority) string {
			colors := map[board.Priority]string{
				board.PriorityLow:      "gray",
				board.PriorityMedium:   "blue",
				board.PriorityHigh:     "orange",
				board.PriorityCritical: "red",
			}
			if c, ok := colors[p]; ok {
				return c
			}
			return "gray"
		},
		"typeIcon": func(t board.Type) string {
			icons := map[board.Type]string{
				board.TypeBug:   "bug",
				board.TypeStory: "book-open",
				board.TypeTask:  "check-square",
				board.TypeSpike: "flask-conical",
			}
			if i, ok := icons[t]; ok {
				return i
			}
			return "file"
		},
		// Markdown rendering.
		"markdown": func(s string) template.HTML {
			var buf bytes.Buffer
			if err := goldmark.Convert([]byte(s), &buf); err != nil {
				return template.HTML(template.HTMLEscapeString(s))
			}
			return template.HTML(buf.String())
		},
	}
}
