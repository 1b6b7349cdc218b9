// Package api serves the REST surface used by the web form and by scripts.
package api

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"wohnwatch/models"
	"wohnwatch/scraper"
	"wohnwatch/services"
	"wohnwatch/storage"
	"wohnwatch/workers"
)

// Searches is the part of the search service exposed over HTTP.
type Searches interface {
	Create(ctx context.Context, in services.CreateSearchInput) (*models.Search, error)
	List() []models.Search
	Toggle(ctx context.Context, id string) (*models.Search, error)
	Poll(ctx context.Context, id string) (*models.PollResult, error)
}

// Providers lists the registry.
type Providers interface {
	All() []scraper.Provider
}

// ProbeReporter exposes the latest provider probe results.
type ProbeReporter interface {
	Results() []workers.ProbeResult
}

type Server struct {
	searches  Searches
	providers Providers
	probe     ProbeReporter
	commands  storage.CommandQueue
	staticDir string
}

func NewServer(searches Searches, providers Providers) *Server {
	return &Server{searches: searches, providers: providers}
}

// SetProbe enables GET /api/providers/status.
func (s *Server) SetProbe(p ProbeReporter) {
	s.probe = p
}

// SetCommandQueue enables POST /api/commands.
func (s *Server) SetCommandQueue(q storage.CommandQueue) {
	s.commands = q
}

// SetStaticDir serves dir at / when it exists.
func (s *Server) SetStaticDir(dir string) {
	s.staticDir = dir
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	a := r.PathPrefix("/api").Subrouter()
	a.Use(mux.CORSMethodMiddleware(a))
	a.Use(corsMiddleware)
	a.NotFoundHandler = http.HandlerFunc(notFound)
	a.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	a.HandleFunc("/providers", s.handleProviders).Methods(http.MethodGet, http.MethodOptions)
	a.HandleFunc("/providers/status", s.handleProviderStatus).Methods(http.MethodGet, http.MethodOptions)
	a.HandleFunc("/searches", s.handleListSearches).Methods(http.MethodGet, http.MethodOptions)
	a.HandleFunc("/searches", s.handleCreateSearch).Methods(http.MethodPost, http.MethodOptions)
	a.HandleFunc("/searches/{id}/toggle", s.handleToggleSearch).Methods(http.MethodPost, http.MethodOptions)
	a.HandleFunc("/searches/{id}/results", s.handleResults).Methods(http.MethodGet, http.MethodOptions)
	a.HandleFunc("/commands", s.handleEnqueueCommand).Methods(http.MethodPost, http.MethodOptions)

	if s.staticDir != "" {
		if info, err := os.Stat(s.staticDir); err == nil && info.IsDir() {
			r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))
		} else {
			log.Printf("Static directory %s not found, serving API only", s.staticDir)
		}
	}
	r.NotFoundHandler = http.HandlerFunc(notFound)

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
