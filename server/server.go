// Package server exposes report submission and the feature-cache maintenance
// endpoints over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reportdedup/featurecache"
	"reportdedup/logging"
	"reportdedup/workflow"
)

// Config holds HTTP server configuration
type Config struct {
	ListenAddr     string
	AdminToken     string
	ImageDir       string
	CORSOrigins    []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxUploadBytes int64
}

// CacheAdmin is the maintenance surface of the matcher
type CacheAdmin interface {
	ClearFeaturesCache()
	CacheStats() featurecache.Stats
}

// Submitter runs the report submission workflow
type Submitter interface {
	SubmitReport(ctx context.Context, sub workflow.Submission) (*workflow.Result, error)
}

// Server wraps a chi router and its http.Server settings
type Server struct {
	router    chi.Router
	cfg       Config
	cache     CacheAdmin
	submitter Submitter
}

// New builds the router. gatherer may be nil to leave /metrics out.
func New(cfg Config, cache CacheAdmin, submitter Submitter, gatherer prometheus.Gatherer) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if cache == nil || submitter == nil {
		return nil, fmt.Errorf("server needs a cache admin and a submitter")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// a check may fetch and score many candidate images
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}

	s := &Server{
		router:    chi.NewRouter(),
		cfg:       cfg,
		cache:     cache,
		submitter: submitter,
	}

	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(corsMiddleware(cfg.CORSOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, "ok", nil)
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.adminAuth)
		r.Get("/cache", s.handleCacheStats)
		r.Delete("/cache", s.handleCacheClear)
	})

	r.Post("/reports", s.handleSubmitReport)

	if cfg.ImageDir != "" {
		r.Handle("/images/*", http.StripPrefix("/images/", http.FileServer(fileOnlyFS{http.Dir(cfg.ImageDir)})))
	}

	return s, nil
}

// Handler returns the underlying http.Handler for testing
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until ctx is canceled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.ListenAddr, err)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logging.LogInfo("Listening on %s", ln.Addr())

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	return <-errCh
}

// fileOnlyFS serves stored images by name and hides directories, so the
// image store cannot be listed
type fileOnlyFS struct {
	fs http.FileSystem
}

func (f fileOnlyFS) Open(name string) (http.File, error) {
	file, err := f.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}
	if info.IsDir() {
		file.Close()
		return nil, os.ErrNotExist
	}
	return file, nil
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", adminTokenHeader},
		MaxAge:         300,
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logging.DebugLog("%s %s -> %d in %v", r.Method, r.URL.Path, ww.Status(), time.Since(start))
	})
}
