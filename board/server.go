/*
Copyright 2025 The Edward Authors. All Rights Reserved.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package board

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/edward-ml/edward/internal/logging"
)

//go:embed index.html
var indexHTML []byte

// Config configures a board server.
type Config struct {
	// Logdir is the directory runs are discovered under. Required.
	Logdir string
	// Addr is the listen address. Defaults to ":6006".
	Addr string
	// ReloadInterval is how often the log directory is rescanned.
	// Defaults to 30 seconds.
	ReloadInterval time.Duration
	// HistogramCap bounds retained histogram points per tag per run.
	// Defaults to 500.
	HistogramCap int
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":6006"
	}
	if c.ReloadInterval <= 0 {
		c.ReloadInterval = 30 * time.Second
	}
	if c.HistogramCap <= 0 {
		c.HistogramCap = 500
	}
	return c
}

// Server serves a log directory over HTTP: run metadata, scalar and
// histogram series, logged graphs, and websocket notifications when a
// reload finds new data.
type Server struct {
	cfg    Config
	mplex  *Multiplexer
	hub    *Hub
	router *mux.Router
	start  time.Time
}

// NewServer builds a server for the given configuration.
func NewServer(cfg Config) (*Server, error) {
	cfg = cfg.withDefaults()
	if cfg.Logdir == "" {
		return nil, errors.New("board: log directory required")
	}
	s := &Server{
		cfg:   cfg,
		mplex: NewMultiplexer(cfg.Logdir, cfg.HistogramCap),
		hub:   NewHub(),
		start: time.Now(),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods("GET")
	r.Handle("/ws", s.hub)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.loggingMiddleware, corsMiddleware, securityHeadersMiddleware)
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/logdir", s.handleLogdir).Methods("GET")
	api.HandleFunc("/runs", s.handleRuns).Methods("GET")
	api.HandleFunc("/scalars", s.handleScalars).Methods("GET")
	api.HandleFunc("/histograms", s.handleHistograms).Methods("GET")
	api.HandleFunc("/graph", s.handleGraph).Methods("GET")
	api.HandleFunc("/hparams", s.handleHparams).Methods("GET")
	api.HandleFunc("/reload", s.handleReload).Methods("POST")
	return r
}

// Handler returns the server's HTTP handler, for serving and for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Multiplexer returns the run index behind the server.
func (s *Server) Multiplexer() *Multiplexer { return s.mplex }

// Reload rescans the log directory and pushes the changes to websocket
// clients. It returns the number of changes.
func (s *Server) Reload() (int, error) {
	deltas, err := s.mplex.Reload()
	if err != nil {
		return 0, err
	}
	s.hub.Broadcast(deltas)
	return len(deltas), nil
}

// ListenAndServe loads the log directory, starts the periodic reload and
// the websocket hub, and serves until ctx is cancelled or the listener
// fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if _, err := s.Reload(); err != nil {
		return err
	}

	go s.hub.Run()
	defer s.hub.Stop()

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.ReloadInterval), func() {
		if _, err := s.Reload(); err != nil {
			logging.Error("scheduled reload failed", "error", err)
		}
	}); err != nil {
		return errors.Wrap(err, "schedule reload")
	}
	c.Start()
	defer c.Stop()

	// No blanket read/write timeouts: websocket connections are long
	// lived.
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	logging.ServerStartup(s.cfg.Addr, s.cfg.Logdir,
		"reload_interval", s.cfg.ReloadInterval.String(),
		"runs", len(s.mplex.Runs()))

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logging.HTTPRequest(r.Method, r.URL.Path, r.RemoteAddr, sw.status, time.Since(start))
	})
}

// statusWriter captures the response code for request logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
