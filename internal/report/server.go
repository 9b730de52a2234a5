package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psantana5/governor/internal/logging"
)

// HealthReporter is implemented by the supervisor's health check.
type HealthReporter interface {
	IsHealthy() bool
	Report() map[string]interface{}
}

// ServerConfig wires the endpoints of Server.
type ServerConfig struct {
	Addr     string
	Gatherer prometheus.Gatherer
	Health   HealthReporter
	Recent   *EnforcementLog
	Logger   *logging.Logger
}

// Server exposes /metrics, /healthz and /enforcements.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	logger     *logging.Logger
}

// NewServer builds the router. Nothing listens until Start.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewRouter(cfg.Gatherer, cfg.Health, cfg.Recent),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// NewRouter returns the HTTP handler used by Server.
func NewRouter(gatherer prometheus.Gatherer, health HealthReporter, recent *EnforcementLog) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		status := http.StatusOK
		body := map[string]interface{}{"status": "healthy"}
		if health != nil {
			body = health.Report()
			if !health.IsHealthy() {
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, body)
	}).Methods("GET")

	r.HandleFunc("/enforcements", func(w http.ResponseWriter, req *http.Request) {
		n := 0
		if v := req.URL.Query().Get("limit"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed < 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
				return
			}
			n = parsed
		}
		records := []Record{}
		if recent != nil {
			records = recent.GetRecent(n)
		}
		writeJSON(w, http.StatusOK, records)
	}).Methods("GET")

	return r
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.listener = ln
	s.logger.Info("metrics endpoint listening", logging.Fields{"addr": ln.Addr().String()})

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", logging.Fields{"error": err.Error()})
		}
	}()
	return nil
}

// Addr returns the bound address, useful with port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
