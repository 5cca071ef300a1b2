package metric

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360/telemetryd/errors"
)

// HealthProvider reports overall process health plus a detail document for
// the /health response body. Wired to the service manager's aggregate view.
type HealthProvider func() (healthy bool, detail any)

// Server exposes the metrics registry and a health endpoint over HTTP.
type Server struct {
	addr     string
	path     string
	registry *MetricsRegistry
	health   HealthProvider

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// NewServer creates a metrics server bound to addr (host:port). The health
// provider may be nil, in which case /health always reports OK.
func NewServer(addr string, registry *MetricsRegistry, health HealthProvider) *Server {
	return &Server{
		addr:     addr,
		path:     "/metrics",
		registry: registry,
		health:   health,
	}
}

// Start binds the listener and begins serving in the background. Bind errors
// are returned synchronously so a bad --metrics-addr fails startup.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "MetricServer", "Start", "start server")
	}
	if s.registry == nil {
		return errors.WrapFatal(errors.ErrMissingConfig, "MetricServer", "Start", "metrics registry not provided")
	}

	mux := http.NewServeMux()

	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	))

	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<html>
<head><title>telemetryd</title></head>
<body>
<h1>telemetryd</h1>
<p><a href="%s">Metrics</a></p>
<p><a href="/health">Health</a></p>
</body>
</html>`, s.path)
	})

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.WrapFatal(err, "MetricServer", "Start",
			fmt.Sprintf("bind %s", s.addr))
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		// http.ErrServerClosed is the normal shutdown path
		_ = s.server.Serve(listener)
	}()

	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	healthy := true
	var detail any
	if s.health != nil {
		healthy, detail = s.health()
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"healthy": healthy,
		"detail":  detail,
	})
}

// Stop shuts the server down, waiting up to timeout for in-flight requests.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := s.server.Shutdown(ctx)
	s.server = nil
	s.listener = nil
	if err != nil {
		return errors.WrapTransient(err, "MetricServer", "Stop", "shutdown HTTP server")
	}
	return nil
}

// Address returns the bound address, useful when the port was chosen by the
// OS (addr ":0" in tests).
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}
