// Package telemetry exposes live load run metrics to Prometheus.
package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/wesleyorama2/surge/internal/load/metrics"
)

// Collector records virtual user activity as Prometheus metrics. It
// implements metrics.Observer.
type Collector struct {
	registry *prometheus.Registry

	DispatchedUsers *prometheus.CounterVec
	ActiveUsers     *prometheus.GaugeVec
	Runs            *prometheus.CounterVec
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Checks          *prometheus.CounterVec
}

var _ metrics.Observer = (*Collector)(nil)

// NewCollector creates a collector registered on its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		DispatchedUsers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surge_virtual_users_dispatched_total",
				Help: "Total number of virtual users handed to a worker",
			},
			[]string{"scenario"},
		),
		ActiveUsers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "surge_virtual_users_active",
				Help: "Number of virtual users currently running",
			},
			[]string{"scenario"},
		),
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surge_virtual_user_runs_total",
				Help: "Total number of finished virtual user runs by final status",
			},
			[]string{"scenario", "status"},
		),
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surge_requests_total",
				Help: "Total number of requests by status code or transport error kind",
			},
			[]string{"scenario", "request", "outcome"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "surge_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"scenario", "request"},
		),
		Checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "surge_checks_total",
				Help: "Total number of evaluated checks",
			},
			[]string{"scenario", "check", "result"},
		),
	}
}

// Registry returns the registry the collector's metrics live in.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Dispatched implements metrics.Observer.
func (c *Collector) Dispatched(scenario string) {
	c.DispatchedUsers.WithLabelValues(scenario).Inc()
	c.ActiveUsers.WithLabelValues(scenario).Inc()
}

// Recorded implements metrics.Observer.
func (c *Collector) Recorded(run *metrics.RunRecord) {
	c.ActiveUsers.WithLabelValues(run.Scenario).Dec()
	c.Runs.WithLabelValues(run.Scenario, run.Status.String()).Inc()

	for _, r := range run.Requests {
		outcome := string(r.ErrorKind)
		if !r.Failed() {
			outcome = strconv.Itoa(r.StatusCode)
			c.RequestDuration.WithLabelValues(run.Scenario, r.Name).Observe(r.Duration.Seconds())
		}
		c.Requests.WithLabelValues(run.Scenario, r.Name, outcome).Inc()
	}

	for _, chk := range run.Checks {
		result := "passed"
		if !chk.Passed {
			result = "failed"
		}
		c.Checks.WithLabelValues(run.Scenario, chk.Check, result).Inc()
	}
}

// Handler serves the collector's metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Server serves /metrics until its context is cancelled.
type Server struct {
	srv      *http.Server
	listener net.Listener
	log      zerolog.Logger
}

// Listen binds addr and prepares a server for c. Use ":0" for a random port.
func Listen(addr string, c *Collector, log zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	return &Server{
		srv:      &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listener: ln,
		log:      log,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks until ctx is done, then shuts the server down.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.Addr()).Msg("serving metrics")
		errCh <- s.srv.Serve(s.listener)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
