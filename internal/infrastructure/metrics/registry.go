// Package metrics owns the Prometheus registry for Beamline Core.
//
// Components build their own collectors and register them here; the API
// server exposes the result on the configured metrics path.
package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "beamline"

// ErrDuplicate is returned when a component registers the same metric name twice.
var ErrDuplicate = errors.New("metrics: already registered")

// Registry wraps a private prometheus.Registry with Go runtime and process
// collectors pre-registered.
type Registry struct {
	reg *prometheus.Registry

	mu    sync.Mutex
	names map[string]prometheus.Collector
}

// New creates a registry with runtime collectors.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Registry{
		reg:   reg,
		names: make(map[string]prometheus.Collector),
	}
}

// Register adds a collector under a component-scoped name such as
// "screen.moves". Registering the same name twice returns ErrDuplicate.
func (r *Registry) Register(name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}

	if err := r.reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return fmt.Errorf("%w: %s: %w", ErrDuplicate, name, err)
		}
		return fmt.Errorf("registering %s: %w", name, err)
	}

	r.names[name] = c
	return nil
}

// Unregister removes a collector previously added with Register.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.names[name]
	if !ok {
		return false
	}
	delete(r.names, name)
	return r.reg.Unregister(c)
}

// Gatherer exposes the underlying registry for tests and custom handlers.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler returns the HTTP handler serving the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{
		Registry: r.reg,
	})
}
