package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCounter(name string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "test",
		Name:      name,
		Help:      "test counter",
	})
}

func TestRegistry_Register(t *testing.T) {
	r := New()

	c := newCounter("moves_total")
	require.NoError(t, r.Register("test.moves", c))

	err := r.Register("test.moves", newCounter("other_total"))
	assert.True(t, errors.Is(err, ErrDuplicate))

	// Same metric name under a different key collides inside Prometheus.
	err = r.Register("test.moves2", newCounter("moves_total"))
	assert.True(t, errors.Is(err, ErrDuplicate))

	assert.True(t, r.Unregister("test.moves"))
	assert.False(t, r.Unregister("test.moves"))
}

func TestRegistry_Handler(t *testing.T) {
	r := New()
	c := newCounter("writes_total")
	require.NoError(t, r.Register("test.writes", c))
	c.Add(3)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "beamline_test_writes_total 3"))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}

func TestRegistry_Gatherer(t *testing.T) {
	r := New()
	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
