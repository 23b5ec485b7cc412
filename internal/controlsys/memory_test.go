package controlsys

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects monitor callbacks in order.
type recorder struct {
	mu     sync.Mutex
	events []any
	signal chan struct{}
}

func newRecorder() *recorder {
	return &recorder{signal: make(chan struct{}, 100)}
}

func (r *recorder) monitor() *Monitor {
	return &Monitor{
		OnValue: func(v any) { r.add(v) },
		OnConnection: func(c bool) {
			if c {
				r.add("conn")
			} else {
				r.add("disconn")
			}
		},
	}
}

func (r *recorder) add(e any) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

// waitFor blocks until n events have been recorded.
func (r *recorder) waitFor(t *testing.T, n int) []any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		if len(r.events) >= n {
			out := append([]any(nil), r.events...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		select {
		case <-r.signal:
		case <-deadline:
			t.Fatalf("timed out waiting for %d events", n)
		}
	}
}

func TestMemory_GetPut(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ch, err := m.Open("YAG:IN20:241:N_OF_ROW", nil)
	require.NoError(t, err)

	_, err = ch.Get(ctx)
	assert.True(t, errors.Is(err, ErrNoValue))

	m.Set("YAG:IN20:241:N_OF_ROW", 100)
	v, err := ch.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), v)

	require.NoError(t, ch.Put(ctx, 3.5))
	assert.Equal(t, []any{3.5}, m.Puts("YAG:IN20:241:N_OF_ROW"))

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	_, err = ch.Get(ctx)
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(ch.Put(ctx, 1), ErrClosed))
	assert.Equal(t, 0, m.OpenChannels("YAG:IN20:241:N_OF_ROW"))
}

func TestMemory_MonitorInitialThenUpdates(t *testing.T) {
	m := NewMemory()
	m.Set("TGT_STS", 1)

	r := newRecorder()
	ch, err := m.Open("TGT_STS", r.monitor())
	require.NoError(t, err)
	defer ch.Close()

	m.Set("TGT_STS", 2)
	assert.Equal(t, []any{"conn", int64(1), int64(2)}, r.waitFor(t, 3))
}

func TestMemory_OpenDuringSetsKeepsOrder(t *testing.T) {
	const last = 200
	m := NewMemory()
	m.Set("TGT_STS", 0)

	type seen struct {
		mu     sync.Mutex
		values []int64
	}
	var (
		wg       sync.WaitGroup
		channels []Channel
		results  []*seen
		mu       sync.Mutex
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= last; i++ {
			m.Set("TGT_STS", i)
		}
	}()
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := &seen{}
			ch, err := m.Open("TGT_STS", &Monitor{OnValue: func(v any) {
				s.mu.Lock()
				s.values = append(s.values, v.(int64))
				s.mu.Unlock()
			}})
			assert.NoError(t, err)
			mu.Lock()
			channels = append(channels, ch)
			results = append(results, s)
			mu.Unlock()
		}()
	}
	wg.Wait()
	defer func() {
		for _, ch := range channels {
			ch.Close()
		}
	}()

	for i, s := range results {
		deadline := time.Now().Add(2 * time.Second)
		for {
			s.mu.Lock()
			values := append([]int64(nil), s.values...)
			s.mu.Unlock()
			if n := len(values); n > 0 && values[n-1] == last {
				for j := 1; j < n; j++ {
					require.Greater(t, values[j], values[j-1], "channel %d saw %v", i, values)
				}
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("channel %d never settled on %d: %v", i, last, values)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestMemory_MonitorWithoutValue(t *testing.T) {
	m := NewMemory()
	r := newRecorder()
	ch, err := m.Open("SILENT", r.monitor())
	require.NoError(t, err)
	defer ch.Close()

	assert.Equal(t, []any{"conn"}, r.waitFor(t, 1))
}

func TestMemory_LinkMirrorsPut(t *testing.T) {
	m := NewMemory()
	m.Link("PNEUMATIC", "TGT_STS", func(v any) any {
		if v == int64(0) {
			return 1
		}
		return 2
	})

	r := newRecorder()
	sts, err := m.Open("TGT_STS", r.monitor())
	require.NoError(t, err)
	defer sts.Close()

	ctl, err := m.Open("PNEUMATIC", nil)
	require.NoError(t, err)
	defer ctl.Close()

	require.NoError(t, ctl.Put(context.Background(), 1))
	assert.Equal(t, []any{"conn", int64(2)}, r.waitFor(t, 2))

	require.NoError(t, ctl.Put(context.Background(), 0))
	assert.Equal(t, int64(1), r.waitFor(t, 3)[2])
}

func TestMemory_FailuresAndConnection(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.Set("ACQ", false)

	r := newRecorder()
	ch, err := m.Open("ACQ", r.monitor())
	require.NoError(t, err)
	defer ch.Close()
	r.waitFor(t, 2)

	m.FailPuts("ACQ", 0)
	assert.True(t, errors.Is(ch.Put(ctx, true), ErrPutRejected))
	m.FailPuts("ACQ", StatusNormal)
	assert.NoError(t, ch.Put(ctx, true))

	m.SetConnected("ACQ", false)
	assert.False(t, ch.Connected())
	assert.True(t, errors.Is(ch.Put(ctx, true), ErrDisconnected))
	_, err = ch.Get(ctx)
	assert.True(t, errors.Is(err, ErrDisconnected))

	events := r.waitFor(t, 4)
	assert.Equal(t, "disconn", events[3])
}

func TestMemory_NoCallbacksAfterClose(t *testing.T) {
	m := NewMemory()
	r := newRecorder()
	ch, err := m.Open("X", r.monitor())
	require.NoError(t, err)
	r.waitFor(t, 1)

	require.NoError(t, ch.Close())
	m.Set("X", 5)
	time.Sleep(50 * time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Len(t, r.events, 1)
}

func TestParseValueType(t *testing.T) {
	for _, s := range []string{"bool", "int", "float", "array"} {
		vt, err := ParseValueType(s)
		require.NoError(t, err)
		assert.Equal(t, s, string(vt))
	}
	_, err := ParseValueType("string")
	assert.Error(t, err)

	assert.True(t, TypeInt.Scalar())
	assert.False(t, TypeArray.Scalar())
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, int64(3), normalize(3))
	assert.Equal(t, []float64{1, 2.5, 1}, normalize([]any{1, 2.5, true}))
	assert.Equal(t, []float64{4, 5}, normalize([]int{4, 5}))
	assert.Equal(t, "x", normalize("x"))
}

func TestImageAt(t *testing.T) {
	img := Image{Rows: 2, Cols: 3, Data: []float64{0, 1, 2, 3, 4, 5}}
	assert.Equal(t, 5.0, img.At(1, 2))
	assert.Equal(t, 3.0, img.At(1, 0))
}
