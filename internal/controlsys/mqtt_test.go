package controlsys

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/beamline-core/internal/infrastructure/mqtt"
)

// fakeBroker records subscriptions and publishes in memory.
type fakeBroker struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published chan published
	listeners []func(bool)
	connected bool
	ackStatus int
	autoAck   bool

	// When holdUnsub is set, Unsubscribe signals unsubStarted and waits
	// for holdUnsub to be closed.
	holdUnsub    chan struct{}
	unsubStarted chan string
}

type published struct {
	topic   string
	payload []byte
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		handlers:  make(map[string]mqtt.MessageHandler),
		published: make(chan published, 16),
		connected: true,
		ackStatus: StatusNormal,
		autoAck:   true,
	}
}

func (b *fakeBroker) Subscribe(topic string, _ byte, h mqtt.MessageHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = h
	return nil
}

func (b *fakeBroker) Unsubscribe(topic string) error {
	b.mu.Lock()
	hold, started := b.holdUnsub, b.unsubStarted
	b.mu.Unlock()
	if hold != nil {
		started <- topic
		<-hold
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, topic)
	return nil
}

func (b *fakeBroker) PublishJSON(topic string, v any, _ bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	b.published <- published{topic: topic, payload: payload}

	b.mu.Lock()
	autoAck, status := b.autoAck, b.ackStatus
	b.mu.Unlock()
	if put, ok := v.(PutMessage); ok && autoAck {
		ack, _ := json.Marshal(AckMessage{ID: put.ID, Status: status}) //nolint:errcheck // test
		go b.deliver(topic[:len(topic)-len("/put")]+"/ack", ack)
	}
	return nil
}

func (b *fakeBroker) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) AddConnectionListener(fn func(bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

func (b *fakeBroker) Topics() mqtt.Topics { return mqtt.Topics{Prefix: "test"} }

func (b *fakeBroker) QoS() byte { return 1 }

func (b *fakeBroker) deliver(topic string, payload []byte) {
	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()
	if h != nil {
		_ = h(topic, payload) //nolint:errcheck // test
	}
}

func (b *fakeBroker) setConnected(c bool) {
	b.mu.Lock()
	b.connected = c
	listeners := slices.Clone(b.listeners)
	b.mu.Unlock()
	for _, fn := range listeners {
		fn(c)
	}
}

func (b *fakeBroker) subscribed(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[topic]
	return ok
}

func TestMQTTClient_ValueAndMonitor(t *testing.T) {
	b := newFakeBroker()
	c := NewMQTTClient(b)

	r := newRecorder()
	ch, err := c.Open("YAG:TGT_STS", r.monitor())
	require.NoError(t, err)
	assert.True(t, b.subscribed("test/pv/YAG:TGT_STS"))
	assert.True(t, b.subscribed("test/pv/YAG:TGT_STS/ack"))

	// No gateway value yet: the channel reports disconnected.
	assert.Equal(t, []any{"disconn"}, r.waitFor(t, 1))

	b.deliver("test/pv/YAG:TGT_STS", []byte(`{"value":2,"connected":true}`))
	assert.Equal(t, []any{"disconn", "conn", int64(2)}, r.waitFor(t, 3))

	v, err := ch.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
	assert.True(t, ch.Connected())

	b.deliver("test/pv/YAG:TGT_STS", []byte(`{"value":[1,2.5],"connected":true}`))
	assert.Equal(t, []float64{1, 2.5}, r.waitFor(t, 4)[3])

	require.NoError(t, ch.Close())
	assert.False(t, b.subscribed("test/pv/YAG:TGT_STS"))
	assert.False(t, b.subscribed("test/pv/YAG:TGT_STS/ack"))
}

func TestMQTTClient_SecondChannelSeesCachedValue(t *testing.T) {
	b := newFakeBroker()
	c := NewMQTTClient(b)

	first, err := c.Open("N_OF_ROW", nil)
	require.NoError(t, err)
	b.deliver("test/pv/N_OF_ROW", []byte(`{"value":480,"connected":true}`))

	r := newRecorder()
	second, err := c.Open("N_OF_ROW", r.monitor())
	require.NoError(t, err)
	assert.Equal(t, []any{"conn", int64(480)}, r.waitFor(t, 2))

	require.NoError(t, first.Close())
	assert.True(t, b.subscribed("test/pv/N_OF_ROW"), "subscription kept while a channel is open")
	require.NoError(t, second.Close())
	assert.False(t, b.subscribed("test/pv/N_OF_ROW"))
}

func TestMQTTClient_ReopenDuringUnsubscribe(t *testing.T) {
	b := newFakeBroker()
	hold := make(chan struct{})
	b.holdUnsub = hold
	b.unsubStarted = make(chan string, 4)
	c := NewMQTTClient(b)

	first, err := c.Open("YAG:TGT_STS", nil)
	require.NoError(t, err)

	closed := make(chan struct{})
	go func() {
		first.Close() //nolint:errcheck // test
		close(closed)
	}()
	assert.Equal(t, "test/pv/YAG:TGT_STS", <-b.unsubStarted)

	r := newRecorder()
	opened := make(chan Channel, 1)
	go func() {
		ch, err := c.Open("YAG:TGT_STS", r.monitor())
		assert.NoError(t, err)
		opened <- ch
	}()

	select {
	case <-opened:
		t.Fatal("Open returned while the previous unsubscribe was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	b.mu.Lock()
	b.holdUnsub = nil
	b.mu.Unlock()
	close(hold)
	<-closed

	second := <-opened
	defer second.Close()
	assert.True(t, b.subscribed("test/pv/YAG:TGT_STS"), "value topic subscribed after reopen")
	assert.True(t, b.subscribed("test/pv/YAG:TGT_STS/ack"))

	b.deliver("test/pv/YAG:TGT_STS", []byte(`{"value":1,"connected":true}`))
	assert.Equal(t, []any{"disconn", "conn", int64(1)}, r.waitFor(t, 3))
}

func TestMQTTClient_GetTimesOutWithoutValue(t *testing.T) {
	b := newFakeBroker()
	c := NewMQTTClient(b)

	ch, err := c.Open("SILENT", nil)
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = ch.Get(ctx)
	assert.True(t, errors.Is(err, ErrNoValue))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestMQTTClient_Put(t *testing.T) {
	b := newFakeBroker()
	c := NewMQTTClient(b)

	ch, err := c.Open("PNEUMATIC", nil)
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ch.Put(ctx, 1))

	msg := <-b.published
	assert.Equal(t, "test/pv/PNEUMATIC/put", msg.topic)
	var put PutMessage
	require.NoError(t, json.Unmarshal(msg.payload, &put))
	assert.NotEmpty(t, put.ID)
	assert.Equal(t, float64(1), put.Value)
}

func TestMQTTClient_PutRejected(t *testing.T) {
	b := newFakeBroker()
	b.ackStatus = 0
	c := NewMQTTClient(b)

	ch, err := c.Open("PNEUMATIC", nil)
	require.NoError(t, err)
	defer ch.Close()

	err = ch.Put(context.Background(), 1)
	assert.True(t, errors.Is(err, ErrPutRejected))
}

func TestMQTTClient_PutWithoutAckTimesOut(t *testing.T) {
	b := newFakeBroker()
	b.autoAck = false
	c := NewMQTTClient(b)

	ch, err := c.Open("PNEUMATIC", nil)
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = ch.Put(ctx, 0)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.acks)
}

func TestMQTTClient_BrokerDisconnect(t *testing.T) {
	b := newFakeBroker()
	c := NewMQTTClient(b)

	r := newRecorder()
	ch, err := c.Open("TGT_STS", r.monitor())
	require.NoError(t, err)
	defer ch.Close()
	b.deliver("test/pv/TGT_STS", []byte(`{"value":1,"connected":true}`))
	r.waitFor(t, 3)

	b.setConnected(false)
	assert.Equal(t, "disconn", r.waitFor(t, 4)[3])
	assert.False(t, ch.Connected())
	assert.True(t, errors.Is(ch.Put(context.Background(), 1), ErrDisconnected))
}

func TestMQTTClient_ClosedChannel(t *testing.T) {
	c := NewMQTTClient(newFakeBroker())
	ch, err := c.Open("X", nil)
	require.NoError(t, err)
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	_, err = ch.Get(context.Background())
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(ch.Put(context.Background(), 1), ErrClosed))
}
