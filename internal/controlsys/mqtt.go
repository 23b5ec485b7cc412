package controlsys

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/nerrad567/beamline-core/internal/infrastructure/mqtt"
)

// Broker is the part of mqtt.Client the gateway client needs.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	PublishJSON(topic string, v any, retained bool) error
	IsConnected() bool
	AddConnectionListener(fn func(connected bool))
	Topics() mqtt.Topics
	QoS() byte
}

// ValueMessage is the retained payload the gateway publishes per address.
type ValueMessage struct {
	Value     any  `json:"value"`
	Connected bool `json:"connected"`
}

// PutMessage asks the gateway to write a value.
type PutMessage struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}

// AckMessage is the gateway's answer to a PutMessage.
type AckMessage struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
}

// MQTTClient reaches the control system through an MQTT PV gateway.
//
// Each address is subscribed once no matter how many channels are open
// on it; the subscription is dropped when the last channel closes.
type MQTTClient struct {
	broker Broker

	mu   sync.Mutex
	pvs  map[string]*pvState
	acks map[string]chan int
}

type pvState struct {
	address  string
	value    any
	hasValue bool
	// pvUp is the gateway's own view of the PV connection.
	pvUp     bool
	ready    chan struct{}
	channels map[*mqttChannel]struct{}
	// closing is set while the last channel's unsubscribe is in flight;
	// it is closed once the address may be subscribed again.
	closing chan struct{}
}

// NewMQTTClient creates a gateway client on an already connected broker.
func NewMQTTClient(broker Broker) *MQTTClient {
	c := &MQTTClient{
		broker: broker,
		pvs:    make(map[string]*pvState),
		acks:   make(map[string]chan int),
	}
	broker.AddConnectionListener(c.onBrokerConnection)
	return c
}

// Open implements Client.
func (c *MQTTClient) Open(address string, monitor *Monitor) (Channel, error) {
	ch := &mqttChannel{client: c, address: address, monitor: monitor}
	if monitor != nil {
		ch.queue = newSerialQueue()
	}

	c.mu.Lock()
	pv, exists := c.pvs[address]
	for exists && pv.closing != nil {
		wait := pv.closing
		c.mu.Unlock()
		<-wait
		c.mu.Lock()
		pv, exists = c.pvs[address]
	}
	if !exists {
		pv = &pvState{
			address:  address,
			ready:    make(chan struct{}),
			channels: make(map[*mqttChannel]struct{}),
		}
		c.pvs[address] = pv
	}
	pv.channels[ch] = struct{}{}
	c.mu.Unlock()

	if !exists {
		if err := c.subscribe(address); err != nil {
			c.release(ch)
			if ch.queue != nil {
				ch.queue.close()
			}
			return nil, err
		}
	}

	if monitor != nil {
		c.mu.Lock()
		connected := c.broker.IsConnected() && pv.pvUp
		value, hasValue := pv.value, pv.hasValue
		c.mu.Unlock()
		ch.push(func() { monitor.connection(connected) })
		if connected && hasValue {
			ch.push(func() { monitor.value(value) })
		}
	}
	return ch, nil
}

func (c *MQTTClient) subscribe(address string) error {
	topics := c.broker.Topics()
	qos := c.broker.QoS()
	if err := c.broker.Subscribe(topics.PVValue(address), qos, func(_ string, payload []byte) error {
		return c.onValue(address, payload)
	}); err != nil {
		return fmt.Errorf("subscribing to %s: %w", address, err)
	}
	if err := c.broker.Subscribe(topics.PVAck(address), qos, c.onAck); err != nil {
		_ = c.broker.Unsubscribe(topics.PVValue(address)) //nolint:errcheck // best effort
		return fmt.Errorf("subscribing to %s acks: %w", address, err)
	}
	return nil
}

func (c *MQTTClient) onValue(address string, payload []byte) error {
	var msg ValueMessage
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		return fmt.Errorf("decoding value for %s: %w", address, err)
	}
	value := decodeNumber(msg.Value)

	c.mu.Lock()
	pv, ok := c.pvs[address]
	if !ok {
		c.mu.Unlock()
		return nil
	}
	changed := pv.pvUp != msg.Connected
	pv.pvUp = msg.Connected
	if value != nil {
		pv.value = value
		if !pv.hasValue {
			pv.hasValue = true
			close(pv.ready)
		}
	}
	channels := pv.snapshot()
	c.mu.Unlock()

	for _, ch := range channels {
		ch := ch
		if changed {
			ch.push(func() { ch.monitor.connection(msg.Connected) })
		}
		if msg.Connected {
			ch.push(func() { ch.monitor.value(value) })
		}
	}
	return nil
}

func (c *MQTTClient) onAck(_ string, payload []byte) error {
	var ack AckMessage
	if err := json.Unmarshal(payload, &ack); err != nil {
		return fmt.Errorf("decoding ack: %w", err)
	}

	c.mu.Lock()
	waiter, ok := c.acks[ack.ID]
	delete(c.acks, ack.ID)
	c.mu.Unlock()

	if ok {
		waiter <- ack.Status
	}
	return nil
}

func (c *MQTTClient) onBrokerConnection(connected bool) {
	c.mu.Lock()
	var channels []*mqttChannel
	for _, pv := range c.pvs {
		if !pv.pvUp {
			continue
		}
		channels = append(channels, pv.snapshot()...)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		ch := ch
		ch.push(func() { ch.monitor.connection(connected) })
	}
}

func (pv *pvState) snapshot() []*mqttChannel {
	out := make([]*mqttChannel, 0, len(pv.channels))
	for ch := range pv.channels {
		if ch.monitor != nil {
			out = append(out, ch)
		}
	}
	return out
}

func (c *MQTTClient) release(ch *mqttChannel) {
	c.mu.Lock()
	pv, ok := c.pvs[ch.address]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(pv.channels, ch)
	if len(pv.channels) > 0 || pv.closing != nil {
		c.mu.Unlock()
		return
	}
	// Opens on this address wait until the unsubscribe is done, so it
	// cannot drop a newer subscription.
	pv.closing = make(chan struct{})
	c.mu.Unlock()

	topics := c.broker.Topics()
	_ = c.broker.Unsubscribe(topics.PVValue(ch.address)) //nolint:errcheck // nothing to do on failure
	_ = c.broker.Unsubscribe(topics.PVAck(ch.address))   //nolint:errcheck // nothing to do on failure

	c.mu.Lock()
	if c.pvs[ch.address] == pv {
		delete(c.pvs, ch.address)
	}
	close(pv.closing)
	c.mu.Unlock()
}

func (c *MQTTClient) connected(address string) bool {
	if !c.broker.IsConnected() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	pv, ok := c.pvs[address]
	return ok && pv.pvUp
}

func (c *MQTTClient) get(ctx context.Context, address string) (any, error) {
	c.mu.Lock()
	pv, ok := c.pvs[address]
	c.mu.Unlock()
	if !ok {
		return nil, ErrClosed
	}

	select {
	case <-pv.ready:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %s: %w", ErrNoValue, address, ctx.Err())
	}

	if !c.connected(address) {
		return nil, ErrDisconnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return pv.value, nil
}

func (c *MQTTClient) put(ctx context.Context, address string, value any) error {
	if !c.broker.IsConnected() {
		return ErrDisconnected
	}

	id := uuid.NewString()
	waiter := make(chan int, 1)
	c.mu.Lock()
	c.acks[id] = waiter
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.acks, id)
		c.mu.Unlock()
	}

	if err := c.broker.PublishJSON(c.broker.Topics().PVPut(address), PutMessage{ID: id, Value: value}, false); err != nil {
		forget()
		return fmt.Errorf("%w: %w", ErrDisconnected, err)
	}

	select {
	case status := <-waiter:
		if status != StatusNormal {
			return fmt.Errorf("%w: status=%d", ErrPutRejected, status)
		}
		return nil
	case <-ctx.Done():
		forget()
		return fmt.Errorf("waiting for ack on %s: %w", address, ctx.Err())
	}
}

// decodeNumber turns json.Number into int64 or float64, recursively for arrays.
func decodeNumber(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64() //nolint:errcheck // json.Number is always a valid float literal
		return f
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = decodeNumber(e)
		}
		return normalize(out)
	default:
		return v
	}
}

type mqttChannel struct {
	client  *MQTTClient
	address string
	monitor *Monitor
	queue   *serialQueue

	mu     sync.Mutex
	closed bool
}

func (ch *mqttChannel) push(fn func()) {
	if ch.queue != nil {
		ch.queue.push(fn)
	}
}

func (ch *mqttChannel) isClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func (ch *mqttChannel) Get(ctx context.Context) (any, error) {
	if ch.isClosed() {
		return nil, ErrClosed
	}
	return ch.client.get(ctx, ch.address)
}

func (ch *mqttChannel) Put(ctx context.Context, value any) error {
	if ch.isClosed() {
		return ErrClosed
	}
	return ch.client.put(ctx, ch.address, value)
}

func (ch *mqttChannel) Connected() bool {
	return !ch.isClosed() && ch.client.connected(ch.address)
}

func (ch *mqttChannel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	ch.mu.Unlock()

	ch.client.release(ch)
	if ch.queue != nil {
		ch.queue.close()
	}
	return nil
}
