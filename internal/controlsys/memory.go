package controlsys

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an in-process control system. Values set on an address are
// delivered to every monitoring channel; links mirror writes on one
// address onto another, the way a pneumatic actuator drives its status
// readback.
type Memory struct {
	mu           sync.Mutex
	values       map[string]any
	channels     map[string]map[*memChannel]struct{}
	links        map[string]memLink
	putStatus    map[string]int
	disconnected map[string]bool
	puts         map[string][]any
	opens        map[string]int
}

type memLink struct {
	to string
	fn func(any) any
}

// NewMemory returns an empty simulator.
func NewMemory() *Memory {
	return &Memory{
		values:       make(map[string]any),
		channels:     make(map[string]map[*memChannel]struct{}),
		links:        make(map[string]memLink),
		putStatus:    make(map[string]int),
		disconnected: make(map[string]bool),
		puts:         make(map[string][]any),
		opens:        make(map[string]int),
	}
}

// Set stores value for address and notifies monitors. Notifications are
// queued under the lock so every monitor sees values in Set order.
func (m *Memory) Set(address string, value any) {
	value = normalize(value)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[address] = value
	for _, ch := range m.monitorsLocked(address) {
		ch.deliverValue(value)
	}
}

// Value returns the current value for address.
func (m *Memory) Value(address string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[address]
	return v, ok
}

// Link makes every successful put on from also Set to with fn(value).
func (m *Memory) Link(from, to string, fn func(any) any) {
	m.mu.Lock()
	m.links[from] = memLink{to: to, fn: fn}
	m.mu.Unlock()
}

// FailPuts makes puts on address return status instead of StatusNormal.
// Pass StatusNormal to clear.
func (m *Memory) FailPuts(address string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status == StatusNormal {
		delete(m.putStatus, address)
		return
	}
	m.putStatus[address] = status
}

// SetConnected changes the connection state of address and notifies monitors.
func (m *Memory) SetConnected(address string, connected bool) {
	m.mu.Lock()
	if connected {
		delete(m.disconnected, address)
	} else {
		m.disconnected[address] = true
	}
	for _, ch := range m.monitorsLocked(address) {
		ch.deliverConnection(connected)
	}
	m.mu.Unlock()
}

// Puts returns every value successfully written to address, oldest first.
func (m *Memory) Puts(address string) []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.puts[address]...)
}

// OpenChannels returns the number of open channels on address.
func (m *Memory) OpenChannels(address string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.channels[address])
}

// Opens returns how many times address has been opened.
func (m *Memory) Opens(address string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[address]
}

// Open implements Client.
func (m *Memory) Open(address string, monitor *Monitor) (Channel, error) {
	ch := &memChannel{mem: m, address: address, monitor: monitor}
	if monitor != nil {
		ch.queue = newSerialQueue()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.channels[address]
	if !ok {
		set = make(map[*memChannel]struct{})
		m.channels[address] = set
	}
	set[ch] = struct{}{}
	m.opens[address]++

	// The initial state is queued before any later Set can reach ch.
	if monitor != nil {
		connected := !m.disconnected[address]
		ch.deliverConnection(connected)
		if value, ok := m.values[address]; connected && ok {
			ch.deliverValue(value)
		}
	}
	return ch, nil
}

func (m *Memory) monitorsLocked(address string) []*memChannel {
	var out []*memChannel
	for ch := range m.channels[address] {
		if ch.monitor != nil {
			out = append(out, ch)
		}
	}
	return out
}

func (m *Memory) put(address string, value any) error {
	value = normalize(value)

	m.mu.Lock()
	if m.disconnected[address] {
		m.mu.Unlock()
		return ErrDisconnected
	}
	if status, ok := m.putStatus[address]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: status=%d", ErrPutRejected, status)
	}
	m.puts[address] = append(m.puts[address], value)
	link, linked := m.links[address]
	m.mu.Unlock()

	m.Set(address, value)
	if linked {
		m.Set(link.to, link.fn(value))
	}
	return nil
}

func (m *Memory) remove(ch *memChannel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.channels[ch.address]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(m.channels, ch.address)
		}
	}
}

type memChannel struct {
	mem     *Memory
	address string
	monitor *Monitor
	queue   *serialQueue

	mu     sync.Mutex
	closed bool
}

func (c *memChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *memChannel) deliverValue(v any) {
	c.queue.push(func() { c.monitor.value(v) })
}

func (c *memChannel) deliverConnection(connected bool) {
	c.queue.push(func() { c.monitor.connection(connected) })
}

func (c *memChannel) Get(ctx context.Context) (any, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mem.mu.Lock()
	defer c.mem.mu.Unlock()
	if c.mem.disconnected[c.address] {
		return nil, ErrDisconnected
	}
	v, ok := c.mem.values[c.address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoValue, c.address)
	}
	return v, nil
}

func (c *memChannel) Put(ctx context.Context, value any) error {
	if c.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.mem.put(c.address, value)
}

func (c *memChannel) Connected() bool {
	if c.isClosed() {
		return false
	}
	c.mem.mu.Lock()
	defer c.mem.mu.Unlock()
	return !c.mem.disconnected[c.address]
}

func (c *memChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.mem.remove(c)
	if c.queue != nil {
		c.queue.close()
	}
	return nil
}
