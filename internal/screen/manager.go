package screen

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/beamline-core/internal/controlsys"
	"github.com/nerrad567/beamline-core/internal/devicedb"
)

// HandlerFactory builds the Handler for one screen.
type HandlerFactory func(device string) Handler

// Manager keeps at most one open Screen per device name.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Manager struct {
	catalog  devicedb.Catalog
	client   controlsys.Client
	handlers HandlerFactory
	cfg      Config
	opts     Options

	mu      sync.Mutex
	screens map[string]*Screen
	closed  bool
}

// NewManager creates a manager. cfg.BeamPath is the default for Open.
func NewManager(catalog devicedb.Catalog, client controlsys.Client, handlers HandlerFactory, cfg Config, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}
	return &Manager{
		catalog:  catalog,
		client:   client,
		handlers: handlers,
		cfg:      cfg,
		opts:     opts,
		screens:  make(map[string]*Screen),
	}
}

// Open returns the running screen for name, opening it if needed. A
// screen open on a different beam path is closed and reopened. An empty
// beamPath uses the manager's default.
func (m *Manager) Open(ctx context.Context, name, beamPath string) (*Screen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	cfg := m.cfg
	if beamPath != "" {
		cfg.BeamPath = beamPath
	}

	if s, ok := m.screens[name]; ok {
		if cfg.BeamPath == "" || s.BeamPath() == cfg.BeamPath {
			return s, nil
		}
		m.opts.Logger.Info("reopening screen on new beam path", "device", name, "from", s.BeamPath(), "to", cfg.BeamPath)
		delete(m.screens, name)
		s.Destroy()
	}

	s, err := Open(ctx, m.catalog, m.client, name, m.handlers(name), cfg, m.opts)
	if err != nil {
		return nil, err
	}
	m.screens[name] = s
	go m.forgetWhenDone(s)
	return s, nil
}

// forgetWhenDone drops s once its loop stops, whatever the reason.
func (m *Manager) forgetWhenDone(s *Screen) {
	<-s.Done()
	m.mu.Lock()
	if m.screens[s.Name()] == s {
		delete(m.screens, s.Name())
	}
	m.mu.Unlock()
}

// Get returns the open screen for name.
func (m *Manager) Get(name string) (*Screen, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.screens[name]
	return s, ok
}

// MoveTarget forwards to the open screen for name.
func (m *Manager) MoveTarget(name string, wantIn bool) error {
	s, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotOpen, name)
	}
	return s.MoveTarget(wantIn)
}

// Names returns the open screens, sorted.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.screens))
	for n := range m.screens {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close destroys the screen for name.
func (m *Manager) Close(name string) error {
	m.mu.Lock()
	s, ok := m.screens[name]
	delete(m.screens, name)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotOpen, name)
	}
	s.Destroy()
	return nil
}

// CloseAll destroys every screen and waits for them to release their
// accessors or for ctx to end. Open fails afterwards.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	screens := make([]*Screen, 0, len(m.screens))
	for _, s := range m.screens {
		screens = append(screens, s)
	}
	m.screens = make(map[string]*Screen)
	m.mu.Unlock()

	for _, s := range screens {
		s.Destroy()
	}
	for _, s := range screens {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return fmt.Errorf("closing screens: %w", ctx.Err())
		}
	}
	return nil
}
