package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Middleware wraps an InboundHandler to add cross-cutting behavior.
type Middleware func(next InboundHandler) InboundHandler

// ConnectionStatus describes runtime status for one platform connection.
type ConnectionStatus struct {
	ChannelType ChannelType `json:"channel_type"`
	Running     bool        `json:"running"`
	LastError   string      `json:"last_error,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Manager connects every registered Receiver, routes its inbound messages through the
// middleware chain to the handler registered for its channel type, and tracks status.
type Manager struct {
	registry    *Registry
	logger      *slog.Logger
	middlewares []Middleware
	handlers    map[ChannelType]InboundHandler

	mu          sync.Mutex
	connections map[ChannelType]Connection
	status      map[ChannelType]ConnectionStatus
	now         func() time.Time
}

// NewManager creates a Manager over registry.
func NewManager(log *slog.Logger, registry *Registry) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Manager{
		registry:    registry,
		logger:      log.With(slog.String("component", "channel")),
		handlers:    map[ChannelType]InboundHandler{},
		connections: map[ChannelType]Connection{},
		status:      map[ChannelType]ConnectionStatus{},
		now:         time.Now,
	}
}

// Registry returns the adapter registry used by this manager.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Use appends middleware to the inbound processing chain.
func (m *Manager) Use(mw ...Middleware) {
	m.middlewares = append(m.middlewares, mw...)
}

// Handle sets the inbound handler for a channel type.
func (m *Manager) Handle(channelType ChannelType, handler InboundHandler) {
	m.handlers[channelType] = handler
}

func (m *Manager) chain(handler InboundHandler) InboundHandler {
	for i := len(m.middlewares) - 1; i >= 0; i-- {
		handler = m.middlewares[i](handler)
	}
	return handler
}

// Start connects every registered receiver that has a handler. The first connection
// failure stops already-started connections and is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.Info("manager start")
	for _, ct := range m.registry.Types() {
		receiver, ok := m.registry.Receiver(ct)
		if !ok {
			continue
		}
		handler, ok := m.handlers[ct]
		if !ok {
			m.logger.Warn("receiver has no handler", slog.String("channel", ct.String()))
			continue
		}
		conn, err := receiver.Connect(ctx, m.chain(handler))
		if err != nil {
			m.markStatus(ct, false, err)
			m.logger.Error("adapter start failed", slog.String("channel", ct.String()), slog.Any("error", err))
			m.Stop(ctx)
			return fmt.Errorf("connect %s: %w", ct, err)
		}
		m.mu.Lock()
		m.connections[ct] = conn
		m.mu.Unlock()
		m.markStatus(ct, true, nil)
		m.logger.Info("adapter started", slog.String("channel", ct.String()))
	}
	return nil
}

// Stop stops all active connections.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	conns := m.connections
	m.connections = map[ChannelType]Connection{}
	m.mu.Unlock()

	for ct, conn := range conns {
		if conn == nil {
			continue
		}
		err := conn.Stop(ctx)
		if err != nil && !errors.Is(err, ErrStopNotSupported) {
			m.logger.Warn("adapter stop failed", slog.String("channel", ct.String()), slog.Any("error", err))
		}
		m.markStatus(ct, false, nil)
		m.logger.Info("adapter stop", slog.String("channel", ct.String()))
	}
}

func (m *Manager) markStatus(ct ChannelType, running bool, err error) {
	status := ConnectionStatus{
		ChannelType: ct,
		Running:     running,
		UpdatedAt:   m.now().UTC(),
	}
	if err != nil {
		status.LastError = err.Error()
	}
	m.mu.Lock()
	m.status[ct] = status
	m.mu.Unlock()
}

// Statuses reports each known connection. Running reflects the live connection state.
func (m *Manager) Statuses() []ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := make([]ConnectionStatus, 0, len(m.status))
	for ct, status := range m.status {
		if conn, ok := m.connections[ct]; ok && conn != nil {
			status.Running = conn.Running()
		}
		items = append(items, status)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ChannelType < items[j].ChannelType })
	return items
}
