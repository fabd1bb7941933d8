package channel

import (
	"fmt"
	"slices"
	"sync"
)

// Registry maps each platform to its adapter. The manager connects every adapter in it that
// can receive.
type Registry struct {
	mu       sync.RWMutex
	adapters map[ChannelType]Adapter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[ChannelType]Adapter{}}
}

// Register adds adapter under its own type. A platform can be registered once.
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}
	ct := ChannelType(adapter.Type().String())
	if ct == "" {
		return fmt.Errorf("channel type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.adapters[ct]; dup {
		return fmt.Errorf("channel type already registered: %s", ct)
	}
	r.adapters[ct] = adapter
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

// Types returns the registered platforms, sorted.
func (r *Registry) Types() []ChannelType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]ChannelType, 0, len(r.adapters))
	for ct := range r.adapters {
		types = append(types, ct)
	}
	slices.Sort(types)
	return types
}

// Receiver returns the adapter of channelType when it can hold a live connection.
func (r *Registry) Receiver(channelType ChannelType) (Receiver, bool) {
	r.mu.RLock()
	adapter, ok := r.adapters[channelType]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	receiver, ok := adapter.(Receiver)
	return receiver, ok
}
