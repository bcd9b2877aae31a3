// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

package extension

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/modhaven/modhaven/pkg/extension"
)

// Sentinel errors for programmatic error checking.
var (
	// ErrDuplicateID is returned when registering an id that already exists.
	// The first registration wins.
	ErrDuplicateID = errors.New("extension id already registered")
	// ErrNotRegistered is returned when operating on an unknown extension id.
	ErrNotRegistered = errors.New("extension not registered")
)

// subscriptionSweeper releases all event subscriptions owned by an
// extension. Implemented by the event bus.
type subscriptionSweeper interface {
	RemoveOwner(owner string) int
}

// Registration is one live catalog entry: descriptor, enabled flag, and
// the sole owning reference to the instance.
type Registration struct {
	Descriptor extension.Descriptor
	Enabled    bool
	Instance   extension.Extension
}

// Registry is the authoritative in-memory catalog of loaded extensions.
// It also owns the message-type route table derived from message-handler
// extensions. All operations are safe under concurrent read/write: loader
// initialization and live dispatch may overlap.
type Registry struct {
	logger  *slog.Logger
	sweeper subscriptionSweeper

	mu     sync.RWMutex
	regs   map[string]*Registration
	routes map[string]string // message type -> owning extension id
}

// NewRegistry creates an empty registry. The sweeper may be nil in tests
// that do not exercise subscription cleanup.
func NewRegistry(logger *slog.Logger, sweeper subscriptionSweeper) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		sweeper: sweeper,
		regs:    make(map[string]*Registration),
		routes:  make(map[string]string),
	}
}

// Register adds a live extension. Duplicate ids are rejected with a logged
// warning; the first registration wins. Message-type claims from the
// message-handler capability are installed into the route table here, and
// cross-extension claim conflicts are reported: the first claim wins and
// the losing claim is logged as an error.
func (r *Registry) Register(inst extension.Extension) error {
	desc := inst.Describe()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.regs[desc.ID]; exists {
		r.logger.Warn("duplicate extension id rejected",
			"extension_id", desc.ID,
			"name", desc.Name)
		return ErrDuplicateID
	}

	r.regs[desc.ID] = &Registration{
		Descriptor: desc,
		Enabled:    true,
		Instance:   inst,
	}

	if mh, ok := inst.(extension.MessageHandler); ok {
		for _, msgType := range mh.HandledMessageTypes() {
			if owner, claimed := r.routes[msgType]; claimed {
				r.logger.Error("message type claim conflict",
					"message_type", msgType,
					"owner", owner,
					"rejected", desc.ID)
				continue
			}
			r.routes[msgType] = desc.ID
		}
	}

	return nil
}

// Unregister shuts the extension down, releases its event subscriptions
// and message routes, and removes it from the catalog. The shutdown error
// is logged and tolerated; the entry is removed regardless.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	reg, ok := r.regs[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotRegistered
	}
	delete(r.regs, id)
	r.removeRoutesLocked(id)
	r.mu.Unlock()

	if r.sweeper != nil {
		if n := r.sweeper.RemoveOwner(id); n > 0 {
			r.logger.Debug("released event subscriptions",
				"extension_id", id,
				"count", n)
		}
	}

	if err := reg.Instance.Shutdown(ctx); err != nil {
		r.logger.Warn("extension shutdown failed during unregister",
			"extension_id", id,
			"error", err)
	}
	return nil
}

func (r *Registry) removeRoutesLocked(id string) {
	for msgType, owner := range r.routes {
		if owner == id {
			delete(r.routes, msgType)
		}
	}
}

// Get retrieves a registration by id.
func (r *Registry) Get(id string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[id]
	return reg, ok
}

// Descriptors returns all loaded descriptors sorted by id, paired with
// their enabled state.
func (r *Registry) Descriptors() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, 0, len(r.regs))
	for _, reg := range r.regs {
		out = append(out, Registration{
			Descriptor: reg.Descriptor,
			Enabled:    reg.Enabled,
			Instance:   reg.Instance,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Descriptor.ID < out[j].Descriptor.ID })
	return out
}

// MessageHandlers returns ids of extensions with the message-handler
// capability, sorted.
func (r *Registry) MessageHandlers() []string {
	return r.withCapability(func(e extension.Extension) bool {
		_, ok := e.(extension.MessageHandler)
		return ok
	})
}

// ServiceProviders returns ids of extensions with the service-provider
// capability, sorted.
func (r *Registry) ServiceProviders() []string {
	return r.withCapability(func(e extension.Extension) bool {
		_, ok := e.(extension.ServiceProvider)
		return ok
	})
}

func (r *Registry) withCapability(match func(extension.Extension) bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, reg := range r.regs {
		if match(reg.Instance) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of loaded extensions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.regs)
}

// SetEnabled flips an extension's enabled flag. Disabled extensions stay
// registered but receive no routed messages or events.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.regs[id]
	if !ok {
		return ErrNotRegistered
	}
	reg.Enabled = enabled
	return nil
}

// IsEnabled reports whether the extension exists and is enabled.
func (r *Registry) IsEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[id]
	return ok && reg.Enabled
}

// Resolve maps a message type to the enabled extension that claimed it.
// Used by the dispatcher for extension-owned message types.
func (r *Registry) Resolve(msgType string) (extension.MessageHandler, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.routes[msgType]
	if !ok {
		return nil, "", false
	}
	reg, ok := r.regs[id]
	if !ok || !reg.Enabled {
		return nil, "", false
	}
	mh, ok := reg.Instance.(extension.MessageHandler)
	if !ok {
		return nil, "", false
	}
	return mh, id, true
}

// snapshot returns the live registrations for lifecycle operations.
func (r *Registry) snapshot() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Registration, 0, len(r.regs))
	for _, reg := range r.regs {
		out = append(out, reg)
	}
	return out
}

// clear empties the catalog and route table.
func (r *Registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs = make(map[string]*Registration)
	r.routes = make(map[string]string)
}
