// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

// Package service provides the host's string-keyed service registry.
//
// The registry is the hand-off point of the two-phase startup protocol:
// service-providing extensions register into it while it is open, the host
// seals it, and only then are extensions initialized. Registration after
// sealing always fails.
package service

import (
	"sort"
	"sync"

	"github.com/samber/oops"
)

// Error codes for registry failures.
const (
	CodeSealed    = "REGISTRY_SEALED"
	CodeDuplicate = "SERVICE_DUPLICATE"
	CodeNotFound  = "SERVICE_NOT_FOUND"
)

// Registry is a string-keyed catalog of host services. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sealed   bool
	services map[string]any
}

// NewRegistry creates an open registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]any)}
}

// Register adds a named service. It fails once the registry is sealed and
// rejects duplicate names.
func (r *Registry) Register(name string, svc any) error {
	if name == "" {
		return oops.Code(CodeDuplicate).Errorf("service name cannot be empty")
	}
	if svc == nil {
		return oops.Code(CodeDuplicate).With("service", name).Errorf("service cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return oops.Code(CodeSealed).With("service", name).Errorf("registry is sealed")
	}
	if _, exists := r.services[name]; exists {
		return oops.Code(CodeDuplicate).With("service", name).Errorf("service already registered")
	}
	r.services[name] = svc
	return nil
}

// Seal freezes the registry. Idempotent.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether the registry has been sealed.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Get retrieves a service by name.
func (r *Registry) Get(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

// Names returns all registered service names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup retrieves a service by name and asserts its type. It returns a
// coded error instead of a bare bool so callers can surface the failure
// through the message envelope.
func Lookup[T any](r *Registry, name string) (T, error) {
	var zero T
	svc, ok := r.Get(name)
	if !ok {
		return zero, oops.Code(CodeNotFound).With("service", name).Errorf("service not registered")
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, oops.Code(CodeNotFound).With("service", name).Errorf("service has unexpected type %T", svc)
	}
	return typed, nil
}
