// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

package extension

import (
	"sort"
	"sync"

	"github.com/samber/oops"
)

// FactorySet maps factory names to extension constructors. The host builds
// one at startup and registers every compiled-in extension package into it;
// manifests of type "builtin" reference entries by name.
//
// FactorySet is an explicit object rather than a process-wide table so the
// loader's inputs stay visible at the call site.
type FactorySet struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewFactorySet creates an empty factory set.
func NewFactorySet() *FactorySet {
	return &FactorySet{factories: make(map[string]Factory)}
}

// Register adds a named factory. Duplicate names are rejected.
func (s *FactorySet) Register(name string, f Factory) error {
	if name == "" {
		return oops.Errorf("factory name cannot be empty")
	}
	if f == nil {
		return oops.With("factory", name).Errorf("factory cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.factories[name]; exists {
		return oops.With("factory", name).Errorf("factory already registered")
	}
	s.factories[name] = f
	return nil
}

// New instantiates an extension by factory name.
func (s *FactorySet) New(name string) (Extension, error) {
	s.mu.RLock()
	f, ok := s.factories[name]
	s.mu.RUnlock()

	if !ok {
		return nil, oops.With("factory", name).Errorf("unknown factory")
	}
	ext, err := f()
	if err != nil {
		return nil, oops.With("factory", name).Wrap(err)
	}
	if ext == nil {
		return nil, oops.With("factory", name).Errorf("factory returned nil extension")
	}
	return ext, nil
}

// Names returns registered factory names in sorted order.
func (s *FactorySet) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.factories))
	for name := range s.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
