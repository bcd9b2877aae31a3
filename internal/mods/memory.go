// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

package mods

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/modhaven/modhaven/pkg/mods"
)

// MemoryModRepository is an in-memory ModRepository for testing.
type MemoryModRepository struct {
	mu   sync.RWMutex
	mods map[string]*mods.Mod
}

// NewMemoryModRepository creates a new in-memory mod repository.
func NewMemoryModRepository() *MemoryModRepository {
	return &MemoryModRepository{mods: make(map[string]*mods.Mod)}
}

// Insert stores a new mod.
func (r *MemoryModRepository) Insert(_ context.Context, m *mods.Mod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mods[m.ID]; ok {
		return oops.Code(CodeStorageFailed).With("mod_id", m.ID).Errorf("mod already exists")
	}
	r.mods[m.ID] = cloneMod(m)
	return nil
}

// Update replaces an existing mod.
func (r *MemoryModRepository) Update(_ context.Context, m *mods.Mod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mods[m.ID]; !ok {
		return oops.Code(CodeModNotFound).With("mod_id", m.ID).Errorf("mod not found")
	}
	r.mods[m.ID] = cloneMod(m)
	return nil
}

// Delete removes a mod by ID.
func (r *MemoryModRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.mods[id]; !ok {
		return oops.Code(CodeModNotFound).With("mod_id", id).Errorf("mod not found")
	}
	delete(r.mods, id)
	return nil
}

// Get returns a mod by ID.
func (r *MemoryModRepository) Get(_ context.Context, id string) (*mods.Mod, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mods[id]
	if !ok {
		return nil, oops.Code(CodeModNotFound).With("mod_id", id).Errorf("mod not found")
	}
	return cloneMod(m), nil
}

// List returns all mods sorted by name.
func (r *MemoryModRepository) List(_ context.Context) ([]*mods.Mod, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*mods.Mod, 0, len(r.mods))
	for _, m := range r.mods {
		out = append(out, cloneMod(m))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func cloneMod(m *mods.Mod) *mods.Mod {
	c := *m
	c.Tags = append([]string(nil), m.Tags...)
	return &c
}

// MemoryClassificationRepository is an in-memory ClassificationRepository
// for testing.
type MemoryClassificationRepository struct {
	mu      sync.RWMutex
	classes map[string]*mods.Classification
	assigns map[string]map[string]bool // mod ID -> classification IDs
}

// NewMemoryClassificationRepository creates a new in-memory classification
// repository.
func NewMemoryClassificationRepository() *MemoryClassificationRepository {
	return &MemoryClassificationRepository{
		classes: make(map[string]*mods.Classification),
		assigns: make(map[string]map[string]bool),
	}
}

// Insert stores a new classification.
func (r *MemoryClassificationRepository) Insert(_ context.Context, c *mods.Classification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.classes[c.ID]; ok {
		return oops.Code(CodeStorageFailed).With("classification_id", c.ID).Errorf("classification already exists")
	}
	cp := *c
	r.classes[c.ID] = &cp
	return nil
}

// Delete removes a classification and all of its assignments.
func (r *MemoryClassificationRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.classes[id]; !ok {
		return oops.Code(CodeModNotFound).With("classification_id", id).Errorf("classification not found")
	}
	delete(r.classes, id)
	for _, set := range r.assigns {
		delete(set, id)
	}
	return nil
}

// List returns all classifications sorted by name.
func (r *MemoryClassificationRepository) List(_ context.Context) ([]*mods.Classification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*mods.Classification, 0, len(r.classes))
	for _, c := range r.classes {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Assign links a mod to a classification.
func (r *MemoryClassificationRepository) Assign(_ context.Context, modID, classificationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.classes[classificationID]; !ok {
		return oops.Code(CodeModNotFound).With("classification_id", classificationID).Errorf("classification not found")
	}
	set, ok := r.assigns[modID]
	if !ok {
		set = make(map[string]bool)
		r.assigns[modID] = set
	}
	set[classificationID] = true
	return nil
}

// Unassign removes the link between a mod and a classification.
func (r *MemoryClassificationRepository) Unassign(_ context.Context, modID, classificationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.assigns[modID], classificationID)
	return nil
}

// ForMod returns the classifications assigned to a mod, sorted by name.
func (r *MemoryClassificationRepository) ForMod(_ context.Context, modID string) ([]*mods.Classification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*mods.Classification, 0, len(r.assigns[modID]))
	for id := range r.assigns[modID] {
		if c, ok := r.classes[id]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

var (
	_ mods.ModRepository            = (*MemoryModRepository)(nil)
	_ mods.ClassificationRepository = (*MemoryClassificationRepository)(nil)
)
