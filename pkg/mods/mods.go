// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

// Package mods defines the mod catalog domain types and the repository
// contracts the extension runtime depends on.
package mods

import (
	"context"
	"time"
)

// Mod is one managed game-modification package.
type Mod struct {
	ID          string
	Name        string
	Version     string
	Archive     string // path of the package file under the managed root
	Enabled     bool
	Tags        []string
	ImportedAt  time.Time
	Description string
}

// Classification groups mods into user-defined categories.
type Classification struct {
	ID    string
	Name  string
	Color string
}

// ModRepository is the persistent mod catalog.
type ModRepository interface {
	Insert(ctx context.Context, m *Mod) error
	Update(ctx context.Context, m *Mod) error
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Mod, error)
	List(ctx context.Context) ([]*Mod, error)
}

// ClassificationRepository is the persistent classification catalog.
type ClassificationRepository interface {
	Insert(ctx context.Context, c *Classification) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Classification, error)
	Assign(ctx context.Context, modID, classificationID string) error
	Unassign(ctx context.Context, modID, classificationID string) error
	ForMod(ctx context.Context, modID string) ([]*Classification, error)
}
