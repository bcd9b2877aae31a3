// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

// Package mods implements the mod catalog service: import, tagging,
// classification, and enable/disable, publishing every state change on
// the event bus.
package mods

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	eventbus "github.com/modhaven/modhaven/internal/event"
	"github.com/modhaven/modhaven/pkg/event"
	"github.com/modhaven/modhaven/pkg/extension"
	"github.com/modhaven/modhaven/pkg/mods"
)

// Error codes for mod catalog failures.
const (
	CodeModNotFound   = "MOD_NOT_FOUND"
	CodeImportFailed  = "IMPORT_FAILED"
	CodeStorageFailed = "STORAGE_FAILED"
)

// Service coordinates the mod catalog. State changes are pushed onto the
// event bus; event delivery failures never fail the operation itself.
type Service struct {
	repo     mods.ModRepository
	classes  mods.ClassificationRepository
	files    extension.FileService
	bus      *eventbus.Bus
	modsDir  string
	logger   *slog.Logger
}

// NewService creates the mod catalog service.
func NewService(
	repo mods.ModRepository,
	classes mods.ClassificationRepository,
	files extension.FileService,
	bus *eventbus.Bus,
	modsDir string,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		classes: classes,
		files:   files,
		bus:     bus,
		modsDir: modsDir,
		logger:  logger,
	}
}

// List returns all mods in the catalog.
func (s *Service) List(ctx context.Context) ([]*mods.Mod, error) {
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, oops.Code(CodeStorageFailed).Wrapf(err, "list mods")
	}
	return list, nil
}

// Get returns one mod.
func (s *Service) Get(ctx context.Context, id string) (*mods.Mod, error) {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, oops.Code(CodeModNotFound).With("mod_id", id).Wrap(err)
	}
	return m, nil
}

// Import copies a package file into the managed directory and registers it
// in the catalog.
func (s *Service) Import(ctx context.Context, src, name string) (*mods.Mod, error) {
	if name == "" {
		name = filepath.Base(src)
	}
	dst := filepath.Join(s.modsDir, filepath.Base(src))

	if err := s.files.Copy(ctx, src, dst); err != nil {
		return nil, oops.Code(CodeImportFailed).
			With("src", src).
			Wrapf(err, "copy package into managed directory")
	}

	m := &mods.Mod{
		ID:         uuid.NewString(),
		Name:       name,
		Archive:    dst,
		Enabled:    false,
		ImportedAt: time.Now(),
	}
	if err := s.repo.Insert(ctx, m); err != nil {
		return nil, oops.Code(CodeStorageFailed).With("mod_id", m.ID).Wrapf(err, "insert mod")
	}

	s.emit(ctx, event.KindModImported, m)
	return m, nil
}

// Delete removes a mod from the catalog and its archive from disk. A
// failing archive removal is logged, not fatal: the catalog entry is the
// source of truth.
func (s *Service) Delete(ctx context.Context, id string) error {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return oops.Code(CodeModNotFound).With("mod_id", id).Wrap(err)
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return oops.Code(CodeStorageFailed).With("mod_id", id).Wrapf(err, "delete mod")
	}

	if m.Archive != "" {
		if err := s.files.Remove(ctx, m.Archive); err != nil {
			s.logger.Warn("failed to remove mod archive",
				"mod_id", id,
				"archive", m.Archive,
				"error", err)
		}
	}

	s.emit(ctx, event.KindModDeleted, m)
	return nil
}

// SetEnabled loads or unloads a mod.
func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) (*mods.Mod, error) {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, oops.Code(CodeModNotFound).With("mod_id", id).Wrap(err)
	}
	if m.Enabled == enabled {
		return m, nil
	}

	m.Enabled = enabled
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, oops.Code(CodeStorageFailed).With("mod_id", id).Wrapf(err, "update mod")
	}

	kind := event.KindModLoaded
	if !enabled {
		kind = event.KindModUnloaded
	}
	s.emit(ctx, kind, m)
	return m, nil
}

// SetTags replaces a mod's tag set.
func (s *Service) SetTags(ctx context.Context, id string, tags []string) (*mods.Mod, error) {
	m, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, oops.Code(CodeModNotFound).With("mod_id", id).Wrap(err)
	}

	m.Tags = tags
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, oops.Code(CodeStorageFailed).With("mod_id", id).Wrapf(err, "update mod tags")
	}
	return m, nil
}

// Classify assigns a classification to a mod.
func (s *Service) Classify(ctx context.Context, modID, classificationID string) error {
	if err := s.classes.Assign(ctx, modID, classificationID); err != nil {
		return oops.Code(CodeStorageFailed).
			With("mod_id", modID).
			With("classification_id", classificationID).
			Wrapf(err, "assign classification")
	}
	return nil
}

// Unclassify removes a classification from a mod.
func (s *Service) Unclassify(ctx context.Context, modID, classificationID string) error {
	if err := s.classes.Unassign(ctx, modID, classificationID); err != nil {
		return oops.Code(CodeStorageFailed).
			With("mod_id", modID).
			With("classification_id", classificationID).
			Wrapf(err, "unassign classification")
	}
	return nil
}

// Refresh re-reads the catalog and announces the new listing.
func (s *Service) Refresh(ctx context.Context) ([]*mods.Mod, error) {
	list, err := s.repo.List(ctx)
	if err != nil {
		return nil, oops.Code(CodeStorageFailed).Wrapf(err, "refresh mods")
	}
	s.emitRefreshed(ctx, len(list))
	return list, nil
}

// emit publishes a mod lifecycle event. Bus failures are logged only; an
// event that cannot be delivered must not fail the catalog operation.
func (s *Service) emit(ctx context.Context, kind event.Kind, m *mods.Mod) {
	payload, err := json.Marshal(struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}{ID: m.ID, Name: m.Name})
	if err != nil {
		s.logger.Warn("failed to marshal event payload", "mod_id", m.ID, "error", err)
		return
	}
	if err := s.bus.Emit(ctx, event.Event{
		Kind:    kind,
		Source:  "host",
		Payload: payload,
	}); err != nil {
		s.logger.Warn("failed to emit mod event",
			"event_kind", string(kind),
			"mod_id", m.ID,
			"error", err)
	}
}

func (s *Service) emitRefreshed(ctx context.Context, count int) {
	payload, _ := json.Marshal(struct {
		Count int `json:"count"`
	}{Count: count})
	if err := s.bus.Emit(ctx, event.Event{
		Kind:    event.KindModsRefreshed,
		Source:  "host",
		Payload: payload,
	}); err != nil {
		s.logger.Warn("failed to emit refresh event", "error", err)
	}
}
