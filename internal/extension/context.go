// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

package extension

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	eventbus "github.com/modhaven/modhaven/internal/event"
	"github.com/modhaven/modhaven/pkg/event"
	"github.com/modhaven/modhaven/pkg/extension"
	"github.com/modhaven/modhaven/pkg/mods"
)

// Compile-time interface check.
var _ extension.HostContext = (*hostContext)(nil)

// HostServices bundles the collaborator services exposed through the
// capability context. The loader receives one of these and derives a
// per-extension context from it.
type HostServices struct {
	Mods            mods.ModRepository
	Classifications mods.ClassificationRepository
	Files           extension.FileService
	Launcher        extension.ProcessLauncher
	Logger          *slog.Logger
	DataRoot        string
}

// hostContext is the capability context for one extension. It carries the
// extension's identity for logging, data scoping, and subscription
// ownership, and deliberately exposes neither the loader nor the registry.
type hostContext struct {
	extID    string
	services HostServices
	bus      *eventbus.Bus
	registry *Registry
	logger   *slog.Logger
}

// newHostContext builds the context handed to one extension.
func newHostContext(extID string, services HostServices, bus *eventbus.Bus, registry *Registry) *hostContext {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &hostContext{
		extID:    extID,
		services: services,
		bus:      bus,
		registry: registry,
		logger:   logger.With("extension_id", extID),
	}
}

func (c *hostContext) Mods() mods.ModRepository { return c.services.Mods }

func (c *hostContext) Classifications() mods.ClassificationRepository {
	return c.services.Classifications
}

func (c *hostContext) Files() extension.FileService { return c.services.Files }

func (c *hostContext) Launcher() extension.ProcessLauncher { return c.services.Launcher }

func (c *hostContext) Logger() *slog.Logger { return c.logger }

// DataDir returns the extension's private directory under the data root,
// creating it on first use.
func (c *hostContext) DataDir() (string, error) {
	dir := filepath.Join(c.services.DataRoot, "extensions", c.extID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	return dir, nil
}

// EmitEvent publishes a named custom event sourced from this extension.
func (c *hostContext) EmitEvent(ctx context.Context, name string, payload json.RawMessage) error {
	return c.bus.Emit(ctx, event.Event{
		Kind:      event.KindCustom,
		Name:      name,
		Timestamp: time.Now(),
		Source:    c.extID,
		Payload:   payload,
	})
}

// Subscribe registers a lifecycle handler owned by this extension.
// Delivery is gated on the extension's enabled flag.
func (c *hostContext) Subscribe(kind event.Kind, handler event.Handler) (event.SubscriptionID, error) {
	return c.bus.Subscribe(kind, c.extID, c.gated(handler))
}

// SubscribeCustom registers a custom-event handler owned by this extension.
func (c *hostContext) SubscribeCustom(pattern string, handler event.Handler) (event.SubscriptionID, error) {
	return c.bus.SubscribeCustom(pattern, c.extID, c.gated(handler))
}

// Unsubscribe releases one subscription.
func (c *hostContext) Unsubscribe(id event.SubscriptionID) error {
	return c.bus.Unsubscribe(id)
}

// gated wraps a handler so a disabled extension silently skips delivery
// while keeping its subscriptions registered.
func (c *hostContext) gated(handler event.Handler) event.Handler {
	return func(ctx context.Context, ev event.Event) error {
		if c.registry != nil && !c.registry.IsEnabled(c.extID) {
			return nil
		}
		return handler(ctx, ev)
	}
}
