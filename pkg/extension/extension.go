// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

// Package extension defines the contract every extension package
// implements and the capability surface the host exposes to it.
package extension

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/modhaven/modhaven/pkg/event"
	"github.com/modhaven/modhaven/pkg/message"
	"github.com/modhaven/modhaven/pkg/mods"
	"github.com/modhaven/modhaven/pkg/service"
)

// Descriptor identifies a loaded extension. Immutable once loaded.
type Descriptor struct {
	ID          string
	Name        string
	Version     string
	Description string
	Author      string
}

// Extension is the mandatory contract.
//
// Initialize may perform I/O. Expected degraded conditions (missing
// optional config, absent data files) should be logged and tolerated, not
// returned as errors; a returned error excludes the extension from the
// live registry. Shutdown releases resources; its error is logged and
// tolerated by the host.
type Extension interface {
	Describe() Descriptor
	Initialize(ctx context.Context, host HostContext) error
	Shutdown(ctx context.Context) error
}

// MessageHandler is the optional message-routing capability. Extensions
// implementing it claim ownership of the returned message types.
//
// HandleMessage must not panic for expected failures; it returns an
// error-flagged response instead. The dispatcher still recovers panics so
// an extension bug cannot leak into shared dispatch machinery.
type MessageHandler interface {
	HandledMessageTypes() []string
	HandleMessage(ctx context.Context, req *message.Request) *message.Response
}

// ServiceProvider is the optional dependency-contribution capability.
// ConfigureServices runs exactly once per extension, for every discovered
// extension, strictly before the registry is sealed.
type ServiceProvider interface {
	ConfigureServices(reg *service.Registry) error
}

// HostContext is the capability surface handed to an extension at
// Initialize. It deliberately exposes neither the loader nor the registry:
// extensions can observe host state but cannot mutate the set of loaded
// extensions.
type HostContext interface {
	// Mods returns the mod catalog repository.
	Mods() mods.ModRepository
	// Classifications returns the classification repository.
	Classifications() mods.ClassificationRepository
	// Files returns scoped file operations under the managed root.
	Files() FileService
	// Launcher returns the process launch service.
	Launcher() ProcessLauncher
	// Logger returns a logger scoped to this extension.
	Logger() *slog.Logger
	// DataDir returns this extension's private data directory, creating
	// it on first use.
	DataDir() (string, error)

	// EmitEvent publishes a named custom event on behalf of this extension.
	EmitEvent(ctx context.Context, name string, payload json.RawMessage) error
	// Subscribe registers a handler for a lifecycle event kind. The
	// subscription is owned by this extension and released when it unloads.
	Subscribe(kind event.Kind, handler event.Handler) (event.SubscriptionID, error)
	// SubscribeCustom registers a handler for custom events whose name
	// matches the glob pattern. Exact names are valid patterns.
	SubscribeCustom(pattern string, handler event.Handler) (event.SubscriptionID, error)
	// Unsubscribe releases one subscription.
	Unsubscribe(id event.SubscriptionID) error
}

// FileService abstracts the file operations extensions may perform.
type FileService interface {
	Copy(ctx context.Context, src, dst string) error
	Remove(ctx context.Context, path string) error
	Exists(path string) (bool, error)
}

// ProcessLauncher starts external programs (game executables, editors).
type ProcessLauncher interface {
	Launch(ctx context.Context, program string, args ...string) error
}

// Factory constructs one extension instance. Built-in extension packages
// expose a Factory; the loader calls it for each manifest that names it.
type Factory func() (Extension, error)
