// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

// Package cachecleaner implements a built-in extension that prunes
// per-mod cache files when mods are deleted and reports cache statistics
// over the message API.
package cachecleaner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"

	"github.com/modhaven/modhaven/pkg/event"
	"github.com/modhaven/modhaven/pkg/extension"
	"github.com/modhaven/modhaven/pkg/message"
	"github.com/modhaven/modhaven/pkg/service"
)

// Message types owned by this extension.
const (
	MsgCacheClean = "CACHE_CLEAN"
	MsgCacheStats = "CACHE_STATS"
)

// EventCacheCleaned is the custom event emitted after each prune.
const EventCacheCleaned = "CACHE_CLEANED"

// ServiceName is the shared service registered by ConfigureServices.
// Other extensions can look it up to observe cache activity.
const ServiceName = "cachecleaner.stats"

// Stats is the read-only view exposed through the service registry.
type Stats interface {
	CleanedTotal() int
}

// Extension prunes cached artifacts derived from imported mods.
type Extension struct {
	mu      sync.Mutex
	host    extension.HostContext
	cleaned int
}

var (
	_ extension.Extension       = (*Extension)(nil)
	_ extension.MessageHandler  = (*Extension)(nil)
	_ extension.ServiceProvider = (*Extension)(nil)
	_ Stats                     = (*Extension)(nil)
)

// New is the factory registered with the host.
func New() (extension.Extension, error) {
	return &Extension{}, nil
}

// Describe returns the extension identity.
func (e *Extension) Describe() extension.Descriptor {
	return extension.Descriptor{
		ID:          "cachecleaner",
		Name:        "Cache Cleaner",
		Version:     "1.0.0",
		Description: "Prunes cached artifacts for deleted mods",
		Author:      "ModHaven Contributors",
	}
}

// ConfigureServices publishes the stats service.
func (e *Extension) ConfigureServices(reg *service.Registry) error {
	return reg.Register(ServiceName, Stats(e))
}

// Initialize subscribes to mod deletions so orphaned cache entries are
// pruned as they appear.
func (e *Extension) Initialize(_ context.Context, host extension.HostContext) error {
	e.mu.Lock()
	e.host = host
	e.mu.Unlock()

	_, err := host.Subscribe(event.KindModDeleted, e.onModDeleted)
	if err != nil {
		return oops.In("cachecleaner").Wrapf(err, "subscribe to mod deletions")
	}
	return nil
}

// Shutdown releases nothing; cache files persist across runs.
func (e *Extension) Shutdown(context.Context) error {
	return nil
}

// HandledMessageTypes declares ownership of the cache message types.
func (e *Extension) HandledMessageTypes() []string {
	return []string{MsgCacheClean, MsgCacheStats}
}

type cleanResult struct {
	Removed int `json:"removed"`
}

type statsResult struct {
	CleanedTotal int `json:"cleanedTotal"`
}

// HandleMessage serves CACHE_CLEAN and CACHE_STATS.
func (e *Extension) HandleMessage(ctx context.Context, req *message.Request) *message.Response {
	switch req.Type {
	case MsgCacheClean:
		removed, err := e.clean(ctx)
		if err != nil {
			return message.Fail(req.ID, err)
		}
		return message.Succeed(req.ID, cleanResult{Removed: removed})
	case MsgCacheStats:
		return message.Succeed(req.ID, statsResult{CleanedTotal: e.CleanedTotal()})
	default:
		return message.Fail(req.ID, oops.Code(message.CodeUnknownType).
			With("type", req.Type).
			Errorf("unhandled message type"))
	}
}

// CleanedTotal implements Stats.
func (e *Extension) CleanedTotal() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cleaned
}

// onModDeleted prunes the cache entry for the deleted mod.
func (e *Extension) onModDeleted(ctx context.Context, ev event.Event) error {
	var payload struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(ev.Payload, &payload); err != nil || payload.ID == "" {
		return nil
	}

	e.mu.Lock()
	host := e.host
	e.mu.Unlock()

	dir, err := host.DataDir()
	if err != nil {
		return oops.In("cachecleaner").Wrapf(err, "resolve data dir")
	}
	if err := os.RemoveAll(filepath.Join(dir, payload.ID)); err != nil {
		return oops.In("cachecleaner").With("mod_id", payload.ID).Wrapf(err, "prune cache entry")
	}

	e.mu.Lock()
	e.cleaned++
	e.mu.Unlock()

	return e.emitCleaned(ctx, host, 1)
}

// clean removes every cache entry under the data directory.
func (e *Extension) clean(ctx context.Context) (int, error) {
	e.mu.Lock()
	host := e.host
	e.mu.Unlock()

	dir, err := host.DataDir()
	if err != nil {
		return 0, oops.In("cachecleaner").Wrapf(err, "resolve data dir")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, oops.In("cachecleaner").With("dir", dir).Wrapf(err, "read cache dir")
	}

	removed := 0
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			host.Logger().Warn("failed to prune cache entry", "entry", entry.Name(), "error", err)
			continue
		}
		removed++
	}

	e.mu.Lock()
	e.cleaned += removed
	e.mu.Unlock()

	if removed > 0 {
		if err := e.emitCleaned(ctx, host, removed); err != nil {
			host.Logger().Warn("failed to emit cache event", "error", err)
		}
	}
	return removed, nil
}

func (e *Extension) emitCleaned(ctx context.Context, host extension.HostContext, removed int) error {
	payload, err := json.Marshal(map[string]int{"removed": removed})
	if err != nil {
		return oops.In("cachecleaner").Wrap(err)
	}
	return host.EmitEvent(ctx, EventCacheCleaned, payload)
}
