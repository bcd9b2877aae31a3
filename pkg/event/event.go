// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

// Package event defines the host lifecycle events delivered to extensions
// and the handler contract for receiving them.
package event

import (
	"context"
	"encoding/json"
	"time"
)

// Kind identifies the kind of host event.
type Kind string

// Lifecycle event kinds form a closed set. Custom is the open escape hatch:
// a Custom event additionally carries a free-form Name agreed by convention
// between cooperating extensions.
const (
	KindModLoaded     Kind = "mod_loaded"
	KindModUnloaded   Kind = "mod_unloaded"
	KindModImported   Kind = "mod_imported"
	KindModDeleted    Kind = "mod_deleted"
	KindModsRefreshed Kind = "mods_refreshed"
	KindCustom        Kind = "custom"
)

// Event is a single host notification.
type Event struct {
	ID        string          // assigned by the bus at emit time
	Kind      Kind
	Name      string          // set only for KindCustom
	Timestamp time.Time
	Source    string          // extension id or "host"
	Payload   json.RawMessage
}

// Handler receives one event. A handler error is contained and logged by
// the bus; it never reaches the emitter or sibling handlers.
type Handler func(ctx context.Context, ev Event) error

// SubscriptionID identifies one registered handler.
type SubscriptionID string
