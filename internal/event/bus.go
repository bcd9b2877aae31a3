// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

// Package event implements the host's typed publish/subscribe bus.
package event

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/modhaven/modhaven/internal/observability"
	"github.com/modhaven/modhaven/pkg/event"
)

// Sentinel errors for programmatic checking.
var (
	// ErrBusClosed is returned when operations are attempted on a closed bus.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrUnknownSubscription is returned when unsubscribing an id the bus
	// does not hold.
	ErrUnknownSubscription = errors.New("unknown subscription")
)

// subscription is one registered handler. For KindCustom the compiled
// pattern additionally gates delivery by event name.
type subscription struct {
	id      event.SubscriptionID
	kind    event.Kind
	owner   string
	pattern glob.Glob // nil unless kind == KindCustom
	handler event.Handler
}

// Bus fans events out to every matching subscriber. All handlers for one
// Emit run concurrently; Emit returns only after all of them settle. A
// failing or panicking handler is logged and never affects its siblings or
// the emitter.
type Bus struct {
	logger  *slog.Logger
	mu      sync.RWMutex
	closed  bool
	subs    map[event.SubscriptionID]*subscription
	byKind  map[event.Kind][]*subscription
	entropy *ulid.MonotonicEntropy
	entMu   sync.Mutex
}

// NewBus creates an event bus. A nil logger falls back to slog.Default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		subs:   make(map[event.SubscriptionID]*subscription),
		byKind: make(map[event.Kind][]*subscription),
		//nolint:gosec // ULID entropy, not a security boundary
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// newID generates a monotonically distinguishable id.
func (b *Bus) newID() string {
	b.entMu.Lock()
	defer b.entMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), b.entropy).String()
}

// Subscribe registers a handler for a lifecycle event kind. The owner tag
// links the subscription to the extension (or host module) that created it
// so it can be swept when the owner unloads.
func (b *Bus) Subscribe(kind event.Kind, owner string, handler event.Handler) (event.SubscriptionID, error) {
	if kind == event.KindCustom {
		return "", oops.With("kind", string(kind)).Errorf("use SubscribeCustom for custom events")
	}
	return b.add(&subscription{kind: kind, owner: owner, handler: handler})
}

// SubscribeCustom registers a handler for custom events whose name matches
// the glob pattern. Exact event names are valid patterns.
func (b *Bus) SubscribeCustom(pattern, owner string, handler event.Handler) (event.SubscriptionID, error) {
	if pattern == "" {
		return "", oops.Errorf("custom event pattern cannot be empty")
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return "", oops.With("pattern", pattern).Wrapf(err, "invalid custom event pattern")
	}
	return b.add(&subscription{kind: event.KindCustom, owner: owner, pattern: g, handler: handler})
}

func (b *Bus) add(sub *subscription) (event.SubscriptionID, error) {
	if sub.handler == nil {
		return "", oops.Errorf("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", ErrBusClosed
	}

	sub.id = event.SubscriptionID(b.newID())
	b.subs[sub.id] = sub
	b.byKind[sub.kind] = append(b.byKind[sub.kind], sub)
	return sub.id, nil
}

// Unsubscribe removes one subscription.
func (b *Bus) Unsubscribe(id event.SubscriptionID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[id]
	if !ok {
		return oops.With("subscription_id", string(id)).Wrap(ErrUnknownSubscription)
	}
	delete(b.subs, id)
	b.removeFromKindLocked(sub)
	return nil
}

// RemoveOwner releases every subscription owned by the given owner.
// Returns the number of subscriptions released.
func (b *Bus) RemoveOwner(owner string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for id, sub := range b.subs {
		if sub.owner != owner {
			continue
		}
		delete(b.subs, id)
		b.removeFromKindLocked(sub)
		removed++
	}
	return removed
}

func (b *Bus) removeFromKindLocked(sub *subscription) {
	list := b.byKind[sub.kind]
	for i, s := range list {
		if s.id == sub.id {
			b.byKind[sub.kind] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Count returns the number of live subscriptions.
func (b *Bus) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Emit fans the event out to all matching handlers concurrently and waits
// for the whole batch to settle. Handler failures are contained here: they
// are logged per handler and never returned to the emitter.
//
// The event's ID and Timestamp are assigned here if unset.
func (b *Bus) Emit(ctx context.Context, ev event.Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	matching := b.matchLocked(ev)
	b.mu.RUnlock()

	if ev.ID == "" {
		ev.ID = b.newID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if len(matching) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	wg.Add(len(matching))
	for _, sub := range matching {
		go func(sub *subscription) {
			defer wg.Done()
			b.deliver(ctx, sub, ev)
		}(sub)
	}
	wg.Wait()
	return nil
}

// matchLocked selects subscriptions for the event. Caller holds the lock.
func (b *Bus) matchLocked(ev event.Event) []*subscription {
	candidates := b.byKind[ev.Kind]
	if ev.Kind != event.KindCustom {
		out := make([]*subscription, len(candidates))
		copy(out, candidates)
		return out
	}

	var out []*subscription
	for _, sub := range candidates {
		if sub.pattern != nil && sub.pattern.Match(ev.Name) {
			out = append(out, sub)
		}
	}
	return out
}

// deliver runs one handler, containing errors and panics.
func (b *Bus) deliver(ctx context.Context, sub *subscription, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"subscription_id", string(sub.id),
				"owner", sub.owner,
				"event_kind", string(ev.Kind),
				"event_name", ev.Name,
				"panic", r)
			observability.RecordEventHandlerFailure(string(ev.Kind))
		}
	}()

	if err := sub.handler(ctx, ev); err != nil {
		observability.RecordEventHandlerFailure(string(ev.Kind))
		b.logger.Warn("event handler failed",
			"subscription_id", string(sub.id),
			"owner", sub.owner,
			"event_id", ev.ID,
			"event_kind", string(ev.Kind),
			"event_name", ev.Name,
			"error", err)
	}
}

// Close rejects further subscriptions and emissions and drops all
// subscriptions. In-flight emissions finish with the handlers they already
// selected.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[event.SubscriptionID]*subscription)
	b.byKind = make(map[event.Kind][]*subscription)
}
