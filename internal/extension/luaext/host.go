// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

package luaext

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	hostext "github.com/modhaven/modhaven/internal/extension"
	"github.com/modhaven/modhaven/pkg/event"
	"github.com/modhaven/modhaven/pkg/extension"
	"github.com/modhaven/modhaven/pkg/message"
)

// Compile-time interface check.
var _ hostext.Instantiator = (*Host)(nil)

// scriptCallTimeout bounds each event-delivery and message-handling script
// call. Initialize and Shutdown are already bounded by the loader's
// lifecycle timeout; without this bound a busy-looping handler would stall
// the emitter's fan-out indefinitely.
const scriptCallTimeout = 5 * time.Second

// Host turns validated script manifests into live extension instances.
// Each instance runs its script in a fresh sandboxed state per call, so
// script bugs cannot corrupt interpreter state shared across calls.
type Host struct {
	factory *StateFactory
	logger  *slog.Logger
}

// NewHost creates a Lua extension host.
func NewHost(logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		factory: NewStateFactory(),
		logger:  logger,
	}
}

// Instantiate reads and validates the script named by the manifest and
// returns an extension backed by it. Syntax errors and missing entry
// files fail here, before the extension reaches the registry.
func (h *Host) Instantiate(ctx context.Context, manifest *hostext.Manifest, dir string) (extension.Extension, error) {
	entryPath := filepath.Join(dir, manifest.Lua.Entry)
	code, err := os.ReadFile(filepath.Clean(entryPath))
	if err != nil {
		return nil, oops.In("luaext").
			With("extension_id", manifest.ID).
			With("path", entryPath).
			Wrapf(err, "read entry file")
	}

	// Validate syntax in a throwaway state and capture the script's
	// declared message types while it is loaded.
	L, err := h.factory.NewState(ctx)
	if err != nil {
		return nil, oops.In("luaext").With("extension_id", manifest.ID).Wrapf(err, "create validation state")
	}
	defer L.Close()

	if err := L.DoString(string(code)); err != nil {
		return nil, oops.In("luaext").
			With("extension_id", manifest.ID).
			With("entry", manifest.Lua.Entry).
			Wrapf(err, "script error")
	}

	return &scriptExtension{
		descriptor: extension.Descriptor{
			ID:          manifest.ID,
			Name:        manifest.Name,
			Version:     manifest.Version,
			Description: manifest.Description,
			Author:      manifest.Author,
		},
		code:        string(code),
		handled:     declaredMessageTypes(L),
		factory:     h.factory,
		callTimeout: scriptCallTimeout,
		logger:      h.logger.With("extension_id", manifest.ID),
	}, nil
}

// declaredMessageTypes reads the handled_messages global, a table of
// message type strings. Absent or malformed entries are skipped.
func declaredMessageTypes(L *lua.LState) []string {
	tbl, ok := L.GetGlobal("handled_messages").(*lua.LTable)
	if !ok {
		return nil
	}
	var types []string
	tbl.ForEach(func(_, v lua.LValue) {
		if s, ok := v.(lua.LString); ok {
			types = append(types, string(s))
		}
	})
	return types
}

// scriptExtension adapts a Lua script to the extension contract. The
// script may define on_init(), on_shutdown(), on_event(event), and
// handle_message(type, payload); all are optional.
type scriptExtension struct {
	descriptor  extension.Descriptor
	code        string
	handled     []string
	factory     *StateFactory
	callTimeout time.Duration
	logger      *slog.Logger

	mu   sync.RWMutex
	host extension.HostContext
}

var (
	_ extension.Extension      = (*scriptExtension)(nil)
	_ extension.MessageHandler = (*scriptExtension)(nil)
)

// Describe returns the manifest-derived descriptor.
func (s *scriptExtension) Describe() extension.Descriptor {
	return s.descriptor
}

// Initialize calls the script's on_init handler and, when the script
// defines on_event, subscribes it to the full event stream.
func (s *scriptExtension) Initialize(ctx context.Context, host extension.HostContext) error {
	s.mu.Lock()
	s.host = host
	s.mu.Unlock()

	L, err := s.factory.NewState(ctx)
	if err != nil {
		return oops.In("luaext").With("extension_id", s.descriptor.ID).Wrapf(err, "create state")
	}
	defer L.Close()
	L.SetContext(ctx)

	if err := L.DoString(s.code); err != nil {
		return oops.In("luaext").With("extension_id", s.descriptor.ID).Wrapf(err, "load script")
	}

	if fn := L.GetGlobal("on_init"); fn.Type() != lua.LTNil {
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
			return oops.In("luaext").With("extension_id", s.descriptor.ID).Wrapf(err, "on_init")
		}
	}

	if L.GetGlobal("on_event").Type() != lua.LTNil {
		if err := s.subscribeEvents(host); err != nil {
			return err
		}
	}
	return nil
}

func (s *scriptExtension) subscribeEvents(host extension.HostContext) error {
	kinds := []event.Kind{
		event.KindModLoaded,
		event.KindModUnloaded,
		event.KindModImported,
		event.KindModDeleted,
		event.KindModsRefreshed,
	}
	for _, k := range kinds {
		if _, err := host.Subscribe(k, s.deliverEvent); err != nil {
			return oops.In("luaext").With("extension_id", s.descriptor.ID).With("kind", string(k)).Wrapf(err, "subscribe")
		}
	}
	if _, err := host.SubscribeCustom("*", s.deliverEvent); err != nil {
		return oops.In("luaext").With("extension_id", s.descriptor.ID).Wrapf(err, "subscribe custom")
	}
	return nil
}

// Shutdown calls the script's on_shutdown handler.
func (s *scriptExtension) Shutdown(ctx context.Context) error {
	L, err := s.factory.NewState(ctx)
	if err != nil {
		return oops.In("luaext").With("extension_id", s.descriptor.ID).Wrapf(err, "create state")
	}
	defer L.Close()
	L.SetContext(ctx)

	if err := L.DoString(s.code); err != nil {
		return oops.In("luaext").With("extension_id", s.descriptor.ID).Wrapf(err, "load script")
	}

	fn := L.GetGlobal("on_shutdown")
	if fn.Type() == lua.LTNil {
		return nil
	}
	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
		return oops.In("luaext").With("extension_id", s.descriptor.ID).Wrapf(err, "on_shutdown")
	}
	return nil
}

// HandledMessageTypes returns the types declared by handled_messages.
func (s *scriptExtension) HandledMessageTypes() []string {
	return append([]string(nil), s.handled...)
}

// HandleMessage executes handle_message(type, payload) in a fresh state,
// bounded by the call timeout. The handler returns a JSON string (or nil)
// that becomes the response data; a Lua error becomes an error response.
func (s *scriptExtension) HandleMessage(ctx context.Context, req *message.Request) *message.Response {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	L, err := s.factory.NewState(ctx)
	if err != nil {
		return message.Fail(req.ID, oops.In("luaext").With("extension_id", s.descriptor.ID).Wrapf(err, "create state"))
	}
	defer L.Close()
	L.SetContext(ctx)

	if err := L.DoString(s.code); err != nil {
		return message.Fail(req.ID, oops.In("luaext").With("extension_id", s.descriptor.ID).Wrapf(err, "load script"))
	}

	fn := L.GetGlobal("handle_message")
	if fn.Type() == lua.LTNil {
		return message.Fail(req.ID, oops.Code(message.CodeHandlerFailure).
			With("type", req.Type).
			Errorf("script declares %q but defines no handle_message", req.Type))
	}

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true},
		lua.LString(req.Type), lua.LString(req.Payload)); err != nil {
		return message.Fail(req.ID, oops.In("luaext").
			With("extension_id", s.descriptor.ID).
			With("type", req.Type).
			Code(message.CodeHandlerFailure).
			Wrapf(err, "handle_message"))
	}

	ret := L.Get(-1)
	L.Pop(1)

	switch v := ret.(type) {
	case lua.LString:
		if !json.Valid([]byte(v)) {
			return message.Fail(req.ID, oops.Code(message.CodeHandlerFailure).
				With("type", req.Type).
				Errorf("handler returned invalid JSON"))
		}
		return &message.Response{ID: req.ID, Success: true, Data: json.RawMessage(v)}
	case *lua.LNilType:
		return &message.Response{ID: req.ID, Success: true}
	default:
		return message.Fail(req.ID, oops.Code(message.CodeHandlerFailure).
			With("type", req.Type).
			Errorf("handler returned unsupported value %s", ret.Type()))
	}
}

// deliverEvent runs the script's on_event handler for one event, bounded
// by the call timeout so a stuck handler cannot stall the bus fan-out.
func (s *scriptExtension) deliverEvent(ctx context.Context, ev event.Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	L, err := s.factory.NewState(ctx)
	if err != nil {
		return oops.In("luaext").With("extension_id", s.descriptor.ID).Wrapf(err, "create state")
	}
	defer L.Close()
	L.SetContext(ctx)

	if err := L.DoString(s.code); err != nil {
		return oops.In("luaext").With("extension_id", s.descriptor.ID).Wrapf(err, "load script")
	}

	fn := L.GetGlobal("on_event")
	if fn.Type() == lua.LTNil {
		return nil
	}

	t := L.NewTable()
	L.SetField(t, "id", lua.LString(ev.ID))
	L.SetField(t, "kind", lua.LString(ev.Kind))
	L.SetField(t, "name", lua.LString(ev.Name))
	L.SetField(t, "source", lua.LString(ev.Source))
	L.SetField(t, "payload", lua.LString(ev.Payload))

	if err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, t); err != nil {
		return oops.In("luaext").With("extension_id", s.descriptor.ID).Wrapf(err, "on_event")
	}
	return nil
}
