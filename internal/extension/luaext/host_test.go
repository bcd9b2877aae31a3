// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

package luaext_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hostext "github.com/modhaven/modhaven/internal/extension"
	"github.com/modhaven/modhaven/internal/extension/luaext"
	"github.com/modhaven/modhaven/pkg/event"
	"github.com/modhaven/modhaven/pkg/extension"
	"github.com/modhaven/modhaven/pkg/message"
	"github.com/modhaven/modhaven/pkg/mods"
)

// fakeHostContext satisfies the capability contract with recording stubs.
type fakeHostContext struct {
	mu          sync.Mutex
	kinds       []event.Kind
	patterns    []string
	handlers    []event.Handler
	dataDir     string
	emittedName string
}

func (f *fakeHostContext) Mods() mods.ModRepository                       { return nil }
func (f *fakeHostContext) Classifications() mods.ClassificationRepository { return nil }
func (f *fakeHostContext) Files() extension.FileService                   { return nil }
func (f *fakeHostContext) Launcher() extension.ProcessLauncher            { return nil }
func (f *fakeHostContext) Logger() *slog.Logger                           { return slog.Default() }
func (f *fakeHostContext) DataDir() (string, error)                       { return f.dataDir, nil }

func (f *fakeHostContext) EmitEvent(_ context.Context, name string, _ json.RawMessage) error {
	f.mu.Lock()
	f.emittedName = name
	f.mu.Unlock()
	return nil
}

func (f *fakeHostContext) Subscribe(kind event.Kind, handler event.Handler) (event.SubscriptionID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
	f.handlers = append(f.handlers, handler)
	return event.SubscriptionID("sub"), nil
}

func (f *fakeHostContext) SubscribeCustom(pattern string, handler event.Handler) (event.SubscriptionID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns = append(f.patterns, pattern)
	f.handlers = append(f.handlers, handler)
	return event.SubscriptionID("sub"), nil
}

func (f *fakeHostContext) Unsubscribe(event.SubscriptionID) error { return nil }

func writeScript(t *testing.T, code string) (*hostext.Manifest, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(code), 0o600))
	manifest := &hostext.Manifest{
		ID:      "scripted",
		Name:    "Scripted",
		Version: "1.0.0",
		Type:    hostext.TypeLua,
		Lua:     &hostext.LuaConfig{Entry: "main.lua"},
	}
	return manifest, dir
}

func TestHost_Instantiate(t *testing.T) {
	manifest, dir := writeScript(t, `
handled_messages = {"GREET", "FAREWELL"}

function handle_message(msg_type, payload)
  return '{"echo":"' .. msg_type .. '"}'
end
`)

	ext, err := luaext.NewHost(nil).Instantiate(context.Background(), manifest, dir)
	require.NoError(t, err)

	desc := ext.Describe()
	assert.Equal(t, "scripted", desc.ID)
	assert.Equal(t, "1.0.0", desc.Version)

	handler, ok := ext.(extension.MessageHandler)
	require.True(t, ok)
	assert.Equal(t, []string{"GREET", "FAREWELL"}, handler.HandledMessageTypes())
}

func TestHost_Instantiate_Errors(t *testing.T) {
	t.Run("missing entry file", func(t *testing.T) {
		manifest, dir := writeScript(t, `x = 1`)
		manifest.Lua.Entry = "absent.lua"

		_, err := luaext.NewHost(nil).Instantiate(context.Background(), manifest, dir)
		assert.Error(t, err)
	})

	t.Run("syntax error", func(t *testing.T) {
		manifest, dir := writeScript(t, `function broken(`)

		_, err := luaext.NewHost(nil).Instantiate(context.Background(), manifest, dir)
		require.Error(t, err)
		assert.ErrorContains(t, err, "script error")
	})
}

func TestScriptExtension_InitializeAndShutdown(t *testing.T) {
	manifest, dir := writeScript(t, `
initialized = false

function on_init()
  initialized = true
end

function on_shutdown()
end
`)

	ext, err := luaext.NewHost(nil).Instantiate(context.Background(), manifest, dir)
	require.NoError(t, err)

	host := &fakeHostContext{dataDir: t.TempDir()}
	require.NoError(t, ext.Initialize(context.Background(), host))
	assert.Empty(t, host.kinds, "no on_event means no subscriptions")

	require.NoError(t, ext.Shutdown(context.Background()))
}

func TestScriptExtension_OnInitError(t *testing.T) {
	manifest, dir := writeScript(t, `
function on_init()
  error("refusing to start")
end
`)

	ext, err := luaext.NewHost(nil).Instantiate(context.Background(), manifest, dir)
	require.NoError(t, err)

	err = ext.Initialize(context.Background(), &fakeHostContext{})
	require.Error(t, err)
	assert.ErrorContains(t, err, "refusing to start")
}

func TestScriptExtension_OnEventSubscribesEverything(t *testing.T) {
	manifest, dir := writeScript(t, `
function on_event(ev)
end
`)

	ext, err := luaext.NewHost(nil).Instantiate(context.Background(), manifest, dir)
	require.NoError(t, err)

	host := &fakeHostContext{}
	require.NoError(t, ext.Initialize(context.Background(), host))

	assert.ElementsMatch(t, []event.Kind{
		event.KindModLoaded, event.KindModUnloaded,
		event.KindModImported, event.KindModDeleted,
		event.KindModsRefreshed,
	}, host.kinds)
	assert.Equal(t, []string{"*"}, host.patterns)
}

func TestScriptExtension_EventDelivery(t *testing.T) {
	manifest, dir := writeScript(t, `
function on_event(ev)
  if ev.kind ~= "mod_loaded" then
    error("unexpected kind " .. ev.kind)
  end
  if ev.payload ~= '{"id":"m1"}' then
    error("unexpected payload " .. ev.payload)
  end
end
`)

	ext, err := luaext.NewHost(nil).Instantiate(context.Background(), manifest, dir)
	require.NoError(t, err)

	host := &fakeHostContext{}
	require.NoError(t, ext.Initialize(context.Background(), host))
	require.NotEmpty(t, host.handlers)

	err = host.handlers[0](context.Background(), event.Event{
		ID:      "ev1",
		Kind:    event.KindModLoaded,
		Payload: json.RawMessage(`{"id":"m1"}`),
	})
	assert.NoError(t, err)
}

func TestScriptExtension_HandleMessage(t *testing.T) {
	manifest, dir := writeScript(t, `
handled_messages = {"GREET", "QUIET", "GARBAGE", "BOOM"}

function handle_message(msg_type, payload)
  if msg_type == "GREET" then
    return '{"greeting":"hello"}'
  elseif msg_type == "QUIET" then
    return nil
  elseif msg_type == "GARBAGE" then
    return "not json at all"
  else
    error("cannot handle " .. msg_type)
  end
end
`)

	ext, err := luaext.NewHost(nil).Instantiate(context.Background(), manifest, dir)
	require.NoError(t, err)
	handler := ext.(extension.MessageHandler)

	t.Run("json response", func(t *testing.T) {
		resp := handler.HandleMessage(context.Background(), &message.Request{ID: "r1", Type: "GREET"})
		require.True(t, resp.Success)
		assert.JSONEq(t, `{"greeting":"hello"}`, string(resp.Data))
	})

	t.Run("nil response is bare success", func(t *testing.T) {
		resp := handler.HandleMessage(context.Background(), &message.Request{ID: "r1", Type: "QUIET"})
		require.True(t, resp.Success)
		assert.Empty(t, resp.Data)
	})

	t.Run("invalid json rejected", func(t *testing.T) {
		resp := handler.HandleMessage(context.Background(), &message.Request{ID: "r1", Type: "GARBAGE"})
		require.False(t, resp.Success)
		assert.Equal(t, message.CodeHandlerFailure, resp.ErrorDetails["code"])
	})

	t.Run("script error becomes error response", func(t *testing.T) {
		resp := handler.HandleMessage(context.Background(), &message.Request{ID: "r1", Type: "BOOM"})
		require.False(t, resp.Success)
		assert.Equal(t, "r1", resp.ID)
		assert.Equal(t, message.CodeHandlerFailure, resp.ErrorDetails["code"])
	})
}

func TestScriptExtension_HandleMessage_NoHandlerDefined(t *testing.T) {
	manifest, dir := writeScript(t, `handled_messages = {"GREET"}`)

	ext, err := luaext.NewHost(nil).Instantiate(context.Background(), manifest, dir)
	require.NoError(t, err)

	resp := ext.(extension.MessageHandler).HandleMessage(context.Background(), &message.Request{ID: "r1", Type: "GREET"})
	require.False(t, resp.Success)
	assert.Equal(t, message.CodeHandlerFailure, resp.ErrorDetails["code"])
}
