// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

package extension_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	eventbus "github.com/modhaven/modhaven/internal/event"
	hostext "github.com/modhaven/modhaven/internal/extension"
	"github.com/modhaven/modhaven/pkg/event"
	"github.com/modhaven/modhaven/pkg/extension"
	"github.com/modhaven/modhaven/pkg/service"
)

// subscribingExt subscribes to mod-unloaded events during Initialize and
// counts deliveries.
type subscribingExt struct {
	fakeExt
	received atomic.Int32
}

func (s *subscribingExt) Initialize(_ context.Context, host extension.HostContext) error {
	s.initialized = true
	_, err := host.Subscribe(event.KindModUnloaded, func(context.Context, event.Event) error {
		s.received.Add(1)
		return nil
	})
	return err
}

// writeManifest creates an extension package directory with a manifest.
func writeManifest(t *testing.T, root, dir, content string) {
	t.Helper()
	pkgDir := filepath.Join(root, dir)
	require.NoError(t, os.MkdirAll(pkgDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(pkgDir, "extension.yaml"), []byte(content), 0o600))
}

func builtinManifest(id, factory string) string {
	return "id: " + id + "\nname: " + id + "\nversion: 1.0.0\ntype: builtin\nbuiltin:\n  factory: " + factory + "\n"
}

// newTestLoader wires a loader with an in-memory bus and fresh registries.
func newTestLoader(t *testing.T, dir string, factories *extension.FactorySet, opts ...hostext.LoaderOption) (*hostext.Loader, *hostext.Registry, *eventbus.Bus, *service.Registry) {
	t.Helper()
	bus := eventbus.NewBus(nil)
	t.Cleanup(bus.Close)
	registry := hostext.NewRegistry(nil, bus)
	svcReg := service.NewRegistry()
	loader := hostext.NewLoader(dir, factories, hostext.HostServices{DataRoot: t.TempDir()}, svcReg, registry, bus, nil, opts...)
	return loader, registry, bus, svcReg
}

func TestLoader_OneBadExtensionDoesNotAbortTheScan(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "pkg-a", builtinManifest("ext-a", "ext-a"))
	writeManifest(t, root, "pkg-b", builtinManifest("ext-b", "ext-b"))
	writeManifest(t, root, "pkg-c", builtinManifest("ext-c", "ext-c"))

	extA := &subscribingExt{fakeExt: fakeExt{id: "ext-a"}}
	extC := &subscribingExt{fakeExt: fakeExt{id: "ext-c"}}

	factories := extension.NewFactorySet()
	require.NoError(t, factories.Register("ext-a", func() (extension.Extension, error) { return extA, nil }))
	require.NoError(t, factories.Register("ext-b", func() (extension.Extension, error) { panic("constructor exploded") }))
	require.NoError(t, factories.Register("ext-c", func() (extension.Extension, error) { return extC, nil }))

	loader, registry, bus, _ := newTestLoader(t, root, factories)
	require.NoError(t, loader.Load(context.Background()))

	assert.Equal(t, hostext.StateRunning, loader.State())
	assert.Equal(t, 2, registry.Count(), "the two healthy extensions must load")
	_, ok := registry.Get("ext-b")
	assert.False(t, ok)

	// Events still reach both survivors.
	require.NoError(t, bus.Emit(context.Background(), event.Event{Kind: event.KindModUnloaded}))
	assert.Equal(t, int32(1), extA.received.Load())
	assert.Equal(t, int32(1), extC.received.Load())
}

func TestLoader_MissingDirectoryMeansZeroExtensions(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "not-yet-created")

	loader, registry, _, _ := newTestLoader(t, dir, extension.NewFactorySet())
	require.NoError(t, loader.Load(context.Background()))

	assert.Equal(t, hostext.StateRunning, loader.State())
	assert.Equal(t, 0, registry.Count())
	assert.DirExists(t, dir, "the directory is created for future packages")
}

func TestLoader_InvalidManifestSkipped(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "pkg-bad", "id: BAD ID\nname: X\n")
	writeManifest(t, root, "pkg-good", builtinManifest("good", "good"))

	factories := extension.NewFactorySet()
	require.NoError(t, factories.Register("good", func() (extension.Extension, error) {
		return &fakeExt{id: "good"}, nil
	}))

	loader, registry, _, _ := newTestLoader(t, root, factories)
	require.NoError(t, loader.Load(context.Background()))

	assert.Equal(t, 1, registry.Count())
}

func TestLoader_DuplicateManifestID_FirstWins(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "pkg-1", builtinManifest("dup", "dup"))
	writeManifest(t, root, "pkg-2", builtinManifest("dup", "dup"))

	var constructed atomic.Int32
	factories := extension.NewFactorySet()
	require.NoError(t, factories.Register("dup", func() (extension.Extension, error) {
		constructed.Add(1)
		return &fakeExt{id: "dup"}, nil
	}))

	loader, registry, _, _ := newTestLoader(t, root, factories)
	require.NoError(t, loader.Load(context.Background()))

	assert.Equal(t, 1, registry.Count())
	assert.Equal(t, int32(1), constructed.Load())
}

func TestLoader_LuaWithoutHostSkipped(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "pkg-lua", "id: scripted\nname: Scripted\nversion: 1.0.0\ntype: lua\nlua:\n  entry: main.lua\n")

	loader, registry, _, _ := newTestLoader(t, root, extension.NewFactorySet())
	require.NoError(t, loader.Load(context.Background()))

	assert.Equal(t, 0, registry.Count())
}

func TestLoader_TwoPhaseStartup_ServicesSealedBeforeInitialize(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "pkg-provider", builtinManifest("provider", "provider"))
	writeManifest(t, root, "pkg-consumer", builtinManifest("consumer", "consumer"))

	provider := &fakeProviderExt{fakeExt: fakeExt{id: "provider"}, serviceName: "shared.svc"}
	var sealedAtInit atomic.Bool
	var lookupOK atomic.Bool

	factories := extension.NewFactorySet()
	require.NoError(t, factories.Register("provider", func() (extension.Extension, error) { return provider, nil }))

	loader, registry, _, svcReg := newTestLoader(t, root, factories)
	consumer := &initFuncExt{id: "consumer", init: func(context.Context, extension.HostContext) error {
		sealedAtInit.Store(svcReg.Sealed())
		_, err := service.Lookup[string](svcReg, "shared.svc")
		lookupOK.Store(err == nil)
		return nil
	}}
	require.NoError(t, factories.Register("consumer", func() (extension.Extension, error) { return consumer, nil }))

	require.NoError(t, loader.Load(context.Background()))

	assert.Equal(t, 2, registry.Count())
	assert.True(t, sealedAtInit.Load(), "registry must be sealed before any Initialize runs")
	assert.True(t, lookupOK.Load(), "services registered by siblings must be visible at Initialize")
}

// initFuncExt delegates Initialize to a closure.
type initFuncExt struct {
	id   string
	init func(context.Context, extension.HostContext) error
}

func (f *initFuncExt) Describe() extension.Descriptor {
	return extension.Descriptor{ID: f.id, Name: f.id, Version: "1.0.0"}
}

func (f *initFuncExt) Initialize(ctx context.Context, host extension.HostContext) error {
	return f.init(ctx, host)
}

func (f *initFuncExt) Shutdown(context.Context) error { return nil }

func TestLoader_InitializeFailureExcludesAndSweepsSubscriptions(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "pkg-failing", builtinManifest("failing", "failing"))

	factories := extension.NewFactorySet()
	loader, registry, bus, _ := newTestLoader(t, root, factories)

	failing := &initFuncExt{id: "failing", init: func(_ context.Context, host extension.HostContext) error {
		// Subscribe first, then fail: the subscription must not leak.
		if _, err := host.Subscribe(event.KindModLoaded, func(context.Context, event.Event) error { return nil }); err != nil {
			return err
		}
		return assert.AnError
	}}
	require.NoError(t, factories.Register("failing", func() (extension.Extension, error) { return failing, nil }))

	require.NoError(t, loader.Load(context.Background()))

	assert.Equal(t, 0, registry.Count())
	assert.Equal(t, 0, bus.Count(), "subscriptions of a failed extension must be released")
}

func TestLoader_InitializePanicContained(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "pkg-panics", builtinManifest("panics", "panics"))
	writeManifest(t, root, "pkg-fine", builtinManifest("fine", "fine"))

	factories := extension.NewFactorySet()
	require.NoError(t, factories.Register("panics", func() (extension.Extension, error) {
		return &initFuncExt{id: "panics", init: func(context.Context, extension.HostContext) error {
			panic("init exploded")
		}}, nil
	}))
	require.NoError(t, factories.Register("fine", func() (extension.Extension, error) {
		return &fakeExt{id: "fine"}, nil
	}))

	loader, registry, _, _ := newTestLoader(t, root, factories)
	require.NoError(t, loader.Load(context.Background()))

	assert.Equal(t, 1, registry.Count())
	_, ok := registry.Get("fine")
	assert.True(t, ok)
}

func TestLoader_ShutdownClearsRegistryAndSubscriptions(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "pkg-a", builtinManifest("ext-a", "ext-a"))

	extA := &subscribingExt{fakeExt: fakeExt{id: "ext-a"}}
	factories := extension.NewFactorySet()
	require.NoError(t, factories.Register("ext-a", func() (extension.Extension, error) { return extA, nil }))

	loader, registry, bus, _ := newTestLoader(t, root, factories)
	require.NoError(t, loader.Load(context.Background()))
	require.Equal(t, 1, registry.Count())

	loader.Shutdown(context.Background())

	assert.Equal(t, hostext.StateStopped, loader.State())
	assert.Equal(t, 0, registry.Count())
	assert.Equal(t, 0, bus.Count())
	assert.Equal(t, 1, extA.shutdowns)
}

func TestLoader_DisabledExtensionSkipsDelivery(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "pkg-a", builtinManifest("ext-a", "ext-a"))

	extA := &subscribingExt{fakeExt: fakeExt{id: "ext-a"}}
	factories := extension.NewFactorySet()
	require.NoError(t, factories.Register("ext-a", func() (extension.Extension, error) { return extA, nil }))

	loader, registry, bus, _ := newTestLoader(t, root, factories)
	require.NoError(t, loader.Load(context.Background()))

	require.NoError(t, bus.Emit(context.Background(), event.Event{Kind: event.KindModUnloaded}))
	require.Equal(t, int32(1), extA.received.Load())

	// Disabling keeps the subscription registered but mutes delivery.
	require.NoError(t, registry.SetEnabled("ext-a", false))
	require.NoError(t, bus.Emit(context.Background(), event.Event{Kind: event.KindModUnloaded}))
	assert.Equal(t, int32(1), extA.received.Load(), "disabled extension must not receive events")
	assert.Equal(t, 1, bus.Count(), "subscription survives the disable")

	require.NoError(t, registry.SetEnabled("ext-a", true))
	require.NoError(t, bus.Emit(context.Background(), event.Event{Kind: event.KindModUnloaded}))
	assert.Equal(t, int32(2), extA.received.Load(), "re-enabling resumes delivery")
}

func TestLoader_EventsDuringInitializeAreDropped(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "pkg-eager", builtinManifest("eager", "eager"))

	factories := extension.NewFactorySet()
	loader, registry, bus, _ := newTestLoader(t, root, factories)

	var received atomic.Int32
	eager := &initFuncExt{id: "eager", init: func(_ context.Context, host extension.HostContext) error {
		if _, err := host.Subscribe(event.KindModUnloaded, func(context.Context, event.Event) error {
			received.Add(1)
			return nil
		}); err != nil {
			return err
		}
		// Not yet registered at this point, so the emit must not reach
		// the handler above.
		return bus.Emit(context.Background(), event.Event{Kind: event.KindModUnloaded})
	}}
	require.NoError(t, factories.Register("eager", func() (extension.Extension, error) { return eager, nil }))

	require.NoError(t, loader.Load(context.Background()))
	require.Equal(t, 1, registry.Count())
	assert.Equal(t, int32(0), received.Load(), "events emitted mid-initialize are not delivered")

	require.NoError(t, bus.Emit(context.Background(), event.Event{Kind: event.KindModUnloaded}))
	assert.Equal(t, int32(1), received.Load(), "delivery starts once initialization completes")
}
