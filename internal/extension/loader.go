// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModHaven Contributors

package extension

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	eventbus "github.com/modhaven/modhaven/internal/event"
	"github.com/modhaven/modhaven/pkg/extension"
	"github.com/modhaven/modhaven/pkg/service"
)

// State is the loader's lifecycle phase.
type State string

// Loader states. Transitions run strictly forward:
// Idle → Scanning → Discovering → Registering → Sealed → Initializing →
// Running → ShuttingDown → Stopped.
const (
	StateIdle         State = "idle"
	StateScanning     State = "scanning"
	StateDiscovering  State = "discovering"
	StateRegistering  State = "registering"
	StateSealed       State = "sealed"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateShuttingDown State = "shutting_down"
	StateStopped      State = "stopped"
)

// DefaultLifecycleTimeout bounds each extension's Initialize and Shutdown
// call so one broken extension cannot stall startup or shutdown.
const DefaultLifecycleTimeout = 30 * time.Second

// manifestName is the manifest file every extension package must carry.
const manifestName = "extension.yaml"

// Instantiator creates an extension instance from a discovered manifest.
// It abstracts non-builtin runtimes (the Lua host) so the loader does not
// depend on them directly.
type Instantiator interface {
	Instantiate(ctx context.Context, manifest *Manifest, dir string) (extension.Extension, error)
}

// discovered pairs a validated manifest with its package directory.
type discovered struct {
	manifest *Manifest
	dir      string
}

// pending is an instantiated extension awaiting initialization.
type pending struct {
	manifest *Manifest
	instance extension.Extension
}

// Loader discovers extension packages, drives the two-phase startup
// protocol (register services, seal, then initialize), and populates the
// live registry. One bad extension never aborts the scan: discovery,
// instantiation, and initialization failures are contained per extension.
type Loader struct {
	dir       string
	factories *extension.FactorySet
	services  HostServices
	svcReg    *service.Registry
	registry  *Registry
	bus       *eventbus.Bus
	luaHost   Instantiator
	timeout   time.Duration
	logger    *slog.Logger

	mu    sync.Mutex
	state State
}

// LoaderOption configures the Loader.
type LoaderOption func(*Loader)

// WithLuaHost sets the instantiator for script extensions. Without it,
// manifests of type lua are logged and skipped.
func WithLuaHost(h Instantiator) LoaderOption {
	return func(l *Loader) { l.luaHost = h }
}

// WithLifecycleTimeout overrides the per-extension Initialize/Shutdown
// timeout.
func WithLifecycleTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// NewLoader creates a loader for the given extension directory.
func NewLoader(
	dir string,
	factories *extension.FactorySet,
	services HostServices,
	svcReg *service.Registry,
	registry *Registry,
	bus *eventbus.Bus,
	logger *slog.Logger,
	opts ...LoaderOption,
) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{
		dir:       dir,
		factories: factories,
		services:  services,
		svcReg:    svcReg,
		registry:  registry,
		bus:       bus,
		timeout:   DefaultLifecycleTimeout,
		logger:    logger,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the loader's current lifecycle phase.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loader) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// Load runs the full startup protocol and leaves the loader in Running
// state. It returns an error only for host-level failures (unreadable
// directory, sealed registry); extension failures are logged and skipped.
func (l *Loader) Load(ctx context.Context) error {
	l.setState(StateScanning)
	dirs, err := l.scan()
	if err != nil {
		return err
	}

	l.setState(StateDiscovering)
	found := l.discover(dirs)

	l.setState(StateRegistering)
	pendings := l.instantiate(ctx, found)
	pendings, err = l.configureServices(pendings)
	if err != nil {
		return err
	}

	l.svcReg.Seal()
	l.setState(StateSealed)

	l.setState(StateInitializing)
	l.initialize(ctx, pendings)

	l.setState(StateRunning)
	l.logger.Info("extension runtime running",
		"loaded", l.registry.Count(),
		"discovered", len(found))
	return nil
}

// scan enumerates the extension directory, creating it when absent. A
// missing directory is not an error: the host starts with zero extensions.
func (l *Loader) scan() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(l.dir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("create extension directory %s: %w", l.dir, mkErr)
			}
			return nil, nil
		}
		return nil, fmt.Errorf("read extension directory %s: %w", l.dir, err)
	}

	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dirs = append(dirs, filepath.Join(l.dir, entry.Name()))
	}
	return dirs, nil
}

// discover parses and validates the manifest of each package. Packages
// without a valid manifest are logged and skipped.
func (l *Loader) discover(dirs []string) []discovered {
	var found []discovered
	for _, dir := range dirs {
		manifestPath := filepath.Join(dir, manifestName)
		data, err := os.ReadFile(manifestPath) //nolint:gosec // path constructed from ReadDir entries
		if err != nil {
			l.logger.Warn("skipping extension package without manifest",
				"dir", filepath.Base(dir),
				"error", err)
			continue
		}

		if err := ValidateSchema(data); err != nil {
			l.logger.Warn("skipping extension with invalid manifest",
				"dir", filepath.Base(dir),
				"error", FormatSchemaError(err))
			continue
		}

		manifest, err := ParseManifest(data)
		if err != nil {
			l.logger.Warn("skipping extension with invalid manifest",
				"dir", filepath.Base(dir),
				"error", err)
			continue
		}

		found = append(found, discovered{manifest: manifest, dir: dir})
	}
	return found
}

// instantiate constructs each discovered extension, containing per-type
// failures including constructor panics. Duplicate ids are rejected here:
// the first discovery wins.
func (l *Loader) instantiate(ctx context.Context, found []discovered) []*pending {
	var pendings []*pending
	seen := make(map[string]bool)

	for _, d := range found {
		if seen[d.manifest.ID] {
			l.logger.Warn("duplicate extension id rejected",
				"extension_id", d.manifest.ID,
				"dir", filepath.Base(d.dir))
			continue
		}

		inst, err := l.newInstance(ctx, d)
		if err != nil {
			l.logger.Error("failed to instantiate extension",
				"extension_id", d.manifest.ID,
				"type", string(d.manifest.Type),
				"error", err)
			continue
		}
		if inst == nil {
			continue // unsupported type, already logged
		}

		seen[d.manifest.ID] = true
		pendings = append(pendings, &pending{manifest: d.manifest, instance: inst})
	}
	return pendings
}

// newInstance dispatches on manifest type. A panicking factory is
// converted into an error so one bad constructor never aborts the scan.
func (l *Loader) newInstance(ctx context.Context, d discovered) (inst extension.Extension, err error) {
	defer func() {
		if r := recover(); r != nil {
			inst = nil
			err = fmt.Errorf("constructor panicked: %v", r)
		}
	}()

	switch d.manifest.Type {
	case TypeBuiltin:
		if l.factories == nil {
			return nil, fmt.Errorf("no factory set configured")
		}
		return l.factories.New(d.manifest.Builtin.Factory)
	case TypeLua:
		if l.luaHost == nil {
			l.logger.Warn("no Lua host configured, skipping script extension",
				"extension_id", d.manifest.ID)
			return nil, nil
		}
		return l.luaHost.Instantiate(ctx, d.manifest, d.dir)
	default:
		// Unknown types are rejected by Manifest.Validate; handle defensively.
		l.logger.Warn("unknown extension type, skipping",
			"extension_id", d.manifest.ID,
			"type", string(d.manifest.Type))
		return nil, nil
	}
}

// configureServices runs the service-provider capability of every pending
// extension against the still-open registry. This must complete for all
// extensions before sealing; a provider failure drops that extension but
// never blocks siblings. A sealed registry at this point is a host
// programming error.
func (l *Loader) configureServices(pendings []*pending) ([]*pending, error) {
	if l.svcReg.Sealed() {
		return nil, fmt.Errorf("service registry sealed before extension registration phase")
	}

	kept := make([]*pending, 0, len(pendings))
	for _, p := range pendings {
		provider, ok := p.instance.(extension.ServiceProvider)
		if !ok {
			kept = append(kept, p)
			continue
		}
		if err := l.runConfigure(provider, p.manifest.ID); err != nil {
			l.logger.Error("extension service configuration failed",
				"extension_id", p.manifest.ID,
				"error", err)
			continue
		}
		kept = append(kept, p)
	}
	return kept, nil
}

func (l *Loader) runConfigure(provider extension.ServiceProvider, id string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ConfigureServices panicked: %v", r)
		}
	}()
	return provider.ConfigureServices(l.svcReg)
}

// initialize runs Initialize on every pending extension concurrently, each
// bounded by the lifecycle timeout. Successes enter the registry; failures
// are logged and excluded, never half-registered.
func (l *Loader) initialize(ctx context.Context, pendings []*pending) {
	var wg sync.WaitGroup
	for _, p := range pendings {
		wg.Add(1)
		go func(p *pending) {
			defer wg.Done()
			l.initOne(ctx, p)
		}(p)
	}
	wg.Wait()
}

func (l *Loader) initOne(ctx context.Context, p *pending) {
	id := p.manifest.ID
	hostCtx := newHostContext(id, l.services, l.bus, l.registry)

	initCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("Initialize panicked: %v", r)
			}
		}()
		return p.instance.Initialize(initCtx, hostCtx)
	}()
	if err != nil {
		l.logger.Error("extension initialization failed",
			"extension_id", id,
			"error", err)
		// Release anything the extension registered before failing.
		if l.bus != nil {
			l.bus.RemoveOwner(id)
		}
		return
	}

	if regErr := l.registry.Register(p.instance); regErr != nil {
		l.logger.Warn("extension registration rejected",
			"extension_id", id,
			"error", regErr)
		if l.bus != nil {
			l.bus.RemoveOwner(id)
		}
		return
	}

	l.logger.Info("loaded extension",
		"extension_id", id,
		"name", p.manifest.Name,
		"version", p.manifest.Version,
		"type", string(p.manifest.Type))
}

// Shutdown stops every live extension concurrently, tolerating individual
// failures, releases their subscriptions, and clears the registry.
func (l *Loader) Shutdown(ctx context.Context) {
	l.setState(StateShuttingDown)

	regs := l.registry.snapshot()
	var wg sync.WaitGroup
	for _, reg := range regs {
		wg.Add(1)
		go func(reg *Registration) {
			defer wg.Done()
			l.shutdownOne(ctx, reg)
		}(reg)
	}
	wg.Wait()

	l.registry.clear()
	l.setState(StateStopped)
	l.logger.Info("extension runtime stopped", "count", len(regs))
}

func (l *Loader) shutdownOne(ctx context.Context, reg *Registration) {
	id := reg.Descriptor.ID

	stopCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("Shutdown panicked: %v", r)
			}
		}()
		return reg.Instance.Shutdown(stopCtx)
	}()
	if err != nil {
		l.logger.Warn("extension shutdown failed",
			"extension_id", id,
			"error", err)
	}

	if l.bus != nil {
		if n := l.bus.RemoveOwner(id); n > 0 {
			l.logger.Debug("released event subscriptions",
				"extension_id", id,
				"count", n)
		}
	}
}
