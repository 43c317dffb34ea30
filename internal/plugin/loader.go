// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/duskhall/duskhall/internal/eventbus"
	"github.com/duskhall/duskhall/internal/observability"
	"github.com/duskhall/duskhall/internal/plugin/capability"
	"github.com/duskhall/duskhall/internal/registry"
	"github.com/duskhall/duskhall/pkg/contract"
	"github.com/duskhall/duskhall/pkg/sdk"
)

var tracer = otel.Tracer("duskhall/plugin")

// record tracks one plugin through its lifecycle. All access goes
// through the loader mutex.
type record struct {
	manifest *Manifest
	dir      string
	profile  string
	state    State
	boundary Boundary
	instance sdk.Plugin
	err      error
}

// Loader discovers, resolves, and drives plugins through their
// lifecycle. It owns the capability grants and purges a plugin's
// services and subscriptions on unload.
//
// Loading is sequential; the loader mutex is held for a whole batch, so
// lifecycle calls from different plugins never interleave.
type Loader struct {
	log       *slog.Logger
	registry  *registry.Registry
	bus       *eventbus.Bus
	enforcer  *capability.Enforcer
	factories map[LoadStrategy]BoundaryFactory
	configs   map[string]map[string]any
	metrics   *observability.Metrics

	mu      sync.Mutex
	records map[string]*record
	order   []string
	closed  bool
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the loader's logger.
func WithLogger(log *slog.Logger) LoaderOption {
	return func(l *Loader) { l.log = log }
}

// WithBoundaryFactory registers the boundary factory for a load
// strategy. Strategies without a factory fail at load time.
func WithBoundaryFactory(strategy LoadStrategy, factory BoundaryFactory) LoaderOption {
	return func(l *Loader) { l.factories[strategy] = factory }
}

// WithPluginConfigs provides per-plugin configuration sections, keyed
// by plugin id.
func WithPluginConfigs(configs map[string]map[string]any) LoaderOption {
	return func(l *Loader) { l.configs = configs }
}

// WithMetrics wires runtime metrics into the load path.
func WithMetrics(m *observability.Metrics) LoaderOption {
	return func(l *Loader) { l.metrics = m }
}

// NewLoader creates a loader over the host's registry and event bus.
func NewLoader(reg *registry.Registry, bus *eventbus.Bus, opts ...LoaderOption) *Loader {
	l := &Loader{
		log:       slog.Default(),
		registry:  reg,
		bus:       bus,
		enforcer:  capability.NewEnforcer(),
		factories: make(map[LoadStrategy]BoundaryFactory),
		records:   make(map[string]*record),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DiscoverAndLoad scans the given directories for plugin manifests,
// discards manifests that do not support the given host profile, and
// loads the rest in resolved dependency order.
//
// Planning failures (unreadable manifests, duplicate ids, missing or
// version-conflicting dependencies, cycles) abort the whole batch and
// return an error with a nil report. Profile filtering happens before
// resolution, so a required dependency on a plugin discarded for this
// profile is a planning failure too. Failures in individual plugins
// are not: the failing plugin and its transitive dependents are
// recorded in the report and loading continues with the rest.
//
// Context cancellation stops scheduling after the current plugin;
// already started plugins stay loaded.
func (l *Loader) DiscoverAndLoad(ctx context.Context, dirs []string, profile string) (*Report, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrLoaderClosed
	}

	discovered, err := discover(dirs)
	if err != nil {
		return nil, err
	}

	// Id collisions are checked over the full discovered set, before
	// profile filtering can hide one side of the collision.
	seen := make(map[string]struct{}, len(discovered))
	var manifests []*Manifest
	var discarded []string
	for _, d := range discovered {
		if _, dup := seen[d.manifest.ID]; dup {
			return nil, &DuplicatePluginError{ID: d.manifest.ID}
		}
		seen[d.manifest.ID] = struct{}{}
		if !d.manifest.Supports(profile) {
			discarded = append(discarded, d.manifest.ID)
			continue
		}
		manifests = append(manifests, d.manifest)
	}
	ordered, err := ResolveLoadOrder(manifests)
	if err != nil {
		return nil, err
	}

	dirByID := make(map[string]string, len(discovered))
	for _, d := range discovered {
		dirByID[d.manifest.ID] = d.dir
	}

	report := newReport()
	for _, id := range discarded {
		report.Skipped[id] = fmt.Sprintf("does not support profile %q", profile)
	}
	blocked := make(map[string]string) // id -> reason it cannot satisfy dependents
	canceled := false

	for _, m := range ordered {
		if canceled || ctx.Err() != nil {
			canceled = true
			report.Skipped[m.ID] = "load canceled"
			continue
		}

		if existing, ok := l.records[m.ID]; ok && existing.state == StateStarted {
			report.Skipped[m.ID] = "already loaded"
			continue
		}

		if reason := l.blockedDependency(m, blocked); reason != "" {
			report.Skipped[m.ID] = reason
			blocked[m.ID] = "skipped: " + reason
			continue
		}

		rec := &record{
			manifest: m,
			dir:      dirByID[m.ID],
			profile:  profile,
			state:    StateResolved,
		}
		l.records[m.ID] = rec

		if err := l.loadOne(ctx, rec); err != nil {
			rec.state = StateFailed
			rec.err = err
			report.Failed[m.ID] = err
			blocked[m.ID] = "failed to load"
			l.recordLoad(m.Strategy, "error")
			l.log.Error("plugin load failed", "plugin", m.ID, "error", err)
			continue
		}

		l.order = append(l.order, m.ID)
		report.Loaded = append(report.Loaded, m.ID)
		l.recordLoad(m.Strategy, "ok")
	}

	return report, nil
}

type discoveredPlugin struct {
	manifest *Manifest
	dir      string
}

// discover scans each directory's immediate subdirectories for
// manifests. Directories that do not exist are skipped; unreadable or
// invalid manifests are planning failures.
func discover(dirs []string) ([]discoveredPlugin, error) {
	var found []discoveredPlugin
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("scan plugin directory %s: %w", dir, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			pluginDir := filepath.Join(dir, entry.Name())
			manifestPath := filepath.Join(pluginDir, ManifestFileName)
			if _, err := os.Stat(manifestPath); err != nil {
				continue
			}
			m, err := LoadManifest(manifestPath)
			if err != nil {
				return nil, fmt.Errorf("manifest %s: %w", manifestPath, err)
			}
			found = append(found, discoveredPlugin{manifest: m, dir: pluginDir})
		}
	}
	return found, nil
}

// blockedDependency returns a skip reason if any required dependency of
// m could not be loaded in this batch.
func (l *Loader) blockedDependency(m *Manifest, blocked map[string]string) string {
	for _, dep := range m.Dependencies {
		if dep.Optional {
			continue
		}
		if cause, ok := blocked[dep.ID]; ok {
			return fmt.Sprintf("dependency %s %s", dep.ID, cause)
		}
	}
	return ""
}

// loadOne drives a single plugin from resolved to started. Caller
// holds the loader mutex.
func (l *Loader) loadOne(ctx context.Context, rec *record) (err error) {
	m := rec.manifest
	start := time.Now()

	ctx, span := tracer.Start(ctx, "plugin.load",
		trace.WithAttributes(
			attribute.String("plugin.id", m.ID),
			attribute.String("plugin.strategy", string(m.Strategy)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	entry, ok := m.EntryPoint(rec.profile)
	if !ok {
		return &LoadError{PluginID: m.ID, Err: fmt.Errorf("no entry point for profile %q", rec.profile)}
	}

	factory, ok := l.factories[m.Strategy]
	if !ok {
		return &LoadError{PluginID: m.ID, Err: fmt.Errorf("%w: %s", ErrUnknownStrategy, m.Strategy)}
	}

	rec.state = StateLoading

	boundary, err := factory.New(m)
	if err != nil {
		return &LoadError{PluginID: m.ID, Err: err}
	}

	instance, err := boundary.Load(ctx, m, rec.dir, entry)
	if err != nil {
		if terr := boundary.Teardown(ctx); terr != nil {
			l.log.Warn("boundary teardown after failed load", "plugin", m.ID, "error", terr)
		}
		return &LoadError{PluginID: m.ID, Err: err}
	}

	caps := m.Capabilities
	if len(caps) == 0 {
		// No declared capabilities means unrestricted.
		caps = []string{"**"}
	}
	if err := l.enforcer.Grant(m.ID, caps); err != nil {
		if terr := boundary.Teardown(ctx); terr != nil {
			l.log.Warn("boundary teardown after failed load", "plugin", m.ID, "error", terr)
		}
		return &LoadError{PluginID: m.ID, Err: err}
	}

	rec.boundary = boundary
	rec.instance = instance
	pctx := newPluginContext(l, m.ID)

	if err := instance.Initialize(ctx, pctx); err != nil {
		l.cleanupFailed(ctx, rec)
		return &InitializationError{PluginID: m.ID, Phase: "initialize", Err: err}
	}
	rec.state = StateInitialized

	if err := instance.Start(ctx); err != nil {
		l.cleanupFailed(ctx, rec)
		return &InitializationError{PluginID: m.ID, Phase: "start", Err: err}
	}
	rec.state = StateStarted

	l.publishHostEvent(ctx, contract.PluginStarted{
		PluginID:  m.ID,
		Version:   m.Version,
		Timestamp: time.Now(),
	})

	if l.metrics != nil {
		l.metrics.PluginsActive.Inc()
		l.metrics.PluginLoadTime.WithLabelValues(string(m.Strategy)).Observe(time.Since(start).Seconds())
	}
	l.log.Info("plugin started",
		"plugin", m.ID, "version", m.Version, "strategy", m.Strategy)
	return nil
}

// cleanupFailed purges everything a plugin touched before its failure.
func (l *Loader) cleanupFailed(ctx context.Context, rec *record) {
	id := rec.manifest.ID
	l.registry.UnregisterOwner(id)
	l.bus.UnsubscribeOwner(id)
	l.enforcer.Revoke(id)
	if err := rec.boundary.Teardown(ctx); err != nil {
		l.log.Warn("boundary teardown after failed start", "plugin", id, "error", err)
	}
	rec.boundary = nil
	rec.instance = nil
}

// Unload stops a started plugin, purges its services, subscriptions,
// and grants, and tears down its boundary. A failing Stop is logged and
// does not block the purge.
func (l *Loader) Unload(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLoaderClosed
	}
	rec, ok := l.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	if rec.state != StateStarted {
		return fmt.Errorf("%w: %s is %s", ErrNotStarted, id, rec.state)
	}
	return l.unloadLocked(ctx, rec)
}

func (l *Loader) unloadLocked(ctx context.Context, rec *record) error {
	id := rec.manifest.ID

	ctx, span := tracer.Start(ctx, "plugin.unload",
		trace.WithAttributes(attribute.String("plugin.id", id)),
	)
	defer span.End()

	for _, dep := range l.startedDependents(id) {
		l.log.Warn("unloading plugin with started dependents", "plugin", id, "dependent", dep)
	}

	rec.state = StateStopping
	if err := rec.instance.Stop(ctx); err != nil {
		l.log.Warn("plugin stop failed", "plugin", id, "error", err)
	}

	services := l.registry.UnregisterOwner(id)
	subs := l.bus.UnsubscribeOwner(id)
	l.enforcer.Revoke(id)

	if err := rec.boundary.Teardown(ctx); err != nil {
		l.log.Warn("boundary teardown failed", "plugin", id, "error", err)
	}
	rec.boundary = nil
	rec.instance = nil
	rec.state = StateUnloaded

	for i, ordered := range l.order {
		if ordered == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}

	l.publishHostEvent(ctx, contract.PluginStopped{
		PluginID:  id,
		Timestamp: time.Now(),
	})

	if l.metrics != nil {
		l.metrics.PluginsActive.Dec()
	}
	l.log.Info("plugin unloaded",
		"plugin", id, "services_purged", services, "subscriptions_purged", subs)
	return nil
}

// Reload unloads a plugin and loads it again from disk, re-reading its
// manifest. The plugin keeps its slot in the records but re-enters the
// lifecycle from the resolved state.
func (l *Loader) Reload(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLoaderClosed
	}
	rec, ok := l.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}

	if rec.state == StateStarted {
		if err := l.unloadLocked(ctx, rec); err != nil {
			return err
		}
	}

	m, err := LoadManifest(filepath.Join(rec.dir, ManifestFileName))
	if err != nil {
		rec.state = StateFailed
		rec.err = err
		return err
	}
	if m.ID != id {
		rec.state = StateFailed
		rec.err = fmt.Errorf("manifest id changed from %s to %s", id, m.ID)
		return rec.err
	}
	rec.manifest = m
	rec.state = StateResolved
	rec.err = nil

	if err := l.loadOne(ctx, rec); err != nil {
		rec.state = StateFailed
		rec.err = err
		l.recordLoad(m.Strategy, "error")
		return err
	}
	l.order = append(l.order, id)
	l.recordLoad(m.Strategy, "ok")
	return nil
}

// Close unloads all started plugins in reverse load order and rejects
// further operations.
func (l *Loader) Close(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	var errs []error
	for i := len(l.order) - 1; i >= 0; i-- {
		rec, ok := l.records[l.order[i]]
		if !ok || rec.state != StateStarted {
			continue
		}
		if err := l.unloadLocked(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	l.closed = true
	return errors.Join(errs...)
}

// List returns a status snapshot for every known plugin, sorted by id.
func (l *Loader) List() []Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	statuses := make([]Status, 0, len(l.records))
	for _, rec := range l.records {
		statuses = append(statuses, statusOf(rec))
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}

// Get returns the status of one plugin.
func (l *Loader) Get(id string) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[id]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	return statusOf(rec), nil
}

func statusOf(rec *record) Status {
	return Status{
		ID:       rec.manifest.ID,
		Version:  rec.manifest.Version,
		Strategy: rec.manifest.Strategy,
		State:    rec.state,
		Err:      rec.err,
	}
}

// startedDependents lists started plugins that require id.
func (l *Loader) startedDependents(id string) []string {
	var dependents []string
	for _, rec := range l.records {
		if rec.state != StateStarted {
			continue
		}
		for _, dep := range rec.manifest.Dependencies {
			if dep.ID == id && !dep.Optional {
				dependents = append(dependents, rec.manifest.ID)
			}
		}
	}
	sort.Strings(dependents)
	return dependents
}

// publishHostEvent publishes a loader lifecycle event. Handler failures
// are warnings; they never fail the lifecycle operation itself.
func (l *Loader) publishHostEvent(ctx context.Context, event any) {
	err := l.bus.Publish(ctx, event)
	var warn *sdk.DeliveryWarning
	if errors.As(err, &warn) {
		l.log.Warn("lifecycle event delivery warnings", "event", fmt.Sprintf("%T", event), "failures", len(warn.Errs))
		if l.metrics != nil {
			l.metrics.DeliveryFailures.Add(float64(len(warn.Errs)))
		}
		return
	}
	if err != nil {
		l.log.Warn("lifecycle event publish failed", "event", fmt.Sprintf("%T", event), "error", err)
	}
	if l.metrics != nil {
		if name, ok := contract.EventName(event); ok {
			l.metrics.EventsPublished.WithLabelValues(name).Inc()
		}
	}
}

func (l *Loader) recordLoad(strategy LoadStrategy, result string) {
	if l.metrics != nil {
		l.metrics.PluginLoadsTotal.WithLabelValues(string(strategy), result).Inc()
	}
}
