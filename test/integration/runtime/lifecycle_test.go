// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

//go:build integration

package runtime_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/duskhall/duskhall/internal/eventbus"
	"github.com/duskhall/duskhall/internal/plugin"
	"github.com/duskhall/duskhall/internal/plugin/script"
	"github.com/duskhall/duskhall/internal/registry"
	"github.com/duskhall/duskhall/pkg/contract"
	"github.com/duskhall/duskhall/pkg/sdk"
)

// hostEnv wires a real registry, bus, and loader over a temp plugin
// root, the way the serve command does, with only the script boundary.
type hostEnv struct {
	root   string
	reg    *registry.Registry
	bus    *eventbus.Bus
	loader *plugin.Loader
}

func newHostEnv(configs map[string]map[string]any) *hostEnv {
	root := GinkgoT().TempDir()
	reg := registry.New()
	bus := eventbus.New()
	loader := plugin.NewLoader(reg, bus,
		plugin.WithBoundaryFactory(plugin.StrategyScript, script.NewFactory()),
		plugin.WithPluginConfigs(configs),
	)
	return &hostEnv{root: root, reg: reg, bus: bus, loader: loader}
}

// addScriptPlugin writes a plugin directory with a manifest and a Lua
// script under the env root.
func (e *hostEnv) addScriptPlugin(id, manifest, code string) {
	dir := filepath.Join(e.root, id)
	Expect(os.MkdirAll(dir, 0o750)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(manifest), 0o600)).To(Succeed())
	Expect(os.WriteFile(filepath.Join(dir, "main.lua"), []byte(code), 0o600)).To(Succeed())
}

func (e *hostEnv) load(profile string) *plugin.Report {
	report, err := e.loader.DiscoverAndLoad(context.Background(), []string{e.root}, profile)
	Expect(err).NotTo(HaveOccurred())
	return report
}

// eventRecorder collects events of one type published on the bus.
type eventRecorder struct {
	mu     sync.Mutex
	events []any
}

func recordEvents[E any](bus *eventbus.Bus) *eventRecorder {
	r := &eventRecorder{}
	bus.Subscribe(sdk.ContractOf[E](), func(_ context.Context, event any) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, event)
		return nil
	})
	return r
}

func (r *eventRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func (r *eventRecorder) all() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.events...)
}

func scriptManifest(id string, extra string) string {
	return fmt.Sprintf(`
id: %s
name: %s
version: 1.0.0
load-strategy: script
entry-points:
  terminal: main.lua,main
%s`, id, id, extra)
}

var _ = Describe("Plugin lifecycle", func() {
	It("loads dependencies before dependents", func() {
		env := newHostEnv(nil)
		env.addScriptPlugin("consumer", scriptManifest("consumer", `
dependencies:
  - id: producer
`), `function on_start() end`)
		env.addScriptPlugin("producer", scriptManifest("producer", ""), `function on_start() end`)

		report := env.load("terminal")

		Expect(report.OK()).To(BeTrue())
		Expect(report.Loaded).To(Equal([]string{"producer", "consumer"}))
	})

	It("publishes PluginStarted and PluginStopped host events", func() {
		env := newHostEnv(nil)
		started := recordEvents[contract.PluginStarted](env.bus)
		stopped := recordEvents[contract.PluginStopped](env.bus)

		env.addScriptPlugin("solo", scriptManifest("solo", ""), `function on_start() end`)

		report := env.load("terminal")
		Expect(report.Loaded).To(Equal([]string{"solo"}))
		Expect(started.count()).To(Equal(1))
		Expect(started.all()[0].(contract.PluginStarted).PluginID).To(Equal("solo"))

		Expect(env.loader.Unload(context.Background(), "solo")).To(Succeed())
		Expect(stopped.count()).To(Equal(1))
	})

	It("records a script failure and cascades to required dependents", func() {
		env := newHostEnv(nil)
		env.addScriptPlugin("broken", scriptManifest("broken", ""),
			`function on_init() error("refuses to init") end`)
		env.addScriptPlugin("dependent", scriptManifest("dependent", `
dependencies:
  - id: broken
`), `function on_start() end`)
		env.addScriptPlugin("bystander", scriptManifest("bystander", ""),
			`function on_start() end`)

		report := env.load("terminal")

		Expect(report.Loaded).To(Equal([]string{"bystander"}))
		Expect(report.Failed).To(HaveKey("broken"))
		Expect(report.Skipped).To(HaveKey("dependent"))
	})

	It("discards plugins that do not support the host profile before planning", func() {
		env := newHostEnv(nil)
		// tiles-only depends on something never installed; under the
		// terminal profile it is discarded before resolution, so the
		// rest of the batch is unaffected.
		env.addScriptPlugin("tiles-only", scriptManifest("tiles-only", `
supported-profiles:
  - graphical
dependencies:
  - id: tiles-base
`), `function on_start() end`)
		env.addScriptPlugin("bystander", scriptManifest("bystander", ""),
			`function on_start() end`)

		report := env.load("terminal")

		Expect(report.Loaded).To(Equal([]string{"bystander"}))
		Expect(report.Skipped).To(HaveKey("tiles-only"))
	})

	It("rejects the batch when a required dependency is discarded for the profile", func() {
		env := newHostEnv(nil)
		env.addScriptPlugin("tiles-only", scriptManifest("tiles-only", `
supported-profiles:
  - graphical
`), `function on_start() end`)
		env.addScriptPlugin("needs-tiles", scriptManifest("needs-tiles", `
dependencies:
  - id: tiles-only
`), `function on_start() end`)

		report, err := env.loader.DiscoverAndLoad(context.Background(), []string{env.root}, "terminal")

		var missing *plugin.MissingDependencyError
		Expect(errors.As(err, &missing)).To(BeTrue())
		Expect(missing.MissingID).To(Equal("tiles-only"))
		Expect(report).To(BeNil())
	})

	It("passes per-plugin configuration into the script", func() {
		env := newHostEnv(map[string]map[string]any{
			"configured": {"greeting": "salutations"},
		})
		published := recordEvents[contract.TurnEnded](env.bus)

		// The script proves it saw its config by publishing only when
		// the configured greeting matches.
		env.addScriptPlugin("configured", scriptManifest("configured", ""), `
function on_start()
  if config.greeting == "salutations" then
    duskhall.publish("turn_ended", { number = 1 })
  end
end`)

		report := env.load("terminal")
		Expect(report.OK()).To(BeTrue())
		Expect(published.count()).To(Equal(1))
	})

	It("reloads a plugin from disk", func() {
		env := newHostEnv(nil)
		moved := recordEvents[contract.EntityMoved](env.bus)

		env.addScriptPlugin("hotswap", scriptManifest("hotswap", ""),
			`function on_start() end`)

		report := env.load("terminal")
		Expect(report.OK()).To(BeTrue())
		Expect(moved.count()).To(BeZero())

		// Rewrite the script, then reload.
		path := filepath.Join(env.root, "hotswap", "main.lua")
		Expect(os.WriteFile(path, []byte(`
function on_start()
  duskhall.publish("entity_moved", { entity = "hero", to_x = 4, to_y = 2 })
end`), 0o600)).To(Succeed())

		Expect(env.loader.Reload(context.Background(), "hotswap")).To(Succeed())
		Expect(moved.count()).To(Equal(1))
		Expect(moved.all()[0].(contract.EntityMoved).Entity).To(Equal("hero"))
	})

	It("unloads everything in reverse order on Close", func() {
		env := newHostEnv(nil)
		stopped := recordEvents[contract.PluginStopped](env.bus)

		env.addScriptPlugin("base", scriptManifest("base", ""), `function on_start() end`)
		env.addScriptPlugin("upper", scriptManifest("upper", `
dependencies:
  - id: base
`), `function on_start() end`)

		report := env.load("terminal")
		Expect(report.Loaded).To(Equal([]string{"base", "upper"}))

		Expect(env.loader.Close(context.Background())).To(Succeed())

		var order []string
		for _, e := range stopped.all() {
			order = append(order, e.(contract.PluginStopped).PluginID)
		}
		Expect(order).To(Equal([]string{"upper", "base"}))

		_, err := env.loader.DiscoverAndLoad(context.Background(), []string{env.root}, "terminal")
		Expect(err).To(MatchError(plugin.ErrLoaderClosed))
	})
})
