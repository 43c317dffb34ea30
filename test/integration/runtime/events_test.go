// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Duskhall Contributors

//go:build integration

package runtime_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/duskhall/duskhall/pkg/contract"
	"github.com/duskhall/duskhall/pkg/sdk"
)

var _ = Describe("Event flow between plugins", func() {
	It("delivers events from one script plugin to another", func() {
		env := newHostEnv(nil)
		relayed := recordEvents[contract.EntityMoved](env.bus)

		// The listener relays every turn boundary as a movement event,
		// so delivery across plugins is observable from the host.
		env.addScriptPlugin("listener", scriptManifest("listener", ""), `
function on_init()
  duskhall.subscribe("turn_ended")
end

function on_event(name, event)
  duskhall.publish("entity_moved", { entity = "turn-" .. event.number, to_x = 0, to_y = 0 })
end`)
		env.addScriptPlugin("ticker", scriptManifest("ticker", `
dependencies:
  - id: listener
`), `
function on_start()
  duskhall.publish("turn_ended", { number = 11 })
end`)

		report := env.load("terminal")
		Expect(report.OK()).To(BeTrue())

		Expect(relayed.count()).To(Equal(1))
		Expect(relayed.all()[0].(contract.EntityMoved).Entity).To(Equal("turn-11"))
	})

	It("stops delivering to a plugin after it is unloaded", func() {
		env := newHostEnv(nil)
		relayed := recordEvents[contract.EntityMoved](env.bus)

		env.addScriptPlugin("listener", scriptManifest("listener", ""), `
function on_init()
  duskhall.subscribe("turn_ended")
end

function on_event(name, event)
  duskhall.publish("entity_moved", { entity = "seen", to_x = 0, to_y = 0 })
end`)

		report := env.load("terminal")
		Expect(report.OK()).To(BeTrue())

		ctx := context.Background()
		Expect(env.bus.Publish(ctx, contract.TurnEnded{Number: 1})).To(Succeed())
		Expect(relayed.count()).To(Equal(1))

		Expect(env.loader.Unload(ctx, "listener")).To(Succeed())
		Expect(env.bus.SubscriberCount(sdk.ContractOf[contract.TurnEnded]())).To(BeZero())

		Expect(env.bus.Publish(ctx, contract.TurnEnded{Number: 2})).To(Succeed())
		Expect(relayed.count()).To(Equal(1), "no delivery after unload")
	})

	It("denies publishes outside a plugin's granted capabilities", func() {
		env := newHostEnv(nil)
		turns := recordEvents[contract.TurnEnded](env.bus)
		moves := recordEvents[contract.EntityMoved](env.bus)

		// Granted turn_ended only; the entity_moved publish must be
		// rejected by the host, surfacing as an error string in Lua.
		env.addScriptPlugin("narrow", scriptManifest("narrow", `
capabilities:
  - events.publish.turn_ended
`), `
function on_start()
  local err = duskhall.publish("entity_moved", { entity = "sneaky", to_x = 1, to_y = 1 })
  if err ~= nil then
    duskhall.publish("turn_ended", { number = 99 })
  end
end`)

		report := env.load("terminal")
		Expect(report.OK()).To(BeTrue())

		Expect(moves.count()).To(BeZero(), "denied event never reaches the bus")
		Expect(turns.count()).To(Equal(1), "the script observed the denial")
	})

	It("keeps delivering when one subscriber errors", func() {
		env := newHostEnv(nil)

		env.addScriptPlugin("flaky", scriptManifest("flaky", ""), `
function on_init()
  duskhall.subscribe("turn_ended")
end

function on_event(name, event)
  error("flaky handler")
end`)

		report := env.load("terminal")
		Expect(report.OK()).To(BeTrue())

		healthy := recordEvents[contract.TurnEnded](env.bus)

		err := env.bus.Publish(context.Background(), contract.TurnEnded{Number: 5})

		var warn *sdk.DeliveryWarning
		Expect(errors.As(err, &warn)).To(BeTrue())
		Expect(healthy.count()).To(Equal(1), "later subscribers still run")
	})
})
