package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		events, err := app.FindCollectionByNameOrId("events")
		if err != nil {
			return err
		}
		ticketTypes, err := app.FindCollectionByNameOrId("ticket_types")
		if err != nil {
			return err
		}
		users, err := app.FindCollectionByNameOrId("users")
		if err != nil {
			return err
		}
		promoCodes, err := app.FindCollectionByNameOrId("promo_codes")
		if err != nil {
			return err
		}

		collection := core.NewBaseCollection("tickets")

		collection.Fields.Add(
			&core.RelationField{Name: "event", Required: true, CollectionId: events.Id, MaxSelect: 1},
			&core.RelationField{Name: "ticket_type", Required: true, CollectionId: ticketTypes.Id, MaxSelect: 1},
			&core.RelationField{Name: "user", Required: true, CollectionId: users.Id, MaxSelect: 1},
			&core.NumberField{Name: "count", Required: true, OnlyInt: true, Min: types.Pointer(1.0)},
			&core.SelectField{Name: "status", Required: true, MaxSelect: 1, Values: []string{"valid", "used", "refunded", "cancelled"}},
			&core.NumberField{Name: "amount", Min: types.Pointer(0.0)},
			&core.RelationField{Name: "promo_code", CollectionId: promoCodes.Id, MaxSelect: 1},
			&core.TextField{Name: "payment_reference", Max: 255},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_tickets_capacity", false, "event, ticket_type, status", "")
		// One ticket per settled payment.
		collection.AddIndex("idx_tickets_payment_reference", true, "payment_reference", "payment_reference != ''")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("tickets")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
