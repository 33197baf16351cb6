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

		collection := core.NewBaseCollection("waiting_list")

		collection.Fields.Add(
			&core.RelationField{Name: "event", Required: true, CollectionId: events.Id, MaxSelect: 1, CascadeDelete: true},
			&core.RelationField{Name: "ticket_type", Required: true, CollectionId: ticketTypes.Id, MaxSelect: 1, CascadeDelete: true},
			&core.RelationField{Name: "user", Required: true, CollectionId: users.Id, MaxSelect: 1},
			&core.NumberField{Name: "count", Required: true, OnlyInt: true, Min: types.Pointer(1.0)},
			&core.SelectField{Name: "status", Required: true, MaxSelect: 1, Values: []string{"waiting", "offered", "purchased", "expired"}},
			&core.DateField{Name: "offer_expires_at"},
			&core.RelationField{Name: "promo_code", CollectionId: promoCodes.Id, MaxSelect: 1},
			&core.NumberField{Name: "promo_code_discount", Min: types.Pointer(0.0)},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		// FIFO scans and per-user active-entry lookups.
		collection.AddIndex("idx_waiting_list_queue", false, "event, ticket_type, status, created", "")
		collection.AddIndex("idx_waiting_list_user", false, "event, user, status", "")
		collection.AddIndex("idx_waiting_list_deadline", false, "status, offer_expires_at", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("waiting_list")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
