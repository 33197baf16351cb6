package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("promo_codes")

		collection.Fields.Add(
			&core.TextField{Name: "code", Required: true, Max: 64},
			&core.NumberField{Name: "discount_percent", Required: true, Min: types.Pointer(0.0), Max: types.Pointer(100.0)},
			&core.BoolField{Name: "active"},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_promo_codes_code", true, "code", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("promo_codes")
		if err != nil {
			return err
		}
		return app.Delete(collection)
	})
}
