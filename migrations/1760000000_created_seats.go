package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
	"github.com/pocketbase/pocketbase/tools/types"
)

// seats is the read-only seat catalogue. Lock state is never stored here.
func init() {
	m.Register(func(app core.App) error {
		collection := core.NewBaseCollection("seats")
		collection.ListRule = types.Pointer("")
		collection.ViewRule = types.Pointer("")

		collection.Fields.Add(
			&core.TextField{Name: "event_id", Required: true, Max: 64},
			&core.TextField{Name: "section", Required: true, Max: 64},
			&core.TextField{Name: "row", Required: true, Max: 16},
			&core.NumberField{Name: "number", Required: true, OnlyInt: true, Min: types.Pointer(1.0)},
			&core.NumberField{Name: "price", Min: types.Pointer(0.0)},
			&core.AutodateField{Name: "created", OnCreate: true},
			&core.AutodateField{Name: "updated", OnCreate: true, OnUpdate: true},
		)

		collection.AddIndex("idx_seats_event_id", false, "event_id", "")
		collection.AddIndex("idx_seats_position", true, "event_id, section, row, number", "")

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("seats")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
