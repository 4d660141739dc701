package services

import (
	"context"
	"fmt"

	"evetia/models"

	"github.com/pocketbase/dbx"
)

// DBProvider hands out the current database builder. core.App satisfies it;
// the builder only exists once the app is bootstrapped.
type DBProvider interface {
	DB() dbx.Builder
}

// SeatCatalog reads the read-only seat inventory from the seats collection.
type SeatCatalog struct {
	app DBProvider
}

func NewSeatCatalog(app DBProvider) *SeatCatalog {
	return &SeatCatalog{app: app}
}

// SeatsForEvent returns the event's seats ordered by section, row and number.
func (c *SeatCatalog) SeatsForEvent(ctx context.Context, eventID string) ([]models.SeatData, error) {
	seats := []models.SeatData{}
	err := c.app.DB().
		Select(
			"id",
			"row",
			"number",
			"section",
			"price",
			"event_id",
		).
		From("seats").
		Where(dbx.HashExp{"event_id": eventID}).
		OrderBy("section ASC", "row ASC", "number ASC").
		WithContext(ctx).
		All(&seats)
	if err != nil {
		return nil, fmt.Errorf("query seats for event %s: %w", eventID, err)
	}
	return seats, nil
}
