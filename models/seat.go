package models

import "github.com/shopspring/decimal"

const (
	SeatStatusAvailable = "available"
	SeatStatusLocked    = "locked"
)

// SeatData is a row of the seats collection joined with its live lock status.
type SeatData struct {
	ID       string          `db:"id" json:"id"`
	Row      string          `db:"row" json:"row"`
	Number   int             `db:"number" json:"number"`
	Section  string          `db:"section" json:"section"`
	Price    decimal.Decimal `db:"price" json:"price"`
	EventID  string          `db:"event_id" json:"event_id"`
	Status   string          `json:"status"`
	LockedBy string          `json:"locked_by,omitempty"`
}
