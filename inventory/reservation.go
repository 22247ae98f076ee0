package inventory

import (
	"time"
)

// ReservationStatus is the lifecycle of a hold.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationReleased  ReservationStatus = "released"
	ReservationExpired   ReservationStatus = "expired"
)

// Line is one reserved line: the held quantity plus unit price and item name
// snapshotted at hold time.
type Line struct {
	ItemID         string
	Quantity       int64
	UnitPriceCents int64
	ItemName       string
}

// Reservation is a time-bounded hold for exactly one order. At most one
// Active reservation exists per order id.
type Reservation struct {
	ID          string
	OrderID     string
	UserID      string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ConfirmedAt *time.Time
	ReleasedAt  *time.Time
	Status      ReservationStatus
	Lines       []Line
}

// Expired reports whether the hold's TTL has passed. A reservation expiring
// at exactly now counts as expired.
func (r *Reservation) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
