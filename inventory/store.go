package inventory

import (
	"context"
	"time"
)

// Store is the item & reservation store contract. Items and reservations
// live together so the engine can update both atomically inside WithinTx.
type Store interface {
	GetItem(ctx context.Context, id string) (*Item, error)
	ListItemsBySet(ctx context.Context, setCode string) ([]*Item, error)
	// UpsertItem creates or replaces an item. New items start with
	// Reserved = 0 regardless of the input.
	UpsertItem(ctx context.Context, item *Item) error
	// UpdateItemFields patches seller-owned fields and bumps LastUpdated.
	// The seller id must match the item's owner.
	UpdateItemFields(ctx context.Context, id, sellerID string, patch ItemPatch) (*Item, error)
	// DeleteItem fails with a Conflict error while any Active reservation
	// references the item.
	DeleteItem(ctx context.Context, id string) error
	// GetReservationByOrder returns the order's reservation in any state,
	// or a NotFound error.
	GetReservationByOrder(ctx context.Context, orderID string) (*Reservation, error)
	// WithinTx runs fn inside one transaction; any error aborts it and no
	// partial mutation persists.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional surface the reservation protocol runs on.
type Tx interface {
	// ItemForUpdate loads an item with a row lock for the duration of the
	// transaction.
	ItemForUpdate(ctx context.Context, id string) (*Item, error)
	// AddReserved moves quantity between free and reserved. Negative deltas
	// release; the store rejects updates that would drive reserved below
	// zero or above available.
	AddReserved(ctx context.Context, itemID string, delta int64) error
	// ConsumeStock permanently removes qty from both available and
	// reserved, converting a hold into a sale.
	ConsumeStock(ctx context.Context, itemID string, qty int64) error
	// InsertReservation stores a new reservation row with its lines.
	InsertReservation(ctx context.Context, r *Reservation) error
	// ActiveReservationByOrder returns the order's Active reservation or a
	// NotFound error.
	ActiveReservationByOrder(ctx context.Context, orderID string) (*Reservation, error)
	// MarkReservation moves an Active reservation to the given terminal
	// status, stamping confirmed_at or released_at.
	MarkReservation(ctx context.Context, reservationID string, status ReservationStatus, at time.Time) error
	// ExpiredReservations lists Active reservations with
	// expires_at <= now, oldest first.
	ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*Reservation, error)
}
