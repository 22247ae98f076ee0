package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/JoshuaWink/tcg-order-management-system-sub000/fault"
)

// uniqueViolation is the Postgres error code raised by the partial unique
// index guarding one Active reservation per order.
const uniqueViolation = "23505"

// PostgresStore implements Store on PostgreSQL. Items and reservations share
// the database so reservation transactions cover both.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresStore opens the database, verifies the connection and runs
// pending migrations.
func NewPostgresStore(connectionString string, timeout time.Duration) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresStore{db: db, timeout: timeout}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

const itemColumns = `id, seller_id, name, set_code, set_name, collector_number,
	kind, details, price_cents, available_quantity, reserved_quantity,
	image_url, last_updated`

func scanItem(row interface{ Scan(...any) error }) (*Item, error) {
	var (
		item    Item
		details []byte
	)
	err := row.Scan(
		&item.ID, &item.SellerID, &item.Name, &item.SetCode, &item.SetName,
		&item.CollectorNumber, &item.Kind, &details, &item.PriceCents,
		&item.Available, &item.Reserved, &item.ImageURL, &item.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &item.Details); err != nil {
			return nil, fmt.Errorf("decode item details for %s: %w", item.ID, err)
		}
	}
	return &item, nil
}

func (s *PostgresStore) GetItem(ctx context.Context, id string) (*Item, error) {
	const op = "inventory.GetItem"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	item, err := scanItem(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, op, "item %s not found", id)
	}
	if err != nil {
		return nil, wrapStoreErr(op, err)
	}
	return item, nil
}

func (s *PostgresStore) ListItemsBySet(ctx context.Context, setCode string) ([]*Item, error) {
	const op = "inventory.ListItemsBySet"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT ` + itemColumns + ` FROM items
		WHERE set_code = $1 ORDER BY collector_number`
	rows, err := s.db.QueryContext(ctx, query, setCode)
	if err != nil {
		return nil, wrapStoreErr(op, err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, wrapStoreErr(op, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr(op, err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertItem(ctx context.Context, item *Item) error {
	const op = "inventory.UpsertItem"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	details, err := json.Marshal(item.Details)
	if err != nil {
		return fault.Wrap(fault.Validation, op, err)
	}

	// New rows always start unreserved; on conflict the reservation counter
	// is left alone, it belongs to the reservation protocol.
	query := `
		INSERT INTO items
		(id, seller_id, name, set_code, set_name, collector_number, kind,
		 details, price_cents, available_quantity, reserved_quantity,
		 image_url, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			set_code = EXCLUDED.set_code,
			set_name = EXCLUDED.set_name,
			collector_number = EXCLUDED.collector_number,
			kind = EXCLUDED.kind,
			details = EXCLUDED.details,
			price_cents = EXCLUDED.price_cents,
			available_quantity = EXCLUDED.available_quantity,
			image_url = EXCLUDED.image_url,
			last_updated = NOW()
		WHERE items.seller_id = EXCLUDED.seller_id
	`
	result, err := s.db.ExecContext(ctx, query,
		item.ID, item.SellerID, item.Name, item.SetCode, item.SetName,
		item.CollectorNumber, item.Kind, details, item.PriceCents,
		item.Available, item.ImageURL,
	)
	if err != nil {
		return wrapStoreErr(op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapStoreErr(op, err)
	}
	if affected == 0 {
		return fault.Newf(fault.Conflict, op, "item %s is owned by another seller", item.ID)
	}
	return nil
}

func (s *PostgresStore) UpdateItemFields(ctx context.Context, id, sellerID string, patch ItemPatch) (*Item, error) {
	const op = "inventory.UpdateItemFields"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		UPDATE items SET
			name = COALESCE($3, name),
			set_name = COALESCE($4, set_name),
			price_cents = COALESCE($5, price_cents),
			available_quantity = COALESCE($6, available_quantity),
			image_url = COALESCE($7, image_url),
			last_updated = NOW()
		WHERE id = $1 AND seller_id = $2
		  AND COALESCE($6, available_quantity) >= reserved_quantity
		RETURNING ` + itemColumns
	item, err := scanItem(s.db.QueryRowContext(ctx, query,
		id, sellerID, patch.Name, patch.SetName, patch.PriceCents,
		patch.Available, patch.ImageURL,
	))
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a missing or foreign item from a quantity conflict.
		if _, getErr := s.GetItem(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fault.Newf(fault.Conflict, op,
			"item %s: not owned by %s or quantity below active holds", id, sellerID)
	}
	if err != nil {
		return nil, wrapStoreErr(op, err)
	}
	return item, nil
}

func (s *PostgresStore) DeleteItem(ctx context.Context, id string) error {
	const op = "inventory.DeleteItem"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		DELETE FROM items
		WHERE id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM reservation_lines rl
			JOIN reservations r ON r.id = rl.reservation_id
			WHERE rl.item_id = $1 AND r.status = 'active'
		  )
	`
	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return wrapStoreErr(op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapStoreErr(op, err)
	}
	if affected == 0 {
		if _, getErr := s.GetItem(ctx, id); getErr != nil {
			return getErr
		}
		return fault.Newf(fault.Conflict, op, "item %s has active reservations", id)
	}
	return nil
}

func (s *PostgresStore) GetReservationByOrder(ctx context.Context, orderID string) (*Reservation, error) {
	const op = "inventory.GetReservationByOrder"
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return getReservationByOrder(ctx, s.db, op, orderID, false)
}

// WithinTx wraps fn in one transaction. Rollback on any error; the deferred
// rollback after commit is a no-op.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	const op = "inventory.WithinTx"

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapStoreErr(op, err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return wrapStoreErr(op, err)
	}
	return nil
}

// pgTx implements Tx on a live *sql.Tx.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) ItemForUpdate(ctx context.Context, id string) (*Item, error) {
	const op = "inventory.ItemForUpdate"
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1 FOR UPDATE`
	item, err := scanItem(t.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, op, "item %s not found", id)
	}
	if err != nil {
		return nil, wrapStoreErr(op, err)
	}
	return item, nil
}

func (t *pgTx) AddReserved(ctx context.Context, itemID string, delta int64) error {
	const op = "inventory.AddReserved"
	query := `
		UPDATE items
		SET reserved_quantity = reserved_quantity + $1,
		    last_updated = NOW()
		WHERE id = $2
		  AND reserved_quantity + $1 >= 0
		  AND reserved_quantity + $1 <= available_quantity
	`
	result, err := t.tx.ExecContext(ctx, query, delta, itemID)
	if err != nil {
		return wrapStoreErr(op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapStoreErr(op, err)
	}
	if affected == 0 {
		return fault.Newf(fault.Conflict, op,
			"item %s: reserved_quantity %+d violates quantity bounds", itemID, delta)
	}
	return nil
}

func (t *pgTx) ConsumeStock(ctx context.Context, itemID string, qty int64) error {
	const op = "inventory.ConsumeStock"
	query := `
		UPDATE items
		SET available_quantity = available_quantity - $1,
		    reserved_quantity = reserved_quantity - $1,
		    last_updated = NOW()
		WHERE id = $2
		  AND reserved_quantity >= $1
		  AND available_quantity >= $1
	`
	result, err := t.tx.ExecContext(ctx, query, qty, itemID)
	if err != nil {
		return wrapStoreErr(op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapStoreErr(op, err)
	}
	if affected == 0 {
		return fault.Newf(fault.Conflict, op,
			"item %s: cannot consume %d, hold mismatch", itemID, qty)
	}
	return nil
}

func (t *pgTx) InsertReservation(ctx context.Context, r *Reservation) error {
	const op = "inventory.InsertReservation"
	query := `
		INSERT INTO reservations
		(id, order_id, user_id, created_at, expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := t.tx.ExecContext(ctx, query,
		r.ID, r.OrderID, r.UserID, r.CreatedAt, r.ExpiresAt, r.Status)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return fault.Newf(fault.Conflict, op,
				"order %s already has an active reservation", r.OrderID)
		}
		return wrapStoreErr(op, err)
	}

	lineQuery := `
		INSERT INTO reservation_lines
		(reservation_id, item_id, quantity, unit_price_cents, item_name)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, line := range r.Lines {
		_, err := t.tx.ExecContext(ctx, lineQuery,
			r.ID, line.ItemID, line.Quantity, line.UnitPriceCents, line.ItemName)
		if err != nil {
			return wrapStoreErr(op, err)
		}
	}
	return nil
}

func (t *pgTx) ActiveReservationByOrder(ctx context.Context, orderID string) (*Reservation, error) {
	const op = "inventory.ActiveReservationByOrder"
	return getReservationByOrder(ctx, t.tx, op, orderID, true)
}

func (t *pgTx) MarkReservation(ctx context.Context, reservationID string, status ReservationStatus, at time.Time) error {
	const op = "inventory.MarkReservation"

	var query string
	switch status {
	case ReservationConfirmed:
		query = `
			UPDATE reservations
			SET status = 'confirmed', confirmed_at = $2
			WHERE id = $1 AND status = 'active'
		`
	case ReservationReleased:
		query = `
			UPDATE reservations
			SET status = 'released', released_at = $2
			WHERE id = $1 AND status = 'active'
		`
	case ReservationExpired:
		query = `
			UPDATE reservations
			SET status = 'expired', released_at = $2
			WHERE id = $1 AND status = 'active'
		`
	default:
		return fault.Newf(fault.Validation, op, "cannot mark reservation %s as %s", reservationID, status)
	}

	result, err := t.tx.ExecContext(ctx, query, reservationID, at)
	if err != nil {
		return wrapStoreErr(op, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return wrapStoreErr(op, err)
	}
	if affected == 0 {
		return fault.Newf(fault.Conflict, op, "reservation %s is not active", reservationID)
	}
	return nil
}

func (t *pgTx) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]*Reservation, error) {
	const op = "inventory.ExpiredReservations"
	query := `
		SELECT id, order_id, user_id, created_at, expires_at,
		       confirmed_at, released_at, status
		FROM reservations
		WHERE status = 'active' AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	rows, err := t.tx.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, wrapStoreErr(op, err)
	}
	defer rows.Close()

	var out []*Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, wrapStoreErr(op, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreErr(op, err)
	}

	for _, r := range out {
		if r.Lines, err = loadLines(ctx, t.tx, r.ID); err != nil {
			return nil, wrapStoreErr(op, err)
		}
	}
	return out, nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanReservation(row interface{ Scan(...any) error }) (*Reservation, error) {
	var r Reservation
	err := row.Scan(
		&r.ID, &r.OrderID, &r.UserID, &r.CreatedAt, &r.ExpiresAt,
		&r.ConfirmedAt, &r.ReleasedAt, &r.Status,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func getReservationByOrder(ctx context.Context, q querier, op, orderID string, activeOnly bool) (*Reservation, error) {
	query := `
		SELECT id, order_id, user_id, created_at, expires_at,
		       confirmed_at, released_at, status
		FROM reservations
		WHERE order_id = $1
	`
	if activeOnly {
		query += ` AND status = 'active' FOR UPDATE`
	} else {
		// An order has at most one Active/Confirmed reservation but may have
		// several Released/Expired ones from remediation; report the latest.
		query += ` ORDER BY created_at DESC LIMIT 1`
	}

	r, err := scanReservation(q.QueryRowContext(ctx, query, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Newf(fault.NotFound, op, "no reservation for order %s", orderID)
	}
	if err != nil {
		return nil, wrapStoreErr(op, err)
	}
	if r.Lines, err = loadLines(ctx, q, r.ID); err != nil {
		return nil, wrapStoreErr(op, err)
	}
	return r, nil
}

func loadLines(ctx context.Context, q querier, reservationID string) ([]Line, error) {
	query := `
		SELECT item_id, quantity, unit_price_cents, item_name
		FROM reservation_lines
		WHERE reservation_id = $1
		ORDER BY position
	`
	rows, err := q.QueryContext(ctx, query, reservationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ItemID, &l.Quantity, &l.UnitPriceCents, &l.ItemName); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// wrapStoreErr maps driver and timeout failures to Transient; the event
// layer retries them with backoff.
func wrapStoreErr(op string, err error) error {
	return fault.Wrap(fault.Transient, op, err)
}
