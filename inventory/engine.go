package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JoshuaWink/tcg-order-management-system-sub000/events"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/fault"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/metrics"
)

// Publisher is the slice of the bus the engine needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event events.Event) error
}

// LineRequest is one requested hold line.
type LineRequest struct {
	ItemID   string
	Quantity int64
}

// ReserveResult reports the outcome of a reserve. Unavailable is empty on
// success; a non-empty list is a structured refusal, not an error.
type ReserveResult struct {
	ReservationID string
	ExpiresAt     time.Time
	Unavailable   []events.UnavailableLine
}

// OK reports whether the hold was taken.
func (r *ReserveResult) OK() bool {
	return len(r.Unavailable) == 0
}

// Engine implements the hold/confirm/release/expire protocol over the item
// & reservation store, emitting reservation events as outcomes commit.
type Engine struct {
	store      Store
	bus        Publisher
	defaultTTL time.Duration
	lowStock   int64
	logger     *zap.Logger
	metrics    *metrics.InventoryMetrics
}

// NewEngine wires the reservation engine.
func NewEngine(store Store, bus Publisher, defaultTTL time.Duration, lowStock int64, logger *zap.Logger, m *metrics.InventoryMetrics) *Engine {
	if defaultTTL <= 0 {
		defaultTTL = 15 * time.Minute
	}
	return &Engine{
		store:      store,
		bus:        bus,
		defaultTTL: defaultTTL,
		lowStock:   lowStock,
		logger:     logger,
		metrics:    m,
	}
}

// DefaultTTL returns the configured reservation TTL.
func (e *Engine) DefaultTTL() time.Duration {
	return e.defaultTTL
}

// errUnavailable aborts the reserve transaction when stock is short; the
// caller translates it into the structured result.
var errUnavailable = errors.New("insufficient stock")

// Reserve takes a time-bounded hold for an order. Within one transaction
// every line's item is locked, free quantity checked, and reserved counters
// incremented; any shortfall aborts the whole transaction and the full
// unavailable list is returned and published. A zero ttl uses the default.
func (e *Engine) Reserve(ctx context.Context, orderID, userID string, lines []LineRequest, ttl time.Duration) (*ReserveResult, error) {
	const op = "inventory.Reserve"

	if err := validateLines(op, orderID, lines); err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = e.defaultTTL
	}

	// Reject up front if the order already holds or consumed stock. The
	// partial unique index backstops the race between this check and commit.
	existing, err := e.store.GetReservationByOrder(ctx, orderID)
	if err != nil && !fault.Is(err, fault.NotFound) {
		return nil, err
	}
	if existing != nil && (existing.Status == ReservationActive || existing.Status == ReservationConfirmed) {
		return nil, fault.Newf(fault.Conflict, op,
			"order %s already has a %s reservation", orderID, existing.Status)
	}

	now := time.Now().UTC()
	reservation := &Reservation{
		ID:        uuid.New().String(),
		OrderID:   orderID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Status:    ReservationActive,
	}

	var unavailable []events.UnavailableLine
	err = e.store.WithinTx(ctx, func(tx Tx) error {
		// First pass: lock and check every line so the refusal reports the
		// complete shortfall, not just the first.
		items := make([]*Item, len(lines))
		for i, line := range lines {
			item, err := tx.ItemForUpdate(ctx, line.ItemID)
			if err != nil {
				return err
			}
			items[i] = item
			if free := item.Free(); free < line.Quantity {
				unavailable = append(unavailable, events.UnavailableLine{
					ItemID:    line.ItemID,
					Requested: line.Quantity,
					Available: free,
				})
			}
		}
		if len(unavailable) > 0 {
			return errUnavailable
		}

		// Second pass: take the holds and snapshot prices.
		for i, line := range lines {
			if err := tx.AddReserved(ctx, line.ItemID, line.Quantity); err != nil {
				return err
			}
			reservation.Lines = append(reservation.Lines, Line{
				ItemID:         line.ItemID,
				Quantity:       line.Quantity,
				UnitPriceCents: items[i].PriceCents,
				ItemName:       items[i].Name,
			})
		}
		return tx.InsertReservation(ctx, reservation)
	})

	if errors.Is(err, errUnavailable) {
		e.metrics.ReservationsFailed.Inc()
		e.logger.Info("reservation refused",
			zap.String("order_id", orderID),
			zap.Int("unavailable_lines", len(unavailable)),
		)
		failed := events.InventoryReservationFailedEvent{
			Envelope:    events.NewEnvelope(events.InventoryReservationFailed, orderID),
			Reason:      "insufficient stock",
			Unavailable: unavailable,
		}
		if pubErr := e.bus.Publish(ctx, events.InventoryReservationFailed, failed); pubErr != nil {
			e.logger.Error("publish reservation.failed", zap.Error(pubErr))
		}
		return &ReserveResult{Unavailable: unavailable}, nil
	}
	if err != nil {
		return nil, err
	}

	e.metrics.ReservationsCreated.Inc()
	e.logger.Info("reservation created",
		zap.String("order_id", orderID),
		zap.String("reservation_id", reservation.ID),
		zap.Time("expires_at", reservation.ExpiresAt),
	)

	reservedLines := make([]events.ReservedLine, len(reservation.Lines))
	for i, l := range reservation.Lines {
		reservedLines[i] = events.ReservedLine{
			ItemID:         l.ItemID,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
			ItemName:       l.ItemName,
		}
	}
	reserved := events.InventoryReservedEvent{
		Envelope:      events.NewEnvelope(events.InventoryReserved, orderID),
		ReservationID: reservation.ID,
		ExpiresAt:     reservation.ExpiresAt,
		Lines:         reservedLines,
	}
	if pubErr := e.bus.Publish(ctx, events.InventoryReserved, reserved); pubErr != nil {
		e.logger.Error("publish inventory.reserved", zap.Error(pubErr))
	}

	return &ReserveResult{
		ReservationID: reservation.ID,
		ExpiresAt:     reservation.ExpiresAt,
	}, nil
}

// Confirm converts the order's Active hold into a permanent decrement:
// each line's quantity leaves both available and reserved, then the
// reservation is marked Confirmed.
func (e *Engine) Confirm(ctx context.Context, orderID string) error {
	const op = "inventory.Confirm"

	var confirmed *Reservation
	err := e.store.WithinTx(ctx, func(tx Tx) error {
		r, err := tx.ActiveReservationByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		for _, line := range r.Lines {
			if err := tx.ConsumeStock(ctx, line.ItemID, line.Quantity); err != nil {
				return err
			}
		}
		if err := tx.MarkReservation(ctx, r.ID, ReservationConfirmed, time.Now().UTC()); err != nil {
			return err
		}
		confirmed = r
		return nil
	})
	if fault.Is(err, fault.NotFound) {
		return e.describeMissingActive(ctx, op, orderID)
	}
	if err != nil {
		return err
	}

	e.metrics.ReservationsConfirmed.Inc()
	e.logger.Info("reservation confirmed",
		zap.String("order_id", orderID),
		zap.String("reservation_id", confirmed.ID),
	)
	e.emitLowStock(ctx, confirmed.Lines)
	return nil
}

// Release returns the order's held quantities to free stock. Releasing a
// reservation that is already Released or Expired succeeds as a no-op.
func (e *Engine) Release(ctx context.Context, orderID string) error {
	const op = "inventory.Release"

	existing, err := e.store.GetReservationByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	switch existing.Status {
	case ReservationReleased, ReservationExpired:
		return nil
	case ReservationConfirmed:
		return fault.Newf(fault.Conflict, op,
			"reservation for order %s is confirmed, stock already consumed", orderID)
	}

	err = e.store.WithinTx(ctx, func(tx Tx) error {
		r, err := tx.ActiveReservationByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := releaseLines(ctx, tx, r); err != nil {
			return err
		}
		return tx.MarkReservation(ctx, r.ID, ReservationReleased, time.Now().UTC())
	})
	if fault.Is(err, fault.NotFound) {
		// Lost a race with the sweeper or a concurrent release; both leave
		// the hold returned, which is all this call promises.
		return nil
	}
	if err != nil {
		return err
	}

	e.metrics.ReservationsReleased.Inc()
	e.logger.Info("reservation released", zap.String("order_id", orderID))
	return nil
}

// sweepBatch bounds how many holds one sweep transaction reclaims.
const sweepBatch = 100

// SweepExpired reclaims every Active reservation whose TTL has passed,
// applying release semantics to its items and emitting one expiration event
// per reservation. Returns the number reclaimed.
func (e *Engine) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	timer := time.Now()
	defer func() {
		e.metrics.SweepDuration.Observe(time.Since(timer).Seconds())
	}()

	total := 0
	for {
		var batch []*Reservation
		err := e.store.WithinTx(ctx, func(tx Tx) error {
			expired, err := tx.ExpiredReservations(ctx, now, sweepBatch)
			if err != nil {
				return err
			}
			for _, r := range expired {
				if err := releaseLines(ctx, tx, r); err != nil {
					return err
				}
				if err := tx.MarkReservation(ctx, r.ID, ReservationExpired, now); err != nil {
					return err
				}
			}
			batch = expired
			return nil
		})
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			return total, nil
		}

		total += len(batch)
		for _, r := range batch {
			e.metrics.ReservationsExpired.Inc()
			e.logger.Info("reservation expired",
				zap.String("order_id", r.OrderID),
				zap.String("reservation_id", r.ID),
			)
			expiredEvent := events.ReservationExpiredEvent{
				Envelope:      events.NewEnvelope(events.OrderReservationExpired, r.OrderID),
				ReservationID: r.ID,
				ExpiredAt:     now,
			}
			if pubErr := e.bus.Publish(ctx, events.OrderReservationExpired, expiredEvent); pubErr != nil {
				e.logger.Error("publish reservation.expired", zap.Error(pubErr))
			}
		}
		if len(batch) < sweepBatch {
			return total, nil
		}
	}
}

func releaseLines(ctx context.Context, tx Tx, r *Reservation) error {
	for _, line := range r.Lines {
		if err := tx.AddReserved(ctx, line.ItemID, -line.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// describeMissingActive turns "no active reservation" into the precise
// precondition failure: NotFound when the order never reserved, Conflict
// when the reservation exists in another state.
func (e *Engine) describeMissingActive(ctx context.Context, op, orderID string) error {
	existing, err := e.store.GetReservationByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	return fault.Newf(fault.Conflict, op,
		"reservation for order %s is %s, not active", orderID, existing.Status)
}

func (e *Engine) emitLowStock(ctx context.Context, lines []Line) {
	if e.lowStock <= 0 {
		return
	}
	for _, line := range lines {
		item, err := e.store.GetItem(ctx, line.ItemID)
		if err != nil {
			e.logger.Warn("low-stock check failed",
				zap.String("item_id", line.ItemID), zap.Error(err))
			continue
		}
		if item.Available >= e.lowStock {
			continue
		}
		low := events.InventoryQuantityLowEvent{
			Envelope:  events.NewEnvelope(events.InventoryQuantityLow, ""),
			ItemID:    item.ID,
			Available: item.Available,
			Threshold: e.lowStock,
		}
		if err := e.bus.Publish(ctx, events.InventoryQuantityLow, low); err != nil {
			e.logger.Error("publish quantity.low", zap.Error(err))
		}
	}
}

func validateLines(op, orderID string, lines []LineRequest) error {
	if orderID == "" {
		return fault.New(fault.Validation, op, "order id is empty")
	}
	if len(lines) == 0 {
		return fault.New(fault.Validation, op, "reservation has no lines")
	}
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if line.ItemID == "" {
			return fault.New(fault.Validation, op, "line has empty item id")
		}
		if line.Quantity < 1 {
			return fault.Newf(fault.Validation, op,
				"item %s: quantity %d is not positive", line.ItemID, line.Quantity)
		}
		if _, dup := seen[line.ItemID]; dup {
			return fault.Newf(fault.Validation, op,
				"item %s appears more than once", line.ItemID)
		}
		seen[line.ItemID] = struct{}{}
	}
	return nil
}
