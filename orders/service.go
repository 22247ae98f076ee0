package orders

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JoshuaWink/tcg-order-management-system-sub000/encryption"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/events"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/fault"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/metrics"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/money"
)

// Publisher is the slice of the bus the service needs.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event events.Event) error
}

// Service orchestrates the order lifecycle: it owns order creation, the
// status state machine and the events the orchestrator emits. All writes go
// through a compare-and-set on the current status.
type Service struct {
	store          Store
	bus            Publisher
	enc            encryption.Encryptor
	validate       *validator.Validate
	taxBasisPoints int64
	logger         *zap.Logger
	metrics        *metrics.OrderMetrics
	now            func() time.Time
}

// NewService builds the order orchestrator. taxBasisPoints is the sales tax
// rate in basis points (825 = 8.25%).
func NewService(store Store, bus Publisher, enc encryption.Encryptor, taxBasisPoints int64, logger *zap.Logger, m *metrics.OrderMetrics) *Service {
	return &Service{
		store:          store,
		bus:            bus,
		enc:            enc,
		validate:       validator.New(),
		taxBasisPoints: taxBasisPoints,
		logger:         logger,
		metrics:        m,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrderItem is one requested line.
type CreateOrderItem struct {
	ItemID         string `validate:"required"`
	Quantity       int64  `validate:"gt=0"`
	UnitPriceCents int64  `validate:"gte=0"`
	Condition      string
	DiscountCents  int64 `validate:"gte=0"`
}

// CreateOrderInput is the order creation request.
type CreateOrderInput struct {
	CustomerID      string `validate:"required"`
	ShippingAddress string `validate:"required"`
	BillingAddress  string
	PaymentMethod   string
	Items           []CreateOrderItem `validate:"required,min=1,dive"`
}

// CreateOrder validates the request, prices it, persists the order in
// Pending and announces it on the bus. Pricing is integer cents throughout;
// the tax component rounds half up to the nearest cent.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (*Order, error) {
	const op = "orders.CreateOrder"

	if err := s.validate.Struct(in); err != nil {
		return nil, fault.Wrap(fault.Validation, op, err)
	}

	now := s.now()
	var subtotal money.Cents
	items := make([]OrderItem, len(in.Items))
	for i, it := range in.Items {
		line, err := money.MulQty(money.Cents(it.UnitPriceCents), it.Quantity)
		if err != nil {
			return nil, fault.Wrap(fault.Validation, op, err)
		}
		if money.Cents(it.DiscountCents) > line {
			return nil, fault.Newf(fault.Validation, op,
				"discount %d exceeds line total %d for item %s", it.DiscountCents, line, it.ItemID)
		}
		line -= money.Cents(it.DiscountCents)
		if subtotal, err = money.Add(subtotal, line); err != nil {
			return nil, fault.Wrap(fault.Validation, op, err)
		}
		items[i] = OrderItem{
			ItemID:         it.ItemID,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
			Condition:      it.Condition,
			DiscountCents:  it.DiscountCents,
		}
	}

	tax, err := money.Tax(subtotal, s.taxBasisPoints)
	if err != nil {
		return nil, fault.Wrap(fault.Validation, op, err)
	}

	o := &Order{
		ID:              uuid.New().String(),
		CustomerID:      in.CustomerID,
		OrderDate:       now,
		SubtotalCents:   int64(subtotal),
		TaxCents:        int64(tax),
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		InventoryStatus: InventoryPending,
		Items:           items,
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
		PaymentMethod:   in.PaymentMethod,
		LastUpdated:     now,
	}
	if err := o.Recalculate(); err != nil {
		return nil, fault.Wrap(fault.Validation, op, err)
	}
	o.AppendHistory(StatusPending, "system", "Order created", now)

	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}
	s.metrics.OrdersCreated.Inc()

	lines := make([]events.OrderLine, len(o.Items))
	for i, it := range o.Items {
		lines[i] = events.OrderLine{
			ItemID:         it.ItemID,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
		}
	}
	ev := events.OrderCreatedEvent{
		Envelope:   events.NewEnvelope(events.OrderCreated, o.ID),
		CustomerID: o.CustomerID,
		Lines:      lines,
	}
	if err := s.bus.Publish(ctx, events.OrderCreated, ev); err != nil {
		// The order is durable; the reservation sweep and redeliveries make
		// the announcement retryable out of band.
		s.logger.Error("publish order.created failed",
			zap.String("order_id", o.ID), zap.Error(err))
	}

	s.logger.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("customer_id", o.CustomerID),
		zap.Int64("total_cents", o.TotalCents),
	)
	return o, nil
}

// GetOrder returns one order with items and full history.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return s.store.Get(ctx, orderID)
}

// ListOrdersForCustomer pages a customer's orders newest first. page starts
// at 1; pageSize is clamped to 1..100.
func (s *Service) ListOrdersForCustomer(ctx context.Context, customerID string, page, pageSize int) ([]*Order, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return s.store.ListByCustomer(ctx, customerID, page, pageSize)
}

// update loads the order, applies fn and writes it back guarded by the
// status the order had when read. One retry on a lost race; fn must be safe
// to re-apply against the fresh read.
func (s *Service) update(ctx context.Context, orderID string, fn func(o *Order) error) (*Order, error) {
	for attempt := 0; ; attempt++ {
		o, err := s.store.Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		expected := o.Status
		if err := fn(o); err != nil {
			return nil, err
		}
		o.LastUpdated = s.now()
		err = s.store.Replace(ctx, o, expected)
		if err == nil {
			return o, nil
		}
		if !fault.Is(err, fault.Conflict) || attempt >= 1 {
			return nil, err
		}
	}
}

// transition mutates o onto the new status, stamping the derived dates and
// the history entry. It does not persist.
func (s *Service) transition(o *Order, to Status, actor, comment string) error {
	const op = "orders.transition"

	if !to.Valid() {
		return fault.Newf(fault.Validation, op, "unknown status %q", to)
	}
	if !CanTransition(o.Status, to) {
		s.metrics.InvalidTransitions.Inc()
		return fault.Newf(fault.Conflict, op,
			"cannot move order %s from %s to %s", o.ID, o.Status, to)
	}

	now := s.now()
	switch to {
	case StatusReadyForShipment:
		o.Shipping.PackingDate = &now
	case StatusShipped:
		o.Shipping.ShippingDate = &now
	case StatusDelivered:
		o.Shipping.DeliveryDate = &now
	case StatusCancelled:
		o.CancellationDate = &now
	}
	o.Status = to
	o.AppendHistory(to, actor, comment, now)
	return nil
}

// UpdateStatus applies one transition and publishes the resulting events.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, to Status, actor, comment string) (*Order, error) {
	var from Status
	o, err := s.update(ctx, orderID, func(o *Order) error {
		from = o.Status
		return s.transition(o, to, actor, comment)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.StatusChanges.WithLabelValues(string(to)).Inc()
	s.publishStatusChanged(ctx, o, from, to, actor, comment)
	s.publishLifecycle(ctx, o, to)
	return o, nil
}

// CancelOrder cancels an order that has not left the warehouse. Cancelling
// an already-cancelled order is a no-op.
func (s *Service) CancelOrder(ctx context.Context, orderID, reason, actor string) (*Order, error) {
	const op = "orders.CancelOrder"

	var from Status
	o, err := s.update(ctx, orderID, func(o *Order) error {
		if o.Status == StatusCancelled {
			return nil
		}
		if o.Status == StatusShipped || o.Status == StatusDelivered {
			return fault.Newf(fault.Conflict, op,
				"order %s already %s, cannot cancel", o.ID, o.Status)
		}
		from = o.Status
		if err := s.transition(o, StatusCancelled, actor, reason); err != nil {
			return err
		}
		o.CancellationReason = reason
		return nil
	})
	if err != nil {
		return nil, err
	}
	if from == "" {
		// Was already cancelled; nothing to announce.
		return o, nil
	}

	s.metrics.OrdersCancelled.Inc()
	s.metrics.StatusChanges.WithLabelValues(string(StatusCancelled)).Inc()
	s.publishStatusChanged(ctx, o, from, StatusCancelled, actor, reason)
	s.publishLifecycle(ctx, o, StatusCancelled)
	return o, nil
}

// SetPaymentDetails encrypts the sensitive payment fields and stores them on
// the order. Plaintext never reaches the store.
func (s *Service) SetPaymentDetails(ctx context.Context, orderID, cardholderName, billingAddress, paymentToken string) error {
	const op = "orders.SetPaymentDetails"

	details := &PaymentDetails{}
	var err error
	if cardholderName != "" {
		if details.CardholderName, err = s.enc.Encrypt(cardholderName); err != nil {
			return fault.Wrap(fault.Fatal, op, err)
		}
	}
	if billingAddress != "" {
		if details.BillingAddress, err = s.enc.Encrypt(billingAddress); err != nil {
			return fault.Wrap(fault.Fatal, op, err)
		}
	}
	if paymentToken != "" {
		if details.PaymentToken, err = s.enc.Encrypt(paymentToken); err != nil {
			return fault.Wrap(fault.Fatal, op, err)
		}
	}
	return s.store.SavePaymentDetails(ctx, orderID, details)
}

// AddOrderNote appends a free-text note without touching the state machine.
func (s *Service) AddOrderNote(ctx context.Context, orderID, note string) (*Order, error) {
	return s.update(ctx, orderID, func(o *Order) error {
		o.AddNote(note)
		return nil
	})
}

func (s *Service) publishStatusChanged(ctx context.Context, o *Order, from, to Status, actor, comment string) {
	ev := events.OrderStatusChangedEvent{
		Envelope: events.NewEnvelope(events.OrderStatusChanged, o.ID),
		From:     string(from),
		To:       string(to),
		Actor:    actor,
		Comment:  comment,
	}
	if err := s.bus.Publish(ctx, events.OrderStatusChanged, ev); err != nil {
		s.logger.Error("publish order.status.changed failed",
			zap.String("order_id", o.ID), zap.Error(err))
	}
}

// publishLifecycle emits the dedicated event for states collaborators key
// off: shipped, delivered, cancelled.
func (s *Service) publishLifecycle(ctx context.Context, o *Order, to Status) {
	var (
		key string
		ev  events.Event
	)
	switch to {
	case StatusShipped:
		key = events.OrderShipped
		ev = events.OrderShippedEvent{
			Envelope:       events.NewEnvelope(events.OrderShipped, o.ID),
			Carrier:        o.Shipping.Carrier,
			TrackingNumber: o.Shipping.TrackingNumber,
			Method:         o.Shipping.Method,
			ShippingCents:  o.ShippingCents,
		}
	case StatusDelivered:
		key = events.OrderDelivered
		deliveredAt := s.now()
		if o.Shipping.DeliveryDate != nil {
			deliveredAt = *o.Shipping.DeliveryDate
		}
		ev = events.OrderDeliveredEvent{
			Envelope:    events.NewEnvelope(events.OrderDelivered, o.ID),
			DeliveredAt: deliveredAt,
		}
	case StatusCancelled:
		key = events.OrderCancelled
		ev = events.OrderCancelledEvent{
			Envelope: events.NewEnvelope(events.OrderCancelled, o.ID),
			Reason:   o.CancellationReason,
			Actor:    lastActor(o),
		}
	default:
		return
	}
	if err := s.bus.Publish(ctx, key, ev); err != nil {
		s.logger.Error("publish lifecycle event failed",
			zap.String("order_id", o.ID),
			zap.String("routing_key", key),
			zap.Error(err),
		)
	}
}

func lastActor(o *Order) string {
	if len(o.History) == 0 {
		return "system"
	}
	return o.History[len(o.History)-1].ChangedBy
}
