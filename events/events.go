// Package events defines the routing keys and wire payloads exchanged over
// the bus. Field names are fixed at first publication and never renamed.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys used by the core.
const (
	OrderCreated               = "order.created"
	OrderStatusChanged         = "order.status.changed"
	OrderCancelled             = "order.cancelled"
	OrderShipped               = "order.shipped"
	OrderDelivered             = "order.delivered"
	OrderReservationExpired    = "order.reservation.expired"
	InventoryReserved          = "inventory.reserved"
	InventoryReservationFailed = "inventory.reservation.failed"
	InventoryQuantityChanged   = "inventory.quantity.changed"
	InventoryQuantityLow       = "inventory.quantity.low"
	PaymentProcessed           = "payment.processed"
	ShippingRateCalculated     = "shipping.rate.calculated"
)

// Envelope is carried by every event. EventType names the logical event and
// is mirrored into the message headers by the bus adapter.
type Envelope struct {
	EventID   string    `json:"eventId"`
	EventType string    `json:"eventType"`
	OrderID   string    `json:"orderId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Meta satisfies the Event interface for all payloads embedding Envelope.
func (e Envelope) Meta() Envelope { return e }

// Event is any payload publishable on the bus.
type Event interface {
	Meta() Envelope
}

// NewEnvelope stamps a fresh event id and UTC timestamp.
func NewEnvelope(eventType, orderID string) Envelope {
	return Envelope{
		EventID:   uuid.New().String(),
		EventType: eventType,
		OrderID:   orderID,
		Timestamp: time.Now().UTC(),
	}
}

// OrderLine is one requested line of an order as published on order.created.
type OrderLine struct {
	ItemID         string `json:"itemId"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
}

type OrderCreatedEvent struct {
	Envelope
	CustomerID string      `json:"customerId"`
	Lines      []OrderLine `json:"lines"`
}

type OrderStatusChangedEvent struct {
	Envelope
	From    string `json:"from"`
	To      string `json:"to"`
	Actor   string `json:"actor"`
	Comment string `json:"comment,omitempty"`
}

type OrderCancelledEvent struct {
	Envelope
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

type OrderShippedEvent struct {
	Envelope
	Carrier        string `json:"carrier,omitempty"`
	TrackingNumber string `json:"trackingNumber"`
	Method         string `json:"method,omitempty"`
	ShippingCents  int64  `json:"shippingCents"`
}

type OrderDeliveredEvent struct {
	Envelope
	DeliveredAt time.Time `json:"deliveredAt"`
}

type ReservationExpiredEvent struct {
	Envelope
	ReservationID string    `json:"reservationId"`
	ExpiredAt     time.Time `json:"expiredAt"`
}

// ReservedLine snapshots one held line: quantity plus unit price and item
// name at hold time.
type ReservedLine struct {
	ItemID         string `json:"itemId"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	ItemName       string `json:"itemName,omitempty"`
}

type InventoryReservedEvent struct {
	Envelope
	ReservationID string         `json:"reservationId"`
	ExpiresAt     time.Time      `json:"expiresAt"`
	Lines         []ReservedLine `json:"lines"`
}

// UnavailableLine reports one line that could not be held.
type UnavailableLine struct {
	ItemID    string `json:"itemId"`
	Requested int64  `json:"requested"`
	Available int64  `json:"available"`
}

type InventoryReservationFailedEvent struct {
	Envelope
	Reason      string            `json:"reason"`
	Unavailable []UnavailableLine `json:"unavailable"`
}

type InventoryQuantityChangedEvent struct {
	Envelope
	ItemID    string `json:"itemId"`
	Available int64  `json:"available"`
	Reserved  int64  `json:"reserved"`
}

type InventoryQuantityLowEvent struct {
	Envelope
	ItemID    string `json:"itemId"`
	Available int64  `json:"available"`
	Threshold int64  `json:"threshold"`
}

// PaymentProcessedEvent is produced by the external payment processor.
type PaymentProcessedEvent struct {
	Envelope
	Success              bool   `json:"success"`
	Method               string `json:"method,omitempty"`
	TransactionReference string `json:"transactionReference,omitempty"`
	FailureReason        string `json:"failureReason,omitempty"`
}

// ShippingRateCalculatedEvent is produced by the external shipping
// calculator.
type ShippingRateCalculatedEvent struct {
	Envelope
	ShippingCostCents     int64      `json:"shippingCostCents"`
	ShippingMethod        string     `json:"shippingMethod,omitempty"`
	EstimatedDeliveryDate *time.Time `json:"estimatedDeliveryDate,omitempty"`
	TrackingNumber        string     `json:"trackingNumber,omitempty"`
	Carrier               string     `json:"carrier,omitempty"`
}
