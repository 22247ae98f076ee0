package orders

import (
	"time"

	"github.com/JoshuaWink/tcg-order-management-system-sub000/money"
)

// OrderItem is one purchased line. Condition is snapshotted at order time so
// later catalog edits do not rewrite history.
type OrderItem struct {
	ItemID         string `bson:"itemId"`
	Quantity       int64  `bson:"quantity"`
	UnitPriceCents int64  `bson:"unitPriceCents"`
	Condition      string `bson:"condition,omitempty"`
	DiscountCents  int64  `bson:"discountCents,omitempty"`
}

// StatusChange is one append-only history entry. The latest entry's status
// always equals the order's current status.
type StatusChange struct {
	Status    Status    `bson:"status"`
	ChangedAt time.Time `bson:"changedAt"`
	ChangedBy string    `bson:"changedBy"`
	Comment   string    `bson:"comment,omitempty"`
}

// ShippingInfo is the shipping block, filled in as collaborator events
// arrive.
type ShippingInfo struct {
	Carrier           string     `bson:"carrier,omitempty"`
	TrackingNumber    string     `bson:"trackingNumber,omitempty"`
	Method            string     `bson:"method,omitempty"`
	EstimatedDelivery *time.Time `bson:"estimatedDelivery,omitempty"`
	PackingDate       *time.Time `bson:"packingDate,omitempty"`
	ShippingDate      *time.Time `bson:"shippingDate,omitempty"`
	DeliveryDate      *time.Time `bson:"deliveryDate,omitempty"`
}

// PaymentDetails holds the opaque encrypted payment fields. Values are
// stored verbatim as produced by the encryption service.
type PaymentDetails struct {
	CardholderName string `bson:"cardholderName,omitempty"`
	BillingAddress string `bson:"billingAddress,omitempty"`
	PaymentToken   string `bson:"paymentToken,omitempty"`
}

// Order is the aggregate owned by the order store.
type Order struct {
	ID         string    `bson:"_id"`
	CustomerID string    `bson:"customerId"`
	OrderDate  time.Time `bson:"orderDate"`

	SubtotalCents int64 `bson:"subtotalCents"`
	TaxCents      int64 `bson:"taxCents"`
	ShippingCents int64 `bson:"shippingCents"`
	TotalCents    int64 `bson:"totalCents"`

	Status          Status          `bson:"status"`
	PaymentStatus   PaymentStatus   `bson:"paymentStatus"`
	InventoryStatus InventoryStatus `bson:"inventoryStatus"`

	Items    []OrderItem  `bson:"items"`
	Shipping ShippingInfo `bson:"shipping"`

	ShippingAddress string `bson:"shippingAddress,omitempty"`
	BillingAddress  string `bson:"billingAddress,omitempty"`

	PaymentMethod    string          `bson:"paymentMethod,omitempty"`
	PaymentReference string          `bson:"paymentReference,omitempty"`
	PaymentDetails   *PaymentDetails `bson:"paymentDetails,omitempty"`

	ReservationExpiry *time.Time `bson:"reservationExpiry,omitempty"`

	CancellationReason string     `bson:"cancellationReason,omitempty"`
	CancellationDate   *time.Time `bson:"cancellationDate,omitempty"`

	Notes []string `bson:"notes,omitempty"`

	History     []StatusChange `bson:"history"`
	LastUpdated time.Time      `bson:"lastUpdated"`
}

// Recalculate derives total = subtotal + tax + shipping. It never
// accumulates: a shipping re-quote replaces the shipping component.
func (o *Order) Recalculate() error {
	withTax, err := money.Add(money.Cents(o.SubtotalCents), money.Cents(o.TaxCents))
	if err != nil {
		return err
	}
	total, err := money.Add(withTax, money.Cents(o.ShippingCents))
	if err != nil {
		return err
	}
	o.TotalCents = int64(total)
	return nil
}

// AppendHistory records a transition. History timestamps are monotonically
// non-decreasing because entries are only appended here with now.
func (o *Order) AppendHistory(status Status, actor, comment string, now time.Time) {
	o.History = append(o.History, StatusChange{
		Status:    status,
		ChangedAt: now,
		ChangedBy: actor,
		Comment:   comment,
	})
}

// AddNote appends to the order's free-text notes.
func (o *Order) AddNote(note string) {
	o.Notes = append(o.Notes, note)
}
