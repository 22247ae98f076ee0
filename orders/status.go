package orders

// Status is the order lifecycle state.
type Status string

const (
	StatusPending          Status = "pending"
	StatusProcessing       Status = "processing"
	StatusReadyForShipment Status = "ready_for_shipment"
	StatusOnHold           Status = "on_hold"
	StatusShipped          Status = "shipped"
	StatusDelivered        Status = "delivered"
	StatusCancelled        Status = "cancelled"
)

// PaymentStatus tracks the payment leg independently of the order state.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// InventoryStatus tracks the reservation leg.
type InventoryStatus string

const (
	InventoryPending   InventoryStatus = "pending"
	InventoryReserved  InventoryStatus = "reserved"
	InventoryConfirmed InventoryStatus = "confirmed"
	InventoryReleased  InventoryStatus = "released"
	InventoryFailed    InventoryStatus = "failed"
)

// transitions is the allowed state graph. Any move not listed is invalid;
// Refunded is a payment-status change on an already-terminal order, not a
// state.
var transitions = map[Status][]Status{
	StatusPending:          {StatusProcessing, StatusCancelled, StatusOnHold},
	StatusProcessing:       {StatusReadyForShipment, StatusOnHold, StatusCancelled},
	StatusReadyForShipment: {StatusShipped, StatusCancelled, StatusOnHold},
	StatusOnHold:           {StatusProcessing, StatusCancelled},
	StatusShipped:          {StatusDelivered},
	StatusDelivered:        {},
	StatusCancelled:        {},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0 && s.Valid()
}

// CanTransition reports whether from -> to is on the allowed graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
