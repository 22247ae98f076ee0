package inventory

import (
	"context"

	"go.uber.org/zap"

	"github.com/JoshuaWink/tcg-order-management-system-sub000/events"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/fault"
)

// Catalog admin path: seller-owned descriptive fields plus available
// quantity when no Active reservation blocks the change. Quantity changes
// are announced on the bus so downstream caches and storefronts converge.

// GetItem returns an item snapshot.
func (e *Engine) GetItem(ctx context.Context, id string) (*Item, error) {
	return e.store.GetItem(ctx, id)
}

// ListItemsBySet returns the items of one set ordered by collector number.
func (e *Engine) ListItemsBySet(ctx context.Context, setCode string) ([]*Item, error) {
	return e.store.ListItemsBySet(ctx, setCode)
}

// UpsertItem creates or replaces a listing owned by its seller. New items
// start with nothing reserved.
func (e *Engine) UpsertItem(ctx context.Context, item *Item) error {
	const op = "inventory.UpsertItem"

	if item.ID == "" || item.SellerID == "" || item.Name == "" {
		return fault.New(fault.Validation, op, "item id, seller id and name are required")
	}
	if item.PriceCents < 0 {
		return fault.Newf(fault.Validation, op, "negative price %d", item.PriceCents)
	}
	if item.Available < 0 {
		return fault.Newf(fault.Validation, op, "negative quantity %d", item.Available)
	}
	switch item.Kind {
	case KindTradingCard, KindSealedProduct:
	case "":
		item.Kind = KindTradingCard
	default:
		return fault.Newf(fault.Validation, op, "unknown item kind %q", item.Kind)
	}

	if err := e.store.UpsertItem(ctx, item); err != nil {
		return err
	}
	e.announceQuantity(ctx, item.ID)
	return nil
}

// UpdateItemFields applies a seller's partial update.
func (e *Engine) UpdateItemFields(ctx context.Context, id, sellerID string, patch ItemPatch) (*Item, error) {
	const op = "inventory.UpdateItemFields"

	if id == "" || sellerID == "" {
		return nil, fault.New(fault.Validation, op, "item id and seller id are required")
	}
	if patch.PriceCents != nil && *patch.PriceCents < 0 {
		return nil, fault.Newf(fault.Validation, op, "negative price %d", *patch.PriceCents)
	}
	if patch.Available != nil && *patch.Available < 0 {
		return nil, fault.Newf(fault.Validation, op, "negative quantity %d", *patch.Available)
	}

	item, err := e.store.UpdateItemFields(ctx, id, sellerID, patch)
	if err != nil {
		return nil, err
	}
	if patch.Available != nil {
		e.announceQuantity(ctx, id)
	}
	return item, nil
}

// DeleteItem removes a listing; the store refuses while an Active
// reservation references it.
func (e *Engine) DeleteItem(ctx context.Context, id string) error {
	return e.store.DeleteItem(ctx, id)
}

// announceQuantity publishes the item's current quantities and, when below
// the threshold, a low-stock alert.
func (e *Engine) announceQuantity(ctx context.Context, itemID string) {
	item, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		e.logger.Warn("quantity announce skipped",
			zap.String("item_id", itemID), zap.Error(err))
		return
	}

	changed := events.InventoryQuantityChangedEvent{
		Envelope:  events.NewEnvelope(events.InventoryQuantityChanged, ""),
		ItemID:    item.ID,
		Available: item.Available,
		Reserved:  item.Reserved,
	}
	if err := e.bus.Publish(ctx, events.InventoryQuantityChanged, changed); err != nil {
		e.logger.Error("publish quantity.changed", zap.Error(err))
	}

	if e.lowStock > 0 && item.Available < e.lowStock {
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
