package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JoshuaWink/tcg-order-management-system-sub000/events"
	"github.com/JoshuaWink/tcg-order-management-system-sub000/fault"
)

func TestUpsertItemAnnouncesQuantity(t *testing.T) {
	store := newMemStore()
	bus := &fakeBus{}
	engine := newTestEngine(store, bus)
	ctx := context.Background()

	item := cardItem("card-1", 10)
	require.NoError(t, engine.UpsertItem(ctx, item))

	changed, ok := bus.last(events.InventoryQuantityChanged).(events.InventoryQuantityChangedEvent)
	require.True(t, ok)
	assert.Equal(t, "card-1", changed.ItemID)
	assert.Equal(t, int64(10), changed.Available)
	assert.Nil(t, bus.last(events.InventoryQuantityLow), "10 on hand is not low stock")
}

func TestUpsertItemDefaultsKind(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, &fakeBus{})
	ctx := context.Background()

	item := cardItem("card-1", 1)
	item.Kind = ""
	require.NoError(t, engine.UpsertItem(ctx, item))
	assert.Equal(t, KindTradingCard, item.Kind)
}

func TestUpsertItemValidation(t *testing.T) {
	engine := newTestEngine(newMemStore(), &fakeBus{})
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*Item)
	}{
		{"missing name", func(i *Item) { i.Name = "" }},
		{"missing seller", func(i *Item) { i.SellerID = "" }},
		{"negative price", func(i *Item) { i.PriceCents = -1 }},
		{"negative quantity", func(i *Item) { i.Available = -1 }},
		{"unknown kind", func(i *Item) { i.Kind = "hologram" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			item := cardItem("card-1", 1)
			tc.mutate(item)
			err := engine.UpsertItem(ctx, item)
			assert.True(t, fault.Is(err, fault.Validation), "got %v", err)
		})
	}
}

func TestUpdateItemFieldsAnnouncesOnQuantityChange(t *testing.T) {
	store := newMemStore(cardItem("card-1", 10))
	bus := &fakeBus{}
	engine := newTestEngine(store, bus)
	ctx := context.Background()

	price := int64(3000)
	_, err := engine.UpdateItemFields(ctx, "card-1", "seller-1", ItemPatch{PriceCents: &price})
	require.NoError(t, err)
	assert.Zero(t, bus.count(events.InventoryQuantityChanged), "price edits do not announce quantity")

	qty := int64(2)
	updated, err := engine.UpdateItemFields(ctx, "card-1", "seller-1", ItemPatch{Available: &qty})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Available)
	assert.Equal(t, 1, bus.count(events.InventoryQuantityChanged))

	// 2 on hand is below the threshold of 3.
	low, ok := bus.last(events.InventoryQuantityLow).(events.InventoryQuantityLowEvent)
	require.True(t, ok)
	assert.Equal(t, int64(2), low.Available)
}

func TestUpdateItemFieldsChecksOwner(t *testing.T) {
	store := newMemStore(cardItem("card-1", 10))
	engine := newTestEngine(store, &fakeBus{})

	price := int64(3000)
	_, err := engine.UpdateItemFields(context.Background(), "card-1", "someone-else", ItemPatch{PriceCents: &price})
	assert.True(t, fault.Is(err, fault.Conflict), "got %v", err)
}

func TestDeleteItemBlockedByActiveHold(t *testing.T) {
	store := newMemStore(cardItem("card-1", 5))
	engine := newTestEngine(store, &fakeBus{})
	ctx := context.Background()

	_, err := engine.Reserve(ctx, "order-1", "user-1", []LineRequest{{ItemID: "card-1", Quantity: 1}}, 0)
	require.NoError(t, err)

	err = engine.DeleteItem(ctx, "card-1")
	assert.True(t, fault.Is(err, fault.Conflict), "got %v", err)

	require.NoError(t, engine.Release(ctx, "order-1"))
	assert.NoError(t, engine.DeleteItem(ctx, "card-1"))
}
