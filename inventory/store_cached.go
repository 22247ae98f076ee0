package inventory

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CachedStore wraps a Store with a Redis cache-aside layer on the item read
// path. Cache failures never fail a request; the store is authoritative.
type CachedStore struct {
	Store
	cache  *ItemCache
	logger *zap.Logger
}

// NewCachedStore builds the cache-aside wrapper.
func NewCachedStore(store Store, cache *ItemCache, logger *zap.Logger) *CachedStore {
	return &CachedStore{Store: store, cache: cache, logger: logger}
}

func (s *CachedStore) GetItem(ctx context.Context, id string) (*Item, error) {
	cached, err := s.cache.Get(ctx, id)
	if err != nil {
		s.logger.Warn("item cache read failed", zap.String("item_id", id), zap.Error(err))
	} else if cached != nil {
		return cached, nil
	}

	item, err := s.Store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, item); err != nil {
		s.logger.Warn("item cache populate failed", zap.String("item_id", id), zap.Error(err))
	}
	return item, nil
}

func (s *CachedStore) UpsertItem(ctx context.Context, item *Item) error {
	if err := s.Store.UpsertItem(ctx, item); err != nil {
		return err
	}
	s.invalidate(ctx, item.ID)
	return nil
}

func (s *CachedStore) UpdateItemFields(ctx context.Context, id, sellerID string, patch ItemPatch) (*Item, error) {
	item, err := s.Store.UpdateItemFields(ctx, id, sellerID, patch)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)
	return item, nil
}

func (s *CachedStore) DeleteItem(ctx context.Context, id string) error {
	if err := s.Store.DeleteItem(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

// WithinTx passes through and invalidates every item the transaction
// touched, tracked by wrapping the Tx.
func (s *CachedStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	touched := &touchTracker{}
	err := s.Store.WithinTx(ctx, func(tx Tx) error {
		return fn(&trackedTx{Tx: tx, touched: touched})
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, touched.ids...)
	return nil
}

func (s *CachedStore) invalidate(ctx context.Context, ids ...string) {
	// Invalidation runs after commit and must survive caller cancellation.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.cache.Invalidate(ctx, ids...); err != nil {
		s.logger.Warn("item cache invalidation failed",
			zap.Strings("item_ids", ids), zap.Error(err))
	}
}

type touchTracker struct {
	ids []string
}

func (t *touchTracker) add(id string) {
	for _, existing := range t.ids {
		if existing == id {
			return
		}
	}
	t.ids = append(t.ids, id)
}

// trackedTx records which items a transaction mutates.
type trackedTx struct {
	Tx
	touched *touchTracker
}

func (t *trackedTx) AddReserved(ctx context.Context, itemID string, delta int64) error {
	t.touched.add(itemID)
	return t.Tx.AddReserved(ctx, itemID, delta)
}

func (t *trackedTx) ConsumeStock(ctx context.Context, itemID string, qty int64) error {
	t.touched.add(itemID)
	return t.Tx.ConsumeStock(ctx, itemID, qty)
}
