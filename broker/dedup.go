package broker

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// dedupStore remembers (message id, order id) pairs for the deduplication
// window so redelivered messages can be acked without re-running handlers.
// It is in-process: a restart forgets the window, which is safe because
// handlers are also idempotent against persisted state.
type dedupStore struct {
	cache *gocache.Cache
}

func newDedupStore(window time.Duration) *dedupStore {
	return &dedupStore{
		cache: gocache.New(window, window/4),
	}
}

func dedupKey(messageID, orderID string) string {
	return messageID + "|" + orderID
}

// Seen reports whether the pair was already processed inside the window.
func (d *dedupStore) Seen(messageID, orderID string) bool {
	if messageID == "" {
		return false
	}
	_, found := d.cache.Get(dedupKey(messageID, orderID))
	return found
}

// Record marks the pair as processed.
func (d *dedupStore) Record(messageID, orderID string) {
	if messageID == "" {
		return
	}
	d.cache.SetDefault(dedupKey(messageID, orderID), struct{}{})
}
