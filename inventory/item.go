package inventory

import (
	"time"
)

// ItemKind discriminates the type-specific payload carried by an item.
type ItemKind string

const (
	KindTradingCard   ItemKind = "trading_card"
	KindSealedProduct ItemKind = "sealed_product"
)

// TradingCardDetails is the payload for single cards.
type TradingCardDetails struct {
	Rarity    string `json:"rarity,omitempty"`
	Condition string `json:"condition,omitempty"`
	Language  string `json:"language,omitempty"`
	Foil      bool   `json:"foil,omitempty"`
}

// SealedProductDetails is the payload for boxes, bundles and decks.
type SealedProductDetails struct {
	ProductType string `json:"productType,omitempty"`
	CardCount   int    `json:"cardCount,omitempty"`
}

// ItemDetails is the tagged variant payload; exactly one branch is set,
// matching Kind. It persists as a JSON column.
type ItemDetails struct {
	TradingCard *TradingCardDetails   `json:"tradingCard,omitempty"`
	Sealed      *SealedProductDetails `json:"sealed,omitempty"`
}

// Item is one sellable listing. Available and Reserved obey
// Available >= Reserved >= 0 outside an in-progress reservation transaction;
// Free() is what a new reservation may consume.
type Item struct {
	ID              string
	SellerID        string
	Name            string
	SetCode         string
	SetName         string
	CollectorNumber string
	Kind            ItemKind
	Details         ItemDetails
	PriceCents      int64
	Available       int64
	Reserved        int64
	ImageURL        string
	LastUpdated     time.Time
}

// Free returns the quantity a new reservation may take.
func (i *Item) Free() int64 {
	return i.Available - i.Reserved
}

// ItemPatch is a partial update of seller-owned descriptive fields plus
// available quantity. Nil fields are left untouched.
type ItemPatch struct {
	Name       *string
	SetName    *string
	PriceCents *int64
	Available  *int64
	ImageURL   *string
}
