package models

import "github.com/shopspring/decimal"

// Coin is a tracked asset, keyed by its upstream identifier (e.g. "bitcoin").
type Coin struct {
	ID        string              `json:"id"`
	Symbol    string              `json:"symbol"`
	Name      string              `json:"name"`
	MaxSupply decimal.NullDecimal `json:"max_supply"`
}

// Exchange is a tracked venue, keyed by its upstream identifier.
type Exchange struct {
	ID          string `json:"id"`
	ExchangeURL string `json:"exchange_url"`
}

// ExchangePair is a trading pair listed on a seeded exchange. ID is assigned
// by the store on insert and is zero before that.
type ExchangePair struct {
	ID          int64  `json:"id"`
	ExchangeID  string `json:"exchange_id"`
	BaseSymbol  string `json:"base_symbol"`
	BaseID      string `json:"base_id"`
	QuoteSymbol string `json:"quote_symbol"`
	QuoteID     string `json:"quote_id"`
}
