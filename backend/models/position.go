package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Position represents open inventory in a symbol for an account.
type Position struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	AccountID    string          `json:"account_id" db:"account_id"`
	Symbol       string          `json:"symbol" db:"symbol"`
	Side         OrderSide       `json:"side" db:"side"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	EntryPrice   decimal.Decimal `json:"entry_price" db:"entry_price"`
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"`

	UnrealizedPL decimal.Decimal `json:"unrealized_pl" db:"unrealized_pl"`
	RealizedPL   decimal.Decimal `json:"realized_pl" db:"realized_pl"`

	OpenedAt time.Time  `json:"opened_at" db:"opened_at"`
	ClosedAt *time.Time `json:"closed_at,omitempty" db:"closed_at"`

	// Version is the optimistic-concurrency counter.
	Version int64 `json:"version" db:"version"`
}

// IsOpen reports whether the position is still live. Invariant: ClosedAt is
// nil iff the position is live.
func (p *Position) IsOpen() bool {
	return p.ClosedAt == nil
}

// Balance represents account balance information reported by the broker.
type Balance struct {
	AccountID      string          `json:"account_id" db:"account_id"`
	Cash           decimal.Decimal `json:"cash" db:"cash"`
	Equity         decimal.Decimal `json:"equity" db:"equity"`
	BuyingPower    decimal.Decimal `json:"buying_power" db:"buying_power"`
	PortfolioValue decimal.Decimal `json:"portfolio_value" db:"portfolio_value"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}
