// Package models defines the shared data types for the order-execution
// pipeline: orders, positions, risk incidents and rules, and the
// connection/subscription records the fan-out layer mirrors to the bus.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderSide represents the direction of an order.
type OrderSide string

const (
	// OrderSideBuy represents a buy order.
	OrderSideBuy OrderSide = "BUY"
	// OrderSideSell represents a sell order.
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the type of order.
type OrderType string

const (
	// OrderTypeMarket is a market order executed at current price.
	OrderTypeMarket OrderType = "MARKET"
	// OrderTypeLimit is a limit order executed at a specified price or better.
	OrderTypeLimit OrderType = "LIMIT"
	// OrderTypeStop is a stop order triggered at a specified price.
	OrderTypeStop OrderType = "STOP"
	// OrderTypeStopLimit is a stop-limit order.
	OrderTypeStopLimit OrderType = "STOP_LIMIT"
)

// OrderStatus represents the current state of an order in the execution
// engine's state machine.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusValidated OrderStatus = "VALIDATED"
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	OrderStatusPartial   OrderStatus = "PARTIAL"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusCanceled  OrderStatus = "CANCELED"
	OrderStatusExpired   OrderStatus = "EXPIRED"
)

// validTransitions encodes the order state machine: the set of statuses an
// order in a given status may legally move to. Anything not listed here is
// an invalid transition.
var validTransitions = map[OrderStatus]map[OrderStatus]bool{
	OrderStatusPending: {
		OrderStatusValidated: true,
		OrderStatusRejected:  true,
		OrderStatusCanceled:  true,
	},
	OrderStatusValidated: {
		OrderStatusSubmitted: true,
		OrderStatusRejected:  true,
		OrderStatusCanceled:  true,
	},
	OrderStatusSubmitted: {
		OrderStatusPartial:  true,
		OrderStatusFilled:   true,
		OrderStatusRejected: true,
		OrderStatusCanceled: true,
		OrderStatusExpired:  true,
	},
	OrderStatusPartial: {
		OrderStatusFilled:   true,
		OrderStatusCanceled: true,
		OrderStatusRejected: true,
		OrderStatusExpired:  true,
	},
}

// terminalStatuses are statuses from which no further mutation is allowed.
var terminalStatuses = map[OrderStatus]bool{
	OrderStatusFilled:   true,
	OrderStatusRejected: true,
	OrderStatusCanceled: true,
	OrderStatusExpired:  true,
}

// IsTerminal reports whether status is one of the terminal states.
func (s OrderStatus) IsTerminal() bool {
	return terminalStatuses[s]
}

// CanTransition reports whether moving from s to next is legal under the
// order state machine.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	return validTransitions[s][next]
}

// Order represents a trading order moving through the execution pipeline.
type Order struct {
	// ID is the internal opaque identifier.
	ID uuid.UUID `json:"id" db:"id"`
	// ClientOrderID is the caller-chosen idempotency key, unique globally.
	ClientOrderID string `json:"client_order_id" db:"client_order_id"`
	// AccountID identifies the owning account.
	AccountID string `json:"account_id" db:"account_id"`
	// StrategyID and ModelID are optional references to the originating
	// strategy/model; empty string means unset.
	StrategyID string `json:"strategy_id,omitempty" db:"strategy_id"`
	ModelID    string `json:"model_id,omitempty" db:"model_id"`

	Symbol string    `json:"symbol" db:"symbol"`
	Side   OrderSide `json:"side" db:"side"`
	Type   OrderType `json:"type" db:"type"`

	Quantity       decimal.Decimal `json:"quantity" db:"quantity"`
	FilledQuantity decimal.Decimal `json:"filled_quantity" db:"filled_quantity"`

	Price      decimal.Decimal `json:"price,omitempty" db:"price"`
	StopPrice  decimal.Decimal `json:"stop_price,omitempty" db:"stop_price"`
	LimitPrice decimal.Decimal `json:"limit_price,omitempty" db:"limit_price"`

	Status          OrderStatus `json:"status" db:"status"`
	RejectionReason string      `json:"rejection_reason,omitempty" db:"rejection_reason"`
	BrokerOrderID   string      `json:"broker_order_id,omitempty" db:"broker_order_id"`

	Commission     decimal.Decimal `json:"commission" db:"commission"`
	Swap           decimal.Decimal `json:"swap" db:"swap"`
	RealizedProfit decimal.Decimal `json:"realized_profit" db:"realized_profit"`

	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
	OpenedAt  *time.Time `json:"opened_at,omitempty" db:"opened_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty" db:"closed_at"`

	// Version is the optimistic-concurrency counter; it increases by
	// exactly one on every persisted mutation.
	Version int64 `json:"version" db:"version"`
}

// Trade represents a single execution (fill) against an order.
type Trade struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	OrderID       uuid.UUID       `json:"order_id" db:"order_id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Side          OrderSide       `json:"side" db:"side"`
	Quantity      decimal.Decimal `json:"quantity" db:"quantity"`
	Price         decimal.Decimal `json:"price" db:"price"`
	Commission    decimal.Decimal `json:"commission" db:"commission"`
	BrokerTradeID string          `json:"broker_trade_id,omitempty" db:"broker_trade_id"`
	ExecutedAt    time.Time       `json:"executed_at" db:"executed_at"`
}

// AccountInfo is a snapshot of broker-reported account state used as
// risk-check input.
type AccountInfo struct {
	AccountID   string          `json:"account_id"`
	Balance     decimal.Decimal `json:"balance"`
	Equity      decimal.Decimal `json:"equity"`
	FreeMargin  decimal.Decimal `json:"free_margin"`
	Margin      decimal.Decimal `json:"margin"`
	Leverage    decimal.Decimal `json:"leverage"`
	Currency    string          `json:"currency"`
	DailyPnL    decimal.Decimal `json:"daily_pnl"`
	LastUpdated time.Time       `json:"last_updated"`
}
