// Package broker defines the contract between the execution engine and an
// order-execution venue, plus the order validation pipeline and retcode
// classification shared by every adapter.
package broker

import (
	"context"
	"time"

	"github.com/alexherrero/sherwood/backend/models"
	"github.com/shopspring/decimal"
)

// Connector is the only portal the execution engine uses to reach a
// broker. All state-changing operations serialize on a single per-connector
// mutex; queries may run concurrently with each other and with queries.
type Connector interface {
	Name() string

	// Connect initializes the session and starts the heartbeat loop. At
	// most one active connection exists; Connect is idempotent.
	Connect(ctx context.Context) error
	// Disconnect cancels the heartbeat loop and tears down the session.
	Disconnect(ctx context.Context) error
	// Reconnect retries Connect up to the configured attempt count with
	// exponential backoff, returning success iff any attempt succeeds.
	Reconnect(ctx context.Context) error
	IsConnected() bool

	// ExecuteOrder runs the order validation pipeline and submits the
	// order. Duplicate calls carrying a client_order_id already seen
	// return Duplicate=true without resubmitting.
	ExecuteOrder(ctx context.Context, order *models.Order) (*ExecutionResult, error)
	ModifyOrder(ctx context.Context, brokerOrderID string, mod ModifyRequest) error
	CancelOrder(ctx context.Context, brokerOrderID string) error
	ClosePosition(ctx context.Context, positionID string, deviation int) error
	CloseAllPositions(ctx context.Context, symbol string) error

	GetAccountInfo(ctx context.Context) (*models.AccountInfo, error)
	GetPositions(ctx context.Context, symbol string) ([]*models.Position, error)
	GetOrders(ctx context.Context, symbol string) ([]*models.Order, error)
	GetTicks(ctx context.Context, symbol string, from, to time.Time, count int) ([]Tick, error)
	GetRates(ctx context.Context, symbol, timeframe string, from, to time.Time, count int) ([]Rate, error)

	// SubscribeMarketData / UnsubscribeMarketData select or deselect
	// symbols in the broker terminal, returning per-symbol success.
	SubscribeMarketData(ctx context.Context, symbols []string) (map[string]bool, error)
	UnsubscribeMarketData(ctx context.Context, symbols []string) (map[string]bool, error)

	Health(ctx context.Context) HealthStatus
}

// ExecutionResult is the outcome of ExecuteOrder.
type ExecutionResult struct {
	OK             bool
	Duplicate      bool
	Retcode        int
	RetcodeMessage string
	BrokerOrderID  string
	// Deal reports whether the broker filled the order immediately
	// (market execution) as opposed to merely accepting a pending order.
	Deal  bool
	Raw   interface{}
	Error string
}

// ModifyRequest carries the optional fields of an order modification; a
// nil pointer means "leave unchanged".
type ModifyRequest struct {
	Price      *decimal.Decimal
	StopPrice  *decimal.Decimal
	LimitPrice *decimal.Decimal
	Quantity   *decimal.Decimal
}

// HealthStatus is the broker connector's self-reported health.
type HealthStatus struct {
	Uptime         time.Duration
	LastHeartbeat  time.Time
	ReconnectCount int
	Connected      bool
}

// Tick is a single price observation.
type Tick struct {
	Symbol string
	Time   time.Time
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	Last   decimal.Decimal
	Volume decimal.Decimal
}

// Rate is a single OHLCV bar.
type Rate struct {
	Symbol string
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// TradeMode classifies whether a symbol may be traded at all, and how.
type TradeMode int

const (
	TradeModeFull TradeMode = iota
	TradeModeDisabled
	TradeModeCloseOnly
	// TradeModeUnknown is the sentinel used when no broker SDK is present
	// to report the real trade-mode code; adapters that wrap a real
	// venue SDK should map to Disabled/CloseOnly/Full directly instead of
	// relying on this value.
	TradeModeUnknown TradeMode = -1
)

// SymbolInfo describes the trading constraints reported by the broker for a
// given symbol, consumed by the validation pipeline.
type SymbolInfo struct {
	Symbol         string
	TradeMode      TradeMode
	VolumeMin      decimal.Decimal
	VolumeMax      decimal.Decimal
	VolumeStep     decimal.Decimal
	TradeTickSize  decimal.Decimal
	TradeStopsLevel decimal.Decimal
	Point          decimal.Decimal
	Selected       bool
}

// SymbolInfoProvider is the subset of a Connector capable of describing a
// symbol's trading constraints; the validation pipeline depends on this
// narrow interface rather than the full Connector so it can be tested with
// a fake.
type SymbolInfoProvider interface {
	SymbolInfo(ctx context.Context, symbol string) (*SymbolInfo, error)
	RequiredMargin(ctx context.Context, order *models.Order) (decimal.Decimal, error)
}
