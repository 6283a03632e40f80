// Package simulated implements broker.Connector against an in-memory book
// with instant fills, for paper trading and tests. It carries no real
// venue dependency; generalizes the teacher's PaperBroker into the fuller
// Connector contract (retcodes, margin, deviation, idempotency dedupe).
package simulated

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alexherrero/sherwood/backend/broker"
	"github.com/alexherrero/sherwood/backend/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// defaultSymbolInfo is used for any symbol the broker has not been told
// about explicitly via SetSymbolInfo; it imposes no real constraints,
// matching the teacher's instant-fill simulation philosophy.
func defaultSymbolInfo(symbol string) *broker.SymbolInfo {
	return &broker.SymbolInfo{
		Symbol:          symbol,
		TradeMode:       broker.TradeModeFull,
		VolumeMin:       decimal.NewFromFloat(0.01),
		VolumeMax:       decimal.NewFromInt(1000000),
		VolumeStep:      decimal.NewFromFloat(0.01),
		TradeTickSize:   decimal.NewFromFloat(0.00001),
		TradeStopsLevel: decimal.Zero,
		Point:           decimal.NewFromFloat(0.00001),
		Selected:        true,
	}
}

// Broker simulates order execution against an in-memory balance/position
// book. No real money is at risk.
type Broker struct {
	name      string
	accountID string

	mu        sync.RWMutex
	connected bool
	balance   models.Balance
	positions map[string]*models.Position
	orders    map[string]*models.Order // keyed by broker order id
	symbols   map[string]*broker.SymbolInfo
	prices    map[string]decimal.Decimal

	idempotency map[string]string // client_order_id -> broker_order_id
	orderSeq    int

	startedAt      time.Time
	lastHeartbeat  time.Time
	reconnectCount int
}

// New creates a simulated broker seeded with initialCash.
func New(accountID string, initialCash decimal.Decimal) *Broker {
	return &Broker{
		name:        "simulated",
		accountID:   accountID,
		balance: models.Balance{
			AccountID:      accountID,
			Cash:           initialCash,
			Equity:         initialCash,
			BuyingPower:    initialCash,
			PortfolioValue: initialCash,
			UpdatedAt:      time.Now(),
		},
		positions:   make(map[string]*models.Position),
		orders:      make(map[string]*models.Order),
		symbols:     make(map[string]*broker.SymbolInfo),
		prices:      make(map[string]decimal.Decimal),
		idempotency: make(map[string]string),
	}
}

func (b *Broker) Name() string { return b.name }

// SetPrice records the latest tradable price for symbol, used for market
// order fills and mark-to-market of open positions.
func (b *Broker) SetPrice(symbol string, price decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price
	if pos, ok := b.positions[symbol]; ok {
		markPosition(pos, price)
	}
}

// SetSymbolInfo overrides the trading constraints reported for symbol;
// absent an override, defaultSymbolInfo is used.
func (b *Broker) SetSymbolInfo(info broker.SymbolInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.symbols[info.Symbol] = &info
}

func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		return nil
	}
	b.connected = true
	b.startedAt = time.Now()
	b.lastHeartbeat = time.Now()
	log.Info().Str("broker", b.name).Msg("simulated broker connected")
	return nil
}

func (b *Broker) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	log.Info().Str("broker", b.name).Msg("simulated broker disconnected")
	return nil
}

func (b *Broker) Reconnect(ctx context.Context) error {
	b.mu.Lock()
	b.reconnectCount++
	b.mu.Unlock()
	return b.Connect(ctx)
}

func (b *Broker) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// SymbolInfo implements broker.SymbolInfoProvider.
func (b *Broker) SymbolInfo(ctx context.Context, symbol string) (*broker.SymbolInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if info, ok := b.symbols[symbol]; ok {
		cp := *info
		return &cp, nil
	}
	return defaultSymbolInfo(symbol), nil
}

// RequiredMargin implements broker.SymbolInfoProvider with 1x leverage:
// notional value equals required margin.
func (b *Broker) RequiredMargin(ctx context.Context, order *models.Order) (decimal.Decimal, error) {
	price := order.Price
	if order.Type == models.OrderTypeMarket {
		b.mu.RLock()
		p, ok := b.prices[order.Symbol]
		b.mu.RUnlock()
		if !ok {
			return decimal.Zero, fmt.Errorf("no price available for %s", order.Symbol)
		}
		price = p
	}
	return order.Quantity.Mul(price), nil
}

// ExecuteOrder validates and simulates an instant fill.
func (b *Broker) ExecuteOrder(ctx context.Context, order *models.Order) (*broker.ExecutionResult, error) {
	b.mu.Lock()
	if existing, ok := b.idempotency[order.ClientOrderID]; ok {
		b.mu.Unlock()
		return &broker.ExecutionResult{OK: true, Duplicate: true, BrokerOrderID: existing}, nil
	}
	connected := b.connected
	b.mu.Unlock()

	if !connected {
		return &broker.ExecutionResult{OK: false, Error: broker.ErrUnavailable.Error()}, broker.ErrUnavailable
	}

	acct, _ := b.GetAccountInfo(ctx)
	ctx = broker.WithAccountInfo(ctx, acct)
	if _, err := broker.ValidateOrder(ctx, order, b); err != nil {
		return &broker.ExecutionResult{OK: false, Error: err.Error()}, nil
	}

	price := order.Price
	if order.Type == models.OrderTypeMarket {
		b.mu.RLock()
		p, ok := b.prices[order.Symbol]
		b.mu.RUnlock()
		if !ok {
			return &broker.ExecutionResult{OK: false, Error: fmt.Sprintf("no price available for %s", order.Symbol)}, nil
		}
		price = p
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cost := order.Quantity.Mul(price)
	if order.Side == models.OrderSideBuy && cost.GreaterThan(b.balance.BuyingPower) {
		return &broker.ExecutionResult{OK: false, Error: fmt.Sprintf("insufficient buying power: need %s, have %s", cost, b.balance.BuyingPower)}, nil
	}

	b.orderSeq++
	brokerOrderID := fmt.Sprintf("sim-%06d", b.orderSeq)

	if order.Side == models.OrderSideBuy {
		b.applyBuy(order.Symbol, order.Quantity, price)
	} else {
		b.applySell(order.Symbol, order.Quantity, price)
	}

	stored := *order
	stored.BrokerOrderID = brokerOrderID
	stored.FilledQuantity = order.Quantity
	b.orders[brokerOrderID] = &stored
	b.idempotency[order.ClientOrderID] = brokerOrderID

	log.Info().
		Str("broker_order_id", brokerOrderID).
		Str("client_order_id", order.ClientOrderID).
		Str("symbol", order.Symbol).
		Str("side", string(order.Side)).
		Str("quantity", order.Quantity.String()).
		Str("price", price.String()).
		Msg("simulated order executed")

	return &broker.ExecutionResult{
		OK:             true,
		Retcode:        broker.RetcodeRequestOrderClosed,
		RetcodeMessage: "done",
		BrokerOrderID:  brokerOrderID,
		Deal:           true,
	}, nil
}

func (b *Broker) applyBuy(symbol string, quantity, price decimal.Decimal) {
	cost := quantity.Mul(price)
	b.balance.Cash = b.balance.Cash.Sub(cost)
	b.balance.BuyingPower = b.balance.BuyingPower.Sub(cost)
	b.balance.UpdatedAt = time.Now()

	pos, exists := b.positions[symbol]
	if exists {
		totalQty := pos.Quantity.Add(quantity)
		totalCost := pos.EntryPrice.Mul(pos.Quantity).Add(cost)
		pos.EntryPrice = totalCost.Div(totalQty)
		pos.Quantity = totalQty
	} else {
		pos = &models.Position{
			ID:         uuid.New(),
			AccountID:  b.accountID,
			Symbol:     symbol,
			Side:       models.OrderSideBuy,
			Quantity:   quantity,
			EntryPrice: price,
			OpenedAt:   time.Now(),
		}
	}
	markPosition(pos, price)
	b.positions[symbol] = pos
}

func (b *Broker) applySell(symbol string, quantity, price decimal.Decimal) {
	proceeds := quantity.Mul(price)
	b.balance.Cash = b.balance.Cash.Add(proceeds)
	b.balance.BuyingPower = b.balance.BuyingPower.Add(proceeds)
	b.balance.UpdatedAt = time.Now()

	pos, exists := b.positions[symbol]
	if !exists {
		return
	}
	pos.Quantity = pos.Quantity.Sub(quantity)
	if pos.Quantity.LessThanOrEqual(decimal.Zero) {
		now := time.Now()
		pos.ClosedAt = &now
		delete(b.positions, symbol)
		return
	}
	markPosition(pos, price)
	b.positions[symbol] = pos
}

func markPosition(pos *models.Position, price decimal.Decimal) {
	pos.CurrentPrice = price
	marketValue := pos.Quantity.Mul(price)
	pos.UnrealizedPL = marketValue.Sub(pos.Quantity.Mul(pos.EntryPrice))
}

func (b *Broker) ModifyOrder(ctx context.Context, brokerOrderID string, mod broker.ModifyRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[brokerOrderID]
	if !ok {
		return broker.ErrOrderNotFound
	}
	if mod.Price != nil {
		order.Price = *mod.Price
	}
	if mod.StopPrice != nil {
		order.StopPrice = *mod.StopPrice
	}
	if mod.LimitPrice != nil {
		order.LimitPrice = *mod.LimitPrice
	}
	if mod.Quantity != nil {
		order.Quantity = *mod.Quantity
	}
	return nil
}

func (b *Broker) CancelOrder(ctx context.Context, brokerOrderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[brokerOrderID]
	if !ok {
		return broker.ErrOrderNotFound
	}
	if order.Status == models.OrderStatusFilled {
		return fmt.Errorf("cannot cancel filled order: %s", brokerOrderID)
	}
	order.Status = models.OrderStatusCanceled
	return nil
}

func (b *Broker) ClosePosition(ctx context.Context, positionID string, deviation int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for symbol, pos := range b.positions {
		if pos.ID.String() != positionID {
			continue
		}
		price, ok := b.prices[symbol]
		if !ok {
			price = pos.CurrentPrice
		}
		proceeds := pos.Quantity.Mul(price)
		b.balance.Cash = b.balance.Cash.Add(proceeds)
		b.balance.BuyingPower = b.balance.BuyingPower.Add(proceeds)
		now := time.Now()
		pos.ClosedAt = &now
		delete(b.positions, symbol)
		return nil
	}
	return broker.ErrOrderNotFound
}

func (b *Broker) CloseAllPositions(ctx context.Context, symbol string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sym, pos := range b.positions {
		if symbol != "" && sym != symbol {
			continue
		}
		price, ok := b.prices[sym]
		if !ok {
			price = pos.CurrentPrice
		}
		proceeds := pos.Quantity.Mul(price)
		b.balance.Cash = b.balance.Cash.Add(proceeds)
		b.balance.BuyingPower = b.balance.BuyingPower.Add(proceeds)
		now := time.Now()
		pos.ClosedAt = &now
		delete(b.positions, sym)
	}
	return nil
}

func (b *Broker) GetAccountInfo(ctx context.Context) (*models.AccountInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return &models.AccountInfo{
		AccountID:   b.accountID,
		Balance:     b.balance.Cash,
		Equity:      b.balance.Equity,
		FreeMargin:  b.balance.BuyingPower,
		Margin:      b.balance.Equity.Sub(b.balance.BuyingPower),
		Leverage:    decimal.NewFromInt(1),
		Currency:    "USD",
		LastUpdated: b.balance.UpdatedAt,
	}, nil
}

func (b *Broker) GetPositions(ctx context.Context, symbol string) ([]*models.Position, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*models.Position, 0, len(b.positions))
	for sym, pos := range b.positions {
		if symbol != "" && sym != symbol {
			continue
		}
		cp := *pos
		out = append(out, &cp)
	}
	return out, nil
}

func (b *Broker) GetOrders(ctx context.Context, symbol string) ([]*models.Order, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*models.Order, 0, len(b.orders))
	for _, o := range b.orders {
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

func (b *Broker) GetTicks(ctx context.Context, symbol string, from, to time.Time, count int) ([]broker.Tick, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	price, ok := b.prices[symbol]
	if !ok {
		return nil, nil
	}
	return []broker.Tick{{Symbol: symbol, Time: time.Now(), Bid: price, Ask: price, Last: price}}, nil
}

func (b *Broker) GetRates(ctx context.Context, symbol, timeframe string, from, to time.Time, count int) ([]broker.Rate, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	price, ok := b.prices[symbol]
	if !ok {
		return nil, nil
	}
	return []broker.Rate{{Symbol: symbol, Time: time.Now(), Open: price, High: price, Low: price, Close: price}}, nil
}

func (b *Broker) SubscribeMarketData(ctx context.Context, symbols []string) (map[string]bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	result := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		info, ok := b.symbols[sym]
		if !ok {
			info = defaultSymbolInfo(sym)
			b.symbols[sym] = info
		}
		info.Selected = true
		result[sym] = true
	}
	return result, nil
}

func (b *Broker) UnsubscribeMarketData(ctx context.Context, symbols []string) (map[string]bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	result := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		if info, ok := b.symbols[sym]; ok {
			info.Selected = false
		}
		result[sym] = true
	}
	return result, nil
}

func (b *Broker) Health(ctx context.Context) broker.HealthStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var uptime time.Duration
	if !b.startedAt.IsZero() {
		uptime = time.Since(b.startedAt)
	}
	return broker.HealthStatus{
		Uptime:         uptime,
		LastHeartbeat:  b.lastHeartbeat,
		ReconnectCount: b.reconnectCount,
		Connected:      b.connected,
	}
}

var _ broker.Connector = (*Broker)(nil)
var _ broker.SymbolInfoProvider = (*Broker)(nil)
