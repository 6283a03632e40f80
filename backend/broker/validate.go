package broker

import (
	"context"
	"fmt"

	"github.com/alexherrero/sherwood/backend/models"
	"github.com/shopspring/decimal"
)

// epsilon bounds the rounding tolerance applied to volume-step and
// tick-size alignment checks.
var epsilon = decimal.NewFromFloat(1e-8)

// defaultDeviation and defaultMagic match the teacher's fixed defaults for
// fields the caller does not set explicitly.
const (
	defaultDeviation   = 10
	defaultMagic       = 20250101
	maxCommentRunes    = 31
	defaultTimeInForce = "GTC"
	defaultFilling     = "RETURN"
)

// BrokerRequest is the deterministic wire request built by step 7 of the
// validation pipeline.
type BrokerRequest struct {
	Action      string // "DEAL" or "PENDING"
	OrderType   string // "BUY" or "SELL"
	Symbol      string
	Volume      decimal.Decimal
	Price       decimal.Decimal
	StopLoss    decimal.Decimal
	TakeProfit  decimal.Decimal
	Deviation   int
	Magic       int
	Comment     string
	TimeInForce string
	Filling     string
}

// orderValidator is one short-circuiting step of the validation pipeline.
type orderValidator func(ctx context.Context, order *models.Order, symInfo *SymbolInfo, provider SymbolInfoProvider) error

// ValidateOrder runs the full 8-step validation pipeline (steps 1-6 here;
// step 7 is BuildBrokerRequest; step 8, submission and retcode mapping, is
// the adapter's responsibility) and returns the first error encountered.
func ValidateOrder(ctx context.Context, order *models.Order, provider SymbolInfoProvider) (*SymbolInfo, error) {
	symInfo, err := provider.SymbolInfo(ctx, order.Symbol)
	if err != nil {
		return nil, err
	}
	for _, step := range []orderValidator{
		stepSymbolTradeMode,
		stepVolumeRange,
		stepPriceAlignment,
		stepStopsDistance,
		stepSymbolSelected,
		stepMarginCheck,
	} {
		if err := step(ctx, order, symInfo, provider); err != nil {
			return symInfo, err
		}
	}
	return symInfo, nil
}

func stepSymbolTradeMode(ctx context.Context, order *models.Order, sym *SymbolInfo, _ SymbolInfoProvider) error {
	switch sym.TradeMode {
	case TradeModeDisabled:
		return ErrSymbolDisabled
	case TradeModeCloseOnly:
		return ErrSymbolCloseOnly
	}
	return nil
}

func stepVolumeRange(ctx context.Context, order *models.Order, sym *SymbolInfo, _ SymbolInfoProvider) error {
	if order.Quantity.LessThan(sym.VolumeMin) || order.Quantity.GreaterThan(sym.VolumeMax) {
		return ErrVolumeOutOfRange
	}
	if sym.VolumeStep.IsZero() {
		return nil
	}
	remainder := order.Quantity.Div(sym.VolumeStep).Sub(order.Quantity.Div(sym.VolumeStep).Round(0)).Abs()
	if remainder.GreaterThan(epsilon) {
		return ErrVolumeStepMismatch
	}
	return nil
}

func stepPriceAlignment(ctx context.Context, order *models.Order, sym *SymbolInfo, _ SymbolInfoProvider) error {
	if order.Price.IsZero() || sym.TradeTickSize.IsZero() {
		return nil
	}
	remainder := order.Price.Div(sym.TradeTickSize).Sub(order.Price.Div(sym.TradeTickSize).Round(0)).Abs()
	if remainder.GreaterThan(epsilon) {
		return ErrPriceMisaligned
	}
	return nil
}

func stepStopsDistance(ctx context.Context, order *models.Order, sym *SymbolInfo, _ SymbolInfoProvider) error {
	minDistance := sym.TradeStopsLevel.Mul(sym.Point)
	if !order.StopPrice.IsZero() {
		if order.Price.Sub(order.StopPrice).Abs().LessThanOrEqual(minDistance) {
			return ErrStopsTooClose
		}
	}
	if !order.LimitPrice.IsZero() {
		if order.Price.Sub(order.LimitPrice).Abs().LessThanOrEqual(minDistance) {
			return ErrStopsTooClose
		}
	}
	return nil
}

func stepSymbolSelected(ctx context.Context, order *models.Order, sym *SymbolInfo, _ SymbolInfoProvider) error {
	if !sym.Selected {
		return ErrSymbolNotSelected
	}
	return nil
}

func stepMarginCheck(ctx context.Context, order *models.Order, sym *SymbolInfo, provider SymbolInfoProvider) error {
	required, err := provider.RequiredMargin(ctx, order)
	if err != nil {
		return err
	}
	acct, ok := ctx.Value(accountInfoKey{}).(*models.AccountInfo)
	if !ok || acct == nil {
		return nil
	}
	if required.GreaterThan(acct.FreeMargin) {
		return ErrInsufficientMargin
	}
	return nil
}

// accountInfoKey is the context key used to pass the account snapshot into
// the margin-check step without widening every validator's signature.
type accountInfoKey struct{}

// WithAccountInfo attaches account state to ctx for the margin check.
func WithAccountInfo(ctx context.Context, acct *models.AccountInfo) context.Context {
	return context.WithValue(ctx, accountInfoKey{}, acct)
}

// BuildBrokerRequest implements step 7: deterministic mapping from a
// validated order to the wire request.
func BuildBrokerRequest(order *models.Order) BrokerRequest {
	action := "PENDING"
	if order.Type == models.OrderTypeMarket {
		action = "DEAL"
	}
	orderType := "BUY"
	if order.Side == models.OrderSideSell {
		orderType = "SELL"
	}
	comment := order.ClientOrderID
	runes := []rune(comment)
	if len(runes) > maxCommentRunes {
		comment = string(runes[:maxCommentRunes])
	}
	return BrokerRequest{
		Action:      action,
		OrderType:   orderType,
		Symbol:      order.Symbol,
		Volume:      order.Quantity,
		Price:       order.Price,
		StopLoss:    order.StopPrice,
		TakeProfit:  order.LimitPrice,
		Deviation:   defaultDeviation,
		Magic:       defaultMagic,
		Comment:     comment,
		TimeInForce: defaultTimeInForce,
		Filling:     defaultFilling,
	}
}

// errorFor maps a validation error to the human-readable reason surfaced to
// the caller.
func errorFor(err error) string {
	return fmt.Sprintf("order validation failed: %v", err)
}
