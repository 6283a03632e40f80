// Package risk evaluates an order against a configurable rule catalog,
// runs the background position monitor, and owns the process-wide kill
// switch.
package risk

import (
	"time"

	"github.com/alexherrero/sherwood/backend/models"
	"github.com/shopspring/decimal"
)

// EvalContext carries the snapshot a rule evaluator compares against.
type EvalContext struct {
	Order         *models.Order
	Account       *models.AccountInfo
	Positions     []*models.Position
	OpenOrders    []*models.Order
	LastTradeAt   time.Time
	Now           time.Time
	Spread        decimal.Decimal
	Slippage      decimal.Decimal
	Correlation   decimal.Decimal
	TradingWindow func(time.Time) bool
}

// RuleEvaluator computes whether a rule is violated under ctx, returning
// the observed and threshold values for incident reporting. Adding a rule
// to the engine is adding one entry to the registry below.
type RuleEvaluator func(rule models.RiskRule, ctx EvalContext) (violated bool, observed, threshold decimal.Decimal)

func paramDecimal(rule models.RiskRule, key string) decimal.Decimal {
	v, ok := rule.Params[key]
	if !ok {
		return decimal.Zero
	}
	switch t := v.(type) {
	case decimal.Decimal:
		return t
	case float64:
		return decimal.NewFromFloat(t)
	case int:
		return decimal.NewFromInt(int64(t))
	case string:
		d, err := decimal.NewFromString(t)
		if err == nil {
			return d
		}
	}
	return decimal.Zero
}

func notionalExposure(order *models.Order, price decimal.Decimal) decimal.Decimal {
	return order.Quantity.Mul(price)
}

func orderPrice(order *models.Order) decimal.Decimal {
	if !order.Price.IsZero() {
		return order.Price
	}
	return decimal.NewFromInt(1)
}

func evalMaxPositionSize(rule models.RiskRule, ctx EvalContext) (bool, decimal.Decimal, decimal.Decimal) {
	threshold := paramDecimal(rule, "max_percent")
	if ctx.Account.Equity.IsZero() {
		return false, decimal.Zero, threshold
	}
	observed := notionalExposure(ctx.Order, orderPrice(ctx.Order)).Div(ctx.Account.Equity)
	return observed.GreaterThan(threshold), observed, threshold
}

func evalMaxDrawdown(rule models.RiskRule, ctx EvalContext) (bool, decimal.Decimal, decimal.Decimal) {
	threshold := paramDecimal(rule, "max_drawdown")
	if ctx.Account.Balance.IsZero() {
		return false, decimal.Zero, threshold
	}
	observed := ctx.Account.Balance.Sub(ctx.Account.Equity).Div(ctx.Account.Balance)
	return observed.GreaterThan(threshold), observed, threshold
}

func evalMaxDailyLoss(rule models.RiskRule, ctx EvalContext) (bool, decimal.Decimal, decimal.Decimal) {
	threshold := paramDecimal(rule, "max_daily_loss")
	if ctx.Account.Balance.IsZero() {
		return false, decimal.Zero, threshold
	}
	pnl := decimal.Min(ctx.Account.DailyPnL, decimal.Zero).Abs()
	observed := pnl.Div(ctx.Account.Balance)
	return observed.GreaterThan(threshold), observed, threshold
}

func evalMaxLeverage(rule models.RiskRule, ctx EvalContext) (bool, decimal.Decimal, decimal.Decimal) {
	threshold := paramDecimal(rule, "max_leverage")
	if ctx.Account.Equity.IsZero() {
		return false, decimal.Zero, threshold
	}
	notional := notionalExposure(ctx.Order, orderPrice(ctx.Order))
	for _, pos := range ctx.Positions {
		notional = notional.Add(pos.Quantity.Mul(pos.CurrentPrice))
	}
	observed := notional.Div(ctx.Account.Equity)
	return observed.GreaterThan(threshold), observed, threshold
}

func evalMinTimeBetweenTrades(rule models.RiskRule, ctx EvalContext) (bool, decimal.Decimal, decimal.Decimal) {
	threshold := paramDecimal(rule, "seconds")
	if ctx.LastTradeAt.IsZero() {
		return false, decimal.Zero, threshold
	}
	elapsed := decimal.NewFromFloat(ctx.Now.Sub(ctx.LastTradeAt).Seconds())
	return elapsed.LessThan(threshold), elapsed, threshold
}

func evalCorrelationLimit(rule models.RiskRule, ctx EvalContext) (bool, decimal.Decimal, decimal.Decimal) {
	threshold := paramDecimal(rule, "max_corr")
	return ctx.Correlation.GreaterThan(threshold), ctx.Correlation, threshold
}

func evalMaxSymbolConcentration(rule models.RiskRule, ctx EvalContext) (bool, decimal.Decimal, decimal.Decimal) {
	threshold := paramDecimal(rule, "max_percent")
	total := decimal.Zero
	symbolTotal := ctx.Order.Quantity.Mul(orderPrice(ctx.Order))
	for _, pos := range ctx.Positions {
		notional := pos.Quantity.Mul(pos.CurrentPrice)
		total = total.Add(notional)
		if pos.Symbol == ctx.Order.Symbol {
			symbolTotal = symbolTotal.Add(notional)
		}
	}
	total = total.Add(ctx.Order.Quantity.Mul(orderPrice(ctx.Order)))
	if total.IsZero() {
		return false, decimal.Zero, threshold
	}
	observed := symbolTotal.Div(total)
	return observed.GreaterThan(threshold), observed, threshold
}

func evalMaxOpenPositions(rule models.RiskRule, ctx EvalContext) (bool, decimal.Decimal, decimal.Decimal) {
	threshold := paramDecimal(rule, "max_count")
	observed := decimal.NewFromInt(int64(len(ctx.Positions)))
	return observed.GreaterThan(threshold), observed, threshold
}

func evalMaxOrderCount(rule models.RiskRule, ctx EvalContext) (bool, decimal.Decimal, decimal.Decimal) {
	threshold := paramDecimal(rule, "max_count")
	observed := decimal.NewFromInt(int64(len(ctx.OpenOrders)))
	return observed.GreaterThan(threshold), observed, threshold
}

func evalMaxExposure(rule models.RiskRule, ctx EvalContext) (bool, decimal.Decimal, decimal.Decimal) {
	threshold := paramDecimal(rule, "max_exposure")
	total := ctx.Order.Quantity.Mul(orderPrice(ctx.Order))
	for _, pos := range ctx.Positions {
		total = total.Add(pos.Quantity.Mul(pos.CurrentPrice))
	}
	return total.GreaterThan(threshold), total, threshold
}

func evalStopLossRequired(rule models.RiskRule, ctx EvalContext) (bool, decimal.Decimal, decimal.Decimal) {
	return ctx.Order.StopPrice.IsZero(), decimal.Zero, decimal.Zero
}

func evalTakeProfitRequired(rule models.RiskRule, ctx EvalContext) (bool, decimal.Decimal, decimal.Decimal) {
	return ctx.Order.LimitPrice.IsZero(), decimal.Zero, decimal.Zero
}

func evalMaxSpread(rule models.RiskRule, ctx EvalContext) (bool, decimal.Decimal, decimal.Decimal) {
	threshold := paramDecimal(rule, "max_spread")
	return ctx.Spread.GreaterThan(threshold), ctx.Spread, threshold
}

func evalMaxSlippage(rule models.RiskRule, ctx EvalContext) (bool, decimal.Decimal, decimal.Decimal) {
	threshold := paramDecimal(rule, "max_slippage")
	return ctx.Slippage.GreaterThan(threshold), ctx.Slippage, threshold
}

func evalTradingHoursOnly(rule models.RiskRule, ctx EvalContext) (bool, decimal.Decimal, decimal.Decimal) {
	if ctx.TradingWindow == nil {
		return false, decimal.Zero, decimal.Zero
	}
	return !ctx.TradingWindow(ctx.Now), decimal.Zero, decimal.Zero
}

// defaultRegistry maps each rule type to its evaluator. Adding support for
// a new rule type means adding one entry here.
var defaultRegistry = map[models.RuleType]RuleEvaluator{
	models.RuleMaxPositionSize:      evalMaxPositionSize,
	models.RuleMaxDrawdown:          evalMaxDrawdown,
	models.RuleMaxDailyLoss:         evalMaxDailyLoss,
	models.RuleMaxLeverage:          evalMaxLeverage,
	models.RuleMinTimeBetweenTrades: evalMinTimeBetweenTrades,
	models.RuleCorrelationLimit:     evalCorrelationLimit,
	models.RuleMaxSymbolConc:        evalMaxSymbolConcentration,
	models.RuleMaxOpenPositions:     evalMaxOpenPositions,
	models.RuleMaxOrderCount:        evalMaxOrderCount,
	models.RuleMaxExposure:          evalMaxExposure,
	models.RuleStopLossRequired:     evalStopLossRequired,
	models.RuleTakeProfitRequired:   evalTakeProfitRequired,
	models.RuleMaxSpread:            evalMaxSpread,
	models.RuleMaxSlippage:          evalMaxSlippage,
	models.RuleTradingHoursOnly:     evalTradingHoursOnly,
}
