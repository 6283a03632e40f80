package models

import (
	"time"

	"github.com/google/uuid"
)

// RiskActionTaken enumerates what the risk engine did in response to a
// rule violation or kill-switch event.
type RiskActionTaken string

const (
	RiskActionReject            RiskActionTaken = "reject"
	RiskActionWarning           RiskActionTaken = "warning"
	RiskActionKillSwitch        RiskActionTaken = "kill_switch"
	RiskActionPositionReduced   RiskActionTaken = "position_reduced"
	RiskActionKillSwitchRelease RiskActionTaken = "kill_switch_release"
)

// RiskIncident is an immutable record of a rule violation or kill-switch
// event.
type RiskIncident struct {
	ID uuid.UUID `json:"id" db:"id"`
	// RuleType names the rule that fired; empty for kill-switch events not
	// tied to a specific rule.
	RuleType string `json:"rule_type,omitempty" db:"rule_type"`
	// RuleParams captures the rule's configuration at evaluation time,
	// serialized as JSON text.
	RuleParams string `json:"rule_params,omitempty" db:"rule_params"`
	// Observed and Threshold are the compared values, formatted as decimal
	// strings so the incident remains meaningful without re-deriving state.
	Observed  string `json:"observed,omitempty" db:"observed"`
	Threshold string `json:"threshold,omitempty" db:"threshold"`

	AccountID string     `json:"account_id" db:"account_id"`
	OrderID   *uuid.UUID `json:"order_id,omitempty" db:"order_id"`

	ActionTaken RiskActionTaken `json:"action_taken" db:"action_taken"`
	TriggeredBy string          `json:"triggered_by,omitempty" db:"triggered_by"`

	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// RiskSeverity is the enforcement level of a risk rule.
type RiskSeverity string

const (
	RiskSeverityHard RiskSeverity = "hard"
	RiskSeveritySoft RiskSeverity = "soft"
)

// RuleType tags a risk rule's evaluator in the registry.
type RuleType string

const (
	RuleMaxPositionSize      RuleType = "MAX_POSITION_SIZE"
	RuleMaxDrawdown          RuleType = "MAX_DRAWDOWN"
	RuleMaxDailyLoss         RuleType = "MAX_DAILY_LOSS"
	RuleMaxLeverage          RuleType = "MAX_LEVERAGE"
	RuleMinTimeBetweenTrades RuleType = "MIN_TIME_BETWEEN_TRADES"
	RuleCorrelationLimit     RuleType = "CORRELATION_LIMIT"
	RuleMaxSymbolConc        RuleType = "MAX_SYMBOL_CONCENTRATION"
	RuleMaxOpenPositions     RuleType = "MAX_OPEN_POSITIONS"
	RuleMaxOrderCount        RuleType = "MAX_ORDER_COUNT"
	RuleMaxExposure          RuleType = "MAX_EXPOSURE"
	RuleStopLossRequired     RuleType = "STOP_LOSS_REQUIRED"
	RuleTakeProfitRequired   RuleType = "TAKE_PROFIT_REQUIRED"
	RuleMaxSpread            RuleType = "MAX_SPREAD"
	RuleMaxSlippage          RuleType = "MAX_SLIPPAGE"
	RuleTradingHoursOnly     RuleType = "TRADING_HOURS_ONLY"
)

// RiskRule is a configuration entity owned by the risk engine; rebuildable
// at startup from a rules file.
type RiskRule struct {
	Type     RuleType               `json:"type" yaml:"type"`
	Params   map[string]interface{} `json:"params" yaml:"params"`
	Severity RiskSeverity           `json:"severity" yaml:"severity"`
	Enabled  bool                   `json:"enabled" yaml:"enabled"`
	Message  string                 `json:"message" yaml:"message"`
}
