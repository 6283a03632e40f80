package risk

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alexherrero/sherwood/backend/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Approval is the result of a pre-trade check.
type Approval struct {
	Approved     bool
	Reason       string
	RuleViolated models.RuleType
	Warnings     []models.RuleType
}

// IncidentStore is the narrow repository surface the risk engine needs;
// satisfied by backend/data.Repository.
type IncidentStore interface {
	SaveRiskIncident(ctx context.Context, incident *models.RiskIncident) error
	GetOpenOrders(ctx context.Context, accountID string) ([]*models.Order, error)
}

// OrderCancelingCapability breaks the Execution Engine <-> Risk Engine
// cycle: the kill switch needs to cancel orders, but the engine
// constructing the risk engine would otherwise need the risk engine first.
type OrderCancelingCapability interface {
	CancelAllOrders(ctx context.Context, accountID string) error
}

// PositionClosingCapability is the connector-level capability the kill
// switch uses to flatten the book.
type PositionClosingCapability interface {
	CloseAllPositions(ctx context.Context, symbol string) error
}

// Notifier forwards a risk incident onto the fan-out layer.
type Notifier interface {
	Notify(ctx context.Context, incident models.RiskIncident) error
}

// KillSwitchReplicator mirrors the kill switch to the shared bus so every
// process instance observes the same state; satisfied by backend/bus.Client.
type KillSwitchReplicator interface {
	SetKillSwitch(ctx context.Context, on bool) error
	GetKillSwitch(ctx context.Context) (bool, error)
}

// Engine evaluates orders against a rule catalog and owns the
// process-global kill switch.
type Engine struct {
	registry *Registry
	rules    []models.RiskRule
	store    IncidentStore
	canceler OrderCancelingCapability
	closer   PositionClosingCapability
	notifier Notifier
	replica  KillSwitchReplicator
	log      zerolog.Logger

	mu          sync.RWMutex
	killSwitch  atomic.Bool
	lastTradeAt time.Time
	dailyPnL    decimal.Decimal
}

// NewEngine constructs a risk engine. canceler and closer are supplied at
// construction to break the Execution Engine <-> Risk Engine cycle.
func NewEngine(rules []models.RiskRule, store IncidentStore, canceler OrderCancelingCapability, closer PositionClosingCapability, notifier Notifier, replica KillSwitchReplicator, log zerolog.Logger) *Engine {
	return &Engine{
		registry: NewRegistry(),
		rules:    rules,
		store:    store,
		canceler: canceler,
		closer:   closer,
		notifier: notifier,
		replica:  replica,
		log:      log,
	}
}

// PreTradeCheck evaluates order against every enabled rule; a hard
// violation rejects immediately, soft violations accumulate as warnings.
func (e *Engine) PreTradeCheck(ctx context.Context, order *models.Order, account *models.AccountInfo, positions []*models.Position) (Approval, error) {
	if e.isKillSwitchActive(ctx) {
		return Approval{Approved: false, Reason: "Kill switch active"}, nil
	}

	e.mu.RLock()
	lastTradeAt := e.lastTradeAt
	dailyPnL := e.dailyPnL
	e.mu.RUnlock()

	acctWithPnL := *account
	acctWithPnL.DailyPnL = dailyPnL

	var openOrders []*models.Order
	if e.store != nil {
		var err error
		openOrders, err = e.store.GetOpenOrders(ctx, order.AccountID)
		if err != nil {
			e.log.Warn().Err(err).Msg("failed to load open orders for risk evaluation")
		}
	}

	evalCtx := EvalContext{
		Order:       order,
		Account:     &acctWithPnL,
		Positions:   positions,
		OpenOrders:  openOrders,
		LastTradeAt: lastTradeAt,
		Now:         time.Now(),
	}

	var warnings []models.RuleType
	for _, rule := range e.rules {
		if !rule.Enabled {
			continue
		}
		evaluator, ok := e.registry.Lookup(rule.Type)
		if !ok {
			continue
		}
		violated, observed, threshold := evaluator(rule, evalCtx)
		if !violated {
			continue
		}

		action := models.RiskActionWarning
		if rule.Severity == models.RiskSeverityHard {
			action = models.RiskActionReject
		}
		incident := &models.RiskIncident{
			ID:          uuid.New(),
			RuleType:    string(rule.Type),
			AccountID:   account.AccountID,
			OrderID:     &order.ID,
			Observed:    observed.String(),
			Threshold:   threshold.String(),
			ActionTaken: action,
			Timestamp:   time.Now(),
		}
		if err := e.store.SaveRiskIncident(ctx, incident); err != nil {
			e.log.Error().Err(err).Str("rule_type", string(rule.Type)).Msg("failed to persist risk incident")
		}

		if rule.Severity == models.RiskSeverityHard {
			reason := rule.Message
			if reason == "" {
				reason = fmt.Sprintf("rule %s violated", rule.Type)
			}
			return Approval{Approved: false, Reason: reason, RuleViolated: rule.Type}, nil
		}
		warnings = append(warnings, rule.Type)
	}

	e.mu.Lock()
	e.lastTradeAt = time.Now()
	e.mu.Unlock()

	return Approval{Approved: true, Warnings: warnings}, nil
}

// UpdateDailyPnL sets the running daily P&L used by the MAX_DAILY_LOSS
// rule; the position monitor sets it from each account snapshot it reads.
func (e *Engine) UpdateDailyPnL(pnl decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dailyPnL = pnl
}

// ResetDaily clears the accumulated daily P&L, called at the start of each
// trading day.
func (e *Engine) ResetDaily() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dailyPnL = decimal.Zero
}

func (e *Engine) isKillSwitchActive(ctx context.Context) bool {
	if e.killSwitch.Load() {
		return true
	}
	if e.replica == nil {
		return false
	}
	on, err := e.replica.GetKillSwitch(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("failed to read shared kill switch state")
		return false
	}
	return on
}

// IsKillSwitchActive reports the local kill-switch flag without consulting
// the shared bus.
func (e *Engine) IsKillSwitchActive() bool {
	return e.killSwitch.Load()
}

// KillSwitch flips the switch, writes a kill_switch incident (incidents
// carry no severity level), and attempts
// (with up to 3 retries) to cancel all open orders and close all
// positions, then passes the incident to the Notifier if one is set.
// Nothing is broadcast on the fan-out layer.
func (e *Engine) KillSwitch(ctx context.Context, accountID, reason, triggeredBy string) error {
	e.killSwitch.Store(true)
	if e.replica != nil {
		if err := e.replica.SetKillSwitch(ctx, true); err != nil {
			e.log.Error().Err(err).Msg("failed to replicate kill switch state to shared bus")
		}
	}

	incident := models.RiskIncident{
		ID:          uuid.New(),
		AccountID:   accountID,
		ActionTaken: models.RiskActionKillSwitch,
		TriggeredBy: triggeredBy,
		Threshold:   reason,
		Timestamp:   time.Now(),
	}
	if err := e.store.SaveRiskIncident(ctx, &incident); err != nil {
		e.log.Error().Err(err).Msg("failed to persist kill-switch incident")
	}

	const maxRetries = 3
	if e.canceler != nil {
		retryN(maxRetries, func() error { return e.canceler.CancelAllOrders(ctx, accountID) }, e.log, "cancel all orders")
	}
	if e.closer != nil {
		retryN(maxRetries, func() error { return e.closer.CloseAllPositions(ctx, "") }, e.log, "close all positions")
	}

	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, incident); err != nil {
			e.log.Error().Err(err).Msg("failed to notify kill-switch incident")
		}
	}
	return nil
}

// ReleaseKillSwitch clears the flag and logs a release incident.
func (e *Engine) ReleaseKillSwitch(ctx context.Context, accountID, triggeredBy string) error {
	e.killSwitch.Store(false)
	if e.replica != nil {
		if err := e.replica.SetKillSwitch(ctx, false); err != nil {
			e.log.Error().Err(err).Msg("failed to replicate kill switch release to shared bus")
		}
	}
	incident := &models.RiskIncident{
		ID:          uuid.New(),
		AccountID:   accountID,
		ActionTaken: models.RiskActionKillSwitchRelease,
		TriggeredBy: triggeredBy,
		Timestamp:   time.Now(),
	}
	return e.store.SaveRiskIncident(ctx, incident)
}

func retryN(attempts int, fn func() error, log zerolog.Logger, label string) {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return
		}
		log.Warn().Err(err).Str("action", label).Int("attempt", i+1).Msg("kill switch action failed, retrying")
	}
	log.Error().Err(err).Str("action", label).Msg("kill switch action exhausted retries")
}
